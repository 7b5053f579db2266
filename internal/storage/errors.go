// Package storage содержит общие для всех реализаций хранилища ошибки.
package storage

import "errors"

var (
	// ErrNotFound запись о подписке отсутствует.
	ErrNotFound = errors.New("subscription not found")
	// ErrUnavailable хранилище недоступно или запрос завершился ошибкой.
	ErrUnavailable = errors.New("storage unavailable")
)

// Package sl содержит вспомогательные функции для работы с логгером slog.
// Функции единообразно формируют структурированные поля лога
// для ошибок и имён операций.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Для nil значение атрибута пустое.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Op возвращает slog.Attr с именем операции, например "bot.Dispatch".
func Op(op string) slog.Attr {
	return slog.String("op", op)
}

// Package keylock реализует взаимное исключение по ключу: операции с одним
// ключом выполняются по очереди, с разными ключами не блокируют друг друга.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker набор мьютексов, создаваемых по требованию для каждого ключа.
// Нулевое значение готово к использованию.
type Locker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (l *Locker[K]) Lock(key K) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[K]*entry)
	}
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len возвращает количество ключей, для которых есть захваченный или ожидаемый мьютекс.
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

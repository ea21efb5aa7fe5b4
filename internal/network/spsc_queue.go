package network

import "sync/atomic"

// SPSCQueue кольцевая очередь без блокировок для одного писателя и
// одного читателя. Ёмкость округляется вверх до степени двойки.
type SPSCQueue[T any] struct {
	buf  []T
	mask uint64

	head atomic.Uint64 // следующая позиция чтения
	_    [56]byte
	tail atomic.Uint64 // следующая позиция записи
}

// NewSPSCQueue создаёт очередь
func NewSPSCQueue[T any](capacity int) *SPSCQueue[T] {
	size := uint64(2)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &SPSCQueue[T]{buf: make([]T, size), mask: size - 1}
}

// Push добавляет элемент; false, если очередь полна
func (q *SPSCQueue[T]) Push(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint64(len(q.buf)) {
		return false
	}
	q.buf[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// Pop извлекает элемент; false, если очередь пуста
func (q *SPSCQueue[T]) Pop() (T, bool) {
	var zero T
	head := q.head.Load()
	if head == q.tail.Load() {
		return zero, false
	}
	v := q.buf[head&q.mask]
	q.buf[head&q.mask] = zero
	q.head.Store(head + 1)
	return v, true
}

// Len приблизительное число элементов
func (q *SPSCQueue[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap ёмкость
func (q *SPSCQueue[T]) Cap() int { return len(q.buf) }

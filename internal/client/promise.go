package client

import (
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
)

// Promise результат запроса к серверу, который придёт в одном из следующих тиков
type Promise[T any] struct {
	finished bool
	value    T
	err      error
	done     []func(T, error)
}

func newPromise[T any]() *Promise[T] { return &Promise[T]{} }

// Finished ответ получен или запрос завершён ошибкой
func (p *Promise[T]) Finished() bool { return p.finished }

// Result значение и ошибка; до завершения нулевые
func (p *Promise[T]) Result() (T, error) { return p.value, p.err }

// OnDone вызывает fn при завершении; для завершённого обещания сразу
func (p *Promise[T]) OnDone(fn func(T, error)) {
	if p.finished {
		fn(p.value, p.err)
		return
	}
	p.done = append(p.done, fn)
}

func (p *Promise[T]) resolve(v T, err error) {
	if p.finished {
		return
	}
	p.finished = true
	p.value, p.err = v, err
	for _, fn := range p.done {
		fn(v, err)
	}
	p.done = nil
}

// UniqueLocation ответ на поиск уникальной сущности
type UniqueLocation struct {
	Found    bool
	EntityID entity.EntityID
	Position vec.Vec2F
}

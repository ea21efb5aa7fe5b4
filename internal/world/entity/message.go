package entity

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMessageExpired ответ не пришёл до истечения срока
	ErrMessageExpired = errors.New("сообщение истекло")
	// ErrMessageUnhandled у получателя нет обработчика
	ErrMessageUnhandled = errors.New("сообщение не обработано")
)

// MessageTarget адресат сообщения: id или уникальный id
type MessageTarget struct {
	ID       EntityID `json:"entityId,omitempty"`
	UniqueID string   `json:"uniqueId,omitempty"`
}

// TargetID адресат по id
func TargetID(id EntityID) MessageTarget { return MessageTarget{ID: id} }

// TargetUnique адресат по уникальному id
func TargetUnique(uid string) MessageTarget { return MessageTarget{UniqueID: uid} }

// IsUnique адресация по уникальному id
func (t MessageTarget) IsUnique() bool { return t.UniqueID != "" }

func (t MessageTarget) String() string {
	if t.IsUnique() {
		return "unique:" + t.UniqueID
	}
	return strconv.Itoa(int(t.ID))
}

// MessageError ошибка обработки, возвращаемая отправителю
type MessageError struct {
	Target  MessageTarget
	Message string
	Reason  string
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("сообщение %q для %s: %s", e.Message, e.Target, e.Reason)
}

// MessagePromise асинхронный результат сообщения.
// Используется только в потоке симуляции, синхронизация не нужна.
type MessagePromise struct {
	finished bool
	result   interface{}
	err      error
	onDone   []func(interface{}, error)
}

// NewMessagePromise создаёт незавершённое обещание
func NewMessagePromise() *MessagePromise {
	return &MessagePromise{}
}

// ResolvedPromise уже завершённое обещание
func ResolvedPromise(result interface{}, err error) *MessagePromise {
	p := &MessagePromise{}
	p.complete(result, err)
	return p
}

// Finished результат получен
func (p *MessagePromise) Finished() bool { return p.finished }

// Succeeded завершилось без ошибки
func (p *MessagePromise) Succeeded() bool { return p.finished && p.err == nil }

// Result значение и ошибка
func (p *MessagePromise) Result() (interface{}, error) { return p.result, p.err }

// Fulfill завершает успешно
func (p *MessagePromise) Fulfill(result interface{}) { p.complete(result, nil) }

// Fail завершает ошибкой
func (p *MessagePromise) Fail(err error) { p.complete(nil, err) }

// OnDone добавляет обработчик завершения
func (p *MessagePromise) OnDone(fn func(interface{}, error)) {
	if p.finished {
		fn(p.result, p.err)
		return
	}
	p.onDone = append(p.onDone, fn)
}

func (p *MessagePromise) complete(result interface{}, err error) {
	if p.finished {
		return
	}
	p.finished = true
	p.result = result
	p.err = err
	for _, fn := range p.onDone {
		fn(result, err)
	}
	p.onDone = nil
}

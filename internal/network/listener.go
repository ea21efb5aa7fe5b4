package network

import (
	"context"
	"sync"
)

// Listener источник входящих соединений для ConnectionServer
type Listener interface {
	// Accept ждёт следующее соединение
	Accept(ctx context.Context) (PacketSocket, error)
	Close() error
	Addr() string
}

// acceptQueue общая очередь принятых сокетов для слушателей
type acceptQueue struct {
	ch        chan PacketSocket
	closed    chan struct{}
	closeOnce sync.Once
}

func newAcceptQueue() *acceptQueue {
	return &acceptQueue{ch: make(chan PacketSocket, 16), closed: make(chan struct{})}
}

func (q *acceptQueue) push(s PacketSocket) {
	select {
	case q.ch <- s:
	case <-q.closed:
		s.Close()
	}
}

func (q *acceptQueue) accept(ctx context.Context) (PacketSocket, error) {
	select {
	case s := <-q.ch:
		return s, nil
	case <-q.closed:
		return nil, ErrSocketClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *acceptQueue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// MemoryListener слушатель для локальной игры и тестов
type MemoryListener struct {
	config *ChannelConfig
	queue  *acceptQueue
}

// NewMemoryListener создаёт слушатель в памяти
func NewMemoryListener(config *ChannelConfig) *MemoryListener {
	if config == nil {
		config = DefaultChannelConfig(ChannelMemory)
	}
	return &MemoryListener{config: config, queue: newAcceptQueue()}
}

// Connect создаёт соединение и возвращает клиентскую сторону
func (l *MemoryListener) Connect() (PacketSocket, error) {
	client, server, err := NewMemorySocketPair(l.config)
	if err != nil {
		return nil, err
	}
	select {
	case <-l.queue.closed:
		client.Close()
		return nil, ErrSocketClosed
	default:
	}
	l.queue.push(server)
	return client, nil
}

func (l *MemoryListener) Accept(ctx context.Context) (PacketSocket, error) {
	return l.queue.accept(ctx)
}

func (l *MemoryListener) Close() error {
	l.queue.close()
	return nil
}

func (l *MemoryListener) Addr() string { return "memory" }

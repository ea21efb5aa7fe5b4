package network

import (
	"io"
	"sync"
)

// memoryConn половина соединения в памяти
type memoryConn struct {
	name string
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once *sync.Once
}

func (c *memoryConn) WriteFrame(data []byte) error {
	select {
	case <-c.done:
		return ErrSocketClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrSocketClosed
	}
}

func (c *memoryConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		// кадры, пришедшие до закрытия, ещё доставляются
		select {
		case data := <-c.in:
			return data, nil
		default:
			return nil, io.EOF
		}
	}
}

func (c *memoryConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *memoryConn) RemoteAddr() string { return c.name }

// NewMemorySocketPair связанная пара сокетов в одном процессе:
// локальная игра и тесты. Пакеты проходят через тот же кодек, что и по сети.
func NewMemorySocketPair(config *ChannelConfig) (client PacketSocket, server PacketSocket, err error) {
	if config == nil {
		config = DefaultChannelConfig(ChannelMemory)
	}
	cfg := *config
	cfg.Type = ChannelMemory

	toServer := make(chan []byte, cfg.QueueSize)
	toClient := make(chan []byte, cfg.QueueSize)
	done := make(chan struct{})
	once := &sync.Once{}

	clientConn := &memoryConn{name: "memory:server", in: toClient, out: toServer, done: done, once: once}
	serverConn := &memoryConn{name: "memory:client", in: toServer, out: toClient, done: done, once: once}
	cs, err := newPacketSocket(clientConn, &cfg)
	if err != nil {
		return nil, nil, err
	}
	ss, err := newPacketSocket(serverConn, &cfg)
	if err != nil {
		cs.Close()
		return nil, nil, err
	}
	return cs, ss, nil
}

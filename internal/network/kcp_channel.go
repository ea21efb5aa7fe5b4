package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/tileverse/internal/logging"
)

const frameHeaderSize = 4

// kcpConn кадры поверх потокового режима KCP: длина (u32) и тело
type kcpConn struct {
	conn     *kcp.UDPSession
	maxFrame int
	timeout  time.Duration
	wtimeout time.Duration
	header   [frameHeaderSize]byte
}

// tuneSession настраивает KCP параметры для игрового трафика
func tuneSession(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1) // Агрессивные настройки для игр
	conn.SetWindowSize(512, 512) // Увеличиваем окно для пропускной способности
	conn.SetMtu(1400)            // Стандартный MTU для интернета
}

func newKCPConn(conn *kcp.UDPSession, config *ChannelConfig) *kcpConn {
	tuneSession(conn)
	return &kcpConn{
		conn:     conn,
		maxFrame: config.MaxFrameSize,
		timeout:  config.Timeout,
		wtimeout: config.WriteTimeout,
	}
}

func (c *kcpConn) WriteFrame(data []byte) error {
	if c.wtimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.wtimeout))
	}
	buf := make([]byte, frameHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[frameHeaderSize:], data)
	_, err := c.conn.Write(buf)
	return err
}

func (c *kcpConn) ReadFrame() ([]byte, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	if _, err := io.ReadFull(c.conn, c.header[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(c.header[:])
	if int64(size) > int64(c.maxFrame) {
		return nil, ErrFrameTooBig
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *kcpConn) Close() error      { return c.conn.Close() }
func (c *kcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// DialKCP устанавливает соединение с сервером
func DialKCP(ctx context.Context, addr string, config *ChannelConfig) (PacketSocket, error) {
	if config == nil {
		config = DefaultChannelConfig(ChannelKCP)
	}
	cfg := *config
	cfg.Type = ChannelKCP

	type result struct {
		conn *kcp.UDPSession
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, r.err)
		}
		logging.GetNetworkLogger().Info("KCP channel connected: addr=%s", addr)
		return newPacketSocket(newKCPConn(r.conn, &cfg), &cfg)
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// KCPListener принимает KCP соединения
type KCPListener struct {
	addr     string
	listener *kcp.Listener
	config   *ChannelConfig
	queue    *acceptQueue
	logger   *logging.Logger
	wg       sync.WaitGroup
}

// ListenKCP запускает приём соединений
func ListenKCP(addr string, config *ChannelConfig) (*KCPListener, error) {
	if config == nil {
		config = DefaultChannelConfig(ChannelKCP)
	}
	cfg := *config
	cfg.Type = ChannelKCP

	listener, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &KCPListener{
		addr:     listener.Addr().String(),
		listener: listener,
		config:   &cfg,
		queue:    newAcceptQueue(),
		logger:   logging.GetNetworkLogger(),
	}
	l.wg.Add(1)
	go l.acceptLoop()

	l.logger.Info("🚀 KCP listener started on %s", l.addr)
	return l, nil
}

// acceptLoop принимает входящие соединения
func (l *KCPListener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.listener.AcceptKCP()
		if err != nil {
			select {
			case <-l.queue.closed:
				return // Сервер останавливается
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.logger.Error("Failed to accept connection: %v", err)
			return
		}
		sock, err := newPacketSocket(newKCPConn(conn, l.config), l.config)
		if err != nil {
			l.logger.Error("Failed to create socket: %v", err)
			continue
		}
		l.queue.push(sock)
	}
}

func (l *KCPListener) Accept(ctx context.Context) (PacketSocket, error) {
	return l.queue.accept(ctx)
}

// Close останавливает приём
func (l *KCPListener) Close() error {
	l.queue.close()
	err := l.listener.Close()
	l.wg.Wait()
	l.logger.Info("🛑 KCP listener stopped")
	return err
}

func (l *KCPListener) Addr() string { return l.addr }

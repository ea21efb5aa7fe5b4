package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/tileverse/internal/logging"
)

// wsConn кадр протокола равен бинарному сообщению websocket
type wsConn struct {
	conn     *websocket.Conn
	timeout  time.Duration
	wtimeout time.Duration
	once     sync.Once
}

func newWSConn(conn *websocket.Conn, config *ChannelConfig) *wsConn {
	conn.SetReadLimit(int64(config.MaxFrameSize))
	return &wsConn{conn: conn, timeout: config.Timeout, wtimeout: config.WriteTimeout}
}

func (c *wsConn) WriteFrame(data []byte) error {
	if c.wtimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.wtimeout))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		if c.timeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		}
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrSocketClosed
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// DialWebSocket подключается к ws:// или wss:// адресу
func DialWebSocket(ctx context.Context, url string, config *ChannelConfig) (PacketSocket, error) {
	if config == nil {
		config = DefaultChannelConfig(ChannelWebSocket)
	}
	cfg := *config
	cfg.Type = ChannelWebSocket

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return newPacketSocket(newWSConn(conn, &cfg), &cfg)
}

// WebSocketListener принимает соединения через HTTP-обработчик.
// Обработчик монтируется в любой роутер, например в gin админ-API.
type WebSocketListener struct {
	path     string
	config   *ChannelConfig
	upgrader websocket.Upgrader
	queue    *acceptQueue
	logger   *logging.Logger
}

// NewWebSocketListener создаёт слушатель; path служит только для Addr
func NewWebSocketListener(path string, config *ChannelConfig) *WebSocketListener {
	if config == nil {
		config = DefaultChannelConfig(ChannelWebSocket)
	}
	cfg := *config
	cfg.Type = ChannelWebSocket
	return &WebSocketListener{
		path:   path,
		config: &cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		queue:  newAcceptQueue(),
		logger: logging.GetNetworkLogger(),
	}
}

// ServeHTTP переводит запрос в websocket и ставит сокет в очередь приёма
func (l *WebSocketListener) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-l.queue.closed:
		http.Error(rw, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := l.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		l.logger.Warn("⚠️ WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	sock, err := newPacketSocket(newWSConn(conn, l.config), l.config)
	if err != nil {
		l.logger.Error("Failed to create socket: %v", err)
		return
	}
	l.queue.push(sock)
}

func (l *WebSocketListener) Accept(ctx context.Context) (PacketSocket, error) {
	return l.queue.accept(ctx)
}

func (l *WebSocketListener) Close() error {
	l.queue.close()
	return nil
}

func (l *WebSocketListener) Addr() string { return "ws:" + l.path }

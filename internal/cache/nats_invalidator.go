package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/tileverse/internal/logging"
)

// NATSInvalidator рассылает устаревшие ключи каталога между серверами миров
// через NATS Pub/Sub. Собственные сообщения и повторные доставки одного
// сообщения в окне дедупликации отбрасываются.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  InvalidatorConfig
	subject string
	nodeID  string
	logger  *logging.Logger

	subMu        sync.Mutex
	subscription *nats.Subscription
	handler      InvalidationHandler

	stopCh chan struct{}
	wg     sync.WaitGroup

	recentKeys map[string]time.Time
	keysMutex  sync.Mutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	NATSURL       string        `yaml:"nats_url"`
	Subject       string        `yaml:"subject"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
}

func (c *InvalidatorConfig) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "tileverse.unique.invalidate"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = time.Second
	}
}

// InvalidationMessage сообщение об устаревшем ключе
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator подключается к NATS; nodeID уникален для процесса
func NewNATSInvalidator(config InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	config.applyDefaults()
	logger := logging.GetComponentLogger("cache")

	conn, err := nats.Connect(config.NATSURL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("⚠️ NATS отключён: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("🔄 NATS переподключён к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS: %w", err)
	}

	n := newInvalidator(conn, config, nodeID)
	n.startDedupeCleanup()
	logger.Info("✅ Инвалидация каталога через NATS %s (%s)", config.NATSURL, config.Subject)
	return n, nil
}

func newInvalidator(conn *nats.Conn, config InvalidatorConfig, nodeID string) *NATSInvalidator {
	config.applyDefaults()
	return &NATSInvalidator{
		conn:       conn,
		config:     config,
		subject:    config.Subject,
		nodeID:     nodeID,
		logger:     logging.GetComponentLogger("cache"),
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}
}

// PublishInvalidation отправляет уведомление об инвалидации ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(InvalidationMessage{Key: key, Timestamp: time.Now().UTC(), NodeID: n.nodeID})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("публикация инвалидации %s: %w", key, err)
	}
	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// SubscribeInvalidations подписывается на уведомления до отмены ctx или Close
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subscription != nil {
		return errors.New("подписка на инвалидацию уже есть")
	}
	n.handler = handler
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) { n.handleMessage(msg.Data) })
	if err != nil {
		return fmt.Errorf("подписка на инвалидацию: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	select {
	case <-n.stopCh:
		return nil
	default:
	}
	close(n.stopCh)
	n.wg.Wait()
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

// Stats счётчики отправленных, полученных и ошибок
func (n *NATSInvalidator) Stats() (published, received, errs int64) {
	return atomic.LoadInt64(&n.publishedCount), atomic.LoadInt64(&n.receivedCount), atomic.LoadInt64(&n.errorsCount)
}

func (n *NATSInvalidator) handleMessage(data []byte) {
	atomic.AddInt64(&n.receivedCount, 1)

	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.logger.Warn("⚠️ Некорректное сообщение инвалидации: %v", err)
		return
	}
	if msg.NodeID == n.nodeID {
		return
	}
	if !n.firstInWindow(fmt.Sprintf("%s|%s|%d", msg.NodeID, msg.Key, msg.Timestamp.UnixNano())) {
		return
	}
	if n.handler == nil {
		return
	}
	if err := n.handler(msg.Key); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.logger.Error("❌ Обработчик инвалидации %s: %v", msg.Key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		n.logger.Warn("⚠️ Отписка от инвалидации: %v", err)
	}
	n.subscription = nil
}

// firstInWindow true, если сообщение не встречалось в окне дедупликации; отмечает его
func (n *NATSInvalidator) firstInWindow(key string) bool {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()
	now := time.Now()
	if last, ok := n.recentKeys[key]; ok && now.Sub(last) < n.config.DedupeWindow {
		return false
	}
	n.recentKeys[key] = now
	return true
}

func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.cleanupDedupe()
			case <-n.stopCh:
				return
			}
		}
	}()
}

func (n *NATSInvalidator) cleanupDedupe() {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()
	now := time.Now()
	for key, ts := range n.recentKeys {
		if now.Sub(ts) > n.config.DedupeWindow {
			delete(n.recentKeys, key)
		}
	}
}

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/logging"
)

// OutboundWebhook подписка внешнего сервиса на события миров
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events"` // типы событий шины, "*" для всех
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // секунды
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// WebhookDelivery тело запроса к подписчику
type WebhookDelivery struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source"`
	ServerID  string          `json:"server_id"`
	Data      json.RawMessage `json:"data"`
}

// WebhookManager пересылает события шины подписанным webhook'ам
type WebhookManager struct {
	mu       sync.RWMutex
	webhooks map[uint64]*OutboundWebhook
	nextID   uint64

	queue      chan WebhookDelivery
	httpClient *http.Client
	serverID   string
	retryDelay time.Duration
	logger     *logging.Logger

	sub       eventbus.Subscription
	stopOnce  sync.Once
	stop      chan struct{}
	workers   sync.WaitGroup
	delivered sync.WaitGroup
}

// NewWebhookManager создаёт менеджер; nil client означает клиент с таймаутом 30с
func NewWebhookManager(serverID string, client *http.Client) *WebhookManager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	m := &WebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		nextID:     1,
		queue:      make(chan WebhookDelivery, 1000),
		httpClient: client,
		serverID:   serverID,
		retryDelay: time.Second,
		logger:     logging.GetComponentLogger("api"),
		stop:       make(chan struct{}),
	}
	m.workers.Add(1)
	go m.eventWorker()
	return m
}

// Start подписывает менеджер на все события шины
func (m *WebhookManager) Start(ctx context.Context, bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(ctx, eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		m.Enqueue(WebhookDelivery{
			EventID:   ev.ID,
			EventType: ev.EventType,
			Timestamp: ev.Timestamp.Unix(),
			Source:    ev.Source,
			ServerID:  m.serverID,
			Data:      json.RawMessage(ev.Payload),
		})
	})
	if err != nil {
		return fmt.Errorf("подписка webhook'ов на шину: %w", err)
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

// EventTypes типы событий, на которые можно подписаться
func (m *WebhookManager) EventTypes() []string {
	return []string{
		eventbus.EventChatMessage,
		eventbus.EventPlayerJoined,
		eventbus.EventPlayerLeft,
		eventbus.EventWorldSaved,
	}
}

// Add регистрирует webhook и возвращает его копию с ID
func (m *WebhookManager) Add(webhook OutboundWebhook) OutboundWebhook {
	m.mu.Lock()
	defer m.mu.Unlock()

	webhook.ID = m.nextID
	m.nextID++
	webhook.CreatedAt = time.Now().UTC()
	webhook.Active = true
	if webhook.Timeout <= 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount < 0 {
		webhook.RetryCount = 0
	}
	m.webhooks[webhook.ID] = &webhook
	return webhook
}

// List webhook'и по возрастанию ID
func (m *WebhookManager) List() []OutboundWebhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OutboundWebhook, 0, len(m.webhooks))
	for _, w := range m.webhooks {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get webhook по ID
func (m *WebhookManager) Get(id uint64) (OutboundWebhook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.webhooks[id]
	if !ok {
		return OutboundWebhook{}, false
	}
	return *w, true
}

// WebhookUpdate изменяемые поля; nil оставляет значение
type WebhookUpdate struct {
	Name       *string  `json:"name"`
	URL        *string  `json:"url"`
	Secret     *string  `json:"secret"`
	Events     []string `json:"events"`
	Active     *bool    `json:"active"`
	Timeout    *int     `json:"timeout"`
	RetryCount *int     `json:"retry_count"`
}

// Update применяет изменения
func (m *WebhookManager) Update(id uint64, u WebhookUpdate) (OutboundWebhook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return OutboundWebhook{}, false
	}
	if u.Name != nil && *u.Name != "" {
		w.Name = *u.Name
	}
	if u.URL != nil && *u.URL != "" {
		w.URL = *u.URL
	}
	if u.Secret != nil {
		w.Secret = *u.Secret
	}
	if len(u.Events) > 0 {
		w.Events = u.Events
	}
	if u.Active != nil {
		w.Active = *u.Active
	}
	if u.Timeout != nil && *u.Timeout > 0 {
		w.Timeout = *u.Timeout
	}
	if u.RetryCount != nil && *u.RetryCount >= 0 {
		w.RetryCount = *u.RetryCount
	}
	return *w, true
}

// Delete удаляет webhook
func (m *WebhookManager) Delete(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return false
	}
	delete(m.webhooks, id)
	return true
}

// Enqueue ставит событие в очередь рассылки; при переполнении событие теряется
func (m *WebhookManager) Enqueue(d WebhookDelivery) {
	select {
	case <-m.stop:
		return
	default:
	}
	select {
	case m.queue <- d:
	default:
		m.logger.Warn("⚠️ Очередь webhook'ов переполнена, событие %s пропущено", d.EventType)
	}
}

func (m *WebhookManager) eventWorker() {
	defer m.workers.Done()
	for {
		select {
		case d := <-m.queue:
			m.dispatch(d)
		case <-m.stop:
			return
		}
	}
}

func (m *WebhookManager) dispatch(d WebhookDelivery) {
	m.mu.RLock()
	var targets []OutboundWebhook
	for _, w := range m.webhooks {
		if w.Active && subscribed(w, d.EventType) {
			targets = append(targets, *w)
		}
	}
	m.mu.RUnlock()

	for _, w := range targets {
		m.delivered.Add(1)
		go func(w OutboundWebhook) {
			defer m.delivered.Done()
			m.deliver(w, d)
		}(w)
	}
}

func subscribed(w *OutboundWebhook, eventType string) bool {
	for _, e := range w.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// deliver отправляет событие одному webhook'у с повторами
func (m *WebhookManager) deliver(w OutboundWebhook, d WebhookDelivery) {
	body, err := json.Marshal(d)
	if err != nil {
		m.logger.Error("❌ Событие %s для webhook %s: %v", d.EventType, w.Name, err)
		return
	}

	success := false
	for attempt := 0; attempt <= w.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * m.retryDelay):
			case <-m.stop:
				attempt = w.RetryCount
				continue
			}
		}
		status, err := m.post(w, d.EventType, body)
		if err == nil && status >= 200 && status < 300 {
			success = true
			break
		}
		if err != nil {
			m.logger.Warn("⚠️ Попытка %d/%d для webhook %s: %v", attempt+1, w.RetryCount+1, w.Name, err)
		} else {
			m.logger.Warn("⚠️ Webhook %s вернул статус %d на попытке %d", w.Name, status, attempt+1)
		}
	}

	m.mu.Lock()
	if stored, ok := m.webhooks[w.ID]; ok {
		now := time.Now().UTC()
		stored.LastUsed = &now
		if !success {
			stored.FailureCount++
		}
	}
	m.mu.Unlock()
}

func (m *WebhookManager) post(w OutboundWebhook, eventType string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tileverse-Server/1.0")
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Server-ID", m.serverID)
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, w.Secret))
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Close отписывается от шины и дожидается текущих отправок
func (m *WebhookManager) Close() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		sub := m.sub
		m.sub = nil
		m.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		close(m.stop)
		m.workers.Wait()
		m.delivered.Wait()
	})
}

// SignatureHeader заголовок с подписью тела запроса
const SignatureHeader = "X-Webhook-Signature"

// Sign HMAC-SHA256 подпись тела в форме "sha256=<hex>"
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сверяет подпись за постоянное время
func VerifySignature(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(body, secret)))
}

package eventbus

import (
	"context"
	"sync"
	"time"
)

// Envelope описывает универсальный контейнер события.
// Все поля фиксированы для версионирования и трассировки.
type Envelope struct {
	ID            string            // Глобально уникальный идентификатор (UUID).
	Timestamp     time.Time         // Время создания события (UTC).
	Source        string            // Сервер мира, опубликовавший событие.
	EventType     string            // Тип события (ChatMessage, PlayerJoined…).
	Version       int               // Схема полезной нагрузки.
	CorrelationID string            // Для связывания цепочек.
	Priority      int               // 0=Low … 9=Critical (для backpressure).
	Payload       []byte            // Полезная нагрузка в JSON.
	Metadata      map[string]string // Произвольные метаданные.
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто, все типы.
	Sources []string // Если пусто, все источники.
	// ExcludeSource отбрасывает события этого источника (собственные публикации)
	ExcludeSource string
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus абстракция шины событий между серверами миров.
// Реализации: в памяти (один процесс) и NATS JetStream.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	stats       Stats
	buffer      chan *Envelope
	closed      bool
	done        chan struct{}
}

// subscriber получает события по порядку через собственную очередь
type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan *Envelope
}

// NewMemoryBus создаёт in-memory шину с указанным буфером.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 256
	}
	mb := &memoryBus{
		subscribers: make(map[int]*subscriber),
		buffer:      make(chan *Envelope, capacity),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.mu.RLock()
	closed := mb.closed
	mb.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case mb.buffer <- ev:
		mb.count(func(s *Stats) { s.Published++ })
		return nil
	default:
		// Буфер заполнен, дропаем низкий приоритет (<5)
		if ev.Priority < 5 {
			mb.count(func(s *Stats) { s.Dropped++ })
			return nil
		}
		// Для high-priority блокируем до освобождения места или отмены контекста
		select {
		case mb.buffer <- ev:
			mb.count(func(s *Stats) { s.Published++ })
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (mb *memoryBus) count(fn func(s *Stats)) {
	mb.mu.Lock()
	fn(&mb.stats)
	mb.mu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return nil, ErrBusClosed
	}

	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel, queue: make(chan *Envelope, cap(mb.buffer))}
	mb.subscribers[id] = sub
	go mb.consume(sub)

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

// Close останавливает рассылку; недоставленные события отбрасываются
func (mb *memoryBus) Close() error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return nil
	}
	mb.closed = true
	for id, sub := range mb.subscribers {
		sub.cancel()
		delete(mb.subscribers, id)
	}
	mb.mu.Unlock()
	close(mb.done)
	return nil
}

// dispatchLoop раскладывает события по очередям подписчиков.
func (mb *memoryBus) dispatchLoop() {
	for {
		select {
		case <-mb.done:
			return
		case ev := <-mb.buffer:
			mb.mu.RLock()
			for _, sub := range mb.subscribers {
				if !matchFilter(ev, sub.filter) {
					continue
				}
				select {
				case sub.queue <- ev:
				default:
					// Медленный подписчик теряет событие, остальные не ждут
					go mb.count(func(s *Stats) { s.Dropped++ })
				}
			}
			mb.mu.RUnlock()
		}
	}
}

// consume вызывает обработчик подписчика строго по порядку публикации
func (mb *memoryBus) consume(sub *subscriber) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case ev := <-sub.queue:
			sub.handler(sub.ctx, ev)
			mb.count(func(s *Stats) { s.Consumed++ })
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	if f.ExcludeSource != "" && ev.Source == f.ExcludeSource {
		return false
	}
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}

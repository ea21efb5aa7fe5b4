package cache

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
)

// UniqueEntry где сейчас находится сущность с уникальным идентификатором
type UniqueEntry struct {
	UniqueID  string          `json:"uniqueId"`
	World     string          `json:"world"`
	EntityID  entity.EntityID `json:"entityId"`
	Position  vec.Vec2F       `json:"position"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// UniqueDirectory каталог уникальных сущностей всех миров.
//
// Использование:
//
//	dir := NewMemoryDirectory()
//	err := dir.Put(ctx, UniqueEntry{World: "home", UniqueID: "merchant", ...})
//	entry, err := dir.Lookup(ctx, "home", "merchant")
type UniqueDirectory interface {
	// Put записывает или обновляет запись
	Put(ctx context.Context, entry UniqueEntry) error

	// Delete удаляет запись; отсутствие записи не ошибка
	Delete(ctx context.Context, world, uniqueID string) error

	// Lookup возвращает ErrCacheMiss, если записи нет
	Lookup(ctx context.Context, world, uniqueID string) (UniqueEntry, error)

	// GetMetrics возвращает метрики каталога
	GetMetrics() CacheMetrics

	Close() error
}

// CacheInvalidator рассылает ключи, устаревшие в локальных копиях других узлов
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheMetrics метрики каталога
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
	TotalKeys     int64   `json:"total_keys"`
	PendingWrites int64   `json:"pending_writes"`
}

// Ошибки кеша
var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrInvalidKey = errors.New("invalid key")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// entryKey ключ записи, общий для каталога и инвалидации
func entryKey(world, uniqueID string) string {
	return world + "/" + uniqueID
}

func validate(world, uniqueID string) error {
	if world == "" || uniqueID == "" {
		return ErrInvalidKey
	}
	return nil
}

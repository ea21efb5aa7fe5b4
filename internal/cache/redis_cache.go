package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/tileverse/internal/logging"
)

// RedisConfig настройки каталога в Redis
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	// FrontTTL сколько запись живёт в локальной копии без инвалидации
	FrontTTL       time.Duration `yaml:"front_ttl"`
	MaxConnections int           `yaml:"max_connections"`
}

// RedisDirectory общий для всех серверов каталог уникальных сущностей.
// Чтения обслуживаются локальной копией (MemoryDirectory), изменения
// других узлов приходят через CacheInvalidator.
type RedisDirectory struct {
	client      *redis.Client
	config      RedisConfig
	front       *MemoryDirectory
	frontSeen   sync.Map // key -> time.Time
	invalidator CacheInvalidator
	logger      *logging.Logger

	requests int64
	hits     int64
	misses   int64
}

// NewRedisDirectory подключается к Redis; invalidator может быть nil
func NewRedisDirectory(config RedisConfig, invalidator CacheInvalidator) (*RedisDirectory, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "tileverse:unique:"
	}
	if config.FrontTTL == 0 {
		config.FrontTTL = 30 * time.Second
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.MaxConnections,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	d := newRedisDirectory(rdb, config, invalidator)
	if invalidator != nil {
		if err := invalidator.SubscribeInvalidations(context.Background(), d.onInvalidation); err != nil {
			rdb.Close()
			return nil, err
		}
	}
	d.logger.Info("🔴 Каталог уникальных сущностей в Redis %s", config.Addr)
	return d, nil
}

func newRedisDirectory(client *redis.Client, config RedisConfig, invalidator CacheInvalidator) *RedisDirectory {
	return &RedisDirectory{
		client:      client,
		config:      config,
		front:       NewMemoryDirectory(),
		invalidator: invalidator,
		logger:      logging.GetComponentLogger("cache"),
	}
}

func (r *RedisDirectory) redisKey(world, uniqueID string) string {
	return r.config.KeyPrefix + entryKey(world, uniqueID)
}

func (r *RedisDirectory) Put(ctx context.Context, entry UniqueEntry) error {
	if err := validate(entry.World, entry.UniqueID); err != nil {
		return err
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.redisKey(entry.World, entry.UniqueID), data, r.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	r.remember(entry)
	r.publish(entryKey(entry.World, entry.UniqueID))
	return nil
}

func (r *RedisDirectory) Delete(ctx context.Context, world, uniqueID string) error {
	if err := r.client.Del(ctx, r.redisKey(world, uniqueID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	key := entryKey(world, uniqueID)
	r.onInvalidation(key)
	r.publish(key)
	return nil
}

// Lookup сначала локальная копия, затем Redis (read-through)
func (r *RedisDirectory) Lookup(ctx context.Context, world, uniqueID string) (UniqueEntry, error) {
	atomic.AddInt64(&r.requests, 1)
	key := entryKey(world, uniqueID)
	if seen, ok := r.frontSeen.Load(key); ok && time.Since(seen.(time.Time)) < r.config.FrontTTL {
		if entry, err := r.front.Lookup(ctx, world, uniqueID); err == nil {
			atomic.AddInt64(&r.hits, 1)
			return entry, nil
		}
	}

	data, err := r.client.Get(ctx, r.redisKey(world, uniqueID)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&r.misses, 1)
		return UniqueEntry{}, ErrCacheMiss
	}
	if err != nil {
		atomic.AddInt64(&r.misses, 1)
		return UniqueEntry{}, fmt.Errorf("redis get: %w", err)
	}
	var entry UniqueEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return UniqueEntry{}, fmt.Errorf("запись %s: %w", key, err)
	}
	atomic.AddInt64(&r.hits, 1)
	r.remember(entry)
	return entry, nil
}

func (r *RedisDirectory) remember(entry UniqueEntry) {
	_ = r.front.Put(context.Background(), entry)
	r.frontSeen.Store(entryKey(entry.World, entry.UniqueID), time.Now())
}

// onInvalidation убирает ключ из локальной копии
func (r *RedisDirectory) onInvalidation(key string) error {
	r.frontSeen.Delete(key)
	r.front.forget(key)
	return nil
}

func (r *RedisDirectory) publish(key string) {
	if r.invalidator == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
			r.logger.Error("❌ Инвалидация %s не отправлена: %v", key, err)
		}
	}()
}

func (r *RedisDirectory) GetMetrics() CacheMetrics {
	metrics := CacheMetrics{
		TotalRequests: atomic.LoadInt64(&r.requests),
		CacheHits:     atomic.LoadInt64(&r.hits),
		CacheMisses:   atomic.LoadInt64(&r.misses),
		TotalKeys:     r.front.GetMetrics().TotalKeys,
	}
	if total := metrics.CacheHits + metrics.CacheMisses; total > 0 {
		metrics.HitRatio = float64(metrics.CacheHits) / float64(total)
	}
	return metrics
}

func (r *RedisDirectory) Close() error {
	if r.invalidator != nil {
		r.invalidator.Close()
	}
	if err := r.client.Close(); err != nil {
		r.logger.Error("❌ Ошибка закрытия Redis: %v", err)
		return err
	}
	return nil
}

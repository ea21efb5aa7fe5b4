package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/logging"
)

// RedisPositionRepo хранит позиции игроков в Redis.
// Save складывает записи в буфер, который сбрасывается пайплайном
// по таймеру или при заполнении.
type RedisPositionRepo struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	batchSize   int
	batchMu     sync.Mutex
	batchBuffer map[uuid.UUID]PlayerPosition
	batchTicker *time.Ticker
	shutdown    chan struct{}
	wg          sync.WaitGroup
	logger      *logging.Logger
}

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TTL          time.Duration `yaml:"ttl"`
	BatchSize    int           `yaml:"batch_size"`
	BatchFlushMs int           `yaml:"batch_flush_ms"`
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "tileverse:pos:",
		TTL:          24 * time.Hour,
		BatchSize:    100,
		BatchFlushMs: 100,
	}
}

// NewRedisPositionRepo подключается к Redis и запускает сброс буфера
func NewRedisPositionRepo(config *RedisConfig) (*RedisPositionRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}
	flush := time.Duration(config.BatchFlushMs) * time.Millisecond
	if flush <= 0 {
		flush = 100 * time.Millisecond
	}

	repo := &RedisPositionRepo{
		client:      client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		batchSize:   config.BatchSize,
		batchBuffer: make(map[uuid.UUID]PlayerPosition),
		batchTicker: time.NewTicker(flush),
		shutdown:    make(chan struct{}),
		logger:      logging.GetComponentLogger("storage"),
	}
	repo.wg.Add(1)
	go repo.batchFlusher()

	repo.logger.Info("🔴 Подключено к Redis %s", config.Addr)
	return repo, nil
}

func (r *RedisPositionRepo) key(player uuid.UUID) string {
	return r.keyPrefix + player.String()
}

// Save кладёт позицию в буфер
func (r *RedisPositionRepo) Save(ctx context.Context, pos PlayerPosition) error {
	if err := pos.validate(); err != nil {
		return err
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}

	r.batchMu.Lock()
	r.batchBuffer[pos.PlayerUUID] = pos
	if len(r.batchBuffer) < r.batchSize {
		r.batchMu.Unlock()
		return nil
	}
	batch := r.batchBuffer
	r.batchBuffer = make(map[uuid.UUID]PlayerPosition)
	r.batchMu.Unlock()
	return r.flushBatch(ctx, batch)
}

// Load сначала смотрит в несброшенный буфер
func (r *RedisPositionRepo) Load(ctx context.Context, player uuid.UUID) (PlayerPosition, bool, error) {
	if player == uuid.Nil {
		return PlayerPosition{}, false, ErrInvalidPlayer
	}
	r.batchMu.Lock()
	pending, ok := r.batchBuffer[player]
	r.batchMu.Unlock()
	if ok {
		return pending, true, nil
	}

	data, err := r.client.Get(ctx, r.key(player)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PlayerPosition{}, false, nil
	}
	if err != nil {
		return PlayerPosition{}, false, fmt.Errorf("ошибка чтения позиции игрока %s: %w", player, err)
	}
	var pos PlayerPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return PlayerPosition{}, false, fmt.Errorf("позиция игрока %s: %w", player, err)
	}
	return pos, true, nil
}

func (r *RedisPositionRepo) Delete(ctx context.Context, player uuid.UUID) error {
	r.batchMu.Lock()
	delete(r.batchBuffer, player)
	r.batchMu.Unlock()

	if err := r.client.Del(ctx, r.key(player)).Err(); err != nil {
		return fmt.Errorf("ошибка удаления позиции игрока %s: %w", player, err)
	}
	return nil
}

// BatchSave пишет сразу, минуя буфер
func (r *RedisPositionRepo) BatchSave(ctx context.Context, positions []PlayerPosition) error {
	batch := make(map[uuid.UUID]PlayerPosition, len(positions))
	for _, pos := range positions {
		if err := pos.validate(); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		batch[pos.PlayerUUID] = pos
	}
	return r.flushBatch(ctx, batch)
}

// Close сбрасывает остаток буфера и закрывает соединение
func (r *RedisPositionRepo) Close() error {
	close(r.shutdown)
	r.wg.Wait()
	r.batchTicker.Stop()

	r.batchMu.Lock()
	batch := r.batchBuffer
	r.batchBuffer = make(map[uuid.UUID]PlayerPosition)
	r.batchMu.Unlock()
	if err := r.flushBatch(context.Background(), batch); err != nil {
		r.logger.Error("❌ Не удалось сбросить позиции при закрытии: %v", err)
	}
	return r.client.Close()
}

func (r *RedisPositionRepo) batchFlusher() {
	defer r.wg.Done()
	for {
		select {
		case <-r.shutdown:
			return
		case <-r.batchTicker.C:
			r.batchMu.Lock()
			if len(r.batchBuffer) == 0 {
				r.batchMu.Unlock()
				continue
			}
			batch := r.batchBuffer
			r.batchBuffer = make(map[uuid.UUID]PlayerPosition)
			r.batchMu.Unlock()

			if err := r.flushBatch(context.Background(), batch); err != nil {
				r.logger.Error("❌ Не удалось сбросить позиции: %v", err)
			}
		}
	}
}

func (r *RedisPositionRepo) flushBatch(ctx context.Context, batch map[uuid.UUID]PlayerPosition) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for player, pos := range batch {
		data, err := json.Marshal(pos)
		if err != nil {
			r.logger.Warn("⚠️ Позиция игрока %s не сериализована: %v", player, err)
			continue
		}
		pipe.Set(ctx, r.key(player), data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка записи пакета позиций: %w", err)
	}
	return nil
}

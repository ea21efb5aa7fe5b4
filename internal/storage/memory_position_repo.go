package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryPositionRepo реализует PositionRepo в памяти.
// Используется, когда MariaDB и Redis не настроены, и в тестах.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryPositionRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]PlayerPosition
}

// NewMemoryPositionRepo создает новый репозиторий позиций в памяти.
func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{
		data: make(map[uuid.UUID]PlayerPosition),
	}
}

// Save сохраняет позицию игрока в памяти.
func (r *MemoryPositionRepo) Save(ctx context.Context, pos PlayerPosition) error {
	if err := pos.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[pos.PlayerUUID] = pos
	return nil
}

// Load загружает позицию игрока из памяти.
func (r *MemoryPositionRepo) Load(ctx context.Context, player uuid.UUID) (PlayerPosition, bool, error) {
	if player == uuid.Nil {
		return PlayerPosition{}, false, ErrInvalidPlayer
	}
	if err := ctx.Err(); err != nil {
		return PlayerPosition{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, exists := r.data[player]
	return pos, exists, nil
}

// Delete удаляет сохраненную позицию игрока из памяти.
func (r *MemoryPositionRepo) Delete(ctx context.Context, player uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[player]; !exists {
		return fmt.Errorf("позиция игрока %s не найдена", player)
	}
	delete(r.data, player)
	return nil
}

// BatchSave сохраняет позиции нескольких игроков; при ошибке валидации ничего не пишет
func (r *MemoryPositionRepo) BatchSave(ctx context.Context, positions []PlayerPosition) error {
	if len(positions) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, pos := range positions {
		if err := pos.validate(); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pos := range positions {
		r.data[pos.PlayerUUID] = pos
	}
	return nil
}

// Count количество сохраненных позиций
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *MemoryPositionRepo) Close() error { return nil }

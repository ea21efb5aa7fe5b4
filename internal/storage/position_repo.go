package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/vec"
)

// ErrInvalidPlayer позиция без идентификатора игрока или мира
var ErrInvalidPlayer = errors.New("недействительный игрок")

// PlayerPosition последнее известное место игрока.
// Позиция привязана к UUID игрока, а не к EntityID, и переживает сессию.
type PlayerPosition struct {
	PlayerUUID uuid.UUID `json:"playerUuid"`
	World      string    `json:"world"`
	Position   vec.Vec2F `json:"position"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (p PlayerPosition) validate() error {
	if p.PlayerUUID == uuid.Nil || p.World == "" {
		return ErrInvalidPlayer
	}
	return nil
}

// PositionRepo сохранение и загрузка позиций игроков
type PositionRepo interface {
	// Save сохраняет позицию игрока
	Save(ctx context.Context, pos PlayerPosition) error

	// Load позиция игрока; false при первом входе
	Load(ctx context.Context, player uuid.UUID) (PlayerPosition, bool, error)

	// Delete удаляет сохранённую позицию
	Delete(ctx context.Context, player uuid.UUID) error

	// BatchSave сохраняет позиции нескольких игроков (автосохранение)
	BatchSave(ctx context.Context, positions []PlayerPosition) error

	Close() error
}

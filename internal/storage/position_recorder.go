package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/logging"
)

// PositionRecorder запоминает, где игрок вышел из мира, по событиям PlayerLeft шины
type PositionRecorder struct {
	repo   PositionRepo
	sub    eventbus.Subscription
	logger *logging.Logger
}

// StartPositionRecorder подписывается на выходы игроков
func StartPositionRecorder(ctx context.Context, bus eventbus.EventBus, repo PositionRepo) (*PositionRecorder, error) {
	rec := &PositionRecorder{repo: repo, logger: logging.GetComponentLogger("storage")}
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventPlayerLeft}}, rec.handle)
	if err != nil {
		return nil, err
	}
	rec.sub = sub
	return rec, nil
}

func (r *PositionRecorder) handle(ctx context.Context, ev *eventbus.Envelope) {
	presence, err := eventbus.Decode[eventbus.PlayerPresence](ev)
	if err != nil {
		r.logger.Warn("⚠️ %v", err)
		return
	}
	if presence.Position == nil || presence.PlayerUUID == uuid.Nil {
		return
	}
	pos := PlayerPosition{
		PlayerUUID: presence.PlayerUUID,
		World:      presence.World,
		Position:   *presence.Position,
		UpdatedAt:  ev.Timestamp,
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	if err := r.repo.Save(ctx, pos); err != nil {
		r.logger.Error("❌ Позиция игрока %s не сохранена: %v", presence.PlayerName, err)
	}
}

// Stop отписывается от шины
func (r *PositionRecorder) Stop() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
}

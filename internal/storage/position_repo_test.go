package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/vec"
)

var (
	_ PositionRepo = (*MemoryPositionRepo)(nil)
	_ PositionRepo = (*MariaPositionRepo)(nil)
	_ PositionRepo = (*RedisPositionRepo)(nil)
)

// TestMemoryPositionRepo тестирует in-memory репозиторий позиций
func TestMemoryPositionRepo(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()
	player := uuid.New()

	t.Run("Save and Load", func(t *testing.T) {
		want := PlayerPosition{PlayerUUID: player, World: "home", Position: vec.V2F(10.5, 20)}
		require.NoError(t, repo.Save(ctx, want))

		got, found, err := repo.Load(ctx, player)
		require.NoError(t, err)
		require.True(t, found, "позиция должна быть найдена")
		assert.Equal(t, want, got)
	})

	t.Run("Load Non-Existent Player", func(t *testing.T) {
		_, found, err := repo.Load(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, found, "первый вход не имеет позиции")
	})

	t.Run("Delete Position", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, player))
		_, found, _ := repo.Load(ctx, player)
		assert.False(t, found)
		assert.Error(t, repo.Delete(ctx, player), "повторное удаление - ошибка")
	})

	t.Run("BatchSave", func(t *testing.T) {
		batch := []PlayerPosition{
			{PlayerUUID: uuid.New(), World: "home", Position: vec.V2F(1, 2)},
			{PlayerUUID: uuid.New(), World: "moon", Position: vec.V2F(3, 4)},
		}
		before := repo.Count()
		require.NoError(t, repo.BatchSave(ctx, batch))
		assert.Equal(t, before+2, repo.Count())
	})

	t.Run("Validation", func(t *testing.T) {
		assert.ErrorIs(t, repo.Save(ctx, PlayerPosition{World: "home"}), ErrInvalidPlayer)
		assert.ErrorIs(t, repo.Save(ctx, PlayerPosition{PlayerUUID: uuid.New()}), ErrInvalidPlayer)

		before := repo.Count()
		err := repo.BatchSave(ctx, []PlayerPosition{
			{PlayerUUID: uuid.New(), World: "home"},
			{World: "home"},
		})
		assert.ErrorIs(t, err, ErrInvalidPlayer)
		assert.Equal(t, before, repo.Count(), "неудачный пакет ничего не записывает")
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := repo.Save(cancelled, PlayerPosition{PlayerUUID: uuid.New(), World: "home"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConcurrentAccess(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uuid.New()
			assert.NoError(t, repo.Save(ctx, PlayerPosition{PlayerUUID: id, World: "home", Position: vec.V2F(float64(i), 0)}))
			_, found, err := repo.Load(ctx, id)
			assert.NoError(t, err)
			assert.True(t, found)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, repo.Count())
}

func TestPositionRecorder(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	rec, err := StartPositionRecorder(ctx, bus, repo)
	require.NoError(t, err)
	defer rec.Stop()

	player := uuid.New()
	pos := vec.V2F(42, 7.5)
	ev, err := eventbus.NewEnvelope("home", eventbus.EventPlayerLeft, eventbus.PlayerPresence{
		World: "home", ClientID: 3, PlayerName: "Мира", PlayerUUID: player, Position: &pos,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ev))

	require.Eventually(t, func() bool {
		_, found, _ := repo.Load(ctx, player)
		return found
	}, time.Second, 10*time.Millisecond, "позиция сохраняется по событию выхода")

	got, _, _ := repo.Load(ctx, player)
	assert.Equal(t, "home", got.World)
	assert.Equal(t, pos, got.Position)
}

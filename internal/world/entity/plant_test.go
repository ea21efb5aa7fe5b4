package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

func wheatPlant() PlantConfig {
	return PlantConfig{
		Name:        "wheat",
		Description: "Колосья",
		Stages: []PlantStage{
			{Name: "seed", Duration: 1},
			{Name: "young", Duration: 1, Spaces: []vec.Vec2{{X: 0, Y: 0}, {X: 0, Y: 1}}},
			{Name: "ripe", Spaces: []vec.Vec2{{X: 0, Y: 0}, {X: 0, Y: 1}}},
		},
		Drops:        []ItemDescriptor{{Name: "wheat", Count: 2}, {Name: "wheatseed", Count: 1}},
		Harvestable:  true,
		HarvestStage: 1,
	}
}

func plantAt(t *testing.T, w *testWorld, cfg PlantConfig, pos vec.Vec2F) *Plant {
	t.Helper()
	p := NewPlant(cfg)
	p.SetPosition(pos)
	w.add(t, p)
	return p
}

func TestPlantGrowsThroughStages(t *testing.T) {
	w := newTestWorld(t)
	p := plantAt(t, w, wheatPlant(), vec.V2F(10, 1))
	assert.Equal(t, "seed", p.StageName())
	assert.Equal(t, []vec.Vec2{{X: 0, Y: 0}}, p.Spaces())
	assert.True(t, p.Persistent())

	w.run(1.1)
	assert.Equal(t, "young", p.StageName())
	assert.Len(t, p.Spaces(), 2)
	assert.False(t, p.Mature())

	w.run(1.1)
	assert.Equal(t, "ripe", p.StageName())
	assert.True(t, p.Mature())

	w.run(5)
	assert.Equal(t, 2, p.Stage(), "последняя стадия не меняется")
}

func TestPlantHarvest(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 0)
	p := plantAt(t, w, wheatPlant(), vec.V2F(10, 1))

	harvest := tile.Damage{Type: tile.DamagePlantish, Amount: 1, Harvest: 1}
	assert.False(t, p.ApplyTileDamage(harvest, vec.V2F(8, 1)), "незрелое растение только получает урон")
	assert.InDelta(t, 9, p.health.Get(), 1e-9)
	assert.Empty(t, w.ofType(EntityTypeItemDrop))

	w.run(2.2)
	require.True(t, p.Mature())
	assert.True(t, p.ApplyTileDamage(harvest, vec.V2F(8, 1)))
	assert.Equal(t, 1, p.Stage())
	assert.False(t, p.ShouldDestroy())
	assert.InDelta(t, 9, p.health.Get(), 1e-9, "сбор урожая не ранит")

	drops := w.ofType(EntityTypeItemDrop)
	require.Len(t, drops, 2)
	for _, e := range drops {
		assert.Greater(t, e.(*ItemDrop).Velocity().X, 0.0, "урожай летит от источника")
	}
}

func TestPlantBreaks(t *testing.T) {
	w := newTestWorld(t)
	p := plantAt(t, w, wheatPlant(), vec.V2F(10, 1))

	assert.False(t, p.ApplyTileDamage(tile.Damage{Type: tile.DamageBlockish, Amount: 4}, vec.V2F(12, 1)))
	assert.InDelta(t, 8, p.health.Get(), 1e-9, "не растительный инструмент бьёт вполсилы")

	assert.True(t, p.ApplyTileDamage(tile.Damage{Type: tile.DamagePlantish, Amount: 8}, vec.V2F(12, 1)))
	assert.True(t, p.Dead())
	assert.True(t, p.ShouldDestroy())
	assert.True(t, p.BrokenEvent().PullOccurred())

	debris := w.ofType(EntityTypePlantDrop)
	require.Len(t, debris, 2)
	for _, e := range debris {
		assert.Less(t, e.(*ItemDrop).Velocity().X, 0.0)
	}
	assert.False(t, p.ApplyTileDamage(tile.Damage{Type: tile.DamagePlantish, Amount: 8}, vec.V2F(12, 1)), "мёртвое растение не ломается повторно")
}

func TestPlantDropsDeterministic(t *testing.T) {
	positions := func() []vec.Vec2F {
		w := newTestWorld(t)
		cfg := wheatPlant()
		cfg.Seed = 42
		p := plantAt(t, w, cfg, vec.V2F(10, 1))
		p.ApplyTileDamage(tile.Damage{Type: tile.DamagePlantish, Amount: 100}, vec.V2F(8, 1))
		var out []vec.Vec2F
		for _, e := range w.ofType(EntityTypePlantDrop) {
			out = append(out, e.(*ItemDrop).Velocity())
		}
		return out
	}
	assert.Equal(t, positions(), positions())
}

func TestPlantAsEntityDamage(t *testing.T) {
	w := newTestWorld(t)
	p := plantAt(t, w, wheatPlant(), vec.V2F(10, 1))

	_, ok := p.QueryHit(DamageSource{Team: EntityDamageTeam{Type: TeamEnemy}})
	assert.False(t, ok, "враги не трогают окружение")
	_, ok = p.QueryHit(DamageSource{Team: EntityDamageTeam{Type: TeamFriendly}})
	assert.True(t, ok)

	notes := p.ApplyDamage(DamageRequest{Kind: DamageNormal, Damage: 20, SourceEntityID: 3})
	require.Len(t, notes, 1)
	assert.Equal(t, HitKill, notes[0].HitType)
	assert.InDelta(t, 10, notes[0].HealthLost, 1e-9)
	assert.Equal(t, "plant", notes[0].TargetMaterialKind)
	assert.True(t, p.ShouldDestroy())
}

func TestPlantDiskRestoresGrowth(t *testing.T) {
	f := NewFactory(Deps{})
	w := newTestWorld(t)
	p := plantAt(t, w, wheatPlant(), vec.V2F(10, 1))
	w.run(1.5)

	loaded := diskCopy(t, f, p).(*Plant)
	assert.Equal(t, 1, loaded.Stage())
	assert.InDelta(t, p.growth, loaded.growth, 1e-9)
	assert.Equal(t, vec.V2F(10, 1), loaded.Position())
}

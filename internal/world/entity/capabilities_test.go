package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

func TestCapabilitiesPerType(t *testing.T) {
	player := NewPlayer(nil, PlayerConfig{})
	for _, c := range []Capability{CapDamageable, CapNametag, CapChatty, CapLounging, CapEmote, CapPointable, CapPortraited} {
		assert.True(t, Has(player, c), "игрок: %s", c)
	}
	assert.False(t, Has(player, CapTile))
	assert.False(t, Has(player, CapWire))

	object := NewObject(nil, ObjectConfig{Name: "lamp"})
	assert.True(t, Has(object, CapTile))
	assert.True(t, Has(object, CapWire))
	assert.True(t, Has(object, CapLoungeable))
	assert.False(t, Has(object, CapChatty))

	drop := NewItemDrop(ItemDropConfig{Item: wheat})
	assert.False(t, Has(drop, CapDamageable))
	assert.False(t, Has(drop, CapPhysics))
	assert.True(t, Has(NewVehicle(cartConfig()), CapPhysics), "платформы транспорта")

	projectile := NewProjectile(nil, ProjectileConfig{Power: 1})
	assert.True(t, Has(projectile, CapDamaging))
	assert.False(t, Has(projectile, CapDamageable))

	stagehand := NewStagehand(StagehandConfig{Type: "director"})
	assert.Contains(t, Capabilities(stagehand), CapScripted)
	assert.False(t, Has(stagehand, Capability("flying")))
	assert.False(t, Has(player, CapPrivileged))

	director, ok := As[PrivilegedEntity](NewStagehand(StagehandConfig{Type: "director", Privileged: true}))
	require.True(t, ok)
	assert.True(t, director.TilePrivileged())
	marker, _ := As[PrivilegedEntity](stagehand)
	assert.False(t, marker.TilePrivileged(), "без флага стейджхенд не привилегирован")
}

func TestPromiseCompletesOnce(t *testing.T) {
	p := NewMessagePromise()
	assert.False(t, p.Finished())

	var calls int
	var got interface{}
	p.OnDone(func(v interface{}, err error) {
		calls++
		got = v
	})
	p.Fulfill(42)
	p.Fail(errors.New("поздно"))

	assert.True(t, p.Succeeded())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 42, got)

	var late error
	p.OnDone(func(_ interface{}, err error) { late = err })
	assert.NoError(t, late, "обработчик после завершения вызывается сразу")

	failed := ResolvedPromise(nil, ErrMessageExpired)
	assert.True(t, failed.Finished())
	assert.False(t, failed.Succeeded())
	_, err := failed.Result()
	assert.ErrorIs(t, err, ErrMessageExpired)
}

func TestMessageToMissingTarget(t *testing.T) {
	w := newTestWorld(t)
	p := w.SendEntityMessage(NullEntityID, TargetUnique("nobody"), "ping", nil)
	require.True(t, p.Finished())
	_, err := p.Result()
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Equal(t, "nobody", TargetUnique("nobody").UniqueID)
	assert.True(t, TargetUnique("nobody").IsUnique())
	assert.False(t, TargetID(5).IsUnique())
}

func projectileAt(t *testing.T, w *testWorld, cfg ProjectileConfig, pos vec.Vec2F) *Projectile {
	t.Helper()
	p := NewProjectile(nil, cfg)
	p.SetPosition(pos)
	w.add(t, p)
	return p
}

func TestProjectileExpires(t *testing.T) {
	w := newTestWorld(t)
	p := projectileAt(t, w, ProjectileConfig{Velocity: vec.V2F(10, 0), TimeToLive: 0.5, Power: 3}, vec.V2F(10, 50))

	w.run(0.25)
	assert.Greater(t, p.Position().X, 11.0)
	assert.InDelta(t, 50, p.Position().Y, 1e-9, "без гравитации летит прямо")

	w.run(0.5)
	assert.Nil(t, w.Entity(p.EntityID()))
}

func TestProjectileHitsTiles(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 10)
	p := projectileAt(t, w, ProjectileConfig{
		Velocity:        vec.V2F(0, -20),
		TimeToLive:      5,
		TileDamage:      tile.Damage{Type: tile.DamageBlockish, Amount: 5},
		TileDamageRange: 1,
	}, vec.V2F(10, 14))

	w.run(0.5)
	assert.Nil(t, w.Entity(p.EntityID()), "снаряд исчезает при ударе о стену")
	assert.Len(t, w.damagedTiles, 9)
}

func TestProjectileSourceAndPiercing(t *testing.T) {
	w := newTestWorld(t)
	arrow := projectileAt(t, w, ProjectileConfig{Velocity: vec.V2F(10, 0), TimeToLive: 5, Power: 4, Knockback: 2}, vec.V2F(10, 50))
	arrow.SetSource(7, EntityDamageTeam{Type: TeamFriendly})

	sources := arrow.DamageSources()
	require.Len(t, sources, 1)
	assert.Equal(t, EntityID(7), sources[0].SourceEntityID)
	assert.Equal(t, TeamFriendly, sources[0].Team.Type)

	arrow.HitOther(3, DamageRequest{})
	assert.True(t, arrow.ShouldDestroy())
	assert.Empty(t, arrow.DamageSources())

	bolt := projectileAt(t, w, ProjectileConfig{Velocity: vec.V2F(10, 0), TimeToLive: 5, Power: 4, Piercing: true}, vec.V2F(10, 60))
	bolt.HitOther(3, DamageRequest{})
	assert.False(t, bolt.ShouldDestroy(), "пробивающий снаряд летит дальше")
}

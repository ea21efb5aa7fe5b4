package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

func cartConfig() VehicleConfig {
	return VehicleConfig{
		Name:        "cart",
		Description: "Тележка",
		Health:      30,
		LoungePositions: []LoungeAnchor{
			{EntityAnchor: EntityAnchor{Position: vec.V2F(-1, 2), Direction: 1}, Orientation: LoungeSit, Controllable: true},
			{EntityAnchor: EntityAnchor{Position: vec.V2F(1, 2), Direction: 1}, Orientation: LoungeSit},
		},
		Platforms: []VehiclePlatform{
			{Poly: physics.RectPoly(vec.NewRectF(-2, 1.5, 2, 2)), Kind: tile.CollisionPlatform},
		},
	}
}

func cartAt(t *testing.T, w *testWorld, pos vec.Vec2F) *Vehicle {
	t.Helper()
	v := NewVehicle(cartConfig())
	v.SetPosition(pos)
	w.add(t, v)
	return v
}

func control(v *Vehicle, anchor float64, name string, held bool) error {
	_, _, err := v.ReceiveMessage(1, VehicleControlMessage, []interface{}{anchor, name, held})
	return err
}

func TestParseLoungeControl(t *testing.T) {
	for c := ControlLeft; c <= ControlAltFire; c++ {
		parsed, err := ParseLoungeControl(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := ParseLoungeControl("Special3")
	assert.Error(t, err)
}

func TestVehicleControlMessages(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 9)
	v := cartAt(t, w, vec.V2F(20, 10))

	require.NoError(t, control(v, 0, "Right", true))
	assert.True(t, v.ControlHeld(0, ControlRight))

	require.NoError(t, control(v, 1, "Right", true))
	assert.False(t, v.ControlHeld(1, ControlRight), "неуправляемое место игнорируется")

	assert.Error(t, control(v, 0, "Warp", true))
	_, _, err := v.ReceiveMessage(1, VehicleControlMessage, []interface{}{"0", "Right", true})
	assert.Error(t, err)
	_, _, err = v.ReceiveMessage(1, VehicleControlMessage, []interface{}{float64(0)})
	assert.Error(t, err)

	_, handled, err := v.ReceiveMessage(1, "honk", nil)
	assert.NoError(t, err)
	assert.False(t, handled, "без скрипта прочие сообщения не обрабатываются")

	require.NoError(t, control(v, 0, "Right", false))
	assert.False(t, v.ControlHeld(0, ControlRight))
}

func TestVehicleDrivesWithoutScript(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 9)
	v := cartAt(t, w, vec.V2F(20, 10))
	w.run(0.2)
	start := v.Position()
	assert.InDelta(t, 10, start.Y, 0.05)

	v.SetControlHeld(0, ControlRight, true)
	w.run(1)
	assert.Greater(t, v.Position().X, start.X+5)
	assert.InDelta(t, 10, v.Velocity().X, 0.5)
	assert.Equal(t, 1, v.Direction())

	v.SetControlHeld(0, ControlRight, false)
	v.SetControlHeld(0, ControlLeft, true)
	w.run(1)
	assert.Equal(t, -1, v.Direction())
	assert.Less(t, v.Velocity().X, 0.0)

	v.SetControlHeld(0, ControlLeft, false)
	w.run(1)
	assert.InDelta(t, 0, v.Velocity().X, 1e-9, "без управления транспорт тормозит")
}

func TestVehiclePlatformsCarryDrops(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 9)
	v := cartAt(t, w, vec.V2F(20, 10))

	cols := v.MovingCollisions(vec.NewRectF(19, 11, 21, 13))
	require.Len(t, cols, 1)
	assert.Equal(t, tile.CollisionPlatform, cols[0].Kind)
	assert.InDelta(t, 12, cols[0].Poly.BoundBox().Max.Y, 1e-9)
	assert.Empty(t, v.MovingCollisions(vec.NewRectF(40, 11, 41, 13)))

	d := dropAt(t, w, ItemDropConfig{Item: wheat}, vec.V2F(20, 15))
	w.run(1)
	assert.InDelta(t, 12, d.Position().Y, 0.1, "предмет лежит на платформе")
	assert.InDelta(t, 10, v.Position().Y, 0.05, "транспорт не сталкивается со своей платформой")
}

func TestVehicleLounging(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 9)
	v := cartAt(t, w, vec.V2F(20, 10))
	require.True(t, Has(v, CapLoungeable))

	first := v.Interact(InteractRequest{SourceID: 5})
	assert.Equal(t, InteractSitDown, first.Type)
	var anchor int
	require.NoError(t, first.Decode(&anchor))
	assert.Equal(t, 0, anchor)

	player := NewPlayer(nil, PlayerConfig{ActorConfig: ActorConfig{Name: "Driver"}})
	player.SetPosition(vec.V2F(19, 12))
	w.add(t, player)
	player.SetLounging(v.EntityID(), 0)
	w.tick()

	assert.Equal(t, []EntityID{player.EntityID()}, v.EntitiesLoungingIn(0))
	next := v.Interact(InteractRequest{SourceID: 6})
	require.NoError(t, next.Decode(&anchor))
	assert.Equal(t, 1, anchor, "занятое место пропускается")

	seat, ok := v.LoungeAnchor(0)
	require.True(t, ok)
	assert.InDelta(t, v.Position().X+seat.Position.X, player.Position().X, 1e-6)
}

func TestVehicleMirrorsAnchors(t *testing.T) {
	w := newTestWorld(t)
	v := cartAt(t, w, vec.V2F(20, 10))
	v.direction.Set(-1)

	a, ok := v.LoungeAnchor(0)
	require.True(t, ok)
	assert.Equal(t, 1.0, a.Position.X)
	assert.Equal(t, -1, a.Direction)
	_, ok = v.LoungeAnchor(5)
	assert.False(t, ok)
}

func TestVehicleDamage(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 9)
	v := cartAt(t, w, vec.V2F(20, 10))

	notes := v.ApplyDamage(DamageRequest{Kind: DamageNormal, Damage: 10, Knockback: vec.V2F(5, 0)})
	require.Len(t, notes, 1)
	assert.Equal(t, "robotic", notes[0].TargetMaterialKind)
	assert.InDelta(t, 5, v.MovementController().Velocity().X, 1e-9)
	assert.False(t, v.Dead())

	notes = v.ApplyDamage(DamageRequest{Kind: DamageNormal, Damage: 25})
	assert.Equal(t, HitKill, notes[0].HitType)
	assert.True(t, v.ShouldDestroy())

	unbreakable := NewVehicle(VehicleConfig{Name: "rail"})
	_, ok := unbreakable.HitPoly()
	assert.False(t, ok)
}

package physics

import (
	"testing"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWorld struct {
	cells   map[vec.Vec2]tile.CollisionKind
	liquids map[vec.Vec2]tile.LiquidState
}

func newTestWorld() *testWorld {
	return &testWorld{
		cells:   make(map[vec.Vec2]tile.CollisionKind),
		liquids: make(map[vec.Vec2]tile.LiquidState),
	}
}

func (w *testWorld) fill(x0, x1, y int32, kind tile.CollisionKind) {
	for x := x0; x <= x1; x++ {
		w.cells[vec.V2(x, y)] = kind
	}
}

func (w *testWorld) Geometry() vec.Geometry { return vec.NewGeometry(100, 100) }
func (w *testWorld) Collision(p vec.Vec2) tile.CollisionKind { return w.cells[p] }
func (w *testWorld) GravityMultiplier(vec.Vec2) float64 { return 1 }
func (w *testWorld) LiquidAt(p vec.Vec2) tile.LiquidState { return w.liquids[p] }

const dt = 1.0 / 60

func settle(a *ActorMovementController) {
	for i := 0; i < 60; i++ {
		a.Tick(dt)
	}
}

func TestSeparation(t *testing.T) {
	a := RectPoly(vec.NewRectF(0, 0, 1, 1))
	b := RectPoly(vec.NewRectF(0.8, 0, 1.8, 1))

	sep, ok := a.Separation(b)
	require.True(t, ok)
	assert.InDelta(t, -0.2, sep.X, 1e-9)
	assert.InDelta(t, 0, sep.Y, 1e-9)

	_, ok = a.Separation(RectPoly(vec.NewRectF(1, 0, 2, 1)))
	assert.False(t, ok, "касание по ребру не считается пересечением")

	up, ok := a.DirectionalSeparation(RectPoly(vec.NewRectF(0, -0.5, 1, 0.1)), vec.V2F(0, 1))
	require.True(t, ok)
	assert.InDelta(t, 0.1, up.Y, 1e-9)

	assert.True(t, a.Contains(vec.V2F(0.5, 0.5)))
	assert.False(t, a.Contains(vec.V2F(1.5, 0.5)))
}

func TestFallsOntoFloor(t *testing.T) {
	w := newTestWorld()
	w.fill(0, 20, 0, tile.CollisionBlock)

	m := NewMovementController(w, DefaultMovementParameters(), vec.V2F(5.5, 3))
	for i := 0; i < 60; i++ {
		m.Tick(dt)
	}
	assert.InDelta(t, 1.0, m.Position().Y, 0.05)
	assert.True(t, m.OnGround())
	assert.InDelta(t, 0, m.Velocity().Y, 1e-9)
}

func TestActorWalksAndJumps(t *testing.T) {
	w := newTestWorld()
	w.fill(0, 40, 0, tile.CollisionBlock)

	a := NewActorMovementController(w, DefaultActorMovementParameters(), vec.V2F(5.5, 1.5))
	settle(a)
	require.True(t, a.Grounded())

	for i := 0; i < 60; i++ {
		a.ControlMove(1, false)
		a.Tick(dt)
	}
	assert.Greater(t, a.Position().X, 12.0)
	assert.InDelta(t, 1.0, a.Position().Y, 0.05, "идёт по полу без застреваний на стыках")
	assert.Equal(t, 1, a.Facing())

	settle(a)
	apex := a.Position().Y
	for i := 0; i < 90; i++ {
		a.ControlJump()
		a.Tick(dt)
		if a.Position().Y > apex {
			apex = a.Position().Y
		}
	}
	assert.Greater(t, apex, 4.0)
	settle(a)
	assert.InDelta(t, 1.0, a.Position().Y, 0.05)
}

func TestWallStopsActor(t *testing.T) {
	w := newTestWorld()
	w.fill(0, 40, 0, tile.CollisionBlock)
	for y := int32(1); y <= 4; y++ {
		w.cells[vec.V2(10, y)] = tile.CollisionBlock
	}

	a := NewActorMovementController(w, DefaultActorMovementParameters(), vec.V2F(5.5, 1))
	settle(a)
	for i := 0; i < 120; i++ {
		a.ControlMove(1, true)
		a.Tick(dt)
	}
	assert.LessOrEqual(t, a.Position().X, 9.56)
	assert.Greater(t, a.Position().X, 9.0)
}

func TestStepUpSingleTile(t *testing.T) {
	w := newTestWorld()
	w.fill(0, 40, 0, tile.CollisionBlock)
	w.fill(10, 40, 1, tile.CollisionBlock)

	a := NewActorMovementController(w, DefaultActorMovementParameters(), vec.V2F(5.5, 1))
	settle(a)
	for i := 0; i < 90; i++ {
		a.ControlMove(1, false)
		a.Tick(dt)
	}
	assert.Greater(t, a.Position().X, 11.0, "ступенька в один тайл преодолевается коррекцией")
	assert.InDelta(t, 2.0, a.Position().Y, 0.1)
}

func TestPlatformFallThrough(t *testing.T) {
	w := newTestWorld()
	w.fill(0, 20, 0, tile.CollisionBlock)
	w.fill(0, 20, 5, tile.CollisionPlatform)

	a := NewActorMovementController(w, DefaultActorMovementParameters(), vec.V2F(5.5, 6.2))
	settle(a)
	require.InDelta(t, 6.0, a.Position().Y, 0.05, "стоит на платформе")

	for i := 0; i < 90; i++ {
		a.ControlDown()
		a.Tick(dt)
	}
	assert.InDelta(t, 1.0, a.Position().Y, 0.05)
}

func TestLiquidBuoyancy(t *testing.T) {
	dry := newTestWorld()
	wet := newTestWorld()
	for y := int32(0); y < 40; y++ {
		for x := int32(0); x < 10; x++ {
			wet.liquids[vec.V2(x, y)] = tile.LiquidState{Liquid: 1, Level: 1}
		}
	}

	a := NewMovementController(dry, DefaultMovementParameters(), vec.V2F(5.5, 30))
	b := NewMovementController(wet, DefaultMovementParameters(), vec.V2F(5.5, 30))
	for i := 0; i < 20; i++ {
		a.Tick(dt)
		b.Tick(dt)
	}
	assert.InDelta(t, 1.0, b.LiquidPercentage(), 1e-9)
	assert.Equal(t, tile.LiquidID(1), b.Liquid())
	assert.Less(t, -b.Velocity().Y, -a.Velocity().Y/5)
}

func TestCrouchShrinksCollider(t *testing.T) {
	w := newTestWorld()
	w.fill(0, 20, 0, tile.CollisionBlock)

	a := NewActorMovementController(w, DefaultActorMovementParameters(), vec.V2F(5.5, 1))
	settle(a)
	a.ControlCrouch()
	a.Tick(dt)
	assert.True(t, a.Crouching())
	assert.Less(t, a.BoundBox().Height(), 1.0)

	a.Tick(dt)
	assert.False(t, a.Crouching())
}

func TestModifiersCombine(t *testing.T) {
	m := NoModifiers().Combine(ActorMovementModifiers{
		GroundMovementModifier: 0.5, LiquidMovementModifier: 1, SpeedModifier: 2,
		AirJumpModifier: 1, LiquidJumpModifier: 1, JumpingSuppressed: true,
	})
	assert.Equal(t, 0.5, m.GroundMovementModifier)
	assert.Equal(t, 2.0, m.SpeedModifier)
	assert.True(t, m.JumpingSuppressed)
	assert.False(t, m.RunningSuppressed)
}

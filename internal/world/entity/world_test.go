package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

const testDt = 1.0 / 60

// testWorld мир сервера в памяти: клетки столкновений и карта сущностей
type testWorld struct {
	geometry vec.Geometry
	cells    map[vec.Vec2]tile.CollisionKind
	entities *Map

	lua    *luaengine.Engine
	assets *assets.Assets

	time  float64
	step  uint64
	seed  uint64
	props map[string]interface{}

	damagedTiles []vec.Vec2
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	geometry := vec.NewGeometry(1000, 500)
	minID, maxID := ServerIDRange()
	return &testWorld{
		geometry: geometry,
		cells:    make(map[vec.Vec2]tile.CollisionKind),
		entities: NewMap(geometry, minID, maxID),
		seed:     1234,
		props:    make(map[string]interface{}),
	}
}

// withScripts подключает движок Lua и ассеты со скриптами
func (w *testWorld) withScripts(t *testing.T, files map[string]string) *testWorld {
	t.Helper()
	w.lua = luaengine.NewEngine(luaengine.DefaultConfig())
	t.Cleanup(w.lua.Close)

	raw := make(map[string][]byte, len(files))
	for path, src := range files {
		raw[path] = []byte(src)
	}
	a, err := assets.New(assets.Options{TTL: time.Minute, Workers: 1}, assets.NewMemorySource("test", raw))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	w.assets = a
	return w
}

func (w *testWorld) floor(x0, x1, y int32) {
	for x := x0; x <= x1; x++ {
		w.cells[vec.V2(x, y)] = tile.CollisionBlock
	}
}

func (w *testWorld) add(t *testing.T, e Entity) EntityID {
	t.Helper()
	id, err := w.AddEntity(e)
	require.NoError(t, err)
	return id
}

// tick один шаг: обновление, индекс и удаление помеченных
func (w *testWorld) tick() {
	w.step++
	w.time += testDt
	w.entities.ForEach(func(e Entity) {
		e.Update(testDt, w.step)
		w.entities.UpdateSpatial(e.EntityID())
	})
	w.entities.ForEach(func(e Entity) {
		if e.ShouldDestroy() {
			e.Destroy()
			e.Uninit()
			w.entities.Remove(e.EntityID())
		}
	})
}

func (w *testWorld) run(seconds float64) {
	for n := int(seconds / testDt); n > 0; n-- {
		w.tick()
	}
}

func (w *testWorld) ofType(et EntityType) []Entity {
	var out []Entity
	w.entities.ForEach(func(e Entity) {
		if e.EntityType() == et {
			out = append(out, e)
		}
	})
	return out
}

func (w *testWorld) Geometry() vec.Geometry { return w.geometry }

func (w *testWorld) Collision(p vec.Vec2) tile.CollisionKind { return w.cells[w.geometry.Wrap(p)] }

func (w *testWorld) GravityMultiplier(vec.Vec2) float64 { return 1 }

func (w *testWorld) LiquidAt(vec.Vec2) tile.LiquidState { return tile.LiquidState{} }

func (w *testWorld) MovingCollisions(area vec.RectF) []physics.MovingCollision {
	var out []physics.MovingCollision
	for _, e := range w.entities.Query(area, nil) {
		if p, ok := As[PhysicsEntity](e); ok {
			out = append(out, p.MovingCollisions(area)...)
		}
	}
	return out
}

func (w *testWorld) IsServer() bool { return true }

func (w *testWorld) ConnectionID() ConnectionID { return ServerConnectionID }

func (w *testWorld) TileAt(vec.Vec2) tile.Tile { return tile.EmptyTile() }

func (w *testWorld) ModifyTiles(tile.ModificationList, bool, EntityID) tile.ModificationList {
	return nil
}

func (w *testWorld) DamageTiles(positions []vec.Vec2, layer tile.Layer, sourcePos vec.Vec2F, damage tile.Damage, source EntityID) bool {
	w.damagedTiles = append(w.damagedTiles, positions...)
	return len(positions) > 0
}

func (w *testWorld) Entity(id EntityID) Entity { return w.entities.Get(id) }

func (w *testWorld) FindUniqueEntity(uniqueID string) (EntityID, bool) {
	return w.entities.FindUnique(uniqueID)
}

func (w *testWorld) EntityQuery(area vec.RectF, filter func(Entity) bool) []Entity {
	return w.entities.Query(area, filter)
}

func (w *testWorld) AddEntity(e Entity) (EntityID, error) {
	id, err := w.entities.ReserveID()
	if err != nil {
		return NullEntityID, err
	}
	e.Init(w, id, ModeMaster)
	if _, err := w.entities.Add(e); err != nil {
		e.Uninit()
		return NullEntityID, err
	}
	return id, nil
}

func (w *testWorld) SendEntityMessage(source EntityID, target MessageTarget, message string, args []interface{}) *MessagePromise {
	id := target.ID
	if target.IsUnique() {
		found, ok := w.FindUniqueEntity(target.UniqueID)
		if !ok {
			return ResolvedPromise(nil, ErrEntityNotFound)
		}
		id = found
	}
	e := w.Entity(id)
	if e == nil {
		return ResolvedPromise(nil, ErrEntityNotFound)
	}
	result, handled, err := e.ReceiveMessage(ServerConnectionID, message, args)
	if err == nil && !handled {
		err = ErrMessageUnhandled
	}
	return ResolvedPromise(result, err)
}

func (w *testWorld) Time() float64 { return w.time }

func (w *testWorld) CurrentStep() uint64 { return w.step }

func (w *testWorld) Seed() uint64 { return w.seed }

func (w *testWorld) Lua() *luaengine.Engine { return w.lua }

func (w *testWorld) Assets() *assets.Assets { return w.assets }

func (w *testWorld) BindScript(*luaengine.Context, Entity) {}

func (w *testWorld) Property(name string) interface{} { return w.props[name] }

func (w *testWorld) SetProperty(name string, value interface{}) { w.props[name] = value }

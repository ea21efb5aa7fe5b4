package scriptapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// fakeWorld мир для скриптов; неиспользуемые методы паникуют через встроенный nil
type fakeWorld struct {
	entity.World
	geometry   vec.Geometry
	entities   *entity.Map
	tiles      map[vec.Vec2]tile.Tile
	props      map[string]interface{}
	messages   []string
	modified   tile.ModificationList
	// modifiedBy источник последнего ModifyTiles
	modifiedBy entity.EntityID
}

func newFakeWorld() *fakeWorld {
	geo := vec.NewGeometry(100, 100)
	lo, hi := entity.ServerIDRange()
	return &fakeWorld{
		geometry: geo,
		entities: entity.NewMap(geo, lo, hi),
		tiles:    make(map[vec.Vec2]tile.Tile),
		props:    make(map[string]interface{}),
	}
}

func (w *fakeWorld) Geometry() vec.Geometry { return w.geometry }
func (w *fakeWorld) Time() float64          { return 12.5 }
func (w *fakeWorld) CurrentStep() uint64    { return 750 }
func (w *fakeWorld) Seed() uint64           { return 42 }
func (w *fakeWorld) IsServer() bool         { return true }

func (w *fakeWorld) TileAt(pos vec.Vec2) tile.Tile {
	if t, ok := w.tiles[pos]; ok {
		return t
	}
	return tile.EmptyTile()
}

func (w *fakeWorld) Collision(pos vec.Vec2) tile.CollisionKind { return w.TileAt(pos).Collision }

func (w *fakeWorld) LiquidAt(pos vec.Vec2) tile.LiquidState { return w.TileAt(pos).Liquid }

func (w *fakeWorld) ModifyTiles(list tile.ModificationList, _ bool, source entity.EntityID) tile.ModificationList {
	w.modified = append(w.modified, list...)
	w.modifiedBy = source
	return nil
}

func (w *fakeWorld) Entity(id entity.EntityID) entity.Entity { return w.entities.Get(id) }

func (w *fakeWorld) FindUniqueEntity(uid string) (entity.EntityID, bool) {
	return w.entities.FindUnique(uid)
}

func (w *fakeWorld) EntityQuery(area vec.RectF, filter func(entity.Entity) bool) []entity.Entity {
	return w.entities.Query(area, filter)
}

func (w *fakeWorld) AddEntity(e entity.Entity) (entity.EntityID, error) {
	id, err := w.entities.ReserveID()
	if err != nil {
		return entity.NullEntityID, err
	}
	e.Init(w, id, entity.ModeMaster)
	_, err = w.entities.Add(e)
	return id, err
}

func (w *fakeWorld) SendEntityMessage(_ entity.EntityID, target entity.MessageTarget, message string, _ []interface{}) *entity.MessagePromise {
	w.messages = append(w.messages, target.String()+":"+message)
	if message == "later" {
		return entity.NewMessagePromise()
	}
	return entity.ResolvedPromise("pong", nil)
}

func (w *fakeWorld) Property(name string) interface{} { return w.props[name] }

func (w *fakeWorld) SetProperty(name string, v interface{}) { w.props[name] = v }

func setup(t *testing.T) (*fakeWorld, *luaengine.Context, entity.Entity) {
	t.Helper()
	w := newFakeWorld()
	engine := luaengine.NewEngine(luaengine.DefaultConfig())
	t.Cleanup(engine.Close)

	owner := entity.NewItemDrop(entity.ItemDropConfig{Item: entity.ItemDescriptor{Name: "torch", Count: 1}})
	owner.SetPosition(vec.Vec2F{X: 10, Y: 20})
	_, err := w.AddEntity(owner)
	require.NoError(t, err)

	ctx := engine.NewContext("scriptapi")
	Bind(ctx, w, owner)
	return w, ctx, owner
}

func eval(t *testing.T, ctx *luaengine.Context, src string) []lua.LValue {
	t.Helper()
	rets, err := ctx.Eval(src)
	require.NoError(t, err)
	return rets
}

func TestWorldBasics(t *testing.T) {
	_, ctx, _ := setup(t)
	rets := eval(t, ctx, `
		local size = world.size()
		return world.time(), world.step(), world.seed(), world.isServer(), size[1]`)
	require.Len(t, rets, 5)
	assert.Equal(t, lua.LNumber(12.5), rets[0])
	assert.Equal(t, lua.LNumber(750), rets[1])
	assert.Equal(t, lua.LNumber(42), rets[2])
	assert.Equal(t, lua.LTrue, rets[3])
	assert.Equal(t, lua.LNumber(100), rets[4])
}

func TestEntityTable(t *testing.T) {
	_, ctx, owner := setup(t)
	rets := eval(t, ctx, `
		local p = entity.position()
		return entity.id(), entity.entityType(), p[1], p[2], entity.isMaster(), entity.uniqueId()`)
	require.Len(t, rets, 6)
	assert.Equal(t, lua.LNumber(owner.EntityID()), rets[0])
	assert.Equal(t, lua.LString(owner.EntityType().String()), rets[1])
	assert.Equal(t, lua.LNumber(10), rets[2])
	assert.Equal(t, lua.LNumber(20), rets[3])
	assert.Equal(t, lua.LTrue, rets[4])
	assert.Equal(t, lua.LNil, rets[5], "без уникального id возвращается nil")

	eval(t, ctx, `entity.setUniqueId("lamp"); entity.setPosition({30, 40})`)
	assert.Equal(t, "lamp", owner.UniqueID())
	assert.Equal(t, vec.Vec2F{X: 30, Y: 40}, owner.Position())

	eval(t, ctx, `entity.destroy()`)
	assert.True(t, owner.ShouldDestroy())
}

func TestEntityQueryAndLookup(t *testing.T) {
	w, ctx, owner := setup(t)
	other := entity.NewItemDrop(entity.ItemDropConfig{Item: entity.ItemDescriptor{Name: "rock", Count: 3}})
	other.SetPosition(vec.Vec2F{X: 12, Y: 20})
	other.SetUniqueID("rock-1")
	otherID, err := w.AddEntity(other)
	require.NoError(t, err)

	rets := eval(t, ctx, `
		local ids = world.entityQuery({0, 0}, {50, 50})
		local none = world.entityQuery({0, 0}, {50, 50}, "monster")
		return #ids, #none, world.findUniqueEntity("rock-1"), world.findUniqueEntity("missing")`)
	require.Len(t, rets, 4)
	assert.Equal(t, lua.LNumber(2), rets[0])
	assert.Equal(t, lua.LNumber(0), rets[1], "фильтр по типу")
	assert.Equal(t, lua.LNumber(otherID), rets[2])
	assert.Equal(t, lua.LNil, rets[3])

	rets = eval(t, ctx, `
		local d = entity.distanceToEntity(`+lua.LNumber(otherID).String()+`)
		return d[1], world.entityExists(-5)`)
	assert.Equal(t, lua.LNumber(2), rets[0])
	assert.Equal(t, lua.LFalse, rets[1])
	_ = owner
}

func TestTilesFromScript(t *testing.T) {
	w, ctx, owner := setup(t)
	stone := tile.EmptyTile()
	stone.Foreground.Material = 7
	stone.Collision = tile.CollisionBlock
	stone.Liquid = tile.LiquidState{Liquid: 2, Level: 0.5}
	w.tiles[vec.V2(3, 4)] = stone

	rets := eval(t, ctx, `
		local id, level = world.liquidAt({3.5, 4.2})
		return world.material({3, 4}), world.material({3, 4}, "background"), world.pointTileCollision({3, 4}), id, level`)
	require.Len(t, rets, 5)
	assert.Equal(t, lua.LNumber(7), rets[0])
	assert.Equal(t, lua.LFalse, rets[1], "пустой слой даёт false")
	assert.Equal(t, lua.LTrue, rets[2])
	assert.Equal(t, lua.LNumber(2), rets[3])
	assert.Equal(t, lua.LNumber(0.5), rets[4])

	rets = eval(t, ctx, `return world.placeMaterial({5, 6}, "foreground", 9)`)
	assert.Equal(t, lua.LTrue, rets[0])
	require.Len(t, w.modified, 1)
	assert.Equal(t, vec.V2(5, 6), w.modified[0].Pos)
	assert.Equal(t, tile.PlaceMaterial{Layer: tile.Foreground, Material: 9}, w.modified[0].Mod)
	assert.Equal(t, owner.EntityID(), w.modifiedBy, "изменение подписано владельцем скрипта")

	_, err := ctx.Eval(`world.material({1, 2}, "middle")`)
	assert.Error(t, err, "неизвестный слой")
}

func TestMessagePromises(t *testing.T) {
	w, ctx, _ := setup(t)
	rets := eval(t, ctx, `
		local h = world.sendEntityMessage("boss", "ping", 1, 2)
		local finished, ok, result = world.messageStatus(h)
		local h2 = entity.sendMessage(5, "later")
		local f2 = world.messageStatus(h2)
		return finished, ok, result, f2`)
	require.Len(t, rets, 4)
	assert.Equal(t, lua.LTrue, rets[0])
	assert.Equal(t, lua.LTrue, rets[1])
	assert.Equal(t, lua.LString("pong"), rets[2])
	assert.Equal(t, lua.LFalse, rets[3], "незавершённое обещание")
	require.Len(t, w.messages, 2)
	assert.Equal(t, "later", w.messages[1][len(w.messages[1])-5:])
}

func TestPropertiesAndItems(t *testing.T) {
	w, ctx, _ := setup(t)
	rets := eval(t, ctx, `
		world.setProperty("bossDefeated", true)
		return world.getProperty("bossDefeated"), world.getProperty("missing", "fallback")`)
	assert.Equal(t, lua.LTrue, rets[0])
	assert.Equal(t, lua.LString("fallback"), rets[1])
	assert.Equal(t, true, w.props["bossDefeated"])

	rets = eval(t, ctx, `return world.spawnItem("coin", {1, 1}, 5)`)
	id := entity.EntityID(rets[0].(lua.LNumber))
	drop, ok := w.Entity(id).(*entity.ItemDrop)
	require.True(t, ok)
	assert.Equal(t, "coin", drop.Item().Name)
	assert.Equal(t, uint64(5), drop.Item().Count)
}

func TestAnimatorCallbacks(t *testing.T) {
	engine := luaengine.NewEngine(luaengine.DefaultConfig())
	t.Cleanup(engine.Close)
	ctx := engine.NewContext("animator")
	anim := entity.NewAnimator(map[string]string{"door": "closed"})
	ctx.SetCallbacks("animator", AnimatorCallbacks(anim))

	rets := eval(t, ctx, `
		local before = animator.animationState("door")
		animator.setAnimationState("door", "open")
		animator.setGlobalTag("color", "red")
		return before, animator.tag("color")`)
	assert.Equal(t, lua.LString("closed"), rets[0])
	assert.Equal(t, lua.LString("red"), rets[1])
	assert.Equal(t, "open", anim.State("door"))
}

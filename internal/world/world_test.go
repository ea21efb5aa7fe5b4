package world

import (
	"testing"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorld(t *testing.T) *TileWorld {
	t.Helper()
	w := NewTileWorld(1000, 500, tile.DefaultRegistry())
	w.BeginTick(1, 0)
	return w
}

func material(t *testing.T, w *TileWorld, name string) tile.MaterialID {
	t.Helper()
	id, ok := w.Registry().MaterialByName(name)
	require.True(t, ok, "материал %s должен быть в реестре", name)
	return id
}

func place(pos vec.Vec2, layer tile.Layer, m tile.MaterialID) tile.PositionedModification {
	return tile.PositionedModification{Pos: pos, Mod: tile.PlaceMaterial{Layer: layer, Material: m}}
}

type occupiedCells map[vec.Vec2]bool

func (o occupiedCells) TileOccupied(pos vec.Vec2) bool { return o[pos] }

func TestPlaceThenBreak(t *testing.T) {
	w := newTestWorld(t)
	dirt := material(t, w, "dirt")
	pos := vec.V2(10, 20)

	failed := w.ModifyTiles(tile.ModificationList{place(pos, tile.Foreground, dirt)}, false, ModifyContext{})
	assert.Empty(t, failed, "установка в пустую клетку должна пройти")
	assert.Equal(t, dirt, w.Tile(pos).Foreground.Material)
	assert.Equal(t, tile.CollisionBlock, w.Tile(pos).Collision)

	w.BeginTick(2, 1.0/60)
	results := w.DamageTiles([]vec.Vec2{pos}, tile.Foreground, vec.V2F(10, 22),
		tile.Damage{Type: tile.DamagePlantish, Amount: 10}, 1, false)
	require.Len(t, results, 1)
	assert.True(t, results[0].Status.Broken, "урон равный прочности разрушает тайл")
	assert.Equal(t, dirt, results[0].Material)
	assert.Equal(t, tile.EmptyMaterial, w.Tile(pos).Foreground.Material)
	assert.Equal(t, tile.CollisionNone, w.Tile(pos).Collision)
	assert.Equal(t, 0, w.DamagedCount())
}

func TestProtectedDungeonRejection(t *testing.T) {
	w := newTestWorld(t)
	pos := vec.V2(30, 40)
	protected := tile.EmptyTile()
	protected.DungeonID = 100
	w.SetTileDirect(pos, protected)
	w.SetProtected(100, true)

	chunk := w.Grid().Chunk(w.Grid().ChunkCoordsOf(pos))
	before := chunk.Version()

	list := tile.ModificationList{place(pos, tile.Foreground, material(t, w, "dirt"))}
	failed := w.ModifyTiles(list, false, ModifyContext{})
	assert.Equal(t, list, failed, "изменение в защищённой зоне отклоняется")
	assert.Equal(t, before, chunk.Version(), "сетка не должна измениться")
	assert.Equal(t, tile.EmptyMaterial, w.Tile(pos).Foreground.Material)

	failed = w.ModifyTiles(list, false, ModifyContext{Privileged: true})
	assert.Empty(t, failed, "привилегированный запрос проходит")
}

func TestModifyIsAllOrNothingPerIntent(t *testing.T) {
	w := newTestWorld(t)
	dirt := material(t, w, "dirt")
	good := place(vec.V2(5, 5), tile.Foreground, dirt)
	bad := place(vec.V2(6, 5), tile.Foreground, tile.MaterialID(4000))
	outside := place(vec.V2(7, 900), tile.Foreground, dirt)

	failed := w.ModifyTiles(tile.ModificationList{bad, good, outside}, false, ModifyContext{})
	assert.Equal(t, tile.ModificationList{bad, outside}, failed, "отклонённые возвращаются во входном порядке")
	assert.Equal(t, dirt, w.Tile(vec.V2(5, 5)).Foreground.Material)
	assert.Equal(t, tile.EmptyTile(), w.Tile(vec.V2(6, 5)))
}

func TestConnectorContinuityAcrossPasses(t *testing.T) {
	w := newTestWorld(t)
	stone := material(t, w, "stone")

	ground := tile.EmptyTile()
	ground.Foreground.Material = stone
	w.SetTileDirect(vec.V2(100, 99), ground)

	// первое изменение опирается на второе, которое стоит позже в пакете
	list := tile.ModificationList{
		place(vec.V2(100, 101), tile.Foreground, stone),
		place(vec.V2(100, 100), tile.Foreground, stone),
	}
	assert.Empty(t, w.ModifyTiles(list, false, ModifyContext{}))
	assert.Equal(t, stone, w.Tile(vec.V2(100, 101)).Foreground.Material)

	floating := tile.ModificationList{place(vec.V2(300, 300), tile.Foreground, stone)}
	assert.Equal(t, floating, w.ModifyTiles(floating, false, ModifyContext{}), "висящий в воздухе камень не ставится")
}

func TestFallingMaterialStacking(t *testing.T) {
	w := newTestWorld(t)
	sand := material(t, w, "sand")
	ground := tile.EmptyTile()
	ground.Foreground.Material = material(t, w, "stone")
	w.SetTileDirect(vec.V2(200, 9), ground)

	list := tile.ModificationList{
		place(vec.V2(200, 10), tile.Foreground, sand),
		place(vec.V2(200, 12), tile.Foreground, sand),
		place(vec.V2(200, 11), tile.Foreground, sand),
	}
	assert.Empty(t, w.ModifyTiles(list, false, ModifyContext{}))
	for y := int32(10); y <= 12; y++ {
		assert.Equal(t, sand, w.Tile(vec.V2(200, y)).Foreground.Material)
	}

	order := w.modificationOrder(list)
	assert.Equal(t, []int{1, 2, 0}, order, "падающие материалы идут по убыванию y")
}

func TestEntityOverlap(t *testing.T) {
	w := newTestWorld(t)
	dirt := material(t, w, "dirt")
	pos := vec.V2(40, 40)
	ctx := ModifyContext{Occupancy: occupiedCells{pos: true}}
	list := tile.ModificationList{place(pos, tile.Foreground, dirt)}

	assert.Equal(t, list, w.ModifyTiles(list, false, ctx))
	assert.Empty(t, w.ModifyTiles(list, true, ctx), "с allowEntityOverlap клетку можно занять")
}

func TestPlaceModAndColor(t *testing.T) {
	w := newTestWorld(t)
	dirt := material(t, w, "dirt")
	grass, _ := w.Registry().ModByName("grass")
	pos := vec.V2(60, 60)

	list := tile.ModificationList{
		{Pos: pos, Mod: tile.PlaceMod{Layer: tile.Foreground, Mod: grass}},
		place(pos, tile.Foreground, dirt),
		{Pos: pos, Mod: tile.PlaceMaterialColor{Layer: tile.Foreground, Color: 3}},
	}
	assert.Empty(t, w.ModifyTiles(list, false, ModifyContext{}))
	got := w.Tile(pos).Foreground
	assert.Equal(t, grass, got.Mod)
	assert.Equal(t, uint8(3), got.ColorVariant)
}

func TestStoneBreaksToCobblestone(t *testing.T) {
	w := newTestWorld(t)
	pos := vec.V2(70, 70)
	stoneTile := tile.EmptyTile()
	stoneTile.Foreground.Material = material(t, w, "stone")
	w.SetTileDirect(pos, stoneTile)

	res := w.DamageTiles([]vec.Vec2{pos}, tile.Foreground, pos.Center(), tile.Damage{Type: tile.DamageBlockish, Amount: 15}, 0, false)
	require.Len(t, res, 1)
	assert.False(t, res[0].Status.Broken)
	assert.InDelta(t, 50, res[0].Status.Percentage, 0.01)

	res = w.DamageTiles([]vec.Vec2{pos}, tile.Foreground, pos.Center(), tile.Damage{Type: tile.DamageBlockish, Amount: 15}, 0, false)
	require.Len(t, res, 1)
	assert.True(t, res[0].Status.Broken)
	assert.Equal(t, material(t, w, "cobblestone"), w.Tile(pos).Foreground.Material)
}

func TestDamageRecovery(t *testing.T) {
	w := newTestWorld(t)
	pos := vec.V2(80, 80)
	dirtTile := tile.EmptyTile()
	dirtTile.Foreground.Material = material(t, w, "dirt")
	w.SetTileDirect(pos, dirtTile)

	w.DamageTiles([]vec.Vec2{pos}, tile.Foreground, pos.Center(), tile.Damage{Type: tile.DamagePlantish, Amount: 5}, 0, false)
	assert.InDelta(t, 50, w.DamageStatus(pos, tile.Foreground).Percentage, 0.01)

	w.BeginTick(2, 1)
	assert.Empty(t, w.Simulate(1).Damage, "до задержки восстановления урон держится")
	assert.Equal(t, 1, w.DamagedCount())

	w.BeginTick(3, 3)
	healed := w.Simulate(1).Damage
	require.Len(t, healed, 1)
	assert.True(t, healed[0].Status.Healthy())
	assert.Equal(t, 0, w.DamagedCount())
	assert.Equal(t, tile.DamageStatus{}, w.DamageStatus(pos, tile.Foreground))
}

func TestReplaceTiles(t *testing.T) {
	w := newTestWorld(t)
	dirt := material(t, w, "dirt")
	brick := material(t, w, "brick")
	pos := vec.V2(90, 90)
	w.ModifyTiles(tile.ModificationList{place(pos, tile.Foreground, dirt)}, false, ModifyContext{})

	weak := tile.Damage{Type: tile.DamageBlockish, Amount: 1}
	failed, results := w.ReplaceTiles([]TileReplacement{{Pos: pos, Layer: tile.Foreground, Material: brick}}, weak, true, ModifyContext{})
	assert.Len(t, failed, 1, "слабый урон не разрушает материал, замены нет")
	require.Len(t, results, 1)
	assert.Equal(t, dirt, w.Tile(pos).Foreground.Material)

	failed, _ = w.ReplaceTiles([]TileReplacement{{Pos: pos, Layer: tile.Foreground, Material: brick}}, weak, false, ModifyContext{})
	assert.Empty(t, failed)
	assert.Equal(t, brick, w.Tile(pos).Foreground.Material)
}

func TestChunkVersionMonotonic(t *testing.T) {
	w := newTestWorld(t)
	dirt := material(t, w, "dirt")
	pos := vec.V2(12, 12)
	chunk := w.Grid().Chunk(w.Grid().ChunkCoordsOf(pos))

	last := chunk.Version()
	for i := int32(0); i < 5; i++ {
		w.BeginTick(uint64(i+2), float64(i))
		w.ModifyTiles(tile.ModificationList{place(pos.Add(vec.V2(i, 0)), tile.Foreground, dirt)}, false, ModifyContext{})
		v := chunk.Version()
		assert.Greater(t, v, last, "версия чанка строго растёт")
		last = v
	}
}

func buildBasin(t *testing.T, w *TileWorld, left, right, floor, top int32) {
	t.Helper()
	stone := tile.EmptyTile()
	stone.Foreground.Material = material(t, w, "stone")
	for x := left; x <= right; x++ {
		w.SetTileDirect(vec.V2(x, floor), stone)
	}
	for y := floor + 1; y <= top; y++ {
		w.SetTileDirect(vec.V2(left, y), stone)
		w.SetTileDirect(vec.V2(right, y), stone)
	}
}

func TestLiquidConservation(t *testing.T) {
	w := newTestWorld(t)
	water, _ := w.Registry().LiquidByName("water")
	buildBasin(t, w, 0, 20, 9, 16)

	placed := w.PlaceLiquid([]vec.Vec2{vec.V2(10, 14), vec.V2(10, 13), vec.V2(11, 14)}, water, 1)
	require.Equal(t, 3, placed)
	before := w.Liquids().Total(water)
	assert.InDelta(t, 3.0, before, 1e-6)

	for i := 0; i < 300; i++ {
		w.BeginTick(uint64(i+2), float64(i)/60)
		w.Simulate(1.0 / 60)
	}
	after := w.Liquids().Total(water)
	assert.InDelta(t, before, after, 1e-3, "объём жидкости сохраняется")
	assert.LessOrEqual(t, after, before+1e-6, "жидкости не становится больше")
	assert.False(t, w.LiquidAt(vec.V2(5, 10)).IsEmpty(), "вода растекается по дну")
	assert.True(t, w.LiquidAt(vec.V2(10, 14)).IsEmpty() || w.LiquidAt(vec.V2(10, 14)).Level < 1)
}

func TestSolidPlacementDisplacesLiquid(t *testing.T) {
	w := newTestWorld(t)
	water, _ := w.Registry().LiquidByName("water")
	pos := vec.V2(50, 50)
	w.PlaceLiquid([]vec.Vec2{pos}, water, 1)

	failed := w.ModifyTiles(tile.ModificationList{place(pos, tile.Foreground, material(t, w, "dirt"))}, false, ModifyContext{})
	assert.Empty(t, failed)
	assert.True(t, w.LiquidAt(pos).IsEmpty(), "в твёрдой клетке нет жидкости")
	assert.InDelta(t, 1.0, w.Liquids().Total(water), 1e-6, "жидкость вытеснена к соседям")
}

func TestCollectLiquid(t *testing.T) {
	w := newTestWorld(t)
	water, _ := w.Registry().LiquidByName("water")
	cells := []vec.Vec2{vec.V2(20, 30), vec.V2(21, 30)}
	w.PlaceLiquid(cells, water, 0.5)

	assert.InDelta(t, 1.0, w.CollectLiquid(cells, water, false), 1e-6)
	assert.InDelta(t, 0, w.Liquids().Total(water), 1e-6)
}

func TestTileUpdateTracker(t *testing.T) {
	w := newTestWorld(t)
	tracker := NewTileUpdateTracker()
	window := vec.NewRectI(0, 0, 64, 64)

	batch := tracker.Collect(w.Grid(), window, 1)
	assert.Len(t, batch.Arrays, 4, "первый раз окно отправляется чанками целиком")
	assert.Empty(t, batch.Tiles)
	assert.Equal(t, 4, tracker.SentChunks())

	assert.True(t, tracker.Collect(w.Grid(), window, 1).IsEmpty(), "без изменений отправлять нечего")

	w.BeginTick(2, 0.1)
	pos := vec.V2(10, 20)
	w.ModifyTiles(tile.ModificationList{place(pos, tile.Foreground, material(t, w, "dirt"))}, false, ModifyContext{})
	batch = tracker.Collect(w.Grid(), window, 2)
	require.Len(t, batch.Tiles, 1)
	assert.Equal(t, pos, batch.Tiles[0].Pos)
	assert.Equal(t, material(t, w, "dirt"), batch.Tiles[0].Tile.Foreground.Material)

	w.BeginTick(3, 0.2)
	water, _ := w.Registry().LiquidByName("water")
	w.PlaceLiquid([]vec.Vec2{vec.V2(30, 30)}, water, 0.5)
	batch = tracker.Collect(w.Grid(), window, 3)
	require.Len(t, batch.Liquids, 1)
	assert.Equal(t, vec.V2(30, 30), batch.Liquids[0].Pos)

	tracker.Reset()
	assert.Len(t, tracker.Collect(w.Grid(), window, 3).Arrays, 4, "после сброса окно отправляется заново")
}

func TestTrackerWindowWraps(t *testing.T) {
	w := NewTileWorld(128, 64, tile.DefaultRegistry())
	tracker := NewTileUpdateTracker()
	batch := tracker.Collect(w.Grid(), vec.NewRectI(-16, 0, 32, 32), 0)
	require.Len(t, batch.Arrays, 2)
	xs := []int32{batch.Arrays[0].Min.X, batch.Arrays[1].Min.X}
	assert.ElementsMatch(t, []int32{0, 96}, xs)
}

func TestGridApplyArray(t *testing.T) {
	src := newTestWorld(t)
	src.ModifyTiles(tile.ModificationList{place(vec.V2(3, 4), tile.Foreground, material(t, src, "dirt"))}, false, ModifyContext{})
	batch := NewTileUpdateTracker().Collect(src.Grid(), vec.NewRectI(0, 0, 8, 8), 1)
	require.Len(t, batch.Arrays, 1)

	dst := NewTileGrid(1000, 500)
	dst.ApplyArray(batch.Arrays[0], 1)
	assert.Equal(t, src.Tile(vec.V2(3, 4)), dst.Tile(vec.V2(3, 4)))
}

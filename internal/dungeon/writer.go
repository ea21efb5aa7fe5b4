package dungeon

import (
	"errors"
	"fmt"
	"sort"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Facade мир, в который пишет подземелье. Реализуется сервером мира и
// тестовыми заглушками.
type Facade interface {
	Geometry() vec.Geometry
	Registry() *tile.Registry
	Tile(pos vec.Vec2) tile.Tile
	SetTile(pos vec.Vec2, t tile.Tile)
	SetLiquid(pos vec.Vec2, l tile.LiquidState)

	PlaceObject(pos vec.Vec2, name string, direction int, params map[string]interface{}) error
	PlaceVehicle(pos vec.Vec2F, name string, params map[string]interface{}) error
	PlaceBiomeTree(pos vec.Vec2) error
	PlaceBiomeItems(pos vec.Vec2) error
	SpawnItem(pos vec.Vec2F, item entity.ItemDescriptor) error
	SpawnNpc(pos vec.Vec2F, npc NpcBrush) error
	SpawnStagehand(pos vec.Vec2F, typ string, params map[string]interface{}) error
	ConnectWire(output, input entity.WireConnection) error
	SetPlayerStart(pos vec.Vec2F)
	// SetDungeonProperties вызывается один раз после записи подземелья
	SetDungeonProperties(id tile.DungeonID, protected bool, breathable *bool)
}

type pendingLiquid struct {
	id     tile.LiquidID
	source bool
}

type wireEnd struct {
	pos  vec.Vec2
	node int
}

type wireGroup struct {
	outputs []wireEnd
	inputs  []wireEnd
}

// WriteStats что записано во время Flush
type WriteStats struct {
	Tiles         int
	LiquidCells   int
	LiquidRegions int
	Entities      int
	Wires         int
	Failed        int
}

// Writer буфер записи подземелья. Кисти пишут в наложение поверх мира,
// Flush переносит его в Facade одним проходом.
type Writer struct {
	facade   Facade
	registry *tile.Registry
	geometry vec.Geometry

	dungeonID tile.DungeonID
	gravity   *float32

	tiles     map[vec.Vec2]tile.Tile
	liquids   map[vec.Vec2]pendingLiquid
	reserved  map[vec.Vec2]bool
	partSolid map[vec.Vec2]bool
	surface   []vec.Vec2
	wires     map[string]*wireGroup

	ops  []func(Facade) error
	errs []error
}

// NewWriter буфер для подземелья с меткой id
func NewWriter(f Facade, id tile.DungeonID, gravity *float32) *Writer {
	return &Writer{
		facade:    f,
		registry:  f.Registry(),
		geometry:  f.Geometry(),
		dungeonID: id,
		gravity:   gravity,
		tiles:     make(map[vec.Vec2]tile.Tile),
		liquids:   make(map[vec.Vec2]pendingLiquid),
		reserved:  make(map[vec.Vec2]bool),
		partSolid: make(map[vec.Vec2]bool),
		wires:     make(map[string]*wireGroup),
	}
}

// Err ошибки кистей: неизвестные материалы, модификации, жидкости
func (w *Writer) Err() error { return errors.Join(w.errs...) }

func (w *Writer) fail(format string, args ...interface{}) {
	w.errs = append(w.errs, fmt.Errorf(format, args...))
}

func (w *Writer) wrap(pos vec.Vec2) (vec.Vec2, bool) {
	pos = w.geometry.Wrap(pos)
	return pos, w.geometry.InBounds(pos)
}

// current клетка с учётом наложения
func (w *Writer) current(pos vec.Vec2) tile.Tile {
	if t, ok := w.tiles[pos]; ok {
		return t
	}
	return w.facade.Tile(pos)
}

func (w *Writer) update(pos vec.Vec2, fn func(t *tile.Tile)) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	t := w.current(pos)
	fn(&t)
	w.tiles[pos] = t
}

// Reserved клетка занята ранее размещённой частью
func (w *Writer) Reserved(pos vec.Vec2) bool {
	pos, _ = w.wrap(pos)
	return w.reserved[pos]
}

// Reserve занимает клетки части, размещённой в pos
func (w *Writer) Reserve(p *Part, pos vec.Vec2) {
	for _, cell := range p.Occupied(pos) {
		cell, _ = w.wrap(cell)
		w.reserved[cell] = true
	}
	for _, t := range p.Tiles {
		for _, b := range t.Brushes {
			mb, ok := b.(MaterialBrush)
			if !ok || mb.Layer != tile.Foreground {
				continue
			}
			if id, ok := w.registry.MaterialByName(mb.Material); ok && w.registry.IsSolid(id) {
				cell, _ := w.wrap(pos.Add(t.Offset))
				w.partSolid[cell] = true
			}
		}
	}
}

// WorldSolid клетка мира твёрдая без учёта частей
func (w *Writer) WorldSolid(pos vec.Vec2) bool {
	pos, ok := w.wrap(pos)
	if !ok {
		return false
	}
	return w.registry.IsSolid(w.facade.Tile(pos).Foreground.Material)
}

// IsSolid твёрдая в мире или в уже размещённой части
func (w *Writer) IsSolid(pos vec.Vec2) bool {
	p, ok := w.wrap(pos)
	if !ok {
		return false
	}
	if w.partSolid[p] {
		return true
	}
	return w.registry.IsSolid(w.current(p).Foreground.Material)
}

// IsOpen воздух без жидкости и не занятый твёрдым материалом части
func (w *Writer) IsOpen(pos vec.Vec2) bool {
	p, ok := w.wrap(pos)
	if !ok || w.partSolid[p] {
		return false
	}
	t := w.current(p)
	return t.Foreground.Material == tile.EmptyMaterial && t.Liquid.IsEmpty()
}

// HasLiquid в клетке мира есть жидкость
func (w *Writer) HasLiquid(pos vec.Vec2) bool {
	p, ok := w.wrap(pos)
	if !ok {
		return false
	}
	if _, pending := w.liquids[p]; pending {
		return true
	}
	return !w.current(p).Liquid.IsEmpty()
}

// Clear пустая клетка без жидкости
func (w *Writer) Clear(pos vec.Vec2) {
	w.update(pos, func(t *tile.Tile) {
		id, grav := t.DungeonID, t.GravityMultiplier
		*t = tile.EmptyTile()
		t.DungeonID, t.GravityMultiplier = id, grav
	})
	if p, ok := w.wrap(pos); ok {
		delete(w.liquids, p)
	}
}

// SetMaterial материал слоя по имени
func (w *Writer) SetMaterial(pos vec.Vec2, layer tile.Layer, name string, hue, variant uint8) {
	id, ok := w.registry.MaterialByName(name)
	if !ok {
		w.fail("неизвестный материал %q", name)
		return
	}
	w.update(pos, func(t *tile.Tile) {
		ls := t.Layer(layer)
		ls.Material = id
		ls.Mod = tile.NoMod
		ls.HueShift = hue
		ls.ColorVariant = variant
	})
}

// SetMod модификация слоя по имени
func (w *Writer) SetMod(pos vec.Vec2, layer tile.Layer, name string) {
	id, ok := w.registry.ModByName(name)
	if !ok {
		w.fail("неизвестная модификация %q", name)
		return
	}
	w.update(pos, func(t *tile.Tile) { t.Layer(layer).Mod = id })
}

// RequestLiquid жидкость, давление которой будет рассчитано в Flush
func (w *Writer) RequestLiquid(pos vec.Vec2, name string, source bool) {
	id, ok := w.registry.LiquidByName(name)
	if !ok {
		w.fail("неизвестная жидкость %q", name)
		return
	}
	if p, ok := w.wrap(pos); ok {
		w.liquids[p] = pendingLiquid{id: id, source: source}
	}
}

// SetDungeonID метка клетки; вместе с ней пишется гравитация подземелья
func (w *Writer) SetDungeonID(pos vec.Vec2, id tile.DungeonID) {
	w.update(pos, func(t *tile.Tile) {
		t.DungeonID = id
		if w.gravity != nil {
			t.GravityMultiplier = *w.gravity
		}
	})
}

// TagDungeon метка подземелья по умолчанию для клеток
func (w *Writer) TagDungeon(cells []vec.Vec2) {
	for _, c := range cells {
		w.SetDungeonID(c, w.dungeonID)
	}
}

// MarkSurface клетка поверхности подземелья
func (w *Writer) MarkSurface(pos vec.Vec2) {
	if p, ok := w.wrap(pos); ok {
		w.surface = append(w.surface, p)
	}
}

func (w *Writer) queue(op func(Facade) error) { w.ops = append(w.ops, op) }

func (w *Writer) PlaceObject(pos vec.Vec2, name string, direction int, params map[string]interface{}) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error { return f.PlaceObject(pos, name, direction, params) })
}

func (w *Writer) PlaceVehicle(pos vec.Vec2, name string, params map[string]interface{}) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error { return f.PlaceVehicle(pos.Center(), name, params) })
}

func (w *Writer) PlaceBiomeTree(pos vec.Vec2) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error { return f.PlaceBiomeTree(pos) })
}

func (w *Writer) PlaceBiomeItems(pos vec.Vec2) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error { return f.PlaceBiomeItems(pos) })
}

func (w *Writer) SpawnItem(pos vec.Vec2, item entity.ItemDescriptor) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error { return f.SpawnItem(pos.Center(), item) })
}

func (w *Writer) SpawnNpc(pos vec.Vec2, npc NpcBrush) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error { return f.SpawnNpc(pos.Center(), npc) })
}

func (w *Writer) SpawnStagehand(pos vec.Vec2, typ string, params map[string]interface{}) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error { return f.SpawnStagehand(pos.Center(), typ, params) })
}

func (w *Writer) SetPlayerStart(pos vec.Vec2) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	w.queue(func(f Facade) error {
		f.SetPlayerStart(pos.Center())
		return nil
	})
}

// RequestWire узел группы; соединения ставятся в конце фазы проводов
func (w *Writer) RequestWire(pos vec.Vec2, group string, input bool, node int) {
	pos, ok := w.wrap(pos)
	if !ok {
		return
	}
	g, ok := w.wires[group]
	if !ok {
		g = &wireGroup{}
		w.wires[group] = g
	}
	end := wireEnd{pos: pos, node: node}
	if input {
		g.inputs = append(g.inputs, end)
	} else {
		g.outputs = append(g.outputs, end)
	}
}

// FinishPhase завершает фазу; после проводов ставятся соединения групп
func (w *Writer) FinishPhase(p Phase) {
	if p != PhaseWire || len(w.wires) == 0 {
		return
	}
	names := make([]string, 0, len(w.wires))
	for n := range w.wires {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		g := w.wires[n]
		for _, out := range g.outputs {
			for _, in := range g.inputs {
				output := entity.WireConnection{EntityLocation: out.pos, NodeIndex: out.node}
				input := entity.WireConnection{EntityLocation: in.pos, NodeIndex: in.node}
				w.queue(func(f Facade) error { return f.ConnectWire(output, input) })
			}
		}
	}
	w.wires = make(map[string]*wireGroup)
}

// ExtendSurface расчищает n клеток над каждой клеткой поверхности, не занятой частями
func (w *Writer) ExtendSurface(n int32) {
	for _, s := range w.surface {
		for dy := int32(1); dy <= n; dy++ {
			p, ok := w.wrap(s.Add(vec.V2(0, dy)))
			if !ok || w.reserved[p] {
				continue
			}
			w.update(p, func(t *tile.Tile) {
				t.Foreground.Material = tile.EmptyMaterial
				t.Foreground.Mod = tile.NoMod
				t.Liquid = tile.LiquidState{}
			})
		}
	}
}

// Flush записывает тайлы, жидкости с давлением и сущности в Facade.
// Ошибки сущностей не прерывают запись и учитываются в Failed.
func (w *Writer) Flush() WriteStats {
	var stats WriteStats

	cells := make([]vec.Vec2, 0, len(w.tiles))
	for p := range w.tiles {
		cells = append(cells, p)
	}
	sortCells(cells)
	for _, p := range cells {
		t := w.tiles[p]
		if _, pending := w.liquids[p]; pending {
			t.Liquid = tile.LiquidState{}
		}
		w.facade.SetTile(p, t)
	}
	stats.Tiles = len(cells)

	for _, region := range w.liquidRegions() {
		stats.LiquidRegions++
		maxY := region[0].Y
		for _, p := range region {
			if p.Y > maxY {
				maxY = p.Y
			}
		}
		for _, p := range region {
			l := w.liquids[p]
			w.facade.SetLiquid(p, tile.LiquidState{
				Liquid:   l.id,
				Level:    1,
				Pressure: float32(1 + maxY - p.Y),
				Source:   l.source,
			})
			stats.LiquidCells++
		}
	}

	for _, op := range w.ops {
		if err := op(w.facade); err != nil {
			stats.Failed++
			continue
		}
		stats.Entities++
	}

	w.tiles = make(map[vec.Vec2]tile.Tile)
	w.liquids = make(map[vec.Vec2]pendingLiquid)
	w.ops = nil
	return stats
}

// liquidRegions связные по четырём соседям области одной жидкости.
// Клетки с твёрдым передним материалом жидкость не держат и пропускаются.
func (w *Writer) liquidRegions() [][]vec.Vec2 {
	cells := make([]vec.Vec2, 0, len(w.liquids))
	for p := range w.liquids {
		if w.registry.IsSolid(w.current(p).Foreground.Material) {
			delete(w.liquids, p)
			continue
		}
		cells = append(cells, p)
	}
	sortCells(cells)

	seen := make(map[vec.Vec2]bool, len(cells))
	var regions [][]vec.Vec2
	for _, start := range cells {
		if seen[start] {
			continue
		}
		id := w.liquids[start].id
		region := []vec.Vec2{start}
		seen[start] = true
		for i := 0; i < len(region); i++ {
			for _, d := range []vec.Vec2{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
				n, ok := w.wrap(region[i].Add(d))
				if !ok || seen[n] {
					continue
				}
				if l, ok := w.liquids[n]; ok && l.id == id {
					seen[n] = true
					region = append(region, n)
				}
			}
		}
		sortCells(region)
		regions = append(regions, region)
	}
	return regions
}

// sortCells сверху вниз, слева направо
func sortCells(cells []vec.Vec2) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y > cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
}

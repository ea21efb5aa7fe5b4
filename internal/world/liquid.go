package world

import (
	"sort"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

const (
	// минимальный объём бокового перетока за шаг
	liquidMinFlow float32 = 0.01
	// сколько клеток вверх учитывается при расчёте давления
	liquidPressureScan = 64
	defaultLiquidFlow  = 0.5
)

var liquidNeighbors = [...]vec.Vec2{{X: 0, Y: 1}, {X: -1}, {X: 1}, {X: 0, Y: -1}}

// LiquidEngine клеточная симуляция жидкостей.
// Обрабатывает только «разбуженные» клетки; общий объём жидкости сохраняется,
// кроме клеток-источников.
type LiquidEngine struct {
	world  *TileWorld
	active map[vec.Vec2]struct{}
}

func newLiquidEngine(w *TileWorld) *LiquidEngine {
	return &LiquidEngine{world: w, active: make(map[vec.Vec2]struct{})}
}

// Wake помечает клетку и её соседей для обработки на следующем шаге
func (e *LiquidEngine) Wake(pos vec.Vec2) {
	g := e.world.grid
	if g.InBounds(pos) {
		e.active[g.geometry.Wrap(pos)] = struct{}{}
	}
	for _, d := range liquidNeighbors {
		n := pos.Add(d)
		if g.InBounds(n) {
			e.active[g.geometry.Wrap(n)] = struct{}{}
		}
	}
}

// ActiveCount число клеток, ожидающих обработки
func (e *LiquidEngine) ActiveCount() int { return len(e.active) }

func (e *LiquidEngine) flowRate(id tile.LiquidID) float32 {
	if def, ok := e.world.registry.Liquid(id); ok && def.Flow > 0 {
		if def.Flow > 1 {
			return 1
		}
		return def.Flow
	}
	return defaultLiquidFlow
}

// capacity сколько жидкости id ещё поместится в клетку
func (e *LiquidEngine) capacity(pos vec.Vec2, id tile.LiquidID) float32 {
	if !e.world.grid.InBounds(pos) {
		return 0
	}
	t := e.world.grid.Tile(pos)
	if t.Collision.IsSolid() {
		return 0
	}
	if t.Liquid.IsEmpty() {
		return 1
	}
	if t.Liquid.Liquid != id || t.Liquid.Level >= 1 {
		return 0
	}
	return 1 - t.Liquid.Level
}

func (e *LiquidEngine) set(pos vec.Vec2, l tile.LiquidState, changed map[vec.Vec2]struct{}) {
	pos = e.world.grid.geometry.Wrap(pos)
	e.world.grid.SetLiquid(pos, l, e.world.tick)
	if changed != nil {
		changed[pos] = struct{}{}
	}
}

// Add добавляет жидкость в клетку; возвращает фактически добавленный объём
func (e *LiquidEngine) Add(pos vec.Vec2, id tile.LiquidID, level float32) float32 {
	space := e.capacity(pos, id)
	if space <= 0 || level <= 0 {
		return 0
	}
	if level > space {
		level = space
	}
	cur := e.world.grid.Tile(pos).Liquid
	next := tile.LiquidState{Liquid: id, Level: level, Pressure: cur.Pressure, Source: cur.Source}
	if !cur.IsEmpty() {
		next.Level += cur.Level
	}
	e.set(pos, next, nil)
	e.Wake(pos)
	return level
}

// displace выталкивает жидкость из клетки, в которую ставится твёрдый материал
func (e *LiquidEngine) displace(pos vec.Vec2, l tile.LiquidState) {
	remaining := l.Level
	for _, d := range liquidNeighbors {
		if remaining <= 0 {
			break
		}
		remaining -= e.Add(pos.Add(d), l.Liquid, remaining)
	}
	if remaining > liquidMinFlow {
		e.world.logger.Debug("Вытеснение жидкости в %v: потеряно %.2f", pos, remaining)
	}
}

// Tick один шаг течения. Возвращает изменившиеся клетки.
func (e *LiquidEngine) Tick() []vec.Vec2 {
	if len(e.active) == 0 {
		return nil
	}
	cells := make([]vec.Vec2, 0, len(e.active))
	for p := range e.active {
		cells = append(cells, p)
	}
	e.active = make(map[vec.Vec2]struct{})
	// снизу вверх, чтобы нижние клетки освобождали место до прихода верхних
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})

	changed := make(map[vec.Vec2]struct{})
	for _, pos := range cells {
		e.flow(pos, changed)
	}
	if len(changed) == 0 {
		return nil
	}

	out := make([]vec.Vec2, 0, len(changed))
	for p := range changed {
		e.updatePressure(p)
		e.Wake(p)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (e *LiquidEngine) flow(pos vec.Vec2, changed map[vec.Vec2]struct{}) {
	g := e.world.grid
	cur := g.Tile(pos).Liquid
	if cur.IsEmpty() {
		return
	}
	level := cur.Level
	source := cur.Source

	// вниз
	below := pos.Add(vec.V2(0, -1))
	if space := e.capacity(below, cur.Liquid); space > 0 {
		move := level
		if move > space {
			move = space
		}
		e.transfer(below, cur.Liquid, move, changed)
		if !source {
			level -= move
		}
	}

	// в стороны
	rate := e.flowRate(cur.Liquid)
	for _, side := range [...]vec.Vec2{{X: -1}, {X: 1}} {
		if level <= liquidMinFlow {
			break
		}
		n := pos.Add(side)
		space := e.capacity(n, cur.Liquid)
		if space <= 0 {
			continue
		}
		nLevel := 1 - space
		if nLevel >= level {
			continue
		}
		move := (level - nLevel) / 2 * rate
		if move > space {
			move = space
		}
		if move < liquidMinFlow {
			continue
		}
		e.transfer(n, cur.Liquid, move, changed)
		if !source {
			level -= move
		}
	}

	if source {
		level = 1
	}
	if level != cur.Level {
		next := cur
		next.Level = level
		e.set(pos, next, changed)
	}
}

func (e *LiquidEngine) transfer(to vec.Vec2, id tile.LiquidID, amount float32, changed map[vec.Vec2]struct{}) {
	t := e.world.grid.Tile(to).Liquid
	next := tile.LiquidState{Liquid: id, Level: amount, Pressure: t.Pressure, Source: t.Source}
	if !t.IsEmpty() {
		next.Level += t.Level
	}
	e.set(to, next, changed)
}

// updatePressure давление: для полной клетки 1 + число полных клеток той же жидкости над ней
func (e *LiquidEngine) updatePressure(pos vec.Vec2) {
	g := e.world.grid
	cur := g.Tile(pos).Liquid
	if cur.IsEmpty() {
		return
	}
	pressure := cur.Level
	if cur.Level >= 1 {
		pressure = 1
		for i := int32(1); i <= liquidPressureScan; i++ {
			above := g.Tile(pos.Add(vec.V2(0, i))).Liquid
			if above.IsEmpty() || above.Liquid != cur.Liquid {
				break
			}
			pressure += above.Level
			if above.Level < 1 {
				break
			}
		}
	}
	if pressure != cur.Pressure {
		cur.Pressure = pressure
		g.SetLiquid(pos, cur, e.world.tick)
	}
}

// Total суммарный объём жидкости id в мире
func (e *LiquidEngine) Total(id tile.LiquidID) float64 {
	var total float64
	for _, c := range e.world.grid.Chunks() {
		s := c.Snapshot()
		for i := range s.Tiles {
			l := s.Tiles[i].Liquid
			if !l.IsEmpty() && l.Liquid == id {
				total += float64(l.Level)
			}
		}
	}
	return total
}

// PlaceLiquid добавляет жидкость в клетки без правил установки (генерация, скрипты)
func (w *TileWorld) PlaceLiquid(cells []vec.Vec2, id tile.LiquidID, level float32) int {
	placed := 0
	for _, p := range cells {
		if w.liquids.Add(p, id, level) > 0 {
			placed++
		}
	}
	return placed
}

// SetLiquidDirect записывает состояние жидкости как есть (подземелья задают давление сами)
func (w *TileWorld) SetLiquidDirect(pos vec.Vec2, l tile.LiquidState) {
	if w.grid.Tile(pos).Collision.IsSolid() {
		return
	}
	w.grid.SetLiquid(pos, l, w.tick)
	w.liquids.Wake(pos)
}

// CollectLiquid забирает жидкость id из клеток и возвращает собранный объём.
// Клетки-источники не опустошаются.
func (w *TileWorld) CollectLiquid(cells []vec.Vec2, id tile.LiquidID, privileged bool) float32 {
	var collected float32
	for _, p := range cells {
		if !w.grid.InBounds(p) {
			continue
		}
		t := w.grid.Tile(p)
		if t.DungeonID != tile.NoDungeonID && w.IsProtected(t.DungeonID) && !privileged {
			continue
		}
		if t.Liquid.IsEmpty() || t.Liquid.Liquid != id {
			continue
		}
		collected += t.Liquid.Level
		if t.Liquid.Source {
			continue
		}
		w.grid.SetLiquid(p, tile.LiquidState{}, w.tick)
		w.liquids.Wake(p)
	}
	return collected
}

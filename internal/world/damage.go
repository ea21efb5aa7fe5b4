package world

import (
	"sort"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// TileDamageResult итог удара по одной клетке
type TileDamageResult struct {
	Pos      vec.Vec2
	Layer    tile.Layer
	Status   tile.DamageStatus
	Material tile.MaterialID // материал до удара
	// Drop предмет, выпадающий при разрушении
	Drop string
}

type damageKey struct {
	pos   vec.Vec2
	layer tile.Layer
}

type damageEntry struct {
	material tile.MaterialID
	amount   float32
	lastHit  float64
	status   tile.DamageStatus
}

// damageTracker накопленный урон по клеткам
type damageTracker struct {
	cells map[damageKey]*damageEntry
}

func newDamageTracker() *damageTracker {
	return &damageTracker{cells: make(map[damageKey]*damageEntry)}
}

func (d *damageTracker) clear(pos vec.Vec2, layer tile.Layer) {
	delete(d.cells, damageKey{pos, layer})
}

// DamageStatus текущее состояние урона клетки
func (w *TileWorld) DamageStatus(pos vec.Vec2, layer tile.Layer) tile.DamageStatus {
	if e, ok := w.damage.cells[damageKey{w.Geometry().Wrap(pos), layer}]; ok {
		return e.status
	}
	return tile.DamageStatus{}
}

// DamageTiles наносит урон материалу слоя в каждой клетке.
// Клетки защищённых подземелий урон не получают, если запрос не привилегированный.
func (w *TileWorld) DamageTiles(positions []vec.Vec2, layer tile.Layer, sourcePos vec.Vec2F, damage tile.Damage, sourceEntity int32, privileged bool) []TileDamageResult {
	var results []TileDamageResult
	seen := make(map[vec.Vec2]bool, len(positions))
	for _, p := range positions {
		if !w.grid.InBounds(p) {
			continue
		}
		pos := w.Geometry().Wrap(p)
		if seen[pos] {
			continue
		}
		seen[pos] = true

		t := w.grid.Tile(pos)
		if t.DungeonID != tile.NoDungeonID && w.IsProtected(t.DungeonID) && !privileged {
			continue
		}
		if res, ok := w.damageCell(pos, layer, sourcePos, damage); ok {
			results = append(results, res)
		}
	}
	if len(results) > 0 {
		w.logger.Trace("Урон %s от сущности %d по %d клеткам", damage.Type, sourceEntity, len(results))
	}
	return results
}

// damageCell копит урон клетки и разрушает материал при достижении прочности
func (w *TileWorld) damageCell(pos vec.Vec2, layer tile.Layer, sourcePos vec.Vec2F, damage tile.Damage) (TileDamageResult, bool) {
	t := w.grid.Tile(pos)
	material := t.Material(layer)
	if material == tile.EmptyMaterial || material == tile.NullMaterial {
		return TileDamageResult{}, false
	}
	def, ok := w.registry.Material(material)
	if !ok {
		return TileDamageResult{}, false
	}

	key := damageKey{pos, layer}
	entry, ok := w.damage.cells[key]
	if !ok || entry.material != material {
		entry = &damageEntry{material: material}
		w.damage.cells[key] = entry
	}
	entry.amount += damage.Amount * def.DamageFactor(damage.Type)
	entry.lastHit = w.time

	percentage := float32(100)
	if def.Hardness > 0 {
		percentage = entry.amount / def.Hardness * 100
	}
	if percentage > 100 {
		percentage = 100
	}
	entry.status = tile.DamageStatus{
		Percentage:     percentage,
		SourcePosition: sourcePos,
		Type:           damage.Type,
	}

	res := TileDamageResult{Pos: pos, Layer: layer, Material: material}
	if percentage >= 100 && def.DamageFactor(damage.Type) > 0 {
		entry.status.Broken = true
		entry.status.Harvested = damage.Harvest > 0
		res.Drop = def.ItemDrop
		w.breakLayer(pos, layer, def)
		delete(w.damage.cells, key)
	}
	res.Status = entry.status
	return res, true
}

// breakLayer заменяет материал слоя на его остаток после разрушения
func (w *TileWorld) breakLayer(pos vec.Vec2, layer tile.Layer, def *tile.MaterialDef) {
	t := w.grid.Tile(pos)
	l := t.Layer(layer)
	l.Material = def.BreaksToMaterial()
	l.Mod = tile.NoMod
	l.ModHueShift = 0
	if l.Material == tile.EmptyMaterial {
		l.HueShift = 0
		l.ColorVariant = 0
	}
	w.writeTile(pos, t)
}

// recover восстанавливает клетки, по которым не били дольше задержки материала.
// Возвращает клетки, полностью восстановившиеся на этом шаге.
func (d *damageTracker) recover(w *TileWorld, dt float64) []TileDamageResult {
	if len(d.cells) == 0 {
		return nil
	}
	var healed []TileDamageResult
	for key, entry := range d.cells {
		if w.grid.Tile(key.pos).Material(key.layer) != entry.material {
			delete(d.cells, key)
			continue
		}
		def, ok := w.registry.Material(entry.material)
		if !ok {
			delete(d.cells, key)
			continue
		}
		entry.status.EffectTime += float32(dt)
		if w.time-entry.lastHit < float64(def.RecoveryDelay) {
			continue
		}
		rate := def.RecoveryRate
		if rate <= 0 {
			rate = def.Hardness
		}
		entry.amount -= rate * float32(dt)
		if entry.amount > 0 {
			if def.Hardness > 0 {
				entry.status.Percentage = entry.amount / def.Hardness * 100
			}
			continue
		}
		delete(d.cells, key)
		healed = append(healed, TileDamageResult{
			Pos:      key.pos,
			Layer:    key.layer,
			Material: entry.material,
			Status:   tile.DamageStatus{SourcePosition: entry.status.SourcePosition, Type: entry.status.Type},
		})
	}
	sort.Slice(healed, func(i, j int) bool {
		if healed[i].Pos != healed[j].Pos {
			return healed[i].Pos.Less(healed[j].Pos)
		}
		return healed[i].Layer < healed[j].Layer
	})
	return healed
}

// DamagedCount число клеток с накопленным уроном
func (w *TileWorld) DamagedCount() int {
	return len(w.damage.cells)
}

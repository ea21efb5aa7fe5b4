package world

import (
	"errors"
	"sort"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Причины отказа в изменении клетки
var (
	ErrOutOfBounds         = errors.New("клетка вне мира")
	ErrProtected           = errors.New("клетка в защищённом подземелье")
	ErrOccupied            = errors.New("клетку занимает тайловая сущность")
	ErrLayerOccupied       = errors.New("слой клетки уже занят")
	ErrLayerEmpty          = errors.New("в слое нет материала")
	ErrUnknownMaterial     = errors.New("неизвестный материал")
	ErrPlacementRule       = errors.New("не выполнено правило установки")
	ErrNoChange            = errors.New("изменение ничего не меняет")
	ErrLiquidMismatch      = errors.New("в клетке другая жидкость")
	ErrInvalidModification = errors.New("некорректное изменение")
)

// ModifyTiles применяет пакет изменений и возвращает отклонённые.
// Каждое изменение проверяется и применяется независимо; отклонённое не меняет сетку.
// Проходы повторяются, пока хоть одно изменение применяется, так что
// соседние изменения одного пакета могут обеспечить друг другу опору.
func (w *TileWorld) ModifyTiles(list tile.ModificationList, allowEntityOverlap bool, ctx ModifyContext) tile.ModificationList {
	if len(list) == 0 {
		return nil
	}
	order := w.modificationOrder(list)

	pending := order
	for len(pending) > 0 {
		var next []int
		for _, i := range pending {
			pm := list[i]
			if err := w.validateModification(pm, allowEntityOverlap, ctx); err != nil {
				next = append(next, i)
				continue
			}
			w.commitModification(pm)
		}
		if len(next) == len(pending) {
			pending = next
			break
		}
		pending = next
	}

	if len(pending) == 0 {
		return nil
	}
	sort.Ints(pending)
	failed := make(tile.ModificationList, 0, len(pending))
	for _, i := range pending {
		failed = append(failed, list[i])
	}
	w.logger.Debug("Отклонено %d из %d изменений тайлов", len(failed), len(list))
	return failed
}

// modificationOrder порядок обработки: входной, но падающие материалы
// переупорядочены между своими позициями по (y убыв., x возр.)
func (w *TileWorld) modificationOrder(list tile.ModificationList) []int {
	order := make([]int, len(list))
	var slots []int
	for i, pm := range list {
		order[i] = i
		if w.isFalling(pm.Mod) {
			slots = append(slots, i)
		}
	}
	if len(slots) > 1 {
		sorted := append([]int(nil), slots...)
		sort.SliceStable(sorted, func(a, b int) bool {
			return list[sorted[a]].Pos.Less(list[sorted[b]].Pos)
		})
		for k, slot := range slots {
			order[slot] = sorted[k]
		}
	}
	return order
}

func (w *TileWorld) isFalling(m tile.Modification) bool {
	pm, ok := m.(tile.PlaceMaterial)
	if !ok {
		return false
	}
	def, ok := w.registry.Material(pm.Material)
	return ok && def.Falling
}

// CanModifyTile проверяет одно изменение без применения
func (w *TileWorld) CanModifyTile(pm tile.PositionedModification, allowEntityOverlap bool, ctx ModifyContext) error {
	return w.validateModification(pm, allowEntityOverlap, ctx)
}

func (w *TileWorld) validateModification(pm tile.PositionedModification, allowEntityOverlap bool, ctx ModifyContext) error {
	if !w.grid.InBounds(pm.Pos) {
		return ErrOutOfBounds
	}
	pos := w.Geometry().Wrap(pm.Pos)
	current := w.grid.Tile(pos)
	if current.DungeonID != tile.NoDungeonID && w.IsProtected(current.DungeonID) && !ctx.Privileged {
		return ErrProtected
	}

	switch m := pm.Mod.(type) {
	case tile.PlaceMaterial:
		return w.validatePlaceMaterial(pos, current, m, allowEntityOverlap, ctx)

	case tile.PlaceMod:
		layer := current.Layer(m.Layer)
		if layer.Material == tile.EmptyMaterial || layer.Material == tile.NullMaterial {
			return ErrLayerEmpty
		}
		def, ok := w.registry.Material(layer.Material)
		if !ok || !def.SupportsMods {
			return ErrPlacementRule
		}
		if _, ok := w.registry.Mod(m.Mod); !ok {
			return ErrUnknownMaterial
		}
		if layer.Mod != tile.NoMod {
			return ErrLayerOccupied
		}
		return nil

	case tile.PlaceMaterialColor:
		layer := current.Layer(m.Layer)
		if layer.Material == tile.EmptyMaterial || layer.Material == tile.NullMaterial {
			return ErrLayerEmpty
		}
		if layer.ColorVariant == m.Color {
			return ErrNoChange
		}
		return nil

	case tile.PlaceLiquid:
		if m.Level <= 0 || m.Liquid == tile.EmptyLiquid {
			return ErrInvalidModification
		}
		if _, ok := w.registry.Liquid(m.Liquid); !ok {
			return ErrUnknownMaterial
		}
		if current.Collision.IsSolid() {
			return ErrPlacementRule
		}
		if !current.Liquid.IsEmpty() && current.Liquid.Liquid != m.Liquid {
			return ErrLiquidMismatch
		}
		if !current.Liquid.IsEmpty() && current.Liquid.Level >= 1 {
			return ErrNoChange
		}
		return nil
	}
	return ErrInvalidModification
}

func (w *TileWorld) validatePlaceMaterial(pos vec.Vec2, current tile.Tile, m tile.PlaceMaterial, allowEntityOverlap bool, ctx ModifyContext) error {
	if m.Material == tile.EmptyMaterial || m.Material == tile.NullMaterial {
		return ErrInvalidModification
	}
	def, ok := w.registry.Material(m.Material)
	if !ok {
		return ErrUnknownMaterial
	}
	if current.Material(m.Layer) != tile.EmptyMaterial {
		return ErrLayerOccupied
	}

	collision := def.Collision
	if m.Collision != nil {
		collision = *m.Collision
	}
	if m.Layer == tile.Foreground && collision.IsColliding() && !allowEntityOverlap &&
		ctx.Occupancy != nil && ctx.Occupancy.TileOccupied(pos) {
		return ErrOccupied
	}

	rule := def.Placement
	if rule.RequiresSolidBelow || def.Falling {
		if !w.grid.Tile(pos.Add(vec.V2(0, -1))).Collision.IsSolid() {
			return ErrPlacementRule
		}
	}
	if rule.RequiresAir && !current.Liquid.IsEmpty() {
		return ErrPlacementRule
	}
	if rule.RequiresLiquid && current.Liquid.IsEmpty() {
		return ErrPlacementRule
	}
	if rule.Connects && !w.isConnectable(pos, m.Layer) {
		return ErrPlacementRule
	}
	return nil
}

// isConnectable у клетки есть соседний материал в том же слое или материал в другом слое.
// Клетки за пределами мира считаются опорой.
func (w *TileWorld) isConnectable(pos vec.Vec2, layer tile.Layer) bool {
	other := tile.Background
	if layer == tile.Background {
		other = tile.Foreground
	}
	if w.grid.Tile(pos).Material(other) != tile.EmptyMaterial {
		return true
	}
	for _, d := range [...]vec.Vec2{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
		if w.grid.Tile(pos.Add(d)).Material(layer) != tile.EmptyMaterial {
			return true
		}
	}
	return false
}

func (w *TileWorld) commitModification(pm tile.PositionedModification) {
	pos := w.Geometry().Wrap(pm.Pos)
	t := w.grid.Tile(pos)

	switch m := pm.Mod.(type) {
	case tile.PlaceMaterial:
		layer := t.Layer(m.Layer)
		layer.Material = m.Material
		layer.HueShift = m.HueShift
		layer.Mod = tile.NoMod
		layer.ColorVariant = 0
		w.damage.clear(pos, m.Layer)
		if m.Collision != nil && m.Layer == tile.Foreground {
			w.writeTileWithCollision(pos, t, *m.Collision)
			return
		}
		w.writeTile(pos, t)

	case tile.PlaceMod:
		layer := t.Layer(m.Layer)
		layer.Mod = m.Mod
		layer.ModHueShift = m.HueShift
		w.writeTile(pos, t)

	case tile.PlaceMaterialColor:
		t.Layer(m.Layer).ColorVariant = m.Color
		w.writeTile(pos, t)

	case tile.PlaceLiquid:
		w.liquids.Add(pos, m.Liquid, m.Level)
	}
}

// TileReplacement замена материала слоя
type TileReplacement struct {
	Pos      vec.Vec2        `json:"pos"`
	Layer    tile.Layer      `json:"layer"`
	Material tile.MaterialID `json:"material"`
	HueShift uint8           `json:"hueShift,omitempty"`
}

// ReplaceTiles заменяет материал независимо от текущего.
// При applyDamage замена происходит только если урон разрушает текущий материал.
// Возвращает незаменённые позиции.
func (w *TileWorld) ReplaceTiles(list []TileReplacement, damage tile.Damage, applyDamage bool, ctx ModifyContext) ([]TileReplacement, []TileDamageResult) {
	var failed []TileReplacement
	var results []TileDamageResult
	for _, r := range list {
		if !w.grid.InBounds(r.Pos) {
			failed = append(failed, r)
			continue
		}
		pos := w.Geometry().Wrap(r.Pos)
		current := w.grid.Tile(pos)
		if current.DungeonID != tile.NoDungeonID && w.IsProtected(current.DungeonID) && !ctx.Privileged {
			failed = append(failed, r)
			continue
		}
		if _, ok := w.registry.Material(r.Material); !ok {
			failed = append(failed, r)
			continue
		}
		if current.Material(r.Layer) == r.Material {
			failed = append(failed, r)
			continue
		}

		if applyDamage && current.Material(r.Layer) != tile.EmptyMaterial {
			res, ok := w.damageCell(pos, r.Layer, pos.Center(), damage)
			if !ok {
				failed = append(failed, r)
				continue
			}
			results = append(results, res)
			if !res.Status.Broken {
				failed = append(failed, r)
				continue
			}
			current = w.grid.Tile(pos)
		}

		layer := current.Layer(r.Layer)
		layer.Material = r.Material
		layer.HueShift = r.HueShift
		layer.Mod = tile.NoMod
		layer.ColorVariant = 0
		w.damage.clear(pos, r.Layer)
		w.writeTile(pos, current)
	}
	return failed, results
}

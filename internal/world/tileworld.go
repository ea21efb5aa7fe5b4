package world

import (
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// TileOccupancy сообщает, занята ли клетка тайловой сущностью (объектом)
type TileOccupancy interface {
	TileOccupied(pos vec.Vec2) bool
}

// ModifyContext параметры запроса на изменение тайлов
type ModifyContext struct {
	// Privileged разрешает изменения в защищённых подземельях
	Privileged bool
	// Occupancy проверка пересечения с тайловыми сущностями; nil - нет сущностей
	Occupancy TileOccupancy
}

// TileWorld сетка тайлов вместе с правилами изменения, уроном и жидкостями.
// Все изменяющие методы вызываются только из потока симуляции.
type TileWorld struct {
	grid      *TileGrid
	registry  *tile.Registry
	protected map[tile.DungeonID]bool
	damage    *damageTracker
	liquids   *LiquidEngine
	logger    *logging.Logger

	tick uint64
	time float64
}

// NewTileWorld создаёт мир с пустой сеткой
func NewTileWorld(width, height int32, registry *tile.Registry) *TileWorld {
	w := &TileWorld{
		grid:      NewTileGrid(width, height),
		registry:  registry,
		protected: make(map[tile.DungeonID]bool),
		logger:    logging.GetWorldLogger(),
	}
	w.damage = newDamageTracker()
	w.liquids = newLiquidEngine(w)
	return w
}

// Grid сетка тайлов
func (w *TileWorld) Grid() *TileGrid { return w.grid }

// Registry реестр материалов
func (w *TileWorld) Registry() *tile.Registry { return w.registry }

// Geometry геометрия мира
func (w *TileWorld) Geometry() vec.Geometry { return w.grid.Geometry() }

// Liquids движок жидкостей
func (w *TileWorld) Liquids() *LiquidEngine { return w.liquids }

// CurrentTick номер текущего тика
func (w *TileWorld) CurrentTick() uint64 { return w.tick }

// Time время мира в секундах
func (w *TileWorld) Time() float64 { return w.time }

// BeginTick фиксирует номер тика и время, которыми помечаются изменения
func (w *TileWorld) BeginTick(tick uint64, now float64) {
	w.tick = tick
	w.time = now
}

// SetProtected помечает id подземелья как защищённый
func (w *TileWorld) SetProtected(id tile.DungeonID, protected bool) {
	if protected {
		w.protected[id] = true
	} else {
		delete(w.protected, id)
	}
}

// IsProtected id подземелья защищён от изменений
func (w *TileWorld) IsProtected(id tile.DungeonID) bool {
	return id == tile.NoPlacementDungeonID || w.protected[id]
}

// ProtectedIDs список защищённых id
func (w *TileWorld) ProtectedIDs() []tile.DungeonID {
	out := make([]tile.DungeonID, 0, len(w.protected))
	for id := range w.protected {
		out = append(out, id)
	}
	return out
}

// Tile читает тайл
func (w *TileWorld) Tile(pos vec.Vec2) tile.Tile {
	return w.grid.Tile(pos)
}

// Collision тип коллизии клетки
func (w *TileWorld) Collision(pos vec.Vec2) tile.CollisionKind {
	return w.grid.Tile(pos).Collision
}

// IsSolid клетка твёрдая
func (w *TileWorld) IsSolid(pos vec.Vec2) bool {
	return w.Collision(pos).IsSolid()
}

// GravityMultiplier множитель гравитации клетки
func (w *TileWorld) GravityMultiplier(pos vec.Vec2) float64 {
	t := w.grid.Tile(pos)
	if t.GravityMultiplier == 0 {
		return 1
	}
	return float64(t.GravityMultiplier)
}

// LiquidAt жидкость в клетке
func (w *TileWorld) LiquidAt(pos vec.Vec2) tile.LiquidState {
	return w.grid.Tile(pos).Liquid
}

// writeTile записывает тайл, пересчитывая коллизию по переднему материалу
func (w *TileWorld) writeTile(pos vec.Vec2, t tile.Tile) {
	w.writeTileWithCollision(pos, t, w.registry.Collision(t.Foreground.Material))
}

func (w *TileWorld) writeTileWithCollision(pos vec.Vec2, t tile.Tile, collision tile.CollisionKind) {
	if t.Foreground.Material == tile.EmptyMaterial {
		collision = tile.CollisionNone
	}
	t.Collision = collision
	if collision.IsSolid() && !t.Liquid.IsEmpty() {
		w.liquids.displace(pos, t.Liquid)
		t.Liquid = tile.LiquidState{}
	}
	w.grid.SetTile(pos, t, w.tick)
	w.liquids.Wake(pos)
}

// SetTileDirect записывает тайл без проверок (генерация, загрузка, подземелья)
func (w *TileWorld) SetTileDirect(pos vec.Vec2, t tile.Tile) {
	w.writeTile(pos, t)
}

// SimulationResult изменения за шаг тайловой симуляции
type SimulationResult struct {
	Damage        []TileDamageResult
	LiquidChanged []vec.Vec2
}

// Simulate шаг 4 тика: жидкости и восстановление повреждений
func (w *TileWorld) Simulate(dt float64) SimulationResult {
	return SimulationResult{
		Damage:        w.damage.recover(w, dt),
		LiquidChanged: w.liquids.Tick(),
	}
}

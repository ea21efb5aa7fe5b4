package physics

import (
	"math"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// CollisionWorld то, что контроллерам движения нужно знать о мире
type CollisionWorld interface {
	Geometry() vec.Geometry
	Collision(pos vec.Vec2) tile.CollisionKind
	GravityMultiplier(pos vec.Vec2) float64
	LiquidAt(pos vec.Vec2) tile.LiquidState
}

// MovingCollision подвижное препятствие (платформа транспорта, дверь)
type MovingCollision struct {
	Poly     Poly
	Kind     tile.CollisionKind
	Velocity vec.Vec2F
}

// MovingCollisionSource мир, который умеет отдавать подвижные препятствия
type MovingCollisionSource interface {
	MovingCollisions(area vec.RectF) []MovingCollision
}

// CollisionBlock препятствие, найденное в области
type CollisionBlock struct {
	Poly     Poly
	Kind     tile.CollisionKind
	Tile     vec.Vec2
	Velocity vec.Vec2F
}

// CollisionBlocks все сталкивающиеся клетки и подвижные препятствия в области.
// Координаты X не заворачиваются: блок лежит рядом с запрошенной областью.
func CollisionBlocks(w CollisionWorld, area vec.RectF) []CollisionBlock {
	var out []CollisionBlock
	geo := w.Geometry()
	area.TileBounds().Each(func(p vec.Vec2) {
		kind := w.Collision(vec.Vec2{X: geo.Xwrap(p.X), Y: p.Y})
		if !kind.IsColliding() {
			return
		}
		out = append(out, CollisionBlock{Poly: TilePoly(p), Kind: kind, Tile: p})
	})
	if src, ok := w.(MovingCollisionSource); ok {
		for _, mc := range src.MovingCollisions(area) {
			out = append(out, CollisionBlock{Poly: mc.Poly, Kind: mc.Kind, Velocity: mc.Velocity})
		}
	}
	return out
}

// RectCollides область пересекается с твёрдым препятствием; платформы учитываются по флагу
func RectCollides(w CollisionWorld, area vec.RectF, platforms bool) bool {
	body := RectPoly(area)
	for _, b := range CollisionBlocks(w, area) {
		if b.Kind == tile.CollisionPlatform && !platforms {
			continue
		}
		if !b.Kind.IsSolid() && b.Kind != tile.CollisionPlatform {
			continue
		}
		if _, hit := body.Separation(b.Poly); hit {
			return true
		}
	}
	return false
}

// LiquidPercentage доля площади тела, занятая жидкостью, и преобладающая жидкость
func LiquidPercentage(w CollisionWorld, body vec.RectF) (float64, tile.LiquidID) {
	area := body.Width() * body.Height()
	if area <= 0 {
		return 0, tile.EmptyLiquid
	}
	geo := w.Geometry()
	total := 0.0
	amounts := make(map[tile.LiquidID]float64)
	body.TileBounds().Each(func(p vec.Vec2) {
		l := w.LiquidAt(vec.Vec2{X: geo.Xwrap(p.X), Y: p.Y})
		if l.IsEmpty() {
			return
		}
		level := math.Min(float64(l.Level), 1)
		// жидкость заполняет клетку снизу на level
		cell := vec.NewRectF(float64(p.X), float64(p.Y), float64(p.X)+1, float64(p.Y)+level)
		dx := math.Min(cell.Max.X, body.Max.X) - math.Max(cell.Min.X, body.Min.X)
		dy := math.Min(cell.Max.Y, body.Max.Y) - math.Max(cell.Min.Y, body.Min.Y)
		if dx <= 0 || dy <= 0 {
			return
		}
		total += dx * dy
		amounts[l.Liquid] += dx * dy
	})
	best := tile.EmptyLiquid
	bestAmount := 0.0
	for id, a := range amounts {
		if a > bestAmount || (a == bestAmount && id < best) {
			best, bestAmount = id, a
		}
	}
	return math.Min(total/area, 1), best
}

// CellGravity множитель гравитации в клетке точки
func CellGravity(w CollisionWorld, p vec.Vec2F) float64 {
	geo := w.Geometry()
	cell := p.Floor()
	return w.GravityMultiplier(vec.Vec2{X: geo.Xwrap(cell.X), Y: cell.Y})
}

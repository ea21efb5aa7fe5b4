package pathfind

import (
	"math"

	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

const (
	arcTimeStep   = 0.02
	swimThreshold = 0.5
)

// graph клеточный граф поверх мира столкновений
type graph struct {
	world  physics.CollisionWorld
	params Parameters
}

func (g *graph) collision(p vec.Vec2) tile.CollisionKind {
	geo := g.world.Geometry()
	return g.world.Collision(vec.Vec2{X: geo.Xwrap(p.X), Y: p.Y})
}

func (g *graph) solid(p vec.Vec2) bool {
	return g.collision(p).IsSolid()
}

// free тело, стоящее в p, ни с чем твёрдым не пересекается
func (g *graph) free(p vec.Vec2) bool {
	for dy := int32(0); dy < g.params.Height; dy++ {
		for dx := int32(0); dx < g.params.Width; dx++ {
			if g.solid(vec.Vec2{X: p.X + dx, Y: p.Y + dy}) {
				return false
			}
		}
	}
	return true
}

// grounded тело в p свободно и стоит на твёрдом тайле или платформе
func (g *graph) grounded(p vec.Vec2) bool {
	if !g.free(p) {
		return false
	}
	for dx := int32(0); dx < g.params.Width; dx++ {
		k := g.collision(vec.Vec2{X: p.X + dx, Y: p.Y - 1})
		if k.IsSolid() || k == tile.CollisionPlatform {
			return true
		}
	}
	return false
}

// onlyPlatforms под телом нет ничего твёрдого, только платформы
func (g *graph) onlyPlatforms(p vec.Vec2) bool {
	found := false
	for dx := int32(0); dx < g.params.Width; dx++ {
		k := g.collision(vec.Vec2{X: p.X + dx, Y: p.Y - 1})
		if k.IsSolid() {
			return false
		}
		if k == tile.CollisionPlatform {
			found = true
		}
	}
	return found
}

func (g *graph) inLiquid(p vec.Vec2) bool {
	geo := g.world.Geometry()
	l := g.world.LiquidAt(vec.Vec2{X: geo.Xwrap(p.X), Y: p.Y})
	return !l.IsEmpty() && float64(l.Level) >= swimThreshold
}

func (g *graph) edges(pos vec.Vec2, _ Action) []Edge {
	var out []Edge
	grounded := g.grounded(pos)
	if grounded {
		out = g.walkEdges(pos, out)
		out = g.dropEdges(pos, out)
		out = g.jumpEdges(pos, out)
	}
	if g.params.CanSwim && g.inLiquid(pos) {
		out = g.moveEdges(pos, ActionSwim, g.params.SwimCost, out)
	}
	if g.params.CanFly {
		out = g.moveEdges(pos, ActionFly, 1, out)
	}
	return out
}

func (g *graph) walkEdges(pos vec.Vec2, out []Edge) []Edge {
	for _, dir := range [2]int32{-1, 1} {
		side := vec.Vec2{X: pos.X + dir, Y: pos.Y}
		if g.grounded(side) {
			out = append(out, Edge{Action: ActionWalk, Source: pos, Target: side, Cost: 1})
			continue
		}
		up := vec.Vec2{X: side.X, Y: side.Y + 1}
		if g.free(vec.Vec2{X: pos.X, Y: pos.Y + 1}) && g.grounded(up) {
			out = append(out, Edge{Action: ActionWalk, Source: pos, Target: up, Cost: 1.5})
			continue
		}
		down := vec.Vec2{X: side.X, Y: side.Y - 1}
		if g.free(side) && g.grounded(down) {
			out = append(out, Edge{Action: ActionWalk, Source: pos, Target: down, Cost: 1.5})
		}
	}
	return out
}

// fall первая опора под from не дальше MaxFallHeight
func (g *graph) fall(from vec.Vec2) (vec.Vec2, bool) {
	maxFall := g.params.MaxFallHeight
	if maxFall <= 0 {
		maxFall = 20
	}
	for dy := int32(0); dy <= maxFall; dy++ {
		p := vec.Vec2{X: from.X, Y: from.Y - dy}
		if !g.free(p) {
			return vec.Vec2{}, false
		}
		if g.grounded(p) {
			return p, true
		}
		if g.inLiquid(p) && g.params.CanSwim {
			return p, true
		}
	}
	return vec.Vec2{}, false
}

func (g *graph) dropEdges(pos vec.Vec2, out []Edge) []Edge {
	dropCost := g.params.DropCost
	if dropCost <= 0 {
		dropCost = 1
	}
	for _, dir := range [2]int32{-1, 1} {
		side := vec.Vec2{X: pos.X + dir, Y: pos.Y}
		if !g.free(side) || g.grounded(side) {
			continue
		}
		if land, ok := g.fall(side); ok {
			dy := float64(pos.Y - land.Y)
			out = append(out, Edge{Action: ActionDrop, Source: pos, Target: land, Cost: 1 + dropCost*dy})
		}
	}
	if g.onlyPlatforms(pos) {
		below := vec.Vec2{X: pos.X, Y: pos.Y - 1}
		if g.free(below) {
			if land, ok := g.fall(below); ok {
				dy := float64(pos.Y - land.Y)
				out = append(out, Edge{Action: ActionDrop, Source: pos, Target: land, Cost: 1 + dropCost*dy})
			}
		}
	}
	return out
}

func (g *graph) jumpEdges(pos vec.Vec2, out []Edge) []Edge {
	p := g.params
	if p.JumpSpeed <= 0 || p.Gravity <= 0 {
		return out
	}
	flight := 2 * p.JumpSpeed / p.Gravity
	maxDx := int32(math.Floor(math.Max(p.RunSpeed, p.WalkSpeed) * flight))

	seen := make(map[vec.Vec2]bool)
	for _, dir := range [2]int32{-1, 1} {
		for dx := int32(0); dx <= maxDx; dx++ {
			if dx == 0 && dir < 0 {
				continue
			}
			vx := float64(dir*dx) / flight
			land, apex, ok := g.simulateArc(pos, vx, p.JumpSpeed)
			if !ok || land == pos || seen[land] {
				continue
			}
			seen[land] = true

			action := ActionArc
			if dx == 0 {
				action = ActionJump
			}
			d := land.Sub(pos)
			k := math.Abs(float64(d.X)) + math.Abs(float64(d.Y))
			out = append(out, Edge{
				Action:   action,
				Source:   pos,
				Target:   land,
				Cost:     k*p.ArcCostFactor + p.JumpPenalty,
				Velocity: vec.Vec2F{X: vx, Y: p.JumpSpeed},
				Apex:     apex,
			})
		}
	}
	return out
}

// simulateArc баллистическая траектория тела из pos; возвращает клетку
// приземления и вершину дуги в координатах узла
func (g *graph) simulateArc(pos vec.Vec2, vx, vy float64) (vec.Vec2, vec.Vec2F, bool) {
	p := g.params
	start := pos.ToFloat()
	tApex := vy / p.Gravity
	apex := vec.Vec2F{X: start.X + vx*tApex, Y: start.Y + vy*vy/(2*p.Gravity)}

	maxFall := float64(p.MaxFallHeight)
	if maxFall <= 0 {
		maxFall = 20
	}
	limit := tApex + math.Sqrt(2*(apex.Y-start.Y+maxFall)/p.Gravity)

	prev := start
	for t := arcTimeStep; t <= limit; t += arcTimeStep {
		cur := vec.Vec2F{
			X: start.X + vx*t,
			Y: start.Y + vy*t - p.Gravity*t*t/2,
		}
		descending := vy-p.Gravity*t < 0
		row := math.Floor(prev.Y)
		if descending && prev.Y > row && cur.Y <= row {
			cand := vec.Vec2{X: int32(math.Round(cur.X)), Y: int32(row)}
			if g.grounded(cand) {
				return cand, apex, true
			}
		}
		if g.bodyBlocked(cur) {
			return vec.Vec2{}, apex, false
		}
		prev = cur
	}
	return vec.Vec2{}, apex, false
}

func (g *graph) bodyBlocked(bl vec.Vec2F) bool {
	const eps = 1e-3
	r := vec.NewRectF(bl.X+eps, bl.Y+eps, bl.X+float64(g.params.Width)-eps, bl.Y+float64(g.params.Height)-eps)
	blocked := false
	r.TileBounds().Each(func(c vec.Vec2) {
		if !blocked && g.solid(c) {
			blocked = true
		}
	})
	return blocked
}

// moveEdges свободное перемещение в восьми направлениях (полёт, плавание)
func (g *graph) moveEdges(pos vec.Vec2, action Action, cost float64, out []Edge) []Edge {
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			target := vec.Vec2{X: pos.X + dx, Y: pos.Y + dy}
			if !g.free(target) {
				continue
			}
			if dx != 0 && dy != 0 && (!g.free(vec.Vec2{X: pos.X + dx, Y: pos.Y}) || !g.free(vec.Vec2{X: pos.X, Y: pos.Y + dy})) {
				continue
			}
			if action == ActionSwim && !g.inLiquid(target) && !g.grounded(target) {
				continue
			}
			c := cost
			if dx != 0 && dy != 0 {
				c *= math.Sqrt2
			}
			a := action
			if g.grounded(target) && !g.grounded(pos) {
				a = ActionLand
			}
			out = append(out, Edge{Action: a, Source: pos, Target: target, Cost: c})
		}
	}
	return out
}

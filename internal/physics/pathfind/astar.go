// Package pathfind поиск пути платформера: A* по клеткам с действиями
// ходьбы, прыжков по дуге, падения, полёта и плавания.
package pathfind

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
)

// Action способ перемещения по ребру
type Action uint8

const (
	ActionWalk Action = iota
	ActionJump
	ActionArc
	ActionDrop
	ActionFly
	ActionSwim
	ActionLand
)

var actionNames = [...]string{"Walk", "Jump", "Arc", "Drop", "Fly", "Swim", "Land"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", a)
}

// Edge одно ребро найденного пути. Позиции задают левый нижний тайл тела.
type Edge struct {
	Action   Action
	Source   vec.Vec2
	Target   vec.Vec2
	Cost     float64
	Velocity vec.Vec2F // начальная скорость прыжка
	Apex     vec.Vec2F // верхняя точка дуги, в координатах центра тела
}

// Status состояние поиска
type Status uint8

const (
	StatusSearching Status = iota
	StatusFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSearching:
		return "searching"
	case StatusFound:
		return "found"
	}
	return "failed"
}

// Parameters кинематика актёра, от которой зависят рёбра
type Parameters struct {
	Width, Height int32

	WalkSpeed float64
	RunSpeed  float64
	JumpSpeed float64
	Gravity   float64
	CanFly    bool
	CanSwim   bool

	MaxFallHeight int32
	JumpPenalty   float64
	ArcCostFactor float64
	DropCost      float64
	SwimCost      float64

	MaxExploredNodes int
}

// ParametersFor параметры поиска из параметров движения актёра
func ParametersFor(p physics.ActorMovementParameters) Parameters {
	box := p.StandingPoly.BoundBox()
	return Parameters{
		Width:            int32(math.Ceil(box.Width() - 1e-6)),
		Height:           int32(math.Ceil(box.Height() - 1e-6)),
		WalkSpeed:        p.WalkSpeed,
		RunSpeed:         p.RunSpeed,
		JumpSpeed:        p.AirJump.JumpSpeed,
		Gravity:          p.Movement.Gravity * p.Movement.GravityMultiplier,
		CanFly:           p.CanFly,
		CanSwim:          p.SwimSpeed > 0,
		MaxFallHeight:    20,
		JumpPenalty:      2,
		ArcCostFactor:    1.1,
		DropCost:         1,
		SwimCost:         1.5,
		MaxExploredNodes: 20000,
	}
}

type nodeKey struct {
	pos    vec.Vec2
	action Action
}

type node struct {
	key    nodeKey
	g, f   float64
	index  int
	parent *node
	edge   Edge
}

type openQueue []*node

func (q openQueue) Len() int { return len(q) }

func (q openQueue) Less(i, j int) bool {
	if q[i].f == q[j].f {
		return q[i].g > q[j].g
	}
	return q[i].f < q[j].f
}

func (q openQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *openQueue) Push(x any) {
	n := x.(*node)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *openQueue) Pop() any {
	old := *q
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*q = old[:last]
	return n
}

// PathFinder пошаговый A*: Explore можно вызывать каждый тик с ограничением узлов
type PathFinder struct {
	graph  *graph
	params Parameters
	start  vec.Vec2
	goal   vec.Vec2

	open     openQueue
	best     map[nodeKey]float64
	closed   map[nodeKey]bool
	explored int
	status   Status
	path     []Edge
}

// NewPathFinder начинает поиск от start до goal
func NewPathFinder(world physics.CollisionWorld, params Parameters, start, goal vec.Vec2) *PathFinder {
	if params.Width <= 0 {
		params.Width = 1
	}
	if params.Height <= 0 {
		params.Height = 1
	}
	if params.MaxExploredNodes <= 0 {
		params.MaxExploredNodes = 20000
	}
	if params.ArcCostFactor <= 0 {
		params.ArcCostFactor = 1.1
	}
	pf := &PathFinder{
		graph:  &graph{world: world, params: params},
		params: params,
		start:  start,
		goal:   goal,
		best:   make(map[nodeKey]float64),
		closed: make(map[nodeKey]bool),
	}
	first := &node{key: nodeKey{pos: start, action: ActionWalk}}
	first.f = pf.heuristic(start)
	heap.Push(&pf.open, first)
	pf.best[first.key] = 0
	return pf
}

// Status текущее состояние поиска
func (pf *PathFinder) Status() Status { return pf.status }

// Explored сколько узлов раскрыто
func (pf *PathFinder) Explored() int { return pf.explored }

// Path найденный путь
func (pf *PathFinder) Path() []Edge { return pf.path }

func (pf *PathFinder) heuristic(p vec.Vec2) float64 {
	d := pf.graph.world.Geometry().Diff(pf.goal, p)
	return math.Hypot(float64(d.X), float64(d.Y))
}

// Explore раскрывает не больше limit узлов
func (pf *PathFinder) Explore(limit int) Status {
	for i := 0; pf.status == StatusSearching && (limit <= 0 || i < limit); i++ {
		if pf.open.Len() == 0 || pf.explored >= pf.params.MaxExploredNodes {
			pf.status = StatusFailed
			break
		}
		cur := heap.Pop(&pf.open).(*node)
		if pf.closed[cur.key] {
			continue
		}
		pf.closed[cur.key] = true
		pf.explored++

		if cur.key.pos == pf.goal {
			pf.path = reconstruct(cur)
			pf.status = StatusFound
			break
		}

		for _, e := range pf.graph.edges(cur.key.pos, cur.key.action) {
			key := nodeKey{pos: e.Target, action: e.Action}
			if pf.closed[key] {
				continue
			}
			g := cur.g + e.Cost
			if prev, ok := pf.best[key]; ok && g >= prev {
				continue
			}
			pf.best[key] = g
			heap.Push(&pf.open, &node{key: key, g: g, f: g + pf.heuristic(e.Target), parent: cur, edge: e})
		}
	}
	return pf.status
}

// Find ищет путь до конца или до MaxExploredNodes
func Find(world physics.CollisionWorld, params Parameters, start, goal vec.Vec2) ([]Edge, bool) {
	pf := NewPathFinder(world, params, start, goal)
	status := pf.Explore(0)
	return pf.path, status == StatusFound
}

func reconstruct(end *node) []Edge {
	var path []Edge
	for n := end; n.parent != nil; n = n.parent {
		path = append(path, n.edge)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Segments склеивает подряд идущие рёбра ходьбы, полёта и плавания
func Segments(path []Edge) []Edge {
	var out []Edge
	for _, e := range path {
		if n := len(out); n > 0 && out[n-1].Action == e.Action && mergeable(e.Action) {
			out[n-1].Target = e.Target
			out[n-1].Cost += e.Cost
			continue
		}
		out = append(out, e)
	}
	return out
}

func mergeable(a Action) bool {
	return a == ActionWalk || a == ActionFly || a == ActionSwim
}

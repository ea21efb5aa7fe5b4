package pathfind

import (
	"math"

	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
)

// ControllerStatus состояние контроллера пути
type ControllerStatus uint8

const (
	ControllerIdle ControllerStatus = iota
	ControllerSearching
	ControllerMoving
	ControllerArrived
	ControllerFailed
	ControllerAborted
)

var controllerStatusNames = [...]string{"idle", "searching", "moving", "arrived", "failed", "aborted"}

func (s ControllerStatus) String() string {
	if int(s) < len(controllerStatusNames) {
		return controllerStatusNames[s]
	}
	return "unknown"
}

const (
	reachEpsilon       = 0.15
	passEpsilon        = 0.5
	steerGain          = 10.0
	airControlForce    = 1000.0
	edgeTimeoutBase    = 2.0
	defaultExploreRate = 500
)

// PathController ведёт актёра по найденному пути, управляя его контроллером движения
type PathController struct {
	actor       *physics.ActorMovementController
	world       physics.CollisionWorld
	params      Parameters
	exploreRate int

	finder   *PathFinder
	target   vec.Vec2
	path     []Edge
	index    int
	started  bool
	launched bool
	edgeTime float64
	status   ControllerStatus
}

// NewPathController создаёт контроллер; exploreRate ограничивает узлы A* за тик
func NewPathController(actor *physics.ActorMovementController, world physics.CollisionWorld, exploreRate int) *PathController {
	if exploreRate <= 0 {
		exploreRate = defaultExploreRate
	}
	return &PathController{
		actor:       actor,
		world:       world,
		params:      ParametersFor(actor.ActorParameters()),
		exploreRate: exploreRate,
	}
}

// Status текущее состояние
func (c *PathController) Status() ControllerStatus { return c.status }

// Path текущий путь
func (c *PathController) Path() []Edge { return c.path }

// CurrentEdge ребро, которое сейчас исполняется
func (c *PathController) CurrentEdge() (Edge, bool) {
	if c.status != ControllerMoving || c.index >= len(c.path) {
		return Edge{}, false
	}
	return c.path[c.index], true
}

// NodeOf клетка узла для позиции актёра (центр нижней грани тела)
func (c *PathController) NodeOf(p vec.Vec2F) vec.Vec2 {
	return vec.Vec2{
		X: int32(math.Floor(p.X - float64(c.params.Width)/2 + 1e-3)),
		Y: int32(math.Floor(p.Y + 1e-3)),
	}
}

func (c *PathController) nodeCenter(n vec.Vec2) vec.Vec2F {
	return vec.Vec2F{X: float64(n.X) + float64(c.params.Width)/2, Y: float64(n.Y)}
}

// PathTo начинает поиск пути к точке target
func (c *PathController) PathTo(target vec.Vec2F) {
	c.target = c.NodeOf(target)
	c.finder = NewPathFinder(c.world, c.params, c.NodeOf(c.actor.Position()), c.target)
	c.path = nil
	c.index = 0
	c.started = false
	c.status = ControllerSearching
}

// Reset останавливает движение по пути
func (c *PathController) Reset() {
	c.finder = nil
	c.path = nil
	c.status = ControllerIdle
}

// Tick продвигает поиск или движение; управление актёру выставляется до его Tick
func (c *PathController) Tick(dt float64) ControllerStatus {
	switch c.status {
	case ControllerSearching:
		switch c.finder.Explore(c.exploreRate) {
		case StatusFound:
			c.path = c.finder.Path()
			c.finder = nil
			c.index = 0
			c.started = false
			c.status = ControllerMoving
			if len(c.path) == 0 {
				c.status = ControllerArrived
			}
		case StatusFailed:
			c.finder = nil
			c.status = ControllerFailed
		}
	case ControllerMoving:
		c.move(dt)
	}
	return c.status
}

func (c *PathController) move(dt float64) {
	edge := c.path[c.index]
	if !c.started {
		if !c.validate(edge) {
			c.status = ControllerAborted
			return
		}
		c.started = true
		c.launched = false
		c.edgeTime = 0
	}
	c.edgeTime += dt
	if c.edgeTime > edgeTimeoutBase+edge.Cost {
		c.status = ControllerFailed
		return
	}

	if c.steer(edge) {
		c.index++
		c.started = false
		if c.index >= len(c.path) {
			c.status = ControllerArrived
		}
	}
}

// validate проверяет ребро по текущему состоянию мира
func (c *PathController) validate(e Edge) bool {
	g := &graph{world: c.world, params: c.params}
	switch e.Action {
	case ActionWalk:
		return g.grounded(e.Target)
	case ActionDrop:
		return g.free(e.Target) && g.grounded(e.Target)
	case ActionJump, ActionArc:
		land, _, ok := g.simulateArc(e.Source, e.Velocity.X, e.Velocity.Y)
		return ok && land == e.Target
	default:
		return g.free(e.Target)
	}
}

func (c *PathController) continuesWalking(e Edge) bool {
	if c.index+1 >= len(c.path) {
		return false
	}
	next := c.path[c.index+1]
	return next.Action == ActionWalk && sign(float64(next.Target.X-next.Source.X)) == sign(float64(e.Target.X-e.Source.X))
}

// steer выставляет управление; true, когда ребро пройдено
func (c *PathController) steer(e Edge) bool {
	a := c.actor
	pos := a.Position()
	target := c.nodeCenter(e.Target)
	dx := target.X - pos.X
	p := a.ActorParameters()

	switch e.Action {
	case ActionWalk, ActionLand:
		if c.continuesWalking(e) {
			a.ControlMove(sign(dx), false)
			return math.Abs(dx) < passEpsilon
		}
		a.ControlApproachXVelocity(clamp(dx*steerGain, p.WalkSpeed), p.GroundForce)
		return math.Abs(dx) < reachEpsilon && a.Grounded()

	case ActionDrop:
		if e.Target.X == e.Source.X {
			a.ControlDown()
		}
		a.ControlApproachXVelocity(clamp(dx*steerGain, p.WalkSpeed), p.AirForce)
		return math.Abs(dx) < passEpsilon && math.Abs(pos.Y-target.Y) < 0.1 && a.Grounded()

	case ActionJump, ActionArc:
		if !c.launched {
			src := c.nodeCenter(e.Source)
			if a.Grounded() {
				a.ControlJump()
				a.ControlApproachXVelocity(e.Velocity.X, airControlForce)
				c.launched = true
				return false
			}
			a.ControlApproachXVelocity(clamp((src.X-pos.X)*steerGain, p.WalkSpeed), p.GroundForce)
			return false
		}
		a.ControlJump()
		if sign(dx) == sign(e.Velocity.X) || e.Velocity.X == 0 {
			a.ControlApproachXVelocity(e.Velocity.X, airControlForce)
		} else {
			a.ControlApproachXVelocity(clamp(dx*steerGain, p.WalkSpeed), p.AirForce)
		}
		return a.Grounded() && a.Velocity().Y <= 0 && math.Abs(pos.Y-target.Y) < 0.1 && math.Abs(dx) < passEpsilon+0.5

	default:
		dir := c.nodeCenter(e.Target).Add(vec.Vec2F{Y: float64(c.params.Height) / 2}).
			Sub(pos.Add(vec.Vec2F{Y: float64(c.params.Height) / 2}))
		a.ControlFly(dir)
		return dir.Length() < 0.3
	}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

package physics

import (
	"math"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// MovementParameters параметры физического тела
type MovementParameters struct {
	Mass              float64 `json:"mass"`
	Gravity           float64 `json:"gravity"`
	GravityMultiplier float64 `json:"gravityMultiplier"`
	GravityEnabled    bool    `json:"gravityEnabled"`

	LiquidBuoyancy  float64 `json:"liquidBuoyancy"`
	AirBuoyancy     float64 `json:"airBuoyancy"`
	LiquidImpedance float64 `json:"liquidImpedance"`

	FrictionEnabled          bool    `json:"frictionEnabled"`
	AirFriction              float64 `json:"airFriction"`
	LiquidFriction           float64 `json:"liquidFriction"`
	GroundFriction           float64 `json:"groundFriction"`
	AmbulatingGroundFriction float64 `json:"ambulatingGroundFriction"`

	CollisionEnabled             bool    `json:"collisionEnabled"`
	BounceFactor                 float64 `json:"bounceFactor"`
	StopOnFirstBounce            bool    `json:"stopOnFirstBounce"`
	StickyCollision              bool    `json:"stickyCollision"`
	EnableSurfaceSlopeCorrection bool    `json:"enableSurfaceSlopeCorrection"`
	MaximumCorrection            float64 `json:"maximumCorrection"`
	MaximumPlatformCorrection    float64 `json:"maximumPlatformCorrection"`
	IgnorePlatformCollision      bool    `json:"ignorePlatformCollision"`

	SpeedLimit         float64 `json:"speedLimit"`
	MaxMovementPerStep float64 `json:"maxMovementPerStep"`

	CollisionPoly Poly `json:"collisionPoly"`
}

// DefaultMovementParameters параметры обычного тела размером 1x2 тайла
func DefaultMovementParameters() MovementParameters {
	return MovementParameters{
		Mass:                         1,
		Gravity:                      80,
		GravityMultiplier:            1,
		GravityEnabled:               true,
		LiquidBuoyancy:               0.95,
		LiquidImpedance:              0.5,
		FrictionEnabled:              true,
		AirFriction:                  0,
		LiquidFriction:               8,
		GroundFriction:               40,
		AmbulatingGroundFriction:     0,
		CollisionEnabled:             true,
		EnableSurfaceSlopeCorrection: true,
		MaximumCorrection:            1,
		MaximumPlatformCorrection:    0.5,
		SpeedLimit:                   100,
		MaxMovementPerStep:           0.4,
		CollisionPoly:                BoxPoly(0.9, 1.9),
	}
}

type approach struct {
	axis   int // 0 x, 1 y, 2 оба
	target vec.Vec2F
	force  float64
}

// MovementController тело с коллайдером, скоростью и силами
type MovementController struct {
	world  CollisionWorld
	params MovementParameters

	position vec.Vec2F
	velocity vec.Vec2F
	force    vec.Vec2F

	approaches []approach

	onGround         bool
	hitCeiling       bool
	colliding        bool
	stuck            bool
	ambulating       bool
	ignorePlatforms  bool
	liquidPercentage float64
	liquid           tile.LiquidID
	surfaceVelocity  vec.Vec2F
}

// NewMovementController создаёт контроллер в точке position
func NewMovementController(world CollisionWorld, params MovementParameters, position vec.Vec2F) *MovementController {
	if params.Mass <= 0 {
		params.Mass = 1
	}
	if params.MaxMovementPerStep <= 0 {
		params.MaxMovementPerStep = 0.4
	}
	if len(params.CollisionPoly) == 0 {
		params.CollisionPoly = DefaultMovementParameters().CollisionPoly
	}
	return &MovementController{world: world, params: params, position: position}
}

// Parameters текущие параметры
func (m *MovementController) Parameters() MovementParameters { return m.params }

// SetParameters заменяет параметры, например коллайдер при приседании
func (m *MovementController) SetParameters(p MovementParameters) {
	if len(p.CollisionPoly) == 0 {
		p.CollisionPoly = m.params.CollisionPoly
	}
	if p.Mass <= 0 {
		p.Mass = 1
	}
	if p.MaxMovementPerStep <= 0 {
		p.MaxMovementPerStep = 0.4
	}
	m.params = p
}

func (m *MovementController) Position() vec.Vec2F { return m.position }
func (m *MovementController) Velocity() vec.Vec2F { return m.velocity }
func (m *MovementController) OnGround() bool { return m.onGround }
func (m *MovementController) HitCeiling() bool { return m.hitCeiling }
func (m *MovementController) Colliding() bool { return m.colliding }
func (m *MovementController) Stuck() bool { return m.stuck }
func (m *MovementController) Liquid() tile.LiquidID { return m.liquid }

// LiquidPercentage доля тела в жидкости на последнем шаге
func (m *MovementController) LiquidPercentage() float64 { return m.liquidPercentage }

// SetPosition телепортирует тело
func (m *MovementController) SetPosition(p vec.Vec2F) {
	m.position = p
}

// SetVelocity задаёт скорость
func (m *MovementController) SetVelocity(v vec.Vec2F) {
	m.velocity = v
	m.stuck = false
}

// AddMomentum мгновенный импульс
func (m *MovementController) AddMomentum(p vec.Vec2F) {
	m.velocity = m.velocity.Add(p.Mul(1 / m.params.Mass))
	m.stuck = false
}

// ApplyForce сила на текущий шаг
func (m *MovementController) ApplyForce(f vec.Vec2F) {
	m.force = m.force.Add(f)
}

// ApproachVelocity приближает скорость к target с силой не больше maxForce
func (m *MovementController) ApproachVelocity(target vec.Vec2F, maxForce float64) {
	m.approaches = append(m.approaches, approach{axis: 2, target: target, force: maxForce})
}

// ApproachXVelocity то же только по оси X
func (m *MovementController) ApproachXVelocity(target, maxForce float64) {
	m.approaches = append(m.approaches, approach{axis: 0, target: vec.Vec2F{X: target}, force: maxForce})
}

// ApproachYVelocity то же только по оси Y
func (m *MovementController) ApproachYVelocity(target, maxForce float64) {
	m.approaches = append(m.approaches, approach{axis: 1, target: vec.Vec2F{Y: target}, force: maxForce})
}

// SetAmbulating тело идёт само: на земле действует ambulatingGroundFriction
func (m *MovementController) SetAmbulating(v bool) { m.ambulating = v }

// SetIgnorePlatforms временно проходить сквозь платформы
func (m *MovementController) SetIgnorePlatforms(v bool) { m.ignorePlatforms = v }

// CollisionBody коллайдер в мировых координатах
func (m *MovementController) CollisionBody() Poly {
	return m.params.CollisionPoly.Translated(m.position)
}

// BoundBox ограничивающий прямоугольник тела
func (m *MovementController) BoundBox() vec.RectF {
	return m.CollisionBody().BoundBox()
}

// Tick один шаг симуляции мастера
func (m *MovementController) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	p := m.params
	body := m.BoundBox()
	m.liquidPercentage, m.liquid = LiquidPercentage(m.world, body)

	for _, a := range m.approaches {
		m.applyApproach(a, dt)
	}
	m.approaches = m.approaches[:0]

	if p.GravityEnabled && !m.stuck {
		g := p.Gravity * p.GravityMultiplier * CellGravity(m.world, body.Center())
		buoyancy := m.liquidPercentage*p.LiquidBuoyancy + (1-m.liquidPercentage)*p.AirBuoyancy
		m.velocity.Y -= g * (1 - buoyancy) * dt
	}
	m.velocity = m.velocity.Add(m.force.Mul(dt / p.Mass))
	m.force = vec.Vec2F{}

	if p.FrictionEnabled {
		m.applyFriction(dt)
	}
	if m.liquidPercentage > 0 && p.LiquidImpedance > 0 {
		m.velocity = m.velocity.Mul(math.Max(0, 1-p.LiquidImpedance*m.liquidPercentage*dt))
	}
	if p.SpeedLimit > 0 && m.velocity.Length() > p.SpeedLimit {
		m.velocity = m.velocity.Normalized().Mul(p.SpeedLimit)
	}

	if m.stuck {
		return
	}
	m.move(m.velocity.Add(m.surfaceVelocity).Mul(dt))
	m.position = m.world.Geometry().WrapF(m.position)
}

func (m *MovementController) applyApproach(a approach, dt float64) {
	maxDelta := a.force / m.params.Mass * dt
	step := func(cur, target float64) float64 {
		d := target - cur
		if math.Abs(d) <= maxDelta {
			return target
		}
		return cur + math.Copysign(maxDelta, d)
	}
	switch a.axis {
	case 0:
		m.velocity.X = step(m.velocity.X, a.target.X)
	case 1:
		m.velocity.Y = step(m.velocity.Y, a.target.Y)
	default:
		d := a.target.Sub(m.velocity)
		if d.Length() <= maxDelta {
			m.velocity = a.target
		} else {
			m.velocity = m.velocity.Add(d.Normalized().Mul(maxDelta))
		}
	}
}

func (m *MovementController) applyFriction(dt float64) {
	p := m.params
	friction := p.AirFriction*(1-m.liquidPercentage) + p.LiquidFriction*m.liquidPercentage
	if m.onGround {
		ground := p.GroundFriction
		if m.ambulating {
			ground = p.AmbulatingGroundFriction
		}
		friction = math.Max(friction, ground)
		d := friction * dt
		if math.Abs(m.velocity.X) <= d {
			m.velocity.X = 0
		} else {
			m.velocity.X -= math.Copysign(d, m.velocity.X)
		}
		return
	}
	if friction <= 0 {
		return
	}
	d := friction * dt
	if m.velocity.Length() <= d {
		m.velocity = vec.Vec2F{}
		return
	}
	m.velocity = m.velocity.Sub(m.velocity.Normalized().Mul(d))
}

// move двигает тело подшагами не длиннее MaxMovementPerStep
func (m *MovementController) move(delta vec.Vec2F) {
	p := m.params
	m.onGround = false
	m.hitCeiling = false
	m.colliding = false
	m.surfaceVelocity = vec.Vec2F{}

	if !p.CollisionEnabled {
		m.position = m.position.Add(delta)
		return
	}

	steps := int(math.Ceil(delta.Length() / p.MaxMovementPerStep))
	if steps < 1 {
		steps = 1
	}
	step := delta.Mul(1 / float64(steps))
	for i := 0; i < steps; i++ {
		prevBottom := m.BoundBox().Min.Y
		m.position = m.position.Add(step)
		bounced := m.resolve(prevBottom)
		if m.stuck || (bounced && p.StopOnFirstBounce) {
			break
		}
	}

	if !m.onGround && m.velocity.Y <= 0 {
		m.onGround = m.probeGround()
	}
}

// resolve выталкивает тело из препятствий; true если был отскок
func (m *MovementController) resolve(prevBottom float64) bool {
	p := m.params
	bounced := false
	for iter := 0; iter < 8; iter++ {
		body := m.CollisionBody()
		var (
			best      vec.Vec2F
			bestDepth float64
			bestBlock *CollisionBlock
		)
		blocks := CollisionBlocks(m.world, body.BoundBox().Padded(0.01))
		for i := range blocks {
			b := &blocks[i]
			corr, ok := m.blockCorrection(body, b, prevBottom)
			if !ok {
				continue
			}
			if d := corr.Length(); d > bestDepth {
				best, bestDepth, bestBlock = corr, d, b
			}
		}
		if bestBlock == nil {
			return bounced
		}

		m.position = m.position.Add(best)
		m.colliding = true
		normal := best.Normalized()
		if normal.Y > 0.5 {
			m.onGround = true
			m.surfaceVelocity = bestBlock.Velocity
		} else if normal.Y < -0.5 {
			m.hitCeiling = true
		}

		if p.StickyCollision {
			m.velocity = vec.Vec2F{}
			m.stuck = true
			return bounced
		}
		vn := m.velocity.Dot(normal)
		if vn < 0 {
			if p.BounceFactor > 0 {
				m.velocity = m.velocity.Sub(normal.Mul((1 + p.BounceFactor) * vn))
				bounced = true
			} else {
				m.velocity = m.velocity.Sub(normal.Mul(vn))
			}
		}
	}
	return bounced
}

// blockCorrection коррекция для одного блока с учётом платформ и ступенек
func (m *MovementController) blockCorrection(body Poly, b *CollisionBlock, prevBottom float64) (vec.Vec2F, bool) {
	p := m.params
	top := b.Poly.BoundBox().Max.Y
	bottom := body.BoundBox().Min.Y

	if b.Kind == tile.CollisionPlatform {
		if p.IgnorePlatformCollision || m.ignorePlatforms || m.velocity.Y > 0 {
			return vec.Vec2F{}, false
		}
		if prevBottom < top-p.MaximumPlatformCorrection-1e-6 {
			return vec.Vec2F{}, false
		}
		return body.DirectionalSeparation(b.Poly, vec.Vec2F{Y: 1})
	}
	if !b.Kind.IsSolid() {
		return vec.Vec2F{}, false
	}

	corr, ok := body.Separation(b.Poly)
	if !ok || corr.LengthSquared() < 1e-12 {
		return vec.Vec2F{}, false
	}
	if p.EnableSurfaceSlopeCorrection && math.Abs(corr.X) > math.Abs(corr.Y) {
		step := top - bottom
		if step > 0 && step <= p.MaximumCorrection && m.velocity.Y <= 0 {
			up := vec.Vec2F{Y: step + 1e-6}
			if !m.overlapsSolid(body.Translated(up)) {
				return up, true
			}
		}
	}
	return corr, true
}

func (m *MovementController) overlapsSolid(body Poly) bool {
	for _, b := range CollisionBlocks(m.world, body.BoundBox()) {
		if !b.Kind.IsSolid() {
			continue
		}
		if sep, hit := body.Separation(b.Poly); hit && sep.LengthSquared() >= 1e-12 {
			return true
		}
	}
	return false
}

func (m *MovementController) probeGround() bool {
	box := m.BoundBox()
	probe := vec.NewRectF(box.Min.X+0.01, box.Min.Y-0.05, box.Max.X-0.01, box.Min.Y)
	platforms := !m.params.IgnorePlatformCollision && !m.ignorePlatforms
	return RectCollides(m.world, probe, platforms)
}

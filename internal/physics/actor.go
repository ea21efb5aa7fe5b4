package physics

import (
	"math"

	"github.com/annel0/tileverse/internal/vec"
)

// JumpProfile параметры прыжка в воздухе или в жидкости
type JumpProfile struct {
	JumpSpeed             float64 `json:"jumpSpeed"`
	JumpInitialPercentage float64 `json:"jumpInitialPercentage"`
	JumpHoldTime          float64 `json:"jumpHoldTime"`
	MultiJump             bool    `json:"multiJump"`
	ReJumpDelay           float64 `json:"reJumpDelay"`
	AutoJump              bool    `json:"autoJump"`
	CollisionCancelled    bool    `json:"collisionCancelled"`
}

// ActorMovementParameters параметры управляемого актёра
type ActorMovementParameters struct {
	Movement MovementParameters `json:"movement"`

	WalkSpeed float64 `json:"walkSpeed"`
	RunSpeed  float64 `json:"runSpeed"`
	FlySpeed  float64 `json:"flySpeed"`
	SwimSpeed float64 `json:"swimSpeed"`

	AirForce    float64 `json:"airForce"`
	GroundForce float64 `json:"groundForce"`
	LiquidForce float64 `json:"liquidForce"`
	FlyForce    float64 `json:"flyForce"`

	AirJump    JumpProfile `json:"airJumpProfile"`
	LiquidJump JumpProfile `json:"liquidJumpProfile"`

	StandingPoly  Poly `json:"standingPoly"`
	CrouchingPoly Poly `json:"crouchingPoly"`

	MinimumLiquidPercentage   float64 `json:"minimumLiquidPercentage"`
	GroundMovementSustainTime float64 `json:"groundMovementSustainTime"`
	FallStatusSpeedMin        float64 `json:"fallStatusSpeedMin"`
	FallThroughSustainFrames  int     `json:"fallThroughSustainFrames"`

	CanFly bool `json:"canFly"`
}

// DefaultActorMovementParameters параметры гуманоида
func DefaultActorMovementParameters() ActorMovementParameters {
	return ActorMovementParameters{
		Movement:    DefaultMovementParameters(),
		WalkSpeed:   8,
		RunSpeed:    14,
		FlySpeed:    10,
		SwimSpeed:   6,
		AirForce:    50,
		GroundForce: 120,
		LiquidForce: 30,
		FlyForce:    60,
		AirJump: JumpProfile{
			JumpSpeed:             20,
			JumpInitialPercentage: 0.75,
			JumpHoldTime:          0.1,
			ReJumpDelay:           0.05,
			CollisionCancelled:    true,
		},
		LiquidJump: JumpProfile{
			JumpSpeed:             10,
			JumpInitialPercentage: 1,
			JumpHoldTime:          0.2,
			MultiJump:             true,
			ReJumpDelay:           0.2,
			AutoJump:              true,
		},
		StandingPoly:              BoxPoly(0.9, 1.9),
		CrouchingPoly:             BoxPoly(0.9, 0.9),
		MinimumLiquidPercentage:   0.5,
		GroundMovementSustainTime: 0.1,
		FallStatusSpeedMin:        -4,
		FallThroughSustainFrames:  3,
	}
}

// ActorMovementModifiers модификаторы от статусов; перемножаются и объединяются
type ActorMovementModifiers struct {
	GroundMovementModifier float64
	LiquidMovementModifier float64
	SpeedModifier          float64
	AirJumpModifier        float64
	LiquidJumpModifier     float64
	RunningSuppressed      bool
	JumpingSuppressed      bool
	MovementSuppressed     bool
	FacingSuppressed       bool
}

// NoModifiers нейтральные модификаторы
func NoModifiers() ActorMovementModifiers {
	return ActorMovementModifiers{
		GroundMovementModifier: 1,
		LiquidMovementModifier: 1,
		SpeedModifier:          1,
		AirJumpModifier:        1,
		LiquidJumpModifier:     1,
	}
}

// Combine объединяет два набора модификаторов
func (a ActorMovementModifiers) Combine(b ActorMovementModifiers) ActorMovementModifiers {
	return ActorMovementModifiers{
		GroundMovementModifier: a.GroundMovementModifier * b.GroundMovementModifier,
		LiquidMovementModifier: a.LiquidMovementModifier * b.LiquidMovementModifier,
		SpeedModifier:          a.SpeedModifier * b.SpeedModifier,
		AirJumpModifier:        a.AirJumpModifier * b.AirJumpModifier,
		LiquidJumpModifier:     a.LiquidJumpModifier * b.LiquidJumpModifier,
		RunningSuppressed:      a.RunningSuppressed || b.RunningSuppressed,
		JumpingSuppressed:      a.JumpingSuppressed || b.JumpingSuppressed,
		MovementSuppressed:     a.MovementSuppressed || b.MovementSuppressed,
		FacingSuppressed:       a.FacingSuppressed || b.FacingSuppressed,
	}
}

type actorControls struct {
	move      int
	run       bool
	crouch    bool
	jump      bool
	down      bool
	fly       *vec.Vec2F
	approachX *struct{ target, force float64 }
	modifiers ActorMovementModifiers
}

// ActorMovementController управление актёром поверх физического тела
type ActorMovementController struct {
	*MovementController
	params ActorMovementParameters

	controls     actorControls
	lastJump     bool
	facing       int
	walking      bool
	running      bool
	crouching    bool
	flying       bool
	falling      bool
	jumping      bool
	groundTimer  float64
	jumpHold     float64
	reJumpTimer  float64
	airJumpsUsed bool
	fallThrough  int
}

// NewActorMovementController создаёт актёра в точке position
func NewActorMovementController(world CollisionWorld, params ActorMovementParameters, position vec.Vec2F) *ActorMovementController {
	if len(params.StandingPoly) == 0 {
		params.StandingPoly = params.Movement.CollisionPoly
	}
	if len(params.CrouchingPoly) == 0 {
		params.CrouchingPoly = params.StandingPoly
	}
	mp := params.Movement
	mp.CollisionPoly = params.StandingPoly
	a := &ActorMovementController{
		MovementController: NewMovementController(world, mp, position),
		params:             params,
		facing:             1,
	}
	a.resetControls()
	return a
}

// ActorParameters параметры актёра
func (a *ActorMovementController) ActorParameters() ActorMovementParameters { return a.params }

func (a *ActorMovementController) resetControls() {
	a.controls = actorControls{modifiers: NoModifiers()}
}

// ControlMove идти влево (-1) или вправо (1); run включает бег
func (a *ActorMovementController) ControlMove(dir int, run bool) {
	if dir > 0 {
		a.controls.move = 1
	} else if dir < 0 {
		a.controls.move = -1
	}
	a.controls.run = run
}

// ControlJump удерживать прыжок на этом шаге
func (a *ActorMovementController) ControlJump() { a.controls.jump = true }

// ControlCrouch приседать
func (a *ActorMovementController) ControlCrouch() { a.controls.crouch = true }

// ControlDown спрыгнуть сквозь платформу
func (a *ActorMovementController) ControlDown() { a.controls.down = true }

// ControlFly лететь в направлении dir
func (a *ActorMovementController) ControlFly(dir vec.Vec2F) {
	a.controls.fly = &dir
}

// ControlApproachXVelocity задать горизонтальную скорость напрямую
func (a *ActorMovementController) ControlApproachXVelocity(target, force float64) {
	a.controls.approachX = &struct{ target, force float64 }{target, force}
}

// ControlModifiers добавить модификаторы на этот шаг
func (a *ActorMovementController) ControlModifiers(m ActorMovementModifiers) {
	a.controls.modifiers = a.controls.modifiers.Combine(m)
}

func (a *ActorMovementController) Facing() int { return a.facing }
func (a *ActorMovementController) Walking() bool { return a.walking }
func (a *ActorMovementController) Running() bool { return a.running }
func (a *ActorMovementController) Crouching() bool { return a.crouching }
func (a *ActorMovementController) Flying() bool { return a.flying }
func (a *ActorMovementController) Falling() bool { return a.falling }
func (a *ActorMovementController) Jumping() bool { return a.jumping }

// Grounded актёр на земле с учётом задержки после отрыва
func (a *ActorMovementController) Grounded() bool { return a.groundTimer > 0 }

// InLiquid актёр достаточно погружён, чтобы плыть
func (a *ActorMovementController) InLiquid() bool {
	return a.LiquidPercentage() >= a.params.MinimumLiquidPercentage
}

// Tick шаг мастера: применяет накопленное управление и двигает тело
func (a *ActorMovementController) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	c := a.controls
	mods := c.modifiers
	p := a.params

	if a.MovementController.OnGround() {
		a.groundTimer = p.GroundMovementSustainTime
		a.airJumpsUsed = false
	} else if a.groundTimer > 0 {
		a.groundTimer -= dt
	}
	grounded := a.groundTimer > 0
	inLiquid := a.InLiquid()

	a.setCrouching(c.crouch && grounded && !mods.MovementSuppressed)

	if c.down {
		a.fallThrough = p.FallThroughSustainFrames
	}
	a.SetIgnorePlatforms(a.fallThrough > 0)
	if a.fallThrough > 0 {
		a.fallThrough--
	}

	mp := a.MovementController.Parameters()
	a.flying = c.fly != nil && p.CanFly
	mp.GravityEnabled = p.Movement.GravityEnabled && !a.flying
	a.MovementController.SetParameters(mp)

	if a.reJumpTimer > 0 {
		a.reJumpTimer -= dt
	}

	move := c.move
	if mods.MovementSuppressed {
		move = 0
	}

	if a.flying {
		dir := c.fly.Normalized()
		a.ApproachVelocity(dir.Mul(p.FlySpeed*mods.SpeedModifier), p.FlyForce)
		a.jumping = false
	} else {
		a.updateJump(c, mods, grounded, inLiquid, dt)

		speed := p.WalkSpeed
		running := c.run && !mods.RunningSuppressed
		if running {
			speed = p.RunSpeed
		}
		if inLiquid {
			speed = p.SwimSpeed * mods.LiquidMovementModifier
		} else if grounded {
			speed *= mods.GroundMovementModifier
		}
		speed *= mods.SpeedModifier

		force := p.AirForce
		switch {
		case inLiquid:
			force = p.LiquidForce
		case grounded:
			force = p.GroundForce
		}
		if a.crouching {
			move = 0
		}
		switch {
		case c.approachX != nil:
			a.ApproachXVelocity(c.approachX.target, c.approachX.force)
		case move != 0:
			a.ApproachXVelocity(float64(move)*speed, force)
		case grounded:
			a.ApproachXVelocity(0, force)
		}
		a.walking = move != 0 && grounded && !running
		a.running = move != 0 && grounded && running
	}
	if move != 0 && !mods.FacingSuppressed {
		a.facing = move
	}
	a.SetAmbulating(move != 0 || c.approachX != nil)

	a.MovementController.Tick(dt)

	if a.HitCeiling() && a.jumping && a.currentJumpProfile(inLiquid).CollisionCancelled {
		a.jumpHold = 0
	}
	a.falling = !a.MovementController.OnGround() && !a.flying && a.Velocity().Y < p.FallStatusSpeedMin
	a.lastJump = c.jump
	a.resetControls()
}

func (a *ActorMovementController) currentJumpProfile(inLiquid bool) JumpProfile {
	if inLiquid {
		return a.params.LiquidJump
	}
	return a.params.AirJump
}

func (a *ActorMovementController) updateJump(c actorControls, mods ActorMovementModifiers, grounded, inLiquid bool, dt float64) {
	profile := a.currentJumpProfile(inLiquid)
	modifier := mods.AirJumpModifier
	if inLiquid {
		modifier = mods.LiquidJumpModifier
	}
	speed := profile.JumpSpeed * modifier

	pressed := c.jump && (!a.lastJump || profile.AutoJump)
	canJump := grounded || inLiquid || (profile.MultiJump && !a.airJumpsUsed)
	if pressed && canJump && a.reJumpTimer <= 0 && !mods.JumpingSuppressed {
		v := a.Velocity()
		v.Y = speed * profile.JumpInitialPercentage
		a.SetVelocity(v)
		a.jumping = true
		a.jumpHold = profile.JumpHoldTime
		a.reJumpTimer = profile.ReJumpDelay
		a.groundTimer = 0
		if !grounded && !inLiquid {
			a.airJumpsUsed = true
		}
		return
	}

	if a.jumping && c.jump && a.jumpHold > 0 {
		v := a.Velocity()
		v.Y = math.Max(v.Y, speed)
		a.SetVelocity(v)
		a.jumpHold -= dt
		return
	}
	if a.Velocity().Y <= 0 || !c.jump {
		a.jumping = false
		a.jumpHold = 0
	}
}

func (a *ActorMovementController) setCrouching(crouch bool) {
	if crouch == a.crouching {
		return
	}
	mp := a.MovementController.Parameters()
	if crouch {
		mp.CollisionPoly = a.params.CrouchingPoly
	} else {
		mp.CollisionPoly = a.params.StandingPoly
		// встать можно только если над головой свободно
		if a.overlapsSolid(mp.CollisionPoly.Translated(a.Position())) {
			return
		}
	}
	a.MovementController.SetParameters(mp)
	a.crouching = crouch
}

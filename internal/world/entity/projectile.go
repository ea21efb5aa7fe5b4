package entity

import (
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// ProjectileConfig конфигурация снаряда
type ProjectileConfig struct {
	Name       string     `json:"projectileName"`
	Velocity   vec.Vec2F  `json:"velocity"`
	TimeToLive float64    `json:"timeToLive"`
	Power      float64    `json:"power"`
	DamageKind DamageKind `json:"damageKind"`
	Knockback  float64    `json:"knockback,omitempty"`
	// Poly область урона относительно позиции
	Poly          physics.Poly `json:"damagePoly,omitempty"`
	StatusEffects []string     `json:"statusEffects,omitempty"`
	RepeatGroup   string       `json:"damageRepeatGroup,omitempty"`
	RepeatTimeout float64      `json:"damageRepeatTimeout,omitempty"`
	SourceKind    string       `json:"damageSourceKind,omitempty"`

	Gravity  bool `json:"gravityEnabled,omitempty"`
	Bounces  int  `json:"bounces,omitempty"`
	Piercing bool `json:"piercing,omitempty"`

	// TileDamage урон по клеткам при столкновении; Amount 0 отключает
	TileDamage      tile.Damage `json:"tileDamage,omitempty"`
	TileDamageRange int32       `json:"tileDamageRadius,omitempty"`

	Scripts     []string `json:"scripts,omitempty"`
	ScriptDelta int      `json:"scriptDelta,omitempty"`
}

func (c ProjectileConfig) poly() physics.Poly {
	if len(c.Poly) > 0 {
		return c.Poly
	}
	return physics.BoxPoly(0.5, 0.5)
}

// Projectile снаряд: летит, наносит урон и исчезает по времени или при ударе
type Projectile struct {
	Base
	config ProjectileConfig
	script *ScriptComponent

	movement *physics.MovementController
	velocity *netelement.NetVec2F
	source   *netelement.NetInt
	team     *netelement.NetData[EntityDamageTeam]

	timeToLive float64
	bounces    int
}

// NewProjectile создаёт снаряд; источник и команда задаются SetSource
func NewProjectile(deps *Deps, cfg ProjectileConfig) *Projectile {
	p := &Projectile{
		Base:       newBase(EntityTypeProjectile, cfg.poly().BoundBox()),
		config:     cfg,
		velocity:   netelement.NewNetVec2F(cfg.Velocity),
		source:     netelement.NewNetInt(0),
		team:       netelement.NewNetData(netelement.JSONCodec[EntityDamageTeam](), EntityDamageTeam{Type: TeamIndiscriminate}),
		timeToLive: cfg.TimeToLive,
		bounces:    cfg.Bounces,
	}
	p.net.AddNetElement(p.velocity)
	p.net.AddNetElement(p.source)
	p.net.AddNetElement(p.team)
	if len(cfg.Scripts) > 0 {
		p.script = NewScriptComponent(p, cfg.Scripts, cfg.ScriptDelta)
	}
	return p
}

// SetSource сущность, выпустившая снаряд, и её команда
func (p *Projectile) SetSource(id EntityID, team EntityDamageTeam) {
	p.source.Set(int64(id))
	p.team.Set(team)
}

// SourceEntity источник снаряда
func (p *Projectile) SourceEntity() EntityID { return EntityID(p.source.Get()) }

// TimeToLive оставшееся время жизни
func (p *Projectile) TimeToLive() float64 { return p.timeToLive }

func (p *Projectile) Velocity() vec.Vec2F { return p.velocity.Get() }

func (p *Projectile) Script() *ScriptComponent { return p.script }

func (p *Projectile) Init(world World, id EntityID, mode EntityMode) {
	p.Base.Init(world, id, mode)
	if !mode.IsMaster() {
		return
	}
	params := physics.DefaultMovementParameters()
	params.CollisionPoly = p.config.poly()
	params.GravityEnabled = p.config.Gravity
	params.FrictionEnabled = false
	params.BounceFactor = 0
	if p.config.Bounces > 0 {
		params.BounceFactor = 1
	}
	p.movement = physics.NewMovementController(world, params, p.Position())
	p.movement.SetVelocity(p.velocity.Get())
	if p.script != nil {
		if err := p.script.Init(world); err != nil {
			p.logger.Warn("⚠️ Скрипты снаряда %s не загружены: %v", p.config.Name, err)
		}
	}
}

func (p *Projectile) Uninit() {
	if p.script != nil {
		p.script.Uninit()
	}
	p.movement = nil
	p.Base.Uninit()
}

func (p *Projectile) Update(dt float64, step uint64) {
	if !p.IsMaster() {
		p.tickSlave(dt)
		return
	}
	if p.script != nil {
		p.script.Update(dt)
	}
	p.timeToLive -= dt
	if p.timeToLive <= 0 {
		p.reap()
		return
	}
	p.movement.Tick(dt)
	p.Base.SetPosition(p.movement.Position())
	p.velocity.Set(p.movement.Velocity())
	if p.movement.Colliding() {
		p.hitTiles()
		if p.bounces > 0 {
			p.bounces--
		} else {
			p.reap()
		}
	}
}

func (p *Projectile) hitTiles() {
	if p.config.TileDamage.Amount <= 0 {
		return
	}
	center := p.Position().Floor()
	r := p.config.TileDamageRange
	var positions []vec.Vec2
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			positions = append(positions, center.Add(vec.V2(x, y)))
		}
	}
	p.world.DamageTiles(positions, tile.Foreground, p.Position(), p.config.TileDamage, p.id)
}

func (p *Projectile) reap() {
	if p.ShouldDestroy() {
		return
	}
	if p.script != nil {
		p.script.InvokeIfExists("destroy")
	}
	p.MarkDestroy()
}

// DamageSources область урона в координатах мира
func (p *Projectile) DamageSources() []DamageSource {
	if p.ShouldDestroy() || p.config.Power <= 0 {
		return nil
	}
	return []DamageSource{{
		Kind:           p.config.DamageKind,
		Damage:         p.config.Power,
		Area:           p.config.poly().Translated(p.Position()),
		SourceEntityID: p.SourceEntity(),
		Team:           p.team.Get(),
		RepeatGroup:    p.config.RepeatGroup,
		RepeatTimeout:  p.config.RepeatTimeout,
		SourceKind:     p.config.SourceKind,
		StatusEffects:  p.config.StatusEffects,
		Knockback:      p.config.Knockback,
	}}
}

// HitOther непробивающий снаряд исчезает после первого попадания
func (p *Projectile) HitOther(target EntityID, req DamageRequest) {
	if !p.config.Piercing {
		p.reap()
	}
}

func (p *Projectile) DamagedOther(n DamageNotification) {}

func (p *Projectile) NetStore(rules netelement.CompatibilityRules) []byte {
	return p.netStore(p.config, rules)
}

func loadProjectileNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg ProjectileConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	p := NewProjectile(deps, cfg)
	return p, p.loadState(state, rules)
}

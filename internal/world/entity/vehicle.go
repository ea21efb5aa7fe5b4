package entity

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// LoungeControl управляющее действие сидящего
type LoungeControl uint8

const (
	ControlLeft LoungeControl = iota
	ControlRight
	ControlUp
	ControlDown
	ControlJump
	ControlPrimaryFire
	ControlAltFire
)

var loungeControlNames = [...]string{"Left", "Right", "Up", "Down", "Jump", "PrimaryFire", "AltFire"}

func (c LoungeControl) String() string {
	if int(c) < len(loungeControlNames) {
		return loungeControlNames[c]
	}
	return fmt.Sprintf("LoungeControl(%d)", c)
}

// ParseLoungeControl разбирает имя управляющего действия
func ParseLoungeControl(s string) (LoungeControl, error) {
	for i, n := range loungeControlNames {
		if n == s {
			return LoungeControl(i), nil
		}
	}
	return 0, fmt.Errorf("неизвестное управление %q", s)
}

// VehicleControlMessage сообщение, которым клиент передаёт управление транспорту
const VehicleControlMessage = "vehicle.control"

// VehiclePlatform подвижное препятствие транспорта относительно позиции
type VehiclePlatform struct {
	Poly physics.Poly       `json:"poly"`
	Kind tile.CollisionKind `json:"kind"`
}

// VehicleConfig конфигурация транспорта
type VehicleConfig struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Scripts     []string `json:"scripts,omitempty"`
	ScriptDelta int      `json:"scriptDelta,omitempty"`

	Movement  *physics.MovementParameters `json:"movementSettings,omitempty"`
	Platforms []VehiclePlatform           `json:"platforms,omitempty"`

	LoungePositions []LoungeAnchor `json:"loungePositions,omitempty"`
	// MoveSpeed скорость при управлении без скрипта
	MoveSpeed    float64 `json:"moveSpeed,omitempty"`
	ControlForce float64 `json:"controlForce,omitempty"`

	Health     float64                `json:"health,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Persistent *bool                  `json:"persistent,omitempty"`
	UniqueID   string                 `json:"uniqueId,omitempty"`
}

func (c VehicleConfig) movement() physics.MovementParameters {
	if c.Movement != nil {
		return *c.Movement
	}
	p := physics.DefaultMovementParameters()
	p.CollisionPoly = physics.BoxPoly(4, 2)
	return p
}

type vehicleState struct {
	Velocity  vec.Vec2F `json:"velocity"`
	Health    float64   `json:"health,omitempty"`
	Direction int       `json:"direction"`
}

// Vehicle транспорт: физическое тело с платформами и местами для сидения
type Vehicle struct {
	Base
	config VehicleConfig
	script *ScriptComponent

	movement  *physics.MovementController
	velocity  *netelement.NetVec2F
	health    *netelement.NetFloat
	direction *netelement.NetInt

	// controls нажатые действия по точкам привязки, только у мастера
	controls map[int]map[LoungeControl]bool
}

// NewVehicle создаёт транспорт
func NewVehicle(cfg VehicleConfig) *Vehicle {
	box := cfg.movement().CollisionPoly.BoundBox()
	for _, p := range cfg.Platforms {
		box = box.Combined(p.Poly.BoundBox())
	}
	v := &Vehicle{
		Base:      newBase(EntityTypeVehicle, box),
		config:    cfg,
		velocity:  netelement.NewNetVec2F(vec.Vec2F{}),
		health:    netelement.NewNetFloat(cfg.Health),
		direction: netelement.NewNetInt(1),
		controls:  make(map[int]map[LoungeControl]bool),
	}
	v.health.SetInterpolator(nil)
	v.persistent = cfg.Persistent == nil || *cfg.Persistent
	if cfg.UniqueID != "" {
		v.uniqueID.Set(cfg.UniqueID)
	}
	v.net.AddNetElement(v.velocity)
	v.net.AddNetElement(v.health)
	v.net.AddNetElement(v.direction)
	if len(cfg.Scripts) > 0 {
		v.script = NewScriptComponent(v, cfg.Scripts, cfg.ScriptDelta)
	}
	return v
}

func (v *Vehicle) Script() *ScriptComponent { return v.script }

func (v *Vehicle) ConfigParameter(path string) (interface{}, bool) {
	return configLookup(v.config.Parameters, path)
}

func (v *Vehicle) Velocity() vec.Vec2F { return v.velocity.Get() }

func (v *Vehicle) Direction() int { return int(v.direction.Get()) }

// MovementController nil у ведомой копии
func (v *Vehicle) MovementController() *physics.MovementController { return v.movement }

// tileOnlyWorld скрывает подвижные препятствия, чтобы транспорт не сталкивался с собой
type tileOnlyWorld struct {
	physics.CollisionWorld
}

func (v *Vehicle) Init(world World, id EntityID, mode EntityMode) {
	v.Base.Init(world, id, mode)
	if !mode.IsMaster() {
		return
	}
	v.movement = physics.NewMovementController(tileOnlyWorld{world}, v.config.movement(), v.Position())
	v.movement.SetVelocity(v.velocity.Get())
	if v.script != nil {
		if err := v.script.Init(world); err != nil {
			v.logger.Warn("⚠️ Скрипты транспорта %s не загружены: %v", v.config.Name, err)
		}
	}
}

func (v *Vehicle) Uninit() {
	if v.script != nil {
		v.script.Uninit()
	}
	v.movement = nil
	v.Base.Uninit()
}

func (v *Vehicle) Update(dt float64, step uint64) {
	if !v.IsMaster() {
		v.tickSlave(dt)
		return
	}
	if v.script != nil && v.script.Initialized() {
		v.script.Update(dt)
	} else {
		v.drive()
	}
	v.movement.Tick(dt)
	v.Base.SetPosition(v.movement.Position())
	v.velocity.Set(v.movement.Velocity())
}

// drive управление без скрипта: первая управляемая точка двигает транспорт
func (v *Vehicle) drive() {
	for i, a := range v.config.LoungePositions {
		if !a.Controllable {
			continue
		}
		speed := v.config.MoveSpeed
		if speed <= 0 {
			speed = 10
		}
		force := v.config.ControlForce
		if force <= 0 {
			force = 40
		}
		target := 0.0
		if v.ControlHeld(i, ControlLeft) {
			target -= speed
		}
		if v.ControlHeld(i, ControlRight) {
			target += speed
		}
		if target != 0 {
			v.direction.Set(int64(math.Copysign(1, target)))
		}
		// тормозит сам транспорт, трение о землю не действует
		v.movement.SetAmbulating(true)
		v.movement.ApproachXVelocity(target, force)
		if !v.movement.Parameters().GravityEnabled {
			target = 0
			if v.ControlHeld(i, ControlUp) {
				target += speed
			}
			if v.ControlHeld(i, ControlDown) {
				target -= speed
			}
			v.movement.ApproachYVelocity(target, force)
		}
		return
	}
}

// SetControlHeld состояние управляющего действия на точке anchor
func (v *Vehicle) SetControlHeld(anchor int, control LoungeControl, held bool) {
	if anchor < 0 || anchor >= len(v.config.LoungePositions) || !v.config.LoungePositions[anchor].Controllable {
		return
	}
	m := v.controls[anchor]
	if m == nil {
		m = make(map[LoungeControl]bool)
		v.controls[anchor] = m
	}
	if held {
		m[control] = true
	} else {
		delete(m, control)
	}
}

// ControlHeld нажато ли действие на точке anchor
func (v *Vehicle) ControlHeld(anchor int, control LoungeControl) bool {
	return v.controls[anchor][control]
}

// ReceiveMessage принимает управление от сидящих, остальное отдаёт скрипту
func (v *Vehicle) ReceiveMessage(sender ConnectionID, message string, args []interface{}) (interface{}, bool, error) {
	if message == VehicleControlMessage {
		if len(args) != 3 {
			return nil, true, fmt.Errorf("%s: ожидается 3 аргумента, получено %d", message, len(args))
		}
		anchor, ok1 := args[0].(float64)
		name, ok2 := args[1].(string)
		held, ok3 := args[2].(bool)
		if !ok1 || !ok2 || !ok3 {
			return nil, true, fmt.Errorf("%s: неверные аргументы %v", message, args)
		}
		control, err := ParseLoungeControl(name)
		if err != nil {
			return nil, true, err
		}
		v.SetControlHeld(int(anchor), control, held)
		return nil, true, nil
	}
	if v.script == nil || v.world == nil {
		return nil, false, nil
	}
	return v.script.HandleMessage(message, sender == v.world.ConnectionID(), args)
}

// Physics

// MovingCollisions платформы транспорта, пересекающие область
func (v *Vehicle) MovingCollisions(area vec.RectF) []physics.MovingCollision {
	var out []physics.MovingCollision
	for _, p := range v.config.Platforms {
		poly := p.Poly.Translated(v.Position())
		if !poly.BoundBox().Intersects(area) {
			continue
		}
		out = append(out, physics.MovingCollision{Poly: poly, Kind: p.Kind, Velocity: v.velocity.Get()})
	}
	return out
}

// Interactive

func (v *Vehicle) IsInteractive() bool { return len(v.config.LoungePositions) > 0 || v.script != nil }

func (v *Vehicle) InteractiveBoundBox() vec.RectF { return WorldBoundBox(v) }

// Interact скрипт onInteraction, иначе первая свободная точка
func (v *Vehicle) Interact(req InteractRequest) InteractAction {
	if action, handled := scriptInteract(v.script, v.id, "onInteraction", req); handled {
		return action
	}
	for i := range v.config.LoungePositions {
		if len(v.EntitiesLoungingIn(i)) == 0 {
			return SitDown(v.id, i)
		}
	}
	return NoInteraction()
}

// Inspectable

func (v *Vehicle) InspectionDescription(species string) string { return v.config.Description }

func (v *Vehicle) InspectionLogName() string { return v.config.Name }

// Anchorable / Loungeable

func (v *Vehicle) AnchorCount() int { return len(v.config.LoungePositions) }

func (v *Vehicle) Anchor(index int) (EntityAnchor, bool) {
	a, ok := v.LoungeAnchor(index)
	return a.EntityAnchor, ok
}

func (v *Vehicle) LoungeAnchor(index int) (LoungeAnchor, bool) {
	if index < 0 || index >= len(v.config.LoungePositions) {
		return LoungeAnchor{}, false
	}
	a := v.config.LoungePositions[index]
	if v.Direction() < 0 {
		a.Position.X = -a.Position.X
		a.Direction = -a.Direction
	}
	return a, true
}

func (v *Vehicle) EntitiesLoungingIn(index int) []EntityID {
	return loungersOf(v.world, v, index)
}

// Damageable: только транспорт с запасом прочности

func (v *Vehicle) HitPoly() (physics.Poly, bool) {
	if v.config.Health <= 0 || v.Dead() {
		return nil, false
	}
	return v.config.movement().CollisionPoly.Translated(v.Position()), true
}

func (v *Vehicle) Team() EntityDamageTeam { return EntityDamageTeam{Type: TeamEnvironment} }

func (v *Vehicle) Dead() bool { return v.config.Health > 0 && v.health.Get() <= 0 }

func (v *Vehicle) QueryHit(source DamageSource) (HitType, bool) {
	if v.config.Health <= 0 || v.Dead() {
		return HitNormal, false
	}
	return HitNormal, source.Team.CanDamage(v.Team(), false)
}

func (v *Vehicle) ApplyDamage(req DamageRequest) []DamageNotification {
	if !v.IsMaster() || v.config.Health <= 0 || v.Dead() || req.Kind == DamageNone {
		return nil
	}
	before := v.health.Get()
	after := math.Max(0, before-req.Damage)
	v.health.Set(after)
	if v.movement != nil && !req.Knockback.IsZero() {
		v.movement.AddMomentum(req.Knockback)
	}
	hit := req.HitType
	if after <= 0 {
		hit = HitKill
		if v.script != nil {
			v.script.InvokeIfExists("die")
		}
		v.MarkDestroy()
	} else if v.script != nil {
		v.script.InvokeIfExists("applyDamage", req)
	}
	return []DamageNotification{{
		SourceEntityID:     req.SourceEntityID,
		TargetEntityID:     v.id,
		Position:           WorldBoundBox(v).Center(),
		DamageDealt:        req.Damage,
		HealthLost:         before - after,
		HitType:            hit,
		SourceKind:         req.SourceKind,
		TargetMaterialKind: "robotic",
	}}
}

func (v *Vehicle) NetStore(rules netelement.CompatibilityRules) []byte {
	return v.netStore(v.config, rules)
}

func (v *Vehicle) DiskStore() (json.RawMessage, error) {
	return storeDisk(&v.Base, v.config, vehicleState{
		Velocity:  v.velocity.Get(),
		Health:    v.health.Get(),
		Direction: v.Direction(),
	})
}

func loadVehicleNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg VehicleConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	v := NewVehicle(cfg)
	return v, v.loadState(state, rules)
}

func loadVehicleDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[VehicleConfig, vehicleState](data)
	if err != nil {
		return nil, err
	}
	v := NewVehicle(rec.Config)
	restoreBase(&v.Base, rec)
	v.velocity.Set(rec.State.Velocity)
	if rec.Config.Health > 0 {
		v.health.Set(rec.State.Health)
	}
	if rec.State.Direction != 0 {
		v.direction.Set(int64(rec.State.Direction))
	}
	return v, nil
}

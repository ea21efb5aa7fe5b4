package entity

import (
	"encoding/json"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
)

// ItemDescriptor предмет с количеством и параметрами экземпляра
type ItemDescriptor struct {
	Name       string                 `json:"name"`
	Count      uint64                 `json:"count"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Empty пустой предмет
func (d ItemDescriptor) Empty() bool { return d.Name == "" || d.Count == 0 }

// ItemDropMode стадия выпавшего предмета
type ItemDropMode uint8

const (
	// DropIntangible только что выпал, поднять ещё нельзя
	DropIntangible ItemDropMode = iota
	DropAvailable
	// DropTaken подобран, летит к подобравшему
	DropTaken
	DropDead
)

const (
	defaultPickupDelay = 1.0
	defaultDropAgeMax  = 600.0
	// takeAnimationTime время полёта к подобравшему до удаления
	takeAnimationTime = 0.3
	// plantDropFadeTime обломок растения исчезает после приземления
	plantDropFadeTime = 2.0
)

// ItemDropConfig конфигурация выпавшего предмета или обломка растения
type ItemDropConfig struct {
	Item     ItemDescriptor `json:"item"`
	Velocity vec.Vec2F      `json:"velocity,omitempty"`
	// PlantDrop обломок растения: не подбирается, исчезает после падения,
	// оставляя Item обычным выпавшим предметом
	PlantDrop   bool    `json:"plantDrop,omitempty"`
	PickupDelay float64 `json:"pickupDelay,omitempty"`
	// MaxAge 0 берёт значение по умолчанию, отрицательное отключает исчезновение
	MaxAge     float64 `json:"maxAge,omitempty"`
	Persistent bool    `json:"persistent,omitempty"`
}

func (c ItemDropConfig) pickupDelay() float64 {
	if c.PickupDelay > 0 {
		return c.PickupDelay
	}
	return defaultPickupDelay
}

func (c ItemDropConfig) maxAge() float64 {
	if c.MaxAge == 0 {
		return defaultDropAgeMax
	}
	return c.MaxAge
}

type itemDropState struct {
	Age  float64      `json:"age"`
	Mode ItemDropMode `json:"mode"`
}

var itemDropPoly = physics.BoxPoly(0.8, 0.8)

// ItemDrop выпавший предмет, лежащий в мире до подбора
type ItemDrop struct {
	Base
	config ItemDropConfig

	movement *physics.MovementController
	mode     *netelement.NetData[ItemDropMode]
	owner    *netelement.NetInt
	velocity *netelement.NetVec2F

	age      float64
	grounded float64
	taken    float64
}

// NewItemDrop создаёт выпавший предмет; тип сущности зависит от PlantDrop
func NewItemDrop(cfg ItemDropConfig) *ItemDrop {
	t := EntityTypeItemDrop
	if cfg.PlantDrop {
		t = EntityTypePlantDrop
	}
	d := &ItemDrop{
		Base:     newBase(t, itemDropPoly.BoundBox()),
		config:   cfg,
		mode:     netelement.NewNetData(netelement.EnumCodec[ItemDropMode](), DropIntangible),
		owner:    netelement.NewNetInt(0),
		velocity: netelement.NewNetVec2F(cfg.Velocity),
	}
	d.persistent = cfg.Persistent && !cfg.PlantDrop
	d.net.AddNetElement(d.mode)
	d.net.AddNetElement(d.owner)
	d.net.AddNetElement(d.velocity)
	return d
}

// Item переносимый предмет
func (d *ItemDrop) Item() ItemDescriptor { return d.config.Item }

func (d *ItemDrop) Mode() ItemDropMode { return d.mode.Get() }

// Age время в мире
func (d *ItemDrop) Age() float64 { return d.age }

func (d *ItemDrop) Velocity() vec.Vec2F { return d.velocity.Get() }

// CanTake предмет можно подобрать прямо сейчас
func (d *ItemDrop) CanTake() bool {
	return d.IsMaster() && !d.config.PlantDrop && d.mode.Get() == DropAvailable && !d.config.Item.Empty()
}

// TakeBy отдаёт предмет сущности taker. Повторный вызов возвращает false.
func (d *ItemDrop) TakeBy(taker EntityID) (ItemDescriptor, bool) {
	if !d.CanTake() {
		return ItemDescriptor{}, false
	}
	d.mode.Set(DropTaken)
	d.owner.Set(int64(taker))
	d.taken = 0
	return d.config.Item, true
}

// TakenBy сущность, подобравшая предмет
func (d *ItemDrop) TakenBy() (EntityID, bool) {
	if d.mode.Get() != DropTaken {
		return NullEntityID, false
	}
	return EntityID(d.owner.Get()), true
}

func (d *ItemDrop) Init(world World, id EntityID, mode EntityMode) {
	d.Base.Init(world, id, mode)
	if !mode.IsMaster() {
		return
	}
	params := physics.DefaultMovementParameters()
	params.CollisionPoly = itemDropPoly
	params.GroundFriction = 20
	d.movement = physics.NewMovementController(world, params, d.Position())
	d.movement.SetVelocity(d.velocity.Get())
}

func (d *ItemDrop) Uninit() {
	d.movement = nil
	d.Base.Uninit()
}

func (d *ItemDrop) Update(dt float64, step uint64) {
	if !d.IsMaster() {
		d.tickSlave(dt)
		return
	}
	d.age += dt
	switch d.mode.Get() {
	case DropIntangible:
		if d.age >= d.config.pickupDelay() && !d.config.PlantDrop {
			d.mode.Set(DropAvailable)
		}
	case DropAvailable:
		if limit := d.config.maxAge(); limit > 0 && d.age >= limit {
			d.mode.Set(DropDead)
		}
	case DropTaken:
		d.taken += dt
		if target := d.world.Entity(EntityID(d.owner.Get())); target != nil {
			d.Base.SetPosition(d.Position().Lerp(target.Position(), 0.5))
		}
		if d.taken >= takeAnimationTime {
			d.mode.Set(DropDead)
		}
		return
	case DropDead:
		d.MarkDestroy()
		return
	}

	d.movement.Tick(dt)
	d.Base.SetPosition(d.movement.Position())
	d.velocity.Set(d.movement.Velocity())

	if d.config.PlantDrop {
		if d.movement.OnGround() {
			d.grounded += dt
		}
		if d.grounded >= plantDropFadeTime {
			d.settlePlantDrop()
		}
	}
}

// settlePlantDrop превращает приземлившийся обломок в обычный предмет
func (d *ItemDrop) settlePlantDrop() {
	d.mode.Set(DropDead)
	if d.config.Item.Empty() {
		return
	}
	drop := NewItemDrop(ItemDropConfig{Item: d.config.Item, Persistent: true})
	drop.SetPosition(d.Position())
	if _, err := d.world.AddEntity(drop); err != nil {
		d.logger.Warn("⚠️ Предмет из обломка %s не создан: %v", d.config.Item.Name, err)
	}
}

func (d *ItemDrop) NetStore(rules netelement.CompatibilityRules) []byte {
	return d.netStore(d.config, rules)
}

func (d *ItemDrop) DiskStore() (json.RawMessage, error) {
	return storeDisk(&d.Base, d.config, itemDropState{Age: d.age, Mode: d.mode.Get()})
}

func loadItemDropNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg ItemDropConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	d := NewItemDrop(cfg)
	return d, d.loadState(state, rules)
}

func loadItemDropDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[ItemDropConfig, itemDropState](data)
	if err != nil {
		return nil, err
	}
	d := NewItemDrop(rec.Config)
	restoreBase(&d.Base, rec)
	d.age = rec.State.Age
	switch rec.State.Mode {
	case DropAvailable:
		d.mode.Set(DropAvailable)
	case DropTaken, DropDead:
		// предмет уже у подобравшего
		d.mode.Set(DropDead)
	}
	return d, nil
}

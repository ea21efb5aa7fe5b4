// Package entity модель сущностей мира: общий интерфейс, возможности,
// конкретные типы, фабрика и карта сущностей с поколениями слотов.
package entity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
)

// EntityID идентификатор сущности. Положительные выдаёт сервер,
// отрицательные принадлежат клиентам.
type EntityID = int32

// NullEntityID отсутствие сущности
const NullEntityID EntityID = 0

// ConnectionID номер соединения; 0 означает сервер
type ConnectionID = uint16

// ServerConnectionID соединение сервера
const ServerConnectionID ConnectionID = 0

var (
	// ErrEntityNotFound сущность с таким id не существует
	ErrEntityNotFound = errors.New("сущность не найдена")
	// ErrUnknownEntityType тип не зарегистрирован в фабрике
	ErrUnknownEntityType = errors.New("неизвестный тип сущности")
	// ErrNotInWorld сущность ещё не инициализирована
	ErrNotInWorld = errors.New("сущность не в мире")
)

// EntityType тип сущности
type EntityType uint8

const (
	EntityTypePlant EntityType = iota
	EntityTypeObject
	EntityTypeVehicle
	EntityTypeItemDrop
	EntityTypePlantDrop
	EntityTypeProjectile
	EntityTypeStagehand
	EntityTypeMonster
	EntityTypeNpc
	EntityTypePlayer
)

var entityTypeNames = [...]string{
	"plant", "object", "vehicle", "itemDrop", "plantDrop",
	"projectile", "stagehand", "monster", "npc", "player",
}

func (t EntityType) String() string {
	if int(t) < len(entityTypeNames) {
		return entityTypeNames[t]
	}
	return fmt.Sprintf("EntityType(%d)", t)
}

// ParseEntityType разбирает имя типа
func ParseEntityType(s string) (EntityType, error) {
	for i, n := range entityTypeNames {
		if n == s {
			return EntityType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

func (t EntityType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EntityType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseEntityType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// EntityMode режим экземпляра сущности
type EntityMode uint8

const (
	// ModeMaster владелец состояния
	ModeMaster EntityMode = iota
	// ModeSlave наблюдающая копия, применяющая дельты
	ModeSlave
	// ModeMasterAuthoritative мастер на сервере, клиентские дельты для него игнорируются
	ModeMasterAuthoritative
)

func (m EntityMode) String() string {
	switch m {
	case ModeMaster:
		return "master"
	case ModeSlave:
		return "slave"
	case ModeMasterAuthoritative:
		return "masterAuthoritative"
	}
	return fmt.Sprintf("EntityMode(%d)", m)
}

// IsMaster экземпляр владеет состоянием
func (m EntityMode) IsMaster() bool { return m != ModeSlave }

// Entity общий интерфейс всех сущностей мира
type Entity interface {
	EntityID() EntityID
	EntityType() EntityType
	EntityMode() EntityMode
	InWorld() bool
	Persistent() bool
	// UniqueID пустая строка означает отсутствие
	UniqueID() string
	Position() vec.Vec2F
	// MetaBoundBox прямоугольник относительно позиции
	MetaBoundBox() vec.RectF

	Init(world World, id EntityID, mode EntityMode)
	Uninit()

	// NetStore начальное состояние для EntityCreate
	NetStore(rules netelement.CompatibilityRules) []byte
	WriteNetState(fromVersion uint64, rules netelement.CompatibilityRules) ([]byte, uint64)
	ReadNetState(data []byte, version uint64, interpolationTime float64, rules netelement.CompatibilityRules) error
	IncrementNetVersion() uint64

	Update(dt float64, step uint64)
	ShouldDestroy() bool
	// Destroy вызывается перед удалением мастера из мира
	Destroy()

	// ReceiveMessage обрабатывает сообщение; handled=false если обработчика нет
	ReceiveMessage(sender ConnectionID, message string, args []interface{}) (result interface{}, handled bool, err error)
}

// WorldBoundBox прямоугольник сущности в координатах мира
func WorldBoundBox(e Entity) vec.RectF {
	return e.MetaBoundBox().Translated(e.Position())
}

// Base общие поля и реализация Entity, встраивается в конкретные типы
type Base struct {
	id         EntityID
	etype      EntityType
	mode       EntityMode
	world      World
	persistent bool
	destroy    bool
	boundBox   vec.RectF

	net      *netelement.TopGroup
	position *netelement.NetVec2F
	uniqueID *netelement.NetString

	logger *logging.Logger
}

func newBase(t EntityType, box vec.RectF) Base {
	b := Base{
		etype:    t,
		boundBox: box,
		net:      netelement.NewTopGroup(),
		position: netelement.NewNetVec2F(vec.Vec2F{}),
		uniqueID: netelement.NewNetString(""),
		logger:   logging.GetComponentLogger("entity"),
	}
	b.net.AddNetElement(b.position)
	b.net.AddNetElement(b.uniqueID)
	return b
}

func (b *Base) EntityID() EntityID { return b.id }
func (b *Base) EntityType() EntityType { return b.etype }
func (b *Base) EntityMode() EntityMode { return b.mode }
func (b *Base) InWorld() bool { return b.world != nil }
func (b *Base) Persistent() bool { return b.persistent }
func (b *Base) UniqueID() string { return b.uniqueID.Get() }
func (b *Base) Position() vec.Vec2F { return b.position.Get() }
func (b *Base) MetaBoundBox() vec.RectF { return b.boundBox }
func (b *Base) ShouldDestroy() bool { return b.destroy }
func (b *Base) World() World { return b.world }
func (b *Base) IsMaster() bool { return b.mode.IsMaster() }
func (b *Base) SetPersistent(p bool) { b.persistent = p }
func (b *Base) SetUniqueID(id string) { b.uniqueID.Set(id) }
func (b *Base) NetGroup() *netelement.TopGroup { return b.net }

// SetPosition задаёт позицию с нормализацией по ширине мира
func (b *Base) SetPosition(p vec.Vec2F) {
	if b.world != nil {
		p = b.world.Geometry().WrapF(p)
	}
	b.position.Set(p)
}

// MarkDestroy просит мир удалить сущность в конце шага
func (b *Base) MarkDestroy() { b.destroy = true }

func (b *Base) Init(world World, id EntityID, mode EntityMode) {
	b.world = world
	b.id = id
	b.mode = mode
	if mode == ModeSlave {
		b.net.EnableNetInterpolation()
	} else {
		b.net.DisableNetInterpolation()
	}
}

func (b *Base) Uninit() {
	b.world = nil
}

func (b *Base) WriteNetState(fromVersion uint64, rules netelement.CompatibilityRules) ([]byte, uint64) {
	return b.net.WriteNetState(fromVersion, rules)
}

func (b *Base) ReadNetState(data []byte, version uint64, interpolationTime float64, rules netelement.CompatibilityRules) error {
	if version == 0 {
		return b.net.LoadNetState(data, version, rules)
	}
	return b.net.ReadNetState(data, version, interpolationTime, rules)
}

func (b *Base) IncrementNetVersion() uint64 { return b.net.IncrementVersion() }

// tickSlave продвигает интерполяцию наблюдающей копии
func (b *Base) tickSlave(dt float64) {
	b.net.TickNetInterpolation(dt)
}

func (b *Base) Destroy() {}

func (b *Base) ReceiveMessage(ConnectionID, string, []interface{}) (interface{}, bool, error) {
	return nil, false, nil
}

// netStore пишет конфигурацию сущности и полное состояние дерева
func (b *Base) netStore(config interface{}, rules netelement.CompatibilityRules) []byte {
	ds := netelement.NewWriter()
	data, err := json.Marshal(config)
	if err != nil {
		b.logger.Error("❌ Сериализация конфигурации %s: %v", b.etype, err)
		data = []byte("null")
	}
	ds.WriteBytes(data)
	ds.WriteBytes(netelement.Store(&b.net.NetGroup, rules))
	return ds.Bytes()
}

// readNetStore разбирает запись netStore: конфигурация и состояние
func readNetStore(data []byte, config interface{}) ([]byte, error) {
	ds := netelement.NewReader(data)
	raw := ds.ReadBytes()
	state := ds.ReadBytes()
	if err := ds.Err(); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("конфигурация сущности: %w", err)
	}
	return state, nil
}

// loadState применяет полное состояние из netStore
func (b *Base) loadState(state []byte, rules netelement.CompatibilityRules) error {
	return netelement.Load(&b.net.NetGroup, state, rules)
}

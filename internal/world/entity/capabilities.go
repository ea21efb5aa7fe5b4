package entity

import (
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
)

// Capability имя возможности сущности
type Capability string

const (
	CapTile        Capability = "tile"
	CapInteractive Capability = "interactive"
	CapDamageable  Capability = "damageable"
	CapDamaging    Capability = "damaging"
	CapPortraited  Capability = "portraited"
	CapNametag     Capability = "nametag"
	CapInspectable Capability = "inspectable"
	CapLoungeable  Capability = "loungeable"
	CapChatty      Capability = "chatty"
	CapLounging    Capability = "lounging"
	CapPhysics     Capability = "physics"
	CapEmote       Capability = "emote"
	CapScripted    Capability = "scripted"
	CapAnchorable  Capability = "anchorable"
	CapPointable   Capability = "pointable"
	CapWire        Capability = "wire"
	CapPrivileged  Capability = "privileged"
)

// TileEntity сущность, занимающая клетки сетки
type TileEntity interface {
	Entity
	TilePosition() vec.Vec2
	// Spaces занятые клетки относительно TilePosition
	Spaces() []vec.Vec2
}

// InteractiveEntity сущность, с которой можно взаимодействовать
type InteractiveEntity interface {
	Entity
	IsInteractive() bool
	Interact(req InteractRequest) InteractAction
	InteractiveBoundBox() vec.RectF
}

// DamageableEntity сущность, получающая урон
type DamageableEntity interface {
	Entity
	HitPoly() (physics.Poly, bool)
	Team() EntityDamageTeam
	// QueryHit проверяет, может ли источник задеть сущность
	QueryHit(source DamageSource) (HitType, bool)
	ApplyDamage(req DamageRequest) []DamageNotification
	Dead() bool
}

// DamagingEntity сущность, наносящая урон
type DamagingEntity interface {
	Entity
	DamageSources() []DamageSource
	// HitOther вызывается, когда один из источников попал
	HitOther(target EntityID, req DamageRequest)
	DamagedOther(n DamageNotification)
}

// PortraitedEntity сущность с портретом для диалогов
type PortraitedEntity interface {
	Entity
	Portrait() string
}

// NametagEntity сущность с отображаемым именем
type NametagEntity interface {
	Entity
	Name() string
	StatusText() string
	DisplayNametag() bool
}

// InspectableEntity сущность с описанием для осмотра
type InspectableEntity interface {
	Entity
	InspectionDescription(species string) string
	InspectionLogName() string
}

// AnchorableEntity сущность с точками привязки
type AnchorableEntity interface {
	Entity
	AnchorCount() int
	Anchor(index int) (EntityAnchor, bool)
}

// LoungeableEntity сущность, на которой можно сидеть или лежать
type LoungeableEntity interface {
	AnchorableEntity
	LoungeAnchor(index int) (LoungeAnchor, bool)
	EntitiesLoungingIn(index int) []EntityID
}

// LoungingEntity сущность, которая может сидеть на другой
type LoungingEntity interface {
	Entity
	LoungingIn() (EntityID, int, bool)
	SetLounging(target EntityID, index int)
	StopLounging()
}

// ChattyEntity сущность, произносящая фразы
type ChattyEntity interface {
	Entity
	Say(text string)
	MouthPosition() vec.Vec2F
	PullPendingChat() []string
}

// PhysicsEntity сущность с подвижной геометрией столкновений
type PhysicsEntity interface {
	Entity
	physics.MovingCollisionSource
}

// EmoteEntity сущность с эмоциями
type EmoteEntity interface {
	Entity
	PlayEmote(emote string)
	CurrentEmote() string
}

// ScriptedEntity сущность со скриптовым компонентом
type ScriptedEntity interface {
	Entity
	Script() *ScriptComponent
}

// PointableEntity сущность, целящаяся в точку мира
type PointableEntity interface {
	Entity
	AimPosition() vec.Vec2F
	SetAimPosition(p vec.Vec2F)
}

// WireEntity сущность с проводными входами и выходами
type WireEntity interface {
	Entity
	NodeCount(dir WireDirection) int
	NodePosition(node WireNode) vec.Vec2
	ConnectionsForNode(node WireNode) []WireConnection
	AddNodeConnection(node WireNode, conn WireConnection)
	RemoveNodeConnection(node WireNode, conn WireConnection)
	RemoveAllConnections(node WireNode)
	NodeState(node WireNode) bool
	// SetInputState вызывается миром при распространении сигнала
	SetInputState(index int, level bool)
}

// PrivilegedEntity серверная сущность, которой разрешено менять тайлы
// в защищённых подземельях
type PrivilegedEntity interface {
	Entity
	TilePrivileged() bool
}

// As приводит сущность к интерфейсу возможности
func As[T any](e Entity) (T, bool) {
	t, ok := e.(T)
	return t, ok
}

// Has проверяет наличие возможности
func Has(e Entity, c Capability) bool {
	switch c {
	case CapTile:
		_, ok := e.(TileEntity)
		return ok
	case CapInteractive:
		_, ok := e.(InteractiveEntity)
		return ok
	case CapDamageable:
		_, ok := e.(DamageableEntity)
		return ok
	case CapDamaging:
		_, ok := e.(DamagingEntity)
		return ok
	case CapPortraited:
		_, ok := e.(PortraitedEntity)
		return ok
	case CapNametag:
		_, ok := e.(NametagEntity)
		return ok
	case CapInspectable:
		_, ok := e.(InspectableEntity)
		return ok
	case CapLoungeable:
		_, ok := e.(LoungeableEntity)
		return ok
	case CapChatty:
		_, ok := e.(ChattyEntity)
		return ok
	case CapLounging:
		_, ok := e.(LoungingEntity)
		return ok
	case CapPhysics:
		_, ok := e.(PhysicsEntity)
		return ok
	case CapEmote:
		_, ok := e.(EmoteEntity)
		return ok
	case CapScripted:
		_, ok := e.(ScriptedEntity)
		return ok
	case CapAnchorable:
		_, ok := e.(AnchorableEntity)
		return ok
	case CapPointable:
		_, ok := e.(PointableEntity)
		return ok
	case CapWire:
		_, ok := e.(WireEntity)
		return ok
	case CapPrivileged:
		_, ok := e.(PrivilegedEntity)
		return ok
	}
	return false
}

var allCapabilities = []Capability{
	CapTile, CapInteractive, CapDamageable, CapDamaging, CapPortraited, CapNametag,
	CapInspectable, CapLoungeable, CapChatty, CapLounging, CapPhysics, CapEmote,
	CapScripted, CapAnchorable, CapPointable, CapWire, CapPrivileged,
}

// Capabilities список возможностей сущности
func Capabilities(e Entity) []Capability {
	var out []Capability
	for _, c := range allCapabilities {
		if Has(e, c) {
			out = append(out, c)
		}
	}
	return out
}

// EntityAnchor точка привязки
type EntityAnchor struct {
	Position  vec.Vec2F `json:"position"`
	Direction int       `json:"direction"`
	Angle     float64   `json:"angle"`
}

// LoungeOrientation поза на точке привязки
type LoungeOrientation uint8

const (
	LoungeNone LoungeOrientation = iota
	LoungeSit
	LoungeLay
	LoungeStand
)

// LoungeAnchor точка привязки для сидения
type LoungeAnchor struct {
	EntityAnchor
	Orientation   LoungeOrientation `json:"orientation"`
	Emote         string            `json:"emote,omitempty"`
	Dance         string            `json:"dance,omitempty"`
	Controllable  bool              `json:"controllable"`
	StatusEffects []string          `json:"statusEffects,omitempty"`
}

// WireDirection вход или выход
type WireDirection uint8

const (
	WireInput WireDirection = iota
	WireOutput
)

func (d WireDirection) String() string {
	if d == WireInput {
		return "input"
	}
	return "output"
}

// WireNode узел сущности
type WireNode struct {
	Direction WireDirection `json:"direction"`
	Index     int           `json:"index"`
}

// WireConnection соединение с узлом другой сущности, адресуемой по клетке
type WireConnection struct {
	EntityLocation vec.Vec2 `json:"entityLocation"`
	NodeIndex      int      `json:"nodeIndex"`
}

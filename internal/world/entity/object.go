package entity

import (
	"encoding/json"
	"math"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
)

// ObjectConfig конфигурация размещаемого объекта
type ObjectConfig struct {
	Name        string `json:"objectName"`
	Description string `json:"description,omitempty"`

	Scripts     []string `json:"scripts,omitempty"`
	ScriptDelta int      `json:"scriptDelta,omitempty"`

	// Spaces занятые клетки относительно позиции; пусто означает одну клетку
	Spaces    []vec.Vec2 `json:"spaces,omitempty"`
	Direction int        `json:"direction,omitempty"`

	Interactive bool            `json:"interactive,omitempty"`
	Interaction *InteractAction `json:"interactAction,omitempty"`
	// Container объект открывается как контейнер
	Container bool `json:"container,omitempty"`

	InputNodes  []vec.Vec2 `json:"inputNodes,omitempty"`
	OutputNodes []vec.Vec2 `json:"outputNodes,omitempty"`

	LoungePositions []LoungeAnchor `json:"loungePositions,omitempty"`

	// Health больше нуля делает объект разрушаемым
	Health float64 `json:"health,omitempty"`

	Animation  map[string]string      `json:"animation,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	Persistent *bool  `json:"persistent,omitempty"`
	UniqueID   string `json:"uniqueId,omitempty"`
}

func (c ObjectConfig) spaces() []vec.Vec2 {
	if len(c.Spaces) == 0 {
		return []vec.Vec2{{}}
	}
	return c.Spaces
}

func spacesBox(spaces []vec.Vec2) vec.RectF {
	box := vec.NewRectF(math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1))
	for _, s := range spaces {
		box = box.Combined(vec.NewRectF(float64(s.X), float64(s.Y), float64(s.X+1), float64(s.Y+1)))
	}
	return box
}

type objectState struct {
	Direction   int                `json:"direction"`
	Health      float64            `json:"health,omitempty"`
	Inputs      [][]WireConnection `json:"inputConnections,omitempty"`
	Outputs     [][]WireConnection `json:"outputConnections,omitempty"`
	OutputLevel []bool             `json:"outputLevels,omitempty"`
	Interactive bool               `json:"interactive"`
	Animation   map[string]string  `json:"animation,omitempty"`
}

// Object тайловая сущность: занимает клетки, может быть интерактивной,
// проводной, разрушаемой и служить сиденьем
type Object struct {
	Base
	config   ObjectConfig
	deps     *Deps
	script   *ScriptComponent
	animator *Animator

	direction   *netelement.NetInt
	interactive *netelement.NetBool
	health      *netelement.NetFloat
	outputLevel *netelement.NetArray[bool]
	inputConns  *netelement.NetData[[][]WireConnection]
	outputConns *netelement.NetData[[][]WireConnection]
	broken      *netelement.NetEvent

	inputLevel []bool
}

// NewObject создаёт объект
func NewObject(deps *Deps, cfg ObjectConfig) *Object {
	o := &Object{
		Base:   newBase(EntityTypeObject, spacesBox(cfg.spaces())),
		config: cfg,
		deps:   deps,
	}
	o.persistent = cfg.Persistent == nil || *cfg.Persistent
	if cfg.UniqueID != "" {
		o.uniqueID.Set(cfg.UniqueID)
	}
	dir := cfg.Direction
	if dir == 0 {
		dir = 1
	}
	o.animator = NewAnimator(cfg.Animation)
	o.direction = netelement.NewNetInt(int64(dir))
	o.interactive = netelement.NewNetBool(cfg.Interactive || cfg.Container || cfg.Interaction != nil)
	o.health = netelement.NewNetFloat(cfg.Health)
	o.health.SetInterpolator(nil)
	o.outputLevel = netelement.NewNetArray(netelement.BoolCodec, len(cfg.OutputNodes))
	o.inputConns = netelement.NewNetData(netelement.JSONCodec[[][]WireConnection](), make([][]WireConnection, len(cfg.InputNodes)))
	o.outputConns = netelement.NewNetData(netelement.JSONCodec[[][]WireConnection](), make([][]WireConnection, len(cfg.OutputNodes)))
	o.broken = netelement.NewNetEvent()
	o.inputLevel = make([]bool, len(cfg.InputNodes))
	for _, e := range []netelement.NetElement{
		o.direction, o.interactive, o.health, o.outputLevel,
		o.inputConns, o.outputConns, o.broken, o.animator.NetGroup(),
	} {
		o.net.AddNetElement(e)
	}
	if len(cfg.Scripts) > 0 {
		o.script = NewScriptComponent(o, cfg.Scripts, cfg.ScriptDelta)
	}
	return o
}

// Config конфигурация объекта
func (o *Object) Config() ObjectConfig { return o.config }

func (o *Object) ConfigParameter(path string) (interface{}, bool) {
	return configLookup(o.config.Parameters, path)
}

func (o *Object) Script() *ScriptComponent { return o.script }

func (o *Object) Animator() *Animator { return o.animator }

// Direction направление объекта: 1 вправо, -1 влево
func (o *Object) Direction() int { return int(o.direction.Get()) }

// SetInteractive включает или выключает взаимодействие
func (o *Object) SetInteractive(v bool) { o.interactive.Set(v) }

// BrokenEvent срабатывает на ведомых копиях при разрушении
func (o *Object) BrokenEvent() *netelement.NetEvent { return o.broken }

func (o *Object) Init(world World, id EntityID, mode EntityMode) {
	o.Base.Init(world, id, mode)
	if mode.IsMaster() && o.script != nil {
		if err := o.script.Init(world); err != nil {
			o.logger.Warn("⚠️ Скрипты объекта %s не загружены: %v", o.config.Name, err)
		}
	}
}

func (o *Object) Uninit() {
	if o.script != nil {
		o.script.Uninit()
	}
	o.Base.Uninit()
}

func (o *Object) Update(dt float64, step uint64) {
	if !o.IsMaster() {
		o.tickSlave(dt)
		return
	}
	if o.script != nil {
		o.script.Update(dt)
	}
}

func (o *Object) ReceiveMessage(sender ConnectionID, message string, args []interface{}) (interface{}, bool, error) {
	if o.script == nil || o.world == nil {
		return nil, false, nil
	}
	return o.script.HandleMessage(message, sender == o.world.ConnectionID(), args)
}

// Tile

func (o *Object) TilePosition() vec.Vec2 { return o.Position().Floor() }

func (o *Object) Spaces() []vec.Vec2 { return o.config.spaces() }

// Interactive

func (o *Object) IsInteractive() bool { return o.interactive.Get() }

func (o *Object) InteractiveBoundBox() vec.RectF { return WorldBoundBox(o) }

// Interact скрипт onInteraction, затем действие конфигурации, затем контейнер
func (o *Object) Interact(req InteractRequest) InteractAction {
	if action, handled := scriptInteract(o.script, o.id, "onInteraction", req); handled {
		return action
	}
	if o.config.Interaction != nil {
		action := *o.config.Interaction
		action.EntityID = o.id
		return action
	}
	if o.config.Container {
		return OpenContainer(o.id)
	}
	if len(o.config.LoungePositions) > 0 {
		return SitDown(o.id, 0)
	}
	return NoInteraction()
}

// Inspectable

func (o *Object) InspectionDescription(species string) string { return o.config.Description }

func (o *Object) InspectionLogName() string { return o.config.Name }

// Damageable: только объекты с запасом прочности

func (o *Object) HitPoly() (physics.Poly, bool) {
	if o.config.Health <= 0 || o.health.Get() <= 0 {
		return nil, false
	}
	return physics.RectPoly(WorldBoundBox(o)), true
}

func (o *Object) Team() EntityDamageTeam { return EntityDamageTeam{Type: TeamEnvironment} }

func (o *Object) Dead() bool { return o.config.Health > 0 && o.health.Get() <= 0 }

func (o *Object) QueryHit(source DamageSource) (HitType, bool) {
	if o.config.Health <= 0 || o.Dead() {
		return HitNormal, false
	}
	return HitNormal, source.Team.CanDamage(o.Team(), false)
}

func (o *Object) ApplyDamage(req DamageRequest) []DamageNotification {
	if !o.IsMaster() || o.config.Health <= 0 || o.Dead() || req.Kind == DamageNone {
		return nil
	}
	before := o.health.Get()
	after := math.Max(0, before-req.Damage)
	o.health.Set(after)
	hit := req.HitType
	if after <= 0 {
		hit = HitKill
		o.broken.Trigger()
		if o.script != nil {
			o.script.InvokeIfExists("die")
		}
		o.MarkDestroy()
	}
	return []DamageNotification{{
		SourceEntityID:     req.SourceEntityID,
		TargetEntityID:     o.id,
		Position:           WorldBoundBox(o).Center(),
		DamageDealt:        req.Damage,
		HealthLost:         before - after,
		HitType:            hit,
		SourceKind:         req.SourceKind,
		TargetMaterialKind: "stone",
	}}
}

// Anchorable / Loungeable

func (o *Object) AnchorCount() int { return len(o.config.LoungePositions) }

func (o *Object) Anchor(index int) (EntityAnchor, bool) {
	a, ok := o.LoungeAnchor(index)
	return a.EntityAnchor, ok
}

func (o *Object) LoungeAnchor(index int) (LoungeAnchor, bool) {
	if index < 0 || index >= len(o.config.LoungePositions) {
		return LoungeAnchor{}, false
	}
	a := o.config.LoungePositions[index]
	if o.Direction() < 0 {
		a.Position.X = o.boundBox.Max.X + o.boundBox.Min.X - a.Position.X
		a.Direction = -a.Direction
	}
	return a, true
}

func (o *Object) EntitiesLoungingIn(index int) []EntityID {
	return loungersOf(o.world, o, index)
}

// loungersOf сущности, сидящие на точке index владельца
func loungersOf(world World, owner Entity, index int) []EntityID {
	if world == nil {
		return nil
	}
	area := WorldBoundBox(owner).Padded(4)
	var out []EntityID
	for _, e := range world.EntityQuery(area, func(e Entity) bool {
		l, ok := e.(LoungingEntity)
		if !ok {
			return false
		}
		id, anchor, lounging := l.LoungingIn()
		return lounging && id == owner.EntityID() && anchor == index
	}) {
		out = append(out, e.EntityID())
	}
	return out
}

// Wire

func (o *Object) nodes(dir WireDirection) []vec.Vec2 {
	if dir == WireInput {
		return o.config.InputNodes
	}
	return o.config.OutputNodes
}

func (o *Object) conns(dir WireDirection) *netelement.NetData[[][]WireConnection] {
	if dir == WireInput {
		return o.inputConns
	}
	return o.outputConns
}

func (o *Object) validNode(n WireNode) bool {
	return n.Index >= 0 && n.Index < len(o.nodes(n.Direction))
}

func (o *Object) NodeCount(dir WireDirection) int { return len(o.nodes(dir)) }

func (o *Object) NodePosition(node WireNode) vec.Vec2 {
	if !o.validNode(node) {
		return o.TilePosition()
	}
	return o.TilePosition().Add(o.nodes(node.Direction)[node.Index])
}

func (o *Object) ConnectionsForNode(node WireNode) []WireConnection {
	if !o.validNode(node) {
		return nil
	}
	return append([]WireConnection(nil), o.conns(node.Direction).Get()[node.Index]...)
}

func (o *Object) updateConns(node WireNode, fn func([]WireConnection) []WireConnection) {
	if !o.validNode(node) {
		return
	}
	net := o.conns(node.Direction)
	all := make([][]WireConnection, len(net.Get()))
	for i, c := range net.Get() {
		all[i] = append([]WireConnection(nil), c...)
	}
	all[node.Index] = fn(all[node.Index])
	net.Set(all)
}

func (o *Object) AddNodeConnection(node WireNode, conn WireConnection) {
	o.updateConns(node, func(list []WireConnection) []WireConnection {
		for _, c := range list {
			if c == conn {
				return list
			}
		}
		return append(list, conn)
	})
}

func (o *Object) RemoveNodeConnection(node WireNode, conn WireConnection) {
	o.updateConns(node, func(list []WireConnection) []WireConnection {
		out := list[:0]
		for _, c := range list {
			if c != conn {
				out = append(out, c)
			}
		}
		return out
	})
}

func (o *Object) RemoveAllConnections(node WireNode) {
	o.updateConns(node, func([]WireConnection) []WireConnection { return nil })
}

func (o *Object) NodeState(node WireNode) bool {
	if !o.validNode(node) {
		return false
	}
	if node.Direction == WireInput {
		return o.inputLevel[node.Index]
	}
	return o.outputLevel.Get(node.Index)
}

// SetOutputLevel уровень выходного узла; распространяет его мир
func (o *Object) SetOutputLevel(index int, level bool) {
	if index < 0 || index >= o.outputLevel.Size() || o.outputLevel.Get(index) == level {
		return
	}
	o.outputLevel.Set(index, level)
}

// SetInputState вызывает onInputNodeChange при смене уровня
func (o *Object) SetInputState(index int, level bool) {
	if index < 0 || index >= len(o.inputLevel) || o.inputLevel[index] == level {
		return
	}
	o.inputLevel[index] = level
	if o.script != nil {
		o.script.InvokeIfExists("onInputNodeChange", map[string]interface{}{"node": index, "level": level})
	}
}

func (o *Object) objectState() objectState {
	return objectState{
		Direction:   o.Direction(),
		Health:      o.health.Get(),
		Inputs:      o.inputConns.Get(),
		Outputs:     o.outputConns.Get(),
		OutputLevel: o.outputLevel.Values(),
		Interactive: o.interactive.Get(),
		Animation:   o.animator.States(),
	}
}

func (o *Object) restoreObjectState(s objectState) {
	if s.Direction != 0 {
		o.direction.Set(int64(s.Direction))
	}
	if o.config.Health > 0 {
		o.health.Set(s.Health)
	}
	if len(s.Inputs) == len(o.config.InputNodes) {
		o.inputConns.Set(s.Inputs)
	}
	if len(s.Outputs) == len(o.config.OutputNodes) {
		o.outputConns.Set(s.Outputs)
	}
	for i, v := range s.OutputLevel {
		if i < o.outputLevel.Size() {
			o.outputLevel.Set(i, v)
		}
	}
	o.interactive.Set(s.Interactive)
	for g, st := range s.Animation {
		o.animator.SetState(g, st)
	}
}

func (o *Object) NetStore(rules netelement.CompatibilityRules) []byte {
	return o.netStore(o.config, rules)
}

func (o *Object) DiskStore() (json.RawMessage, error) {
	return storeDisk(&o.Base, o.config, o.objectState())
}

func loadObjectNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg ObjectConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	o := NewObject(deps, cfg)
	return o, o.loadState(state, rules)
}

func loadObjectDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[ObjectConfig, objectState](data)
	if err != nil {
		return nil, err
	}
	o := NewObject(deps, rec.Config)
	restoreBase(&o.Base, rec)
	o.restoreObjectState(rec.State)
	return o, nil
}

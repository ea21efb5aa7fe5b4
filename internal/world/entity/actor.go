package entity

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/status"
	"github.com/annel0/tileverse/internal/vec"
)

// emoteDuration сколько секунд держится эмоция
const emoteDuration = 2.0

// ActorConfig общая конфигурация игроков, NPC и монстров
type ActorConfig struct {
	Name        string `json:"name,omitempty"`
	Species     string `json:"species,omitempty"`
	Description string `json:"description,omitempty"`
	Portrait    string `json:"portrait,omitempty"`

	Scripts     []string `json:"scripts,omitempty"`
	ScriptDelta int      `json:"scriptDelta,omitempty"`

	Movement *physics.ActorMovementParameters `json:"movementParameters,omitempty"`
	Status   *status.Config                   `json:"statusParameters,omitempty"`
	Team     EntityDamageTeam                 `json:"damageTeam"`

	Animation  map[string]string      `json:"animation,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	Persistent bool   `json:"persistent,omitempty"`
	UniqueID   string `json:"uniqueId,omitempty"`
}

func (c ActorConfig) movementParameters() physics.ActorMovementParameters {
	if c.Movement != nil {
		return *c.Movement
	}
	return physics.DefaultActorMovementParameters()
}

func (c ActorConfig) statusConfig() status.Config {
	if c.Status != nil {
		return *c.Status
	}
	return status.DefaultActorConfig(100, 100)
}

// StatusEntity сущность со статами и ресурсами
type StatusEntity interface {
	Entity
	StatusController() *status.Controller
}

// ActorEntity управляемый актёр: статусы и контроллер движения
type ActorEntity interface {
	StatusEntity
	// MovementController nil у ведомой копии
	MovementController() *physics.ActorMovementController
	Velocity() vec.Vec2F
	Facing() int
}

// actorState сохраняемая часть актёра
type actorState struct {
	Resources  map[string]float64 `json:"resources,omitempty"`
	Dead       bool               `json:"dead,omitempty"`
	Facing     int                `json:"facing,omitempty"`
	Team       EntityDamageTeam   `json:"team"`
	Name       string             `json:"name,omitempty"`
	StatusText string             `json:"statusText,omitempty"`
}

// actor общее ядро Player, Npc и Monster
type actor struct {
	Base
	self   Entity
	deps   *Deps
	config ActorConfig
	params physics.ActorMovementParameters

	movement *physics.ActorMovementController
	status   *status.Controller
	script   *ScriptComponent
	animator *Animator

	facing       *netelement.NetInt
	velocity     *netelement.NetVec2F
	team         *netelement.NetData[EntityDamageTeam]
	name         *netelement.NetString
	statusText   *netelement.NetString
	dead         *netelement.NetBool
	emote        *netelement.NetString
	chat         *netelement.NetString
	chatEvent    *netelement.NetEvent
	aim          *netelement.NetVec2F
	loungeEntity *netelement.NetInt
	loungeAnchor *netelement.NetInt

	emoteTimer  float64
	pendingChat []string
	repeatHits  map[string]float64
	onDeath     func()
}

func (a *actor) setupActor(self Entity, t EntityType, cfg ActorConfig, deps *Deps) {
	a.params = cfg.movementParameters()
	box := a.params.StandingPoly.BoundBox()
	if len(a.params.StandingPoly) == 0 {
		box = a.params.Movement.CollisionPoly.BoundBox()
	}
	a.Base = newBase(t, box)
	a.self = self
	a.deps = deps
	a.config = cfg
	a.persistent = cfg.Persistent
	if cfg.UniqueID != "" {
		a.uniqueID.Set(cfg.UniqueID)
	}

	var effects *status.Registry
	if deps != nil {
		effects = deps.Effects
	}
	a.status = status.NewController(cfg.statusConfig(), effects)
	a.animator = NewAnimator(cfg.Animation)
	if len(cfg.Scripts) > 0 {
		a.script = NewScriptComponent(self, cfg.Scripts, cfg.ScriptDelta)
	}

	a.facing = netelement.NewNetInt(1)
	a.velocity = netelement.NewNetVec2F(vec.Vec2F{})
	a.team = netelement.NewNetData(netelement.JSONCodec[EntityDamageTeam](), cfg.Team)
	a.name = netelement.NewNetString(cfg.Name)
	a.statusText = netelement.NewNetString("")
	a.dead = netelement.NewNetBool(false)
	a.emote = netelement.NewNetString("")
	a.chat = netelement.NewNetString("")
	a.chatEvent = netelement.NewNetEvent()
	a.aim = netelement.NewNetVec2F(vec.Vec2F{})
	a.loungeEntity = netelement.NewNetInt(0)
	a.loungeAnchor = netelement.NewNetInt(0)
	a.repeatHits = make(map[string]float64)

	for _, e := range []netelement.NetElement{
		a.facing, a.velocity, a.team, a.name, a.statusText, a.dead,
		a.emote, a.chat, a.chatEvent, a.aim, a.loungeEntity, a.loungeAnchor,
		a.status.NetGroup(), a.animator.NetGroup(),
	} {
		a.net.AddNetElement(e)
	}
}

func (a *actor) StatusController() *status.Controller { return a.status }

func (a *actor) MovementController() *physics.ActorMovementController { return a.movement }

func (a *actor) Script() *ScriptComponent { return a.script }

func (a *actor) Animator() *Animator { return a.animator }

func (a *actor) Config() ActorConfig { return a.config }

func (a *actor) ConfigParameter(path string) (interface{}, bool) {
	return configLookup(a.config.Parameters, path)
}

func (a *actor) Velocity() vec.Vec2F { return a.velocity.Get() }

func (a *actor) Facing() int { return int(a.facing.Get()) }

// SetPosition переносит и контроллер движения
func (a *actor) SetPosition(p vec.Vec2F) {
	a.Base.SetPosition(p)
	if a.movement != nil {
		a.movement.SetPosition(a.Position())
	}
}

func (a *actor) Init(world World, id EntityID, mode EntityMode) {
	a.Base.Init(world, id, mode)
	if !mode.IsMaster() {
		return
	}
	a.movement = physics.NewActorMovementController(world, a.params, a.Position())
	a.movement.SetVelocity(a.velocity.Get())
	self := a.self
	a.status.SetScriptBinder(func(ctx *luaengine.Context) {
		if w := a.World(); w != nil {
			w.BindScript(ctx, self)
		}
	})
	if a.script != nil {
		if err := a.script.Init(world); err != nil {
			a.logger.Warn("⚠️ Скрипты %s#%d не загружены: %v", a.etype, id, err)
		}
	}
}

func (a *actor) Uninit() {
	if a.script != nil {
		a.script.Uninit()
	}
	a.movement = nil
	a.Base.Uninit()
}

// updateActor общий шаг: скрипт управляет движением, затем физика и статусы
func (a *actor) updateActor(dt float64) {
	if !a.IsMaster() {
		a.tickSlave(dt)
		a.status.ApplyNetState()
		return
	}
	if a.script != nil && !a.dead.Get() {
		a.script.Update(dt)
	}

	if target, anchor, ok := a.LoungingIn(); ok {
		a.followAnchor(target, anchor)
	} else if a.movement != nil {
		a.movement.Tick(dt)
		a.Base.SetPosition(a.movement.Position())
		a.velocity.Set(a.movement.Velocity())
		a.facing.Set(int64(a.movement.Facing()))
	}

	a.status.Update(dt)
	if a.status.Dead() && !a.dead.Get() {
		a.kill()
	}

	if a.emoteTimer > 0 {
		a.emoteTimer -= dt
		if a.emoteTimer <= 0 {
			a.emote.Set("")
		}
	}
	now := a.world.Time()
	for k, until := range a.repeatHits {
		if until <= now {
			delete(a.repeatHits, k)
		}
	}
}

func (a *actor) followAnchor(target EntityID, index int) {
	e := a.world.Entity(target)
	lounge, ok := e.(LoungeableEntity)
	if !ok {
		a.StopLounging()
		return
	}
	anchor, ok := lounge.LoungeAnchor(index)
	if !ok {
		a.StopLounging()
		return
	}
	a.SetPosition(e.Position().Add(anchor.Position))
	a.velocity.Set(vec.Vec2F{})
	if a.movement != nil {
		a.movement.SetVelocity(vec.Vec2F{})
	}
}

func (a *actor) kill() {
	a.dead.Set(true)
	if a.script != nil {
		a.script.InvokeIfExists("die")
	}
	if a.onDeath != nil {
		a.onDeath()
	}
}

// Damageable

func (a *actor) HitPoly() (physics.Poly, bool) {
	if a.dead.Get() {
		return nil, false
	}
	return a.params.StandingPoly.Translated(a.Position()), true
}

func (a *actor) Team() EntityDamageTeam { return a.team.Get() }

func (a *actor) SetTeam(t EntityDamageTeam) { a.team.Set(t) }

func (a *actor) Dead() bool { return a.dead.Get() }

func repeatKey(s DamageSource) string {
	return fmt.Sprintf("%s|%d", s.RepeatGroup, s.SourceEntityID)
}

func (a *actor) QueryHit(source DamageSource) (HitType, bool) {
	if a.dead.Get() || a.status.StatPositive(status.StatInvulnerable) {
		return HitNormal, false
	}
	if !source.Team.CanDamage(a.Team(), source.SourceEntityID == a.id) {
		return HitNormal, false
	}
	if source.RepeatGroup != "" && a.world != nil {
		key := repeatKey(source)
		if until, ok := a.repeatHits[key]; ok && until > a.world.Time() {
			return HitNormal, false
		}
		a.repeatHits[key] = a.world.Time() + source.RepeatTimeout
	}
	return HitNormal, true
}

func (a *actor) ApplyDamage(req DamageRequest) []DamageNotification {
	if !a.IsMaster() || a.dead.Get() || req.Kind == DamageNone {
		return nil
	}
	ignoresDef := req.Kind == DamageIgnoresDef || req.Kind == DamageStatus
	lost := a.status.ApplyDamage(req.Damage, ignoresDef)
	if req.Kind != DamageStatus && a.movement != nil && !req.Knockback.IsZero() {
		a.movement.AddMomentum(req.Knockback)
	}
	for _, effect := range req.StatusEffects {
		if err := a.status.AddEffect(effect, nil, req.SourceEntityID); err != nil {
			a.logger.Debug("эффект %s для %d: %v", effect, a.id, err)
		}
	}
	hit := req.HitType
	if a.status.Dead() {
		hit = HitKill
	}
	n := DamageNotification{
		SourceEntityID:     req.SourceEntityID,
		TargetEntityID:     a.id,
		Position:           a.Position(),
		DamageDealt:        req.Damage,
		HealthLost:         lost,
		HitType:            hit,
		SourceKind:         req.SourceKind,
		TargetMaterialKind: "organic",
	}
	if a.script != nil {
		a.script.InvokeIfExists("damaged", n)
	}
	if hit == HitKill && !a.dead.Get() {
		a.kill()
	}
	return []DamageNotification{n}
}

// Nametag / Portraited / Inspectable

func (a *actor) Name() string { return a.name.Get() }

func (a *actor) SetName(n string) { a.name.Set(n) }

func (a *actor) StatusText() string { return a.statusText.Get() }

func (a *actor) SetStatusText(s string) { a.statusText.Set(s) }

func (a *actor) DisplayNametag() bool { return a.name.Get() != "" }

func (a *actor) Portrait() string { return a.config.Portrait }

func (a *actor) InspectionDescription(species string) string {
	return a.config.Description
}

func (a *actor) InspectionLogName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	return a.config.Species
}

// Chatty

func (a *actor) Say(text string) {
	if text == "" {
		return
	}
	a.chat.Set(text)
	a.chatEvent.Trigger()
	a.pendingChat = append(a.pendingChat, text)
}

func (a *actor) MouthPosition() vec.Vec2F {
	box := a.params.StandingPoly.BoundBox()
	return a.Position().Add(vec.V2F(0, box.Max.Y*0.75))
}

// PullPendingChat мастер отдаёт накопленные фразы, ведомая копия последнюю полученную
func (a *actor) PullPendingChat() []string {
	if a.IsMaster() {
		out := a.pendingChat
		a.pendingChat = nil
		return out
	}
	if a.chatEvent.PullOccurred() {
		return []string{a.chat.Get()}
	}
	return nil
}

// Emote

func (a *actor) PlayEmote(emote string) {
	a.emote.Set(emote)
	a.emoteTimer = emoteDuration
}

func (a *actor) CurrentEmote() string { return a.emote.Get() }

// Pointable

func (a *actor) AimPosition() vec.Vec2F { return a.aim.Get() }

func (a *actor) SetAimPosition(p vec.Vec2F) { a.aim.Set(p) }

// Lounging

func (a *actor) LoungingIn() (EntityID, int, bool) {
	id := EntityID(a.loungeEntity.Get())
	if id == NullEntityID {
		return NullEntityID, 0, false
	}
	return id, int(a.loungeAnchor.Get()), true
}

func (a *actor) SetLounging(target EntityID, index int) {
	a.loungeEntity.Set(int64(target))
	a.loungeAnchor.Set(int64(index))
}

func (a *actor) StopLounging() {
	a.loungeEntity.Set(0)
	a.loungeAnchor.Set(0)
}

// ReceiveMessage передаёт сообщение обработчикам скрипта
func (a *actor) ReceiveMessage(sender ConnectionID, message string, args []interface{}) (interface{}, bool, error) {
	if a.script == nil || a.world == nil {
		return nil, false, nil
	}
	return a.script.HandleMessage(message, sender == a.world.ConnectionID(), args)
}

// invokeInteract спрашивает скрипт interact(request)
func (a *actor) invokeInteract(req InteractRequest) (InteractAction, bool) {
	return scriptInteract(a.script, a.id, "interact", req)
}

// scriptInteract вызывает обработчик взаимодействия; handled=false если функции нет
// или она упала. nil в ответе означает отказ.
func scriptInteract(sc *ScriptComponent, id EntityID, fn string, req InteractRequest) (InteractAction, bool) {
	if sc == nil || !sc.Initialized() {
		return NoInteraction(), false
	}
	rets, found, err := sc.InvokeIfExists(fn, req)
	if !found || err != nil {
		return NoInteraction(), false
	}
	if len(rets) == 0 || rets[0] == lua.LNil {
		return NoInteraction(), true
	}
	return parseInteractResult(sc.Context().Engine(), id, rets[0]), true
}

// parseInteractResult разбирает {type, data} или строку с именем действия
func parseInteractResult(engine *luaengine.Engine, id EntityID, v lua.LValue) InteractAction {
	if s, ok := v.(lua.LString); ok {
		t, err := ParseInteractActionType(string(s))
		if err != nil {
			return NoInteraction()
		}
		return InteractAction{Type: t, EntityID: id}
	}
	raw, err := luaengine.FromLua[struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}](engine, v)
	if err != nil {
		return NoInteraction()
	}
	t, err := ParseInteractActionType(raw.Type)
	if err != nil {
		return NoInteraction()
	}
	action, err := NewInteractAction(t, id, raw.Data)
	if err != nil {
		return NoInteraction()
	}
	return action
}

func (a *actor) actorState() actorState {
	return actorState{
		Resources:  a.status.Snapshot(),
		Dead:       a.dead.Get(),
		Facing:     int(a.facing.Get()),
		Team:       a.team.Get(),
		Name:       a.name.Get(),
		StatusText: a.statusText.Get(),
	}
}

func (a *actor) restoreActorState(s actorState) {
	a.status.Restore(s.Resources)
	a.dead.Set(s.Dead)
	if s.Facing != 0 {
		a.facing.Set(int64(s.Facing))
	}
	a.team.Set(s.Team)
	if s.Name != "" {
		a.name.Set(s.Name)
	}
	a.statusText.Set(s.StatusText)
}

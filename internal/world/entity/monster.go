package entity

import (
	"encoding/json"
	"math"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics/pathfind"
	"github.com/annel0/tileverse/internal/random"
	"github.com/annel0/tileverse/internal/vec"
)

// MonsterBehavior встроенное поведение монстра
type MonsterBehavior string

const (
	// MonsterWander бродит вокруг точки появления
	MonsterWander MonsterBehavior = "wander"
	// MonsterAggressive преследует ближайшего игрока в радиусе обнаружения
	MonsterAggressive MonsterBehavior = "aggressive"
	// MonsterPassive стоит на месте, убегает от урона
	MonsterPassive MonsterBehavior = "passive"
	// MonsterScripted движением управляет только скрипт
	MonsterScripted MonsterBehavior = "scripted"
)

// MonsterConfig конфигурация монстра
type MonsterConfig struct {
	ActorConfig
	Behavior        MonsterBehavior `json:"behavior,omitempty"`
	Seed            uint64          `json:"seed,omitempty"`
	WanderRadius    float64         `json:"wanderRadius,omitempty"`
	DetectionRadius float64         `json:"detectionRadius,omitempty"`
	IdleTime        [2]float64      `json:"idleTime,omitempty"`
	MoveTime        [2]float64      `json:"moveTime,omitempty"`
	// TouchDamage урон при касании, область относительно позиции
	TouchDamage *DamageSource `json:"touchDamage,omitempty"`
}

func (c *MonsterConfig) applyDefaults() {
	if c.Behavior == "" {
		c.Behavior = MonsterWander
	}
	if c.WanderRadius <= 0 {
		c.WanderRadius = 10
	}
	if c.DetectionRadius <= 0 {
		c.DetectionRadius = 12
	}
	if c.IdleTime == [2]float64{} {
		c.IdleTime = [2]float64{2, 7}
	}
	if c.MoveTime == [2]float64{} {
		c.MoveTime = [2]float64{1, 4}
	}
}

type monsterState struct {
	actorState
	Home vec.Vec2F `json:"home"`
}

// Monster актёр с конечным автоматом поведения (покой, блуждание, погоня, бегство)
type Monster struct {
	actor
	monsterConfig MonsterConfig

	home    vec.Vec2F
	homeSet bool
	rng     *random.Random
	path    *pathfind.PathController
	fsm     fsmState
}

// NewMonster создаёт монстра
func NewMonster(deps *Deps, cfg MonsterConfig) *Monster {
	cfg.applyDefaults()
	m := &Monster{monsterConfig: cfg}
	m.setupActor(m, EntityTypeMonster, cfg.ActorConfig, deps)
	if m.config.Team.Type == TeamNull {
		m.team.Set(EntityDamageTeam{Type: TeamEnemy})
	}
	m.onDeath = m.MarkDestroy
	return m
}

// Home точка, вокруг которой бродит монстр
func (m *Monster) Home() vec.Vec2F { return m.home }

// StateName имя текущего состояния автомата
func (m *Monster) StateName() string {
	if m.fsm == nil {
		return ""
	}
	return m.fsm.Name()
}

func (m *Monster) Init(world World, id EntityID, mode EntityMode) {
	m.actor.Init(world, id, mode)
	if !mode.IsMaster() {
		return
	}
	if !m.homeSet {
		m.home = m.Position()
		m.homeSet = true
	}
	seed := m.monsterConfig.Seed
	if seed == 0 {
		seed = random.StaticRandom64(world.Seed(), id, "monster")
	}
	m.rng = random.New(seed)
	m.path = pathfind.NewPathController(m.movement, world, 0)
	if m.monsterConfig.Behavior != MonsterScripted {
		m.setState(newIdleState(m))
	}
}

func (m *Monster) Uninit() {
	if m.fsm != nil {
		m.fsm.Exit(m)
		m.fsm = nil
	}
	m.path = nil
	m.actor.Uninit()
}

func (m *Monster) setState(s fsmState) {
	if m.fsm != nil {
		m.fsm.Exit(m)
	}
	m.fsm = s
	if s != nil {
		s.Enter(m)
		m.animator.SetState("body", s.Name())
	}
}

func (m *Monster) Update(dt float64, step uint64) {
	if m.IsMaster() && m.fsm != nil && !m.Dead() && m.movement != nil {
		if next := m.fsm.Update(m, dt); next != m.fsm {
			m.setState(next)
		}
	}
	m.updateActor(dt)
}

// ApplyDamage пассивный или блуждающий монстр убегает от источника урона
func (m *Monster) ApplyDamage(req DamageRequest) []DamageNotification {
	notes := m.actor.ApplyDamage(req)
	if len(notes) == 0 || m.Dead() || m.fsm == nil {
		return notes
	}
	switch m.monsterConfig.Behavior {
	case MonsterAggressive:
		if src := m.world.Entity(req.SourceEntityID); src != nil {
			m.setState(newChaseState(req.SourceEntityID))
		}
	case MonsterWander, MonsterPassive:
		if src := m.world.Entity(req.SourceEntityID); src != nil {
			m.setState(newFleeState(m, src.Position()))
		}
	}
	return notes
}

// DamageSources урон при касании в координатах мира
func (m *Monster) DamageSources() []DamageSource {
	if m.monsterConfig.TouchDamage == nil || m.Dead() {
		return nil
	}
	src := m.monsterConfig.TouchDamage.Translated(m.Position())
	src.SourceEntityID = m.id
	src.Team = m.Team()
	return []DamageSource{src}
}

func (m *Monster) HitOther(target EntityID, req DamageRequest) {}

func (m *Monster) DamagedOther(n DamageNotification) {
	if m.script != nil {
		m.script.InvokeIfExists("damagedOther", n)
	}
}

func (m *Monster) randomIn(r [2]float64) float64 {
	return m.rng.FloatRange(r[0], r[1])
}

// nearestPlayer ближайший живой игрок в радиусе обнаружения
func (m *Monster) nearestPlayer() (EntityID, bool) {
	radius := m.monsterConfig.DetectionRadius
	pos := m.Position()
	area := vec.NewRectF(pos.X-radius, pos.Y-radius, pos.X+radius, pos.Y+radius)
	best, bestDist := NullEntityID, math.Inf(1)
	for _, e := range m.world.EntityQuery(area, func(e Entity) bool { return e.EntityType() == EntityTypePlayer }) {
		if d, ok := e.(DamageableEntity); ok && d.Dead() {
			continue
		}
		dist := m.world.Geometry().Distance(pos, e.Position())
		if dist <= radius && dist < bestDist {
			best, bestDist = e.EntityID(), dist
		}
	}
	return best, best != NullEntityID
}

func (m *Monster) NetStore(rules netelement.CompatibilityRules) []byte {
	return m.netStore(m.monsterConfig, rules)
}

func (m *Monster) DiskStore() (json.RawMessage, error) {
	return storeDisk(&m.Base, m.monsterConfig, monsterState{actorState: m.actorState(), Home: m.home})
}

func loadMonsterNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg MonsterConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	m := NewMonster(deps, cfg)
	return m, m.loadState(state, rules)
}

func loadMonsterDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[MonsterConfig, monsterState](data)
	if err != nil {
		return nil, err
	}
	m := NewMonster(deps, rec.Config)
	restoreBase(&m.Base, rec)
	m.restoreActorState(rec.State.actorState)
	m.home = rec.State.Home
	m.homeSet = true
	return m, nil
}

// === Состояния автомата ===

// fsmState состояние конечного автомата монстра
type fsmState interface {
	Name() string
	Enter(m *Monster)
	// Update возвращает следующее состояние или себя
	Update(m *Monster, dt float64) fsmState
	Exit(m *Monster)
}

// idleState стоит на месте случайное время
type idleState struct {
	timer float64
}

func newIdleState(m *Monster) *idleState {
	return &idleState{timer: m.randomIn(m.monsterConfig.IdleTime)}
}

func (s *idleState) Name() string { return "idle" }

func (s *idleState) Enter(m *Monster) { m.path.Reset() }

func (s *idleState) Update(m *Monster, dt float64) fsmState {
	if m.monsterConfig.Behavior == MonsterAggressive {
		if target, ok := m.nearestPlayer(); ok {
			return newChaseState(target)
		}
	}
	s.timer -= dt
	if s.timer > 0 || m.monsterConfig.Behavior == MonsterPassive {
		return s
	}
	return newWanderState(m)
}

func (s *idleState) Exit(m *Monster) {}

// wanderState идёт к случайной точке вокруг дома
type wanderState struct {
	target vec.Vec2F
	timer  float64
}

func newWanderState(m *Monster) *wanderState {
	offset := m.rng.FloatRange(-m.monsterConfig.WanderRadius, m.monsterConfig.WanderRadius)
	return &wanderState{
		target: m.world.Geometry().WrapF(vec.V2F(m.home.X+offset, m.home.Y)),
		timer:  m.randomIn(m.monsterConfig.MoveTime),
	}
}

func (s *wanderState) Name() string { return "wander" }

func (s *wanderState) Enter(m *Monster) { m.path.PathTo(s.target) }

func (s *wanderState) Update(m *Monster, dt float64) fsmState {
	s.timer -= dt
	if m.monsterConfig.Behavior == MonsterAggressive {
		if target, ok := m.nearestPlayer(); ok {
			return newChaseState(target)
		}
	}
	switch m.path.Tick(dt) {
	case pathfind.ControllerArrived, pathfind.ControllerFailed, pathfind.ControllerAborted:
		return newIdleState(m)
	}
	if s.timer <= 0 {
		return newIdleState(m)
	}
	return s
}

func (s *wanderState) Exit(m *Monster) { m.path.Reset() }

// chaseState преследует цель, перестраивая путь раз в repath секунд
type chaseState struct {
	target EntityID
	repath float64
}

const chaseRepathInterval = 1.0

func newChaseState(target EntityID) *chaseState {
	return &chaseState{target: target}
}

func (s *chaseState) Name() string { return "chase" }

func (s *chaseState) Enter(m *Monster) {}

func (s *chaseState) Update(m *Monster, dt float64) fsmState {
	target := m.world.Entity(s.target)
	if target == nil {
		return newIdleState(m)
	}
	if d, ok := target.(DamageableEntity); ok && d.Dead() {
		return newIdleState(m)
	}
	if m.world.Geometry().Distance(m.Position(), target.Position()) > m.monsterConfig.DetectionRadius*1.5 {
		return newIdleState(m)
	}
	s.repath -= dt
	if s.repath <= 0 {
		s.repath = chaseRepathInterval
		m.path.PathTo(target.Position())
	}
	if m.path.Tick(dt) == pathfind.ControllerFailed {
		// прямой ход по горизонтали, если путь не найден
		diff := m.world.Geometry().DiffF(target.Position(), m.Position())
		if diff.X > 0.5 {
			m.movement.ControlMove(1, true)
		} else if diff.X < -0.5 {
			m.movement.ControlMove(-1, true)
		}
	}
	return s
}

func (s *chaseState) Exit(m *Monster) { m.path.Reset() }

// fleeState убегает от точки угрозы
type fleeState struct {
	from  vec.Vec2F
	timer float64
}

func newFleeState(m *Monster, from vec.Vec2F) *fleeState {
	return &fleeState{from: from, timer: m.randomIn(m.monsterConfig.MoveTime) + 1}
}

func (s *fleeState) Name() string { return "flee" }

func (s *fleeState) Enter(m *Monster) { m.path.Reset() }

func (s *fleeState) Update(m *Monster, dt float64) fsmState {
	s.timer -= dt
	if s.timer <= 0 {
		return newIdleState(m)
	}
	dir := 1
	if m.world.Geometry().DiffF(m.Position(), s.from).X < 0 {
		dir = -1
	}
	m.movement.ControlMove(dir, true)
	return s
}

func (s *fleeState) Exit(m *Monster) {}

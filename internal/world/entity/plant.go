package entity

import (
	"encoding/json"
	"math"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/random"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// PlantStage стадия роста
type PlantStage struct {
	Name string `json:"name"`
	// Duration секунды до следующей стадии; у последней стадии не используется
	Duration float64 `json:"duration,omitempty"`
	// Spaces клетки стадии; пусто означает клетки растения
	Spaces []vec.Vec2 `json:"spaces,omitempty"`
}

// PlantConfig конфигурация растения
type PlantConfig struct {
	Name        string       `json:"plantName"`
	Description string       `json:"description,omitempty"`
	Spaces      []vec.Vec2   `json:"spaces,omitempty"`
	Stages      []PlantStage `json:"stages,omitempty"`
	Health      float64      `json:"health,omitempty"`
	// Drops предметы, выпадающие при разрушении или сборе урожая
	Drops []ItemDescriptor `json:"drops,omitempty"`
	// Harvestable сбор урожая на последней стадии возвращает растение в HarvestStage
	Harvestable  bool   `json:"harvestable,omitempty"`
	HarvestStage int    `json:"harvestStage,omitempty"`
	Seed         uint64 `json:"seed,omitempty"`
	Persistent   *bool  `json:"persistent,omitempty"`
}

func (c PlantConfig) spaces() []vec.Vec2 {
	if len(c.Spaces) == 0 {
		return []vec.Vec2{{}}
	}
	return c.Spaces
}

func (c PlantConfig) health() float64 {
	if c.Health > 0 {
		return c.Health
	}
	return 10
}

type plantState struct {
	Stage  int     `json:"stage"`
	Growth float64 `json:"growth"`
	Health float64 `json:"health"`
}

// TileDamageReceiver тайловая сущность, принимающая урон по своим клеткам
type TileDamageReceiver interface {
	TileEntity
	// ApplyTileDamage возвращает true, если сущность разрушена или собрана
	ApplyTileDamage(damage tile.Damage, sourcePos vec.Vec2F) bool
}

// Plant растение на сетке: растёт по стадиям, ломается и собирается
type Plant struct {
	Base
	config PlantConfig

	stage  *netelement.NetInt
	health *netelement.NetFloat
	broken *netelement.NetEvent

	growth float64
}

// NewPlant создаёт растение в первой стадии
func NewPlant(cfg PlantConfig) *Plant {
	p := &Plant{
		Base:   newBase(EntityTypePlant, spacesBox(cfg.spaces())),
		config: cfg,
		stage:  netelement.NewNetInt(0),
		health: netelement.NewNetFloat(cfg.health()),
		broken: netelement.NewNetEvent(),
	}
	p.health.SetInterpolator(nil)
	p.persistent = cfg.Persistent == nil || *cfg.Persistent
	p.net.AddNetElement(p.stage)
	p.net.AddNetElement(p.health)
	p.net.AddNetElement(p.broken)
	return p
}

// Stage номер текущей стадии
func (p *Plant) Stage() int { return int(p.stage.Get()) }

// StageName имя стадии для анимации
func (p *Plant) StageName() string {
	if s, ok := p.currentStage(); ok {
		return s.Name
	}
	return ""
}

// Mature растение достигло последней стадии
func (p *Plant) Mature() bool {
	return len(p.config.Stages) == 0 || p.Stage() >= len(p.config.Stages)-1
}

func (p *Plant) BrokenEvent() *netelement.NetEvent { return p.broken }

func (p *Plant) currentStage() (PlantStage, bool) {
	i := p.Stage()
	if i < 0 || i >= len(p.config.Stages) {
		return PlantStage{}, false
	}
	return p.config.Stages[i], true
}

func (p *Plant) Update(dt float64, step uint64) {
	if !p.IsMaster() {
		p.tickSlave(dt)
		return
	}
	if p.Mature() {
		return
	}
	p.growth += dt
	if s, ok := p.currentStage(); ok && s.Duration > 0 && p.growth >= s.Duration {
		p.growth = 0
		p.stage.Set(p.stage.Get() + 1)
	}
}

// Tile

func (p *Plant) TilePosition() vec.Vec2 { return p.Position().Floor() }

func (p *Plant) Spaces() []vec.Vec2 {
	if s, ok := p.currentStage(); ok && len(s.Spaces) > 0 {
		return s.Spaces
	}
	return p.config.spaces()
}

// Inspectable

func (p *Plant) InspectionDescription(species string) string { return p.config.Description }

func (p *Plant) InspectionLogName() string { return p.config.Name }

// Damageable

func (p *Plant) HitPoly() (physics.Poly, bool) {
	if p.Dead() {
		return nil, false
	}
	return physics.RectPoly(WorldBoundBox(p)), true
}

func (p *Plant) Team() EntityDamageTeam { return EntityDamageTeam{Type: TeamEnvironment} }

func (p *Plant) Dead() bool { return p.health.Get() <= 0 }

func (p *Plant) QueryHit(source DamageSource) (HitType, bool) {
	if p.Dead() {
		return HitNormal, false
	}
	return HitNormal, source.Team.CanDamage(p.Team(), false)
}

func (p *Plant) ApplyDamage(req DamageRequest) []DamageNotification {
	if !p.IsMaster() || p.Dead() || req.Kind == DamageNone {
		return nil
	}
	before := p.health.Get()
	after := p.damage(req.Damage, WorldBoundBox(p).Center())
	hit := req.HitType
	if after <= 0 {
		hit = HitKill
	}
	return []DamageNotification{{
		SourceEntityID:     req.SourceEntityID,
		TargetEntityID:     p.id,
		Position:           WorldBoundBox(p).Center(),
		DamageDealt:        req.Damage,
		HealthLost:         before - after,
		HitType:            hit,
		SourceKind:         req.SourceKind,
		TargetMaterialKind: "plant",
	}}
}

// ApplyTileDamage урон инструментом по клеткам растения. Зрелое собираемое
// растение при уроне со сбором отдаёт урожай и откатывается к HarvestStage.
func (p *Plant) ApplyTileDamage(damage tile.Damage, sourcePos vec.Vec2F) bool {
	if !p.IsMaster() || p.Dead() || damage.Amount <= 0 {
		return false
	}
	if damage.Harvest > 0 && p.config.Harvestable && p.Mature() && len(p.config.Stages) > 1 {
		p.dropItems(sourcePos, false)
		p.stage.Set(int64(p.config.HarvestStage))
		p.growth = 0
		return true
	}
	factor := 1.0
	if damage.Type != tile.DamagePlantish {
		factor = 0.5
	}
	return p.damage(float64(damage.Amount)*factor, sourcePos) <= 0
}

func (p *Plant) damage(amount float64, sourcePos vec.Vec2F) float64 {
	after := math.Max(0, p.health.Get()-amount)
	p.health.Set(after)
	if after <= 0 {
		p.broken.Trigger()
		p.dropItems(sourcePos, true)
		p.MarkDestroy()
	}
	return after
}

// dropItems выпускает предметы; при разрушении они падают обломками растения
func (p *Plant) dropItems(sourcePos vec.Vec2F, asDebris bool) {
	if p.world == nil || len(p.config.Drops) == 0 {
		return
	}
	seed := p.config.Seed
	if seed == 0 {
		seed = random.StaticRandom64(p.world.Seed(), p.id, p.config.Name, p.world.CurrentStep())
	}
	rng := random.New(seed)
	center := WorldBoundBox(p).Center()
	away := p.world.Geometry().DiffF(center, sourcePos)
	dir := 1.0
	if away.X < 0 {
		dir = -1
	}
	for _, item := range p.config.Drops {
		if item.Empty() {
			continue
		}
		cfg := ItemDropConfig{
			Item:       item,
			Velocity:   vec.V2F(dir*rng.FloatRange(2, 6), rng.FloatRange(4, 10)),
			PlantDrop:  asDebris,
			Persistent: true,
		}
		drop := NewItemDrop(cfg)
		drop.SetPosition(vec.V2F(center.X+rng.FloatRange(-0.5, 0.5), center.Y))
		if _, err := p.world.AddEntity(drop); err != nil {
			p.logger.Warn("⚠️ Растение %s: предмет %s не выпал: %v", p.config.Name, item.Name, err)
		}
	}
}

func (p *Plant) NetStore(rules netelement.CompatibilityRules) []byte {
	return p.netStore(p.config, rules)
}

func (p *Plant) DiskStore() (json.RawMessage, error) {
	return storeDisk(&p.Base, p.config, plantState{Stage: p.Stage(), Growth: p.growth, Health: p.health.Get()})
}

func loadPlantNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg PlantConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	p := NewPlant(cfg)
	return p, p.loadState(state, rules)
}

func loadPlantDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[PlantConfig, plantState](data)
	if err != nil {
		return nil, err
	}
	p := NewPlant(rec.Config)
	restoreBase(&p.Base, rec)
	if rec.State.Stage >= 0 && (len(rec.Config.Stages) == 0 || rec.State.Stage < len(rec.Config.Stages)) {
		p.stage.Set(int64(rec.State.Stage))
	}
	p.growth = rec.State.Growth
	if rec.State.Health > 0 {
		p.health.Set(rec.State.Health)
	}
	return p, nil
}

package entity

import (
	"encoding/json"

	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/quest"
	"github.com/annel0/tileverse/internal/status"
	"github.com/annel0/tileverse/internal/vec"
)

// PlayerConfig конфигурация игрока
type PlayerConfig struct {
	ActorConfig
	// Account владелец персонажа
	Account string `json:"account,omitempty"`
}

type playerState struct {
	actorState
	Quests json.RawMessage `json:"quests,omitempty"`
}

// Player персонаж игрока. Мастер живёт на клиенте-владельце,
// квесты ведутся только мастером.
type Player struct {
	actor
	account string

	quests        *quest.Manager
	pendingQuests json.RawMessage
}

// NewPlayer создаёт игрока
func NewPlayer(deps *Deps, cfg PlayerConfig) *Player {
	p := &Player{account: cfg.Account}
	p.setupActor(p, EntityTypePlayer, cfg.ActorConfig, deps)
	if p.config.Team.Type == TeamNull {
		p.team.Set(EntityDamageTeam{Type: TeamFriendly})
	}
	return p
}

func (p *Player) playerConfig() PlayerConfig {
	return PlayerConfig{ActorConfig: p.config, Account: p.account}
}

// Account владелец персонажа
func (p *Player) Account() string { return p.account }

// Quests менеджер квестов; nil у ведомой копии и без реестра квестов
func (p *Player) Quests() *quest.Manager { return p.quests }

func (p *Player) Init(world World, id EntityID, mode EntityMode) {
	p.actor.Init(world, id, mode)
	if !mode.IsMaster() || p.deps == nil || p.deps.Quests == nil {
		return
	}
	var loader luaengine.RequireLoader
	if a := world.Assets(); a != nil {
		loader = a.Script
	}
	p.quests = quest.NewManager(p.deps.Quests, world.Lua(), loader)
	p.quests.SetScriptBinder(func(ctx *luaengine.Context) { world.BindScript(ctx, p) })
	if len(p.pendingQuests) > 0 {
		if err := p.quests.DiskLoad(p.pendingQuests); err != nil {
			p.logger.Error("❌ Квесты игрока %d не загружены: %v", id, err)
		}
		p.pendingQuests = nil
	}
}

func (p *Player) Uninit() {
	if p.quests != nil {
		if data, err := p.quests.DiskStore(); err == nil {
			p.pendingQuests = data
		}
		p.quests.Uninit()
		p.quests = nil
	}
	p.actor.Uninit()
}

func (p *Player) Update(dt float64, step uint64) {
	p.updateActor(dt)
	if p.IsMaster() && p.quests != nil && !p.Dead() {
		p.quests.Update(dt)
	}
}

// Revive возвращает мёртвого игрока с полным здоровьем в точку pos
func (p *Player) Revive(pos vec.Vec2F) {
	if !p.IsMaster() {
		return
	}
	_ = p.status.SetResourcePercentage(status.ResourceHealth, 1)
	p.dead.Set(false)
	p.StopLounging()
	p.SetPosition(pos)
	if p.movement != nil {
		p.movement.SetVelocity(vec.Vec2F{})
	}
}

func (p *Player) NetStore(rules netelement.CompatibilityRules) []byte {
	return p.netStore(p.playerConfig(), rules)
}

func (p *Player) DiskStore() (json.RawMessage, error) {
	st := playerState{actorState: p.actorState(), Quests: p.pendingQuests}
	if p.quests != nil {
		data, err := p.quests.DiskStore()
		if err != nil {
			return nil, err
		}
		st.Quests = data
	}
	return storeDisk(&p.Base, p.playerConfig(), st)
}

func loadPlayerNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg PlayerConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	p := NewPlayer(deps, cfg)
	return p, p.loadState(state, rules)
}

func loadPlayerDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[PlayerConfig, playerState](data)
	if err != nil {
		return nil, err
	}
	p := NewPlayer(deps, rec.Config)
	restoreBase(&p.Base, rec)
	p.restoreActorState(rec.State.actorState)
	p.pendingQuests = rec.State.Quests
	return p, nil
}

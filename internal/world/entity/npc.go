package entity

import (
	"encoding/json"

	"github.com/annel0/tileverse/internal/behavior"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
)

// NpcConfig конфигурация NPC
type NpcConfig struct {
	ActorConfig
	BehaviorTree       string                 `json:"behavior,omitempty"`
	BehaviorParameters map[string]interface{} `json:"behaviorConfig,omitempty"`
	Seed               uint64                 `json:"seed,omitempty"`
	Interactive        bool                   `json:"interactive,omitempty"`
	// Interaction действие по умолчанию, если скрипт не определил interact
	Interaction *InteractAction `json:"interactAction,omitempty"`
}

type npcState struct {
	actorState
	Board map[string]interface{} `json:"board,omitempty"`
}

// Npc неигровой персонаж, управляемый деревом поведения поверх скриптов
type Npc struct {
	actor
	npcConfig NpcConfig

	tree      *behavior.Tree
	behavior  *behavior.State
	board     *behavior.Blackboard
	lastError string
}

// NewNpc создаёт NPC. Скрипты дерева поведения добавляются к скриптам конфигурации.
func NewNpc(deps *Deps, cfg NpcConfig) *Npc {
	n := &Npc{npcConfig: cfg, board: behavior.NewBlackboard()}
	n.setupActor(n, EntityTypeNpc, cfg.ActorConfig, deps)
	n.onDeath = n.MarkDestroy
	if cfg.BehaviorTree != "" && deps != nil && deps.Behaviors != nil {
		tree, err := deps.Behaviors.Build(cfg.BehaviorTree, cfg.BehaviorParameters)
		if err != nil {
			n.logger.Warn("⚠️ NPC %s: дерево %s не собрано: %v", cfg.Name, cfg.BehaviorTree, err)
		} else {
			n.tree = tree
			scripts := append(append([]string(nil), cfg.Scripts...), tree.Scripts...)
			n.script = NewScriptComponent(n, scripts, cfg.ScriptDelta)
		}
	}
	return n
}

// Behavior состояние дерева; nil у ведомой копии и без дерева
func (n *Npc) Behavior() *behavior.State { return n.behavior }

// Blackboard доска дерева поведения
func (n *Npc) Blackboard() *behavior.Blackboard { return n.board }

func (n *Npc) Init(world World, id EntityID, mode EntityMode) {
	n.actor.Init(world, id, mode)
	if !mode.IsMaster() || n.tree == nil || n.script == nil || !n.script.Initialized() {
		return
	}
	seed := n.npcConfig.Seed
	if seed == 0 {
		seed = world.Seed() ^ uint64(uint32(id))
	}
	state := behavior.NewState(n.tree, n.script.Context(), n.board, seed)
	if err := state.Validate(); err != nil {
		n.logger.Warn("⚠️ NPC %d: %v", id, err)
		return
	}
	n.behavior = state
}

func (n *Npc) Uninit() {
	n.behavior = nil
	n.actor.Uninit()
}

func (n *Npc) Update(dt float64, step uint64) {
	n.updateActor(dt)
	if !n.IsMaster() || n.behavior == nil || n.Dead() {
		return
	}
	if _, err := n.behavior.Run(dt); err != nil {
		// повторяющаяся ошибка пишется один раз
		if msg := err.Error(); msg != n.lastError {
			n.lastError = msg
			n.logger.Warn("⚠️ Поведение NPC %d: %v", n.id, err)
		}
	}
}

func (n *Npc) IsInteractive() bool { return n.npcConfig.Interactive && !n.Dead() }

func (n *Npc) InteractiveBoundBox() vec.RectF { return WorldBoundBox(n) }

// Interact спрашивает скрипт, иначе отдаёт действие из конфигурации
func (n *Npc) Interact(req InteractRequest) InteractAction {
	if action, handled := n.invokeInteract(req); handled {
		return action
	}
	if n.npcConfig.Interaction != nil {
		action := *n.npcConfig.Interaction
		action.EntityID = n.id
		return action
	}
	return NoInteraction()
}

func (n *Npc) NetStore(rules netelement.CompatibilityRules) []byte {
	return n.netStore(n.npcConfig, rules)
}

func (n *Npc) DiskStore() (json.RawMessage, error) {
	st := npcState{actorState: n.actorState()}
	if keys := n.board.Keys(); len(keys) > 0 {
		st.Board = make(map[string]interface{}, len(keys))
		for _, k := range keys {
			st.Board[k], _ = n.board.Get(k)
		}
	}
	return storeDisk(&n.Base, n.npcConfig, st)
}

func loadNpcNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg NpcConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	n := NewNpc(deps, cfg)
	return n, n.loadState(state, rules)
}

func loadNpcDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[NpcConfig, npcState](data)
	if err != nil {
		return nil, err
	}
	n := NewNpc(deps, rec.Config)
	restoreBase(&n.Base, rec)
	n.restoreActorState(rec.State.actorState)
	for k, v := range rec.State.Board {
		n.board.Set(k, v)
	}
	return n, nil
}

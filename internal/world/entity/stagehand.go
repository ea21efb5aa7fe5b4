package entity

import (
	"encoding/json"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
)

// StagehandConfig конфигурация невидимой скриптовой сущности
type StagehandConfig struct {
	Type          string                 `json:"type"`
	Scripts       []string               `json:"scripts,omitempty"`
	ScriptDelta   int                    `json:"scriptDelta,omitempty"`
	BroadcastArea *vec.RectF             `json:"broadcastArea,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Persistent    bool                   `json:"persistent,omitempty"`
	UniqueID      string                 `json:"uniqueId,omitempty"`
	// Privileged разрешает скриптам менять тайлы защищённых подземелий
	Privileged    bool                   `json:"privileged,omitempty"`
}

func (c StagehandConfig) boundBox() vec.RectF {
	if c.BroadcastArea != nil {
		return *c.BroadcastArea
	}
	return vec.NewRectF(-5, -5, 5, 5)
}

type stagehandState struct {
	Storage map[string]interface{} `json:"scriptStorage,omitempty"`
}

// Stagehand невидимая сущность со скриптами: режиссёр событий, маркер области
type Stagehand struct {
	Base
	config StagehandConfig
	script *ScriptComponent

	// storage переживает сохранение; скрипт пишет через storage.*
	storage map[string]interface{}
}

// NewStagehand создаёт стейджхенд
func NewStagehand(cfg StagehandConfig) *Stagehand {
	s := &Stagehand{
		Base:    newBase(EntityTypeStagehand, cfg.boundBox()),
		config:  cfg,
		storage: make(map[string]interface{}),
	}
	s.persistent = cfg.Persistent
	if cfg.UniqueID != "" {
		s.uniqueID.Set(cfg.UniqueID)
	}
	if len(cfg.Scripts) > 0 {
		s.script = NewScriptComponent(s, cfg.Scripts, cfg.ScriptDelta)
	}
	return s
}

// TypeName тип стейджхенда из конфигурации
func (s *Stagehand) TypeName() string { return s.config.Type }

func (s *Stagehand) Script() *ScriptComponent { return s.script }

func (s *Stagehand) ConfigParameter(path string) (interface{}, bool) {
	return configLookup(s.config.Parameters, path)
}

func (s *Stagehand) TilePrivileged() bool { return s.config.Privileged }

// Storage данные скрипта, сохраняемые на диск
func (s *Stagehand) Storage() map[string]interface{} { return s.storage }

func (s *Stagehand) SetStorage(key string, value interface{}) {
	if value == nil {
		delete(s.storage, key)
		return
	}
	s.storage[key] = value
}

func (s *Stagehand) Init(world World, id EntityID, mode EntityMode) {
	s.Base.Init(world, id, mode)
	if mode.IsMaster() && s.script != nil {
		if err := s.script.Init(world); err != nil {
			s.logger.Warn("⚠️ Скрипты стейджхенда %s не загружены: %v", s.config.Type, err)
		}
	}
}

func (s *Stagehand) Uninit() {
	if s.script != nil {
		s.script.Uninit()
	}
	s.Base.Uninit()
}

func (s *Stagehand) Update(dt float64, step uint64) {
	if !s.IsMaster() {
		s.tickSlave(dt)
		return
	}
	if s.script != nil {
		s.script.Update(dt)
	}
}

func (s *Stagehand) ReceiveMessage(sender ConnectionID, message string, args []interface{}) (interface{}, bool, error) {
	if s.script == nil || s.world == nil {
		return nil, false, nil
	}
	return s.script.HandleMessage(message, sender == s.world.ConnectionID(), args)
}

func (s *Stagehand) NetStore(rules netelement.CompatibilityRules) []byte {
	return s.netStore(s.config, rules)
}

func (s *Stagehand) DiskStore() (json.RawMessage, error) {
	return storeDisk(&s.Base, s.config, stagehandState{Storage: s.storage})
}

func loadStagehandNet(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	var cfg StagehandConfig
	state, err := readNetStore(data, &cfg)
	if err != nil {
		return nil, err
	}
	s := NewStagehand(cfg)
	return s, s.loadState(state, rules)
}

func loadStagehandDisk(deps *Deps, data json.RawMessage) (Entity, error) {
	rec, err := loadDisk[StagehandConfig, stagehandState](data)
	if err != nil {
		return nil, err
	}
	s := NewStagehand(rec.Config)
	restoreBase(&s.Base, rec)
	for k, v := range rec.State.Storage {
		s.storage[k] = v
	}
	return s, nil
}

package status

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/luaengine"
)

// Stacking что делать при повторном наложении эффекта
type Stacking uint8

const (
	// StackReplace новый экземпляр заменяет старый
	StackReplace Stacking = iota
	// StackStack стопки складываются, модификаторы умножаются на число стопок
	StackStack
	// StackExtend длительность прибавляется к оставшейся
	StackExtend
	// StackIgnore повторное наложение игнорируется
	StackIgnore
)

var stackingNames = [...]string{"replace", "stack", "extend", "ignore"}

func (s Stacking) String() string {
	if int(s) < len(stackingNames) {
		return stackingNames[s]
	}
	return fmt.Sprintf("Stacking(%d)", s)
}

func (s Stacking) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Stacking) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range stackingNames {
		if n == strings.ToLower(name) {
			*s = Stacking(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестная политика наложения %q", name)
}

// EffectConfig описание эффекта из ассета *.statuseffect
type EffectConfig struct {
	Name            string         `json:"name"`
	DefaultDuration float64        `json:"defaultDuration"`
	Icon            string         `json:"icon,omitempty"`
	Scripts         []string       `json:"scripts,omitempty"`
	ScriptDelta     int            `json:"scriptDelta,omitempty"`
	Stacking        Stacking       `json:"stacking"`
	MaxStacks       int            `json:"maxStacks,omitempty"`
	Modifiers       []StatModifier `json:"statModifiers,omitempty"`
}

// EffectInfo состояние эффекта, видимое клиентам
type EffectInfo struct {
	Name        string  `json:"name"`
	Icon        string  `json:"icon,omitempty"`
	Duration    float64 `json:"duration"`
	MaxDuration float64 `json:"maxDuration"`
	Stacks      int     `json:"stacks"`
	Permanent   bool    `json:"permanent,omitempty"`
}

func effectInfoEqual(a, b []EffectInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Registry описания эффектов и окружение для их скриптов
type Registry struct {
	configs map[string]EffectConfig
	engine  *luaengine.Engine
	scripts luaengine.RequireLoader
}

// NewRegistry пустой реестр
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]EffectConfig)}
}

// Register добавляет или заменяет описание
func (r *Registry) Register(cfg EffectConfig) {
	if cfg.ScriptDelta <= 0 {
		cfg.ScriptDelta = 1
	}
	r.configs[cfg.Name] = cfg
}

// Get описание по имени
func (r *Registry) Get(name string) (EffectConfig, bool) {
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names имена зарегистрированных эффектов
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for n := range r.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetScripting движок и загрузчик для скриптов эффектов
func (r *Registry) SetScripting(engine *luaengine.Engine, loader luaengine.RequireLoader) {
	r.engine = engine
	r.scripts = loader
}

// LoadAssets регистрирует все *.statuseffect из ассетов
func (r *Registry) LoadAssets(a *assets.Assets) error {
	paths, err := a.List("/stats/effects")
	if err != nil {
		return err
	}
	for _, p := range paths {
		if !strings.HasSuffix(p, ".statuseffect") {
			continue
		}
		var cfg EffectConfig
		if err := a.JSONInto(p, &cfg); err != nil {
			return fmt.Errorf("эффект %s: %w", p, err)
		}
		r.Register(cfg)
	}
	r.SetScripting(r.engine, a.Script)
	return nil
}

type activeEffect struct {
	config      EffectConfig
	remaining   float64
	maxDuration float64
	permanent   bool
	stacks      int
	group       int
	source      int32
	expired     bool

	// группы, добавленные скриптом эффекта
	scriptGroups []int

	ctx   *luaengine.Context
	steps int
}

// EffectSet активные эффекты контроллера
type EffectSet struct {
	owner  *Controller
	active []*activeEffect
	binder func(ctx *luaengine.Context)
	logger *logging.Logger
}

func newEffectSet(owner *Controller) *EffectSet {
	return &EffectSet{owner: owner, logger: logging.GetScriptLogger()}
}

// SetScriptBinder дополнительные привязки (entity.*, world.*) для скриптов эффектов
func (c *Controller) SetScriptBinder(fn func(ctx *luaengine.Context)) {
	c.effects.binder = fn
}

// AddEffect накладывает эффект. duration nil означает длительность по умолчанию;
// нулевая длительность по умолчанию делает эффект постоянным.
func (c *Controller) AddEffect(name string, duration *float64, source int32) error {
	if c.registry == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEffect, name)
	}
	cfg, ok := c.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEffect, name)
	}
	d := cfg.DefaultDuration
	if duration != nil {
		d = *duration
	}
	c.effects.add(cfg, d, source)
	c.publish()
	return nil
}

// RemoveEffect снимает эффект
func (c *Controller) RemoveEffect(name string) bool {
	removed := c.effects.remove(name)
	if removed {
		c.publish()
	}
	return removed
}

// HasEffect активен ли эффект
func (c *Controller) HasEffect(name string) bool { return c.effects.find(name) != nil }

// ClearEffects снимает все эффекты
func (c *Controller) ClearEffects() {
	for len(c.effects.active) > 0 {
		c.effects.uninit(c.effects.active[0])
		c.effects.active = c.effects.active[1:]
	}
	c.publish()
}

func (s *EffectSet) find(name string) *activeEffect {
	for _, e := range s.active {
		if e.config.Name == name && !e.expired {
			return e
		}
	}
	return nil
}

func (s *EffectSet) add(cfg EffectConfig, duration float64, source int32) {
	permanent := duration <= 0
	if existing := s.find(cfg.Name); existing != nil {
		switch cfg.Stacking {
		case StackIgnore:
			return
		case StackExtend:
			if !existing.permanent {
				existing.remaining += duration
				existing.maxDuration = math.Max(existing.maxDuration, existing.remaining)
			}
			return
		case StackStack:
			if cfg.MaxStacks == 0 || existing.stacks < cfg.MaxStacks {
				existing.stacks++
				s.owner.SetModifierGroup(existing.group, scaled(cfg.Modifiers, existing.stacks))
			}
			if !existing.permanent {
				existing.remaining = math.Max(existing.remaining, duration)
				existing.maxDuration = math.Max(existing.maxDuration, duration)
			}
			return
		default:
			s.remove(cfg.Name)
		}
	}
	e := &activeEffect{
		config:      cfg,
		remaining:   duration,
		maxDuration: duration,
		permanent:   permanent,
		stacks:      1,
		source:      source,
	}
	e.group = s.owner.AddModifierGroup(cfg.Modifiers)
	s.active = append(s.active, e)
	s.initScripts(e)
}

func scaled(mods []StatModifier, stacks int) []StatModifier {
	out := make([]StatModifier, len(mods))
	for i, m := range mods {
		m.Amount *= float64(stacks)
		m.ValueModifier *= float64(stacks)
		if m.BaseMultiplier != 0 {
			m.BaseMultiplier = math.Pow(m.BaseMultiplier, float64(stacks))
		}
		if m.EffectiveMultiplier != 0 {
			m.EffectiveMultiplier = math.Pow(m.EffectiveMultiplier, float64(stacks))
		}
		out[i] = m
	}
	return out
}

func (s *EffectSet) remove(name string) bool {
	for i, e := range s.active {
		if e.config.Name == name {
			s.uninit(e)
			s.active = append(s.active[:i], s.active[i+1:]...)
			return true
		}
	}
	return false
}

func (s *EffectSet) update(dt float64) {
	for _, e := range s.active {
		if !e.permanent {
			e.remaining -= dt
			if e.remaining <= 0 {
				e.expired = true
			}
		}
		if e.ctx != nil && !e.expired {
			e.steps++
			if e.steps >= e.config.ScriptDelta {
				e.steps = 0
				if _, _, err := e.ctx.InvokeIfExists("update", dt*float64(e.config.ScriptDelta)); err != nil {
					logging.LogScriptError(s.logger, "effect "+e.config.Name, err)
				}
			}
		}
	}
	kept := s.active[:0]
	for _, e := range s.active {
		if e.expired {
			if e.ctx != nil {
				if _, _, err := e.ctx.InvokeIfExists("onExpire"); err != nil {
					logging.LogScriptError(s.logger, "effect "+e.config.Name, err)
				}
			}
			s.uninit(e)
			continue
		}
		kept = append(kept, e)
	}
	s.active = kept
}

func (s *EffectSet) info() []EffectInfo {
	if len(s.active) == 0 {
		return nil
	}
	out := make([]EffectInfo, 0, len(s.active))
	for _, e := range s.active {
		out = append(out, EffectInfo{
			Name:        e.config.Name,
			Icon:        e.config.Icon,
			Duration:    math.Max(0, e.remaining),
			MaxDuration: e.maxDuration,
			Stacks:      e.stacks,
			Permanent:   e.permanent,
		})
	}
	return out
}

func (s *EffectSet) uninit(e *activeEffect) {
	if e.ctx != nil {
		if _, _, err := e.ctx.InvokeIfExists("uninit"); err != nil {
			logging.LogScriptError(s.logger, "effect "+e.config.Name, err)
		}
		e.ctx = nil
	}
	s.owner.RemoveModifierGroup(e.group)
	for _, id := range e.scriptGroups {
		s.owner.RemoveModifierGroup(id)
	}
	e.scriptGroups = nil
}

func (s *EffectSet) initScripts(e *activeEffect) {
	reg := s.owner.registry
	if len(e.config.Scripts) == 0 || reg == nil || reg.engine == nil {
		return
	}
	ctx := reg.engine.NewContext("effect:" + e.config.Name)
	if reg.scripts != nil {
		ctx.SetRequireLoader(reg.scripts)
	}
	ctx.SetCallbacks("effect", s.effectCallbacks(e))
	ctx.SetCallbacks("status", s.owner.Callbacks())
	if s.binder != nil {
		s.binder(ctx)
	}
	for _, path := range e.config.Scripts {
		if reg.scripts == nil {
			logging.LogScriptError(s.logger, "effect "+e.config.Name, fmt.Errorf("%s: %w", path, assets.ErrAssetMissing))
			return
		}
		src, err := reg.scripts(path)
		if err == nil {
			err = ctx.Load(path, src)
		}
		if err != nil {
			logging.LogScriptError(s.logger, "effect "+e.config.Name, err)
			return
		}
	}
	e.ctx = ctx
	if _, _, err := ctx.InvokeIfExists("init"); err != nil {
		logging.LogScriptError(s.logger, "effect "+e.config.Name, err)
	}
}

func (s *EffectSet) effectCallbacks(e *activeEffect) luaengine.Callbacks {
	return luaengine.Callbacks{
		"name":   func(luaengine.Args) (interface{}, error) { return e.config.Name, nil },
		"stacks": func(luaengine.Args) (interface{}, error) { return e.stacks, nil },
		"duration": func(luaengine.Args) (interface{}, error) {
			if e.permanent {
				return nil, nil
			}
			return e.remaining, nil
		},
		"modifyDuration": func(args luaengine.Args) (interface{}, error) {
			d, err := luaengine.Arg[float64](args, 0)
			if err != nil {
				return nil, err
			}
			if !e.permanent {
				e.remaining += d
			}
			return nil, nil
		},
		"expire": func(luaengine.Args) (interface{}, error) {
			e.expired = true
			return nil, nil
		},
		"sourceEntity": func(luaengine.Args) (interface{}, error) {
			if e.source == 0 {
				return nil, nil
			}
			return e.source, nil
		},
		"addStatModifierGroup": func(args luaengine.Args) (interface{}, error) {
			mods, err := luaengine.Arg[[]StatModifier](args, 0)
			if err != nil {
				return nil, err
			}
			id := s.owner.AddModifierGroup(mods)
			e.scriptGroups = append(e.scriptGroups, id)
			return id, nil
		},
		"setStatModifierGroup": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			mods, err := luaengine.Arg[[]StatModifier](args, 1)
			if err != nil {
				return nil, err
			}
			return s.owner.SetModifierGroup(id, mods), nil
		},
		"removeStatModifierGroup": func(args luaengine.Args) (interface{}, error) {
			id, err := luaengine.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			return s.owner.RemoveModifierGroup(id), nil
		},
	}
}

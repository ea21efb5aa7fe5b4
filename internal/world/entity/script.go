package entity

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/luaengine"
)

// ScriptComponent набор скриптов сущности в собственном Lua-контексте.
// Ошибка скрипта пропускает шаг, сущность продолжает работать.
type ScriptComponent struct {
	owner       Entity
	scripts     []string
	updateDelta int

	world    World
	ctx      *luaengine.Context
	handlers map[string]*luaengine.Function
	steps    int
	lastDt   float64
	faults   int
	logger   *logging.Logger
}

// NewScriptComponent компонент со скриптами по путям ассетов
func NewScriptComponent(owner Entity, scripts []string, updateDelta int) *ScriptComponent {
	if updateDelta <= 0 {
		updateDelta = 1
	}
	return &ScriptComponent{
		owner:       owner,
		scripts:     append([]string(nil), scripts...),
		updateDelta: updateDelta,
		handlers:    make(map[string]*luaengine.Function),
		logger:      logging.GetScriptLogger(),
	}
}

// Scripts пути скриптов
func (s *ScriptComponent) Scripts() []string { return s.scripts }

// Context Lua-контекст; nil до Init
func (s *ScriptComponent) Context() *luaengine.Context { return s.ctx }

// Initialized скрипты загружены
func (s *ScriptComponent) Initialized() bool { return s.ctx != nil }

// Faults число ошибок скриптов с момента Init
func (s *ScriptComponent) Faults() int { return s.faults }

// UpdateDelta период вызова update в шагах
func (s *ScriptComponent) UpdateDelta() int { return s.updateDelta }

func (s *ScriptComponent) label() string {
	return fmt.Sprintf("%s#%d", s.owner.EntityType(), s.owner.EntityID())
}

// Init создаёт контекст, публикует привязки, загружает скрипты и вызывает init
func (s *ScriptComponent) Init(world World) error {
	engine := world.Lua()
	if engine == nil {
		return fmt.Errorf("%s: движок Lua не задан", s.label())
	}
	s.world = world
	s.ctx = engine.NewContext(s.label())
	src := world.Assets()
	if src != nil {
		s.ctx.SetRequireLoader(src.Script)
	}
	s.ctx.SetCallbacks("message", luaengine.Callbacks{
		"setHandler": s.luaSetHandler,
	})
	s.ctx.SetCallbacks("script", luaengine.Callbacks{
		"setUpdateDelta": func(args luaengine.Args) (interface{}, error) {
			n, err := luaengine.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				s.updateDelta = n
			}
			return nil, nil
		},
		"updateDt": func(luaengine.Args) (interface{}, error) {
			return s.updateDt(), nil
		},
	})
	world.BindScript(s.ctx, s.owner)

	for _, path := range s.scripts {
		if err := s.load(src, path); err != nil {
			s.fault("load "+path, err)
			s.ctx = nil
			s.world = nil
			return err
		}
	}
	if _, _, err := s.ctx.InvokeIfExists("init"); err != nil {
		s.fault("init", err)
	}
	return nil
}

func (s *ScriptComponent) load(src *assets.Assets, path string) error {
	if src == nil {
		return fmt.Errorf("%s: %w", path, assets.ErrAssetMissing)
	}
	source, err := src.Script(path)
	if err != nil {
		return err
	}
	return s.ctx.Load(path, source)
}

func (s *ScriptComponent) updateDt() float64 {
	return s.lastDt * float64(s.updateDelta)
}

// Update вызывает update(dt) раз в updateDelta шагов
func (s *ScriptComponent) Update(dt float64) {
	if s.ctx == nil {
		return
	}
	s.lastDt = dt
	s.steps++
	if s.steps < s.updateDelta {
		return
	}
	s.steps = 0
	if _, _, err := s.ctx.InvokeIfExists("update", dt*float64(s.updateDelta)); err != nil {
		s.fault("update", err)
	}
}

// Uninit вызывает uninit и освобождает контекст
func (s *ScriptComponent) Uninit() {
	if s.ctx == nil {
		return
	}
	if _, _, err := s.ctx.InvokeIfExists("uninit"); err != nil {
		s.fault("uninit", err)
	}
	s.ctx = nil
	s.world = nil
	s.handlers = make(map[string]*luaengine.Function)
}

// Invoke вызывает функцию скрипта; ошибка логируется и возвращается
func (s *ScriptComponent) Invoke(fn string, args ...interface{}) ([]lua.LValue, error) {
	if s.ctx == nil {
		return nil, ErrNotInWorld
	}
	rets, err := s.ctx.Invoke(fn, args...)
	if err != nil {
		s.fault(fn, err)
	}
	return rets, err
}

// InvokeIfExists как Invoke, но отсутствие функции не ошибка
func (s *ScriptComponent) InvokeIfExists(fn string, args ...interface{}) ([]lua.LValue, bool, error) {
	if s.ctx == nil {
		return nil, false, nil
	}
	rets, found, err := s.ctx.InvokeIfExists(fn, args...)
	if err != nil {
		s.fault(fn, err)
	}
	return rets, found, err
}

// Eval выполняет код в контексте
func (s *ScriptComponent) Eval(code string) ([]lua.LValue, error) {
	if s.ctx == nil {
		return nil, ErrNotInWorld
	}
	return s.ctx.Eval(code)
}

func (s *ScriptComponent) luaSetHandler(args luaengine.Args) (interface{}, error) {
	name, err := luaengine.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if args.Get(1) == lua.LNil {
		delete(s.handlers, name)
		return nil, nil
	}
	fn, ok := args.Engine().AsFunction(args.Get(1))
	if !ok {
		return nil, fmt.Errorf("message.setHandler: обработчик %q не функция", name)
	}
	s.handlers[name] = fn
	return nil, nil
}

// HasHandler есть ли обработчик сообщения
func (s *ScriptComponent) HasHandler(message string) bool {
	_, ok := s.handlers[message]
	return ok
}

// HandleMessage вызывает обработчик handler(message, isLocal, args...)
func (s *ScriptComponent) HandleMessage(message string, isLocal bool, args []interface{}) (interface{}, bool, error) {
	fn, ok := s.handlers[message]
	if !ok || s.ctx == nil {
		return nil, false, nil
	}
	callArgs := make([]interface{}, 0, len(args)+2)
	callArgs = append(callArgs, message, isLocal)
	callArgs = append(callArgs, args...)
	rets, err := fn.Call(callArgs...)
	if err != nil {
		s.fault("message "+message, err)
		return nil, true, err
	}
	if len(rets) == 0 {
		return nil, true, nil
	}
	result, err := s.ctx.Engine().LuaToAny(rets[0])
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

func (s *ScriptComponent) fault(stage string, err error) {
	s.faults++
	logging.LogScriptError(s.logger, s.label()+" "+stage, err)
}

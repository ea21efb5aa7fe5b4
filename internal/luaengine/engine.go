// Package luaengine встраивает Lua (gopher-lua) в симуляцию: контексты с
// изолированным окружением, лимиты инструкций и вложенности, преобразование
// значений между Go и Lua, корутины и песочница.
//
// Движок не потокобезопасен: один экземпляр на поток симуляции.
package luaengine

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/annel0/tileverse/internal/config"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/cespare/xxhash/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Config параметры движка
type Config struct {
	InstructionLimit     int
	MeasureInterval      int
	RecursionLimit       int
	Profiling            bool
	AutoGCPause          float64
	AutoGCStepMultiplier float64
	Safe                 bool
}

// DefaultConfig значения по умолчанию, совпадающие с секцией lua конфигурации
func DefaultConfig() Config {
	return Config{
		InstructionLimit:     10000000,
		MeasureInterval:      1000,
		RecursionLimit:       64,
		AutoGCPause:          2.0,
		AutoGCStepMultiplier: 2.0,
		Safe:                 true,
	}
}

// ConfigFrom строит параметры движка из секции lua файла конфигурации
func ConfigFrom(c config.LuaConfig) Config {
	return Config{
		InstructionLimit:     c.InstructionLimit,
		MeasureInterval:      c.MeasureInterval,
		RecursionLimit:       c.RecursionLimit,
		Profiling:            c.Profiling,
		AutoGCPause:          c.AutoGCPause,
		AutoGCStepMultiplier: c.AutoGCStepMultiple,
		Safe:                 c.IsSafe(),
	}
}

// Engine один Lua-интерпретатор и всё его состояние
type Engine struct {
	state   *lua.LState
	cfg     Config
	counter *instructionCounter

	protos map[uint64]*lua.FunctionProto

	depth     int
	active    []*lua.LState
	hostStack []string
	pending   *ScriptError

	userdata *UserDataRegistry
	profile  map[string]*ProfileEntry
	gc       gcState

	jsonNewIndex *lua.LFunction

	runtime atomic.Pointer[config.RuntimeValues]
	logger  *logging.Logger
	closed  bool
}

// NewEngine создаёт движок. В безопасном режиме открываются только
// base, table, string, math и coroutine, без загрузки кода из файлов.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MeasureInterval <= 0 {
		cfg.MeasureInterval = def.MeasureInterval
	}
	if cfg.RecursionLimit <= 0 {
		cfg.RecursionLimit = def.RecursionLimit
	}
	if cfg.AutoGCPause <= 0 {
		cfg.AutoGCPause = def.AutoGCPause
	}
	if cfg.AutoGCStepMultiplier <= 0 {
		cfg.AutoGCStepMultiplier = def.AutoGCStepMultiplier
	}

	e := &Engine{
		state: lua.NewState(lua.Options{
			SkipOpenLibs:        true,
			CallStackSize:       256,
			MinimizeStackMemory: true,
		}),
		cfg:      cfg,
		counter:  newInstructionCounter(cfg.InstructionLimit, cfg.MeasureInterval),
		protos:   make(map[uint64]*lua.FunctionProto),
		userdata: NewUserDataRegistry(),
		profile:  make(map[string]*ProfileEntry),
		logger:   logging.GetScriptLogger(),
	}
	e.state.SetContext(e.counter)
	e.openLibs()
	return e
}

func (e *Engine) openLibs() {
	L := e.state
	type lib struct {
		name string
		open lua.LGFunction
	}
	libs := []lib{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
	if !e.cfg.Safe {
		libs = append(libs,
			lib{lua.LoadLibName, lua.OpenPackage},
			lib{lua.IoLibName, lua.OpenIo},
			lib{lua.OsLibName, lua.OpenOs},
			lib{lua.DebugLibName, lua.OpenDebug},
		)
	}
	for _, l := range libs {
		L.Push(L.NewFunction(l.open))
		L.Push(lua.LString(l.name))
		L.Call(1, 0)
	}

	if e.cfg.Safe {
		for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
			L.SetGlobal(name, lua.LNil)
		}
	}
	L.SetGlobal("print", L.NewFunction(e.luaPrint))
	L.SetGlobal("collectgarbage", L.NewFunction(e.luaCollectGarbage))

	co := L.GetGlobal(lua.CoroutineLibName).(*lua.LTable)
	create := co.RawGetString("create").(*lua.LFunction).GFunction
	co.RawSetString("create", L.NewFunction(func(L *lua.LState) int {
		n := create(L)
		if th, ok := L.Get(-1).(*lua.LState); ok {
			th.SetContext(e.counter)
		}
		return n
	}))
	co.RawSetString("wrap", L.NewFunction(e.luaCoroutineWrap))

	e.openJSONLib()
}

// Close освобождает интерпретатор
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.state.Close()
}

// Config текущие параметры
func (e *Engine) Config() Config { return e.cfg }

// UserData реестр хостовых объектов, доступных скриптам
func (e *Engine) UserData() *UserDataRegistry { return e.userdata }

// Depth текущая глубина вызовов из хоста
func (e *Engine) Depth() int { return e.depth }

// LastInstructionCount сколько инструкций выполнил последний завершённый
// внешний вызов (с точностью до интервала измерения)
func (e *Engine) LastInstructionCount() int64 { return e.counter.last }

// CompiledScripts число скомпилированных скриптов в кэше
func (e *Engine) CompiledScripts() int { return len(e.protos) }

// ApplyRuntime принимает новые значения из runtime-конфигурации.
// Может вызываться из любой горутины; применяется перед следующим внешним вызовом.
func (e *Engine) ApplyRuntime(v config.RuntimeValues) {
	e.runtime.Store(&v)
}

func (e *Engine) applyPendingRuntime() {
	v := e.runtime.Swap(nil)
	if v == nil {
		return
	}
	e.cfg.InstructionLimit = v.InstructionLimit
	e.cfg.MeasureInterval = v.MeasureInterval
	e.cfg.RecursionLimit = v.RecursionLimit
	e.cfg.Profiling = v.Profiling
	e.cfg.AutoGCPause = v.AutoGCPause
	e.cfg.AutoGCStepMultiplier = v.AutoGCStepMultipl
	e.counter.configure(v.InstructionLimit, v.MeasureInterval)
	e.logger.Info("⚙️ Параметры Lua обновлены: limit=%d interval=%d recursion=%d",
		v.InstructionLimit, v.MeasureInterval, v.RecursionLimit)
}

// compile компилирует исходник один раз на пару (имя, содержимое)
func (e *Engine) compile(name, source string) (*lua.FunctionProto, error) {
	key := xxhash.Sum64String(name + "\x00" + source)
	if proto, ok := e.protos[key]; ok {
		return proto, nil
	}
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, &ScriptError{Kind: KindSyntax, Message: err.Error(), Cause: err}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &ScriptError{Kind: KindSyntax, Message: err.Error(), Cause: err}
	}
	e.protos[key] = proto
	return proto, nil
}

// current поток Lua, из которого сейчас выполняется хостовый код
func (e *Engine) current() *lua.LState {
	if n := len(e.active); n > 0 {
		return e.active[n-1]
	}
	return e.state
}

func (e *Engine) enter(label string) error {
	if e.closed {
		return ErrEngineClosed
	}
	if e.depth == 0 {
		e.applyPendingRuntime()
		e.counter.count = 0
	}
	if e.depth >= e.cfg.RecursionLimit {
		return &ScriptError{
			Kind:      KindRecursionLimit,
			Message:   fmt.Sprintf("глубина %d при входе в %s", e.depth, label),
			Traceback: stitchTraceback("", "", e.hostStack),
		}
	}
	e.depth++
	e.hostStack = append(e.hostStack, label)
	return nil
}

func (e *Engine) leave() {
	e.depth--
	e.hostStack = e.hostStack[:len(e.hostStack)-1]
	if e.depth == 0 {
		e.counter.reset()
		e.pending = nil
	}
}

// call вызывает значение fn из хоста
func (e *Engine) call(label string, fn lua.LValue, args []lua.LValue) ([]lua.LValue, error) {
	if err := e.enter(label); err != nil {
		return nil, err
	}
	defer e.leave()

	L := e.current()
	top := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}

	start := time.Now()
	err := L.PCall(len(args), lua.MultRet, nil)
	e.record(label, time.Since(start))
	if err != nil {
		L.SetTop(top)
		return nil, e.scriptError(err)
	}

	rets := make([]lua.LValue, L.GetTop()-top)
	for i := range rets {
		rets[i] = L.Get(top + 1 + i)
	}
	L.SetTop(top)
	return rets, nil
}

// scriptError классифицирует ошибку интерпретатора
func (e *Engine) scriptError(err error) *ScriptError {
	var se *ScriptError
	if errors.As(err, &se) {
		return se
	}
	se = &ScriptError{Kind: KindRuntime, Message: err.Error()}
	var api *lua.ApiError
	if errors.As(err, &api) {
		if api.Object != nil {
			se.Message = api.Object.String()
		}
		se.Traceback = api.StackTrace
		if api.Type == lua.ApiErrorSyntax {
			se.Kind = KindSyntax
			se.Cause = api.Cause
		}
	}

	switch {
	case e.counter.exceeded:
		se.Kind = KindInstructionLimit
	case e.pending != nil && strings.Contains(se.Message, e.pending.Message):
		se.Kind = e.pending.Kind
		se.Cause = e.pending.Cause
	}
	se.Traceback = stitchTraceback(se.Traceback, "", e.hostStack)
	return se
}

// NewFunction создаёт Lua-функцию из хостового обработчика
func (e *Engine) NewFunction(name string, cb Callback) *Function {
	fn := e.state.NewFunction(e.wrapCallback(name, cb))
	return &Function{Ref: Ref{engine: e, value: fn}, fn: fn}
}

// CreateTable создаёт пустую таблицу
func (e *Engine) CreateTable() *Table {
	t := e.state.NewTable()
	return &Table{Ref: Ref{engine: e, value: t}, t: t}
}

// CreateArray создаёт таблицу с маркером json-массива
func (e *Engine) CreateArray() *Table {
	t := e.newJSONContainer(typeHintArray, 0, 0)
	return &Table{Ref: Ref{engine: e, value: t}, t: t}
}

// CreateObject создаёт таблицу с маркером json-объекта
func (e *Engine) CreateObject() *Table {
	t := e.newJSONContainer(typeHintObject, 0, 0)
	return &Table{Ref: Ref{engine: e, value: t}, t: t}
}

func (e *Engine) luaPrint(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	owner := "lua"
	if n := len(e.hostStack); n > 0 {
		owner = e.hostStack[n-1]
	}
	e.logger.Info("📜 [%s] %s", owner, strings.Join(parts, "\t"))
	return 0
}

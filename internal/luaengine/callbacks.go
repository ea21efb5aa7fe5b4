package luaengine

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Callback хостовая функция, вызываемая из скрипта.
// Возвращаемое значение преобразуется через ToLua; Returns даёт несколько значений.
type Callback func(args Args) (interface{}, error)

// Callbacks таблица функций, публикуемая в контексте под одним именем (world, entity, ...)
type Callbacks map[string]Callback

// Returns несколько возвращаемых значений
type Returns []interface{}

// Args аргументы вызова из Lua
type Args struct {
	engine *Engine
	values []lua.LValue
}

// Engine движок, из которого пришёл вызов
func (a Args) Engine() *Engine { return a.engine }

// Len число аргументов
func (a Args) Len() int { return len(a.values) }

// Get аргумент по индексу с нуля; за пределами nil
func (a Args) Get(i int) lua.LValue {
	if i < 0 || i >= len(a.values) {
		return lua.LNil
	}
	return a.values[i]
}

// Values все аргументы
func (a Args) Values() []lua.LValue { return a.values }

// Arg преобразует аргумент i в T
func Arg[T any](a Args, i int) (T, error) {
	v, err := FromLua[T](a.engine, a.Get(i))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("аргумент #%d: %w", i+1, err)
	}
	return v, nil
}

// OptArg как Arg, но для nil возвращает def
func OptArg[T any](a Args, i int, def T) (T, error) {
	if a.Get(i) == lua.LNil {
		return def, nil
	}
	return Arg[T](a, i)
}

// wrapCallback превращает Callback в функцию интерпретатора.
// Паника обработчика и возвращённая ошибка становятся ошибкой Lua.
func (e *Engine) wrapCallback(name string, cb Callback) lua.LGFunction {
	return func(L *lua.LState) int {
		args := Args{engine: e, values: make([]lua.LValue, L.GetTop())}
		for i := range args.values {
			args.values[i] = L.Get(i + 1)
		}

		ret, err := e.invokeCallback(L, name, cb, args)

		if err != nil {
			msg := err.Error()
			var se *ScriptError
			if errors.As(err, &se) {
				msg = se.Message
				if se.IsLimit() {
					e.pending = se
				}
			}
			L.RaiseError("%s: %s", name, msg)
			return 0
		}

		values, err := e.returnValues(ret)
		if err != nil {
			L.RaiseError("%s: %s", name, err.Error())
			return 0
		}
		for _, v := range values {
			L.Push(v)
		}
		return len(values)
	}
}

func (e *Engine) invokeCallback(L *lua.LState, name string, cb Callback, args Args) (ret interface{}, err error) {
	e.active = append(e.active, L)
	defer func() {
		e.active = e.active[:len(e.active)-1]
		if r := recover(); r != nil {
			// ошибки самого интерпретатора пропускаем дальше
			if api, ok := r.(*lua.ApiError); ok {
				panic(api)
			}
			err = fmt.Errorf("паника в обработчике: %v", r)
		}
	}()
	if !e.cfg.Profiling {
		return cb(args)
	}
	start := nowFunc()
	ret, err = cb(args)
	e.record("callback:"+name, nowFunc().Sub(start))
	return ret, err
}

func (e *Engine) returnValues(ret interface{}) ([]lua.LValue, error) {
	switch r := ret.(type) {
	case nil:
		return nil, nil
	case Returns:
		out := make([]lua.LValue, len(r))
		for i, v := range r {
			lv, err := e.ToLua(v)
			if err != nil {
				return nil, err
			}
			out[i] = lv
		}
		return out, nil
	}
	lv, err := e.ToLua(ret)
	if err != nil {
		return nil, err
	}
	return []lua.LValue{lv}, nil
}

// callbackTable таблица Lua с обёрнутыми обработчиками
func (e *Engine) callbackTable(prefix string, cbs Callbacks) *lua.LTable {
	t := e.state.CreateTable(0, len(cbs))
	for name, cb := range cbs {
		t.RawSetString(name, e.state.NewFunction(e.wrapCallback(prefix+"."+name, cb)))
	}
	return t
}

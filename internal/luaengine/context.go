package luaengine

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// RequireLoader возвращает исходник модуля по имени (обычно путь ассета)
type RequireLoader func(name string) (string, error)

// Context изолированное глобальное окружение внутри общего движка.
// Чтение неизвестных глобалов уходит в базовые библиотеки, запись остаётся в контексте.
type Context struct {
	engine  *Engine
	name    string
	env     *lua.LTable
	loader  RequireLoader
	loaded  map[string]lua.LValue
	loading map[string]bool
}

// NewContext создаёт контекст с собственным _ENV
func (e *Engine) NewContext(name string) *Context {
	L := e.state
	c := &Context{
		engine:  e,
		name:    name,
		env:     L.NewTable(),
		loaded:  make(map[string]lua.LValue),
		loading: make(map[string]bool),
	}
	mt := L.CreateTable(0, 1)
	mt.RawSetString("__index", L.G.Global)
	L.SetMetatable(c.env, mt)
	c.env.RawSetString("_ENV", c.env)
	c.env.RawSetString("_G", c.env)
	c.env.RawSetString("require", L.NewFunction(c.luaRequire))
	return c
}

// Name имя контекста (для логов и трассировок)
func (c *Context) Name() string { return c.name }

// Engine движок контекста
func (c *Context) Engine() *Engine { return c.engine }

// Env таблица окружения
func (c *Context) Env() *Table {
	return &Table{Ref: Ref{engine: c.engine, value: c.env}, t: c.env}
}

// SetRequireLoader задаёт загрузчик для require
func (c *Context) SetRequireLoader(loader RequireLoader) { c.loader = loader }

// Load компилирует (или берёт из кэша) скрипт и выполняет его в окружении контекста
func (c *Context) Load(name, source string) error {
	fn, err := c.instantiate(c.engine.state, name, source)
	if err != nil {
		return err
	}
	_, err = c.engine.call(c.name+":"+name, fn, nil)
	return err
}

func (c *Context) instantiate(L *lua.LState, name, source string) (*lua.LFunction, error) {
	proto, err := c.engine.compile(name, source)
	if err != nil {
		return nil, err
	}
	fn := L.NewFunctionFromProto(proto)
	fn.Env = c.env
	return fn, nil
}

func (c *Context) luaRequire(L *lua.LState) int {
	name := L.CheckString(1)
	if v, ok := c.loaded[name]; ok {
		L.Push(v)
		return 1
	}
	if c.loader == nil {
		L.RaiseError("require %q: загрузчик модулей не задан", name)
		return 0
	}
	if c.loading[name] {
		L.RaiseError("require %q: циклическая зависимость", name)
		return 0
	}
	source, err := c.loader(name)
	if err != nil {
		L.RaiseError("require %q: %v", name, err)
		return 0
	}
	fn, err := c.instantiate(L, name, source)
	if err != nil {
		L.RaiseError("require %q: %v", name, err)
		return 0
	}

	c.loading[name] = true
	L.Push(fn)
	L.Push(lua.LString(name))
	L.Call(1, 1)
	delete(c.loading, name)

	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LNil {
		ret = lua.LTrue
	}
	c.loaded[name] = ret
	L.Push(ret)
	return 1
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// GetPath значение по пути вида "a.b.c" с учётом метатаблиц
func (c *Context) GetPath(path string) Ref {
	L := c.engine.state
	var cur lua.LValue = c.env
	for _, part := range splitPath(path) {
		t, ok := cur.(*lua.LTable)
		if !ok {
			return Ref{engine: c.engine, value: lua.LNil}
		}
		cur = L.GetField(t, part)
	}
	return Ref{engine: c.engine, value: cur}
}

// Contains путь существует и не nil
func (c *Context) Contains(path string) bool {
	return !c.GetPath(path).IsNil()
}

// SetPath записывает значение, создавая промежуточные таблицы
func (c *Context) SetPath(path string, v interface{}) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("пустой путь")
	}
	value, err := c.engine.ToLua(v)
	if err != nil {
		return err
	}
	L := c.engine.state
	cur := c.env
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.RawGetString(part).(*lua.LTable)
		if !ok {
			if existing := cur.RawGetString(part); existing != lua.LNil {
				return fmt.Errorf("%s: поле %q не таблица", path, part)
			}
			next = L.NewTable()
			cur.RawSetString(part, next)
		}
		cur = next
	}
	c.engine.jsonSet(cur, lua.LString(parts[len(parts)-1]), value)
	return nil
}

// SetCallbacks публикует таблицу хостовых функций под именем name
func (c *Context) SetCallbacks(name string, cbs Callbacks) {
	c.env.RawSetString(name, c.engine.callbackTable(name, cbs))
}

// RemoveCallbacks убирает таблицу функций
func (c *Context) RemoveCallbacks(name string) {
	c.env.RawSetString(name, lua.LNil)
}

// Invoke вызывает функцию по пути с аргументами Go
func (c *Context) Invoke(path string, args ...interface{}) ([]lua.LValue, error) {
	fn := c.GetPath(path).Value()
	if _, ok := fn.(*lua.LFunction); !ok {
		return nil, fmt.Errorf("%s.%s: %w", c.name, path, ErrNotFunction)
	}
	largs, err := c.engine.toLuaArgs(args)
	if err != nil {
		return nil, err
	}
	return c.engine.call(c.name+":"+path, fn, largs)
}

// InvokeIfExists как Invoke, но отсутствие функции не ошибка
func (c *Context) InvokeIfExists(path string, args ...interface{}) ([]lua.LValue, bool, error) {
	if _, ok := c.GetPath(path).Value().(*lua.LFunction); !ok {
		return nil, false, nil
	}
	rets, err := c.Invoke(path, args...)
	return rets, true, err
}

// InvokeAs вызывает функцию и преобразует первый результат в T
func InvokeAs[T any](c *Context, path string, args ...interface{}) (T, error) {
	var zero T
	rets, err := c.Invoke(path, args...)
	if err != nil {
		return zero, err
	}
	var first lua.LValue = lua.LNil
	if len(rets) > 0 {
		first = rets[0]
	}
	return FromLua[T](c.engine, first)
}

// Eval выполняет фрагмент кода в контексте и возвращает его результаты
func (c *Context) Eval(source string) ([]lua.LValue, error) {
	fn, err := c.instantiate(c.engine.state, c.name+":eval", source)
	if err != nil {
		return nil, err
	}
	return c.engine.call(c.name+":eval", fn, nil)
}

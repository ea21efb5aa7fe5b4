package luaengine

import (
	lua "github.com/yuin/gopher-lua"
)

// Ref ссылка хоста на значение Lua. Держит движок, которому принадлежит значение.
// Ссылки нельзя класть в user-data: реестр хранит только непрозрачные id.
type Ref struct {
	engine *Engine
	value  lua.LValue
}

// Engine движок значения
func (r Ref) Engine() *Engine { return r.engine }

// Value сырое значение
func (r Ref) Value() lua.LValue {
	if r.value == nil {
		return lua.LNil
	}
	return r.value
}

// IsNil значение отсутствует
func (r Ref) IsNil() bool { return r.value == nil || r.value == lua.LNil }

func (r Ref) String() string { return r.Value().String() }

// Table ссылка на таблицу
type Table struct {
	Ref
	t *lua.LTable
}

// RawTable таблица интерпретатора
func (t *Table) RawTable() *lua.LTable { return t.t }

// Get читает поле с учётом метатаблиц
func (t *Table) Get(key interface{}) (lua.LValue, error) {
	k, err := t.engine.ToLua(key)
	if err != nil {
		return lua.LNil, err
	}
	return t.engine.state.GetTable(t.t, k), nil
}

// Set записывает поле (в json-контейнерах nil запоминается)
func (t *Table) Set(key, value interface{}) error {
	k, err := t.engine.ToLua(key)
	if err != nil {
		return err
	}
	v, err := t.engine.ToLua(value)
	if err != nil {
		return err
	}
	t.engine.jsonSet(t.t, k, v)
	return nil
}

// Len длина последовательности; для json-массива учитывает nil-элементы
func (t *Table) Len() int { return t.engine.jsonSize(t.t) }

// ForEach обходит пары ключ-значение
func (t *Table) ForEach(fn func(k, v lua.LValue)) { t.t.ForEach(fn) }

// Function ссылка на функцию
type Function struct {
	Ref
	fn *lua.LFunction
}

// RawFunction функция интерпретатора
func (f *Function) RawFunction() *lua.LFunction { return f.fn }

// Call вызывает функцию как внешний вызов хоста
func (f *Function) Call(args ...interface{}) ([]lua.LValue, error) {
	largs, err := f.engine.toLuaArgs(args)
	if err != nil {
		return nil, err
	}
	return f.engine.call(functionLabel(f.fn), f.fn, largs)
}

func functionLabel(fn *lua.LFunction) string {
	if fn.IsG || fn.Proto == nil {
		return "function"
	}
	return fn.Proto.SourceName
}

// AsTable ссылка на таблицу, если значение таблица
func (e *Engine) AsTable(v lua.LValue) (*Table, bool) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, false
	}
	return &Table{Ref: Ref{engine: e, value: t}, t: t}, true
}

// AsFunction ссылка на функцию, если значение функция
func (e *Engine) AsFunction(v lua.LValue) (*Function, bool) {
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return nil, false
	}
	return &Function{Ref: Ref{engine: e, value: fn}, fn: fn}, true
}

func (e *Engine) toLuaArgs(args []interface{}) ([]lua.LValue, error) {
	out := make([]lua.LValue, len(args))
	for i, a := range args {
		v, err := e.ToLua(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

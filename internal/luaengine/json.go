package luaengine

import (
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// Таблицы с такой метатаблицей считаются json-массивами или json-объектами.
// __nils хранит ключи, которым явно присвоен nil, чтобы nil переживал
// преобразование туда и обратно.
const (
	typeHintArray  = 1
	typeHintObject = 2

	maxJSONDepth = 64
)

func (e *Engine) openJSONLib() {
	L := e.state
	e.jsonNewIndex = L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		e.jsonSet(t, L.CheckAny(2), L.Get(3))
		return 0
	})
	L.SetGlobal("jarray", L.NewFunction(func(L *lua.LState) int {
		L.Push(e.newJSONContainer(typeHintArray, 0, 0))
		return 1
	}))
	L.SetGlobal("jobject", L.NewFunction(func(L *lua.LState) int {
		L.Push(e.newJSONContainer(typeHintObject, 0, 0))
		return 1
	}))
	L.SetGlobal("jsize", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(e.jsonSize(L.CheckTable(1))))
		return 1
	}))
	L.SetGlobal("jresize", L.NewFunction(func(L *lua.LState) int {
		e.jsonResize(L.CheckTable(1), L.CheckInt(2))
		return 0
	}))
	L.SetGlobal("jremove", L.NewFunction(func(L *lua.LState) int {
		e.jsonRemove(L.CheckTable(1), L.CheckAny(2))
		return 0
	}))
}

func (e *Engine) newJSONContainer(hint, narr, nhash int) *lua.LTable {
	L := e.state
	t := L.CreateTable(narr, nhash)
	mt := L.CreateTable(0, 3)
	mt.RawSetString("__typehint", lua.LNumber(hint))
	mt.RawSetString("__nils", L.NewTable())
	mt.RawSetString("__newindex", e.jsonNewIndex)
	L.SetMetatable(t, mt)
	return t
}

// typeHint маркер контейнера или 0 для обычной таблицы
func (e *Engine) typeHint(t *lua.LTable) (int, *lua.LTable) {
	mt, ok := t.Metatable.(*lua.LTable)
	if !ok {
		return 0, nil
	}
	hint, ok := mt.RawGetString("__typehint").(lua.LNumber)
	if !ok {
		return 0, nil
	}
	nils, _ := mt.RawGetString("__nils").(*lua.LTable)
	return int(hint), nils
}

// jsonSet присваивание с учётом nil-маркеров
func (e *Engine) jsonSet(t *lua.LTable, k, v lua.LValue) {
	if k == lua.LNil {
		return
	}
	if _, nils := e.typeHint(t); nils != nil {
		if v == lua.LNil {
			nils.RawSet(k, lua.LTrue)
		} else {
			nils.RawSet(k, lua.LNil)
		}
	}
	t.RawSet(k, v)
}

func (e *Engine) jsonSize(t *lua.LTable) int {
	hint, nils := e.typeHint(t)
	switch hint {
	case typeHintArray:
		size := t.MaxN()
		if nils != nil {
			nils.ForEach(func(k, _ lua.LValue) {
				if n, ok := k.(lua.LNumber); ok && int(n) > size {
					size = int(n)
				}
			})
		}
		return size
	case typeHintObject:
		count := 0
		t.ForEach(func(_, _ lua.LValue) { count++ })
		if nils != nil {
			nils.ForEach(func(k, _ lua.LValue) {
				if t.RawGet(k) == lua.LNil {
					count++
				}
			})
		}
		return count
	}
	return t.Len()
}

func (e *Engine) jsonResize(t *lua.LTable, n int) {
	_, nils := e.typeHint(t)
	size := e.jsonSize(t)
	for i := n + 1; i <= size; i++ {
		t.RawSetInt(i, lua.LNil)
		if nils != nil {
			nils.RawSetInt(i, lua.LNil)
		}
	}
	if nils == nil {
		return
	}
	for i := 1; i <= n; i++ {
		if t.RawGetInt(i) == lua.LNil {
			nils.RawSetInt(i, lua.LTrue)
		}
	}
}

func (e *Engine) jsonRemove(t *lua.LTable, k lua.LValue) {
	t.RawSet(k, lua.LNil)
	if _, nils := e.typeHint(t); nils != nil {
		nils.RawSet(k, lua.LNil)
	}
}

// jsonToLua значение из encoding/json (nil, bool, float64, string, []interface{}, map[string]interface{})
func (e *Engine) jsonToLua(v interface{}) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []interface{}:
		t := e.newJSONContainer(typeHintArray, len(x), 0)
		for i, item := range x {
			e.jsonSet(t, lua.LNumber(i+1), e.jsonToLua(item))
		}
		return t
	case map[string]interface{}:
		t := e.newJSONContainer(typeHintObject, 0, len(x))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.jsonSet(t, lua.LString(k), e.jsonToLua(x[k]))
		}
		return t
	}
	return lua.LNil
}

// luaToJSON переводит значение в форму encoding/json.
// Обычная таблица с ключами 1..n становится массивом, иначе объектом.
func (e *Engine) luaToJSON(v lua.LValue, depth int) (interface{}, error) {
	if depth > maxJSONDepth {
		return nil, conversionError("слишком глубокая вложенность таблиц")
	}
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		return numberToAny(x), nil
	case lua.LString:
		return string(x), nil
	case *lua.LTable:
		return e.tableToJSON(x, depth)
	}
	return nil, conversionError("значение типа %s не представимо в json", v.Type())
}

func numberToAny(n lua.LNumber) interface{} {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func (e *Engine) tableToJSON(t *lua.LTable, depth int) (interface{}, error) {
	hint, nils := e.typeHint(t)
	if hint == 0 && isSequence(t) {
		hint = typeHintArray
	}

	if hint == typeHintArray {
		size := e.jsonSize(t)
		out := make([]interface{}, size)
		for i := 1; i <= size; i++ {
			item, err := e.luaToJSON(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i-1] = item
		}
		return out, nil
	}

	out := make(map[string]interface{})
	var convErr error
	t.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		key, ok := jsonKey(k)
		if !ok {
			convErr = conversionError("ключ типа %s недопустим в json-объекте", k.Type())
			return
		}
		item, err := e.luaToJSON(v, depth+1)
		if err != nil {
			convErr = err
			return
		}
		out[key] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	if nils != nil {
		nils.ForEach(func(k, _ lua.LValue) {
			if key, ok := jsonKey(k); ok && t.RawGet(k) == lua.LNil {
				out[key] = nil
			}
		})
	}
	return out, nil
}

func jsonKey(k lua.LValue) (string, bool) {
	switch x := k.(type) {
	case lua.LString:
		return string(x), true
	case lua.LNumber:
		if v, ok := numberToAny(x).(int64); ok {
			return strconv.FormatInt(v, 10), true
		}
		return x.String(), true
	}
	return "", false
}

// isSequence непустая таблица только с ключами 1..n
func isSequence(t *lua.LTable) bool {
	n := t.Len()
	if n == 0 {
		return false
	}
	count := 0
	seq := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if num, ok := k.(lua.LNumber); !ok || float64(num) != math.Trunc(float64(num)) || int(num) < 1 || int(num) > n {
			seq = false
		}
	})
	return seq && count == n
}

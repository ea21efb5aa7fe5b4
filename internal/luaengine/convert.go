package luaengine

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// LuaConverter тип, умеющий сам представить себя в Lua
type LuaConverter interface {
	ToLua(e *Engine) (lua.LValue, error)
}

// LuaLoader тип, умеющий прочитать себя из значения Lua (реализуется на указателе)
type LuaLoader interface {
	FromLua(e *Engine, v lua.LValue) error
}

var (
	lvalueType = reflect.TypeOf((*lua.LValue)(nil)).Elem()
	loaderType = reflect.TypeOf((*LuaLoader)(nil)).Elem()
	refType    = reflect.TypeOf(Ref{})
	tablePtr   = reflect.TypeOf((*Table)(nil))
	funcPtr    = reflect.TypeOf((*Function)(nil))
)

// ToLua переводит значение Go в значение Lua. Срезы становятся json-массивами,
// отображения json-объектами, структуры проходят через encoding/json.
func (e *Engine) ToLua(v interface{}) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		return x, nil
	case Ref:
		return x.Value(), nil
	case *Table:
		return x.Value(), nil
	case *Function:
		return x.Value(), nil
	case *Thread:
		return x.state, nil
	case LuaConverter:
		return x.ToLua(e)
	case bool:
		return lua.LBool(x), nil
	case string:
		return lua.LString(x), nil
	case []byte:
		return lua.LString(x), nil
	case int:
		return lua.LNumber(x), nil
	case int32:
		return lua.LNumber(x), nil
	case int64:
		return lua.LNumber(x), nil
	case uint64:
		return lua.LNumber(x), nil
	case float32:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	case json.RawMessage:
		var generic interface{}
		if err := json.Unmarshal(x, &generic); err != nil {
			return lua.LNil, conversionError("json: %v", err)
		}
		return e.jsonToLua(generic), nil
	case []interface{}, map[string]interface{}:
		return e.jsonToLua(x), nil
	}
	return e.reflectToLua(reflect.ValueOf(v), 0)
}

func (e *Engine) reflectToLua(rv reflect.Value, depth int) (lua.LValue, error) {
	if depth > maxJSONDepth {
		return lua.LNil, conversionError("слишком глубокая вложенность")
	}
	if !rv.IsValid() {
		return lua.LNil, nil
	}
	if rv.CanInterface() {
		if c, ok := rv.Interface().(LuaConverter); ok {
			if rv.Kind() == reflect.Ptr && rv.IsNil() {
				return lua.LNil, nil
			}
			return c.ToLua(e)
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return lua.LBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float()), nil
	case reflect.String:
		return lua.LString(rv.String()), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil, nil
		}
		return e.reflectToLua(rv.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return lua.LNil, nil
		}
		t := e.newJSONContainer(typeHintArray, rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			item, err := e.reflectToLua(rv.Index(i), depth+1)
			if err != nil {
				return lua.LNil, err
			}
			e.jsonSet(t, lua.LNumber(i+1), item)
		}
		return t, nil
	case reflect.Map:
		if rv.IsNil() {
			return lua.LNil, nil
		}
		var t *lua.LTable
		if rv.Type().Key().Kind() == reflect.String {
			t = e.newJSONContainer(typeHintObject, 0, rv.Len())
		} else {
			t = e.state.CreateTable(0, rv.Len())
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
		for _, k := range keys {
			lk, err := e.reflectToLua(k, depth+1)
			if err != nil {
				return lua.LNil, err
			}
			lv, err := e.reflectToLua(rv.MapIndex(k), depth+1)
			if err != nil {
				return lua.LNil, err
			}
			e.jsonSet(t, lk, lv)
		}
		return t, nil
	case reflect.Struct:
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return lua.LNil, conversionError("%s: %v", rv.Type(), err)
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return lua.LNil, conversionError("%s: %v", rv.Type(), err)
		}
		return e.jsonToLua(generic), nil
	}
	return lua.LNil, conversionError("тип %s не преобразуется в Lua", rv.Type())
}

func keyLess(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return a.Int() < b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return a.Uint() < b.Uint()
	case reflect.String:
		return a.String() < b.String()
	}
	return false
}

// FromLua переводит значение Lua в T. Числа и строки взаимно приводятся.
func FromLua[T any](e *Engine, v lua.LValue) (T, error) {
	var out T
	rt := reflect.TypeOf(&out).Elem()
	rv, err := e.fromLua(v, rt, 0)
	if err != nil {
		return out, err
	}
	reflect.ValueOf(&out).Elem().Set(rv)
	return out, nil
}

// LuaToAny значение Lua в виде обычных значений Go (как у encoding/json, целые как int64)
func (e *Engine) LuaToAny(v lua.LValue) (interface{}, error) {
	switch x := v.(type) {
	case *lua.LFunction:
		return &Function{Ref: Ref{engine: e, value: x}, fn: x}, nil
	case *lua.LUserData:
		if id, ok := x.Value.(UserDataID); ok {
			if host, ok := e.userdata.Lookup(id); ok {
				return host, nil
			}
		}
		return x, nil
	case *lua.LState:
		return x, nil
	}
	return e.luaToJSON(v, 0)
}

func (e *Engine) fromLua(v lua.LValue, rt reflect.Type, depth int) (reflect.Value, error) {
	if v == nil {
		v = lua.LNil
	}
	if depth > maxJSONDepth {
		return reflect.Value{}, conversionError("слишком глубокая вложенность")
	}

	switch {
	case rt == lvalueType:
		out := reflect.New(rt).Elem()
		out.Set(reflect.ValueOf(v))
		return out, nil
	case rt == refType:
		return reflect.ValueOf(Ref{engine: e, value: v}), nil
	case rt == tablePtr:
		t, ok := e.AsTable(v)
		if !ok {
			if v == lua.LNil {
				return reflect.Zero(rt), nil
			}
			return reflect.Value{}, conversionError("ожидалась таблица, получено %s", v.Type())
		}
		return reflect.ValueOf(t), nil
	case rt == funcPtr:
		f, ok := e.AsFunction(v)
		if !ok {
			if v == lua.LNil {
				return reflect.Zero(rt), nil
			}
			return reflect.Value{}, conversionError("ожидалась функция, получено %s", v.Type())
		}
		return reflect.ValueOf(f), nil
	case reflect.PointerTo(rt).Implements(loaderType):
		ptr := reflect.New(rt)
		if err := ptr.Interface().(LuaLoader).FromLua(e, v); err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}

	switch rt.Kind() {
	case reflect.Bool:
		return reflect.ValueOf(lua.LVAsBool(v)).Convert(rt), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := toNumber(v)
		if err != nil {
			return reflect.Value{}, err
		}
		if f != math.Trunc(f) {
			return reflect.Value{}, conversionError("%v не целое число", f)
		}
		out := reflect.New(rt).Elem()
		if math.Abs(f) > math.MaxInt64 || out.OverflowInt(int64(f)) {
			return reflect.Value{}, conversionError("%v не помещается в %s", f, rt)
		}
		out.SetInt(int64(f))
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, err := toNumber(v)
		if err != nil {
			return reflect.Value{}, err
		}
		if f != math.Trunc(f) || f < 0 {
			return reflect.Value{}, conversionError("%v не беззнаковое целое", f)
		}
		out := reflect.New(rt).Elem()
		if f > math.MaxUint64 || out.OverflowUint(uint64(f)) {
			return reflect.Value{}, conversionError("%v не помещается в %s", f, rt)
		}
		out.SetUint(uint64(f))
		return out, nil

	case reflect.Float32, reflect.Float64:
		f, err := toNumber(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(rt).Elem()
		out.SetFloat(f)
		return out, nil

	case reflect.String:
		switch x := v.(type) {
		case lua.LString:
			return reflect.ValueOf(string(x)).Convert(rt), nil
		case lua.LNumber:
			return reflect.ValueOf(x.String()).Convert(rt), nil
		}
		return reflect.Value{}, conversionError("ожидалась строка, получено %s", v.Type())

	case reflect.Ptr:
		if v == lua.LNil {
			return reflect.Zero(rt), nil
		}
		elem, err := e.fromLua(v, rt.Elem(), depth+1)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(rt.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil

	case reflect.Interface:
		if v == lua.LNil {
			return reflect.Zero(rt), nil
		}
		host, err := e.LuaToAny(v)
		if err != nil {
			return reflect.Value{}, err
		}
		if host == nil {
			return reflect.Zero(rt), nil
		}
		av := reflect.ValueOf(host)
		if !av.Type().AssignableTo(rt) {
			return reflect.Value{}, conversionError("%s не реализует %s", av.Type(), rt)
		}
		out := reflect.New(rt).Elem()
		out.Set(av)
		return out, nil

	case reflect.Slice:
		if s, ok := v.(lua.LString); ok && rt.Elem().Kind() == reflect.Uint8 {
			return reflect.ValueOf([]byte(s)).Convert(rt), nil
		}
		if v == lua.LNil {
			return reflect.Zero(rt), nil
		}
		t, ok := v.(*lua.LTable)
		if !ok {
			return reflect.Value{}, conversionError("ожидалась таблица, получено %s", v.Type())
		}
		n := e.jsonSize(t)
		out := reflect.MakeSlice(rt, n, n)
		for i := 0; i < n; i++ {
			item, err := e.fromLua(t.RawGetInt(i+1), rt.Elem(), depth+1)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(item)
		}
		return out, nil

	case reflect.Array:
		t, ok := v.(*lua.LTable)
		if !ok {
			return reflect.Value{}, conversionError("ожидалась таблица, получено %s", v.Type())
		}
		out := reflect.New(rt).Elem()
		for i := 0; i < rt.Len(); i++ {
			item, err := e.fromLua(t.RawGetInt(i+1), rt.Elem(), depth+1)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(item)
		}
		return out, nil

	case reflect.Map:
		if v == lua.LNil {
			return reflect.Zero(rt), nil
		}
		t, ok := v.(*lua.LTable)
		if !ok {
			return reflect.Value{}, conversionError("ожидалась таблица, получено %s", v.Type())
		}
		out := reflect.MakeMap(rt)
		var convErr error
		t.ForEach(func(k, val lua.LValue) {
			if convErr != nil {
				return
			}
			kv, err := e.fromLua(k, rt.Key(), depth+1)
			if err != nil {
				convErr = err
				return
			}
			vv, err := e.fromLua(val, rt.Elem(), depth+1)
			if err != nil {
				convErr = err
				return
			}
			out.SetMapIndex(kv, vv)
		})
		if convErr != nil {
			return reflect.Value{}, convErr
		}
		return out, nil

	case reflect.Struct:
		generic, err := e.luaToJSON(v, depth)
		if err != nil {
			return reflect.Value{}, err
		}
		if m, ok := generic.([]interface{}); ok && len(m) == 0 {
			generic = map[string]interface{}{}
		}
		data, err := json.Marshal(generic)
		if err != nil {
			return reflect.Value{}, conversionError("%s: %v", rt, err)
		}
		ptr := reflect.New(rt)
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return reflect.Value{}, conversionError("%s: %v", rt, err)
		}
		return ptr.Elem(), nil
	}
	return reflect.Value{}, conversionError("тип %s не читается из Lua", rt)
}

func toNumber(v lua.LValue) (float64, error) {
	switch x := v.(type) {
	case lua.LNumber:
		return float64(x), nil
	case lua.LString:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		if err != nil {
			return 0, conversionError("строка %q не число", string(x))
		}
		return f, nil
	}
	return 0, conversionError("ожидалось число, получено %s", v.Type())
}

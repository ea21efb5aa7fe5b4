package luaengine

import (
	"errors"

	lua "github.com/yuin/gopher-lua"
)

// ErrHandleInUserData попытка положить ссылку движка в user-data
var ErrHandleInUserData = errors.New("ссылки движка нельзя хранить в user-data")

// UserDataID непрозрачный идентификатор хостового объекта
type UserDataID uint64

// UserDataRegistry хранит хостовые объекты, видимые скриптам только по id
type UserDataRegistry struct {
	next   UserDataID
	values map[UserDataID]interface{}
}

// NewUserDataRegistry создаёт пустой реестр
func NewUserDataRegistry() *UserDataRegistry {
	return &UserDataRegistry{values: make(map[UserDataID]interface{})}
}

// Register сохраняет объект и выдаёт ему id
func (r *UserDataRegistry) Register(v interface{}) (UserDataID, error) {
	switch v.(type) {
	case Ref, *Ref, *Table, *Function, *Thread, *Engine, *Context:
		return 0, ErrHandleInUserData
	}
	r.next++
	r.values[r.next] = v
	return r.next, nil
}

// Lookup объект по id
func (r *UserDataRegistry) Lookup(id UserDataID) (interface{}, bool) {
	v, ok := r.values[id]
	return v, ok
}

// Release забывает объект
func (r *UserDataRegistry) Release(id UserDataID) {
	delete(r.values, id)
}

// Len число живых объектов
func (r *UserDataRegistry) Len() int { return len(r.values) }

// NewUserData оборачивает объект в user-data с методами typeName.
// Метатаблица типа создаётся один раз.
func (e *Engine) NewUserData(v interface{}, typeName string, methods Callbacks) (*lua.LUserData, error) {
	id, err := e.userdata.Register(v)
	if err != nil {
		return nil, err
	}
	L := e.state
	mt, ok := L.GetTypeMetatable(typeName).(*lua.LTable)
	if !ok {
		mt = L.NewTypeMetatable(typeName)
		mt.RawSetString("__index", e.callbackTable(typeName, methods))
		mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString(typeName))
			return 1
		}))
	}
	ud := L.NewUserData()
	ud.Value = id
	L.SetMetatable(ud, mt)
	return ud, nil
}

// UserDataValue хостовый объект за user-data
func UserDataValue[T any](e *Engine, v lua.LValue) (T, bool) {
	var zero T
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return zero, false
	}
	id, ok := ud.Value.(UserDataID)
	if !ok {
		return zero, false
	}
	raw, ok := e.userdata.Lookup(id)
	if !ok {
		return zero, false
	}
	out, ok := raw.(T)
	return out, ok
}

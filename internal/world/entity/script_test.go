package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/annel0/tileverse/internal/vec"
)

const lampScript = `
updates = 0

function init()
  message.setHandler("add", function(name, isLocal, a, b) return a + b end)
  message.setHandler("local", function(name, isLocal) return isLocal end)
end

function update(dt)
  updates = updates + 1
  lastDt = dt
end

function onInteraction(request)
  return {type = "ShowPopup", data = {message = "hi " .. request.sourceId}}
end

function onInputNodeChange(args)
  lastLevel = args.level
end

function die()
  died = true
end
`

func scriptWorld(t *testing.T) *testWorld {
	return newTestWorld(t).withScripts(t, map[string]string{
		"/objects/lamp.lua":   lampScript,
		"/objects/broken.lua": "function init( end",
		"/objects/faulty.lua": `function update(dt) error("boom") end`,
		"/objects/delta.lua": `
function init() script.setUpdateDelta(3) end
function update(dt) seen = script.updateDt() end`,
		"/stagehands/director.lua": `
function init()
  message.setHandler("wave", function(_, _, n) wave = n; return "ok" end)
end`,
	})
}

func evalNumber(t *testing.T, sc *ScriptComponent, expr string) float64 {
	t.Helper()
	rets, err := sc.Eval("return " + expr)
	require.NoError(t, err)
	require.NotEmpty(t, rets)
	n, ok := rets[0].(lua.LNumber)
	require.True(t, ok, "%s не число: %v", expr, rets[0])
	return float64(n)
}

func TestScriptUpdateDelta(t *testing.T) {
	w := scriptWorld(t)
	lamp := objectAt(t, w, ObjectConfig{Name: "lamp", Scripts: []string{"/objects/lamp.lua"}, ScriptDelta: 2}, vec.V2F(10, 5))
	sc := lamp.Script()
	require.True(t, sc.Initialized())

	for i := 0; i < 4; i++ {
		w.tick()
	}
	assert.Equal(t, 2.0, evalNumber(t, sc, "updates"))
	assert.InDelta(t, 2*testDt, evalNumber(t, sc, "lastDt"), 1e-12)
	assert.Zero(t, sc.Faults())
}

func TestScriptSetUpdateDelta(t *testing.T) {
	w := scriptWorld(t)
	o := objectAt(t, w, ObjectConfig{Name: "delta", Scripts: []string{"/objects/delta.lua"}}, vec.V2F(10, 5))
	assert.Equal(t, 3, o.Script().UpdateDelta())
	for i := 0; i < 3; i++ {
		w.tick()
	}
	assert.InDelta(t, 3*testDt, evalNumber(t, o.Script(), "seen"), 1e-12)
}

func TestScriptMessages(t *testing.T) {
	w := scriptWorld(t)
	lamp := objectAt(t, w, ObjectConfig{Name: "lamp", Scripts: []string{"/objects/lamp.lua"}}, vec.V2F(10, 5))

	result, handled, err := lamp.ReceiveMessage(3, "add", []interface{}{2, 3})
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, int64(5), result)

	result, _, err = lamp.ReceiveMessage(3, "local", nil)
	require.NoError(t, err)
	assert.Equal(t, false, result)
	result, _, err = lamp.ReceiveMessage(ServerConnectionID, "local", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	_, handled, err = lamp.ReceiveMessage(3, "missing", nil)
	assert.NoError(t, err)
	assert.False(t, handled)

	p := w.SendEntityMessage(NullEntityID, TargetID(lamp.EntityID()), "add", []interface{}{1, 1})
	require.True(t, p.Succeeded())
	got, _ := p.Result()
	assert.Equal(t, int64(2), got)
}

func TestScriptInteractionAndWires(t *testing.T) {
	w := scriptWorld(t)
	lamp := objectAt(t, w, ObjectConfig{
		Name:       "lamp",
		Scripts:    []string{"/objects/lamp.lua"},
		InputNodes: []vec.Vec2{{X: 0, Y: 0}},
		Health:     5,
	}, vec.V2F(10, 5))

	action := lamp.Interact(InteractRequest{SourceID: 7})
	require.Equal(t, InteractShowPopup, action.Type)
	var popup map[string]string
	require.NoError(t, action.Decode(&popup))
	assert.Equal(t, "hi 7", popup["message"])

	lamp.SetInputState(0, true)
	rets, err := lamp.Script().Eval("return lastLevel")
	require.NoError(t, err)
	assert.Equal(t, lua.LTrue, rets[0])

	lamp.ApplyDamage(DamageRequest{Kind: DamageNormal, Damage: 10})
	rets, err = lamp.Script().Eval("return died")
	require.NoError(t, err)
	assert.Equal(t, lua.LTrue, rets[0], "die вызывается при разрушении")
}

func TestScriptFaultsAreContained(t *testing.T) {
	w := scriptWorld(t)
	broken := objectAt(t, w, ObjectConfig{Name: "broken", Scripts: []string{"/objects/broken.lua"}}, vec.V2F(10, 5))
	assert.False(t, broken.Script().Initialized())
	assert.Equal(t, 1, broken.Script().Faults())

	missing := objectAt(t, w, ObjectConfig{Name: "missing", Scripts: []string{"/objects/nope.lua"}}, vec.V2F(20, 5))
	assert.False(t, missing.Script().Initialized())

	faulty := objectAt(t, w, ObjectConfig{Name: "faulty", Scripts: []string{"/objects/faulty.lua"}}, vec.V2F(30, 5))
	require.True(t, faulty.Script().Initialized())
	for i := 0; i < 3; i++ {
		w.tick()
	}
	assert.Equal(t, 3, faulty.Script().Faults())
	assert.NotNil(t, w.Entity(faulty.EntityID()), "ошибка скрипта не убивает сущность")

	_, err := broken.Script().Invoke("init")
	assert.ErrorIs(t, err, ErrNotInWorld)
}

func TestScriptWithoutEngine(t *testing.T) {
	w := newTestWorld(t)
	o := objectAt(t, w, ObjectConfig{Name: "lamp", Scripts: []string{"/objects/lamp.lua"}}, vec.V2F(10, 5))
	assert.False(t, o.Script().Initialized())
	w.tick()
	_, handled, err := o.ReceiveMessage(1, "add", []interface{}{1, 2})
	assert.NoError(t, err)
	assert.False(t, handled)
}

func TestScriptUninitOnRemoval(t *testing.T) {
	w := scriptWorld(t)
	s := NewStagehand(StagehandConfig{Type: "director", Scripts: []string{"/stagehands/director.lua"}})
	w.add(t, s)

	result, handled, err := s.ReceiveMessage(ServerConnectionID, "wave", []interface{}{4})
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 4.0, evalNumber(t, s.Script(), "wave"))

	s.MarkDestroy()
	w.tick()
	assert.False(t, s.Script().Initialized())
	assert.False(t, s.Script().HasHandler("wave"))
	assert.False(t, s.InWorld())
}

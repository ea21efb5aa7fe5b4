package luaengine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/annel0/tileverse/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := NewEngine(cfg)
	t.Cleanup(e.Close)
	return e
}

func TestInstructionLimitRecoverable(t *testing.T) {
	e := newTestEngine(t, Config{InstructionLimit: 10000, MeasureInterval: 100, Safe: true})
	ctx := e.NewContext("limit")

	err := ctx.Load("loop", "while true do end")
	require.Error(t, err)

	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindInstructionLimit, se.Kind)
	assert.True(t, errors.Is(err, ErrInstructionLimit))
	assert.GreaterOrEqual(t, e.LastInstructionCount(), int64(10000))
	assert.LessOrEqual(t, e.LastInstructionCount(), int64(10099), "ошибка не позже следующего замера")

	v, err := e.ToLua(42)
	require.NoError(t, err)
	n, err := FromLua[int](e, v)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	// после ошибки движок продолжает работать
	rets, err := ctx.Eval("return 1 + 1")
	require.NoError(t, err)
	require.Len(t, rets, 1)
	assert.Equal(t, lua.LNumber(2), rets[0])
}

func TestInstructionLimitNotEscapableWithPcall(t *testing.T) {
	e := newTestEngine(t, Config{InstructionLimit: 5000, MeasureInterval: 10, Safe: true})
	ctx := e.NewContext("pcall")

	err := ctx.Load("escape", `
		while true do
			pcall(function() while true do end end)
		end`)
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindInstructionLimit, se.Kind)
}

func TestInstructionLimitResetsPerEntry(t *testing.T) {
	e := newTestEngine(t, Config{InstructionLimit: 2000, MeasureInterval: 10, Safe: true})
	ctx := e.NewContext("reset")
	require.NoError(t, ctx.Load("work", `
		function work()
			local s = 0
			for i = 1, 200 do s = s + i end
			return s
		end`))

	// каждый вызов укладывается в лимит, вместе они бы его превысили
	for i := 0; i < 20; i++ {
		s, err := InvokeAs[int](ctx, "work")
		require.NoError(t, err)
		assert.Equal(t, 20100, s)
	}
}

func TestContextsAreIsolated(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	a := e.NewContext("a")
	b := e.NewContext("b")

	require.NoError(t, a.Load("a.lua", "x = 1\nfunction get() return x end"))
	require.NoError(t, b.Load("b.lua", "x = 2\nfunction get() return x end"))

	va, err := InvokeAs[int](a, "get")
	require.NoError(t, err)
	vb, err := InvokeAs[int](b, "get")
	require.NoError(t, err)
	assert.Equal(t, 1, va)
	assert.Equal(t, 2, vb)

	c := e.NewContext("c")
	assert.False(t, c.Contains("x"), "глобалы одного контекста не видны другому")
	assert.True(t, c.Contains("math.floor"), "базовые библиотеки доступны всем")
}

func TestScriptCompiledOnce(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	src := "function f() return 7 end"
	for i := 0; i < 3; i++ {
		require.NoError(t, e.NewContext(fmt.Sprintf("ctx%d", i)).Load("shared.lua", src))
	}
	assert.Equal(t, 1, e.CompiledScripts())

	require.NoError(t, e.NewContext("other").Load("shared.lua", "function f() return 8 end"))
	assert.Equal(t, 2, e.CompiledScripts(), "изменённый исходник компилируется заново")
}

func TestSafeModeSandbox(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("sandbox")
	for _, name := range []string{"io", "os", "package", "debug", "dofile", "loadfile", "load", "loadstring"} {
		assert.False(t, ctx.Contains(name), name)
	}
	for _, name := range []string{"string.format", "table.insert", "math.sqrt", "coroutine.yield", "pcall"} {
		assert.True(t, ctx.Contains(name), name)
	}
}

func TestUnsafeModeOpensOS(t *testing.T) {
	e := newTestEngine(t, Config{Safe: false})
	assert.True(t, e.NewContext("full").Contains("os.time"))
}

func TestRequireUsesHostLoader(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("req")
	loads := 0
	ctx.SetRequireLoader(func(name string) (string, error) {
		loads++
		if name == "/scripts/util.lua" {
			return "local M = {}\nfunction M.double(x) return x * 2 end\nreturn M", nil
		}
		return "", errors.New("нет такого ассета")
	})

	require.NoError(t, ctx.Load("main.lua", `
		local util = require("/scripts/util.lua")
		local again = require("/scripts/util.lua")
		function run(x) return util.double(x), util == again end`))

	rets, err := ctx.Invoke("run", 21)
	require.NoError(t, err)
	require.Len(t, rets, 2)
	assert.Equal(t, lua.LNumber(42), rets[0])
	assert.Equal(t, lua.LTrue, rets[1])
	assert.Equal(t, 1, loads, "модуль загружается один раз")

	err = ctx.Load("bad.lua", `require("/missing.lua")`)
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "нет такого ассета")
}

func TestRecursionLimit(t *testing.T) {
	e := newTestEngine(t, Config{RecursionLimit: 4, Safe: true})
	ctx := e.NewContext("rec")
	ctx.SetCallbacks("host", Callbacks{
		"again": func(args Args) (interface{}, error) {
			_, err := ctx.Invoke("f")
			return nil, err
		},
	})
	require.NoError(t, ctx.Load("rec.lua", "function f() host.again() end"))

	_, err := ctx.Invoke("f")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindRecursionLimit, se.Kind)
	assert.True(t, errors.Is(err, ErrRecursionLimit))
	assert.Equal(t, 0, e.Depth())
}

func TestCallbacksAndPanics(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("cb")
	ctx.SetCallbacks("world", Callbacks{
		"add": func(args Args) (interface{}, error) {
			a, err := Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			b, err := OptArg(args, 1, 10)
			if err != nil {
				return nil, err
			}
			return Returns{a + b, "ok"}, nil
		},
		"boom": func(args Args) (interface{}, error) {
			panic("сломалось")
		},
	})
	require.NoError(t, ctx.Load("cb.lua", `
		function sum() local r, s = world.add("5") return r, s end
		function sumDefault() return world.add(1) end
		function explode() world.boom() end`))

	rets, err := ctx.Invoke("sum")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(15), rets[0])
	assert.Equal(t, lua.LString("ok"), rets[1])

	_, err = ctx.Invoke("explode")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindRuntime, se.Kind)
	assert.Contains(t, se.Message, "сломалось")
}

func TestNumericAndStringCoercion(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	n, err := FromLua[int64](e, lua.LString("123"))
	require.NoError(t, err)
	assert.Equal(t, int64(123), n)

	s, err := FromLua[string](e, lua.LNumber(7))
	require.NoError(t, err)
	assert.Equal(t, "7", s)

	f, err := FromLua[float32](e, lua.LString(" 2.5 "))
	require.NoError(t, err)
	assert.Equal(t, float32(2.5), f)

	_, err = FromLua[int](e, lua.LNumber(1.5))
	assert.ErrorIs(t, err, ErrConversion)

	_, err = FromLua[uint8](e, lua.LNumber(300))
	assert.ErrorIs(t, err, ErrConversion)

	_, err = FromLua[int](e, lua.LBool(true))
	assert.ErrorIs(t, err, ErrConversion)
}

type probe struct {
	Name  string   `json:"name"`
	Level int      `json:"level"`
	Tags  []string `json:"tags"`
}

type point struct{ X, Y int }

func (p point) ToLua(e *Engine) (lua.LValue, error) {
	return e.ToLua([]int{p.X, p.Y})
}

func (p *point) FromLua(e *Engine, v lua.LValue) error {
	xy, err := FromLua[[]int](e, v)
	if err != nil {
		return err
	}
	if len(xy) != 2 {
		return conversionError("точка из %d чисел", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

func TestStructAndCustomConversion(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	lv, err := e.ToLua(probe{Name: "slime", Level: 3, Tags: []string{"a", "b"}})
	require.NoError(t, err)
	back, err := FromLua[probe](e, lv)
	require.NoError(t, err)
	assert.Equal(t, probe{Name: "slime", Level: 3, Tags: []string{"a", "b"}}, back)

	lv, err = e.ToLua(point{X: 4, Y: -2})
	require.NoError(t, err)
	p, err := FromLua[point](e, lv)
	require.NoError(t, err)
	assert.Equal(t, point{X: 4, Y: -2}, p)

	m, err := FromLua[map[string]int](e, e.jsonToLua(map[string]interface{}{"a": 1.0, "b": 2.0}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, m)
}

func TestJSONContainersPreserveNils(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("json")
	require.NoError(t, ctx.Load("json.lua", `
		function arr()
			local t = jarray()
			t[1] = 1
			t[2] = nil
			t[3] = 3
			t[4] = nil
			return t, jsize(t)
		end
		function obj()
			local o = jobject()
			o.a = 1
			o.b = nil
			return o, jsize(o)
		end
		function resized()
			local t = jarray()
			t[1] = "x"
			jresize(t, 3)
			return jsize(t)
		end
		function removed()
			local o = jobject()
			o.a = nil
			jremove(o, "a")
			return jsize(o)
		end`))

	rets, err := ctx.Invoke("arr")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(4), rets[1])
	arr, err := FromLua[interface{}](e, rets[0])
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), nil, int64(3), nil}, arr)

	rets, err = ctx.Invoke("obj")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(2), rets[1])
	obj, err := FromLua[interface{}](e, rets[0])
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": int64(1), "b": nil}, obj)

	size, err := InvokeAs[int](ctx, "resized")
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	size, err = InvokeAs[int](ctx, "removed")
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	// обычная таблица без маркера: nil не сохраняется, последовательность = массив
	rets, err = ctx.Eval("return {1, 2, 3}, {x = 1}")
	require.NoError(t, err)
	plainArr, err := FromLua[interface{}](e, rets[0])
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, plainArr)
	plainObj, err := FromLua[interface{}](e, rets[1])
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": int64(1)}, plainObj)
}

func TestGoSliceBecomesJSONArray(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("slice")
	require.NoError(t, ctx.SetPath("data.items", []interface{}{"a", nil, "c"}))
	require.NoError(t, ctx.Load("s.lua", "function count() return jsize(data.items) end"))

	n, err := InvokeAs[int](ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, ctx.Contains("data.items"))
	assert.Equal(t, lua.LString("c"), ctx.GetPath("data.items").Value().(*lua.LTable).RawGetInt(3))
}

func TestCoroutineYieldAndResume(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("co")
	require.NoError(t, ctx.Load("co.lua", `
		function counter(start)
			local n = start
			while n < start + 2 do
				coroutine.yield(n)
				n = n + 1
			end
			return "done"
		end`))

	fn, ok := e.AsFunction(ctx.GetPath("counter").Value())
	require.True(t, ok)
	th := e.CreateThread("counter")
	require.NoError(t, th.PushFunction(fn))

	v, st, err := th.Resume(10)
	require.NoError(t, err)
	assert.Equal(t, ThreadSuspended, st)
	assert.Equal(t, lua.LNumber(10), v)

	v, st, err = th.Resume()
	require.NoError(t, err)
	assert.Equal(t, ThreadSuspended, st)
	assert.Equal(t, lua.LNumber(11), v)

	v, st, err = th.Resume()
	require.NoError(t, err)
	assert.Equal(t, ThreadDead, st)
	assert.Equal(t, lua.LString("done"), v)

	_, _, err = th.Resume()
	assert.ErrorIs(t, err, ErrThreadFinished)
}

func TestCoroutineErrorTraceback(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("coerr")
	require.NoError(t, ctx.Load("coerr.lua", `
		function broken()
			coroutine.yield(1)
			error("внутри корутины")
		end`))
	fn, ok := e.AsFunction(ctx.GetPath("broken").Value())
	require.True(t, ok)

	th := e.NewThread("broken", fn)
	_, _, err := th.Resume()
	require.NoError(t, err)
	_, st, err := th.Resume()
	assert.Equal(t, ThreadErrored, st)

	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "внутри корутины")
	assert.Contains(t, se.Traceback, "[coroutine broken]")
	assert.Contains(t, se.Traceback, "[host] thread broken")
}

func TestCoroutineRespectsInstructionLimit(t *testing.T) {
	e := newTestEngine(t, Config{InstructionLimit: 3000, MeasureInterval: 10, Safe: true})
	ctx := e.NewContext("colimit")
	require.NoError(t, ctx.Load("l.lua", `
		function spin()
			local co = coroutine.wrap(function() while true do end end)
			co()
		end`))

	_, err := ctx.Invoke("spin")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindInstructionLimit, se.Kind)
}

func TestUserDataHoldsOnlyIDs(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	type door struct{ open bool }
	d := &door{}

	ud, err := e.NewUserData(d, "door", Callbacks{
		"toggle": func(args Args) (interface{}, error) {
			self, ok := UserDataValue[*door](args.Engine(), args.Get(0))
			if !ok {
				return nil, errors.New("не дверь")
			}
			self.open = !self.open
			return self.open, nil
		},
	})
	require.NoError(t, err)
	_, isID := ud.Value.(UserDataID)
	assert.True(t, isID)

	ctx := e.NewContext("ud")
	require.NoError(t, ctx.SetPath("theDoor", ud))
	rets, err := ctx.Eval("return theDoor:toggle()")
	require.NoError(t, err)
	assert.Equal(t, lua.LTrue, rets[0])
	assert.True(t, d.open)

	_, err = e.NewUserData(e.CreateTable(), "bad", nil)
	assert.ErrorIs(t, err, ErrHandleInUserData)
}

func TestProfiling(t *testing.T) {
	e := newTestEngine(t, Config{Profiling: true, Safe: true})
	ctx := e.NewContext("prof")
	require.NoError(t, ctx.Load("p.lua", "function tick() return 1 end"))
	for i := 0; i < 5; i++ {
		_, err := ctx.Invoke("tick")
		require.NoError(t, err)
	}

	var found bool
	for _, p := range e.Profile() {
		if p.Name == "prof:tick" {
			found = true
			assert.Equal(t, int64(5), p.Calls)
		}
	}
	assert.True(t, found)

	e.ResetProfile()
	assert.Empty(t, e.Profile())
}

func TestApplyRuntimeBeforeNextEntry(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("rt")

	e.ApplyRuntime(config.RuntimeValues{
		InstructionLimit:  1000,
		MeasureInterval:   10,
		RecursionLimit:    8,
		AutoGCPause:       2,
		AutoGCStepMultipl: 2,
	})
	err := ctx.Load("spin.lua", "while true do end")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindInstructionLimit, se.Kind)
	assert.Equal(t, 8, e.Config().RecursionLimit)
}

func TestCollectGarbageRespectsPause(t *testing.T) {
	e := newTestEngine(t, Config{AutoGCPause: config.MaxGCPause, Safe: true})
	ctx := e.NewContext("gc")

	_, err := ctx.Eval(`for i = 1, 50 do collectgarbage() end`)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.GCRuns(), "повторные вызовы ждут роста кучи")
	assert.False(t, e.StepGC())
	assert.Equal(t, uint64(1), e.GCRuns())
}

func TestCollectGarbageTuningOnlyUnsafe(t *testing.T) {
	safe := newTestEngine(t, Config{AutoGCPause: 2, AutoGCStepMultiplier: 2, Safe: true})
	rets, err := safe.NewContext("gc").Eval(`return collectgarbage("setpause", 50), collectgarbage("setstepmul", 1000)`)
	require.NoError(t, err)
	require.Len(t, rets, 2)
	assert.Equal(t, lua.LNumber(200), rets[0])
	assert.Equal(t, lua.LNumber(200), rets[1])
	assert.Equal(t, 2.0, safe.Config().AutoGCPause, "скрипт не меняет паузу в безопасном режиме")
	assert.Equal(t, 2.0, safe.Config().AutoGCStepMultiplier)

	unsafe := newTestEngine(t, Config{AutoGCPause: 2, AutoGCStepMultiplier: 2, Safe: false})
	_, err = unsafe.NewContext("gc").Eval(`collectgarbage("setpause", 300)`)
	require.NoError(t, err)
	assert.Equal(t, 3.0, unsafe.Config().AutoGCPause)
}

func TestSyntaxError(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	err := e.NewContext("syn").Load("bad.lua", "function (")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindSyntax, se.Kind)
	assert.Equal(t, 0, e.CompiledScripts())
}

func TestInvokeMissingFunction(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx := e.NewContext("missing")
	_, err := ctx.Invoke("nope")
	assert.ErrorIs(t, err, ErrNotFunction)

	_, called, err := ctx.InvokeIfExists("nope")
	assert.NoError(t, err)
	assert.False(t, called)
}

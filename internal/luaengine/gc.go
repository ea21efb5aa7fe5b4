package luaengine

import (
	"runtime"

	lua "github.com/yuin/gopher-lua"
)

// Объекты gopher-lua живут в куче Go, поэтому пауза и множитель шага
// управляют тем, как часто collectgarbage из скриптов запускает сборку Go:
// сборка выполняется, только если куча выросла в AutoGCPause раз с прошлой.
// В безопасном режиме скрипты не могут менять паузу и множитель.
type gcState struct {
	lastHeap uint64
	runs     uint64
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// maybeCollect запускает сборку, если рост кучи превысил порог
func (e *Engine) maybeCollect(factor float64) bool {
	heap := heapAlloc()
	if e.gc.lastHeap != 0 && float64(heap) < float64(e.gc.lastHeap)*factor {
		return false
	}
	runtime.GC()
	e.gc.runs++
	e.gc.lastHeap = heapAlloc()
	return true
}

func (e *Engine) luaCollectGarbage(L *lua.LState) int {
	opt := L.OptString(1, "collect")
	switch opt {
	case "count":
		kb := float64(heapAlloc()) / 1024
		L.Push(lua.LNumber(kb))
		return 1
	case "collect":
		e.maybeCollect(e.cfg.AutoGCPause)
		L.Push(lua.LNumber(0))
		return 1
	case "step":
		L.Push(lua.LBool(e.maybeCollect(e.stepThreshold())))
		return 1
	case "setpause":
		prev := e.cfg.AutoGCPause
		if v := float64(L.OptNumber(2, 0)); v > 0 && !e.cfg.Safe {
			e.cfg.AutoGCPause = v / 100
		}
		L.Push(lua.LNumber(prev * 100))
		return 1
	case "setstepmul":
		prev := e.cfg.AutoGCStepMultiplier
		if v := float64(L.OptNumber(2, 0)); v > 0 && !e.cfg.Safe {
			e.cfg.AutoGCStepMultiplier = v / 100
		}
		L.Push(lua.LNumber(prev * 100))
		return 1
	case "stop", "restart":
		L.Push(lua.LNumber(0))
		return 1
	}
	L.ArgError(1, "неизвестная опция "+opt)
	return 0
}

// stepThreshold чем больше множитель шага, тем раньше явный шаг запускает сборку
func (e *Engine) stepThreshold() float64 {
	t := e.cfg.AutoGCPause / e.cfg.AutoGCStepMultiplier
	if t < 1 {
		return 1
	}
	return t
}

// StepGC вызывается хостом между тиками
func (e *Engine) StepGC() bool {
	return e.maybeCollect(e.cfg.AutoGCPause)
}

// GCRuns сколько раз движок запускал сборку Go
func (e *Engine) GCRuns() uint64 { return e.gc.runs }

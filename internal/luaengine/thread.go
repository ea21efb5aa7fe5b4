package luaengine

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ThreadStatus состояние корутины
type ThreadStatus int

const (
	// ThreadReady функция задана, но ещё не запускалась
	ThreadReady ThreadStatus = iota
	// ThreadSuspended корутина отдала управление через yield
	ThreadSuspended
	// ThreadDead функция завершилась
	ThreadDead
	// ThreadErrored функция завершилась ошибкой
	ThreadErrored
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadReady:
		return "ready"
	case ThreadSuspended:
		return "suspended"
	case ThreadDead:
		return "dead"
	case ThreadErrored:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ErrThreadFinished повторный запуск завершённой корутины
var ErrThreadFinished = errors.New("корутина завершена")

// Thread корутина, управляемая хостом
type Thread struct {
	engine *Engine
	state  *lua.LState
	fn     *lua.LFunction
	label  string
	status ThreadStatus
}

// CreateThread создаёт корутину без функции
func (e *Engine) CreateThread(label string) *Thread {
	th, _ := e.state.NewThread()
	th.SetContext(e.counter)
	return &Thread{engine: e, state: th, label: label}
}

// NewThread создаёт корутину сразу с функцией
func (e *Engine) NewThread(label string, fn *Function) *Thread {
	t := e.CreateThread(label)
	t.fn = fn.fn
	return t
}

// PushFunction задаёт функцию корутины; допустимо только до первого запуска
func (t *Thread) PushFunction(fn *Function) error {
	if t.status != ThreadReady {
		return fmt.Errorf("корутина %s уже запущена", t.label)
	}
	t.fn = fn.fn
	return nil
}

// Status текущее состояние
func (t *Thread) Status() ThreadStatus { return t.status }

// Label имя для трассировок
func (t *Thread) Label() string { return t.label }

// Finished корутина больше не может продолжаться
func (t *Thread) Finished() bool {
	return t.status == ThreadDead || t.status == ThreadErrored
}

// Resume продолжает корутину. Возвращает первое значение, переданное в yield
// или return, и новое состояние. Ошибка внутри корутины приходит как *ScriptError
// со стеком корутины и стеком вызывающей стороны.
func (t *Thread) Resume(args ...interface{}) (lua.LValue, ThreadStatus, error) {
	if t.Finished() {
		return lua.LNil, t.status, ErrThreadFinished
	}
	if t.fn == nil {
		return lua.LNil, t.status, fmt.Errorf("корутина %s: %w", t.label, ErrNotFunction)
	}
	largs, err := t.engine.toLuaArgs(args)
	if err != nil {
		return lua.LNil, t.status, err
	}

	e := t.engine
	if err := e.enter("thread " + t.label); err != nil {
		return lua.LNil, t.status, err
	}
	defer e.leave()

	start := nowFunc()
	state, resumeErr, rets := e.current().Resume(t.state, t.fn, largs...)
	e.record("thread "+t.label, nowFunc().Sub(start))

	switch state {
	case lua.ResumeYield:
		t.status = ThreadSuspended
	case lua.ResumeOK:
		t.status = ThreadDead
	default:
		t.status = ThreadErrored
		return lua.LNil, t.status, t.threadError(resumeErr)
	}

	if len(rets) == 0 {
		return lua.LNil, t.status, nil
	}
	return rets[0], t.status, nil
}

func (t *Thread) threadError(err error) *ScriptError {
	e := t.engine
	se := &ScriptError{Kind: KindRuntime}
	var api *lua.ApiError
	if errors.As(err, &api) && api.Object != nil {
		se.Message = api.Object.String()
	} else if err != nil {
		se.Message = err.Error()
	}
	switch {
	case e.counter.exceeded:
		se.Kind = KindInstructionLimit
	case e.pending != nil && strings.Contains(se.Message, e.pending.Message):
		se.Kind = e.pending.Kind
	}
	inner := "stack traceback:\n\t" + se.Message
	se.Traceback = stitchTraceback(inner, "coroutine "+t.label, e.hostStack)
	return se
}

// luaCoroutineWrap coroutine.wrap, создающий поток со счётчиком инструкций движка
func (e *Engine) luaCoroutineWrap(L *lua.LState) int {
	fn := L.CheckFunction(1)
	th, _ := L.NewThread()
	th.SetContext(e.counter)
	L.Push(L.NewFunction(func(L *lua.LState) int {
		args := make([]lua.LValue, L.GetTop())
		for i := range args {
			args[i] = L.Get(i + 1)
		}
		state, err, rets := L.Resume(th, fn, args...)
		if state == lua.ResumeError {
			msg := "ошибка корутины"
			var api *lua.ApiError
			if errors.As(err, &api) && api.Object != nil {
				msg = api.Object.String()
			}
			L.RaiseError("%s", msg)
			return 0
		}
		for _, r := range rets {
			L.Push(r)
		}
		return len(rets)
	}))
	return 1
}

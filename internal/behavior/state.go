package behavior

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/random"
)

// Status результат узла за тик
type Status uint8

const (
	StatusInvalid Status = iota
	StatusRunning
	StatusSuccess
	StatusFailure
)

var statusNames = [...]string{"invalid", "running", "success", "failure"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// Finished узел завершился успехом или неудачей
func (s Status) Finished() bool { return s == StatusSuccess || s == StatusFailure }

func fromBool(ok bool) Status {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// Blackboard общая память узлов одного дерева
type Blackboard struct {
	values map[string]interface{}
}

// NewBlackboard пустая доска
func NewBlackboard() *Blackboard {
	return &Blackboard{values: make(map[string]interface{})}
}

// Get значение по ключу
func (b *Blackboard) Get(key string) (interface{}, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Set записывает значение; nil удаляет ключ
func (b *Blackboard) Set(key string, v interface{}) {
	if v == nil {
		delete(b.values, key)
		return
	}
	b.values[key] = v
}

// Keys ключи по возрастанию
func (b *Blackboard) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear очищает доску
func (b *Blackboard) Clear() { b.values = make(map[string]interface{}) }

// nodeState состояние выполнения узла между тиками
type nodeState struct {
	node     *Node
	thread   *luaengine.Thread
	output   *luaengine.Table
	children []*nodeState
	// индекс текущего потомка для sequence/selector/randomize
	index int
	// результаты потомков parallel
	results []Status
	// декоратор ждёт завершения потомка
	waiting bool
}

func newNodeState(n *Node) *nodeState {
	s := &nodeState{node: n, index: -1}
	for _, c := range n.Children {
		s.children = append(s.children, newNodeState(c))
	}
	return s
}

func (s *nodeState) reset() {
	s.thread = nil
	s.output = nil
	s.index = -1
	s.results = nil
	s.waiting = false
	for _, c := range s.children {
		c.reset()
	}
}

// State выполняемое дерево, привязанное к Lua-контексту сущности.
// Действия и декораторы живут в корутинах и продолжаются в следующем тике.
type State struct {
	tree   *Tree
	ctx    *luaengine.Context
	board  *Blackboard
	root   *nodeState
	rng    *random.Random
	last   Status
	logger *logging.Logger
}

// NewState состояние дерева; функции узлов ищутся в ctx
func NewState(tree *Tree, ctx *luaengine.Context, board *Blackboard, seed uint64) *State {
	if board == nil {
		board = NewBlackboard()
	}
	return &State{
		tree:   tree,
		ctx:    ctx,
		board:  board,
		root:   newNodeState(tree.Root),
		rng:    random.New(seed),
		logger: logging.GetScriptLogger(),
	}
}

// Tree собранное дерево
func (s *State) Tree() *Tree { return s.tree }

// Board доска дерева
func (s *State) Board() *Blackboard { return s.board }

// LastStatus результат последнего тика
func (s *State) LastStatus() Status { return s.last }

// Validate проверяет, что все функции узлов определены в контексте
func (s *State) Validate() error {
	for _, name := range s.tree.Functions() {
		if _, ok := s.ctx.GetPath(name).Value().(*lua.LFunction); !ok {
			return fmt.Errorf("%w: %s", ErrMissingFunction, name)
		}
	}
	return nil
}

// Run выполняет один тик. Завершённое дерево начинает заново в следующем тике.
func (s *State) Run(dt float64) (Status, error) {
	st, err := s.run(s.root, dt)
	if err != nil {
		s.root.reset()
		s.last = StatusFailure
		return StatusFailure, err
	}
	if st.Finished() {
		s.root.reset()
	}
	s.last = st
	return st, nil
}

// Reset прерывает выполнение всех узлов
func (s *State) Reset() { s.root.reset() }

func (s *State) run(ns *nodeState, dt float64) (Status, error) {
	switch ns.node.Kind {
	case KindAction:
		return s.runAction(ns, dt)
	case KindDecorator:
		return s.runDecorator(ns, dt)
	case KindComposite:
		switch ns.node.Composite {
		case Sequence:
			return s.runOrdered(ns, dt, StatusSuccess)
		case Selector:
			return s.runOrdered(ns, dt, StatusFailure)
		case Parallel:
			return s.runParallel(ns, dt)
		case Dynamic:
			return s.runDynamic(ns, dt)
		case Randomize:
			return s.runRandomize(ns, dt)
		}
	}
	return StatusInvalid, fmt.Errorf("%w: %s", ErrInvalidNode, ns.node.Kind)
}

// parameters значения параметров узла с учётом доски
func (s *State) parameters(n *Node) map[string]interface{} {
	out := make(map[string]interface{}, len(n.Parameters))
	for k, b := range n.Parameters {
		if b.IsKey() {
			if v, ok := s.board.Get(b.Key); ok {
				out[k] = v
			}
			continue
		}
		out[k] = b.Value
	}
	return out
}

// start создаёт корутину узла: fn(args, output, dt)
func (s *State) start(ns *nodeState, dt float64) (lua.LValue, luaengine.ThreadStatus, error) {
	fn, ok := s.ctx.Engine().AsFunction(s.ctx.GetPath(ns.node.Name).Value())
	if !ok {
		return lua.LNil, luaengine.ThreadErrored, fmt.Errorf("%w: %s", ErrMissingFunction, ns.node.Name)
	}
	ns.thread = s.ctx.Engine().NewThread(s.tree.Name+"/"+ns.node.Name, fn)
	ns.output = s.ctx.Engine().CreateObject()
	return ns.thread.Resume(s.parameters(ns.node), ns.output, dt)
}

func (s *State) writeOutput(ns *nodeState) error {
	if ns.output == nil || len(ns.node.Output) == 0 {
		return nil
	}
	for name, key := range ns.node.Output {
		v, err := ns.output.Get(name)
		if err != nil {
			return err
		}
		value, err := s.ctx.Engine().LuaToAny(v)
		if err != nil {
			return err
		}
		s.board.Set(key, value)
	}
	return nil
}

func (s *State) finish(ns *nodeState, ret lua.LValue) (Status, error) {
	if err := s.writeOutput(ns); err != nil {
		return StatusFailure, err
	}
	ns.thread = nil
	return fromBool(lua.LVAsBool(ret)), nil
}

func (s *State) runAction(ns *nodeState, dt float64) (Status, error) {
	var (
		ret    lua.LValue
		status luaengine.ThreadStatus
		err    error
	)
	if ns.thread == nil {
		ret, status, err = s.start(ns, dt)
	} else {
		ret, status, err = ns.thread.Resume(dt)
	}
	if err != nil {
		ns.thread = nil
		return StatusFailure, err
	}
	if status == luaengine.ThreadSuspended {
		return StatusRunning, s.writeOutput(ns)
	}
	return s.finish(ns, ret)
}

// runDecorator: корутина декоратора уступает, чтобы выполнить потомка,
// и получает его результат при продолжении
func (s *State) runDecorator(ns *nodeState, dt float64) (Status, error) {
	var (
		ret    lua.LValue
		status luaengine.ThreadStatus
		err    error
	)
	switch {
	case ns.thread == nil:
		ret, status, err = s.start(ns, dt)
	case ns.waiting:
		child, cerr := s.run(ns.children[0], dt)
		if cerr != nil {
			ns.reset()
			return StatusFailure, cerr
		}
		if child == StatusRunning {
			return StatusRunning, nil
		}
		ns.children[0].reset()
		ns.waiting = false
		ret, status, err = ns.thread.Resume(child == StatusSuccess)
	default:
		ret, status, err = ns.thread.Resume(dt)
	}
	if err != nil {
		ns.reset()
		return StatusFailure, err
	}
	if status == luaengine.ThreadSuspended {
		// уступка означает запуск потомка в этом же тике
		ns.waiting = true
		child, cerr := s.run(ns.children[0], dt)
		if cerr != nil {
			ns.reset()
			return StatusFailure, cerr
		}
		if child == StatusRunning {
			return StatusRunning, nil
		}
		ns.children[0].reset()
		ns.waiting = false
		ret, status, err = ns.thread.Resume(child == StatusSuccess)
		if err != nil {
			ns.reset()
			return StatusFailure, err
		}
		if status == luaengine.ThreadSuspended {
			ns.waiting = true
			return StatusRunning, nil
		}
	}
	return s.finish(ns, ret)
}

// runOrdered sequence (stop на неудаче) и selector (stop на успехе)
func (s *State) runOrdered(ns *nodeState, dt float64, continueOn Status) (Status, error) {
	if ns.index < 0 {
		ns.index = 0
	}
	for ns.index < len(ns.children) {
		child := ns.children[ns.index]
		st, err := s.run(child, dt)
		if err != nil {
			return StatusFailure, err
		}
		if st == StatusRunning {
			return StatusRunning, nil
		}
		child.reset()
		if st != continueOn {
			return st, nil
		}
		ns.index++
	}
	return continueOn, nil
}

// runParallel выполняет всех потомков; параметры success и fail задают
// сколько успехов или неудач завершают узел (по умолчанию все и один)
func (s *State) runParallel(ns *nodeState, dt float64) (Status, error) {
	n := len(ns.children)
	if ns.results == nil {
		ns.results = make([]Status, n)
	}
	needSuccess := intParam(s.parameters(ns.node), "success", n)
	needFail := intParam(s.parameters(ns.node), "fail", 1)
	if needSuccess < 0 {
		needSuccess = n
	}
	successes, failures := 0, 0
	for i, child := range ns.children {
		if !ns.results[i].Finished() {
			st, err := s.run(child, dt)
			if err != nil {
				return StatusFailure, err
			}
			ns.results[i] = st
		}
		switch ns.results[i] {
		case StatusSuccess:
			successes++
		case StatusFailure:
			failures++
		}
	}
	if successes >= needSuccess {
		return StatusSuccess, nil
	}
	if failures >= needFail || successes+failures == n {
		return StatusFailure, nil
	}
	return StatusRunning, nil
}

// runDynamic каждый тик перепроверяет потомков с начала; первый не проваленный
// вытесняет выполнявшихся после него
func (s *State) runDynamic(ns *nodeState, dt float64) (Status, error) {
	for i, child := range ns.children {
		st, err := s.run(child, dt)
		if err != nil {
			return StatusFailure, err
		}
		if st == StatusFailure {
			child.reset()
			continue
		}
		for j := i + 1; j < len(ns.children); j++ {
			ns.children[j].reset()
		}
		if st == StatusSuccess {
			child.reset()
		}
		return st, nil
	}
	return StatusFailure, nil
}

func (s *State) runRandomize(ns *nodeState, dt float64) (Status, error) {
	if len(ns.children) == 0 {
		return StatusFailure, nil
	}
	if ns.index < 0 {
		ns.index = int(s.rng.IntRange(0, int64(len(ns.children)-1)))
	}
	child := ns.children[ns.index]
	st, err := s.run(child, dt)
	if err != nil {
		return StatusFailure, err
	}
	if st.Finished() {
		child.reset()
	}
	return st, nil
}

func intParam(params map[string]interface{}, name string, def int) int {
	switch v := params[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

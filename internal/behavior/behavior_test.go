package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/luaengine"
)

const testScript = `
calls = {}

function walk(args, output, dt)
	local steps = 0
	while steps < args.ticks do
		steps = steps + 1
		output.walked = steps
		dt = coroutine.yield()
	end
	output.position = args.speed * steps
	return true
end

function check(args)
	table.insert(calls, "check")
	return args.value == args.expect
end

function fail()
	table.insert(calls, "fail")
	return false
end

function succeed()
	table.insert(calls, "succeed")
	return true
end

function inverter(args, output, dt)
	local ok = coroutine.yield()
	return not ok
end

function count(args, output)
	counter = (counter or 0) + 1
	output.n = counter
	return true
end
`

func newTestContext(t *testing.T) *luaengine.Context {
	t.Helper()
	e := luaengine.NewEngine(luaengine.DefaultConfig())
	t.Cleanup(e.Close)
	ctx := e.NewContext("behavior")
	require.NoError(t, ctx.Load("test", testScript))
	return ctx
}

func action(name string, params map[string]Binding, output map[string]string) NodeConfig {
	return NodeConfig{Type: "action", Name: name, Parameters: params, Output: output}
}

func composite(name string, children ...NodeConfig) NodeConfig {
	return NodeConfig{Type: "composite", Name: name, Children: children}
}

func TestSequenceWithRunningActionAndOutput(t *testing.T) {
	db := NewDatabase()
	db.Register(TreeConfig{
		Name:       "patrol",
		Parameters: map[string]interface{}{"speed": 2.5},
		Root: composite("sequence",
			action("walk", map[string]Binding{
				"ticks": {Value: 2},
				"speed": {Value: "<speed>"},
			}, map[string]string{"position": "target"}),
			action("check", map[string]Binding{
				"value":  {Key: "target"},
				"expect": {Value: 5},
			}, nil),
		),
	})
	tree, err := db.Build("patrol", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"check", "walk"}, tree.Functions())

	st := NewState(tree, newTestContext(t), nil, 1)
	require.NoError(t, st.Validate())

	s, err := st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)
	s, err = st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)

	s, err = st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)
	v, ok := st.Board().Get("target")
	require.True(t, ok)
	assert.EqualValues(t, 5, v)
}

func TestSelectorStopsOnSuccess(t *testing.T) {
	db := NewDatabase()
	db.Register(TreeConfig{Name: "pick", Root: composite("selector",
		action("fail", nil, nil), action("succeed", nil, nil), action("fail", nil, nil))})
	tree, err := db.Build("pick", nil)
	require.NoError(t, err)

	ctx := newTestContext(t)
	st := NewState(tree, ctx, nil, 1)
	s, err := st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)

	rets, err := ctx.Eval(`return table.concat(calls, ",")`)
	require.NoError(t, err)
	assert.Equal(t, "fail,succeed", rets[0].String())
}

func TestDecoratorReceivesChildResult(t *testing.T) {
	db := NewDatabase()
	child := action("fail", nil, nil)
	db.Register(TreeConfig{Name: "not", Root: NodeConfig{Type: "decorator", Name: "inverter", Child: &child}})
	tree, err := db.Build("not", nil)
	require.NoError(t, err)

	st := NewState(tree, newTestContext(t), nil, 1)
	s, err := st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)
}

func TestParallelCountsResults(t *testing.T) {
	db := NewDatabase()
	root := composite("parallel",
		action("walk", map[string]Binding{"ticks": {Value: 1}, "speed": {Value: 1}}, nil),
		action("succeed", nil, nil))
	root.Parameters = map[string]Binding{"success": {Value: 2}}
	db.Register(TreeConfig{Name: "both", Root: root})
	tree, err := db.Build("both", nil)
	require.NoError(t, err)

	st := NewState(tree, newTestContext(t), nil, 1)
	s, err := st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)
	s, err = st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)

	db.Register(TreeConfig{Name: "any", Root: composite("parallel", action("fail", nil, nil), action("succeed", nil, nil))})
	tree, err = db.Build("any", nil)
	require.NoError(t, err)
	s, err = NewState(tree, newTestContext(t), nil, 1).Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, s)
}

func TestDynamicPreemptsLowerPriority(t *testing.T) {
	db := NewDatabase()
	db.Register(TreeConfig{Name: "dyn", Root: composite("dynamic",
		action("check", map[string]Binding{"value": {Key: "alarm"}, "expect": {Value: true}}, nil),
		action("walk", map[string]Binding{"ticks": {Value: 10}, "speed": {Value: 1}}, nil),
	)})
	tree, err := db.Build("dyn", nil)
	require.NoError(t, err)

	st := NewState(tree, newTestContext(t), nil, 1)
	s, err := st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)

	st.Board().Set("alarm", true)
	s, err = st.Run(0.1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)
	assert.Nil(t, st.root.children[1].thread, "выполнявшийся узел сброшен")
}

func TestModulesAndCycles(t *testing.T) {
	db := NewDatabase()
	db.Register(TreeConfig{
		Name:       "counter",
		Parameters: map[string]interface{}{"label": "x"},
		Root:       action("count", nil, map[string]string{"n": "<label>"}),
	})
	db.Register(TreeConfig{Name: "outer", Root: composite("sequence",
		NodeConfig{Type: "module", Name: "counter"},
		action("succeed", nil, nil))})
	tree, err := db.Build("outer", nil)
	require.NoError(t, err)
	require.Len(t, tree.Root.Children, 2)
	assert.Equal(t, KindAction, tree.Root.Children[0].Kind)
	assert.Equal(t, "count", tree.Root.Children[0].Name)

	db.Register(TreeConfig{Name: "a", Root: NodeConfig{Type: "module", Name: "b"}})
	db.Register(TreeConfig{Name: "b", Root: NodeConfig{Type: "module", Name: "a"}})
	_, err = db.Build("a", nil)
	assert.ErrorIs(t, err, ErrModuleCycle)

	_, err = db.Build("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTree)
}

func TestRandomizeIsDeterministicPerSeed(t *testing.T) {
	db := NewDatabase()
	db.Register(TreeConfig{Name: "coin", Root: composite("randomize",
		action("fail", nil, nil), action("succeed", nil, nil))})
	tree, err := db.Build("coin", nil)
	require.NoError(t, err)

	outcomes := func(seed uint64) []Status {
		st := NewState(tree, newTestContext(t), nil, seed)
		var out []Status
		for i := 0; i < 8; i++ {
			s, err := st.Run(0.1)
			require.NoError(t, err)
			out = append(out, s)
		}
		return out
	}
	assert.Equal(t, outcomes(42), outcomes(42))
}

func TestMissingFunction(t *testing.T) {
	db := NewDatabase()
	db.Register(TreeConfig{Name: "bad", Root: action("nothing", nil, nil)})
	tree, err := db.Build("bad", nil)
	require.NoError(t, err)

	st := NewState(tree, newTestContext(t), nil, 1)
	assert.ErrorIs(t, st.Validate(), ErrMissingFunction)
	s, err := st.Run(0.1)
	assert.ErrorIs(t, err, ErrMissingFunction)
	assert.Equal(t, StatusFailure, s)
}

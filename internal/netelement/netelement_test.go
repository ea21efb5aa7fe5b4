package netelement

import (
	"testing"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataStreamPrimitives(t *testing.T) {
	w := NewWriter()
	w.WriteUint8(7)
	w.WriteBool(true)
	w.WriteVarInt(-12345)
	w.WriteVarUint(1 << 40)
	w.WriteFloat64(3.25)
	w.WriteString("привет")
	w.WriteBytes([]byte{1, 2, 3})
	w.WriteVec2(vec.V2(-5, 9))
	w.WriteUint16(65535)

	r := NewReader(w.Bytes())
	assert.Equal(t, uint8(7), r.ReadUint8())
	assert.True(t, r.ReadBool())
	assert.Equal(t, int64(-12345), r.ReadVarInt())
	assert.Equal(t, uint64(1<<40), r.ReadVarUint())
	assert.Equal(t, 3.25, r.ReadFloat64())
	assert.Equal(t, "привет", r.ReadString())
	assert.Equal(t, []byte{1, 2, 3}, r.ReadBytes())
	assert.Equal(t, vec.V2(-5, 9), r.ReadVec2())
	assert.Equal(t, uint16(65535), r.ReadUint16())
	require.NoError(t, r.Err())
	assert.True(t, r.AtEnd())
}

func TestDataStreamShortRead(t *testing.T) {
	r := NewReader([]byte{0x05, 'a'})
	_ = r.ReadString()
	assert.ErrorIs(t, r.Err(), ErrShortRead)
	assert.Equal(t, uint32(0), r.ReadUint32(), "после ошибки чтения возвращаются нули")
}

// Мастер ставит x=5 на версии v, затем x=7 на v+1
func TestDeltaMonotonicity(t *testing.T) {
	ver := NewVersion()
	x := NewNetInt(0)
	x.InitNetVersion(ver)

	x.Set(5)
	v := ver.Current()
	ver.Increment()
	x.Set(7)

	slave := NewNetInt(5)
	delta := WriteDelta(x, v, CurrentRules)
	require.NotEmpty(t, delta)
	require.NoError(t, ReadDelta(slave, delta, 0, CurrentRules))
	assert.Equal(t, int64(7), slave.Get())

	assert.Empty(t, WriteDelta(x, v+1, CurrentRules), "собеседник на текущей версии получает пустую дельту")
}

type testEntityState struct {
	*TopGroup
	name   *NetString
	health *NetFloat
	pos    *NetVec2F
	hit    *NetEvent
	tags   *NetMap[string, string]
	slots  *NetArray[int64]
}

func newTestEntityState() *testEntityState {
	s := &testEntityState{
		TopGroup: NewTopGroup(),
		name:     NewNetString(""),
		health:   NewNetFloat(100),
		pos:      NewNetVec2F(vec.Vec2F{}),
		hit:      NewNetEvent(),
		tags:     NewNetMap[string, string](StringCodec, StringCodec),
		slots:    NewNetArray(IntCodec, 3),
	}
	s.AddNetElement(s.name)
	s.AddNetElement(s.health)
	s.AddNetElement(s.pos)
	s.AddNetElement(s.hit)
	s.AddNetElement(s.tags)
	s.AddNetElement(s.slots)
	return s
}

func TestTopGroupStoreThenDeltas(t *testing.T) {
	master := newTestEntityState()
	master.name.Set("poptop")
	master.tags.Set("team", "red")

	store, known := master.WriteNetState(0, CurrentRules)
	master.IncrementVersion()

	slave := newTestEntityState()
	require.NoError(t, slave.LoadNetState(store, known, CurrentRules))
	assert.Equal(t, "poptop", slave.name.Get())
	v, ok := slave.tags.Get("team")
	assert.True(t, ok)
	assert.Equal(t, "red", v)

	// Нет изменений - нет дельты
	delta, _ := master.WriteNetState(known, CurrentRules)
	assert.Empty(t, delta)

	master.health.Set(42)
	master.hit.Trigger()
	master.tags.Remove("team")
	master.slots.Set(2, 9)
	delta, known2 := master.WriteNetState(known, CurrentRules)
	require.NotEmpty(t, delta)
	master.IncrementVersion()

	require.NoError(t, slave.ReadNetState(delta, known2, 0, CurrentRules))
	assert.Equal(t, 42.0, slave.health.Get())
	assert.True(t, slave.hit.PullOccurred())
	assert.False(t, slave.hit.PullOccurred(), "событие снимается один раз")
	assert.Equal(t, 0, slave.tags.Len())
	assert.Equal(t, []int64{0, 0, 9}, slave.slots.Values())
	assert.Equal(t, "poptop", slave.name.Get())
}

func TestTopGroupRejectsVersionRegression(t *testing.T) {
	master := newTestEntityState()
	master.health.Set(1)
	delta, _ := master.WriteNetState(0, CurrentRules)

	slave := newTestEntityState()
	require.NoError(t, slave.LoadNetState(delta, 5, CurrentRules))
	err := slave.ReadNetState([]byte{0}, 4, 0, CurrentRules)
	assert.ErrorIs(t, err, ErrVersionRegression)
}

func TestGroupUnknownChild(t *testing.T) {
	newer := NewNetGroup(NewNetInt(1), NewNetInt(2))
	ver := NewVersion()
	newer.InitNetVersion(ver)
	newer.children[1].elem.(*NetInt).Set(20)

	delta := WriteDelta(newer, 0, CurrentRules)
	older := NewNetGroup(NewNetInt(1))
	assert.ErrorIs(t, ReadDelta(older, delta, 0, CurrentRules), ErrUnknownElement)

	older.SetLegacyTolerant(true)
	assert.NoError(t, ReadDelta(older, delta, 0, CurrentRules))
}

func TestGroupRulesGateChildren(t *testing.T) {
	g := NewNetGroup()
	base := NewNetInt(1)
	extra := NewNetString("new field")
	g.AddNetElement(base)
	g.AddNetElementWithRules(extra, CurrentVersion)

	legacy := Store(g, LegacyRules)
	current := Store(g, CurrentRules)
	assert.Less(t, len(legacy), len(current), "старые правила не видят хвостовое поле")

	reader := NewNetGroup(NewNetInt(0))
	assert.NoError(t, Load(reader, legacy, LegacyRules))
}

func TestTruncatedDeltaAborts(t *testing.T) {
	g := NewNetGroup(NewNetString(""))
	ver := NewVersion()
	g.InitNetVersion(ver)
	g.children[0].elem.(*NetString).Set("hello")

	delta := WriteDelta(g, 0, CurrentRules)
	err := ReadDelta(NewNetGroup(NewNetString("")), delta[:len(delta)-2], 0, CurrentRules)
	assert.ErrorIs(t, err, ErrShortRead)
}

// Обрезанная дельта не должна применить ни одного ребёнка
func TestTruncatedDeltaLeavesSlaveUnchanged(t *testing.T) {
	a, b := NewNetInt(0), NewNetString("")
	master := NewNetGroup(a, b)
	ver := NewVersion()
	master.InitNetVersion(ver)
	a.Set(5)
	b.Set("hello")

	delta := WriteDelta(master, 0, CurrentRules)
	slaveA, slaveB := NewNetInt(0), NewNetString("")
	slave := NewNetGroup(slaveA, slaveB)

	err := ReadDelta(slave, delta[:len(delta)-3], 0, CurrentRules)
	require.ErrorIs(t, err, ErrShortRead)
	assert.Equal(t, int64(0), slaveA.Get(), "первый ребёнок не применён")
	assert.Equal(t, "", slaveB.Get())

	require.NoError(t, ReadDelta(slave, delta, 0, CurrentRules))
	assert.Equal(t, int64(5), slaveA.Get())
	assert.Equal(t, "hello", slaveB.Get())
}

func TestBrokenNestedDeltaKeepsTopGroup(t *testing.T) {
	top := NewTopGroup()
	n := NewNetInt(1)
	items := NewNetArray(IntCodec, 2)
	m := NewNetMap[string, int64](StringCodec, IntCodec)
	top.AddNetElement(n)
	top.AddNetElement(NewNetGroup(items, m))

	first := NewWriter()
	first.WriteVarInt(9)

	arr := NewWriter()
	arr.WriteVarUint(0)
	arr.WriteVarUint(1)
	arr.WriteVarInt(42)
	arr.WriteVarUint(0)
	ops := NewWriter()
	ops.WriteUint8(mapDeltaOps)
	ops.WriteVarUint(1)
	ops.WriteUint8(7)
	ops.WriteString("key")
	inner := NewWriter()
	inner.WriteVarUint(1)
	inner.WriteBytes(arr.Bytes())
	inner.WriteVarUint(2)
	inner.WriteBytes(ops.Bytes())
	inner.WriteVarUint(0)

	delta := NewWriter()
	delta.WriteVarUint(1)
	delta.WriteBytes(first.Bytes())
	delta.WriteVarUint(2)
	delta.WriteBytes(inner.Bytes())
	delta.WriteVarUint(0)

	err := top.ReadNetState(delta.Bytes(), 5, 0, CurrentRules)
	require.ErrorIs(t, err, ErrUnknownElement)
	assert.Equal(t, int64(1), n.Get())
	assert.Equal(t, int64(0), items.Get(0), "массив во вложенной группе не тронут")
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, uint64(0), top.LastReadVersion(), "версия не запомнена")
}

func TestFloatInterpolation(t *testing.T) {
	f := NewNetFloat(0)
	f.EnableNetInterpolation()

	ds := NewWriter()
	ds.WriteFloat64(10)
	require.NoError(t, f.ReadNetDelta(NewReader(ds.Bytes()), 1.0, CurrentRules))

	assert.Equal(t, 0.0, f.Get())
	f.TickNetInterpolation(0.5)
	assert.InDelta(t, 5.0, f.Get(), 1e-9)
	f.TickNetInterpolation(0.5)
	assert.Equal(t, 10.0, f.Get())
}

func TestStepInterpolationForInts(t *testing.T) {
	n := NewNetInt(1)
	n.EnableNetInterpolation()
	ds := NewWriter()
	ds.WriteVarInt(3)
	require.NoError(t, n.ReadNetDelta(NewReader(ds.Bytes()), 1.0, CurrentRules))

	n.TickNetInterpolation(0.5)
	assert.Equal(t, int64(1), n.Get())
	n.TickNetInterpolation(0.5)
	assert.Equal(t, int64(3), n.Get())
}

func TestMapTruncatedLogFallsBackToReset(t *testing.T) {
	ver := NewVersion()
	m := NewNetMap[string, int64](StringCodec, IntCodec)
	m.SetOpLogSize(2)
	m.InitNetVersion(ver)

	for i, k := range []string{"a", "b", "c", "d"} {
		ver.Increment()
		m.Set(k, int64(i))
	}

	replica := NewNetMap[string, int64](StringCodec, IntCodec)
	require.NoError(t, ReadDelta(replica, WriteDelta(m, 1, CurrentRules), 0, CurrentRules))
	assert.Equal(t, []string{"a", "b", "c", "d"}, replica.Keys())
}

func TestEnumAndArrayResize(t *testing.T) {
	type mode int32
	ver := NewVersion()
	e := NewNetEnum(mode(1))
	a := NewNetArray(StringCodec, 1)
	g := NewNetGroup(e, a)
	g.InitNetVersion(ver)

	e.Set(3)
	a.Resize(3)
	a.Set(2, "x")

	re := NewNetEnum(mode(1))
	ra := NewNetArray(StringCodec, 1)
	rg := NewNetGroup(re, ra)
	require.NoError(t, ReadDelta(rg, WriteDelta(g, 0, CurrentRules), 0, CurrentRules))
	assert.Equal(t, mode(3), re.Get())
	assert.Equal(t, []string{"", "", "x"}, ra.Values())
}

package netelement

import (
	"cmp"
	"fmt"
	"slices"
)

const (
	mapOpSet    uint8 = 1
	mapOpRemove uint8 = 2

	mapDeltaOps   uint8 = 0
	mapDeltaReset uint8 = 1

	// DefaultMapOpLog сколько последних операций хранится для дельт
	DefaultMapOpLog = 64
)

type mapOp[K cmp.Ordered, V any] struct {
	version uint64
	kind    uint8
	key     K
	value   V
}

// NetMap словарь, реплицируемый журналом операций.
// Если читатель отстал дальше, чем хранит журнал, отправляется полный сброс.
type NetMap[K cmp.Ordered, V any] struct {
	version   *Version
	keyCodec  Codec[K]
	valCodec  Codec[V]
	data      map[K]V
	ops       []mapOp[K, V]
	maxOps    int
	truncated uint64
	reset     uint64
}

// NewNetMap создаёт словарь
func NewNetMap[K cmp.Ordered, V any](keyCodec Codec[K], valCodec Codec[V]) *NetMap[K, V] {
	return &NetMap[K, V]{
		keyCodec: keyCodec,
		valCodec: valCodec,
		data:     make(map[K]V),
		maxOps:   DefaultMapOpLog,
	}
}

// SetOpLogSize меняет глубину журнала
func (m *NetMap[K, V]) SetOpLogSize(n int) {
	if n < 1 {
		n = 1
	}
	m.maxOps = n
}

func (m *NetMap[K, V]) current() uint64 {
	if m.version == nil {
		return 0
	}
	return m.version.Current()
}

// Len количество записей
func (m *NetMap[K, V]) Len() int { return len(m.data) }

// Get значение по ключу
func (m *NetMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.data[k]
	return v, ok
}

// Keys отсортированные ключи
func (m *NetMap[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Set записывает значение
func (m *NetMap[K, V]) Set(k K, v V) {
	if old, ok := m.data[k]; ok && m.valCodec.Equal(old, v) {
		return
	}
	m.data[k] = v
	m.appendOp(mapOp[K, V]{kind: mapOpSet, key: k, value: v})
}

// Remove удаляет ключ
func (m *NetMap[K, V]) Remove(k K) bool {
	if _, ok := m.data[k]; !ok {
		return false
	}
	delete(m.data, k)
	m.appendOp(mapOp[K, V]{kind: mapOpRemove, key: k})
	return true
}

// Reset заменяет содержимое целиком
func (m *NetMap[K, V]) Reset(values map[K]V) {
	m.data = make(map[K]V, len(values))
	for k, v := range values {
		m.data[k] = v
	}
	m.ops = nil
	m.reset = m.current()
}

func (m *NetMap[K, V]) appendOp(op mapOp[K, V]) {
	op.version = m.current()
	m.ops = append(m.ops, op)
	if len(m.ops) > m.maxOps {
		dropped := m.ops[0]
		if dropped.version > m.truncated {
			m.truncated = dropped.version
		}
		m.ops = m.ops[1:]
	}
}

func (m *NetMap[K, V]) InitNetVersion(v *Version) {
	m.version = v
	m.ops = nil
	m.truncated = 0
	m.reset = 0
}

func (m *NetMap[K, V]) NetStore(ds *DataStream, _ CompatibilityRules) {
	ds.WriteVarUint(uint64(len(m.data)))
	for _, k := range m.Keys() {
		m.keyCodec.Write(ds, k)
		m.valCodec.Write(ds, m.data[k])
	}
}

func (m *NetMap[K, V]) NetLoad(ds *DataStream, _ CompatibilityRules) error {
	values, err := m.readValues(ds)
	if err != nil {
		return err
	}
	m.Reset(values)
	return nil
}

func (m *NetMap[K, V]) readValues(ds *DataStream) (map[K]V, error) {
	n := ds.ReadVarUint()
	if err := ds.Err(); err != nil {
		return nil, err
	}
	if n > uint64(ds.Remaining()) {
		return nil, fmt.Errorf("%w: словарь из %d записей", ErrShortRead, n)
	}
	values := make(map[K]V, n)
	for i := uint64(0); i < n; i++ {
		k := m.keyCodec.Read(ds)
		v := m.valCodec.Read(ds)
		if err := ds.Err(); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, nil
}

func (m *NetMap[K, V]) WriteNetDelta(ds *DataStream, fromVersion uint64, rules CompatibilityRules) bool {
	if m.reset > fromVersion || m.truncated > fromVersion {
		ds.WriteUint8(mapDeltaReset)
		m.NetStore(ds, rules)
		return true
	}

	count := 0
	for _, op := range m.ops {
		if op.version > fromVersion {
			count++
		}
	}
	if count == 0 {
		return false
	}

	ds.WriteUint8(mapDeltaOps)
	ds.WriteVarUint(uint64(count))
	for _, op := range m.ops {
		if op.version <= fromVersion {
			continue
		}
		ds.WriteUint8(op.kind)
		m.keyCodec.Write(ds, op.key)
		if op.kind == mapOpSet {
			m.valCodec.Write(ds, op.value)
		}
	}
	return true
}

func (m *NetMap[K, V]) ReadNetDelta(ds *DataStream, interpolationTime float64, rules CompatibilityRules) error {
	commit, err := m.decodeNetDelta(ds, rules)
	if err != nil {
		return err
	}
	return commit(interpolationTime)
}

func (m *NetMap[K, V]) decodeNetDelta(ds *DataStream, _ CompatibilityRules) (stagedDelta, error) {
	mode := ds.ReadUint8()
	if err := ds.Err(); err != nil {
		return nil, err
	}
	switch mode {
	case mapDeltaReset:
		values, err := m.readValues(ds)
		if err != nil {
			return nil, err
		}
		return func(float64) error {
			m.Reset(values)
			return nil
		}, nil
	case mapDeltaOps:
	default:
		return nil, fmt.Errorf("%w: режим дельты словаря %d", ErrUnknownElement, mode)
	}

	n := ds.ReadVarUint()
	if err := ds.Err(); err != nil {
		return nil, err
	}
	if n > uint64(ds.Remaining()) {
		return nil, fmt.Errorf("%w: %d операций", ErrShortRead, n)
	}
	ops := make([]mapOp[K, V], 0, n)
	for i := uint64(0); i < n; i++ {
		op := mapOp[K, V]{kind: ds.ReadUint8()}
		op.key = m.keyCodec.Read(ds)
		switch op.kind {
		case mapOpSet:
			op.value = m.valCodec.Read(ds)
		case mapOpRemove:
		default:
			if err := ds.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: операция словаря %d", ErrUnknownElement, op.kind)
		}
		if err := ds.Err(); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return func(float64) error {
		for _, op := range ops {
			if op.kind == mapOpSet {
				m.Set(op.key, op.value)
			} else {
				m.Remove(op.key)
			}
		}
		return nil
	}, nil
}

func (m *NetMap[K, V]) EnableNetInterpolation() {}
func (m *NetMap[K, V]) DisableNetInterpolation() {}
func (m *NetMap[K, V]) TickNetInterpolation(_ float64) {}

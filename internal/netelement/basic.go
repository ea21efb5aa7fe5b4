package netelement

import "github.com/annel0/tileverse/internal/vec"

type sample[T any] struct {
	t float64
	v T
}

// NetData реплицируемое значение произвольного типа с кодеком.
// Изменение помечает элемент текущей версией владельца.
type NetData[T any] struct {
	version       *Version
	updateVersion uint64
	value         T
	codec         Codec[T]

	interpolator  Interpolator[T]
	interpolating bool
	prev          sample[T]
	pending       []sample[T]
}

type (
	NetInt    = NetData[int64]
	NetUInt   = NetData[uint64]
	NetFloat  = NetData[float64]
	NetBool   = NetData[bool]
	NetString = NetData[string]
	NetBytes  = NetData[[]byte]
	NetVec2F  = NetData[vec.Vec2F]
)

// NewNetData создаёт элемент с кодеком и начальным значением
func NewNetData[T any](codec Codec[T], initial T) *NetData[T] {
	return &NetData[T]{codec: codec, value: initial, prev: sample[T]{v: initial}}
}

func NewNetInt(v int64) *NetInt { return NewNetData(IntCodec, v) }
func NewNetUInt(v uint64) *NetUInt { return NewNetData(UIntCodec, v) }
func NewNetBool(v bool) *NetBool { return NewNetData(BoolCodec, v) }
func NewNetString(v string) *NetString { return NewNetData(StringCodec, v) }
func NewNetBytes(v []byte) *NetBytes { return NewNetData(BytesCodec, v) }

// NewNetFloat число с линейной интерполяцией
func NewNetFloat(v float64) *NetFloat {
	n := NewNetData(FloatCodec, v)
	n.interpolator = LerpFloat
	return n
}

// NewNetVec2F вектор с линейной интерполяцией
func NewNetVec2F(v vec.Vec2F) *NetVec2F {
	n := NewNetData(Vec2FCodec, v)
	n.interpolator = LerpVec2F
	return n
}

// NetEnum реплицируемое перечисление
type NetEnum[T Enum] struct {
	*NetData[T]
}

// NewNetEnum создаёт перечисление
func NewNetEnum[T Enum](v T) NetEnum[T] {
	return NetEnum[T]{NewNetData(EnumCodec[T](), v)}
}

// SetInterpolator задаёт функцию интерполяции; nil означает ступенчатую
func (n *NetData[T]) SetInterpolator(fn Interpolator[T]) {
	n.interpolator = fn
}

// Get возвращает значение (с учётом интерполяции)
func (n *NetData[T]) Get() T {
	if n.interpolating && len(n.pending) > 0 && n.interpolator != nil {
		next := n.pending[0]
		span := next.t - n.prev.t
		if span > 0 {
			f := -n.prev.t / span
			if f < 0 {
				f = 0
			} else if f > 1 {
				f = 1
			}
			return n.interpolator(n.prev.v, next.v, f)
		}
	}
	return n.value
}

// Latest последнее полученное значение без интерполяции
func (n *NetData[T]) Latest() T {
	if len(n.pending) > 0 {
		return n.pending[len(n.pending)-1].v
	}
	return n.value
}

// Set меняет значение; повторная установка того же значения не создаёт дельту
func (n *NetData[T]) Set(v T) {
	if n.codec.Equal(n.Latest(), v) && len(n.pending) == 0 {
		return
	}
	n.value = v
	n.prev = sample[T]{v: v}
	n.pending = nil
	n.markChanged()
}

// Update изменяет значение функцией
func (n *NetData[T]) Update(fn func(v T) T) {
	n.Set(fn(n.Latest()))
}

// UpdateVersion версия последнего изменения
func (n *NetData[T]) UpdateVersion() uint64 {
	return n.updateVersion
}

func (n *NetData[T]) markChanged() {
	if n.version != nil {
		n.updateVersion = n.version.Current()
	}
}

func (n *NetData[T]) InitNetVersion(v *Version) {
	n.version = v
	n.updateVersion = 0
}

func (n *NetData[T]) NetStore(ds *DataStream, _ CompatibilityRules) {
	n.codec.Write(ds, n.Latest())
}

func (n *NetData[T]) NetLoad(ds *DataStream, _ CompatibilityRules) error {
	v := n.codec.Read(ds)
	if err := ds.Err(); err != nil {
		return err
	}
	n.value = v
	n.prev = sample[T]{v: v}
	n.pending = nil
	n.markChanged()
	return nil
}

func (n *NetData[T]) WriteNetDelta(ds *DataStream, fromVersion uint64, _ CompatibilityRules) bool {
	if n.updateVersion <= fromVersion {
		return false
	}
	n.codec.Write(ds, n.Latest())
	return true
}

func (n *NetData[T]) ReadNetDelta(ds *DataStream, interpolationTime float64, rules CompatibilityRules) error {
	commit, err := n.decodeNetDelta(ds, rules)
	if err != nil {
		return err
	}
	return commit(interpolationTime)
}

func (n *NetData[T]) decodeNetDelta(ds *DataStream, _ CompatibilityRules) (stagedDelta, error) {
	v := n.codec.Read(ds)
	if err := ds.Err(); err != nil {
		return nil, err
	}
	return func(interpolationTime float64) error {
		n.applyDelta(v, interpolationTime)
		return nil
	}, nil
}

func (n *NetData[T]) applyDelta(v T, interpolationTime float64) {
	if n.interpolating && interpolationTime > 0 {
		// Отбрасываем устаревшие точки, пришедшие с большим временем
		keep := n.pending[:0]
		for _, s := range n.pending {
			if s.t < interpolationTime {
				keep = append(keep, s)
			}
		}
		n.pending = append(keep, sample[T]{t: interpolationTime, v: v})
	} else {
		n.value = v
		n.prev = sample[T]{v: v}
		n.pending = nil
	}
	n.markChanged()
}

func (n *NetData[T]) EnableNetInterpolation() {
	n.interpolating = true
}

func (n *NetData[T]) DisableNetInterpolation() {
	if len(n.pending) > 0 {
		n.value = n.pending[len(n.pending)-1].v
	}
	n.prev = sample[T]{v: n.value}
	n.pending = nil
	n.interpolating = false
}

func (n *NetData[T]) TickNetInterpolation(dt float64) {
	if !n.interpolating {
		return
	}
	n.prev.t -= dt
	for i := range n.pending {
		n.pending[i].t -= dt
	}
	for len(n.pending) > 0 && n.pending[0].t <= 0 {
		n.prev = n.pending[0]
		n.value = n.prev.v
		n.pending = n.pending[1:]
	}
}

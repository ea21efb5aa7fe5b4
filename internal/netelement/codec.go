package netelement

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/annel0/tileverse/internal/vec"
)

// Codec описывает сериализацию и сравнение значения типа T
type Codec[T any] struct {
	Write func(ds *DataStream, v T)
	Read  func(ds *DataStream) T
	Equal func(a, b T) bool
}

// Interpolator возвращает значение между a и b для доли f ∈ [0,1]
type Interpolator[T any] func(a, b T, f float64) T

// Enum ограничение для перечислений
type Enum interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32
}

func eq[T comparable](a, b T) bool { return a == b }

var (
	IntCodec = Codec[int64]{
		Write: func(ds *DataStream, v int64) { ds.WriteVarInt(v) },
		Read:  func(ds *DataStream) int64 { return ds.ReadVarInt() },
		Equal: eq[int64],
	}
	UIntCodec = Codec[uint64]{
		Write: func(ds *DataStream, v uint64) { ds.WriteVarUint(v) },
		Read:  func(ds *DataStream) uint64 { return ds.ReadVarUint() },
		Equal: eq[uint64],
	}
	FloatCodec = Codec[float64]{
		Write: func(ds *DataStream, v float64) { ds.WriteFloat64(v) },
		Read:  func(ds *DataStream) float64 { return ds.ReadFloat64() },
		Equal: eq[float64],
	}
	BoolCodec = Codec[bool]{
		Write: func(ds *DataStream, v bool) { ds.WriteBool(v) },
		Read:  func(ds *DataStream) bool { return ds.ReadBool() },
		Equal: eq[bool],
	}
	StringCodec = Codec[string]{
		Write: func(ds *DataStream, v string) { ds.WriteString(v) },
		Read:  func(ds *DataStream) string { return ds.ReadString() },
		Equal: eq[string],
	}
	BytesCodec = Codec[[]byte]{
		Write: func(ds *DataStream, v []byte) { ds.WriteBytes(v) },
		Read:  func(ds *DataStream) []byte { return ds.ReadBytes() },
		Equal: bytes.Equal,
	}
	Vec2Codec = Codec[vec.Vec2]{
		Write: func(ds *DataStream, v vec.Vec2) { ds.WriteVec2(v) },
		Read:  func(ds *DataStream) vec.Vec2 { return ds.ReadVec2() },
		Equal: eq[vec.Vec2],
	}
	Vec2FCodec = Codec[vec.Vec2F]{
		Write: func(ds *DataStream, v vec.Vec2F) { ds.WriteVec2F(v) },
		Read:  func(ds *DataStream) vec.Vec2F { return ds.ReadVec2F() },
		Equal: eq[vec.Vec2F],
	}
)

// EnumCodec кодек для перечислений через zig-zag varint
func EnumCodec[T Enum]() Codec[T] {
	return Codec[T]{
		Write: func(ds *DataStream, v T) { ds.WriteVarInt(int64(v)) },
		Read:  func(ds *DataStream) T { return T(ds.ReadVarInt()) },
		Equal: eq[T],
	}
}

// JSONCodec кодек для произвольных JSON-сериализуемых значений
func JSONCodec[T any]() Codec[T] {
	return Codec[T]{
		Write: func(ds *DataStream, v T) {
			data, err := json.Marshal(v)
			if err != nil {
				data = []byte("null")
			}
			ds.WriteBytes(data)
		},
		Read: func(ds *DataStream) T {
			var v T
			data := ds.ReadBytes()
			if ds.Err() != nil {
				return v
			}
			if err := json.Unmarshal(data, &v); err != nil {
				ds.Fail(err)
			}
			return v
		},
		Equal: func(a, b T) bool { return reflect.DeepEqual(a, b) },
	}
}

// MaybeCodec кодек для необязательного значения
func MaybeCodec[T any](inner Codec[T]) Codec[*T] {
	return Codec[*T]{
		Write: func(ds *DataStream, v *T) {
			ds.WriteMaybe(v != nil, func() { inner.Write(ds, *v) })
		},
		Read: func(ds *DataStream) *T {
			var out *T
			ds.ReadMaybe(func() {
				v := inner.Read(ds)
				out = &v
			})
			return out
		},
		Equal: func(a, b *T) bool {
			if a == nil || b == nil {
				return a == b
			}
			return inner.Equal(*a, *b)
		},
	}
}

// LerpFloat линейная интерполяция чисел
func LerpFloat(a, b float64, f float64) float64 { return a + (b-a)*f }

// LerpVec2F линейная интерполяция векторов
func LerpVec2F(a, b vec.Vec2F, f float64) vec.Vec2F { return a.Lerp(b, f) }

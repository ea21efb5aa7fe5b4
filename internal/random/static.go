// Package random содержит детерминированные генераторы: статические хэши
// от (сид, координата, соль) и сидируемый PRNG.
package random

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// StaticRandom64 возвращает 64-битное значение, зависящее только от аргументов.
// Поддерживаются целые, float, bool и строки.
func StaticRandom64(values ...any) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range values {
		switch x := v.(type) {
		case int:
			binary.LittleEndian.PutUint64(buf[:], uint64(x))
			d.Write(buf[:])
		case int32:
			binary.LittleEndian.PutUint64(buf[:], uint64(int64(x)))
			d.Write(buf[:])
		case int64:
			binary.LittleEndian.PutUint64(buf[:], uint64(x))
			d.Write(buf[:])
		case uint32:
			binary.LittleEndian.PutUint64(buf[:], uint64(x))
			d.Write(buf[:])
		case uint64:
			binary.LittleEndian.PutUint64(buf[:], x)
			d.Write(buf[:])
		case uint16:
			binary.LittleEndian.PutUint64(buf[:], uint64(x))
			d.Write(buf[:])
		case float64:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
			d.Write(buf[:])
		case bool:
			if x {
				d.Write([]byte{1})
			} else {
				d.Write([]byte{0})
			}
		case string:
			d.WriteString(x)
			d.Write([]byte{0})
		case []byte:
			d.Write(x)
		default:
			d.WriteString(fmt.Sprint(x))
		}
	}
	return d.Sum64()
}

// StaticRandom32 младшие 32 бита StaticRandom64
func StaticRandom32(values ...any) uint32 {
	return uint32(StaticRandom64(values...))
}

// StaticRandomFloat возвращает число в [0, 1)
func StaticRandomFloat(values ...any) float64 {
	return float64(StaticRandom64(values...)>>11) / float64(1<<53)
}

// StaticRandomFloatRange возвращает число в [min, max)
func StaticRandomFloatRange(min, max float64, values ...any) float64 {
	return min + (max-min)*StaticRandomFloat(values...)
}

// StaticRandomInt возвращает целое в [min, max] включительно
func StaticRandomInt(min, max int64, values ...any) int64 {
	if max <= min {
		return min
	}
	span := uint64(max-min) + 1
	return min + int64(StaticRandom64(values...)%span)
}

// StaticRandomFrom выбирает элемент среза
func StaticRandomFrom[T any](items []T, values ...any) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	return items[StaticRandom64(values...)%uint64(len(items))]
}

// StaticShuffle детерминированно перемешивает срез на месте
func StaticShuffle[T any](items []T, values ...any) {
	seed := StaticRandom64(values...)
	r := New(seed)
	for i := len(items) - 1; i > 0; i-- {
		j := int(r.Uint64() % uint64(i+1))
		items[i], items[j] = items[j], items[i]
	}
}

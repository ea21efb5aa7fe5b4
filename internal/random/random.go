package random

import "math"

// Random сидируемый генератор splitmix64. Не потокобезопасен.
type Random struct {
	state uint64
}

// New создаёт генератор с заданным сидом
func New(seed uint64) *Random {
	return &Random{state: seed}
}

// Seed возвращает текущее состояние (для сохранения)
func (r *Random) Seed() uint64 {
	return r.state
}

// Uint64 следующее 64-битное значение
func (r *Random) Uint64() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Float число в [0, 1)
func (r *Random) Float() float64 {
	return float64(r.Uint64()>>11) / float64(1<<53)
}

// FloatRange число в [min, max)
func (r *Random) FloatRange(min, max float64) float64 {
	return min + (max-min)*r.Float()
}

// IntRange целое в [min, max] включительно
func (r *Random) IntRange(min, max int64) int64 {
	if max <= min {
		return min
	}
	return min + int64(r.Uint64()%(uint64(max-min)+1))
}

// Bool случайный флаг
func (r *Random) Bool() bool {
	return r.Uint64()&1 == 1
}

// Normal нормальное распределение (Box-Muller)
func (r *Random) Normal(mean, stddev float64) float64 {
	u1 := r.Float()
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	u2 := r.Float()
	return mean + stddev*math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*u2)
}

package vec

import (
	"fmt"
	"math"
)

// Vec2F представляет 2D координаты с плавающей точкой
type Vec2F struct {
	X, Y float64
}

// V2F короткий конструктор Vec2F
func V2F(x, y float64) Vec2F {
	return Vec2F{X: x, Y: y}
}

// Floor преобразует в целочисленные координаты тайла
func (v Vec2F) Floor() Vec2 {
	return Vec2{X: int32(math.Floor(v.X)), Y: int32(math.Floor(v.Y))}
}

// Round округляет к ближайшему тайлу
func (v Vec2F) Round() Vec2 {
	return Vec2{X: int32(math.Round(v.X)), Y: int32(math.Round(v.Y))}
}

// Add складывает два вектора
func (v Vec2F) Add(other Vec2F) Vec2F {
	return Vec2F{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2F) Sub(other Vec2F) Vec2F {
	return Vec2F{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul умножает вектор на скаляр
func (v Vec2F) Mul(scalar float64) Vec2F {
	return Vec2F{X: v.X * scalar, Y: v.Y * scalar}
}

// Neg возвращает противоположный вектор
func (v Vec2F) Neg() Vec2F {
	return Vec2F{X: -v.X, Y: -v.Y}
}

// Dot скалярное произведение
func (v Vec2F) Dot(other Vec2F) float64 {
	return v.X*other.X + v.Y*other.Y
}

// Cross псевдоскалярное произведение
func (v Vec2F) Cross(other Vec2F) float64 {
	return v.X*other.Y - v.Y*other.X
}

// Normalized возвращает нормализованный вектор
func (v Vec2F) Normalized() Vec2F {
	length := v.Length()
	if length == 0 {
		return Vec2F{}
	}
	return Vec2F{X: v.X / length, Y: v.Y / length}
}

// Length возвращает длину вектора
func (v Vec2F) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

// LengthSquared возвращает квадрат длины
func (v Vec2F) LengthSquared() float64 {
	return v.X*v.X + v.Y*v.Y
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2F) DistanceTo(other Vec2F) float64 {
	return v.Sub(other).Length()
}

// Perp возвращает перпендикуляр (поворот на 90° против часовой)
func (v Vec2F) Perp() Vec2F {
	return Vec2F{X: -v.Y, Y: v.X}
}

// Lerp линейно интерполирует между v и other
func (v Vec2F) Lerp(other Vec2F, t float64) Vec2F {
	return Vec2F{X: v.X + (other.X-v.X)*t, Y: v.Y + (other.Y-v.Y)*t}
}

// IsZero проверяет нулевой вектор
func (v Vec2F) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

func (v Vec2F) String() string {
	return fmt.Sprintf("(%.3f,%.3f)", v.X, v.Y)
}

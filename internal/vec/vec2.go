package vec

import (
	"fmt"
	"math"
)

// Vec2 представляет целочисленные координаты тайла
type Vec2 struct {
	X, Y int32
}

// V2 короткий конструктор Vec2
func V2(x, y int32) Vec2 {
	return Vec2{X: x, Y: y}
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// ToFloat возвращает координаты левого нижнего угла тайла
func (v Vec2) ToFloat() Vec2F {
	return Vec2F{X: float64(v.X), Y: float64(v.Y)}
}

// Center возвращает центр тайла
func (v Vec2) Center() Vec2F {
	return Vec2F{X: float64(v.X) + 0.5, Y: float64(v.Y) + 0.5}
}

// ToChunkCoords преобразует координаты тайла в координаты чанка указанного размера
func (v Vec2) ToChunkCoords(chunkSize int32) Vec2 {
	return Vec2{X: floorDiv(v.X, chunkSize), Y: floorDiv(v.Y, chunkSize)}
}

// LocalInChunk возвращает локальные координаты внутри чанка
func (v Vec2) LocalInChunk(chunkSize int32) Vec2 {
	return Vec2{X: floorMod(v.X, chunkSize), Y: floorMod(v.Y, chunkSize)}
}

// DistanceTo вычисляет расстояние до другой точки (без учёта заворачивания мира)
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Less задаёт порядок (y по убыванию, затем x по возрастанию)
func (v Vec2) Less(other Vec2) bool {
	if v.Y != other.Y {
		return v.Y > other.Y
	}
	return v.X < other.X
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int32) int32 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

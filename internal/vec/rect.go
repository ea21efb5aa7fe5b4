package vec

import "math"

// RectI прямоугольник в тайловых координатах, Max не включается
type RectI struct {
	Min, Max Vec2
}

// NewRectI создаёт прямоугольник по углу и размеру
func NewRectI(x, y, w, h int32) RectI {
	return RectI{Min: Vec2{X: x, Y: y}, Max: Vec2{X: x + w, Y: y + h}}
}

// Width ширина прямоугольника
func (r RectI) Width() int32 { return r.Max.X - r.Min.X }

// Height высота прямоугольника
func (r RectI) Height() int32 { return r.Max.Y - r.Min.Y }

// IsEmpty проверяет вырожденный прямоугольник
func (r RectI) IsEmpty() bool { return r.Max.X <= r.Min.X || r.Max.Y <= r.Min.Y }

// Contains проверяет, лежит ли точка в прямоугольнике
func (r RectI) Contains(p Vec2) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Y >= r.Min.Y && p.Y < r.Max.Y
}

// Intersects проверяет пересечение
func (r RectI) Intersects(o RectI) bool {
	return r.Min.X < o.Max.X && o.Min.X < r.Max.X && r.Min.Y < o.Max.Y && o.Min.Y < r.Max.Y
}

// Padded расширяет прямоугольник на n тайлов во все стороны
func (r RectI) Padded(n int32) RectI {
	return RectI{Min: Vec2{X: r.Min.X - n, Y: r.Min.Y - n}, Max: Vec2{X: r.Max.X + n, Y: r.Max.Y + n}}
}

// Each перебирает все тайлы прямоугольника (по строкам)
func (r RectI) Each(fn func(p Vec2)) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			fn(Vec2{X: x, Y: y})
		}
	}
}

// RectF прямоугольник с плавающей точкой
type RectF struct {
	Min, Max Vec2F
}

// NewRectF создаёт прямоугольник по минимальному и максимальному углу
func NewRectF(minX, minY, maxX, maxY float64) RectF {
	return RectF{Min: Vec2F{X: minX, Y: minY}, Max: Vec2F{X: maxX, Y: maxY}}
}

// Width ширина
func (r RectF) Width() float64 { return r.Max.X - r.Min.X }

// Height высота
func (r RectF) Height() float64 { return r.Max.Y - r.Min.Y }

// Center центр прямоугольника
func (r RectF) Center() Vec2F {
	return Vec2F{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// Translated сдвигает прямоугольник
func (r RectF) Translated(d Vec2F) RectF {
	return RectF{Min: r.Min.Add(d), Max: r.Max.Add(d)}
}

// Padded расширяет прямоугольник
func (r RectF) Padded(n float64) RectF {
	return RectF{Min: Vec2F{X: r.Min.X - n, Y: r.Min.Y - n}, Max: Vec2F{X: r.Max.X + n, Y: r.Max.Y + n}}
}

// Contains проверяет попадание точки
func (r RectF) Contains(p Vec2F) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Y >= r.Min.Y && p.Y < r.Max.Y
}

// Intersects проверяет пересечение
func (r RectF) Intersects(o RectF) bool {
	return r.Min.X < o.Max.X && o.Min.X < r.Max.X && r.Min.Y < o.Max.Y && o.Min.Y < r.Max.Y
}

// Combined возвращает объединяющий прямоугольник
func (r RectF) Combined(o RectF) RectF {
	return RectF{
		Min: Vec2F{X: math.Min(r.Min.X, o.Min.X), Y: math.Min(r.Min.Y, o.Min.Y)},
		Max: Vec2F{X: math.Max(r.Max.X, o.Max.X), Y: math.Max(r.Max.Y, o.Max.Y)},
	}
}

// TileBounds возвращает минимальный тайловый прямоугольник, покрывающий r
func (r RectF) TileBounds() RectI {
	return RectI{
		Min: Vec2{X: int32(math.Floor(r.Min.X)), Y: int32(math.Floor(r.Min.Y))},
		Max: Vec2{X: int32(math.Ceil(r.Max.X)), Y: int32(math.Ceil(r.Max.Y))},
	}
}

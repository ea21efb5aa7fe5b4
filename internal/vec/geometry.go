package vec

import "math"

// Geometry описывает размеры мира. Ось X заворачивается по ширине,
// ось Y ограничена высотой.
type Geometry struct {
	Width  int32
	Height int32
}

// NewGeometry создаёт геометрию мира
func NewGeometry(width, height int32) Geometry {
	return Geometry{Width: width, Height: height}
}

// Xwrap нормализует x по модулю ширины
func (g Geometry) Xwrap(x int32) int32 {
	if g.Width <= 0 {
		return x
	}
	return floorMod(x, g.Width)
}

// XwrapF нормализует дробный x по модулю ширины
func (g Geometry) XwrapF(x float64) float64 {
	if g.Width <= 0 {
		return x
	}
	w := float64(g.Width)
	x = math.Mod(x, w)
	if x < 0 {
		x += w
	}
	return x
}

// Wrap нормализует тайловую позицию
func (g Geometry) Wrap(p Vec2) Vec2 {
	return Vec2{X: g.Xwrap(p.X), Y: p.Y}
}

// WrapF нормализует дробную позицию
func (g Geometry) WrapF(p Vec2F) Vec2F {
	return Vec2F{X: g.XwrapF(p.X), Y: p.Y}
}

// InBounds проверяет, что y находится внутри мира
func (g Geometry) InBounds(p Vec2) bool {
	return p.Y >= 0 && p.Y < g.Height
}

// DiffX возвращает разницу a-b по x по кратчайшей дуге
func (g Geometry) DiffX(a, b int32) int32 {
	d := a - b
	if g.Width <= 0 {
		return d
	}
	d = floorMod(d, g.Width)
	if d > g.Width/2 {
		d -= g.Width
	}
	return d
}

// Diff возвращает вектор a-b с учётом заворачивания
func (g Geometry) Diff(a, b Vec2) Vec2 {
	return Vec2{X: g.DiffX(a.X, b.X), Y: a.Y - b.Y}
}

// DiffF возвращает вектор a-b по кратчайшей дуге
func (g Geometry) DiffF(a, b Vec2F) Vec2F {
	dx := a.X - b.X
	if g.Width > 0 {
		w := float64(g.Width)
		dx = math.Mod(dx, w)
		if dx < 0 {
			dx += w
		}
		if dx > w/2 {
			dx -= w
		}
	}
	return Vec2F{X: dx, Y: a.Y - b.Y}
}

// Distance расстояние между точками с учётом заворачивания
func (g Geometry) Distance(a, b Vec2F) float64 {
	return g.DiffF(a, b).Length()
}

// Nearest возвращает копию p, сдвинутую на ширину мира так, чтобы она была ближе к ref
func (g Geometry) Nearest(ref, p Vec2F) Vec2F {
	return ref.Add(g.DiffF(p, ref))
}

// RectIntersects проверяет пересечение прямоугольников с учётом заворачивания
func (g Geometry) RectIntersects(a, b RectF) bool {
	center := g.Nearest(a.Center(), b.Center())
	shifted := b.Translated(center.Sub(b.Center()))
	return a.Intersects(shifted)
}

// SplitRect разбивает тайловый прямоугольник на части, не пересекающие шов мира
func (g Geometry) SplitRect(r RectI) []RectI {
	if g.Width <= 0 || r.Width() >= g.Width {
		r.Min.X = 0
		if g.Width > 0 {
			r.Max.X = g.Width
		}
		return []RectI{r}
	}
	minX := g.Xwrap(r.Min.X)
	maxX := minX + r.Width()
	if maxX <= g.Width {
		return []RectI{{Min: Vec2{X: minX, Y: r.Min.Y}, Max: Vec2{X: maxX, Y: r.Max.Y}}}
	}
	return []RectI{
		{Min: Vec2{X: minX, Y: r.Min.Y}, Max: Vec2{X: g.Width, Y: r.Max.Y}},
		{Min: Vec2{X: 0, Y: r.Min.Y}, Max: Vec2{X: maxX - g.Width, Y: r.Max.Y}},
	}
}

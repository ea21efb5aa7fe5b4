// Package physics столкновения выпуклых многоугольников с тайлами и
// контроллеры движения актёров. Ось Y направлена вверх, тайл (x, y)
// занимает квадрат [x, x+1] x [y, y+1].
package physics

import (
	"math"

	"github.com/annel0/tileverse/internal/vec"
)

// Poly выпуклый многоугольник, вершины против часовой стрелки
type Poly []vec.Vec2F

// RectPoly многоугольник из прямоугольника
func RectPoly(r vec.RectF) Poly {
	return Poly{
		{X: r.Min.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y},
		{X: r.Min.X, Y: r.Max.Y},
	}
}

// BoxPoly прямоугольник ширины w и высоты h с центром нижней грани в начале координат
func BoxPoly(w, h float64) Poly {
	return RectPoly(vec.NewRectF(-w/2, 0, w/2, h))
}

// TilePoly квадрат клетки
func TilePoly(p vec.Vec2) Poly {
	x, y := float64(p.X), float64(p.Y)
	return RectPoly(vec.NewRectF(x, y, x+1, y+1))
}

// Translated сдвинутая копия
func (p Poly) Translated(d vec.Vec2F) Poly {
	out := make(Poly, len(p))
	for i, v := range p {
		out[i] = v.Add(d)
	}
	return out
}

// BoundBox ограничивающий прямоугольник
func (p Poly) BoundBox() vec.RectF {
	if len(p) == 0 {
		return vec.RectF{}
	}
	r := vec.RectF{Min: p[0], Max: p[0]}
	for _, v := range p[1:] {
		r.Min.X = math.Min(r.Min.X, v.X)
		r.Min.Y = math.Min(r.Min.Y, v.Y)
		r.Max.X = math.Max(r.Max.X, v.X)
		r.Max.Y = math.Max(r.Max.Y, v.Y)
	}
	return r
}

// Center среднее вершин
func (p Poly) Center() vec.Vec2F {
	var c vec.Vec2F
	for _, v := range p {
		c = c.Add(v)
	}
	if len(p) > 0 {
		c = c.Mul(1 / float64(len(p)))
	}
	return c
}

// Contains точка внутри многоугольника
func (p Poly) Contains(pt vec.Vec2F) bool {
	if len(p) < 3 {
		return false
	}
	for i := range p {
		a, b := p[i], p[(i+1)%len(p)]
		if b.Sub(a).Cross(pt.Sub(a)) < 0 {
			return false
		}
	}
	return true
}

func (p Poly) project(axis vec.Vec2F) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range p {
		d := v.Dot(axis)
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

func (p Poly) normals(out []vec.Vec2F) []vec.Vec2F {
	for i := range p {
		edge := p[(i+1)%len(p)].Sub(p[i])
		n := vec.Vec2F{X: edge.Y, Y: -edge.X}.Normalized()
		if !n.IsZero() {
			out = append(out, n)
		}
	}
	return out
}

// Separation вектор минимального сдвига p, выводящий его из other (SAT).
// ok=false, если многоугольники не пересекаются.
func (p Poly) Separation(other Poly) (vec.Vec2F, bool) {
	if len(p) < 3 || len(other) < 3 {
		return vec.Vec2F{}, false
	}
	axes := p.normals(make([]vec.Vec2F, 0, len(p)+len(other)))
	axes = other.normals(axes)

	best := math.Inf(1)
	var bestAxis vec.Vec2F
	for _, axis := range axes {
		minA, maxA := p.project(axis)
		minB, maxB := other.project(axis)
		overlap := math.Min(maxA, maxB) - math.Max(minA, minB)
		if overlap <= 0 {
			return vec.Vec2F{}, false
		}
		if overlap < best {
			best = overlap
			bestAxis = axis
			if (minA+maxA)/2 < (minB+maxB)/2 {
				bestAxis = axis.Neg()
			}
		}
	}
	return bestAxis.Mul(best), true
}

// DirectionalSeparation сдвиг p строго вдоль dir, выводящий его из other.
// ok=false, если пересечения нет.
func (p Poly) DirectionalSeparation(other Poly, dir vec.Vec2F) (vec.Vec2F, bool) {
	dir = dir.Normalized()
	if dir.IsZero() {
		return vec.Vec2F{}, false
	}
	if _, overlap := p.Separation(other); !overlap {
		return vec.Vec2F{}, false
	}
	minA, _ := p.project(dir)
	_, maxB := other.project(dir)
	return dir.Mul(maxB - minA), true
}

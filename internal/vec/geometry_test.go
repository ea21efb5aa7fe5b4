package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeometryWrap(t *testing.T) {
	g := NewGeometry(100, 50)

	assert.Equal(t, int32(99), g.Xwrap(-1))
	assert.Equal(t, int32(5), g.Xwrap(205))
	assert.Equal(t, 99.5, g.XwrapF(-0.5))
	assert.Equal(t, V2(3, 7), g.Wrap(V2(-97, 7)), "y не заворачивается")

	assert.False(t, g.InBounds(V2(0, -1)))
	assert.True(t, g.InBounds(V2(0, 49)))
	assert.False(t, g.InBounds(V2(0, 50)))

	flat := Geometry{}
	assert.Equal(t, int32(-7), flat.Xwrap(-7), "мир без ширины не заворачивается")
}

func TestGeometryShortestDiff(t *testing.T) {
	g := NewGeometry(100, 50)

	assert.Equal(t, int32(4), g.DiffX(2, 98), "через шов вправо")
	assert.Equal(t, int32(-4), g.DiffX(98, 2), "через шов влево")
	assert.Equal(t, int32(50), g.DiffX(50, 0), "ровно половина ширины остаётся положительной")
	assert.Equal(t, V2(4, -3), g.Diff(V2(2, 0), V2(98, 3)))

	assert.Equal(t, V2F(2, -3), g.DiffF(V2F(1, 0), V2F(99, 3)))
	assert.InDelta(t, 2.0, g.Distance(V2F(1, 0), V2F(99, 0)), 1e-9)
	assert.Equal(t, V2F(101, 0), g.Nearest(V2F(98, 0), V2F(1, 0)))
}

func TestGeometryRectIntersectsAcrossSeam(t *testing.T) {
	g := NewGeometry(100, 50)
	a := NewRectF(97, 0, 100.5, 2)
	b := NewRectF(0, 0, 2, 2)

	assert.False(t, a.Intersects(b), "без учёта шва прямоугольники не пересекаются")
	assert.True(t, g.RectIntersects(a, b))
	assert.False(t, g.RectIntersects(NewRectF(40, 0, 45, 2), b))
}

func TestGeometrySplitRect(t *testing.T) {
	g := NewGeometry(100, 50)

	parts := g.SplitRect(NewRectI(95, 0, 10, 5))
	assert.Equal(t, []RectI{
		{Min: V2(95, 0), Max: V2(100, 5)},
		{Min: V2(0, 0), Max: V2(5, 5)},
	}, parts)

	assert.Equal(t, []RectI{{Min: V2(97, 1), Max: V2(99, 2)}}, g.SplitRect(NewRectI(-3, 1, 2, 1)))
	assert.Equal(t, []RectI{{Min: V2(0, 0), Max: V2(100, 4)}}, g.SplitRect(NewRectI(10, 0, 150, 4)),
		"прямоугольник шире мира покрывает всю ширину")
}

func TestChunkCoordsAndOrdering(t *testing.T) {
	p := V2(-1, 33)
	assert.Equal(t, V2(-1, 1), p.ToChunkCoords(32))
	assert.Equal(t, V2(31, 1), p.LocalInChunk(32))

	assert.True(t, V2(0, 5).Less(V2(3, 4)), "сначала большие y")
	assert.True(t, V2(1, 4).Less(V2(3, 4)), "затем меньшие x")
	assert.False(t, V2(3, 4).Less(V2(3, 4)))

	r := NewRectF(-0.5, 1.2, 2.1, 3)
	assert.Equal(t, RectI{Min: V2(-1, 1), Max: V2(3, 3)}, r.TileBounds())
}

package template

import (
	"encoding/json"
	"testing"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateDeterminism(t *testing.T) {
	reg := tile.DefaultRegistry()
	a := Default(42, 256, 128)
	b := Default(42, 256, 128)

	for _, c := range []vec.Vec2{vec.V2(0, 0), vec.V2(3, 2), vec.V2(7, 3)} {
		assert.Equal(t, a.ChunkTiles(reg, c), b.ChunkTiles(reg, c), "одинаковый сид даёт одинаковые чанки")
	}
	assert.Equal(t, a.PlayerStart(), b.PlayerStart())
	assert.Equal(t, a.WeatherAt(1000), b.WeatherAt(1000))
}

func TestSurfaceWraps(t *testing.T) {
	tpl := Default(7, 512, 256)
	assert.Equal(t, tpl.SurfaceHeight(0), tpl.SurfaceHeight(512), "поверхность бесшовна по x")
	assert.Equal(t, tpl.SurfaceHeight(-3), tpl.SurfaceHeight(509))
	for x := int32(0); x < 512; x += 17 {
		h := tpl.SurfaceHeight(x)
		assert.True(t, h > 0 && h < 256)
	}
}

func TestGenerate(t *testing.T) {
	reg := tile.DefaultRegistry()
	tpl := Default(1, 128, 64)
	w := world.NewTileWorld(128, 64, reg)
	tpl.Generate(w)

	bottom := w.Tile(vec.V2(5, 0))
	assert.NotEqual(t, tile.EmptyMaterial, bottom.Foreground.Material, "нижняя строка заполнена")

	surface := tpl.SurfaceHeight(40)
	assert.NotEqual(t, tile.EmptyMaterial, w.Tile(vec.V2(40, surface)).Foreground.Material)
	assert.Equal(t, tile.EmptyMaterial, w.Tile(vec.V2(40, 63)).Foreground.Material, "над поверхностью воздух")
	assert.Equal(t, tpl.TileAt(reg, vec.V2(40, surface)), w.Tile(vec.V2(40, surface)))
}

func TestTemplateJSON(t *testing.T) {
	tpl := Default(99, 300, 200)
	data, err := json.Marshal(tpl)
	require.NoError(t, err)

	var back WorldTemplate
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, tpl.Seed(), back.Seed())
	assert.Equal(t, tpl.Parameters(), back.Parameters())
	assert.Equal(t, tpl.SurfaceHeight(123), back.SurfaceHeight(123))
}

func TestDayTime(t *testing.T) {
	tpl := Default(1, 100, 100)
	assert.InDelta(t, 0.5, tpl.DayTime(600), 1e-9)
	assert.InDelta(t, 0, tpl.DayTime(1200), 1e-9)
}

// Package template описывает неизменяемый шаблон мира: сид, размер,
// параметры генерации, биомы, небо и погоду. Вся случайность шаблона
// детерминирована и зависит только от сида и координат.
package template

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/tileverse/internal/random"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Parameters параметры генерации поверхности
type Parameters struct {
	SurfaceLevel     int32   `json:"surfaceLevel"`     // средняя высота поверхности
	SurfaceAmplitude float64 `json:"surfaceAmplitude"` // размах холмов в тайлах
	SurfaceScale     float64 `json:"surfaceScale"`     // радиус окружности сэмплирования шума
	CaveScale        float64 `json:"caveScale"`
	CaveThreshold    float64 `json:"caveThreshold"` // выше порога - пещера
	OceanLevel       int32   `json:"oceanLevel"`
	SubsurfaceDepth  int32   `json:"subsurfaceDepth"`
	BiomeWidth       int32   `json:"biomeWidth"`
	CoreLevel        int32   `json:"coreLevel"` // ниже - ядро из лавы
}

// DefaultParameters параметры для мира высотой height
func DefaultParameters(height int32) Parameters {
	return Parameters{
		SurfaceLevel:     height * 3 / 5,
		SurfaceAmplitude: float64(height) / 12,
		SurfaceScale:     6,
		CaveScale:        0.06,
		CaveThreshold:    0.32,
		OceanLevel:       height*3/5 - int32(float64(height)/24),
		SubsurfaceDepth:  8,
		BiomeWidth:       200,
		CoreLevel:        8,
	}
}

// Biome набор материалов для участка поверхности
type Biome struct {
	Name                string  `json:"name"`
	SurfaceMaterial     string  `json:"surfaceMaterial"`
	SubsurfaceMaterial  string  `json:"subsurfaceMaterial"`
	UndergroundMaterial string  `json:"undergroundMaterial"`
	SurfaceMod          string  `json:"surfaceMod,omitempty"`
	Liquid              string  `json:"liquid,omitempty"`
	TreeDensity         float64 `json:"treeDensity"`
}

// DefaultBiomes встроенный набор биомов
func DefaultBiomes() []Biome {
	return []Biome{
		{Name: "forest", SurfaceMaterial: "dirt", SubsurfaceMaterial: "dirt", UndergroundMaterial: "stone", SurfaceMod: "grass", Liquid: "water", TreeDensity: 0.08},
		{Name: "desert", SurfaceMaterial: "sand", SubsurfaceMaterial: "sand", UndergroundMaterial: "stone", Liquid: "water", TreeDensity: 0.01},
		{Name: "tundra", SurfaceMaterial: "dirt", SubsurfaceMaterial: "ice", UndergroundMaterial: "stone", SurfaceMod: "snow", Liquid: "water", TreeDensity: 0.03},
		{Name: "swamp", SurfaceMaterial: "dirt", SubsurfaceMaterial: "dirt", UndergroundMaterial: "cobblestone", SurfaceMod: "moss", Liquid: "water", TreeDensity: 0.12},
	}
}

// WeatherType вид погоды с весом выбора
type WeatherType struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Duration float64 `json:"duration"` // длительность периода в секундах
}

// SkyParameters параметры неба и суток
type SkyParameters struct {
	DayLength  float64  `json:"dayLength"`
	SkyColor   [3]uint8 `json:"skyColor"`
	Gravity    float64  `json:"gravity"`
	Breathable bool     `json:"breathable"`
}

// WorldTemplate неизменяемое описание мира
type WorldTemplate struct {
	seed    uint64
	width   int32
	height  int32
	params  Parameters
	biomes  []Biome
	sky     SkyParameters
	weather []WeatherType

	surfaceNoise *perlin.Perlin
	caveNoise    *perlin.Perlin
}

// New создаёт шаблон
func New(seed uint64, width, height int32, params Parameters, biomes []Biome, sky SkyParameters, weather []WeatherType) (*WorldTemplate, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("некорректный размер мира %dx%d", width, height)
	}
	if len(biomes) == 0 {
		return nil, fmt.Errorf("шаблон мира без биомов")
	}
	if params.BiomeWidth <= 0 {
		params.BiomeWidth = width
	}
	t := &WorldTemplate{
		seed:    seed,
		width:   width,
		height:  height,
		params:  params,
		biomes:  append([]Biome(nil), biomes...),
		sky:     sky,
		weather: append([]WeatherType(nil), weather...),
	}
	t.initNoise()
	return t, nil
}

// Default шаблон со встроенными биомами и погодой
func Default(seed uint64, width, height int32) *WorldTemplate {
	t, err := New(seed, width, height, DefaultParameters(height), DefaultBiomes(),
		SkyParameters{DayLength: 1200, SkyColor: [3]uint8{120, 170, 255}, Gravity: 80, Breathable: true},
		[]WeatherType{{Name: "clear", Weight: 4, Duration: 300}, {Name: "rain", Weight: 2, Duration: 180}, {Name: "storm", Weight: 1, Duration: 120}})
	if err != nil {
		panic(err)
	}
	return t
}

func (t *WorldTemplate) initNoise() {
	t.surfaceNoise = perlin.NewPerlin(2, 2, 3, int64(random.StaticRandom64(t.seed, "surface")))
	t.caveNoise = perlin.NewPerlin(2, 2, 3, int64(random.StaticRandom64(t.seed, "caves")))
}

// Seed сид шаблона
func (t *WorldTemplate) Seed() uint64 { return t.seed }

// Size размеры мира
func (t *WorldTemplate) Size() (int32, int32) { return t.width, t.height }

// Geometry геометрия мира
func (t *WorldTemplate) Geometry() vec.Geometry { return vec.NewGeometry(t.width, t.height) }

// Parameters параметры генерации
func (t *WorldTemplate) Parameters() Parameters { return t.params }

// Sky параметры неба
func (t *WorldTemplate) Sky() SkyParameters { return t.sky }

// Biomes список биомов
func (t *WorldTemplate) Biomes() []Biome { return append([]Biome(nil), t.biomes...) }

// circle проецирует x на окружность, чтобы шум бесшовно заворачивался по ширине мира
func (t *WorldTemplate) circle(x float64, radius float64) (float64, float64) {
	angle := 2 * math.Pi * x / float64(t.width)
	return math.Cos(angle)*radius + radius, math.Sin(angle)*radius + radius
}

// SurfaceHeight высота поверхности в столбце x
func (t *WorldTemplate) SurfaceHeight(x int32) int32 {
	x = t.Geometry().Xwrap(x)
	nx, ny := t.circle(float64(x), t.params.SurfaceScale)
	h := float64(t.params.SurfaceLevel) + t.surfaceNoise.Noise2D(nx, ny)*t.params.SurfaceAmplitude
	if h < 1 {
		h = 1
	}
	if h > float64(t.height-1) {
		h = float64(t.height - 1)
	}
	return int32(h)
}

// BiomeAt биом столбца x
func (t *WorldTemplate) BiomeAt(x int32) Biome {
	region := t.Geometry().Xwrap(x) / t.params.BiomeWidth
	idx := random.StaticRandomInt(0, int64(len(t.biomes)-1), t.seed, region, "biome")
	return t.biomes[idx]
}

// IsCave клетка под поверхностью вырезана пещерой
func (t *WorldTemplate) IsCave(pos vec.Vec2) bool {
	if pos.Y <= t.params.CoreLevel {
		return false
	}
	radius := float64(t.width) * t.params.CaveScale / (2 * math.Pi)
	nx, ny := t.circle(float64(t.Geometry().Xwrap(pos.X)), radius)
	n := t.caveNoise.Noise3D(nx, ny, float64(pos.Y)*t.params.CaveScale)
	return math.Abs(n) > t.params.CaveThreshold
}

// WeatherAt погода в момент времени мира; сменяется периодами по сиду
func (t *WorldTemplate) WeatherAt(worldTime float64) WeatherType {
	if len(t.weather) == 0 {
		return WeatherType{Name: "clear"}
	}
	period := t.weather[0].Duration
	if period <= 0 {
		period = 300
	}
	epoch := int64(worldTime / period)
	var total float64
	for _, w := range t.weather {
		total += w.Weight
	}
	roll := random.StaticRandomFloat(t.seed, epoch, "weather") * total
	for _, w := range t.weather {
		if roll < w.Weight {
			return w
		}
		roll -= w.Weight
	}
	return t.weather[len(t.weather)-1]
}

// DayTime доля суток в [0,1)
func (t *WorldTemplate) DayTime(worldTime float64) float64 {
	if t.sky.DayLength <= 0 {
		return 0.5
	}
	f := math.Mod(worldTime, t.sky.DayLength) / t.sky.DayLength
	if f < 0 {
		f++
	}
	return f
}

// PlayerStart точка появления игрока над поверхностью
func (t *WorldTemplate) PlayerStart() vec.Vec2F {
	x := random.StaticRandomInt(0, int64(t.width)-1, t.seed, "playerStart")
	return vec.V2F(float64(x)+0.5, float64(t.SurfaceHeight(int32(x))+3))
}

type materialSet struct {
	surface, subsurface, underground tile.MaterialID
	surfaceMod                       tile.ModID
	liquid                           tile.LiquidID
}

func (t *WorldTemplate) resolve(reg *tile.Registry, b Biome) materialSet {
	lookup := func(name string) tile.MaterialID {
		if id, ok := reg.MaterialByName(name); ok {
			return id
		}
		return tile.EmptyMaterial
	}
	ms := materialSet{
		surface:     lookup(b.SurfaceMaterial),
		subsurface:  lookup(b.SubsurfaceMaterial),
		underground: lookup(b.UndergroundMaterial),
		surfaceMod:  tile.NoMod,
	}
	if id, ok := reg.ModByName(b.SurfaceMod); ok {
		ms.surfaceMod = id
	}
	if id, ok := reg.LiquidByName(b.Liquid); ok {
		ms.liquid = id
	}
	return ms
}

// TileAt содержимое клетки нового мира
func (t *WorldTemplate) TileAt(reg *tile.Registry, pos vec.Vec2) tile.Tile {
	return t.tileAt(reg, pos, t.resolve(reg, t.BiomeAt(pos.X)), t.SurfaceHeight(pos.X))
}

func (t *WorldTemplate) tileAt(reg *tile.Registry, pos vec.Vec2, ms materialSet, surface int32) tile.Tile {
	out := tile.EmptyTile()
	if pos.Y < 0 || pos.Y >= t.height {
		return tile.NullTile()
	}

	switch {
	case pos.Y <= t.params.CoreLevel:
		if lava, ok := reg.LiquidByName("lava"); ok && pos.Y > 0 {
			out.Background.Material = ms.underground
			out.Liquid = tile.LiquidState{Liquid: lava, Level: 1, Pressure: float32(t.params.CoreLevel - pos.Y + 1)}
		} else {
			out.Foreground.Material = ms.underground
			out.Background.Material = ms.underground
		}
	case pos.Y <= surface:
		var m tile.MaterialID
		switch {
		case pos.Y < surface-t.params.SubsurfaceDepth:
			m = ms.underground
		case pos.Y < surface:
			m = ms.subsurface
		default:
			m = ms.surface
		}
		out.Background.Material = m
		if !(pos.Y < surface-t.params.SubsurfaceDepth && t.IsCave(pos)) {
			out.Foreground.Material = m
			if pos.Y == surface {
				out.Foreground.Mod = ms.surfaceMod
			}
		}
	case pos.Y <= t.params.OceanLevel && ms.liquid != tile.EmptyLiquid:
		out.Liquid = tile.LiquidState{Liquid: ms.liquid, Level: 1, Pressure: float32(t.params.OceanLevel - pos.Y + 1)}
	}

	if out.Foreground.Material != tile.EmptyMaterial {
		out.Collision = reg.Collision(out.Foreground.Material)
		out.Liquid = tile.LiquidState{}
	}
	out.Foreground.HueShift = uint8(random.StaticRandomInt(0, 3, t.seed, pos.X, pos.Y, "hue"))
	if out.Foreground.Material == tile.EmptyMaterial {
		out.Foreground.HueShift = 0
	}
	return out
}

// ChunkTiles содержимое чанка нового мира в порядке строк
func (t *WorldTemplate) ChunkTiles(reg *tile.Registry, coords vec.Vec2) []tile.Tile {
	tiles := make([]tile.Tile, 0, world.ChunkSize*world.ChunkSize)
	baseX, baseY := coords.X*world.ChunkSize, coords.Y*world.ChunkSize

	var columns [world.ChunkSize]struct {
		surface int32
		ms      materialSet
	}
	for lx := int32(0); lx < world.ChunkSize; lx++ {
		x := baseX + lx
		columns[lx].surface = t.SurfaceHeight(x)
		columns[lx].ms = t.resolve(reg, t.BiomeAt(x))
	}
	for ly := int32(0); ly < world.ChunkSize; ly++ {
		for lx := int32(0); lx < world.ChunkSize; lx++ {
			pos := vec.V2(baseX+lx, baseY+ly)
			if pos.X >= t.width || pos.Y >= t.height {
				tiles = append(tiles, tile.NullTile())
				continue
			}
			tiles = append(tiles, t.tileAt(reg, pos, columns[lx].ms, columns[lx].surface))
		}
	}
	return tiles
}

// Generate заполняет пустой мир по шаблону
func (t *WorldTemplate) Generate(w *world.TileWorld) {
	grid := w.Grid()
	cx, cy := grid.ChunkCount()
	for y := int32(0); y < cy; y++ {
		for x := int32(0); x < cx; x++ {
			coords := vec.V2(x, y)
			grid.LoadChunk(coords, t.ChunkTiles(w.Registry(), coords), w.CurrentTick())
		}
	}
}

type templateJSON struct {
	Seed       uint64        `json:"seed"`
	Width      int32         `json:"width"`
	Height     int32         `json:"height"`
	Parameters Parameters    `json:"parameters"`
	Biomes     []Biome       `json:"biomes"`
	Sky        SkyParameters `json:"sky"`
	Weather    []WeatherType `json:"weather"`
}

func (t *WorldTemplate) MarshalJSON() ([]byte, error) {
	return json.Marshal(templateJSON{
		Seed: t.seed, Width: t.width, Height: t.height,
		Parameters: t.params, Biomes: t.biomes, Sky: t.sky, Weather: t.weather,
	})
}

func (t *WorldTemplate) UnmarshalJSON(data []byte) error {
	var raw templateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	loaded, err := New(raw.Seed, raw.Width, raw.Height, raw.Parameters, raw.Biomes, raw.Sky, raw.Weather)
	if err != nil {
		return err
	}
	*t = *loaded
	return nil
}

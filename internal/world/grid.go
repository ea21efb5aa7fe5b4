package world

import (
	"sync"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// ChunkSize размер стороны чанка в тайлах
const ChunkSize = 32

const chunkArea = ChunkSize * ChunkSize

// Chunk участок сетки ChunkSize x ChunkSize.
// Пишет только поток симуляции; остальные читают через снимки под RLock.
type Chunk struct {
	Coords vec.Vec2

	mu             sync.RWMutex
	tiles          [chunkArea]tile.Tile
	modified       [chunkArea]uint64 // тик последнего структурного изменения
	liquidModified [chunkArea]uint64 // тик последнего изменения жидкости
	version        uint64
}

func newChunk(coords vec.Vec2) *Chunk {
	c := &Chunk{Coords: coords}
	empty := tile.EmptyTile()
	for i := range c.tiles {
		c.tiles[i] = empty
	}
	return c
}

// Version версия чанка; монотонно растёт при каждом изменении
func (c *Chunk) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// ChunkSnapshot копия содержимого чанка
type ChunkSnapshot struct {
	Coords         vec.Vec2
	Version        uint64
	Tiles          [chunkArea]tile.Tile
	Modified       [chunkArea]uint64
	LiquidModified [chunkArea]uint64
}

// Snapshot копирует чанк под коротким read-lock
func (c *Chunk) Snapshot() *ChunkSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &ChunkSnapshot{
		Coords:         c.Coords,
		Version:        c.version,
		Tiles:          c.tiles,
		Modified:       c.modified,
		LiquidModified: c.liquidModified,
	}
}

// Local тайл по локальным координатам снимка
func (s *ChunkSnapshot) Local(lx, ly int32) tile.Tile {
	return s.Tiles[ly*ChunkSize+lx]
}

// TileGrid двумерная сетка тайлов, разбитая на чанки.
// Ось X заворачивается, ось Y ограничена высотой мира.
type TileGrid struct {
	geometry vec.Geometry
	chunksX  int32
	chunksY  int32
	chunks   []*Chunk
}

// NewTileGrid создаёт пустую сетку
func NewTileGrid(width, height int32) *TileGrid {
	g := &TileGrid{
		geometry: vec.NewGeometry(width, height),
		chunksX:  (width + ChunkSize - 1) / ChunkSize,
		chunksY:  (height + ChunkSize - 1) / ChunkSize,
	}
	g.chunks = make([]*Chunk, g.chunksX*g.chunksY)
	for cy := int32(0); cy < g.chunksY; cy++ {
		for cx := int32(0); cx < g.chunksX; cx++ {
			g.chunks[cy*g.chunksX+cx] = newChunk(vec.V2(cx, cy))
		}
	}
	return g
}

// Geometry геометрия мира
func (g *TileGrid) Geometry() vec.Geometry { return g.geometry }

// ChunkCount размеры сетки в чанках
func (g *TileGrid) ChunkCount() (int32, int32) { return g.chunksX, g.chunksY }

// InBounds позиция внутри мира по вертикали
func (g *TileGrid) InBounds(pos vec.Vec2) bool {
	return g.geometry.InBounds(pos)
}

func (g *TileGrid) locate(pos vec.Vec2) (*Chunk, int, bool) {
	if !g.geometry.InBounds(pos) {
		return nil, 0, false
	}
	pos = g.geometry.Wrap(pos)
	cx, cy := pos.X/ChunkSize, pos.Y/ChunkSize
	c := g.chunks[cy*g.chunksX+cx]
	idx := int((pos.Y%ChunkSize)*ChunkSize + pos.X%ChunkSize)
	return c, idx, true
}

// Chunk чанк по координатам чанка (x заворачивается)
func (g *TileGrid) Chunk(coords vec.Vec2) *Chunk {
	if coords.Y < 0 || coords.Y >= g.chunksY {
		return nil
	}
	cx := coords.X % g.chunksX
	if cx < 0 {
		cx += g.chunksX
	}
	return g.chunks[coords.Y*g.chunksX+cx]
}

// Chunks все чанки в порядке строк
func (g *TileGrid) Chunks() []*Chunk {
	return g.chunks
}

// Tile читает тайл; за пределами мира возвращается NullTile
func (g *TileGrid) Tile(pos vec.Vec2) tile.Tile {
	c, idx, ok := g.locate(pos)
	if !ok {
		return tile.NullTile()
	}
	return c.tiles[idx]
}

// SetTile записывает тайл и помечает структурное изменение на тике tick
func (g *TileGrid) SetTile(pos vec.Vec2, t tile.Tile, tick uint64) bool {
	c, idx, ok := g.locate(pos)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.tiles[idx] = t
	c.modified[idx] = tick
	c.version++
	c.mu.Unlock()
	return true
}

// SetLiquid меняет только жидкость клетки
func (g *TileGrid) SetLiquid(pos vec.Vec2, l tile.LiquidState, tick uint64) bool {
	c, idx, ok := g.locate(pos)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.tiles[idx].Liquid = l.Normalized()
	c.liquidModified[idx] = tick
	c.version++
	c.mu.Unlock()
	return true
}

// LastModified тик последнего структурного изменения клетки
func (g *TileGrid) LastModified(pos vec.Vec2) uint64 {
	c, idx, ok := g.locate(pos)
	if !ok {
		return 0
	}
	return c.modified[idx]
}

// Rect копирует прямоугольник тайлов построчно (снизу вверх)
func (g *TileGrid) Rect(r vec.RectI) []tile.Tile {
	if r.IsEmpty() {
		return nil
	}
	out := make([]tile.Tile, 0, int(r.Width())*int(r.Height()))
	r.Each(func(p vec.Vec2) {
		out = append(out, g.Tile(p))
	})
	return out
}

// LoadChunk заменяет содержимое чанка (загрузка из хранилища)
func (g *TileGrid) LoadChunk(coords vec.Vec2, tiles []tile.Tile, tick uint64) bool {
	c := g.Chunk(coords)
	if c == nil || len(tiles) != chunkArea {
		return false
	}
	c.mu.Lock()
	copy(c.tiles[:], tiles)
	for i := range c.modified {
		c.modified[i] = tick
	}
	c.version++
	c.mu.Unlock()
	return true
}

// ChunkCoordsOf координаты чанка, содержащего позицию
func (g *TileGrid) ChunkCoordsOf(pos vec.Vec2) vec.Vec2 {
	pos = g.geometry.Wrap(pos)
	return vec.V2(pos.X/ChunkSize, pos.Y/ChunkSize)
}

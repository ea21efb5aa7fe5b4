package world

import (
	"sort"
	"sync"

	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// DefaultMaxSingleUpdates после стольких изменённых клеток чанк отправляется целиком
const DefaultMaxSingleUpdates = 64

// TileArrayUpdate прямоугольник тайлов (строки снизу вверх)
type TileArrayUpdate struct {
	Min    vec.Vec2
	Width  int32
	Height int32
	Tiles  []tile.Tile
}

// TileSingleUpdate одна изменённая клетка
type TileSingleUpdate struct {
	Pos  vec.Vec2
	Tile tile.Tile
}

// TileLiquidChange изменение только жидкости
type TileLiquidChange struct {
	Pos    vec.Vec2
	Liquid tile.LiquidState
}

// TileUpdateBatch всё, что нужно отправить клиенту за тик
type TileUpdateBatch struct {
	Arrays  []TileArrayUpdate
	Tiles   []TileSingleUpdate
	Liquids []TileLiquidChange
}

// IsEmpty отправлять нечего
func (b TileUpdateBatch) IsEmpty() bool {
	return len(b.Arrays) == 0 && len(b.Tiles) == 0 && len(b.Liquids) == 0
}

type chunkSent struct {
	version uint64
	tick    uint64
}

// TileUpdateTracker помнит, какие версии чанков получил клиент,
// и собирает для него изменения внутри окна видимости.
type TileUpdateTracker struct {
	mu         sync.Mutex
	sent       map[vec.Vec2]chunkSent
	maxSingles int
}

// NewTileUpdateTracker создаёт трекер для одного клиента
func NewTileUpdateTracker() *TileUpdateTracker {
	return &TileUpdateTracker{
		sent:       make(map[vec.Vec2]chunkSent),
		maxSingles: DefaultMaxSingleUpdates,
	}
}

// SetMaxSingleUpdates порог перехода на отправку чанка целиком
func (t *TileUpdateTracker) SetMaxSingleUpdates(n int) {
	t.mu.Lock()
	t.maxSingles = n
	t.mu.Unlock()
}

// Reset забывает всё отправленное (клиент запросил полную синхронизацию)
func (t *TileUpdateTracker) Reset() {
	t.mu.Lock()
	t.sent = make(map[vec.Vec2]chunkSent)
	t.mu.Unlock()
}

// SentChunks число чанков, известных клиенту
func (t *TileUpdateTracker) SentChunks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// Collect собирает обновления чанков, пересекающих окно, и запоминает отправленное.
// tick - текущий тик мира.
func (t *TileUpdateTracker) Collect(grid *TileGrid, window vec.RectI, tick uint64) TileUpdateBatch {
	t.mu.Lock()
	defer t.mu.Unlock()

	var batch TileUpdateBatch
	for _, coords := range chunksInWindow(grid, window) {
		c := grid.Chunk(coords)
		if c == nil {
			continue
		}
		prev, known := t.sent[coords]
		if known && c.Version() == prev.version {
			continue
		}
		snap := c.Snapshot()
		t.sent[coords] = chunkSent{version: snap.Version, tick: tick}

		if !known {
			batch.Arrays = append(batch.Arrays, chunkArray(grid, snap))
			continue
		}

		var singles []TileSingleUpdate
		var liquids []TileLiquidChange
		for i := range snap.Tiles {
			pos := chunkCellPos(snap.Coords, i)
			switch {
			case snap.Modified[i] > prev.tick:
				singles = append(singles, TileSingleUpdate{Pos: pos, Tile: snap.Tiles[i]})
			case snap.LiquidModified[i] > prev.tick:
				liquids = append(liquids, TileLiquidChange{Pos: pos, Liquid: snap.Tiles[i].Liquid})
			}
		}
		if len(singles)+len(liquids) > t.maxSingles {
			batch.Arrays = append(batch.Arrays, chunkArray(grid, snap))
			continue
		}
		batch.Tiles = append(batch.Tiles, singles...)
		batch.Liquids = append(batch.Liquids, liquids...)
	}
	return batch
}

// chunksInWindow координаты чанков окна с учётом заворачивания по x
func chunksInWindow(grid *TileGrid, window vec.RectI) []vec.Vec2 {
	seen := make(map[vec.Vec2]bool)
	var out []vec.Vec2
	for _, r := range grid.geometry.SplitRect(window) {
		if r.Min.Y < 0 {
			r.Min.Y = 0
		}
		if r.Max.Y > grid.geometry.Height {
			r.Max.Y = grid.geometry.Height
		}
		if r.IsEmpty() {
			continue
		}
		for cy := r.Min.Y / ChunkSize; cy <= (r.Max.Y-1)/ChunkSize; cy++ {
			for cx := r.Min.X / ChunkSize; cx <= (r.Max.X-1)/ChunkSize; cx++ {
				p := vec.V2(cx, cy)
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

func chunkCellPos(coords vec.Vec2, idx int) vec.Vec2 {
	return vec.V2(coords.X*ChunkSize+int32(idx%ChunkSize), coords.Y*ChunkSize+int32(idx/ChunkSize))
}

// chunkArray весь чанк как прямоугольник, обрезанный по размерам мира
func chunkArray(grid *TileGrid, snap *ChunkSnapshot) TileArrayUpdate {
	origin := vec.V2(snap.Coords.X*ChunkSize, snap.Coords.Y*ChunkSize)
	w := int32(ChunkSize)
	if rest := grid.geometry.Width - origin.X; rest < w {
		w = rest
	}
	h := int32(ChunkSize)
	if rest := grid.geometry.Height - origin.Y; rest < h {
		h = rest
	}
	tiles := make([]tile.Tile, 0, int(w*h))
	for ly := int32(0); ly < h; ly++ {
		for lx := int32(0); lx < w; lx++ {
			tiles = append(tiles, snap.Local(lx, ly))
		}
	}
	return TileArrayUpdate{Min: origin, Width: w, Height: h, Tiles: tiles}
}

// ApplyArray записывает полученный прямоугольник в сетку клиента
func (g *TileGrid) ApplyArray(u TileArrayUpdate, tick uint64) {
	if int(u.Width*u.Height) != len(u.Tiles) {
		return
	}
	i := 0
	for y := int32(0); y < u.Height; y++ {
		for x := int32(0); x < u.Width; x++ {
			g.SetTile(u.Min.Add(vec.V2(x, y)), u.Tiles[i], tick)
			i++
		}
	}
}

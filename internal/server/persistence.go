package server

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// EntitySectorSize сторона сектора хранения сущностей в тайлах
const EntitySectorSize = 64

// WorldStore постоянное хранилище мира
type WorldStore interface {
	SaveChunk(coords vec.Vec2, tiles []tile.Tile) error
	LoadChunk(coords vec.Vec2) ([]tile.Tile, bool, error)
	// ClearEntitySectors удаляет прежние сектора перед записью новых
	ClearEntitySectors() error
	SaveEntitySector(sector vec.Vec2, entities []json.RawMessage) error
	LoadEntitySectors() (map[vec.Vec2][]json.RawMessage, error)
	SaveMetadata(data json.RawMessage) error
	LoadMetadata() (json.RawMessage, bool, error)
}

// worldMetadata состояние мира помимо тайлов и сущностей
type worldMetadata struct {
	Step       uint64                 `json:"step"`
	Time       float64                `json:"time"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Protected  []tile.DungeonID       `json:"protectedDungeonIds,omitempty"`
	// PlayerStart точка появления, заданная подземельем
	PlayerStart *vec.Vec2F `json:"playerStart,omitempty"`
}

// SaveResult итог сохранения
type SaveResult struct {
	Chunks   int
	Entities int
}

// EntitySector сектор хранения, содержащий позицию
func EntitySector(pos vec.Vec2F) vec.Vec2 {
	return vec.V2(int32(math.Floor(pos.X/EntitySectorSize)), int32(math.Floor(pos.Y/EntitySectorSize)))
}

// SaveTo сохраняет тайлы, постоянные сущности сервера и метаданные
func (s *WorldServer) SaveTo(store WorldStore) (SaveResult, error) {
	var res SaveResult
	for _, c := range s.tiles.Grid().Chunks() {
		snap := c.Snapshot()
		if err := store.SaveChunk(snap.Coords, snap.Tiles[:]); err != nil {
			return res, fmt.Errorf("чанк %v: %w", snap.Coords, err)
		}
		res.Chunks++
	}

	sectors := make(map[vec.Vec2][]json.RawMessage)
	for _, e := range s.entities.Entities() {
		if !e.EntityMode().IsMaster() || !e.Persistent() {
			continue
		}
		data, err := s.factory.DiskStore(e)
		if err != nil {
			s.logger.Warn("⚠️ Сущность %d (%s) не сохранена: %v", e.EntityID(), e.EntityType(), err)
			continue
		}
		sector := EntitySector(e.Position())
		sectors[sector] = append(sectors[sector], data)
		res.Entities++
	}
	if err := store.ClearEntitySectors(); err != nil {
		return res, fmt.Errorf("сектора сущностей: %w", err)
	}
	for _, k := range sortedSectors(sectors) {
		if err := store.SaveEntitySector(k, sectors[k]); err != nil {
			return res, fmt.Errorf("сектор %v: %w", k, err)
		}
	}

	meta, err := json.Marshal(worldMetadata{
		Step:        s.step,
		Time:        s.time,
		Properties:  s.properties,
		Protected:   s.tiles.ProtectedIDs(),
		PlayerStart: s.playerStart,
	})
	if err != nil {
		return res, err
	}
	if err := store.SaveMetadata(meta); err != nil {
		return res, fmt.Errorf("метаданные: %w", err)
	}

	s.logger.Info("✅ Мир %q сохранён: %d чанков, %d сущностей", s.name, res.Chunks, res.Entities)
	s.publish(eventbus.EventWorldSaved, eventbus.WorldSaved{World: s.name, Step: s.step, Chunks: res.Chunks, Entities: res.Entities})
	return res, nil
}

// LoadFrom восстанавливает мир; отсутствующие чанки генерируются по шаблону.
// Возвращает false, если в хранилище нет сохранения этого мира.
func (s *WorldServer) LoadFrom(store WorldStore) (bool, error) {
	raw, found, err := store.LoadMetadata()
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	var meta worldMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return false, fmt.Errorf("метаданные мира: %w", err)
	}
	s.step, s.time = meta.Step, meta.Time
	s.tiles.BeginTick(s.step, s.time)
	if meta.Properties != nil {
		s.properties = meta.Properties
	}
	for _, id := range meta.Protected {
		s.tiles.SetProtected(id, true)
	}
	s.playerStart = meta.PlayerStart

	grid := s.tiles.Grid()
	cx, cy := grid.ChunkCount()
	for y := int32(0); y < cy; y++ {
		for x := int32(0); x < cx; x++ {
			coords := vec.V2(x, y)
			tiles, ok, err := store.LoadChunk(coords)
			if err != nil {
				return false, fmt.Errorf("чанк %v: %w", coords, err)
			}
			if !ok {
				tiles = s.template.ChunkTiles(s.tiles.Registry(), coords)
			}
			grid.LoadChunk(coords, tiles, s.step)
		}
	}

	sectors, err := store.LoadEntitySectors()
	if err != nil {
		return false, fmt.Errorf("сущности: %w", err)
	}
	loaded := 0
	for _, sector := range sortedSectors(sectors) {
		for _, data := range sectors[sector] {
			e, err := s.factory.DiskLoad(data)
			if err != nil {
				s.logger.Warn("⚠️ Сущность не восстановлена: %v", err)
				continue
			}
			if _, err := s.AddEntity(e); err != nil {
				return false, err
			}
			loaded++
		}
	}
	s.syncUniques()
	s.env.Update(s.template, s.time)
	s.logger.Info("✅ Мир %q загружен: шаг %d, %d сущностей", s.name, s.step, loaded)
	return true, nil
}

func sortedSectors[T any](m map[vec.Vec2]T) []vec.Vec2 {
	keys := make([]vec.Vec2, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	return keys
}

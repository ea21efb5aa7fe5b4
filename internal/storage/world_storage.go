package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Типы документов мира
const (
	WorldMetadataDocument = "WorldMetadata"
	EntitySectorDocument  = "EntitySector"
)

// chunkFormat версия бинарной записи чанка
const chunkFormat = 1

// WorldStorage хранилище одного мира в BadgerDB: сжатые zstd чанки тайлов,
// сектора постоянных сущностей и метаданные. Сектора и метаданные хранятся
// версионированными документами.
type WorldStorage struct {
	db         *badger.DB
	dbPath     string
	versioning *Versioning
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
	mutex      sync.RWMutex
	isReady    bool
	logger     *logging.Logger
}

// NewWorldStorage открывает хранилище мира name в dataPath/worlds/name.
// Типы документов мира регистрируются в versioning, если их там ещё нет.
func NewWorldStorage(dataPath, name string, versioning *Versioning) (*WorldStorage, error) {
	dbPath := filepath.Join(dataPath, "worlds", name)
	db, err := OpenBadger(dbPath)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("zstd: %w", err)
	}
	for _, doc := range []string{WorldMetadataDocument, EntitySectorDocument} {
		if _, ok := versioning.Current(doc); !ok {
			versioning.Register(doc, 1)
		}
	}
	return &WorldStorage{
		db:         db,
		dbPath:     dbPath,
		versioning: versioning,
		encoder:    enc,
		decoder:    dec,
		isReady:    true,
		logger:     logging.GetComponentLogger("storage"),
	}, nil
}

// Close закрывает хранилище
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	if !ws.isReady {
		return nil
	}
	ws.isReady = false
	ws.encoder.Close()
	ws.decoder.Close()
	return ws.db.Close()
}

func chunkKey(coords vec.Vec2) []byte {
	return []byte(fmt.Sprintf("chunk:%d:%d", coords.X, coords.Y))
}

const sectorPrefix = "entities:"

func sectorKey(sector vec.Vec2) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", sectorPrefix, sector.X, sector.Y))
}

var metadataKey = []byte("meta")

func (ws *WorldStorage) set(key, value []byte) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	if !ws.isReady {
		return ErrNotReady
	}
	return ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (ws *WorldStorage) get(key []byte) ([]byte, bool, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	if !ws.isReady {
		return nil, false, ErrNotReady
	}
	var data []byte
	err := ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SaveChunk записывает тайлы чанка целиком
func (ws *WorldStorage) SaveChunk(coords vec.Vec2, tiles []tile.Tile) error {
	ds := netelement.NewWriter()
	ds.WriteVarUint(chunkFormat)
	ds.WriteVarUint(uint64(len(tiles)))
	for _, t := range tiles {
		writeDiskTile(ds, t)
	}
	blob := ws.encoder.EncodeAll(ds.Bytes(), nil)
	if err := ws.set(chunkKey(coords), blob); err != nil {
		return fmt.Errorf("ошибка сохранения чанка %v: %w", coords, err)
	}
	return nil
}

// LoadChunk тайлы чанка; false если чанк не сохранялся
func (ws *WorldStorage) LoadChunk(coords vec.Vec2) ([]tile.Tile, bool, error) {
	blob, found, err := ws.get(chunkKey(coords))
	if err != nil || !found {
		return nil, false, err
	}
	raw, err := ws.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, false, fmt.Errorf("чанк %v: %w", coords, err)
	}
	ds := netelement.NewReader(raw)
	if format := ds.ReadVarUint(); format != chunkFormat {
		return nil, false, fmt.Errorf("чанк %v: формат %d не поддерживается", coords, format)
	}
	n := ds.ReadSize()
	tiles := make([]tile.Tile, 0, n)
	for i := 0; i < n && ds.Err() == nil; i++ {
		tiles = append(tiles, readDiskTile(ds))
	}
	if err := ds.Err(); err != nil {
		return nil, false, fmt.Errorf("чанк %v: %w", coords, err)
	}
	return tiles, true, nil
}

// ClearEntitySectors удаляет все сектора сущностей
func (ws *WorldStorage) ClearEntitySectors() error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	if !ws.isReady {
		return ErrNotReady
	}
	return ws.db.DropPrefix([]byte(sectorPrefix))
}

// SaveEntitySector записывает сущности сектора; пустой сектор удаляется
func (ws *WorldStorage) SaveEntitySector(sector vec.Vec2, entities []json.RawMessage) error {
	if len(entities) == 0 {
		ws.mutex.RLock()
		defer ws.mutex.RUnlock()
		if !ws.isReady {
			return ErrNotReady
		}
		return ws.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(sectorKey(sector))
		})
	}
	doc, err := ws.versioning.Make(EntitySectorDocument, entities)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сектора %v: %w", sector, err)
	}
	return ws.set(sectorKey(sector), data)
}

// LoadEntitySectors все сохранённые сектора, приведённые к текущей версии
func (ws *WorldStorage) LoadEntitySectors() (map[vec.Vec2][]json.RawMessage, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	if !ws.isReady {
		return nil, ErrNotReady
	}
	raw := make(map[vec.Vec2][]byte)
	err := ws.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sectorPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var sector vec.Vec2
			key := strings.TrimPrefix(string(item.Key()), sectorPrefix)
			if _, err := fmt.Sscanf(key, "%d:%d", &sector.X, &sector.Y); err != nil {
				ws.logger.Warn("⚠️ Некорректный ключ сектора %q: %v", item.Key(), err)
				continue
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			raw[sector] = data
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения секторов: %w", err)
	}

	out := make(map[vec.Vec2][]json.RawMessage, len(raw))
	for sector, data := range raw {
		var doc VersionedJSON
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("сектор %v: %w", sector, err)
		}
		var entities []json.RawMessage
		if err := ws.versioning.LoadInto(doc, &entities); err != nil {
			return nil, fmt.Errorf("сектор %v: %w", sector, err)
		}
		out[sector] = entities
	}
	return out, nil
}

// SaveMetadata метаданные мира документом текущей версии
func (ws *WorldStorage) SaveMetadata(data json.RawMessage) error {
	doc, err := ws.versioning.Make(WorldMetadataDocument, data)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return ws.set(metadataKey, encoded)
}

// LoadMetadata метаданные мира; миграция, которая не удалась, оставляет запись как есть
func (ws *WorldStorage) LoadMetadata() (json.RawMessage, bool, error) {
	data, found, err := ws.get(metadataKey)
	if err != nil || !found {
		return nil, false, err
	}
	var doc VersionedJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("метаданные мира: %w", err)
	}
	content, err := ws.versioning.Load(doc)
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

// writeDiskTile полная запись тайла; в отличие от сетевой не нормализует жидкость
func writeDiskTile(ds *netelement.DataStream, t tile.Tile) {
	for _, l := range []tile.LayerState{t.Foreground, t.Background} {
		ds.WriteUint16(uint16(l.Material))
		ds.WriteUint16(uint16(l.Mod))
		ds.WriteUint8(l.HueShift)
		ds.WriteUint8(l.ColorVariant)
		ds.WriteUint8(l.ModHueShift)
	}
	ds.WriteUint8(uint8(t.Liquid.Liquid))
	ds.WriteFloat32(t.Liquid.Level)
	ds.WriteFloat32(t.Liquid.Pressure)
	ds.WriteBool(t.Liquid.Source)
	ds.WriteUint16(uint16(t.DungeonID))
	ds.WriteUint8(uint8(t.Collision))
	ds.WriteFloat32(t.GravityMultiplier)
}

func readDiskTile(ds *netelement.DataStream) tile.Tile {
	var t tile.Tile
	for _, l := range []*tile.LayerState{&t.Foreground, &t.Background} {
		l.Material = tile.MaterialID(ds.ReadUint16())
		l.Mod = tile.ModID(ds.ReadUint16())
		l.HueShift = ds.ReadUint8()
		l.ColorVariant = ds.ReadUint8()
		l.ModHueShift = ds.ReadUint8()
	}
	t.Liquid.Liquid = tile.LiquidID(ds.ReadUint8())
	t.Liquid.Level = ds.ReadFloat32()
	t.Liquid.Pressure = ds.ReadFloat32()
	t.Liquid.Source = ds.ReadBool()
	t.DungeonID = tile.DungeonID(ds.ReadUint16())
	t.Collision = tile.CollisionKind(ds.ReadUint8())
	t.GravityMultiplier = ds.ReadFloat32()
	return t
}

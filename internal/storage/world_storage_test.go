package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/server"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

var _ server.WorldStore = (*WorldStorage)(nil)

func setupWorldStorage(t *testing.T) (*WorldStorage, *Versioning, string) {
	t.Helper()
	dir := t.TempDir()
	versioning := NewVersioning(nil)
	ws, err := NewWorldStorage(dir, "test", versioning)
	require.NoError(t, err, "хранилище мира должно открыться")
	t.Cleanup(func() { ws.Close() })
	return ws, versioning, dir
}

func TestSaveAndLoadChunk(t *testing.T) {
	ws, _, _ := setupWorldStorage(t)

	tiles := make([]tile.Tile, 4)
	for i := range tiles {
		tiles[i] = tile.EmptyTile()
	}
	tiles[1].Foreground.Material = 3
	tiles[1].Foreground.HueShift = 40
	tiles[2].Liquid = tile.LiquidState{Liquid: 1, Level: 1.75, Pressure: 2.5, Source: false}
	tiles[3].DungeonID = 42
	tiles[3].Collision = tile.CollisionKind(2)

	coords := vec.V2(10, -20)
	require.NoError(t, ws.SaveChunk(coords, tiles))

	loaded, found, err := ws.LoadChunk(coords)
	require.NoError(t, err)
	require.True(t, found, "чанк должен быть найден")
	assert.Equal(t, tiles, loaded, "запись чанка не теряет данных жидкости")

	_, found, err = ws.LoadChunk(vec.V2(0, 0))
	require.NoError(t, err)
	assert.False(t, found, "несохранённый чанк не найден")
}

func TestEntitySectors(t *testing.T) {
	ws, _, _ := setupWorldStorage(t)

	a := []json.RawMessage{json.RawMessage(`{"type":"object","name":"lever"}`)}
	b := []json.RawMessage{json.RawMessage(`{"type":"plant"}`), json.RawMessage(`{"type":"npc"}`)}
	require.NoError(t, ws.SaveEntitySector(vec.V2(0, 0), a))
	require.NoError(t, ws.SaveEntitySector(vec.V2(-1, 3), b))

	sectors, err := ws.LoadEntitySectors()
	require.NoError(t, err)
	require.Len(t, sectors, 2)
	assert.JSONEq(t, string(a[0]), string(sectors[vec.V2(0, 0)][0]))
	assert.Len(t, sectors[vec.V2(-1, 3)], 2)

	require.NoError(t, ws.SaveEntitySector(vec.V2(0, 0), nil))
	sectors, err = ws.LoadEntitySectors()
	require.NoError(t, err)
	assert.Len(t, sectors, 1, "пустой сектор удаляется")

	require.NoError(t, ws.ClearEntitySectors())
	sectors, err = ws.LoadEntitySectors()
	require.NoError(t, err)
	assert.Empty(t, sectors)
}

func TestMetadataMigration(t *testing.T) {
	ws, versioning, dir := setupWorldStorage(t)

	require.NoError(t, ws.SaveMetadata(json.RawMessage(`{"step": 5}`)))
	content, found, err := ws.LoadMetadata()
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"step": 5}`, string(content))
	require.NoError(t, ws.Close())

	// Новая версия метаданных добавляет поле time
	versioning.Register(WorldMetadataDocument, 2)
	versioning.AddMigration(WorldMetadataDocument, 1, func(c interface{}) (interface{}, error) {
		m := c.(map[string]interface{})
		m["time"] = 0.0
		return m, nil
	})
	reopened, err := NewWorldStorage(dir, "test", versioning)
	require.NoError(t, err)
	defer reopened.Close()

	content, found, err = reopened.LoadMetadata()
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"step": 5, "time": 0}`, string(content))
}

func TestClosedWorldStorage(t *testing.T) {
	ws, _, _ := setupWorldStorage(t)
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close(), "повторное закрытие безопасно")

	_, _, err := ws.LoadChunk(vec.V2(0, 0))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, ws.SaveMetadata(json.RawMessage(`{}`)), ErrNotReady)
}

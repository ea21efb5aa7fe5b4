package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/dungeon"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/tile"
)

const shrineDungeon = `{
  "name": "shrine",
  "anchor": ["hall"],
  "protected": true,
  "breathable": false,
  "palette": {
    "#": {"brush": [["front", "brick"], ["back", "brick"]]},
    ".": {"brush": [["clear"], ["back", "brick"]]},
    "L": {"brush": [["clear"], ["object", "lever"], ["wire", {"group": "door"}]]},
    "P": {"brush": [["clear"], ["object", "lamp"], ["wire", {"group": "door", "input": true}]]},
    "I": {"brush": [["clear"], ["item", {"name": "torch", "count": 3}]]},
    "S": {"brush": [["clear"], ["playerstart"]]}
  },
  "parts": [
    {"name": "hall", "map": [
      "########",
      "#L.S.IP#",
      "########"
    ]}
  ]
}`

func newDungeonAssets(t *testing.T) *assets.Assets {
	t.Helper()
	a, err := assets.New(assets.DefaultOptions(), assets.NewMemorySource("mem", map[string][]byte{
		"/objects/lever.object": []byte(`{"objectName": "lever", "outputNodes": [{"X": 0, "Y": 0}]}`),
		"/objects/lamp.object":  []byte(`{"objectName": "lamp", "inputNodes": [{"X": 0, "Y": 0}]}`),
	}))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestPlaceDungeon(t *testing.T) {
	s := newTestServer(t, Options{Assets: newDungeonAssets(t)})
	def, err := dungeon.ParseDefinition([]byte(shrineDungeon), nil, "/dungeons")
	require.NoError(t, err)

	origin := vec.V2(20, 40)
	res, err := s.PlaceDungeon(def, origin, 1, 12)
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.Zero(t, res.Stats.Failed)

	brick, _ := s.Registry().MaterialByName("brick")
	assert.Equal(t, brick, s.Tile(origin).Foreground.Material)
	assert.Equal(t, tile.DungeonID(12), s.Tile(origin).DungeonID)
	assert.True(t, s.Tiles().IsProtected(12))
	assert.Equal(t, false, s.Property("dungeon.12.breathable"))
	assert.Equal(t, vec.V2F(23.5, 41.5), s.PlayerStart())

	lever, _, ok := s.wireEntityAt(vec.V2(21, 41))
	require.True(t, ok, "рычаг стоит на месте кисти")
	conns := lever.ConnectionsForNode(entity.WireNode{Direction: entity.WireOutput, Index: 0})
	assert.Equal(t, []entity.WireConnection{{EntityLocation: vec.V2(26, 41), NodeIndex: 0}}, conns)

	drops := s.EntityQuery(vec.NewRectF(24, 41, 26, 43), func(e entity.Entity) bool {
		return e.EntityType() == entity.EntityTypeItemDrop
	})
	require.Len(t, drops, 1)
	drop, _ := entity.As[*entity.ItemDrop](drops[0])
	assert.Equal(t, uint64(3), drop.Item().Count)
}

func TestPlaceDungeonProtectsFromClients(t *testing.T) {
	s := newTestServer(t, Options{Assets: newDungeonAssets(t)})
	def, err := dungeon.ParseDefinition([]byte(shrineDungeon), nil, "/dungeons")
	require.NoError(t, err)
	_, err = s.PlaceDungeon(def, vec.V2(20, 40), 1, 12)
	require.NoError(t, err)

	failed := s.tiles.ModifyTiles(tile.ModificationList{
		{Pos: vec.V2(22, 41), Mod: tile.PlaceMaterial{Layer: tile.Foreground, Material: 1}},
	}, false, s.modifyContext(false))
	assert.Len(t, failed, 1, "клетки защищённого подземелья не меняются")
}

func TestPlaceDungeonMissingVehicle(t *testing.T) {
	s := newTestServer(t, Options{})
	part, err := dungeon.ParseTileMap("dock", []string{"V"}, map[rune]dungeon.TileDef{
		'V': {Brushes: []dungeon.Brush{dungeon.ClearBrush{}, dungeon.VehicleBrush{Name: "boat"}}},
	})
	require.NoError(t, err)
	def := &dungeon.Definition{Name: "dock", Anchors: []string{"dock"}, Parts: map[string]*dungeon.Part{"dock": part}}

	res, err := s.PlaceDungeon(def, vec.V2(5, 5), 0, 3)
	require.NoError(t, err, "ошибка сущности не прерывает запись тайлов")
	assert.Equal(t, 1, res.Stats.Failed)
}

package server

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/template"
	"github.com/annel0/tileverse/internal/world/tile"
)

const testDt = 1.0 / 60

var testRules = netelement.CurrentRules

func newTestServer(t *testing.T, opts Options) *WorldServer {
	t.Helper()
	if opts.Template == nil {
		opts.Template = template.Default(7, 256, 128)
	}
	s, err := NewWorldServer(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// connect подключает клиента с окном видимости 64x64 и прогоняет один тик
func connect(t *testing.T, s *WorldServer, id entity.ConnectionID) []protocol.Packet {
	t.Helper()
	return connectAs(t, s, id, false)
}

func connectAs(t *testing.T, s *WorldServer, id entity.ConnectionID, privileged bool) []protocol.Packet {
	t.Helper()
	require.NoError(t, s.AddClient(id, &protocol.ClientConnect{
		PlayerName: fmt.Sprintf("player%d", id),
		PlayerUUID: uuid.New(),
	}, testRules, privileged))
	send(t, s, id, &protocol.WorldClientStateUpdate{Window: vec.NewRectI(0, 0, 64, 64)})
	s.Update(testDt)
	return s.GetOutgoingPackets(id)
}

func send(t *testing.T, s *WorldServer, id entity.ConnectionID, packets ...protocol.Packet) {
	t.Helper()
	require.NoError(t, s.HandleIncomingPackets(id, packets))
}

func ofType[T protocol.Packet](packets []protocol.Packet) []T {
	var out []T
	for _, p := range packets {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func dirt(t *testing.T, s *WorldServer) tile.MaterialID {
	t.Helper()
	id, ok := s.Tiles().Registry().MaterialByName("dirt")
	require.True(t, ok)
	return id
}

func placeDirt(t *testing.T, s *WorldServer, pos vec.Vec2) tile.ModificationList {
	return tile.ModificationList{{Pos: pos, Mod: tile.PlaceMaterial{Layer: tile.Foreground, Material: dirt(t, s)}}}
}

// clientDrop выпавший предмет, которым владеет клиент conn
func clientDrop(t *testing.T, s *WorldServer, conn entity.ConnectionID, pos vec.Vec2F) entity.EntityID {
	t.Helper()
	id, _ := entity.ClientIDRange(conn)
	drop := entity.NewItemDrop(entity.ItemDropConfig{Item: entity.ItemDescriptor{Name: "torch", Count: 1}})
	drop.SetPosition(pos)
	send(t, s, conn, &protocol.EntityCreate{
		EntityType: drop.EntityType(),
		StoreData:  drop.NetStore(testRules),
		EntityID:   id,
	})
	require.NotNil(t, s.Entities().Get(id))
	return id
}

func TestWorldStartAndFirstTiles(t *testing.T) {
	s := newTestServer(t, Options{Protected: []tile.DungeonID{100}})
	out := connect(t, s, 1)

	starts := ofType[*protocol.WorldStart](out)
	require.Len(t, starts, 1)
	assert.Equal(t, uint16(1), starts[0].ClientID)
	assert.Equal(t, []tile.DungeonID{100}, starts[0].ProtectedDungeonIDs)
	assert.NotEmpty(t, starts[0].TemplateData)
	assert.NotEmpty(t, starts[0].SkyData)

	assert.NotEmpty(t, ofType[*protocol.TileArrayUpdate](out), "первое появление чанков приходит массивами")
	steps := ofType[*protocol.StepUpdate](out)
	require.Len(t, steps, 1)
	assert.Equal(t, s.Step(), steps[0].Step)

	assert.Error(t, s.AddClient(1, nil, testRules, false), "повторное подключение")
	assert.Error(t, s.AddClient(entity.ServerConnectionID, nil, testRules, false))
}

func TestPlaceThenBreakReplicates(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)
	pos := vec.V2(10, 20)

	send(t, s, 1, &protocol.ModifyTileList{Modifications: placeDirt(t, s, pos)})
	s.Update(testDt)
	out := s.GetOutgoingPackets(1)
	assert.Empty(t, ofType[*protocol.TileModificationFailure](out))
	var placed bool
	for _, u := range ofType[*protocol.TileUpdate](out) {
		if u.Pos == pos {
			placed = true
			assert.Equal(t, dirt(t, s), u.Tile.Foreground.Material)
		}
	}
	assert.True(t, placed, "клиент видит установленный тайл")

	send(t, s, 1, &protocol.DamageTileGroup{
		Positions:      []vec.Vec2{pos},
		Layer:          tile.Foreground,
		SourcePosition: vec.V2F(10, 22),
		Damage:         tile.Damage{Type: tile.DamagePlantish, Amount: 10},
	})
	s.Update(testDt)
	out = s.GetOutgoingPackets(1)

	damage := ofType[*protocol.TileDamageUpdate](out)
	require.Len(t, damage, 1)
	assert.Equal(t, pos, damage[0].Pos)
	assert.True(t, damage[0].Status.Broken)
	assert.Equal(t, tile.EmptyMaterial, s.Tiles().Tile(pos).Foreground.Material)

	var dropCreated bool
	for _, c := range ofType[*protocol.EntityCreate](out) {
		if c.EntityType == entity.EntityTypeItemDrop {
			dropCreated = true
		}
	}
	assert.True(t, dropCreated, "разрушенный тайл роняет предмет")
}

func TestProtectedDungeonRejectsOnlyRequester(t *testing.T) {
	s := newTestServer(t, Options{Protected: []tile.DungeonID{100}})
	connect(t, s, 1)
	connect(t, s, 2)

	pos := vec.V2(30, 40)
	protected := tile.EmptyTile()
	protected.DungeonID = 100
	s.Tiles().SetTileDirect(pos, protected)

	list := placeDirt(t, s, pos)
	send(t, s, 1, &protocol.ModifyTileList{Modifications: list})
	s.Update(testDt)

	failures := ofType[*protocol.TileModificationFailure](s.GetOutgoingPackets(1))
	require.Len(t, failures, 1)
	assert.Equal(t, list, failures[0].Modifications)
	assert.Empty(t, ofType[*protocol.TileModificationFailure](s.GetOutgoingPackets(2)))
	assert.Equal(t, tile.EmptyMaterial, s.Tiles().Tile(pos).Foreground.Material)
}

// protectedCell клетка (30,40) подземелья 100 с фоном, к которому можно пристроиться
func protectedCell(t *testing.T, s *WorldServer) vec.Vec2 {
	t.Helper()
	pos := vec.V2(30, 40)
	cell := tile.EmptyTile()
	cell.DungeonID = 100
	cell.Background.Material = dirt(t, s)
	s.Tiles().SetTileDirect(pos, cell)
	return pos
}

func TestPrivilegedClientModifiesProtectedDungeon(t *testing.T) {
	s := newTestServer(t, Options{Protected: []tile.DungeonID{100}})
	connectAs(t, s, 1, true)
	connect(t, s, 2)
	pos := protectedCell(t, s)

	send(t, s, 2, &protocol.ModifyTileList{Modifications: placeDirt(t, s, pos)})
	s.Update(testDt)
	require.Len(t, ofType[*protocol.TileModificationFailure](s.GetOutgoingPackets(2)), 1)

	send(t, s, 1, &protocol.ModifyTileList{Modifications: placeDirt(t, s, pos)})
	s.Update(testDt)
	assert.Empty(t, ofType[*protocol.TileModificationFailure](s.GetOutgoingPackets(1)))
	assert.Equal(t, dirt(t, s), s.Tiles().Tile(pos).Foreground.Material, "администратор меняет защищённую клетку")
	assert.True(t, s.Tiles().IsProtected(100), "защита подземелья остаётся")
}

func TestPrivilegedStagehandModifiesProtectedDungeon(t *testing.T) {
	s := newTestServer(t, Options{Protected: []tile.DungeonID{100}})
	pos := protectedCell(t, s)

	plain := entity.NewStagehand(entity.StagehandConfig{Type: "marker"})
	plainID, err := s.AddEntity(plain)
	require.NoError(t, err)
	assert.Len(t, s.ModifyTiles(placeDirt(t, s, pos), false, plainID), 1, "обычный стейджхенд не проходит защиту")
	assert.Len(t, s.ModifyTiles(placeDirt(t, s, pos), false, entity.NullEntityID), 1)

	director := entity.NewStagehand(entity.StagehandConfig{Type: "director", Privileged: true})
	directorID, err := s.AddEntity(director)
	require.NoError(t, err)
	assert.Empty(t, s.ModifyTiles(placeDirt(t, s, pos), false, directorID))
	assert.Equal(t, dirt(t, s), s.Tiles().Tile(pos).Foreground.Material)
}

func TestContainerInteraction(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)

	chest := entity.NewObject(nil, entity.ObjectConfig{Name: "chest", Container: true})
	chest.SetPosition(vec.V2F(40, 20))
	chestID, err := s.AddEntity(chest)
	require.NoError(t, err)

	player, _ := entity.ClientIDRange(1)
	reqID := uuid.New()
	send(t, s, 1, &protocol.EntityInteract{
		Request:   entity.InteractRequest{SourceID: player, TargetID: chestID},
		RequestID: reqID,
	})
	s.Update(testDt)

	results := ofType[*protocol.EntityInteractResult](s.GetOutgoingPackets(1))
	require.Len(t, results, 1)
	assert.Equal(t, entity.OpenContainer(chestID), results[0].Action)
	assert.Equal(t, reqID, results[0].RequestID)
	assert.Equal(t, player, results[0].SourceEntityID)

	send(t, s, 1, &protocol.EntityInteract{Request: entity.InteractRequest{SourceID: player, TargetID: 9999}, RequestID: reqID})
	results = ofType[*protocol.EntityInteractResult](s.GetOutgoingPackets(1))
	require.Len(t, results, 1)
	assert.True(t, results[0].Action.IsNone(), "несуществующая цель")
}

func TestForwardedInteraction(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)
	connect(t, s, 2)
	target := clientDrop(t, s, 1, vec.V2F(20, 20))
	source, _ := entity.ClientIDRange(2)

	reqID := uuid.New()
	send(t, s, 2, &protocol.EntityInteract{
		Request:   entity.InteractRequest{SourceID: source, TargetID: target},
		RequestID: reqID,
	})
	forwarded := ofType[*protocol.EntityInteract](s.GetOutgoingPackets(1))
	require.Len(t, forwarded, 1)
	assert.Equal(t, reqID, forwarded[0].RequestID)

	send(t, s, 1, &protocol.EntityInteractResult{Action: entity.OpenContainer(target), RequestID: reqID})
	results := ofType[*protocol.EntityInteractResult](s.GetOutgoingPackets(2))
	require.Len(t, results, 1)
	assert.Equal(t, source, results[0].SourceEntityID)
	assert.Equal(t, entity.OpenContainer(target), results[0].Action)
}

func TestClientEntityLifecycle(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)
	connect(t, s, 2)

	id := clientDrop(t, s, 1, vec.V2F(20, 20))
	assert.Equal(t, entity.ModeSlave, s.Entities().Get(id).EntityMode())
	s.Update(testDt)

	creates := ofType[*protocol.EntityCreate](s.GetOutgoingPackets(2))
	require.Len(t, creates, 1)
	assert.Equal(t, id, creates[0].EntityID)
	assert.Empty(t, ofType[*protocol.EntityCreate](s.GetOutgoingPackets(1)), "владелец не получает свою сущность")

	err := s.HandleIncomingPackets(2, []protocol.Packet{&protocol.EntityUpdateSet{
		ForConnection: 2,
		Deltas:        map[entity.EntityID]protocol.EntityDelta{id: {Version: 5}},
	}})
	assert.Error(t, err, "дельта чужой сущности нарушает протокол")

	send(t, s, 2, &protocol.EntityResyncRequest{EntityID: id})
	s.Update(testDt)
	creates = ofType[*protocol.EntityCreate](s.GetOutgoingPackets(2))
	require.Len(t, creates, 1, "после запроса ресинхронизации сущность создаётся заново")

	send(t, s, 1, &protocol.EntityDestroy{EntityID: id})
	assert.Nil(t, s.Entities().Get(id))
	s.Update(testDt)
	destroys := ofType[*protocol.EntityDestroy](s.GetOutgoingPackets(2))
	require.Len(t, destroys, 1)
	assert.Equal(t, id, destroys[0].EntityID)
	assert.False(t, destroys[0].Death)
}

func TestRemoveClientDropsEntities(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)
	connect(t, s, 2)
	id := clientDrop(t, s, 1, vec.V2F(20, 20))
	s.Update(testDt)
	s.GetOutgoingPackets(2)

	s.RemoveClient(1)
	assert.Nil(t, s.Entities().Get(id))
	s.Update(testDt)
	destroys := ofType[*protocol.EntityDestroy](s.GetOutgoingPackets(2))
	require.Len(t, destroys, 1)
	assert.Equal(t, id, destroys[0].EntityID)
	assert.Equal(t, []entity.ConnectionID{2}, s.ClientIDs())
}

func TestMessageForwardingAndResponse(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)
	connect(t, s, 2)
	target := clientDrop(t, s, 1, vec.V2F(20, 20))

	msgID := uuid.New()
	send(t, s, 2, &protocol.EntityMessage{Target: entity.TargetID(target), Message: "ping", UUID: msgID})
	forwarded := ofType[*protocol.EntityMessage](s.GetOutgoingPackets(1))
	require.Len(t, forwarded, 1)
	assert.Equal(t, uint16(2), forwarded[0].FromConnection)
	assert.Equal(t, msgID, forwarded[0].UUID)

	// ответ не от владельца игнорируется
	send(t, s, 2, &protocol.EntityMessageResponse{UUID: msgID, Result: json.RawMessage(`"fake"`)})
	assert.Empty(t, ofType[*protocol.EntityMessageResponse](s.GetOutgoingPackets(2)))

	send(t, s, 1, &protocol.EntityMessageResponse{UUID: msgID, Result: json.RawMessage(`"pong"`)})
	responses := ofType[*protocol.EntityMessageResponse](s.GetOutgoingPackets(2))
	require.Len(t, responses, 1)
	assert.JSONEq(t, `"pong"`, string(responses[0].Result))
	assert.False(t, responses[0].Failed())

	send(t, s, 2, &protocol.EntityMessage{Target: entity.TargetUnique("nobody"), Message: "ping", UUID: uuid.New()})
	responses = ofType[*protocol.EntityMessageResponse](s.GetOutgoingPackets(2))
	require.Len(t, responses, 1)
	assert.Equal(t, entity.ErrEntityNotFound.Error(), responses[0].Error)
}

func TestMessageExpiry(t *testing.T) {
	s := newTestServer(t, Options{MessageTimeout: 100 * time.Millisecond})
	connect(t, s, 1)
	connect(t, s, 2)
	target := clientDrop(t, s, 1, vec.V2F(20, 20))

	msgID := uuid.New()
	send(t, s, 2, &protocol.EntityMessage{Target: entity.TargetID(target), Message: "slow", UUID: msgID})
	for i := 0; i < 10; i++ {
		s.Update(testDt)
	}
	responses := ofType[*protocol.EntityMessageResponse](s.GetOutgoingPackets(2))
	require.Len(t, responses, 1)
	assert.Equal(t, msgID, responses[0].UUID)
	assert.Equal(t, entity.ErrMessageExpired.Error(), responses[0].Error)
	assert.Zero(t, s.router.len())
}

func TestServerMessageToClientEntity(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)
	target := clientDrop(t, s, 1, vec.V2F(20, 20))

	promise := s.SendEntityMessage(entity.NullEntityID, entity.TargetID(target), "hello", []interface{}{"x"})
	assert.False(t, promise.Finished())
	forwarded := ofType[*protocol.EntityMessage](s.GetOutgoingPackets(1))
	require.Len(t, forwarded, 1)
	assert.Equal(t, uint16(entity.ServerConnectionID), forwarded[0].FromConnection)

	send(t, s, 1, &protocol.EntityMessageResponse{UUID: forwarded[0].UUID, Result: json.RawMessage(`{"ok":true}`)})
	require.True(t, promise.Succeeded())
	res, err := promise.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true}, res)

	promise = s.SendEntityMessage(entity.NullEntityID, entity.TargetID(target), "bye", nil)
	s.RemoveClient(1)
	assert.True(t, promise.Finished())
	assert.False(t, promise.Succeeded(), "владелец отключился")
}

func TestFindUniqueAndChat(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)
	connect(t, s, 2)

	chest := entity.NewObject(nil, entity.ObjectConfig{Name: "chest", Container: true})
	chest.SetPosition(vec.V2F(40, 20))
	chest.SetUniqueID("chest-1")
	chestID, err := s.AddEntity(chest)
	require.NoError(t, err)

	send(t, s, 1, &protocol.FindUniqueEntity{UniqueID: "chest-1"}, &protocol.ChatSend{Text: "привет", Mode: protocol.ChatSendBroadcast})
	out := s.GetOutgoingPackets(1)
	found := ofType[*protocol.FindUniqueEntityResponse](out)
	require.Len(t, found, 1)
	assert.True(t, found[0].Found)
	assert.Equal(t, chestID, found[0].EntityID)

	for _, id := range []entity.ConnectionID{1, 2} {
		var chat []*protocol.ChatReceive
		if id == 1 {
			chat = ofType[*protocol.ChatReceive](out)
		} else {
			chat = ofType[*protocol.ChatReceive](s.GetOutgoingPackets(id))
		}
		require.Len(t, chat, 1, "клиент %d", id)
		assert.Equal(t, protocol.ChatBroadcast, chat[0].Mode)
		assert.Equal(t, "player1", chat[0].FromNick)
	}
}

func TestWorldProperties(t *testing.T) {
	s := newTestServer(t, Options{})
	connect(t, s, 1)

	s.SetProperty("bossDefeated", true)
	s.Update(testDt)
	updates := ofType[*protocol.UpdateWorldProperties](s.GetOutgoingPackets(1))
	require.Len(t, updates, 1)
	assert.JSONEq(t, `{"bossDefeated":true}`, string(updates[0].Updated))

	s.Update(testDt)
	assert.Empty(t, ofType[*protocol.UpdateWorldProperties](s.GetOutgoingPackets(1)), "без изменений ничего не рассылается")
}

// memoryStore хранилище мира в памяти
type memoryStore struct {
	chunks  map[vec.Vec2][]tile.Tile
	sectors map[vec.Vec2][]json.RawMessage
	meta    json.RawMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{chunks: make(map[vec.Vec2][]tile.Tile), sectors: make(map[vec.Vec2][]json.RawMessage)}
}

func (m *memoryStore) SaveChunk(coords vec.Vec2, tiles []tile.Tile) error {
	m.chunks[coords] = append([]tile.Tile(nil), tiles...)
	return nil
}

func (m *memoryStore) LoadChunk(coords vec.Vec2) ([]tile.Tile, bool, error) {
	t, ok := m.chunks[coords]
	return t, ok, nil
}

func (m *memoryStore) ClearEntitySectors() error {
	m.sectors = make(map[vec.Vec2][]json.RawMessage)
	return nil
}

func (m *memoryStore) SaveEntitySector(sector vec.Vec2, entities []json.RawMessage) error {
	m.sectors[sector] = entities
	return nil
}

func (m *memoryStore) LoadEntitySectors() (map[vec.Vec2][]json.RawMessage, error) {
	return m.sectors, nil
}

func (m *memoryStore) SaveMetadata(data json.RawMessage) error {
	m.meta = data
	return nil
}

func (m *memoryStore) LoadMetadata() (json.RawMessage, bool, error) {
	return m.meta, m.meta != nil, nil
}

func TestSaveAndLoad(t *testing.T) {
	store := newMemoryStore()
	pos := vec.V2(12, 30)

	s := newTestServer(t, Options{Name: "alpha", Protected: []tile.DungeonID{7}})
	solid := tile.EmptyTile()
	solid.Foreground.Material = dirt(t, s)
	s.Tiles().SetTileDirect(pos, solid)
	s.SetProperty("bossDefeated", true)

	chest := entity.NewObject(nil, entity.ObjectConfig{Name: "chest", Container: true})
	chest.SetPosition(vec.V2F(40, 20))
	_, err := s.AddEntity(chest)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		s.Update(testDt)
	}

	res, err := s.SaveTo(store)
	require.NoError(t, err)
	assert.Greater(t, res.Chunks, 0)
	assert.Equal(t, 1, res.Entities)

	empty := newTestServer(t, Options{Name: "beta"})
	found, err := empty.LoadFrom(newMemoryStore())
	require.NoError(t, err)
	assert.False(t, found, "пустое хранилище")

	restored := newTestServer(t, Options{Name: "alpha"})
	found, err = restored.LoadFrom(store)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, s.Step(), restored.Step())
	assert.Equal(t, dirt(t, s), restored.Tiles().Tile(pos).Foreground.Material)
	assert.Equal(t, true, restored.Property("bossDefeated"))
	assert.Equal(t, []tile.DungeonID{7}, restored.Tiles().ProtectedIDs())

	entities := restored.Entities().Entities()
	require.Len(t, entities, 1)
	assert.Equal(t, entity.EntityTypeObject, entities[0].EntityType())
	assert.True(t, entities[0].EntityMode().IsMaster())
}

func TestEntitySector(t *testing.T) {
	assert.Equal(t, vec.V2(0, 0), EntitySector(vec.V2F(10, 63.9)))
	assert.Equal(t, vec.V2(1, 2), EntitySector(vec.V2F(64, 130)))
	assert.Equal(t, vec.V2(-1, 0), EntitySector(vec.V2F(-0.5, 1)))
}

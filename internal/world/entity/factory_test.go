package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

var rules = netelement.CurrentRules

func netCopy(t *testing.T, f *Factory, e Entity) Entity {
	t.Helper()
	c, err := f.NetLoad(e.EntityType(), e.NetStore(rules), rules)
	require.NoError(t, err)
	assert.Equal(t, e.EntityType(), c.EntityType())
	return c
}

func diskCopy(t *testing.T, f *Factory, e Entity) Entity {
	t.Helper()
	data, err := f.DiskStore(e)
	require.NoError(t, err)
	c, err := f.DiskLoad(data)
	require.NoError(t, err)
	assert.Equal(t, e.EntityType(), c.EntityType())
	return c
}

func TestFactoryUnknownType(t *testing.T) {
	f := NewFactory(Deps{})
	_, err := f.NetLoad(EntityType(200), nil, rules)
	assert.ErrorIs(t, err, ErrUnknownEntityType)

	data, err := json.Marshal(DiskEntry{Type: EntityTypeProjectile, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = f.DiskLoad(data)
	assert.ErrorIs(t, err, ErrUnknownEntityType, "снаряды не сохраняются")

	_, err = f.DiskStore(NewProjectile(nil, ProjectileConfig{}))
	assert.Error(t, err)
}

func TestEntityTypeNames(t *testing.T) {
	for _, et := range []EntityType{
		EntityTypePlant, EntityTypeObject, EntityTypeVehicle, EntityTypeItemDrop, EntityTypePlantDrop,
		EntityTypeProjectile, EntityTypeStagehand, EntityTypeMonster, EntityTypeNpc, EntityTypePlayer,
	} {
		parsed, err := ParseEntityType(et.String())
		require.NoError(t, err)
		assert.Equal(t, et, parsed)
	}
	_, err := ParseEntityType("dragon")
	assert.Error(t, err)
}

func TestObjectRoundTrip(t *testing.T) {
	f := NewFactory(Deps{})
	w := newTestWorld(t)
	o := NewObject(nil, ObjectConfig{
		Name:        "switch",
		Direction:   -1,
		Health:      20,
		InputNodes:  []vec.Vec2{{X: 0, Y: 0}},
		OutputNodes: []vec.Vec2{{X: 1, Y: 0}},
		UniqueID:    "gate-switch",
	})
	o.SetPosition(vec.V2F(40, 12))
	w.add(t, o)
	conn := WireConnection{EntityLocation: vec.V2(50, 12), NodeIndex: 0}
	o.AddNodeConnection(WireNode{Direction: WireOutput, Index: 0}, conn)
	o.SetOutputLevel(0, true)

	slave := netCopy(t, f, o).(*Object)
	assert.Equal(t, -1, slave.Direction())
	assert.Equal(t, "gate-switch", slave.UniqueID())
	assert.Equal(t, vec.V2F(40, 12), slave.Position())
	assert.True(t, slave.NodeState(WireNode{Direction: WireOutput, Index: 0}))
	assert.Equal(t, []WireConnection{conn}, slave.ConnectionsForNode(WireNode{Direction: WireOutput, Index: 0}))

	o.ApplyDamage(DamageRequest{Kind: DamageNormal, Damage: 5})
	loaded := diskCopy(t, f, o).(*Object)
	assert.True(t, loaded.Persistent())
	assert.Equal(t, -1, loaded.Direction())
	assert.Equal(t, vec.V2F(40, 12), loaded.Position())
	assert.InDelta(t, 15, loaded.health.Get(), 1e-9)
	assert.True(t, loaded.NodeState(WireNode{Direction: WireOutput, Index: 0}))
	assert.Equal(t, []WireConnection{conn}, loaded.ConnectionsForNode(WireNode{Direction: WireOutput, Index: 0}))
}

func TestNetDeltaReachesSlave(t *testing.T) {
	f := NewFactory(Deps{})
	w := newTestWorld(t)
	p := NewPlant(PlantConfig{Name: "corn", Health: 8, Stages: []PlantStage{{Name: "sprout", Duration: 1}, {Name: "ripe"}}})
	p.SetPosition(vec.V2F(10, 1))
	w.add(t, p)

	slave := netCopy(t, f, p).(*Plant)
	slave.Init(newTestWorld(t), p.EntityID(), ModeSlave)
	_, known := p.WriteNetState(0, rules)
	p.IncrementNetVersion()

	w.run(1.1)
	require.Equal(t, 1, p.Stage())
	p.ApplyTileDamage(tile.Damage{Type: tile.DamagePlantish, Amount: 3}, vec.V2F(8, 1))

	delta, version := p.WriteNetState(known, rules)
	require.NotEmpty(t, delta)
	require.NoError(t, slave.ReadNetState(delta, version, 0, rules))
	assert.Equal(t, 1, slave.Stage())
	assert.Equal(t, "ripe", slave.StageName())
	assert.InDelta(t, 5, slave.health.Get(), 1e-9)
}

func TestActorRoundTrips(t *testing.T) {
	f := NewFactory(Deps{})
	w := newTestWorld(t)

	player := NewPlayer(nil, PlayerConfig{ActorConfig: ActorConfig{Name: "Ada", Persistent: true}, Account: "ada"})
	player.SetPosition(vec.V2F(30, 20))
	w.add(t, player)
	player.SetStatusText("афк")
	player.ApplyDamage(DamageRequest{Kind: DamageIgnoresDef, Damage: 30})

	p := netCopy(t, f, player).(*Player)
	assert.Equal(t, "Ada", p.Name())
	assert.Equal(t, "ada", p.Account())
	assert.Equal(t, TeamFriendly, p.Team().Type)

	p = diskCopy(t, f, player).(*Player)
	assert.Equal(t, "афк", p.StatusText())
	assert.InDelta(t, 70, p.StatusController().Resource("health"), 1e-9)
	assert.False(t, p.Dead())

	npc := NewNpc(nil, NpcConfig{ActorConfig: ActorConfig{Name: "Merchant"}, Interactive: true})
	w.add(t, npc)
	npc.Blackboard().Set("mood", "happy")
	n := diskCopy(t, f, npc).(*Npc)
	mood, ok := n.Blackboard().Get("mood")
	require.True(t, ok)
	assert.Equal(t, "happy", mood)
	assert.True(t, n.IsInteractive())

	monster := NewMonster(nil, MonsterConfig{ActorConfig: ActorConfig{Name: "Poptop"}, Seed: 7})
	monster.SetPosition(vec.V2F(60, 20))
	w.add(t, monster)
	m := diskCopy(t, f, monster).(*Monster)
	assert.Equal(t, vec.V2F(60, 20), m.Home())
	assert.Equal(t, TeamEnemy, m.Team().Type)
	assert.Equal(t, MonsterWander, m.monsterConfig.Behavior)
}

func TestVehicleRoundTrip(t *testing.T) {
	f := NewFactory(Deps{})
	w := newTestWorld(t)
	w.floor(0, 100, 9)
	v := NewVehicle(VehicleConfig{
		Name:            "cart",
		Health:          50,
		LoungePositions: []LoungeAnchor{{Controllable: true}},
		Platforms:       []VehiclePlatform{{Poly: physics.RectPoly(vec.NewRectF(-2, 1.5, 2, 2)), Kind: tile.CollisionPlatform}},
	})
	v.SetPosition(vec.V2F(20, 10))
	w.add(t, v)
	v.SetControlHeld(0, ControlLeft, true)
	w.run(0.5)

	slave := netCopy(t, f, v).(*Vehicle)
	assert.Equal(t, -1, slave.Direction())
	assert.Less(t, slave.Velocity().X, 0.0)

	loaded := diskCopy(t, f, v).(*Vehicle)
	assert.Equal(t, -1, loaded.Direction())
	assert.Equal(t, v.Position(), loaded.Position())
	assert.False(t, loaded.ControlHeld(0, ControlLeft), "управление не сохраняется")
}

func TestStagehandRoundTrip(t *testing.T) {
	f := NewFactory(Deps{})
	area := vec.NewRectF(-20, -10, 20, 10)
	s := NewStagehand(StagehandConfig{Type: "director", BroadcastArea: &area, Persistent: true, UniqueID: "director-1"})
	s.SetPosition(vec.V2F(100, 50))
	s.SetStorage("wave", float64(3))
	s.SetStorage("gone", "x")
	s.SetStorage("gone", nil)

	loaded := diskCopy(t, f, s).(*Stagehand)
	assert.Equal(t, "director", loaded.TypeName())
	assert.Equal(t, "director-1", loaded.UniqueID())
	assert.Equal(t, map[string]interface{}{"wave": float64(3)}, loaded.Storage())
	assert.Equal(t, area, loaded.MetaBoundBox())

	slave := netCopy(t, f, s).(*Stagehand)
	assert.Equal(t, vec.V2F(100, 50), slave.Position())
}

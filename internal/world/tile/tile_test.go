package tile

import (
	"encoding/json"
	"testing"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	dirt, ok := r.MaterialByName("dirt")
	require.True(t, ok, "dirt должен быть зарегистрирован")
	assert.True(t, r.IsSolid(dirt))

	platform, _ := r.MaterialByName("woodplatform")
	assert.Equal(t, CollisionPlatform, r.Collision(platform))
	assert.False(t, r.IsSolid(platform))

	stone, _ := r.MaterialByName("stone")
	def, _ := r.Material(stone)
	cobble, _ := r.MaterialByName("cobblestone")
	assert.Equal(t, cobble, def.BreaksToMaterial())

	d, _ := r.Material(dirt)
	assert.Equal(t, EmptyMaterial, d.BreaksToMaterial())
	assert.Equal(t, float32(0), d.DamageFactor(DamageProtected))
	assert.Equal(t, float32(1), d.DamageFactor(DamagePlantish))

	assert.Equal(t, CollisionNull, r.Collision(NullMaterial))
	assert.Equal(t, CollisionNone, r.Collision(EmptyMaterial))
}

func TestRegisterModRejectsConflicts(t *testing.T) {
	r := DefaultRegistry()
	grass, ok := r.ModByName("grass")
	require.True(t, ok, "встроенные моды регистрируются без ошибок")

	assert.Error(t, r.RegisterMod(ModDef{ID: grass, Name: "ivy"}), "id уже занят другим модом")
	assert.NoError(t, r.RegisterMod(ModDef{ID: grass, Name: "grass", Hardness: 2}), "переопределение под тем же именем")
	assert.Error(t, r.RegisterMod(ModDef{ID: NoMod, Name: "void"}))
	assert.Error(t, r.RegisterMod(ModDef{ID: 9}))

	assert.Error(t, r.LoadJSON([]byte(`{"mods": [{"id": 1, "name": "lichen"}]}`)), "ошибка мода не теряется при загрузке")
}

func TestRegistryLoadJSON(t *testing.T) {
	r := NewRegistry()
	err := r.LoadJSON([]byte(`{
		"materials": [{"id": 10, "name": "marble", "collision": "Slippery", "hardness": 50}],
		"mods": [{"id": 4, "name": "lichen"}],
		"liquids": [{"id": 3, "name": "oil", "flow": 0.1}]
	}`))
	require.NoError(t, err)

	id, ok := r.MaterialByName("marble")
	require.True(t, ok)
	assert.Equal(t, CollisionSlippery, r.Collision(id))
	_, ok = r.ModByName("lichen")
	assert.True(t, ok)
	_, ok = r.LiquidByName("oil")
	assert.True(t, ok)

	assert.Error(t, r.LoadJSON([]byte(`{"materials": [{"id": 11, "name": "bad", "collision": "Sticky"}]}`)))
}

func TestNetTileRoundTrip(t *testing.T) {
	in := EmptyTile()
	in.Foreground.Material = 2
	in.Foreground.Mod = 1
	in.Background.HueShift = 12
	in.Liquid = LiquidState{Liquid: 1, Level: 0.5, Pressure: 2}
	in.DungeonID = 100
	in.Collision = CollisionBlock

	ds := netelement.NewWriter()
	WriteNetTile(ds, in)
	out := ReadNetTile(netelement.NewReader(ds.Bytes()))
	assert.Equal(t, in, out)

	ds = netelement.NewWriter()
	WriteNetTile(ds, EmptyTile())
	assert.Len(t, ds.Bytes(), 6, "пустой тайл записывается без опциональных полей")
}

func TestLiquidNormalization(t *testing.T) {
	assert.Equal(t, LiquidState{}, LiquidState{Liquid: 1, Level: 0}.Normalized())
	assert.Equal(t, LiquidState{}, LiquidState{Liquid: EmptyLiquid, Level: 0.7}.Normalized())
	assert.Equal(t, float32(1), LiquidState{Liquid: 1, Level: 3}.Normalized().Level)
}

func TestDamageTypeJSON(t *testing.T) {
	var d Damage
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"plantish","amount":10}`), &d))
	assert.Equal(t, DamagePlantish, d.Type)
	assert.Equal(t, float32(10), d.Amount)
}

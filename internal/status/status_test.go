package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/netelement"
)

func newRegistry() *Registry {
	r := NewRegistry()
	r.Register(EffectConfig{
		Name: "armor", DefaultDuration: 5, Icon: "/icons/armor.png", Stacking: StackStack, MaxStacks: 3,
		Modifiers: []StatModifier{{Stat: StatProtection, Amount: 10}},
	})
	r.Register(EffectConfig{Name: "burning", DefaultDuration: 2, Stacking: StackExtend})
	r.Register(EffectConfig{Name: "stun", DefaultDuration: 1, Stacking: StackIgnore})
	r.Register(EffectConfig{
		Name: "strength", Stacking: StackReplace,
		Modifiers: []StatModifier{{Stat: StatMaxHealth, BaseMultiplier: 2}},
	})
	return r
}

func TestResourcesFollowMaxStat(t *testing.T) {
	c := NewController(DefaultActorConfig(100, 50), newRegistry())
	assert.Equal(t, 100.0, c.Resource(ResourceHealth))
	assert.Equal(t, 50.0, c.Resource(ResourceEnergy))

	require.NoError(t, c.AddEffect("strength", nil, 0))
	max, ok := c.ResourceMax(ResourceHealth)
	require.True(t, ok)
	assert.Equal(t, 200.0, max)
	assert.Equal(t, 0.5, c.ResourcePercentage(ResourceHealth))

	require.NoError(t, c.SetResource(ResourceHealth, 180))
	assert.True(t, c.RemoveEffect("strength"))
	assert.Equal(t, 100.0, c.Resource(ResourceHealth), "значение урезано до нового максимума")

	assert.ErrorIs(t, c.SetResource("mana", 1), ErrUnknownResource)
}

func TestConsumeAndLock(t *testing.T) {
	c := NewController(DefaultActorConfig(100, 50), nil)
	assert.True(t, c.ConsumeResource(ResourceEnergy, 20))
	assert.False(t, c.ConsumeResource(ResourceEnergy, 40))
	assert.Equal(t, 30.0, c.Resource(ResourceEnergy))

	c.SetResourceLocked(ResourceEnergy, true)
	assert.False(t, c.ConsumeResource(ResourceEnergy, 1))
	assert.True(t, c.ResourceLocked(ResourceEnergy))
}

func TestApplyDamageUsesProtection(t *testing.T) {
	c := NewController(DefaultActorConfig(100, 0), nil)
	c.SetBaseStat(StatProtection, 50)

	assert.InDelta(t, 10.0, c.ApplyDamage(20, false), 1e-9)
	assert.InDelta(t, 20.0, c.ApplyDamage(20, true), 1e-9)
	assert.InDelta(t, 70.0, c.Resource(ResourceHealth), 1e-9)

	c.SetBaseStat(StatInvulnerable, 1)
	assert.Zero(t, c.ApplyDamage(1000, true))
	c.SetBaseStat(StatInvulnerable, 0)

	lost := c.ApplyDamage(1000, true)
	assert.InDelta(t, 70.0, lost, 1e-9)
	assert.True(t, c.Dead())
}

func TestStackingPolicies(t *testing.T) {
	c := NewController(DefaultActorConfig(100, 0), newRegistry())

	for i := 0; i < 5; i++ {
		require.NoError(t, c.AddEffect("armor", nil, 0))
	}
	assert.Equal(t, 30.0, c.Stat(StatProtection), "не больше трёх стопок")
	require.Len(t, c.ActiveEffects(), 1)
	assert.Equal(t, 3, c.ActiveEffects()[0].Stacks)

	require.NoError(t, c.AddEffect("burning", nil, 0))
	require.NoError(t, c.AddEffect("burning", nil, 0))
	require.NoError(t, c.AddEffect("stun", nil, 0))
	d := 10.0
	require.NoError(t, c.AddEffect("stun", &d, 0))

	c.Update(3)
	assert.True(t, c.HasEffect("burning"), "продлён до 4 секунд")
	assert.False(t, c.HasEffect("stun"), "повторное наложение проигнорировано")
	assert.True(t, c.HasEffect("armor"))

	c.Update(2)
	assert.False(t, c.HasEffect("burning"))
	assert.False(t, c.HasEffect("armor"))
	assert.Zero(t, c.Stat(StatProtection))

	assert.ErrorIs(t, c.AddEffect("nope", nil, 0), ErrUnknownEffect)
}

func TestPermanentEffect(t *testing.T) {
	c := NewController(DefaultActorConfig(100, 0), newRegistry())
	require.NoError(t, c.AddEffect("strength", nil, 0))
	c.Update(1000)
	require.True(t, c.HasEffect("strength"))
	assert.True(t, c.ActiveEffects()[0].Permanent)
}

func TestNetReplication(t *testing.T) {
	master := NewController(DefaultActorConfig(100, 50), newRegistry())
	slave := NewController(DefaultActorConfig(100, 50), nil)

	masterTop := netelement.NewTopGroup()
	masterTop.AddNetElement(master.NetGroup())
	slaveTop := netelement.NewTopGroup()
	slaveTop.AddNetElement(slave.NetGroup())

	require.NoError(t, master.AddEffect("armor", nil, 0))
	_ = master.SetResource(ResourceHealth, 42)
	master.Update(0.1)

	data, version := masterTop.WriteNetState(0, netelement.CurrentRules)
	require.NoError(t, slaveTop.LoadNetState(data, version, netelement.CurrentRules))
	slave.ApplyNetState()

	assert.Equal(t, 42.0, slave.Resource(ResourceHealth))
	assert.Equal(t, 10.0, slave.Stat(StatProtection))
	effects := slave.ActiveEffects()
	require.Len(t, effects, 1)
	assert.Equal(t, "armor", effects[0].Name)
	assert.Equal(t, "/icons/armor.png", effects[0].Icon)
}

func TestEffectScript(t *testing.T) {
	engine := luaengine.NewEngine(luaengine.DefaultConfig())
	t.Cleanup(engine.Close)

	r := newRegistry()
	r.Register(EffectConfig{Name: "regen", DefaultDuration: 10, Scripts: []string{"/effects/regen.lua"}})
	r.SetScripting(engine, func(path string) (string, error) {
		return `
			function init()
				group = effect.addStatModifierGroup({{stat = "protection", amount = 5}})
			end
			function update(dt)
				status.modifyResource("health", 10 * dt)
				if status.resource("health") >= 100 then
					effect.expire()
				end
			end`, nil
	})

	c := NewController(DefaultActorConfig(100, 0), r)
	require.NoError(t, c.SetResource(ResourceHealth, 50))
	require.NoError(t, c.AddEffect("regen", nil, 7))
	assert.Equal(t, 5.0, c.Stat(StatProtection))

	c.Update(1)
	assert.InDelta(t, 60.0, c.Resource(ResourceHealth), 1e-9)

	for i := 0; i < 5; i++ {
		c.Update(1)
	}
	assert.Equal(t, 100.0, c.Resource(ResourceHealth))
	assert.False(t, c.HasEffect("regen"))
	assert.Zero(t, c.Stat(StatProtection), "группа скрипта снята вместе с эффектом")
}

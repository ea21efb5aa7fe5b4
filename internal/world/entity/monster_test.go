package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/physics"
	"github.com/annel0/tileverse/internal/vec"
)

func monsterAt(t *testing.T, w *testWorld, cfg MonsterConfig, pos vec.Vec2F) *Monster {
	t.Helper()
	m := NewMonster(nil, cfg)
	m.SetPosition(pos)
	w.add(t, m)
	return m
}

func TestMonsterDefaults(t *testing.T) {
	m := NewMonster(nil, MonsterConfig{})
	assert.Equal(t, MonsterWander, m.monsterConfig.Behavior)
	assert.Equal(t, 10.0, m.monsterConfig.WanderRadius)
	assert.Equal(t, 12.0, m.monsterConfig.DetectionRadius)
	assert.Equal(t, [2]float64{2, 7}, m.monsterConfig.IdleTime)
	assert.Equal(t, TeamEnemy, m.Team().Type)
	assert.Empty(t, m.StateName(), "до добавления в мир автомата нет")

	w := newTestWorld(t)
	w.floor(0, 100, 0)
	m = monsterAt(t, w, MonsterConfig{}, vec.V2F(20, 3))
	assert.Equal(t, "idle", m.StateName())
	assert.Equal(t, vec.V2F(20, 3), m.Home())

	scripted := monsterAt(t, w, MonsterConfig{Behavior: MonsterScripted}, vec.V2F(40, 3))
	assert.Empty(t, scripted.StateName())
}

func TestMonsterWanderIsDeterministic(t *testing.T) {
	trace := func() ([]string, vec.Vec2F) {
		w := newTestWorld(t)
		w.floor(0, 200, 0)
		m := monsterAt(t, w, MonsterConfig{Seed: 77, IdleTime: [2]float64{0.5, 1}}, vec.V2F(50, 3))
		var states []string
		for i := 0; i < 600; i++ {
			w.tick()
			if n := m.StateName(); len(states) == 0 || states[len(states)-1] != n {
				states = append(states, n)
			}
		}
		return states, m.Position()
	}
	statesA, posA := trace()
	statesB, posB := trace()
	assert.Equal(t, statesA, statesB)
	assert.Equal(t, posA, posB)
	assert.Contains(t, statesA, "wander", "за десять секунд монстр успевает побродить")
}

func TestAggressiveMonsterChases(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 200, 0)
	m := monsterAt(t, w, MonsterConfig{Behavior: MonsterAggressive, Seed: 5}, vec.V2F(20, 3))
	far := playerAt(t, w, PlayerConfig{}, vec.V2F(80, 3))

	w.tick()
	assert.Equal(t, "idle", m.StateName(), "игрок вне радиуса обнаружения")

	near := playerAt(t, w, PlayerConfig{}, vec.V2F(28, 3))
	w.tick()
	require.Equal(t, "chase", m.StateName())

	near.ApplyDamage(DamageRequest{Kind: DamageIgnoresDef, Damage: 1000})
	w.tick()
	assert.Equal(t, "idle", m.StateName(), "мёртвая цель отпускается")
	assert.NotNil(t, w.Entity(far.EntityID()))
}

func TestPassiveMonsterFlees(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 200, 0)
	m := monsterAt(t, w, MonsterConfig{Behavior: MonsterPassive, Seed: 9}, vec.V2F(20, 3))
	hunter := playerAt(t, w, PlayerConfig{}, vec.V2F(16, 3))
	w.run(0.3)
	start := m.Position()

	notes := m.ApplyDamage(DamageRequest{Kind: DamageNormal, Damage: 5, SourceEntityID: hunter.EntityID()})
	require.Len(t, notes, 1)
	assert.Equal(t, "flee", m.StateName())

	w.run(0.5)
	assert.Greater(t, m.Position().X, start.X, "монстр убегает от обидчика")
}

func TestMonsterDiesAndIsRemoved(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 0)
	m := monsterAt(t, w, MonsterConfig{}, vec.V2F(20, 3))

	notes := m.ApplyDamage(DamageRequest{Kind: DamageIgnoresDef, Damage: 1000})
	require.Len(t, notes, 1)
	assert.Equal(t, HitKill, notes[0].HitType)
	assert.True(t, m.ShouldDestroy())

	w.tick()
	assert.Nil(t, w.Entity(m.EntityID()))
	assert.Empty(t, m.StateName(), "автомат сброшен при удалении")
}

func TestMonsterTouchDamage(t *testing.T) {
	w := newTestWorld(t)
	w.floor(0, 100, 0)
	touch := DamageSource{Kind: DamageNormal, Damage: 3, Area: physics.BoxPoly(1, 1)}
	m := monsterAt(t, w, MonsterConfig{ActorConfig: ActorConfig{Team: EntityDamageTeam{Type: TeamEnemy, Team: 2}}, TouchDamage: &touch}, vec.V2F(20, 3))

	sources := m.DamageSources()
	require.Len(t, sources, 1)
	assert.Equal(t, m.EntityID(), sources[0].SourceEntityID)
	assert.Equal(t, uint16(2), sources[0].Team.Team)
	box := sources[0].Area.BoundBox()
	assert.InDelta(t, 20, (box.Min.X+box.Max.X)/2, 1e-9, "область смещена к монстру")

	assert.Empty(t, NewMonster(nil, MonsterConfig{}).DamageSources())
}

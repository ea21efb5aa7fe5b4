// Package status хранит характеристики актёров: статы с модификаторами,
// ресурсы (здоровье, энергия) и временные эффекты со скриптами.
// Ресурсы, итоговые статы и список эффектов реплицируются через net-элементы.
package status

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/netelement"
)

var (
	ErrUnknownResource = errors.New("неизвестный ресурс")
	ErrUnknownEffect   = errors.New("неизвестный эффект")
)

// Имена статов и ресурсов, на которые опирается применение урона
const (
	StatMaxHealth    = "maxHealth"
	StatMaxEnergy    = "maxEnergy"
	StatProtection   = "protection"
	StatInvulnerable = "invulnerable"

	ResourceHealth = "health"
	ResourceEnergy = "energy"
)

// StatModifier изменение стата. Итог = (база + сумма Amount) × Π BaseMultiplier,
// затем прибавки ValueModifier и умножение на EffectiveMultiplier.
type StatModifier struct {
	Stat                string  `json:"stat"`
	Amount              float64 `json:"amount,omitempty"`
	BaseMultiplier      float64 `json:"baseMultiplier,omitempty"`
	ValueModifier       float64 `json:"effectiveAmount,omitempty"`
	EffectiveMultiplier float64 `json:"effectiveMultiplier,omitempty"`
}

// ResourceDef описание ресурса. Максимум берётся из стата MaxStat либо из MaxValue.
type ResourceDef struct {
	Name              string   `json:"name"`
	MaxStat           string   `json:"maxStat,omitempty"`
	MaxValue          *float64 `json:"maxValue,omitempty"`
	DeltaStat         string   `json:"deltaStat,omitempty"`
	Delta             float64  `json:"delta,omitempty"`
	InitialPercentage *float64 `json:"initialPercentage,omitempty"`
	InitialValue      float64  `json:"initialValue,omitempty"`
}

// Config статы и ресурсы сущности
type Config struct {
	Stats     map[string]float64 `json:"stats"`
	Resources []ResourceDef      `json:"resources"`
	// Effects эффекты, активные при создании
	Effects []string `json:"effects,omitempty"`
}

// DefaultActorConfig здоровье и энергия с максимумами из статов
func DefaultActorConfig(maxHealth, maxEnergy float64) Config {
	full := 1.0
	return Config{
		Stats: map[string]float64{
			StatMaxHealth:  maxHealth,
			StatMaxEnergy:  maxEnergy,
			StatProtection: 0,
		},
		Resources: []ResourceDef{
			{Name: ResourceHealth, MaxStat: StatMaxHealth, InitialPercentage: &full},
			{Name: ResourceEnergy, MaxStat: StatMaxEnergy, DeltaStat: "energyRegen", InitialPercentage: &full},
		},
	}
}

type resource struct {
	def    ResourceDef
	value  float64
	locked bool
}

// Controller статы, ресурсы и эффекты одной сущности
type Controller struct {
	base      map[string]float64
	groups    map[int][]StatModifier
	nextGroup int
	effective map[string]float64
	resources map[string]*resource
	order     []string

	effects  *EffectSet
	registry *Registry

	net          *netelement.NetGroup
	netResources *netelement.NetMap[string, float64]
	netStats     *netelement.NetMap[string, float64]
	netEffects   *netelement.NetData[[]EffectInfo]

	logger *logging.Logger
}

// NewController контроллер по конфигурации; registry может быть nil
func NewController(cfg Config, registry *Registry) *Controller {
	c := &Controller{
		base:         make(map[string]float64, len(cfg.Stats)),
		groups:       make(map[int][]StatModifier),
		effective:    make(map[string]float64),
		resources:    make(map[string]*resource, len(cfg.Resources)),
		registry:     registry,
		netResources: netelement.NewNetMap[string, float64](netelement.StringCodec, netelement.FloatCodec),
		netStats:     netelement.NewNetMap[string, float64](netelement.StringCodec, netelement.FloatCodec),
		netEffects:   netelement.NewNetData(netelement.JSONCodec[[]EffectInfo](), nil),
		logger:       logging.GetComponentLogger("status"),
	}
	c.net = netelement.NewNetGroup(c.netResources, c.netStats, c.netEffects)
	for k, v := range cfg.Stats {
		c.base[k] = v
	}
	c.recompute()
	for _, def := range cfg.Resources {
		r := &resource{def: def, value: def.InitialValue}
		c.resources[def.Name] = r
		c.order = append(c.order, def.Name)
		if def.InitialPercentage != nil {
			if max, ok := c.ResourceMax(def.Name); ok {
				r.value = max * *def.InitialPercentage
			}
		}
	}
	c.effects = newEffectSet(c)
	for _, name := range cfg.Effects {
		if err := c.AddEffect(name, nil, 0); err != nil {
			c.logger.Warn("эффект %s не добавлен: %v", name, err)
		}
	}
	c.publish()
	return c
}

// NetGroup реплицируемое состояние для включения в группу сущности
func (c *Controller) NetGroup() *netelement.NetGroup { return c.net }

// Registry реестр эффектов
func (c *Controller) Registry() *Registry { return c.registry }

// Stat итоговое значение стата; неизвестный стат равен 0
func (c *Controller) Stat(name string) float64 {
	if v, ok := c.effective[name]; ok {
		return v
	}
	return 0
}

// StatPositive стат больше нуля (флаги вроде invulnerable)
func (c *Controller) StatPositive(name string) bool { return c.Stat(name) > 0 }

// BaseStat базовое значение стата
func (c *Controller) BaseStat(name string) float64 { return c.base[name] }

// SetBaseStat меняет базу и пересчитывает статы
func (c *Controller) SetBaseStat(name string, v float64) {
	c.base[name] = v
	c.recompute()
}

// StatNames имена всех статов в порядке сортировки
func (c *Controller) StatNames() []string {
	names := make([]string, 0, len(c.effective))
	for k := range c.effective {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// AddModifierGroup добавляет группу модификаторов и возвращает её id
func (c *Controller) AddModifierGroup(mods []StatModifier) int {
	c.nextGroup++
	c.groups[c.nextGroup] = append([]StatModifier(nil), mods...)
	c.recompute()
	return c.nextGroup
}

// SetModifierGroup заменяет модификаторы группы
func (c *Controller) SetModifierGroup(id int, mods []StatModifier) bool {
	if _, ok := c.groups[id]; !ok {
		return false
	}
	c.groups[id] = append([]StatModifier(nil), mods...)
	c.recompute()
	return true
}

// RemoveModifierGroup удаляет группу модификаторов
func (c *Controller) RemoveModifierGroup(id int) bool {
	if _, ok := c.groups[id]; !ok {
		return false
	}
	delete(c.groups, id)
	c.recompute()
	return true
}

func (c *Controller) recompute() {
	type acc struct{ amount, baseMul, value, effMul float64 }
	stats := make(map[string]*acc, len(c.base))
	get := func(name string) *acc {
		a, ok := stats[name]
		if !ok {
			a = &acc{amount: c.base[name], baseMul: 1, effMul: 1}
			stats[name] = a
		}
		return a
	}
	for name := range c.base {
		get(name)
	}
	ids := make([]int, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		for _, m := range c.groups[id] {
			a := get(m.Stat)
			a.amount += m.Amount
			if m.BaseMultiplier != 0 {
				a.baseMul *= m.BaseMultiplier
			}
			a.value += m.ValueModifier
			if m.EffectiveMultiplier != 0 {
				a.effMul *= m.EffectiveMultiplier
			}
		}
	}
	c.effective = make(map[string]float64, len(stats))
	for name, a := range stats {
		c.effective[name] = (a.amount*a.baseMul + a.value) * a.effMul
	}
	// максимум мог уменьшиться
	for _, r := range c.resources {
		if max, ok := c.ResourceMax(r.def.Name); ok && r.value > max {
			r.value = max
		}
	}
}

// ResourceNames имена ресурсов в порядке объявления
func (c *Controller) ResourceNames() []string { return append([]string(nil), c.order...) }

// IsResource объявлен ли ресурс
func (c *Controller) IsResource(name string) bool {
	_, ok := c.resources[name]
	return ok
}

// Resource текущее значение ресурса
func (c *Controller) Resource(name string) float64 {
	if r, ok := c.resources[name]; ok {
		return r.value
	}
	return 0
}

// ResourceMax максимум ресурса; false если ресурс неограничен или неизвестен
func (c *Controller) ResourceMax(name string) (float64, bool) {
	r, ok := c.resources[name]
	if !ok {
		return 0, false
	}
	if r.def.MaxStat != "" {
		return math.Max(0, c.Stat(r.def.MaxStat)), true
	}
	if r.def.MaxValue != nil {
		return *r.def.MaxValue, true
	}
	return 0, false
}

// ResourcePercentage доля от максимума; для неограниченного ресурса 0
func (c *Controller) ResourcePercentage(name string) float64 {
	max, ok := c.ResourceMax(name)
	if !ok || max <= 0 {
		return 0
	}
	return c.Resource(name) / max
}

// SetResource задаёт значение с ограничением [0, max]
func (c *Controller) SetResource(name string, v float64) error {
	r, ok := c.resources[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	if max, ok := c.ResourceMax(name); ok {
		v = math.Min(v, max)
	}
	r.value = math.Max(0, v)
	return nil
}

// SetResourcePercentage задаёт значение как долю максимума
func (c *Controller) SetResourcePercentage(name string, p float64) error {
	max, ok := c.ResourceMax(name)
	if !ok {
		return fmt.Errorf("%w: %s не имеет максимума", ErrUnknownResource, name)
	}
	return c.SetResource(name, max*p)
}

// ModifyResource прибавляет delta
func (c *Controller) ModifyResource(name string, delta float64) error {
	return c.SetResource(name, c.Resource(name)+delta)
}

// ConsumeResource списывает amount, если ресурса хватает и он не заблокирован
func (c *Controller) ConsumeResource(name string, amount float64) bool {
	r, ok := c.resources[name]
	if !ok || r.locked || amount < 0 || r.value < amount {
		return false
	}
	r.value -= amount
	return true
}

// OverConsumeResource списывает сколько есть; true если что-то было
func (c *Controller) OverConsumeResource(name string, amount float64) bool {
	r, ok := c.resources[name]
	if !ok || r.locked || amount < 0 || r.value <= 0 {
		return false
	}
	r.value = math.Max(0, r.value-amount)
	return true
}

// SetResourceLocked блокирует расход ресурса
func (c *Controller) SetResourceLocked(name string, locked bool) {
	if r, ok := c.resources[name]; ok {
		r.locked = locked
	}
}

// ResourceLocked заблокирован ли ресурс
func (c *Controller) ResourceLocked(name string) bool {
	r, ok := c.resources[name]
	return ok && r.locked
}

// ApplyDamage снимает здоровье с учётом защиты и возвращает потерю.
// ignoresDef пропускает защиту; неуязвимость гасит урон полностью.
func (c *Controller) ApplyDamage(amount float64, ignoresDef bool) float64 {
	if amount <= 0 || c.StatPositive(StatInvulnerable) {
		return 0
	}
	if !ignoresDef {
		protection := math.Min(100, math.Max(0, c.Stat(StatProtection)))
		amount *= 1 - protection/100
	}
	before := c.Resource(ResourceHealth)
	_ = c.SetResource(ResourceHealth, before-amount)
	return before - c.Resource(ResourceHealth)
}

// Dead здоровье исчерпано
func (c *Controller) Dead() bool {
	return c.IsResource(ResourceHealth) && c.Resource(ResourceHealth) <= 0
}

// Update тикает эффекты, восполняет ресурсы и публикует состояние
func (c *Controller) Update(dt float64) {
	c.effects.update(dt)
	for _, name := range c.order {
		r := c.resources[name]
		delta := r.def.Delta
		if r.def.DeltaStat != "" {
			delta += c.Stat(r.def.DeltaStat)
		}
		if delta != 0 && !r.locked {
			_ = c.ModifyResource(name, delta*dt)
		}
	}
	c.publish()
}

func (c *Controller) publish() {
	for name, r := range c.resources {
		if old, ok := c.netResources.Get(name); !ok || old != r.value {
			c.netResources.Set(name, r.value)
		}
	}
	for name, v := range c.effective {
		if old, ok := c.netStats.Get(name); !ok || old != v {
			c.netStats.Set(name, v)
		}
	}
	info := c.effects.info()
	if !effectInfoEqual(info, c.netEffects.Get()) {
		c.netEffects.Set(info)
	}
}

// ApplyNetState переносит реплицированные значения на ведомую копию
func (c *Controller) ApplyNetState() {
	for _, name := range c.netResources.Keys() {
		v, _ := c.netResources.Get(name)
		if r, ok := c.resources[name]; ok {
			r.value = v
		}
	}
	for _, name := range c.netStats.Keys() {
		v, _ := c.netStats.Get(name)
		c.effective[name] = v
	}
}

// ActiveEffects активные эффекты; у ведомой копии берутся из сети
func (c *Controller) ActiveEffects() []EffectInfo {
	if local := c.effects.info(); len(local) > 0 {
		return local
	}
	return append([]EffectInfo(nil), c.netEffects.Get()...)
}

// Snapshot значения ресурсов для сохранения
func (c *Controller) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(c.resources))
	for name, r := range c.resources {
		out[name] = r.value
	}
	return out
}

// Restore загружает значения ресурсов, неизвестные пропускаются
func (c *Controller) Restore(values map[string]float64) {
	for name, v := range values {
		_ = c.SetResource(name, v)
	}
	c.publish()
}

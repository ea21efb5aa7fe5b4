package tile

import (
	"encoding/json"
	"fmt"
	"sync"
)

// PlacementRule ограничения на установку материала
type PlacementRule struct {
	RequiresSolidBelow bool `json:"requiresSolidBelow"`
	RequiresAir        bool `json:"requiresAir"`
	RequiresLiquid     bool `json:"requiresLiquid"`
	// Connects материал должен примыкать к существующему тайлу (непрерывность)
	Connects bool `json:"connects"`
}

// MaterialDef описание материала
type MaterialDef struct {
	ID            MaterialID             `json:"id"`
	Name          string                 `json:"name"`
	Collision     CollisionKind          `json:"-"`
	CollisionName string                 `json:"collision"`
	Hardness      float32                `json:"hardness"`
	DamageFactors map[string]float32     `json:"damageFactors,omitempty"`
	RecoveryDelay float32                `json:"recoveryDelay"`
	RecoveryRate  float32                `json:"recoveryRate"`
	BreaksTo      string                 `json:"breaksTo,omitempty"`
	Falling       bool                   `json:"falling"`
	SupportsMods  bool                   `json:"supportsMods"`
	Placement     PlacementRule          `json:"placement"`
	ItemDrop      string                 `json:"itemDrop,omitempty"`
	Config        map[string]interface{} `json:"config,omitempty"`

	breaksTo MaterialID
}

// DamageFactor множитель урона данного вида (по умолчанию 1)
func (m *MaterialDef) DamageFactor(t DamageType) float32 {
	if f, ok := m.DamageFactors[t.String()]; ok {
		return f
	}
	if t == DamageProtected {
		return 0
	}
	return 1
}

// BreaksToMaterial материал, остающийся после разрушения
func (m *MaterialDef) BreaksToMaterial() MaterialID {
	return m.breaksTo
}

// ModDef описание модификации
type ModDef struct {
	ID             ModID   `json:"id"`
	Name           string  `json:"name"`
	Hardness       float32 `json:"hardness"`
	BreaksWithTile bool    `json:"breaksWithTile"`
	Grows          bool    `json:"grows"`
}

// LiquidDef описание жидкости
type LiquidDef struct {
	ID        LiquidID `json:"id"`
	Name      string   `json:"name"`
	Flow      float32  `json:"flow"`
	Buoyancy  float32  `json:"buoyancy"`
	Impedance float32  `json:"impedance"`
	Damage    float32  `json:"damage"`
}

// Registry реестр материалов, модов и жидкостей.
// Заполняется при старте и далее только читается.
type Registry struct {
	mu        sync.RWMutex
	materials map[MaterialID]*MaterialDef
	matNames  map[string]MaterialID
	mods      map[ModID]*ModDef
	modNames  map[string]ModID
	liquids   map[LiquidID]*LiquidDef
	liqNames  map[string]LiquidID
}

// NewRegistry создаёт пустой реестр со служебными материалами
func NewRegistry() *Registry {
	r := &Registry{
		materials: make(map[MaterialID]*MaterialDef),
		matNames:  make(map[string]MaterialID),
		mods:      make(map[ModID]*ModDef),
		modNames:  make(map[string]ModID),
		liquids:   make(map[LiquidID]*LiquidDef),
		liqNames:  make(map[string]LiquidID),
	}
	_ = r.RegisterMaterial(MaterialDef{ID: EmptyMaterial, Name: "empty", CollisionName: "None"})
	_ = r.RegisterMaterial(MaterialDef{ID: NullMaterial, Name: "null", CollisionName: "Null"})
	return r
}

// DefaultRegistry реестр со встроенным набором материалов
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range []MaterialDef{
		{ID: 1, Name: "dirt", CollisionName: "Block", Hardness: 10, RecoveryDelay: 2, RecoveryRate: 5, SupportsMods: true,
			ItemDrop: "dirtmaterial"},
		{ID: 2, Name: "stone", CollisionName: "Block", Hardness: 30, RecoveryDelay: 2, RecoveryRate: 10, SupportsMods: true,
			BreaksTo: "cobblestone", Placement: PlacementRule{Connects: true}, ItemDrop: "cobblestonematerial"},
		{ID: 3, Name: "sand", CollisionName: "Block", Hardness: 8, RecoveryDelay: 1, RecoveryRate: 5, Falling: true,
			Placement: PlacementRule{Connects: true}, ItemDrop: "sand"},
		{ID: 4, Name: "cobblestone", CollisionName: "Block", Hardness: 20, RecoveryDelay: 2, RecoveryRate: 8,
			Placement: PlacementRule{Connects: true}, ItemDrop: "cobblestonematerial"},
		{ID: 5, Name: "woodplatform", CollisionName: "Platform", Hardness: 5, RecoveryDelay: 1, RecoveryRate: 5,
			Placement: PlacementRule{Connects: true}, ItemDrop: "woodplatform"},
		{ID: 6, Name: "glass", CollisionName: "Block", Hardness: 4, RecoveryDelay: 1, RecoveryRate: 4,
			DamageFactors: map[string]float32{"explosive": 2}, Placement: PlacementRule{Connects: true}},
		{ID: 7, Name: "ice", CollisionName: "Slippery", Hardness: 6, RecoveryDelay: 1, RecoveryRate: 4,
			DamageFactors: map[string]float32{"fire": 3}, Placement: PlacementRule{Connects: true}},
		{ID: 8, Name: "brick", CollisionName: "Block", Hardness: 40, RecoveryDelay: 3, RecoveryRate: 10,
			Placement: PlacementRule{Connects: true}},
	} {
		if err := r.RegisterMaterial(m); err != nil {
			panic(err)
		}
	}
	for _, m := range []ModDef{
		{ID: 1, Name: "grass", Hardness: 1, BreaksWithTile: true, Grows: true},
		{ID: 2, Name: "moss", Hardness: 1, BreaksWithTile: true, Grows: true},
		{ID: 3, Name: "snow", Hardness: 1, BreaksWithTile: true},
	} {
		if err := r.RegisterMod(m); err != nil {
			panic(err)
		}
	}
	for _, l := range []LiquidDef{
		{ID: 1, Name: "water", Flow: 0.5, Buoyancy: 0.9, Impedance: 0.5},
		{ID: 2, Name: "lava", Flow: 0.2, Buoyancy: 1.2, Impedance: 0.8, Damage: 20},
	} {
		if err := r.RegisterLiquid(l); err != nil {
			panic(err)
		}
	}
	return r
}

// RegisterMaterial добавляет материал в реестр
func (r *Registry) RegisterMaterial(m MaterialDef) error {
	if m.Name == "" {
		return fmt.Errorf("материал %d без имени", m.ID)
	}
	kind := CollisionBlock
	if m.CollisionName != "" {
		k, err := ParseCollisionKind(m.CollisionName)
		if err != nil {
			return fmt.Errorf("материал %s: %w", m.Name, err)
		}
		kind = k
	}
	m.Collision = kind

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.materials[m.ID]; ok && existing.Name != m.Name {
		return fmt.Errorf("материал %d уже зарегистрирован как %s", m.ID, existing.Name)
	}
	def := m
	r.materials[m.ID] = &def
	r.matNames[m.Name] = m.ID
	r.resolveBreaksLocked()
	return nil
}

func (r *Registry) resolveBreaksLocked() {
	for _, def := range r.materials {
		def.breaksTo = EmptyMaterial
		if def.BreaksTo != "" {
			if id, ok := r.matNames[def.BreaksTo]; ok {
				def.breaksTo = id
			}
		}
	}
}

// RegisterMod добавляет модификацию
func (r *Registry) RegisterMod(m ModDef) error {
	if m.Name == "" {
		return fmt.Errorf("мод %d без имени", m.ID)
	}
	if m.ID == NoMod {
		return fmt.Errorf("мод %s: id %d зарезервирован", m.Name, NoMod)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.mods[m.ID]; ok && existing.Name != m.Name {
		return fmt.Errorf("мод %d уже зарегистрирован как %s", m.ID, existing.Name)
	}
	def := m
	r.mods[m.ID] = &def
	r.modNames[m.Name] = m.ID
	return nil
}

// RegisterLiquid добавляет жидкость
func (r *Registry) RegisterLiquid(l LiquidDef) error {
	if l.ID == EmptyLiquid {
		return fmt.Errorf("жидкость %s: id 0 зарезервирован", l.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def := l
	r.liquids[l.ID] = &def
	r.liqNames[l.Name] = l.ID
	return nil
}

// registryFile формат JSON-файла реестра
type registryFile struct {
	Materials []MaterialDef `json:"materials"`
	Mods      []ModDef      `json:"mods"`
	Liquids   []LiquidDef   `json:"liquids"`
}

// LoadJSON дополняет реестр описаниями из JSON
func (r *Registry) LoadJSON(data []byte) error {
	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("разбор реестра тайлов: %w", err)
	}
	for _, m := range f.Materials {
		if err := r.RegisterMaterial(m); err != nil {
			return err
		}
	}
	for _, m := range f.Mods {
		if err := r.RegisterMod(m); err != nil {
			return err
		}
	}
	for _, l := range f.Liquids {
		if err := r.RegisterLiquid(l); err != nil {
			return err
		}
	}
	return nil
}

// Material описание материала по id
func (r *Registry) Material(id MaterialID) (*MaterialDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.materials[id]
	return m, ok
}

// MaterialByName id материала по имени
func (r *Registry) MaterialByName(name string) (MaterialID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.matNames[name]
	return id, ok
}

// MaterialName имя материала (или число, если неизвестен)
func (r *Registry) MaterialName(id MaterialID) string {
	if m, ok := r.Material(id); ok {
		return m.Name
	}
	return fmt.Sprintf("%d", id)
}

// Mod описание модификации
func (r *Registry) Mod(id ModID) (*ModDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mods[id]
	return m, ok
}

// ModByName id мода по имени
func (r *Registry) ModByName(name string) (ModID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.modNames[name]
	return id, ok
}

// Liquid описание жидкости
func (r *Registry) Liquid(id LiquidID) (*LiquidDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.liquids[id]
	return l, ok
}

// LiquidByName id жидкости по имени
func (r *Registry) LiquidByName(name string) (LiquidID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.liqNames[name]
	return id, ok
}

// Collision тип коллизии материала
func (r *Registry) Collision(id MaterialID) CollisionKind {
	if m, ok := r.Material(id); ok {
		return m.Collision
	}
	return CollisionBlock
}

// IsSolid материал твёрдый
func (r *Registry) IsSolid(id MaterialID) bool {
	return r.Collision(id).IsSolid()
}

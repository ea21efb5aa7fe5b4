package entity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/behavior"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/quest"
	"github.com/annel0/tileverse/internal/status"
	"github.com/annel0/tileverse/internal/vec"
)

// Deps общие реестры, нужные конструкторам сущностей. Любое поле может быть nil.
type Deps struct {
	Assets    *assets.Assets
	Effects   *status.Registry
	Behaviors *behavior.Database
	Quests    *quest.Registry
}

// NetLoader восстанавливает сущность из NetStore
type NetLoader func(deps *Deps, data []byte, rules netelement.CompatibilityRules) (Entity, error)

// DiskLoader восстанавливает сущность из сохранения
type DiskLoader func(deps *Deps, data json.RawMessage) (Entity, error)

// DiskStorable сущность, которую можно сохранить на диск
type DiskStorable interface {
	DiskStore() (json.RawMessage, error)
}

// DiskEntry сохранённая сущность с типом
type DiskEntry struct {
	Type EntityType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

type loaders struct {
	net  NetLoader
	disk DiskLoader
}

// Factory создаёт сущности по типу. Передаётся явно серверу и клиенту.
type Factory struct {
	deps    *Deps
	loaders map[EntityType]loaders
}

// NewFactory фабрика со всеми встроенными типами
func NewFactory(deps Deps) *Factory {
	f := &Factory{deps: &deps, loaders: make(map[EntityType]loaders)}
	f.Register(EntityTypePlayer, loadPlayerNet, loadPlayerDisk)
	f.Register(EntityTypeNpc, loadNpcNet, loadNpcDisk)
	f.Register(EntityTypeMonster, loadMonsterNet, loadMonsterDisk)
	f.Register(EntityTypeObject, loadObjectNet, loadObjectDisk)
	f.Register(EntityTypeProjectile, loadProjectileNet, nil)
	f.Register(EntityTypeItemDrop, loadItemDropNet, loadItemDropDisk)
	f.Register(EntityTypePlantDrop, loadItemDropNet, loadItemDropDisk)
	f.Register(EntityTypePlant, loadPlantNet, loadPlantDisk)
	f.Register(EntityTypeStagehand, loadStagehandNet, loadStagehandDisk)
	f.Register(EntityTypeVehicle, loadVehicleNet, loadVehicleDisk)
	return f
}

// Deps реестры фабрики
func (f *Factory) Deps() *Deps { return f.deps }

// Register задаёт загрузчики типа; disk может быть nil для несохраняемых типов
func (f *Factory) Register(t EntityType, net NetLoader, disk DiskLoader) {
	f.loaders[t] = loaders{net: net, disk: disk}
}

// NetLoad создаёт ведомую копию из EntityCreate
func (f *Factory) NetLoad(t EntityType, data []byte, rules netelement.CompatibilityRules) (Entity, error) {
	l, ok := f.loaders[t]
	if !ok || l.net == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, t)
	}
	return l.net(f.deps, data, rules)
}

// DiskStore сохраняет сущность вместе с типом
func (f *Factory) DiskStore(e Entity) (json.RawMessage, error) {
	ds, ok := e.(DiskStorable)
	if !ok {
		return nil, fmt.Errorf("%s не сохраняется на диск", e.EntityType())
	}
	data, err := ds.DiskStore()
	if err != nil {
		return nil, err
	}
	return json.Marshal(DiskEntry{Type: e.EntityType(), Data: data})
}

// DiskLoad восстанавливает сущность из DiskStore
func (f *Factory) DiskLoad(data json.RawMessage) (Entity, error) {
	var entry DiskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	l, ok := f.loaders[entry.Type]
	if !ok || l.disk == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entry.Type)
	}
	return l.disk(f.deps, entry.Data)
}

// diskRecord общая форма сохранения: конфигурация, позиция и состояние типа
type diskRecord[C any, S any] struct {
	Config   C         `json:"config"`
	Position vec.Vec2F `json:"position"`
	UniqueID string    `json:"uniqueId,omitempty"`
	State    S         `json:"state"`
}

func storeDisk[C any, S any](b *Base, cfg C, state S) (json.RawMessage, error) {
	return json.Marshal(diskRecord[C, S]{
		Config:   cfg,
		Position: b.Position(),
		UniqueID: b.UniqueID(),
		State:    state,
	})
}

func loadDisk[C any, S any](data json.RawMessage) (diskRecord[C, S], error) {
	var rec diskRecord[C, S]
	err := json.Unmarshal(data, &rec)
	return rec, err
}

// restoreBase переносит позицию и уникальный id из сохранения
func restoreBase[C any, S any](b *Base, rec diskRecord[C, S]) {
	b.position.Set(rec.Position)
	if rec.UniqueID != "" {
		b.uniqueID.Set(rec.UniqueID)
	}
}

// configLookup значение по пути "a.b.c" в параметрах конфигурации
func configLookup(params map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = params
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

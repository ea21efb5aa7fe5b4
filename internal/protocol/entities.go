package protocol

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
)

// SpawnEntity просьба клиента создать сущность на сервере
type SpawnEntity struct {
	EntityType    entity.EntityType `json:"entityType"`
	StoreData     []byte            `json:"storeData"`
	FirstNetState []byte            `json:"firstNetState,omitempty"`
}

func (*SpawnEntity) Type() PacketType { return PacketSpawnEntity }

func (p *SpawnEntity) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint8(uint8(p.EntityType))
	ds.WriteBytes(p.StoreData)
	ds.WriteBytes(p.FirstNetState)
	return nil
}

func (p *SpawnEntity) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.EntityType = entity.EntityType(ds.ReadUint8())
	p.StoreData = readBlob(ds)
	p.FirstNetState = readBlob(ds)
	return ds.Err()
}

// EntityCreate появление мастер-сущности у наблюдателя
type EntityCreate struct {
	EntityType    entity.EntityType `json:"entityType"`
	StoreData     []byte            `json:"storeData"`
	FirstNetState []byte            `json:"firstNetState,omitempty"`
	EntityID      entity.EntityID   `json:"entityId"`
}

func (*EntityCreate) Type() PacketType { return PacketEntityCreate }

func (p *EntityCreate) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint8(uint8(p.EntityType))
	ds.WriteBytes(p.StoreData)
	ds.WriteBytes(p.FirstNetState)
	ds.WriteVarInt(int64(p.EntityID))
	return nil
}

func (p *EntityCreate) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.EntityType = entity.EntityType(ds.ReadUint8())
	p.StoreData = readBlob(ds)
	p.FirstNetState = readBlob(ds)
	p.EntityID = entity.EntityID(ds.ReadVarInt())
	return ds.Err()
}

// EntityDelta дельта состояния и версия мастера, до которой она доводит
type EntityDelta struct {
	Version uint64 `json:"version"`
	Delta   []byte `json:"delta,omitempty"`
}

// EntityUpdateSet дельты всех сущностей одного соединения за тик
type EntityUpdateSet struct {
	ForConnection uint16                          `json:"forConnection"`
	Deltas        map[entity.EntityID]EntityDelta `json:"deltas"`
}

func (*EntityUpdateSet) Type() PacketType { return PacketEntityUpdateSet }

// SortedIDs id сущностей по возрастанию
func (p *EntityUpdateSet) SortedIDs() []entity.EntityID {
	ids := make([]entity.EntityID, 0, len(p.Deltas))
	for id := range p.Deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *EntityUpdateSet) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint16(p.ForConnection)
	ds.WriteVarUint(uint64(len(p.Deltas)))
	for _, id := range p.SortedIDs() {
		d := p.Deltas[id]
		ds.WriteVarInt(int64(id))
		ds.WriteVarUint(d.Version)
		ds.WriteBytes(d.Delta)
	}
	return nil
}

func (p *EntityUpdateSet) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.ForConnection = ds.ReadUint16()
	n := readCount(ds, 3)
	if n == 0 {
		p.Deltas = nil
		return ds.Err()
	}
	p.Deltas = make(map[entity.EntityID]EntityDelta, n)
	for i := 0; i < n; i++ {
		id := entity.EntityID(ds.ReadVarInt())
		p.Deltas[id] = EntityDelta{Version: ds.ReadVarUint(), Delta: readBlob(ds)}
	}
	return ds.Err()
}

// EntityDestroy удаление сущности с последним состоянием
type EntityDestroy struct {
	EntityID      entity.EntityID `json:"entityId"`
	FinalNetState []byte          `json:"finalNetState,omitempty"`
	Death         bool            `json:"death"`
}

func (*EntityDestroy) Type() PacketType { return PacketEntityDestroy }

func (p *EntityDestroy) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVarInt(int64(p.EntityID))
	ds.WriteBytes(p.FinalNetState)
	ds.WriteBool(p.Death)
	return nil
}

func (p *EntityDestroy) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.EntityID = entity.EntityID(ds.ReadVarInt())
	p.FinalNetState = readBlob(ds)
	p.Death = ds.ReadBool()
	return ds.Err()
}

// EntityInteract запрос взаимодействия, RequestID связывает его с ответом
type EntityInteract struct {
	Request   entity.InteractRequest `json:"interactRequest"`
	RequestID uuid.UUID              `json:"requestId"`
}

func (*EntityInteract) Type() PacketType { return PacketEntityInteract }

func (p *EntityInteract) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVarInt(int64(p.Request.SourceID))
	ds.WriteVec2F(p.Request.SourcePosition)
	ds.WriteVarInt(int64(p.Request.TargetID))
	ds.WriteVec2F(p.Request.InteractPosition)
	writeUUID(ds, p.RequestID)
	return nil
}

func (p *EntityInteract) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Request.SourceID = entity.EntityID(ds.ReadVarInt())
	p.Request.SourcePosition = ds.ReadVec2F()
	p.Request.TargetID = entity.EntityID(ds.ReadVarInt())
	p.Request.InteractPosition = ds.ReadVec2F()
	p.RequestID = readUUID(ds)
	return ds.Err()
}

// EntityInteractResult результат взаимодействия для запросившего
type EntityInteractResult struct {
	Action         entity.InteractAction `json:"action"`
	RequestID      uuid.UUID             `json:"requestId"`
	SourceEntityID entity.EntityID       `json:"sourceEntityId"`
}

func (*EntityInteractResult) Type() PacketType { return PacketEntityInteractResult }

func (p *EntityInteractResult) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint8(uint8(p.Action.Type))
	ds.WriteVarInt(int64(p.Action.EntityID))
	writeRawJSON(ds, p.Action.Data)
	writeUUID(ds, p.RequestID)
	ds.WriteVarInt(int64(p.SourceEntityID))
	return nil
}

func (p *EntityInteractResult) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Action.Type = entity.InteractActionType(ds.ReadUint8())
	p.Action.EntityID = entity.EntityID(ds.ReadVarInt())
	p.Action.Data = readRawJSON(ds)
	p.RequestID = readUUID(ds)
	p.SourceEntityID = entity.EntityID(ds.ReadVarInt())
	return ds.Err()
}

// EntityMessage именованное сообщение с JSON-аргументами
type EntityMessage struct {
	Target         entity.MessageTarget `json:"target"`
	Message        string               `json:"message"`
	Args           []interface{}        `json:"args"`
	UUID           uuid.UUID            `json:"uuid"`
	FromConnection uint16               `json:"fromConnection"`
}

func (*EntityMessage) Type() PacketType { return PacketEntityMessage }

func (p *EntityMessage) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteBool(p.Target.IsUnique())
	if p.Target.IsUnique() {
		ds.WriteString(p.Target.UniqueID)
	} else {
		ds.WriteVarInt(int64(p.Target.ID))
	}
	ds.WriteString(p.Message)
	if len(p.Args) == 0 {
		ds.WriteBytes(nil)
	} else if err := writeJSONValue(ds, p.Args); err != nil {
		return err
	}
	writeUUID(ds, p.UUID)
	ds.WriteUint16(p.FromConnection)
	return nil
}

func (p *EntityMessage) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Target = entity.MessageTarget{}
	if ds.ReadBool() {
		p.Target.UniqueID = ds.ReadString()
	} else {
		p.Target.ID = entity.EntityID(ds.ReadVarInt())
	}
	p.Message = ds.ReadString()
	p.Args = nil
	readJSONValue(ds, &p.Args)
	if len(p.Args) == 0 {
		p.Args = nil
	}
	p.UUID = readUUID(ds)
	p.FromConnection = ds.ReadUint16()
	return ds.Err()
}

// EntityMessageResponse ответ на EntityMessage: результат в JSON или текст ошибки
type EntityMessageResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	UUID   uuid.UUID       `json:"uuid"`
}

func (*EntityMessageResponse) Type() PacketType { return PacketEntityMessageResponse }

// Failed ответ содержит ошибку
func (p *EntityMessageResponse) Failed() bool { return p.Error != "" }

// Decode возвращает результат как значение Go
func (p *EntityMessageResponse) Decode() (interface{}, error) {
	if len(p.Result) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(p.Result, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *EntityMessageResponse) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteBool(p.Failed())
	if p.Failed() {
		ds.WriteString(p.Error)
	} else {
		writeRawJSON(ds, p.Result)
	}
	writeUUID(ds, p.UUID)
	return nil
}

func (p *EntityMessageResponse) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Result, p.Error = nil, ""
	if ds.ReadBool() {
		p.Error = ds.ReadString()
	} else {
		p.Result = readRawJSON(ds)
	}
	p.UUID = readUUID(ds)
	return ds.Err()
}

// EntityResyncRequest клиент не смог применить дельту и просит полное состояние
type EntityResyncRequest struct {
	EntityID entity.EntityID `json:"entityId"`
}

func (*EntityResyncRequest) Type() PacketType { return PacketEntityResyncRequest }

func (p *EntityResyncRequest) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVarInt(int64(p.EntityID))
	return nil
}

func (p *EntityResyncRequest) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.EntityID = entity.EntityID(ds.ReadVarInt())
	return ds.Err()
}

// StatusEffects передаются только начиная с текущих правил
func writeDamageRequest(ds *netelement.DataStream, r entity.DamageRequest, rules netelement.CompatibilityRules) {
	ds.WriteUint8(uint8(r.HitType))
	ds.WriteUint8(uint8(r.Kind))
	ds.WriteFloat64(r.Damage)
	ds.WriteVec2F(r.Knockback)
	ds.WriteVarInt(int64(r.SourceEntityID))
	ds.WriteString(r.SourceKind)
	if !rules.IsLegacy() {
		writeStrings(ds, r.StatusEffects)
	}
}

func readDamageRequest(ds *netelement.DataStream, rules netelement.CompatibilityRules) entity.DamageRequest {
	r := entity.DamageRequest{
		HitType:        entity.HitType(ds.ReadUint8()),
		Kind:           entity.DamageKind(ds.ReadUint8()),
		Damage:         ds.ReadFloat64(),
		Knockback:      ds.ReadVec2F(),
		SourceEntityID: entity.EntityID(ds.ReadVarInt()),
		SourceKind:     ds.ReadString(),
	}
	if !rules.IsLegacy() {
		r.StatusEffects = readStrings(ds)
	}
	return r
}

// HitRequest попадание, о котором владелец источника сообщает владельцу цели
type HitRequest struct {
	CausingEntityID entity.EntityID      `json:"causingEntityId"`
	TargetEntityID  entity.EntityID      `json:"targetEntityId"`
	Request         entity.DamageRequest `json:"damageRequest"`
}

func (*HitRequest) Type() PacketType { return PacketHitRequest }

func (p *HitRequest) Write(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	ds.WriteVarInt(int64(p.CausingEntityID))
	ds.WriteVarInt(int64(p.TargetEntityID))
	writeDamageRequest(ds, p.Request, rules)
	return nil
}

func (p *HitRequest) Read(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	p.CausingEntityID = entity.EntityID(ds.ReadVarInt())
	p.TargetEntityID = entity.EntityID(ds.ReadVarInt())
	p.Request = readDamageRequest(ds, rules)
	return ds.Err()
}

// DamageRequest урон, который должен применить владелец цели
type DamageRequest struct {
	CausingEntityID entity.EntityID      `json:"causingEntityId"`
	TargetEntityID  entity.EntityID      `json:"targetEntityId"`
	Request         entity.DamageRequest `json:"damageRequest"`
}

func (*DamageRequest) Type() PacketType { return PacketDamageRequest }

func (p *DamageRequest) Write(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	ds.WriteVarInt(int64(p.CausingEntityID))
	ds.WriteVarInt(int64(p.TargetEntityID))
	writeDamageRequest(ds, p.Request, rules)
	return nil
}

func (p *DamageRequest) Read(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	p.CausingEntityID = entity.EntityID(ds.ReadVarInt())
	p.TargetEntityID = entity.EntityID(ds.ReadVarInt())
	p.Request = readDamageRequest(ds, rules)
	return ds.Err()
}

// DamageNotification нанесённый урон, рассылается всем
type DamageNotification struct {
	Notification entity.DamageNotification `json:"damageNotification"`
}

func (*DamageNotification) Type() PacketType { return PacketDamageNotification }

func (p *DamageNotification) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	n := p.Notification
	ds.WriteVarInt(int64(n.SourceEntityID))
	ds.WriteVarInt(int64(n.TargetEntityID))
	ds.WriteVec2F(n.Position)
	ds.WriteFloat64(n.DamageDealt)
	ds.WriteFloat64(n.HealthLost)
	ds.WriteUint8(uint8(n.HitType))
	ds.WriteString(n.SourceKind)
	ds.WriteString(n.TargetMaterialKind)
	return nil
}

func (p *DamageNotification) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Notification = entity.DamageNotification{
		SourceEntityID:     entity.EntityID(ds.ReadVarInt()),
		TargetEntityID:     entity.EntityID(ds.ReadVarInt()),
		Position:           ds.ReadVec2F(),
		DamageDealt:        ds.ReadFloat64(),
		HealthLost:         ds.ReadFloat64(),
		HitType:            entity.HitType(ds.ReadUint8()),
		SourceKind:         ds.ReadString(),
		TargetMaterialKind: ds.ReadString(),
	}
	return ds.Err()
}

// FindUniqueEntity поиск позиции сущности по уникальному id
type FindUniqueEntity struct {
	UniqueID string `json:"uniqueEntityId"`
}

func (*FindUniqueEntity) Type() PacketType { return PacketFindUniqueEntity }

func (p *FindUniqueEntity) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteString(p.UniqueID)
	return nil
}

func (p *FindUniqueEntity) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.UniqueID = ds.ReadString()
	return ds.Err()
}

// FindUniqueEntityResponse ответ на поиск; Found=false если сущности нет
type FindUniqueEntityResponse struct {
	UniqueID string          `json:"uniqueEntityId"`
	Found    bool            `json:"found"`
	Position vec.Vec2F       `json:"entityPosition"`
	EntityID entity.EntityID `json:"entityId,omitempty"`
}

func (*FindUniqueEntityResponse) Type() PacketType { return PacketFindUniqueEntityResponse }

func (p *FindUniqueEntityResponse) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteString(p.UniqueID)
	ds.WriteMaybe(p.Found, func() {
		ds.WriteVec2F(p.Position)
		ds.WriteVarInt(int64(p.EntityID))
	})
	return nil
}

func (p *FindUniqueEntityResponse) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.UniqueID = ds.ReadString()
	p.Found = ds.ReadMaybe(func() {
		p.Position = ds.ReadVec2F()
		p.EntityID = entity.EntityID(ds.ReadVarInt())
	})
	return ds.Err()
}

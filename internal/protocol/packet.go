// Package protocol набор пакетов протокола мира, их бинарная форма
// с правилами совместимости, сжатие zstd и JSON-представление.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/tileverse/internal/netelement"
)

var (
	// ErrUnknownPacket неизвестный тип пакета, соединение разрывается
	ErrUnknownPacket = errors.New("неизвестный тип пакета")
	// ErrTrailingBytes после чтения пакета остались лишние байты
	ErrTrailingBytes = errors.New("лишние байты после пакета")
	// ErrPacketTooLarge пакет превышает MaxPacketSize
	ErrPacketTooLarge = errors.New("пакет слишком большой")
	// ErrUnsupportedVersion версия протокола клиента не поддерживается
	ErrUnsupportedVersion = errors.New("версия протокола не поддерживается")
)

// MaxPacketSize предел размера одного пакета после распаковки
const MaxPacketSize = 64 << 20

// ProtocolError ошибка разбора или записи пакета
type ProtocolError struct {
	Op   string
	Type PacketType
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("протокол: %s %s: %v", e.Op, e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Compression предпочтительное сжатие пакета
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

func (c Compression) String() string {
	if c == CompressionZstd {
		return "zstd"
	}
	return "none"
}

// Packet общий интерфейс всех пакетов
type Packet interface {
	Type() PacketType
	Write(ds *netelement.DataStream, rules netelement.CompatibilityRules) error
	Read(ds *netelement.DataStream, rules netelement.CompatibilityRules) error
}

// PacketType тег пакета на проводе
type PacketType uint8

const (
	// Рукопожатие
	PacketProtocolRequest PacketType = iota
	PacketProtocolResponse
	PacketClientConnect
	PacketClientDisconnectRequest
	PacketHandshakeChallenge
	PacketHandshakeResponse
	PacketConnectSuccess
	PacketConnectFailure
	PacketServerDisconnect
	PacketPing
	PacketPong

	// Мир
	PacketWorldStart
	PacketWorldStop
	PacketStepUpdate
	PacketEnvironmentUpdate
	PacketUpdateWorldProperties
	PacketChatSend
	PacketChatReceive
	PacketWorldClientStateUpdate

	// Тайлы
	PacketModifyTileList
	PacketReplaceTileList
	PacketDamageTileGroup
	PacketCollectLiquid
	PacketConnectWire
	PacketDisconnectAllWires
	PacketTileArrayUpdate
	PacketTileUpdate
	PacketTileLiquidUpdate
	PacketTileDamageUpdate
	PacketTileModificationFailure

	// Сущности
	PacketSpawnEntity
	PacketEntityCreate
	PacketEntityUpdateSet
	PacketEntityDestroy
	PacketEntityInteract
	PacketEntityInteractResult
	PacketEntityMessage
	PacketEntityMessageResponse
	PacketEntityResyncRequest
	PacketHitRequest
	PacketDamageRequest
	PacketDamageNotification
	PacketFindUniqueEntity
	PacketFindUniqueEntityResponse

	packetTypeCount
)

type packetInfo struct {
	name        string
	compression Compression
	make        func() Packet
}

var packetTable = [packetTypeCount]packetInfo{
	PacketProtocolRequest:         {"ProtocolRequest", CompressionNone, func() Packet { return &ProtocolRequest{} }},
	PacketProtocolResponse:        {"ProtocolResponse", CompressionNone, func() Packet { return &ProtocolResponse{} }},
	PacketClientConnect:           {"ClientConnect", CompressionZstd, func() Packet { return &ClientConnect{} }},
	PacketClientDisconnectRequest: {"ClientDisconnectRequest", CompressionNone, func() Packet { return &ClientDisconnectRequest{} }},
	PacketHandshakeChallenge:      {"HandshakeChallenge", CompressionNone, func() Packet { return &HandshakeChallenge{} }},
	PacketHandshakeResponse:       {"HandshakeResponse", CompressionNone, func() Packet { return &HandshakeResponse{} }},
	PacketConnectSuccess:          {"ConnectSuccess", CompressionNone, func() Packet { return &ConnectSuccess{} }},
	PacketConnectFailure:          {"ConnectFailure", CompressionNone, func() Packet { return &ConnectFailure{} }},
	PacketServerDisconnect:        {"ServerDisconnect", CompressionNone, func() Packet { return &ServerDisconnect{} }},
	PacketPing:                    {"Ping", CompressionNone, func() Packet { return &Ping{} }},
	PacketPong:                    {"Pong", CompressionNone, func() Packet { return &Pong{} }},

	PacketWorldStart:             {"WorldStart", CompressionZstd, func() Packet { return &WorldStart{} }},
	PacketWorldStop:              {"WorldStop", CompressionNone, func() Packet { return &WorldStop{} }},
	PacketStepUpdate:             {"StepUpdate", CompressionNone, func() Packet { return &StepUpdate{} }},
	PacketEnvironmentUpdate:      {"EnvironmentUpdate", CompressionZstd, func() Packet { return &EnvironmentUpdate{} }},
	PacketUpdateWorldProperties:  {"UpdateWorldProperties", CompressionZstd, func() Packet { return &UpdateWorldProperties{} }},
	PacketChatSend:               {"ChatSend", CompressionNone, func() Packet { return &ChatSend{} }},
	PacketChatReceive:            {"ChatReceive", CompressionNone, func() Packet { return &ChatReceive{} }},
	PacketWorldClientStateUpdate: {"WorldClientStateUpdate", CompressionNone, func() Packet { return &WorldClientStateUpdate{} }},

	PacketModifyTileList:          {"ModifyTileList", CompressionZstd, func() Packet { return &ModifyTileList{} }},
	PacketReplaceTileList:         {"ReplaceTileList", CompressionZstd, func() Packet { return &ReplaceTileList{} }},
	PacketDamageTileGroup:         {"DamageTileGroup", CompressionNone, func() Packet { return &DamageTileGroup{} }},
	PacketCollectLiquid:           {"CollectLiquid", CompressionNone, func() Packet { return &CollectLiquid{} }},
	PacketConnectWire:             {"ConnectWire", CompressionNone, func() Packet { return &ConnectWire{} }},
	PacketDisconnectAllWires:      {"DisconnectAllWires", CompressionNone, func() Packet { return &DisconnectAllWires{} }},
	PacketTileArrayUpdate:         {"TileArrayUpdate", CompressionZstd, func() Packet { return &TileArrayUpdate{} }},
	PacketTileUpdate:              {"TileUpdate", CompressionNone, func() Packet { return &TileUpdate{} }},
	PacketTileLiquidUpdate:        {"TileLiquidUpdate", CompressionNone, func() Packet { return &TileLiquidUpdate{} }},
	PacketTileDamageUpdate:        {"TileDamageUpdate", CompressionNone, func() Packet { return &TileDamageUpdate{} }},
	PacketTileModificationFailure: {"TileModificationFailure", CompressionZstd, func() Packet { return &TileModificationFailure{} }},

	PacketSpawnEntity:              {"SpawnEntity", CompressionZstd, func() Packet { return &SpawnEntity{} }},
	PacketEntityCreate:             {"EntityCreate", CompressionZstd, func() Packet { return &EntityCreate{} }},
	PacketEntityUpdateSet:          {"EntityUpdateSet", CompressionZstd, func() Packet { return &EntityUpdateSet{} }},
	PacketEntityDestroy:            {"EntityDestroy", CompressionZstd, func() Packet { return &EntityDestroy{} }},
	PacketEntityInteract:           {"EntityInteract", CompressionNone, func() Packet { return &EntityInteract{} }},
	PacketEntityInteractResult:     {"EntityInteractResult", CompressionZstd, func() Packet { return &EntityInteractResult{} }},
	PacketEntityMessage:            {"EntityMessage", CompressionZstd, func() Packet { return &EntityMessage{} }},
	PacketEntityMessageResponse:    {"EntityMessageResponse", CompressionZstd, func() Packet { return &EntityMessageResponse{} }},
	PacketEntityResyncRequest:      {"EntityResyncRequest", CompressionNone, func() Packet { return &EntityResyncRequest{} }},
	PacketHitRequest:               {"HitRequest", CompressionNone, func() Packet { return &HitRequest{} }},
	PacketDamageRequest:            {"DamageRequest", CompressionNone, func() Packet { return &DamageRequest{} }},
	PacketDamageNotification:       {"DamageNotification", CompressionNone, func() Packet { return &DamageNotification{} }},
	PacketFindUniqueEntity:         {"FindUniqueEntity", CompressionNone, func() Packet { return &FindUniqueEntity{} }},
	PacketFindUniqueEntityResponse: {"FindUniqueEntityResponse", CompressionNone, func() Packet { return &FindUniqueEntityResponse{} }},
}

// Valid тип известен протоколу
func (t PacketType) Valid() bool { return t < packetTypeCount }

func (t PacketType) String() string {
	if t.Valid() {
		return packetTable[t].name
	}
	return fmt.Sprintf("PacketType(%d)", t)
}

// Compression предпочтительное сжатие для типа
func (t PacketType) Compression() Compression {
	if t.Valid() {
		return packetTable[t].compression
	}
	return CompressionNone
}

// ParsePacketType разбирает имя пакета
func ParsePacketType(s string) (PacketType, error) {
	for i := range packetTable {
		if packetTable[i].name == s {
			return PacketType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPacket, s)
}

func (t PacketType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *PacketType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePacketType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// AllPacketTypes все известные типы по порядку
func AllPacketTypes() []PacketType {
	types := make([]PacketType, packetTypeCount)
	for i := range types {
		types[i] = PacketType(i)
	}
	return types
}

// New создаёт пустой пакет по типу
func New(t PacketType) (Packet, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacket, t)
	}
	return packetTable[t].make(), nil
}

// SupportedRules правила совместимости, которые умеет читать и писать этот протокол
func SupportedRules() []netelement.CompatibilityRules {
	return []netelement.CompatibilityRules{netelement.LegacyRules, netelement.CurrentRules}
}

// RulesForVersion правила для версии, запрошенной клиентом в ProtocolRequest
func RulesForVersion(version uint32) (netelement.CompatibilityRules, error) {
	for _, r := range SupportedRules() {
		if r.Version == version {
			return r, nil
		}
	}
	return netelement.CompatibilityRules{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
}

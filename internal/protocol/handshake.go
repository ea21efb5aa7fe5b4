package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/netelement"
)

// ProtocolRequest первый пакет клиента: запрошенная версия правил
type ProtocolRequest struct {
	RequestVersion uint32 `json:"requestProtocolVersion"`
}

func (*ProtocolRequest) Type() PacketType { return PacketProtocolRequest }

func (p *ProtocolRequest) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint32(p.RequestVersion)
	return nil
}

func (p *ProtocolRequest) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.RequestVersion = ds.ReadUint32()
	return ds.Err()
}

// ProtocolResponse ответ сервера на запрос версии.
// Info передаётся только начиная с текущих правил.
type ProtocolResponse struct {
	Allowed bool            `json:"allowed"`
	Info    json.RawMessage `json:"info,omitempty"`
}

func (*ProtocolResponse) Type() PacketType { return PacketProtocolResponse }

func (p *ProtocolResponse) Write(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	ds.WriteBool(p.Allowed)
	if !rules.IsLegacy() {
		writeRawJSON(ds, p.Info)
	}
	return nil
}

func (p *ProtocolResponse) Read(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	p.Allowed = ds.ReadBool()
	if !rules.IsLegacy() {
		p.Info = readRawJSON(ds)
	}
	return ds.Err()
}

// ClientConnect данные игрока после согласования версии
type ClientConnect struct {
	AssetsDigest        []byte          `json:"assetsDigest"`
	AllowAssetsMismatch bool            `json:"allowAssetsMismatch"`
	PlayerUUID          uuid.UUID       `json:"playerUuid"`
	PlayerName          string          `json:"playerName"`
	ShipData            []byte          `json:"shipData,omitempty"`
	Account             string          `json:"account"`
	Info                json.RawMessage `json:"info,omitempty"`
}

func (*ClientConnect) Type() PacketType { return PacketClientConnect }

func (p *ClientConnect) Write(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	ds.WriteBytes(p.AssetsDigest)
	ds.WriteBool(p.AllowAssetsMismatch)
	writeUUID(ds, p.PlayerUUID)
	ds.WriteString(p.PlayerName)
	ds.WriteBytes(p.ShipData)
	ds.WriteString(p.Account)
	if !rules.IsLegacy() {
		writeRawJSON(ds, p.Info)
	}
	return nil
}

func (p *ClientConnect) Read(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	p.AssetsDigest = readBlob(ds)
	p.AllowAssetsMismatch = ds.ReadBool()
	p.PlayerUUID = readUUID(ds)
	p.PlayerName = ds.ReadString()
	p.ShipData = readBlob(ds)
	p.Account = ds.ReadString()
	if !rules.IsLegacy() {
		p.Info = readRawJSON(ds)
	}
	return ds.Err()
}

// ClientDisconnectRequest клиент уходит сам
type ClientDisconnectRequest struct{}

func (*ClientDisconnectRequest) Type() PacketType { return PacketClientDisconnectRequest }

func (*ClientDisconnectRequest) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint8(0)
	return nil
}

func (*ClientDisconnectRequest) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.ReadUint8()
	return ds.Err()
}

// HandshakeChallenge соль для пароля аккаунта
type HandshakeChallenge struct {
	PasswordSalt []byte `json:"passwordSalt"`
}

func (*HandshakeChallenge) Type() PacketType { return PacketHandshakeChallenge }

func (p *HandshakeChallenge) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteBytes(p.PasswordSalt)
	return nil
}

func (p *HandshakeChallenge) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.PasswordSalt = readBlob(ds)
	return ds.Err()
}

// HandshakeResponse хеш пароля с солью из вызова
type HandshakeResponse struct {
	PassHash []byte `json:"passHash"`
}

func (*HandshakeResponse) Type() PacketType { return PacketHandshakeResponse }

func (p *HandshakeResponse) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteBytes(p.PassHash)
	return nil
}

func (p *HandshakeResponse) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.PassHash = readBlob(ds)
	return ds.Err()
}

// ConnectSuccess клиент принят
type ConnectSuccess struct {
	ClientID   uint16    `json:"clientId"`
	ServerUUID uuid.UUID `json:"serverUuid"`
	ServerName string    `json:"serverName"`
}

func (*ConnectSuccess) Type() PacketType { return PacketConnectSuccess }

func (p *ConnectSuccess) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint16(p.ClientID)
	writeUUID(ds, p.ServerUUID)
	ds.WriteString(p.ServerName)
	return nil
}

func (p *ConnectSuccess) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.ClientID = ds.ReadUint16()
	p.ServerUUID = readUUID(ds)
	p.ServerName = ds.ReadString()
	return ds.Err()
}

// ConnectFailure отказ в подключении
type ConnectFailure struct {
	Reason string `json:"reason"`
}

func (*ConnectFailure) Type() PacketType { return PacketConnectFailure }

func (p *ConnectFailure) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteString(p.Reason)
	return nil
}

func (p *ConnectFailure) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Reason = ds.ReadString()
	return ds.Err()
}

// ServerDisconnect сервер закрывает соединение
type ServerDisconnect struct {
	Reason string `json:"reason"`
}

func (*ServerDisconnect) Type() PacketType { return PacketServerDisconnect }

func (p *ServerDisconnect) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteString(p.Reason)
	return nil
}

func (p *ServerDisconnect) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Reason = ds.ReadString()
	return ds.Err()
}

// Ping проверка соединения, Time монотонное время отправителя в миллисекундах
type Ping struct {
	Time int64 `json:"time"`
}

func (*Ping) Type() PacketType { return PacketPing }

func (p *Ping) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVarInt(p.Time)
	return nil
}

func (p *Ping) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Time = ds.ReadVarInt()
	return ds.Err()
}

// Pong ответ на Ping с тем же временем
type Pong struct {
	Time int64 `json:"time"`
}

func (*Pong) Type() PacketType { return PacketPong }

func (p *Pong) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVarInt(p.Time)
	return nil
}

func (p *Pong) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Time = ds.ReadVarInt()
	return ds.Err()
}

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/tile"
)

// LegacyStepDuration длительность шага, из которой старые клиенты выводят время сервера
const LegacyStepDuration = 1.0 / 60.0

// WorldStart начальное состояние мира для подключившегося клиента
type WorldStart struct {
	TemplateData           json.RawMessage  `json:"templateData"`
	SkyData                []byte           `json:"skyData,omitempty"`
	WeatherData            []byte           `json:"weatherData,omitempty"`
	PlayerStart            vec.Vec2F        `json:"playerStart"`
	WorldProperties        json.RawMessage  `json:"worldProperties,omitempty"`
	ClientID               uint16           `json:"clientId"`
	LocalInterpolationMode bool             `json:"localInterpolationMode"`
	ProtectedDungeonIDs    []tile.DungeonID `json:"protectedDungeonIds,omitempty"`
}

func (*WorldStart) Type() PacketType { return PacketWorldStart }

func (p *WorldStart) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	writeRawJSON(ds, p.TemplateData)
	ds.WriteBytes(p.SkyData)
	ds.WriteBytes(p.WeatherData)
	ds.WriteVec2F(p.PlayerStart)
	writeRawJSON(ds, p.WorldProperties)
	ds.WriteUint16(p.ClientID)
	ds.WriteBool(p.LocalInterpolationMode)
	ds.WriteVarUint(uint64(len(p.ProtectedDungeonIDs)))
	for _, id := range p.ProtectedDungeonIDs {
		ds.WriteUint16(uint16(id))
	}
	return nil
}

func (p *WorldStart) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.TemplateData = readRawJSON(ds)
	p.SkyData = readBlob(ds)
	p.WeatherData = readBlob(ds)
	p.PlayerStart = ds.ReadVec2F()
	p.WorldProperties = readRawJSON(ds)
	p.ClientID = ds.ReadUint16()
	p.LocalInterpolationMode = ds.ReadBool()
	if n := readCount(ds, 2); n > 0 {
		p.ProtectedDungeonIDs = make([]tile.DungeonID, n)
		for i := range p.ProtectedDungeonIDs {
			p.ProtectedDungeonIDs[i] = tile.DungeonID(ds.ReadUint16())
		}
	}
	return ds.Err()
}

// WorldStop клиент покидает мир
type WorldStop struct {
	Reason string `json:"reason"`
}

func (*WorldStop) Type() PacketType { return PacketWorldStop }

func (p *WorldStop) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteString(p.Reason)
	return nil
}

func (p *WorldStop) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Reason = ds.ReadString()
	return ds.Err()
}

// StepUpdate привязка времени сервера в конце тика.
// Старые правила передают только номер шага, время выводится из него.
type StepUpdate struct {
	Step       uint64  `json:"remoteStep"`
	RemoteTime float64 `json:"remoteTime"`
}

func (*StepUpdate) Type() PacketType { return PacketStepUpdate }

func (p *StepUpdate) Write(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	ds.WriteVarUint(p.Step)
	if !rules.IsLegacy() {
		ds.WriteFloat64(p.RemoteTime)
	}
	return nil
}

func (p *StepUpdate) Read(ds *netelement.DataStream, rules netelement.CompatibilityRules) error {
	p.Step = ds.ReadVarUint()
	if rules.IsLegacy() {
		p.RemoteTime = float64(p.Step) * LegacyStepDuration
	} else {
		p.RemoteTime = ds.ReadFloat64()
	}
	return ds.Err()
}

// EnvironmentUpdate дельты неба и погоды
type EnvironmentUpdate struct {
	SkyDelta     []byte `json:"skyDelta,omitempty"`
	WeatherDelta []byte `json:"weatherDelta,omitempty"`
}

func (*EnvironmentUpdate) Type() PacketType { return PacketEnvironmentUpdate }

func (p *EnvironmentUpdate) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteBytes(p.SkyDelta)
	ds.WriteBytes(p.WeatherDelta)
	return nil
}

func (p *EnvironmentUpdate) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.SkyDelta = readBlob(ds)
	p.WeatherDelta = readBlob(ds)
	return ds.Err()
}

// UpdateWorldProperties объект изменённых свойств мира; null удаляет свойство
type UpdateWorldProperties struct {
	Updated json.RawMessage `json:"updatedProperties"`
}

func (*UpdateWorldProperties) Type() PacketType { return PacketUpdateWorldProperties }

func (p *UpdateWorldProperties) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	writeRawJSON(ds, p.Updated)
	return nil
}

func (p *UpdateWorldProperties) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Updated = readRawJSON(ds)
	return ds.Err()
}

// ChatSendMode кому адресовано сообщение клиента
type ChatSendMode uint8

const (
	ChatSendBroadcast ChatSendMode = iota
	ChatSendLocal
	ChatSendParty
)

// ChatReceiveMode контекст полученного сообщения
type ChatReceiveMode uint8

const (
	ChatLocal ChatReceiveMode = iota
	ChatParty
	ChatBroadcast
	ChatWhisper
	ChatCommandResult
	ChatRadioMessage
	ChatWorld
)

var chatReceiveNames = [...]string{"Local", "Party", "Broadcast", "Whisper", "CommandResult", "RadioMessage", "World"}

func (m ChatReceiveMode) String() string {
	if int(m) < len(chatReceiveNames) {
		return chatReceiveNames[m]
	}
	return fmt.Sprintf("ChatReceiveMode(%d)", m)
}

func (m ChatReceiveMode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *ChatReceiveMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, n := range chatReceiveNames {
		if n == s {
			*m = ChatReceiveMode(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестный режим чата %q", s)
}

// ChatSend сообщение чата от клиента
type ChatSend struct {
	Text string       `json:"text"`
	Mode ChatSendMode `json:"sendMode"`
}

func (*ChatSend) Type() PacketType { return PacketChatSend }

func (p *ChatSend) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteString(p.Text)
	ds.WriteUint8(uint8(p.Mode))
	return nil
}

func (p *ChatSend) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Text = ds.ReadString()
	p.Mode = ChatSendMode(ds.ReadUint8())
	return ds.Err()
}

// ChatReceive сообщение чата для клиента
type ChatReceive struct {
	Mode           ChatReceiveMode `json:"mode"`
	Channel        string          `json:"channel,omitempty"`
	FromConnection uint16          `json:"fromConnection"`
	FromNick       string          `json:"fromNick"`
	Text           string          `json:"text"`
}

func (*ChatReceive) Type() PacketType { return PacketChatReceive }

func (p *ChatReceive) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteUint8(uint8(p.Mode))
	ds.WriteString(p.Channel)
	ds.WriteUint16(p.FromConnection)
	ds.WriteString(p.FromNick)
	ds.WriteString(p.Text)
	return nil
}

func (p *ChatReceive) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Mode = ChatReceiveMode(ds.ReadUint8())
	p.Channel = ds.ReadString()
	p.FromConnection = ds.ReadUint16()
	p.FromNick = ds.ReadString()
	p.Text = ds.ReadString()
	return ds.Err()
}

// WorldClientStateUpdate окно видимости клиента и его игрок
type WorldClientStateUpdate struct {
	Window   vec.RectI `json:"window"`
	PlayerID int32     `json:"playerId"`
}

func (*WorldClientStateUpdate) Type() PacketType { return PacketWorldClientStateUpdate }

func (p *WorldClientStateUpdate) Write(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	ds.WriteVec2(p.Window.Min)
	ds.WriteVec2(p.Window.Max)
	ds.WriteInt32(p.PlayerID)
	return nil
}

func (p *WorldClientStateUpdate) Read(ds *netelement.DataStream, _ netelement.CompatibilityRules) error {
	p.Window.Min = ds.ReadVec2()
	p.Window.Max = ds.ReadVec2()
	p.PlayerID = ds.ReadInt32()
	return ds.Err()
}

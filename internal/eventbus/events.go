package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/vec"
)

// ErrBusClosed шина уже закрыта
var ErrBusClosed = errors.New("шина событий закрыта")

// Типы событий миров
const (
	EventChatMessage  = "ChatMessage"
	EventPlayerJoined = "PlayerJoined"
	EventPlayerLeft   = "PlayerLeft"
	EventWorldSaved   = "WorldSaved"
)

// AllWorlds адрес объявления для всех миров
const AllWorlds = "*"

// ChatMessage реплика чата, пересылаемая между серверами
type ChatMessage struct {
	World    string `json:"world"`
	FromNick string `json:"fromNick"`
	Channel  string `json:"channel,omitempty"`
	Text     string `json:"text"`
}

// PlayerPresence вход или выход игрока
type PlayerPresence struct {
	World      string    `json:"world"`
	ClientID   uint16    `json:"clientId"`
	PlayerName string    `json:"playerName"`
	PlayerUUID uuid.UUID `json:"playerUuid"`
	// Position последняя позиция персонажа при выходе
	Position *vec.Vec2F `json:"position,omitempty"`
}

// WorldSaved мир записан в хранилище
type WorldSaved struct {
	World    string `json:"world"`
	Step     uint64 `json:"step"`
	Chunks   int    `json:"chunks"`
	Entities int    `json:"entities"`
}

// NewEnvelope упаковывает полезную нагрузку в JSON-конверт
func NewEnvelope(source, eventType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("событие %s: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку события
func Decode[T any](ev *Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("событие %s %s: %w", ev.EventType, ev.ID, err)
	}
	return out, nil
}

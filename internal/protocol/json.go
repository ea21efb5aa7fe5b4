package protocol

import (
	"encoding/json"
	"fmt"
)

// jsonEnvelope JSON-форма пакета: имя типа и тело
type jsonEnvelope struct {
	Type PacketType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ToJSON JSON-представление пакета для тестов и инструментов администратора
func ToJSON(p Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, &ProtocolError{Op: "json", Type: p.Type(), Err: err}
	}
	return json.Marshal(jsonEnvelope{Type: p.Type(), Data: data})
}

// FromJSON восстанавливает пакет из ToJSON
func FromJSON(data []byte) (Packet, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("разбор пакета: %w", err)
	}
	p, err := New(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return nil, &ProtocolError{Op: "json", Type: env.Type, Err: err}
		}
	}
	return p, nil
}

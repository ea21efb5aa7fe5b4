package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/annel0/tileverse/internal/netelement"
)

// Текстовые формы бинарного буфера в инструментах администратора
const (
	FormatBase64 = "base64"
	FormatHex    = "hex"
)

// PacketsFromJSON разбирает один конверт {type, data} или массив конвертов
func PacketsFromJSON(data []byte) ([]Packet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("пустой JSON")
	}
	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("разбор списка пакетов: %w", err)
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}
	packets := make([]Packet, 0, len(raws))
	for i, raw := range raws {
		p, err := FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("пакет %d: %w", i, err)
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// PacketsToJSON JSON-конверты пакетов в порядке следования
func PacketsToJSON(packets []Packet) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(packets))
	for _, p := range packets {
		data, err := ToJSON(p)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// EncodeJSON собирает JSON-конверты в бинарный буфер кадров
func (c *Codec) EncodeJSON(data []byte, rules netelement.CompatibilityRules) ([]byte, int, error) {
	packets, err := PacketsFromJSON(data)
	if err != nil {
		return nil, 0, err
	}
	out, err := c.Encode(packets, rules)
	if err != nil {
		return nil, 0, err
	}
	return out, len(packets), nil
}

// DecodeJSON разбирает бинарный буфер кадров в JSON-конверты
func (c *Codec) DecodeJSON(data []byte, rules netelement.CompatibilityRules) ([]json.RawMessage, error) {
	packets, err := c.Decode(data, rules)
	if err != nil {
		return nil, err
	}
	return PacketsToJSON(packets)
}

// FormatBytes текстовая форма буфера
func FormatBytes(data []byte, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatBase64:
		return base64.StdEncoding.EncodeToString(data), nil
	case FormatHex:
		return hex.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("неизвестный формат %q", format)
	}
}

// ParseBytes разбирает текстовую форму буфера; пробелы в hex допускаются
func ParseBytes(text, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatBase64:
		return base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	case FormatHex:
		return hex.DecodeString(strings.Join(strings.Fields(text), ""))
	default:
		return nil, fmt.Errorf("неизвестный формат %q", format)
	}
}

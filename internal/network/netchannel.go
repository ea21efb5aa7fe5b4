// Package network переносит пакеты протокола между клиентами и сервером мира.
package network

import (
	"errors"
	"time"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
)

// ChannelType определяет тип канала связи
type ChannelType int

const (
	ChannelMemory ChannelType = iota
	ChannelKCP
	ChannelWebSocket
)

func (t ChannelType) String() string {
	switch t {
	case ChannelMemory:
		return "memory"
	case ChannelKCP:
		return "kcp"
	case ChannelWebSocket:
		return "websocket"
	}
	return "unknown"
}

// Ошибки транспорта
var (
	ErrSocketClosed = errors.New("сокет закрыт")
	ErrQueueFull    = errors.New("очередь пакетов переполнена")
	ErrFrameTooBig  = errors.New("кадр превышает допустимый размер")
)

// ConnectionStats содержит статистику соединения
type ConnectionStats struct {
	PacketsSent     uint64    // Отправлено пакетов
	PacketsReceived uint64    // Получено пакетов
	BytesSent       uint64    // Отправлено байт
	BytesReceived   uint64    // Получено байт
	LastActivity    time.Time // Последняя активность
	Connected       bool      // Статус соединения
	RemoteAddr      string    // Адрес удалённого узла
}

// PacketSocket двунаправленный поток пакетов одного соединения.
//
// SendPackets и ReceivePackets не блокируются: отправка кладёт кадр в
// очередь потока записи, приём забирает всё, что уже разобрал поток чтения.
// Каждую сторону в каждый момент использует одна горутина.
type PacketSocket interface {
	// SendPackets кодирует пакеты текущими правилами и ставит кадр в очередь
	SendPackets(packets []protocol.Packet) error
	// ReceivePackets забирает принятые пакеты в порядке прихода
	ReceivePackets() []protocol.Packet
	// Incoming сигналит о появлении новых пакетов
	Incoming() <-chan struct{}

	SetRules(rules netelement.CompatibilityRules)
	Rules() netelement.CompatibilityRules

	// IsOpen ложно после Close или фатальной ошибки
	IsOpen() bool
	// Err фатальная ошибка, закрывшая сокет
	Err() error
	// Flush ждёт опустошения очереди отправки
	Flush(timeout time.Duration) bool
	Close() error

	Type() ChannelType
	RemoteAddr() string
	Stats() ConnectionStats
}

// ChannelConfig содержит конфигурацию канала
type ChannelConfig struct {
	Type          ChannelType
	QueueSize     int           // ёмкость очередей пакетов, степень двойки
	Compression   bool          // zstd для крупных пакетов
	MaxFrameSize  int           // предел размера кадра
	Timeout       time.Duration // простой соединения до разрыва
	WriteTimeout  time.Duration
	HandshakeWait time.Duration // предел на рукопожатие
}

// DefaultChannelConfig возвращает конфигурацию канала по умолчанию
func DefaultChannelConfig(channelType ChannelType) *ChannelConfig {
	return &ChannelConfig{
		Type:          channelType,
		QueueSize:     1024,
		Compression:   true,
		MaxFrameSize:  protocol.MaxPacketSize,
		Timeout:       30 * time.Second,
		WriteTimeout:  5 * time.Second,
		HandshakeWait: 10 * time.Second,
	}
}

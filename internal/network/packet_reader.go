package network

import (
	"context"
	"fmt"

	"github.com/annel0/tileverse/internal/protocol"
)

// packetReader выдаёт пакеты сокета по одному; используется в рукопожатии,
// где важен порядок отдельных пакетов
type packetReader struct {
	socket PacketSocket
	buf    []protocol.Packet
}

func (r *packetReader) next(ctx context.Context) (protocol.Packet, error) {
	for len(r.buf) == 0 {
		r.buf = r.socket.ReceivePackets()
		if len(r.buf) > 0 {
			break
		}
		if !r.socket.IsOpen() {
			// пакеты, разобранные до закрытия, всё ещё доставляются
			if r.buf = r.socket.ReceivePackets(); len(r.buf) > 0 {
				break
			}
			if err := r.socket.Err(); err != nil {
				return nil, err
			}
			return nil, ErrSocketClosed
		}
		select {
		case <-r.socket.Incoming():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := r.buf[0]
	r.buf = r.buf[1:]
	return p, nil
}

// rest оставшиеся непрочитанные пакеты
func (r *packetReader) rest() []protocol.Packet {
	rest := r.buf
	r.buf = nil
	return rest
}

// UnexpectedPacketError пакет пришёл не на своём шаге
type UnexpectedPacketError struct {
	Want protocol.PacketType
	Got  protocol.PacketType
}

func (e *UnexpectedPacketError) Error() string {
	return fmt.Sprintf("ожидался пакет %s, получен %s", e.Want, e.Got)
}

// expect читает следующий пакет и проверяет его тип
func expect[T protocol.Packet](ctx context.Context, r *packetReader, want protocol.PacketType) (T, error) {
	var zero T
	p, err := r.next(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, &UnexpectedPacketError{Want: want, Got: p.Type()}
	}
	return typed, nil
}

package network

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/auth"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
)

// ErrProtocolRejected сервер не поддерживает запрошенную версию протокола
var ErrProtocolRejected = errors.New("сервер отклонил версию протокола")

// ConnectError отказ сервера с причиной из ConnectFailure
type ConnectError struct {
	Reason string
}

func (e *ConnectError) Error() string { return "подключение отклонено: " + e.Reason }

// ClientConnector параметры подключения клиента к серверу
type ClientConnector struct {
	PlayerUUID          uuid.UUID
	PlayerName          string
	Account             string
	Password            string
	AssetsDigest        []byte
	AllowAssetsMismatch bool
	ShipData            []byte
	Info                json.RawMessage
	// Rules версия протокола, которую запрашивает клиент
	Rules   netelement.CompatibilityRules
	Timeout time.Duration
}

// Connection результат успешного рукопожатия
type Connection struct {
	Socket     PacketSocket
	ClientID   uint16
	ServerUUID uuid.UUID
	ServerName string
	ServerInfo json.RawMessage
	// Pending пакеты сервера, пришедшие вместе с ConnectSuccess
	Pending []protocol.Packet
}

// Connect проводит клиентскую сторону рукопожатия на уже открытом сокете.
// При ошибке сокет закрывается.
func (cc *ClientConnector) Connect(ctx context.Context, sock PacketSocket) (*Connection, error) {
	conn, err := cc.handshake(ctx, sock)
	if err != nil {
		sock.Close()
		return nil, err
	}
	logging.GetClientLogger().Info("🤝 Connected to %s as client %d", conn.ServerName, conn.ClientID)
	return conn, nil
}

func (cc *ClientConnector) handshake(ctx context.Context, sock PacketSocket) (*Connection, error) {
	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}
	rules := cc.Rules
	if rules.Version == 0 {
		rules = netelement.CurrentRules
	}
	sock.SetRules(rules)

	reader := &packetReader{socket: sock}
	if err := sock.SendPackets([]protocol.Packet{&protocol.ProtocolRequest{RequestVersion: rules.Version}}); err != nil {
		return nil, err
	}
	resp, err := expect[*protocol.ProtocolResponse](ctx, reader, protocol.PacketProtocolResponse)
	if err != nil {
		return nil, err
	}
	if !resp.Allowed {
		return nil, ErrProtocolRejected
	}

	connect := &protocol.ClientConnect{
		AssetsDigest:        cc.AssetsDigest,
		AllowAssetsMismatch: cc.AllowAssetsMismatch,
		PlayerUUID:          cc.PlayerUUID,
		PlayerName:          cc.PlayerName,
		ShipData:            cc.ShipData,
		Account:             cc.Account,
		Info:                cc.Info,
	}
	if err := sock.SendPackets([]protocol.Packet{connect}); err != nil {
		return nil, err
	}

	for {
		p, err := reader.next(ctx)
		if err != nil {
			return nil, err
		}
		switch pkt := p.(type) {
		case *protocol.HandshakeChallenge:
			hash, err := auth.RespondToChallenge(cc.Password, pkt.PasswordSalt)
			if err != nil {
				return nil, err
			}
			if err := sock.SendPackets([]protocol.Packet{&protocol.HandshakeResponse{PassHash: hash}}); err != nil {
				return nil, err
			}
		case *protocol.ConnectFailure:
			return nil, &ConnectError{Reason: pkt.Reason}
		case *protocol.ConnectSuccess:
			return &Connection{
				Socket:     sock,
				ClientID:   pkt.ClientID,
				ServerUUID: pkt.ServerUUID,
				ServerName: pkt.ServerName,
				ServerInfo: resp.Info,
				Pending:    reader.rest(),
			}, nil
		default:
			return nil, &UnexpectedPacketError{Want: protocol.PacketConnectSuccess, Got: p.Type()}
		}
	}
}

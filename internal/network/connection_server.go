package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/auth"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
)

// Причины отказа в подключении
const (
	ReasonAssetsMismatch = "Набор ассетов клиента не совпадает с сервером"
	ReasonServerFull     = "Сервер заполнен"
)

// ServerInfo сведения о сервере для ProtocolResponse
type ServerInfo struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
}

// ConnectionServerConfig настройки приёма соединений
type ConnectionServerConfig struct {
	ServerUUID   uuid.UUID
	Info         ServerInfo
	AssetsDigest []byte // пустой дайджест не проверяется
	Handshake    time.Duration
}

// ConnectionServer принимает соединения со всех слушателей, проводит
// рукопожатие и передаёт сокет GameServer
type ConnectionServer struct {
	config    ConnectionServerConfig
	listeners []Listener
	auth      *auth.GameAuthenticator
	game      *GameServer
	info      json.RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  *logging.Logger
	metrics *Metrics
}

// NewConnectionServer создаёт сервер соединений. authenticator может быть nil,
// тогда учётные записи не проверяются.
func NewConnectionServer(config ConnectionServerConfig, game *GameServer, authenticator *auth.GameAuthenticator, metrics *Metrics) (*ConnectionServer, error) {
	if config.Handshake <= 0 {
		config.Handshake = 10 * time.Second
	}
	if config.ServerUUID == uuid.Nil {
		config.ServerUUID = uuid.New()
	}
	info, err := json.Marshal(config.Info)
	if err != nil {
		return nil, err
	}
	if authenticator == nil {
		authenticator = auth.NewGameAuthenticator(nil, false)
	}
	return &ConnectionServer{
		config:  config,
		auth:    authenticator,
		game:    game,
		info:    info,
		logger:  logging.GetNetworkLogger(),
		metrics: metrics,
	}, nil
}

// Start запускает приём на всех слушателях
func (cs *ConnectionServer) Start(listeners ...Listener) {
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.listeners = append(cs.listeners, listeners...)
	for _, l := range listeners {
		cs.wg.Add(1)
		go cs.acceptLoop(l)
		cs.logger.Info("🚀 Accepting connections on %s", l.Addr())
	}
}

// Stop закрывает слушателей и ждёт незавершённые рукопожатия
func (cs *ConnectionServer) Stop() {
	if cs.cancel != nil {
		cs.cancel()
	}
	for _, l := range cs.listeners {
		if err := l.Close(); err != nil {
			cs.logger.Warn("⚠️ Closing listener %s: %v", l.Addr(), err)
		}
	}
	cs.wg.Wait()
	cs.logger.Info("🛑 Connection server stopped")
}

func (cs *ConnectionServer) acceptLoop(l Listener) {
	defer cs.wg.Done()
	for {
		sock, err := l.Accept(cs.ctx)
		if err != nil {
			if cs.ctx.Err() == nil && !errors.Is(err, ErrSocketClosed) {
				cs.logger.Error("Failed to accept connection on %s: %v", l.Addr(), err)
			}
			return
		}
		cs.wg.Add(1)
		go func() {
			defer cs.wg.Done()
			ctx, cancel := context.WithTimeout(cs.ctx, cs.config.Handshake)
			defer cancel()
			if err := cs.Handshake(ctx, sock); err != nil {
				cs.logger.Warn("⚠️ Handshake with %s failed: %v", sock.RemoteAddr(), err)
			}
		}()
	}
}

// refuse отправляет прощальный пакет и закрывает сокет
func (cs *ConnectionServer) refuse(sock PacketSocket, p protocol.Packet) {
	if err := sock.SendPackets([]protocol.Packet{p}); err == nil {
		sock.Flush(time.Second)
	}
	sock.Close()
	cs.metrics.handshake("refused")
}

// Handshake проводит рукопожатие на сокете и при успехе передаёт его
// GameServer. При любой ошибке сокет закрывается.
func (cs *ConnectionServer) Handshake(ctx context.Context, sock PacketSocket) error {
	reader := &packetReader{socket: sock}

	req, err := expect[*protocol.ProtocolRequest](ctx, reader, protocol.PacketProtocolRequest)
	if err != nil {
		sock.Close()
		cs.metrics.handshake("error")
		return err
	}
	rules, err := protocol.RulesForVersion(req.RequestVersion)
	if err != nil {
		// отказ пишется в той форме, которую ждёт клиент
		sock.SetRules(netelement.CompatibilityRules{Version: req.RequestVersion})
		cs.refuse(sock, &protocol.ProtocolResponse{Allowed: false})
		return err
	}
	sock.SetRules(rules)
	if err := sock.SendPackets([]protocol.Packet{&protocol.ProtocolResponse{Allowed: true, Info: cs.info}}); err != nil {
		sock.Close()
		return err
	}

	connect, err := expect[*protocol.ClientConnect](ctx, reader, protocol.PacketClientConnect)
	if err != nil {
		sock.Close()
		cs.metrics.handshake("error")
		return err
	}

	if len(cs.config.AssetsDigest) > 0 && !connect.AllowAssetsMismatch &&
		!bytes.Equal(cs.config.AssetsDigest, connect.AssetsDigest) {
		cs.refuse(sock, &protocol.ConnectFailure{Reason: ReasonAssetsMismatch})
		return errors.New(ReasonAssetsMismatch)
	}

	pending, err := cs.auth.Begin(connect.Account)
	if err != nil {
		cs.refuse(sock, &protocol.ConnectFailure{Reason: err.Error()})
		return err
	}
	privileged := false
	if pending != nil {
		challenge := &protocol.HandshakeChallenge{PasswordSalt: pending.Challenge.Encode()}
		if err := sock.SendPackets([]protocol.Packet{challenge}); err != nil {
			sock.Close()
			return err
		}
		resp, err := expect[*protocol.HandshakeResponse](ctx, reader, protocol.PacketHandshakeResponse)
		if err != nil {
			sock.Close()
			cs.metrics.handshake("error")
			return err
		}
		user, err := cs.auth.Complete(pending, resp.PassHash)
		if err != nil {
			cs.refuse(sock, &protocol.ConnectFailure{Reason: err.Error()})
			return err
		}
		privileged = user != nil && user.IsAdmin
	}

	clientID, ok := cs.game.reserveClientID()
	if !ok {
		cs.refuse(sock, &protocol.ConnectFailure{Reason: ReasonServerFull})
		return errors.New(ReasonServerFull)
	}
	success := &protocol.ConnectSuccess{
		ClientID:   clientID,
		ServerUUID: cs.config.ServerUUID,
		ServerName: cs.config.Info.Name,
	}
	if err := sock.SendPackets([]protocol.Packet{success}); err != nil {
		cs.game.releaseClientID(clientID)
		sock.Close()
		return err
	}

	cs.metrics.handshake("success")
	cs.logger.Info("🤝 Client %d (%s, %s) connected from %s", clientID, connect.PlayerName, connect.PlayerUUID, sock.RemoteAddr())
	if privileged {
		cs.logger.Info("👑 Client %d uses admin account %s", clientID, connect.Account)
	}
	cs.game.addConnection(clientID, sock, connect, reader.rest(), privileged)
	return nil
}

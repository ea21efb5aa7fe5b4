package network

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/world/entity"
)

// Причины отключения, уходящие клиенту в ServerDisconnect
const (
	ReasonClientLeft     = "Клиент отключился"
	ReasonServerShutdown = "Сервер остановлен"
	ReasonProtocolError  = "Нарушение протокола"
	ReasonKicked         = "Отключён администратором"
)

// World симуляция, которую обслуживает GameServer. Все методы вызываются
// только из горутины тика.
type World interface {
	// AddClient privileged выставляется для учётных записей администраторов
	AddClient(clientID entity.ConnectionID, connect *protocol.ClientConnect, rules netelement.CompatibilityRules, privileged bool) error
	RemoveClient(clientID entity.ConnectionID)
	HandleIncomingPackets(clientID entity.ConnectionID, packets []protocol.Packet) error
	Update(dt float64)
	GetOutgoingPackets(clientID entity.ConnectionID) []protocol.Packet
}

// clientConn клиент в мире
type clientConn struct {
	id         entity.ConnectionID
	socket     PacketSocket
	connect    *protocol.ClientConnect
	inbound    []protocol.Packet
	privileged bool
}

// GameServer владеет горутиной мира: в начале тика принимает новых
// клиентов и разбирает входящие пакеты, затем продвигает мир на
// фиксированный dt и рассылает исходящие пакеты.
type GameServer struct {
	world    World
	tickRate time.Duration
	dt       float64

	pendingMu sync.Mutex
	pending   []*clientConn
	commands  chan func(World)

	idsMu   sync.Mutex
	usedIDs map[entity.ConnectionID]bool
	nextID  entity.ConnectionID

	// принадлежит горутине тика
	clients      map[entity.ConnectionID]*clientConn
	clientCount  atomic.Int32
	tick         atomic.Uint64
	betweenTicks []func()

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	logger  *logging.Logger
	metrics *Metrics
}

// NewGameServer создаёт сервер для мира с частотой tickRate тиков в секунду
func NewGameServer(world World, tickRate int, metrics *Metrics) *GameServer {
	if tickRate <= 0 {
		tickRate = 60
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GameServer{
		world:    world,
		tickRate: time.Second / time.Duration(tickRate),
		dt:       1 / float64(tickRate),
		commands: make(chan func(World), 64),
		usedIDs:  make(map[entity.ConnectionID]bool),
		nextID:   1,
		clients:  make(map[entity.ConnectionID]*clientConn),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.GetServerLogger(),
		metrics:  metrics,
	}
}

// Start запускает горутину тика
func (gs *GameServer) Start() {
	if !gs.running.CompareAndSwap(false, true) {
		return
	}
	gs.wg.Add(1)
	go func() {
		defer gs.wg.Done()

		ticker := time.NewTicker(gs.tickRate)
		defer ticker.Stop()

		for {
			select {
			case <-gs.ctx.Done():
				return
			case <-ticker.C:
				gs.Step()
			}
		}
	}()
	gs.logger.Info("🎮 Game server started (%d ticks/s)", int(time.Second/gs.tickRate))
}

// Stop останавливает тик и отключает всех клиентов
func (gs *GameServer) Stop() {
	gs.logger.Info("🛑 Stopping game server...")
	gs.cancel()
	gs.wg.Wait()

	gs.admit()
	for _, id := range gs.sortedClientIDs() {
		gs.disconnect(gs.clients[id], ReasonServerShutdown, true)
	}
	gs.logger.Info("✅ Game server stopped")
}

// Step один тик мира. Вызывается горутиной тика; в тестах напрямую, без Start.
func (gs *GameServer) Step() {
	started := time.Now()

	gs.runCommands()
	gs.admit()

	for _, id := range gs.sortedClientIDs() {
		gs.pumpIncoming(gs.clients[id])
	}

	gs.world.Update(gs.dt)

	for _, id := range gs.sortedClientIDs() {
		c := gs.clients[id]
		out := gs.world.GetOutgoingPackets(id)
		if len(out) == 0 {
			continue
		}
		if err := c.socket.SendPackets(out); err != nil {
			gs.logger.Warn("⚠️ Sending to client %d failed: %v", id, err)
			gs.disconnect(c, "", false)
			continue
		}
		gs.metrics.observePackets("out", out)
	}

	gs.tick.Add(1)
	gs.metrics.observeTick(time.Since(started).Seconds())

	for _, fn := range gs.betweenTicks {
		fn()
	}
}

// BetweenTicks добавляет работу, которая выполняется в горутине тика после
// каждого тика и не входит в его длительность. Вызывать до Start.
func (gs *GameServer) BetweenTicks(fn func()) {
	gs.betweenTicks = append(gs.betweenTicks, fn)
}

// Do выполняет fn в горутине тика и ждёт завершения
func (gs *GameServer) Do(ctx context.Context, fn func(World)) error {
	done := make(chan struct{})
	wrapped := func(w World) {
		defer close(done)
		fn(w)
	}
	select {
	case gs.commands <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kick отключает клиента при следующем тике
func (gs *GameServer) Kick(clientID entity.ConnectionID, reason string) {
	if reason == "" {
		reason = ReasonKicked
	}
	select {
	case gs.commands <- func(World) {
		if c, ok := gs.clients[clientID]; ok {
			gs.disconnect(c, reason, true)
		}
	}:
	default:
		gs.logger.Warn("⚠️ Command queue full, kick of client %d dropped", clientID)
	}
}

// ClientCount число клиентов в мире
func (gs *GameServer) ClientCount() int { return int(gs.clientCount.Load()) }

// TickCount число выполненных тиков
func (gs *GameServer) TickCount() uint64 { return gs.tick.Load() }

func (gs *GameServer) runCommands() {
	for {
		select {
		case cmd := <-gs.commands:
			cmd(gs.world)
		default:
			return
		}
	}
}

func (gs *GameServer) reserveClientID() (entity.ConnectionID, bool) {
	gs.idsMu.Lock()
	defer gs.idsMu.Unlock()
	if len(gs.usedIDs) >= int(entity.MaxClientConnection) {
		return 0, false
	}
	for gs.usedIDs[gs.nextID] {
		gs.nextID++
		if gs.nextID > entity.MaxClientConnection {
			gs.nextID = 1
		}
	}
	id := gs.nextID
	gs.usedIDs[id] = true
	gs.nextID++
	if gs.nextID > entity.MaxClientConnection {
		gs.nextID = 1
	}
	return id, true
}

func (gs *GameServer) releaseClientID(id entity.ConnectionID) {
	gs.idsMu.Lock()
	delete(gs.usedIDs, id)
	gs.idsMu.Unlock()
}

// addConnection передаёт сокет после рукопожатия; мир увидит клиента в начале следующего тика
func (gs *GameServer) addConnection(id entity.ConnectionID, sock PacketSocket, connect *protocol.ClientConnect, inbound []protocol.Packet, privileged bool) {
	gs.pendingMu.Lock()
	gs.pending = append(gs.pending, &clientConn{id: id, socket: sock, connect: connect, inbound: inbound, privileged: privileged})
	gs.pendingMu.Unlock()
}

func (gs *GameServer) admit() {
	gs.pendingMu.Lock()
	pending := gs.pending
	gs.pending = nil
	gs.pendingMu.Unlock()

	for _, c := range pending {
		if err := gs.world.AddClient(c.id, c.connect, c.socket.Rules(), c.privileged); err != nil {
			gs.logger.Warn("⚠️ World refused client %d: %v", c.id, err)
			gs.farewell(c.socket, err.Error())
			gs.releaseClientID(c.id)
			continue
		}
		gs.clients[c.id] = c
	}
	gs.clientCount.Store(int32(len(gs.clients)))
	gs.metrics.setConnections(len(gs.clients))
}

// pumpIncoming отдаёт миру пакеты клиента; служебные пакеты соединения
// обрабатываются здесь
func (gs *GameServer) pumpIncoming(c *clientConn) {
	packets := append(c.inbound, c.socket.ReceivePackets()...)
	c.inbound = nil

	var forWorld []protocol.Packet
	var replies []protocol.Packet
	for _, p := range packets {
		switch pkt := p.(type) {
		case *protocol.Ping:
			replies = append(replies, &protocol.Pong{Time: pkt.Time})
		case *protocol.ClientDisconnectRequest:
			gs.flushToWorld(c, forWorld)
			gs.disconnect(c, ReasonClientLeft, true)
			return
		case *protocol.ProtocolRequest, *protocol.ClientConnect, *protocol.HandshakeResponse:
			gs.metrics.protocolError()
			gs.logger.Warn("⚠️ Client %d sent %s after handshake", c.id, p.Type())
			gs.disconnect(c, ReasonProtocolError, true)
			return
		default:
			forWorld = append(forWorld, p)
		}
	}
	if len(replies) > 0 {
		if err := c.socket.SendPackets(replies); err != nil {
			gs.disconnect(c, "", false)
			return
		}
	}
	if !gs.flushToWorld(c, forWorld) {
		return
	}
	if !c.socket.IsOpen() {
		err := c.socket.Err()
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) {
			gs.metrics.protocolError()
		}
		gs.logger.Info("👋 Client %d disconnected: %v", c.id, err)
		gs.disconnect(c, "", false)
	}
}

func (gs *GameServer) flushToWorld(c *clientConn, packets []protocol.Packet) bool {
	if len(packets) == 0 {
		return true
	}
	gs.metrics.observePackets("in", packets)
	if err := gs.world.HandleIncomingPackets(c.id, packets); err != nil {
		gs.metrics.protocolError()
		gs.logger.Warn("⚠️ Dropping client %d: %v", c.id, err)
		gs.disconnect(c, ReasonProtocolError, true)
		return false
	}
	return true
}

// disconnect убирает клиента из мира; reason != "" уходит клиенту перед закрытием
func (gs *GameServer) disconnect(c *clientConn, reason string, notify bool) {
	if _, ok := gs.clients[c.id]; !ok {
		return
	}
	gs.world.RemoveClient(c.id)
	delete(gs.clients, c.id)
	gs.releaseClientID(c.id)
	gs.clientCount.Store(int32(len(gs.clients)))
	gs.metrics.setConnections(len(gs.clients))

	if notify && reason != "" {
		gs.farewell(c.socket, reason)
	} else {
		c.socket.Close()
	}
}

// farewell отправляет ServerDisconnect и закрывает сокет, не задерживая тик
func (gs *GameServer) farewell(sock PacketSocket, reason string) {
	if err := sock.SendPackets([]protocol.Packet{&protocol.ServerDisconnect{Reason: reason}}); err != nil {
		sock.Close()
		return
	}
	go func() {
		sock.Flush(time.Second)
		sock.Close()
	}()
}

func (gs *GameServer) sortedClientIDs() []entity.ConnectionID {
	ids := make([]entity.ConnectionID, 0, len(gs.clients))
	for id := range gs.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

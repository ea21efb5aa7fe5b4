package network

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/auth"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/world/entity"
)

const waitFor = 5 * time.Second
const pollEvery = 5 * time.Millisecond

// fakeWorld записывает всё, что ему передаёт GameServer
type fakeWorld struct {
	added    map[entity.ConnectionID]*protocol.ClientConnect
	rules    map[entity.ConnectionID]netelement.CompatibilityRules
	admins   map[entity.ConnectionID]bool
	removed  []entity.ConnectionID
	received map[entity.ConnectionID][]protocol.Packet
	outgoing map[entity.ConnectionID][]protocol.Packet
	updates  int
	failOn   protocol.PacketType
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		added:    make(map[entity.ConnectionID]*protocol.ClientConnect),
		rules:    make(map[entity.ConnectionID]netelement.CompatibilityRules),
		admins:   make(map[entity.ConnectionID]bool),
		received: make(map[entity.ConnectionID][]protocol.Packet),
		outgoing: make(map[entity.ConnectionID][]protocol.Packet),
		failOn:   protocol.PacketType(255),
	}
}

func (w *fakeWorld) AddClient(id entity.ConnectionID, connect *protocol.ClientConnect, rules netelement.CompatibilityRules, privileged bool) error {
	w.added[id] = connect
	w.rules[id] = rules
	w.admins[id] = privileged
	return nil
}

func (w *fakeWorld) RemoveClient(id entity.ConnectionID) { w.removed = append(w.removed, id) }

func (w *fakeWorld) HandleIncomingPackets(id entity.ConnectionID, packets []protocol.Packet) error {
	for _, p := range packets {
		if p.Type() == w.failOn {
			return errors.New("недопустимый пакет")
		}
	}
	w.received[id] = append(w.received[id], packets...)
	return nil
}

func (w *fakeWorld) Update(float64) { w.updates++ }

func (w *fakeWorld) GetOutgoingPackets(id entity.ConnectionID) []protocol.Packet {
	out := w.outgoing[id]
	delete(w.outgoing, id)
	return out
}

func (w *fakeWorld) wasRemoved(id entity.ConnectionID) bool {
	for _, r := range w.removed {
		if r == id {
			return true
		}
	}
	return false
}

type testServer struct {
	listener *MemoryListener
	game     *GameServer
	world    *fakeWorld
	conn     *ConnectionServer
}

func newTestServer(t *testing.T, repo auth.UserRepository, listeners ...Listener) *testServer {
	t.Helper()
	world := newFakeWorld()
	game := NewGameServer(world, 60, NewMetrics(nil))
	cs, err := NewConnectionServer(ConnectionServerConfig{
		Info:         ServerInfo{Name: "test", MaxPlayers: 8},
		AssetsDigest: []byte("assets"),
	}, game, auth.NewGameAuthenticator(repo, repo != nil), nil)
	require.NoError(t, err)

	ml := NewMemoryListener(nil)
	cs.Start(append([]Listener{ml}, listeners...)...)
	t.Cleanup(func() {
		cs.Stop()
		game.Stop()
	})
	return &testServer{listener: ml, game: game, world: world, conn: cs}
}

func (ts *testServer) connect(t *testing.T, cc *ClientConnector) (*Connection, error) {
	t.Helper()
	sock, err := ts.listener.Connect()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return cc.Connect(ctx, sock)
}

// admitted гоняет тики, пока мир не увидит клиента
func (ts *testServer) admitted(t *testing.T, id uint16) {
	t.Helper()
	require.Eventually(t, func() bool {
		ts.game.Step()
		return ts.world.added[id] != nil
	}, waitFor, pollEvery, "клиент %d не попал в мир", id)
}

// await гоняет тики, пока клиент не получит пакет нужного типа
func (ts *testServer) await(t *testing.T, sock PacketSocket, want protocol.PacketType) protocol.Packet {
	t.Helper()
	var found protocol.Packet
	require.Eventually(t, func() bool {
		ts.game.Step()
		for _, p := range sock.ReceivePackets() {
			if p.Type() == want && found == nil {
				found = p
			}
		}
		return found != nil
	}, waitFor, pollEvery, "клиент не получил %s", want)
	return found
}

func defaultConnector() *ClientConnector {
	return &ClientConnector{
		PlayerUUID:   uuid.New(),
		PlayerName:   "Alice",
		AssetsDigest: []byte("assets"),
	}
}

func TestSPSCQueue(t *testing.T) {
	q := NewSPSCQueue[int](3)
	assert.Equal(t, 4, q.Cap(), "ёмкость округляется до степени двойки")
	for i := 0; i < 4; i++ {
		require.True(t, q.Push(i))
	}
	assert.False(t, q.Push(4), "полная очередь отказывает")
	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)

	// Один писатель и один читатель сохраняют порядок
	const n = 100000
	big := NewSPSCQueue[int](64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if big.Push(i) {
				i++
			}
		}
	}()
	for want := 0; want < n; {
		if v, ok := big.Pop(); ok {
			require.Equal(t, want, v)
			want++
		}
	}
	wg.Wait()
}

func TestMemorySocketPair(t *testing.T) {
	client, server, err := NewMemorySocketPair(nil)
	require.NoError(t, err)

	require.NoError(t, client.SendPackets([]protocol.Packet{&protocol.Ping{Time: 1}, &protocol.Ping{Time: 2}}))
	var got []protocol.Packet
	require.Eventually(t, func() bool {
		got = append(got, server.ReceivePackets()...)
		return len(got) == 2
	}, waitFor, pollEvery)
	assert.Equal(t, int64(1), got[0].(*protocol.Ping).Time)
	assert.Equal(t, int64(2), got[1].(*protocol.Ping).Time)

	require.NoError(t, server.SendPackets([]protocol.Packet{&protocol.ServerDisconnect{Reason: "bye"}}))
	require.True(t, server.Flush(waitFor))
	require.NoError(t, server.Close())

	require.Eventually(t, func() bool { return !client.IsOpen() }, waitFor, pollEvery, "закрытие видно второй стороне")
	packets := client.ReceivePackets()
	require.Len(t, packets, 1, "кадр, отправленный до закрытия, доставлен")
	assert.Equal(t, "bye", packets[0].(*protocol.ServerDisconnect).Reason)

	assert.ErrorIs(t, client.SendPackets([]protocol.Packet{&protocol.Ping{}}), ErrSocketClosed)
	stats := server.Stats()
	assert.Equal(t, uint64(2), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.PacketsSent)
	assert.False(t, stats.Connected)
}

func TestMalformedFrameClosesSocket(t *testing.T) {
	cfg := DefaultChannelConfig(ChannelMemory)
	toServer := make(chan []byte, 4)
	done := make(chan struct{})
	conn := &memoryConn{name: "raw", in: toServer, out: make(chan []byte, 4), done: done, once: &sync.Once{}}
	sock, err := newPacketSocket(conn, cfg)
	require.NoError(t, err)

	toServer <- []byte{200, 0}
	require.Eventually(t, func() bool { return !sock.IsOpen() }, waitFor, pollEvery)
	var perr *protocol.ProtocolError
	assert.True(t, errors.As(sock.Err(), &perr), "неизвестный тип пакета фатален: %v", sock.Err())
}

func TestHandshakeAndPump(t *testing.T) {
	ts := newTestServer(t, nil)

	conn, err := ts.connect(t, defaultConnector())
	require.NoError(t, err)
	assert.Equal(t, uint16(1), conn.ClientID)
	assert.Equal(t, "test", conn.ServerName)
	assert.Contains(t, string(conn.ServerInfo), `"maxPlayers":8`)

	ts.admitted(t, 1)
	assert.Equal(t, "Alice", ts.world.added[1].PlayerName)
	assert.Equal(t, netelement.CurrentRules, ts.world.rules[1])
	assert.Equal(t, 1, ts.game.ClientCount())

	// клиент → мир
	require.NoError(t, conn.Socket.SendPackets([]protocol.Packet{&protocol.ChatSend{Text: "hi"}}))
	require.Eventually(t, func() bool {
		ts.game.Step()
		return len(ts.world.received[1]) == 1
	}, waitFor, pollEvery)
	assert.Equal(t, "hi", ts.world.received[1][0].(*protocol.ChatSend).Text)

	// мир → клиент
	ts.world.outgoing[1] = []protocol.Packet{&protocol.ChatReceive{Mode: protocol.ChatBroadcast, Text: "echo"}}
	chat := ts.await(t, conn.Socket, protocol.PacketChatReceive).(*protocol.ChatReceive)
	assert.Equal(t, "echo", chat.Text)

	// Ping обрабатывается соединением и не доходит до мира
	require.NoError(t, conn.Socket.SendPackets([]protocol.Packet{&protocol.Ping{Time: 42}}))
	pong := ts.await(t, conn.Socket, protocol.PacketPong).(*protocol.Pong)
	assert.Equal(t, int64(42), pong.Time)
	for _, p := range ts.world.received[1] {
		assert.NotEqual(t, protocol.PacketPing, p.Type())
	}
	assert.Greater(t, ts.world.updates, 0)
	assert.Greater(t, ts.game.TickCount(), uint64(0))
}

func TestHandshakeWithAccount(t *testing.T) {
	repo := auth.NewMemoryUserRepo()
	_, err := auth.Register(repo, "alice", "pw", false)
	require.NoError(t, err)
	ts := newTestServer(t, repo)

	cc := defaultConnector()
	_, err = ts.connect(t, cc)
	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr), "без учётной записи вход запрещён: %v", err)
	assert.Equal(t, auth.ErrAccountRequired.Error(), cerr.Reason)

	cc.Account, cc.Password = "alice", "wrong"
	_, err = ts.connect(t, cc)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, auth.ErrAuthFailed.Error(), cerr.Reason)

	cc.Password = "pw"
	conn, err := ts.connect(t, cc)
	require.NoError(t, err)
	ts.admitted(t, conn.ClientID)
	assert.Equal(t, "alice", ts.world.added[conn.ClientID].Account)
	assert.False(t, ts.world.admins[conn.ClientID])
}

func TestAdminAccountIsPrivileged(t *testing.T) {
	repo := auth.NewMemoryUserRepo()
	_, err := auth.Register(repo, "root", "secret", true)
	require.NoError(t, err)
	ts := newTestServer(t, repo)

	cc := defaultConnector()
	cc.Account, cc.Password = "root", "secret"
	conn, err := ts.connect(t, cc)
	require.NoError(t, err)
	ts.admitted(t, conn.ClientID)
	assert.True(t, ts.world.admins[conn.ClientID], "администратор входит в мир привилегированным")
}

func TestHandshakeRejections(t *testing.T) {
	ts := newTestServer(t, nil)

	cc := defaultConnector()
	cc.Rules = netelement.CompatibilityRules{Version: 99}
	_, err := ts.connect(t, cc)
	assert.ErrorIs(t, err, ErrProtocolRejected)

	cc = defaultConnector()
	cc.AssetsDigest = []byte("other")
	_, err = ts.connect(t, cc)
	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ReasonAssetsMismatch, cerr.Reason)

	cc.AllowAssetsMismatch = true
	_, err = ts.connect(t, cc)
	assert.NoError(t, err, "клиент может разрешить расхождение ассетов")

	// Пакет не по порядку рвёт рукопожатие
	sock, err := ts.listener.Connect()
	require.NoError(t, err)
	require.NoError(t, sock.SendPackets([]protocol.Packet{&protocol.ChatSend{Text: "early"}}))
	require.Eventually(t, func() bool { return !sock.IsOpen() }, waitFor, pollEvery)
}

func TestLegacyRulesNegotiated(t *testing.T) {
	ts := newTestServer(t, nil)
	cc := defaultConnector()
	cc.Rules = netelement.LegacyRules
	conn, err := ts.connect(t, cc)
	require.NoError(t, err)
	ts.admitted(t, conn.ClientID)
	assert.Equal(t, netelement.LegacyRules, ts.world.rules[conn.ClientID])

	ts.world.outgoing[conn.ClientID] = []protocol.Packet{&protocol.StepUpdate{Step: 120, RemoteTime: 999}}
	step := ts.await(t, conn.Socket, protocol.PacketStepUpdate).(*protocol.StepUpdate)
	assert.Equal(t, uint64(120), step.Step)
	assert.InDelta(t, 2.0, step.RemoteTime, 1e-9, "старые правила выводят время из номера шага")
}

func TestProtocolViolationsDropClient(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name   string
		packet protocol.Packet
		reason string
	}{
		{"повторное рукопожатие", &protocol.ClientConnect{PlayerName: "again"}, ReasonProtocolError},
		{"мир отверг пакет", &protocol.WorldStop{Reason: "x"}, ReasonProtocolError},
		{"выход клиента", &protocol.ClientDisconnectRequest{}, ReasonClientLeft},
	}
	ts.world.failOn = protocol.PacketWorldStop

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, err := ts.connect(t, defaultConnector())
			require.NoError(t, err)
			ts.admitted(t, conn.ClientID)

			require.NoError(t, conn.Socket.SendPackets([]protocol.Packet{tc.packet}))
			bye := ts.await(t, conn.Socket, protocol.PacketServerDisconnect).(*protocol.ServerDisconnect)
			assert.Equal(t, tc.reason, bye.Reason)
			assert.True(t, ts.world.wasRemoved(conn.ClientID))
			require.Eventually(t, func() bool { return !conn.Socket.IsOpen() }, waitFor, pollEvery)
		})
	}
	assert.Equal(t, 0, ts.game.ClientCount())
}

func TestClosedSocketLeavesWorld(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, err := ts.connect(t, defaultConnector())
	require.NoError(t, err)
	ts.admitted(t, conn.ClientID)

	require.NoError(t, conn.Socket.Close())
	require.Eventually(t, func() bool {
		ts.game.Step()
		return ts.world.wasRemoved(conn.ClientID)
	}, waitFor, pollEvery)

	// идентификатор освобождён и снова выдаётся по кругу
	next, err := ts.connect(t, defaultConnector())
	require.NoError(t, err)
	assert.Equal(t, uint16(2), next.ClientID)
}

func TestKickAndDo(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, err := ts.connect(t, defaultConnector())
	require.NoError(t, err)
	ts.admitted(t, conn.ClientID)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	done := make(chan error, 1)
	var seen int
	go func() {
		done <- ts.game.Do(ctx, func(w World) { seen = w.(*fakeWorld).updates })
	}()
	require.Eventually(t, func() bool {
		ts.game.Step()
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, waitFor, pollEvery)
	assert.Greater(t, seen, 0)

	ts.game.Kick(conn.ClientID, "")
	bye := ts.await(t, conn.Socket, protocol.PacketServerDisconnect).(*protocol.ServerDisconnect)
	assert.Equal(t, ReasonKicked, bye.Reason)
}

func TestBetweenTicksRunsAfterUpdate(t *testing.T) {
	world := newFakeWorld()
	game := NewGameServer(world, 60, nil)
	var seen []int
	game.BetweenTicks(func() { seen = append(seen, world.updates) })

	game.Step()
	game.Step()
	assert.Equal(t, []int{1, 2}, seen, "работа между тиками видит завершённый тик")
}

func TestWebSocketTransport(t *testing.T) {
	wsl := NewWebSocketListener("/play", nil)
	ts := newTestServer(t, nil, wsl)
	srv := httptest.NewServer(wsl)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	sock, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	assert.Equal(t, ChannelWebSocket, sock.Type())

	conn, err := defaultConnector().Connect(ctx, sock)
	require.NoError(t, err)
	ts.admitted(t, conn.ClientID)

	ts.world.outgoing[conn.ClientID] = []protocol.Packet{&protocol.WorldStop{Reason: "done"}}
	stop := ts.await(t, conn.Socket, protocol.PacketWorldStop).(*protocol.WorldStop)
	assert.Equal(t, "done", stop.Reason)
	conn.Socket.Close()
}

func TestKCPTransport(t *testing.T) {
	kl, err := ListenKCP("127.0.0.1:0", nil)
	if err != nil {
		t.Skipf("UDP недоступен: %v", err)
	}
	ts := newTestServer(t, nil, kl)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	sock, err := DialKCP(ctx, kl.Addr(), nil)
	require.NoError(t, err)
	assert.Equal(t, ChannelKCP, sock.Type())

	conn, err := defaultConnector().Connect(ctx, sock)
	require.NoError(t, err)
	ts.admitted(t, conn.ClientID)

	// крупный пакет проходит сжатым через потоковый режим
	tiles := make([]protocol.Packet, 0, 1)
	tiles = append(tiles, &protocol.ChatReceive{Text: strings.Repeat("tile", 4096)})
	ts.world.outgoing[conn.ClientID] = tiles
	chat := ts.await(t, conn.Socket, protocol.PacketChatReceive).(*protocol.ChatReceive)
	assert.Len(t, chat.Text, 4*4096)
	conn.Socket.Close()
}

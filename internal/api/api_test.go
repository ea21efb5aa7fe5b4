package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/auth"
	"github.com/annel0/tileverse/internal/cache"
	"github.com/annel0/tileverse/internal/config"
	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/metrics"
	"github.com/annel0/tileverse/internal/network"
	"github.com/annel0/tileverse/internal/server"
	"github.com/annel0/tileverse/internal/storage"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
	"github.com/annel0/tileverse/internal/world/template"
)

const testWebhookSecret = "inbound-secret"

type testEnv struct {
	api         *Server
	game        *network.GameServer
	bus         eventbus.EventBus
	positions   *storage.MemoryPositionRepo
	directory   *cache.MemoryDirectory
	runtime     *config.RuntimeConfig
	runtimePath string

	adminToken string
	userToken  string
	merchantID entity.EntityID
	chestID    entity.EntityID
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	world, err := server.NewWorldServer(server.Options{Name: "home", Template: template.Default(7, 256, 128)})
	require.NoError(t, err)
	t.Cleanup(world.Close)

	merchant := entity.NewStagehand(entity.StagehandConfig{Type: "merchant", UniqueID: "merchant", Persistent: true})
	merchant.SetPosition(vec.V2F(40, 20))
	merchantID, err := world.AddEntity(merchant)
	require.NoError(t, err)

	chest := entity.NewObject(nil, entity.ObjectConfig{Name: "chest", Container: true})
	chest.SetPosition(vec.V2F(120, 60))
	chestID, err := world.AddEntity(chest)
	require.NoError(t, err)

	game := network.NewGameServer(world, 60, nil)
	game.Start()
	t.Cleanup(game.Stop)

	users := auth.NewMemoryUserRepo()
	admin, err := auth.Register(users, "admin", "secret-password", true)
	require.NoError(t, err)
	player, err := auth.Register(users, "player", "player-password", false)
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	adminToken, _, err := tokens.Generate(admin)
	require.NoError(t, err)
	userToken, _, err := tokens.Generate(player)
	require.NoError(t, err)

	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(func() { bus.Close() })

	registry := prometheus.NewRegistry()
	process, err := metrics.NewProcessCollector(registry)
	require.NoError(t, err)

	runtimePath := filepath.Join(t.TempDir(), "lua_runtime.json")
	env := &testEnv{
		game:        game,
		bus:         bus,
		positions:   storage.NewMemoryPositionRepo(),
		directory:   cache.NewMemoryDirectory(),
		runtime:     config.NewRuntimeConfig(runtimePath, config.Default().Lua),
		runtimePath: runtimePath,
		adminToken:  adminToken,
		userToken:   userToken,
		merchantID:  merchantID,
		chestID:     chestID,
	}
	env.api, err = New(Config{
		Users:          users,
		Tokens:         tokens,
		Game:           game,
		Positions:      env.positions,
		Directory:      env.directory,
		Bus:            bus,
		Process:        process,
		LuaRuntime:     env.runtime,
		Registerer:     registry,
		Gatherer:       registry,
		ServerID:       "test-node",
		WebhookSecret:  testWebhookSecret,
		AllowedOrigins: []string{"http://dashboard.local"},
	})
	require.NoError(t, err)
	env.api.webhooks.retryDelay = 10 * time.Millisecond
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.api.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(w, req)

	var resp apiResponse
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(w.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "admin", Password: "secret-password"})
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	assert.True(t, login.Success)
	assert.True(t, login.IsAdmin)
	assert.NotEmpty(t, login.Token)

	w, _ = env.do(t, http.MethodGet, "/api/status", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code, "выданный токен принимается")

	w, _ = env.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "без токена")

	w, _ = env.do(t, http.MethodGet, "/api/status", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "мусорный токен")

	w, _ = env.do(t, http.MethodGet, "/api/status", env.userToken, nil)
	assert.Equal(t, http.StatusOK, w.Code, "чтение доступно всем пользователям")

	w, _ = env.do(t, http.MethodPost, "/api/admin/kick", env.userToken, KickRequest{ClientID: 1})
	assert.Equal(t, http.StatusForbidden, w.Code, "админ-маршруты закрыты для игроков")
}

func TestAdminRegister(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/admin/register", env.adminToken, RegisterRequest{Username: "builder", Password: "builder-pw"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)

	w, _ = env.do(t, http.MethodPost, "/api/admin/register", env.adminToken, RegisterRequest{Username: "builder", Password: "builder-pw"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/admin/register", env.adminToken, RegisterRequest{Username: "ab", Password: "builder-pw"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "слишком короткое имя")

	w, _ = env.do(t, http.MethodPost, "/api/admin/register", env.adminToken, RegisterRequest{Username: "builder2", Password: "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "слишком короткий пароль")

	w, _ = env.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "builder", Password: "builder-pw"})
	assert.Equal(t, http.StatusOK, w.Code, "новый пользователь может войти")
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/status", env.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		World    string          `json:"world"`
		Entities int             `json:"entities"`
		Clients  []uint16        `json:"clients"`
		Process  json.RawMessage `json:"process"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "home", status.World)
	assert.Equal(t, 2, status.Entities)
	assert.Empty(t, status.Clients)
	assert.NotEmpty(t, status.Process, "снимок процесса включён в состояние")
}

func TestEntities(t *testing.T) {
	env := newTestEnv(t)

	type listing struct {
		Entities []EntityInfo `json:"entities"`
		Total    int          `json:"total"`
		Limit    int          `json:"limit"`
	}
	list := func(query string) listing {
		w, resp := env.do(t, http.MethodGet, "/api/entities"+query, env.adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code, query)
		var out listing
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		return out
	}

	all := list("")
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, defaultEntityLimit, all.Limit)
	require.Len(t, all.Entities, 2)

	near := list("?area=30,10,50,30")
	require.Len(t, near.Entities, 1)
	assert.Equal(t, env.merchantID, near.Entities[0].ID)
	assert.Equal(t, "merchant", near.Entities[0].UniqueID)
	assert.Equal(t, [2]float64{40, 20}, near.Entities[0].Position)

	objects := list("?type=object")
	require.Len(t, objects.Entities, 1)
	assert.Equal(t, env.chestID, objects.Entities[0].ID)

	limited := list("?limit=1")
	assert.Equal(t, 2, limited.Total)
	assert.Len(t, limited.Entities, 1)

	w, _ := env.do(t, http.MethodGet, "/api/entities?area=1,2,3", env.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/entities?limit=0", env.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntityByID(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/entities/"+itoa(env.chestID), env.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info EntityInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, "object", info.Type)
	assert.Equal(t, [2]float64{120, 60}, info.Position)

	w, _ = env.do(t, http.MethodGet, "/api/entities/999999", env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/entities/abc", env.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/entities/0", env.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "нулевой ID не бывает")
}

func TestUniqueLookup(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/unique/home/merchant", env.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found struct {
		Source   string          `json:"source"`
		EntityID entity.EntityID `json:"entity_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &found))
	assert.Equal(t, "world", found.Source, "каталог пуст, ответ из своего мира")
	assert.Equal(t, env.merchantID, found.EntityID)

	require.NoError(t, env.directory.Put(context.Background(), cache.UniqueEntry{
		World: "caves", UniqueID: "hermit", EntityID: 77, Position: vec.V2F(5, 6),
	}))
	w, resp = env.do(t, http.MethodGet, "/api/unique/caves/hermit", env.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &found))
	assert.Equal(t, "directory", found.Source)
	assert.Equal(t, entity.EntityID(77), found.EntityID)

	w, _ = env.do(t, http.MethodGet, "/api/unique/caves/nobody", env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "чужой мир не ищется локально")
	w, _ = env.do(t, http.MethodGet, "/api/unique/home/nobody", env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlayerPosition(t *testing.T) {
	env := newTestEnv(t)
	player := uuid.New()
	path := "/api/players/" + player.String() + "/position"

	w, _ := env.do(t, http.MethodGet, path, env.userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, env.positions.Save(context.Background(), storage.PlayerPosition{
		PlayerUUID: player, World: "home", Position: vec.V2F(12.5, 30), UpdatedAt: time.Now().UTC(),
	}))

	w, resp := env.do(t, http.MethodGet, path, env.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pos struct {
		World    string     `json:"world"`
		Position [2]float64 `json:"position"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &pos))
	assert.Equal(t, "home", pos.World)
	assert.Equal(t, [2]float64{12.5, 30}, pos.Position)

	w, _ = env.do(t, http.MethodDelete, "/api/admin"+path[len("/api"):], env.userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = env.do(t, http.MethodDelete, "/api/admin"+path[len("/api"):], env.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.positions.Count())

	w, _ = env.do(t, http.MethodGet, "/api/players/not-a-uuid/position", env.userToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKick(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/admin/kick", env.adminToken, KickRequest{ClientID: 3, Reason: "тест"})
	assert.Equal(t, http.StatusAccepted, w.Code, "кик неизвестного клиента не ошибка")

	w, _ = env.do(t, http.MethodPost, "/api/admin/kick", env.adminToken, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLuaRuntimeUpdate(t *testing.T) {
	env := newTestEnv(t)
	before := env.runtime.Values()

	w, _ := env.do(t, http.MethodPut, "/api/admin/lua", env.userToken, gin.H{"recursionLimit": 32})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// второе поле вне границ: первое тоже не должно остаться
	w, resp := env.do(t, http.MethodPut, "/api/admin/lua", env.adminToken, gin.H{
		"recursionLimit": 32,
		"autoGcPause":    config.MaxGCPause + 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, before, env.runtime.Values())

	w, resp = env.do(t, http.MethodPut, "/api/admin/lua", env.adminToken, gin.H{
		"recursionLimit":       32,
		"profiling":            true,
		"autoGcStepMultiplier": 4.0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got config.RuntimeValues
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, 32, got.RecursionLimit)
	assert.True(t, got.Profiling)
	assert.Equal(t, 4.0, got.AutoGCStepMultipl)
	assert.Equal(t, before.InstructionLimit, got.InstructionLimit, "незаданные поля не меняются")

	saved, err := config.LoadRuntimeConfig(env.runtimePath, config.Default().Lua)
	require.NoError(t, err)
	assert.Equal(t, got, saved.Values(), "параметры сохранены на диск")

	w, resp = env.do(t, http.MethodGet, "/api/admin/lua", env.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, 32, got.RecursionLimit)
}

func TestAnnouncePublishesToBus(t *testing.T) {
	env := newTestEnv(t)

	received := make(chan *eventbus.Envelope, 1)
	sub, err := env.bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventChatMessage}},
		func(_ context.Context, ev *eventbus.Envelope) { received <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	w, _ := env.do(t, http.MethodPost, "/api/admin/announce", env.adminToken, AnnounceRequest{Text: "рестарт через 5 минут"})
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case ev := <-received:
		assert.Equal(t, "test-node-api", ev.Source)
		msg, err := eventbus.Decode[eventbus.ChatMessage](ev)
		require.NoError(t, err)
		assert.Equal(t, eventbus.AllWorlds, msg.World)
		assert.Equal(t, "admin", msg.FromNick)
		assert.Equal(t, "рестарт через 5 минут", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("объявление не дошло до шины")
	}

	w, _ = env.do(t, http.MethodPost, "/api/admin/announce", env.adminToken, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPacketToolRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	packets := json.RawMessage(`[
		{"type": "ProtocolRequest", "data": {"requestProtocolVersion": 2}},
		{"type": "ServerDisconnect", "data": {"reason": "обслуживание"}}
	]`)
	for _, compress := range []bool{false, true} {
		w, resp := env.do(t, http.MethodPost, "/api/admin/packets/encode", env.adminToken,
			PacketEncodeRequest{Packets: packets, Compress: compress, Format: "hex"})
		require.Equal(t, http.StatusOK, w.Code)
		var encoded struct {
			Data  string `json:"data"`
			Count int    `json:"count"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &encoded))
		assert.Equal(t, 2, encoded.Count)

		w, resp = env.do(t, http.MethodPost, "/api/admin/packets/decode", env.adminToken,
			PacketDecodeRequest{Data: encoded.Data, Format: "hex"})
		require.Equal(t, http.StatusOK, w.Code)
		var decoded struct {
			Packets []json.RawMessage `json:"packets"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &decoded))
		require.Len(t, decoded.Packets, 2)
		assert.JSONEq(t, `{"type":"ServerDisconnect","data":{"reason":"обслуживание"}}`, string(decoded.Packets[1]))
	}

	w, _ := env.do(t, http.MethodPost, "/api/admin/packets/encode", env.adminToken,
		PacketEncodeRequest{Packets: json.RawMessage(`[{"type":"NoSuchPacket"}]`)})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/admin/packets/encode", env.adminToken,
		PacketEncodeRequest{Packets: packets, Version: 99})
	assert.Equal(t, http.StatusBadRequest, w.Code, "неизвестная версия протокола")
}

func TestWebhookCRUD(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/admin/webhooks"

	w, resp := env.do(t, http.MethodPost, base, env.adminToken, CreateWebhookRequest{
		Name: "discord", URL: "https://example.org/hook", Events: []string{eventbus.EventChatMessage},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created OutboundWebhook
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, uint64(1), created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, 30, created.Timeout, "таймаут по умолчанию")

	w, _ = env.do(t, http.MethodPost, base, env.adminToken, CreateWebhookRequest{
		Name: "bad", URL: "ftp://example.org", Events: []string{"*"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	inactive := false
	w, resp = env.do(t, http.MethodPut, base+"/1", env.adminToken, WebhookUpdate{Active: &inactive})
	require.Equal(t, http.StatusOK, w.Code)
	var updated OutboundWebhook
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.False(t, updated.Active)
	assert.Equal(t, "discord", updated.Name, "незаданные поля не меняются")

	w, resp = env.do(t, http.MethodGet, base, env.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []OutboundWebhook
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)

	w, resp = env.do(t, http.MethodGet, base+"/events", env.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var types []string
	require.NoError(t, json.Unmarshal(resp.Data, &types))
	assert.Contains(t, types, eventbus.EventPlayerJoined)

	w, _ = env.do(t, http.MethodDelete, base+"/1", env.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodGet, base+"/1", env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodGet, base+"/x", env.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookDelivery(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.api.webhooks.Start(context.Background(), env.bus))

	type hit struct {
		body      []byte
		signature string
		eventType string
	}
	hits := make(chan hit, 4)
	var attempts atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		hits <- hit{body: body, signature: r.Header.Get(SignatureHeader), eventType: r.Header.Get("X-Event-Type")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	env.api.webhooks.Add(OutboundWebhook{
		Name: "relay", URL: target.URL, Secret: "out-secret",
		Events: []string{eventbus.EventChatMessage}, RetryCount: 2,
	})

	w, _ := env.do(t, http.MethodPost, "/api/admin/announce", env.adminToken, AnnounceRequest{Text: "привет"})
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case h := <-hits:
		assert.Equal(t, eventbus.EventChatMessage, h.eventType)
		assert.True(t, VerifySignature(h.body, h.signature, "out-secret"), "подпись тела совпадает")

		var delivery WebhookDelivery
		require.NoError(t, json.Unmarshal(h.body, &delivery))
		assert.Equal(t, "test-node", delivery.ServerID)
		var msg eventbus.ChatMessage
		require.NoError(t, json.Unmarshal(delivery.Data, &msg))
		assert.Equal(t, "привет", msg.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("webhook не получил событие после повтора")
	}
}

func signedRequest(t *testing.T, body []byte, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, secret))
	return req
}

func TestInboundWebhook(t *testing.T) {
	env := newTestEnv(t)

	received := make(chan *eventbus.Envelope, 1)
	sub, err := env.bus.Subscribe(context.Background(), eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		received <- ev
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	body := []byte(`{"event_type":"announce","source":"discord","data":{"text":"турнир в 20:00","channel":"events"}}`)

	w := httptest.NewRecorder()
	env.api.Handler().ServeHTTP(w, signedRequest(t, body, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	env.api.Handler().ServeHTTP(w, signedRequest(t, body, testWebhookSecret))
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case ev := <-received:
		msg, err := eventbus.Decode[eventbus.ChatMessage](ev)
		require.NoError(t, err)
		assert.Equal(t, "discord", msg.FromNick, "отправитель из source")
		assert.Equal(t, "events", msg.Channel)
		assert.Equal(t, eventbus.AllWorlds, msg.World)
	case <-time.After(2 * time.Second):
		t.Fatal("входящий webhook не опубликован")
	}

	unknown := []byte(`{"event_type":"explode","data":{}}`)
	w = httptest.NewRecorder()
	env.api.Handler().ServeHTTP(w, signedRequest(t, unknown, testWebhookSecret))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w, _ = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin_api_http_request_duration_seconds")
	assert.Contains(t, w.Body.String(), "tileverse_process_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		env.api.Handler().ServeHTTP(w, req)
		return w
	}

	w := preflight("http://dashboard.local")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://dashboard.local", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight("http://evil.local")
	assert.Equal(t, http.StatusForbidden, w.Code, "чужой источник отклоняется")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func itoa(id entity.EntityID) string {
	return strconv.Itoa(int(id))
}

package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/tileverse/internal/assets"
	"github.com/annel0/tileverse/internal/auth"
	"github.com/annel0/tileverse/internal/cache"
	"github.com/annel0/tileverse/internal/config"
	"github.com/annel0/tileverse/internal/dungeon"
	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/luaengine"
	"github.com/annel0/tileverse/internal/network"
	"github.com/annel0/tileverse/internal/server"
	"github.com/annel0/tileverse/internal/storage"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/template"
	"github.com/annel0/tileverse/internal/world/tile"
)

// Документ с шаблоном мира; сид и размеры переживают перезапуск
const templateDocument = "WorldTemplate"

// Идентификатор подземелья стартовой площадки
const startDungeonID tile.DungeonID = 1

// setupLua движок и его параметры, изменяемые через админ-API
func setupLua(cfg *config.Config) (*luaengine.Engine, *config.RuntimeConfig, error) {
	engine := luaengine.NewEngine(luaengine.ConfigFrom(cfg.Lua))
	runtime, err := config.LoadRuntimeConfig(cfg.Lua.RuntimeConfigPath, cfg.Lua)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	engine.ApplyRuntime(runtime.Values())
	runtime.Subscribe(engine.ApplyRuntime)
	return engine, runtime, nil
}

func setupAssets(cfg *config.Config) (*assets.Assets, error) {
	var sources []assets.Source
	if cfg.World.AssetsDir != "" {
		dir, err := assets.NewDirectorySource(cfg.World.AssetsDir)
		if err != nil {
			return nil, fmt.Errorf("ассеты %s: %w", cfg.World.AssetsDir, err)
		}
		sources = append(sources, dir)
	}
	a, err := assets.New(assets.DefaultOptions(), sources...)
	if err != nil {
		return nil, fmt.Errorf("ассеты: %w", err)
	}
	return a, nil
}

// loadTemplate читает шаблон мира из хранилища или создаёт новый по конфигурации
func loadTemplate(cfg *config.Config, docs *storage.DocumentStore, versioning *storage.Versioning) (*template.WorldTemplate, error) {
	versioning.Register(templateDocument, 1)

	tmpl := &template.WorldTemplate{}
	found, err := docs.Get(templateDocument, cfg.Server.ServerName, tmpl)
	if err != nil {
		return nil, fmt.Errorf("шаблон мира: %w", err)
	}
	if found {
		w, h := tmpl.Size()
		logging.Info("📦 Шаблон мира загружен: %dx%d, сид %d", w, h, tmpl.Seed())
		return tmpl, nil
	}

	seed := cfg.World.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	tmpl = template.Default(seed, cfg.World.Width, cfg.World.Height)
	if err := docs.Put(templateDocument, cfg.Server.ServerName, tmpl); err != nil {
		return nil, fmt.Errorf("сохранение шаблона мира: %w", err)
	}
	return tmpl, nil
}

func setupBus(cfg *config.Config) (eventbus.EventBus, error) {
	if cfg.EventBus.URL == "" {
		return eventbus.NewMemoryBus(1024), nil
	}
	retention := time.Duration(cfg.EventBus.Retention) * time.Hour
	bus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
	if err != nil {
		return nil, fmt.Errorf("шина событий %s: %w", cfg.EventBus.URL, err)
	}
	return bus, nil
}

func setupDirectory(cfg *config.Config) (cache.UniqueDirectory, error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryDirectory(), nil
	}
	var invalidator cache.CacheInvalidator
	if cfg.Cache.InvalidationURL != "" {
		inv, err := cache.NewNATSInvalidator(cache.InvalidatorConfig{NATSURL: cfg.Cache.InvalidationURL}, cfg.Server.ServerName)
		if err != nil {
			return nil, fmt.Errorf("инвалидация каталога: %w", err)
		}
		invalidator = inv
	}
	dir, err := cache.NewRedisDirectory(cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	}, invalidator)
	if err != nil {
		if invalidator != nil {
			invalidator.Close()
		}
		return nil, fmt.Errorf("каталог уникальных сущностей: %w", err)
	}
	return dir, nil
}

func setupPositions(cfg *config.Config) (storage.PositionRepo, error) {
	switch cfg.Storage.Positions {
	case "maria":
		return storage.NewMariaPositionRepo(cfg.Auth.MariaDSN)
	case "redis":
		rc := storage.DefaultRedisConfig()
		rc.Addr = cfg.Cache.RedisAddr
		rc.Password = cfg.Cache.RedisPassword
		rc.DB = cfg.Cache.RedisDB
		return storage.NewRedisPositionRepo(rc)
	default:
		return storage.NewMemoryPositionRepo(), nil
	}
}

// setupWorld создаёт мир, восстанавливает сохранение и при первом запуске
// ставит стартовое подземелье
func setupWorld(cfg *config.Config, tmpl *template.WorldTemplate, engine *luaengine.Engine, a *assets.Assets,
	bus eventbus.EventBus, dir cache.UniqueDirectory, store server.WorldStore, reg prometheus.Registerer,
) (*server.WorldServer, *cache.WorldIndex, error) {
	protected := make([]tile.DungeonID, 0, len(cfg.World.ProtectedDungeonIDs))
	for _, id := range cfg.World.ProtectedDungeonIDs {
		protected = append(protected, tile.DungeonID(id))
	}

	index := cache.NewWorldIndex(dir, cfg.Server.ServerName, 1024)
	world, err := server.NewWorldServer(server.Options{
		Name:           cfg.Server.ServerName,
		Template:       tmpl,
		Lua:            engine,
		Assets:         a,
		TickRate:       cfg.Server.TickRate,
		MessageTimeout: time.Duration(cfg.World.MessageTimeoutSec * float64(time.Second)),
		Protected:      protected,
		Generate:       true,
		Bus:            bus,
		Uniques:        index,
		Metrics:        server.NewMetrics(reg),
	})
	if err != nil {
		index.Close()
		return nil, nil, fmt.Errorf("мир: %w", err)
	}

	loaded, err := world.LoadFrom(store)
	if err != nil {
		world.Close()
		index.Close()
		return nil, nil, fmt.Errorf("загрузка мира: %w", err)
	}
	if !loaded && cfg.World.Dungeon != "" {
		def, err := dungeon.Load(a, cfg.World.Dungeon)
		if err != nil {
			world.Close()
			index.Close()
			return nil, nil, fmt.Errorf("подземелье %s: %w", cfg.World.Dungeon, err)
		}
		x := cfg.World.Width / 2
		origin := vec.V2(x, tmpl.SurfaceHeight(x))
		res, err := world.PlaceDungeon(def, origin, 1, startDungeonID)
		if err != nil {
			world.Close()
			index.Close()
			return nil, nil, fmt.Errorf("подземелье %s: %w", cfg.World.Dungeon, err)
		}
		logging.Info("🏰 Стартовое подземелье %s: %d частей", cfg.World.Dungeon, len(res.Placements))
	}
	return world, index, nil
}

// setupUsers репозиторий учётных записей по auth.backend
func setupUsers(cfg *config.Config) (auth.UserRepository, func(), error) {
	var (
		repo    auth.UserRepository
		closeFn = func() {}
	)
	switch cfg.Auth.Backend {
	case "maria":
		mc, err := mariaConfigFromDSN(cfg.Auth.MariaDSN)
		if err != nil {
			return nil, nil, err
		}
		r, err := auth.NewMariaUserRepo(mc)
		if err != nil {
			return nil, nil, fmt.Errorf("MariaDB: %w", err)
		}
		repo, closeFn = r, func() { r.Close() }
	case "mongo":
		r, err := auth.NewMongoUserRepo(auth.MongoConfig{URI: cfg.Auth.MongoURI, Database: cfg.Auth.MongoDB})
		if err != nil {
			return nil, nil, fmt.Errorf("MongoDB: %w", err)
		}
		repo, closeFn = r, func() { r.Close() }
	default:
		repo = auth.NewMemoryUserRepo()
	}

	if password := os.Getenv("TILEVERSE_ADMIN_PASSWORD"); password != "" {
		_, err := auth.Register(repo, "admin", password, true)
		switch {
		case err == nil:
			logging.Info("✅ Создан администратор admin")
		case !errors.Is(err, auth.ErrUserExists):
			closeFn()
			return nil, nil, fmt.Errorf("создание администратора: %w", err)
		}
	}
	return repo, closeFn, nil
}

// mariaConfigFromDSN разбирает DSN драйвера mysql в параметры репозитория
func mariaConfigFromDSN(dsn string) (auth.MariaConfig, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return auth.MariaConfig{}, fmt.Errorf("auth.maria_dsn: %w", err)
	}
	mc := auth.MariaConfig{Database: parsed.DBName, Username: parsed.User, Password: parsed.Passwd}
	host, port, err := net.SplitHostPort(parsed.Addr)
	if err != nil {
		mc.Host = parsed.Addr
		return mc, nil
	}
	mc.Host = host
	mc.Port, _ = strconv.Atoi(port)
	return mc, nil
}

func setupTokens(cfg *config.Config) (*auth.TokenIssuer, error) {
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		logging.Warn("⚠️ auth.jwt_secret не задан, токены админ-API не переживут перезапуск")
	}
	return auth.NewTokenIssuer(secret, 24*time.Hour)
}

// setupNetwork слушатели KCP и WebSocket, подключённые к серверу соединений
func setupNetwork(cfg *config.Config, game *network.GameServer, users auth.UserRepository, m *network.Metrics) (*network.ConnectionServer, *http.Server, error) {
	conns, err := network.NewConnectionServer(network.ConnectionServerConfig{
		Info: network.ServerInfo{
			Name:       cfg.Server.ServerName,
			MaxPlayers: cfg.Server.MaxClients,
			Version:    fmt.Sprintf("tileverse/%d", cfg.Server.ProtocolVersion),
		},
	}, game, auth.NewGameAuthenticator(users, cfg.Server.RequireAuth), m)
	if err != nil {
		return nil, nil, err
	}

	kcp, err := network.ListenKCP(fmt.Sprintf(":%d", cfg.Server.GetKCPPort()), network.DefaultChannelConfig(network.ChannelKCP))
	if err != nil {
		return nil, nil, fmt.Errorf("KCP: %w", err)
	}
	ws := network.NewWebSocketListener("/ws", nil)
	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	wsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.GetWebSocketPort()),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ WebSocket сервер: %v", err)
		}
	}()

	conns.Start(kcp, ws)
	return conns, wsServer, nil
}

// applyLogLevels уровни из секции logging, действуют и на компоненты, созданные позже
func applyLogLevels(cfg config.LoggingConfig) {
	manager := logging.GetLoggerManager()
	console, err := logging.ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		console = logging.INFO
	}
	file, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		file = logging.DEBUG
	}
	manager.SetDefaultLevels(console, file)

	for component, text := range cfg.Components {
		level, err := logging.ParseLevel(text)
		if err != nil {
			logging.Warn("⚠️ Уровень логирования %s для %s: %v", text, component, err)
			continue
		}
		manager.SetLogLevel(component, level, level)
	}
}

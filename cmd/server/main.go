package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/tileverse/internal/api"
	"github.com/annel0/tileverse/internal/config"
	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/metrics"
	"github.com/annel0/tileverse/internal/network"
	"github.com/annel0/tileverse/internal/observability"
	"github.com/annel0/tileverse/internal/server"
	"github.com/annel0/tileverse/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию TILEVERSE_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	opts := logging.DefaultOptions()
	opts.Dir = cfg.Logging.Dir
	logging.GetLoggerManager().Configure(opts)
	applyLogLevels(cfg.Logging)
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logging.Info("🎮 Запуск сервера мира %q", cfg.Server.ServerName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logging.Warn("⚠️ Остановка телеметрии: %v", err)
		}
	}()

	reg := prometheus.DefaultRegisterer

	// === ДВИЖОК И АССЕТЫ ===
	engine, luaRuntime, err := setupLua(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	assetStore, err := setupAssets(cfg)
	if err != nil {
		return err
	}
	defer assetStore.Close()

	// === ХРАНИЛИЩЕ ===
	versioning := storage.NewVersioning(engine)
	docs, err := storage.NewDocumentStore(cfg.Storage.DataPath, versioning)
	if err != nil {
		return fmt.Errorf("хранилище документов: %w", err)
	}
	defer docs.Close()

	tmpl, err := loadTemplate(cfg, docs, versioning)
	if err != nil {
		return err
	}

	worldStore, err := storage.NewWorldStorage(cfg.Storage.DataPath, cfg.Server.ServerName, versioning)
	if err != nil {
		return fmt.Errorf("хранилище мира: %w", err)
	}
	defer worldStore.Close()

	// === ШИНА, КАТАЛОГ, ПОЗИЦИИ ===
	bus, err := setupBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()
	if sub, err := eventbus.StartLoggingListener(ctx, bus); err == nil {
		defer sub.Unsubscribe()
	}
	go eventbus.NewMetricsExporter(bus, reg).Run(ctx)

	directory, err := setupDirectory(cfg)
	if err != nil {
		return err
	}
	defer directory.Close()

	positions, err := setupPositions(cfg)
	if err != nil {
		return err
	}
	defer positions.Close()
	recorder, err := storage.StartPositionRecorder(ctx, bus, positions)
	if err != nil {
		return fmt.Errorf("запись позиций: %w", err)
	}
	defer recorder.Stop()

	// === МИР ===
	world, index, err := setupWorld(cfg, tmpl, engine, assetStore, bus, directory, worldStore, reg)
	if err != nil {
		return err
	}
	defer world.Close()
	defer index.Close()

	netMetrics := network.NewMetrics(reg)
	game := network.NewGameServer(world, cfg.Server.TickRate, netMetrics)
	game.BetweenTicks(func() { engine.StepGC() })

	// === СЕТЬ ===
	users, closeUsers, err := setupUsers(cfg)
	if err != nil {
		return err
	}
	defer closeUsers()
	conns, wsServer, err := setupNetwork(cfg, game, users, netMetrics)
	if err != nil {
		return err
	}

	// === АДМИН-API ===
	tokens, err := setupTokens(cfg)
	if err != nil {
		return err
	}
	process, err := metrics.NewProcessCollector(reg)
	if err != nil {
		return fmt.Errorf("метрики процесса: %w", err)
	}
	go process.Run(ctx, 15*time.Second)

	admin, err := api.New(api.Config{
		Addr:           fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Users:          users,
		Tokens:         tokens,
		Game:           game,
		Positions:      positions,
		Directory:      directory,
		Bus:            bus,
		Process:        process,
		LuaRuntime:     luaRuntime,
		ServerID:       cfg.Server.ServerName,
		WebhookSecret:  cfg.Auth.WebhookSecret,
		AllowedOrigins: cfg.Server.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("админ-API: %w", err)
	}

	game.Start()
	if err := admin.Start(ctx); err != nil {
		return err
	}
	go autosave(ctx, game, world, worldStore, time.Duration(cfg.World.AutosaveSec)*time.Second)

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🎮 KCP :%d, WebSocket :%d", cfg.Server.GetKCPPort(), cfg.Server.GetWebSocketPort())
	logging.Info("   🌐 Админ-API http://localhost:%d", cfg.Server.GetRESTPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := admin.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ %v", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Warn("⚠️ Остановка WebSocket сервера: %v", err)
	}
	conns.Stop()
	game.Stop()
	cancel()

	// горутина тика остановлена, мир можно сохранить напрямую
	if res, err := world.SaveTo(worldStore); err != nil {
		logging.Error("❌ Сохранение мира при остановке: %v", err)
	} else {
		logging.Info("💾 Мир сохранён: %d чанков, %d сущностей", res.Chunks, res.Entities)
	}
	logging.Info("👋 Сервер успешно остановлен")
	return nil
}

// autosave периодически сохраняет мир из горутины тика
func autosave(ctx context.Context, game *network.GameServer, world *server.WorldServer, store server.WorldStore, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var (
			res     server.SaveResult
			saveErr error
		)
		dctx, cancel := context.WithTimeout(ctx, time.Minute)
		err := game.Do(dctx, func(network.World) {
			res, saveErr = world.SaveTo(store)
		})
		cancel()
		switch {
		case err != nil:
			logging.Warn("⚠️ Автосохранение не выполнено: %v", err)
		case saveErr != nil:
			logging.Error("❌ Автосохранение: %v", saveErr)
		default:
			logging.Debug("💾 Автосохранение: %d чанков, %d сущностей", res.Chunks, res.Entities)
		}
	}
}

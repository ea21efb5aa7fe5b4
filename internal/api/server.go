// Package api админ-API сервера мира: состояние мира и сущностей, каталог
// уникальных сущностей, позиции игроков, инструмент пакетов и webhook'и.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/tileverse/internal/auth"
	"github.com/annel0/tileverse/internal/cache"
	"github.com/annel0/tileverse/internal/config"
	"github.com/annel0/tileverse/internal/eventbus"
	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/metrics"
	"github.com/annel0/tileverse/internal/middleware"
	"github.com/annel0/tileverse/internal/network"
	"github.com/annel0/tileverse/internal/protocol"
	"github.com/annel0/tileverse/internal/storage"
	"github.com/annel0/tileverse/internal/world/entity"
)

// Game игровой сервер, который обслуживает API
type Game interface {
	Do(ctx context.Context, fn func(network.World)) error
	Kick(clientID entity.ConnectionID, reason string)
	ClientCount() int
	TickCount() uint64
}

// WorldView чтение мира из горутины тика
type WorldView interface {
	Name() string
	Step() uint64
	Time() float64
	ClientIDs() []entity.ConnectionID
	Entities() *entity.Map
	FindUniqueEntity(uniqueID string) (entity.EntityID, bool)
}

// Config содержит конфигурацию админ-API
type Config struct {
	Addr   string              // адрес HTTP сервера
	Users  auth.UserRepository // учётные записи администраторов
	Tokens *auth.TokenIssuer   // выпуск и проверка JWT
	Game   Game

	// Необязательные части; без них соответствующие маршруты отвечают 503
	Positions  storage.PositionRepo
	Directory  cache.UniqueDirectory
	Bus        eventbus.EventBus
	Process    *metrics.ProcessCollector
	// LuaRuntime изменяемые на лету параметры скриптового движка
	LuaRuntime *config.RuntimeConfig

	// Registerer и Gatherer реестр Prometheus; nil означает глобальный
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	ServerID       string
	WebhookSecret  string
	// AllowedOrigins источники браузерных панелей; пусто означает без CORS
	AllowedOrigins []string
	// RequestTimeout предел ожидания горутины тика
	RequestTimeout time.Duration
}

// Server админ-API на gin
type Server struct {
	config   Config
	router   *gin.Engine
	http     *http.Server
	webhooks *WebhookManager
	logger   *logging.Logger

	plainCodec *protocol.Codec
	packCodec  *protocol.Codec
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

var errNoWorldView = errors.New("мир не поддерживает чтение состояния")

// New создаёт админ-API
func New(config Config) (*Server, error) {
	if config.Users == nil || config.Tokens == nil {
		return nil, errors.New("админ-API требует репозиторий пользователей и издателя токенов")
	}
	if config.Game == nil {
		return nil, errors.New("админ-API без игрового сервера")
	}
	if config.Addr == "" {
		config.Addr = ":8088"
	}
	if config.ServerID == "" {
		config.ServerID = "tileverse"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Second
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	plain, err := protocol.NewCodec(false)
	if err != nil {
		return nil, err
	}
	packed, err := protocol.NewCodec(true)
	if err != nil {
		plain.Close()
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("admin_api"))
	router.Use(middleware.NewRequestLogger().Handler())
	if len(config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     config.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			ExposeHeaders:    []string{"X-Trace-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	promMw := middleware.NewPrometheusMiddleware("admin_api", config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	s := &Server{
		config:     config,
		router:     router,
		webhooks:   NewWebhookManager(config.ServerID, nil),
		logger:     logging.GetComponentLogger("api"),
		plainCodec: plain,
		packCodec:  packed,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/auth/login", s.handleLogin)
	api.POST("/webhook", s.handleInboundWebhook)

	protected := api.Group("")
	protected.Use(s.jwtMiddleware())
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/entities", s.handleEntities)
		protected.GET("/entities/:id", s.handleEntity)
		protected.GET("/unique/:world/:id", s.handleUnique)
		protected.GET("/players/:uuid/position", s.handlePlayerPosition)

		admin := protected.Group("/admin")
		admin.Use(s.adminMiddleware())
		{
			admin.POST("/register", s.handleAdminRegister)
			admin.POST("/kick", s.handleKick)
			admin.POST("/announce", s.handleAnnounce)
			admin.DELETE("/players/:uuid/position", s.handleDeletePlayerPosition)

			admin.GET("/lua", s.handleGetLuaRuntime)
			admin.PUT("/lua", s.handleUpdateLuaRuntime)

			admin.POST("/packets/encode", s.handlePacketEncode)
			admin.POST("/packets/decode", s.handlePacketDecode)

			admin.GET("/webhooks", s.handleListWebhooks)
			admin.POST("/webhooks", s.handleCreateWebhook)
			admin.GET("/webhooks/events", s.handleWebhookEventTypes)
			admin.GET("/webhooks/:id", s.handleGetWebhook)
			admin.PUT("/webhooks/:id", s.handleUpdateWebhook)
			admin.DELETE("/webhooks/:id", s.handleDeleteWebhook)
		}
	}
}

// Handler корневой http.Handler, для тестов и встраивания
func (s *Server) Handler() http.Handler { return s.router }

// Webhooks менеджер исходящих webhook'ов
func (s *Server) Webhooks() *WebhookManager { return s.webhooks }

// Start подписывает webhook'и на шину и начинает принимать запросы.
// Возвращается сразу; ошибки сервера после старта пишутся в лог.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Bus != nil {
		if err := s.webhooks.Start(ctx, s.config.Bus); err != nil {
			return err
		}
	}
	go func() {
		s.logger.Info("🚀 Админ-API слушает %s", s.config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("❌ Админ-API остановлен с ошибкой: %v", err)
		}
	}()
	return nil
}

// Shutdown дожидается завершения текущих запросов и останавливает webhook'и
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.webhooks.Close()
	s.plainCodec.Close()
	s.packCodec.Close()
	if err != nil {
		return fmt.Errorf("остановка админ-API: %w", err)
	}
	s.logger.Info("👋 Админ-API остановлен")
	return nil
}

// inWorld выполняет fn в горутине тика с таймаутом запроса
func (s *Server) inWorld(c *gin.Context, fn func(WorldView) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()
	var inner error
	err := s.config.Game.Do(ctx, func(w network.World) {
		view, ok := w.(WorldView)
		if !ok {
			inner = errNoWorldView
			return
		}
		inner = fn(view)
	})
	if err != nil {
		return err
	}
	return inner
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"ticks":   s.config.Game.TickCount(),
		"clients": s.config.Game.ClientCount(),
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

func respondData(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Message: message, Data: data})
}

// worldError ответ на ошибку обращения к горутине тика
func (s *Server) worldError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "Мир не ответил вовремя")
	case errors.Is(err, context.Canceled):
		respondError(c, http.StatusServiceUnavailable, "Запрос отменён")
	default:
		s.logger.Error("❌ Ошибка чтения мира: %v", err)
		respondError(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
	}
}

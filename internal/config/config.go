package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера мира.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	World     WorldConfig     `yaml:"world"`
	Lua       LuaConfig       `yaml:"lua"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	KCPPort         int    `yaml:"kcp_port"`
	WebSocketPort   int    `yaml:"websocket_port"`
	RESTPort        int    `yaml:"rest_port"`
	MetricsPort     int    `yaml:"metrics_port"`
	TickRate        int    `yaml:"tick_rate"`
	MaxClients      int    `yaml:"max_clients"`
	ProtocolVersion uint32 `yaml:"protocol_version"`
	RequireAuth     bool   `yaml:"require_auth"`
	ServerName      string `yaml:"server_name"`

	// CORSOrigins разрешённые источники админ-API
	CORSOrigins []string `yaml:"cors_origins"`
}

// WorldConfig параметры мира
type WorldConfig struct {
	Width               int32    `yaml:"width"`
	Height              int32    `yaml:"height"`
	Seed                uint64   `yaml:"seed"`
	ProtectedDungeonIDs []uint16 `yaml:"protected_dungeon_ids"`
	MessageTimeoutSec   float64  `yaml:"message_timeout_seconds"`
	AutosaveSec         int      `yaml:"autosave_seconds"`
	AssetsDir           string   `yaml:"assets_dir"`
	Dungeon             string   `yaml:"dungeon"`
}

// LuaConfig параметры скриптового движка
type LuaConfig struct {
	InstructionLimit   int     `yaml:"instruction_limit"`
	MeasureInterval    int     `yaml:"measure_interval"`
	RecursionLimit     int     `yaml:"recursion_limit"`
	Profiling          bool    `yaml:"profiling"`
	AutoGCPause        float64 `yaml:"auto_gc_pause"`
	AutoGCStepMultiple float64 `yaml:"auto_gc_step_multiplier"`
	SafeMode           *bool   `yaml:"safe_mode"`
	RuntimeConfigPath  string  `yaml:"runtime_config"`
}

// IsSafe возвращает режим песочницы (по умолчанию включён)
func (l LuaConfig) IsSafe() bool {
	return l.SafeMode == nil || *l.SafeMode
}

type StorageConfig struct {
	DataPath    string `yaml:"data_path"`
	Compression bool   `yaml:"compression"`
	// Positions хранилище последних позиций игроков: memory | maria | redis
	Positions string `yaml:"positions"`
}

// AuthConfig настройки хранилища аккаунтов
type AuthConfig struct {
	Backend   string `yaml:"backend"` // memory | maria | mongo
	MariaDSN  string `yaml:"maria_dsn"`
	MongoURI  string `yaml:"mongo_uri"`
	MongoDB   string `yaml:"mongo_db"`
	JWTSecret string `yaml:"jwt_secret"`
	// WebhookSecret ключ HMAC входящих webhook; пусто отключает приём
	WebhookSecret string `yaml:"webhook_secret"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// CacheConfig каталог уникальных сущностей
type CacheConfig struct {
	Backend       string `yaml:"backend"` // memory | redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// InvalidationURL адрес NATS для рассылки инвалидаций; пусто без рассылки
	InvalidationURL string `yaml:"invalidation_url"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
	// Components уровень консоли и файла для отдельных компонентов, например network: debug
	Components map[string]string `yaml:"components"`
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "TILEVERSE_KCP_PORT", 21025)
}

// GetWebSocketPort возвращает порт websocket-наблюдателей
func (s *ServerConfig) GetWebSocketPort() int {
	return getPortWithEnvFallback(s.WebSocketPort, "TILEVERSE_WS_PORT", 21026)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "TILEVERSE_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "TILEVERSE_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.TickRate <= 0 {
		c.Server.TickRate = 60
	}
	if c.Server.MaxClients <= 0 {
		c.Server.MaxClients = 8
	}
	if c.Server.ProtocolVersion == 0 {
		c.Server.ProtocolVersion = 1
	}
	if c.Server.ServerName == "" {
		c.Server.ServerName = "tileverse"
	}
	if c.World.Width <= 0 {
		c.World.Width = 1000
	}
	if c.World.Height <= 0 {
		c.World.Height = 500
	}
	if c.World.MessageTimeoutSec <= 0 {
		c.World.MessageTimeoutSec = 30
	}
	if c.World.AutosaveSec <= 0 {
		c.World.AutosaveSec = 300
	}
	if c.Lua.InstructionLimit <= 0 {
		c.Lua.InstructionLimit = 10000000
	}
	if c.Lua.MeasureInterval <= 0 {
		c.Lua.MeasureInterval = 1000
	}
	if c.Lua.RecursionLimit <= 0 {
		c.Lua.RecursionLimit = 64
	}
	if c.Lua.AutoGCPause <= 0 {
		c.Lua.AutoGCPause = 2.0
	}
	if c.Lua.AutoGCStepMultiple <= 0 {
		c.Lua.AutoGCStepMultiple = 2.0
	}
	if c.Storage.DataPath == "" {
		c.Storage.DataPath = "data"
	}
	if c.Storage.Positions == "" {
		c.Storage.Positions = "memory"
	}
	if c.Auth.Backend == "" {
		c.Auth.Backend = "memory"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "tileverse-server"
	}
	if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
		c.Telemetry.SampleRatio = 1
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "TILEVERSE"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.ConsoleLevel == "" {
		c.Logging.ConsoleLevel = "info"
	}
	if c.Logging.FileLevel == "" {
		c.Logging.FileLevel = "debug"
	}
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	if c.Server.TickRate > 1000 {
		return fmt.Errorf("server.tick_rate слишком велик: %d", c.Server.TickRate)
	}
	if c.World.Width < 32 || c.World.Height < 32 {
		return fmt.Errorf("размер мира слишком мал: %dx%d", c.World.Width, c.World.Height)
	}
	switch c.Auth.Backend {
	case "memory", "maria", "mongo":
	default:
		return fmt.Errorf("неизвестный auth.backend: %q", c.Auth.Backend)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr обязателен для backend redis")
		}
	default:
		return fmt.Errorf("неизвестный cache.backend: %q", c.Cache.Backend)
	}
	switch c.Storage.Positions {
	case "memory":
	case "maria":
		if c.Auth.MariaDSN == "" {
			return fmt.Errorf("storage.positions=maria требует auth.maria_dsn")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("storage.positions=redis требует cache.redis_addr")
		}
	default:
		return fmt.Errorf("неизвестный storage.positions: %q", c.Storage.Positions)
	}
	return nil
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV TILEVERSE_CONFIG или возвращает конфигурацию по умолчанию.
// Перед чтением переменных окружения подгружается .env, если он есть.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("TILEVERSE_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	cfg.applyDefaults()

	if secret := os.Getenv("TILEVERSE_JWT_SECRET"); secret != "" && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all runtime settings required by the agent.
type Config struct {
	AppName     string
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Cache       CacheConfig
	Sync        SyncConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
	Telemetry   TelemetryConfig
}

type HTTPConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	SessionTTL time.Duration
}

// CacheConfig locates the durable local copy and the push journal.
type CacheConfig struct {
	Backend         string
	Path            string
	OutboxPath      string
	OutboxRetention time.Duration
}

type SyncConfig struct {
	Enabled         bool
	DeviceID        string
	Debounce        time.Duration
	Interval        time.Duration
	MaxRetry        int
	FetchTimeout    time.Duration
	PushTimeout     time.Duration
	MonitorInterval time.Duration
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

type TelemetryConfig struct {
	Enabled  bool
	Exporter string
}

const (
	CacheBackendBolt   = "bolt"
	CacheBackendMemory = "memory"
)

// Load reads configuration from environment variables (optionally .env)
// and applies defaults so the agent can boot without a remote side.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	host, _ := os.Hostname()
	cfg := &Config{
		AppName:     getString("APP_NAME", "tasksync"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:         getString("SERVER_HOST", "127.0.0.1"),
			Port:         getString("SERVER_PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            os.Getenv("DB_HOST"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "tasksync"),
			User:            getString("DB_USER", "tasksync"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 2),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     os.Getenv("JWT_SECRET"),
			Issuer:     os.Getenv("JWT_ISSUER"),
			SessionTTL: getDuration("SESSION_TTL", 24*time.Hour),
		},
		Cache: CacheConfig{
			Backend:         getString("CACHE_BACKEND", CacheBackendBolt),
			Path:            getString("CACHE_PATH", "./data/tasks.db"),
			OutboxPath:      getString("OUTBOX_PATH", "./data/outbox.db"),
			OutboxRetention: getDuration("OUTBOX_RETENTION", 7*24*time.Hour),
		},
		Sync: SyncConfig{
			Enabled:         getBool("SYNC_ENABLED", true),
			DeviceID:        getString("DEVICE_ID", host),
			Debounce:        getDuration("SYNC_DEBOUNCE", 100*time.Millisecond),
			Interval:        getDuration("SYNC_INTERVAL_SECONDS", 30*time.Second),
			MaxRetry:        getInt("MAX_RETRY_ATTEMPTS", 3),
			FetchTimeout:    getDuration("SYNC_FETCH_TIMEOUT", 10*time.Second),
			PushTimeout:     getDuration("SYNC_PUSH_TIMEOUT", 15*time.Second),
			MonitorInterval: getDuration("MONITOR_INTERVAL", 10*time.Second),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
		Telemetry: TelemetryConfig{
			Enabled:  getBool("TRACE_ENABLED", false),
			Exporter: getString("TRACE_EXPORTER", "stdout"),
		},
	}

	if cfg.Database.URL == "" && cfg.Database.Host != "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}

	switch cfg.Cache.Backend {
	case CacheBackendBolt, CacheBackendMemory:
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.Cache.Backend)
	}
	if cfg.Sync.MaxRetry <= 0 {
		return nil, fmt.Errorf("MAX_RETRY_ATTEMPTS must be positive, got %d", cfg.Sync.MaxRetry)
	}

	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// SyncEnabled reports whether a remote store and an identity secret are configured.
func (c *Config) SyncEnabled() bool {
	return c.Sync.Enabled && c.Database.URL != "" && c.JWT.Secret != ""
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

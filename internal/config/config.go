package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	ServerPort         string   `yaml:"server_port" env:"SERVER_PORT" env-default:"8080"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	AuthJWTSecret      string   `yaml:"auth_jwt_secret" env:"AUTH_JWT_SECRET"`

	// Storage settings
	StoreDriver string        `yaml:"store_driver" env:"STORE_DRIVER" env-default:"memory"`
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string        `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"todo.db"`
	RedisAddr   string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	CacheTTL    time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" env-default:"5m"`

	// OpenTelemetry settings
	TelemetryEnabled bool   `yaml:"telemetry_enabled" env:"TELEMETRY_ENABLED" env-default:"true"`
	OTLPEndpoint     string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	ServiceName      string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"go-todo"`
	Environment      string `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
}

// Validate checks driver-specific requirements.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	return nil
}

// Load returns configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML file overlaid with environment variables. A missing
// file falls back to environment only.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		var pe *os.PathError
		if errors.As(err, &pe) {
			return Load()
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Client holds the terminal client configuration.
type Client struct {
	ServerURL      string        `yaml:"server_url" env:"TODO_SERVER_URL" env-default:"http://localhost:8080"`
	OwnerID        string        `yaml:"owner_id" env:"TODO_OWNER_ID"`
	Token          string        `yaml:"token" env:"TODO_TOKEN"`
	OfflineDB      string        `yaml:"offline_db" env:"TODO_OFFLINE_DB" env-default:"todo-offline.db"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"TODO_REQUEST_TIMEOUT" env-default:"10s"`
}

// LoadClient returns the client configuration from the environment.
func LoadClient() (*Client, error) {
	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}

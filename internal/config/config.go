package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the hub needs to run. Values come from three
// layers, later layers winning: built-in defaults, an optional YAML file
// (CONFIG_FILE or -config), then environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Integrations binds integration ids to upstream base URLs. Routes
	// referencing an id not listed here resolve but fail with 502 at
	// dispatch time.
	Integrations []IntegrationConfig `yaml:"integrations"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// StoreConfig selects the persistence backend. "memory" keeps all state
// in-process; "postgres" persists routes, subscriptions and deliveries.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig is optional. When Addr is empty the hub falls back to
// in-process rate-limit counters and response caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig is optional. When URL is empty events are accepted over
// HTTP only and no queue consumer is started.
type RabbitMQConfig struct {
	URL           string `yaml:"url"`
	EventQueue    string `yaml:"event_queue"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// APIKeyCredential maps a gateway API key to a principal and the scopes
// that principal may exercise.
type APIKeyCredential struct {
	Key       string   `yaml:"key"`
	Principal string   `yaml:"principal"`
	Scopes    []string `yaml:"scopes"`
}

type AuthConfig struct {
	// AdminKey protects the management API. Empty disables the check,
	// which is only sensible for local development.
	AdminKey  string             `yaml:"admin_key"`
	JWTSecret string             `yaml:"jwt_secret"`
	APIKeys   []APIKeyCredential `yaml:"api_keys"`
}

type GatewayConfig struct {
	// DefaultTimeoutMs bounds upstream calls for routes that do not set
	// their own timeout.
	DefaultTimeoutMs     int `yaml:"default_timeout_ms"`
	MaxResponseBodyBytes int `yaml:"max_response_body_bytes"`
}

type DeliveryConfig struct {
	DefaultTimeoutMs     int `yaml:"default_timeout_ms"`
	DefaultMaxRetries    int `yaml:"default_max_retries"`
	MaxResponseBodyBytes int `yaml:"max_response_body_bytes"`
	MaxConcurrent        int `yaml:"max_concurrent"`
}

type MetricsConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	SweepSeconds  int `yaml:"sweep_seconds"`
}

// IntegrationConfig describes one upstream system the gateway can proxy
// to. Instance distinguishes multiple deployments of the same system and
// may be left empty for the default.
type IntegrationConfig struct {
	ID       string `yaml:"id"`
	Instance string `yaml:"instance"`
	BaseURL  string `yaml:"base_url"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: "8080"},
		Log:      LogConfig{Level: "info"},
		Store:    StoreConfig{Backend: BackendMemory},
		Database: DatabaseConfig{Port: "5432", SSLMode: "disable"},
		RabbitMQ: RabbitMQConfig{EventQueue: "integration.events", PrefetchCount: 10},
		Gateway:  GatewayConfig{DefaultTimeoutMs: 10000, MaxResponseBodyBytes: 1 << 20},
		Delivery: DeliveryConfig{
			DefaultTimeoutMs:     10000,
			DefaultMaxRetries:    5,
			MaxResponseBodyBytes: 64 << 10,
			MaxConcurrent:        64,
		},
		Metrics: MetricsConfig{WindowSeconds: 300, SweepSeconds: 30},
	}
}

// Load builds the effective configuration. path may be empty, in which
// case CONFIG_FILE is consulted; a missing file is only an error when it
// was named explicitly.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
		explicit = path != ""
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Server.Host, "SERVER_HOST")
	setStr(&c.Server.Port, "SERVER_PORT")
	setStr(&c.Log.Level, "LOG_LEVEL")
	setStr(&c.Store.Backend, "STORE_BACKEND")

	setStr(&c.Database.Host, "DB_HOST")
	setStr(&c.Database.Port, "DB_PORT")
	setStr(&c.Database.User, "DB_USER")
	setStr(&c.Database.Password, "DB_PASSWORD")
	setStr(&c.Database.DBName, "DB_NAME")
	setStr(&c.Database.SSLMode, "DB_SSLMODE")

	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setStr(&c.RabbitMQ.URL, "RABBITMQ_URL")
	setStr(&c.RabbitMQ.EventQueue, "RABBITMQ_EVENT_QUEUE")
	setInt(&c.RabbitMQ.PrefetchCount, "RABBITMQ_PREFETCH_COUNT")

	setStr(&c.Auth.AdminKey, "ADMIN_API_KEY")
	setStr(&c.Auth.JWTSecret, "AUTH_JWT_SECRET")

	setInt(&c.Gateway.DefaultTimeoutMs, "GATEWAY_DEFAULT_TIMEOUT_MS")
	setInt(&c.Gateway.MaxResponseBodyBytes, "GATEWAY_MAX_RESPONSE_BODY_BYTES")

	setInt(&c.Delivery.DefaultTimeoutMs, "DELIVERY_DEFAULT_TIMEOUT_MS")
	setInt(&c.Delivery.DefaultMaxRetries, "DELIVERY_DEFAULT_MAX_RETRIES")
	setInt(&c.Delivery.MaxResponseBodyBytes, "DELIVERY_MAX_RESPONSE_BODY_BYTES")
	setInt(&c.Delivery.MaxConcurrent, "DELIVERY_MAX_CONCURRENT")

	setInt(&c.Metrics.WindowSeconds, "METRICS_WINDOW_SECONDS")
	setInt(&c.Metrics.SweepSeconds, "METRICS_SWEEP_SECONDS")
}

// validate collects every problem instead of failing on the first so a
// bad deployment surfaces all of its mistakes in one pass.
func (c *Config) validate() error {
	var problems []string

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Host == "" {
			problems = append(problems, "missing database.host (DB_HOST)")
		}
		if c.Database.User == "" {
			problems = append(problems, "missing database.user (DB_USER)")
		}
		if c.Database.DBName == "" {
			problems = append(problems, "missing database.dbname (DB_NAME)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	if c.Server.Port == "" {
		problems = append(problems, "missing server.port (SERVER_PORT)")
	}
	if c.Gateway.DefaultTimeoutMs <= 0 {
		problems = append(problems, "gateway.default_timeout_ms must be positive")
	}
	if c.Delivery.DefaultTimeoutMs <= 0 {
		problems = append(problems, "delivery.default_timeout_ms must be positive")
	}
	if c.Delivery.MaxConcurrent <= 0 {
		problems = append(problems, "delivery.max_concurrent must be positive")
	}
	if c.Metrics.WindowSeconds <= 0 {
		problems = append(problems, "metrics.window_seconds must be positive")
	}
	for i, cred := range c.Auth.APIKeys {
		if cred.Key == "" || cred.Principal == "" {
			problems = append(problems, fmt.Sprintf("auth.api_keys[%d] needs both key and principal", i))
		}
	}
	for i, integ := range c.Integrations {
		if integ.ID == "" || integ.BaseURL == "" {
			problems = append(problems, fmt.Sprintf("integrations[%d] needs both id and base_url", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ConnectionString returns a DSN string for GORM
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.DBName, d.Port, d.SSLMode)
}

// MigrationURL returns the connection URL used by golang-migrate.
func (d *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

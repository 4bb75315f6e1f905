package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const devSigningKey = "dev-secret-key-change-in-production"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Server captures process configuration, read from the environment so main
// stays lean.
type Server struct {
	Addr      string `envconfig:"PRIVILEGES_ADDR" default:":8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	AutoMigrate  bool   `envconfig:"AUTO_MIGRATE" default:"true"`
	Redis        RedisConfig

	JWTSigningKey string `envconfig:"JWT_SIGNING_KEY" default:"dev-secret-key-change-in-production"`
	JWTIssuer     string `envconfig:"JWT_ISSUER" default:"privileges"`
	JWTAudience   string `envconfig:"JWT_AUDIENCE" default:"privileges"`
	// ProductionMode refuses the development signing key.
	ProductionMode bool `envconfig:"PRODUCTION_MODE" default:"false"`

	// CatalogFile optionally points at a YAML privilege catalog loaded on top
	// of the built-in definitions.
	CatalogFile string `envconfig:"PRIVILEGE_CATALOG_FILE"`

	ConsentTxTimeout time.Duration `envconfig:"CONSENT_TX_TIMEOUT" default:"5s"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	// ApplyRateLimit caps POST /privileges per client IP per minute.
	ApplyRateLimit int `envconfig:"APPLY_RATE_LIMIT" default:"30"`
}

// RedisConfig configures the Redis client used by the redis store backend.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// FromEnv builds a Server config from environment variables.
func FromEnv() (Server, error) {
	var cfg Server
	if err := envconfig.Process("", &cfg); err != nil {
		return Server{}, fmt.Errorf("read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks combinations envconfig cannot express.
func (c Server) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s store backend", c.StoreBackend)
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s store backend", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.ProductionMode && c.JWTSigningKey == devSigningKey {
		return fmt.Errorf("JWT_SIGNING_KEY must be set in production mode")
	}
	if c.ApplyRateLimit <= 0 {
		return fmt.Errorf("APPLY_RATE_LIMIT must be positive")
	}
	return nil
}

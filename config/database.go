package config

import (
	"fmt"
	"strings"
	"time"
)

// StoreDriver selects the durable store backing analysis records.
type StoreDriver string

const (
	// StoreDriverPostgres stores analyses in PostgreSQL.
	StoreDriverPostgres StoreDriver = "postgres"
	// StoreDriverSQLite stores analyses in a local SQLite file (single node deployments).
	StoreDriverSQLite StoreDriver = "sqlite"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreDriver.
func (d *StoreDriver) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch StoreDriver(v) {
	case StoreDriverPostgres, StoreDriverSQLite:
		*d = StoreDriver(v)
		return nil
	default:
		return fmt.Errorf("invalid StoreDriver: %q (valid options: postgres, sqlite)", v)
	}
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Driver StoreDriver `env:"STORE_DRIVER" envDefault:"postgres"`

	// SQLitePath is the database file used when Driver=sqlite.
	SQLitePath string `env:"STORE_SQLITE_PATH" envDefault:"data/mentions.db"`
}

// Sanitize applies guardrails to store configuration values.
func (s *StoreConfig) Sanitize() {
	if s.Driver == "" {
		s.Driver = StoreDriverPostgres
	}
	s.SQLitePath = strings.TrimSpace(s.SQLitePath)
	if s.SQLitePath == "" {
		s.SQLitePath = "data/mentions.db"
	}
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"mentions"`
	Password string `env:"PASSWORD"                envDefault:"mentions"`
	Name     string `env:"NAME"                    envDefault:"mentions"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// CacheConfig controls the Redis-backed cache of completed analysis views.
type CacheConfig struct {
	Enabled bool `env:"CACHE_VIEW_ENABLED" envDefault:"false"`

	// ViewTTL bounds how long a completed view is served from Redis.
	ViewTTL time.Duration `env:"CACHE_VIEW_TTL" envDefault:"10m"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.ViewTTL < time.Second {
		c.ViewTTL = time.Second
	}
}

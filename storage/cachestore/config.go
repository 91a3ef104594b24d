package cachestore

import (
	"strings"
	"time"

	"github.com/c360/apicore/errors"
)

// Config selects and tunes the database behind the persistent tier.
type Config struct {
	// DSN is a PostgreSQL URL or key/value DSN, a SQLite file path, or
	// ":memory:" for a private in-memory SQLite database.
	DSN string `json:"dsn"`

	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`

	// SlowQueryThreshold logs statements slower than this at warn level.
	SlowQueryThreshold time.Duration `json:"slow_query_threshold"`
}

// DefaultConfig returns an embedded SQLite file in the working directory.
func DefaultConfig() Config {
	return Config{
		DSN:                "apicore_cache.db",
		MaxOpenConns:       10,
		MaxIdleConns:       5,
		ConnMaxLifetime:    30 * time.Minute,
		SlowQueryThreshold: 200 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "cachestore", "Validate", "dsn is required")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cachestore", "Validate",
			"connection pool sizes cannot be negative")
	}
	return nil
}

// Driver reports which database driver the DSN selects: "postgres" or
// "sqlite".
func (c Config) Driver() string {
	dsn := strings.TrimSpace(c.DSN)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return "postgres"
	default:
		return "sqlite"
	}
}

package tiercache

import (
	"time"

	"github.com/c360/apicore/errors"
)

// Config sizes the memory tier and sets default lifetimes for the others.
type Config struct {
	// MemorySize bounds the number of L1 entries.
	MemorySize int `json:"memory_size"`
	// RemoteTTL applies to L2 writes without an explicit TTL.
	RemoteTTL time.Duration `json:"remote_ttl"`
	// PersistentTTL applies to L3 writes without an explicit TTL. Zero keeps
	// entries until deleted.
	PersistentTTL time.Duration `json:"persistent_ttl"`
}

// DefaultConfig returns a 1000-entry memory tier, a one hour remote TTL and
// non-expiring persistent entries.
func DefaultConfig() Config {
	return Config{
		MemorySize:    1000,
		RemoteTTL:     time.Hour,
		PersistentTTL: 0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MemorySize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tiercache", "Validate", "memory_size must be positive")
	}
	if c.RemoteTTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tiercache", "Validate", "remote_ttl must be positive")
	}
	if c.PersistentTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tiercache", "Validate", "persistent_ttl cannot be negative")
	}
	return nil
}

package batch

import (
	"fmt"
	"time"

	"github.com/c360/apicore/errors"
)

// Config holds the base batching parameters. With Adaptive set, each
// operation kind starts from these values and tunes its own copy.
type Config struct {
	BatchSize  int           `json:"batch_size"`
	WaitTime   time.Duration `json:"wait_time"`
	MaxRetries int           `json:"max_retries"`
	Adaptive   bool          `json:"adaptive"`

	// MaxTrackedKinds bounds the number of kinds whose adaptive parameters
	// are remembered. The least recently used kind restarts from base.
	MaxTrackedKinds int `json:"max_tracked_kinds"`
}

// DefaultConfig returns the standard batching parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		WaitTime:        500 * time.Millisecond,
		MaxRetries:      3,
		Adaptive:        true,
		MaxTrackedKinds: 1024,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "batch", "Validate",
			fmt.Sprintf("batch_size must be at least 1, got %d", c.BatchSize))
	}
	if c.WaitTime <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "batch", "Validate",
			fmt.Sprintf("wait_time must be positive, got %v", c.WaitTime))
	}
	if c.MaxRetries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "batch", "Validate",
			fmt.Sprintf("max_retries cannot be negative, got %d", c.MaxRetries))
	}
	if c.MaxTrackedKinds < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "batch", "Validate",
			fmt.Sprintf("max_tracked_kinds must be at least 1, got %d", c.MaxTrackedKinds))
	}
	return nil
}

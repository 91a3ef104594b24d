package resource

import (
	"fmt"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/pkg/ratelimit"
)

// DefaultClass is the preset used for classes that were never configured.
const DefaultClass = "default"

// Config bounds one resource class: concurrent holders and request rate.
type Config struct {
	MaxConcurrent     int     `json:"max_concurrent"`
	RequestsPerMinute float64 `json:"requests_per_minute"`
	BurstSize         int     `json:"burst_size"`
}

// Validate checks the class limits.
func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "resource", "Validate",
			fmt.Sprintf("max_concurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	return c.RateLimit().Validate()
}

// RateLimit returns the token bucket parameters for the class.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{RequestsPerMinute: c.RequestsPerMinute, Burst: c.BurstSize}
}

// DefaultConfigs returns the built-in presets for the upstream APIs the
// platform talks to, plus the fallback "default" class.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		"jira":       {MaxConcurrent: 20, RequestsPerMinute: 100, BurstSize: 20},
		"confluence": {MaxConcurrent: 15, RequestsPerMinute: 60, BurstSize: 15},
		"slack":      {MaxConcurrent: 10, RequestsPerMinute: 50, BurstSize: 10},
		"github":     {MaxConcurrent: 10, RequestsPerMinute: 80, BurstSize: 15},
		"assistant":  {MaxConcurrent: 10, RequestsPerMinute: 30, BurstSize: 5},
		DefaultClass: {MaxConcurrent: 10, RequestsPerMinute: 60, BurstSize: 10},
	}
}

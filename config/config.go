package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/pkg/batch"
	"github.com/c360/apicore/pkg/resource"
	"github.com/c360/apicore/pkg/tiercache"
	"github.com/c360/apicore/storage/cachestore"
)

// Remote cache backends.
const (
	RemoteNone  = "none"
	RemoteRedis = "redis"
	RemoteNATS  = "nats"
)

// Config is the complete apicore configuration.
type Config struct {
	Cache     CacheConfig                `json:"cache"`
	Batch     batch.Config               `json:"batch"`
	Resources map[string]resource.Config `json:"resources"`
	Metrics   MetricsConfig              `json:"metrics"`
}

// CacheConfig configures the three cache tiers.
type CacheConfig struct {
	Memory tiercache.Config  `json:"memory"`
	Remote RemoteConfig      `json:"remote"`
	Store  cachestore.Config `json:"store"`
}

// RemoteConfig selects the optional distributed tier.
type RemoteConfig struct {
	Backend string `json:"backend"`
	URL     string `json:"url,omitempty"`
	// Namespace is the Redis key prefix or the NATS KV bucket name.
	Namespace string `json:"namespace"`
	// Required fails startup when the backend is unreachable instead of
	// running without the remote tier.
	Required bool `json:"required"`
}

// Enabled reports whether a remote backend is configured.
func (r RemoteConfig) Enabled() bool {
	return r.Backend != "" && r.Backend != RemoteNone
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// DefaultConfig returns a two-tier cache on an embedded SQLite file, the
// default batching parameters, the built-in resource presets and metrics
// on :9090/metrics.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			Memory: tiercache.DefaultConfig(),
			Remote: RemoteConfig{
				Backend:   RemoteNone,
				Namespace: tiercache.DefaultNamespace,
			},
			Store: cachestore.DefaultConfig(),
		},
		Batch:     batch.DefaultConfig(),
		Resources: resource.DefaultConfigs(),
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Cache.Memory.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Store.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Remote.validate(); err != nil {
		return err
	}
	if err := c.Batch.Validate(); err != nil {
		return err
	}

	names := make([]string, 0, len(c.Resources))
	for name := range c.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.Resources[name].Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", fmt.Sprintf("resource class %q", name))
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid metrics port: %d", c.Metrics.Port))
	}
	return nil
}

func (r RemoteConfig) validate() error {
	switch r.Backend {
	case "", RemoteNone:
		return nil
	case RemoteRedis, RemoteNATS:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown remote backend %q", r.Backend))
	}
	if r.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			fmt.Sprintf("remote backend %s requires a url", r.Backend))
	}
	if _, err := url.Parse(r.URL); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse remote url")
	}
	return nil
}

// Redacted returns a copy safe to log: credentials in the remote URL and the
// store DSN are masked.
func (c Config) Redacted() Config {
	out := c
	out.Cache.Remote.URL = redactURL(c.Cache.Remote.URL)
	if c.Cache.Store.Driver() == "postgres" {
		out.Cache.Store.DSN = redactURL(c.Cache.Store.DSN)
	}
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "[REDACTED]"
	}
	return u.Redacted()
}

// String returns the redacted configuration as indented JSON.
func (c Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Package config loads the apicore configuration.
//
// A configuration is one document, JSON or YAML, with four sections:
// cache (memory, remote and store tiers), batch, resources (one entry per
// resource class) and metrics. Documents are layered over DefaultConfig key
// by key, so a file only needs the values it changes:
//
//	{
//	  "cache": {
//	    "remote": {"backend": "redis", "url": "redis://cache:6379/0"},
//	    "store": {"dsn": "postgres://apicore@db:5432/apicore"}
//	  },
//	  "batch": {"wait_time": "250ms"},
//	  "resources": {"jira": {"max_concurrent": 5}}
//	}
//
// Durations accept Go duration strings, a whole-day form such as "7d", or
// integer nanoseconds. Every document is checked against the embedded JSON
// schema (see Schema) before it is merged, and the merged result is checked
// by Config.Validate.
//
// Connection strings can come from the environment instead of the file:
// APICORE_REDIS_URL, APICORE_NATS_URL and APICORE_CACHE_DSN.
//
// Usage:
//
//	cfg, err := config.Load("apicore.yaml")
//	if err != nil {
//		return err
//	}
//	slog.Info("Loaded configuration", "config", cfg.String())
package config

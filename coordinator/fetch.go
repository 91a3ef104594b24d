package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/pkg/tiercache"
)

// Fetch sources used in the fetch duration metric.
const (
	sourceCache    = "cache"
	sourceUpstream = "upstream"
)

// LoadFunc calls the upstream API for one value.
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Fetch returns the value cached at key, or loads it under class admission
// and caches it with opts. Concurrent calls for the same key while a load is
// in flight wait for that load instead of starting their own; they share the
// first caller's context for the upstream call.
func Fetch[T any](ctx context.Context, c *Coordinator, class, key string, load LoadFunc[T], opts ...tiercache.SetOption) (T, error) {
	var zero T
	start := time.Now()

	if raw, ok := c.cache.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			c.recordFetch(class, sourceCache, start)
			return v, nil
		}
		c.logger.Debug("Cached value does not decode, reloading", "key", key)
	}

	res, err, _ := c.flight.Do(key, func() (any, error) {
		var loaded T
		err := c.resources.Do(ctx, class, 1, func(ctx context.Context) error {
			var err error
			loaded, err = load(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(loaded)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Coordinator", "Fetch", "encode "+key)
		}
		if err := c.cache.Set(ctx, key, data, opts...); err != nil {
			c.logger.Warn("Failed to cache fetched value", "key", key, "error", err)
		}
		return json.RawMessage(data), nil
	})
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(res.(json.RawMessage), &v); err != nil {
		return zero, errors.WrapInvalid(err, "Coordinator", "Fetch", "decode "+key)
	}
	c.recordFetch(class, sourceUpstream, start)
	return v, nil
}

// Invalidate removes key from every cache tier.
func (c *Coordinator) Invalidate(ctx context.Context, key string) error {
	return c.cache.Delete(ctx, key)
}

func (c *Coordinator) recordFetch(class, source string, start time.Time) {
	if c.core != nil {
		c.core.RecordFetch(class, source, time.Since(start).Seconds())
	}
}

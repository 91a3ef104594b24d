package coordinator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/c360/apicore/config"
	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/health"
	"github.com/c360/apicore/metric"
	"github.com/c360/apicore/natsclient"
	"github.com/c360/apicore/pkg/batch"
	"github.com/c360/apicore/pkg/resource"
	"github.com/c360/apicore/pkg/tiercache"
	"github.com/c360/apicore/storage"
	"github.com/c360/apicore/storage/cachestore"
)

// Health component names.
const (
	componentCache     = "cache"
	componentRemote    = "remote"
	componentStore     = "store"
	componentBatch     = "batch"
	componentResources = "resources"
)

// Lifecycle values for metric.Metrics.RecordComponentStatus.
const (
	statusStopped  = 0
	statusRunning  = 1
	statusDraining = 2
)

// Coordinator owns one cache manager, one batch processor and one resource
// manager for the lifetime of a process. It is created with New and released
// with Shutdown; nothing in apicore holds package-level state.
type Coordinator struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	core     *metric.Metrics
	monitor  *health.Monitor

	cache     *tiercache.Manager[json.RawMessage]
	batch     *batch.Processor
	resources *resource.Manager

	flight singleflight.Group

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates cfg, connects the remote and persistent cache backends in
// parallel and builds every component. An unreachable remote backend leaves
// the cache running on two tiers and reports degraded health, unless the
// configuration marks it required.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	c := &Coordinator{
		cfg:      cfg,
		logger:   o.logger,
		registry: o.registry,
		monitor:  health.NewMonitor(),
	}
	if c.registry != nil {
		c.core = c.registry.CoreMetrics()
	}

	remote, store, err := c.openBackends(ctx, o)
	if err != nil {
		return nil, err
	}

	cacheOpts := []tiercache.Option{
		tiercache.WithLogger(c.logger),
		tiercache.WithStore(store),
		tiercache.WithMetrics(c.registry),
	}
	if remote != nil {
		cacheOpts = append(cacheOpts, tiercache.WithRemote(remote))
	}
	c.cache, err = tiercache.New[json.RawMessage](cfg.Cache.Memory, cacheOpts...)
	if err != nil {
		closeBackends(remote, store)
		return nil, err
	}

	c.resources, err = resource.NewManager(
		resource.WithLogger(c.logger),
		resource.WithConfigs(cfg.Resources),
		resource.WithMetrics(c.registry),
	)
	if err != nil {
		_ = c.cache.Close()
		return nil, err
	}

	c.batch, err = batch.New(cfg.Batch,
		batch.WithLogger(c.logger),
		batch.WithMetrics(c.registry),
	)
	if err != nil {
		_ = c.cache.Close()
		return nil, err
	}

	c.recordStatus(statusRunning)
	c.logger.Info("Coordinator started",
		"remote_backend", cfg.Cache.Remote.Backend,
		"remote_connected", remote != nil,
		"store_driver", cfg.Cache.Store.Driver(),
		"resource_classes", len(cfg.Resources))
	return c, nil
}

// openBackends connects L2 and L3 concurrently. Injected backends from
// options are used as they are.
func (c *Coordinator) openBackends(ctx context.Context, o *options) (tiercache.RemoteStore, storage.Store, error) {
	var (
		remote tiercache.RemoteStore
		store  storage.Store
		g      errgroup.Group
	)

	g.Go(func() error {
		r, err := c.openRemote(ctx, o)
		if err != nil {
			return err
		}
		remote = r
		return nil
	})
	g.Go(func() error {
		s, err := c.openStore(ctx, o)
		if err != nil {
			return err
		}
		store = s
		return nil
	})

	if err := g.Wait(); err != nil {
		closeBackends(remote, store)
		return nil, nil, err
	}
	return remote, store, nil
}

func (c *Coordinator) openRemote(ctx context.Context, o *options) (tiercache.RemoteStore, error) {
	if o.remote != nil {
		c.monitor.UpdateHealthy(componentRemote, "Using injected "+o.remote.Name()+" backend")
		return o.remote, nil
	}

	rc := c.cfg.Cache.Remote
	if !rc.Enabled() {
		return nil, nil
	}

	var (
		remote tiercache.RemoteStore
		err    error
	)
	switch rc.Backend {
	case config.RemoteRedis:
		var rs *tiercache.RedisStore
		rs, err = tiercache.DialRedis(ctx, rc.URL, rc.Namespace, tiercache.WithRedisLogger(c.logger))
		if err == nil {
			remote = rs
		}
	case config.RemoteNATS:
		var ns *tiercache.NATSStore
		ns, err = tiercache.DialNATS(ctx, rc.URL, rc.Namespace, c.cfg.Cache.Memory.RemoteTTL,
			natsclient.WithName("apicore"),
			natsclient.WithLogger(c.logger),
			natsclient.WithHealthChangeCallback(c.onRemoteHealth),
		)
		if err == nil {
			remote = ns
		}
	default:
		err = errors.WrapInvalid(errors.ErrInvalidConfig, "Coordinator", "openRemote",
			fmt.Sprintf("unknown remote backend %q", rc.Backend))
	}

	if err != nil {
		if rc.Required {
			c.monitor.Update(componentRemote, health.FromError(componentRemote, err))
			return nil, errors.WrapTransient(err, "Coordinator", "New", "connect required "+rc.Backend+" backend")
		}
		c.logger.Warn("Remote cache tier unavailable, continuing without it",
			"backend", rc.Backend, "error", err)
		c.monitor.Update(componentRemote, health.Degrade(componentRemote, err).
			WithDetail("backend", rc.Backend))
		if c.core != nil {
			c.core.RecordBackendConnected(rc.Backend, false)
		}
		return nil, nil
	}

	c.monitor.Update(componentRemote, health.NewHealthy(componentRemote, "Connected").
		WithDetail("backend", rc.Backend))
	return remote, nil
}

func (c *Coordinator) onRemoteHealth(healthy bool) {
	if healthy {
		c.monitor.Update(componentRemote, health.NewHealthy(componentRemote, "Connected").
			WithDetail("backend", config.RemoteNATS))
	} else {
		c.monitor.Update(componentRemote, health.NewDegraded(componentRemote, "Connection lost, reconnecting").
			WithDetail("backend", config.RemoteNATS))
	}
	if c.core != nil {
		c.core.RecordBackendConnected(config.RemoteNATS, healthy)
	}
}

func (c *Coordinator) openStore(ctx context.Context, o *options) (storage.Store, error) {
	if o.store != nil {
		c.monitor.UpdateHealthy(componentStore, "Using injected store")
		return o.store, nil
	}

	store, err := cachestore.Open(ctx, c.cfg.Cache.Store, cachestore.WithLogger(c.logger))
	if err != nil {
		c.monitor.Update(componentStore, health.FromError(componentStore, err))
		return nil, errors.WrapFatal(err, "Coordinator", "New", "open persistent cache")
	}
	c.monitor.Update(componentStore, health.NewHealthy(componentStore, "Open").
		WithDetail("driver", store.Driver()))
	return store, nil
}

func closeBackends(remote tiercache.RemoteStore, store storage.Store) {
	if remote != nil {
		_ = remote.Close()
	}
	if store != nil {
		_ = store.Close()
	}
}

// Cache returns the tiered cache. Values are raw JSON; Fetch decodes them.
func (c *Coordinator) Cache() *tiercache.Manager[json.RawMessage] {
	return c.cache
}

// Batch returns the batch processor.
func (c *Coordinator) Batch() *batch.Processor {
	return c.batch
}

// Resources returns the resource manager.
func (c *Coordinator) Resources() *resource.Manager {
	return c.resources
}

// Config returns the configuration the coordinator was built from.
func (c *Coordinator) Config() config.Config {
	return c.cfg
}

// Health aggregates backend connectivity with the current cache, batch and
// resource snapshots. A missing remote tier degrades the result; a shut down
// coordinator is unhealthy.
func (c *Coordinator) Health() health.Status {
	if c.closed.Load() {
		return health.NewUnhealthy("apicore", "Shut down")
	}

	cs := c.cache.Stats()
	cacheStatus := health.NewHealthy(componentCache, "Serving").
		WithDetail("l2_enabled", cs.L2.Enabled).
		WithDetail("l1_size", cs.L1.Size).
		WithDetail("hit_rate", cs.Overall.HitRate)

	bs := c.batch.Stats()
	batchStatus := health.NewHealthy(componentBatch, "Accepting submissions").
		WithDetail("pending_items", bs.PendingItems).
		WithDetail("total_batches", bs.TotalBatches).
		WithDetail("total_failures", bs.TotalFailures)

	classes := c.resources.AllStats()
	resourceStatus := health.NewHealthy(componentResources, "Admitting").
		WithDetail("active_classes", len(classes))

	return c.monitor.Aggregate("apicore", cacheStatus, batchStatus, resourceStatus)
}

// Shutdown drains the batch processor, bounded by ctx, then closes the cache
// tiers. Calling it again returns the first result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.closed.Store(true)
		c.recordStatus(statusDraining)
		c.logger.Info("Coordinator shutting down")

		var errs []error
		if err := c.batch.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		if err := c.cache.Close(); err != nil {
			errs = append(errs, errors.WrapTransient(err, "Coordinator", "Shutdown", "close cache tiers"))
		}
		c.monitor.UpdateUnhealthy(componentStore, "Closed")
		c.monitor.Remove(componentRemote)

		c.recordStatus(statusStopped)
		c.shutdownErr = stderrors.Join(errs...)
		if c.shutdownErr != nil {
			c.logger.Error("Coordinator shutdown incomplete", "error", c.shutdownErr)
		} else {
			c.logger.Info("Coordinator stopped")
		}
	})
	return c.shutdownErr
}

func (c *Coordinator) recordStatus(status int) {
	if c.core == nil {
		return
	}
	for _, name := range []string{componentCache, componentBatch, componentResources} {
		c.core.RecordComponentStatus(name, status)
	}
}

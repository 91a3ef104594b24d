// Package metric provides the Prometheus registry and scrape server shared by
// the apicore components.
//
// MetricsRegistry wraps a private prometheus.Registry. Components register
// their own collectors through the MetricsRegistrar methods, keyed by
// component and metric name, and duplicate registrations are rejected as
// invalid errors. A small set of process-level metrics (component status,
// backend connectivity, absorbed backend errors, fetch latency) is registered
// up front and reachable through CoreMetrics.
//
// Components take the registry as an optional dependency: passing nil keeps
// the always-on in-process statistics but exports nothing.
//
//	registry := metric.NewMetricsRegistry()
//	mgr, err := resource.NewManager(resource.DefaultConfigs(), resource.WithMetrics(registry))
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop(ctx)
//
// Metric names use the "apicore" namespace, for example
// apicore_cache_hits_total{component="tiercache_l1"}.
package metric

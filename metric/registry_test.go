package metric

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/health"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "kinds_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "kinds_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "kinds_histogram", Help: "h"})

	require.NoError(t, registry.RegisterCounter("batch", "kinds_counter", counter))
	require.NoError(t, registry.RegisterGauge("batch", "kinds_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("batch", "kinds_histogram", histogram))

	counter.Inc()
	gauge.Set(3)
	histogram.Observe(0.2)

	names := gatheredNames(t, registry)
	assert.True(t, names["kinds_counter"])
	assert.True(t, names["kinds_gauge"])
	assert.True(t, names["kinds_histogram"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("resource", "dup_counter", first))

	err := registry.RegisterCounter("resource", "dup_counter", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.RegisterCounter("other", "dup_counter", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "x"})
	require.NoError(t, registry.RegisterCounter("cache", "gone_counter", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["gone_counter"])

	assert.True(t, registry.Unregister("cache", "gone_counter"))
	assert.False(t, gatheredNames(t, registry)["gone_counter"])
	assert.False(t, registry.Unregister("cache", "gone_counter"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const n = 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			assert.NoError(t, registry.RegisterCounter("concurrent", name, c))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, n, count)
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "iface_counter", Help: "c"})
	require.NoError(t, registrar.RegisterCounter("iface", "iface_counter", counter))
}

func TestCoreMetrics_Recorded(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordComponentStatus("batch", 1)
	core.RecordBackendConnected("redis", true)
	core.RecordBackendError("redis", "get")
	core.RecordFetch("jira", "upstream", 0.05)

	names := gatheredNames(t, registry)
	for _, expected := range []string{
		"apicore_component_status",
		"apicore_backend_connected",
		"apicore_backend_errors_total",
		"apicore_fetch_duration_seconds",
	} {
		assert.True(t, names[expected], "core metric %s should be present", expected)
	}
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordBackendConnected("sql", true)

	handler, err := NewServer(0, "", registry).Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "apicore_backend_connected")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_NilRegistry(t *testing.T) {
	_, err := NewServer(9090, "/metrics", nil).Handler()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServer_MetricsExposition(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()
	core.RecordBackendError("redis", "get")
	core.RecordBackendError("redis", "get")

	handler, err := NewServer(0, "/metrics", registry).Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)

	mf, ok := families["apicore_backend_errors_total"]
	require.True(t, ok)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, float64(2), mf.GetMetric()[0].GetCounter().GetValue())
}

func TestServer_HealthCheck(t *testing.T) {
	tests := []struct {
		name     string
		status   health.Status
		wantCode int
	}{
		{"healthy", health.NewHealthy("apicore", "ok"), http.StatusOK},
		{"degraded", health.NewDegraded("apicore", "remote tier down"), http.StatusOK},
		{"unhealthy", health.NewUnhealthy("apicore", "store down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(0, "/metrics", NewMetricsRegistry())
			s.SetHealthCheck(func() health.Status { return tt.status })
			handler, err := s.Handler()
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"status":"%s"`, tt.status.State))
		})
	}
}

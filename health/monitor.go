package health

import (
	"sync"
	"time"
)

// Monitor holds the latest status per component. Backends push updates
// from connection callbacks; readers aggregate on demand.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records status under name. The component name is forced to name
// and a zero timestamp is set to now.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// UpdateHealthy marks name healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded marks name degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy marks name unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the status recorded for name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Remove forgets name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Snapshot returns every recorded status.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	return out
}

// Aggregate combines the recorded statuses with extra, which callers use
// for statuses computed at read time.
func (m *Monitor) Aggregate(system string, extra ...Status) Status {
	return Aggregate(system, append(m.Snapshot(), extra...))
}

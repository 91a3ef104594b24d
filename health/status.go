package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the coarse health of a component.
type State string

// Health states, best first.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is the health of one component, optionally with the statuses of
// the parts it aggregates.
type Status struct {
	Component   string         `json:"component"`
	Healthy     bool           `json:"healthy"`
	State       State          `json:"status"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	SubStatuses []Status       `json:"sub_statuses,omitempty"`
}

// IsHealthy reports whether the state is healthy.
func (s Status) IsHealthy() bool {
	return s.State == StateHealthy
}

// IsDegraded reports whether the state is degraded.
func (s Status) IsDegraded() bool {
	return s.State == StateDegraded
}

// IsUnhealthy reports whether the state is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.State == StateUnhealthy
}

// WithDetail returns a copy carrying key=value in Details.
func (s Status) WithDetail(key string, value any) Status {
	details := make(map[string]any, len(s.Details)+1)
	for k, v := range s.Details {
		details[k] = v
	}
	details[key] = value
	s.Details = details
	return s
}

// WithSubStatus returns a copy with sub appended.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

var (
	urlPattern        = regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^\s]+`)
	ipAddrPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d{1,5})?\b`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|secret)\s*[:=]\s*[^,\s}]+`)
)

// sanitize masks connection strings, addresses and credentials so backend
// errors can be shown on an unauthenticated health endpoint.
func sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlPattern.ReplaceAllString(msg, "[URL]")
	msg = ipAddrPattern.ReplaceAllString(msg, "[IP]")
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
		msg = credentialPattern.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// FromError is healthy when err is nil and otherwise carries the sanitized
// error as an unhealthy status.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "OK")
	}
	return NewUnhealthy(component, sanitize(err.Error()))
}

// Degrade is FromError with degraded instead of unhealthy, for optional
// parts whose failure leaves the system working.
func Degrade(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "OK")
	}
	return NewDegraded(component, sanitize(err.Error()))
}

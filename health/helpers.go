package health

import (
	"sort"
	"time"
)

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// Aggregate combines subs into one status: unhealthy if any sub is
// unhealthy, else degraded if any is degraded, else healthy. Subs are
// ordered by component name.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "No components registered")
	}

	worst := StateHealthy
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			worst = StateUnhealthy
		case sub.IsDegraded() && worst == StateHealthy:
			worst = StateDegraded
		}
	}

	var status Status
	switch worst {
	case StateUnhealthy:
		status = NewUnhealthy(component, "One or more components are unhealthy")
	case StateDegraded:
		status = NewDegraded(component, "One or more components are degraded")
	default:
		status = NewHealthy(component, "All components are healthy")
	}

	status.SubStatuses = make([]Status, len(subs))
	copy(status.SubStatuses, subs)
	sort.Slice(status.SubStatuses, func(i, j int) bool {
		return status.SubStatuses[i].Component < status.SubStatuses[j].Component
	})
	return status
}

// Package health reports component health as healthy, degraded or
// unhealthy.
//
// A Status describes one component; Aggregate folds several into one,
// taking the worst state. Monitor keeps the last status pushed by
// long-lived parts such as backend connections so that a readiness check
// can combine them with statuses computed on the spot:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateDegraded("remote", "redis unreachable, running two tiers")
//	status := monitor.Aggregate("apicore", health.FromError("store", store.Ping()))
//
// Error text passed to FromError or Degrade is sanitized: URLs, IP
// addresses and credential assignments are masked.
package health

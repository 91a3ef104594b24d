package batch

import "time"

// Adaptive tuning constants.
const (
	successSmoothing = 0.1

	highSuccessRate = 0.95
	lowSuccessRate  = 0.8
	thresholdGrow   = 1.1
	thresholdShrink = 0.9

	fastThroughput = 100.0 // items per second
	slowThroughput = 10.0
	waitGrow       = 1.2
	waitShrink     = 0.8
	maxWait        = 2 * time.Second
	minWait        = 100 * time.Millisecond
)

// kindParams is the adaptive state of one operation kind.
type kindParams struct {
	threshold   int
	wait        time.Duration
	successRate float64
}

// smoothSuccess folds one flush outcome (1.0 success, 0.0 failure) into the
// exponential moving average.
func smoothSuccess(current, sample float64) float64 {
	return successSmoothing*sample + (1-successSmoothing)*current
}

// nextThreshold grows the flush threshold on a high success rate and shrinks
// it on a low one. Results are truncated to whole items.
func nextThreshold(current, base int, successRate float64) int {
	next := float64(current)
	switch {
	case successRate > highSuccessRate:
		next = min(next*thresholdGrow, float64(base*2))
	case successRate < lowSuccessRate:
		next = max(next*thresholdShrink, 1)
	}
	return int(next)
}

// nextWait picks the wait window from observed throughput. The window is
// derived from the configured base, not from the previous value.
func nextWait(base time.Duration, items int, elapsed time.Duration) time.Duration {
	throughput := float64(items)
	if elapsed > 0 {
		throughput = float64(items) / elapsed.Seconds()
	}
	switch {
	case throughput > fastThroughput:
		return min(time.Duration(float64(base)*waitGrow), maxWait)
	case throughput < slowThroughput:
		return max(time.Duration(float64(base)*waitShrink), minWait)
	default:
		return base
	}
}

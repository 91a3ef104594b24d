// Package retry provides exponential backoff for transient failures.
//
// Do runs a function until it succeeds, returns a NonRetryable error, the
// context ends, or MaxAttempts is reached. Delay exposes the same backoff
// curve without sleeping; the batch processor uses it to schedule retry
// flushes at base * 2^retryCount.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s
//   - Quick(): 5 attempts, 50ms-1s, used when dialing cache backends
//   - Persistent(): 30 attempts, 200ms-10s
//
// Example:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Ping(ctx).Err()
//	})
package retry

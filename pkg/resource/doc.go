// Package resource gates access to upstream APIs per named resource class.
//
// Each class owns a FIFO admission gate (golang.org/x/sync/semaphore) sized
// to MaxConcurrent and a token bucket (pkg/ratelimit) refilled at
// RequestsPerMinute/60 tokens per second. Acquire first takes a gate slot,
// then always waits for a token, so a class never has more than
// MaxConcurrent holders and never starts requests faster than its rate.
//
//	mgr, err := resource.NewManager(resource.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	err = mgr.Do(ctx, "jira", 1, func(ctx context.Context) error {
//	    return client.Search(ctx, query)
//	})
//
// Classes without a preset are created on first use from the "default"
// preset. AcquireMultiple is all-or-nothing across classes: names are taken
// in sorted order and anything acquired is released if a later class fails.
//
// Configure swaps the rate limit immediately. A concurrency change is held
// until the class has no holders or waiters, because slots must be returned
// to the gate they came from.
package resource

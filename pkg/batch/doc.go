// Package batch coalesces many small upstream requests into fewer batched
// calls.
//
// Callers Submit items under an operation kind; each kind has one registered
// ProcessFunc. A kind's queue is flushed when it reaches the kind's current
// threshold or when its wait timer fires, whichever comes first. The
// ProcessFunc runs outside the processor lock and resolves every item through
// its handle:
//
//	p, _ := batch.New(batch.DefaultConfig(), batch.WithLogger(logger))
//	_ = p.Register("jira.get_issue", func(ctx context.Context, items []*batch.Item) error {
//	    issues, err := client.BulkGet(ctx, keys(items))
//	    if err != nil {
//	        return err
//	    }
//	    for _, it := range items {
//	        it.Resolve(issues[it.Params["key"].(string)])
//	    }
//	    return nil
//	})
//	issue, err := p.Add(ctx, "jira.get_issue", map[string]any{"key": "PM-42"})
//
// A returned error fails the whole batch. Unresolved items below MaxRetries
// are re-queued with a delay of wait * 2^retryCount; the rest are failed with
// an error matching errors.ErrMaxRetriesExceeded and the upstream cause.
// Items a successful ProcessFunc leaves unresolved fail with
// errors.ErrUnresolvedItem, so every item resolves exactly once.
//
// With Adaptive set, each kind tunes its own threshold from an exponential
// moving average of batch success, and its wait window from throughput.
// Adaptive state is kept for at most MaxTrackedKinds kinds.
package batch

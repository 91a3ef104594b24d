// Package errors provides the classified error model used across apicore.
//
// Every error falls into one of three classes:
//
//   - Transient: backend timeouts, capacity or rate exhaustion, upstream batch
//     failures. Callers may retry.
//   - Invalid: bad configuration or arguments, such as submitting a batch for a
//     kind with no registered processor. Retrying will not help.
//   - Fatal: terminal outcomes such as a batch item that used up its retries.
//
// Components wrap errors with the "component.method: action failed: cause"
// format through WrapTransient, WrapInvalid and WrapFatal, so errors.Is and
// errors.As keep working against the sentinels declared here:
//
//	if err := mgr.Acquire(ctx, "jira", false); errors.Is(err, errors.ErrCapacityExhausted) {
//	    // back off or fall through to the batch path
//	}
//
// RetryExhausted builds the error delivered to a batch item after its final
// attempt; it matches both ErrMaxRetriesExceeded and the upstream cause.
package errors

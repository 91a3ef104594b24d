// Package buffer provides a fixed-capacity circular buffer for keeping the
// most recent N observations, such as the wait window behind rate limiter
// statistics.
//
// A Circular buffer never grows. When full, the overflow policy decides
// whether the oldest item is evicted (DropOldest, the default) or the new
// item is discarded (DropNewest). Either way the drop is counted.
//
//	waits, _ := buffer.NewCircular[time.Duration](1000)
//	waits.Write(12 * time.Millisecond)
//	avg := buffer.Average(waits)
//
// Circular is safe for concurrent use.
package buffer

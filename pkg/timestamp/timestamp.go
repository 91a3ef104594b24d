// Package timestamp converts between time.Time and the int64 Unix
// millisecond columns used by the persistent cache.
//
// Zero means "not set" in both directions: the zero time.Time maps to 0 (or
// a nil column) and 0 maps back to the zero time.Time.
package timestamp

import (
	"time"
)

// ToUnixMs converts t to Unix milliseconds, or 0 for the zero time.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a UTC time, or the zero time for 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Nullable returns a pointer for a nullable column; the zero time is nil.
func Nullable(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// FromNullable reverses Nullable.
func FromNullable(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return FromUnixMs(*ms)
}

// Format renders ms as RFC3339 with milliseconds, or "" for 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).Format("2006-01-02T15:04:05.000Z07:00")
}

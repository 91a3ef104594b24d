package tiercache

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/c360/apicore/errors"
)

// Level identifies a cache tier.
type Level int

const (
	// L1 is the in-process LRU.
	L1 Level = 1
	// L2 is the optional distributed store.
	L2 Level = 2
	// L3 is the persistent store.
	L3 Level = 3
)

// AllLevels lists every tier, fastest first.
var AllLevels = []Level{L1, L2, L3}

func (l Level) String() string {
	switch l {
	case L1:
		return "l1"
	case L2:
		return "l2"
	case L3:
		return "l3"
	default:
		return "unknown"
	}
}

// Status is the outcome of one tier lookup.
type Status int

const (
	// StatusMiss means the tier answered and holds no live value.
	StatusMiss Status = iota
	// StatusHit means the tier returned a value.
	StatusHit
	// StatusUnavailable means the tier failed to answer.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusMiss:
		return "miss"
	default:
		return "unavailable"
	}
}

// lookup is the result of reading one tier. Backend errors stop here.
type lookup struct {
	status Status
	data   []byte
	err    error
}

func classify(data []byte, err error) lookup {
	switch {
	case err == nil:
		return lookup{status: StatusHit, data: data}
	case stderrors.Is(err, errors.ErrKeyNotFound):
		return lookup{status: StatusMiss}
	default:
		return lookup{status: StatusUnavailable, err: err}
	}
}

// RemoteStore is a distributed key/value tier. Implementations return
// errors.ErrKeyNotFound from Get when the key is absent or expired.
type RemoteStore interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores data for ttl. Backends without per-key TTL apply their own.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by this store and returns the count.
	Clear(ctx context.Context) (int64, error)
	Close() error
}

package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

var (
	ErrKVKeyNotFound = errors.New("kv: key not found")
)

// KVEntry is a value read from a bucket with its revision
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
	Created  time.Time
}

// KVOptions configures KV operations
type KVOptions struct {
	Timeout time.Duration // per-operation timeout, 0 disables
}

// DefaultKVOptions returns the default KV options
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout: 2 * time.Second,
	}
}

// KVStore wraps a JetStream bucket with timeouts and typed errors
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket using the client's logger
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger.With("bucket", bucket.Bucket()),
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Bucket returns the bucket name
func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

// Get retrieves a value; a missing or deleted key returns ErrKVKeyNotFound
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
		Created:  entry.Created(),
	}, nil
}

// Put writes a value, last writer wins
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	kv.logger.Debug("kv put", "key", key, "revision", rev)
	return rev, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil && !IsKVNotFoundError(err) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the live keys in the bucket
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// Purge removes every key and its history, returning the number of keys removed
func (kv *KVStore) Purge(ctx context.Context) (int, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	purged := 0
	for _, key := range keys {
		if err := kv.bucket.Purge(ctx, key); err != nil && !IsKVNotFoundError(err) {
			return purged, fmt.Errorf("kv purge %s: %w", key, err)
		}
		purged++
	}
	return purged, nil
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrKVKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted)
}

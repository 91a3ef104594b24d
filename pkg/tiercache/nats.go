package tiercache

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/natsclient"
)

// NATSStore is a RemoteStore on a JetStream key/value bucket. The bucket
// name is the namespace and its TTL applies to every key; per-call TTLs
// are ignored. Keys are base64url encoded because KV keys only allow a
// restricted alphabet.
type NATSStore struct {
	kv     *natsclient.KVStore
	client *natsclient.Client
	owned  bool
}

var _ RemoteStore = (*NATSStore)(nil)

// DialNATS connects a new client to url and opens bucket. The store owns the
// client and closes it in Close.
func DialNATS(ctx context.Context, url, bucket string, ttl time.Duration, opts ...natsclient.ClientOption) (*NATSStore, error) {
	client, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.WrapTransient(err, "tiercache", "DialNATS", "connect")
	}

	s, err := NewNATSStore(ctx, client, bucket, ttl)
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewNATSStore opens bucket on a connected client, creating it with ttl when
// absent. The caller keeps ownership of client.
func NewNATSStore(ctx context.Context, client *natsclient.Client, bucket string, ttl time.Duration) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultNamespace
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "apicore distributed cache tier",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "tiercache", "NewNATSStore", fmt.Sprintf("open bucket %s", bucket))
	}
	return &NATSStore{kv: client.NewKVStore(kv), client: client}, nil
}

// Name returns "nats".
func (s *NATSStore) Name() string {
	return "nats"
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Get returns the value at key or errors.ErrKeyNotFound.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
		return nil, errors.Wrap(errors.ErrKeyNotFound, "nats", "Get", fmt.Sprintf("lookup %s", key))
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "nats", "Get", fmt.Sprintf("get %s", key))
	}
	return entry.Value, nil
}

// Set stores data. The bucket TTL governs expiry.
func (s *NATSStore) Set(ctx context.Context, key string, data []byte, _ time.Duration) error {
	if _, err := s.kv.Put(ctx, encodeKey(key), data); err != nil {
		return errors.WrapTransient(err, "nats", "Set", fmt.Sprintf("put %s", key))
	}
	return nil
}

// Delete removes key.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, encodeKey(key)); err != nil {
		return errors.WrapTransient(err, "nats", "Delete", fmt.Sprintf("delete %s", key))
	}
	return nil
}

// Clear purges every key in the bucket.
func (s *NATSStore) Clear(ctx context.Context) (int64, error) {
	n, err := s.kv.Purge(ctx)
	if err != nil {
		return int64(n), errors.WrapTransient(err, "nats", "Clear", "purge bucket "+s.kv.Bucket())
	}
	return int64(n), nil
}

// Close closes the client when the store created it.
func (s *NATSStore) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}

package tiercache

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/pkg/retry"
)

// DefaultNamespace prefixes remote keys when none is configured.
const DefaultNamespace = "apicore"

const scanBatch = 100

// RedisStore is a RemoteStore on Redis. Keys are stored as
// "<namespace>:<key>" so that Clear only touches this cache's keys.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    *slog.Logger
}

var _ RemoteStore = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisLogger sets the logger. Defaults to slog.Default().
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DialRedis parses url, connects and pings with a short retry.
func DialRedis(ctx context.Context, url, namespace string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.WrapInvalid(err, "tiercache", "DialRedis", "parse redis url")
	}

	s := NewRedisStore(redis.NewClient(redisOpts), namespace, opts...)
	err = retry.Do(ctx, retry.Quick(), func() error {
		return s.client.Ping(ctx).Err()
	})
	if err != nil {
		_ = s.client.Close()
		return nil, errors.WrapTransient(err, "tiercache", "DialRedis", fmt.Sprintf("ping %s", redisOpts.Addr))
	}

	s.logger.Info("Connected to Redis", "addr", redisOpts.Addr, "namespace", s.namespace)
	return s, nil
}

// NewRedisStore wraps an existing client. The store owns the client from
// then on and closes it in Close.
func NewRedisStore(client *redis.Client, namespace string, opts ...RedisOption) *RedisStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	s := &RedisStore{client: client, namespace: namespace, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "redis".
func (s *RedisStore) Name() string {
	return "redis"
}

func (s *RedisStore) key(key string) string {
	return s.namespace + ":" + key
}

// Get returns the value at key or errors.ErrKeyNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.Wrap(errors.ErrKeyNotFound, "redis", "Get", fmt.Sprintf("lookup %s", key))
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "redis", "Get", fmt.Sprintf("get %s", key))
	}
	return data, nil
}

// Set stores data with SET ... EX ttl.
func (s *RedisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return errors.WrapTransient(err, "redis", "Set", fmt.Sprintf("set %s", key))
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.WrapTransient(err, "redis", "Delete", fmt.Sprintf("delete %s", key))
	}
	return nil
}

// Clear scans the namespace and deletes every key in it.
func (s *RedisStore) Clear(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	match := s.namespace + ":*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, errors.WrapTransient(err, "redis", "Clear", "scan namespace")
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.WrapTransient(err, "redis", "Clear", "delete keys")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Close closes the client.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return errors.WrapTransient(err, "redis", "Close", "close client")
	}
	return nil
}

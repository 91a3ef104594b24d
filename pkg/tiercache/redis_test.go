package tiercache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/apicore/errors"
)

func newRedisStore(t *testing.T, mr *miniredis.Miniredis, namespace string) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	s := NewRedisStore(client, namespace)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr, "pm")
	ctx := context.Background()

	assert.Equal(t, "redis", s.Name())

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "jira:PROJ-1", []byte(`{"id":1}`), time.Minute))
	assert.True(t, mr.Exists("pm:jira:PROJ-1"))
	assert.Equal(t, time.Minute, mr.TTL("pm:jira:PROJ-1"))

	data, err := s.Get(ctx, "jira:PROJ-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(data))

	require.NoError(t, s.Delete(ctx, "jira:PROJ-1"))
	require.NoError(t, s.Delete(ctx, "jira:PROJ-1"))
	_, err = s.Get(ctx, "jira:PROJ-1")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr, "pm")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("1"), 2*time.Second))
	mr.FastForward(3 * time.Second)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestRedisStore_ClearOnlyTouchesNamespace(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr, "pm")
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), time.Minute))
	}
	require.NoError(t, mr.Set("other:a", "keep"))

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.True(t, mr.Exists("other:a"))
	assert.False(t, mr.Exists("pm:a"))

	n, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_DefaultNamespace(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr, "")

	require.NoError(t, s.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists(DefaultNamespace+":k"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr, "pm")
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrKeyNotFound)
	assert.True(t, errors.IsTransient(err))
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := DialRedis(ctx, "redis://"+mr.Addr()+"/0", "pm")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("pm:k"))

	_, err = DialRedis(ctx, "not a url", "pm")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

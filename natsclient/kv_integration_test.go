//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartJetStreamContainer starts a NATS server with JetStream enabled and
// returns its client URL. The container is terminated on test cleanup.
func startJetStreamContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"--js"},
			WaitingFor:   wait.ForLog("Server is ready"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestKVStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	url := startJetStreamContainer(ctx, t)

	client, err := NewClient(url)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "apicore-test",
		TTL:    time.Minute,
	})
	require.NoError(t, err)

	// Second call reuses the bucket
	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "apicore-test"})
	require.NoError(t, err)

	kv := client.NewKVStore(bucket)
	assert.Equal(t, "apicore-test", kv.Bucket())

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	rev, err := kv.Put(ctx, "alpha", []byte("1"))
	require.NoError(t, err)
	assert.Greater(t, rev, uint64(0))

	entry, err := kv.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "1", string(entry.Value))

	_, err = kv.Put(ctx, "beta", []byte("2"))
	require.NoError(t, err)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, keys)

	require.NoError(t, kv.Delete(ctx, "alpha"))
	require.NoError(t, kv.Delete(ctx, "alpha"))
	_, err = kv.Get(ctx, "alpha")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	purged, err := kv.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

package natsclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
	assert.Equal(t, 2*time.Second, client.Backoff())
}

func TestCircuitBreaker_CustomThreshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_BackoffCapped(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithMaxBackoff(4*time.Second))
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		for i := 0; i < 5; i++ {
			client.recordFailure()
		}
	}
	assert.Equal(t, 4*time.Second, client.Backoff())
}

func TestConnect_CircuitOpenShortCircuits(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		client.recordFailure()
	}

	err = client.Connect(context.Background())
	assert.Equal(t, ErrCircuitOpen, err)
}

func TestConnect_UnreachableServer(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(200*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestKeyValueBucket_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = client.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{Bucket: "test"})
	assert.Equal(t, ErrNotConnected, err)

	_, err = client.JetStream()
	assert.Equal(t, ErrNotConnected, err)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))
	assert.Error(t, client.Connect(context.Background()))
}

func TestIsAlreadyExistsError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"bucket name already in use", errors.New("nats: bucket name already in use"), true},
		{"already exists", errors.New("bucket already exists"), true},
		{"stream name already in use", errors.New("nats: stream name already in use"), true},
		{"other error", errors.New("connection failed"), false},
		{"nil error", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isAlreadyExistsError(tc.err))
		})
	}
}

func TestIsKVNotFoundError(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyNotFound))
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyDeleted))
	assert.False(t, IsKVNotFoundError(errors.New("timeout")))
	assert.False(t, IsKVNotFoundError(nil))
}

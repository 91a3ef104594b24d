// Package natsclient manages the NATS connection that backs the JetStream
// key-value implementation of the distributed cache tier.
//
// Client wraps nats.Conn with a circuit breaker: after a threshold of
// consecutive failures (default 5) Connect and bucket operations fail fast
// with ErrCircuitOpen until the backoff elapses. Backoff doubles per round up
// to a maximum.
//
//	client, err := natsclient.NewClient(url, natsclient.WithLogger(logger))
//	if err := client.Connect(ctx); err != nil { ... }
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket: "apicore-cache",
//	    TTL:    time.Hour,
//	})
//	kv := client.NewKVStore(bucket)
//
// KVStore adds per-operation timeouts and maps missing or deleted keys to
// ErrKVKeyNotFound.
//
// Integration tests need Docker and run with -tags integration.
package natsclient

package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/apicore/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client owns one NATS connection and its JetStream context.
type Client struct {
	url      string
	status   atomic.Value // ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Circuit breaker
	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	username      string
	password      string
	token         string

	onHealthChange func(bool)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
		clientName:       "apicore",
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})
	c.logger = c.logger.With("component", "natsclient", "url", url)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current circuit backoff
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure counts a failure and opens the circuit once the threshold
// is reached within the current round. Backoff doubles up to maxBackoff.
func (m *Client) recordFailure() {
	total := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	round := m.circuitFailures.Add(1)

	m.logger.Debug("recorded NATS failure", "failures", total, "round", round)

	if round < m.circuitThreshold {
		return
	}

	current := m.Backoff()
	next := current * 2
	if next > m.maxBackoff {
		next = m.maxBackoff
	}

	status := m.Status()
	if status == StatusCircuitOpen {
		m.backoff.Store(next)
		m.circuitFailures.Store(0)
		m.logger.Warn("circuit breaker still open", "backoff", next)
		return
	}

	if m.status.CompareAndSwap(status, StatusCircuitOpen) {
		m.backoff.Store(next)
		m.circuitFailures.Store(0)
		m.logger.Warn("circuit breaker opened", "failures", round, "backoff", current)
		time.AfterFunc(current, m.halfOpen)
	}
}

func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// halfOpen lets the next Connect attempt through after the backoff elapses.
func (m *Client) halfOpen() {
	m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
}

func (m *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(m.clientName),
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}
	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	return opts
}

// Connect establishes the connection and JetStream context
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapFatal(errors.ErrClosed, "Client", "Connect", "connect closed client")
	}
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(m.url, m.connectionOptions()...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// Close a connection that lands after the caller gave up
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		m.recordFailure()
		if m.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		res.conn.Close()
		m.recordFailure()
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "initialize jetstream")
	}

	m.mu.Lock()
	m.conn = res.conn
	m.js = js
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("connected to NATS")
	m.notifyHealth(true)
	return nil
}

// Close drains and closes the connection. Safe to call more than once.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.js = nil
	m.username, m.password, m.token = "", "", ""
	m.mu.Unlock()

	defer m.setStatus(StatusDisconnected)

	if conn == nil {
		return nil
	}

	drainTimeout := m.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	var drainErr error
	select {
	case err := <-drained:
		if err != nil {
			drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-time.After(drainTimeout):
		drainErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", drainTimeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}

	conn.Close()
	if drainErr != nil {
		m.logger.Error("NATS drain failed", "error", drainErr)
	}
	return drainErr
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.js == nil {
		return nil, ErrNotConnected
	}
	return m.js, nil
}

// CreateKeyValueBucket returns the named bucket, creating it when absent.
func (m *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if m.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if m.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		m.logger.Debug("using existing KV bucket", "bucket", cfg.Bucket)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if !isAlreadyExistsError(err) {
			m.recordFailure()
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("create bucket %s", cfg.Bucket))
		}
		// Lost a creation race with another process
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			m.recordFailure()
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("access existing bucket %s", cfg.Bucket))
		}
	}

	m.logger.Info("KV bucket ready", "bucket", cfg.Bucket, "ttl", cfg.TTL)
	return bucket, nil
}

func (m *Client) notifyHealth(healthy bool) {
	m.mu.RLock()
	fn := m.onHealthChange
	m.mu.RUnlock()
	if fn != nil {
		go fn(healthy)
	}
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)
	m.notifyHealth(false)
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("NATS reconnected")
	m.notifyHealth(true)
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
	m.notifyHealth(false)
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Error("NATS error", "error", err)
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bucket name already in use") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "stream name already in use")
}

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/metric"
	"github.com/c360/apicore/pkg/retry"
)

// ProcessFunc handles one batch of items of a single kind, in submission
// order. It resolves each item through Resolve or Fail. Returning an error
// fails the whole batch: every unresolved item is retried or, past the retry
// ceiling, failed.
type ProcessFunc func(ctx context.Context, items []*Item) error

// queue is the pending state of one operation kind. timerGen identifies the
// armed timer so a timer that fires after being superseded is ignored.
type queue struct {
	items    []*Item
	timer    *time.Timer
	timerGen uint64
}

// Stats is a snapshot of processor activity.
type Stats struct {
	TotalItems     int64                `json:"total_items"`
	TotalBatches   int64                `json:"total_batches"`
	TotalFailures  int64                `json:"total_failures"`
	TotalRetries   int64                `json:"total_retries"`
	AvgBatchSize   float64              `json:"avg_batch_size"`
	PendingItems   int                  `json:"pending_items"`
	ActiveTimers   int                  `json:"active_timers"`
	AdaptiveParams map[string]KindStats `json:"adaptive_params"`
}

// KindStats is the adaptive state of one operation kind.
type KindStats struct {
	BatchSize   int           `json:"batch_size"`
	WaitTime    time.Duration `json:"wait_time"`
	SuccessRate float64       `json:"success_rate"`
}

// Processor coalesces submitted items per operation kind and hands them to
// the kind's ProcessFunc when the queue reaches its threshold or its wait
// timer fires.
type Processor struct {
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *processorMetrics
	newID    func() string

	mu         sync.Mutex
	processors map[string]ProcessFunc
	queues     map[string]*queue
	params     *lru.Cache[string, *kindParams]
	closed     bool

	totalItems    int64
	totalBatches  int64
	totalFailures int64
	totalRetries  int64
	avgBatchSize  float64

	wg sync.WaitGroup
}

// New creates a processor.
func New(cfg Config, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:        cfg,
		logger:     slog.Default(),
		newID:      func() string { return uuid.New().String() },
		processors: make(map[string]ProcessFunc),
		queues:     make(map[string]*queue),
	}
	for _, opt := range opts {
		opt(p)
	}

	params, err := lru.New[string, *kindParams](cfg.MaxTrackedKinds)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Processor", "New", "create adaptive parameter cache")
	}
	p.params = params

	if p.registry != nil {
		m, err := newProcessorMetrics(p.registry)
		if err != nil {
			return nil, errors.WrapTransient(err, "Processor", "New", "metrics registration")
		}
		p.metrics = m
	}

	return p, nil
}

// Register sets the processor for kind, replacing any previous one.
func (p *Processor) Register(kind string, fn ProcessFunc) error {
	if fn == nil {
		return errors.WrapInvalid(errors.ErrNoProcessor, "Processor", "Register",
			fmt.Sprintf("register nil processor for %s", kind))
	}
	p.mu.Lock()
	p.processors[kind] = fn
	p.mu.Unlock()

	p.logger.Debug("Registered batch processor", "kind", kind)
	return nil
}

// Submit queues one item for kind and returns its handle. Reaching the
// kind's threshold dispatches the queue immediately.
func (p *Processor) Submit(kind string, params map[string]any) (*Item, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrShuttingDown, "Processor", "Submit",
			fmt.Sprintf("submit %s item", kind))
	}
	fn, ok := p.processors[kind]
	if !ok {
		p.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrNoProcessor, "Processor", "Submit",
			fmt.Sprintf("lookup processor for %s", kind))
	}

	item := newItem(p.newID(), kind, params, time.Now())
	kp := p.paramsLocked(kind)
	q := p.queueLocked(kind)
	q.items = append(q.items, item)
	p.totalItems++
	if q.timer == nil {
		p.armLocked(kind, q, kp.wait)
	}

	var flush []*Item
	if len(q.items) >= kp.threshold {
		flush = p.drainLocked(q)
		p.wg.Add(1)
	}
	pending := len(q.items)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.items.WithLabelValues(kind).Inc()
		p.metrics.pending.WithLabelValues(kind).Set(float64(pending))
	}

	if flush != nil {
		go func() {
			defer p.wg.Done()
			p.process(context.Background(), kind, fn, flush)
		}()
	}
	return item, nil
}

// Add submits one item and waits for its result.
func (p *Processor) Add(ctx context.Context, kind string, params map[string]any) (any, error) {
	item, err := p.Submit(kind, params)
	if err != nil {
		return nil, err
	}
	return item.Wait(ctx)
}

// Flush drains kind's queue and runs its processor on the caller's goroutine.
// It is a no-op when the queue is empty.
func (p *Processor) Flush(ctx context.Context, kind string) {
	p.mu.Lock()
	q, ok := p.queues[kind]
	if !ok {
		p.mu.Unlock()
		return
	}
	items := p.drainLocked(q)
	fn := p.processors[kind]
	p.mu.Unlock()

	if len(items) == 0 {
		return
	}
	p.process(ctx, kind, fn, items)
}

// FlushAll flushes every kind with queued items, one kind at a time.
func (p *Processor) FlushAll(ctx context.Context) {
	for _, kind := range p.kinds() {
		p.Flush(ctx, kind)
	}
}

func (p *Processor) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, 0, len(p.queues))
	for kind := range p.queues {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Shutdown stops accepting items, cancels every wait timer, flushes every
// queue and waits for in-flight batches until ctx ends. Items whose batch
// fails after shutdown are failed instead of re-queued.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true

	type pendingBatch struct {
		kind  string
		fn    ProcessFunc
		items []*Item
	}
	var batches []pendingBatch
	for kind, q := range p.queues {
		items := p.drainLocked(q)
		if len(items) == 0 {
			continue
		}
		batches = append(batches, pendingBatch{kind: kind, fn: p.processors[kind], items: items})
		p.wg.Add(1)
	}
	p.mu.Unlock()

	for _, b := range batches {
		go func() {
			defer p.wg.Done()
			p.process(context.Background(), b.kind, b.fn, b.items)
		}()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Batch processor shutdown", "flushed_batches", len(batches))
		return nil
	case <-ctx.Done():
		p.logger.Warn("Batch processor shutdown timed out with batches in flight")
		return errors.WrapTransient(ctx.Err(), "Processor", "Shutdown", "wait for in-flight batches")
	}
}

// Stats returns a snapshot of processor activity.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		TotalItems:     p.totalItems,
		TotalBatches:   p.totalBatches,
		TotalFailures:  p.totalFailures,
		TotalRetries:   p.totalRetries,
		AvgBatchSize:   p.avgBatchSize,
		AdaptiveParams: make(map[string]KindStats, p.params.Len()),
	}
	for _, q := range p.queues {
		s.PendingItems += len(q.items)
		if q.timer != nil {
			s.ActiveTimers++
		}
	}
	for _, kind := range p.params.Keys() {
		if kp, ok := p.params.Peek(kind); ok {
			s.AdaptiveParams[kind] = KindStats{
				BatchSize:   kp.threshold,
				WaitTime:    kp.wait,
				SuccessRate: kp.successRate,
			}
		}
	}
	return s
}

func (p *Processor) queueLocked(kind string) *queue {
	q, ok := p.queues[kind]
	if !ok {
		q = &queue{}
		p.queues[kind] = q
	}
	return q
}

// paramsLocked returns the adaptive state for kind. With adaptive tuning
// disabled it always reflects the base configuration.
func (p *Processor) paramsLocked(kind string) *kindParams {
	if kp, ok := p.params.Get(kind); ok {
		return kp
	}
	kp := &kindParams{threshold: p.cfg.BatchSize, wait: p.cfg.WaitTime, successRate: 1.0}
	p.params.Add(kind, kp)
	return kp
}

func (p *Processor) armLocked(kind string, q *queue, delay time.Duration) {
	q.timerGen++
	gen := q.timerGen
	q.timer = time.AfterFunc(delay, func() {
		p.onTimer(kind, gen)
	})
}

// drainLocked takes every queued item and disarms the timer.
func (p *Processor) drainLocked(q *queue) []*Item {
	items := q.items
	q.items = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
		q.timerGen++
	}
	return items
}

func (p *Processor) onTimer(kind string, gen uint64) {
	p.mu.Lock()
	q, ok := p.queues[kind]
	if !ok || p.closed || q.timer == nil || q.timerGen != gen {
		p.mu.Unlock()
		return
	}
	items := p.drainLocked(q)
	fn := p.processors[kind]
	if len(items) > 0 {
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if len(items) == 0 {
		return
	}
	defer p.wg.Done()
	p.process(context.Background(), kind, fn, items)
}

// process runs one batch outside the lock and applies the outcome.
func (p *Processor) process(ctx context.Context, kind string, fn ProcessFunc, items []*Item) {
	p.mu.Lock()
	p.totalBatches++
	p.avgBatchSize = (p.avgBatchSize*float64(p.totalBatches-1) + float64(len(items))) / float64(p.totalBatches)
	p.mu.Unlock()

	start := time.Now()
	err := invoke(ctx, fn, items)
	elapsed := time.Since(start)

	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		p.metrics.batches.WithLabelValues(kind).Inc()
		p.metrics.processing.WithLabelValues(kind, status).Observe(elapsed.Seconds())
	}

	if err != nil {
		p.handleFailure(kind, items, err)
		return
	}
	p.handleSuccess(kind, items, elapsed)
}

func invoke(ctx context.Context, fn ProcessFunc, items []*Item) (err error) {
	if fn == nil {
		return errors.WrapInvalid(errors.ErrNoProcessor, "Processor", "process", "lookup processor")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return fn(ctx, items)
}

func (p *Processor) handleSuccess(kind string, items []*Item, elapsed time.Duration) {
	unresolved := 0
	for _, it := range items {
		if it.Fail(errors.WrapFatal(errors.ErrUnresolvedItem, "Processor", "process",
			fmt.Sprintf("resolve %s item %s", kind, it.ID))) {
			unresolved++
		}
	}
	if unresolved > 0 {
		p.logger.Warn("Processor returned without resolving items", "kind", kind, "unresolved", unresolved)
	}

	if !p.cfg.Adaptive {
		return
	}

	p.mu.Lock()
	kp := p.paramsLocked(kind)
	kp.successRate = smoothSuccess(kp.successRate, 1.0)
	kp.threshold = nextThreshold(kp.threshold, p.cfg.BatchSize, kp.successRate)
	kp.wait = nextWait(p.cfg.WaitTime, len(items), elapsed)
	tuned := *kp
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.threshold.WithLabelValues(kind).Set(float64(tuned.threshold))
		p.metrics.wait.WithLabelValues(kind).Set(tuned.wait.Seconds())
	}
	p.logger.Debug("Adapted batch parameters", "kind", kind,
		"batch_size", tuned.threshold, "wait_time", tuned.wait, "success_rate", tuned.successRate)
}

// handleFailure re-queues unresolved items below the retry ceiling and fails
// the rest. The retry timer waits baseWait * 2^retryCount of the first
// re-queued item.
func (p *Processor) handleFailure(kind string, items []*Item, cause error) {
	p.logger.Error("Batch processing failed", "kind", kind, "batch_size", len(items), "error", cause)

	var requeue, exhausted []*Item
	for _, it := range items {
		if it.resolved() {
			continue
		}
		if it.RetryCount() < p.cfg.MaxRetries {
			it.retries.Add(1)
			requeue = append(requeue, it)
		} else {
			exhausted = append(exhausted, it)
		}
	}

	p.mu.Lock()
	p.totalFailures += int64(len(items))
	if p.cfg.Adaptive {
		kp := p.paramsLocked(kind)
		kp.successRate = smoothSuccess(kp.successRate, 0.0)
	}
	closed := p.closed
	pending := 0
	if len(requeue) > 0 && !closed {
		p.totalRetries += int64(len(requeue))
		q := p.queueLocked(kind)
		q.items = append(q.items, requeue...)
		if q.timer == nil {
			delay := retry.Delay(retry.Config{InitialDelay: p.paramsLocked(kind).wait, Multiplier: 2},
				requeue[0].RetryCount())
			p.armLocked(kind, q, delay)
		}
		pending = len(q.items)
	}
	p.mu.Unlock()

	for _, it := range exhausted {
		it.Fail(errors.RetryExhausted(cause, it.RetryCount()+1))
	}
	if closed {
		for _, it := range requeue {
			it.Fail(errors.WrapFatal(errors.ErrShuttingDown, "Processor", "retry",
				fmt.Sprintf("re-queue %s item %s", kind, it.ID)))
		}
	}

	if p.metrics != nil {
		p.metrics.failures.WithLabelValues(kind).Add(float64(len(items)))
		if !closed {
			p.metrics.retries.WithLabelValues(kind).Add(float64(len(requeue)))
			p.metrics.pending.WithLabelValues(kind).Set(float64(pending))
		}
	}
}

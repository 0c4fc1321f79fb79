package scoring

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dispatcher owns concurrent dispatch of scoring requests. Run blocks until
// every request is scored; Enqueue hands a mini-batch over and returns at once.
type Dispatcher interface {
	Run(ctx context.Context, requests []*ScoringRequest) ([]*ScoringResult, error)
	Enqueue(requests []*ScoringRequest, failed []*ScoringResult, mbc *MiniBatchContext) error
	CheckAllTasksProcessed() bool
	GetFinishedBatchResult() *BatchResult
	GetProcessingBatchNumber() int
	Shutdown() error
}

// BatchResult holds every result of one finished mini-batch: dispatched
// results in request order followed by results that failed before dispatch
type BatchResult struct {
	MiniBatchContext *MiniBatchContext
	Results          []*ScoringResult
}

// ConductorOption configures a Conductor
type ConductorOption func(*Conductor)

// WithConductorLogger sets the logger used by the conductor
func WithConductorLogger(logger *slog.Logger) ConductorOption {
	return func(c *Conductor) {
		c.logger = logger
	}
}

// WithConductorMetrics sets the metrics recorder used by the conductor
func WithConductorMetrics(metrics *MetricsRecorder) ConductorOption {
	return func(c *Conductor) {
		c.metrics = metrics
	}
}

// WithHealthSource sets the circuit breaker consulted by GetHealth
func WithHealthSource(cb *CircuitBreakerWrapper) ConductorOption {
	return func(c *Conductor) {
		c.breaker = cb
	}
}

// Conductor dispatches scoring requests through a bounded worker pool
type Conductor struct {
	client        ScoringClient
	maxConcurrent int
	queueSize     int
	logger        *slog.Logger
	metrics       *MetricsRecorder
	breaker       *CircuitBreakerWrapper

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	work         chan workItem
	workers      sync.WaitGroup
	queued       atomic.Int64

	// started and closed are guarded by mu so workers are never added once
	// Shutdown has begun waiting
	mu       sync.Mutex
	started  bool
	closed   bool
	inFlight map[*batchTracker]struct{}
	finished []*BatchResult
}

type workItem struct {
	batch *batchTracker
	slot  int
}

// batchTracker collects the results of one enqueued mini-batch
type batchTracker struct {
	mbc       *MiniBatchContext
	requests  []*ScoringRequest
	slots     []*ScoringResult
	failed    []*ScoringResult
	remaining int
}

// NewConductor creates a conductor that dispatches through client with at
// most maxConcurrent requests in flight and a work queue of queueSize
func NewConductor(client ScoringClient, maxConcurrent, queueSize int, opts ...ConductorOption) *Conductor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if queueSize <= 0 {
		queueSize = maxConcurrent * 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conductor{
		client:        client,
		maxConcurrent: maxConcurrent,
		queueSize:     queueSize,
		logger:        slog.Default(),
		metrics:       NewMetricsRecorder(false),
		ctx:           ctx,
		cancel:        cancel,
		inFlight:      make(map[*batchTracker]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run scores every request and returns the results in request order.
// Dispatch failures are returned as FAILURE results, not errors.
func (c *Conductor) Run(ctx context.Context, requests []*ScoringRequest) ([]*ScoringResult, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConductorClosed
	}

	results := make([]*ScoringResult, len(requests))
	if len(requests) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for i, req := range requests {
		g.Go(func() error {
			results[i] = c.score(gctx, req)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Info("Conductor run completed",
		"requests", len(requests),
		"failures", countFailures(results))

	return results, nil
}

// Enqueue registers a mini-batch and hands its requests to the worker pool
// without waiting for them to be scored
func (c *Conductor) Enqueue(requests []*ScoringRequest, failed []*ScoringResult, mbc *MiniBatchContext) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConductorClosed
	}

	batch := &batchTracker{
		mbc:       mbc,
		requests:  requests,
		slots:     make([]*ScoringResult, len(requests)),
		failed:    failed,
		remaining: len(requests),
	}

	if batch.remaining == 0 {
		c.finished = append(c.finished, batch.result())
		c.mu.Unlock()
		c.logger.Info("Mini-batch finished without dispatch",
			"mini_batch_id", mbc.id(),
			"failed", len(failed))
		return nil
	}

	if !c.started {
		c.startWorkers()
		c.started = true
	}
	c.inFlight[batch] = struct{}{}
	c.metrics.RecordBatchesInFlight(len(c.inFlight))
	c.queued.Add(int64(len(requests)))
	c.metrics.RecordQueuedRequests(float64(len(requests)))
	c.mu.Unlock()

	c.logger.Info("Mini-batch enqueued",
		"mini_batch_id", mbc.id(),
		"mini_batch_index", mbc.index(),
		"requests", len(requests),
		"failed", len(failed))

	go c.feed(batch)
	return nil
}

// feed pushes a batch's requests onto the bounded work queue. Backpressure
// blocks here, never in Enqueue.
func (c *Conductor) feed(batch *batchTracker) {
	for i := range batch.requests {
		select {
		case c.work <- workItem{batch: batch, slot: i}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conductor) startWorkers() {
	c.work = make(chan workItem, c.queueSize)
	for i := 0; i < c.maxConcurrent; i++ {
		c.workers.Add(1)
		go c.worker()
	}
	c.logger.Debug("Conductor workers started",
		"workers", c.maxConcurrent,
		"queue_size", c.queueSize)
}

func (c *Conductor) worker() {
	defer c.workers.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case item := <-c.work:
			c.queued.Add(-1)
			c.metrics.RecordQueuedRequests(-1)
			result := c.score(c.ctx, item.batch.requests[item.slot])
			c.complete(item, result)
		}
	}
}

func (c *Conductor) complete(item workItem, result *ScoringResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Results arriving after shutdown belong to abandoned batches
	if c.closed {
		return
	}

	batch := item.batch
	batch.slots[item.slot] = result
	batch.remaining--
	if batch.remaining > 0 {
		return
	}

	delete(c.inFlight, batch)
	c.finished = append(c.finished, batch.result())
	c.metrics.RecordBatchesInFlight(len(c.inFlight))

	c.logger.Info("Mini-batch finished",
		"mini_batch_id", batch.mbc.id(),
		"results", len(batch.slots)+len(batch.failed))
}

func (b *batchTracker) result() *BatchResult {
	results := make([]*ScoringResult, 0, len(b.slots)+len(b.failed))
	results = append(results, b.slots...)
	results = append(results, b.failed...)
	return &BatchResult{MiniBatchContext: b.mbc, Results: results}
}

// score dispatches one request and converts the outcome into a result
func (c *Conductor) score(ctx context.Context, req *ScoringRequest) *ScoringResult {
	c.metrics.RecordConcurrentRequests(1)
	defer c.metrics.RecordConcurrentRequests(-1)

	start := time.Now()
	resp, err := c.client.Score(ctx, req)
	end := time.Now()

	var result *ScoringResult
	if err != nil {
		c.logger.Warn("Scoring request failed",
			"request_id", req.InternalID,
			"payload", req.LoggablePayload,
			"retries", req.RetryCount,
			"error", err)
		c.metrics.RecordError(classifyError(err))
		result = newDispatchFailure(req, err, start, end)
	} else {
		c.logger.Debug("Request scored",
			"request_id", req.InternalID,
			"status_code", resp.StatusCode,
			"latency", end.Sub(start))
		result = newSuccessResult(req, resp, start, end)
	}

	c.metrics.RecordResult(result.Status, end.Sub(start).Seconds())
	return result
}

// CheckAllTasksProcessed reports whether every enqueued mini-batch has finished
func (c *Conductor) CheckAllTasksProcessed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight) == 0
}

// GetFinishedBatchResult pops the oldest finished mini-batch, or returns nil
// when none is ready
func (c *Conductor) GetFinishedBatchResult() *BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.finished) == 0 {
		return nil
	}
	next := c.finished[0]
	c.finished[0] = nil
	c.finished = c.finished[1:]
	return next
}

// GetProcessingBatchNumber returns the number of mini-batches in flight
func (c *Conductor) GetProcessingBatchNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Shutdown stops the workers and releases client resources. Work still in
// flight is abandoned. Calling Shutdown more than once is a no-op.
func (c *Conductor) Shutdown() error {
	var err error
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		abandoned := len(c.inFlight)
		c.inFlight = make(map[*batchTracker]struct{})
		c.mu.Unlock()

		c.cancel()
		c.workers.Wait()

		if closer, ok := c.client.(io.Closer); ok {
			err = closer.Close()
		}

		// Requests still on the queue are abandoned with their batches
		c.metrics.RecordQueuedRequests(-float64(c.queued.Swap(0)))
		c.metrics.RecordBatchesInFlight(0)
		c.logger.Info("Conductor shut down", "abandoned_batches", abandoned)
	})
	return err
}

// GetHealth reports the conductor's health, including circuit breaker
// state when one is configured
func (c *Conductor) GetHealth(ctx context.Context) HealthStatus {
	health := HealthStatus{
		Healthy: true,
		Status:  "healthy",
		Details: map[string]interface{}{},
	}
	if c.breaker != nil {
		health = c.breaker.GetHealth()
	}

	c.mu.Lock()
	closed := c.closed
	health.Details["batches_in_flight"] = len(c.inFlight)
	health.Details["batches_finished"] = len(c.finished)
	c.mu.Unlock()

	health.Details["closed"] = closed
	health.Details["max_concurrent"] = c.maxConcurrent
	health.Details["queue_size"] = c.queueSize

	switch {
	case closed:
		health.Healthy = false
		health.Status = "shut down"
	case health.Healthy && ctx.Err() != nil:
		health.Healthy = false
		health.Status = "context done"
	}
	return health
}

func countFailures(results []*ScoringResult) int {
	n := 0
	for _, r := range results {
		if r != nil && r.Failed() {
			n++
		}
	}
	return n
}

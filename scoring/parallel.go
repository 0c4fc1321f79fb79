package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ParallelOption configures a Parallel driver
type ParallelOption func(*Parallel)

// WithRequestTransformer sets the transformer that shapes payloads before dispatch
func WithRequestTransformer(t *InputTransformer) ParallelOption {
	return func(p *Parallel) {
		p.requestTransformer = t
	}
}

// WithLogTransformer sets the transformer that shapes payloads for logging
func WithLogTransformer(t *InputTransformer) ParallelOption {
	return func(p *Parallel) {
		p.logTransformer = t
	}
}

// WithOutputTransformer sets the transformer that shapes the request echo in output
func WithOutputTransformer(t *InputTransformer) ParallelOption {
	return func(p *Parallel) {
		p.outputTransformer = t
	}
}

// WithLogger sets the driver's logger
func WithLogger(logger *slog.Logger) ParallelOption {
	return func(p *Parallel) {
		p.logger = logger
	}
}

// WithMetrics sets the driver's metrics recorder
func WithMetrics(metrics *MetricsRecorder) ParallelOption {
	return func(p *Parallel) {
		p.metrics = metrics
	}
}

// Parallel turns raw payloads into scoring requests, hands them to a
// Dispatcher and formats the results. Its collaborators are fixed at
// construction.
type Parallel struct {
	config             Configuration
	dispatcher         Dispatcher
	requestTransformer *InputTransformer
	logTransformer     *InputTransformer
	outputTransformer  *InputTransformer
	logger             *slog.Logger
	metrics            *MetricsRecorder
}

// FinishedBatch is the formatted output of one finished mini-batch
type FinishedBatch struct {
	MiniBatchContext *MiniBatchContext
	Results          []*ScoringResult
	Output           []string
}

// NewParallel creates a driver that dispatches through d
func NewParallel(cfg Configuration, d Dispatcher, opts ...ParallelOption) *Parallel {
	p := &Parallel{
		config:     cfg,
		dispatcher: d,
		logger:     slog.Default(),
		metrics:    NewMetricsRecorder(cfg.EnableMetrics),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run scores payloads and blocks until every result is formatted. Used in
// sync mode. The returned lines follow payload order.
func (p *Parallel) Run(ctx context.Context, payloads []string, mbc *MiniBatchContext) ([]string, error) {
	p.logStart(payloads)

	requests, results, err := p.generateScoringRequests(payloads, mbc)
	if err != nil {
		return nil, err
	}

	scored, err := p.dispatcher.Run(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch %d scoring requests: %w", len(requests), err)
	}

	_, output, err := p.finalize(slices.Concat(scored, results))
	return output, err
}

// Enqueue hands payloads to the dispatcher without waiting for them to be
// scored. Used in async mode; poll with GetFinishedBatchResult.
func (p *Parallel) Enqueue(payloads []string, mbc *MiniBatchContext) error {
	p.logStart(payloads)

	requests, failed, err := p.generateScoringRequests(payloads, mbc)
	if err != nil {
		return err
	}

	return p.dispatcher.Enqueue(requests, failed, mbc)
}

func (p *Parallel) logStart(payloads []string) {
	p.logger.Info("Scoring requests", "count", len(payloads))
	p.logger.Info("Parallel driver dispatch mode", "async_mode", p.config.AsyncMode)
	p.metrics.RecordMiniBatchSize(len(payloads))
}

// generateScoringRequests builds one request per payload. Payloads rejected
// by a transformer become failed results instead of requests.
func (p *Parallel) generateScoringRequests(payloads []string, mbc *MiniBatchContext) ([]*ScoringRequest, []*ScoringResult, error) {
	requests := make([]*ScoringRequest, 0, len(payloads))
	var failed []*ScoringResult

	for i, payload := range payloads {
		req, err := NewScoringRequest(payload, i, mbc, p.requestTransformer, p.logTransformer)
		if err != nil {
			var modErr *RequestModificationError
			if !errors.As(err, &modErr) {
				return nil, nil, fmt.Errorf("failed to build scoring request %d: %w", i, err)
			}

			p.logger.Error("Request modification failed",
				"index", i,
				"mini_batch_id", mbc.id(),
				"error", err)
			p.logger.Info("Faking failed scoring result", "index", i, "omit", false)

			failed = append(failed, NewFailedResult(req, err))
			continue
		}
		requests = append(requests, req)
	}

	p.metrics.RecordModificationFailures(len(failed))
	return requests, failed, nil
}

// finalize restores payload order, applies the output transformer and
// formats the results
func (p *Parallel) finalize(results []*ScoringResult) ([]*ScoringResult, []string, error) {
	slices.SortStableFunc(results, func(a, b *ScoringResult) int {
		return a.Request.Index - b.Request.Index
	})

	if err := p.applyOutputTransformer(results); err != nil {
		return nil, nil, err
	}

	formatter := NewOutputFormatter(p.config.InputSchemaVersion, p.logger)
	output, err := formatter.FormatOutput(results, p.config.BatchSizePerRequest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to format %d results: %w", len(results), err)
	}
	return results, output, nil
}

func (p *Parallel) applyOutputTransformer(results []*ScoringResult) error {
	if p.outputTransformer.Len() == 0 {
		return nil
	}

	for _, r := range results {
		payload, ok := r.OutputPayload.(map[string]any)
		if !ok {
			p.logger.Debug("Skipping output transformer for non-object payload",
				"request_id", r.Request.InternalID)
			continue
		}

		transformed, err := p.outputTransformer.ApplyObject(payload)
		if err != nil {
			return fmt.Errorf("output transformer failed for request %s: %w", r.Request.InternalID, err)
		}
		r.OutputPayload = transformed
	}
	return nil
}

// CheckAllTasksProcessed reports whether every enqueued mini-batch has finished
func (p *Parallel) CheckAllTasksProcessed() bool {
	return p.dispatcher.CheckAllTasksProcessed()
}

// GetFinishedBatchResult returns the next finished mini-batch, formatted, or
// nil when none is ready. It never blocks.
func (p *Parallel) GetFinishedBatchResult() (*FinishedBatch, error) {
	batch := p.dispatcher.GetFinishedBatchResult()
	if batch == nil {
		return nil, nil
	}

	results, output, err := p.finalize(batch.Results)
	if err != nil {
		return nil, fmt.Errorf("mini-batch %s: %w", batch.MiniBatchContext.id(), err)
	}

	return &FinishedBatch{
		MiniBatchContext: batch.MiniBatchContext,
		Results:          results,
		Output:           output,
	}, nil
}

// GetProcessingBatchNumber returns the number of mini-batches in flight
func (p *Parallel) GetProcessingBatchNumber() int {
	return p.dispatcher.GetProcessingBatchNumber()
}

// Shutdown releases the dispatcher's resources. Work still in flight is abandoned.
func (p *Parallel) Shutdown() error {
	return p.dispatcher.Shutdown()
}

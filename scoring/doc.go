// Package scoring provides a batch-scoring driver that dispatches raw text
// payloads concurrently against a remote scoring endpoint and renders the
// results in a versioned output schema.
//
// The package is organised around three collaborators: a Parallel driver
// that turns payloads into ScoringRequests, a Conductor that owns concurrent
// dispatch, and an OutputFormatter that renders results.
//
// Features:
//   - Request, log and output transformers built from composable modifiers
//   - Synchronous runs and asynchronous enqueue/poll with mini-batch tracking
//   - Bounded worker pool with backpressure on the work queue
//   - Retry logic with exponential, constant or fibonacci backoff
//   - Circuit breaker pattern for resilience
//   - Prometheus metrics integration
//   - v1 (legacy) and v2 output schemas
//
// Basic usage:
//
//	cfg := scoring.NewDefaultConfiguration("https://example.com/score")
//	conductor, err := scoring.NewConductorFromConfig(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conductor.Shutdown()
//
//	driver := scoring.NewParallel(cfg, conductor)
//	lines, err := driver.Run(ctx, payloads, nil)
package scoring

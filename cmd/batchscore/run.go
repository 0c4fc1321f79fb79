package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JohnPlummer/batch-score/scoring"
)

const maxPayloadBytes = 16 * 1024 * 1024

type runOptions struct {
	configPath    string
	envFile       string
	inputPath     string
	outputPath    string
	miniBatchSize int
	async         bool
	metricsAddr   string
	pollInterval  time.Duration
	redactPaths   []string
	removePaths   []string
	contentField  string
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score a JSON-lines file of payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("async") {
				return runCommand(cmd, opts, &opts.async)
			}
			return runCommand(cmd, opts, nil)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	f.StringVar(&opts.envFile, "env-file", "", "optional .env file loaded before the configuration")
	f.StringVarP(&opts.inputPath, "input", "i", "-", "payload file, one payload per line (- for stdin)")
	f.StringVarP(&opts.outputPath, "output", "o", "-", "output file (- for stdout)")
	f.IntVar(&opts.miniBatchSize, "mini-batch-size", 0, "payloads per mini-batch (0 = one mini-batch)")
	f.BoolVar(&opts.async, "async", false, "enqueue mini-batches and poll for results")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	f.DurationVar(&opts.pollInterval, "poll-interval", 100*time.Millisecond, "async result polling interval")
	f.StringSliceVar(&opts.redactPaths, "redact", nil, "JSONPath expressions redacted from logged payloads")
	f.StringSliceVar(&opts.removePaths, "remove-from-output", nil, "JSONPath expressions removed from the request echo in output")
	f.StringVar(&opts.contentField, "validate-field", "", "payload field sanitized and validated before dispatch")

	return cmd
}

func runCommand(cmd *cobra.Command, opts runOptions, asyncOverride *bool) error {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", opts.envFile, err)
		}
	}

	cfg, err := scoring.NewLoader().WithConfigPath(opts.configPath).Load()
	if err != nil {
		return err
	}
	if asyncOverride != nil {
		cfg = cfg.WithAsyncMode(*asyncOverride)
	}

	logger, logCloser := newLogger(cfg.Logging, cmd.ErrOrStderr())
	defer logCloser.Close()
	slog.SetDefault(logger)

	conductor, err := scoring.NewConductorFromConfig(cfg, scoring.WithConductorLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := conductor.Shutdown(); err != nil {
			logger.Error("Conductor shutdown failed", "error", err)
		}
	}()

	driverOpts, err := transformerOptions(opts)
	if err != nil {
		return err
	}
	driver := scoring.NewParallel(cfg, conductor, append(driverOpts, scoring.WithLogger(logger))...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		srv := startMetricsServer(opts.metricsAddr, conductor, logger)
		defer srv.Shutdown(context.Background())
	}

	in, closeIn, err := openInput(opts.inputPath, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := openOutput(opts.outputPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	return scorePayloads(ctx, driver, cfg.AsyncMode, opts, in, out, logger)
}

// transformerOptions builds the driver's transformers from command flags
func transformerOptions(opts runOptions) ([]scoring.ParallelOption, error) {
	var driverOpts []scoring.ParallelOption

	if opts.contentField != "" {
		driverOpts = append(driverOpts, scoring.WithRequestTransformer(
			scoring.NewInputTransformer(scoring.NewContentModifier(opts.contentField))))
	}

	if len(opts.redactPaths) > 0 {
		redact, err := scoring.NewRedactModifier(opts.redactPaths...)
		if err != nil {
			return nil, err
		}
		driverOpts = append(driverOpts, scoring.WithLogTransformer(scoring.NewInputTransformer(redact)))
	}

	if len(opts.removePaths) > 0 {
		remove, err := scoring.NewRemoveModifier(opts.removePaths...)
		if err != nil {
			return nil, err
		}
		driverOpts = append(driverOpts, scoring.WithOutputTransformer(scoring.NewInputTransformer(remove)))
	}

	return driverOpts, nil
}

// scorePayloads reads every payload, scores it in mini-batches and writes the
// formatted lines in mini-batch order
func scorePayloads(ctx context.Context, driver *scoring.Parallel, async bool, opts runOptions, in io.Reader, out io.Writer, logger *slog.Logger) error {
	payloads, err := readPayloads(in)
	if err != nil {
		return err
	}

	if len(payloads) == 0 {
		logger.Warn("No payloads to score")
		return nil
	}

	batches := splitMiniBatches(payloads, opts.miniBatchSize)
	logger.Info("Payloads loaded",
		"payloads", len(payloads),
		"mini_batches", len(batches),
		"async_mode", async)

	w := bufio.NewWriter(out)
	defer w.Flush()

	if !async {
		for i, batch := range batches {
			lines, err := driver.Run(ctx, batch, scoring.NewMiniBatchContext(i, len(batch)))
			if err != nil {
				return fmt.Errorf("mini-batch %d: %w", i, err)
			}
			if err := writeLines(w, lines); err != nil {
				return err
			}
		}
		return nil
	}

	for i, batch := range batches {
		if err := driver.Enqueue(batch, scoring.NewMiniBatchContext(i, len(batch))); err != nil {
			return fmt.Errorf("failed to enqueue mini-batch %d: %w", i, err)
		}
	}

	finished, err := pollFinished(ctx, driver, len(batches), opts.pollInterval, logger)
	if err != nil {
		return err
	}

	slices.SortFunc(finished, func(a, b *scoring.FinishedBatch) int {
		return a.MiniBatchContext.Index - b.MiniBatchContext.Index
	})
	for _, fb := range finished {
		if err := writeLines(w, fb.Output); err != nil {
			return err
		}
	}
	return nil
}

// pollFinished collects finished mini-batches until want have arrived
func pollFinished(ctx context.Context, driver *scoring.Parallel, want int, interval time.Duration, logger *slog.Logger) ([]*scoring.FinishedBatch, error) {
	finished := make([]*scoring.FinishedBatch, 0, want)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			fb, err := driver.GetFinishedBatchResult()
			if err != nil {
				return nil, err
			}
			if fb == nil {
				break
			}
			finished = append(finished, fb)
			logger.Info("Mini-batch results ready",
				"mini_batch_id", fb.MiniBatchContext.ID,
				"results", len(fb.Results),
				"remaining", driver.GetProcessingBatchNumber())
		}

		if len(finished) >= want {
			return finished, nil
		}
		if driver.CheckAllTasksProcessed() {
			// A batch may have finished between the drain and the check
			fb, err := driver.GetFinishedBatchResult()
			if err != nil {
				return nil, err
			}
			if fb == nil {
				return nil, fmt.Errorf("all tasks processed but only %d of %d mini-batches finished", len(finished), want)
			}
			finished = append(finished, fb)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func readPayloads(in io.Reader) ([]string, error) {
	var payloads []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxPayloadBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payloads = append(payloads, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read payloads: %w", err)
	}
	return payloads, nil
}

func splitMiniBatches(payloads []string, size int) [][]string {
	if size <= 0 || size >= len(payloads) {
		return [][]string{payloads}
	}
	var batches [][]string
	for start := 0; start < len(payloads); start += size {
		end := min(start+size, len(payloads))
		batches = append(batches, payloads[start:end])
	}
	return batches
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func startMetricsServer(addr string, conductor *scoring.Conductor, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", scoring.GetMetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := conductor.GetHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("Metrics server listening", "addr", addr)
	return srv
}

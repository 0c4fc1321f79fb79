package scoring_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/batch-score/scoring"
)

var _ = Describe("Integration", func() {
	var (
		server   *httptest.Server
		requests atomic.Int32
		failures atomic.Int32
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests.Store(0)
		failures.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := requests.Add(1)
			if n <= failures.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"scored":`+string(body)+`}`)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewConductorFromConfig", func() {
		It("should validate the configuration", func() {
			_, err := scoring.NewConductorFromConfig(scoring.NewDefaultConfiguration(""))
			Expect(err).To(MatchError(scoring.ErrMissingScoringURL))
		})

		It("should score through the endpoint client", func() {
			cfg := scoring.NewDefaultConfiguration(server.URL).WithMaxConcurrent(2)
			conductor, err := scoring.NewConductorFromConfig(cfg, scoring.WithConductorLogger(quietLogger()))
			Expect(err).ToNot(HaveOccurred())
			defer conductor.Shutdown()

			driver := scoring.NewParallel(cfg, conductor, scoring.WithLogger(quietLogger()))
			lines, err := driver.Run(ctx, []string{`{"n":1}`, `{"n":2}`}, nil)

			Expect(err).ToNot(HaveOccurred())
			Expect(lines).To(HaveLen(2))
			Expect(decodeLine(lines[0])["response"]).To(Equal(map[string]any{"scored": map[string]any{"n": 1.0}}))
			Expect(decodeLine(lines[1])["response"]).To(Equal(map[string]any{"scored": map[string]any{"n": 2.0}}))
		})

		It("should retry transient endpoint failures and report the retries", func() {
			failures.Store(1)
			cfg := scoring.NewDefaultConfiguration(server.URL).
				WithRetryConfig(&scoring.RetryConfig{
					MaxAttempts:  3,
					Strategy:     scoring.RetryStrategyConstant,
					InitialDelay: 5 * time.Millisecond,
					MaxDelay:     20 * time.Millisecond,
				}).
				WithCircuitBreaker()

			conductor, err := scoring.NewConductorFromConfig(cfg, scoring.WithConductorLogger(quietLogger()))
			Expect(err).ToNot(HaveOccurred())
			defer conductor.Shutdown()

			driver := scoring.NewParallel(cfg, conductor, scoring.WithLogger(quietLogger()))
			lines, err := driver.Run(ctx, []string{`{"n":1}`}, nil)

			Expect(err).ToNot(HaveOccurred())
			line := decodeLine(lines[0])
			Expect(line["status"]).To(Equal("SUCCESS"))
			Expect(line["num_retries"]).To(BeNumerically("==", 1))
			Expect(requests.Load()).To(BeNumerically("==", 2))

			health := conductor.GetHealth(ctx)
			Expect(health.Healthy).To(BeTrue())
			Expect(health.Details).To(HaveKeyWithValue("state", gobreaker.StateClosed.String()))
		})

		It("should report endpoint failures as failure lines", func() {
			failures.Store(100)
			cfg := scoring.NewDefaultConfiguration(server.URL)
			conductor, err := scoring.NewConductorFromConfig(cfg, scoring.WithConductorLogger(quietLogger()))
			Expect(err).ToNot(HaveOccurred())
			defer conductor.Shutdown()

			driver := scoring.NewParallel(cfg, conductor, scoring.WithLogger(quietLogger()))
			lines, err := driver.Run(ctx, []string{`{"n":1}`}, nil)

			Expect(err).ToNot(HaveOccurred())
			line := decodeLine(lines[0])
			Expect(line["status"]).To(Equal("FAILURE"))
			Expect(line["error"]).To(ContainSubstring("503"))
		})
	})

	Describe("BuildClient", func() {
		It("should layer retry inside the circuit breaker", func() {
			cfg := scoring.NewProductionConfiguration(server.URL)
			stack := scoring.BuildClient(cfg, scoring.NewMetricsRecorder(false), quietLogger())

			Expect(stack.Breaker).ToNot(BeNil())
			Expect(stack.Client).To(BeIdenticalTo(stack.Breaker))
			Expect(stack.Close()).To(Succeed())
		})

		It("should build an OpenAI client for the openai API type", func() {
			cfg := scoring.NewDefaultConfiguration("").WithOpenAI(scoring.APITypeOpenAI, "sk-test", "")
			stack := scoring.BuildClient(cfg, scoring.NewMetricsRecorder(false), quietLogger())

			Expect(stack.Client).To(BeAssignableToTypeOf(&scoring.OpenAIScoringClient{}))
			Expect(stack.Breaker).To(BeNil())
		})
	})

	Describe("Metrics", func() {
		It("should expose metrics over HTTP", func() {
			recorder := scoring.NewMetricsRecorder(true)
			recorder.RecordResult(scoring.StatusSuccess, 0.1)
			recorder.RecordMiniBatchSize(3)

			rec := httptest.NewRecorder()
			scoring.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			body := rec.Body.String()
			Expect(strings.Contains(body, "batch_score_requests_total")).To(BeTrue())
			Expect(strings.Contains(body, "batch_score_mini_batch_size")).To(BeTrue())
		})
	})
})

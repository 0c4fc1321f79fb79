package scoring_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"

	"github.com/JohnPlummer/batch-score/scoring"
)

var _ = Describe("Retry", func() {
	var (
		wrapper *scoring.RetryWrapper
		client  *fakeClient
		ctx     context.Context
		req     *scoring.ScoringRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &fakeClient{}
		req, _ = scoring.NewScoringRequest(`{"text":"hi"}`, 0, nil, nil, nil)

		config := scoring.RetryConfig{
			MaxAttempts:  3,
			Strategy:     scoring.RetryStrategyExponential,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
		}

		wrapper = scoring.NewRetryWrapper(client, &config, nil, quietLogger())
	})

	Describe("Successful Requests", func() {
		It("should not retry on successful requests", func() {
			resp, err := wrapper.Score(ctx, req)

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			Expect(client.Calls()).To(Equal(1))
			Expect(req.RetryCount).To(BeZero())
		})
	})

	Describe("Retryable Errors", func() {
		It("should retry with backoff on 429 errors", func() {
			client.errs = []error{
				&scoring.EndpointError{StatusCode: 429},
				&scoring.EndpointError{StatusCode: 429},
			}

			start := time.Now()
			resp, err := wrapper.Score(ctx, req)
			duration := time.Since(start)

			Expect(err).ToNot(HaveOccurred())
			Expect(resp).ToNot(BeNil())
			Expect(client.Calls()).To(Equal(3))
			// ~10ms + ~20ms
			Expect(duration).To(BeNumerically(">=", 25*time.Millisecond))
		})

		It("should retry on server errors and record progress on the request", func() {
			client.errs = []error{&scoring.EndpointError{StatusCode: 503}}

			_, err := wrapper.Score(ctx, req)

			Expect(err).ToNot(HaveOccurred())
			Expect(client.Calls()).To(Equal(2))
			Expect(req.RetryCount).To(Equal(1))
			Expect(req.TotalWaitTime).To(BeNumerically(">", 0))
		})

		It("should retry on OpenAI server errors", func() {
			client.errs = []error{&openai.APIError{HTTPStatusCode: 500, Message: "internal"}}

			_, err := wrapper.Score(ctx, req)

			Expect(err).ToNot(HaveOccurred())
			Expect(client.Calls()).To(Equal(2))
		})

		It("should honour Retry-After within the maximum delay", func() {
			client.errs = []error{&scoring.EndpointError{StatusCode: 503, RetryAfter: 60 * time.Millisecond}}

			start := time.Now()
			_, err := wrapper.Score(ctx, req)

			Expect(err).ToNot(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically(">=", 55*time.Millisecond))
			Expect(req.TotalWaitTime).To(BeNumerically(">=", 60*time.Millisecond))
		})

		It("should stop after max attempts", func() {
			boom := &scoring.EndpointError{StatusCode: 502}
			client.errs = []error{boom, boom, boom, boom}

			_, err := wrapper.Score(ctx, req)

			Expect(err).To(MatchError(boom))
			Expect(client.Calls()).To(Equal(3))
			Expect(req.RetryCount).To(Equal(2))
		})
	})

	Describe("Non-Retryable Errors", func() {
		It("should not retry client errors", func() {
			client.errs = []error{&scoring.EndpointError{StatusCode: 400}}

			_, err := wrapper.Score(ctx, req)

			Expect(err).To(HaveOccurred())
			Expect(client.Calls()).To(Equal(1))
		})

		It("should not retry invalid payloads", func() {
			client.errs = []error{fmt.Errorf("%w: bad json", scoring.ErrInvalidPayload)}

			_, err := wrapper.Score(ctx, req)

			Expect(err).To(MatchError(scoring.ErrInvalidPayload))
			Expect(client.Calls()).To(Equal(1))
		})
	})

	Describe("Context Cancellation", func() {
		It("should stop waiting when the context is cancelled", func() {
			config := scoring.RetryConfig{
				MaxAttempts:  5,
				Strategy:     scoring.RetryStrategyConstant,
				InitialDelay: time.Second,
				MaxDelay:     time.Second,
			}
			wrapper = scoring.NewRetryWrapper(client, &config, nil, quietLogger())
			client.errs = []error{errors.New("temporary"), errors.New("temporary")}

			cctx, cancel := context.WithCancel(ctx)
			time.AfterFunc(20*time.Millisecond, cancel)

			start := time.Now()
			_, err := wrapper.Score(cctx, req)

			Expect(err).To(MatchError(context.Canceled))
			Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		})
	})

	Describe("Strategies", func() {
		DescribeTable("should recover with every strategy",
			func(strategy scoring.RetryStrategy) {
				config := scoring.RetryConfig{
					MaxAttempts:  3,
					Strategy:     strategy,
					InitialDelay: 5 * time.Millisecond,
					MaxDelay:     20 * time.Millisecond,
				}
				wrapper = scoring.NewRetryWrapper(client, &config, nil, quietLogger())
				client.errs = []error{errors.New("temporary"), errors.New("temporary")}

				_, err := wrapper.Score(ctx, req)

				Expect(err).ToNot(HaveOccurred())
				Expect(client.Calls()).To(Equal(3))
			},
			Entry("exponential", scoring.RetryStrategyExponential),
			Entry("constant", scoring.RetryStrategyConstant),
			Entry("fibonacci", scoring.RetryStrategyFibonacci),
		)
	})

	Describe("IsRetryableError", func() {
		DescribeTable("classification",
			func(err error, expected bool) {
				Expect(scoring.IsRetryableError(err)).To(Equal(expected))
			},
			Entry("nil", nil, false),
			Entry("429", &scoring.EndpointError{StatusCode: 429}, true),
			Entry("408", &scoring.EndpointError{StatusCode: 408}, true),
			Entry("500", &scoring.EndpointError{StatusCode: 500}, true),
			Entry("400", &scoring.EndpointError{StatusCode: 400}, false),
			Entry("401", &scoring.EndpointError{StatusCode: 401}, false),
			Entry("404", &scoring.EndpointError{StatusCode: 404}, false),
			Entry("openai 503", &openai.APIError{HTTPStatusCode: 503}, true),
			Entry("openai 403", &openai.APIError{HTTPStatusCode: 403}, false),
			Entry("deadline", context.DeadlineExceeded, true),
			Entry("cancelled", context.Canceled, false),
			Entry("invalid payload", scoring.ErrInvalidPayload, false),
			Entry("network", errors.New("connection reset"), true),
		)
	})
})

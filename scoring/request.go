package scoring

import (
	"time"

	"github.com/google/uuid"
)

// ScoringRequest is one payload prepared for dispatch
type ScoringRequest struct {
	InternalID       string            // Client request ID sent to the endpoint
	Index            int               // Position of the payload in its input slice
	OriginalPayload  string            // Raw payload as received
	CleanedPayload   string            // Payload sent to the endpoint
	LoggablePayload  string            // Payload safe to write to logs
	MiniBatchContext *MiniBatchContext // Optional mini-batch correlation

	// Progress annotations, written only by the goroutine dispatching the request.
	RetryCount    int
	TotalWaitTime time.Duration
}

// NewScoringRequest builds a request from a raw payload, applying the request
// transformer and then the log transformer. Either transformer may be nil.
//
// If a transformer fails, the partially built request is returned together
// with the error so callers can still reference it in a failed result.
func NewScoringRequest(payload string, index int, mbc *MiniBatchContext, requestTransformer, logTransformer *InputTransformer) (*ScoringRequest, error) {
	req := &ScoringRequest{
		InternalID:       uuid.NewString(),
		Index:            index,
		OriginalPayload:  payload,
		CleanedPayload:   payload,
		LoggablePayload:  payload,
		MiniBatchContext: mbc,
	}

	cleaned, err := requestTransformer.Apply(payload)
	if err != nil {
		return req, err
	}
	req.CleanedPayload = cleaned

	loggable, err := logTransformer.Apply(payload)
	if err != nil {
		return req, err
	}
	req.LoggablePayload = loggable

	return req, nil
}

func (r *ScoringRequest) recordAttempt(wait time.Duration) {
	r.RetryCount++
	r.TotalWaitTime += wait
}

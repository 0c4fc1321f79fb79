package scoring

import (
	"encoding/json"
	"net/http"
	"time"
)

// ResultStatus is the outcome of scoring one request
type ResultStatus string

const (
	StatusSuccess ResultStatus = "SUCCESS"
	StatusFailure ResultStatus = "FAILURE"
)

// ScoringResult is the outcome of attempting to score one request
type ScoringResult struct {
	Status          ResultStatus
	Request         *ScoringRequest // Originating request, never nil
	StartTime       time.Time
	EndTime         time.Time
	StatusCode      int         // HTTP status code, 0 if the endpoint was never reached
	ResponseBody    any         // Decoded JSON body, or the raw string when not JSON
	ResponseHeaders http.Header
	NumRetries      int
	Omit            bool  // Recorded for traceability; never filters output
	Err             error // Dispatch or modification error for failures

	// OutputPayload is the request echo written to the output document.
	// It starts as the decoded original payload and is shaped by the
	// output transformer.
	OutputPayload any
}

// NewFailedResult synthesizes a failure for a request that never reached dispatch
func NewFailedResult(req *ScoringRequest, err error) *ScoringResult {
	now := time.Now()
	return &ScoringResult{
		Status:        StatusFailure,
		Request:       req,
		StartTime:     now,
		EndTime:       now,
		Omit:          false,
		Err:           err,
		OutputPayload: decodePayload(req.OriginalPayload),
	}
}

func newSuccessResult(req *ScoringRequest, resp *ScoringResponse, start, end time.Time) *ScoringResult {
	return &ScoringResult{
		Status:          StatusSuccess,
		Request:         req,
		StartTime:       start,
		EndTime:         end,
		StatusCode:      resp.StatusCode,
		ResponseBody:    decodeBody(resp.Body),
		ResponseHeaders: resp.Headers,
		NumRetries:      req.RetryCount,
		OutputPayload:   decodePayload(req.OriginalPayload),
	}
}

func newDispatchFailure(req *ScoringRequest, err error, start, end time.Time) *ScoringResult {
	result := &ScoringResult{
		Status:        StatusFailure,
		Request:       req,
		StartTime:     start,
		EndTime:       end,
		NumRetries:    req.RetryCount,
		Err:           err,
		OutputPayload: decodePayload(req.OriginalPayload),
	}
	if epErr, ok := asEndpointError(err); ok {
		result.StatusCode = epErr.StatusCode
		result.ResponseBody = decodeBody(epErr.Body)
	}
	return result
}

// Failed reports whether the result is a failure
func (r *ScoringResult) Failed() bool {
	return r.Status == StatusFailure
}

// Latency returns the time spent scoring the request
func (r *ScoringResult) Latency() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// decodePayload returns the JSON value of a payload, or the payload itself
// when it is not JSON
func decodePayload(payload string) any {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return payload
	}
	return v
}

func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	return decodePayload(string(body))
}

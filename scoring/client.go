package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EndpointError is returned when a scoring endpoint answers with a non-2xx status
type EndpointError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
}

func (e *EndpointError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("scoring endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("scoring endpoint returned status %d: %s", e.StatusCode, body)
}

func asEndpointError(err error) (*EndpointError, bool) {
	var epErr *EndpointError
	if errors.As(err, &epErr) {
		return epErr, true
	}
	return nil, false
}

// EndpointClient posts cleaned payloads to an HTTP scoring endpoint
type EndpointClient struct {
	url     string
	apiKey  string
	headers map[string]string
	http    *http.Client
}

// NewEndpointClient creates a client for the given scoring URL
func NewEndpointClient(url, apiKey string, headers map[string]string, timeout time.Duration) *EndpointClient {
	return &EndpointClient{
		url:     url,
		apiKey:  apiKey,
		headers: headers,
		http:    &http.Client{Timeout: timeout},
	}
}

// Score implements ScoringClient
func (c *EndpointClient) Score(ctx context.Context, req *ScoringRequest) (*ScoringResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(req.CleanedPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-ms-client-request-id", req.InternalID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scoring request %s failed: %w", req.InternalID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring response for %s: %w", req.InternalID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &EndpointError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return &ScoringResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// Close releases idle connections
func (c *EndpointClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	// delay-seconds is a non-negative integer; anything else must be an HTTP-date
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

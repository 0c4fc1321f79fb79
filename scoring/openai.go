package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient defines the interface for interacting with the OpenAI API
type OpenAIClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIScoringClient scores chat completion payloads against OpenAI or Azure OpenAI
type OpenAIScoringClient struct {
	client OpenAIClient
	model  string
}

// NewOpenAIScoringClient wraps an OpenAI client. model is used for payloads
// that don't name one.
func NewOpenAIScoringClient(client OpenAIClient, model string) *OpenAIScoringClient {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIScoringClient{client: client, model: model}
}

// newOpenAIClient creates a go-openai client for the configured API type
func newOpenAIClient(cfg Configuration) *openai.Client {
	if cfg.APIType == APITypeAzureOpenAI {
		clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.ScoringURL)
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		return openai.NewClientWithConfig(clientCfg)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.ScoringURL != "" {
		clientCfg.BaseURL = cfg.ScoringURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return openai.NewClientWithConfig(clientCfg)
}

// Score implements ScoringClient
func (c *OpenAIScoringClient) Score(ctx context.Context, req *ScoringRequest) (*ScoringResponse, error) {
	var chatReq openai.ChatCompletionRequest
	if err := json.Unmarshal([]byte(req.CleanedPayload), &chatReq); err != nil {
		return nil, fmt.Errorf("%w: %s is not a chat completion request: %v", ErrInvalidPayload, req.InternalID, err)
	}
	if chatReq.Model == "" {
		chatReq.Model = c.model
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned empty response with no choices")
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode OpenAI response: %w", err)
	}

	return &ScoringResponse{
		StatusCode: http.StatusOK,
		Headers:    resp.Header(),
		Body:       body,
	}, nil
}

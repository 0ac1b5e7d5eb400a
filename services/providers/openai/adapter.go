package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/tier-router/internal/shared"
	"github.com/upb/tier-router/services/providers"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"

	// rough token estimation, 4 chars per token average
	charsPerToken = 4
)

// Dispatcher sends prompts to any OpenAI-compatible chat completions endpoint
type Dispatcher struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDispatcher creates a new OpenAI-compatible dispatcher
func NewDispatcher(config providers.ProviderConfig, logger *zap.Logger) *Dispatcher {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Dispatcher{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

// Name returns the provider name
func (d *Dispatcher) Name() string {
	return providerName
}

// Dispatch performs a single chat completion request. Failures are returned as
// *providers.TransportError; the caller decides whether to try another model.
func (d *Dispatcher) Dispatch(ctx context.Context, modelID, prompt string, opts providers.DispatchOptions) (*providers.Response, error) {
	startTime := time.Now()

	reqBody, err := json.Marshal(d.buildRequest(modelID, prompt, opts))
	if err != nil {
		return nil, providers.NewTransportError(providerName, "marshal_error", "failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewTransportError(providerName, "request_error", "failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if d.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.config.APIKey)
	}
	for k, v := range d.config.Headers {
		httpReq.Header.Set(k, v)
	}
	callID := shared.CallID(ctx)
	if callID != "" {
		httpReq.Header.Set("X-Request-ID", callID)
	}

	httpResp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(providerName, "http_error", "HTTP request failed", 0, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewTransportError(providerName, "read_error", "failed to read response", 0, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, d.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewTransportError(providerName, "unmarshal_error", "failed to unmarshal response", httpResp.StatusCode, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, providers.NewTransportError(providerName, "empty_response", "response contained no choices", httpResp.StatusCode, nil)
	}

	d.logger.Debug("chat completion finished",
		zap.String("call_id", callID),
		zap.String("model", modelID),
		zap.Int("total_tokens", chatResp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(startTime)))

	choice := chatResp.Choices[0]
	return &providers.Response{
		Text:         choice.Message.Content,
		Model:        chatResp.Model,
		FinishReason: choice.FinishReason,
		Usage: providers.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// buildRequest converts dispatch options to the wire format. The output
// budget is whatever the context window leaves after the prompt.
func (d *Dispatcher) buildRequest(modelID, prompt string, opts providers.DispatchOptions) *ChatRequest {
	req := &ChatRequest{
		Model:       modelID,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
	}

	if opts.MaxContextTokens > 0 {
		if budget := opts.MaxContextTokens - EstimateTokens(prompt); budget > 0 {
			req.MaxTokens = &budget
		}
	}

	return req
}

// handleErrorResponse maps a non-200 response to a transport error
func (d *Dispatcher) handleErrorResponse(statusCode int, body []byte) error {
	if te := errorFromBody(statusCode, body); te != nil {
		return te
	}
	return providers.NewTransportError(providerName, "", string(body), statusCode, nil)
}

// errorFromBody parses an OpenAI error envelope; nil when body is not one
func errorFromBody(statusCode int, body []byte) *providers.TransportError {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return nil
	}

	code := errResp.Error.Code
	if code == "" {
		code = errResp.Error.Type
	}

	cause := errors.New(errResp.Error.Message)
	if code == "model_not_found" {
		cause = fmt.Errorf("%w: %s", providers.ErrModelNotFound, errResp.Error.Message)
	}

	return providers.NewTransportError(providerName, code, errResp.Error.Message, statusCode, cause)
}

// EstimateTokens approximates the token count of text
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// OpenAI-compatible request/response types

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/upb/tier-router/internal/shared"
	"github.com/upb/tier-router/services/providers"
	"go.uber.org/zap"
)

// SDKDispatcher serves the same endpoint as Dispatcher through the official
// openai-go client
type SDKDispatcher struct {
	client oai.Client
	logger *zap.Logger
}

// NewSDKDispatcher creates a dispatcher backed by openai-go. The client's own
// retries are disabled; degradation is the router's job.
func NewSDKDispatcher(config providers.ProviderConfig, logger *zap.Logger) *SDKDispatcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(config.Timeout),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	for k, v := range config.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &SDKDispatcher{
		client: oai.NewClient(opts...),
		logger: logger,
	}
}

// Name returns the provider name
func (d *SDKDispatcher) Name() string {
	return providerName
}

// Dispatch performs a single chat completion request
func (d *SDKDispatcher) Dispatch(ctx context.Context, modelID, prompt string, opts providers.DispatchOptions) (*providers.Response, error) {
	startTime := time.Now()

	params := oai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
	}
	if opts.Temperature != nil {
		params.Temperature = oai.Float(*opts.Temperature)
	}
	if opts.MaxContextTokens > 0 {
		if budget := opts.MaxContextTokens - EstimateTokens(prompt); budget > 0 {
			params.MaxTokens = oai.Int(int64(budget))
		}
	}

	var reqOpts []option.RequestOption
	callID := shared.CallID(ctx)
	if callID != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Request-ID", callID))
	}

	resp, err := d.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, sdkError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewTransportError(providerName, "empty_response", "response contained no choices", 200, nil)
	}

	d.logger.Debug("chat completion finished",
		zap.String("call_id", callID),
		zap.String("model", modelID),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(startTime)))

	choice := resp.Choices[0]
	return &providers.Response{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// sdkError converts an openai-go failure into a transport error
func sdkError(err error) error {
	var apiErr *oai.Error
	if !errors.As(err, &apiErr) {
		return providers.NewTransportError(providerName, "http_error", "HTTP request failed", 0, err)
	}

	// The SDK leaves the raw body readable on the response
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		if body, readErr := io.ReadAll(apiErr.Response.Body); readErr == nil {
			if te := errorFromBody(apiErr.StatusCode, body); te != nil {
				return te
			}
		}
	}

	code := apiErr.Code
	if code == "" {
		code = apiErr.Type
	}

	cause := error(apiErr)
	if code == "model_not_found" {
		cause = fmt.Errorf("%w: %s", providers.ErrModelNotFound, apiErr.Message)
	}
	return providers.NewTransportError(providerName, code, apiErr.Message, apiErr.StatusCode, cause)
}

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/upb/tier-router/internal/shared"
	"github.com/upb/tier-router/services/providers"
	"go.uber.org/zap"
)

const (
	providerName = "anthropic"

	// DefaultMaxOutputTokens is used when the config sets no cap
	DefaultMaxOutputTokens = 4096

	charsPerToken = 4
)

// Dispatcher sends prompts to the Anthropic Messages API
type Dispatcher struct {
	client          sdk.Client
	maxOutputTokens int
	logger          *zap.Logger
}

// NewDispatcher creates an Anthropic dispatcher. The client's own retries are
// disabled.
func NewDispatcher(config providers.ProviderConfig, logger *zap.Logger) *Dispatcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = DefaultMaxOutputTokens
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

	return &Dispatcher{
		client:          sdk.NewClient(opts...),
		maxOutputTokens: config.MaxOutputTokens,
		logger:          logger,
	}
}

// Name returns the provider name
func (d *Dispatcher) Name() string {
	return providerName
}

// Dispatch sends a single user message
func (d *Dispatcher) Dispatch(ctx context.Context, modelID, prompt string, opts providers.DispatchOptions) (*providers.Response, error) {
	startTime := time.Now()

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(d.outputBudget(prompt, opts.MaxContextTokens)),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature != nil {
		params.Temperature = sdk.Float(*opts.Temperature)
	}

	var reqOpts []option.RequestOption
	callID := shared.CallID(ctx)
	if callID != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Request-ID", callID))
	}

	resp, err := d.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, transportError(err)
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(sdk.TextBlock); ok {
			text += b.Text
		}
	}

	d.logger.Debug("message finished",
		zap.String("call_id", callID),
		zap.String("model", modelID),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("latency", time.Since(startTime)))

	return &providers.Response{
		Text:         text,
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Usage: providers.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// outputBudget is what the context window leaves after the prompt, capped at
// the configured maximum
func (d *Dispatcher) outputBudget(prompt string, maxContext int) int {
	budget := d.maxOutputTokens
	if maxContext > 0 {
		if left := maxContext - len(prompt)/charsPerToken; left > 0 && left < budget {
			budget = left
		}
	}
	return budget
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// transportError converts an SDK failure into a transport error
func transportError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return providers.NewTransportError(providerName, "http_error", "HTTP request failed", 0, err)
	}

	var env errorEnvelope
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		if body, readErr := io.ReadAll(apiErr.Response.Body); readErr == nil {
			_ = json.Unmarshal(body, &env)
		}
	}

	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}

	cause := error(apiErr)
	if apiErr.StatusCode == http.StatusNotFound || env.Error.Type == "not_found_error" {
		cause = fmt.Errorf("%w: %s", providers.ErrModelNotFound, msg)
	}
	return providers.NewTransportError(providerName, env.Error.Type, msg, apiErr.StatusCode, cause)
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrModelNotFound signals that the upstream does not recognize the model id
var ErrModelNotFound = errors.New("model not found")

// Dispatcher sends one generation request to a single model. Implementations
// must honor ctx cancellation and must not retry internally.
type Dispatcher interface {
	Dispatch(ctx context.Context, modelID, prompt string, opts DispatchOptions) (*Response, error)
}

// DispatchFunc adapts a plain function to the Dispatcher interface
type DispatchFunc func(ctx context.Context, modelID, prompt string, opts DispatchOptions) (*Response, error)

// Dispatch calls f
func (f DispatchFunc) Dispatch(ctx context.Context, modelID, prompt string, opts DispatchOptions) (*Response, error) {
	return f(ctx, modelID, prompt, opts)
}

// DispatchOptions are the per-candidate generation options
type DispatchOptions struct {
	// Temperature controls randomness; nil leaves the upstream default
	Temperature *float64

	// MaxContextTokens is already clamped to the candidate's context window
	MaxContextTokens int
}

// Response is the text produced by a successful dispatch
type Response struct {
	Text         string
	Model        string // model reported by the upstream, may differ in alias
	FinishReason string
	Usage        Usage
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds connection settings for an HTTP dispatcher
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for a single HTTP exchange
	Timeout time.Duration

	// Additional headers
	Headers map[string]string

	// MaxOutputTokens caps the completion for APIs that require an explicit
	// limit; zero selects the dispatcher's default
	MaxOutputTokens int
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 30 * time.Second,
		Headers: make(map[string]string),
	}
}

// TransportError carries the raw upstream failure signal for classification
type TransportError struct {
	// Provider that generated the error
	Provider string

	// Code is the upstream error code or type, if any
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code, 0 when no response was received
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new transport error
func NewTransportError(provider, code, message string, statusCode int, cause error) *TransportError {
	return &TransportError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// StatusCodeOf returns the upstream HTTP status carried by err, or 0
func StatusCodeOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

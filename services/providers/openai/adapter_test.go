package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/upb/tier-router/internal/shared"
	"github.com/upb/tier-router/services/providers"
	"go.uber.org/zap"
)

func newTestDispatcher(baseURL string) *Dispatcher {
	return NewDispatcher(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestNewDispatcher(t *testing.T) {
	d := NewDispatcher(providers.ProviderConfig{APIKey: "test-key"}, zap.NewNop())

	if d.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", d.Name())
	}
	if d.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", d.config.BaseURL, defaultBaseURL)
	}
	if d.httpClient.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", d.httpClient.Timeout)
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	var got ChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
			t.Error("Authorization header missing or invalid")
		}

		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid request body: %v", err)
		}

		resp := ChatResponse{
			ID:      "chatcmpl-test123",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   got.Model,
			Choices: []Choice{{
				Message:      Message{Role: "assistant", Content: "This is a test response"},
				FinishReason: "stop",
			}},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	temp := 0.7
	d := newTestDispatcher(server.URL)
	resp, err := d.Dispatch(context.Background(), "gpt-4o-mini", "Hello there", providers.DispatchOptions{
		Temperature:      &temp,
		MaxContextTokens: 100,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if resp.Text != "This is a test response" {
		t.Errorf("Text = %s", resp.Text)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s, want gpt-4o-mini", resp.Model)
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", resp.Usage.TotalTokens)
	}

	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("temperature not forwarded: %v", got.Temperature)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Hello there" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
	// "Hello there" is 11 chars, 2 estimated tokens
	if got.MaxTokens == nil || *got.MaxTokens != 98 {
		t.Errorf("MaxTokens = %v, want 98", got.MaxTokens)
	}
}

func TestDispatcher_Dispatch_ErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   string
		modelError bool
	}{
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantCode: "invalid_api_key",
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"Rate limit reached","type":"requests"}}`,
			wantCode: "requests",
		},
		{
			name:       "model not found",
			status:     http.StatusNotFound,
			body:       `{"error":{"message":"The model does not exist","type":"invalid_request_error","code":"model_not_found"}}`,
			wantCode:   "model_not_found",
			modelError: true,
		},
		{
			name:   "non json body",
			status: http.StatusServiceUnavailable,
			body:   "upstream connect error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestDispatcher(server.URL).Dispatch(context.Background(), "m1", "hi", providers.DispatchOptions{})
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			var te *providers.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Expected TransportError, got %T", err)
			}
			if te.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.status)
			}
			if te.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", te.Code, tt.wantCode)
			}
			if got := errors.Is(err, providers.ErrModelNotFound); got != tt.modelError {
				t.Errorf("errors.Is(ErrModelNotFound) = %v, want %v", got, tt.modelError)
			}
		})
	}
}

func TestDispatcher_Dispatch_NoInternalRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestDispatcher(server.URL).Dispatch(context.Background(), "m1", "hi", providers.DispatchOptions{})
	if err == nil {
		t.Fatal("Expected error but got none")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestDispatcher_Dispatch_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestDispatcher(server.URL).Dispatch(context.Background(), "m1", "hi", providers.DispatchOptions{})
	var te *providers.TransportError
	if !errors.As(err, &te) || te.Code != "empty_response" {
		t.Errorf("expected empty_response error, got %v", err)
	}
}

func TestDispatcher_Dispatch_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestDispatcher(url).Dispatch(context.Background(), "m1", "hi", providers.DispatchOptions{})
	var te *providers.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError, got %T", err)
	}
	if te.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", te.StatusCode)
	}
	if te.Cause == nil {
		t.Error("Cause should carry the network error")
	}
}

func TestDispatcher_Dispatch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestDispatcher(server.URL).Dispatch(ctx, "m1", "hi", providers.DispatchOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBuildRequest_NoBudgetLeft(t *testing.T) {
	d := newTestDispatcher("http://unused")
	prompt := strings.Repeat("a", 400)

	req := d.buildRequest("m1", prompt, providers.DispatchOptions{MaxContextTokens: 50})
	if req.MaxTokens != nil {
		t.Errorf("MaxTokens = %d, want unset when prompt fills the window", *req.MaxTokens)
	}

	req = d.buildRequest("m1", prompt, providers.DispatchOptions{})
	if req.MaxTokens != nil {
		t.Error("MaxTokens should be unset without a context limit")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(strings.Repeat("x", 40)); got != 10 {
		t.Errorf("EstimateTokens() = %d, want 10", got)
	}
}

func TestDispatcher_Dispatch_ForwardsCallID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	ctx := shared.WithCallID(context.Background(), "call-123")
	if _, err := newTestDispatcher(server.URL).Dispatch(ctx, "m1", "hi", providers.DispatchOptions{}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got != "call-123" {
		t.Errorf("X-Request-ID = %q, want call-123", got)
	}
}

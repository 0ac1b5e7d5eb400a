package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tier-router/config"
	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/routing"
	"go.uber.org/zap"
)

// upstream answers every model except those listed as unavailable
func upstream(t *testing.T, unavailable ...string) *httptest.Server {
	t.Helper()
	down := make(map[string]bool)
	for _, m := range unavailable {
		down[m] = true
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if down[req.Model] {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "chatcmpl-1",
			"model": req.Model,
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "answer from " + req.Model}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Environment: "test",
		Router: config.RouterConfig{
			AttemptTimeout: 5 * time.Second,
			CallTimeout:    10 * time.Second,
		},
		Provider: config.ProviderConfig{
			APIKey:  "sk-test",
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
		},
		Audit: config.AuditConfig{BufferSize: 10, WorkerCount: 1},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

func TestNewDependencies_WithoutDatabase(t *testing.T) {
	ctx := context.Background()
	server := upstream(t)

	deps, err := NewDependencies(ctx, testConfig(server.URL), zap.NewNop())
	require.NoError(t, err)
	defer deps.Close(ctx)

	assert.Nil(t, deps.DB)
	assert.Nil(t, deps.Auditor)
	assert.Equal(t, len(models.DefaultCatalog()), deps.Registry.Len())

	chain, err := deps.Resolver.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o-mini", "llama-3.1-8b-instant"}, chain)

	res, err := deps.Router.Route(ctx, "hello", "gpt-4o", routing.Options{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", res.ModelUsed)
	assert.False(t, res.Degraded)
	assert.Equal(t, "answer from gpt-4o", res.Text)
}

func TestNewDependencies_DegradesThroughUpstream(t *testing.T) {
	ctx := context.Background()
	server := upstream(t, "gpt-4o")

	deps, err := NewDependencies(ctx, testConfig(server.URL), zap.NewNop())
	require.NoError(t, err)
	defer deps.Close(ctx)

	res, err := deps.Router.Route(ctx, "hello", "gpt-4o", routing.Options{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", res.ModelUsed)
	assert.True(t, res.Degraded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, services.KindServiceUnavailable, res.Failed[0].Kind)

	snap := deps.Metrics.Snapshot()
	byModel := make(map[string]int)
	for _, s := range snap {
		byModel[s.Model] = s.Successes*10 + s.Failures
	}
	assert.Equal(t, 1, byModel["gpt-4o"])
	assert.Equal(t, 10, byModel["gpt-4o-mini"])
}

func TestNewDependencies_Providers(t *testing.T) {
	ctx := context.Background()
	server := upstream(t)

	t.Run("unconfigured provider degrades", func(t *testing.T) {
		deps, err := NewDependencies(ctx, testConfig(server.URL), zap.NewNop())
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.Equal(t, []string{"openai"}, deps.Providers.ListProviders())
		assert.Equal(t, "anthropic", deps.Providers.ProviderFor("claude-3-5-sonnet"))
		assert.Equal(t, "openai", deps.Providers.ProviderFor("gpt-4o"))

		res, err := deps.Router.Route(ctx, "hello", "claude-3-5-sonnet", routing.Options{})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", res.ModelUsed)
		assert.True(t, res.Degraded)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, services.KindUnknownError, res.Failed[0].Kind)
	})

	t.Run("anthropic registered with key", func(t *testing.T) {
		cfg := testConfig(server.URL)
		cfg.Anthropic = config.AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL, MaxOutputTokens: 1024}

		deps, err := NewDependencies(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.Equal(t, []string{"anthropic", "openai"}, deps.Providers.ListProviders())
	})

	t.Run("sdk client", func(t *testing.T) {
		cfg := testConfig(server.URL)
		cfg.Provider.Client = config.ProviderClientSDK

		deps, err := NewDependencies(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer deps.Close(ctx)

		res, err := deps.Router.Route(ctx, "hello", "gpt-4o", routing.Options{})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", res.ModelUsed)
		assert.Equal(t, "answer from gpt-4o", res.Text)
	})
}

func TestNewDependencies_RegistryFile(t *testing.T) {
	ctx := context.Background()
	server := upstream(t)

	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - id: big
    tier: enterprise
    context_window: 1000
    cost_class: paid
  - id: small
    tier: standard
    context_window: 100
    cost_class: free
rate_limits:
  paid: 1
`), 0o600))

	cfg := testConfig(server.URL)
	cfg.Router.RegistryFile = path

	deps, err := NewDependencies(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer deps.Close(ctx)

	assert.Equal(t, 2, deps.Registry.Len())

	// The second call finds the paid model's window spent and lands on the free one
	first, err := deps.Router.Route(ctx, "hi", "big", routing.Options{})
	require.NoError(t, err)
	assert.Equal(t, "big", first.ModelUsed)

	second, err := deps.Router.Route(ctx, "hi", "big", routing.Options{})
	require.NoError(t, err)
	assert.Equal(t, "small", second.ModelUsed)
	require.Len(t, second.Failed, 1)
	assert.Equal(t, services.KindRateLimited, second.Failed[0].Kind)
}

func TestNewDependencies_InvalidCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("missing registry file", func(t *testing.T) {
		cfg := testConfig("http://127.0.0.1:0")
		cfg.Router.RegistryFile = filepath.Join(t.TempDir(), "absent.yaml")

		_, err := NewDependencies(ctx, cfg, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("no standard tier", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "models.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
models:
  - id: big
    tier: enterprise
    context_window: 1000
    cost_class: paid
`), 0o600))

		cfg := testConfig("http://127.0.0.1:0")
		cfg.Router.RegistryFile = path

		_, err := NewDependencies(ctx, cfg, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestDependencies_Close(t *testing.T) {
	deps := &Dependencies{Logger: zap.NewNop()}
	assert.NoError(t, deps.Close(context.Background()))
}

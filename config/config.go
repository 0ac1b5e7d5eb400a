package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string
	Router        RouterConfig
	Provider      ProviderConfig
	Anthropic     AnthropicConfig
	Database      *DatabaseConfig // Optional: attempt auditing is disabled when nil
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// RouterConfig holds routing and rate limiting configuration.
// Zero limits and window mean "use the registry file or built-in default".
type RouterConfig struct {
	RegistryFile   string
	RateWindow     time.Duration
	FreeLimit      int
	PaidLimit      int
	AttemptTimeout time.Duration
	CallTimeout    time.Duration
}

// Dispatcher implementations for the OpenAI-compatible provider
const (
	ProviderClientHTTP = "http" // hand-rolled net/http client
	ProviderClientSDK  = "sdk"  // official openai-go client
)

// ProviderConfig holds the OpenAI-compatible endpoint configuration
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Client  string // http or sdk
}

// AnthropicConfig holds the Anthropic endpoint configuration. Models mapped
// to anthropic fail over to their fallbacks while APIKey is empty.
type AnthropicConfig struct {
	APIKey          string
	BaseURL         string
	MaxOutputTokens int
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuditConfig holds the attempt auditor worker pool settings
type AuditConfig struct {
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Router: RouterConfig{
			RegistryFile:   getEnv("ROUTER_REGISTRY_FILE", ""),
			RateWindow:     getEnvAsDuration("ROUTER_RATE_WINDOW", 0),
			FreeLimit:      getEnvAsInt("ROUTER_FREE_LIMIT", 0),
			PaidLimit:      getEnvAsInt("ROUTER_PAID_LIMIT", 0),
			AttemptTimeout: getEnvAsDuration("ROUTER_ATTEMPT_TIMEOUT", 30*time.Second),
			CallTimeout:    getEnvAsDuration("ROUTER_CALL_TIMEOUT", 90*time.Second),
		},
		Provider: ProviderConfig{
			APIKey:  getEnv("PROVIDER_API_KEY", ""),
			BaseURL: getEnv("PROVIDER_BASE_URL", "https://api.openai.com/v1"),
			Timeout: getEnvAsDuration("PROVIDER_TIMEOUT", 60*time.Second),
			Client:  getEnv("PROVIDER_CLIENT", ProviderClientHTTP),
		},
		Anthropic: AnthropicConfig{
			APIKey:          getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL:         getEnv("ANTHROPIC_BASE_URL", ""),
			MaxOutputTokens: getEnvAsInt("ANTHROPIC_MAX_OUTPUT_TOKENS", 4096),
		},
		Database: loadDatabaseConfig(),
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges and required fields
func (c *Config) Validate() error {
	if c.Router.RateWindow < 0 {
		return fmt.Errorf("rate window cannot be negative")
	}
	if c.Router.FreeLimit < 0 || c.Router.PaidLimit < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}
	if c.Router.AttemptTimeout < 0 || c.Router.CallTimeout < 0 {
		return fmt.Errorf("router timeouts cannot be negative")
	}

	if c.IsProduction() && c.Provider.APIKey == "" {
		return fmt.Errorf("provider API key is required in production")
	}
	if c.Provider.Client != ProviderClientHTTP && c.Provider.Client != ProviderClientSDK {
		return fmt.Errorf("provider client must be http or sdk, got %q", c.Provider.Client)
	}
	if c.Anthropic.MaxOutputTokens < 0 {
		return fmt.Errorf("anthropic max output tokens cannot be negative")
	}

	if c.Database != nil {
		if c.Database.ConnectionString == "" && c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Audit.BufferSize <= 0 {
			return fmt.Errorf("audit buffer size must be positive")
		}
		if c.Audit.WorkerCount <= 0 {
			return fmt.Errorf("audit worker count must be positive")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	if f := c.Observability.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("log format must be json or text, got %q", f)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", ""),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "tier_router"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

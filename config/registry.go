package config

import (
	"fmt"
	"os"
	"time"

	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services/fallback"
	"github.com/upb/tier-router/services/ratelimit"
	"github.com/upb/tier-router/utils"
	"gopkg.in/yaml.v3"
)

// RegistryFile is the on-disk description of the routable models
//
//	models:
//	  - id: gpt-4o
//	    tier: enterprise
//	    context_window: 128000
//	    cost_class: paid
//	representatives:
//	  standard: llama-3.1-8b-instant
//	fallbacks:
//	  gpt-4o: [gpt-4o-mini, llama-3.1-8b-instant]
//	rate_limits:
//	  window: 1m
//	  free: 1000
//	  paid: 100
type RegistryFile struct {
	Models          []models.ModelDescriptor `yaml:"models" validate:"required,min=1,dive"`
	Representatives map[models.Tier]string   `yaml:"representatives"`
	Fallbacks       map[string][]string      `yaml:"fallbacks"`
	RateLimits      *RateLimits              `yaml:"rate_limits"`
}

// RateLimits is the optional rate limit section of a registry file
type RateLimits struct {
	Window time.Duration `yaml:"window" validate:"gte=0"`
	Free   int           `yaml:"free" validate:"gte=0"`
	Paid   int           `yaml:"paid" validate:"gte=0"`
}

// DefaultRegistryFile returns the built-in catalog with its representatives
func DefaultRegistryFile() *RegistryFile {
	return &RegistryFile{
		Models: models.DefaultCatalog(),
		Representatives: map[models.Tier]string{
			models.TierProfessional: "gpt-4o-mini",
			models.TierStandard:     "llama-3.1-8b-instant",
		},
	}
}

// LoadRegistryFile reads and validates a registry file. An empty path yields
// the built-in default.
func LoadRegistryFile(path string) (*RegistryFile, error) {
	if path == "" {
		return DefaultRegistryFile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	file, err := ParseRegistryFile(data)
	if err != nil {
		return nil, fmt.Errorf("registry file %s: %w", path, err)
	}
	return file, nil
}

// ParseRegistryFile decodes and validates registry YAML
func ParseRegistryFile(data []byte) (*RegistryFile, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	if err := utils.ValidateStruct(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

// FallbackConfig returns the chain settings declared in the file
func (f *RegistryFile) FallbackConfig() fallback.Config {
	return fallback.Config{
		Representatives: f.Representatives,
		Overrides:       f.Fallbacks,
	}
}

// RateLimitConfig layers the file's limits and then the environment's over
// the built-in defaults
func (f *RegistryFile) RateLimitConfig(router RouterConfig) ratelimit.Config {
	cfg := ratelimit.DefaultConfig()

	apply := func(window time.Duration, free, paid int) {
		if window > 0 {
			cfg.Window = window
		}
		if free > 0 {
			cfg.Limits[models.CostClassFree] = free
		}
		if paid > 0 {
			cfg.Limits[models.CostClassPaid] = paid
		}
	}

	if f.RateLimits != nil {
		apply(f.RateLimits.Window, f.RateLimits.Free, f.RateLimits.Paid)
	}
	apply(router.RateWindow, router.FreeLimit, router.PaidLimit)

	return cfg
}

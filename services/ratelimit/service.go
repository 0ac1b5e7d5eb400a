package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services/registry"
	"go.uber.org/zap"
)

// Default thresholds used when neither the registry file nor the environment sets them
const (
	DefaultWindow    = time.Minute
	DefaultFreeLimit = 1000
	DefaultPaidLimit = 100
)

// Config holds the fixed-window thresholds
type Config struct {
	Window time.Duration            `yaml:"window"`
	Limits map[models.CostClass]int `yaml:"limits"`
}

// DefaultConfig returns one-minute windows with free models allowed far more
// traffic than paid ones
func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		Limits: map[models.CostClass]int{
			models.CostClassFree: DefaultFreeLimit,
			models.CostClassPaid: DefaultPaidLimit,
		},
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	for _, class := range []models.CostClass{models.CostClassFree, models.CostClassPaid} {
		limit, ok := c.Limits[class]
		if !ok {
			return fmt.Errorf("rate limit for %s models is not configured", class)
		}
		if limit <= 0 {
			return fmt.Errorf("rate limit for %s models must be positive, got %d", class, limit)
		}
	}
	return nil
}

// Window is the admission state of one model in the current fixed window
type Window struct {
	WindowStart time.Time
	Count       int
	Limit       int
}

// ResetAt returns when the window rolls over
func (w Window) ResetAt(length time.Duration) time.Time {
	return w.WindowStart.Add(length)
}

// Remaining returns how many admissions are left in the window
func (w Window) Remaining() int {
	if w.Count >= w.Limit {
		return 0
	}
	return w.Limit - w.Count
}

// Result represents the outcome of an admission check
type Result struct {
	Allowed   bool
	Known     bool // false when the model has no slot
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// slot guards one model's window
type slot struct {
	mu     sync.Mutex
	window Window
}

// RateLimitService enforces per-model fixed-window limits in memory.
// Slots are allocated at construction, so the slot map is never written
// afterwards and only the per-model mutex is taken on the hot path.
type RateLimitService struct {
	window time.Duration
	slots  map[string]*slot
	logger *zap.Logger
}

// NewRateLimitService creates a limiter covering every registered model
func NewRateLimitService(reg *registry.Registry, cfg Config, logger *zap.Logger) (*RateLimitService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &RateLimitService{
		window: cfg.Window,
		slots:  make(map[string]*slot, reg.Len()),
		logger: logger,
	}
	for _, m := range reg.AllModels() {
		s.slots[m.ID] = &slot{window: Window{Limit: cfg.Limits[m.CostClass]}}
	}

	return s, nil
}

// TryAdmit records one request for the model if the current window has room.
// A rejected call leaves the counter untouched.
func (s *RateLimitService) TryAdmit(modelID string, now time.Time) bool {
	return s.Admit(modelID, now).Allowed
}

// Admit is TryAdmit with the remaining capacity and reset time
func (s *RateLimitService) Admit(modelID string, now time.Time) Result {
	sl, ok := s.slots[modelID]
	if !ok {
		s.logger.Warn("rate limit check for unregistered model", zap.String("model", modelID))
		return Result{Allowed: false}
	}

	start := s.windowStart(now)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	// A timestamp from an earlier window counts against the current one
	if start.After(sl.window.WindowStart) {
		sl.window.WindowStart = start
		sl.window.Count = 0
	}

	res := Result{
		Known:   true,
		Limit:   sl.window.Limit,
		ResetAt: sl.window.ResetAt(s.window),
	}
	if sl.window.Count >= sl.window.Limit {
		return res
	}

	sl.window.Count++
	res.Allowed = true
	res.Remaining = sl.window.Remaining()
	return res
}

// Usage returns a snapshot of the model's window as seen at now
func (s *RateLimitService) Usage(modelID string, now time.Time) (Window, bool) {
	sl, ok := s.slots[modelID]
	if !ok {
		return Window{}, false
	}

	start := s.windowStart(now)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	w := sl.window
	if start.After(w.WindowStart) {
		w = Window{WindowStart: start, Limit: w.Limit}
	}
	return w, true
}

// Reset clears every model's counter
func (s *RateLimitService) Reset() {
	for _, sl := range s.slots {
		sl.mu.Lock()
		sl.window.Count = 0
		sl.window.WindowStart = time.Time{}
		sl.mu.Unlock()
	}
}

// WindowLength returns the configured window length
func (s *RateLimitService) WindowLength() time.Duration {
	return s.window
}

func (s *RateLimitService) windowStart(now time.Time) time.Time {
	return now.Truncate(s.window)
}

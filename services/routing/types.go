package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/providers"
	"github.com/upb/tier-router/services/ratelimit"
)

// Options are the caller-supplied generation options
type Options struct {
	// Temperature controls randomness; nil leaves the upstream default
	Temperature *float64

	// MaxContextTokens is the desired context length. Zero means "as large as
	// the candidate allows"; larger values are clamped to each candidate's window.
	MaxContextTokens int
}

// clampFor returns the dispatch options for one candidate
func (o Options) clampFor(m models.ModelDescriptor) providers.DispatchOptions {
	limit := o.MaxContextTokens
	if limit <= 0 || limit > m.ContextWindow {
		limit = m.ContextWindow
	}
	return providers.DispatchOptions{
		Temperature:      o.Temperature,
		MaxContextTokens: limit,
	}
}

// AttemptResult is the outcome of one candidate within a routed call.
// Exactly one of Response and Err is set.
type AttemptResult struct {
	Model    models.ModelDescriptor
	Admitted bool // false when the local rate limiter rejected the candidate
	Latency  time.Duration
	Response *providers.Response
	Err      *services.ClassifiedError
}

// Succeeded reports whether the attempt produced a response
func (a AttemptResult) Succeeded() bool {
	return a.Err == nil && a.Response != nil
}

// RateLimited reports whether the local limiter turned the attempt away
func (a AttemptResult) RateLimited() bool {
	return !a.Admitted && a.Err != nil && a.Err.Kind == services.KindRateLimited
}

// Success is the result of a routed call that produced a response
type Success struct {
	CallID    uuid.UUID
	Text      string
	ModelUsed string
	Tier      models.Tier
	Elapsed   time.Duration
	Usage     providers.Usage

	// Degraded is true when the answering model is not the preferred one
	Degraded bool

	// Failed holds the classified errors of the candidates tried before success
	Failed []*services.ClassifiedError

	// Attempts holds every candidate tried, including the successful one
	Attempts []AttemptResult
}

// Failure is the error returned by Route. It always lists every candidate
// that was tried.
type Failure struct {
	CallID   uuid.UUID
	Kind     services.ErrorKind
	Attempts []*services.ClassifiedError
	Elapsed  time.Duration

	// Err is the cause of a Timeout, otherwise nil
	Err error
}

// Error implements the error interface
func (f *Failure) Error() string {
	last := f.Last()
	switch {
	case f.Kind == services.KindTimeout:
		return fmt.Sprintf("routing timed out after %d attempts: %v", len(f.Attempts), f.Err)
	case last == nil:
		return fmt.Sprintf("routing failed: %s", f.Kind)
	default:
		return fmt.Sprintf("routing failed (%s) after %d attempts: %v", f.Kind, len(f.Attempts), last)
	}
}

// Unwrap returns the last classified error, or the timeout cause
func (f *Failure) Unwrap() error {
	if f.Kind == services.KindTimeout && f.Err != nil {
		return f.Err
	}
	if last := f.Last(); last != nil {
		return last
	}
	return nil
}

// Is matches a ClassifiedError sentinel of the failure's own kind
func (f *Failure) Is(target error) bool {
	t, ok := target.(*services.ClassifiedError)
	return ok && t.Kind == f.Kind
}

// Last returns the final classified error, or nil when nothing was attempted
func (f *Failure) Last() *services.ClassifiedError {
	if len(f.Attempts) == 0 {
		return nil
	}
	return f.Attempts[len(f.Attempts)-1]
}

// AttemptEvent is delivered to observers after every candidate attempt
type AttemptEvent struct {
	CallID         uuid.UUID
	Sequence       int // 1-based
	PreferredModel string
	Result         AttemptResult
	Time           time.Time
}

// Observer receives attempt events. Implementations must not block.
type Observer interface {
	OnAttempt(ctx context.Context, event AttemptEvent)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ctx context.Context, event AttemptEvent)

// OnAttempt calls f
func (f ObserverFunc) OnAttempt(ctx context.Context, event AttemptEvent) {
	f(ctx, event)
}

// ChainResolver yields the ordered candidates for a preferred model
type ChainResolver interface {
	Candidates(modelID string) ([]models.ModelDescriptor, error)
}

// Limiter admits or rejects a single attempt against a model
type Limiter interface {
	Admit(modelID string, now time.Time) ratelimit.Result
}

// ErrorClassifier maps dispatch failures to classified errors
type ErrorClassifier interface {
	Classify(err error) *services.ClassifiedError
}

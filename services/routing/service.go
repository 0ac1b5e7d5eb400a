package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tier-router/internal/shared"
	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/providers"
	"go.uber.org/zap"
)

// ErrMissingDependency is returned when the router is built without a required collaborator
var ErrMissingDependency = errors.New("missing router dependency")

// Config holds configuration for the router
type Config struct {
	// AttemptTimeout bounds a single dispatch; zero disables the per-attempt limit
	AttemptTimeout time.Duration

	// CallTimeout bounds a whole routed call on top of the caller's context;
	// zero relies on the caller's context only
	CallTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 30 * time.Second,
		CallTimeout:    90 * time.Second,
	}
}

// Deps are the collaborators injected into the router
type Deps struct {
	Resolver   ChainResolver
	Limiter    Limiter
	Classifier ErrorClassifier
	Dispatcher providers.Dispatcher
	Observers  []Observer
	Logger     *zap.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// Router walks a model's fallback chain until one candidate answers. It keeps
// no per-call state, so one Router serves any number of concurrent calls.
type Router struct {
	config     Config
	resolver   ChainResolver
	limiter    Limiter
	classifier ErrorClassifier
	dispatcher providers.Dispatcher
	observers  []Observer
	logger     *zap.Logger
	now        func() time.Time
}

// NewRouter creates a router from its collaborators
func NewRouter(deps Deps, config Config) (*Router, error) {
	switch {
	case deps.Resolver == nil:
		return nil, fmt.Errorf("%w: resolver", ErrMissingDependency)
	case deps.Limiter == nil:
		return nil, fmt.Errorf("%w: limiter", ErrMissingDependency)
	case deps.Classifier == nil:
		return nil, fmt.Errorf("%w: classifier", ErrMissingDependency)
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("%w: dispatcher", ErrMissingDependency)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Router{
		config:     config,
		resolver:   deps.Resolver,
		limiter:    deps.Limiter,
		classifier: deps.Classifier,
		dispatcher: deps.Dispatcher,
		observers:  append([]Observer(nil), deps.Observers...),
		logger:     logger,
		now:        now,
	}, nil
}

// Route sends prompt to preferredModel, degrading through its fallback chain
// on retryable failures. Every non-nil error is a *Failure.
func (r *Router) Route(ctx context.Context, prompt, preferredModel string, opts Options) (*Success, error) {
	callID := uuid.New()
	start := r.now()
	ctx = shared.WithCallID(ctx, callID.String())

	if r.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.CallTimeout)
		defer cancel()
	}

	logger := r.logger.With(
		zap.String("call_id", callID.String()),
		zap.String("preferred_model", preferredModel))

	candidates, err := r.resolver.Candidates(preferredModel)
	if err != nil {
		ce := r.classify(err, preferredModel)
		logger.Warn("routing rejected", zap.String("kind", string(ce.Kind)), zap.Error(ce))
		return nil, &Failure{CallID: callID, Kind: ce.Kind, Attempts: []*services.ClassifiedError{ce}}
	}

	var (
		failed   []*services.ClassifiedError
		attempts []AttemptResult
	)

	for i, cand := range candidates {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, r.timeout(logger, callID, start, failed, ctxErr)
		}

		next := ""
		if i+1 < len(candidates) {
			next = candidates[i+1].ID
		}

		result := r.attempt(ctx, cand, prompt, opts, next)
		attempts = append(attempts, result)
		r.notify(ctx, AttemptEvent{
			CallID:         callID,
			Sequence:       i + 1,
			PreferredModel: preferredModel,
			Result:         result,
			Time:           r.now(),
		})

		fields := []zap.Field{
			zap.Int("attempt", i+1),
			zap.String("model", cand.ID),
			zap.String("tier", string(cand.Tier)),
			zap.Duration("latency", result.Latency),
		}

		if result.Succeeded() {
			elapsed := r.now().Sub(start)
			if i > 0 {
				logger.Info("routed after degradation", append(fields, zap.Int("failed_attempts", len(failed)))...)
			} else {
				logger.Debug("routed to preferred model", fields...)
			}
			return &Success{
				CallID:    callID,
				Text:      result.Response.Text,
				ModelUsed: cand.ID,
				Tier:      cand.Tier,
				Elapsed:   elapsed,
				Usage:     result.Response.Usage,
				Degraded:  i > 0,
				Failed:    failed,
				Attempts:  attempts,
			}, nil
		}

		ce := result.Err
		failed = append(failed, ce)
		fields = append(fields, zap.String("kind", string(ce.Kind)), zap.Bool("admitted", result.Admitted))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, r.timeout(logger, callID, start, failed, ctxErr)
		}

		if !ce.Retryable {
			logger.Warn("non-retryable failure, aborting chain", append(fields, zap.Error(ce))...)
			return nil, &Failure{CallID: callID, Kind: ce.Kind, Attempts: failed, Elapsed: r.now().Sub(start)}
		}

		logger.Debug("candidate failed", append(fields, zap.Error(ce))...)
	}

	logger.Warn("all candidates exhausted", zap.Int("attempts", len(failed)))
	return nil, &Failure{
		CallID:   callID,
		Kind:     services.KindAllCandidatesExhausted,
		Attempts: failed,
		Elapsed:  r.now().Sub(start),
	}
}

// attempt runs the rate check and dispatch for a single candidate
func (r *Router) attempt(ctx context.Context, cand models.ModelDescriptor, prompt string, opts Options, next string) AttemptResult {
	attemptStart := r.now()
	result := AttemptResult{Model: cand}

	admission := r.limiter.Admit(cand.ID, attemptStart)
	if !admission.Known {
		ce := services.NewClassifiedError(services.KindUnknownModel,
			fmt.Sprintf("model %s is not tracked by the rate limiter", cand.ID), nil)
		ce.Model = cand.ID
		result.Err = ce
		return result
	}
	if !admission.Allowed {
		ce := services.NewClassifiedError(services.KindRateLimited,
			fmt.Sprintf("local limit of %d requests per window reached, resets at %s",
				admission.Limit, admission.ResetAt.Format(time.RFC3339)), nil)
		ce.Model = cand.ID
		ce.SuggestedFallback = next
		result.Err = ce
		return result
	}
	result.Admitted = true

	dispatchCtx := ctx
	if r.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, r.config.AttemptTimeout)
		defer cancel()
	}

	resp, err := r.dispatcher.Dispatch(dispatchCtx, cand.ID, prompt, opts.clampFor(cand))
	result.Latency = r.now().Sub(attemptStart)

	if err == nil && resp == nil {
		err = errors.New("dispatcher returned no response")
	}
	if err != nil {
		ce := r.classify(err, cand.ID)
		if ce.Retryable {
			ce.SuggestedFallback = next
		}
		result.Err = ce
		return result
	}

	result.Response = resp
	return result
}

// classify returns a classified copy attributed to model
func (r *Router) classify(err error, model string) *services.ClassifiedError {
	ce := r.classifier.Classify(err)
	if ce == nil {
		ce = services.NewClassifiedError(services.KindUnknownError, "unclassified dispatch failure", err)
	}
	return ce.ForModel(model)
}

func (r *Router) timeout(logger *zap.Logger, callID uuid.UUID, start time.Time, failed []*services.ClassifiedError, cause error) *Failure {
	logger.Warn("call budget exhausted", zap.Int("attempts", len(failed)), zap.Error(cause))
	return &Failure{
		CallID:   callID,
		Kind:     services.KindTimeout,
		Attempts: failed,
		Elapsed:  r.now().Sub(start),
		Err:      cause,
	}
}

func (r *Router) notify(ctx context.Context, event AttemptEvent) {
	for _, o := range r.observers {
		o.OnAttempt(ctx, event)
	}
}

package services

import (
	"errors"
	"fmt"
)

// ErrorKind represents the classified category of a routing failure
type ErrorKind string

const (
	KindUnknownModel           ErrorKind = "unknown_model"
	KindAuthError              ErrorKind = "auth_error"
	KindRateLimited            ErrorKind = "rate_limited"
	KindServiceUnavailable     ErrorKind = "service_unavailable"
	KindServerError            ErrorKind = "server_error"
	KindNetworkError           ErrorKind = "network_error"
	KindInvalidModel           ErrorKind = "invalid_model"
	KindTimeout                ErrorKind = "timeout"
	KindAllCandidatesExhausted ErrorKind = "all_candidates_exhausted"
	KindUnknownError           ErrorKind = "unknown_error"
)

// DefaultRetryable reports whether errors of this kind allow moving on to the
// next candidate
func (k ErrorKind) DefaultRetryable() bool {
	switch k {
	case KindAuthError, KindInvalidModel, KindUnknownModel, KindTimeout, KindAllCandidatesExhausted:
		return false
	default:
		return true
	}
}

// ClassifiedError is a failure tagged with its kind and retryability
type ClassifiedError struct {
	Kind              ErrorKind
	Message           string
	Retryable         bool
	SuggestedFallback string // informational, may be empty
	Model             string // candidate that produced the error
	StatusCode        int    // upstream status, 0 if none
	Err               error
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	prefix := string(e.Kind)
	if e.Model != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Kind, e.Model)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is matches any ClassifiedError of the same kind
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ForModel returns a copy of the error attributed to the given candidate
func (e *ClassifiedError) ForModel(model string) *ClassifiedError {
	c := *e
	c.Model = model
	return &c
}

// NewClassifiedError creates an error using the kind's default retryability
func NewClassifiedError(kind ErrorKind, message string, err error) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		Retryable: kind.DefaultRetryable(),
		Err:       err,
	}
}

var (
	ErrUnknownModel           = NewClassifiedError(KindUnknownModel, "model is not registered", nil)
	ErrAuth                   = NewClassifiedError(KindAuthError, "authentication rejected by upstream", nil)
	ErrRateLimited            = NewClassifiedError(KindRateLimited, "rate limit reached", nil)
	ErrServiceUnavailable     = NewClassifiedError(KindServiceUnavailable, "upstream service unavailable", nil)
	ErrServer                 = NewClassifiedError(KindServerError, "upstream server error", nil)
	ErrNetwork                = NewClassifiedError(KindNetworkError, "network failure", nil)
	ErrInvalidModel           = NewClassifiedError(KindInvalidModel, "model not recognized by upstream", nil)
	ErrTimeout                = NewClassifiedError(KindTimeout, "call budget exhausted", nil)
	ErrAllCandidatesExhausted = NewClassifiedError(KindAllCandidatesExhausted, "all candidates failed", nil)
	ErrUnknown                = NewClassifiedError(KindUnknownError, "unclassified failure", nil)
)

// ErrInvalidChain is returned when a configured fallback chain breaks the
// chain ordering rules
var ErrInvalidChain = errors.New("invalid fallback chain")

// UnknownModelError builds the error returned for an unregistered model id
func UnknownModelError(id string) *ClassifiedError {
	e := NewClassifiedError(KindUnknownModel, fmt.Sprintf("model %q is not registered", id), nil)
	e.Model = id
	return e
}

// KindOf returns the kind of a classified error, or KindUnknownError
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknownError
}

// IsRetryable checks if an error allows trying the next candidate.
// Unclassified errors are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}

// IsUnknownModelError checks if an error is an unknown model error
func IsUnknownModelError(err error) bool {
	return KindOf(err) == KindUnknownModel
}

// IsAuthError checks if an error is an upstream authentication error
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuthError
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsTimeoutError checks if an error is a call budget timeout
func IsTimeoutError(err error) bool {
	return KindOf(err) == KindTimeout
}

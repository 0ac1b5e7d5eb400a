package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/providers"
)

// Classifier turns raw dispatch failures into classified errors. It holds no
// state and is safe for concurrent use.
type Classifier struct{}

// New creates a classifier
func New() *Classifier {
	return &Classifier{}
}

// Classify maps err to a ClassifiedError. Errors that are already classified
// are returned unchanged; nil maps to nil.
func (c *Classifier) Classify(err error) *services.ClassifiedError {
	return Classify(err)
}

// Classify is the package-level form of Classifier.Classify
func Classify(err error) *services.ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *services.ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	if isInvalidModel(err) {
		return classified(services.KindInvalidModel, err)
	}

	var te *providers.TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		if kind, ok := ClassifyStatus(te.StatusCode); ok {
			return classified(kind, err)
		}
	}

	if isNetworkError(err) {
		return classified(services.KindNetworkError, err)
	}

	return classified(services.KindUnknownError, err)
}

// ClassifyStatus maps an HTTP status to a kind. The boolean is false for
// statuses with no dedicated mapping.
func ClassifyStatus(status int) (services.ErrorKind, bool) {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return services.KindAuthError, true
	case status == http.StatusTooManyRequests:
		return services.KindRateLimited, true
	case status == http.StatusServiceUnavailable:
		return services.KindServiceUnavailable, true
	case status >= 500 && status <= 599:
		return services.KindServerError, true
	default:
		return "", false
	}
}

func isInvalidModel(err error) bool {
	if errors.Is(err, providers.ErrModelNotFound) {
		return true
	}
	var te *providers.TransportError
	return errors.As(err, &te) && te.Code == "model_not_found"
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func classified(kind services.ErrorKind, err error) *services.ClassifiedError {
	ce := services.NewClassifiedError(kind, describe(kind, err), err)
	ce.StatusCode = providers.StatusCodeOf(err)
	return ce
}

func describe(kind services.ErrorKind, err error) string {
	switch kind {
	case services.KindAuthError:
		return "upstream rejected credentials"
	case services.KindRateLimited:
		return "upstream rate limit reached"
	case services.KindServiceUnavailable:
		return "upstream service unavailable"
	case services.KindServerError:
		return fmt.Sprintf("upstream server error (status %d)", providers.StatusCodeOf(err))
	case services.KindNetworkError:
		return "network failure reaching upstream"
	case services.KindInvalidModel:
		return "upstream does not recognize the model"
	default:
		return "unclassified dispatch failure"
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dshills/brsrcheck/internal/errs"
)

// Classify tags a provider error with the errs taxonomy: rate limits become
// errs.ErrRateLimited, connection failures errs.ErrTransientNetwork, anything
// else errs.ErrUpstream. Cancellation and already-classified errors pass
// through unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, errs.ErrRateLimited), errors.Is(err, errs.ErrTransientNetwork),
		errors.Is(err, errs.ErrUpstream), errors.Is(err, errs.ErrMissingCredential):
		return err
	case isRateLimit(err):
		return fmt.Errorf("%w: %w", errs.ErrRateLimited, err)
	case isNetwork(err):
		return fmt.Errorf("%w: %w", errs.ErrTransientNetwork, err)
	default:
		return fmt.Errorf("%w: %w", errs.ErrUpstream, err)
	}
}

// IsRetryable reports whether a classified error may consume another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, errs.ErrRateLimited) || errors.Is(err, errs.ErrTransientNetwork)
}

// Reason returns a short label for a retryable error, for metrics.
func Reason(err error) string {
	if errors.Is(err, errs.ErrRateLimited) {
		return "rate_limited"
	}
	return "network"
}

func isRateLimit(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	var herr *HTTPError
	if errors.As(err, &herr) && herr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "quota")
}

func isNetwork(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.Unavailable {
		return true
	}
	return strings.Contains(err.Error(), "fetch failed")
}

// Package errs defines the error taxonomy shared by the model client, the
// extraction and audit phases, the call-site retry wrapper and the HTTP service.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned before any network call when neither a
	// request credential nor a configured default exists. The text is what
	// callers surface to the user.
	ErrMissingCredential = errors.New("API Key missing")

	// ErrRateLimited marks a 429 / quota-exceeded failure. Retryable.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientNetwork marks a connection-level failure. Retryable.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrMalformedResponse marks model output that is not valid JSON after
	// fence stripping, or whose top-level shape violates the contract.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrUpstream marks any other failure reported by the model or the
	// remote service. Not retried.
	ErrUpstream = errors.New("upstream service error")

	// ErrTerminalRetry is matched by every *RetryExhaustedError.
	ErrTerminalRetry = errors.New("retries exhausted")

	// ErrNotVerified is returned by the publish gate when the audit verdict
	// does not permit PDF generation.
	ErrNotVerified = errors.New("audit verdict is not VERIFIED")
)

// RetryExhaustedError is returned when every attempt of a logical call failed
// with a retryable error. It carries the last underlying error.
type RetryExhaustedError struct {
	Site     string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Site, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTerminalRetry) match without wrapping the sentinel.
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrTerminalRetry }

// Malformed wraps cause as an ErrMalformedResponse with a short description.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// Kind returns a stable label for err, used for metrics, logs and HTTP
// status mapping.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrTerminalRetry):
		return "terminal_retry"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransientNetwork):
		return "network"
	case errors.Is(err, ErrNotVerified):
		return "not_verified"
	default:
		return "upstream"
	}
}

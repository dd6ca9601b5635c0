package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCancelled marks a send stopped by its caller. It is never retried.
	ErrCancelled = errors.New("request cancelled")
	// ErrInvalidResponse means the proxy answered 2xx without a usable reply
	ErrInvalidResponse = errors.New("invalid response from serverless function")
)

// ProviderError is a non-2xx answer from a proxy
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("Serverless API Error: %d - %s", e.Status, e.Message)
}

// Transient reports whether the status is worth retrying
func (e *ProviderError) Transient() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests
}

// NetworkError wraps a failure below HTTP: DNS, refused connection, reset,
// per-attempt timeout, truncated body.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on another attempt
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

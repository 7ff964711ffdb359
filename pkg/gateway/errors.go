package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrUnknownService is returned for service names absent from config.
	ErrUnknownService = errors.New("unknown service")

	// ErrCircuitOpen is returned while a service is cold.
	ErrCircuitOpen = errors.New("circuit open")
)

// HTTPError represents a non-2xx response after retries were exhausted or
// deemed pointless.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Service, e.StatusCode)
}

// IsRetriable reports whether the status code warrants a retry.
// 429 and 5xx retry; other 4xx fail immediately.
func (e *HTTPError) IsRetriable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// CircuitError carries the cool-down remaining when a request fails fast.
type CircuitError struct {
	Service   string
	RetryIn   time.Duration
	LastError error
}

func (e *CircuitError) Error() string {
	return fmt.Sprintf("%s circuit open, retry in %s", e.Service, e.RetryIn.Round(time.Millisecond))
}

func (e *CircuitError) Unwrap() error {
	return ErrCircuitOpen
}

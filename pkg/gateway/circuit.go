package gateway

import (
	"sync"
	"time"
)

// circuitBreaker tracks consecutive failures per service. Once the
// threshold is crossed the service is "cold": requests fail fast until the
// cool-down window elapses, after which one request is allowed through to
// probe the service.
type circuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	states    map[string]*circuitState
}

type circuitState struct {
	failures  int
	coldUntil time.Time
	lastError error
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		states:    make(map[string]*circuitState),
	}
}

// allow reports whether a request may proceed. When the circuit is open it
// returns a CircuitError carrying the remaining cool-down.
func (cb *circuitBreaker) allow(service string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[service]
	if !ok {
		return nil
	}

	if remaining := time.Until(state.coldUntil); remaining > 0 {
		return &CircuitError{
			Service:   service,
			RetryIn:   remaining,
			LastError: state.lastError,
		}
	}

	return nil
}

// recordSuccess resets the failure count.
func (cb *circuitBreaker) recordSuccess(service string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.states, service)
}

// recordFailure bumps the failure count and opens the circuit when the
// threshold is crossed.
func (cb *circuitBreaker) recordFailure(service string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[service]
	if !ok {
		state = &circuitState{}
		cb.states[service] = state
	}

	state.failures++
	state.lastError = err
	if state.failures >= cb.threshold {
		state.coldUntil = time.Now().Add(cb.cooldown)
		// Allow the next probe to re-open quickly instead of requiring
		// another full threshold run.
		state.failures = cb.threshold - 1
	}
}

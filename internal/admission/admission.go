// Package admission implements the Admission Controller (C4): a token-bucket
// rate limiter keyed by caller identity, and circuit breakers wrapping
// external dependencies.
package admission

import (
	"net"
	"strings"

	"sessionbroker/internal/brokererr"
	"sessionbroker/internal/metrics"
)

// Controller bundles the rate limiter and breaker registry behind the
// admission check used at the front of the execute_code dataflow.
type Controller struct {
	Limiter  *RateLimiter
	Breakers *Registry
}

// New constructs a Controller with spec.md defaults.
func New() *Controller {
	return &Controller{
		Limiter:  NewRateLimiter(DefaultRateLimiterConfig()),
		Breakers: NewRegistry(func(name string) BreakerConfig {
			return DefaultBreakerConfig(IsTransientError)
		}),
	}
}

// Admit performs the rate-limit check for identity and cost. It returns a
// *brokererr.Error with Kind RateLimited when the caller is rejected.
func (c *Controller) Admit(identity string, cost int) error {
	ok, retryAfter := c.Limiter.Consume(identity, cost)
	if !ok {
		metrics.Get().RecordAdmissionRejection("rate_limited")
		return brokererr.Wrap(brokererr.RateLimited, "rate limit exceeded, retry after "+retryAfter.String(), nil)
	}
	return nil
}

// Guard wraps fn with the named dependency's circuit breaker, translating an
// open breaker into a brokererr.CircuitOpen.
func (c *Controller) Guard(name string, fn func() (interface{}, error)) (interface{}, error) {
	b := c.Breakers.Get(name)
	result, err := b.Call(fn)
	if err == ErrCircuitOpen {
		metrics.Get().RecordAdmissionRejection("circuit_open")
		return nil, brokererr.Wrap(brokererr.CircuitOpen, "circuit open for "+name, err)
	}
	return result, err
}

// IsTransientError classifies errors that should count against a circuit
// breaker: connection refused, timeouts, and similar transport failures.
// Anything else (e.g. a validation error from within the guarded call) is
// not the dependency's fault and must not trip the breaker.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(net.Error); ok {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection refused", "timeout", "i/o timeout", "broken pipe", "EOF", "no route to host"} {
		if strings.Contains(strings.ToLower(msg), strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Close releases background resources (the rate limiter's cleanup loop).
func (c *Controller) Close() {
	c.Limiter.Close()
}

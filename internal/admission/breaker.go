package admission

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures one named circuit breaker (spec.md §4.4).
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive expected-errors before tripping, default 5
	ResetTimeout     time.Duration // open -> half-open delay, default 60s
	RecoverSuccesses uint32        // half-open -> closed, default 3
	ExpectedError    func(error) bool
}

// DefaultBreakerConfig matches spec.md §4.4's defaults. expected classifies
// which errors count toward the failure threshold (connection refused,
// timeout, 5xx-equivalent); all other errors are returned to the caller and
// are recorded by the breaker as successes, so they never count toward
// tripping it.
func DefaultBreakerConfig(expected func(error) bool) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		RecoverSuccesses: 3,
		ExpectedError:    expected,
	}
}

// Breaker wraps one external dependency's circuit breaker state machine.
type Breaker struct {
	name string
	cfg  BreakerConfig
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker constructs a named breaker: closed (normal), open (reject
// immediately), half-open (probe), per spec.md §4.4's transition rules.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.RecoverSuccesses,
		Interval:    0, // counts never reset while closed; only consecutive failures matter
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{name: name, cfg: cfg, cb: gobreaker.NewCircuitBreaker(settings)}
}

// ErrCircuitOpen is returned by Call when the breaker is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// Call executes fn through the breaker. Only errors matching the breaker's
// ExpectedError predicate count toward the failure threshold; any other
// error from fn is returned to the caller without tripping the breaker.
func (b *Breaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	var unexpected error
	result, err := b.cb.Execute(func() (interface{}, error) {
		res, ferr := fn()
		if ferr == nil {
			return res, nil
		}
		if b.cfg.ExpectedError != nil && !b.cfg.ExpectedError(ferr) {
			unexpected = ferr
			return res, nil // don't count against the breaker
		}
		return res, ferr
	})
	if unexpected != nil {
		return result, unexpected
	}
	return result, err
}

// State reports the breaker's current state as one of closed/open/half-open.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Counts exposes the breaker's current failure/success counters for C9.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

// Registry holds one Breaker per named external dependency.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	factory  func(name string) BreakerConfig
}

// NewRegistry constructs a Registry; factory supplies the config for a
// newly-seen dependency name.
func NewRegistry(factory func(name string) BreakerConfig) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), factory: factory}
}

// Get returns the named breaker, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.factory(name))
	r.breakers[name] = b
	return b
}

// All returns every breaker currently registered, for health reporting.
func (r *Registry) All() map[string]*Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

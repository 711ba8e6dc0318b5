package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the per-identity token bucket.
type RateLimiterConfig struct {
	Points        int           // tokens per window, default 100
	Window        time.Duration // refill window, default 60s
	BlockDuration time.Duration // how long a caller stays blocked after exhaustion, default 300s
}

// DefaultRateLimiterConfig matches spec.md §4.4's defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Points: 100, Window: 60 * time.Second, BlockDuration: 300 * time.Second}
}

type callerState struct {
	limiter   *rate.Limiter
	blockedAt time.Time // zero if not currently blocked
	lastSeen  time.Time
}

// RateLimiter is a token-bucket limiter keyed by caller identity, adapted
// from the teacher's per-IP limiter shape but generalized to any identity
// string and given an explicit post-exhaustion block window.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu       sync.Mutex
	states   map[string]*callerState
	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter constructs a RateLimiter and starts its idle-entry cleanup
// goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		cfg:    cfg,
		states: make(map[string]*callerState),
		stop:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Consume attempts to consume cost tokens for identity. It returns ok=true
// when the request is admitted, or ok=false plus the remaining block
// duration when the caller is currently blocked or has just exhausted its
// bucket.
func (rl *RateLimiter) Consume(identity string, cost int) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	st, exists := rl.states[identity]
	if !exists {
		limit := rate.Limit(float64(rl.cfg.Points) / rl.cfg.Window.Seconds())
		st = &callerState{limiter: rate.NewLimiter(limit, rl.cfg.Points)}
		rl.states[identity] = st
	}
	st.lastSeen = now

	if !st.blockedAt.IsZero() {
		elapsed := now.Sub(st.blockedAt)
		if elapsed < rl.cfg.BlockDuration {
			return false, rl.cfg.BlockDuration - elapsed
		}
		st.blockedAt = time.Time{}
	}

	if st.limiter.AllowN(now, cost) {
		return true, 0
	}

	st.blockedAt = now
	return false, rl.cfg.BlockDuration
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for id, st := range rl.states {
				if st.lastSeen.Before(cutoff) {
					delete(rl.states, id)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

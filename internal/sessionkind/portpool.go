// Package sessionkind implements the specializations of C8: the execution
// session (workspace only), the web-IDE session (workspace plus a bound
// TCP port and helper process), and the browser-automation session
// (workspace plus a best-effort toolkit install; no driver process is
// spawned).
package sessionkind

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	portRangeLow  = 8080
	portRangeHigh = 9999
	portCooldown  = 30 * time.Second
)

// PortPool is a bitmap of in-use ports in [portRangeLow, portRangeHigh],
// plus a deferred-release cooldown so a freed port isn't reissued before
// TIME_WAIT has a chance to clear. Adapted from
// internal/preview/container_preview.go's assignContainerPort, augmented
// with the cooldown the teacher's version lacks.
type PortPool struct {
	mu        sync.Mutex
	inUse     map[int]bool
	cooldown  map[int]time.Time // port -> time it becomes eligible again
	rng       *rand.Rand
}

// NewPortPool constructs an empty pool over the fixed range.
func NewPortPool() *PortPool {
	return &PortPool{
		inUse:    make(map[int]bool),
		cooldown: make(map[int]time.Time),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire returns a free port, validating availability at acquire time
// (not relying on any background timer for correctness). Exhaustion falls
// back to an offset + random choice within the range.
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for port := portRangeLow; port <= portRangeHigh; port++ {
		if p.available(port, now) {
			p.inUse[port] = true
			delete(p.cooldown, port)
			return port, nil
		}
	}

	// Exhaustion fallback: random offset scan.
	span := portRangeHigh - portRangeLow + 1
	start := portRangeLow + p.rng.Intn(span)
	for i := 0; i < span; i++ {
		port := portRangeLow + (start-portRangeLow+i)%span
		if p.available(port, now) {
			p.inUse[port] = true
			delete(p.cooldown, port)
			return port, nil
		}
	}
	return 0, fmt.Errorf("port pool exhausted")
}

func (p *PortPool) available(port int, now time.Time) bool {
	if p.inUse[port] {
		return false
	}
	if until, ok := p.cooldown[port]; ok && now.Before(until) {
		return false
	}
	return true
}

// Release marks port free after portCooldown elapses, avoiding immediate
// reissue while the OS still has it in TIME_WAIT.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
	p.cooldown[port] = time.Now().Add(portCooldown)
}

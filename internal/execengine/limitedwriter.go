package execengine

import (
	"io"
	"sync"
)

// limitedWriter caps how many bytes are retained from w, silently
// discarding (but still accepting) anything past limit. onExceed, if set,
// fires exactly once the first time the limit is crossed, so callers can
// abort the run rather than merely truncate, adapted from
// internal/execution/sandbox.go's limitedWriter.
type limitedWriter struct {
	w        io.Writer
	limit    int64
	onExceed func()

	mu       sync.Mutex
	written  int64
	fired    bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.written >= lw.limit {
		lw.written += int64(len(p))
		lw.maybeFireLocked()
		return len(p), nil
	}
	remaining := lw.limit - lw.written
	if int64(len(p)) > remaining {
		n, err := lw.w.Write(p[:remaining])
		lw.written += int64(len(p))
		lw.maybeFireLocked()
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	return n, err
}

func (lw *limitedWriter) maybeFireLocked() {
	if lw.fired || lw.written <= lw.limit {
		return
	}
	lw.fired = true
	if lw.onExceed != nil {
		go lw.onExceed()
	}
}

// Overflowed reports whether more bytes were offered than the limit allows.
func (lw *limitedWriter) Overflowed() bool {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.written > lw.limit
}

package sessionkind

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"sessionbroker/internal/logging"
)

// helperProc tracks one running web-IDE helper process.
type helperProc struct {
	cmd  *exec.Cmd
	ptmx *os.File
	port int
}

// HelperSupervisor starts and reaps the external web-IDE helper programs
// that back vscode sessions, each bound to a port from the PortPool.
// PTY-backed so the helper behaves as it would attached to an interactive
// terminal (line-buffering, signal handling). Adapted from
// internal/terminal/multiplexer.go's pty.StartWithSize-based process
// supervision, trimmed to one helper per session with no client
// broadcast (the helper serves its own HTTP endpoint directly).
type HelperSupervisor struct {
	mu      sync.Mutex
	running map[string]*helperProc
}

// NewHelperSupervisor constructs an empty supervisor.
func NewHelperSupervisor() *HelperSupervisor {
	return &HelperSupervisor{running: make(map[string]*helperProc)}
}

// Start spawns command bound to host:port with workDir as its serving
// root. The process is tracked under sessionID for later Stop/StopAll.
func (h *HelperSupervisor) Start(sessionID, command, workDir, host string, port int) error {
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("web-ide helper not available: %w", err)
	}

	bindHost := host
	if bindHost == "" {
		bindHost = "0.0.0.0"
	}

	cmd := exec.Command(command,
		"--bind-addr", fmt.Sprintf("%s:%d", bindHost, port),
		"--user-data-dir", workDir,
		"--auth", "none",
	)
	cmd.Dir = workDir
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start web-ide helper: %w", err)
	}

	h.mu.Lock()
	h.running[sessionID] = &helperProc{cmd: cmd, ptmx: ptmx, port: port}
	h.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			logging.S().Infow("web-ide helper exited", "session_id", sessionID, "error", err)
		}
		_ = ptmx.Close()
	}()

	return nil
}

// Stop terminates the helper for sessionID, if any, and returns its port.
func (h *HelperSupervisor) Stop(sessionID string) (int, bool) {
	h.mu.Lock()
	proc, ok := h.running[sessionID]
	if ok {
		delete(h.running, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return 0, false
	}
	_ = proc.ptmx.Close()
	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Kill()
	}
	return proc.port, true
}

// StopAll terminates every tracked helper and returns sessionID -> port
// for the caller to release back into the PortPool.
func (h *HelperSupervisor) StopAll() map[string]int {
	h.mu.Lock()
	ids := make([]string, 0, len(h.running))
	for id := range h.running {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	ports := make(map[string]int, len(ids))
	for _, id := range ids {
		if port, ok := h.Stop(id); ok {
			ports[id] = port
		}
	}
	return ports
}

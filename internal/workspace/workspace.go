// Package workspace provisions per-language base workspaces and per-session
// workspace directories (C2).
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sessionbroker/internal/langregistry"
	"sessionbroker/internal/logging"
)

// Skeleton describes how to idempotently populate a language's base
// workspace. Subdirectories mirror spec.md §6's persisted-state layout
// (bin/, src/, build/, gopath/, .cargo/, node_modules/, lib/, include/).
type Skeleton struct {
	Dirs []string
}

var skeletons = map[string]Skeleton{
	"python":     {Dirs: []string{"bin", "lib", "src"}},
	"javascript": {Dirs: []string{"node_modules", "src"}},
	"typescript": {Dirs: []string{"node_modules", "src"}},
	"java":       {Dirs: []string{"build", "src"}},
	"c":          {Dirs: []string{"build", "include", "src"}},
	"cpp":        {Dirs: []string{"build", "include", "src"}},
	"csharp":     {Dirs: []string{"build", "src"}},
	"rust":       {Dirs: []string{".cargo", "build", "src"}},
	"go":         {Dirs: []string{"gopath", "src"}},
	"php":        {Dirs: []string{"lib", "src"}},
	"perl":       {Dirs: []string{"lib", "src"}},
	"ruby":       {Dirs: []string{"lib", "src"}},
	"lua":        {Dirs: []string{"lib", "src"}},
	"swift":      {Dirs: []string{"build", "src"}},
	"objc":       {Dirs: []string{"build", "src"}},
}

// Provisioner owns creation and teardown of base and session workspaces.
type Provisioner struct {
	root string // <root>, holding sessions/ and venvs/

	mu       sync.RWMutex
	degraded map[string]bool // language id -> true if base workspace provisioning failed

	installSem chan struct{} // bounds concurrent package installs, default 3
}

// New creates a Provisioner rooted at root.
func New(root string) *Provisioner {
	return &Provisioner{
		root:       root,
		degraded:   make(map[string]bool),
		installSem: make(chan struct{}, 3),
	}
}

func (p *Provisioner) sessionsRoot() string { return filepath.Join(p.root, "sessions") }
func (p *Provisioner) venvsRoot() string    { return filepath.Join(p.root, "venvs") }

// BaseWorkspace returns the path of a language's base workspace, whether or
// not it exists (callers check Degraded first).
func (p *Provisioner) BaseWorkspace(languageID string) string {
	return filepath.Join(p.venvsRoot(), languageID)
}

// Degraded reports whether languageID's base workspace failed to provision.
func (p *Provisioner) Degraded(languageID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.degraded[languageID]
}

// EnsureBaseWorkspaces idempotently provisions every registered language's
// base workspace, with a concurrency cap (default 3). A failure for one
// language marks it degraded rather than aborting startup.
func (p *Provisioner) EnsureBaseWorkspaces(ctx context.Context) {
	langs := langregistry.All()
	var wg sync.WaitGroup
	for _, d := range langs {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case p.installSem <- struct{}{}:
			case <-ctx.Done():
				p.markDegraded(d.ID, ctx.Err())
				return
			}
			defer func() { <-p.installSem }()
			if err := p.ensureOne(ctx, d); err != nil {
				p.markDegraded(d.ID, err)
			}
		}()
	}
	wg.Wait()
}

func (p *Provisioner) markDegraded(languageID string, err error) {
	logging.S().Warnw("base workspace degraded", "language", languageID, "error", err)
	p.mu.Lock()
	p.degraded[languageID] = true
	p.mu.Unlock()
}

func (p *Provisioner) ensureOne(ctx context.Context, d langregistry.Descriptor) error {
	base := p.BaseWorkspace(d.ID)
	skel := skeletons[d.ID]
	for _, dir := range skel.Dirs {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	installArgv := installArgvFor(d, base)
	if len(installArgv) == 0 {
		return nil
	}
	if _, err := exec.LookPath(installArgv[0]); err != nil {
		logging.S().Warnw("default package installer unavailable, skipping", "language", d.ID, "installer", installArgv[0])
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(cctx, installArgv[0], installArgv[1:]...)
	cmd.Dir = base
	if out, err := cmd.CombinedOutput(); err != nil {
		// Default packages are an enhancement, not a workspace-availability
		// requirement: log and continue rather than degrading the language.
		logging.S().Warnw("default package install failed", "language", d.ID, "error", err, "output", strings.TrimSpace(string(out)))
	}
	return nil
}

// installArgvFor returns the package-manager invocation that installs d's
// DefaultPackages into base, or nil if d has none or no known installer.
func installArgvFor(d langregistry.Descriptor, base string) []string {
	if len(d.DefaultPackages) == 0 {
		return nil
	}
	switch d.ID {
	case "python":
		argv := []string{"pip3", "install", "--target", filepath.Join(base, "lib")}
		return append(argv, d.DefaultPackages...)
	case "javascript", "typescript":
		argv := []string{"npm", "install"}
		return append(argv, d.DefaultPackages...)
	default:
		return nil
	}
}

// NewSessionWorkspace creates a fresh directory for sessionID under the
// sessions root and returns its path.
func (p *Provisioner) NewSessionWorkspace(sessionID string) (string, error) {
	dir := filepath.Join(p.sessionsRoot(), sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session workspace: %w", err)
	}
	return dir, nil
}

// DestroySessionWorkspace recursively removes a session's workspace.
// Errors are logged, not surfaced, per spec.md §4.2.
func (p *Provisioner) DestroySessionWorkspace(sessionID string) {
	dir := filepath.Join(p.sessionsRoot(), sessionID)
	if err := os.RemoveAll(dir); err != nil {
		logging.S().Warnw("failed to remove session workspace", "session_id", sessionID, "error", err)
	}
}

// SweepStaleWorkspaces removes session directories whose modification time
// is older than maxAge. Called at startup and periodically.
func (p *Provisioner) SweepStaleWorkspaces(maxAge time.Duration) {
	root := p.sessionsRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			p.DestroySessionWorkspace(e.Name())
		}
	}
}

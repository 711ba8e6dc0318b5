package sessionkind

import (
	"context"
	"fmt"
	"os/exec"

	"sessionbroker/internal/logging"
	"sessionbroker/internal/session"
	"sessionbroker/internal/workspace"
)

// Kinds orchestrates the three session specializations on top of the
// Session Manager (C6) and Workspace Provisioner (C2).
type Kinds struct {
	sessions *session.Manager
	ws       *workspace.Provisioner
	ports    *PortPool
	helpers  *HelperSupervisor

	webIDEHost    string
	helperCommand string // argv[0] of the web-IDE helper program
}

// New constructs Kinds. helperCommand is the external web-IDE helper
// binary's path; if empty, web-IDE sessions are created workspace-only
// with no endpoint, per spec.md §4.8.
func New(sessions *session.Manager, ws *workspace.Provisioner, webIDEHost, helperCommand string) *Kinds {
	return &Kinds{
		sessions:      sessions,
		ws:            ws,
		ports:         NewPortPool(),
		helpers:       NewHelperSupervisor(),
		webIDEHost:    webIDEHost,
		helperCommand: helperCommand,
	}
}

// CreateExecutionSession provisions a workspace-only session reused across
// repeated execute_code calls.
func (k *Kinds) CreateExecutionSession(ctx context.Context, language, memory, ownerClientID string) (*session.Session, error) {
	sess, err := k.sessions.CreateSession(ctx, session.TypeExecution, language, memory, ownerClientID)
	if err != nil {
		return nil, err
	}
	dir, err := k.ws.NewSessionWorkspace(sess.ID)
	if err != nil {
		_ = k.sessions.UpdateStatus(ctx, sess.ID, session.StatusError)
		return nil, err
	}
	if err := k.sessions.SetWorkspace(ctx, sess.ID, dir); err != nil {
		return nil, err
	}
	if err := k.sessions.UpdateStatus(ctx, sess.ID, session.StatusRunning); err != nil {
		return nil, err
	}
	return k.sessions.Get(ctx, sess.ID)
}

// DestroyTransient tears down a session regardless of kind: it is used both
// when execute_code is called without a session id (the caller creates,
// uses, then destroys a session around one call) and by manage_sessions'
// destroy action. A vscode session's web-IDE helper is stopped and its port
// released back into the PortPool; Close is the only other place this
// happens, for helpers still running at process shutdown.
func (k *Kinds) DestroyTransient(ctx context.Context, sessionID string) {
	if port, ok := k.helpers.Stop(sessionID); ok {
		k.ports.Release(port)
	}
	k.sessions.DestroySession(ctx, sessionID)
	k.ws.DestroySessionWorkspace(sessionID)
}

// CreateVSCodeSession provisions a workspace, allocates a port, and spawns
// the web-IDE helper bound to it. If the helper is unavailable, the
// session is still created, workspace-only, with the endpoint unset.
func (k *Kinds) CreateVSCodeSession(ctx context.Context, language, template, memory, ownerClientID string) (*session.Session, error) {
	sess, err := k.sessions.CreateSession(ctx, session.TypeVSCode, language, memory, ownerClientID)
	if err != nil {
		return nil, err
	}
	dir, err := k.ws.NewSessionWorkspace(sess.ID)
	if err != nil {
		_ = k.sessions.UpdateStatus(ctx, sess.ID, session.StatusError)
		return nil, err
	}
	if err := k.sessions.SetWorkspace(ctx, sess.ID, dir); err != nil {
		return nil, err
	}

	if k.helperCommand != "" {
		port, err := k.ports.Acquire()
		if err != nil {
			logging.Session(sess.ID, language, ownerClientID).Warnw("port pool exhausted, vscode session is workspace-only", "error", err)
		} else if err := k.helpers.Start(sess.ID, k.helperCommand, dir, k.webIDEHost, port); err != nil {
			logging.Session(sess.ID, language, ownerClientID).Warnw("web-ide helper failed to start, session is workspace-only", "error", err)
			k.ports.Release(port)
		} else {
			endpoint := fmt.Sprintf("http://%s:%d", hostForURL(k.webIDEHost), port)
			if err := k.sessions.SetEndpoints(ctx, sess.ID, map[string]string{"vscode": endpoint}); err != nil {
				return nil, err
			}
		}
	}

	if err := k.sessions.UpdateStatus(ctx, sess.ID, session.StatusRunning); err != nil {
		return nil, err
	}
	return k.sessions.Get(ctx, sess.ID)
}

// CreatePlaywrightSession provisions a workspace and performs best-effort
// installation of the browser-automation toolkit and its driver bundle,
// per spec.md §4.8, and records the contextId, pageURL, and browser
// endpoints. It spawns no driver process and performs no in-process
// browser automation.
func (k *Kinds) CreatePlaywrightSession(ctx context.Context, browser string, memory, ownerClientID string) (*session.Session, error) {
	sess, err := k.sessions.CreateSession(ctx, session.TypePlaywright, "", memory, ownerClientID)
	if err != nil {
		return nil, err
	}
	dir, err := k.ws.NewSessionWorkspace(sess.ID)
	if err != nil {
		_ = k.sessions.UpdateStatus(ctx, sess.ID, session.StatusError)
		return nil, err
	}
	if err := k.sessions.SetWorkspace(ctx, sess.ID, dir); err != nil {
		return nil, err
	}

	installPlaywrightToolkit(ctx, dir, browser)

	if err := k.sessions.SetEndpoints(ctx, sess.ID, map[string]string{
		"contextId": sess.ID,
		"pageURL":   "about:blank",
		"browser":   browser,
	}); err != nil {
		return nil, err
	}
	if err := k.sessions.UpdateStatus(ctx, sess.ID, session.StatusRunning); err != nil {
		return nil, err
	}
	return k.sessions.Get(ctx, sess.ID)
}

// Close stops every running web-IDE helper and releases its port.
func (k *Kinds) Close() {
	for sessionID, port := range k.helpers.StopAll() {
		_ = sessionID
		k.ports.Release(port)
	}
}

func hostForURL(bindHost string) string {
	if bindHost == "0.0.0.0" || bindHost == "" {
		return "localhost"
	}
	return bindHost
}

func installPlaywrightToolkit(ctx context.Context, workDir, browser string) {
	cmd := exec.CommandContext(ctx, "npm", "install", "playwright")
	cmd.Dir = workDir
	if err := cmd.Run(); err != nil {
		logging.S().Warnw("best-effort playwright install failed", "error", err)
		return
	}
	driverCmd := exec.CommandContext(ctx, "npx", "playwright", "install", browser)
	driverCmd.Dir = workDir
	if err := driverCmd.Run(); err != nil {
		logging.S().Warnw("best-effort browser driver install failed", "browser", browser, "error", err)
	}
}

package sessionkind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbroker/internal/admission"
	"sessionbroker/internal/session"
	"sessionbroker/internal/store"
	"sessionbroker/internal/workspace"
)

func newTestKinds(t *testing.T, helperCommand string) (*Kinds, *session.Manager) {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root)
	st := store.New(nil, admission.NewRegistry(func(name string) admission.BreakerConfig {
		return admission.DefaultBreakerConfig(admission.IsTransientError)
	}))
	sm := session.New(st, 0)
	return New(sm, ws, "0.0.0.0", helperCommand), sm
}

func TestCreateExecutionSessionIsRunning(t *testing.T) {
	k, _ := newTestKinds(t, "")
	sess, err := k.CreateExecutionSession(context.Background(), "python", "", "client-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, sess.Status)
	assert.NotEmpty(t, sess.WorkspaceDir)
}

func TestCreateVSCodeSessionWithoutHelperIsWorkspaceOnly(t *testing.T) {
	k, _ := newTestKinds(t, "")
	sess, err := k.CreateVSCodeSession(context.Background(), "python", "", "", "client-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, sess.Status)
	assert.Empty(t, sess.Endpoints["vscode"])
}

func TestCreateVSCodeSessionWithUnavailableHelperFallsBack(t *testing.T) {
	k, _ := newTestKinds(t, "definitely-not-a-real-binary-xyz")
	sess, err := k.CreateVSCodeSession(context.Background(), "python", "", "", "client-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, sess.Status)
	assert.Empty(t, sess.Endpoints["vscode"])
}

func TestCreatePlaywrightSessionSetsContextEndpoints(t *testing.T) {
	k, _ := newTestKinds(t, "")
	sess, err := k.CreatePlaywrightSession(context.Background(), "chromium", "", "client-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, sess.Status)
	assert.Equal(t, sess.ID, sess.Endpoints["contextId"])
	assert.Equal(t, "about:blank", sess.Endpoints["pageURL"])
	assert.Equal(t, "chromium", sess.Endpoints["browser"])
}

func TestDestroyTransientRemovesSession(t *testing.T) {
	k, sm := newTestKinds(t, "")
	sess, err := k.CreateExecutionSession(context.Background(), "python", "", "client-1")
	require.NoError(t, err)
	k.DestroyTransient(context.Background(), sess.ID)
	_, err = sm.Get(context.Background(), sess.ID)
	assert.Error(t, err)
}

func TestDestroyTransientStopsHelperAndReleasesPort(t *testing.T) {
	k, sm := newTestKinds(t, "cat") // stands in for a real web-ide helper binary
	sess, err := k.CreateVSCodeSession(context.Background(), "python", "", "", "client-1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Endpoints["vscode"])

	k.ports.mu.Lock()
	inUseBefore := len(k.ports.inUse)
	k.ports.mu.Unlock()
	require.Equal(t, 1, inUseBefore)

	k.DestroyTransient(context.Background(), sess.ID)

	k.ports.mu.Lock()
	inUseAfter := len(k.ports.inUse)
	k.ports.mu.Unlock()
	assert.Equal(t, 0, inUseAfter)

	_, err = sm.Get(context.Background(), sess.ID)
	assert.Error(t, err)
}

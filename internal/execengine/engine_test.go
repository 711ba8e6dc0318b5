package execengine

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"sessionbroker/internal/admission"
	"sessionbroker/internal/metrics"
	"sessionbroker/internal/session"
	"sessionbroker/internal/store"
	"sessionbroker/internal/workspace"
)

func newTestEngine(t *testing.T) (*Engine, *session.Manager, *workspace.Provisioner) {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root)

	st := store.New(nil, admission.NewRegistry(func(name string) admission.BreakerConfig {
		return admission.DefaultBreakerConfig(admission.IsTransientError)
	}))
	sm := session.New(st, 0)
	return New(sm, ws, 10, nil), sm, ws
}

func mustRunningSession(t *testing.T, sm *session.Manager, ws *workspace.Provisioner, language string) string {
	t.Helper()
	ctx := context.Background()
	sess, err := sm.CreateSession(ctx, session.TypeExecution, language, "", "client-1")
	require.NoError(t, err)

	dir, err := ws.NewSessionWorkspace(sess.ID)
	require.NoError(t, err)
	require.NoError(t, sm.SetWorkspace(ctx, sess.ID, dir))

	require.NoError(t, sm.UpdateStatus(ctx, sess.ID, session.StatusRunning))
	return sess.ID
}

func TestExecutePythonHelloWorld(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	engine, sm, ws := newTestEngine(t)
	id := mustRunningSession(t, sm, ws, "python")

	result, err := engine.Execute(context.Background(), Request{
		SessionID: id,
		Language:  "python",
		Code:      "print('Hello from Python!')",
		TimeoutMs: 5000,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "Hello from Python!")
	assert.Equal(t, 0, result.ExitCode)
	assert.Greater(t, result.WallTimeMs, int64(-1))
}

func TestExecuteTimeout(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	engine, sm, ws := newTestEngine(t)
	id := mustRunningSession(t, sm, ws, "python")

	start := time.Now()
	result, err := engine.Execute(context.Background(), Request{
		SessionID: id,
		Language:  "python",
		Code:      "while True: pass",
		TimeoutMs: 1000,
	})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, 124, result.ExitCode)
	assert.Less(t, elapsed, 1000*time.Millisecond+killGrace+2*time.Second)
}

func TestExecuteRecordsExecutionMetric(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	engine, sm, ws := newTestEngine(t)
	id := mustRunningSession(t, sm, ws, "python")

	before := testutil.ToFloat64(metrics.Get().ExecutionsTotal.WithLabelValues("python", "ok"))
	_, err := engine.Execute(context.Background(), Request{SessionID: id, Language: "python", Code: "1", TimeoutMs: 5000})
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Get().ExecutionsTotal.WithLabelValues("python", "ok")))
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	engine, sm, ws := newTestEngine(t)
	id := mustRunningSession(t, sm, ws, "python")

	_, err := engine.Execute(context.Background(), Request{SessionID: id, Language: "cobol", Code: "x"})
	require.Error(t, err)
}

func TestExecuteMissingSession(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Execute(context.Background(), Request{SessionID: "does-not-exist", Language: "python", Code: "x"})
	require.Error(t, err)
}

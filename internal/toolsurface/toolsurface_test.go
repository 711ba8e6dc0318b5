package toolsurface

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbroker/internal/admission"
	"sessionbroker/internal/execengine"
	"sessionbroker/internal/health"
	"sessionbroker/internal/policy"
	"sessionbroker/internal/session"
	"sessionbroker/internal/sessionkind"
	"sessionbroker/internal/store"
	"sessionbroker/internal/workspace"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	return newTestAdapterWithKey(t, "")
}

func newTestAdapterWithKey(t *testing.T, sharedKey string) *Adapter {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root)
	breakers := admission.NewRegistry(func(name string) admission.BreakerConfig {
		return admission.DefaultBreakerConfig(admission.IsTransientError)
	})
	st := store.New(nil, breakers)
	sm := session.New(st, 0)
	kinds := sessionkind.New(sm, ws, "0.0.0.0", "")
	engine := execengine.New(sm, ws, 10, nil)
	screener := policy.New()
	ac := admission.New()
	reporter := health.New(sm, ws, breakers, []string{"python"})

	return New(sm, kinds, engine, screener, ac, reporter, sharedKey)
}

func TestExecuteCodeRejectsUnsupportedLanguage(t *testing.T) {
	a := newTestAdapter(t)
	result := a.ExecuteCode(context.Background(), "", "client-1", ExecuteCodeArgs{Language: "cobol", Code: "x"})
	assert.True(t, result.IsError)
}

func TestExecuteCodeRejectsPolicyViolation(t *testing.T) {
	a := newTestAdapter(t)
	result := a.ExecuteCode(context.Background(), "", "client-1", ExecuteCodeArgs{
		Language: "python",
		Code:     "import os\nos.system('rm -rf /')",
	})
	assert.True(t, result.IsError)
}

func TestExecuteCodeRejectsBadTimeout(t *testing.T) {
	a := newTestAdapter(t)
	result := a.ExecuteCode(context.Background(), "", "client-1", ExecuteCodeArgs{Language: "python", Code: "1", TimeoutMs: 50})
	assert.True(t, result.IsError)
}

func TestCreateVSCodeSessionRejectsInvalidTemplate(t *testing.T) {
	a := newTestAdapter(t)
	result := a.CreateVSCodeSession(context.Background(), "", "client-1", CreateVSCodeSessionArgs{Template: "not-a-template"})
	assert.True(t, result.IsError)
}

func TestCreateVSCodeSessionSucceeds(t *testing.T) {
	a := newTestAdapter(t)
	result := a.CreateVSCodeSession(context.Background(), "", "client-1", CreateVSCodeSessionArgs{Language: "python", Template: "basic", Memory: "2g"})
	require.False(t, result.IsError)
	assert.Equal(t, "running", result.Fields["status"])
}

func TestCreatePlaywrightSessionDefaultsToChromium(t *testing.T) {
	a := newTestAdapter(t)
	result := a.CreatePlaywrightSession(context.Background(), "", "client-1", CreatePlaywrightSessionArgs{})
	require.False(t, result.IsError)
	assert.Equal(t, "chromium", result.Fields["browser"])
}

func TestCreatePlaywrightSessionRejectsViewport(t *testing.T) {
	a := newTestAdapter(t)
	result := a.CreatePlaywrightSession(context.Background(), "", "client-1", CreatePlaywrightSessionArgs{Width: 10})
	assert.True(t, result.IsError)
}

func TestManageSessionsListGetDestroy(t *testing.T) {
	a := newTestAdapter(t)
	created := a.CreateVSCodeSession(context.Background(), "", "client-1", CreateVSCodeSessionArgs{Language: "python"})
	require.False(t, created.IsError)
	sessionID := created.Fields["sessionId"].(string)

	list := a.ManageSessions(context.Background(), "", "client-1", ManageSessionsArgs{Action: "list"})
	assert.False(t, list.IsError)
	assert.Equal(t, 1, list.Fields["count"])

	get := a.ManageSessions(context.Background(), "", "client-1", ManageSessionsArgs{Action: "get", SessionID: sessionID})
	assert.False(t, get.IsError)

	destroy := a.ManageSessions(context.Background(), "", "client-1", ManageSessionsArgs{Action: "destroy", SessionID: sessionID})
	assert.False(t, destroy.IsError)

	getAfterDestroy := a.ManageSessions(context.Background(), "", "client-1", ManageSessionsArgs{Action: "get", SessionID: sessionID})
	assert.True(t, getAfterDestroy.IsError)
}

func TestManageSessionsRejectsUnknownAction(t *testing.T) {
	a := newTestAdapter(t)
	result := a.ManageSessions(context.Background(), "", "client-1", ManageSessionsArgs{Action: "reboot"})
	assert.True(t, result.IsError)
}

func TestSystemHealthReportsOverallStatus(t *testing.T) {
	a := newTestAdapter(t)
	result := a.SystemHealth(context.Background(), "", SystemHealthArgs{Detailed: true})
	assert.False(t, result.IsError)
	assert.Contains(t, result.Fields, "overall")
}

func TestSystemHealthRejectsWrongSharedKey(t *testing.T) {
	a := newTestAdapterWithKey(t, "correct-horse-battery-staple")
	result := a.SystemHealth(context.Background(), "wrong-key", SystemHealthArgs{})
	assert.True(t, result.IsError)
}

func TestSystemHealthAcceptsCorrectSharedKey(t *testing.T) {
	a := newTestAdapterWithKey(t, "correct-horse-battery-staple")
	result := a.SystemHealth(context.Background(), "correct-horse-battery-staple", SystemHealthArgs{})
	assert.False(t, result.IsError)
}

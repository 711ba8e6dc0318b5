package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbroker/internal/langregistry"
)

func TestEnsureBaseWorkspaces(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	p.EnsureBaseWorkspaces(context.Background())

	assert.False(t, p.Degraded("python"))
	base := p.BaseWorkspace("python")
	_, err := os.Stat(filepath.Join(base, "src"))
	assert.NoError(t, err)
}

func TestInstallArgvForPythonUsesDefaultPackages(t *testing.T) {
	d, ok := langregistry.Lookup("python")
	require.True(t, ok)
	argv := installArgvFor(d, "/base")
	assert.Equal(t, []string{"pip3", "install", "--target", filepath.Join("/base", "lib"), "requests", "numpy"}, argv)
}

func TestInstallArgvForLanguageWithoutDefaultPackagesIsNil(t *testing.T) {
	d, ok := langregistry.Lookup("go")
	require.True(t, ok)
	assert.Nil(t, installArgvFor(d, "/base"))
}

func TestEnsureOneRunsInstallForPython(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	d, ok := langregistry.Lookup("python")
	require.True(t, ok)

	err := p.ensureOne(context.Background(), d)
	require.NoError(t, err)

	// Default-package install is best-effort: it must not degrade the
	// workspace even when pip3 is unavailable or has no network access.
	_, statErr := os.Stat(filepath.Join(p.BaseWorkspace("python"), "lib"))
	assert.NoError(t, statErr)
}

func TestSessionWorkspaceLifecycle(t *testing.T) {
	root := t.TempDir()
	p := New(root)

	dir, err := p.NewSessionWorkspace("abc123")
	require.NoError(t, err)
	_, err = os.Stat(dir)
	require.NoError(t, err)

	p.DestroySessionWorkspace("abc123")
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepStaleWorkspaces(t *testing.T) {
	root := t.TempDir()
	p := New(root)

	dir, err := p.NewSessionWorkspace("stale")
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(dir, old, old))

	fresh, err := p.NewSessionWorkspace("fresh")
	require.NoError(t, err)

	p.SweepStaleWorkspaces(24 * time.Hour)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

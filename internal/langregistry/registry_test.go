package langregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCanonical(t *testing.T) {
	d, ok := Lookup("python")
	require.True(t, ok)
	assert.Equal(t, ".py", d.Suffix)
}

func TestLookupAlias(t *testing.T) {
	d, ok := Lookup("py")
	require.True(t, ok)
	assert.Equal(t, "python", d.ID)
}

func TestLookupMissing(t *testing.T) {
	_, ok := Lookup("cobol")
	assert.False(t, ok)
}

func TestAllFixedSet(t *testing.T) {
	all := All()
	assert.Len(t, all, 15)
	seen := map[string]bool{}
	for _, d := range all {
		seen[d.ID] = true
	}
	for _, id := range []string{"python", "javascript", "typescript", "java", "c", "cpp", "csharp", "rust", "go", "php", "perl", "ruby", "lua", "swift", "objc"} {
		assert.True(t, seen[id], "expected %s in registry", id)
	}
}

func TestCompiledLanguages(t *testing.T) {
	d, _ := Lookup("java")
	assert.True(t, d.Compiled())
	d, _ = Lookup("python")
	assert.False(t, d.Compiled())
}

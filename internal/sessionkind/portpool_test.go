package sessionkind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDistinctPorts(t *testing.T) {
	p := NewPortPool()
	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, a, portRangeLow)
	assert.LessOrEqual(t, a, portRangeHigh)
}

func TestReleaseAppliesCooldown(t *testing.T) {
	p := NewPortPool()
	port, err := p.Acquire()
	require.NoError(t, err)
	p.Release(port)

	for i := 0; i < (portRangeHigh - portRangeLow); i++ {
		other, err := p.Acquire()
		require.NoError(t, err)
		assert.NotEqual(t, port, other, "released port must not be reissued before cooldown elapses")
	}
}

func TestConcurrentAcquireNoDuplicates(t *testing.T) {
	p := NewPortPool()
	n := 50
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		go func() {
			port, err := p.Acquire()
			require.NoError(t, err)
			results <- port
		}()
	}
	seen := map[int]bool{}
	for i := 0; i < n; i++ {
		port := <-results
		assert.False(t, seen[port], "port %d acquired twice concurrently", port)
		seen[port] = true
	}
}

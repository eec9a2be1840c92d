package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterSet_CapacityBoundary(t *testing.T) {
	const capacity = 5
	l := newLimiterSet(capacity)
	for i := 0; i < capacity; i++ {
		assert.True(t, l.Allow("client-a"), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("client-a"), "request beyond capacity should be denied")
}

func TestLimiterSet_PerClientIsolation(t *testing.T) {
	l := newLimiterSet(1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "a different client identity must have its own bucket")
}

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry(t *testing.T) {
	registry := NewClientRegistry()
	assert.Zero(t, registry.Count())

	registry.Add(&Client{ID: "c1", SenderID: "alice"})
	registry.Add(&Client{ID: "c2", SenderID: "bob"})
	assert.Equal(t, 2, registry.Count())

	client, exists := registry.Get("c1")
	require.True(t, exists)
	assert.Equal(t, "alice", client.SenderID)

	_, exists = registry.Get("missing")
	assert.False(t, exists)

	assert.Len(t, registry.All(), 2)

	registry.Remove("c1")
	assert.Equal(t, 1, registry.Count())
	_, exists = registry.Get("c1")
	assert.False(t, exists)

	// Removing an unknown id is a no-op.
	registry.Remove("missing")
	assert.Equal(t, 1, registry.Count())
}

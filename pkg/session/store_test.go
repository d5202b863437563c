package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knollapp/knoll/pkg/reasoning"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "sessions.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsureSession(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := store.EnsureSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := store.EnsureSession(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestEnsureSessionRejectsEmptySender(t *testing.T) {
	store := newTestStore(t)

	_, err := store.EnsureSession(context.Background(), "")
	assert.Error(t, err)
}

func TestSaveTurnRoundTripPreservesOrderAndToolCalls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.EnsureSession(ctx, "alice")
	require.NoError(t, err)

	_, err = store.SaveMessage(ctx, sessionID, reasoning.UserMessage("find my notes"))
	require.NoError(t, err)

	turn := []reasoning.Message{
		{
			Role: reasoning.RoleAssistant,
			ToolCalls: []reasoning.ToolCall{
				{ID: "c1", Name: "kb_search", Arguments: `{"query":"notes"}`},
			},
		},
		reasoning.ToolMessage("c1", "Found 2 passages"),
	}
	ids, err := store.SaveTurn(ctx, sessionID, turn)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	msgs, err := store.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, reasoning.RoleUser, msgs[0].Role)
	assert.Equal(t, "find my notes", msgs[0].Content)

	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "kb_search", msgs[1].ToolCalls[0].Name)
	assert.Equal(t, `{"query":"notes"}`, msgs[1].ToolCalls[0].Arguments)

	assert.Equal(t, reasoning.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "Found 2 passages", msgs[2].Content)
}

func TestSaveTurnValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveTurn(ctx, "", []reasoning.Message{reasoning.UserMessage("x")})
	assert.Error(t, err)

	sessionID, err := store.EnsureSession(ctx, "alice")
	require.NoError(t, err)

	_, err = store.SaveTurn(ctx, sessionID, nil)
	assert.Error(t, err)
}

func TestSaveTurnIsAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.EnsureSession(ctx, "alice")
	require.NoError(t, err)

	// Reject tool-role inserts so the batch fails partway through,
	// after the assistant message has already been written.
	_, err = store.db.Exec(`
		CREATE TRIGGER reject_tool_rows BEFORE INSERT ON messages
		WHEN NEW.role = 'tool'
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	require.NoError(t, err)

	turn := []reasoning.Message{
		{
			Role: reasoning.RoleAssistant,
			ToolCalls: []reasoning.ToolCall{
				{ID: "c1", Name: "kb_search", Arguments: `{"query":"x"}`},
			},
		},
		reasoning.ToolMessage("c1", "Found 1 passage"),
	}
	_, err = store.SaveTurn(ctx, sessionID, turn)
	require.Error(t, err)

	// The rollback must leave nothing behind, not even the assistant
	// message that inserted cleanly.
	msgs, err := store.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// With the fault cleared the same turn saves in full.
	_, err = store.db.Exec("DROP TRIGGER reject_tool_rows")
	require.NoError(t, err)

	_, err = store.SaveTurn(ctx, sessionID, turn)
	require.NoError(t, err)

	msgs, err = store.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestLoadMessagesEmptySession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.EnsureSession(ctx, "alice")
	require.NoError(t, err)

	msgs, err := store.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDeleteIdleSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.EnsureSession(ctx, "alice")
	require.NoError(t, err)
	_, err = store.SaveMessage(ctx, sessionID, reasoning.UserMessage("hello"))
	require.NoError(t, err)

	// Nothing is older than a generous retention window.
	removed, err := store.DeleteIdleSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// A zero window sweeps everything, messages included via cascade.
	removed, err = store.DeleteIdleSessions(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	msgs, err := store.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCleanupStartStop(t *testing.T) {
	store := newTestStore(t)

	cleanup := NewCleanup(store, time.Hour, "@hourly", zerolog.Nop())
	require.NoError(t, cleanup.Start())
	assert.Error(t, cleanup.Start())
	cleanup.Stop()

	// Stop is safe to call twice.
	cleanup.Stop()
}

func TestCleanupRejectsBadSchedule(t *testing.T) {
	store := newTestStore(t)

	cleanup := NewCleanup(store, time.Hour, "not a schedule", zerolog.Nop())
	assert.Error(t, cleanup.Start())
}

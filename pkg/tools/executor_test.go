package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knollapp/knoll/pkg/reasoning"
)

func echoDefinition(name string) Definition {
	return Definition{
		Name:        name,
		Description: "echoes its input",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}, _ *ExecutionContext) (Result, error) {
			return Result{Content: args["text"].(string)}, nil
		},
	}
}

func TestExecuteBatchReturnsResultsInCallOrder(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "slow",
		Description: "slow tool",
		Handler: func(ctx context.Context, _ map[string]interface{}, _ *ExecutionContext) (Result, error) {
			time.Sleep(50 * time.Millisecond)
			return Result{Content: "slow done"}, nil
		},
	}))
	require.NoError(t, registry.Register(Definition{
		Name:        "fast",
		Description: "fast tool",
		Handler: func(_ context.Context, _ map[string]interface{}, _ *ExecutionContext) (Result, error) {
			return Result{Content: "fast done"}, nil
		},
	}))

	executor := NewExecutor(registry, zerolog.Nop())
	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
	}, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "slow done", results[0].Content)
	assert.Equal(t, "fast done", results[1].Content)
}

func TestExecuteUnknownTool(t *testing.T) {
	executor := NewExecutor(NewRegistry(), zerolog.Nop())

	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "nope"},
	}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, "Unknown tool: nope", results[0].Content)
}

func TestExecuteMalformedArguments(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("echo")))
	executor := NewExecutor(registry, zerolog.Nop())

	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "echo", Arguments: "{not json"},
	}, nil)

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Invalid arguments for echo")
}

func TestExecuteSchemaViolation(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("echo")))
	executor := NewExecutor(registry, zerolog.Nop())

	// Missing required "text" and carrying an unknown property.
	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "echo", Arguments: `{"bogus":1}`},
	}, nil)

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Invalid arguments for echo")
}

func TestExecuteHandlerError(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "broken",
		Description: "always fails",
		Handler: func(_ context.Context, _ map[string]interface{}, _ *ExecutionContext) (Result, error) {
			return Result{}, fmt.Errorf("boom")
		},
	}))
	executor := NewExecutor(registry, zerolog.Nop())

	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "broken"},
	}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, "Error executing broken: boom", results[0].Content)
}

func TestExecuteOneFailureDoesNotAbortBatch(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoDefinition("echo")))
	executor := NewExecutor(registry, zerolog.Nop())

	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "missing"},
		{ID: "c2", Name: "echo", Arguments: `{"text":"ok"}`},
	}, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "Unknown tool: missing", results[0].Content)
	assert.Equal(t, "ok", results[1].Content)
}

func TestExecutePassesImmediateReturnThrough(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "open",
		Description: "opens something",
		Handler: func(_ context.Context, _ map[string]interface{}, _ *ExecutionContext) (Result, error) {
			return Result{
				Content:         "Opened it",
				ImmediateReturn: &Action{Type: "open_notebook", Payload: map[string]interface{}{"notebook_id": "n1"}},
			}, nil
		},
	}))
	executor := NewExecutor(registry, zerolog.Nop())

	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "open"},
	}, nil)

	require.Len(t, results, 1)
	require.NotNil(t, results[0].ImmediateReturn)
	assert.Equal(t, "open_notebook", results[0].ImmediateReturn.Type)
}

func TestExecuteHonorsTimeout(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "hang",
		Description: "waits for its context",
		Handler: func(ctx context.Context, _ map[string]interface{}, _ *ExecutionContext) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}))
	executor := NewExecutor(registry, zerolog.Nop())

	start := time.Now()
	results := executor.ExecuteBatch(context.Background(), []reasoning.ToolCall{
		{ID: "c1", Name: "hang"},
	}, &ExecutionContext{Timeout: 20 * time.Millisecond})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Error executing hang")
	assert.Less(t, time.Since(start), 2*time.Second)
}

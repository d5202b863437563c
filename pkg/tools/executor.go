package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/knollapp/knoll/pkg/reasoning"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// Executor runs batches of tool calls against a registry. Failures are
// normalized into result content so one bad call cannot abort a batch.
type Executor struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, logger zerolog.Logger) *Executor {
	return &Executor{
		registry: registry,
		logger:   logger.With().Str("module", "tools").Logger(),
	}
}

// ExecuteBatch runs every call concurrently and returns results in the
// order the calls were issued, so the caller can zip them back to
// their originating call ids. Unknown tools, malformed JSON arguments,
// and handler errors become error-content results, never panics.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []reasoning.ToolCall, execCtx *ExecutionContext) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call reasoning.ToolCall) {
			defer wg.Done()
			results[i] = e.execute(ctx, call, execCtx)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (e *Executor) execute(ctx context.Context, call reasoning.ToolCall, execCtx *ExecutionContext) Result {
	start := time.Now()

	def := e.registry.Get(call.Name)
	if def == nil {
		e.logger.Warn().Str("tool", call.Name).Msg("Unknown tool requested")
		return Result{Content: fmt.Sprintf("Unknown tool: %s", call.Name)}
	}

	args := map[string]interface{}{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			e.logger.Warn().Str("tool", call.Name).Err(err).Msg("Malformed tool arguments")
			return Result{Content: fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err)}
		}
	}

	if err := validateArgs(e.registry.schema(call.Name), args); err != nil {
		e.logger.Warn().Str("tool", call.Name).Err(err).Msg("Argument validation failed")
		return Result{Content: fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err)}
	}

	timeout := DefaultToolTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := def.Handler(callCtx, args, execCtx)
	duration := time.Since(start)

	if err != nil {
		e.logger.Error().Str("tool", call.Name).Dur("duration", duration).Err(err).
			Msg("Tool execution failed")
		return Result{Content: fmt.Sprintf("Error executing %s: %v", call.Name, err)}
	}

	e.logger.Debug().Str("tool", call.Name).Dur("duration", duration).
		Msg("Tool execution completed")
	return result
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	outcome, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !outcome.Valid() {
		messages := []string{}
		for _, desc := range outcome.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("validation errors: %v", messages)
	}
	return nil
}

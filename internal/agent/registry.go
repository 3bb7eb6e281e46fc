package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spindlehq/spindle/pkg/models"
)

// ErrDuplicateToolID is returned when a tool is registered under an id
// that is already taken.
var ErrDuplicateToolID = errors.New("duplicate tool id")

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// Error codes carried in tool result metadata when a call fails before or
// during handler execution.
const (
	CodeToolNotFound    = "tool_not_found"
	CodeToolInvalidArgs = "tool_invalid_args"
	CodeToolTimeout     = "tool_timeout"
	CodeToolCanceled    = "tool_canceled"
	CodeToolFailed      = "tool_failed"
	CodeToolDenied      = "tool_denied"
)

type registeredTool struct {
	def     models.ToolDefinition
	handler models.ToolHandler
	schema  *jsonschema.Schema
}

// Registry manages tool definitions and handlers with thread-safe
// registration and lookup. Argument schemas are compiled once at
// registration so validation on the hot path is cheap.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]registeredTool
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewRegistry creates an empty tool registry. callTimeout bounds each
// Execute call; zero means 30 seconds.
func NewRegistry(callTimeout time.Duration, logger *slog.Logger) *Registry {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:       make(map[string]registeredTool),
		callTimeout: callTimeout,
		logger:      logger.With("component", "tools"),
	}
}

// Register adds a tool under its definition id. Registration fails if the
// id is already taken or the parameter schema does not compile.
func (r *Registry) Register(def models.ToolDefinition, handler models.ToolHandler) error {
	if def.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	if len(def.ID) > MaxToolNameLength {
		return fmt.Errorf("tool id exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is nil", def.ID)
	}

	var schema *jsonschema.Schema
	if len(def.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(def.ID+".json", bytes.NewReader(def.Parameters)); err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", def.ID, err)
		}
		compiled, err := compiler.Compile(def.ID + ".json")
		if err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", def.ID, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateToolID, def.ID)
	}
	r.tools[def.ID] = registeredTool{def: def, handler: handler, schema: schema}
	return nil
}

// Get returns a tool definition by id and whether it was found.
func (r *Registry) Get(id string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t.def, ok
}

// Definitions returns all registered tool definitions sorted by id, for
// passing to model providers.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Execute runs the tool named by the call. Failures never surface as Go
// errors to the run loop: unknown tools, invalid arguments, timeouts, and
// handler errors all come back as an unsuccessful result carrying an
// error code, so the model can observe and react to them.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall, tc *models.ToolContext) models.ToolResult {
	if len(call.Name) > MaxToolNameLength {
		return models.FailureResult(call.ID, CodeToolInvalidArgs,
			fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}
	if len(call.Arguments) > MaxToolArgsSize {
		return models.FailureResult(call.ID, CodeToolInvalidArgs,
			fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize))
	}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return models.FailureResult(call.ID, CodeToolNotFound, "tool not found: "+call.Name)
	}

	if tool.schema != nil {
		var decoded any
		args := call.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if err := json.Unmarshal(args, &decoded); err != nil {
			return models.FailureResult(call.ID, CodeToolInvalidArgs, "arguments are not valid JSON: "+err.Error())
		}
		if err := tool.schema.Validate(decoded); err != nil {
			return models.FailureResult(call.ID, CodeToolInvalidArgs, "invalid arguments: "+err.Error())
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	result, timedOut := r.executeWithTimeout(callCtx, tool, call, tc)
	if timedOut {
		if ctx.Err() != nil {
			return models.FailureResult(call.ID, CodeToolCanceled, "tool execution canceled")
		}
		return models.FailureResult(call.ID, CodeToolTimeout,
			fmt.Sprintf("tool %s timed out after %s", call.Name, r.callTimeout))
	}
	return result
}

// executeWithTimeout runs the handler in a goroutine and races it against
// the context. A late result after cancellation is discarded.
func (r *Registry) executeWithTimeout(ctx context.Context, tool registeredTool, call models.ToolCall, tc *models.ToolContext) (models.ToolResult, bool) {
	type execResult struct {
		result *models.ToolResult
		err    error
	}

	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				select {
				case resultChan <- execResult{err: fmt.Errorf("tool panicked: %v", rec)}:
				default:
				}
			}
		}()
		result, err := tool.handler(ctx, call.Arguments, tc)
		// Non-blocking send so the goroutine never leaks if the context
		// is already done.
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			r.logger.Warn("tool completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
			)
		}
	}()

	select {
	case <-ctx.Done():
		return models.ToolResult{}, true
	case res := <-resultChan:
		if res.err != nil {
			return models.FailureResult(call.ID, CodeToolFailed, res.err.Error()), false
		}
		if res.result == nil {
			return models.FailureResult(call.ID, CodeToolFailed, "tool returned no result"), false
		}
		out := *res.result
		if out.ToolCallID == "" {
			out.ToolCallID = call.ID
		}
		return out, false
	}
}

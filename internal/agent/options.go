package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/spindlehq/spindle/internal/hooks"
	"github.com/spindlehq/spindle/internal/observability"
	"github.com/spindlehq/spindle/pkg/models"
)

// SessionSaver persists sessions after the run mutates them. session.Store
// satisfies it.
type SessionSaver interface {
	Save(ctx context.Context, sess *models.Session) error
}

// Prompter resolves "ask" permission decisions by consulting the user.
// Returning false denies the call.
type Prompter func(ctx context.Context, tool models.ToolDefinition, call models.ToolCall, reason string) bool

// Options configures a Runner.
type Options struct {
	// Model is the default model id when a session does not pin one.
	Model string

	// SystemPrompt is the base system prompt before hook transforms and
	// mode directives.
	SystemPrompt string

	// MaxTurns limits request/tool-dispatch cycles per run. Default: 10.
	MaxTurns int

	// MaxTokens is the per-request output token cap. Default: 4096.
	MaxTokens int

	// MaxRetries bounds stream retry attempts per turn. Default: 3.
	MaxRetries int

	// WorkspaceRoot anchors relative paths for tools.
	WorkspaceRoot string

	// AllowExternalPaths permits tools to touch paths outside the
	// workspace root.
	AllowExternalPaths bool

	// HostPermission is the host default when no plugin votes on a tool
	// call. Default: allow.
	HostPermission hooks.Decision

	// Prompt resolves "ask" decisions. Nil treats ask as deny.
	Prompt Prompter

	// Store persists the session after each history mutation when set.
	Store SessionSaver

	// Sleep replaces backoff waits in tests. Nil uses time.Sleep with
	// context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error

	// Metrics records run, token, tool, and retry counters when set.
	Metrics *observability.Metrics

	// Tracer wraps tool executions in spans when set.
	Tracer *observability.Tracer

	Logger *slog.Logger
}

func sanitizeOptions(opts Options) Options {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.HostPermission == "" {
		opts.HostPermission = hooks.DecisionAllow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return opts
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunCallbacks observe tool activity synchronously from the loop, in
// dispatch order.
type RunCallbacks struct {
	OnToolCall   func(call models.ToolCall)
	OnToolResult func(result models.ToolResult)
}

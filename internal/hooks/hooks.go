// Package hooks implements the plugin hook pipeline: a closed vocabulary
// of extension points invoked with chained input/output across all
// registered plugin callbacks.
package hooks

import (
	"context"

	"github.com/spindlehq/spindle/pkg/models"
)

// Name identifies a hook extension point. The vocabulary is closed and
// versioned; plugins attach callbacks to names, there is no reflection.
type Name string

const (
	HookSystemTransform   Name = "system.transform"
	HookMessagesTransform Name = "messages.transform"
	HookPermissionAsk     Name = "permission.ask"
	HookToolBefore        Name = "tool.execute.before"
	HookToolAfter         Name = "tool.execute.after"
	HookChatComplete      Name = "chat.complete"
	HookCompaction        Name = "compaction"
)

// SystemInput is the read-only input to system.transform callbacks.
type SystemInput struct {
	SessionID string
	ModelID   string
	Mode      models.Mode
}

// SystemOutput is the mutable chained output of system.transform.
type SystemOutput struct {
	Prompt string
}

// MessagesInput is the read-only input to messages.transform callbacks.
type MessagesInput struct {
	SessionID string
}

// MessagesOutput carries the outbound message set; callbacks may amend it
// and later callbacks observe the cumulative result.
type MessagesOutput struct {
	Messages []models.HistoryMessage
}

// Decision is a permission vote.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// restrictiveness orders decisions; higher wins when combining votes.
func restrictiveness(d Decision) int {
	switch d {
	case DecisionDeny:
		return 2
	case DecisionAsk:
		return 1
	case DecisionAllow:
		return 0
	default:
		return -1
	}
}

// Restrict combines two votes, keeping the more restrictive one.
func Restrict(a, b Decision) Decision {
	if restrictiveness(b) > restrictiveness(a) {
		return b
	}
	return a
}

// PermissionInput describes the tool call being voted on.
type PermissionInput struct {
	SessionID string
	Tool      models.ToolDefinition
	Call      models.ToolCall

	// Patterns are the tool's declared argument-to-permission-pattern
	// expansions for this call.
	Patterns []string
}

// PermissionOutput accumulates votes. Voted reports whether any callback
// voted at all; without a vote the host default policy governs.
type PermissionOutput struct {
	Decision Decision
	Voted    bool
	Reason   string
}

// Vote records a vote, keeping the most restrictive decision seen.
func (o *PermissionOutput) Vote(d Decision, reason string) {
	if !o.Voted {
		o.Decision = d
		o.Reason = reason
		o.Voted = true
		return
	}
	combined := Restrict(o.Decision, d)
	if combined != o.Decision {
		o.Reason = reason
	}
	o.Decision = combined
}

// ToolBeforeInput is the read-only input to tool.execute.before.
type ToolBeforeInput struct {
	SessionID string
	Tool      models.ToolDefinition
}

// ToolBeforeOutput lets callbacks rewrite the call arguments before
// dispatch.
type ToolBeforeOutput struct {
	Call models.ToolCall
}

// ToolAfterInput is the read-only input to tool.execute.after.
type ToolAfterInput struct {
	SessionID string
	Tool      models.ToolDefinition
	Call      models.ToolCall
}

// ToolAfterOutput lets callbacks amend the result before it enters
// history.
type ToolAfterOutput struct {
	Result models.ToolResult
}

// CompleteInput is the read-only input to chat.complete.
type CompleteInput struct {
	SessionID string
}

// CompleteOutput carries the final assistant text.
type CompleteOutput struct {
	Text string
}

// CompactionInput describes a history prefix about to be compacted.
type CompactionInput struct {
	SessionID string
	Messages  []models.HistoryMessage
}

// CompactionOutput carries the replacement summary text.
type CompactionOutput struct {
	Summary string
}

// Hooks is a plugin's callback set. Nil fields mean the plugin does not
// participate in that extension point.
type Hooks struct {
	SystemTransform   func(ctx context.Context, in *SystemInput, out *SystemOutput) error
	MessagesTransform func(ctx context.Context, in *MessagesInput, out *MessagesOutput) error
	PermissionAsk     func(ctx context.Context, in *PermissionInput, out *PermissionOutput) error
	ToolBefore        func(ctx context.Context, in *ToolBeforeInput, out *ToolBeforeOutput) error
	ToolAfter         func(ctx context.Context, in *ToolAfterInput, out *ToolAfterOutput) error
	ChatComplete      func(ctx context.Context, in *CompleteInput, out *CompleteOutput) error
	Compaction        func(ctx context.Context, in *CompactionInput, out *CompactionOutput) error

	// Tools are additional tool contributions; the loader namespaces
	// their ids with the plugin id before registration.
	Tools []ToolContribution
}

// ToolContribution pairs a tool definition with its handler.
type ToolContribution struct {
	Definition models.ToolDefinition
	Handler    models.ToolHandler
}

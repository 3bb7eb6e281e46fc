package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spindlehq/spindle/pkg/models"
)

// registration binds one plugin's callback set into the pipeline.
type registration struct {
	pluginID string
	hooks    *Hooks
}

// Pipeline runs every registered callback for a hook in registration
// order. Each callback sees the cumulative output of the callbacks before
// it. A callback that returns an error or panics is logged and skipped; a
// misbehaving plugin must not abort the run.
type Pipeline struct {
	mu     sync.RWMutex
	regs   []registration
	logger *slog.Logger
}

// NewPipeline creates an empty hook pipeline.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger.With("component", "hooks")}
}

// Register attaches a plugin's callback set. Invocation order is
// registration order.
func (p *Pipeline) Register(pluginID string, h *Hooks) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs = append(p.regs, registration{pluginID: pluginID, hooks: h})
	p.logger.Debug("registered plugin hooks", "plugin_id", pluginID)
}

// Reset drops every registration so a loader can rebuild the pipeline,
// as happens when a plugin manifest changes on disk. In-flight hook
// chains finish against the registrations they snapshotted.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs = nil
}

// Registrations returns the plugin ids in registration order.
func (p *Pipeline) Registrations() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.regs))
	for _, r := range p.regs {
		ids = append(ids, r.pluginID)
	}
	return ids
}

func (p *Pipeline) snapshot() []registration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	regs := make([]registration, len(p.regs))
	copy(regs, p.regs)
	return regs
}

// call runs one callback with panic isolation.
func (p *Pipeline) call(pluginID string, hook Name, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("hook callback panicked",
				"plugin_id", pluginID, "hook", hook, "panic", fmt.Sprint(rec))
		}
	}()
	if err := fn(); err != nil {
		p.logger.Warn("hook callback failed",
			"plugin_id", pluginID, "hook", hook, "error", err)
	}
}

// TransformSystem chains system.transform across all plugins.
func (p *Pipeline) TransformSystem(ctx context.Context, in *SystemInput, prompt string) string {
	out := &SystemOutput{Prompt: prompt}
	for _, r := range p.snapshot() {
		if r.hooks.SystemTransform == nil {
			continue
		}
		p.call(r.pluginID, HookSystemTransform, func() error {
			return r.hooks.SystemTransform(ctx, in, out)
		})
	}
	return out.Prompt
}

// TransformMessages chains messages.transform across all plugins.
func (p *Pipeline) TransformMessages(ctx context.Context, in *MessagesInput, msgs []models.HistoryMessage) []models.HistoryMessage {
	out := &MessagesOutput{Messages: msgs}
	for _, r := range p.snapshot() {
		if r.hooks.MessagesTransform == nil {
			continue
		}
		p.call(r.pluginID, HookMessagesTransform, func() error {
			return r.hooks.MessagesTransform(ctx, in, out)
		})
	}
	return out.Messages
}

// AskPermission collects permission votes for a tool call. The most
// restrictive vote wins (deny > ask > allow). When no plugin votes, the
// supplied host default governs; explicit plugin votes are authoritative
// over the default.
func (p *Pipeline) AskPermission(ctx context.Context, in *PermissionInput, hostDefault Decision) (Decision, string) {
	out := &PermissionOutput{}
	for _, r := range p.snapshot() {
		if r.hooks.PermissionAsk == nil {
			continue
		}
		p.call(r.pluginID, HookPermissionAsk, func() error {
			return r.hooks.PermissionAsk(ctx, in, out)
		})
	}
	if out.Voted {
		return out.Decision, out.Reason
	}
	return hostDefault, "host default policy"
}

// BeforeTool chains tool.execute.before, letting plugins rewrite the
// call's arguments before dispatch.
func (p *Pipeline) BeforeTool(ctx context.Context, in *ToolBeforeInput, call models.ToolCall) models.ToolCall {
	out := &ToolBeforeOutput{Call: call}
	for _, r := range p.snapshot() {
		if r.hooks.ToolBefore == nil {
			continue
		}
		p.call(r.pluginID, HookToolBefore, func() error {
			return r.hooks.ToolBefore(ctx, in, out)
		})
	}
	return out.Call
}

// AfterTool chains tool.execute.after, letting plugins amend the result
// before it enters history.
func (p *Pipeline) AfterTool(ctx context.Context, in *ToolAfterInput, result models.ToolResult) models.ToolResult {
	out := &ToolAfterOutput{Result: result}
	for _, r := range p.snapshot() {
		if r.hooks.ToolAfter == nil {
			continue
		}
		p.call(r.pluginID, HookToolAfter, func() error {
			return r.hooks.ToolAfter(ctx, in, out)
		})
	}
	return out.Result
}

// CompleteChat chains chat.complete over the final assistant text.
func (p *Pipeline) CompleteChat(ctx context.Context, in *CompleteInput, text string) string {
	out := &CompleteOutput{Text: text}
	for _, r := range p.snapshot() {
		if r.hooks.ChatComplete == nil {
			continue
		}
		p.call(r.pluginID, HookChatComplete, func() error {
			return r.hooks.ChatComplete(ctx, in, out)
		})
	}
	return out.Text
}

// Compact chains compaction callbacks over a history prefix summary.
func (p *Pipeline) Compact(ctx context.Context, in *CompactionInput, summary string) string {
	out := &CompactionOutput{Summary: summary}
	for _, r := range p.snapshot() {
		if r.hooks.Compaction == nil {
			continue
		}
		p.call(r.pluginID, HookCompaction, func() error {
			return r.hooks.Compaction(ctx, in, out)
		})
	}
	return out.Summary
}

// OwnedContribution pairs a tool contribution with its owning plugin id.
type OwnedContribution struct {
	PluginID     string
	Contribution ToolContribution
}

// ToolContributions returns every plugin tool contribution in
// registration order.
func (p *Pipeline) ToolContributions() []OwnedContribution {
	var out []OwnedContribution
	for _, r := range p.snapshot() {
		for _, c := range r.hooks.Tools {
			out = append(out, OwnedContribution{PluginID: r.pluginID, Contribution: c})
		}
	}
	return out
}

// Package agent implements the run loop: it drives a session through
// streaming model turns, dispatches tool calls, applies hook transforms,
// and retries transient stream failures with classified backoff.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spindlehq/spindle/internal/classify"
	"github.com/spindlehq/spindle/internal/hooks"
	"github.com/spindlehq/spindle/internal/stream"

	"github.com/spindlehq/spindle/internal/agent/providers"
	"github.com/spindlehq/spindle/pkg/models"
)

// runState tracks the loop's position. Transitions are linear within a
// turn: drafting composes the request, streaming consumes the model
// response, tool dispatch executes any requested calls and loops back to
// streaming, finalizing runs completion hooks.
type runState int

const (
	stateDrafting runState = iota
	stateStreaming
	stateToolDispatch
	stateFinalizing
)

// Runner drives agent runs against a session.
type Runner struct {
	providers *providers.Registry
	tools     *Registry
	hooks     *hooks.Pipeline
	adapters  *stream.Registry
	opts      Options
	logger    *slog.Logger
}

// NewRunner wires a runner. Tool contributions already registered on the
// hook pipeline are added to the tool registry; a contribution whose id
// collides with an existing tool is logged and skipped.
func NewRunner(prov *providers.Registry, tools *Registry, pipeline *hooks.Pipeline, adapters *stream.Registry, opts Options) *Runner {
	opts = sanitizeOptions(opts)
	r := &Runner{
		providers: prov,
		tools:     tools,
		hooks:     pipeline,
		adapters:  adapters,
		opts:      opts,
		logger:    opts.Logger.With("component", "agent"),
	}
	if pipeline != nil {
		for _, c := range pipeline.ToolContributions() {
			if err := tools.Register(c.Contribution.Definition, c.Contribution.Handler); err != nil {
				r.logger.Warn("plugin tool rejected",
					"plugin_id", c.PluginID,
					"tool", c.Contribution.Definition.ID,
					"error", err,
				)
			}
		}
	}
	return r
}

// Run is a handle to one in-flight agent run.
type Run struct {
	id     string
	events <-chan models.AgentEvent
	done   chan struct{}
	result models.RunResult
	cancel context.CancelFunc
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Events returns the run's ordered event stream. The channel is closed
// after the terminal event.
func (r *Run) Events() <-chan models.AgentEvent { return r.events }

// Wait blocks until the run reaches a terminal state and returns its
// result. The caller must drain Events concurrently or before waiting.
func (r *Run) Wait() models.RunResult {
	<-r.done
	return r.result
}

// Abort cancels the run. Partial assistant output produced before the
// abort is preserved in session history.
func (r *Run) Abort() { r.cancel() }

// Run starts an agent run over the session with the given user input.
// The returned handle exposes the event stream and the completion future.
// Validation failures surface here; everything after startup is reported
// through events and the run result.
func (r *Runner) Run(ctx context.Context, sess *models.Session, input string, cb RunCallbacks) (*Run, error) {
	if sess == nil {
		return nil, errors.New("session is required")
	}
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("input is required")
	}
	modelID := sess.ModelID
	if modelID == "" {
		modelID = r.opts.Model
	}
	handle, err := r.providers.GetModel(modelID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	em := newEmitter(uuid.New().String())
	run := &Run{
		id:     em.runID,
		events: em.ch,
		done:   make(chan struct{}),
		cancel: cancel,
	}

	sess.Append(userTurn(sess, input))
	if err := r.persist(runCtx, sess); err != nil {
		cancel()
		return nil, err
	}

	go r.run(runCtx, run, em, sess, handle, cb)
	return run, nil
}

// run executes the state machine to completion. It owns the emitter and
// closes the event channel after the terminal event.
func (r *Runner) run(ctx context.Context, run *Run, em *emitter, sess *models.Session, handle providers.Handle, cb RunCallbacks) {
	result := models.RunResult{
		RunID:     run.id,
		SessionID: sess.ID,
		StartedAt: time.Now(),
	}
	defer func() {
		result.EndedAt = time.Now()
		if m := r.opts.Metrics; m != nil {
			m.RunCounter.WithLabelValues(string(result.Status)).Inc()
			m.RunDuration.WithLabelValues(handle.ModelID).Observe(result.EndedAt.Sub(result.StartedAt).Seconds())
			m.TokensUsed.WithLabelValues(handle.ModelID, "input").Add(float64(result.Usage.InputTokens))
			m.TokensUsed.WithLabelValues(handle.ModelID, "output").Add(float64(result.Usage.OutputTokens))
		}
		run.result = result
		em.close()
		close(run.done)
		run.cancel()
	}()

	em.runStarted()

	adapter := selectAdapter(r.adapters, handle)
	var finalText string

	state := stateDrafting
	var req *providers.Request
	for state != stateFinalizing {
		switch state {
		case stateDrafting:
			req = r.draft(ctx, sess, handle)
			state = stateStreaming

		case stateStreaming:
			if result.Turns >= r.opts.MaxTurns {
				r.logger.Warn("turn limit reached", "run_id", run.id, "turns", result.Turns)
				state = stateFinalizing
				continue
			}
			req.Messages = sess.GetHistory()
			req.ReplayMeta = replayMetaFrom(req.Messages)
			turn, err := r.streamTurn(ctx, em, handle, req, adapter)
			if err != nil {
				r.recordAssistant(context.WithoutCancel(ctx), sess, turn)
				if ctx.Err() != nil {
					result.Status = models.RunStatusAborted
					em.runAborted()
				} else {
					result.Status = models.RunStatusFailed
					result.Err = err.Error()
					em.runError(err)
				}
				return
			}
			result.Turns++
			result.Usage.Add(turn.usage)
			r.recordAssistant(ctx, sess, turn)
			finalText = turn.text.String()
			if len(turn.toolCalls) == 0 {
				state = stateFinalizing
				continue
			}
			state = stateToolDispatch

		case stateToolDispatch:
			aborted := r.dispatchTools(ctx, em, sess, cb, req, &result)
			if aborted {
				result.Status = models.RunStatusAborted
				em.runAborted()
				return
			}
			state = stateStreaming
		}
	}

	// Finalizing.
	if r.hooks != nil {
		finalText = r.hooks.CompleteChat(ctx, &hooks.CompleteInput{SessionID: sess.ID}, finalText)
	}
	result.Status = models.RunStatusDone
	result.Text = strings.TrimSpace(finalText)
	em.runFinished()
}

// draft composes the outbound request for the session's current mode,
// running the system and message transform hooks.
func (r *Runner) draft(ctx context.Context, sess *models.Session, handle providers.Handle) *providers.Request {
	system := systemPromptFor(r.opts.SystemPrompt, sess)
	msgs := sess.GetHistory()
	if r.hooks != nil {
		system = r.hooks.TransformSystem(ctx, &hooks.SystemInput{
			SessionID: sess.ID,
			ModelID:   handle.ModelID,
			Mode:      sess.Mode,
		}, system)
		msgs = r.hooks.TransformMessages(ctx, &hooks.MessagesInput{SessionID: sess.ID}, msgs)
	}
	return &providers.Request{
		Model:     handle.ModelID,
		System:    system,
		Messages:  msgs,
		Tools:     r.tools.Definitions(),
		MaxTokens: r.opts.MaxTokens,
	}
}

// turnResult accumulates one streamed assistant turn.
type turnResult struct {
	text       strings.Builder
	toolCalls  []models.ToolCall
	usage      models.Usage
	state      stream.TurnState
	replayMeta map[string]json.RawMessage
}

// replayMetaFrom collects the replay metadata persisted on the most
// recent assistant message. The next request carries it so the provider
// can resume continuation state, including after a process restart.
func replayMetaFrom(history []models.HistoryMessage) map[string]json.RawMessage {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != models.RoleAssistant {
			continue
		}
		var out map[string]json.RawMessage
		for _, part := range history[i].Parts {
			for ns, raw := range part.Metadata {
				if out == nil {
					out = map[string]json.RawMessage{}
				}
				out[ns] = raw
			}
		}
		return out
	}
	return nil
}

// streamTurn runs one model stream to completion, retrying classified
// transient failures with backoff. The turn accumulated before a failed
// attempt is discarded; tool results already in history are untouched.
func (r *Runner) streamTurn(ctx context.Context, em *emitter, handle providers.Handle, req *providers.Request, adapter stream.Adapter) (*turnResult, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			cls := classify.Classify(lastErr)
			em.retrying(lastErr, attempt)
			if r.opts.Metrics != nil {
				r.opts.Metrics.StreamRetries.WithLabelValues(string(cls.Kind)).Inc()
			}
			if err := r.opts.Sleep(ctx, classify.ComputeBackoff(cls.Backoff, attempt-1)); err != nil {
				return &turnResult{}, err
			}
		}

		turn, err := r.streamOnce(ctx, em, handle, req, adapter)
		if err == nil {
			if adapter != nil {
				meta, replayErr := stream.BuildReplay(adapter.ReplayUpdates())
				if replayErr != nil {
					return turn, fmt.Errorf("stream adapter %s: %w", adapter.Name(), replayErr)
				}
				turn.replayMeta = meta
			}
			return turn, nil
		}
		if ctx.Err() != nil {
			return turn, ctx.Err()
		}

		cls := classify.Classify(err)
		if !cls.Retryable || attempt == r.opts.MaxRetries {
			return turn, err
		}
		if adapter != nil {
			meta, replayErr := stream.BuildReplay(adapter.ReplayUpdates())
			if replayErr != nil {
				return turn, fmt.Errorf("stream adapter %s: %w", adapter.Name(), replayErr)
			}
			if len(meta) > 0 {
				req.ReplayMeta = meta
			}
		}
		r.logger.Warn("stream failed, retrying",
			"model", handle.ModelID,
			"kind", string(cls.Kind),
			"attempt", attempt+1,
			"error", err,
		)
		lastErr = err
	}
	return &turnResult{}, lastErr
}

// streamOnce consumes a single stream attempt.
func (r *Runner) streamOnce(ctx context.Context, em *emitter, handle providers.Handle, req *providers.Request, adapter stream.Adapter) (*turnResult, error) {
	turn := &turnResult{}
	parts, err := handle.Provider.Stream(ctx, req)
	if err != nil {
		return turn, err
	}
	for part := range parts {
		if adapter != nil {
			adapter.OnPart(part)
		}
		if part.Err != nil {
			// A veto is only honored once the stream finished or produced
			// output, regardless of what the adapter claims.
			vetoable := turn.state.Finished || turn.state.ProducedOutput
			if adapter != nil && vetoable && adapter.VetoError(part.Err, turn.state) {
				r.logger.Debug("stream error vetoed by adapter",
					"adapter", adapter.Name(), "error", part.Err)
				return turn, nil
			}
			return turn, part.Err
		}
		if part.Text != "" {
			turn.state.ProducedOutput = true
			turn.text.WriteString(part.Text)
			em.token(part.Text)
		}
		if part.ToolCall != nil {
			turn.state.ProducedOutput = true
			turn.toolCalls = append(turn.toolCalls, *part.ToolCall)
		}
		if part.Done {
			turn.state.Finished = true
			req.ReplayMeta = nil
			turn.usage.Add(models.Usage{
				InputTokens:  part.InputTokens,
				OutputTokens: part.OutputTokens,
			})
		}
	}
	if !turn.state.Finished && ctx.Err() != nil {
		return turn, ctx.Err()
	}
	return turn, nil
}

// recordAssistant appends the turn's assistant message to history. Empty
// turns (no text, no tool calls) leave history untouched.
func (r *Runner) recordAssistant(ctx context.Context, sess *models.Session, turn *turnResult) {
	if turn == nil {
		return
	}
	text := turn.text.String()
	if text == "" && len(turn.toolCalls) == 0 {
		return
	}
	parts := make([]models.Part, 0, 1+len(turn.toolCalls))
	if text != "" {
		parts = append(parts, models.TextPart(text))
	}
	for _, call := range turn.toolCalls {
		parts = append(parts, models.ToolCallPart(call))
	}
	// Replay updates ride on the leading part so they reach the snapshot
	// and the next turn's request.
	if len(turn.replayMeta) > 0 {
		parts[0].Metadata = turn.replayMeta
	}
	sess.Append(models.HistoryMessage{
		Role:  models.RoleAssistant,
		Parts: parts,
		Mode:  sess.Mode,
	})
	if err := r.persist(ctx, sess); err != nil {
		r.logger.Error("session persist failed", "session_id", sess.ID, "error", err)
	}
}

// dispatchTools executes the last assistant message's tool calls in
// emission order and appends a single tool message carrying all results.
// Returns true if the run was aborted mid-dispatch; results produced
// before the abort are still recorded.
func (r *Runner) dispatchTools(ctx context.Context, em *emitter, sess *models.Session, cb RunCallbacks, req *providers.Request, result *models.RunResult) (aborted bool) {
	history := sess.GetHistory()
	if len(history) == 0 {
		return false
	}
	calls := history[len(history)-1].ToolCalls()

	tc := &models.ToolContext{
		WorkspaceRoot:      r.opts.WorkspaceRoot,
		AllowExternalPaths: r.opts.AllowExternalPaths,
		Session:            sess,
		Logger:             r.logger,
	}

	parts := make([]models.Part, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			aborted = true
			parts = append(parts, models.ToolResultPart(
				models.FailureResult(call.ID, CodeToolCanceled, "run aborted before dispatch")))
			continue
		}

		def, known := r.tools.Get(call.Name)
		if r.hooks != nil && known {
			call = r.hooks.BeforeTool(ctx, &hooks.ToolBeforeInput{
				SessionID: sess.ID,
				Tool:      def,
			}, call)
		}

		em.toolCall(call)
		if cb.OnToolCall != nil {
			cb.OnToolCall(call)
		}
		result.ToolCalls++

		started := time.Now()
		res := r.executeWithPermission(ctx, sess, def, known, call, tc)
		if m := r.opts.Metrics; m != nil {
			status := "ok"
			if !res.Success {
				status = "error"
			}
			m.ToolExecutions.WithLabelValues(call.Name, status).Inc()
			m.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(started).Seconds())
		}

		if r.hooks != nil && known {
			res = r.hooks.AfterTool(ctx, &hooks.ToolAfterInput{
				SessionID: sess.ID,
				Tool:      def,
				Call:      call,
			}, res)
		}

		em.toolResult(res)
		if cb.OnToolResult != nil {
			cb.OnToolResult(res)
		}
		parts = append(parts, models.ToolResultPart(res))
	}

	sess.Append(models.HistoryMessage{
		Role:  models.RoleTool,
		Parts: parts,
		Mode:  sess.Mode,
	})
	if err := r.persist(ctx, sess); err != nil {
		r.logger.Error("session persist failed", "session_id", sess.ID, "error", err)
	}
	return aborted
}

// executeWithPermission runs the permission vote for the call and then
// executes it. Denials come back as unsuccessful results so the model can
// see them.
func (r *Runner) executeWithPermission(ctx context.Context, sess *models.Session, def models.ToolDefinition, known bool, call models.ToolCall, tc *models.ToolContext) models.ToolResult {
	if r.opts.Tracer != nil {
		var span trace.Span
		ctx, span = r.opts.Tracer.Start(ctx, "tool.execute",
			attribute.String("tool", call.Name),
			attribute.String("session.id", sess.ID),
		)
		defer span.End()
	}

	decision := r.opts.HostPermission
	reason := "host default policy"
	if r.hooks != nil && known {
		decision, reason = r.hooks.AskPermission(ctx, &hooks.PermissionInput{
			SessionID: sess.ID,
			Tool:      def,
			Call:      call,
			Patterns:  expandPermissionPatterns(def, call),
		}, r.opts.HostPermission)
	}

	switch decision {
	case hooks.DecisionDeny:
		return models.FailureResult(call.ID, CodeToolDenied, "permission denied: "+reason)
	case hooks.DecisionAsk:
		if r.opts.Prompt == nil || !r.opts.Prompt(ctx, def, call, reason) {
			return models.FailureResult(call.ID, CodeToolDenied, "permission not granted: "+reason)
		}
	}
	return r.tools.Execute(ctx, call, tc)
}

func selectAdapter(reg *stream.Registry, handle providers.Handle) stream.Adapter {
	if reg == nil {
		return nil
	}
	return reg.Select(handle.Provider.Name(), handle.ModelID)
}

func (r *Runner) persist(ctx context.Context, sess *models.Session) error {
	if r.opts.Store == nil {
		return nil
	}
	return r.opts.Store.Save(ctx, sess)
}

// Delegate runs a child session to completion and returns its final text.
// Tools that fan work out to subagents use this.
func (r *Runner) Delegate(ctx context.Context, parent *models.Session, subagentType, prompt string) (string, error) {
	child := models.NewSession(parent.ModelID)
	child.ParentID = parent.ID
	child.SubagentType = subagentType
	child.Mode = parent.Mode

	run, err := r.Run(ctx, child, prompt, RunCallbacks{})
	if err != nil {
		return "", err
	}
	for range run.Events() {
	}
	res := run.Wait()
	if res.Status != models.RunStatusDone {
		if res.Err != "" {
			return "", fmt.Errorf("subagent %s failed: %s", subagentType, res.Err)
		}
		return "", fmt.Errorf("subagent %s ended with status %s", subagentType, res.Status)
	}
	return res.Text, nil
}

// expandPermissionPatterns renders the tool's declared argument patterns
// against the call's arguments. Pattern templates reference arguments as
// {name}; unresolved references are passed through verbatim.
func expandPermissionPatterns(def models.ToolDefinition, call models.ToolCall) []string {
	if len(def.PermissionPatterns) == 0 {
		return nil
	}
	args := decodeStringArgs(call.Arguments)
	patterns := make([]string, 0, len(def.PermissionPatterns))
	for _, tmpl := range def.PermissionPatterns {
		out := tmpl
		for name, value := range args {
			out = strings.ReplaceAll(out, "{"+name+"}", value)
		}
		patterns = append(patterns, out)
	}
	return patterns
}

// decodeStringArgs flattens a call's top-level scalar arguments to
// strings for pattern expansion.
func decodeStringArgs(raw json.RawMessage) map[string]string {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	out := make(map[string]string, len(decoded))
	for name, v := range decoded {
		switch val := v.(type) {
		case string:
			out[name] = val
		case float64:
			out[name] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[name] = strconv.FormatBool(val)
		}
	}
	return out
}

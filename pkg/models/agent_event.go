package models

import "time"

// AgentEventType identifies the category of a run event.
type AgentEventType string

const (
	AgentEventRunStarted     AgentEventType = "run.started"
	AgentEventAssistantToken AgentEventType = "assistant_token"
	AgentEventToolCall       AgentEventType = "tool.call"
	AgentEventToolResult     AgentEventType = "tool.result"
	AgentEventRunRetrying    AgentEventType = "run.retrying"
	AgentEventRunFinished    AgentEventType = "run.finished"
	AgentEventRunError       AgentEventType = "run.error"
	AgentEventRunAborted     AgentEventType = "run.aborted"
)

// AgentEvent is one item of a run's ordered event sequence. Events are
// produced on a single logical timeline; Sequence is monotonic per run.
type AgentEvent struct {
	Type     AgentEventType `json:"type"`
	Sequence uint64         `json:"sequence"`
	RunID    string         `json:"run_id"`
	Time     time.Time      `json:"time"`

	// Token is the streamed text delta for assistant_token events.
	Token string `json:"token,omitempty"`

	// ToolCall/ToolResult are set on the corresponding event types.
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Err carries the failure for run.error events.
	Err string `json:"error,omitempty"`

	// Attempt is the retry attempt number for run.retrying events.
	Attempt int `json:"attempt,omitempty"`
}

// Usage accumulates token counts across the turns of a run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
	RunStatusAborted RunStatus = "aborted"
)

// RunResult is the final outcome of a run. Failed and aborted runs still
// carry whatever partial text and tool results were produced.
type RunResult struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Status    RunStatus `json:"status"`
	Text      string    `json:"text"`
	Usage     Usage     `json:"usage"`
	Turns     int       `json:"turns"`
	ToolCalls int       `json:"tool_calls"`
	Err       string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

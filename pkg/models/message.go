package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind tags a message part with its payload type.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// Part is one ordered element of a history message. Exactly one of the
// payload fields is populated, matching Kind.
type Part struct {
	Kind       PartKind    `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Metadata carries namespaced provider side-channel data merged in by
	// the stream adapter layer (replay updates). Keys are adapter
	// namespaces; the reserved "text" and "reasoning" namespaces never
	// appear here.
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ToolCallPart builds a tool-call part.
func ToolCallPart(call ToolCall) Part {
	return Part{Kind: PartToolCall, ToolCall: &call}
}

// ToolResultPart builds a tool-result part.
func ToolResultPart(result ToolResult) Part {
	return Part{Kind: PartToolResult, ToolResult: &result}
}

// HistoryMessage is one entry of a session's conversation history.
type HistoryMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Mode      Mode      `json:"mode,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Text concatenates the message's text parts.
func (m *HistoryMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts in emission order.
func (m *HistoryMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolCall is an LLM's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of a tool execution. Failures are carried as
// data (Success=false plus an error code in Metadata), never as panics or
// errors thrown across the dispatch boundary.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Success    bool           `json:"success"`
	Data       string         `json:"data,omitempty"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Well-known ToolResult metadata keys.
const (
	ResultMetaErrorCode = "error_code"
	ResultMetaProcessID = "process_id"
	ResultMetaReused    = "reused"
	ResultMetaExitCode  = "exit_code"
)

// ErrorCode returns the error code attached to a failed result, if any.
func (r *ToolResult) ErrorCode() string {
	if r.Metadata == nil {
		return ""
	}
	code, _ := r.Metadata[ResultMetaErrorCode].(string)
	return code
}

// FailureResult builds a failed ToolResult tagged with an error code.
func FailureResult(callID, code, message string) ToolResult {
	return ToolResult{
		ToolCallID: callID,
		Success:    false,
		Data:       message,
		Metadata:   map[string]any{ResultMetaErrorCode: code},
	}
}

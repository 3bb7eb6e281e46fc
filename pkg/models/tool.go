package models

import (
	"context"
	"encoding/json"
	"log/slog"
)

// ToolKind describes how a tool executes.
type ToolKind string

const (
	ToolKindBuiltin ToolKind = "builtin"
	ToolKindPlugin  ToolKind = "plugin"
)

// ToolDefinition declares a tool the model may invoke. IDs are unique and
// stable across process restarts.
type ToolDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Kind        ToolKind        `json:"kind"`

	// Category groups tools for display and policy ("files", "shell", ...).
	Category string `json:"category,omitempty"`

	// PermissionClass is the permission bucket the permission hook votes
	// on ("read", "write", "execute").
	PermissionClass string `json:"permission_class,omitempty"`

	// ReadOnly marks tools that never mutate the workspace.
	ReadOnly bool `json:"read_only,omitempty"`

	// AllowExternalPaths permits the tool to touch paths outside the
	// workspace root.
	AllowExternalPaths bool `json:"allow_external_paths,omitempty"`

	// PermissionPatterns maps argument names to permission pattern
	// templates the permission hook matches against ("command" ->
	// "shell:{command}").
	PermissionPatterns map[string]string `json:"permission_patterns,omitempty"`
}

// ToolContext supplies a handler with its execution environment.
type ToolContext struct {
	WorkspaceRoot      string
	AllowExternalPaths bool
	Session            *Session
	Logger             *slog.Logger
}

// ToolHandler executes a tool call. The passed context carries the run's
// cancellation signal and the registry's per-call timeout; handlers that
// block must honor it.
type ToolHandler func(ctx context.Context, args json.RawMessage, tc *ToolContext) (*ToolResult, error)

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spindlehq/spindle/pkg/models"
)

// Delegator runs a prompt in a fresh child session and returns the final
// assistant text. The agent runner satisfies it.
type Delegator interface {
	Delegate(ctx context.Context, parent *models.Session, subagentType, prompt string) (string, error)
}

const taskSchema = `{
	"type": "object",
	"properties": {
		"subagent_type": {"type": "string", "minLength": 1},
		"prompt": {"type": "string", "minLength": 1}
	},
	"required": ["subagent_type", "prompt"],
	"additionalProperties": false
}`

type taskArgs struct {
	SubagentType string `json:"subagent_type"`
	Prompt       string `json:"prompt"`
}

// TaskTool fans a prompt out to a subagent running in its own child
// session. The child inherits the parent's model and mode but none of
// its history.
func TaskTool(delegator Delegator) (models.ToolDefinition, models.ToolHandler) {
	def := models.ToolDefinition{
		ID:              "task",
		Name:            "task",
		Description:     "Delegate a self-contained task to a subagent and return its final answer.",
		Parameters:      json.RawMessage(taskSchema),
		Kind:            models.ToolKindBuiltin,
		Category:        "agent",
		PermissionClass: "execute",
	}
	handler := func(ctx context.Context, raw json.RawMessage, tc *models.ToolContext) (*models.ToolResult, error) {
		var args taskArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		if tc == nil || tc.Session == nil {
			return nil, fmt.Errorf("no parent session")
		}
		text, err := delegator.Delegate(ctx, tc.Session, args.SubagentType, args.Prompt)
		if err != nil {
			res := models.FailureResult("", "task_failed", err.Error())
			return &res, nil
		}
		return &models.ToolResult{
			Success:  true,
			Data:     text,
			Title:    "task: " + args.SubagentType,
			Metadata: map[string]any{"subagent_type": args.SubagentType},
		}, nil
	}
	return def, handler
}

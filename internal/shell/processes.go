package shell

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spindlehq/spindle/pkg/models"
)

const processesSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["list", "output", "kill"]},
		"id": {"type": "string"}
	},
	"required": ["action"],
	"additionalProperties": false
}`

type processesArgs struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// ProcessesTool returns a tool for inspecting and stopping background
// processes started by the bash tool.
func ProcessesTool(mgr *Manager) (models.ToolDefinition, models.ToolHandler) {
	def := models.ToolDefinition{
		ID:              "processes",
		Name:            "processes",
		Description:     "List background processes, read their captured output, or kill one by id.",
		Parameters:      json.RawMessage(processesSchema),
		Kind:            models.ToolKindBuiltin,
		Category:        "shell",
		PermissionClass: "execute",
		ReadOnly:        false,
	}
	handler := func(ctx context.Context, raw json.RawMessage, tc *models.ToolContext) (*models.ToolResult, error) {
		var args processesArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		switch args.Action {
		case "list":
			data, err := json.Marshal(mgr.List())
			if err != nil {
				return nil, err
			}
			return &models.ToolResult{Success: true, Data: string(data), Title: "processes"}, nil
		case "output":
			if args.ID == "" {
				return nil, fmt.Errorf("id is required for output")
			}
			stdout, stderr, ok := mgr.Output(args.ID)
			if !ok {
				res := models.FailureResult("", "process_not_found", "no such process: "+args.ID)
				return &res, nil
			}
			out := stdout
			if stderr != "" {
				if out != "" {
					out += "\n"
				}
				out += stderr
			}
			return &models.ToolResult{Success: true, Data: out, Title: "output " + args.ID}, nil
		case "kill":
			if args.ID == "" {
				return nil, fmt.Errorf("id is required for kill")
			}
			if err := mgr.Kill(args.ID); err != nil {
				res := models.FailureResult("", "process_not_found", err.Error())
				return &res, nil
			}
			return &models.ToolResult{Success: true, Data: "terminated " + args.ID, Title: "kill " + args.ID}, nil
		default:
			return nil, fmt.Errorf("unknown action %q", args.Action)
		}
	}
	return def, handler
}

package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

// bashSchema validates the bash tool's arguments.
const bashSchema = `{
	"type": "object",
	"properties": {
		"command": {"type": "string", "minLength": 1},
		"cwd": {"type": "string"},
		"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 3600},
		"background": {"type": "boolean"},
		"ttl_ms": {"type": "integer", "minimum": 1}
	},
	"required": ["command"],
	"additionalProperties": false
}`

type bashArgs struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Background     bool   `json:"background,omitempty"`
	TTLMs          int    `json:"ttl_ms,omitempty"`
}

// BashTool returns the bash tool definition and its handler, bound to a
// process manager. Commands that look long-running are rejected before
// spawn unless the call sets background or an explicit timeout.
func BashTool(mgr *Manager) (models.ToolDefinition, models.ToolHandler) {
	def := models.ToolDefinition{
		ID:              "bash",
		Name:            "bash",
		Description:     "Run a shell command in the workspace. Set background=true for servers and watchers; set timeout_seconds to bound foreground commands.",
		Parameters:      json.RawMessage(bashSchema),
		Kind:            models.ToolKindBuiltin,
		Category:        "shell",
		PermissionClass: "execute",
		PermissionPatterns: map[string]string{
			"command": "bash:{command}",
		},
	}
	handler := func(ctx context.Context, raw json.RawMessage, tc *models.ToolContext) (*models.ToolResult, error) {
		var args bashArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}

		if args.Background {
			ttl := time.Duration(args.TTLMs) * time.Millisecond
			info, reused, err := mgr.Start(args.Command, args.Cwd, ttl)
			if err != nil {
				return nil, err
			}
			data, _ := json.Marshal(info)
			return &models.ToolResult{
				Success: true,
				Data:    string(data),
				Title:   "background: " + truncateCommand(args.Command),
				Metadata: map[string]any{
					models.ResultMetaProcessID: info.ID,
					models.ResultMetaReused:    reused,
				},
			}, nil
		}

		if args.TimeoutSeconds == 0 {
			if reason := LongRunningReason(args.Command); reason != "" {
				res := models.FailureResult("", CodeRequiresBackground,
					fmt.Sprintf("command looks long-running (%s); rerun with background=true or set timeout_seconds", reason))
				return &res, nil
			}
		}

		result, err := mgr.Run(ctx, args.Command, args.Cwd, time.Duration(args.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, err
		}

		out := result.Stdout
		if result.Stderr != "" {
			if out != "" {
				out += "\n"
			}
			out += result.Stderr
		}
		res := &models.ToolResult{
			Success: result.ExitCode == 0 && !result.TimedOut,
			Data:    out,
			Title:   truncateCommand(args.Command),
			Metadata: map[string]any{
				models.ResultMetaExitCode: result.ExitCode,
			},
		}
		if result.TimedOut {
			res.Metadata[models.ResultMetaErrorCode] = "bash_timeout"
			res.Data = strings.TrimSpace(out + fmt.Sprintf("\ncommand timed out after %ds", args.TimeoutSeconds))
		} else if result.ExitCode != 0 {
			res.Metadata[models.ResultMetaErrorCode] = "bash_exit_nonzero"
		}
		return res, nil
	}
	return def, handler
}

func truncateCommand(command string) string {
	command = strings.TrimSpace(command)
	if len(command) > 60 {
		return command[:57] + "..."
	}
	return command
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spindlehq/spindle/pkg/models"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"message": {"type": "string"}
	},
	"required": ["message"],
	"additionalProperties": false
}`

// EchoTool returns its message argument unchanged. Used for smoke tests
// and end-to-end dispatch checks.
func EchoTool() (models.ToolDefinition, models.ToolHandler) {
	def := models.ToolDefinition{
		ID:              "echo",
		Name:            "echo",
		Description:     "Return the given message unchanged.",
		Parameters:      json.RawMessage(echoSchema),
		Kind:            models.ToolKindBuiltin,
		Category:        "utility",
		PermissionClass: "read",
		ReadOnly:        true,
	}
	handler := func(ctx context.Context, raw json.RawMessage, tc *models.ToolContext) (*models.ToolResult, error) {
		var args struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		return &models.ToolResult{Success: true, Data: args.Message, Title: "echo"}, nil
	}
	return def, handler
}

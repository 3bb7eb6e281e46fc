package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spindlehq/spindle/pkg/models"
)

// maxReadBytes caps a single read so one file cannot flood the context.
const maxReadBytes = 256 * 1024

const readFileSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"handle": {"type": "integer", "minimum": 1},
		"offset": {"type": "integer", "minimum": 0},
		"limit": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": false
}`

type readFileArgs struct {
	Path   string `json:"path,omitempty"`
	Handle int    `json:"handle,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ReadFileTool reads workspace files. Each successful read assigns (or
// reuses) a small integer handle in the session's file handle table, so
// later calls can reference the file by handle instead of path.
func ReadFileTool() (models.ToolDefinition, models.ToolHandler) {
	def := models.ToolDefinition{
		ID:              "read_file",
		Name:            "read_file",
		Description:     "Read a file from the workspace by path or by a previously returned handle. Supports line offset and limit.",
		Parameters:      json.RawMessage(readFileSchema),
		Kind:            models.ToolKindBuiltin,
		Category:        "files",
		PermissionClass: "read",
		ReadOnly:        true,
		PermissionPatterns: map[string]string{
			"path": "file:read:{path}",
		},
	}
	handler := func(ctx context.Context, raw json.RawMessage, tc *models.ToolContext) (*models.ToolResult, error) {
		var args readFileArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		path, err := resolveArgPath(tc, args.Path, args.Handle)
		if err != nil {
			res := models.FailureResult("", "file_not_found", err.Error())
			return &res, nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			res := models.FailureResult("", "file_not_found", err.Error())
			return &res, nil
		}
		if len(data) > maxReadBytes {
			data = data[:maxReadBytes]
		}

		content := string(data)
		if args.Offset > 0 || args.Limit > 0 {
			lines := strings.Split(content, "\n")
			start := args.Offset
			if start > len(lines) {
				start = len(lines)
			}
			end := len(lines)
			if args.Limit > 0 && start+args.Limit < end {
				end = start + args.Limit
			}
			content = strings.Join(lines[start:end], "\n")
		}

		handle := 0
		if tc != nil && tc.Session != nil {
			handle = tc.Session.FileHandles.Assign(path)
		}
		res := &models.ToolResult{
			Success: true,
			Data:    content,
			Title:   filepath.Base(path),
		}
		if handle > 0 {
			res.Metadata = map[string]any{"file_handle": handle}
		}
		return res, nil
	}
	return def, handler
}

const writeFileSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"handle": {"type": "integer", "minimum": 1},
		"content": {"type": "string"}
	},
	"required": ["content"],
	"additionalProperties": false
}`

type writeFileArgs struct {
	Path    string `json:"path,omitempty"`
	Handle  int    `json:"handle,omitempty"`
	Content string `json:"content"`
}

// WriteFileTool writes workspace files, creating parent directories as
// needed. Accepts a path or a handle from a previous read.
func WriteFileTool() (models.ToolDefinition, models.ToolHandler) {
	def := models.ToolDefinition{
		ID:              "write_file",
		Name:            "write_file",
		Description:     "Write content to a workspace file by path or handle, creating parent directories if necessary.",
		Parameters:      json.RawMessage(writeFileSchema),
		Kind:            models.ToolKindBuiltin,
		Category:        "files",
		PermissionClass: "write",
		PermissionPatterns: map[string]string{
			"path": "file:write:{path}",
		},
	}
	handler := func(ctx context.Context, raw json.RawMessage, tc *models.ToolContext) (*models.ToolResult, error) {
		var args writeFileArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		path, err := resolveArgPath(tc, args.Path, args.Handle)
		if err != nil {
			res := models.FailureResult("", "file_invalid_path", err.Error())
			return &res, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create parent dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
			return nil, fmt.Errorf("write file: %w", err)
		}
		handle := 0
		if tc != nil && tc.Session != nil {
			handle = tc.Session.FileHandles.Assign(path)
		}
		res := &models.ToolResult{
			Success: true,
			Data:    "wrote " + strconv.Itoa(len(args.Content)) + " bytes to " + path,
			Title:   filepath.Base(path),
		}
		if handle > 0 {
			res.Metadata = map[string]any{"file_handle": handle}
		}
		return res, nil
	}
	return def, handler
}

// resolveArgPath resolves the path/handle pair common to file tools. A
// handle takes precedence when both are given.
func resolveArgPath(tc *models.ToolContext, path string, handle int) (string, error) {
	if handle > 0 {
		if tc == nil || tc.Session == nil {
			return "", fmt.Errorf("no session for handle lookup")
		}
		p, ok := tc.Session.FileHandles.Path(handle)
		if !ok {
			return "", fmt.Errorf("unknown file handle %d", handle)
		}
		return p, nil
	}
	if path == "" {
		return "", fmt.Errorf("path or handle is required")
	}
	r := Resolver{Root: workspaceRoot(tc), AllowExternal: allowExternal(tc)}
	return r.Resolve(path)
}

func workspaceRoot(tc *models.ToolContext) string {
	if tc == nil {
		return "."
	}
	return tc.WorkspaceRoot
}

func allowExternal(tc *models.ToolContext) bool {
	return tc != nil && tc.AllowExternalPaths
}

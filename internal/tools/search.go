package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spindlehq/spindle/pkg/models"
)

const grepSchema = `{
	"type": "object",
	"properties": {
		"pattern": {"type": "string", "minLength": 1},
		"path": {"type": "string"},
		"glob": {"type": "string"},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 1000}
	},
	"required": ["pattern"],
	"additionalProperties": false
}`

type grepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	Glob       string `json:"glob,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// grep skips these directories entirely.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
}

// GrepTool searches workspace files for a regular expression and returns
// path:line:text matches.
func GrepTool() (models.ToolDefinition, models.ToolHandler) {
	def := models.ToolDefinition{
		ID:              "grep",
		Name:            "grep",
		Description:     "Search workspace files with a regular expression. Optionally scope to a subdirectory and a filename glob.",
		Parameters:      json.RawMessage(grepSchema),
		Kind:            models.ToolKindBuiltin,
		Category:        "files",
		PermissionClass: "read",
		ReadOnly:        true,
	}
	handler := func(ctx context.Context, raw json.RawMessage, tc *models.ToolContext) (*models.ToolResult, error) {
		var args grepArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		re, err := regexp.Compile(args.Pattern)
		if err != nil {
			res := models.FailureResult("", "grep_invalid_pattern", "invalid pattern: "+err.Error())
			return &res, nil
		}
		maxResults := args.MaxResults
		if maxResults <= 0 {
			maxResults = 100
		}

		root := workspaceRoot(tc)
		if args.Path != "" {
			r := Resolver{Root: root, AllowExternal: allowExternal(tc)}
			resolved, err := r.Resolve(args.Path)
			if err != nil {
				res := models.FailureResult("", "file_invalid_path", err.Error())
				return &res, nil
			}
			root = resolved
		}

		var matches []string
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skippedDirs[d.Name()] {
					return fs.SkipDir
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if args.Glob != "" {
				ok, _ := filepath.Match(args.Glob, d.Name())
				if !ok {
					return nil
				}
			}
			found, err := grepFile(path, re, maxResults-len(matches))
			if err != nil {
				return nil
			}
			matches = append(matches, found...)
			if len(matches) >= maxResults {
				return fs.SkipAll
			}
			return nil
		})
		if walkErr != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if len(matches) == 0 {
			return &models.ToolResult{Success: true, Data: "no matches", Title: "grep"}, nil
		}
		return &models.ToolResult{
			Success:  true,
			Data:     strings.Join(matches, "\n"),
			Title:    fmt.Sprintf("grep: %d matches", len(matches)),
			Metadata: map[string]any{"match_count": len(matches)},
		}, nil
	}
	return def, handler
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		// Binary guard: skip files with NUL bytes.
		if strings.ContainsRune(line, '\x00') {
			return out, nil
		}
		if re.MatchString(line) {
			out = append(out, fmt.Sprintf("%s:%d:%s", path, lineNo, line))
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, scanner.Err()
}

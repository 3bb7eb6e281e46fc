package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spindlehq/spindle/pkg/models"
)

func testToolContext(t *testing.T) *models.ToolContext {
	t.Helper()
	return &models.ToolContext{
		WorkspaceRoot: t.TempDir(),
		Session:       models.NewSession("test-model"),
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	tc := testToolContext(t)
	ctx := context.Background()
	_, write := WriteFileTool()
	_, read := ReadFileTool()

	res, err := write(ctx, json.RawMessage(`{"path":"notes/hello.txt","content":"line1\nline2\nline3"}`), tc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !res.Success {
		t.Fatalf("write result = %+v", res)
	}
	handle, _ := res.Metadata["file_handle"].(int)
	if handle == 0 {
		t.Fatal("write assigned no handle")
	}

	res, err = read(ctx, json.RawMessage(`{"path":"notes/hello.txt"}`), tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !res.Success || res.Data != "line1\nline2\nline3" {
		t.Errorf("read result = %+v", res)
	}
	// Same file, same handle.
	if got, _ := res.Metadata["file_handle"].(int); got != handle {
		t.Errorf("read handle = %d, want %d", got, handle)
	}

	// Reading by handle skips path resolution entirely.
	res, err = read(ctx, json.RawMessage(fmt.Sprintf(`{"handle":%d,"offset":1,"limit":1}`, handle)), tc)
	if err != nil {
		t.Fatalf("read by handle: %v", err)
	}
	if res.Data != "line2" {
		t.Errorf("offset/limit read = %q", res.Data)
	}
}

func TestReadFileFailuresAreData(t *testing.T) {
	tc := testToolContext(t)
	ctx := context.Background()
	_, read := ReadFileTool()

	res, err := read(ctx, json.RawMessage(`{"path":"missing.txt"}`), tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Success || res.ErrorCode() != "file_not_found" {
		t.Errorf("missing file result = %+v", res)
	}

	res, err = read(ctx, json.RawMessage(`{"path":"../outside.txt"}`), tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Success {
		t.Errorf("escaped workspace: %+v", res)
	}

	res, err = read(ctx, json.RawMessage(`{"handle":99}`), tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Success || !strings.Contains(res.Data, "unknown file handle") {
		t.Errorf("unknown handle result = %+v", res)
	}
}

func TestReadFileTruncatesLargeFiles(t *testing.T) {
	tc := testToolContext(t)
	big := strings.Repeat("x", maxReadBytes+100)
	if err := os.WriteFile(filepath.Join(tc.WorkspaceRoot, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	_, read := ReadFileTool()

	res, err := read(context.Background(), json.RawMessage(`{"path":"big.txt"}`), tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Data) != maxReadBytes {
		t.Errorf("read %d bytes, want %d", len(res.Data), maxReadBytes)
	}
}

func TestWriteFileRejectsEscapingPath(t *testing.T) {
	tc := testToolContext(t)
	_, write := WriteFileTool()

	res, err := write(context.Background(), json.RawMessage(`{"path":"../evil.txt","content":"x"}`), tc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if res.Success || res.ErrorCode() != "file_invalid_path" {
		t.Errorf("result = %+v", res)
	}
	if _, statErr := os.Stat(filepath.Join(tc.WorkspaceRoot, "..", "evil.txt")); statErr == nil {
		t.Error("file escaped the workspace")
	}
}

func TestGrepTool(t *testing.T) {
	tc := testToolContext(t)
	ctx := context.Background()
	root := tc.WorkspaceRoot
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.go", "package a\nfunc Target() {}\n")
	write("sub/b.go", "package b\n// Target again\n")
	write("sub/b.txt", "Target in text\n")
	write(".git/config", "Target inside git dir\n")

	_, grep := GrepTool()

	res, err := grep(ctx, json.RawMessage(`{"pattern":"Target"}`), tc)
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if got := res.Metadata["match_count"].(int); got != 3 {
		t.Errorf("match_count = %d, want 3 (git dir must be skipped)", got)
	}
	for _, line := range strings.Split(res.Data, "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			t.Errorf("malformed match line %q", line)
		}
	}

	res, err = grep(ctx, json.RawMessage(`{"pattern":"Target","glob":"*.go"}`), tc)
	if err != nil {
		t.Fatalf("grep glob: %v", err)
	}
	if got := res.Metadata["match_count"].(int); got != 2 {
		t.Errorf("glob match_count = %d", got)
	}

	res, err = grep(ctx, json.RawMessage(`{"pattern":"Target","path":"sub","max_results":1}`), tc)
	if err != nil {
		t.Fatalf("grep scoped: %v", err)
	}
	if got := res.Metadata["match_count"].(int); got != 1 {
		t.Errorf("max_results match_count = %d", got)
	}

	res, err = grep(ctx, json.RawMessage(`{"pattern":"NothingHere"}`), tc)
	if err != nil {
		t.Fatalf("grep empty: %v", err)
	}
	if !res.Success || res.Data != "no matches" {
		t.Errorf("empty result = %+v", res)
	}

	res, err = grep(ctx, json.RawMessage(`{"pattern":"["}`), tc)
	if err != nil {
		t.Fatalf("grep bad pattern: %v", err)
	}
	if res.Success || res.ErrorCode() != "grep_invalid_pattern" {
		t.Errorf("bad pattern result = %+v", res)
	}
}

type stubDelegator struct {
	text string
	err  error

	gotParent *models.Session
	gotType   string
	gotPrompt string
	callCount int
}

func (d *stubDelegator) Delegate(ctx context.Context, parent *models.Session, subagentType, prompt string) (string, error) {
	d.callCount++
	d.gotParent = parent
	d.gotType = subagentType
	d.gotPrompt = prompt
	return d.text, d.err
}

func TestTaskToolDelegates(t *testing.T) {
	tc := testToolContext(t)
	stub := &stubDelegator{text: "child answer"}
	_, task := TaskTool(stub)

	res, err := task(context.Background(), json.RawMessage(`{"subagent_type":"researcher","prompt":"dig in"}`), tc)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if !res.Success || res.Data != "child answer" {
		t.Errorf("result = %+v", res)
	}
	if res.Metadata["subagent_type"] != "researcher" {
		t.Errorf("metadata = %+v", res.Metadata)
	}
	if stub.gotParent != tc.Session || stub.gotType != "researcher" || stub.gotPrompt != "dig in" {
		t.Errorf("delegate saw %s/%q", stub.gotType, stub.gotPrompt)
	}
}

func TestTaskToolFailureIsData(t *testing.T) {
	tc := testToolContext(t)
	stub := &stubDelegator{err: fmt.Errorf("child exploded")}
	_, task := TaskTool(stub)

	res, err := task(context.Background(), json.RawMessage(`{"subagent_type":"researcher","prompt":"dig"}`), tc)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if res.Success || res.ErrorCode() != "task_failed" {
		t.Errorf("result = %+v", res)
	}

	if _, err := task(context.Background(), json.RawMessage(`{"subagent_type":"r","prompt":"p"}`), nil); err == nil {
		t.Error("task without session succeeded")
	}
}

package stream

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildReplayFoldsNamespaces(t *testing.T) {
	got, err := BuildReplay([]ReplayUpdate{
		{Namespace: "openai.reasoning", Update: json.RawMessage(`{"item_ids":["a"]}`)},
		{Namespace: "vendor.cache", Update: json.RawMessage(`"tok"`)},
	})
	if err != nil {
		t.Fatalf("BuildReplay: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d namespaces, want 2", len(got))
	}
	if string(got["openai.reasoning"]) != `{"item_ids":["a"]}` {
		t.Errorf("openai.reasoning = %s", got["openai.reasoning"])
	}
	if string(got["vendor.cache"]) != `"tok"` {
		t.Errorf("vendor.cache = %s", got["vendor.cache"])
	}
}

func TestBuildReplayEmptyInput(t *testing.T) {
	got, err := BuildReplay(nil)
	if err != nil || got != nil {
		t.Errorf("BuildReplay(nil) = %v, %v", got, err)
	}
}

func TestBuildReplayRejectsViolations(t *testing.T) {
	cases := []struct {
		name    string
		updates []ReplayUpdate
		wantErr string
	}{
		{
			"empty namespace",
			[]ReplayUpdate{{Namespace: "", Update: json.RawMessage(`1`)}},
			"namespace is empty",
		},
		{
			"whitespace namespace",
			[]ReplayUpdate{{Namespace: "  ", Update: json.RawMessage(`1`)}},
			"namespace is empty",
		},
		{
			"reserved text",
			[]ReplayUpdate{{Namespace: NamespaceText, Update: json.RawMessage(`1`)}},
			"reserved",
		},
		{
			"reserved reasoning",
			[]ReplayUpdate{{Namespace: NamespaceReasoning, Update: json.RawMessage(`1`)}},
			"reserved",
		},
		{
			"nil payload",
			[]ReplayUpdate{{Namespace: "x"}},
			"is empty",
		},
		{
			"null payload",
			[]ReplayUpdate{{Namespace: "x", Update: json.RawMessage(`null`)}},
			"is empty",
		},
		{
			"empty object payload",
			[]ReplayUpdate{{Namespace: "x", Update: json.RawMessage(`{}`)}},
			"is empty",
		},
		{
			"duplicate namespace",
			[]ReplayUpdate{
				{Namespace: "x", Update: json.RawMessage(`1`)},
				{Namespace: "x", Update: json.RawMessage(`2`)},
			},
			"duplicate",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildReplay(tc.updates)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

package hooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/spindlehq/spindle/pkg/models"
)

func testPipeline() *Pipeline {
	return NewPipeline(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRestrict(t *testing.T) {
	cases := []struct {
		a, b, want Decision
	}{
		{DecisionAllow, DecisionAllow, DecisionAllow},
		{DecisionAllow, DecisionAsk, DecisionAsk},
		{DecisionAsk, DecisionAllow, DecisionAsk},
		{DecisionAsk, DecisionDeny, DecisionDeny},
		{DecisionDeny, DecisionAllow, DecisionDeny},
	}
	for _, tc := range cases {
		if got := Restrict(tc.a, tc.b); got != tc.want {
			t.Errorf("Restrict(%s, %s) = %s, want %s", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestVoteKeepsMostRestrictiveAndItsReason(t *testing.T) {
	out := &PermissionOutput{}
	out.Vote(DecisionAllow, "fine by me")
	out.Vote(DecisionDeny, "writes outside workspace")
	out.Vote(DecisionAsk, "needs a look")

	if !out.Voted {
		t.Fatal("Voted = false")
	}
	if out.Decision != DecisionDeny {
		t.Errorf("decision = %s", out.Decision)
	}
	if out.Reason != "writes outside workspace" {
		t.Errorf("reason = %q", out.Reason)
	}
}

func TestTransformSystemChainsInOrder(t *testing.T) {
	p := testPipeline()
	p.Register("alpha", &Hooks{
		SystemTransform: func(ctx context.Context, in *SystemInput, out *SystemOutput) error {
			out.Prompt += " +alpha"
			return nil
		},
	})
	p.Register("beta", &Hooks{
		SystemTransform: func(ctx context.Context, in *SystemInput, out *SystemOutput) error {
			out.Prompt += " +beta"
			return nil
		},
	})

	got := p.TransformSystem(context.Background(), &SystemInput{SessionID: "s1"}, "base")
	if got != "base +alpha +beta" {
		t.Errorf("prompt = %q", got)
	}
}

func TestResetDropsRegistrations(t *testing.T) {
	p := testPipeline()
	p.Register("alpha", &Hooks{
		SystemTransform: func(ctx context.Context, in *SystemInput, out *SystemOutput) error {
			out.Prompt += " +alpha"
			return nil
		},
	})

	p.Reset()
	if ids := p.Registrations(); len(ids) != 0 {
		t.Fatalf("registrations after reset = %v", ids)
	}
	if got := p.TransformSystem(context.Background(), &SystemInput{}, "base"); got != "base" {
		t.Errorf("prompt = %q, want base", got)
	}

	// A reloaded plugin set takes effect for subsequent calls.
	p.Register("beta", &Hooks{
		SystemTransform: func(ctx context.Context, in *SystemInput, out *SystemOutput) error {
			out.Prompt += " +beta"
			return nil
		},
	})
	if got := p.TransformSystem(context.Background(), &SystemInput{}, "base"); got != "base +beta" {
		t.Errorf("prompt = %q, want base +beta", got)
	}
}

func TestCompactChainsSummary(t *testing.T) {
	p := testPipeline()
	var sawMessages int
	p.Register("condenser", &Hooks{
		Compaction: func(ctx context.Context, in *CompactionInput, out *CompactionOutput) error {
			sawMessages = len(in.Messages)
			out.Summary = "condensed: " + out.Summary
			return nil
		},
	})

	in := &CompactionInput{
		SessionID: "s1",
		Messages: []models.HistoryMessage{
			{Role: models.RoleUser, Parts: []models.Part{models.TextPart("hi")}},
			{Role: models.RoleAssistant, Parts: []models.Part{models.TextPart("hello")}},
		},
	}
	got := p.Compact(context.Background(), in, "two messages")
	if got != "condensed: two messages" {
		t.Errorf("summary = %q", got)
	}
	if sawMessages != 2 {
		t.Errorf("messages seen = %d", sawMessages)
	}
}

func TestFailingAndPanickingCallbacksAreSkipped(t *testing.T) {
	p := testPipeline()
	p.Register("broken", &Hooks{
		SystemTransform: func(ctx context.Context, in *SystemInput, out *SystemOutput) error {
			return errors.New("nope")
		},
		ChatComplete: func(ctx context.Context, in *CompleteInput, out *CompleteOutput) error {
			panic("boom")
		},
	})
	p.Register("healthy", &Hooks{
		SystemTransform: func(ctx context.Context, in *SystemInput, out *SystemOutput) error {
			out.Prompt += " ok"
			return nil
		},
		ChatComplete: func(ctx context.Context, in *CompleteInput, out *CompleteOutput) error {
			out.Text += "!"
			return nil
		},
	})

	if got := p.TransformSystem(context.Background(), &SystemInput{}, "base"); got != "base ok" {
		t.Errorf("prompt = %q", got)
	}
	if got := p.CompleteChat(context.Background(), &CompleteInput{}, "done"); got != "done!" {
		t.Errorf("text = %q", got)
	}
}

func TestAskPermissionMostRestrictiveVoteWins(t *testing.T) {
	p := testPipeline()
	p.Register("lenient", &Hooks{
		PermissionAsk: func(ctx context.Context, in *PermissionInput, out *PermissionOutput) error {
			out.Vote(DecisionAllow, "looks safe")
			return nil
		},
	})
	p.Register("strict", &Hooks{
		PermissionAsk: func(ctx context.Context, in *PermissionInput, out *PermissionOutput) error {
			out.Vote(DecisionDeny, "matches blocked pattern")
			return nil
		},
	})

	decision, reason := p.AskPermission(context.Background(), &PermissionInput{}, DecisionAllow)
	if decision != DecisionDeny {
		t.Errorf("decision = %s", decision)
	}
	if reason != "matches blocked pattern" {
		t.Errorf("reason = %q", reason)
	}
}

func TestAskPermissionHostDefaultWhenNoVote(t *testing.T) {
	p := testPipeline()
	p.Register("observer", &Hooks{
		PermissionAsk: func(ctx context.Context, in *PermissionInput, out *PermissionOutput) error {
			return nil // watches but never votes
		},
	})

	decision, _ := p.AskPermission(context.Background(), &PermissionInput{}, DecisionAsk)
	if decision != DecisionAsk {
		t.Errorf("decision = %s, want host default ask", decision)
	}

	// An explicit allow vote beats a more restrictive host default.
	p.Register("voter", &Hooks{
		PermissionAsk: func(ctx context.Context, in *PermissionInput, out *PermissionOutput) error {
			out.Vote(DecisionAllow, "pre-approved")
			return nil
		},
	})
	decision, reason := p.AskPermission(context.Background(), &PermissionInput{}, DecisionDeny)
	if decision != DecisionAllow {
		t.Errorf("decision = %s, want allow", decision)
	}
	if reason != "pre-approved" {
		t.Errorf("reason = %q", reason)
	}
}

func TestBeforeAndAfterToolChaining(t *testing.T) {
	p := testPipeline()
	p.Register("rewriter", &Hooks{
		ToolBefore: func(ctx context.Context, in *ToolBeforeInput, out *ToolBeforeOutput) error {
			out.Call.Arguments = []byte(`{"path":"redirected.txt"}`)
			return nil
		},
		ToolAfter: func(ctx context.Context, in *ToolAfterInput, out *ToolAfterOutput) error {
			out.Result.Data = "[redacted] " + out.Result.Data
			return nil
		},
	})

	call := p.BeforeTool(context.Background(), &ToolBeforeInput{}, models.ToolCall{
		ID:        "c1",
		Name:      "read_file",
		Arguments: []byte(`{"path":"secret.txt"}`),
	})
	if string(call.Arguments) != `{"path":"redirected.txt"}` {
		t.Errorf("arguments = %s", call.Arguments)
	}
	if call.ID != "c1" || call.Name != "read_file" {
		t.Errorf("call identity changed: %+v", call)
	}

	res := p.AfterTool(context.Background(), &ToolAfterInput{}, models.ToolResult{
		ToolCallID: "c1",
		Success:    true,
		Data:       "file body",
	})
	if res.Data != "[redacted] file body" {
		t.Errorf("data = %q", res.Data)
	}
}

func TestToolContributionsKeepRegistrationOrder(t *testing.T) {
	p := testPipeline()
	def := func(id string) models.ToolDefinition { return models.ToolDefinition{ID: id, Name: id} }
	p.Register("p1", &Hooks{Tools: []ToolContribution{{Definition: def("a")}, {Definition: def("b")}}})
	p.Register("p2", &Hooks{Tools: []ToolContribution{{Definition: def("c")}}})

	got := p.ToolContributions()
	if len(got) != 3 {
		t.Fatalf("got %d contributions", len(got))
	}
	want := []struct{ plugin, id string }{{"p1", "a"}, {"p1", "b"}, {"p2", "c"}}
	for i, w := range want {
		if got[i].PluginID != w.plugin || got[i].Contribution.Definition.ID != w.id {
			t.Errorf("[%d] = %s/%s, want %s/%s",
				i, got[i].PluginID, got[i].Contribution.Definition.ID, w.plugin, w.id)
		}
	}

	if ids := p.Registrations(); len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Errorf("registrations = %v", ids)
	}
}

package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/spindlehq/spindle/internal/agent/providers"
)

func TestReasoningAdapterApplies(t *testing.T) {
	a := NewReasoningAdapter()()
	cases := []struct {
		provider, model string
		want            bool
	}{
		{"openai", "o3-mini", true},
		{"openai", "o1", true},
		{"openai", "gpt-5", true},
		{"openai", "gpt-4o", false},
		{"anthropic", "o3-mini", false},
	}
	for _, tc := range cases {
		if got := a.Applies(tc.provider, tc.model); got != tc.want {
			t.Errorf("Applies(%s, %s) = %t, want %t", tc.provider, tc.model, got, tc.want)
		}
	}
}

func TestReasoningAdapterVetoGating(t *testing.T) {
	a := NewReasoningAdapter()()
	parseErr := errors.New("malformed SSE frame")
	netErr := errors.New("connection reset by peer")

	if a.VetoError(parseErr, TurnState{}) {
		t.Error("vetoed with no output and no finish")
	}
	if !a.VetoError(parseErr, TurnState{Finished: true}) {
		t.Error("refused veto of parse error after finish")
	}
	if !a.VetoError(parseErr, TurnState{ProducedOutput: true}) {
		t.Error("refused veto of parse error after output")
	}
	if a.VetoError(netErr, TurnState{Finished: true, ProducedOutput: true}) {
		t.Error("vetoed a network error")
	}
	if a.VetoError(nil, TurnState{Finished: true}) {
		t.Error("vetoed nil error")
	}
}

func TestReasoningAdapterReplayUpdates(t *testing.T) {
	a := NewReasoningAdapter()()
	if got := a.ReplayUpdates(); got != nil {
		t.Fatalf("updates before any parts = %v", got)
	}

	a.OnPart(nil)
	a.OnPart(&providers.StreamPart{Text: "hi"})
	a.OnPart(&providers.StreamPart{ProviderMeta: map[string]json.RawMessage{
		"reasoning_item_id": json.RawMessage(`"rs_1"`),
	}})
	a.OnPart(&providers.StreamPart{ProviderMeta: map[string]json.RawMessage{
		"reasoning_item_id":      json.RawMessage(`"rs_2"`),
		"reasoning_continuation": json.RawMessage(`{"cursor":"abc"}`),
	}})

	updates := a.ReplayUpdates()
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].Namespace != "openai.reasoning" {
		t.Errorf("namespace = %s", updates[0].Namespace)
	}
	var payload struct {
		Continuation json.RawMessage `json:"continuation"`
		ItemIDs      []string        `json:"item_ids"`
	}
	if err := json.Unmarshal(updates[0].Update, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if string(payload.Continuation) != `{"cursor":"abc"}` {
		t.Errorf("continuation = %s", payload.Continuation)
	}
	if len(payload.ItemIDs) != 2 || payload.ItemIDs[0] != "rs_1" || payload.ItemIDs[1] != "rs_2" {
		t.Errorf("item_ids = %v", payload.ItemIDs)
	}

	// Folding through BuildReplay must succeed for real adapter output.
	if _, err := BuildReplay(updates); err != nil {
		t.Errorf("BuildReplay: %v", err)
	}
}

func TestRegistrySelectPicksFirstApplicable(t *testing.T) {
	r := NewRegistry()
	r.Register(NewReasoningAdapter())

	if a := r.Select("openai", "o3-mini"); a == nil {
		t.Error("expected adapter for openai/o3-mini")
	}
	if a := r.Select("anthropic", "claude-sonnet-4-20250514"); a != nil {
		t.Errorf("unexpected adapter %s for anthropic", a.Name())
	}

	// Fresh instance per selection, never shared state.
	a1 := r.Select("openai", "o1")
	a1.OnPart(&providers.StreamPart{ProviderMeta: map[string]json.RawMessage{
		"reasoning_item_id": json.RawMessage(`"rs_x"`),
	}})
	a2 := r.Select("openai", "o1")
	if got := a2.ReplayUpdates(); got != nil {
		t.Errorf("second instance carried state: %v", got)
	}
}

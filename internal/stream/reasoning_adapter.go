package stream

import (
	"encoding/json"
	"strings"

	"github.com/spindlehq/spindle/internal/agent/providers"
	"github.com/spindlehq/spindle/internal/classify"
)

// reasoningAdapter captures opaque reasoning continuation tokens that
// OpenAI-compatible backends attach to stream parts, so the next turn can
// resume provider-side reasoning state. It also suppresses the trailing
// parser error some proxies emit after the final SSE chunk.
type reasoningAdapter struct {
	continuation json.RawMessage
	itemIDs      []string
}

// NewReasoningAdapter returns the factory for the reasoning-continuation
// adapter.
func NewReasoningAdapter() Factory {
	return func() Adapter { return &reasoningAdapter{} }
}

func (a *reasoningAdapter) Name() string { return "reasoning-continuation" }

func (a *reasoningAdapter) Applies(providerID, modelID string) bool {
	if providerID != "openai" {
		return false
	}
	return strings.HasPrefix(modelID, "o") || strings.HasPrefix(modelID, "gpt-5")
}

func (a *reasoningAdapter) OnPart(part *providers.StreamPart) {
	if part == nil || part.ProviderMeta == nil {
		return
	}
	if raw, ok := part.ProviderMeta["reasoning_continuation"]; ok && len(raw) > 0 {
		a.continuation = raw
	}
	if raw, ok := part.ProviderMeta["reasoning_item_id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			a.itemIDs = append(a.itemIDs, id)
		}
	}
}

func (a *reasoningAdapter) VetoError(err error, state TurnState) bool {
	if err == nil {
		return false
	}
	if !state.Finished && !state.ProducedOutput {
		return false
	}
	return classify.Classify(err).Kind == classify.KindStreamParse
}

func (a *reasoningAdapter) ReplayUpdates() []ReplayUpdate {
	if len(a.continuation) == 0 && len(a.itemIDs) == 0 {
		return nil
	}
	payload := map[string]any{}
	if len(a.continuation) > 0 {
		payload["continuation"] = json.RawMessage(a.continuation)
	}
	if len(a.itemIDs) > 0 {
		payload["item_ids"] = a.itemIDs
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return []ReplayUpdate{{Namespace: "openai.reasoning", Update: raw}}
}

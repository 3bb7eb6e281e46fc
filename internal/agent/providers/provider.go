// Package providers implements the LLM provider boundary: a registry of
// model handles and streaming implementations for Anthropic and OpenAI.
//
// The core treats a model handle as opaque and only consumes the
// streamed-parts protocol defined here: text deltas, complete tool-call
// parts, and a finish signal carrying usage and a provider metadata bag.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/spindlehq/spindle/pkg/models"
)

// Request is a single model-stream invocation.
type Request struct {
	Model     string
	System    string
	Messages  []models.HistoryMessage
	Tools     []models.ToolDefinition
	MaxTokens int

	// ReplayMeta carries namespaced continuation metadata recovered from
	// the previous assistant turn (stream adapter replay updates).
	ReplayMeta map[string]json.RawMessage
}

// StreamPart is one element of a model's streamed response.
type StreamPart struct {
	// Text is a partial response delta, streamed incrementally.
	Text string

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall

	// Done marks the finish signal; usage fields are only populated here.
	Done         bool
	InputTokens  int
	OutputTokens int

	// Err terminates the stream when set.
	Err error

	// ProviderMeta is the provider's opaque side-channel bag, observed by
	// the active stream adapter.
	ProviderMeta map[string]json.RawMessage
}

// Provider streams completions for one LLM backend. Implementations must
// be safe for concurrent use; each Stream call owns an independent
// channel that is closed when the stream ends.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan *StreamPart, error)
}

// Handle pairs a provider with a concrete model id.
type Handle struct {
	Provider Provider
	ModelID  string
}

// Registry resolves model ids to provider handles by prefix.
type Registry struct {
	mu       sync.RWMutex
	prefixes map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{prefixes: map[string]Provider{}}
}

// Register routes model ids beginning with any of the given prefixes to
// the provider. Later registrations win on prefix collision.
func (r *Registry) Register(p Provider, modelPrefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prefix := range modelPrefixes {
		r.prefixes[prefix] = p
	}
}

// GetModel resolves a model id to a handle. The longest matching prefix
// wins so "claude-3-5" can override "claude".
func (r *Registry) GetModel(modelID string) (Handle, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return Handle{}, fmt.Errorf("model id is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Provider
	bestLen := -1
	for prefix, p := range r.prefixes {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > bestLen {
			best = p
			bestLen = len(prefix)
		}
	}
	if best == nil {
		return Handle{}, fmt.Errorf("no provider registered for model %q", modelID)
	}
	return Handle{Provider: best, ModelID: modelID}, nil
}

// Package stream hosts provider-specific adapters over the raw model
// token stream. An adapter normalizes provider quirks into replay-safe
// metadata and may veto propagation of errors it recognizes as benign
// parser artifacts.
package stream

import (
	"sync"

	"github.com/spindlehq/spindle/internal/agent/providers"
)

// TurnState summarizes what the stream produced before an error, used
// when deciding whether an error veto is permitted.
type TurnState struct {
	// Finished is true once the stream delivered its finish signal.
	Finished bool
	// ProducedOutput is true once any text or tool-call part arrived.
	ProducedOutput bool
}

// Adapter observes one run's raw stream parts. At most one adapter is
// active per run.
type Adapter interface {
	// Name identifies the adapter in logs.
	Name() string

	// Applies reports whether this adapter handles the given provider and
	// model pair.
	Applies(providerID, modelID string) bool

	// OnPart observes a raw stream part. Adapters must not alter the text
	// the user sees.
	OnPart(part *providers.StreamPart)

	// VetoError reports whether err should be suppressed instead of
	// propagated. The pipeline only honors a veto when the stream had
	// already finished or produced output; adapters should still limit
	// vetoes to errors they positively recognize.
	VetoError(err error, state TurnState) bool

	// ReplayUpdates reports the adapter's accumulated updates for the
	// turn. The run loop collects them before each retry attempt and at
	// end of turn, when they are merged into the persisted assistant
	// message's part metadata.
	ReplayUpdates() []ReplayUpdate
}

// Factory builds a fresh adapter instance for a run. Adapters are
// stateful per turn, so the registry hands out new instances rather than
// sharing one across runs.
type Factory func() Adapter

// Registry selects the adapter for a run by (provider id, model id).
type Registry struct {
	mu        sync.RWMutex
	factories []Factory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an adapter factory. Selection order is registration
// order; the first applicable adapter wins.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// Select returns a fresh adapter for the provider/model pair, or nil if
// none applies.
func (r *Registry) Select(providerID, modelID string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.factories {
		a := f()
		if a.Applies(providerID, modelID) {
			return a
		}
	}
	return nil
}

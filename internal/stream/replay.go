package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved namespaces owned by the core message model. Adapters may not
// publish replay updates under these names.
const (
	NamespaceText      = "text"
	NamespaceReasoning = "reasoning"
)

// ReplayUpdate is provider-specific side-channel metadata an adapter
// attaches to the persisted assistant message at end of turn, keyed by
// the adapter's own namespace.
type ReplayUpdate struct {
	Namespace string
	Update    json.RawMessage
}

// BuildReplay validates a turn's replay updates and folds them into a
// namespace-keyed map. Violations are hard failures: empty or
// whitespace-only namespaces, reserved namespaces, duplicate namespaces
// within the turn, and empty update payloads are all rejected rather
// than silently overwritten.
func BuildReplay(updates []ReplayUpdate) (map[string]json.RawMessage, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(updates))
	for _, u := range updates {
		ns := u.Namespace
		if strings.TrimSpace(ns) == "" {
			return nil, fmt.Errorf("replay update namespace is empty")
		}
		if ns == NamespaceText || ns == NamespaceReasoning {
			return nil, fmt.Errorf("replay update namespace %q is reserved", ns)
		}
		if len(u.Update) == 0 || string(u.Update) == "null" || string(u.Update) == "{}" {
			return nil, fmt.Errorf("replay update for namespace %q is empty", ns)
		}
		if _, exists := out[ns]; exists {
			return nil, fmt.Errorf("duplicate replay update namespace %q", ns)
		}
		out[ns] = u.Update
	}
	return out, nil
}

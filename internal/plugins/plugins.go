// Package plugins loads hook plugins from explicit factory registrations
// and from manifest files auto-discovered in a workspace-relative
// directory.
package plugins

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/spindlehq/spindle/internal/hooks"
)

// Input is the read-only environment handed to a plugin factory.
type Input struct {
	WorkspaceRoot string
	GitRoot       string
	ProjectID     string
	StoragePath   string
	Config        map[string]any
	Logger        *slog.Logger
}

// Factory constructs a plugin's hook set from its input.
type Factory func(in Input) (*hooks.Hooks, error)

// Loader resolves plugin ids to factories and binds their hooks into a
// pipeline. Factories register under stable ids; manifests discovered on
// disk enable factories by id.
type Loader struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewLoader creates an empty plugin loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		factories: map[string]Factory{},
		logger:    logger.With("component", "plugins"),
	}
}

// RegisterFactory makes a plugin factory available under id.
func (l *Loader) RegisterFactory(id string, f Factory) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("plugin id is required")
	}
	if f == nil {
		return fmt.Errorf("plugin %s: factory is nil", id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.factories[id]; exists {
		return fmt.Errorf("plugin %s: factory already registered", id)
	}
	l.factories[id] = f
	return nil
}

// FactoryIDs lists registered factory ids, sorted.
func (l *Loader) FactoryIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.factories))
	for id := range l.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load instantiates the plugin with the given id and registers its hooks
// into the pipeline. Plugin tools are namespaced as "<pluginID>_<name>"
// to avoid id collisions with builtins and other plugins.
func (l *Loader) Load(id string, in Input, pipeline *hooks.Pipeline) error {
	l.mu.RLock()
	f, ok := l.factories[id]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %s: no factory registered", id)
	}
	if in.Logger == nil {
		in.Logger = l.logger.With("plugin_id", id)
	}
	h, err := f(in)
	if err != nil {
		return fmt.Errorf("plugin %s: factory failed: %w", id, err)
	}
	if h == nil {
		return fmt.Errorf("plugin %s: factory returned no hooks", id)
	}
	namespaceTools(id, h)
	pipeline.Register(id, h)
	return nil
}

func namespaceTools(pluginID string, h *hooks.Hooks) {
	for i := range h.Tools {
		def := &h.Tools[i].Definition
		prefix := pluginID + "_"
		if !strings.HasPrefix(def.ID, prefix) {
			def.ID = prefix + def.ID
		}
		if !strings.HasPrefix(def.Name, prefix) {
			def.Name = prefix + def.Name
		}
	}
}

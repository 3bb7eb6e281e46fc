package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/spindlehq/spindle/internal/hooks"
)

// Manifest describes one plugin enabled for a workspace. Manifests live
// as .yaml files under the workspace plugin directory.
type Manifest struct {
	ID      string         `yaml:"id"`
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

func (m *Manifest) enabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ManifestDir is the workspace-relative directory scanned for plugin
// manifests.
const ManifestDir = ".spindle/plugins"

// DiscoverManifests reads all manifests under root/ManifestDir. A missing
// directory is not an error.
func DiscoverManifests(root string) ([]Manifest, error) {
	dir := filepath.Join(root, ManifestDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}
	var manifests []Manifest
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", name, err)
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", name, err)
		}
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("manifest %s: id is required", name)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// LoadWorkspace discovers manifests under the workspace root and loads
// each enabled plugin that has a registered factory. Manifests naming an
// unknown factory are logged and skipped so one bad manifest does not
// block the rest.
func (l *Loader) LoadWorkspace(base Input, pipeline *hooks.Pipeline) error {
	manifests, err := DiscoverManifests(base.WorkspaceRoot)
	if err != nil {
		return err
	}
	for _, m := range manifests {
		if !m.enabled() {
			continue
		}
		in := base
		in.Config = m.Config
		in.Logger = l.logger.With("plugin_id", m.ID)
		if err := l.Load(m.ID, in, pipeline); err != nil {
			l.logger.Warn("plugin load failed", "plugin_id", m.ID, "error", err)
		}
	}
	return nil
}

// WatchWorkspace reloads the workspace's plugins into the pipeline
// whenever a manifest changes, so hook behavior follows the manifests
// without a restart. Tool contributions bind when the runner is built
// and still require one. Blocks until ctx is canceled or the watcher
// fails.
func (l *Loader) WatchWorkspace(ctx context.Context, base Input, pipeline *hooks.Pipeline) error {
	return Watch(ctx, base.WorkspaceRoot, func() {
		pipeline.Reset()
		if err := l.LoadWorkspace(base, pipeline); err != nil {
			l.logger.Warn("plugin reload failed", "error", err)
			return
		}
		l.logger.Info("plugins reloaded", "plugins", pipeline.Registrations())
	})
}

// Watch blocks watching the workspace plugin directory and invokes
// onChange whenever a manifest is created, modified, or removed. It
// returns when ctx is canceled or the watcher fails.
func Watch(ctx context.Context, root string, onChange func()) error {
	dir := filepath.Join(root, ManifestDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create plugin dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch plugin dir: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch plugin dir: %w", err)
		}
	}
}

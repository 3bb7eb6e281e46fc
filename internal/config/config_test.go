package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spindle.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
model: gpt-5
run:
  max_turns: 4
  tool_timeout: 10s
storage:
  backend: sqlite
  path: sessions.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "gpt-5" {
		t.Errorf("model = %s", cfg.Model)
	}
	if cfg.Run.MaxTurns != 4 || cfg.Run.ToolTimeout != 10*time.Second {
		t.Errorf("run = %+v", cfg.Run)
	}
	// Untouched fields keep their defaults.
	if cfg.Run.MaxTokens != 4096 || cfg.Run.MaxRetries != 3 {
		t.Errorf("defaults lost: %+v", cfg.Run)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "sessions.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("SPINDLE_TEST_KEY", "sk-from-env")
	path := writeConfig(t, `
providers:
  anthropic:
    api_key: ${SPINDLE_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown field", "modle: typo\n"},
		{"sqlite without path", "storage:\n  backend: sqlite\n"},
		{"postgres without dsn", "storage:\n  backend: postgres\n"},
		{"unknown backend", "storage:\n  backend: redis\n"},
		{"unknown host permission", "run:\n  host_permission: maybe\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(""); err == nil {
		t.Error("empty path accepted")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

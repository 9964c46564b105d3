package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "")
	t.Setenv("AGENT_MODEL", "")

	m := NewManagerAt(t.TempDir())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "" || cfg.Model != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	m := NewManagerAt(t.TempDir())
	want := &Config{
		Provider:                 "anthropic",
		Model:                    "claude-sonnet-4-20250514",
		WorkingDir:               "/work/project",
		AllowedDirs:              []string{"/work/project"},
		InactivityTimeoutSeconds: 90,
		ThrottleMillis:           500,
	}
	if err := m.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Provider != want.Provider || got.Model != want.Model {
		t.Errorf("round trip lost provider/model: %+v", got)
	}
	if got.InactivityTimeout() != 90*time.Second {
		t.Errorf("InactivityTimeout() = %v", got.InactivityTimeout())
	}
	if got.ThrottleInterval() != 500*time.Millisecond {
		t.Errorf("ThrottleInterval() = %v", got.ThrottleInterval())
	}

	info, err := os.Stat(m.GetConfigPath())
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	m := NewManagerAt(t.TempDir())
	if err := m.Save(&Config{Provider: "openai", InactivityTimeoutSeconds: 30}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	t.Setenv("AGENT_PROVIDER", "anthropic")
	t.Setenv("RELAY_INACTIVITY_TIMEOUT_SECONDS", "120")

	got, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Provider != "anthropic" {
		t.Errorf("provider = %q, env should win", got.Provider)
	}
	if got.InactivityTimeoutSeconds != 120 {
		t.Errorf("timeout = %d, env should win", got.InactivityTimeoutSeconds)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerAt(dir)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(); err == nil {
		t.Error("expected parse error for corrupt config")
	}
}

func TestWatchDeliversReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerAt(dir)
	if err := m.Save(&Config{Model: "before"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- m.Watch(ctx, func(cfg *Config) { got <- cfg })
	}()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := m.Save(&Config{Model: "after"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case cfg := <-got:
		if cfg.Model != "after" {
			t.Errorf("reloaded model = %q, want %q", cfg.Model, "after")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	if err := <-watchErr; err != context.Canceled {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}
}

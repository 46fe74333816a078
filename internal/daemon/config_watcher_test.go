package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/config"
)

func TestStaticConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model = "gemini-2.5-flash"

	sc := NewStaticConfig(cfg)
	if got := sc.Config(); got.Model != "gemini-2.5-flash" {
		t.Errorf("Expected gemini-2.5-flash, got %q", got.Model)
	}

	// Interface check
	var _ ConfigGetter = sc
}

func TestConfigWatcherNoPath(t *testing.T) {
	cw := NewConfigWatcher("", config.DefaultConfig(), NewBroadcaster(), nil)
	t.Cleanup(cw.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Empty path means no watching, but Start must still succeed
	if err := cw.Start(ctx); err != nil {
		t.Fatalf("Start with empty path failed: %v", err)
	}
	if cw.Config() == nil {
		t.Error("Expected config accessible without watching")
	}
}

func TestConfigWatcherReload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("model = \"gemini-2.5-pro\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadGlobalFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load initial config: %v", err)
	}

	broadcaster := NewBroadcaster()
	cw := NewConfigWatcher(configPath, cfg, broadcaster, nil)
	t.Cleanup(cw.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, events := broadcaster.Subscribe("")

	content := "model = \"gemini-2.5-flash\"\nmax_iterations = 75\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	// Wait for the debounced reload to land
	timeout := time.After(5 * time.Second)
waitReload:
	for {
		select {
		case ev := <-events:
			if ev.Type == "config.reloaded" {
				break waitReload
			}
		case <-timeout:
			t.Fatal("Timed out waiting for config.reloaded event")
		}
	}

	got := cw.Config()
	if got.Model != "gemini-2.5-flash" {
		t.Errorf("Expected reloaded model gemini-2.5-flash, got %q", got.Model)
	}
	if got.MaxIterations != 75 {
		t.Errorf("Expected reloaded max_iterations 75, got %d", got.MaxIterations)
	}
	if cw.ReloadCounter() == 0 {
		t.Error("Expected reload counter incremented")
	}
	if cw.LastReloadedAt().IsZero() {
		t.Error("Expected last reloaded time set")
	}
}

func TestConfigWatcherKeepsConfigOnParseError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("model = \"gemini-2.5-pro\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadGlobalFrom(configPath)
	if err != nil {
		t.Fatal(err)
	}

	cw := NewConfigWatcher(configPath, cfg, NewBroadcaster(), nil)
	t.Cleanup(cw.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("model = [broken\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// Give the debounce plus reload attempt time to run
	time.Sleep(600 * time.Millisecond)

	if got := cw.Config(); got.Model != "gemini-2.5-pro" {
		t.Errorf("Expected config preserved on parse error, got model %q", got.Model)
	}
	if cw.ReloadCounter() != 0 {
		t.Errorf("Expected no reload recorded for broken config, got %d", cw.ReloadCounter())
	}
}

func TestConfigWatcherNotRestartSafe(t *testing.T) {
	cw := NewConfigWatcher("", config.DefaultConfig(), NewBroadcaster(), nil)
	cw.Stop()

	if err := cw.Start(context.Background()); err == nil {
		t.Error("Expected Start after Stop to fail")
	}
}

func TestConfigWatcherStopIdempotent(t *testing.T) {
	cw := NewConfigWatcher("", config.DefaultConfig(), NewBroadcaster(), nil)
	cw.Stop()
	cw.Stop() // Must not panic
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServerAddr != "127.0.0.1:8765" {
		t.Errorf("Expected ServerAddr '127.0.0.1:8765', got '%s'", cfg.ServerAddr)
	}
	if cfg.Provider != "gemini" {
		t.Errorf("Expected Provider 'gemini', got '%s'", cfg.Provider)
	}
	if cfg.Model != "gemini-2.5-pro" {
		t.Errorf("Expected Model 'gemini-2.5-pro', got '%s'", cfg.Model)
	}
	if cfg.MaxIterations != 20 {
		t.Errorf("Expected MaxIterations 20, got %d", cfg.MaxIterations)
	}
	if cfg.MaxConcurrentReviews != 4 {
		t.Errorf("Expected MaxConcurrentReviews 4, got %d", cfg.MaxConcurrentReviews)
	}
	if cfg.ArchiveBackend != "sqlite" {
		t.Errorf("Expected ArchiveBackend 'sqlite', got '%s'", cfg.ArchiveBackend)
	}
}

func TestDataDir(t *testing.T) {
	t.Run("default uses home directory", func(t *testing.T) {
		// Clear env var to test default
		origEnv := os.Getenv("REVIEWER_DATA_DIR")
		os.Unsetenv("REVIEWER_DATA_DIR")
		defer func() {
			if origEnv != "" {
				os.Setenv("REVIEWER_DATA_DIR", origEnv)
			}
		}()

		dir := DataDir()
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".reviewer")
		if dir != expected {
			t.Errorf("Expected %s, got %s", expected, dir)
		}
	})

	t.Run("env var overrides default", func(t *testing.T) {
		origEnv := os.Getenv("REVIEWER_DATA_DIR")
		os.Setenv("REVIEWER_DATA_DIR", "/custom/data/dir")
		defer func() {
			if origEnv != "" {
				os.Setenv("REVIEWER_DATA_DIR", origEnv)
			} else {
				os.Unsetenv("REVIEWER_DATA_DIR")
			}
		}()

		dir := DataDir()
		if dir != "/custom/data/dir" {
			t.Errorf("Expected /custom/data/dir, got %s", dir)
		}
	})

	t.Run("GlobalConfigPath uses DataDir", func(t *testing.T) {
		origEnv := os.Getenv("REVIEWER_DATA_DIR")
		testDir := filepath.Join(os.TempDir(), "reviewer-test")
		os.Setenv("REVIEWER_DATA_DIR", testDir)
		defer func() {
			if origEnv != "" {
				os.Setenv("REVIEWER_DATA_DIR", origEnv)
			} else {
				os.Unsetenv("REVIEWER_DATA_DIR")
			}
		}()

		path := GlobalConfigPath()
		expected := filepath.Join(testDir, "config.toml")
		if path != expected {
			t.Errorf("Expected %s, got %s", expected, path)
		}
	})
}

func TestResolveModel(t *testing.T) {
	cfg := DefaultConfig()
	tmpDir := t.TempDir()

	// Test explicit model takes precedence
	model := ResolveModel("gemini-2.0-flash", tmpDir, cfg)
	if model != "gemini-2.0-flash" {
		t.Errorf("Expected 'gemini-2.0-flash', got '%s'", model)
	}

	// Test empty explicit falls back to global config
	model = ResolveModel("", tmpDir, cfg)
	if model != "gemini-2.5-pro" {
		t.Errorf("Expected 'gemini-2.5-pro' (from global), got '%s'", model)
	}

	// Test per-repo config
	writeRepoConfigStr(t, tmpDir, "model: gemini-2.5-flash\n")

	model = ResolveModel("", tmpDir, cfg)
	if model != "gemini-2.5-flash" {
		t.Errorf("Expected 'gemini-2.5-flash' (from repo config), got '%s'", model)
	}

	// Explicit still takes precedence over repo config
	model = ResolveModel("gemini-2.5-pro", tmpDir, cfg)
	if model != "gemini-2.5-pro" {
		t.Errorf("Expected 'gemini-2.5-pro' (explicit), got '%s'", model)
	}
}

func TestSaveAndLoadGlobal(t *testing.T) {
	tmpData := t.TempDir()
	origEnv := os.Getenv("REVIEWER_DATA_DIR")
	os.Setenv("REVIEWER_DATA_DIR", tmpData)
	defer func() {
		if origEnv != "" {
			os.Setenv("REVIEWER_DATA_DIR", origEnv)
		} else {
			os.Unsetenv("REVIEWER_DATA_DIR")
		}
	}()

	cfg := DefaultConfig()
	cfg.Model = "gemini-2.5-flash"
	cfg.MaxConcurrentReviews = 8
	cfg.APIKey = "sk-test-1234"

	err := SaveGlobal(cfg)
	if err != nil {
		t.Fatalf("SaveGlobal failed: %v", err)
	}

	loaded, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal failed: %v", err)
	}

	if loaded.Model != "gemini-2.5-flash" {
		t.Errorf("Expected Model 'gemini-2.5-flash', got '%s'", loaded.Model)
	}
	if loaded.MaxConcurrentReviews != 8 {
		t.Errorf("Expected MaxConcurrentReviews 8, got %d", loaded.MaxConcurrentReviews)
	}
	if loaded.APIKey != "sk-test-1234" {
		t.Errorf("Expected APIKey to round-trip, got '%s'", loaded.APIKey)
	}
}

func TestLoadRepoConfigWithGuidelines(t *testing.T) {
	tmpDir := t.TempDir()

	// Test loading config with review guidelines as multi-line string
	configContent := `model: gemini-2.5-flash
guidelines: |
  We are not doing database migrations because there are no production databases yet.
  Prefer composition over inheritance.
  All public APIs must have documentation comments.
`
	writeRepoConfigStr(t, tmpDir, configContent)

	cfg, err := LoadRepoConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadRepoConfig failed: %v", err)
	}

	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}

	if cfg.Model != "gemini-2.5-flash" {
		t.Errorf("Expected model 'gemini-2.5-flash', got '%s'", cfg.Model)
	}

	if !strings.Contains(cfg.Guidelines, "database migrations") {
		t.Errorf("Expected guidelines to contain 'database migrations', got '%s'", cfg.Guidelines)
	}

	if !strings.Contains(cfg.Guidelines, "composition over inheritance") {
		t.Errorf("Expected guidelines to contain 'composition over inheritance'")
	}
}

func TestLoadRepoConfigMissing(t *testing.T) {
	tmpDir := t.TempDir()

	// Test loading from directory with no config file
	cfg, err := LoadRepoConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadRepoConfig failed: %v", err)
	}

	if cfg != nil {
		t.Error("Expected nil config when file doesn't exist")
	}
}

func TestFindRepoConfigWalksUp(t *testing.T) {
	root := t.TempDir()
	writeRepoConfigStr(t, root, "mode: ai\n")

	nested := filepath.Join(root, "src", "pkg")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	path, ok := FindRepoConfig(nested)
	if !ok {
		t.Fatal("Expected to find config in an ancestor directory")
	}
	if path != filepath.Join(root, RepoConfigName) {
		t.Errorf("Expected %s, got %s", filepath.Join(root, RepoConfigName), path)
	}

	cfg, err := LoadRepoConfig(nested)
	if err != nil {
		t.Fatalf("LoadRepoConfig failed: %v", err)
	}
	if cfg == nil || cfg.Mode != "ai" {
		t.Errorf("Expected mode 'ai' from ancestor config, got %+v", cfg)
	}
}

func TestResolveMaxIterations(t *testing.T) {
	t.Run("default when no config", func(t *testing.T) {
		tmpDir := t.TempDir()
		n := ResolveMaxIterations(0, tmpDir, nil)
		if n != 20 {
			t.Errorf("Expected default 20, got %d", n)
		}
	})

	t.Run("explicit takes precedence", func(t *testing.T) {
		tmpDir := newTempRepo(t, "max_iterations: 5\n")
		cfg := &Config{MaxIterations: 40}
		n := ResolveMaxIterations(12, tmpDir, cfg)
		if n != 12 {
			t.Errorf("Expected 12 from explicit value, got %d", n)
		}
	})

	t.Run("repo config takes precedence over global", func(t *testing.T) {
		tmpDir := newTempRepo(t, "max_iterations: 5\n")
		cfg := &Config{MaxIterations: 40}
		n := ResolveMaxIterations(0, tmpDir, cfg)
		if n != 5 {
			t.Errorf("Expected 5 from repo config, got %d", n)
		}
	})

	t.Run("global config takes precedence over default", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := &Config{MaxIterations: 40}
		n := ResolveMaxIterations(0, tmpDir, cfg)
		if n != 40 {
			t.Errorf("Expected 40 from global config, got %d", n)
		}
	})

	t.Run("repo config zero falls through to global", func(t *testing.T) {
		tmpDir := newTempRepo(t, "max_iterations: 0\n")
		cfg := &Config{MaxIterations: 40}
		n := ResolveMaxIterations(0, tmpDir, cfg)
		if n != 40 {
			t.Errorf("Expected 40 from global (repo is 0), got %d", n)
		}
	})

	t.Run("malformed repo config falls through to global", func(t *testing.T) {
		tmpDir := newTempRepo(t, "max_iterations: [not a number\n")
		cfg := &Config{MaxIterations: 40}
		n := ResolveMaxIterations(0, tmpDir, cfg)
		if n != 40 {
			t.Errorf("Expected 40 from global (repo config malformed), got %d", n)
		}
	})
}

func TestResolveMode(t *testing.T) {
	t.Run("default when no config", func(t *testing.T) {
		tmpDir := t.TempDir()
		if mode := ResolveMode("", tmpDir); mode != "critical" {
			t.Errorf("Expected default 'critical', got '%s'", mode)
		}
	})

	t.Run("repo config when explicit empty", func(t *testing.T) {
		tmpDir := newTempRepo(t, "mode: ai\n")
		if mode := ResolveMode("", tmpDir); mode != "ai" {
			t.Errorf("Expected 'ai' from repo config, got '%s'", mode)
		}
	})

	t.Run("explicit overrides repo config", func(t *testing.T) {
		tmpDir := newTempRepo(t, "mode: ai\n")
		if mode := ResolveMode("full", tmpDir); mode != "full" {
			t.Errorf("Expected 'full' from explicit override, got '%s'", mode)
		}
	})
}

func TestRateLimitEnabled(t *testing.T) {
	if !RateLimitEnabled(nil) {
		t.Error("Expected rate limiting on for nil config")
	}
	if !RateLimitEnabled(DefaultConfig()) {
		t.Error("Expected rate limiting on by default")
	}

	off := false
	if RateLimitEnabled(&Config{RateLimit: &off}) {
		t.Error("Expected rate limiting off when explicitly disabled")
	}

	on := true
	if !RateLimitEnabled(&Config{RateLimit: &on}) {
		t.Error("Expected rate limiting on when explicitly enabled")
	}
}

func TestLoadGlobalRateLimitOptOut(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
model = "gemini-2.5-flash"
rate_limit = false
allowed_roots = ["/srv/repos"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadGlobalFrom(configPath)
	if err != nil {
		t.Fatalf("LoadGlobalFrom failed: %v", err)
	}

	if cfg.RateLimit == nil || *cfg.RateLimit != false {
		t.Error("Expected RateLimit explicitly false")
	}
	if RateLimitEnabled(cfg) {
		t.Error("Expected RateLimitEnabled to report false")
	}
	if cfg.Model != "gemini-2.5-flash" {
		t.Errorf("Unexpected Model: %s", cfg.Model)
	}
	if len(cfg.AllowedRoots) != 1 || cfg.AllowedRoots[0] != "/srv/repos" {
		t.Errorf("Unexpected AllowedRoots: %v", cfg.AllowedRoots)
	}

	// Defaults still fill the unset fields
	if cfg.ServerAddr != "127.0.0.1:8765" {
		t.Errorf("Expected default ServerAddr, got '%s'", cfg.ServerAddr)
	}
}

func TestLoadGlobalMissingFile(t *testing.T) {
	cfg, err := LoadGlobalFrom(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadGlobalFrom failed: %v", err)
	}
	if cfg.Model != "gemini-2.5-pro" {
		t.Errorf("Expected defaults for missing file, got Model '%s'", cfg.Model)
	}
}

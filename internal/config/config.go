package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// RepoConfigName is the per-repo overlay file, discovered by walking
// up from the project root.
const RepoConfigName = ".reviewer.yaml"

// Config holds the global configuration shared by the CLI and daemon
type Config struct {
	ServerAddr           string `toml:"server_addr"`
	Provider             string `toml:"provider"`
	Model                string `toml:"model"`
	APIKey               string `toml:"api_key" sensitive:"true"`
	BaseURL              string `toml:"base_url"`
	MaxIterations        int    `toml:"max_iterations"`
	MaxConcurrentReviews int    `toml:"max_concurrent_reviews"`
	ReviewTimeoutMinutes int    `toml:"review_timeout_minutes"`
	RateLimit            *bool  `toml:"rate_limit"` // nil means enabled

	// Archive
	ArchiveBackend string `toml:"archive_backend"` // "sqlite" or "postgres"
	PostgresDSN    string `toml:"postgres_dsn" sensitive:"true"`

	// Extra prefixes allowed as project roots, on top of home and temp
	AllowedRoots []string `toml:"allowed_roots"`
}

// RepoConfig holds per-repo overrides from .reviewer.yaml
type RepoConfig struct {
	Model         string   `yaml:"model"`
	Provider      string   `yaml:"provider"`
	Mode          string   `yaml:"mode"`
	MaxIterations int      `yaml:"max_iterations"`
	Guidelines    string   `yaml:"guidelines"`
	DesignDoc     string   `yaml:"design_doc"`
	Exclude       []string `yaml:"exclude"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerAddr:           "127.0.0.1:8765",
		Provider:             "gemini",
		Model:                "gemini-2.5-pro",
		MaxIterations:        20,
		MaxConcurrentReviews: 4,
		ReviewTimeoutMinutes: 30,
		ArchiveBackend:       "sqlite",
	}
}

// DataDir returns the reviewer data directory.
// Uses REVIEWER_DATA_DIR env var if set, otherwise ~/.reviewer
func DataDir() string {
	if dir := os.Getenv("REVIEWER_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reviewer")
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// LoadGlobal loads the global configuration from the default path
func LoadGlobal() (*Config, error) {
	return LoadGlobalFrom(GlobalConfigPath())
}

// LoadGlobalFrom loads the global configuration from a specific path
func LoadGlobalFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FindRepoConfig walks up from start looking for .reviewer.yaml and
// returns its path.
func FindRepoConfig(start string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		path := filepath.Join(dir, RepoConfigName)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// LoadRepoConfig loads per-repo config discovered from start upward
func LoadRepoConfig(start string) (*RepoConfig, error) {
	path, ok := FindRepoConfig(start)
	if !ok {
		return nil, nil // No repo config
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RepoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveModel determines which model to use based on config priority:
// 1. Explicit model parameter (if non-empty)
// 2. Per-repo config
// 3. Global config
// 4. Default ("gemini-2.5-pro")
func ResolveModel(explicit string, repoPath string, globalCfg *Config) string {
	if explicit != "" {
		return explicit
	}

	if repoCfg, err := LoadRepoConfig(repoPath); err == nil && repoCfg != nil && repoCfg.Model != "" {
		return repoCfg.Model
	}

	if globalCfg != nil && globalCfg.Model != "" {
		return globalCfg.Model
	}

	return "gemini-2.5-pro"
}

// ResolveProvider determines the provider with the same priority
// order as ResolveModel.
func ResolveProvider(explicit string, repoPath string, globalCfg *Config) string {
	if explicit != "" {
		return explicit
	}

	if repoCfg, err := LoadRepoConfig(repoPath); err == nil && repoCfg != nil && repoCfg.Provider != "" {
		return repoCfg.Provider
	}

	if globalCfg != nil && globalCfg.Provider != "" {
		return globalCfg.Provider
	}

	return "gemini"
}

// ResolveMaxIterations determines the iteration budget:
// 1. Explicit value (if > 0)
// 2. Per-repo config (if set and > 0)
// 3. Global config (if set and > 0)
// 4. Default (20)
func ResolveMaxIterations(explicit int, repoPath string, globalCfg *Config) int {
	if explicit > 0 {
		return explicit
	}

	if repoCfg, err := LoadRepoConfig(repoPath); err == nil && repoCfg != nil && repoCfg.MaxIterations > 0 {
		return repoCfg.MaxIterations
	}

	if globalCfg != nil && globalCfg.MaxIterations > 0 {
		return globalCfg.MaxIterations
	}

	return 20
}

// ResolveMode determines the review mode, defaulting to "critical".
func ResolveMode(explicit string, repoPath string) string {
	if explicit != "" {
		return explicit
	}

	if repoCfg, err := LoadRepoConfig(repoPath); err == nil && repoCfg != nil && repoCfg.Mode != "" {
		return repoCfg.Mode
	}

	return "critical"
}

// RateLimitEnabled reports whether admission control is on. Absent
// means on; turning it off is an explicit opt-out.
func RateLimitEnabled(cfg *Config) bool {
	if cfg == nil || cfg.RateLimit == nil {
		return true
	}
	return *cfg.RateLimit
}

// SaveGlobal saves the global configuration
func SaveGlobal(cfg *Config) error {
	path := GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

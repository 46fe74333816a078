package config

import (
	"testing"
)

func toMap(kvs []KeyValue) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func toOriginMap(kvos []KeyValueOrigin) map[string]KeyValueOrigin {
	m := make(map[string]KeyValueOrigin, len(kvos))
	for _, kvo := range kvos {
		m[kvo.Key] = kvo
	}
	return m
}

func TestGetConfigValue(t *testing.T) {
	cfg := &Config{
		Model:                "gemini-2.5-flash",
		MaxIterations:        15,
		MaxConcurrentReviews: 2,
		ServerAddr:           "127.0.0.1:9999",
	}

	tests := []struct {
		key  string
		want string
	}{
		{"model", "gemini-2.5-flash"},
		{"max_iterations", "15"},
		{"max_concurrent_reviews", "2"},
		{"server_addr", "127.0.0.1:9999"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := GetConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("GetConfigValue(%q) error: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("GetConfigValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestGetConfigValueRepo(t *testing.T) {
	cfg := &RepoConfig{
		Mode:       "ai",
		Guidelines: "Prefer composition",
	}

	tests := []struct {
		key  string
		want string
	}{
		{"mode", "ai"},
		{"guidelines", "Prefer composition"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := GetConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("GetConfigValue(%q) error: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("GetConfigValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestGetConfigValueUnknownKey(t *testing.T) {
	cfg := &Config{}
	_, err := GetConfigValue(cfg, "nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		val    string
		verify func(*Config) bool
	}{
		{
			name:   "set string field",
			key:    "model",
			val:    "gemini-2.0-flash",
			verify: func(c *Config) bool { return c.Model == "gemini-2.0-flash" },
		},
		{
			name:   "set int field",
			key:    "max_iterations",
			val:    "8",
			verify: func(c *Config) bool { return c.MaxIterations == 8 },
		},
		{
			name:   "set sensitive field",
			key:    "api_key",
			val:    "sk-test-1234",
			verify: func(c *Config) bool { return c.APIKey == "sk-test-1234" },
		},
		{
			name:   "set slice field",
			key:    "allowed_roots",
			val:    "/srv/repos, /opt/checkouts",
			verify: func(c *Config) bool {
				return len(c.AllowedRoots) == 2 && c.AllowedRoots[0] == "/srv/repos" && c.AllowedRoots[1] == "/opt/checkouts"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			err := SetConfigValue(cfg, tt.key, tt.val)
			if err != nil {
				t.Fatalf("SetConfigValue(%q, %q) error: %v", tt.key, tt.val, err)
			}
			if !tt.verify(cfg) {
				t.Errorf("verification failed for key %q value %q", tt.key, tt.val)
			}
		})
	}
}

func TestSetConfigValueBoolPtr(t *testing.T) {
	cfg := &Config{}
	if err := SetConfigValue(cfg, "rate_limit", "false"); err != nil {
		t.Fatalf("SetConfigValue error: %v", err)
	}
	if cfg.RateLimit == nil || *cfg.RateLimit {
		t.Error("RateLimit should be explicitly false")
	}

	if err := SetConfigValue(cfg, "rate_limit", "true"); err != nil {
		t.Fatalf("SetConfigValue error: %v", err)
	}
	if cfg.RateLimit == nil || !*cfg.RateLimit {
		t.Error("RateLimit should be explicitly true")
	}
}

func TestSetConfigValueInvalidType(t *testing.T) {
	cfg := &Config{}
	if err := SetConfigValue(cfg, "max_iterations", "notanumber"); err == nil {
		t.Fatal("expected error for invalid integer")
	}
	if err := SetConfigValue(cfg, "rate_limit", "maybe"); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}

func TestSetConfigValueSliceEmpty(t *testing.T) {
	cfg := &Config{
		AllowedRoots: []string{"/srv/repos"},
	}
	if err := SetConfigValue(cfg, "allowed_roots", ""); err != nil {
		t.Fatalf("SetConfigValue error: %v", err)
	}
	if len(cfg.AllowedRoots) != 0 {
		t.Errorf("AllowedRoots = %v, want empty slice", cfg.AllowedRoots)
	}
}

func TestListConfigKeys(t *testing.T) {
	cfg := &Config{
		Model:         "gemini-2.5-pro",
		MaxIterations: 20,
		AllowedRoots:  []string{"/srv/repos", "/opt/checkouts"},
	}

	kvs := ListConfigKeys(cfg)
	if len(kvs) == 0 {
		t.Fatal("expected non-empty list")
	}

	found := toMap(kvs)

	if found["model"] != "gemini-2.5-pro" {
		t.Errorf("missing or wrong model: %q", found["model"])
	}
	if found["max_iterations"] != "20" {
		t.Errorf("missing or wrong max_iterations: %q", found["max_iterations"])
	}
	if found["allowed_roots"] != "/srv/repos,/opt/checkouts" {
		t.Errorf("missing or wrong allowed_roots: %q", found["allowed_roots"])
	}

	// Zero-valued fields are omitted
	if _, ok := found["api_key"]; ok {
		t.Error("expected api_key to be omitted when empty")
	}
	if _, ok := found["rate_limit"]; ok {
		t.Error("expected rate_limit to be omitted when unset")
	}
}

func TestListConfigKeysRepo(t *testing.T) {
	cfg := &RepoConfig{
		Mode:       "prototype",
		Guidelines: "Be thorough",
	}

	kvs := ListConfigKeys(cfg)
	found := toMap(kvs)

	if found["mode"] != "prototype" {
		t.Errorf("missing or wrong mode: %q", found["mode"])
	}
	if found["guidelines"] != "Be thorough" {
		t.Errorf("missing or wrong guidelines: %q", found["guidelines"])
	}
}

func TestMergedConfigWithOrigin(t *testing.T) {
	global := DefaultConfig()
	global.Model = "gemini-2.5-flash"

	repo := &RepoConfig{
		Mode: "ai",
	}

	rawGlobal := map[string]interface{}{"model": "gemini-2.5-flash"}
	rawRepo := map[string]interface{}{"mode": "ai"}

	kvos := MergedConfigWithOrigin(global, repo, rawGlobal, rawRepo)
	if len(kvos) == 0 {
		t.Fatal("expected non-empty list")
	}

	found := toOriginMap(kvos)

	// model is set in global (overrides default "gemini-2.5-pro")
	if kvo, ok := found["model"]; ok {
		if kvo.Value != "gemini-2.5-flash" || kvo.Origin != "global" {
			t.Errorf("model = {%q, %q}, want {gemini-2.5-flash, global}", kvo.Value, kvo.Origin)
		}
	} else {
		t.Error("missing model in merged output")
	}

	// server_addr is at default value
	if kvo, ok := found["server_addr"]; ok {
		if kvo.Origin != "default" {
			t.Errorf("server_addr origin = %q, want default", kvo.Origin)
		}
	} else {
		t.Error("missing server_addr in merged output")
	}

	// mode is a repo-only key
	if kvo, ok := found["mode"]; ok {
		if kvo.Value != "ai" || kvo.Origin != "local" {
			t.Errorf("mode = {%q, %q}, want {ai, local}", kvo.Value, kvo.Origin)
		}
	} else {
		t.Error("missing mode in merged output")
	}
}

func TestMergedConfigWithOriginLocalOverridesGlobal(t *testing.T) {
	global := DefaultConfig()
	global.MaxIterations = 40

	repo := &RepoConfig{
		MaxIterations: 5,
	}

	rawGlobal := map[string]interface{}{"max_iterations": int64(40)}
	rawRepo := map[string]interface{}{"max_iterations": 5}

	kvos := MergedConfigWithOrigin(global, repo, rawGlobal, rawRepo)
	found := toOriginMap(kvos)

	// max_iterations should be overridden by local
	if kvo, ok := found["max_iterations"]; ok {
		if kvo.Value != "5" || kvo.Origin != "local" {
			t.Errorf("max_iterations = {%q, %q}, want {5, local}", kvo.Value, kvo.Origin)
		}
	} else {
		t.Error("missing max_iterations in merged output")
	}
}

func TestMergedConfigWithOriginExplicitFalse(t *testing.T) {
	off := false
	global := DefaultConfig()
	global.RateLimit = &off

	rawGlobal := map[string]interface{}{"rate_limit": false}

	kvos := MergedConfigWithOrigin(global, nil, rawGlobal, nil)
	found := toOriginMap(kvos)

	// Explicit false must show up even though it formats like a zero value
	if kvo, ok := found["rate_limit"]; ok {
		if kvo.Value != "false" || kvo.Origin != "global" {
			t.Errorf("rate_limit = {%q, %q}, want {false, global}", kvo.Value, kvo.Origin)
		}
	} else {
		t.Error("missing rate_limit in merged output")
	}
}

func TestMergedConfigWithOriginOmitsUnsetEmpty(t *testing.T) {
	global := DefaultConfig()

	kvos := MergedConfigWithOrigin(global, nil, nil, nil)
	found := toOriginMap(kvos)

	if _, ok := found["api_key"]; ok {
		t.Error("expected unset api_key to be omitted")
	}
	if _, ok := found["rate_limit"]; ok {
		t.Error("expected unset rate_limit to be omitted")
	}
	if found["provider"].Origin != "default" {
		t.Errorf("provider origin = %q, want default", found["provider"].Origin)
	}
}

func TestIsConfigValueSet(t *testing.T) {
	cfg := &Config{
		Model:         "gemini-2.5-pro",
		MaxIterations: 20,
	}

	if !IsConfigValueSet(cfg, "model") {
		t.Error("expected model to be set")
	}
	if !IsConfigValueSet(cfg, "max_iterations") {
		t.Error("expected max_iterations to be set")
	}
	if IsConfigValueSet(cfg, "api_key") {
		t.Error("expected api_key to not be set")
	}
	if IsConfigValueSet(cfg, "nonexistent") {
		t.Error("expected nonexistent to not be set")
	}
}

func TestIsKeyInRaw(t *testing.T) {
	raw := map[string]interface{}{
		"rate_limit": false,
		"model":      "gemini-2.5-pro",
	}

	if !IsKeyInRaw(raw, "rate_limit") {
		t.Error("expected rate_limit to be present (explicit false)")
	}
	if !IsKeyInRaw(raw, "model") {
		t.Error("expected model to be present")
	}
	if IsKeyInRaw(raw, "api_key") {
		t.Error("expected api_key to be absent")
	}
}

func TestLoadRawRepo(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		dir := newTempRepo(t, "mode: ai\nmax_iterations: 5\n")
		raw, err := LoadRawRepo(dir)
		if err != nil {
			t.Fatalf("LoadRawRepo error: %v", err)
		}
		if !IsKeyInRaw(raw, "mode") || !IsKeyInRaw(raw, "max_iterations") {
			t.Errorf("expected mode and max_iterations in raw map, got %v", raw)
		}
		if IsKeyInRaw(raw, "model") {
			t.Error("expected model to be absent from raw map")
		}
	})

	t.Run("missing", func(t *testing.T) {
		raw, err := LoadRawRepo(t.TempDir())
		if err != nil {
			t.Fatalf("LoadRawRepo error: %v", err)
		}
		if raw != nil {
			t.Errorf("expected nil raw map, got %v", raw)
		}
	})
}

func TestIsValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"model", true},         // global and repo
		{"mode", true},          // repo only
		{"api_key", true},       // global only
		{"allowed_roots", true}, // global only
		{"guidelines", true},    // repo only
		{"rate_limit", true},
		{"nonexistent", false},
		{"fake.key", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := IsValidKey(tt.key)
			if got != tt.want {
				t.Errorf("IsValidKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	if !IsSensitiveKey("api_key") {
		t.Error("expected api_key to be sensitive")
	}
	if !IsSensitiveKey("postgres_dsn") {
		t.Error("expected postgres_dsn to be sensitive")
	}
	if IsSensitiveKey("model") {
		t.Error("expected model to not be sensitive")
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sk-abcdef1234", "****1234"},
		{"abcd", "****"},
		{"ab", "****"},
		{"", "****"},
	}

	for _, tt := range tests {
		if got := MaskValue(tt.in); got != tt.want {
			t.Errorf("MaskValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

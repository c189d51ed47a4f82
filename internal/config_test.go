package internal

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/nbtrust/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Trust.Algorithm != "sha256" {
		t.Errorf("algorithm = %q, want sha256", cfg.Trust.Algorithm)
	}
	if cfg.Trust.CacheSize != 65535 {
		t.Errorf("cache size = %d, want 65535", cfg.Trust.CacheSize)
	}
}

func TestTrustConfig_UnknownAlgorithm(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Trust.Algorithm = "md5"
	if err := cfg.Validate(); err == nil {
		t.Fatal("md5 should be rejected")
	}
}

func TestTrustConfig_AlgorithmAliases(t *testing.T) {
	for _, name := range []string{"SHA256", "sha3-256", " blake2b "} {
		cfg := NewDefaultConfig()
		cfg.Trust.Algorithm = name
		if err := cfg.Validate(); err != nil {
			t.Errorf("algorithm %q rejected: %v", name, err)
		}
	}
}

func TestTrustConfig_CacheSizeMustBePositive(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Trust.CacheSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero cache size should be rejected")
	}
}

func TestTrustConfig_NegativeCullInterval(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Trust.CullInterval = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative cull interval should be rejected")
	}
}

func TestTrustConfig_ResolvedDataDir(t *testing.T) {
	t.Setenv("NBTRUST_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/xdg")

	cfg := TrustConfig{}
	if got := cfg.ResolvedDataDir(); got != filepath.Join("/xdg", "nbtrust") {
		t.Errorf("xdg data dir = %q", got)
	}

	t.Setenv("NBTRUST_DATA_DIR", "/env")
	if got := cfg.ResolvedDataDir(); got != "/env" {
		t.Errorf("env data dir = %q", got)
	}

	cfg.DataDir = "/explicit"
	if got := cfg.ResolvedDataDir(); got != "/explicit" {
		t.Errorf("explicit data dir = %q", got)
	}
	if got := cfg.ResolvedDBFile(); got != filepath.Join("/explicit", DBFileName) {
		t.Errorf("db file = %q", got)
	}

	cfg.DBFile = ":memory:"
	if got := cfg.ResolvedDBFile(); got != ":memory:" {
		t.Errorf("memory db file = %q", got)
	}
}

func TestConfig_ParseYAML(t *testing.T) {
	t.Setenv("NBTRUST_TEST_SECRET", "from-env")
	data := []byte(`
app:
  log_level: debug
  http:
    port: 9000
trust:
  algorithm: sha3_256
  secret: ${NBTRUST_TEST_SECRET}
  cache_size: 8
  cull_interval: 30m
workspace:
  path: /notebooks
  watch: true
metrics:
  enabled: true
`)
	cfg := NewDefaultConfig()
	if err := pkgconfig.Parse(data, cfg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.App.LogLevel)
	}
	if cfg.App.HTTP.Address() != ":9000" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
	if cfg.Trust.Algorithm != "sha3_256" || cfg.Trust.Secret != "from-env" {
		t.Errorf("trust = %+v", cfg.Trust)
	}
	if cfg.Trust.CacheSize != 8 || cfg.Trust.CullInterval != 30*time.Minute {
		t.Errorf("cache = %d/%v", cfg.Trust.CacheSize, cfg.Trust.CullInterval)
	}
	if !cfg.Workspace.Watch || !cfg.Metrics.Enabled || cfg.Workspace.Path != "/notebooks" {
		t.Errorf("workspace/metrics = %+v %+v", cfg.Workspace, cfg.Metrics)
	}
	if cfg.Auth.Mode != AuthModeDisabled {
		t.Errorf("auth mode = %q", cfg.Auth.Mode)
	}
}

package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nbtrust/internal/notary"
	"github.com/starford/nbtrust/internal/signer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DBFileName is the trust database created in the data directory.
const DBFileName = "nbsignatures.db"

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Trust     TrustConfig       `yaml:"trust"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Auth      AuthConfig        `yaml:"auth"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Trust.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// TrustConfig configures the notary and its trust store.
//
// Secret precedence: Secret, then SecretFile, then the notebook_secret file
// in DataDir (generated when missing). The secret is never stored in the
// trust database.
type TrustConfig struct {
	Algorithm    string        `yaml:"algorithm"`
	Secret       string        `yaml:"secret"`
	SecretFile   string        `yaml:"secret_file"`
	DataDir      string        `yaml:"data_dir"`
	DBFile       string        `yaml:"db_file"`
	CacheSize    int           `yaml:"cache_size"`
	CullInterval time.Duration `yaml:"cull_interval"`
}

// Validate validates the trust configuration.
func (c *TrustConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Algorithm, validation.Required, validation.By(func(v interface{}) error {
			name, _ := v.(string)
			_, err := signer.Parse(name)
			return err
		})),
		validation.Field(&c.CacheSize, validation.Required, validation.Min(1)),
		validation.Field(&c.CullInterval, validation.Min(time.Duration(0))),
	)
}

// ResolvedDataDir returns DataDir, or the per-user default:
// $NBTRUST_DATA_DIR, $XDG_DATA_HOME/nbtrust, ~/.local/share/nbtrust.
func (c *TrustConfig) ResolvedDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	if d := os.Getenv("NBTRUST_DATA_DIR"); d != "" {
		return d
	}
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "nbtrust")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nbtrust")
	}
	return filepath.Join(home, ".local", "share", "nbtrust")
}

// ResolvedDBFile returns DBFile, or the database inside the data directory.
// DBFile may be ":memory:" for a private, non-persistent store.
func (c *TrustConfig) ResolvedDBFile() string {
	if c.DBFile != "" {
		return c.DBFile
	}
	return filepath.Join(c.ResolvedDataDir(), DBFileName)
}

// WorkspaceConfig points at the notebook directory served by the watcher,
// the HTTP status endpoint and the MCP tools.
type WorkspaceConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// MetricsConfig toggles the Prometheus endpoint in serve mode.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8888,
			},
		},
		Trust: TrustConfig{
			Algorithm:    string(signer.Default),
			CacheSize:    notary.DefaultCacheSize,
			CullInterval: notary.DefaultCullInterval,
		},
		Workspace: WorkspaceConfig{
			Path: ".",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

package internal

import (
	"fmt"
	"log/slog"
	"path"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mdlinks/internal/coordinator"
	"github.com/starford/mdlinks/internal/engine"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Graph   GraphConfig       `yaml:"graph"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Neo4j   Neo4jConfig       `yaml:"neo4j"`
	Tracing TracingConfig     `yaml:"tracing"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Graph.Validate(); err != nil {
		return err
	}
	if err := c.Neo4j.Validate(); err != nil {
		return err
	}
	if err := c.Tracing.Validate(); err != nil {
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

// GraphConfig describes the markdown root and how the graph is kept.
type GraphConfig struct {
	Root         string        `yaml:"root"`
	MetaDir      string        `yaml:"meta_dir"`
	SnapshotFile string        `yaml:"snapshot_file"`
	Debounce     time.Duration `yaml:"debounce"`
	ScanWorkers  int           `yaml:"scan_workers"`
}

// SnapshotPath returns the snapshot location relative to the root.
func (c *GraphConfig) SnapshotPath() string {
	return path.Join(c.MetaDir, c.SnapshotFile)
}

// Validate validates the graph configuration.
func (c *GraphConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.MetaDir, validation.Required),
		validation.Field(&c.SnapshotFile, validation.Required),
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.ScanWorkers, validation.Required, validation.Min(1), validation.Max(256)),
	)
}

// SQLiteConfig holds SQLite mirror configuration. An empty path disables
// the mirror.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether the SQLite mirror is configured.
func (c *SQLiteConfig) Enabled() bool {
	return c.Path != ""
}

// Neo4jConfig holds Neo4j mirror configuration. An empty URI disables the
// mirror.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled reports whether the Neo4j mirror is configured.
func (c *Neo4jConfig) Enabled() bool {
	return c.URI != ""
}

// Validate validates the Neo4j configuration.
func (c *Neo4jConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Username, validation.When(c.Enabled(), validation.Required)),
	)
}

// TracingConfig holds OpenTelemetry settings. An empty endpoint keeps the
// no-op tracer.
type TracingConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Validate validates the tracing configuration.
func (c *TracingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServiceName, validation.When(c.OTLPEndpoint != "", validation.Required)),
		validation.Field(&c.SampleRate, validation.Min(0.0), validation.Max(1.0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Graph: GraphConfig{
			Root:         "./docs",
			MetaDir:      engine.DefaultMetaDir,
			SnapshotFile: engine.DefaultSnapshotFile,
			Debounce:     coordinator.DefaultDebounce,
			ScanWorkers:  engine.DefaultScanWorkers,
		},
		SQLite: SQLiteConfig{
			Path: "./mdlinks.db",
		},
		Tracing: TracingConfig{
			ServiceName: "mdlinks",
			SampleRate:  1.0,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

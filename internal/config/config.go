// Package config loads and validates the fieldsync YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIURL       = "FIELDSYNC_API_URL"
	EnvDBPath       = "FIELDSYNC_DB_PATH"
	EnvSyncInterval = "FIELDSYNC_SYNC_INTERVAL"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// APIURL is the base URL of the report server (e.g. "https://reportes.example.cl").
	APIURL string `yaml:"api_url"`

	// ReportsPath and LoginPath are joined to APIURL. Default to "/reportes/"
	// and "/auth/login".
	ReportsPath string `yaml:"reports_path,omitempty"`
	LoginPath   string `yaml:"login_path,omitempty"`

	// DBPath is the local SQLite database. Empty means
	// ~/.local/share/fieldsync/fieldsync.db.
	DBPath string `yaml:"db_path,omitempty"`

	// SessionPath is where the signed-in session is kept. Empty means
	// ~/.local/share/fieldsync/session.json.
	SessionPath string `yaml:"session_path,omitempty"`

	// SyncInterval controls how often pending reports are pushed.
	// Minimum 30s, maximum 24h. Defaults to 5m if unset.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// ForegroundDelay and ReconnectDelay are the settle times between a
	// foreground or reconnect event and the sync it triggers.
	ForegroundDelay time.Duration `yaml:"foreground_delay,omitempty"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay,omitempty"`

	// ProbeInterval and ProbeTimeout control the reachability check.
	ProbeInterval time.Duration `yaml:"probe_interval,omitempty"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout,omitempty"`

	// RequestTimeout bounds a single API request.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// RetryAttempts is the number of tries per submission within one run (1–10).
	RetryAttempts int `yaml:"retry_attempts,omitempty"`

	// Concurrency is the number of reports submitted in parallel. 1 keeps
	// submissions strictly sequential in creation order.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "fieldsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/fieldsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fieldsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path. An
// optional .env file next to it is loaded into the environment first, then
// FIELDSYNC_* variables override file values. A missing config file is
// accepted when FIELDSYNC_API_URL is set.
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %q: %w", envFile, err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true) // reject unknown keys to catch typos early
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && os.Getenv(EnvAPIURL) != "":
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write saves c as YAML to path, creating parent directories.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvSyncInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvSyncInterval, v, err)
		}
		c.SyncInterval = d
	}
	return nil
}

// validate checks that all required fields are present and well-formed and
// fills in defaults.
func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.ParseRequestURI(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be a valid http or https URL", c.APIURL)
	}

	if c.ReportsPath == "" {
		c.ReportsPath = "/reportes/"
	}
	if c.LoginPath == "" {
		c.LoginPath = "/auth/login"
	}
	for key, p := range map[string]string{"reports_path": c.ReportsPath, "login_path": c.LoginPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s %q must start with /", key, p)
		}
	}

	if c.DBPath, err = expandHome(c.DBPath); err != nil {
		return err
	}
	if c.SessionPath, err = expandHome(c.SessionPath); err != nil {
		return err
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.SyncInterval < 30*time.Second {
		return fmt.Errorf("sync_interval %v is too short (minimum 30s)", c.SyncInterval)
	}
	if c.SyncInterval > 24*time.Hour {
		return fmt.Errorf("sync_interval %v is too long (maximum 24h)", c.SyncInterval)
	}

	defaults := []struct {
		name string
		val  *time.Duration
		def  time.Duration
	}{
		{"foreground_delay", &c.ForegroundDelay, 2 * time.Second},
		{"reconnect_delay", &c.ReconnectDelay, 1 * time.Second},
		{"probe_interval", &c.ProbeInterval, 15 * time.Second},
		{"probe_timeout", &c.ProbeTimeout, 3 * time.Second},
		{"request_timeout", &c.RequestTimeout, 30 * time.Second},
	}
	for _, d := range defaults {
		if *d.val == 0 {
			*d.val = d.def
		}
		if *d.val < 0 {
			return fmt.Errorf("%s %v must not be negative", d.name, *d.val)
		}
	}

	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		return fmt.Errorf("retry_attempts %d out of range (1–10)", c.RetryAttempts)
	}

	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.Concurrency < 1 || c.Concurrency > 8 {
		return fmt.Errorf("concurrency %d out of range (1–8)", c.Concurrency)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, p[2:]), nil
}

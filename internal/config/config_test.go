package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIURL, EnvDBPath, EnvSyncInterval} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Valid(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api_url: "https://reportes.example.cl"
db_path: "/var/lib/fieldsync/reports.db"
sync_interval: 2m
concurrency: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != "https://reportes.example.cl" {
		t.Errorf("APIURL = %q, want %q", cfg.APIURL, "https://reportes.example.cl")
	}
	if cfg.DBPath != "/var/lib/fieldsync/reports.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.SyncInterval != 2*time.Minute {
		t.Errorf("SyncInterval = %v, want 2m", cfg.SyncInterval)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", cfg.Concurrency)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `api_url: "http://localhost:8000"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"SyncInterval", cfg.SyncInterval, 5 * time.Minute},
		{"ForegroundDelay", cfg.ForegroundDelay, 2 * time.Second},
		{"ReconnectDelay", cfg.ReconnectDelay, 1 * time.Second},
		{"ProbeInterval", cfg.ProbeInterval, 15 * time.Second},
		{"ProbeTimeout", cfg.ProbeTimeout, 3 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 30 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.ReportsPath != "/reportes/" {
		t.Errorf("ReportsPath = %q, want /reportes/", cfg.ReportsPath)
	}
	if cfg.LoginPath != "/auth/login" {
		t.Errorf("LoginPath = %q, want /auth/login", cfg.LoginPath)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if cfg.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", cfg.Concurrency)
	}
	if cfg.DBPath != "" || cfg.SessionPath != "" {
		t.Errorf("paths = %q/%q, want empty", cfg.DBPath, cfg.SessionPath)
	}
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
	}{
		{"missing api_url", `sync_interval: 1m`},
		{"bad api_url", `api_url: "not-a-url"`},
		{"ftp api_url", `api_url: "ftp://example.com"`},
		{"interval too short", "api_url: http://x.local\nsync_interval: 10s"},
		{"interval too long", "api_url: http://x.local\nsync_interval: 25h"},
		{"retry attempts", "api_url: http://x.local\nretry_attempts: 11"},
		{"concurrency", "api_url: http://x.local\nconcurrency: 9"},
		{"relative path", "api_url: http://x.local\nreports_path: reportes/"},
		{"negative delay", "api_url: http://x.local\nforeground_delay: -1s"},
		{"unknown key", "api_url: http://x.local\nha_token: abc"},
		{"telemetry endpoint", "api_url: http://x.local\ntelemetry:\n  insecure: true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	clearEnv(t)
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIURL, "http://api.internal:8000")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != "http://api.internal:8000" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDBPath, "/tmp/override.db")
	t.Setenv(EnvSyncInterval, "90s")
	path := writeConfig(t, `
api_url: "https://reportes.example.cl"
db_path: "/var/lib/fieldsync/reports.db"
sync_interval: 10m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Errorf("DBPath = %q, want /tmp/override.db", cfg.DBPath)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("SyncInterval = %v, want 90s", cfg.SyncInterval)
	}
}

func TestLoad_BadEnvInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSyncInterval, "soon")
	if _, err := Load(writeConfig(t, `api_url: "http://x.local"`)); err == nil {
		t.Fatal("expected error for bad FIELDSYNC_SYNC_INTERVAL")
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FIELDSYNC_DB_PATH=/srv/fieldsync.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`api_url: "http://x.local"`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != "/srv/fieldsync.db" {
		t.Errorf("DBPath = %q, want value from .env", cfg.DBPath)
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	clearEnv(t)
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg, err := Load(writeConfig(t, "api_url: http://x.local\nsession_path: ~/fs/session.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(home, "fs", "session.json"); cfg.SessionPath != want {
		t.Errorf("SessionPath = %q, want %q", cfg.SessionPath, want)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Config{
		APIURL:       "https://reportes.example.cl",
		SyncInterval: 10 * time.Minute,
		Telemetry:    &TelemetryConfig{OTLPEndpoint: "localhost:4317", Insecure: true},
	}
	if err := in.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.APIURL != in.APIURL || out.SyncInterval != in.SyncInterval {
		t.Errorf("round trip = %q/%v, want %q/%v", out.APIURL, out.SyncInterval, in.APIURL, in.SyncInterval)
	}
	if out.Telemetry == nil || out.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("Telemetry = %+v", out.Telemetry)
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("DefaultPath = %q", path)
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api_url: "http://x.local"
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  service_name: "fieldsync-staging"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry.ServiceName != "fieldsync-staging" {
		t.Errorf("ServiceName = %q", cfg.Telemetry.ServiceName)
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
}

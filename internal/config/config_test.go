package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-alertd
upstream:
  auth_url: https://api.upstream.test/v3/feed/authorize
database:
  host: localhost
  port: 5432
  name: alerts_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-alertd" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-alertd")
	}
	if cfg.Upstream.AuthURL != "https://api.upstream.test/v3/feed/authorize" {
		t.Errorf("Upstream.AuthURL = %q, want %q", cfg.Upstream.AuthURL, "https://api.upstream.test/v3/feed/authorize")
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-alertd
upstream:
  auth_url: https://api.upstream.test/v3/feed/authorize
database:
  host: localhost
  name: alerts_db
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-alertd
upstream:
  auth_url: https://api.upstream.test/v3/feed/authorize
database:
  host: localhost
  name: alerts_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Upstream.AuthTimeout != DefaultAuthTimeout {
		t.Errorf("Upstream.AuthTimeout = %v, want %v", cfg.Upstream.AuthTimeout, DefaultAuthTimeout)
	}
	if cfg.Upstream.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Upstream.MaxReconnectAttempts = %d, want %d", cfg.Upstream.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Engine.RefreshInterval != 30*time.Second {
		t.Errorf("Engine.RefreshInterval = %v, want 30s", cfg.Engine.RefreshInterval)
	}
	if cfg.Dispatch.FlushInterval != 100*time.Millisecond {
		t.Errorf("Dispatch.FlushInterval = %v, want 100ms", cfg.Dispatch.FlushInterval)
	}
	if cfg.Subscriptions.ReconcileInterval != 60*time.Second {
		t.Errorf("Subscriptions.ReconcileInterval = %v, want 60s", cfg.Subscriptions.ReconcileInterval)
	}
	if cfg.Notify.EmailPerSec != 5.0 {
		t.Errorf("Notify.EmailPerSec = %v, want 5", cfg.Notify.EmailPerSec)
	}
	if cfg.Notify.ChatPerSec != 10.0 {
		t.Errorf("Notify.ChatPerSec = %v, want 10", cfg.Notify.ChatPerSec)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestLoadAndValidate(t *testing.T) {
	yaml := `
instance:
  id: test-alertd
upstream:
  auth_url: https://api.upstream.test/v3/feed/authorize
database:
  host: localhost
  name: alerts_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	if _, err := LoadAndValidate(path); err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
}

func TestValidate_MissingInstanceID(t *testing.T) {
	yaml := `
upstream:
  auth_url: https://api.upstream.test/v3/feed/authorize
database:
  host: localhost
  name: alerts_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	if _, err := LoadAndValidate(path); err == nil {
		t.Error("LoadAndValidate with missing instance.id: err = nil, want error")
	}
}

func TestValidate_MissingAuthURL(t *testing.T) {
	yaml := `
instance:
  id: test-alertd
database:
  host: localhost
  name: alerts_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	if _, err := LoadAndValidate(path); err == nil {
		t.Error("LoadAndValidate with missing upstream.auth_url: err = nil, want error")
	}
}

func TestValidate_MissingDatabase(t *testing.T) {
	yaml := `
instance:
  id: test-alertd
upstream:
  auth_url: https://api.upstream.test/v3/feed/authorize
database:
  host: localhost
`
	path := writeTempFile(t, yaml)

	if _, err := LoadAndValidate(path); err == nil {
		t.Error("LoadAndValidate with incomplete database config: err = nil, want error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load of nonexistent file: err = nil, want error")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

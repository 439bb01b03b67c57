package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a minimal config with every optional integration off.
func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	dir := t.TempDir()
	alertsPath := filepath.Join(dir, "alerts_dict.json")
	if err := os.WriteFile(alertsPath, []byte(`{"0001": "High temperature"}`), 0600); err != nil {
		t.Fatalf("failed to write alerts file: %v", err)
	}

	content := `
site:
  id: test-site

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

collector:
  enabled: false

alerts:
  file: "` + alertsPath + `"

logging:
  level: info
  format: text
  output: stdout

opcua:
  security_mode: None

api:
  host: "127.0.0.1"
  port: 18089
  timeouts:
    read: 30
    write: 60
    idle: 120

security:
  jwt:
    secret: "` + testSecret + `"
    issuer: tankwatch
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("TANKWATCH_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("TANKWATCH_CONFIG", writeConfig(t, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("run() error = %v, want database.path validation failure", err)
	}
}

// TestRun_StartupAndShutdown starts the service with no tanks and stops it.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("TANKWATCH_CONFIG", writeConfig(t, dbPath))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestIssueToken(t *testing.T) {
	t.Setenv("TANKWATCH_CONFIG", writeConfig(t, filepath.Join(t.TempDir(), "test.db")))

	var out bytes.Buffer
	if err := issueToken(&out, "operator", time.Hour); err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}

	raw := strings.TrimSpace(out.String())
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("tankwatch"))
	if err != nil {
		t.Fatalf("parsing issued token: %v", err)
	}
	if claims.Subject != "operator" {
		t.Errorf("subject = %q, want operator", claims.Subject)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("TANKWATCH_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("TANKWATCH_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

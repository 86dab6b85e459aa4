package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modinspect/modinspect/internal/connection"
	"github.com/modinspect/modinspect/internal/storage"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })

	// macOS temp dirs are symlinked; compare against the resolved path
	wd, _ := os.Getwd()
	return wd
}

func TestLoad(t *testing.T) {
	wd := chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error loading defaults, got %v", err)
	}

	if cfg.Project.Cwd != wd {
		t.Errorf("expected cwd %s, got %s", wd, cfg.Project.Cwd)
	}
	if cfg.Mode != "dev" {
		t.Errorf("expected default mode dev, got %s", cfg.Mode)
	}
	if cfg.Server.Port != 5173 {
		t.Errorf("expected default port 5173, got %d", cfg.Server.Port)
	}
	if cfg.Addr() != "localhost:5173" {
		t.Errorf("expected addr localhost:5173, got %s", cfg.Addr())
	}
	if cfg.Backend.Listen != "127.0.0.1:0" {
		t.Errorf("expected default backend listen 127.0.0.1:0, got %s", cfg.Backend.Listen)
	}
	if cfg.Connection.FailurePolicy != string(connection.FailPermanently) {
		t.Errorf("expected fail-permanently, got %s", cfg.Connection.FailurePolicy)
	}
	if cfg.Connection.WarmupDelay != time.Millisecond {
		t.Errorf("expected 1ms warm-up delay, got %v", cfg.Connection.WarmupDelay)
	}
	if cfg.Storage.Driver != storage.DriverMemory {
		t.Errorf("expected memory storage, got %s", cfg.Storage.Driver)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	wd := chdirTemp(t)
	if err := os.Mkdir("app", 0o755); err != nil {
		t.Fatal(err)
	}

	configContent := `
project:
  cwd: app
mode: prod
server:
  host: 0.0.0.0
  port: 8080
  cors_origins: ["http://localhost:3000"]
backend:
  url: ws://127.0.0.1:9000/rpc
connection:
  failure_policy: retry-on-failure
  warmup_delay: 50ms
  dial_timeout: 2s
storage:
  driver: redis
  ttl: 1h
  redis:
    addr: redis:6379
    db: 2
log:
  level: warn
`
	if err := os.WriteFile("modinspect.yml", []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error loading config, got %v", err)
	}

	if cfg.Project.Cwd != filepath.Join(wd, "app") {
		t.Errorf("expected relative cwd resolved, got %s", cfg.Project.Cwd)
	}
	if cfg.ModeValue() != "prod" {
		t.Errorf("expected mode prod, got %s", cfg.Mode)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("expected addr 0.0.0.0:8080, got %s", cfg.Addr())
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}

	conn := cfg.ConnectionOptions()
	if conn.FailurePolicy != connection.RetryOnFailure {
		t.Errorf("expected retry-on-failure, got %s", conn.FailurePolicy)
	}
	if conn.WarmupDelay != 50*time.Millisecond {
		t.Errorf("expected 50ms warm-up delay, got %v", conn.WarmupDelay)
	}

	be := cfg.BackendOptions()
	if be.URL != "ws://127.0.0.1:9000/rpc" || be.DialTimeout != 2*time.Second {
		t.Errorf("unexpected backend options %+v", be)
	}

	st := cfg.StorageOptions()
	if st.Driver != storage.DriverRedis || st.TTL != time.Hour || st.Redis.Addr != "redis:6379" || st.Redis.DB != 2 {
		t.Errorf("unexpected storage options %+v", st)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Log.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	os.WriteFile("modinspect.yaml", []byte("server:\n  port: 8080\n"), 0o644)

	t.Setenv("MODINSPECT_SERVER_PORT", "9090")
	t.Setenv("MODINSPECT_CONNECTION_FAILURE_POLICY", "retry-on-failure")
	t.Setenv("MODINSPECT_STORAGE_SQLITE_PATH", ":memory:")
	t.Setenv("MODINSPECT_SERVER_PPROF", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected env port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Connection.FailurePolicy != "retry-on-failure" {
		t.Errorf("expected env policy, got %s", cfg.Connection.FailurePolicy)
	}
	if cfg.Storage.SQLite.Path != ":memory:" {
		t.Errorf("expected env sqlite path, got %s", cfg.Storage.SQLite.Path)
	}
	if !cfg.Server.Pprof {
		t.Error("expected env pprof to be enabled")
	}
}

func TestLoadWithOverriddenViper(t *testing.T) {
	chdirTemp(t)

	v := NewViper()
	v.Set("mode", "build")
	v.Set("server.port", 0)

	cfg, err := LoadWith(v)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Mode != "build" || cfg.Server.Port != 0 {
		t.Errorf("expected overrides to apply, got mode %s port %d", cfg.Mode, cfg.Server.Port)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{"mode", "mode: staging\n", "mode"},
		{"policy", "connection:\n  failure_policy: sometimes\n", "connection.failure_policy"},
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"backend url", "backend:\n  url: http://localhost/rpc\n", "backend.url"},
		{"negative delay", "connection:\n  warmup_delay: -1s\n", "connection.warmup_delay"},
		{"driver", "storage:\n  driver: mongo\n", "storage.driver"},
		{"postgres url", "storage:\n  driver: postgres\n", "storage.postgres.url"},
		{"missing cwd", "project:\n  cwd: does-not-exist\n", "project.cwd"},
		{"malformed", "server: [\n", "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			os.WriteFile("modinspect.yml", []byte(tt.content), 0o644)

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error mentioning %q, got %v", tt.errText, err)
			}
		})
	}
}

func TestLoadCwdMustBeDirectory(t *testing.T) {
	chdirTemp(t)
	os.WriteFile("file.txt", nil, 0o644)
	os.WriteFile("modinspect.yml", []byte("project:\n  cwd: file.txt\n"), 0o644)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("expected not a directory error, got %v", err)
	}
}

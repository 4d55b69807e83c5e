package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatalf("missing default config must not be an error: %v", err)
	}
	if cfg.IDEName != "idebridge" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true); err == nil {
		t.Fatal("explicitly named missing config must be an error")
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http_port: 3180
ide_name: my-editor
workspace_folders:
  - /srv/project
heartbeat_seconds: 15
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadConfig(path, true)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.HTTPPort != 3180 || cfg.IDEName != "my-editor" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.WorkspaceFolders) != 1 || cfg.WorkspaceFolders[0] != "/srv/project" {
		t.Fatalf("unexpected folders: %v", cfg.WorkspaceFolders)
	}
	if cfg.heartbeat() != 15*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.heartbeat())
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http_port: [not a port"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := loadConfig(path, true); err == nil {
		t.Fatal("malformed config must be an error")
	}
}

func TestLocalHostResolve(t *testing.T) {
	ws := t.TempDir()
	host, err := newLocalHost([]string{ws})
	if err != nil {
		t.Fatalf("failed to build host: %v", err)
	}

	got, err := host.Resolve("sub/file.txt")
	if err != nil {
		t.Fatalf("failed to resolve relative path: %v", err)
	}
	if got != filepath.Join(ws, "sub", "file.txt") {
		t.Fatalf("unexpected resolution: %q", got)
	}

	if _, err := host.Resolve(filepath.Join(ws, "..", "outside.txt")); err == nil {
		t.Fatal("expected path outside workspace to be rejected")
	}
	if _, err := host.Resolve("/etc/passwd"); err == nil {
		t.Fatal("expected absolute path outside workspace to be rejected")
	}
}

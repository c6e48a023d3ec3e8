package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
addr: ":9090"
state_path: /tmp/state.json
poll_interval_seconds: 10
docker_bin: podman
cors_enabled: true
cors_origins:
  - http://localhost:5173
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.PollIntervalSeconds != 10 || cfg.DockerBin != "podman" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.CORSEnabled || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("cors not parsed: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{"addr":":7070","probe_timeout_seconds":4}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ProbeTimeoutSeconds != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "config.toml", "addr = \":6060\"\ncompose_file = \"/srv/llm/docker-compose.yml\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":6060" || cfg.ComposeFile != "/srv/llm/docker-compose.yml" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	p := writeFile(t, "config.ini", "addr=:1")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFromEnvFillsOnlyUnset(t *testing.T) {
	t.Setenv("LLMTRAYD_ADDR", ":4040")
	t.Setenv("LLMTRAYD_POLL_INTERVAL_SECONDS", "42")
	cfg := Config{Addr: ":already"}.FromEnv()
	if cfg.Addr != ":already" {
		t.Fatalf("env overrode explicit value: %q", cfg.Addr)
	}
	if cfg.PollIntervalSeconds != 42 {
		t.Fatalf("env not applied: %d", cfg.PollIntervalSeconds)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Addr != ":8080" || cfg.PollIntervalSeconds != 5 || cfg.ProbeTimeoutSeconds != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DockerBin != "docker" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	kept := Config{Addr: ":1", PollIntervalSeconds: 60}.WithDefaults()
	if kept.Addr != ":1" || kept.PollIntervalSeconds != 60 {
		t.Fatalf("defaults overrode explicit values: %+v", kept)
	}
}

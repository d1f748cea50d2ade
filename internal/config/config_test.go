package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(configPathEnv, "")
	t.Setenv("LANGCHAIN_PROJECT", "")
	t.Setenv("PDFQA_TRACING_PROJECT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "ollama" || cfg.Provider.Model != "gemma:2b" {
		t.Fatalf("unexpected provider defaults: %+v", cfg.Provider)
	}
	if cfg.Tracing.Project != DefaultProject {
		t.Fatalf("expected default project %q, got %q", DefaultProject, cfg.Tracing.Project)
	}
	if cfg.BasicConfig.MaxUploadBytes() != 10<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.BasicConfig.MaxUploadBytes())
	}
	if cfg.BasicConfig.SessionTTL != time.Hour {
		t.Fatalf("unexpected session ttl %s", cfg.BasicConfig.SessionTTL)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(configPathEnv, "")
	t.Setenv("LANGCHAIN_PROJECT", "exam-notes")
	t.Setenv("PDFQA_PROVIDER_MODEL", "llama3")
	t.Setenv("PDFQA_BASIC_CONFIG_SESSION_TTL", "15m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracing.Project != "exam-notes" {
		t.Fatalf("project not read from LANGCHAIN_PROJECT: %q", cfg.Tracing.Project)
	}
	if cfg.Provider.Model != "llama3" {
		t.Fatalf("model override ignored: %q", cfg.Provider.Model)
	}
	if cfg.BasicConfig.SessionTTL != 15*time.Minute {
		t.Fatalf("session ttl override ignored: %s", cfg.BasicConfig.SessionTTL)
	}
}

func TestLoadFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(configPathEnv, "")

	yaml := []byte("provider:\n  name: claude\n  model: claude-3-haiku\nbasic_config:\n  max_upload_mb: 3\n")
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PDFQA_REDIS_PORT=6380\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("PDFQA_REDIS_PORT") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "claude" || cfg.Provider.Model != "claude-3-haiku" {
		t.Fatalf("file values not applied: %+v", cfg.Provider)
	}
	if cfg.BasicConfig.MaxUploadMB != 3 {
		t.Fatalf("max upload not applied: %d", cfg.BasicConfig.MaxUploadMB)
	}
	if cfg.Redis.Port != 6380 {
		t.Fatalf(".env value not applied: %d", cfg.Redis.Port)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":8090" {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
}

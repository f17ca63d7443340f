package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_FillsDrainDefaultsWhenOmitted(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
database:
  url: "postgres://localhost/pipeline"
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Drain.MaxMessages != DefaultDrainConfig().MaxMessages {
		t.Fatalf("got MaxMessages %d, want default %d", cfg.Drain.MaxMessages, DefaultDrainConfig().MaxMessages)
	}
	if cfg.Drain.LockTTL != DefaultDrainConfig().LockTTL {
		t.Fatalf("got LockTTL %v, want default %v", cfg.Drain.LockTTL, DefaultDrainConfig().LockTTL)
	}
}

func TestLoad_EnvOverlayWinsOverFileValue(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
database:
  url: "postgres://localhost/pipeline"
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test-key
drain:
  max_messages: 20
`)

	t.Setenv("AI_AGENT_DRAIN_MAX_MESSAGES", "5")
	t.Setenv("AI_AGENT_DRAIN_LOCK_TTL_MS", "12000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Drain.MaxMessages != 5 {
		t.Fatalf("got MaxMessages %d, want env override 5", cfg.Drain.MaxMessages)
	}
	if cfg.Drain.LockTTL != 12*time.Second {
		t.Fatalf("got LockTTL %v, want env override 12s", cfg.Drain.LockTTL)
	}
}

func TestLoad_RejectsMissingDatabaseURL(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test-key
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing database.url")
	}
}

func TestLoad_RejectsUnknownDefaultProvider(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
database:
  url: "postgres://localhost/pipeline"
llm:
  default_provider: openai
  providers:
    anthropic:
      api_key: test-key
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for default_provider missing from providers map")
	}
}

func TestLoad_ResolvesIncludeDirective(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test-key
`)
	basePath := filepath.Join(dir, "config.yaml")
	os.Rename(basePath, filepath.Join(dir, "llm.yaml"))

	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte(`
$include: llm.yaml
database:
  url: "postgres://localhost/pipeline"
`), 0o644); err != nil {
		t.Fatalf("write main config: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("got default provider %q, want anthropic (from included file)", cfg.LLM.DefaultProvider)
	}
}

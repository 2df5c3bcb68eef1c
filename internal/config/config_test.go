package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSONResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
		"basic_config": {"server_address": ":9000", "blob_dir": "blobs"},
		"databases": {"sqlite3": {"dsn": "app.db"}},
		"speech": {"api_key": "gladia"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("server address not decoded: %q", cfg.BasicConfig.ServerAddress)
	}
	if got := cfg.Databases["sqlite3"].DSN; got != filepath.Join(dir, "app.db") {
		t.Fatalf("sqlite dsn not resolved: %q", got)
	}
	if got := cfg.BasicConfig.BlobDir; got != filepath.Join(dir, "blobs") {
		t.Fatalf("blob dir not resolved: %q", got)
	}
	if cfg.Speech.PollInterval().Seconds() != 3 {
		t.Fatalf("default poll interval should be 3s, got %v", cfg.Speech.PollInterval())
	}
	if cfg.MinutesProviderConfig().Model != DefaultGroqModel {
		t.Fatalf("default groq model missing")
	}
}

func TestLoadYAMLAndTOML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "config.yaml", "basic_config:\n  max_workers: 4\n  min_workers: 1\nspeech:\n  max_poll_attempts: 10\n")
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.BasicConfig.MaxWorkers != 4 || cfg.Speech.MaxPollAttempts != 10 {
		t.Fatalf("yaml values not decoded: %+v", cfg.BasicConfig)
	}

	tomlPath := writeFile(t, dir, "config.toml", "minutes_provider = \"openai\"\n[providers.openai]\nmodel = \"gpt-4o-mini\"\napi_key = \"k\"\n")
	cfg, err = Load(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.MinutesProviderConfig().Model != "gpt-4o-mini" {
		t.Fatalf("toml provider not decoded: %+v", cfg.Providers)
	}
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("GLADIA_API_KEY", "env-gladia")
	t.Setenv("GROQ_API_KEY", "env-groq")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"speech": {"api_key": "file"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Speech.APIKey != "env-gladia" {
		t.Fatalf("env should override speech key, got %q", cfg.Speech.APIKey)
	}
	if cfg.Providers["groq"].APIKey != "env-groq" {
		t.Fatalf("env should fill groq key")
	}
}

func TestValidateRejectsBadWorkerCounts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"basic_config": {"min_workers": 5, "max_workers": 2}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
	path = writeFile(t, dir, "bad.json", `{"minutes_provider": "missing"}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		DBPath: "playforge.sqlite",
		Providers: []Provider{
			{Name: "anthropic", Model: "claude-sonnet-4-20250514", APIKeyEnv: "ANTHROPIC_API_KEY"},
			{Name: "openai", Model: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var nilCfg *Config
	if err := nilCfg.Validate(); err == nil {
		t.Fatalf("Validate accepted nil config")
	}

	cfg := validConfig()
	cfg.DBPath = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate accepted empty db_path")
	}

	cfg = validConfig()
	cfg.Providers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate accepted empty providers")
	}

	cfg = validConfig()
	cfg.Providers[1].Name = "anthropic"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate accepted duplicate provider name")
	}

	cfg = validConfig()
	cfg.Providers[0].Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate accepted provider without model")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := validConfig()
	cfg.LogFormat = "json"
	cfg.LogLevel = "debug"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.DBPath != cfg.DBPath {
		t.Fatalf("DBPath=%q, want %q", got.DBPath, cfg.DBPath)
	}
	if len(got.Providers) != 2 {
		t.Fatalf("Providers=%d, want 2", len(got.Providers))
	}
	if got.Providers[0].Name != "anthropic" || got.Providers[0].APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Fatalf("unexpected provider[0]: %+v", got.Providers[0])
	}
	if got.LogFormat != "json" || got.LogLevel != "debug" {
		t.Fatalf("log settings not preserved: %q %q", got.LogFormat, got.LogLevel)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("config perm=%v, want 0600", perm)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"db_path":""}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load accepted invalid config")
	}
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for playforge.
//
// API keys are not stored here. Each provider names an environment variable
// (api_key_env) that is resolved at startup.
type Config struct {
	// DBPath is the SQLite database file for agents, threads and messages.
	DBPath string `json:"db_path"`

	// ArchetypesPath optionally points to a YAML file with extra agent
	// archetypes merged over the built-in catalog.
	ArchetypesPath string `json:"archetypes_path,omitempty"`

	// Providers lists the chat model providers available to agents.
	Providers []Provider `json:"providers"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

// Provider configures one chat model provider entry.
type Provider struct {
	// Name is the provider id referenced by agent definitions ("openai", "anthropic").
	Name string `json:"name"`
	// Model is the default model id for agents created under this provider.
	Model string `json:"model"`
	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env,omitempty"`
	// BaseURL optionally overrides the provider endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// Temperature and MaxTokens are defaults for new lead agents.
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("missing db_path")
	}
	if len(c.Providers) == 0 {
		return errors.New("missing providers")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("provider %d: missing name", i)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("provider %q: missing model", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("provider %q: duplicate entry", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Default returns a starter configuration pointing at the default data
// directory, with both major providers stubbed in.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return &Config{
		DBPath: filepath.Join(home, ".playforge", "agents.db"),
		Providers: []Provider{
			{Name: "anthropic", Model: "claude-sonnet-4-5", APIKeyEnv: "ANTHROPIC_API_KEY", Temperature: 0.7, MaxTokens: 8192},
			{Name: "openai", Model: "gpt-4.1", APIKeyEnv: "OPENAI_API_KEY", Temperature: 0.7, MaxTokens: 8192},
		},
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// DefaultConfigPath returns the default config path:
//
//	~/.playforge/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "playforge.config.json"
	}
	return filepath.Join(home, ".playforge", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoConfig      = errors.New("config file not found")
	ErrNoAPIKey      = errors.New("api_key not set in config")
	ErrInvalidYAML   = errors.New("invalid config YAML")
	ErrInvalidRetry  = errors.New("max_repair_attempts must be between 0 and 10")
	ErrInvalidShells = errors.New("shell_timeout_sec must be positive")
)

// Config holds the global tandem configuration.
type Config struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	DefaultModel      string `yaml:"default_model"`
	WorkspaceRoot     string `yaml:"workspace_root"`      // Project root the engine may read and write under
	MaxRepairAttempts *int   `yaml:"max_repair_attempts"` // Repair retries per file edit before the failure is terminal (default: 2)
	ShellTimeoutSec   *int   `yaml:"shell_timeout_sec"`   // Wall-clock limit for a single shell command (default: 300)
	AnswerPrompts     *bool  `yaml:"answer_prompts"`      // Auto-answer interactive shell prompts (default: true)
}

// Load reads the config from ~/.config/tandem/config.yaml.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(homeDir, ".config", "tandem", "config.yaml")
	return LoadFrom(configPath)
}

// LoadFrom reads the config from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ErrInvalidYAML
	}

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	// Set defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4"
	}
	if cfg.WorkspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.WorkspaceRoot = wd
	}
	if cfg.MaxRepairAttempts == nil {
		n := 2
		cfg.MaxRepairAttempts = &n
	}
	if cfg.ShellTimeoutSec == nil {
		n := 300
		cfg.ShellTimeoutSec = &n
	}
	if cfg.AnswerPrompts == nil {
		t := true
		cfg.AnswerPrompts = &t
	}

	if *cfg.MaxRepairAttempts < 0 || *cfg.MaxRepairAttempts > 10 {
		return nil, ErrInvalidRetry
	}
	if *cfg.ShellTimeoutSec <= 0 {
		return nil, ErrInvalidShells
	}

	return &cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration stored in config.toml.
type Config struct {
	Gateway  Gateway  `toml:"gateway"`
	Ranking  Ranking  `toml:"ranking"`
	Analysis Analysis `toml:"analysis"`
	Schedule Schedule `toml:"schedule"`
	HTTP     HTTP     `toml:"http"`
}

// Gateway holds the WhatsApp REST gateway credentials and timeouts.
type Gateway struct {
	BaseURL             string `toml:"base_url"`
	InstanceID          string `toml:"instance_id"`
	Token               string `toml:"token"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	SendTimeoutSeconds  int    `toml:"send_timeout_seconds"`
}

// Ranking holds the OpenRouter-compatible ranking service settings.
type Ranking struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
}

// Analysis controls the unanswered-conversation detection window.
type Analysis struct {
	LookbackMinutes int    `toml:"lookback_minutes"`
	IncludeGroups   bool   `toml:"include_groups"`
	ReportChatID    string `toml:"report_chat_id"`
}

// Schedule is the recurring-analysis cron configuration.
type Schedule struct {
	Enabled    bool   `toml:"enabled"`
	Expression string `toml:"expression"`
}

// HTTP configures the local control API.
type HTTP struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns a config with all defaults filled in. Gateway and ranking
// credentials are intentionally empty until the user configures them.
func Default() *Config {
	return &Config{
		Gateway: Gateway{
			BaseURL:             "https://api.green-api.com",
			FetchTimeoutSeconds: 15,
			SendTimeoutSeconds:  30,
		},
		Ranking: Ranking{
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "openai/gpt-4o",
			TimeoutSeconds: 60,
			MaxAttempts:    3,
		},
		Analysis: Analysis{
			LookbackMinutes: 1440,
		},
		Schedule: Schedule{
			Expression: "0 9 * * *",
		},
		HTTP: HTTP{
			ListenAddr: "127.0.0.1:8977",
		},
	}
}

// Load reads config from the given path, layered over defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate performs syntactic checks only. Credentials may legitimately be
// empty; runs against an unconfigured gateway fail at the adapter level.
func (c *Config) Validate() error {
	if c.Analysis.LookbackMinutes <= 0 {
		return fmt.Errorf("analysis.lookback_minutes must be positive, got %d", c.Analysis.LookbackMinutes)
	}
	if c.Ranking.MaxAttempts <= 0 {
		return fmt.Errorf("ranking.max_attempts must be positive, got %d", c.Ranking.MaxAttempts)
	}
	if c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr must not be empty")
	}
	return nil
}

// Lookback returns the analysis window length as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Analysis.LookbackMinutes) * time.Minute
}

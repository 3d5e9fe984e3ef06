// Package config loads tool configuration in three layers: built-in
// defaults, an optional TOML file, then CHATMIG_ environment variables, each
// overriding the last.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	ExportDir string `koanf:"export_dir"`
	Domain    string `koanf:"domain"`
	Token     string `koanf:"token"`
	APIBase   string `koanf:"api_base"`
	LogLevel  string `koanf:"log_level"`

	// UpdateMode reuses spaces from a previous run instead of creating
	// new ones.
	UpdateMode bool `koanf:"update_mode"`

	Channels struct {
		Include []string `koanf:"include"`
		Exclude []string `koanf:"exclude"`
	} `koanf:"channels"`

	Users struct {
		// Overrides maps export user IDs to target emails, for users
		// whose profile email is missing or wrong.
		Overrides  map[string]string `koanf:"overrides"`
		IgnoreBots bool              `koanf:"ignore_bots"`
	} `koanf:"users"`

	Failures struct {
		AbortOnError         bool   `koanf:"abort_on_error"`
		MaxFailurePercentage int    `koanf:"max_failure_percentage"`
		CompletionStrategy   string `koanf:"completion_strategy"`
		CleanupOnError       bool   `koanf:"cleanup_on_error"`
	} `koanf:"failures"`

	Retry struct {
		MaxRetries  int `koanf:"max_retries"`
		BaseDelayMs int `koanf:"base_delay_ms"`
		MaxDelayMs  int `koanf:"max_delay_ms"`
	} `koanf:"retry"`

	// SendDelayMs paces message creation to stay under API quotas.
	SendDelayMs int `koanf:"send_delay_ms"`

	// StateDSN selects the checkpoint backend: file://dir, memory://, or
	// a postgres:// connection string.
	StateDSN string `koanf:"state_dsn"`

	// NatsURL enables run event publishing when set.
	NatsURL string `koanf:"nats_url"`

	// StatusPort serves the progress endpoint when > 0.
	StatusPort int `koanf:"status_port"`
}

// Load reads configuration. configPath may be empty, leaving defaults plus
// environment overrides.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"api_base":                        "https://chat.googleapis.com/v1",
		"log_level":                       "info",
		"users.ignore_bots":               true,
		"failures.max_failure_percentage": 10,
		"failures.completion_strategy":    "skip_on_error",
		"retry.max_retries":               3,
		"retry.base_delay_ms":             1000,
		"retry.max_delay_ms":              30000,
		"send_delay_ms":                   100,
		"state_dsn":                       "file://.chatmig-state",
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	}

	k.Load(env.Provider("CHATMIG_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHATMIG_")), "_", ".", -1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	if c.ExportDir == "" {
		return fmt.Errorf("export_dir is required")
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	switch c.Failures.CompletionStrategy {
	case "skip_on_error", "force_complete":
	default:
		return fmt.Errorf("completion_strategy must be skip_on_error or force_complete, got %q", c.Failures.CompletionStrategy)
	}
	if c.Failures.MaxFailurePercentage < 0 || c.Failures.MaxFailurePercentage > 100 {
		return fmt.Errorf("max_failure_percentage must be between 0 and 100, got %d", c.Failures.MaxFailurePercentage)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
}

func (c *Config) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMs) * time.Millisecond
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBase != "https://chat.googleapis.com/v1" {
		t.Errorf("got api_base %q", cfg.APIBase)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("got log_level %q", cfg.LogLevel)
	}
	if !cfg.Users.IgnoreBots {
		t.Error("ignore_bots should default to true")
	}
	if cfg.Failures.MaxFailurePercentage != 10 {
		t.Errorf("got max_failure_percentage %d", cfg.Failures.MaxFailurePercentage)
	}
	if cfg.Failures.CompletionStrategy != "skip_on_error" {
		t.Errorf("got completion_strategy %q", cfg.Failures.CompletionStrategy)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.BaseDelay() != time.Second || cfg.MaxDelay() != 30*time.Second {
		t.Errorf("retry defaults wrong: %+v", cfg.Retry)
	}
	if cfg.SendDelay() != 100*time.Millisecond {
		t.Errorf("got send delay %v", cfg.SendDelay())
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatmig.toml")
	content := `
export_dir = "/data/export"
domain = "corp.example"
token = "secret"
update_mode = true
send_delay_ms = 250

[channels]
include = ["general", "random"]
exclude = ["noise"]

[users]
ignore_bots = false

[users.overrides]
U01 = "alice@corp.example"

[failures]
abort_on_error = true
max_failure_percentage = 5
completion_strategy = "force_complete"

[retry]
max_retries = 7
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExportDir != "/data/export" || cfg.Domain != "corp.example" || cfg.Token != "secret" {
		t.Errorf("core fields wrong: %+v", cfg)
	}
	if !cfg.UpdateMode {
		t.Error("update_mode not read")
	}
	if len(cfg.Channels.Include) != 2 || cfg.Channels.Exclude[0] != "noise" {
		t.Errorf("channel filters wrong: %+v", cfg.Channels)
	}
	if cfg.Users.IgnoreBots {
		t.Error("file should override ignore_bots default")
	}
	if cfg.Users.Overrides["U01"] != "alice@corp.example" {
		t.Errorf("overrides wrong: %v", cfg.Users.Overrides)
	}
	if !cfg.Failures.AbortOnError || cfg.Failures.MaxFailurePercentage != 5 {
		t.Errorf("failure policy wrong: %+v", cfg.Failures)
	}
	if cfg.Failures.CompletionStrategy != "force_complete" {
		t.Errorf("got completion_strategy %q", cfg.Failures.CompletionStrategy)
	}
	if cfg.Retry.MaxRetries != 7 {
		t.Errorf("got max_retries %d", cfg.Retry.MaxRetries)
	}
	// Untouched defaults survive a partial file.
	if cfg.Retry.BaseDelayMs != 1000 {
		t.Errorf("got base_delay_ms %d", cfg.Retry.BaseDelayMs)
	}
	if cfg.SendDelayMs != 250 {
		t.Errorf("got send_delay_ms %d", cfg.SendDelayMs)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatmig.toml")
	if err := os.WriteFile(path, []byte(`domain = "from-file.example"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATMIG_DOMAIN", "from-env.example")
	t.Setenv("CHATMIG_STATUS_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Domain != "from-env.example" {
		t.Errorf("env should win: got %q", cfg.Domain)
	}
	if cfg.StatusPort != 9090 {
		t.Errorf("got status_port %d", cfg.StatusPort)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/chatmig.toml"); err == nil {
		t.Error("missing explicit config file should fail")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		cfg.ExportDir = "/data/export"
		cfg.Domain = "corp.example"
		cfg.Token = "secret"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg := valid()
	cfg.ExportDir = ""
	if cfg.Validate() == nil {
		t.Error("missing export_dir accepted")
	}

	cfg = valid()
	cfg.Domain = ""
	if cfg.Validate() == nil {
		t.Error("missing domain accepted")
	}

	cfg = valid()
	cfg.Token = ""
	if cfg.Validate() == nil {
		t.Error("missing token accepted")
	}

	cfg = valid()
	cfg.Failures.CompletionStrategy = "yolo"
	if cfg.Validate() == nil {
		t.Error("bad completion_strategy accepted")
	}

	cfg = valid()
	cfg.Failures.MaxFailurePercentage = 150
	if cfg.Validate() == nil {
		t.Error("out-of-range percentage accepted")
	}
}

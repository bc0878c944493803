package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RELAY_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8000" {
		t.Errorf("expected :8000, got %s", cfg.Addr)
	}
	if cfg.RecordingDir != "recording" {
		t.Errorf("expected recording, got %s", cfg.RecordingDir)
	}
	if cfg.AudioExt != "webm" {
		t.Errorf("expected webm, got %s", cfg.AudioExt)
	}
	if cfg.LanguageMaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.LanguageMaxAttempts)
	}
	if cfg.LanguageRetryDelay() != time.Second {
		t.Errorf("expected 1s retry delay, got %v", cfg.LanguageRetryDelay())
	}
	if cfg.RestartDelay() != 5*time.Second {
		t.Errorf("expected 5s restart delay, got %v", cfg.RestartDelay())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RELAY_ADDR", ":9100")
	t.Setenv("LANGUAGE_MAX_ATTEMPTS", "3")
	t.Setenv("LANGUAGE_RATE_LIMIT", "2.5")
	t.Setenv("LANGUAGE_TIMEOUT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Errorf("expected :9100, got %s", cfg.Addr)
	}
	if cfg.LanguageMaxAttempts != 3 {
		t.Errorf("expected 3, got %d", cfg.LanguageMaxAttempts)
	}
	if cfg.LanguageRateLimit != 2.5 {
		t.Errorf("expected 2.5, got %v", cfg.LanguageRateLimit)
	}
	if cfg.LanguageTimeoutSec != 30 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.LanguageTimeoutSec)
	}
}

func TestLoadConfigFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := "addr: \":7000\"\nrecording_dir: /tmp/rec\ntranscriber: whisper\nopenai_api_key: from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_CONFIG_FILE", path)
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.RecordingDir != "/tmp/rec" || cfg.Transcriber != "whisper" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.OpenAIAPIKey != "from-file" {
		t.Errorf("expected key from file, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.AudioExt != "webm" {
		t.Errorf("unset keys should keep env defaults, got %q", cfg.AudioExt)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("RELAY_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.Validate()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if cfgErr.Key != "OPENAI_API_KEY" {
		t.Errorf("expected OPENAI_API_KEY, got %s", cfgErr.Key)
	}
}

func TestValidateUnknownTranscriber(t *testing.T) {
	cfg := Config{OpenAIAPIKey: "k", RecordingDir: "r", Transcriber: "vosk", LanguageMaxAttempts: 5}
	var cfgErr *ConfigError
	if !errors.As(cfg.Validate(), &cfgErr) || cfgErr.Key != "TRANSCRIBER" {
		t.Fatalf("expected TRANSCRIBER config error, got %v", cfg.Validate())
	}
}

func TestValidateRestartDelay(t *testing.T) {
	for _, d := range []int{0, -3} {
		cfg := Config{OpenAIAPIKey: "k", RecordingDir: "r", Transcriber: "openai", LanguageMaxAttempts: 5, RestartDelaySec: d}
		var cfgErr *ConfigError
		if !errors.As(cfg.Validate(), &cfgErr) || cfgErr.Key != "RESTART_DELAY" {
			t.Errorf("delay %d: expected RESTART_DELAY config error, got %v", d, cfg.Validate())
		}
	}

	cfg := Config{OpenAIAPIKey: "k", RecordingDir: "r", Transcriber: "openai", LanguageMaxAttempts: 5, RestartDelaySec: 1}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

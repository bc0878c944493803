package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr         string `yaml:"addr"`
	RecordingDir string `yaml:"recording_dir"`
	AudioExt     string `yaml:"audio_ext"`
	IndexPath    string `yaml:"chunk_index_path"`
	MaxAudioSize int64  `yaml:"max_audio_bytes"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	ChatModel     string `yaml:"chat_model"`

	// Transcriber selects the speech backend: "openai" or "whisper" (whisper.cpp).
	Transcriber        string `yaml:"transcriber"`
	TranscriptionModel string `yaml:"transcription_model"`
	ModelPath          string `yaml:"whisper_model_path"`

	LanguageTimeoutSec   int     `yaml:"language_timeout"`
	LanguageMaxAttempts  int     `yaml:"language_max_attempts"`
	LanguageRetryDelayMs int     `yaml:"language_retry_delay_ms"`
	LanguageRateLimit    float64 `yaml:"language_rate_limit"`

	RestartDelaySec int    `yaml:"restart_delay"`
	LogLevel        string `yaml:"log_level"`
}

// ConfigError reports a configuration problem that prevents startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Load reads the configuration from the environment. When RELAY_CONFIG_FILE
// names a YAML file, its values override the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:                 getenv("RELAY_ADDR", ":8000"),
		RecordingDir:         getenv("RECORDING_DIR", "recording"),
		AudioExt:             getenv("AUDIO_EXT", "webm"),
		IndexPath:            getenv("CHUNK_INDEX_PATH", ""),
		MaxAudioSize:         getenvInt64("MAX_AUDIO_BYTES", 10<<20),
		OpenAIAPIKey:         getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:            getenv("CHAT_MODEL", "gpt-3.5-turbo"),
		Transcriber:          getenv("TRANSCRIBER", "openai"),
		TranscriptionModel:   getenv("TRANSCRIPTION_MODEL", "whisper-1"),
		ModelPath:            getenv("WHISPER_MODEL_PATH", "./models/ggml-base.bin"),
		LanguageTimeoutSec:   getenvInt("LANGUAGE_TIMEOUT", 30),
		LanguageMaxAttempts:  getenvInt("LANGUAGE_MAX_ATTEMPTS", 5),
		LanguageRetryDelayMs: getenvInt("LANGUAGE_RETRY_DELAY_MS", 1000),
		LanguageRateLimit:    getenvFloat("LANGUAGE_RATE_LIMIT", 0),
		RestartDelaySec:      getenvInt("RESTART_DELAY", 5),
		LogLevel:             getenv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks the settings the relay cannot run without.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return &ConfigError{Key: "OPENAI_API_KEY", Reason: "not set; export it or add openai_api_key to the config file"}
	}
	if c.RecordingDir == "" {
		return &ConfigError{Key: "RECORDING_DIR", Reason: "must not be empty"}
	}
	switch c.Transcriber {
	case "openai", "whisper":
	default:
		return &ConfigError{Key: "TRANSCRIBER", Reason: fmt.Sprintf("unknown backend %q (want openai or whisper)", c.Transcriber)}
	}
	if c.LanguageMaxAttempts <= 0 {
		return &ConfigError{Key: "LANGUAGE_MAX_ATTEMPTS", Reason: "must be positive"}
	}
	if c.RestartDelaySec <= 0 {
		return &ConfigError{Key: "RESTART_DELAY", Reason: "must be at least 1 second"}
	}
	return nil
}

func (c Config) LanguageTimeout() time.Duration {
	return time.Duration(c.LanguageTimeoutSec) * time.Second
}

func (c Config) LanguageRetryDelay() time.Duration {
	return time.Duration(c.LanguageRetryDelayMs) * time.Millisecond
}

func (c Config) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelaySec) * time.Second
}

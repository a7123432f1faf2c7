package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported backends.
const (
	ProviderOpenAI    = "openai"
	ProviderDummy     = "dummy"
	CommanderTelegram = "telegram"
	CommanderDummy    = "dummy"
)

// Config holds configuration for the bot process. Field tags name the keys of
// the optional YAML file; environment variables always win over the file.
type Config struct {
	TelegramToken        string `yaml:"telegram_bot_token"`
	TelegramAPIBase      string `yaml:"telegram_api_base"`
	TelegramFileBase     string `yaml:"telegram_file_base"`
	Timeout              int    `yaml:"poll_timeout_seconds"`
	SleepSeconds         int    `yaml:"sleep_seconds"`
	DropPending          bool   `yaml:"drop_pending"`
	PendingWindowSeconds int64  `yaml:"pending_window_seconds"`

	OpenAIAPIKey             string `yaml:"openai_api_key"`
	OpenAIBaseURL            string `yaml:"openai_base_url"`
	OpenAIModel              string `yaml:"openai_model"`
	OpenAITranscriptionModel string `yaml:"openai_transcription_model"`
	SystemPrompt             string `yaml:"system_prompt"`

	CompletionTimeoutSeconds    int `yaml:"completion_timeout_seconds"`
	TranscriptionTimeoutSeconds int `yaml:"transcription_timeout_seconds"`
	MaxConcurrent               int `yaml:"max_concurrent"`

	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
	TempDir  string `yaml:"temp_dir"`

	ModelProvider            string `yaml:"model_provider"`
	Commander                string `yaml:"commander"`
	DummyProviderScript      string `yaml:"dummy_provider_script"`
	DummyTranscriberScript   string `yaml:"dummy_transcriber_script"`
	DummyCommanderScript     string `yaml:"dummy_commander_script"`
	DummyCommanderSendScript string `yaml:"dummy_commander_send_script"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Timeout:                     30,
		SleepSeconds:                1,
		DropPending:                 true,
		PendingWindowSeconds:        600,
		OpenAIBaseURL:               "https://api.openai.com/v1",
		OpenAIModel:                 "gpt-4o-mini",
		OpenAITranscriptionModel:    "whisper-1",
		CompletionTimeoutSeconds:    60,
		TranscriptionTimeoutSeconds: 60,
		MaxConcurrent:               8,
		DBPath:                      "./wonder.db",
		LogLevel:                    "info",
		ModelProvider:               ProviderOpenAI,
		Commander:                   CommanderTelegram,
		DummyProviderScript:         "ok",
		DummyTranscriberScript:      "ok",
		DummyCommanderScript:        "ok",
		DummyCommanderSendScript:    "ok",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment variables, in that order, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if cfg.TelegramAPIBase == "" {
		cfg.TelegramAPIBase = fmt.Sprintf("https://api.telegram.org/bot%s", cfg.TelegramToken)
	}
	if cfg.TelegramFileBase == "" {
		cfg.TelegramFileBase = fmt.Sprintf("https://api.telegram.org/file/bot%s", cfg.TelegramToken)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid key at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Commander {
	case CommanderTelegram:
		if c.TelegramToken == "" {
			errs = append(errs, fmt.Errorf("TELEGRAM_BOT_TOKEN is required when WONDER_COMMANDER=telegram"))
		}
	case CommanderDummy:
	default:
		errs = append(errs, fmt.Errorf("WONDER_COMMANDER: unsupported commander %q", c.Commander))
	}
	switch c.ModelProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("OPENAI_API_KEY is required when WONDER_MODEL_PROVIDER=openai"))
		}
	case ProviderDummy:
	default:
		errs = append(errs, fmt.Errorf("WONDER_MODEL_PROVIDER: unsupported provider %q", c.ModelProvider))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("TG_TIMEOUT must be >= 0, got %d", c.Timeout))
	}
	if c.SleepSeconds < 0 {
		errs = append(errs, fmt.Errorf("TG_SLEEP_SECONDS must be >= 0, got %d", c.SleepSeconds))
	}
	if c.CompletionTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("WONDER_COMPLETION_TIMEOUT_SECONDS must be > 0, got %d", c.CompletionTimeoutSeconds))
	}
	if c.TranscriptionTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("WONDER_TRANSCRIPTION_TIMEOUT_SECONDS must be > 0, got %d", c.TranscriptionTimeoutSeconds))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("WONDER_MAX_CONCURRENT must be > 0, got %d", c.MaxConcurrent))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("WONDER_LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

func applyEnv(c *Config) {
	c.TelegramToken = envOrDefault("TELEGRAM_BOT_TOKEN", c.TelegramToken)
	c.TelegramAPIBase = envOrDefault("TELEGRAM_API_BASE", c.TelegramAPIBase)
	c.TelegramFileBase = envOrDefault("TELEGRAM_FILE_BASE", c.TelegramFileBase)
	c.Timeout = envIntOrDefault("TG_TIMEOUT", c.Timeout)
	c.SleepSeconds = envIntOrDefault("TG_SLEEP_SECONDS", c.SleepSeconds)
	c.DropPending = envBoolOrDefault("TG_DROP_PENDING", c.DropPending)
	c.PendingWindowSeconds = int64(envIntOrDefault("TG_PENDING_WINDOW_SECONDS", int(c.PendingWindowSeconds)))

	c.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = envOrDefault("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAITranscriptionModel = envOrDefault("OPENAI_TRANSCRIPTION_MODEL", c.OpenAITranscriptionModel)
	c.SystemPrompt = envOrDefault("SYSTEM_PROMPT", c.SystemPrompt)

	c.CompletionTimeoutSeconds = envIntOrDefault("WONDER_COMPLETION_TIMEOUT_SECONDS", c.CompletionTimeoutSeconds)
	c.TranscriptionTimeoutSeconds = envIntOrDefault("WONDER_TRANSCRIPTION_TIMEOUT_SECONDS", c.TranscriptionTimeoutSeconds)
	c.MaxConcurrent = envIntOrDefault("WONDER_MAX_CONCURRENT", c.MaxConcurrent)

	c.DBPath = envOrDefault("WONDER_DB_PATH", c.DBPath)
	c.HTTPAddr = envOrDefault("WONDER_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envOrDefault("WONDER_LOG_LEVEL", c.LogLevel)
	c.TempDir = envOrDefault("WONDER_TEMP_DIR", c.TempDir)

	c.ModelProvider = envOrDefault("WONDER_MODEL_PROVIDER", c.ModelProvider)
	c.Commander = envOrDefault("WONDER_COMMANDER", c.Commander)
	c.DummyProviderScript = envOrDefault("WONDER_DUMMY_PROVIDER_SCRIPT", c.DummyProviderScript)
	c.DummyTranscriberScript = envOrDefault("WONDER_DUMMY_TRANSCRIBER_SCRIPT", c.DummyTranscriberScript)
	c.DummyCommanderScript = envOrDefault("WONDER_DUMMY_COMMANDER_SCRIPT", c.DummyCommanderScript)
	c.DummyCommanderSendScript = envOrDefault("WONDER_DUMMY_COMMANDER_SEND_SCRIPT", c.DummyCommanderSendScript)
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

func loadFile(path string, c *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	expanded, err := expandEnv(raw)
	if err != nil {
		return fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}
	if err := yaml.Unmarshal(expanded, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// expandEnv substitutes environment references in raw YAML. A reference with
// neither a value nor a default is an error.
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error
	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if subs[2] != nil {
			return subs[2]
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})
	return result, errors.Join(errs...)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("WONDER_MODEL_PROVIDER", "openai")
	t.Setenv("WONDER_COMMANDER", "telegram")
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wonder.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	setupEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" || cfg.OpenAITranscriptionModel != "whisper-1" {
		t.Fatalf("unexpected models: %s %s", cfg.OpenAIModel, cfg.OpenAITranscriptionModel)
	}
	if cfg.TelegramAPIBase != "https://api.telegram.org/bottest-token" {
		t.Fatalf("unexpected api base: %s", cfg.TelegramAPIBase)
	}
	if cfg.TelegramFileBase != "https://api.telegram.org/file/bottest-token" {
		t.Fatalf("unexpected file base: %s", cfg.TelegramFileBase)
	}
	if !cfg.DropPending || cfg.MaxConcurrent != 8 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_RequiresTelegramToken(t *testing.T) {
	setupEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestLoad_RequiresOpenAIKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestLoad_DummyNeedsNoCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("WONDER_MODEL_PROVIDER", "dummy")
	t.Setenv("WONDER_COMMANDER", "dummy")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoad_ValidatesTimeouts(t *testing.T) {
	setupEnv(t)
	t.Setenv("WONDER_COMPLETION_TIMEOUT_SECONDS", "0")
	t.Setenv("WONDER_MAX_CONCURRENT", "-1")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"WONDER_COMPLETION_TIMEOUT_SECONDS", "WONDER_MAX_CONCURRENT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected %s in error, got %v", key, err)
		}
	}
}

func TestLoad_UnknownBackends(t *testing.T) {
	setupEnv(t)
	t.Setenv("WONDER_MODEL_PROVIDER", "anthropic")
	t.Setenv("WONDER_COMMANDER", "slack")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected unsupported backend error")
	}
	if !strings.Contains(err.Error(), "WONDER_MODEL_PROVIDER") || !strings.Contains(err.Error(), "WONDER_COMMANDER") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	setupEnv(t)
	t.Setenv("WONDER_TEST_PROMPT", "You are Wonder.")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	path := writeFile(t, `
system_prompt: ${WONDER_TEST_PROMPT}
openai_model: from-file
max_concurrent: 3
db_path: ${WONDER_TEST_UNSET_DB:-/tmp/wonder-file.db}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.SystemPrompt != "You are Wonder." {
		t.Errorf("unexpected prompt %q", cfg.SystemPrompt)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("expected env to win over file, got %q", cfg.OpenAIModel)
	}
	if cfg.MaxConcurrent != 3 {
		t.Errorf("expected max_concurrent from file, got %d", cfg.MaxConcurrent)
	}
	if cfg.DBPath != "/tmp/wonder-file.db" {
		t.Errorf("expected default expansion, got %q", cfg.DBPath)
	}
}

func TestLoad_FileUnresolvedVariable(t *testing.T) {
	setupEnv(t)
	path := writeFile(t, "system_prompt: ${WONDER_TEST_DEFINITELY_UNSET}\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "WONDER_TEST_DEFINITELY_UNSET") {
		t.Fatalf("expected unresolved variable error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	setupEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvBoolOrDefault(t *testing.T) {
	t.Setenv("WONDER_TEST_BOOL", "TRUE")
	if !envBoolOrDefault("WONDER_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("WONDER_TEST_BOOL", "0")
	if envBoolOrDefault("WONDER_TEST_BOOL", true) {
		t.Fatal("expected false")
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	if err != nil || level != slog.LevelDebug {
		t.Fatalf("unexpected level=%v err=%v", level, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

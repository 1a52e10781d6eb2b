package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voice-conformity-go/internal/failures"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "MANIFEST_PATH", "STORE_DRIVER", "SQLITE_PATH", "CLICKHOUSE_ADDR",
		"TRANSCRIBE_URL", "USE_MOCK_TRANSCRIBE", "LLM_PROVIDER", "LLM_GATEWAY_URL",
		"LLM_API_KEY", "ANTHROPIC_API_KEY", "USE_MOCK_LLM", "ENFORCE_CRITICAL_OVERRIDE",
		"BATCH_SIZE", "MAX_ITEMS", "BATCH_SCHEDULE", "TIMEZONE", "SLACK_BOT_TOKEN",
		"SLACK_CHANNEL_ID", "PORT", "CRITICAL_OUTCOMES", "PER_ITEM_DELAY_SECONDS", "PAUSE_EVERY",
		"PAUSE_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
manifest:
  path: calls.csv
transcription:
  mock: true
judge:
  provider: mock
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Manifest.Path != "calls.csv" {
		t.Fatalf("manifest path = %q", cfg.Manifest.Path)
	}
	if cfg.Pipeline.BatchSize != 500 || cfg.Pipeline.MaxAttempts != 3 {
		t.Fatalf("pipeline defaults not applied: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.PerItemDelay().Seconds() != 3 || cfg.Pipeline.RetryDelay().Seconds() != 5 || cfg.Pipeline.PauseInterval() != 5 {
		t.Fatalf("unexpected pacing: %+v", cfg.Pipeline)
	}
	if !cfg.Classifier.Enforce() {
		t.Fatal("critical override should be enforced by default")
	}
	if len(cfg.Classifier.CriticalOutcomes) != 2 {
		t.Fatalf("critical outcomes = %v", cfg.Classifier.CriticalOutcomes)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLitePath == "" {
		t.Fatalf("store defaults not applied: %+v", cfg.Store)
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[transcription]
mock = true

[judge]
provider = "mock"

[classifier]
enforce_critical_override = false

[pipeline]
batch_size = 25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.BatchSize != 25 {
		t.Fatalf("batch size = %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Classifier.Enforce() {
		t.Fatal("explicit false should disable the override")
	}
}

func TestExplicitZeroPacingIsHonored(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
transcription:
  mock: true
judge:
  provider: mock
pipeline:
  per_item_delay_seconds: 0
  pause_every: 0
  pause_seconds: 0.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d := cfg.Pipeline.PerItemDelay(); d != 0 {
		t.Fatalf("per-item delay = %v, want 0", d)
	}
	if n := cfg.Pipeline.PauseInterval(); n != 0 {
		t.Fatalf("pause interval = %d, want 0", n)
	}
	if d := cfg.Pipeline.Pause(); d != 500*time.Millisecond {
		t.Fatalf("pause = %v, want 500ms", d)
	}
}

func TestPacingFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	t.Setenv("USE_MOCK_LLM", "true")
	t.Setenv("PER_ITEM_DELAY_SECONDS", "0")
	t.Setenv("PAUSE_EVERY", "3")

	cfg, err := Load(writeFile(t, "config.yaml", "pipeline:\n  per_item_delay_seconds: 2\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.PerItemDelay() != 0 || cfg.Pipeline.PauseInterval() != 3 {
		t.Fatalf("pacing = %v every %d", cfg.Pipeline.PerItemDelay(), cfg.Pipeline.PauseInterval())
	}
	if cfg.Pipeline.Pause() != 5*time.Second {
		t.Fatalf("pause default = %v", cfg.Pipeline.Pause())
	}
}

func TestNegativeDelayRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	t.Setenv("USE_MOCK_LLM", "true")

	_, err := Load(writeFile(t, "config.yaml", "pipeline:\n  per_item_delay_seconds: -1\n"))
	if err == nil || !strings.Contains(err.Error(), "PerItemDelaySeconds") {
		t.Fatalf("expected negative delay to be rejected, got %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "pipeline:\n  batch_size: 10\n")
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	t.Setenv("USE_MOCK_LLM", "1")
	t.Setenv("BATCH_SIZE", "42")
	t.Setenv("MAX_ITEMS", "7")
	t.Setenv("PORT", "9090")
	t.Setenv("CRITICAL_OUTCOMES", "A, B ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.BatchSize != 42 || cfg.Pipeline.MaxItems != 7 {
		t.Fatalf("env overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Judge.Provider != "mock" {
		t.Fatalf("provider = %q", cfg.Judge.Provider)
	}
	if cfg.API.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.API.Addr)
	}
	if strings.Join(cfg.Classifier.CriticalOutcomes, "|") != "A|B" {
		t.Fatalf("outcomes = %v", cfg.Classifier.CriticalOutcomes)
	}
}

func TestMissingSecretIsConfigurationError(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	t.Setenv("LLM_PROVIDER", "anthropic")

	_, err := Load(writeFile(t, "config.yaml", ""))
	if err == nil {
		t.Fatal("expected error for missing anthropic key")
	}
	if failures.KindOf(err) != failures.KindConfiguration {
		t.Fatalf("kind = %v, err = %v", failures.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "AnthropicAPIKey is required") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestTranscriptionURLRequiredUnlessMock(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MOCK_LLM", "true")

	_, err := Load(writeFile(t, "config.yaml", ""))
	if err == nil || !strings.Contains(err.Error(), "Transcription.URL is required") {
		t.Fatalf("expected transcription url error, got %v", err)
	}

	t.Setenv("TRANSCRIBE_URL", "https://stt.example.com/v1")
	if _, err := Load(writeFile(t, "config.yaml", "")); err != nil {
		t.Fatalf("Load with url: %v", err)
	}
}

func TestInvalidScheduleRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	t.Setenv("USE_MOCK_LLM", "true")
	t.Setenv("BATCH_SCHEDULE", "not a cron")

	if _, err := Load(writeFile(t, "config.yaml", "")); err == nil {
		t.Fatal("expected invalid cron to be rejected")
	}
}

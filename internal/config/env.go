package config

import (
	"os"
	"strconv"
	"strings"
)

func applyEnv(cfg *Config) {
	envString("ENVIRONMENT", &cfg.Environment)
	envString("LOG_LEVEL", &cfg.LogLevel)

	envString("MANIFEST_PATH", &cfg.Manifest.Path)

	envString("STORE_DRIVER", &cfg.Store.Driver)
	envString("SQLITE_PATH", &cfg.Store.SQLitePath)
	envList("CLICKHOUSE_ADDR", &cfg.Store.ClickHouseAddr)
	envString("CLICKHOUSE_DATABASE", &cfg.Store.ClickHouseDatabase)
	envString("CLICKHOUSE_USER", &cfg.Store.ClickHouseUser)
	envString("CLICKHOUSE_PASSWORD", &cfg.Store.ClickHousePassword)
	envString("VALIDATIONS_TABLE", &cfg.Store.ValidationsTable)

	envString("TRANSCRIBE_URL", &cfg.Transcription.URL)
	envString("TRANSCRIBE_API_KEY", &cfg.Transcription.APIKey)
	envBool("USE_MOCK_TRANSCRIBE", &cfg.Transcription.Mock)
	envFloat("TRANSCRIBE_COST_PER_MINUTE", &cfg.Transcription.CostPerMinute)

	envString("LLM_PROVIDER", &cfg.Judge.Provider)
	envString("LLM_GATEWAY_URL", &cfg.Judge.GatewayURL)
	envString("LLM_API_KEY", &cfg.Judge.APIKey)
	envString("ANTHROPIC_API_KEY", &cfg.Judge.AnthropicAPIKey)
	envString("LLM_MODEL", &cfg.Judge.Model)
	var mockLLM bool
	if envBool("USE_MOCK_LLM", &mockLLM) && mockLLM {
		cfg.Judge.Provider = "mock"
	}

	if v, ok := lookup("ENFORCE_CRITICAL_OVERRIDE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Classifier.EnforceCriticalOverride = &b
		}
	}
	envList("CRITICAL_OUTCOMES", &cfg.Classifier.CriticalOutcomes)

	envInt("BATCH_SIZE", &cfg.Pipeline.BatchSize)
	envFloatPtr("PER_ITEM_DELAY_SECONDS", &cfg.Pipeline.PerItemDelaySeconds)
	envIntPtr("PAUSE_EVERY", &cfg.Pipeline.PauseEvery)
	envFloatPtr("PAUSE_SECONDS", &cfg.Pipeline.PauseSeconds)
	envInt("MAX_ATTEMPTS", &cfg.Pipeline.MaxAttempts)
	envInt("RETRY_DELAY_SECONDS", &cfg.Pipeline.RetryDelaySeconds)
	envInt("MAX_ITEMS", &cfg.Pipeline.MaxItems)

	envString("BATCH_SCHEDULE", &cfg.Schedule.Cron)
	envString("TIMEZONE", &cfg.Schedule.Timezone)

	envString("SLACK_BOT_TOKEN", &cfg.Slack.BotToken)
	envString("SLACK_CHANNEL_ID", &cfg.Slack.ChannelID)

	envString("LOCK_PATH", &cfg.LockPath)
	if port, ok := lookup("PORT"); ok {
		cfg.API.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	envList("ALLOWED_ORIGINS", &cfg.API.AllowedOrigins)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func envInt(key string, dst *int) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envIntPtr(key string, dst **int) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = &n
		}
	}
}

func envFloatPtr(key string, dst **float64) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) bool {
	v, ok := lookup(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	*dst = b
	return true
}

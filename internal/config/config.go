// Package config loads the pipeline configuration into one explicit object.
//
// Values come from a YAML or TOML file (picked by extension), then from the
// environment (a .env file is loaded first when present), then from defaults.
// The result is validated once; a missing secret for the selected provider is
// a configuration error and aborts startup before any work item is attempted.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
	"voice-conformity-go/internal/failures"
)

type Config struct {
	Environment string `yaml:"environment" toml:"environment"`
	LogLevel    string `yaml:"log_level" toml:"log_level"`

	Manifest      Manifest      `yaml:"manifest" toml:"manifest"`
	Store         Store         `yaml:"store" toml:"store"`
	Transcription Transcription `yaml:"transcription" toml:"transcription"`
	Judge         Judge         `yaml:"judge" toml:"judge"`
	Classifier    Classifier    `yaml:"classifier" toml:"classifier"`
	Pipeline      Pipeline      `yaml:"pipeline" toml:"pipeline"`
	Schedule      Schedule      `yaml:"schedule" toml:"schedule"`
	Slack         Slack         `yaml:"slack" toml:"slack"`
	API           API           `yaml:"api" toml:"api"`

	LockPath string `yaml:"lock_path" toml:"lock_path"`
}

type Manifest struct {
	Path string `yaml:"path" toml:"path" validate:"required"`
}

type Store struct {
	Driver             string   `yaml:"driver" toml:"driver" validate:"oneof=sqlite clickhouse"`
	SQLitePath         string   `yaml:"sqlite_path" toml:"sqlite_path" validate:"required_if=Driver sqlite"`
	ClickHouseAddr     []string `yaml:"clickhouse_addr" toml:"clickhouse_addr" validate:"required_if=Driver clickhouse"`
	ClickHouseDatabase string   `yaml:"clickhouse_database" toml:"clickhouse_database"`
	ClickHouseUser     string   `yaml:"clickhouse_user" toml:"clickhouse_user"`
	ClickHousePassword string   `yaml:"clickhouse_password" toml:"clickhouse_password"`
	ValidationsTable   string   `yaml:"validations_table" toml:"validations_table" validate:"required"`
}

type Transcription struct {
	URL                 string  `yaml:"url" toml:"url" validate:"required_if=Mock false,omitempty,url"`
	APIKey              string  `yaml:"api_key" toml:"api_key"`
	Mock                bool    `yaml:"mock" toml:"mock"`
	CallType            string  `yaml:"call_type" toml:"call_type"`
	CostPerMinute       float64 `yaml:"cost_per_minute" toml:"cost_per_minute" validate:"gte=0"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds" toml:"poll_interval_seconds" validate:"gte=1"`
	PollAttempts        int     `yaml:"poll_attempts" toml:"poll_attempts" validate:"gte=1"`
	TimeoutSeconds      int     `yaml:"timeout_seconds" toml:"timeout_seconds" validate:"gte=1"`
}

type Judge struct {
	Provider            string  `yaml:"provider" toml:"provider" validate:"oneof=openai anthropic mock"`
	GatewayURL          string  `yaml:"gateway_url" toml:"gateway_url" validate:"required_if=Provider openai,omitempty,url"`
	APIKey              string  `yaml:"api_key" toml:"api_key" validate:"required_if=Provider openai"`
	AnthropicAPIKey     string  `yaml:"anthropic_api_key" toml:"anthropic_api_key" validate:"required_if=Provider anthropic"`
	Model               string  `yaml:"model" toml:"model"`
	MaxTokens           int     `yaml:"max_tokens" toml:"max_tokens" validate:"gte=64"`
	TimeoutSeconds      int     `yaml:"timeout_seconds" toml:"timeout_seconds" validate:"gte=1"`
	PromptCostPer1K     float64 `yaml:"prompt_cost_per_1k" toml:"prompt_cost_per_1k" validate:"gte=0"`
	CompletionCostPer1K float64 `yaml:"completion_cost_per_1k" toml:"completion_cost_per_1k" validate:"gte=0"`
	Brand               string  `yaml:"brand" toml:"brand"`
}

type Classifier struct {
	// EnforceCriticalOverride is a pointer so an explicit false in a file
	// survives defaulting.
	EnforceCriticalOverride *bool    `yaml:"enforce_critical_override" toml:"enforce_critical_override"`
	CriticalOutcomes        []string `yaml:"critical_outcomes" toml:"critical_outcomes"`
}

type Pipeline struct {
	BatchSize int `yaml:"batch_size" toml:"batch_size" validate:"gte=1"`
	// The pacing fields are pointers so an explicit 0 in a file or the
	// environment disables that step instead of falling back to the default.
	// Delays accept fractional seconds.
	PerItemDelaySeconds *float64 `yaml:"per_item_delay_seconds" toml:"per_item_delay_seconds" validate:"omitempty,gte=0"`
	PauseEvery          *int     `yaml:"pause_every" toml:"pause_every" validate:"omitempty,gte=0"`
	PauseSeconds        *float64 `yaml:"pause_seconds" toml:"pause_seconds" validate:"omitempty,gte=0"`
	MaxAttempts         int      `yaml:"max_attempts" toml:"max_attempts" validate:"gte=1,lte=10"`
	RetryDelaySeconds   int      `yaml:"retry_delay_seconds" toml:"retry_delay_seconds" validate:"gte=0"`
	LookupTimeoutSecs   int      `yaml:"lookup_timeout_seconds" toml:"lookup_timeout_seconds" validate:"gte=1"`
	MaxItems            int      `yaml:"max_items" toml:"max_items" validate:"gte=0"`
	BackfillLimit       int      `yaml:"backfill_limit" toml:"backfill_limit" validate:"gte=1"`
	MinTranscriptChars  int      `yaml:"min_transcript_chars" toml:"min_transcript_chars" validate:"gte=0"`
}

type Schedule struct {
	Cron     string `yaml:"cron" toml:"cron"`
	Timezone string `yaml:"timezone" toml:"timezone"`
}

type Slack struct {
	BotToken  string `yaml:"bot_token" toml:"bot_token"`
	ChannelID string `yaml:"channel_id" toml:"channel_id" validate:"required_with=BotToken"`
	APIURL    string `yaml:"api_url" toml:"api_url"`
}

type API struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// Load reads the configuration. An empty path falls back to CONFIG_PATH, then
// to config.yaml or config.toml in the working directory; a missing file is
// not an error as long as the environment supplies the required values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // loads .env

	var cfg Config
	path = resolvePath(path)
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return nil, failures.Configuration("config.load", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("CONFIG_PATH")); env != "" {
		return env
	}
	for _, candidate := range []string{"config.yaml", "config.yml", "config.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func fractionalSeconds(v *float64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v * float64(time.Second))
}

func (p Pipeline) PerItemDelay() time.Duration { return fractionalSeconds(p.PerItemDelaySeconds) }
func (p Pipeline) Pause() time.Duration        { return fractionalSeconds(p.PauseSeconds) }

// PauseInterval is the number of attempted items between pauses; 0 disables
// the pause.
func (p Pipeline) PauseInterval() int {
	if p.PauseEvery == nil {
		return 0
	}
	return *p.PauseEvery
}

func (p Pipeline) RetryDelay() time.Duration    { return seconds(p.RetryDelaySeconds) }
func (p Pipeline) LookupTimeout() time.Duration { return seconds(p.LookupTimeoutSecs) }

func (t Transcription) Timeout() time.Duration      { return seconds(t.TimeoutSeconds) }
func (t Transcription) PollInterval() time.Duration { return seconds(t.PollIntervalSeconds) }

func (j Judge) Timeout() time.Duration { return seconds(j.TimeoutSeconds) }

func (c Classifier) Enforce() bool {
	return c.EnforceCriticalOverride == nil || *c.EnforceCriticalOverride
}

func (s Slack) Enabled() bool { return s.BotToken != "" && s.ChannelID != "" }

// Location resolves the schedule timezone, defaulting to local time.
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

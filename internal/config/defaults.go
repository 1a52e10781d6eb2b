package config

const (
	defaultManifestPath      = "registro_llamadas.csv"
	defaultSQLitePath        = "./conformity.db"
	defaultValidationsTable  = "validations"
	defaultCostPerMinute     = 0.005
	defaultCallType          = "C2C"
	defaultAnthropicModel    = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel       = "gpt-4-turbo"
	defaultBatchSize         = 500
	defaultPerItemDelay      = 3
	defaultPauseEvery        = 5
	defaultPause             = 5
	defaultMaxAttempts       = 3
	defaultRetryDelay        = 5
	defaultTranscribeTimeout = 300
	defaultJudgeTimeout      = 120
	defaultLookupTimeout     = 10
	defaultBackfillLimit     = 500
	defaultMinTranscript     = 50
	defaultLockPath          = "./conformity.lock"
	defaultAPIAddr           = ":8080"
)

// DefaultCriticalOutcomes are prior-validation outcomes that reflect a customer
// misconception about guaranteed or immediate award.
var DefaultCriticalOutcomes = []string{"Adj.Inmediata", "Adj.con nro. de cuotas"}

func applyDefaults(cfg *Config) {
	if cfg.Manifest.Path == "" {
		cfg.Manifest.Path = defaultManifestPath
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaultSQLitePath
	}
	if cfg.Store.ValidationsTable == "" {
		cfg.Store.ValidationsTable = defaultValidationsTable
	}

	t := &cfg.Transcription
	if t.CostPerMinute == 0 {
		t.CostPerMinute = defaultCostPerMinute
	}
	if t.CallType == "" {
		t.CallType = defaultCallType
	}
	if t.PollIntervalSeconds == 0 {
		t.PollIntervalSeconds = 2
	}
	if t.PollAttempts == 0 {
		t.PollAttempts = 120
	}
	if t.TimeoutSeconds == 0 {
		t.TimeoutSeconds = defaultTranscribeTimeout
	}

	j := &cfg.Judge
	if j.Provider == "" {
		j.Provider = "openai"
	}
	if j.Model == "" {
		switch j.Provider {
		case "anthropic":
			j.Model = defaultAnthropicModel
		default:
			j.Model = defaultOpenAIModel
		}
	}
	if j.MaxTokens == 0 {
		j.MaxTokens = 1000
	}
	if j.TimeoutSeconds == 0 {
		j.TimeoutSeconds = defaultJudgeTimeout
	}
	if j.PromptCostPer1K == 0 && j.CompletionCostPer1K == 0 {
		j.PromptCostPer1K = 0.005
		j.CompletionCostPer1K = 0.015
	}
	if j.Brand == "" {
		j.Brand = "Maquisistema"
	}

	if len(cfg.Classifier.CriticalOutcomes) == 0 {
		cfg.Classifier.CriticalOutcomes = append([]string(nil), DefaultCriticalOutcomes...)
	}

	p := &cfg.Pipeline
	if p.BatchSize == 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.PerItemDelaySeconds == nil {
		p.PerItemDelaySeconds = ptr(float64(defaultPerItemDelay))
	}
	if p.PauseEvery == nil {
		p.PauseEvery = ptr(defaultPauseEvery)
	}
	if p.PauseSeconds == nil {
		p.PauseSeconds = ptr(float64(defaultPause))
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.RetryDelaySeconds == 0 {
		p.RetryDelaySeconds = defaultRetryDelay
	}
	if p.LookupTimeoutSecs == 0 {
		p.LookupTimeoutSecs = defaultLookupTimeout
	}
	if p.BackfillLimit == 0 {
		p.BackfillLimit = defaultBackfillLimit
	}
	if p.MinTranscriptChars == 0 {
		p.MinTranscriptChars = defaultMinTranscript
	}

	if cfg.LockPath == "" {
		cfg.LockPath = defaultLockPath
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = defaultAPIAddr
	}
}

func ptr[T any](v T) *T { return &v }

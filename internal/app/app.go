// Package app wires the configured components into a runnable pipeline.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"voice-conformity-go/internal/actionable"
	"voice-conformity-go/internal/aggregator"
	"voice-conformity-go/internal/classifier"
	"voice-conformity-go/internal/config"
	"voice-conformity-go/internal/dataset"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/judge"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/notify"
	"voice-conformity-go/internal/pipeline"
	"voice-conformity-go/internal/processor"
	"voice-conformity-go/internal/runlock"
	"voice-conformity-go/internal/schedule"
	"voice-conformity-go/internal/store"
	"voice-conformity-go/internal/transcription"
	"voice-conformity-go/internal/types"
	"voice-conformity-go/internal/validation"
)

type App struct {
	cfg       *config.Config
	log       *logger.Logger
	store     *store.Store
	lookup    *validation.Lookup
	processor *processor.Processor
	service   *pipeline.Service
	notifier  *notify.Slack

	mu   sync.Mutex
	last *types.BatchReport
}

type Option func(*options)

type options struct {
	sleeper pipeline.Sleeper
}

// WithSleeper replaces the pacing sleeper between batch items.
func WithSleeper(s pipeline.Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// New opens the warehouse and builds every component from cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, failures.Configuration("app.new", fmt.Errorf("nil config"))
	}
	if log == nil {
		log = logger.New()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	wh, err := openWarehouse(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	st := store.New(wh)
	lookup := validation.New(wh, cfg.Store.ValidationsTable, cfg.Pipeline.LookupTimeout(), log)

	policy := classifier.Policy{
		CriticalOutcomes:        cfg.Classifier.CriticalOutcomes,
		EnforceCriticalOverride: cfg.Classifier.Enforce(),
		ConformityThreshold:     classifier.DefaultPolicy().ConformityThreshold,
	}
	proc := processor.New(
		newTranscriber(cfg.Transcription, log),
		newJudge(cfg.Judge, log),
		lookup,
		st,
		classifier.New(policy),
		judge.NewBuilder(cfg.Judge.Brand),
		processor.Config{
			MaxAttempts:       cfg.Pipeline.MaxAttempts,
			RetryDelay:        cfg.Pipeline.RetryDelay(),
			TranscribeTimeout: cfg.Transcription.Timeout(),
			JudgeTimeout:      cfg.Judge.Timeout(),
		},
		log,
	)

	var coordOpts []pipeline.CoordinatorOption
	if o.sleeper != nil {
		coordOpts = append(coordOpts, pipeline.WithSleeper(o.sleeper))
	}
	coord := pipeline.NewCoordinator(proc, log, coordOpts...)
	svc := pipeline.NewService(
		pipeline.FileManifest{Path: cfg.Manifest.Path, Log: log.Component("manifest")},
		st,
		proc,
		coord,
		pipeline.ServiceConfig{
			Options: pipeline.Options{
				BatchSize:    cfg.Pipeline.BatchSize,
				PerItemDelay: cfg.Pipeline.PerItemDelay(),
				PauseEvery:   cfg.Pipeline.PauseInterval(),
				Pause:        cfg.Pipeline.Pause(),
			},
			MaxItems:           cfg.Pipeline.MaxItems,
			BackfillLimit:      cfg.Pipeline.BackfillLimit,
			MinTranscriptChars: cfg.Pipeline.MinTranscriptChars,
		},
		log,
	)

	a := &App{
		cfg:       cfg,
		log:       log.Component("app"),
		store:     st,
		lookup:    lookup,
		processor: proc,
		service:   svc,
	}
	svc.OnReport(a.remember)
	if cfg.Slack.Enabled() {
		a.notifier = notify.NewSlack(cfg.Slack.BotToken, cfg.Slack.ChannelID, cfg.Slack.APIURL, log)
		svc.OnReport(a.postSummary)
	}

	a.log.WithFields(logrus.Fields{
		"store":       cfg.Store.Driver,
		"judge":       cfg.Judge.Provider,
		"mock_stt":    cfg.Transcription.Mock,
		"manifest":    cfg.Manifest.Path,
		"override":    policy.EnforceCriticalOverride,
		"max_attempt": cfg.Pipeline.MaxAttempts,
	}).Info("pipeline ready")
	return a, nil
}

func openWarehouse(ctx context.Context, cfg config.Store) (store.Warehouse, error) {
	switch cfg.Driver {
	case "clickhouse":
		wh, err := store.OpenClickHouse(ctx, store.ClickHouseConfig{
			Addr:             cfg.ClickHouseAddr,
			Database:         cfg.ClickHouseDatabase,
			Username:         cfg.ClickHouseUser,
			Password:         cfg.ClickHousePassword,
			ValidationsTable: cfg.ValidationsTable,
			Role:             "pipeline",
		})
		if err != nil {
			return nil, failures.DataUnavailable("app.open_clickhouse", err)
		}
		return wh, nil
	default:
		wh, err := store.OpenSQLite(ctx, cfg.SQLitePath, cfg.ValidationsTable)
		if err != nil {
			return nil, failures.DataUnavailable("app.open_sqlite", err)
		}
		return wh, nil
	}
}

func newTranscriber(cfg config.Transcription, log *logger.Logger) processor.Transcriber {
	if cfg.Mock {
		return transcription.Mock{CostPerMinute: cfg.CostPerMinute}
	}
	return transcription.New(transcription.Config{
		BaseURL:       cfg.URL,
		APIKey:        cfg.APIKey,
		CallType:      cfg.CallType,
		CostPerMinute: cfg.CostPerMinute,
		PollInterval:  cfg.PollInterval(),
		PollAttempts:  cfg.PollAttempts,
	}, log)
}

func newJudge(cfg config.Judge, log *logger.Logger) judge.Judge {
	pricing := judge.Pricing{PromptPer1K: cfg.PromptCostPer1K, CompletionPer1K: cfg.CompletionCostPer1K}
	switch cfg.Provider {
	case "mock":
		return judge.Mock{}
	case "anthropic":
		return judge.NewAnthropic(judge.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Pricing:   pricing,
		}, log)
	default:
		return judge.NewGateway(judge.GatewayConfig{
			URL:       cfg.GatewayURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Pricing:   pricing,
		}, log)
	}
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Store() *store.Store { return a.store }

func (a *App) Close() error { return a.store.Close() }

// RunBatch processes every pending manifest item under the run lock.
func (a *App) RunBatch(ctx context.Context) (types.BatchReport, error) {
	var report types.BatchReport
	err := runlock.With(a.cfg.LockPath, func() error {
		var err error
		report, err = a.service.RunPending(ctx)
		return err
	})
	return report, err
}

// Backfill analyzes stored transcripts that have no analysis, under the run lock.
func (a *App) Backfill(ctx context.Context, limit int) (types.BatchReport, error) {
	var report types.BatchReport
	err := runlock.With(a.cfg.LockPath, func() error {
		var err error
		report, err = a.service.Backfill(ctx, limit)
		return err
	})
	return report, err
}

// ProcessOne runs a single item immediately. It does not take the run lock;
// the store's idempotency covers overlap with a running batch.
func (a *App) ProcessOne(ctx context.Context, item types.WorkItem) (processor.Outcome, error) {
	return a.service.ProcessOne(ctx, item)
}

// Pending is the resolved work queue without processing it.
func (a *App) Pending(ctx context.Context) ([]types.WorkItem, error) {
	return a.service.Pending(ctx)
}

type Status struct {
	Store      store.Stats              `json:"store"`
	Summary    aggregator.Summary       `json:"summary"`
	ActionCard actionable.ActionCard    `json:"action_card"`
	Manifest   *dataset.ManifestSummary `json:"manifest,omitempty"`
	LastReport *types.BatchReport       `json:"last_report,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
	Policy     PolicySnapshot           `json:"policy"`
}

type PolicySnapshot struct {
	EnforceCriticalOverride bool     `json:"enforce_critical_override"`
	CriticalOutcomes        []string `json:"critical_outcomes"`
}

// Status summarizes the store and the last run. An unreadable manifest is a
// warning here, not an error.
func (a *App) Status(ctx context.Context, since time.Time) (Status, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	analyses, err := a.store.Analyses(ctx, store.AnalysisFilter{Since: since})
	if err != nil {
		return Status{}, err
	}
	summary := aggregator.Aggregate(analyses)
	st := Status{
		Store:      stats,
		Summary:    summary,
		ActionCard: actionable.Generate(summary),
		LastReport: a.LastReport(),
		Policy: PolicySnapshot{
			EnforceCriticalOverride: a.cfg.Classifier.Enforce(),
			CriticalOutcomes:        a.cfg.Classifier.CriticalOutcomes,
		},
	}
	if m, err := dataset.Load(a.cfg.Manifest.Path); err != nil {
		st.Warnings = append(st.Warnings, err.Error())
	} else {
		ms := dataset.Summarize(m)
		st.Manifest = &ms
	}
	return st, nil
}

func (a *App) AuditDuplicates(ctx context.Context) (store.DuplicateAudit, error) {
	return a.store.AuditDuplicates(ctx)
}

// Export writes analyses created at or after since to an XLSX workbook and
// returns how many rows were written.
func (a *App) Export(ctx context.Context, path string, since time.Time) (int, error) {
	analyses, err := a.store.Analyses(ctx, store.AnalysisFilter{Since: since})
	if err != nil {
		return 0, err
	}
	if err := dataset.ExportAnalyses(path, analyses); err != nil {
		return 0, err
	}
	return len(analyses), nil
}

// RecordValidation stores a prior validation outcome for an identity.
func (a *App) RecordValidation(ctx context.Context, identity string, vc types.ValidationContext) error {
	return a.lookup.Record(ctx, identity, vc)
}

// ServeSchedule runs a batch on every activation of the configured cron
// expression until ctx is done.
func (a *App) ServeSchedule(ctx context.Context) error {
	loc, err := a.cfg.Schedule.Location()
	if err != nil {
		return failures.Configuration("app.schedule", err)
	}
	s, err := schedule.New(a.cfg.Schedule.Cron, loc, func(ctx context.Context) {
		if _, err := a.RunBatch(ctx); err != nil {
			a.log.WithError(err).Error("scheduled batch failed")
		}
	}, a.log)
	if err != nil {
		return failures.Configuration("app.schedule", err)
	}
	return s.Run(ctx)
}

func (a *App) LastReport() *types.BatchReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil
	}
	r := *a.last
	return &r
}

func (a *App) remember(_ context.Context, _ string, r types.BatchReport) {
	a.mu.Lock()
	a.last = &r
	a.mu.Unlock()
}

func (a *App) postSummary(ctx context.Context, kind string, r types.BatchReport) {
	var card *actionable.ActionCard
	if analyses, err := a.store.Analyses(ctx, store.AnalysisFilter{}); err == nil {
		c := actionable.Generate(aggregator.Aggregate(analyses))
		card = &c
	}
	if err := a.notifier.BatchFinished(ctx, kind, r, card); err != nil {
		a.log.WithError(err).Warn("slack summary not sent")
	}
}

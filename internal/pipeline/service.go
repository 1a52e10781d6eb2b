package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"
	"voice-conformity-go/internal/dataset"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/processor"
	"voice-conformity-go/internal/types"
	"voice-conformity-go/internal/workqueue"
)

// ManifestSource yields the full call registry.
type ManifestSource interface {
	Load(ctx context.Context) ([]types.WorkItem, error)
}

// FileManifest reads the registry from a CSV or XLSX file on every Load.
type FileManifest struct {
	Path string
	Log  *logger.Logger
}

func (f FileManifest) Load(ctx context.Context) ([]types.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := dataset.Load(f.Path)
	if err != nil {
		return nil, err
	}
	if f.Log != nil {
		s := dataset.Summarize(m)
		f.Log.WithFields(logrus.Fields{
			"path":           s.Path,
			"rows":           s.RowsRead,
			"items":          s.Items,
			"dropped":        s.Dropped,
			"duplicate_refs": s.DuplicateRefs,
		}).Info("manifest loaded")
	}
	return m.Items, nil
}

// Ledger is the read side of the store the service needs.
type Ledger interface {
	ProcessedRefs(ctx context.Context) (map[string]struct{}, error)
	Unanalyzed(ctx context.Context, minChars, limit int) ([]types.TranscriptRecord, error)
}

type Processor interface {
	ItemProcessor
	Analyze(ctx context.Context, rec types.TranscriptRecord) (processor.Outcome, error)
}

// ReportHook is called after every finished run, successful or not.
type ReportHook func(ctx context.Context, kind string, report types.BatchReport)

type ServiceConfig struct {
	Options            Options
	MaxItems           int
	BackfillLimit      int
	MinTranscriptChars int
}

type Service struct {
	manifest ManifestSource
	ledger   Ledger
	proc     Processor
	coord    *Coordinator
	cfg      ServiceConfig
	hooks    []ReportHook
	log      *logger.Logger
}

func NewService(manifest ManifestSource, ledger Ledger, proc Processor, coord *Coordinator, cfg ServiceConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	if coord == nil {
		coord = NewCoordinator(proc, log)
	}
	return &Service{
		manifest: manifest,
		ledger:   ledger,
		proc:     proc,
		coord:    coord,
		cfg:      cfg,
		log:      log.Component("service"),
	}
}

func (s *Service) OnReport(h ReportHook) { s.hooks = append(s.hooks, h) }

// Pending resolves the work queue: the manifest minus processed refs, newest
// first, capped at MaxItems when set.
func (s *Service) Pending(ctx context.Context) ([]types.WorkItem, error) {
	items, err := s.manifest.Load(ctx)
	if err != nil {
		if failures.KindOf(err) == failures.KindDataUnavailable {
			return nil, err
		}
		return nil, failures.DataUnavailable("pipeline.manifest", err)
	}
	processed, err := s.ledger.ProcessedRefs(ctx)
	if err != nil {
		return nil, failures.DataUnavailable("pipeline.ledger", err)
	}
	pending := workqueue.Resolve(items, processed)
	s.log.WithFields(logrus.Fields{
		"manifest":  len(items),
		"processed": len(processed),
		"pending":   len(pending),
	}).Info("work queue resolved")
	if s.cfg.MaxItems > 0 && len(pending) > s.cfg.MaxItems {
		pending = pending[:s.cfg.MaxItems]
	}
	return pending, nil
}

// RunPending processes everything not yet in the processed ledger. An
// unreadable manifest or ledger aborts before any item is attempted.
func (s *Service) RunPending(ctx context.Context) (types.BatchReport, error) {
	pending, err := s.Pending(ctx)
	if err != nil {
		return types.BatchReport{}, err
	}
	report, err := s.coord.RunBatch(ctx, pending, s.cfg.Options)
	s.notify(ctx, "batch", report)
	return report, err
}

// ProcessOne runs a single item outside any batch.
func (s *Service) ProcessOne(ctx context.Context, item types.WorkItem) (processor.Outcome, error) {
	return s.proc.Process(ctx, item)
}

// Backfill analyzes stored transcripts that never got an analysis, newest
// first. limit <= 0 uses the configured BackfillLimit.
func (s *Service) Backfill(ctx context.Context, limit int) (types.BatchReport, error) {
	if limit <= 0 {
		limit = s.cfg.BackfillLimit
	}
	recs, err := s.ledger.Unanalyzed(ctx, s.cfg.MinTranscriptChars, limit)
	if err != nil {
		return types.BatchReport{}, failures.DataUnavailable("pipeline.unanalyzed", err)
	}
	jobs := make([]job, len(recs))
	for i, rec := range recs {
		rec := rec
		jobs[i] = job{
			item: types.WorkItem{Identity: rec.Identity, CallDate: rec.CallDate, AudioRef: rec.AudioRef},
			run: func(ctx context.Context) (processor.Outcome, error) {
				return s.proc.Analyze(ctx, rec)
			},
		}
	}
	report, err := s.coord.runJobs(ctx, jobs, s.cfg.Options)
	s.notify(ctx, "backfill", report)
	return report, err
}

func (s *Service) notify(ctx context.Context, kind string, report types.BatchReport) {
	for _, h := range s.hooks {
		h(ctx, kind, report)
	}
}

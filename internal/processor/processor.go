// Package processor runs the stage chain for a single work item:
// validate, transcribe, store transcript, look up context, judge, classify,
// store analysis.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"voice-conformity-go/internal/classifier"
	"voice-conformity-go/internal/dataset"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/judge"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/types"
)

type Stage string

const (
	StageValidate        Stage = "validate"
	StageTranscribe      Stage = "transcribe"
	StageStoreTranscript Stage = "store_transcript"
	StageJudge           Stage = "judge"
	StageStoreAnalysis   Stage = "store_analysis"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (types.Transcription, error)
}

// ContextSource returns the prior validation for an identity. It never fails;
// absence and lookup errors both come back as types.NoneContext().
type ContextSource interface {
	Lookup(ctx context.Context, identity string) types.ValidationContext
}

type Store interface {
	TranscriptFor(ctx context.Context, item types.WorkItem) (types.TranscriptRecord, bool, error)
	UpsertTranscript(ctx context.Context, item types.WorkItem, tr types.Transcription) (types.TranscriptRecord, error)
	UpsertAnalysis(ctx context.Context, rec types.AnalysisRecord) (types.AnalysisRecord, error)
	AnalysisFor(ctx context.Context, transcriptID string) (types.AnalysisRecord, bool, error)
}

type Config struct {
	MaxAttempts       int
	RetryDelay        time.Duration
	TranscribeTimeout time.Duration
	JudgeTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		RetryDelay:        5 * time.Second,
		TranscribeTimeout: 5 * time.Minute,
		JudgeTimeout:      2 * time.Minute,
	}
}

// StageError records which stage of the chain failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage that produced err, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Outcome is what one item produced. Costs are filled in as soon as the
// corresponding call succeeds, so a failed item still reports what it spent.
type Outcome struct {
	Transcript        types.TranscriptRecord
	Context           types.ValidationContext
	Verdict           classifier.Verdict
	Analysis          types.AnalysisRecord
	TranscriptionCost float64
	JudgeCost         float64
}

type Processor struct {
	transcriber Transcriber
	judge       judge.Judge
	lookup      ContextSource
	store       Store
	classifier  *classifier.Classifier
	prompts     *judge.Builder
	cfg         Config
	validate    *validator.Validate
	log         *logger.Logger
}

func New(tr Transcriber, j judge.Judge, lookup ContextSource, st Store, cl *classifier.Classifier, prompts *judge.Builder, cfg Config, log *logger.Logger) *Processor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	v, err := newItemValidator()
	if err != nil {
		panic(fmt.Sprintf("processor: %v", err))
	}
	return &Processor{
		transcriber: tr,
		judge:       j,
		lookup:      lookup,
		store:       st,
		classifier:  cl,
		prompts:     prompts,
		cfg:         cfg,
		validate:    v,
		log:         log.Component("processor"),
	}
}

func newItemValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("audioref", func(fl validator.FieldLevel) bool {
		return dataset.IsAudioRef(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("register audioref validation: %w", err)
	}
	return v, nil
}

// Process runs the full chain for item. Transient transcription and judge
// failures are retried up to Config.MaxAttempts; everything else fails the
// item at once. An item whose transcript is already stored is not sent to
// the provider again: it is analyzed from the stored text, or fails with a
// duplicate-kind error when it already has an analysis.
func (p *Processor) Process(ctx context.Context, item types.WorkItem) (Outcome, error) {
	var out Outcome

	item.Identity = strings.TrimSpace(item.Identity)
	item.AudioRef = strings.TrimSpace(item.AudioRef)
	if err := p.validate.Struct(item); err != nil {
		return out, &StageError{Stage: StageValidate, Err: failures.Structural("processor.validate", err)}
	}
	log := p.log.WithItem(item)

	stored, found, err := p.store.TranscriptFor(ctx, item)
	if err != nil {
		return out, &StageError{Stage: StageStoreTranscript, Err: err}
	}
	if found {
		log.WithField("transcript_id", stored.TranscriptID).Debug("transcript already stored")
		out.Transcript = stored
		return p.analyze(ctx, item, stored, out)
	}

	var tr types.Transcription
	err = p.retry(ctx, StageTranscribe, p.cfg.TranscribeTimeout, func(ctx context.Context) error {
		var err error
		tr, err = p.transcriber.Transcribe(ctx, item.AudioRef)
		return err
	})
	if err != nil {
		return out, &StageError{Stage: StageTranscribe, Err: err}
	}
	out.TranscriptionCost = tr.Cost
	log.WithField("duration_seconds", tr.DurationSeconds).Debug("transcribed")

	rec, err := p.store.UpsertTranscript(ctx, item, tr)
	if err != nil {
		return out, &StageError{Stage: StageStoreTranscript, Err: err}
	}
	out.Transcript = rec

	return p.analyze(ctx, item, rec, out)
}

// Analyze runs the tail of the chain for a transcript that is already stored.
func (p *Processor) Analyze(ctx context.Context, rec types.TranscriptRecord) (Outcome, error) {
	item := types.WorkItem{Identity: rec.Identity, CallDate: rec.CallDate, AudioRef: rec.AudioRef}
	return p.analyze(ctx, item, rec, Outcome{Transcript: rec})
}

func (p *Processor) analyze(ctx context.Context, item types.WorkItem, rec types.TranscriptRecord, out Outcome) (Outcome, error) {
	log := p.log.WithItem(item).WithField("transcript_id", rec.TranscriptID)

	if _, found, err := p.store.AnalysisFor(ctx, rec.TranscriptID); err != nil {
		return out, &StageError{Stage: StageStoreAnalysis, Err: failures.Transient("processor.analysis_for", err)}
	} else if found {
		return out, &StageError{Stage: StageStoreAnalysis, Err: failures.ErrDuplicateAnalysis}
	}

	vc := p.lookup.Lookup(ctx, item.Identity)
	out.Context = vc
	critical := p.classifier.IsCritical(vc.PriorOutcomeType)
	prompt := p.prompts.Build(rec.Text, item, vc, critical)

	var j types.Judgment
	err := p.retry(ctx, StageJudge, p.cfg.JudgeTimeout, func(ctx context.Context) error {
		var err error
		j, err = p.judge.Judge(ctx, prompt)
		return err
	})
	if err != nil {
		return out, &StageError{Stage: StageJudge, Err: err}
	}
	out.JudgeCost = j.Cost

	v := p.classifier.Classify(j.Criteria, vc)
	out.Verdict = v

	analysis := types.AnalysisRecord{
		TranscriptID:     rec.TranscriptID,
		Identity:         rec.Identity,
		CallDate:         rec.CallDate,
		Criteria:         j.Criteria,
		Category:         v.Category,
		Conformity:       v.Conformity,
		Score:            v.Score,
		RationaleText:    v.Rationale,
		OracleRationale:  j.Rationale,
		ContextApplied:   v.ContextApplied,
		PriorOutcomeType: vc.PriorOutcomeType,
		SellerName:       vc.SellerName,
		SupervisorName:   vc.SupervisorName,
		Model:            j.Model,
		Cost:             j.Cost,
	}
	if analysis.PriorOutcomeType == "" {
		analysis.PriorOutcomeType = types.NoPriorOutcome
	}
	stored, err := p.store.UpsertAnalysis(ctx, analysis)
	if err != nil {
		return out, &StageError{Stage: StageStoreAnalysis, Err: err}
	}
	out.Analysis = stored

	log.WithFields(logrus.Fields{
		"category":   v.Category,
		"conformity": v.Conformity,
		"criteria":   v.Count,
		"override":   v.OverrideApplied,
	}).Info("analysis stored")
	return out, nil
}

// retry runs fn with a per-attempt timeout, retrying transient failures at a
// fixed delay. Non-transient errors stop the loop immediately.
func (p *Processor) retry(ctx context.Context, stage Stage, timeout time.Duration, fn func(context.Context) error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryDelay), uint64(p.cfg.MaxAttempts-1)),
		ctx,
	)
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		if !failures.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.log.WithError(err).WithFields(logrus.Fields{
			"stage":   stage,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("transient failure, retrying")
	}
	return backoff.RetryNotify(op, b, notify)
}

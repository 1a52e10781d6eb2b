// Package pipeline drives batches of work items through the processor with
// rate limiting and per-item failure isolation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/processor"
	"voice-conformity-go/internal/types"
)

type ItemProcessor interface {
	Process(ctx context.Context, item types.WorkItem) (processor.Outcome, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options control batch pacing. PerItemDelay is applied between consecutive
// items; Pause is added after every PauseEvery attempted items.
type Options struct {
	BatchSize    int
	PerItemDelay time.Duration
	PauseEvery   int
	Pause        time.Duration
}

func DefaultOptions() Options {
	return Options{BatchSize: 500, PerItemDelay: 3 * time.Second, PauseEvery: 5, Pause: 5 * time.Second}
}

func (o Options) validate() error {
	switch {
	case o.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	case o.PerItemDelay < 0 || o.Pause < 0:
		return errors.New("delays must not be negative")
	case o.PauseEvery < 0:
		return fmt.Errorf("pause interval must not be negative, got %d", o.PauseEvery)
	}
	return nil
}

type Coordinator struct {
	proc     ItemProcessor
	sleep    Sleeper
	now      func() time.Time
	newRunID func() string
	log      *logger.Logger
}

type CoordinatorOption func(*Coordinator)

func WithSleeper(s Sleeper) CoordinatorOption {
	return func(c *Coordinator) { c.sleep = s }
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(proc ItemProcessor, log *logger.Logger, opts ...CoordinatorOption) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	c := &Coordinator{
		proc:     proc,
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: uuid.NewString,
		log:      log.Component("pipeline"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// job is one unit of a batch: the item it reports under and the work to run.
type job struct {
	item types.WorkItem
	run  func(context.Context) (processor.Outcome, error)
}

// RunBatch processes pending items sequentially. A failing item is recorded
// in the report and never stops the batch. An error is returned only for bad
// options or when ctx ends between items; the partial report is still
// returned in that case.
func (c *Coordinator) RunBatch(ctx context.Context, pending []types.WorkItem, o Options) (types.BatchReport, error) {
	if c == nil || c.proc == nil {
		return types.BatchReport{}, errors.New("pipeline: nil processor")
	}
	jobs := make([]job, len(pending))
	for i, item := range pending {
		item := item
		jobs[i] = job{item: item, run: func(ctx context.Context) (processor.Outcome, error) {
			return c.proc.Process(ctx, item)
		}}
	}
	return c.runJobs(ctx, jobs, o)
}

func (c *Coordinator) runJobs(ctx context.Context, jobs []job, o Options) (types.BatchReport, error) {
	report := types.BatchReport{
		RunID:     c.newRunID(),
		Pending:   len(jobs),
		Failures:  []types.Failure{},
		StartedAt: c.now(),
	}
	if err := o.validate(); err != nil {
		report.FinishedAt = c.now()
		return report, failures.Configuration("pipeline.options", err)
	}
	log := c.log.WithField("run_id", report.RunID)
	log.WithField("pending", len(jobs)).Info("batch started")

	chunks := (len(jobs) + o.BatchSize - 1) / o.BatchSize
	attempted := 0
	for start := 0; start < len(jobs); start += o.BatchSize {
		end := start + o.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		log.WithFields(logrus.Fields{"chunk": start/o.BatchSize + 1, "chunks": chunks, "size": end - start}).Debug("chunk started")

		for _, j := range jobs[start:end] {
			if err := ctx.Err(); err != nil {
				return c.finish(log, report), err
			}
			out, err := j.run(ctx)
			attempted++
			report.TranscriptionCost += out.TranscriptionCost
			report.JudgeCost += out.JudgeCost
			c.record(&report, j.item, err)

			if attempted == len(jobs) {
				break
			}
			if err := c.sleep(ctx, o.PerItemDelay); err != nil {
				return c.finish(log, report), err
			}
			if o.PauseEvery > 0 && attempted%o.PauseEvery == 0 {
				log.WithField("attempted", attempted).Debug("pausing")
				if err := c.sleep(ctx, o.Pause); err != nil {
					return c.finish(log, report), err
				}
			}
		}
	}
	return c.finish(log, report), nil
}

func (c *Coordinator) record(report *types.BatchReport, item types.WorkItem, err error) {
	switch {
	case err == nil:
		report.Processed++
	case failures.IsDuplicate(err):
		report.Skipped++
		c.log.WithItem(item).Info("already analyzed, skipped")
	default:
		report.Failed++
		f := types.Failure{
			Identity: item.Identity,
			AudioRef: item.AudioRef,
			Stage:    string(processor.StageOf(err)),
			Kind:     string(failures.KindOf(err)),
			Reason:   err.Error(),
		}
		report.Failures = append(report.Failures, f)
		c.log.WithItem(item).WithFields(logrus.Fields{"stage": f.Stage, "kind": f.Kind}).
			WithField("error", f.Reason).Warn("item failed")
	}
}

func (c *Coordinator) finish(log *logrus.Entry, report types.BatchReport) types.BatchReport {
	report.FinishedAt = c.now()
	log.WithFields(logrus.Fields{
		"processed":          report.Processed,
		"failed":             report.Failed,
		"skipped":            report.Skipped,
		"transcription_cost": report.TranscriptionCost,
		"judge_cost":         report.JudgeCost,
		"duration":           report.Duration().String(),
	}).Info("batch finished")
	return report
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

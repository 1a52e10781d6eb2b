// Package schedule triggers batch runs on a cron expression.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"voice-conformity-go/internal/logger"
)

// Job is one scheduled run. Its context is cancelled when the scheduler stops.
type Job func(ctx context.Context)

type Scheduler struct {
	cron *cron.Cron
	id   cron.EntryID
	spec string
	ctx  context.Context
	log  *logger.Logger
}

// New parses spec as a standard 5-field cron expression in loc. A run that is
// still going when the next one fires makes the next one skip.
func New(spec string, loc *time.Location, job Job, log *logger.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("schedule: empty cron expression")
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Discard()
	}
	s := &Scheduler{spec: spec, ctx: context.Background(), log: log.Component("schedule")}
	cl := cronLogger{s.log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := s.cron.AddFunc(spec, func() { job(s.ctx) })
	if err != nil {
		return nil, fmt.Errorf("schedule: parse %q: %w", spec, err)
	}
	s.id = id
	return s, nil
}

// Next is the next activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.cron.Entry(s.id).Schedule.Next(t.In(s.cron.Location()))
}

// Run blocks until ctx is done, then waits for a running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"cron": s.spec,
		"next": s.Next(time.Now()).Format(time.RFC3339),
	}).Info("scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// trigger runs the job through the cron chain, as an activation would.
func (s *Scheduler) trigger() {
	s.cron.Entry(s.id).WrappedJob.Run()
}

type cronLogger struct{ log *logger.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.log.WithFields(fields(kv)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.log.WithError(err).WithFields(fields(kv)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voice-conformity-go/internal/classifier"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/judge"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/processor"
	"voice-conformity-go/internal/store"
	"voice-conformity-go/internal/transcription"
	"voice-conformity-go/internal/types"
	"voice-conformity-go/internal/validation"
)

type scriptedProcessor struct {
	seen   []string
	failOn map[string]error
}

func (s *scriptedProcessor) Process(_ context.Context, item types.WorkItem) (processor.Outcome, error) {
	s.seen = append(s.seen, item.AudioRef)
	out := processor.Outcome{TranscriptionCost: 0.01, JudgeCost: 0.02}
	if err, ok := s.failOn[item.AudioRef]; ok {
		return processor.Outcome{TranscriptionCost: 0.01}, err
	}
	return out, nil
}

type sleepLog struct{ waits []time.Duration }

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func items(refs ...string) []types.WorkItem {
	out := make([]types.WorkItem, len(refs))
	for i, r := range refs {
		out[i] = types.WorkItem{Identity: "id-" + r, AudioRef: r}
	}
	return out
}

func TestBatchIsolatesFailures(t *testing.T) {
	proc := &scriptedProcessor{failOn: map[string]error{
		"c.wav": &processor.StageError{Stage: processor.StageJudge, Err: failures.Contentf("judge.parse", "bad json")},
	}}
	sl := &sleepLog{}
	c := NewCoordinator(proc, logger.Discard(), WithSleeper(sl.sleep))

	report, err := c.RunBatch(context.Background(), items("a.wav", "b.wav", "c.wav", "d.wav", "e.wav"), Options{BatchSize: 2, PerItemDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Processed != 4 || report.Failed != 1 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(proc.seen) != 5 || proc.seen[3] != "d.wav" || proc.seen[4] != "e.wav" {
		t.Errorf("attempted = %v", proc.seen)
	}
	f := report.Failures[0]
	if f.AudioRef != "c.wav" || f.Stage != "judge" || f.Kind != "content" || f.Identity != "id-c.wav" {
		t.Errorf("failure = %+v", f)
	}
	if got := report.TranscriptionCost; got < 0.0499 || got > 0.0501 {
		t.Errorf("transcription cost = %v", got)
	}
	if got := report.JudgeCost; got < 0.0799 || got > 0.0801 {
		t.Errorf("judge cost = %v", got)
	}
	if report.RunID == "" || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("run metadata = %+v", report)
	}
}

func TestBatchPacing(t *testing.T) {
	sl := &sleepLog{}
	c := NewCoordinator(&scriptedProcessor{}, logger.Discard(), WithSleeper(sl.sleep))

	opts := Options{BatchSize: 10, PerItemDelay: time.Second, PauseEvery: 2, Pause: time.Minute}
	if _, err := c.RunBatch(context.Background(), items("a", "b", "c", "d", "e"), opts); err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{time.Second, time.Second, time.Minute, time.Second, time.Second, time.Minute}
	if len(sl.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", sl.waits, want)
	}
	for i := range want {
		if sl.waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", sl.waits, want)
		}
	}
}

func TestDuplicatesAreSkipped(t *testing.T) {
	proc := &scriptedProcessor{failOn: map[string]error{
		"a": &processor.StageError{Stage: processor.StageStoreAnalysis, Err: failures.ErrDuplicateAnalysis},
	}}
	c := NewCoordinator(proc, logger.Discard(), WithSleeper(func(context.Context, time.Duration) error { return nil }))

	report, err := c.RunBatch(context.Background(), items("a", "b"), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Processed != 1 || len(report.Failures) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestCancellationStopsBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &scriptedProcessor{}
	c := NewCoordinator(proc, logger.Discard(), WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	report, err := c.RunBatch(ctx, items("a", "b", "c"), DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if report.Processed != 1 || len(proc.seen) != 1 {
		t.Errorf("report = %+v seen = %v", report, proc.seen)
	}
}

func TestInvalidOptions(t *testing.T) {
	c := NewCoordinator(&scriptedProcessor{}, logger.Discard())
	_, err := c.RunBatch(context.Background(), items("a"), Options{})
	if failures.KindOf(err) != failures.KindConfiguration {
		t.Fatalf("err = %v", err)
	}
	var nilCoord *Coordinator
	if _, err := nilCoord.RunBatch(context.Background(), nil, DefaultOptions()); err == nil {
		t.Fatal("nil coordinator should fail")
	}
}

type staticManifest struct {
	items []types.WorkItem
	err   error
}

func (m staticManifest) Load(context.Context) ([]types.WorkItem, error) { return m.items, m.err }

type brokenLedger struct{}

func (brokenLedger) ProcessedRefs(context.Context) (map[string]struct{}, error) {
	return nil, errors.New("connection refused")
}

func (brokenLedger) Unanalyzed(context.Context, int, int) ([]types.TranscriptRecord, error) {
	return nil, errors.New("connection refused")
}

func TestRunPendingAbortsOnUnreadableInputs(t *testing.T) {
	proc := &fullProcessor{}
	svc := NewService(staticManifest{items: items("a")}, brokenLedger{}, proc, nil, ServiceConfig{Options: DefaultOptions()}, logger.Discard())
	if _, err := svc.RunPending(context.Background()); failures.KindOf(err) != failures.KindDataUnavailable {
		t.Fatalf("ledger err = %v", err)
	}

	svc = NewService(staticManifest{err: errors.New("no such file")}, brokenLedger{}, proc, nil, ServiceConfig{Options: DefaultOptions()}, logger.Discard())
	if _, err := svc.RunPending(context.Background()); failures.KindOf(err) != failures.KindDataUnavailable {
		t.Fatalf("manifest err = %v", err)
	}
	if proc.calls != 0 {
		t.Errorf("items attempted = %d", proc.calls)
	}
}

type fullProcessor struct{ calls int }

func (f *fullProcessor) Process(context.Context, types.WorkItem) (processor.Outcome, error) {
	f.calls++
	return processor.Outcome{}, nil
}

func (f *fullProcessor) Analyze(context.Context, types.TranscriptRecord) (processor.Outcome, error) {
	f.calls++
	return processor.Outcome{}, nil
}

func newSQLiteService(t *testing.T, manifest ManifestSource) (*Service, *store.Store) {
	t.Helper()
	ctx := context.Background()
	wh, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "conformity.db"), "validations")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	st := store.New(wh)
	t.Cleanup(func() { _ = st.Close() })

	log := logger.Discard()
	proc := processor.New(
		transcription.Mock{CostPerMinute: 0.005},
		judge.Mock{},
		validation.New(wh, "validations", time.Second, log),
		st,
		classifier.New(classifier.DefaultPolicy()),
		judge.NewBuilder("Maquisistema"),
		processor.Config{MaxAttempts: 3, RetryDelay: time.Millisecond},
		log,
	)
	coord := NewCoordinator(proc, log, WithSleeper(func(context.Context, time.Duration) error { return nil }))
	cfg := ServiceConfig{Options: DefaultOptions(), BackfillLimit: 10, MinTranscriptChars: 50}
	return NewService(manifest, st, proc, coord, cfg, log), st
}

func TestEndToEndSingleItem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.csv")
	body := "identity,audio_ref,call_date\n729143,ref-A,2025-01-15\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	svc, st := newSQLiteService(t, FileManifest{Path: path})
	ctx := context.Background()

	var hooked []string
	svc.OnReport(func(_ context.Context, kind string, _ types.BatchReport) { hooked = append(hooked, kind) })

	report, err := svc.RunPending(ctx)
	if err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	if report.Processed != 1 || report.Failed != 0 {
		t.Fatalf("first run = %+v", report)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Transcripts != 1 || stats.Analyses != 1 {
		t.Errorf("stats = %+v", stats)
	}
	analyses, err := st.Analyses(ctx, store.AnalysisFilter{})
	if err != nil {
		t.Fatal(err)
	}
	a := analyses[0]
	if a.Identity != "729143" || a.Category != types.CategoryTop || a.Conformity != types.Conforming {
		t.Errorf("analysis = %+v", a)
	}
	if a.TranscriptID != store.TranscriptID("729143", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), "ref-A") {
		t.Errorf("transcript id = %s", a.TranscriptID)
	}

	again, err := svc.RunPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Pending != 0 || again.Attempted() != 0 {
		t.Errorf("second run = %+v", again)
	}
	if len(hooked) != 2 {
		t.Errorf("hooks fired = %v", hooked)
	}
}

func TestBackfillAnalyzesOrphanTranscripts(t *testing.T) {
	svc, st := newSQLiteService(t, staticManifest{})
	ctx := context.Background()

	item := types.WorkItem{Identity: "42", AudioRef: "15012025_x.wav", CallDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)}
	tr, _ := transcription.Mock{}.Transcribe(ctx, item.AudioRef)
	if _, err := st.UpsertTranscript(ctx, item, tr); err != nil {
		t.Fatal(err)
	}

	report, err := svc.Backfill(ctx, 0)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("report = %+v", report)
	}
	again, err := svc.Backfill(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if again.Pending != 0 {
		t.Errorf("second backfill = %+v", again)
	}
}

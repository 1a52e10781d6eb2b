package schedule

import (
	"context"
	"testing"
	"time"

	"voice-conformity-go/internal/logger"
)

func TestNextActivation(t *testing.T) {
	loc, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s, err := New("0 6 * * *", loc, func(context.Context) {}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) // 07:00 in Lima
	next := s.Next(from)
	want := time.Date(2025, 3, 11, 6, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestInvalidSpec(t *testing.T) {
	if _, err := New("every day", nil, func(context.Context) {}, nil); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := New("  ", nil, func(context.Context) {}, nil); err == nil {
		t.Fatal("expected error for empty spec")
	}
}

func TestTriggerRunsJobAndRecovers(t *testing.T) {
	runs := 0
	s, err := New("@daily", time.UTC, func(context.Context) {
		runs++
		if runs == 1 {
			panic("boom")
		}
	}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	s.trigger()
	s.trigger()
	if runs != 2 {
		t.Errorf("runs = %d", runs)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := New("@hourly", time.UTC, func(context.Context) {}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

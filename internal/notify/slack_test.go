package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voice-conformity-go/internal/actionable"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/types"
)

func sampleReport() types.BatchReport {
	start := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)
	r := types.BatchReport{
		RunID: "run-1", Pending: 8, Processed: 5, Failed: 7, Skipped: 1,
		TranscriptionCost: 0.05, JudgeCost: 0.12,
		StartedAt: start, FinishedAt: start.Add(90 * time.Second),
	}
	for i := 0; i < 7; i++ {
		r.Failures = append(r.Failures, types.Failure{Identity: "1", AudioRef: "a.wav", Stage: "judge", Kind: "content"})
	}
	return r
}

func TestFormatReport(t *testing.T) {
	card := &actionable.ActionCard{Insight: "Seller Beto conforms in only 20% of 10 calls", Action: "Review"}
	msg := FormatReport("batch", sampleReport(), card)
	for _, want := range []string{"run `run-1`", "processed 5", "failed 7", "$0.1200", "1m30s", "and 2 more", "Seller Beto"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if n := strings.Count(msg, "a.wav"); n != maxListedFailures {
		t.Errorf("listed failures = %d", n)
	}
}

func TestBatchFinishedPostsToChannel(t *testing.T) {
	var gotChannel, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/api/") == "chat.postMessage" {
			_ = r.ParseForm()
			gotChannel = r.FormValue("channel")
			gotText = r.FormValue("text")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C1", "ts": "1.0"})
	}))
	t.Cleanup(srv.Close)

	n := NewSlack("xoxb-test", "C1", srv.URL+"/api/", logger.Discard())
	if err := n.BatchFinished(context.Background(), "batch", sampleReport(), nil); err != nil {
		t.Fatalf("BatchFinished: %v", err)
	}
	if gotChannel != "C1" || !strings.Contains(gotText, "run-1") {
		t.Errorf("channel=%q text=%q", gotChannel, gotText)
	}
}

func TestBatchFinishedSurfacesSlackErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	t.Cleanup(srv.Close)

	n := NewSlack("xoxb-test", "C404", srv.URL+"/api/", nil)
	if err := n.BatchFinished(context.Background(), "batch", sampleReport(), nil); err == nil {
		t.Fatal("expected error")
	}
}

package transcription

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voice-conformity-go/internal/failures"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newFakeProvider(t *testing.T, finalStatus string) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("callRecordingLink") != "gs://calls/a.wav" {
			http.Error(w, "unexpected link", http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Code": 200,
			"Data": map[string]any{"MediaId": "m-1", "Status": "Queued"},
		})
	})
	mux.HandleFunc("/getstatus", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		status := "Processing"
		if n >= 2 {
			status = finalStatus
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Code":   200,
			"Reason": "bad audio",
			"Data": map[string]any{
				"Status":               status,
				"TranscriptionTextURL": srv.URL + "/text/m-1",
				"Duration":             180.0,
				"Confidence":           0.87,
			},
		})
	})
	mux.HandleFunc("/text/m-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Buenos dias, le habla Ana de Maquisistema."))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestTranscribeHappyPath(t *testing.T) {
	srv, polls := newFakeProvider(t, "Success")
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", CostPerMinute: 0.005, Sleep: noSleep}, nil)

	tr, err := c.Transcribe(context.Background(), "gs://calls/a.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Buenos dias, le habla Ana de Maquisistema." {
		t.Fatalf("text = %q", tr.Text)
	}
	if tr.DurationSeconds != 180 || tr.Confidence != 0.87 {
		t.Fatalf("duration=%d confidence=%v", tr.DurationSeconds, tr.Confidence)
	}
	if math.Abs(tr.Cost-0.015) > 1e-9 {
		t.Fatalf("cost = %v", tr.Cost)
	}
	if atomic.LoadInt32(polls) != 2 {
		t.Fatalf("polls = %d", *polls)
	}
}

func TestTranscribeFailedJobIsContent(t *testing.T) {
	srv, _ := newFakeProvider(t, "Failed")
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Sleep: noSleep}, nil)

	_, err := c.Transcribe(context.Background(), "gs://calls/a.wav")
	if failures.KindOf(err) != failures.KindContent {
		t.Fatalf("kind = %v (err %v)", failures.KindOf(err), err)
	}
}

func TestTranscribeUnauthorizedIsConfiguration(t *testing.T) {
	srv, _ := newFakeProvider(t, "Success")
	c := New(Config{BaseURL: srv.URL, APIKey: "wrong", Sleep: noSleep}, nil)

	_, err := c.Transcribe(context.Background(), "gs://calls/a.wav")
	if failures.KindOf(err) != failures.KindConfiguration {
		t.Fatalf("kind = %v (err %v)", failures.KindOf(err), err)
	}
}

func TestTranscribeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, Sleep: noSleep}, nil)

	_, err := c.Transcribe(context.Background(), "gs://calls/a.wav")
	if !failures.IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestTranscribeNeverReadyIsTransient(t *testing.T) {
	srv, _ := newFakeProvider(t, "Processing")
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", PollAttempts: 3, Sleep: noSleep}, nil)

	_, err := c.Transcribe(context.Background(), "gs://calls/a.wav")
	if !failures.IsTransient(err) {
		t.Fatalf("expected transient timeout, got %v", err)
	}
}

func TestMissingBaseURL(t *testing.T) {
	_, err := New(Config{}, nil).Transcribe(context.Background(), "x")
	if failures.KindOf(err) != failures.KindConfiguration {
		t.Fatalf("kind = %v", failures.KindOf(err))
	}
}

func TestMockIsDeterministic(t *testing.T) {
	m := Mock{CostPerMinute: 0.005}
	a, _ := m.Transcribe(context.Background(), "ref-A")
	b, _ := m.Transcribe(context.Background(), "ref-A")
	if a != b {
		t.Fatalf("mock not deterministic: %+v vs %+v", a, b)
	}
	if a.DurationSeconds < 120 || a.Cost <= 0 {
		t.Fatalf("unexpected mock values: %+v", a)
	}
}

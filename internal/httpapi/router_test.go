package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-conformity-go/internal/app"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/processor"
	"voice-conformity-go/internal/runlock"
	"voice-conformity-go/internal/store"
	"voice-conformity-go/internal/types"
)

type fakeBackend struct {
	batchErr   error
	processErr error
	lastItem   types.WorkItem
	lastLimit  int
	release    chan struct{}
}

func (f *fakeBackend) RunBatch(ctx context.Context) (types.BatchReport, error) {
	if f.release != nil {
		<-f.release
	}
	return types.BatchReport{RunID: "r1", Processed: 2}, f.batchErr
}

func (f *fakeBackend) Backfill(_ context.Context, limit int) (types.BatchReport, error) {
	f.lastLimit = limit
	return types.BatchReport{RunID: "b1"}, nil
}

func (f *fakeBackend) ProcessOne(_ context.Context, item types.WorkItem) (processor.Outcome, error) {
	f.lastItem = item
	if f.processErr != nil {
		return processor.Outcome{}, f.processErr
	}
	return processor.Outcome{Analysis: types.AnalysisRecord{TranscriptID: "t1", Category: types.CategoryTop}}, nil
}

func (f *fakeBackend) Status(context.Context, time.Time) (app.Status, error) {
	return app.Status{Store: store.Stats{Transcripts: 3}}, nil
}

func (f *fakeBackend) AuditDuplicates(context.Context) (store.DuplicateAudit, error) {
	return store.DuplicateAudit{}, nil
}

func serve(t *testing.T, b Backend) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(b, logger.Discard(), Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := serve(t, &fakeBackend{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestBatchWait(t *testing.T) {
	srv := serve(t, &fakeBackend{})
	resp := post(t, srv.URL+"/batch?wait=true")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var report types.BatchReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.RunID != "r1" || report.Processed != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestBatchAsyncRejectsOverlap(t *testing.T) {
	b := &fakeBackend{release: make(chan struct{})}
	srv := serve(t, b)

	if resp := post(t, srv.URL+"/batch"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	if resp := post(t, srv.URL+"/batch"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second status = %d", resp.StatusCode)
	}
	close(b.release)
}

func TestBatchLockHeldIsConflict(t *testing.T) {
	srv := serve(t, &fakeBackend{batchErr: runlock.ErrHeld})
	if resp := post(t, srv.URL+"/batch?wait=1"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestBatchManifestUnavailable(t *testing.T) {
	srv := serve(t, &fakeBackend{batchErr: failures.DataUnavailable("dataset.load", errors.New("missing"))})
	if resp := post(t, srv.URL+"/batch?wait=true"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProcess(t *testing.T) {
	b := &fakeBackend{}
	srv := serve(t, b)

	resp := post(t, srv.URL+"/process?audio_ref=gs://calls/15012025_a.wav&identity=729143.0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if b.lastItem.Identity != "729143" {
		t.Errorf("identity = %q", b.lastItem.Identity)
	}
	if want := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC); !b.lastItem.CallDate.Equal(want) {
		t.Errorf("call date = %v", b.lastItem.CallDate)
	}

	if resp := post(t, srv.URL+"/process?identity=1"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing ref status = %d", resp.StatusCode)
	}
	if resp := post(t, srv.URL+"/process?identity=1&audio_ref=a.wav&call_date=yesterday"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad date status = %d", resp.StatusCode)
	}
}

func TestProcessErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{failures.Structural("processor.validate", errors.New("bad ref")), http.StatusBadRequest},
		{failures.ErrDuplicateAnalysis, http.StatusConflict},
		{failures.Contentf("judge.parse", "no json"), http.StatusUnprocessableEntity},
		{failures.Transient("stt", errors.New("503")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv := serve(t, &fakeBackend{processErr: tc.err})
		if resp := post(t, srv.URL+"/process?identity=1&audio_ref=a.wav"); resp.StatusCode != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, resp.StatusCode, tc.want)
		}
	}
}

func TestBackfillLimit(t *testing.T) {
	b := &fakeBackend{}
	srv := serve(t, b)
	if resp := post(t, srv.URL+"/backfill?wait=true&limit=25"); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if b.lastLimit != 25 {
		t.Errorf("limit = %d", b.lastLimit)
	}
	if resp := post(t, srv.URL+"/backfill?limit=-1"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", resp.StatusCode)
	}
}

func TestStatusAndAudit(t *testing.T) {
	srv := serve(t, &fakeBackend{})

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st app.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Store.Transcripts != 3 {
		t.Errorf("status = %+v", st)
	}

	resp2, err := http.Get(srv.URL + "/audit/duplicates")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var body struct {
		Clean bool `json:"clean"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Clean {
		t.Error("audit should be clean")
	}
}

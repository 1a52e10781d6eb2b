// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"voice-conformity-go/internal/app"
	"voice-conformity-go/internal/dataset"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/processor"
	"voice-conformity-go/internal/runlock"
	"voice-conformity-go/internal/store"
	"voice-conformity-go/internal/types"
)

// Backend is what the handlers drive. *app.App implements it.
type Backend interface {
	RunBatch(ctx context.Context) (types.BatchReport, error)
	Backfill(ctx context.Context, limit int) (types.BatchReport, error)
	ProcessOne(ctx context.Context, item types.WorkItem) (processor.Outcome, error)
	Status(ctx context.Context, since time.Time) (app.Status, error)
	AuditDuplicates(ctx context.Context) (store.DuplicateAudit, error)
}

type Options struct {
	AllowedOrigins []string
	// Background is the parent context for asynchronous runs; it outlives
	// the request that started them.
	Background context.Context
}

type handler struct {
	backend Backend
	log     *logger.Logger
	bg      context.Context
	running atomic.Bool
}

func NewRouter(b Backend, log *logger.Logger, opt Options) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	if opt.Background == nil {
		opt.Background = context.Background()
	}
	h := &handler{backend: b, log: log.Component("http"), bg: opt.Background}

	origins := opt.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.RequestID, chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Post("/batch", h.batch)
	r.Post("/backfill", h.backfill)
	r.Post("/process", h.process)
	r.Get("/status", h.status)
	r.Get("/audit/duplicates", h.audit)
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.WithRequest(r).WithFields(logrus.Fields{
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request served")
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// batch runs synchronously with ?wait=true; otherwise it starts the run in
// the background and answers 202.
func (h *handler) batch(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "batch", func(ctx context.Context) (types.BatchReport, error) {
		return h.backend.RunBatch(ctx)
	})
}

func (h *handler) backfill(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	h.run(w, r, "backfill", func(ctx context.Context) (types.BatchReport, error) {
		return h.backend.Backfill(ctx, limit)
	})
}

func (h *handler) run(w http.ResponseWriter, r *http.Request, kind string, fn func(context.Context) (types.BatchReport, error)) {
	if !h.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, kind+": a run is already in progress")
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer h.running.Store(false)
		report, err := fn(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	go func() {
		defer h.running.Store(false)
		if _, err := fn(h.bg); err != nil {
			h.log.WithError(err).WithField("kind", kind).Error("background run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "kind": kind})
}

func (h *handler) process(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	item := types.WorkItem{
		Identity: dataset.NormalizeIdentity(q.Get("identity")),
		AudioRef: strings.TrimSpace(q.Get("audio_ref")),
	}
	if item.AudioRef == "" || item.Identity == "" {
		writeError(w, http.StatusBadRequest, "audio_ref and identity are required")
		return
	}
	if raw := q.Get("call_date"); raw != "" {
		d, ok := dataset.ParseCallDate(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "call_date not recognized")
			return
		}
		item.CallDate = d
	} else if d, ok := dataset.DateFromFilename(item.AudioRef); ok {
		item.CallDate = d
	}

	out, err := h.backend.ProcessOne(r.Context(), item)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		d, ok := dataset.ParseCallDate(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "since must be a date")
			return
		}
		since = d
	}
	st, err := h.backend.Status(r.Context(), since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) audit(w http.ResponseWriter, r *http.Request) {
	a, err := h.backend.AuditDuplicates(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clean": a.Clean(), "audit": a})
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := h.log.WithRequest(r).WithError(err).WithField("kind", failures.KindOf(err))
	if status >= 500 {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	if errors.Is(err, runlock.ErrHeld) {
		return http.StatusConflict
	}
	switch failures.KindOf(err) {
	case failures.KindStructural:
		return http.StatusBadRequest
	case failures.KindDuplicate:
		return http.StatusConflict
	case failures.KindContent:
		return http.StatusUnprocessableEntity
	case failures.KindTransient:
		return http.StatusBadGateway
	case failures.KindDataUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

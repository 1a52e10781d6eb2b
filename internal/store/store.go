// Package store assigns stable identities to transcripts and analyses and
// persists them idempotently. It is the only writer of those records.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/types"
)

type Store struct {
	wh      Warehouse
	now     func() time.Time
	newSalt func() string
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSalt overrides the weak-id salt source.
func WithSalt(fn func() string) Option {
	return func(s *Store) { s.newSalt = fn }
}

func New(wh Warehouse, opts ...Option) *Store {
	s := &Store{
		wh:      wh,
		now:     func() time.Time { return time.Now().UTC() },
		newSalt: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Warehouse() Warehouse { return s.wh }

func (s *Store) Close() error { return s.wh.Close() }

// UpsertTranscript persists the transcript for item and returns the stored
// record. When a record with the same id already exists nothing is written and
// the stored row is returned unchanged. An empty audio reference falls back to
// a weak id; a prior weak record with the same identity, call date and text is
// reused.
func (s *Store) UpsertTranscript(ctx context.Context, item types.WorkItem, tr types.Transcription) (types.TranscriptRecord, error) {
	const op = "store.upsert_transcript"

	now := s.now().UTC()
	rec := types.TranscriptRecord{
		Identity:        strings.TrimSpace(item.Identity),
		CallDate:        item.CallDate,
		AudioRef:        item.AudioRef,
		Text:            tr.Text,
		Confidence:      tr.Confidence,
		DurationSeconds: tr.DurationSeconds,
		ProviderCost:    tr.Cost,
		Provider:        tr.Provider,
		Status:          types.TranscriptProcessed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	textDigest := TextDigest(rec.Text)

	if rec.AudioRef != "" {
		rec.TranscriptID = TranscriptID(rec.Identity, rec.CallDate, rec.AudioRef)
	} else {
		existing, found, err := queryOne(ctx, s.wh,
			`SELECT transcript_id FROM transcripts WHERE identity = ? AND call_date = ? AND text_digest = ? LIMIT 1`,
			rec.Identity, formatCallDate(rec.CallDate), textDigest)
		if err != nil {
			return rec, failures.Transient(op, err)
		}
		if found {
			return s.storedTranscript(ctx, op, existing)
		}
		rec.TranscriptID = WeakTranscriptID(rec.Identity, now, s.newSalt())
		rec.WeakID = true
	}

	if err := validateTranscript(rec); err != nil {
		return rec, failures.Content(op, err)
	}

	exists, err := s.exists(ctx, TableTranscripts, "transcript_id", rec.TranscriptID)
	if err != nil {
		return rec, failures.Transient(op, err)
	}
	if exists {
		return s.storedTranscript(ctx, op, rec.TranscriptID)
	}

	row := []any{
		rec.TranscriptID, rec.Identity, formatCallDate(rec.CallDate), rec.AudioRef, rec.Text, textDigest,
		rec.Confidence, int64(rec.DurationSeconds), rec.ProviderCost, rec.Provider, rec.Status, boolInt(rec.WeakID),
		FormatTimestamp(rec.CreatedAt), FormatTimestamp(rec.UpdatedAt),
	}
	if err := s.wh.Insert(ctx, TableTranscripts, transcriptColumns, [][]any{row}); err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return s.storedTranscript(ctx, op, rec.TranscriptID)
		}
		return rec, failures.Transient(op, err)
	}
	return rec, nil
}

// storedTranscript loads the row that won for id. Callers analyze what is
// stored, never a transcription that was discarded.
func (s *Store) storedTranscript(ctx context.Context, op, id string) (types.TranscriptRecord, error) {
	rec, found, err := s.Transcript(ctx, id)
	if err != nil {
		return types.TranscriptRecord{}, err
	}
	if !found {
		return types.TranscriptRecord{}, failures.Transient(op, fmt.Errorf("transcript %s not readable yet", id))
	}
	return rec, nil
}

// TranscriptFor returns the stored transcript under item's stable id. Items
// without an audio reference have no stable id and are never found.
func (s *Store) TranscriptFor(ctx context.Context, item types.WorkItem) (types.TranscriptRecord, bool, error) {
	if item.AudioRef == "" {
		return types.TranscriptRecord{}, false, nil
	}
	return s.Transcript(ctx, TranscriptID(strings.TrimSpace(item.Identity), item.CallDate, item.AudioRef))
}

// UpsertAnalysis writes the analysis for a transcript. A second write for the
// same transcript fails with failures.ErrDuplicateAnalysis.
func (s *Store) UpsertAnalysis(ctx context.Context, rec types.AnalysisRecord) (types.AnalysisRecord, error) {
	const op = "store.upsert_analysis"

	rec.AnalysisID = AnalysisID(rec.TranscriptID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if err := validateAnalysis(rec); err != nil {
		return rec, failures.Content(op, err)
	}

	exists, err := s.exists(ctx, TableAnalyses, "transcript_id", rec.TranscriptID)
	if err != nil {
		return rec, failures.Transient(op, err)
	}
	if exists {
		return rec, failures.ErrDuplicateAnalysis
	}

	row := []any{rec.AnalysisID, rec.TranscriptID, rec.Identity, formatCallDate(rec.CallDate)}
	for _, met := range rec.Criteria {
		row = append(row, boolInt(met))
	}
	row = append(row,
		string(rec.Category), string(rec.Conformity), int64(rec.Score), rec.RationaleText, rec.OracleRationale,
		boolInt(rec.ContextApplied), rec.PriorOutcomeType, rec.SellerName, rec.SupervisorName,
		rec.Model, rec.Cost, FormatTimestamp(rec.CreatedAt),
	)
	if err := s.wh.Insert(ctx, TableAnalyses, analysisColumns, [][]any{row}); err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return rec, failures.ErrDuplicateAnalysis
		}
		return rec, failures.Transient(op, err)
	}
	return rec, nil
}

// ProcessedRefs is the processed ledger: every audio reference with a stored
// transcript in processed status.
func (s *Store) ProcessedRefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.wh.Query(ctx, `SELECT DISTINCT audio_ref FROM transcripts WHERE status = ?`, types.TranscriptProcessed)
	if err != nil {
		return nil, failures.DataUnavailable("store.processed_refs", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, failures.DataUnavailable("store.processed_refs", err)
		}
		if ref != "" {
			out[ref] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, failures.DataUnavailable("store.processed_refs", err)
	}
	return out, nil
}

const transcriptSelect = `SELECT transcript_id, identity, call_date, audio_ref, text, confidence,
    duration_seconds, provider_cost, provider, status, weak_id, created_at, updated_at FROM transcripts`

// Transcript loads one transcript by id.
func (s *Store) Transcript(ctx context.Context, id string) (types.TranscriptRecord, bool, error) {
	recs, err := s.queryTranscripts(ctx, transcriptSelect+` WHERE transcript_id = ? LIMIT 1`, id)
	if err != nil || len(recs) == 0 {
		return types.TranscriptRecord{}, false, err
	}
	return recs[0], true, nil
}

// Unanalyzed lists transcripts with no analysis whose text is longer than
// minChars, newest first.
func (s *Store) Unanalyzed(ctx context.Context, minChars, limit int) ([]types.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.queryTranscripts(ctx,
		transcriptSelect+` WHERE transcript_id NOT IN (SELECT transcript_id FROM analyses)
    AND LENGTH(text) > ? ORDER BY created_at DESC LIMIT ?`,
		int64(minChars), int64(limit))
}

func (s *Store) queryTranscripts(ctx context.Context, query string, args ...any) ([]types.TranscriptRecord, error) {
	rows, err := s.wh.Query(ctx, query, args...)
	if err != nil {
		return nil, failures.DataUnavailable("store.query_transcripts", err)
	}
	defer rows.Close()

	var out []types.TranscriptRecord
	for rows.Next() {
		var (
			rec               types.TranscriptRecord
			callDate, created string
			updated           string
			duration, weak    int64
		)
		if err := rows.Scan(&rec.TranscriptID, &rec.Identity, &callDate, &rec.AudioRef, &rec.Text,
			&rec.Confidence, &duration, &rec.ProviderCost, &rec.Provider, &rec.Status, &weak,
			&created, &updated); err != nil {
			return nil, failures.DataUnavailable("store.query_transcripts", err)
		}
		rec.CallDate = parseCallDate(callDate)
		rec.DurationSeconds = int(duration)
		rec.WeakID = weak != 0
		rec.CreatedAt = ParseTimestamp(created)
		rec.UpdatedAt = ParseTimestamp(updated)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, failures.DataUnavailable("store.query_transcripts", err)
	}
	return out, nil
}

// AnalysisFilter narrows Analyses. Zero values mean no restriction.
type AnalysisFilter struct {
	Since time.Time
	Limit int
}

const analysisSelect = `SELECT analysis_id, transcript_id, identity, call_date,
    criterion_1, criterion_2, criterion_3, criterion_4, criterion_5,
    category, conformity, score, rationale_text, oracle_rationale, context_applied,
    prior_outcome_type, seller_name, supervisor_name, model, cost, created_at FROM analyses`

// Analyses lists stored analyses, newest first.
func (s *Store) Analyses(ctx context.Context, f AnalysisFilter) ([]types.AnalysisRecord, error) {
	query := analysisSelect
	var args []any
	if !f.Since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, FormatTimestamp(f.Since))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, int64(f.Limit))
	}
	return s.queryAnalyses(ctx, query, args...)
}

// AnalysisFor loads the analysis of a transcript.
func (s *Store) AnalysisFor(ctx context.Context, transcriptID string) (types.AnalysisRecord, bool, error) {
	recs, err := s.queryAnalyses(ctx, analysisSelect+` WHERE transcript_id = ? LIMIT 1`, transcriptID)
	if err != nil || len(recs) == 0 {
		return types.AnalysisRecord{}, false, err
	}
	return recs[0], true, nil
}

func (s *Store) queryAnalyses(ctx context.Context, query string, args ...any) ([]types.AnalysisRecord, error) {
	rows, err := s.wh.Query(ctx, query, args...)
	if err != nil {
		return nil, failures.DataUnavailable("store.query_analyses", err)
	}
	defer rows.Close()

	var out []types.AnalysisRecord
	for rows.Next() {
		var (
			rec                              types.AnalysisRecord
			callDate, created                string
			category, conformity             string
			c1, c2, c3, c4, c5, score, ctx64 int64
		)
		if err := rows.Scan(&rec.AnalysisID, &rec.TranscriptID, &rec.Identity, &callDate,
			&c1, &c2, &c3, &c4, &c5,
			&category, &conformity, &score, &rec.RationaleText, &rec.OracleRationale, &ctx64,
			&rec.PriorOutcomeType, &rec.SellerName, &rec.SupervisorName, &rec.Model, &rec.Cost, &created); err != nil {
			return nil, failures.DataUnavailable("store.query_analyses", err)
		}
		rec.CallDate = parseCallDate(callDate)
		rec.Criteria = types.CriterionJudgment{c1 != 0, c2 != 0, c3 != 0, c4 != 0, c5 != 0}
		rec.Category = types.Category(category)
		rec.Conformity = types.Conformity(conformity)
		rec.Score = int(score)
		rec.ContextApplied = ctx64 != 0
		rec.CreatedAt = ParseTimestamp(created)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, failures.DataUnavailable("store.query_analyses", err)
	}
	return out, nil
}

// Stats are table totals for status reporting.
type Stats struct {
	Transcripts int64 `json:"transcripts"`
	Analyses    int64 `json:"analyses"`
	Unanalyzed  int64 `json:"unanalyzed"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		dst   *int64
		query string
	}{
		{&st.Transcripts, `SELECT CAST(COUNT(*) AS BIGINT) FROM transcripts`},
		{&st.Analyses, `SELECT CAST(COUNT(*) AS BIGINT) FROM analyses`},
		{&st.Unanalyzed, `SELECT CAST(COUNT(*) AS BIGINT) FROM transcripts WHERE transcript_id NOT IN (SELECT transcript_id FROM analyses)`},
	}
	for _, q := range queries {
		if err := s.scanCount(ctx, q.query, q.dst); err != nil {
			return st, failures.DataUnavailable("store.stats", err)
		}
	}
	return st, nil
}

func (s *Store) scanCount(ctx context.Context, query string, dst *int64) error {
	rows, err := s.wh.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(dst); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DuplicateGroup is one key seen more than once, with the ids it maps to.
type DuplicateGroup struct {
	Key string   `json:"key"`
	IDs []string `json:"ids"`
}

// DuplicateAudit reports invariant violations; it never repairs them.
type DuplicateAudit struct {
	RefsWithMultipleTranscripts     []DuplicateGroup `json:"refs_with_multiple_transcripts"`
	TranscriptsWithMultipleAnalyses []DuplicateGroup `json:"transcripts_with_multiple_analyses"`
}

func (a DuplicateAudit) Clean() bool {
	return len(a.RefsWithMultipleTranscripts) == 0 && len(a.TranscriptsWithMultipleAnalyses) == 0
}

func (s *Store) AuditDuplicates(ctx context.Context) (DuplicateAudit, error) {
	const op = "store.audit_duplicates"
	var audit DuplicateAudit

	byRef, err := s.groupPairs(ctx, `SELECT audio_ref, transcript_id FROM transcripts WHERE audio_ref <> ''`)
	if err != nil {
		return audit, failures.DataUnavailable(op, err)
	}
	audit.RefsWithMultipleTranscripts = duplicates(byRef)

	byTranscript, err := s.groupPairs(ctx, `SELECT transcript_id, analysis_id FROM analyses`)
	if err != nil {
		return audit, failures.DataUnavailable(op, err)
	}
	audit.TranscriptsWithMultipleAnalyses = duplicates(byTranscript)
	return audit, nil
}

func (s *Store) groupPairs(ctx context.Context, query string) (map[string][]string, error) {
	rows, err := s.wh.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[key] = append(out[key], id)
	}
	return out, rows.Err()
}

func duplicates(groups map[string][]string) []DuplicateGroup {
	var out []DuplicateGroup
	for key, ids := range groups {
		if len(ids) > 1 {
			sort.Strings(ids)
			out = append(out, DuplicateGroup{Key: key, IDs: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) exists(ctx context.Context, table, column, value string) (bool, error) {
	_, found, err := queryOne(ctx, s.wh, fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? LIMIT 1`, column, table, column), value)
	return found, err
}

func validateTranscript(rec types.TranscriptRecord) error {
	switch {
	case rec.TranscriptID == "":
		return errors.New("transcript id is empty")
	case rec.Identity == "":
		return errors.New("identity is empty")
	case rec.Confidence < 0 || rec.Confidence > 1:
		return fmt.Errorf("confidence %.3f outside [0,1]", rec.Confidence)
	case rec.DurationSeconds < 0:
		return fmt.Errorf("negative duration %d", rec.DurationSeconds)
	case rec.ProviderCost < 0:
		return fmt.Errorf("negative cost %.4f", rec.ProviderCost)
	}
	return nil
}

func validateAnalysis(rec types.AnalysisRecord) error {
	switch {
	case rec.TranscriptID == "":
		return errors.New("transcript id is empty")
	case rec.Identity == "":
		return errors.New("identity is empty")
	case rec.Category == "":
		return errors.New("category is empty")
	case rec.Conformity == "":
		return errors.New("conformity is empty")
	case rec.Cost < 0:
		return fmt.Errorf("negative cost %.4f", rec.Cost)
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// TimestampLayout is fixed width so stored timestamps sort as strings.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp renders t in UTC with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout and plain RFC 3339.
func ParseTimestamp(s string) time.Time {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}

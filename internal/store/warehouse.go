package store

import (
	"context"
	"errors"
)

// Rows is the minimal result set iteration both backends provide.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Warehouse is the tabular seam the store and the validation lookup use.
// Queries use ? placeholders and portable SQL so both backends accept them.
type Warehouse interface {
	Insert(ctx context.Context, table string, columns []string, rows [][]any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrUniqueViolation is returned by backends that enforce primary keys when
// an insert collides with an existing row.
var ErrUniqueViolation = errors.New("store: unique constraint violated")

const (
	TableTranscripts = "transcripts"
	TableAnalyses    = "analyses"
)

var transcriptColumns = []string{
	"transcript_id", "identity", "call_date", "audio_ref", "text", "text_digest",
	"confidence", "duration_seconds", "provider_cost", "provider", "status", "weak_id",
	"created_at", "updated_at",
}

var analysisColumns = []string{
	"analysis_id", "transcript_id", "identity", "call_date",
	"criterion_1", "criterion_2", "criterion_3", "criterion_4", "criterion_5",
	"category", "conformity", "score", "rationale_text", "oracle_rationale",
	"context_applied", "prior_outcome_type", "seller_name", "supervisor_name",
	"model", "cost", "created_at",
}

// ValidationColumns is the layout of the prior-validation table.
var ValidationColumns = []string{
	"identity", "outcome_type", "counterpart_name", "seller_name",
	"supervisor_name", "manager_name", "validated_at",
}

// queryOne runs a query expected to return at most one string column.
func queryOne(ctx context.Context, wh Warehouse, query string, args ...any) (string, bool, error) {
	rows, err := wh.Query(ctx, query, args...)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}
	var v string
	if err := rows.Scan(&v); err != nil {
		return "", false, err
	}
	return v, true, rows.Err()
}

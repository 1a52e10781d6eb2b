package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the local warehouse. Primary keys back the store's pre-insert
// existence checks.
type SQLite struct {
	db               *sql.DB
	path             string
	validationsTable string
}

var _ Warehouse = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path, validationsTable string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if validationsTable == "" {
		validationsTable = "validations"
	}
	s := &SQLite{db: db, path: path, validationsTable: validationsTable}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcripts (
            transcript_id TEXT PRIMARY KEY,
            identity TEXT NOT NULL,
            call_date TEXT NOT NULL DEFAULT '',
            audio_ref TEXT NOT NULL DEFAULT '',
            text TEXT NOT NULL DEFAULT '',
            text_digest TEXT NOT NULL DEFAULT '',
            confidence REAL NOT NULL DEFAULT 0,
            duration_seconds INTEGER NOT NULL DEFAULT 0,
            provider_cost REAL NOT NULL DEFAULT 0,
            provider TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            weak_id INTEGER NOT NULL DEFAULT 0,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_ref ON transcripts(audio_ref, status)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_weak ON transcripts(identity, call_date, text_digest)`,
		`CREATE TABLE IF NOT EXISTS analyses (
            analysis_id TEXT PRIMARY KEY,
            transcript_id TEXT NOT NULL UNIQUE,
            identity TEXT NOT NULL,
            call_date TEXT NOT NULL DEFAULT '',
            criterion_1 INTEGER NOT NULL,
            criterion_2 INTEGER NOT NULL,
            criterion_3 INTEGER NOT NULL,
            criterion_4 INTEGER NOT NULL,
            criterion_5 INTEGER NOT NULL,
            category TEXT NOT NULL,
            conformity TEXT NOT NULL,
            score INTEGER NOT NULL,
            rationale_text TEXT NOT NULL DEFAULT '',
            oracle_rationale TEXT NOT NULL DEFAULT '',
            context_applied INTEGER NOT NULL DEFAULT 0,
            prior_outcome_type TEXT NOT NULL DEFAULT '',
            seller_name TEXT NOT NULL DEFAULT '',
            supervisor_name TEXT NOT NULL DEFAULT '',
            model TEXT NOT NULL DEFAULT '',
            cost REAL NOT NULL DEFAULT 0,
            created_at TEXT NOT NULL
        )`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            identity TEXT NOT NULL,
            outcome_type TEXT NOT NULL DEFAULT '',
            counterpart_name TEXT NOT NULL DEFAULT '',
            seller_name TEXT NOT NULL DEFAULT '',
            supervisor_name TEXT NOT NULL DEFAULT '',
            manager_name TEXT NOT NULL DEFAULT '',
            validated_at TEXT NOT NULL DEFAULT ''
        )`, s.validationsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_identity ON %s(identity, validated_at)`, s.validationsTable, s.validationsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Insert writes all rows in one transaction. A primary key or unique
// collision rolls back the whole call and reports ErrUniqueViolation.
func (s *SQLite) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %d values for %d columns", table, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return fmt.Errorf("insert %s: %w: %v", table, ErrUniqueViolation, err)
			}
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert %s: %w", table, err)
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

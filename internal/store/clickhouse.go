package store

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig configures the remote warehouse.
type ClickHouseConfig struct {
	Addr             []string
	Database         string
	Username         string
	Password         string
	ValidationsTable string
	Role             string
}

// ClickHouse is the remote warehouse. MergeTree tables do not enforce
// uniqueness, so the store's existence checks are the only dedup there.
type ClickHouse struct {
	conn             driver.Conn
	validationsTable string
}

var _ Warehouse = (*ClickHouse)(nil)

func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	if len(cfg.Addr) == 0 {
		return nil, fmt.Errorf("clickhouse: no address configured")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo:  clientInfo(cfg.Role),
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	table := cfg.ValidationsTable
	if table == "" {
		table = "validations"
	}
	ch := &ClickHouse{conn: conn, validationsTable: table}
	if err := ch.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := ch.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ch, nil
}

func (c *ClickHouse) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcripts (
            transcript_id String,
            identity String,
            call_date String,
            audio_ref String,
            text String,
            text_digest String,
            confidence Float64,
            duration_seconds Int64,
            provider_cost Float64,
            provider String,
            status String,
            weak_id Int64,
            created_at String,
            updated_at String
        ) ENGINE = MergeTree ORDER BY (transcript_id)`,
		`CREATE TABLE IF NOT EXISTS analyses (
            analysis_id String,
            transcript_id String,
            identity String,
            call_date String,
            criterion_1 Int64,
            criterion_2 Int64,
            criterion_3 Int64,
            criterion_4 Int64,
            criterion_5 Int64,
            category String,
            conformity String,
            score Int64,
            rationale_text String,
            oracle_rationale String,
            context_applied Int64,
            prior_outcome_type String,
            seller_name String,
            supervisor_name String,
            model String,
            cost Float64,
            created_at String
        ) ENGINE = MergeTree ORDER BY (transcript_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            identity String,
            outcome_type String,
            counterpart_name String,
            seller_name String,
            supervisor_name String,
            manager_name String,
            validated_at String
        ) ENGINE = MergeTree ORDER BY (identity, validated_at)`, c.validationsTable),
	}
	for _, stmt := range stmts {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}
	}
	return nil
}

// Insert sends all rows as one native batch.
func (c *ClickHouse) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(columns, ", ")))
	if err != nil {
		return fmt.Errorf("prepare batch %s: %w", table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append %s: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch %s: %w", table, err)
	}
	return nil
}

func (c *ClickHouse) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Ping verifies connectivity with a trivial select.
func (c *ClickHouse) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("clickhouse: nil connection")
	}
	return c.conn.Ping(ctx)
}

func (c *ClickHouse) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// clientInfo tags queries in system.query_log with the process role and build.
func clientInfo(role string) clickhouse.ClientInfo {
	host, _ := os.Hostname()
	sha := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				sha = s.Value[:7]
			}
		}
	}
	if role == "" {
		role = "pipeline"
	}
	type kv = struct{ Name, Version string }
	return clickhouse.ClientInfo{Products: []kv{
		{Name: "voice-conformity", Version: sha},
		{Name: "role", Version: role},
		{Name: "go", Version: runtime.Version()},
		{Name: "host", Version: strings.TrimSpace(host)},
	}}
}

package outcome

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// TableName is the table holding outcome records.
const TableName = "filing_outcomes"

// Schema creates the outcome table.
const Schema = `CREATE TABLE IF NOT EXISTS filing_outcomes (
    run_id      UUID        NOT NULL,
    filing_id   TEXT        NOT NULL,
    entity_id   TEXT        NOT NULL,
    filing_date DATE        NOT NULL,
    kind        TEXT        NOT NULL,
    outcome     TEXT        NOT NULL,
    rule_index  INTEGER     NOT NULL,
    rule_id     TEXT        NOT NULL DEFAULT '',
    length      INTEGER     NOT NULL,
    reason      TEXT        NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, filing_id)
)`

// PostgresRepository persists outcome records into Postgres.
type PostgresRepository struct {
	db      *sql.DB
	builder squirrel.StatementBuilderType
}

var _ Repository = (*PostgresRepository)(nil)

// OpenPostgres opens a Postgres connection pool for dsn and checks it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// EnsureSchema creates the outcome table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts the outcome of one filing in one run.
func (r *PostgresRepository) Save(ctx context.Context, record Record) error {
	if r.db == nil {
		return nil
	}

	query, args, err := r.saveQuery(record)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert outcome: %w", err)
	}
	return nil
}

// Matched returns which of the filing IDs have a matched outcome in any run.
func (r *PostgresRepository) Matched(ctx context.Context, filingIDs []string) (map[string]bool, error) {
	if r.db == nil || len(filingIDs) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := r.matchedQuery(filingIDs)
	if err != nil {
		return nil, fmt.Errorf("build matched query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matched: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var filingID string
		if err := rows.Scan(&filingID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan filing id: %w", err)
		}
		result[filingID] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

func (r *PostgresRepository) saveQuery(record Record) (string, []interface{}, error) {
	recordedAt := record.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	return r.builder.
		Insert(TableName).
		Columns("run_id", "filing_id", "entity_id", "filing_date", "kind", "outcome",
			"rule_index", "rule_id", "length", "reason", "recorded_at").
		Values(record.RunID.String(), record.FilingID, record.EntityID, record.FilingDate,
			record.Kind, record.Outcome, record.RuleIndex, record.RuleID, record.Length,
			record.Reason, recordedAt).
		Suffix(`ON CONFLICT (run_id, filing_id) DO UPDATE
              SET outcome = EXCLUDED.outcome,
                  rule_index = EXCLUDED.rule_index,
                  rule_id = EXCLUDED.rule_id,
                  length = EXCLUDED.length,
                  reason = EXCLUDED.reason,
                  recorded_at = EXCLUDED.recorded_at`).
		ToSql()
}

func (r *PostgresRepository) matchedQuery(filingIDs []string) (string, []interface{}, error) {
	return r.builder.
		Select("DISTINCT filing_id").
		From(TableName).
		Where(squirrel.Eq{"outcome": "matched"}).
		Where("filing_id = ANY(?)", pq.StringArray(filingIDs)).
		ToSql()
}

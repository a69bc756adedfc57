// Package history persists completed translations: a pgx-backed store plus
// a batching writer that coalesces records for up to the configured flush
// interval before committing them in one round trip.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one completed translation.
type Record struct {
	ID         int64
	RequestID  string
	TraceID    string
	Mode       string // "selection", "ocr", or "realtime"
	SourceLang string
	TargetLang string
	Source     string
	Translated string
	CreatedAt  time.Time
}

const ddlHistory = `
CREATE TABLE IF NOT EXISTS history (
    id          BIGSERIAL    PRIMARY KEY,
    request_id  TEXT         NOT NULL,
    trace_id    TEXT         NOT NULL DEFAULT '',
    mode        TEXT         NOT NULL,
    source_lang TEXT         NOT NULL DEFAULT '',
    target_lang TEXT         NOT NULL DEFAULT '',
    source      TEXT         NOT NULL,
    translated  TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_created_at
    ON history (created_at DESC);
`

// Store is the pgx-backed history database. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, ensures the schema exists, and returns the
// store.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlHistory); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// WriteBatch inserts records in one round trip.
func (s *Store) WriteBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO history (request_id, trace_id, mode, source_lang, target_lang, source, translated)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.RequestID, r.TraceID, r.Mode, r.SourceLang, r.TargetLang, r.Source, r.Translated,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("history store: write batch: %w", err)
	}
	return nil
}

// Recent returns the most recent records, newest first. limit <= 0 defaults
// to 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, trace_id, mode, source_lang, target_lang, source, translated, created_at
		FROM history
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RequestID, &r.TraceID, &r.Mode,
			&r.SourceLang, &r.TargetLang, &r.Source, &r.Translated, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("history store: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history store: rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

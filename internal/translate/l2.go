package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranslateCache = `
CREATE TABLE IF NOT EXISTS translate_cache (
    key         TEXT         PRIMARY KEY,
    translated  TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_hit_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_translate_cache_last_hit
    ON translate_cache (last_hit_at);
`

// L2 is the persistent tier: a pgx-backed KV table keyed by the hex cache
// key, with TTL enforcement on read and a periodic cleanup sweep. Hits
// refresh last_hit_at so frequently used entries survive the TTL
// (promote-on-hit).
//
// All operations are safe for concurrent use; the pool serialises writers.
type L2 struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewL2 connects to the store at dsn, ensures the schema exists, and
// returns the tier.
func NewL2(ctx context.Context, dsn string, ttl time.Duration) (*L2, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("l2 cache: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("l2 cache: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTranslateCache); err != nil {
		pool.Close()
		return nil, fmt.Errorf("l2 cache: migrate: %w", err)
	}
	return &L2{pool: pool, ttl: ttl}, nil
}

// Get looks up key. A hit refreshes last_hit_at; an entry older than the TTL
// counts as a miss and is left for the cleanup sweep.
func (c *L2) Get(ctx context.Context, key Key) (CachedResult, bool, error) {
	var translated string
	err := c.pool.QueryRow(ctx, `
		UPDATE translate_cache
		SET last_hit_at = now()
		WHERE key = $1 AND last_hit_at > now() - make_interval(secs => $2)
		RETURNING translated`,
		key.Hex(), c.ttl.Seconds(),
	).Scan(&translated)
	if errors.Is(err, pgx.ErrNoRows) {
		return CachedResult{}, false, nil
	}
	if err != nil {
		return CachedResult{}, false, fmt.Errorf("l2 cache: get: %w", err)
	}
	return CachedResult{Translated: translated}, true, nil
}

// Put inserts or refreshes the final result for key. Only final results are
// ever written; there is no partial-chunk write path.
func (c *L2) Put(ctx context.Context, key Key, value CachedResult) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO translate_cache (key, translated)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET translated = EXCLUDED.translated, last_hit_at = now()`,
		key.Hex(), value.Translated,
	)
	if err != nil {
		return fmt.Errorf("l2 cache: put: %w", err)
	}
	return nil
}

// Cleanup deletes entries whose last hit is older than the TTL. Returns the
// number of rows removed.
func (c *L2) Cleanup(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM translate_cache
		WHERE last_hit_at <= now() - make_interval(secs => $1)`,
		c.ttl.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("l2 cache: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunCleanup sweeps expired entries every interval until ctx is cancelled.
// Intended to run as a background goroutine on the async plane.
func (c *L2) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Cleanup(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("l2 cache cleanup failed", "err", err)
			}
		}
	}
}

// Close releases the underlying pool.
func (c *L2) Close() {
	c.pool.Close()
}

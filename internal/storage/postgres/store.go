// Package postgres implements the content store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jusanz/snapgate/internal/gateway"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store depends on. pgxmock
// satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// querier covers both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists URL entries and snapshots in PostgreSQL. The crawl
// bookkeeping lives in the urls.content JSONB column; snapshot payloads
// in snapshots.content.
type Store struct {
	pool pool
}

// urlContent is the JSONB document stored alongside each URL entry.
type urlContent struct {
	URL       string `json:"url"`
	CrawledAt *int64 `json:"crawled_at,omitempty"` // unix millis
}

// snapshotContent is the JSONB document stored for each snapshot.
type snapshotContent struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const insertURLSQL = `
INSERT INTO urls (url, content)
VALUES ($1, $2)
ON CONFLICT (url) DO NOTHING`

// InsertURL creates an entry for the URL unless one exists. The returned
// bool reports whether a row was actually inserted.
func (s *Store) InsertURL(ctx context.Context, url string) (bool, error) {
	content, err := json.Marshal(urlContent{URL: url})
	if err != nil {
		return false, fmt.Errorf("marshal url content: %w", err)
	}
	tag, err := s.pool.Exec(ctx, insertURLSQL, url, content)
	if err != nil {
		return false, fmt.Errorf("insert url: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteURL removes the entry for the URL. Absent rows are a no-op.
func (s *Store) DeleteURL(ctx context.Context, url string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM urls WHERE url = $1`, url); err != nil {
		return fmt.Errorf("delete url: %w", err)
	}
	return nil
}

const selectURLColumns = `id::text, url, content, snapshot_id::text, created_at, updated_at`

// GetURL fetches one entry by URL.
func (s *Store) GetURL(ctx context.Context, url string) (gateway.URLEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectURLColumns+` FROM urls WHERE url = $1`, url)
	return scanURLEntry(row)
}

// ListURLs returns every tracked entry in insertion order.
func (s *Store) ListURLs(ctx context.Context) ([]gateway.URLEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectURLColumns+` FROM urls ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}
	defer rows.Close()

	var out []gateway.URLEntry
	for rows.Next() {
		entry, err := scanURLEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}
	return out, nil
}

// NextUncrawled returns the entry with no snapshot reference whose
// updated_at is oldest; ties fall back to arrival order.
func (s *Store) NextUncrawled(ctx context.Context) (gateway.URLEntry, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+selectURLColumns+`
FROM urls
WHERE snapshot_id IS NULL
ORDER BY updated_at ASC, created_at ASC
LIMIT 1`)
	return scanURLEntry(row)
}

// OldestUpdated returns the least recently updated entry over the whole set.
func (s *Store) OldestUpdated(ctx context.Context) (gateway.URLEntry, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+selectURLColumns+`
FROM urls
ORDER BY updated_at ASC, created_at ASC
LIMIT 1`)
	return scanURLEntry(row)
}

// MarkCrawled overwrites the entry's content document with a fresh crawl
// stamp. The updated_at trigger bumps the row's timestamp.
func (s *Store) MarkCrawled(ctx context.Context, url string, at time.Time) error {
	millis := at.UnixMilli()
	content, err := json.Marshal(urlContent{URL: url, CrawledAt: &millis})
	if err != nil {
		return fmt.Errorf("marshal url content: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE urls SET content = $1 WHERE url = $2`, content, url)
	if err != nil {
		return fmt.Errorf("mark crawled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// LatestSnapshot fetches the most recent snapshot for the URL.
func (s *Store) LatestSnapshot(ctx context.Context, url string) (gateway.Snapshot, error) {
	return latestSnapshot(ctx, s.pool, url)
}

// ListSnapshots returns the snapshot history for the URL, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, url string) ([]gateway.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, url, content, created_at, updated_at
FROM snapshots
WHERE url = $1
ORDER BY created_at ASC`, url)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []gateway.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// InTx runs fn inside one database transaction. The snapshot writer's
// whole read-compare-insert-link sequence executes here, so a partial
// failure never leaves a URL entry pointing at a phantom snapshot.
func (s *Store) InTx(ctx context.Context, fn func(gateway.SnapshotTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txScope{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txScope adapts an open pgx transaction to gateway.SnapshotTx.
type txScope struct {
	tx pgx.Tx
}

func (t *txScope) LatestSnapshot(ctx context.Context, url string) (gateway.Snapshot, error) {
	return latestSnapshot(ctx, t.tx, url)
}

func (t *txScope) InsertSnapshot(ctx context.Context, snap gateway.Snapshot) (gateway.Snapshot, error) {
	content, err := json.Marshal(snapshotContent{URL: snap.URL, HTML: string(snap.Body)})
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("marshal snapshot content: %w", err)
	}
	row := t.tx.QueryRow(ctx, `
INSERT INTO snapshots (url, content)
VALUES ($1, $2)
RETURNING id::text, created_at, updated_at`, snap.URL, content)
	if err := row.Scan(&snap.ID, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
		return gateway.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

func (t *txScope) LinkSnapshot(ctx context.Context, url, snapshotID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE urls SET snapshot_id = $1 WHERE url = $2`, snapshotID, url)
	if err != nil {
		return fmt.Errorf("link snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The entry vanished mid-transaction; rolling back keeps the
		// snapshot insert from surviving unreferenced.
		return gateway.ErrNotFound
	}
	return nil
}

func latestSnapshot(ctx context.Context, q querier, url string) (gateway.Snapshot, error) {
	row := q.QueryRow(ctx, `
SELECT id::text, url, content, created_at, updated_at
FROM snapshots
WHERE url = $1
ORDER BY created_at DESC
LIMIT 1`, url)
	return scanSnapshot(row)
}

func scanURLEntry(row pgx.Row) (gateway.URLEntry, error) {
	var (
		entry   gateway.URLEntry
		content []byte
		snapID  *string
	)
	err := row.Scan(&entry.ID, &entry.URL, &content, &snapID, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return gateway.URLEntry{}, gateway.ErrNotFound
	}
	if err != nil {
		return gateway.URLEntry{}, fmt.Errorf("scan url row: %w", err)
	}
	if snapID != nil {
		entry.SnapshotID = *snapID
	}
	if len(content) > 0 {
		var doc urlContent
		if err := json.Unmarshal(content, &doc); err != nil {
			return gateway.URLEntry{}, fmt.Errorf("decode url content: %w", err)
		}
		if doc.CrawledAt != nil {
			at := time.UnixMilli(*doc.CrawledAt).UTC()
			entry.CrawledAt = &at
		}
	}
	return entry, nil
}

func scanSnapshot(row pgx.Row) (gateway.Snapshot, error) {
	var (
		snap    gateway.Snapshot
		content []byte
	)
	err := row.Scan(&snap.ID, &snap.URL, &content, &snap.CreatedAt, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return gateway.Snapshot{}, gateway.ErrNotFound
	}
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("scan snapshot row: %w", err)
	}
	if len(content) > 0 {
		var doc snapshotContent
		if err := json.Unmarshal(content, &doc); err != nil {
			return gateway.Snapshot{}, fmt.Errorf("decode snapshot content: %w", err)
		}
		snap.Body = []byte(doc.HTML)
	}
	return snap, nil
}

/*
Package postgres provides a PostgreSQL-backed implementation of
pricing.Store using pgx.

PURPOSE:
  The production multi-reader store. Same contract as store/sqlite;
  PostgreSQL's MVCC gives readers snapshot-consistent point-in-time
  views, so last-price queries never observe a partially applied
  write-set.

SCHEMA:
  price_batches: id TEXT PK, status, version, created_at, completed_at
  price_rows:    id BIGSERIAL PK, instrument_id, as_of, payload_json,
                 batch_id FK

TIE-BREAK:
  LastPrices uses DISTINCT ON (instrument_id) ordered by as_of DESC,
  id DESC: ties on as_of resolve toward the most recent insertion,
  matching the other store implementations.

SEE ALSO:
  - pricing/store.go: Interface definitions
  - store/sqlite/sqlite.go: Single-node implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/pricing-engine/pricing"
)

// Store implements pricing.TxStore using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, verifies the connection, and migrates the
// schema.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS price_batches (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_price_batches_status
		ON price_batches(status);

	CREATE TABLE IF NOT EXISTS price_rows (
		id BIGSERIAL PRIMARY KEY,
		instrument_id TEXT NOT NULL,
		as_of TIMESTAMPTZ NOT NULL,
		payload_json TEXT NOT NULL,
		batch_id TEXT NOT NULL REFERENCES price_batches(id)
	);

	CREATE INDEX IF NOT EXISTS idx_price_rows_instrument_asof
		ON price_rows(instrument_id, as_of DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_price_rows_batch
		ON price_rows(batch_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// rowQuerier is the subset of pgx shared by pool and transaction.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// =============================================================================
// BATCHES
// =============================================================================

func (s *Store) CreateBatch(ctx context.Context, b pricing.Batch) error {
	return createBatch(ctx, s.pool, b)
}

func createBatch(ctx context.Context, db rowQuerier, b pricing.Batch) error {
	_, err := db.Exec(ctx, `
		INSERT INTO price_batches (id, status, version, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, string(b.Status), b.Version, b.CreatedAt.UTC(), b.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return pricing.ErrBatchExists
		}
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*pricing.Batch, error) {
	return getBatch(ctx, s.pool, id)
}

func getBatch(ctx context.Context, db rowQuerier, id string) (*pricing.Batch, error) {
	var (
		b           pricing.Batch
		status      string
		completedAt *time.Time
	)
	err := db.QueryRow(ctx, `
		SELECT id, status, version, created_at, completed_at
		FROM price_batches WHERE id = $1`, id,
	).Scan(&b.ID, &status, &b.Version, &b.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pricing.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.Status = pricing.BatchStatus(status)
	b.CompletedAt = completedAt
	return &b, nil
}

func (s *Store) UpdateBatch(ctx context.Context, b pricing.Batch) error {
	return updateBatch(ctx, s.pool, b)
}

func updateBatch(ctx context.Context, db rowQuerier, b pricing.Batch) error {
	ct, err := db.Exec(ctx, `
		UPDATE price_batches
		SET status = $1, version = version + 1, completed_at = $2
		WHERE id = $3 AND version = $4`,
		string(b.Status), b.CompletedAt, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := getBatch(ctx, db, b.ID); err != nil {
			return err
		}
		return pricing.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// PRICE ROWS
// =============================================================================

// InsertPrices queues one insert per point into a pgx.Batch and sends it
// inside a transaction, so the whole write-set lands or none of it does.
func (s *Store) InsertPrices(ctx context.Context, batchID string, points []pricing.PricePoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertPrices(ctx, tx, batchID, points); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertPrices(ctx context.Context, db rowQuerier, batchID string, points []pricing.PricePoint) error {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO price_rows (instrument_id, as_of, payload_json, batch_id)
			VALUES ($1, $2, $3, $4)`,
			p.InstrumentID, p.AsOf.UTC(), p.PayloadJSON, batchID,
		)
	}

	results := db.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert price: %w", err)
		}
	}
	return nil
}

func (s *Store) DeletePricesByBatch(ctx context.Context, batchID string) (int64, error) {
	return deletePrices(ctx, s.pool, batchID)
}

func deletePrices(ctx context.Context, db rowQuerier, batchID string) (int64, error) {
	ct, err := db.Exec(ctx, "DELETE FROM price_rows WHERE batch_id = $1", batchID)
	if err != nil {
		return 0, fmt.Errorf("delete prices: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *Store) CountPricesByBatch(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM price_rows WHERE batch_id = $1", batchID,
	).Scan(&n)
	return n, err
}

func (s *Store) LastPrices(ctx context.Context, instrumentIDs []string) ([]pricing.PriceRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (p.instrument_id)
			p.id, p.instrument_id, p.as_of, p.payload_json, p.batch_id
		FROM price_rows p
		JOIN price_batches b ON b.id = p.batch_id
		WHERE b.status = 'COMPLETED'
		  AND p.instrument_id = ANY($1)
		ORDER BY p.instrument_id, p.as_of DESC, p.id DESC`,
		instrumentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query last prices: %w", err)
	}
	defer rows.Close()

	var result []pricing.PriceRow
	for rows.Next() {
		var r pricing.PriceRow
		if err := rows.Scan(&r.ID, &r.InstrumentID, &r.AsOf, &r.PayloadJSON, &r.BatchID); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		r.AsOf = r.AsOf.UTC()
		result = append(result, r)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (pricing.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store pricing.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) CreateBatch(ctx context.Context, b pricing.Batch) error {
	return createBatch(ctx, ts.tx, b)
}

func (ts *txStore) GetBatch(ctx context.Context, id string) (*pricing.Batch, error) {
	return getBatch(ctx, ts.tx, id)
}

func (ts *txStore) UpdateBatch(ctx context.Context, b pricing.Batch) error {
	return updateBatch(ctx, ts.tx, b)
}

func (ts *txStore) InsertPrices(ctx context.Context, batchID string, points []pricing.PricePoint) error {
	return insertPrices(ctx, ts.tx, batchID, points)
}

func (ts *txStore) DeletePricesByBatch(ctx context.Context, batchID string) (int64, error) {
	return deletePrices(ctx, ts.tx, batchID)
}

func (ts *txStore) CountPricesByBatch(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := ts.tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM price_rows WHERE batch_id = $1", batchID,
	).Scan(&n)
	return n, err
}

func (ts *txStore) LastPrices(ctx context.Context, instrumentIDs []string) ([]pricing.PriceRow, error) {
	return nil, fmt.Errorf("last prices not supported inside a write transaction")
}

/*
Package sqlite provides a SQLite-backed implementation of pricing.Store.

PURPOSE:
  Implements the persistence contract (pricing.Store, pricing.TxStore)
  using SQLite. In production, the same patterns apply to PostgreSQL -
  see store/postgres for the pgx implementation.

KEY TABLES:
  price_batches: One row per ingestion batch; id is caller-supplied,
                 status gates visibility, version detects lost updates
  price_rows:    Immutable price observations owned by a batch

ATOMICITY:
  Single-call write-sets (InsertPrices) run inside one sql.Tx. Multi-call
  write-sets (cancel = delete rows + flip status) go through WithTx.
  Once a transaction commits it is immediately visible to readers; a
  reader never observes a partially applied write-set.

TIE-BREAK:
  LastPrices resolves asOf ties toward the highest row id (rowid order,
  i.e. most recent insertion).

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

CONCURRENCY:
  Uses sync.RWMutex for thread-safety around the single connection. The
  per-batch serialization of lifecycle operations is handled above this
  layer by pricing.LockRegistry.

USAGE:
  store, err := sqlite.New("./data/prices.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - pricing/store.go: Interface definitions
  - pricing/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/pricing-engine/pricing"
)

// Store implements pricing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite allows a single writer, and :memory:
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Batches (lifecycle records; never physically deleted)
	CREATE TABLE IF NOT EXISTS price_batches (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_price_batches_status
		ON price_batches(status);

	-- Price observations (immutable; bulk-deleted only on cancel)
	-- as_of is stored as unix nanoseconds so MAX() and ORDER BY compare
	-- correctly regardless of sub-second precision.
	CREATE TABLE IF NOT EXISTS price_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument_id TEXT NOT NULL,
		as_of INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		batch_id TEXT NOT NULL REFERENCES price_batches(id)
	);

	-- Hot path: last-price lookup per instrument
	CREATE INDEX IF NOT EXISTS idx_price_rows_instrument_asof
		ON price_rows(instrument_id, as_of DESC, id DESC);

	-- Cascade delete on cancel
	CREATE INDEX IF NOT EXISTS idx_price_rows_batch
		ON price_rows(batch_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BATCHES
// =============================================================================

// CreateBatch inserts a new batch. The primary key arbitrates racing
// creates: the loser gets pricing.ErrBatchExists.
func (s *Store) CreateBatch(ctx context.Context, b pricing.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createBatch(ctx, s.db, b)
}

func createBatch(ctx context.Context, db execer, b pricing.Batch) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO price_batches (id, status, version, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID,
		string(b.Status),
		b.Version,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(b.CompletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return pricing.ErrBatchExists
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetBatch returns the current state of a batch.
func (s *Store) GetBatch(ctx context.Context, id string) (*pricing.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBatch(ctx, s.db, id)
}

func getBatch(ctx context.Context, db querier, id string) (*pricing.Batch, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, status, version, created_at, completed_at
		FROM price_batches WHERE id = ?`, id)

	var (
		b           pricing.Batch
		status      string
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&b.ID, &status, &b.Version, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, pricing.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	b.Status = pricing.BatchStatus(status)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		b.CompletedAt = &t
	}
	return &b, nil
}

// UpdateBatch persists a mutated batch, conditional on the version the
// caller read. A zero-row update means either a stale copy or a missing
// batch; the two are distinguished with a follow-up lookup.
func (s *Store) UpdateBatch(ctx context.Context, b pricing.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBatch(ctx, s.db, b)
}

func updateBatch(ctx context.Context, db interface {
	execer
	querier
}, b pricing.Batch) error {
	res, err := db.ExecContext(ctx, `
		UPDATE price_batches
		SET status = ?, version = version + 1, completed_at = ?
		WHERE id = ? AND version = ?`,
		string(b.Status),
		nullTime(b.CompletedAt),
		b.ID,
		b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	if n == 0 {
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

// InsertPrices persists all points as one atomic write-set.
func (s *Store) InsertPrices(ctx context.Context, batchID string, points []pricing.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := insertPrices(ctx, sqlTx, batchID, points); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func insertPrices(ctx context.Context, db execer, batchID string, points []pricing.PricePoint) error {
	for _, p := range points {
		_, err := db.ExecContext(ctx, `
			INSERT INTO price_rows (instrument_id, as_of, payload_json, batch_id)
			VALUES (?, ?, ?, ?)`,
			p.InstrumentID,
			p.AsOf.UTC().UnixNano(),
			p.PayloadJSON,
			batchID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert price: %w", err)
		}
	}
	return nil
}

// DeletePricesByBatch removes every row owned by the batch.
func (s *Store) DeletePricesByBatch(ctx context.Context, batchID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePrices(ctx, s.db, batchID)
}

func deletePrices(ctx context.Context, db execer, batchID string) (int64, error) {
	res, err := db.ExecContext(ctx,
		"DELETE FROM price_rows WHERE batch_id = ?", batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete prices: %w", err)
	}
	return res.RowsAffected()
}

// CountPricesByBatch returns the number of rows owned by the batch.
func (s *Store) CountPricesByBatch(ctx context.Context, batchID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM price_rows WHERE batch_id = ?", batchID,
	).Scan(&n)
	return n, err
}

// LastPrices returns the max-asOf row per requested instrument over
// COMPLETED batches only.
func (s *Store) LastPrices(ctx context.Context, instrumentIDs []string) ([]pricing.PriceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(instrumentIDs)), ",")
	query := fmt.Sprintf(`
		SELECT p.id, p.instrument_id, p.as_of, p.payload_json, p.batch_id
		FROM price_rows p
		JOIN price_batches b ON b.id = p.batch_id
		WHERE b.status = 'COMPLETED'
		  AND p.instrument_id IN (%s)
		  AND p.id = (
			SELECT p2.id
			FROM price_rows p2
			JOIN price_batches b2 ON b2.id = p2.batch_id
			WHERE p2.instrument_id = p.instrument_id
			  AND b2.status = 'COMPLETED'
			ORDER BY p2.as_of DESC, p2.id DESC
			LIMIT 1
		  )
		ORDER BY p.instrument_id`, placeholders)

	args := make([]any, len(instrumentIDs))
	for i, id := range instrumentIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query last prices: %w", err)
	}
	defer rows.Close()

	var result []pricing.PriceRow
	for rows.Next() {
		var (
			r        pricing.PriceRow
			asOfNano int64
		)
		if err := rows.Scan(&r.ID, &r.InstrumentID, &asOfNano, &r.PayloadJSON, &r.BatchID); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		r.AsOf = time.Unix(0, asOfNano).UTC()
		result = append(result, r)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (pricing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store pricing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
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
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM price_rows WHERE batch_id = ?", batchID,
	).Scan(&n)
	return n, err
}

func (ts *txStore) LastPrices(ctx context.Context, instrumentIDs []string) ([]pricing.PriceRow, error) {
	// Lifecycle write-sets never read last prices; the method exists so
	// the tx view satisfies pricing.Store.
	return nil, fmt.Errorf("last prices not supported inside a write transaction")
}

// =============================================================================
// HELPERS
// =============================================================================

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

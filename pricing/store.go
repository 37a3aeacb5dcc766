/*
store.go - Persistence interface for batches and price rows

PURPOSE:
  Defines the interface between the lifecycle/query logic and the
  database. The engine never caches batches or prices in memory across
  calls; every operation re-reads current state under its batch lock
  before deciding validity. The store is the single source of truth.

ATOMICITY CONTRACT:
  Every Store call is an atomic write-set: either all of it lands or
  none of it does, and once it commits it is immediately visible to
  subsequent reads. InsertPrices in particular is all-or-nothing for
  the whole slice. Multi-call write-sets (cancel = delete rows + flip
  status) go through TxStore.WithTx.

IMPLEMENTATIONS:
  - store/sqlite:    Production single-node SQLite (WAL)
  - store/postgres:  PostgreSQL via pgx
  - pricing/store:   In-memory, for tests and dev

SEE ALSO:
  - service.go: Sole writer through this interface
  - query.go:  Sole reader of LastPrices
*/
package pricing

import "context"

// Store handles persistence of batches and price rows.
type Store interface {
	// CreateBatch persists a new batch. Returns ErrBatchExists if the id
	// is already taken (the id is the primary key).
	CreateBatch(ctx context.Context, b Batch) error

	// GetBatch returns the current state of a batch, or ErrBatchNotFound.
	GetBatch(ctx context.Context, id string) (*Batch, error)

	// UpdateBatch persists a mutated batch. The write is conditional on
	// b.Version matching the stored version; on success the stored
	// version is incremented. Returns ErrConcurrentModification if the
	// in-memory copy is stale, ErrBatchNotFound if the batch vanished.
	UpdateBatch(ctx context.Context, b Batch) error

	// InsertPrices persists all points attributed to batchID as one
	// atomic write-set. Either every row lands or none do.
	InsertPrices(ctx context.Context, batchID string, points []PricePoint) error

	// DeletePricesByBatch removes every price row owned by batchID and
	// returns how many were removed.
	DeletePricesByBatch(ctx context.Context, batchID string) (int64, error)

	// CountPricesByBatch returns the number of rows owned by batchID.
	CountPricesByBatch(ctx context.Context, batchID string) (int64, error)

	// LastPrices returns, per requested instrument, the row with the
	// maximum AsOf among rows whose owning batch is COMPLETED. Ties on
	// AsOf break toward the highest row id. Instruments with no eligible
	// row are simply absent. Results are ordered by instrument id.
	LastPrices(ctx context.Context, instrumentIDs []string) ([]PriceRow, error)
}

// TxStore wraps Store with multi-call transaction support.
// If fn returns an error the whole write-set is rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

/*
service.go - Batch lifecycle orchestration

PURPOSE:
  The sole authority for mutating batch state and the only path by which
  price rows are created. Each mutating operation is a lock-guarded
  read-check-write sequence:

    acquire batch lock -> re-read batch -> validate status ->
    write atomically -> release lock

  Re-reading under the lock is what prevents an upload from landing
  after a concurrent complete/cancel flipped the status, and what fully
  serializes concurrent uploads against each other. Start takes no lock;
  the store's primary-key constraint arbitrates racing starts.

FAILURE SEMANTICS:
  Every failure is reported to the immediate caller; nothing is retried
  internally. The batch lock is released on every exit path, so a failed
  operation never deadlocks later ones on the same id.

SEE ALSO:
  - locks.go:  The per-batch lock registry
  - batch.go:  Transition rules enforced here
  - query.go:  The read side
*/
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/warp/pricing-engine/metrics"
)

// BatchService executes batch lifecycle operations against a store.
type BatchService struct {
	store   TxStore
	locks   *LockRegistry
	logger  *slog.Logger
	metrics *metrics.Registry

	// now is swappable for tests.
	now func() time.Time
}

// NewBatchService creates a service over the given store.
// logger and m may be nil.
func NewBatchService(store TxStore, logger *slog.Logger, m *metrics.Registry) *BatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchService{
		store:   store,
		locks:   NewLockRegistry(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Start creates a batch in STARTED state. Returns ErrBatchExists if the
// id is already taken; the existing batch is left untouched. Repeated
// calls are a reported conflict, never silently ignored.
func (s *BatchService) Start(ctx context.Context, batchID string) error {
	if err := s.store.CreateBatch(ctx, NewBatch(batchID)); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.BatchesStarted.Inc()
	}
	s.logger.Info("batch started", "batch", batchID)
	return nil
}

// Upload persists points attributed to batchID as one atomic write-set.
// Fails with ErrBatchNotFound if the batch is absent, or wraps
// ErrInvalidBatchState if it is no longer STARTED. An empty slice is a
// no-op after the state check.
func (s *BatchService) Upload(ctx context.Context, batchID string, points []PricePoint) error {
	h := s.locks.Acquire(batchID)
	defer s.locks.Release(h)

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.AcceptsWrites() {
		if s.metrics != nil {
			s.metrics.WritesRejected.Inc()
		}
		return &InvalidStateError{BatchID: batchID, Status: batch.Status, Op: "upload"}
	}

	if len(points) == 0 {
		return nil
	}
	if err := s.store.InsertPrices(ctx, batchID, points); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RowsIngested.Add(float64(len(points)))
	}
	s.logger.Info("prices uploaded", "batch", batchID, "rows", len(points))
	return nil
}

// Complete transitions a STARTED batch to COMPLETED, making its prices
// visible to queries. The second of two Complete calls fails with an
// invalid-state error; CompletedAt is stamped exactly once.
func (s *BatchService) Complete(ctx context.Context, batchID string) error {
	h := s.locks.Acquire(batchID)
	defer s.locks.Release(h)

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := batch.Complete(s.now()); err != nil {
		return err
	}
	if err := s.store.UpdateBatch(ctx, *batch); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.BatchesCompleted.Inc()
	}
	s.logger.Info("batch completed", "batch", batchID)
	return nil
}

// Cancel transitions a STARTED batch to CANCELLED and deletes every
// price row it owns, as one atomic write-set. A completed batch is
// immutable and cannot be cancelled.
func (s *BatchService) Cancel(ctx context.Context, batchID string) error {
	h := s.locks.Acquire(batchID)
	defer s.locks.Release(h)

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := batch.Cancel(); err != nil {
		return err
	}

	var deleted int64
	err = s.store.WithTx(ctx, func(tx Store) error {
		n, err := tx.DeletePricesByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		deleted = n
		return tx.UpdateBatch(ctx, *batch)
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.BatchesCancelled.Inc()
		s.metrics.RowsRetracted.Add(float64(deleted))
	}
	s.logger.Warn("batch cancelled", "batch", batchID, "rows_deleted", deleted)
	return nil
}

// EnsureStarted starts the batch if it does not exist yet, tolerating a
// concurrent or earlier Start. Used by transports that want to upload
// into a batch without a separate start call.
func (s *BatchService) EnsureStarted(ctx context.Context, batchID string) error {
	err := s.Start(ctx, batchID)
	if errors.Is(err, ErrBatchExists) {
		return nil
	}
	return err
}

// Describe returns the batch and its current row count.
func (s *BatchService) Describe(ctx context.Context, batchID string) (*Batch, int64, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, 0, err
	}
	n, err := s.store.CountPricesByBatch(ctx, batchID)
	if err != nil {
		return nil, 0, err
	}
	return batch, n, nil
}

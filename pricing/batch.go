package pricing

import "time"

// NewBatch creates a batch in STARTED state. The id is caller-supplied
// and becomes the batch's identity for its whole life.
func NewBatch(id string) Batch {
	return Batch{
		ID:        id,
		Status:    BatchStarted,
		CreatedAt: time.Now().UTC(),
	}
}

// AcceptsWrites reports whether price rows may be attributed to the batch.
func (b *Batch) AcceptsWrites() bool {
	return b.Status == BatchStarted
}

// Complete transitions STARTED -> COMPLETED and stamps CompletedAt.
// Any other starting status is rejected; both terminal states are
// irreversible.
func (b *Batch) Complete(now time.Time) error {
	if b.Status != BatchStarted {
		return &InvalidStateError{BatchID: b.ID, Status: b.Status, Op: "complete"}
	}
	b.Status = BatchCompleted
	t := now.UTC()
	b.CompletedAt = &t
	return nil
}

// Cancel transitions STARTED -> CANCELLED. A completed batch is
// immutable and cannot be cancelled.
func (b *Batch) Cancel() error {
	if b.Status != BatchStarted {
		return &InvalidStateError{BatchID: b.ID, Status: b.Status, Op: "cancel"}
	}
	b.Status = BatchCancelled
	return nil
}

/*
types.go - Core data model for batch price ingestion

PURPOSE:
  Defines the persisted and wire-level types the engine operates on.
  A Batch gates visibility: its prices only become queryable once the
  batch is explicitly completed.

TYPES:
  BatchStatus: STARTED | COMPLETED | CANCELLED
  Batch:       Lifecycle record for one ingestion batch
  PricePoint:  Incoming (instrument, asOf, payload) tuple, not yet stored
  PriceRow:    A persisted price observation with its surrogate id

VISIBILITY RULE:
  Only PriceRows whose owning batch is COMPLETED are eligible for
  last-price queries. STARTED and CANCELLED batch rows are invisible
  to readers.

SEE ALSO:
  - batch.go: Lifecycle transitions on Batch
  - store.go: Persistence contract for these types
*/
package pricing

import "time"

// =============================================================================
// BATCH
// =============================================================================

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	// BatchStarted accepts uploads. The only non-terminal state.
	BatchStarted BatchStatus = "STARTED"

	// BatchCompleted makes the batch's prices visible to queries. Terminal.
	BatchCompleted BatchStatus = "COMPLETED"

	// BatchCancelled retracts the batch; its prices are deleted. Terminal.
	BatchCancelled BatchStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStarted, BatchCompleted, BatchCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchCancelled
}

// Batch is the lifecycle record for one ingestion batch.
// The id is caller-supplied and immutable. Version increments on every
// persisted mutation and is used to detect lost updates.
type Batch struct {
	ID          string
	Status      BatchStatus
	Version     int64
	CreatedAt   time.Time
	CompletedAt *time.Time // set exactly once, on completion
}

// =============================================================================
// PRICES
// =============================================================================

// PricePoint is one incoming price observation, as delivered by a
// transport (CSV upload, Kafka, seed tooling). PayloadJSON is opaque:
// stored and returned verbatim, never interpreted by the engine.
type PricePoint struct {
	InstrumentID string
	AsOf         time.Time
	PayloadJSON  string
}

// PriceRow is a persisted price observation. ID is a store-assigned
// surrogate, monotonic per store, and doubles as the tie-break when two
// rows for the same instrument share an identical AsOf.
type PriceRow struct {
	ID           int64
	InstrumentID string
	AsOf         time.Time
	PayloadJSON  string
	BatchID      string
}

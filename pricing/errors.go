/*
errors.go - Centralized error types for the pricing engine

PURPOSE:
  All domain error kinds in one place for consistency and discoverability.
  Transports map these to client-fault responses; anything else is a
  server fault ("operation did not provably complete").

ERROR KINDS:
  ErrBatchExists       Conflict: batch id already exists on start
  ErrBatchNotFound     Referenced batch id does not exist
  ErrInvalidBatchState Requested transition/write is illegal from the
                       batch's current status
  ErrNoInstruments     Invalid argument: empty instrument set on query

USAGE:
  if errors.Is(err, pricing.ErrInvalidBatchState) { ... }

  var stateErr *pricing.InvalidStateError
  if errors.As(err, &stateErr) {
      log.Printf("batch %s is %s", stateErr.BatchID, stateErr.Status)
  }

SEE ALSO:
  - service.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package pricing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBatchExists is returned when starting a batch whose id is taken.
	// Callers wanting "ensure exists" semantics must tolerate it explicitly.
	ErrBatchExists = errors.New("batch already exists")

	// ErrBatchNotFound is returned when a referenced batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrInvalidBatchState is returned when an operation is not legal from
	// the batch's current status (e.g. upload after complete).
	ErrInvalidBatchState = errors.New("invalid batch state")

	// ErrNoInstruments is returned when a last-price query names no
	// instruments.
	ErrNoInstruments = errors.New("no instruments requested")

	// ErrConcurrentModification is returned when a persisted write is
	// attempted against a stale in-memory copy (version mismatch). Under
	// the per-batch lock this indicates a bug, not a recoverable race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports which operation was rejected and the status
// that rejected it.
type InvalidStateError struct {
	BatchID string
	Status  BatchStatus
	Op      string // "upload", "complete", "cancel"
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("batch %s: cannot %s while %s", e.BatchID, e.Op, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidBatchState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is the caller's fault and
// should map to a 4xx-style response.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBatchExists) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrInvalidBatchState) ||
		errors.Is(err, ErrNoInstruments)
}

// IsNotFound returns true if the error indicates a missing batch.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound)
}

// IsConflict returns true if the error indicates a start on a taken id.
func IsConflict(err error) bool {
	return errors.Is(err, ErrBatchExists)
}

/*
handlers.go - HTTP API handlers for the batch pricing engine

PURPOSE:
  Exposes the pricing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Batches:
    POST   /api/batches/{batchID}/start     Start a new batch
    POST   /api/batches/{batchID}/upload    Upload a CSV file of prices
    POST   /api/batches/{batchID}/complete  Make the batch's prices visible
    POST   /api/batches/{batchID}/cancel    Retract the batch
    GET    /api/batches/{batchID}           Batch status and row count

  Prices:
    POST   /api/prices/last                 Last price per instrument

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Load a demo scenario

ERROR HANDLING:
  Domain errors map to client-fault statuses:
  - 400: Malformed input (bad CSV, bad JSON, empty instrument set)
  - 404: Batch not found
  - 409: Batch id already exists
  - 422: Illegal lifecycle transition or write
  Everything else is a 500 ("did not provably complete").

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/pricing-engine/ingest"
	"github.com/warp/pricing-engine/metrics"
	"github.com/warp/pricing-engine/pricing"
)

// UploadChunkSize is how many CSV rows are applied per write-set.
const UploadChunkSize = 1000

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *pricing.BatchService
	Query   *pricing.QueryService
	Metrics *metrics.Registry
}

// NewHandler creates a new handler over the given services.
// m may be nil.
func NewHandler(service *pricing.BatchService, query *pricing.QueryService, m *metrics.Registry) *Handler {
	return &Handler{Service: service, Query: query, Metrics: m}
}

// =============================================================================
// BATCH LIFECYCLE HANDLERS
// =============================================================================

// StartBatch creates a new batch.
// POST /api/batches/{batchID}/start
func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	if err := h.Service.Start(r.Context(), batchID); err != nil {
		writeDomainError(w, "Failed to start batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"batch_id": batchID,
		"status":   string(pricing.BatchStarted),
	})
}

// UploadPrices ingests a CSV file of prices into a batch, in chunks.
// The batch is started if it doesn't exist yet (idempotent start); it
// must be explicitly completed via a separate call before the data
// becomes visible.
// POST /api/batches/{batchID}/upload  (multipart, field "file")
func (h *Handler) UploadPrices(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	ctx := r.Context()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing multipart field 'file'", err)
		return
	}
	defer file.Close()

	if err := h.Service.EnsureStarted(ctx, batchID); err != nil {
		writeDomainError(w, "Failed to start batch", err)
		return
	}

	rows, err := ingest.ReadCSV(file, UploadChunkSize, func(points []pricing.PricePoint) error {
		return h.Service.Upload(ctx, batchID, points)
	})
	if err != nil {
		if pricing.IsClientError(err) {
			writeDomainError(w, "Upload rejected", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Upload failed", err)
		return
	}

	writeJSON(w, http.StatusAccepted, UploadAcceptedDTO{
		UploadID: uuid.NewString(),
		BatchID:  batchID,
		Rows:     rows,
		Message:  fmt.Sprintf("Upload accepted for batch %s. Call /complete to make data visible.", batchID),
	})
}

// CompleteBatch makes the batch's prices visible to consumers.
// POST /api/batches/{batchID}/complete
func (h *Handler) CompleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	if err := h.Service.Complete(r.Context(), batchID); err != nil {
		writeDomainError(w, "Failed to complete batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"batch_id": batchID,
		"status":   string(pricing.BatchCompleted),
	})
}

// CancelBatch retracts the batch and deletes its prices.
// POST /api/batches/{batchID}/cancel
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	if err := h.Service.Cancel(r.Context(), batchID); err != nil {
		writeDomainError(w, "Failed to cancel batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"batch_id": batchID,
		"status":   string(pricing.BatchCancelled),
	})
}

// GetBatch returns a batch's lifecycle state and row count.
// GET /api/batches/{batchID}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	batch, rows, err := h.Service.Describe(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, "Failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(batch, rows))
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

// LastPrices fetches the last price per instrument. Only prices from
// COMPLETED batches are visible; instruments with no completed data are
// omitted from the response.
// POST /api/prices/last
func (h *Handler) LastPrices(w http.ResponseWriter, r *http.Request) {
	var req LastPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rows, err := h.Query.LastPrices(r.Context(), req.InstrumentIDs)
	if err != nil {
		writeDomainError(w, "Failed to query last prices", err)
		return
	}
	writeJSON(w, http.StatusOK, toLastPriceDTOs(rows))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain error kinds to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case pricing.IsConflict(err):
		return http.StatusConflict
	case pricing.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, pricing.ErrInvalidBatchState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pricing.ErrNoInstruments):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/pricing-engine/pricing"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// BatchDTO represents a batch in API responses.
type BatchDTO struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RowCount    int64  `json:"row_count"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// UploadAcceptedDTO acknowledges an upload. Completion is a separate,
// explicit call; until then the rows stay invisible to consumers.
type UploadAcceptedDTO struct {
	UploadID string `json:"upload_id"`
	BatchID  string `json:"batch_id"`
	Rows     int    `json:"rows"`
	Message  string `json:"message"`
}

// LastPriceRequest asks for the last known good price per instrument.
type LastPriceRequest struct {
	InstrumentIDs []string `json:"instrument_ids"`
}

// LastPriceDTO is one entry of a last-price response.
type LastPriceDTO struct {
	InstrumentID string `json:"instrument_id"`
	AsOf         string `json:"as_of"`
	PayloadJSON  string `json:"payload_json"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBatchDTO(b *pricing.Batch, rows int64) BatchDTO {
	dto := BatchDTO{
		ID:        b.ID,
		Status:    string(b.Status),
		RowCount:  rows,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if b.CompletedAt != nil {
		dto.CompletedAt = b.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}

func toLastPriceDTOs(rows []pricing.PriceRow) []LastPriceDTO {
	dtos := make([]LastPriceDTO, len(rows))
	for i, r := range rows {
		dtos[i] = LastPriceDTO{
			InstrumentID: r.InstrumentID,
			AsOf:         r.AsOf.UTC().Format(time.RFC3339Nano),
			PayloadJSON:  r.PayloadJSON,
		}
	}
	return dtos
}

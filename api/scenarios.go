/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario runs a full batch lifecycle
	through the same service the API uses.

AVAILABLE SCENARIOS:

	initial-upload:  Two instruments (META, MSFT), uploaded and completed
	tesla-history:   Two TESLA observations; the later asOf wins queries
	cancelled-batch: An AMZN batch uploaded, then cancelled (invisible)
	random-walk:     A random-walk price series across a few tickers

HOW SCENARIOS WORK:
 1. Start a fresh batch (id suffixed with a uuid so reloads don't conflict)
 2. Upload demo observations
 3. Complete or cancel per scenario

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "initial-upload"}

NOTE:

	Scenarios write real batches. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: Shared helpers and error mapping
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/pricing-engine/pricing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "initial-upload",
		Name:        "Initial Upload",
		Description: "META and MSFT prices uploaded and completed in one batch",
	},
	{
		ID:          "tesla-history",
		Name:        "Tesla History",
		Description: "Two TESLA observations; the later asOf wins last-price queries",
	},
	{
		ID:          "cancelled-batch",
		Name:        "Cancelled Batch",
		Description: "An AMZN batch uploaded then cancelled; invisible to consumers",
	},
	{
		ID:          "random-walk",
		Name:        "Random Walk",
		Description: "A random-walk intraday series across a few tickers",
	},
}

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario populates the store with a named scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	batchID := fmt.Sprintf("demo-%s-%s", req.ScenarioID, uuid.NewString()[:8])

	var err error
	switch req.ScenarioID {
	case "initial-upload":
		err = h.loadInitialUploadScenario(ctx, batchID)
	case "tesla-history":
		err = h.loadTeslaHistoryScenario(ctx, batchID)
	case "cancelled-batch":
		err = h.loadCancelledBatchScenario(ctx, batchID)
	case "random-walk":
		err = h.loadRandomWalkScenario(ctx, batchID)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"scenario_id": req.ScenarioID,
		"batch_id":    batchID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadInitialUploadScenario(ctx context.Context, batchID string) error {
	if err := h.Service.Start(ctx, batchID); err != nil {
		return err
	}
	points := []pricing.PricePoint{
		{InstrumentID: "META", AsOf: demoTime("2024-01-01T10:00:00Z"), PayloadJSON: pricePayload("180")},
		{InstrumentID: "META", AsOf: demoTime("2024-01-01T11:00:00Z"), PayloadJSON: pricePayload("182")},
		{InstrumentID: "MSFT", AsOf: demoTime("2024-01-01T09:00:00Z"), PayloadJSON: pricePayload("310")},
	}
	if err := h.Service.Upload(ctx, batchID, points); err != nil {
		return err
	}
	return h.Service.Complete(ctx, batchID)
}

func (h *Handler) loadTeslaHistoryScenario(ctx context.Context, batchID string) error {
	if err := h.Service.Start(ctx, batchID); err != nil {
		return err
	}
	points := []pricing.PricePoint{
		{InstrumentID: "TESLA", AsOf: demoTime("2024-01-01T10:00:00Z"), PayloadJSON: pricePayload("238.45")},
		{InstrumentID: "TESLA", AsOf: demoTime("2024-01-01T11:00:00Z"), PayloadJSON: pricePayload("240.10")},
	}
	if err := h.Service.Upload(ctx, batchID, points); err != nil {
		return err
	}
	return h.Service.Complete(ctx, batchID)
}

func (h *Handler) loadCancelledBatchScenario(ctx context.Context, batchID string) error {
	if err := h.Service.Start(ctx, batchID); err != nil {
		return err
	}
	points := []pricing.PricePoint{
		{InstrumentID: "AMZN", AsOf: demoTime("2024-01-01T10:00:00Z"), PayloadJSON: pricePayload("151.94")},
	}
	if err := h.Service.Upload(ctx, batchID, points); err != nil {
		return err
	}
	return h.Service.Cancel(ctx, batchID)
}

// loadRandomWalkScenario uploads an intraday random walk per ticker.
// Prices are held as decimals so repeated +/- 0.05 steps don't
// accumulate float drift.
func (h *Handler) loadRandomWalkScenario(ctx context.Context, batchID string) error {
	if err := h.Service.Start(ctx, batchID); err != nil {
		return err
	}

	starts := map[string]decimal.Decimal{
		"META":  decimal.NewFromInt(180),
		"MSFT":  decimal.NewFromInt(310),
		"TESLA": decimal.RequireFromString("238.45"),
	}
	step := decimal.RequireFromString("0.05")
	base := demoTime("2024-01-02T09:30:00Z")

	var points []pricing.PricePoint
	for ticker, price := range starts {
		for i := 0; i < 32; i++ {
			ticks := decimal.NewFromInt(int64(rand.Intn(11) - 5))
			price = price.Add(step.Mul(ticks))
			points = append(points, pricing.PricePoint{
				InstrumentID: ticker,
				AsOf:         base.Add(time.Duration(i) * time.Minute),
				PayloadJSON:  pricePayload(price.String()),
			})
		}
	}
	if err := h.Service.Upload(ctx, batchID, points); err != nil {
		return err
	}
	return h.Service.Complete(ctx, batchID)
}

// =============================================================================
// HELPERS
// =============================================================================

func demoTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func pricePayload(price string) string {
	return fmt.Sprintf(`{"price":%s}`, decimal.RequireFromString(price).String())
}

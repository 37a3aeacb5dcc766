/*
query.go - Last-known-good price lookup

PURPOSE:
  Derives, per requested instrument, the single most-recent price row
  whose owning batch is COMPLETED. Takes no lock: it relies on the
  store's own snapshot consistency and is safe to run arbitrarily
  concurrently with lifecycle operations. It may observe "before" or
  "after" a given completion but never a half-written upload.

TIE-BREAK:
  When two rows for one instrument share the maximum AsOf, the row with
  the highest surrogate id (most recent insertion) wins. Deterministic
  across all store implementations.
*/
package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/warp/pricing-engine/metrics"
)

// QueryService answers last-price queries.
type QueryService struct {
	store   Store
	metrics *metrics.Registry
}

// NewQueryService creates a query service over the given store.
// m may be nil.
func NewQueryService(store Store, m *metrics.Registry) *QueryService {
	return &QueryService{store: store, metrics: m}
}

// LastPrices returns at most one row per requested instrument: the one
// with the maximum AsOf among rows of COMPLETED batches. Instruments
// with no completed-batch price are absent from the result, which is
// ordered by instrument id. Fails with ErrNoInstruments on an empty set.
func (q *QueryService) LastPrices(ctx context.Context, instrumentIDs []string) ([]PriceRow, error) {
	ids := dedupe(instrumentIDs)
	if len(ids) == 0 {
		return nil, ErrNoInstruments
	}

	start := time.Now()
	rows, err := q.store.LastPrices(ctx, ids)
	if err != nil {
		return nil, err
	}
	if q.metrics != nil {
		q.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	return rows, nil
}

// dedupe drops empty and duplicate ids, preserving a sorted order so
// the store sees a canonical request.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

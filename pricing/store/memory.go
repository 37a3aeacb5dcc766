// Package store provides an in-memory pricing.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/pricing-engine/pricing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	batches map[string]pricing.Batch
	prices  map[string][]pricing.PriceRow // keyed by batch id
	nextID  int64
}

func NewMemory() *Memory {
	return &Memory{
		batches: make(map[string]pricing.Batch),
		prices:  make(map[string][]pricing.PriceRow),
	}
}

func (m *Memory) CreateBatch(_ context.Context, b pricing.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBatchLocked(b)
}

func (m *Memory) createBatchLocked(b pricing.Batch) error {
	if _, ok := m.batches[b.ID]; ok {
		return pricing.ErrBatchExists
	}
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (*pricing.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBatchLocked(id)
}

func (m *Memory) getBatchLocked(id string) (*pricing.Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, pricing.ErrBatchNotFound
	}
	// Copy out so callers can't mutate stored state in place.
	cp := b
	return &cp, nil
}

func (m *Memory) UpdateBatch(_ context.Context, b pricing.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBatchLocked(b)
}

func (m *Memory) updateBatchLocked(b pricing.Batch) error {
	cur, ok := m.batches[b.ID]
	if !ok {
		return pricing.ErrBatchNotFound
	}
	if cur.Version != b.Version {
		return pricing.ErrConcurrentModification
	}
	b.Version++
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) InsertPrices(_ context.Context, batchID string, points []pricing.PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPricesLocked(batchID, points)
}

func (m *Memory) insertPricesLocked(batchID string, points []pricing.PricePoint) error {
	if _, ok := m.batches[batchID]; !ok {
		return pricing.ErrBatchNotFound
	}
	rows := m.prices[batchID]
	for _, p := range points {
		m.nextID++
		rows = append(rows, pricing.PriceRow{
			ID:           m.nextID,
			InstrumentID: p.InstrumentID,
			AsOf:         p.AsOf,
			PayloadJSON:  p.PayloadJSON,
			BatchID:      batchID,
		})
	}
	m.prices[batchID] = rows
	return nil
}

func (m *Memory) DeletePricesByBatch(_ context.Context, batchID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePricesLocked(batchID)
}

func (m *Memory) deletePricesLocked(batchID string) (int64, error) {
	n := int64(len(m.prices[batchID]))
	delete(m.prices, batchID)
	return n, nil
}

func (m *Memory) CountPricesByBatch(_ context.Context, batchID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.prices[batchID])), nil
}

func (m *Memory) LastPrices(_ context.Context, instrumentIDs []string) ([]pricing.PriceRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPricesLocked(instrumentIDs)
}

func (m *Memory) lastPricesLocked(instrumentIDs []string) ([]pricing.PriceRow, error) {
	wanted := make(map[string]bool, len(instrumentIDs))
	for _, id := range instrumentIDs {
		wanted[id] = true
	}

	best := make(map[string]pricing.PriceRow)
	for batchID, rows := range m.prices {
		if m.batches[batchID].Status != pricing.BatchCompleted {
			continue
		}
		for _, row := range rows {
			if !wanted[row.InstrumentID] {
				continue
			}
			cur, ok := best[row.InstrumentID]
			if !ok || row.AsOf.After(cur.AsOf) ||
				(row.AsOf.Equal(cur.AsOf) && row.ID > cur.ID) {
				best[row.InstrumentID] = row
			}
		}
	}

	result := make([]pricing.PriceRow, 0, len(best))
	for _, row := range best {
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InstrumentID < result[j].InstrumentID
	})
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against a transactional view. For the memory store
// this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(pricing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	batches map[string]pricing.Batch
	prices  map[string][]pricing.PriceRow
	nextID  int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	batches := make(map[string]pricing.Batch, len(tm.batches))
	for k, v := range tm.batches {
		batches[k] = v
	}
	prices := make(map[string][]pricing.PriceRow, len(tm.prices))
	for k, v := range tm.prices {
		prices[k] = append([]pricing.PriceRow{}, v...)
	}
	return memorySnapshot{batches: batches, prices: prices, nextID: tm.nextID}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.batches = s.batches
	tm.prices = s.prices
	tm.nextID = s.nextID
}

// txMemoryView routes Store calls to the parent's locked helpers; the
// parent mutex is already held for the whole transaction.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateBatch(_ context.Context, b pricing.Batch) error {
	return tv.parent.createBatchLocked(b)
}

func (tv *txMemoryView) GetBatch(_ context.Context, id string) (*pricing.Batch, error) {
	return tv.parent.getBatchLocked(id)
}

func (tv *txMemoryView) UpdateBatch(_ context.Context, b pricing.Batch) error {
	return tv.parent.updateBatchLocked(b)
}

func (tv *txMemoryView) InsertPrices(_ context.Context, batchID string, points []pricing.PricePoint) error {
	return tv.parent.insertPricesLocked(batchID, points)
}

func (tv *txMemoryView) DeletePricesByBatch(_ context.Context, batchID string) (int64, error) {
	return tv.parent.deletePricesLocked(batchID)
}

func (tv *txMemoryView) CountPricesByBatch(_ context.Context, batchID string) (int64, error) {
	return int64(len(tv.parent.prices[batchID])), nil
}

func (tv *txMemoryView) LastPrices(_ context.Context, instrumentIDs []string) ([]pricing.PriceRow, error) {
	return tv.parent.lastPricesLocked(instrumentIDs)
}

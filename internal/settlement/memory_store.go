package settlement

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory settlement store for demo/development mode.
type MemoryStore struct {
	records map[string]*Settlement
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory settlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Settlement)}
}

func (m *MemoryStore) Create(ctx context.Context, transactionID, orderItemID string, contractedQuantity float64) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[transactionID]; ok {
		return existing.clone(), nil
	}

	now := time.Now().UTC()
	s := &Settlement{
		TransactionID:      transactionID,
		OrderItemID:        orderItemID,
		ContractedQuantity: contractedQuantity,
		Status:             StatusPending,
		BuyerStatus:        SidePending,
		SellerStatus:       SidePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.records[transactionID] = s
	settlementsCreated.Inc()
	return s.clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, transactionID string) (*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.records[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, status Status) ([]*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Settlement, 0, len(m.records))
	for _, s := range m.records {
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListUnsettled(ctx context.Context) ([]*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Settlement, 0)
	for _, s := range m.records {
		if s.Status != StatusSettled {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListUnnotified(ctx context.Context) ([]*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Settlement, 0)
	for _, s := range m.records {
		if s.Status == StatusSettled && !s.OnSettleNotified {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateFromLedger(ctx context.Context, transactionID string, rec *LedgerRecord) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.records[transactionID]
	if !ok {
		return nil, ErrNotFound
	}

	before := s.Status
	s.applyLedger(rec, time.Now().UTC())
	if s.Status != before {
		settlementTransitions.WithLabelValues(string(before), string(s.Status)).Inc()
	}
	return s.clone(), nil
}

func (m *MemoryStore) MarkNotified(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.records[transactionID]
	if !ok {
		return ErrNotFound
	}
	if !s.OnSettleNotified {
		s.OnSettleNotified = true
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		stats[st] = 0
	}
	for _, s := range m.records {
		stats[s.Status]++
	}
	return stats, nil
}

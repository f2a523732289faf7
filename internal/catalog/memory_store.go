package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory catalog store for demo/development mode.
type MemoryStore struct {
	catalogs  map[string]*Catalog
	items     map[string]*Item
	offers    map[string]*Offer
	inventory map[string]*InventoryEntry
	mu        sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		catalogs:  make(map[string]*Catalog),
		items:     make(map[string]*Item),
		offers:    make(map[string]*Offer),
		inventory: make(map[string]*InventoryEntry),
	}
}

func (m *MemoryStore) SaveCatalog(ctx context.Context, c *Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	cp.UpdatedAt = time.Now().UTC()
	m.catalogs[c.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveItem(ctx context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *it
	cp.UpdatedAt = time.Now().UTC()
	m.items[it.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveOffer(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	cp.UpdatedAt = time.Now().UTC()
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) SetInventory(ctx context.Context, itemID, catalogID string, quantity float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inventory[itemID] = &InventoryEntry{
		ItemID:            itemID,
		CatalogID:         catalogID,
		AvailableQuantity: quantity,
		UpdatedAt:         time.Now().UTC(),
	}
	return nil
}

func (m *MemoryStore) ReduceInventory(ctx context.Context, itemID string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.inventory[itemID]
	if !ok {
		return 0, ErrItemNotFound
	}
	remaining := entry.AvailableQuantity - amount
	if remaining < 0 {
		return entry.AvailableQuantity, ErrInsufficientInventory
	}
	entry.AvailableQuantity = remaining
	entry.UpdatedAt = time.Now().UTC()
	return remaining, nil
}

func (m *MemoryStore) Items(ctx context.Context) ([]*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Item, 0, len(m.items))
	for _, it := range m.items {
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Offers(ctx context.Context) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Offer, 0, len(m.offers))
	for _, o := range m.offers {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Inventory(ctx context.Context) ([]*InventoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*InventoryEntry, 0, len(m.inventory))
	for _, e := range m.inventory {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *MemoryStore) ItemInventory(ctx context.Context, itemID string) (*InventoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.inventory[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *e
	return &cp, nil
}

// Package catalog stores published energy catalogs and tracks sell-side
// inventory. Sellers publish a catalog of tradeable energy blocks; the
// gateway persists it locally and forwards the publish to the seller
// platform adapter.
package catalog

import (
	"errors"
	"time"
)

var (
	// ErrItemNotFound is returned for inventory operations on unknown items.
	ErrItemNotFound = errors.New("catalog item not found")

	// ErrInsufficientInventory is returned when a reduction would take the
	// available quantity below zero.
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

// Catalog is one published seller catalog.
type Catalog struct {
	ID        string         `json:"id"`
	BppID     string         `json:"bppId,omitempty"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Item is one tradeable energy block within a catalog.
type Item struct {
	ID        string         `json:"id"`
	CatalogID string         `json:"catalogId"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Offer is a pricing offer attached to a catalog.
type Offer struct {
	ID        string         `json:"id"`
	CatalogID string         `json:"catalogId"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// InventoryEntry is the available quantity for one item, seeded from the
// item's unit quantity at publish time and reduced as trades confirm.
type InventoryEntry struct {
	ItemID            string    `json:"itemId"`
	CatalogID         string    `json:"catalogId"`
	AvailableQuantity float64   `json:"availableQuantity"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

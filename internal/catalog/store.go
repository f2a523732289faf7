package catalog

import "context"

// Store persists catalogs, items, offers, and inventory. Saves are upserts
// keyed by id; republishing a catalog replaces its previous data.
type Store interface {
	SaveCatalog(ctx context.Context, c *Catalog) error
	SaveItem(ctx context.Context, it *Item) error
	SaveOffer(ctx context.Context, o *Offer) error

	// SetInventory seeds or replaces the available quantity for an item.
	SetInventory(ctx context.Context, itemID, catalogID string, quantity float64) error

	// ReduceInventory atomically subtracts amount and returns the remaining
	// quantity. ErrItemNotFound for unknown items, ErrInsufficientInventory
	// when the reduction would go negative (no partial reduction applied).
	ReduceInventory(ctx context.Context, itemID string, amount float64) (float64, error)

	Items(ctx context.Context) ([]*Item, error)
	Offers(ctx context.Context) ([]*Offer, error)
	Inventory(ctx context.Context) ([]*InventoryEntry, error)
	ItemInventory(ctx context.Context, itemID string) (*InventoryEntry, error)
}

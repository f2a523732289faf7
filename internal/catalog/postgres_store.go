package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists catalog data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the catalog and inventory tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS catalogs (
			id          VARCHAR(128) PRIMARY KEY,
			bpp_id      VARCHAR(255),
			data        JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS catalog_items (
			id          VARCHAR(128) PRIMARY KEY,
			catalog_id  VARCHAR(128) NOT NULL,
			data        JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS catalog_offers (
			id          VARCHAR(128) PRIMARY KEY,
			catalog_id  VARCHAR(128) NOT NULL,
			data        JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS inventory (
			item_id             VARCHAR(128) PRIMARY KEY,
			catalog_id          VARCHAR(128) NOT NULL,
			available_quantity  NUMERIC(12,3) NOT NULL DEFAULT 0,
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_available_nonneg CHECK (available_quantity >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_items_catalog ON catalog_items(catalog_id);
		CREATE INDEX IF NOT EXISTS idx_offers_catalog ON catalog_offers(catalog_id);
	`)
	return err
}

func (p *PostgresStore) SaveCatalog(ctx context.Context, c *Catalog) error {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO catalogs (id, bpp_id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			bpp_id = EXCLUDED.bpp_id, data = EXCLUDED.data, updated_at = NOW()`,
		c.ID, c.BppID, data)
	return err
}

func (p *PostgresStore) SaveItem(ctx context.Context, it *Item) error {
	data, err := json.Marshal(it.Data)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO catalog_items (id, catalog_id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			catalog_id = EXCLUDED.catalog_id, data = EXCLUDED.data, updated_at = NOW()`,
		it.ID, it.CatalogID, data)
	return err
}

func (p *PostgresStore) SaveOffer(ctx context.Context, o *Offer) error {
	data, err := json.Marshal(o.Data)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO catalog_offers (id, catalog_id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			catalog_id = EXCLUDED.catalog_id, data = EXCLUDED.data, updated_at = NOW()`,
		o.ID, o.CatalogID, data)
	return err
}

func (p *PostgresStore) SetInventory(ctx context.Context, itemID, catalogID string, quantity float64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO inventory (item_id, catalog_id, available_quantity, updated_at)
		VALUES ($1, $2, $3::NUMERIC(12,3), NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			catalog_id = EXCLUDED.catalog_id,
			available_quantity = EXCLUDED.available_quantity,
			updated_at = NOW()`,
		itemID, catalogID, quantity)
	return err
}

func (p *PostgresStore) ReduceInventory(ctx context.Context, itemID string, amount float64) (float64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var available float64
	err = tx.QueryRowContext(ctx,
		`SELECT available_quantity FROM inventory WHERE item_id = $1 FOR UPDATE`,
		itemID).Scan(&available)
	if err == sql.ErrNoRows {
		return 0, ErrItemNotFound
	}
	if err != nil {
		return 0, err
	}

	remaining := available - amount
	if remaining < 0 {
		return available, ErrInsufficientInventory
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory SET available_quantity = $1::NUMERIC(12,3), updated_at = NOW()
		WHERE item_id = $2`,
		remaining, itemID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit inventory update: %w", err)
	}
	return remaining, nil
}

func (p *PostgresStore) Items(ctx context.Context) ([]*Item, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, catalog_id, data, updated_at FROM catalog_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	out := make([]*Item, 0)
	for rows.Next() {
		var (
			it   Item
			data []byte
		)
		if err := rows.Scan(&it.ID, &it.CatalogID, &data, &it.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &it.Data); err != nil {
			return nil, fmt.Errorf("decode item %s: %w", it.ID, err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Offers(ctx context.Context) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, catalog_id, data, updated_at FROM catalog_offers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()

	out := make([]*Offer, 0)
	for rows.Next() {
		var (
			o    Offer
			data []byte
		)
		if err := rows.Scan(&o.ID, &o.CatalogID, &data, &o.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &o.Data); err != nil {
			return nil, fmt.Errorf("decode offer %s: %w", o.ID, err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Inventory(ctx context.Context) ([]*InventoryEntry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT item_id, catalog_id, available_quantity, updated_at FROM inventory ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	out := make([]*InventoryEntry, 0)
	for rows.Next() {
		var e InventoryEntry
		if err := rows.Scan(&e.ItemID, &e.CatalogID, &e.AvailableQuantity, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ItemInventory(ctx context.Context, itemID string) (*InventoryEntry, error) {
	var e InventoryEntry
	err := p.db.QueryRowContext(ctx,
		`SELECT item_id, catalog_id, available_quantity, updated_at FROM inventory WHERE item_id = $1`,
		itemID).Scan(&e.ItemID, &e.CatalogID, &e.AvailableQuantity, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

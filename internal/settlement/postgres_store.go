package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists settlements in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed settlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the settlements table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlements (
			transaction_id       VARCHAR(64) PRIMARY KEY,
			order_item_id        VARCHAR(64) NOT NULL,
			contracted_quantity  NUMERIC(12,3) NOT NULL,
			actual_delivered     NUMERIC(12,3),
			deviation_kwh        NUMERIC(12,3),
			status               VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			buyer_status         VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			seller_status        VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			settlement_cycle_id  VARCHAR(32),
			settled_at           TIMESTAMPTZ,
			on_settle_notified   BOOLEAN NOT NULL DEFAULT FALSE,
			ledger_data          JSONB,
			ledger_synced_at     TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status);
		CREATE INDEX IF NOT EXISTS idx_settlements_created ON settlements(created_at DESC);
	`)
	return err
}

const settlementColumns = `transaction_id, order_item_id, contracted_quantity, actual_delivered,
		       deviation_kwh, status, buyer_status, seller_status,
		       settlement_cycle_id, settled_at, on_settle_notified,
		       ledger_data, ledger_synced_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, transactionID, orderItemID string, contractedQuantity float64) (*Settlement, error) {
	now := time.Now().UTC()
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO settlements (
			transaction_id, order_item_id, contracted_quantity,
			status, buyer_status, seller_status,
			on_settle_notified, created_at, updated_at
		) VALUES ($1, $2, $3::NUMERIC(12,3), $4, $5, $6, FALSE, $7, $7)
		ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID, orderItemID, contractedQuantity,
		string(StatusPending), string(SidePending), string(SidePending), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert settlement: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		settlementsCreated.Inc()
	}
	return p.Get(ctx, transactionID)
}

func (p *PostgresStore) Get(ctx context.Context, transactionID string) (*Settlement, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE transaction_id = $1`, transactionID)
	return scanSettlement(row)
}

func (p *PostgresStore) List(ctx context.Context, status Status) ([]*Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	return p.queryList(ctx, query, args...)
}

func (p *PostgresStore) ListUnsettled(ctx context.Context) ([]*Settlement, error) {
	return p.queryList(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE status != $1 ORDER BY created_at ASC`,
		string(StatusSettled))
}

func (p *PostgresStore) ListUnnotified(ctx context.Context) ([]*Settlement, error) {
	return p.queryList(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE status = $1 AND on_settle_notified = FALSE ORDER BY created_at ASC`,
		string(StatusSettled))
}

func (p *PostgresStore) UpdateFromLedger(ctx context.Context, transactionID string, rec *LedgerRecord) (*Settlement, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE transaction_id = $1 FOR UPDATE`,
		transactionID)
	s, err := scanSettlement(row)
	if err != nil {
		return nil, err
	}

	before := s.Status
	s.applyLedger(rec, time.Now().UTC())

	ledgerData, err := marshalLedgerData(s.LedgerData)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE settlements SET
			actual_delivered = $1, deviation_kwh = $2,
			status = $3, buyer_status = $4, seller_status = $5,
			settlement_cycle_id = $6, settled_at = $7,
			ledger_data = $8, ledger_synced_at = $9, updated_at = $10
		WHERE transaction_id = $11`,
		nullFloat(s.ActualDelivered), nullFloat(s.DeviationKwh),
		string(s.Status), string(s.BuyerStatus), string(s.SellerStatus),
		nullString(s.SettlementCycleID), nullTime(s.SettledAt),
		ledgerData, nullTime(s.LedgerSyncedAt), s.UpdatedAt, s.TransactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("update settlement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement update: %w", err)
	}

	if s.Status != before {
		settlementTransitions.WithLabelValues(string(before), string(s.Status)).Inc()
	}
	return s, nil
}

func (p *PostgresStore) MarkNotified(ctx context.Context, transactionID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE settlements SET on_settle_notified = TRUE, updated_at = $1
		WHERE transaction_id = $2`,
		time.Now().UTC(), transactionID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM settlements GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("settlement stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		stats[st] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func (p *PostgresStore) queryList(ctx context.Context, query string, args ...any) ([]*Settlement, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	out := make([]*Settlement, 0)
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (*Settlement, error) {
	var (
		s               Settlement
		status          string
		buyerStatus     string
		sellerStatus    string
		actualDelivered sql.NullFloat64
		deviation       sql.NullFloat64
		cycleID         sql.NullString
		settledAt       sql.NullTime
		ledgerData      []byte
		ledgerSyncedAt  sql.NullTime
	)
	err := row.Scan(
		&s.TransactionID, &s.OrderItemID, &s.ContractedQuantity, &actualDelivered,
		&deviation, &status, &buyerStatus, &sellerStatus,
		&cycleID, &settledAt, &s.OnSettleNotified,
		&ledgerData, &ledgerSyncedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Status = Status(status)
	s.BuyerStatus = SideStatus(buyerStatus)
	s.SellerStatus = SideStatus(sellerStatus)
	if actualDelivered.Valid {
		s.ActualDelivered = &actualDelivered.Float64
	}
	if deviation.Valid {
		s.DeviationKwh = &deviation.Float64
	}
	s.SettlementCycleID = cycleID.String
	if settledAt.Valid {
		s.SettledAt = &settledAt.Time
	}
	if len(ledgerData) > 0 {
		var rec LedgerRecord
		if err := json.Unmarshal(ledgerData, &rec); err != nil {
			return nil, fmt.Errorf("decode ledger data: %w", err)
		}
		s.LedgerData = &rec
	}
	if ledgerSyncedAt.Valid {
		s.LedgerSyncedAt = &ledgerSyncedAt.Time
	}
	return &s, nil
}

func marshalLedgerData(rec *LedgerRecord) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode ledger data: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

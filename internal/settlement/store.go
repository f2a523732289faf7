package settlement

import "context"

// Store persists settlement records. Implementations must make
// UpdateFromLedger an atomic read-modify-write per transaction id.
type Store interface {
	// Create inserts a settlement if none exists for the transaction id and
	// returns the stored record. Concurrent duplicate calls converge to a
	// single record; calling Create for an existing id is not an error.
	Create(ctx context.Context, transactionID, orderItemID string, contractedQuantity float64) (*Settlement, error)

	// Get returns the settlement for a transaction id, or ErrNotFound.
	Get(ctx context.Context, transactionID string) (*Settlement, error)

	// List returns settlements, newest first, filtered by status when
	// status is non-empty.
	List(ctx context.Context, status Status) ([]*Settlement, error)

	// ListUnsettled returns every record not yet SETTLED (poll candidates).
	ListUnsettled(ctx context.Context) ([]*Settlement, error)

	// ListUnnotified returns SETTLED records whose settle notification has
	// not been delivered yet.
	ListUnnotified(ctx context.Context) ([]*Settlement, error)

	// UpdateFromLedger folds a ledger snapshot into the record and returns
	// the updated settlement, or ErrNotFound.
	UpdateFromLedger(ctx context.Context, transactionID string, rec *LedgerRecord) (*Settlement, error)

	// MarkNotified flips the notification flag. The flag is monotonic and
	// never reset. Unknown ids return ErrNotFound.
	MarkNotified(ctx context.Context, transactionID string) error

	// Stats returns the record count per status.
	Stats(ctx context.Context) (map[Status]int, error)
}

// Package settlement tracks post-delivery reconciliation of confirmed energy
// trades. A settlement record is created when a trade is confirmed and is
// advanced by ledger snapshots until both discoms report completion.
package settlement

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no settlement exists for a transaction id.
var ErrNotFound = errors.New("settlement not found")

// Status is the derived settlement state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusBuyerCompleted  Status = "BUYER_COMPLETED"
	StatusSellerCompleted Status = "SELLER_COMPLETED"
	StatusSettled         Status = "SETTLED"
)

// AllStatuses lists every settlement status, for stats and metrics labels.
var AllStatuses = []Status{StatusPending, StatusBuyerCompleted, StatusSellerCompleted, StatusSettled}

// SideStatus is one discom's fulfillment status as reported by the ledger.
type SideStatus string

const (
	SidePending   SideStatus = "PENDING"
	SideCompleted SideStatus = "COMPLETED"
)

// DeriveStatus recomputes the settlement status from the two side statuses.
// It is a pure function; SETTLED requires both sides COMPLETED.
func DeriveStatus(buyer, seller SideStatus) Status {
	switch {
	case buyer == SideCompleted && seller == SideCompleted:
		return StatusSettled
	case buyer == SideCompleted:
		return StatusBuyerCompleted
	case seller == SideCompleted:
		return StatusSellerCompleted
	default:
		return StatusPending
	}
}

// Metric type reported by the buyer discom for energy actually pushed to the
// grid, and by the seller discom for energy actually delivered.
const (
	MetricActualPushed    = "ACTUAL_PUSHED"
	MetricActualDelivered = "ACTUAL_DELIVERED"
)

// ValidationMetric is one fulfillment measurement from a discom's meter data.
type ValidationMetric struct {
	Type  string  `json:"validationMetricType"`
	Value float64 `json:"validationMetricValue"`
}

// LedgerRecord is the ledger's view of one trade, fetched during a poll cycle.
type LedgerRecord struct {
	TransactionID      string             `json:"transactionId"`
	StatusBuyerDiscom  SideStatus         `json:"statusBuyerDiscom"`
	StatusSellerDiscom SideStatus         `json:"statusSellerDiscom"`
	BuyerMetrics       []ValidationMetric `json:"fulfillmentValidationMetricsBuyer"`
	SellerMetrics      []ValidationMetric `json:"fulfillmentValidationMetricsSeller"`
}

func (r *LedgerRecord) clone() *LedgerRecord {
	cp := *r
	if r.BuyerMetrics != nil {
		cp.BuyerMetrics = append([]ValidationMetric(nil), r.BuyerMetrics...)
	}
	if r.SellerMetrics != nil {
		cp.SellerMetrics = append([]ValidationMetric(nil), r.SellerMetrics...)
	}
	return &cp
}

// ActualDelivered extracts the delivered quantity from the snapshot. Buyer
// meter data (ACTUAL_PUSHED) is authoritative; the seller's ACTUAL_DELIVERED
// is the fallback. Nil when neither side has reported yet.
func (r *LedgerRecord) ActualDelivered() *float64 {
	for _, m := range r.BuyerMetrics {
		if m.Type == MetricActualPushed {
			v := m.Value
			return &v
		}
	}
	for _, m := range r.SellerMetrics {
		if m.Type == MetricActualDelivered {
			v := m.Value
			return &v
		}
	}
	return nil
}

// Settlement is the reconciliation record for one confirmed trade.
type Settlement struct {
	TransactionID      string        `json:"transactionId"`
	OrderItemID        string        `json:"orderItemId"`
	ContractedQuantity float64       `json:"contractedQuantityKwh"`
	ActualDelivered    *float64      `json:"actualDeliveredKwh,omitempty"`
	DeviationKwh       *float64      `json:"deviationKwh,omitempty"`
	Status             Status        `json:"settlementStatus"`
	BuyerStatus        SideStatus    `json:"statusBuyerDiscom"`
	SellerStatus       SideStatus    `json:"statusSellerDiscom"`
	SettlementCycleID  string        `json:"settlementCycleId,omitempty"`
	SettledAt          *time.Time    `json:"settledAt,omitempty"`
	OnSettleNotified   bool          `json:"onSettleNotified"`
	LedgerData         *LedgerRecord `json:"ledgerData,omitempty"`
	LedgerSyncedAt     *time.Time    `json:"ledgerSyncedAt,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// CycleID returns the settlement cycle identifier for a point in time:
// the date plus a 1-based 6-hour bucket index, e.g. settle-2026-03-14-002
// for any time between 06:00 and 11:59.
func CycleID(t time.Time) string {
	return fmt.Sprintf("settle-%s-%03d", t.Format("2006-01-02"), t.Hour()/6+1)
}

// applyLedger folds a ledger snapshot into the record. The status is
// recomputed in full from the two side statuses. SettledAt and the cycle id
// are stamped exactly once, on the transition into SETTLED; re-applying the
// same snapshot is a no-op for them. SETTLED is terminal and never downgrades.
func (s *Settlement) applyLedger(rec *LedgerRecord, now time.Time) {
	// A side the ledger has not reported on yet is PENDING, not "".
	buyer := rec.StatusBuyerDiscom
	if buyer == "" {
		buyer = SidePending
	}
	seller := rec.StatusSellerDiscom
	if seller == "" {
		seller = SidePending
	}
	s.BuyerStatus = buyer
	s.SellerStatus = seller

	if delivered := rec.ActualDelivered(); delivered != nil {
		s.ActualDelivered = delivered
		dev := *delivered - s.ContractedQuantity
		s.DeviationKwh = &dev
	}

	next := DeriveStatus(buyer, seller)
	if s.Status != StatusSettled {
		if next == StatusSettled {
			settled := now
			s.SettledAt = &settled
			s.SettlementCycleID = CycleID(now)
		}
		s.Status = next
	}

	s.LedgerData = rec.clone()
	synced := now
	s.LedgerSyncedAt = &synced
	s.UpdatedAt = now
}

func (s *Settlement) clone() *Settlement {
	cp := *s
	if s.ActualDelivered != nil {
		v := *s.ActualDelivered
		cp.ActualDelivered = &v
	}
	if s.DeviationKwh != nil {
		v := *s.DeviationKwh
		cp.DeviationKwh = &v
	}
	if s.SettledAt != nil {
		t := *s.SettledAt
		cp.SettledAt = &t
	}
	if s.LedgerData != nil {
		cp.LedgerData = s.LedgerData.clone()
	}
	if s.LedgerSyncedAt != nil {
		t := *s.LedgerSyncedAt
		cp.LedgerSyncedAt = &t
	}
	return &cp
}

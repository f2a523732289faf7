package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/voltsync/voltsync/internal/settlement"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventTradeConfirmed, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventTradeConfirmed, EventSettlementUpdated},
	}}

	tradeEvent := &Event{Type: EventTradeConfirmed}
	settlementEvent := &Event{Type: EventSettlementUpdated}
	catalogEvent := &Event{Type: EventCatalogPublished}

	if !h.shouldSend(client, tradeEvent) {
		t.Error("Should receive trade_confirmed events")
	}
	if !h.shouldSend(client, settlementEvent) {
		t.Error("Should receive settlement_updated events")
	}
	if h.shouldSend(client, catalogEvent) {
		t.Error("Should NOT receive catalog_published events")
	}
}

func TestShouldSend_TransactionFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		TransactionIDs: []string{"txn-watch"},
	}}

	matching := &Event{
		Type: EventTradeConfirmed,
		Data: map[string]any{"transactionId": "txn-watch"},
	}
	notMatching := &Event{
		Type: EventTradeConfirmed,
		Data: map[string]any{"transactionId": "txn-other"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on transactionId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated transactions")
	}
}

func TestShouldSend_StatusFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Statuses: []string{"SETTLED"},
	}}

	settled := &Event{
		Type: EventSettlementUpdated,
		Data: map[string]any{"settlementStatus": "SETTLED"},
	}
	pending := &Event{
		Type: EventSettlementUpdated,
		Data: map[string]any{"settlementStatus": "PENDING"},
	}
	trade := &Event{
		Type: EventTradeConfirmed,
		Data: map[string]any{"transactionId": "txn-1"},
	}

	if !h.shouldSend(client, settled) {
		t.Error("Should receive SETTLED updates")
	}
	if h.shouldSend(client, pending) {
		t.Error("Should NOT receive PENDING updates")
	}
	if !h.shouldSend(client, trade) {
		t.Error("Status filter should only apply to settlement events")
	}
}

func TestShouldSend_MinQuantityFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinQuantityKwh: 10.0,
	}}

	large := &Event{
		Type: EventTradeConfirmed,
		Data: map[string]any{"quantityKwh": 15.0},
	}
	small := &Event{
		Type: EventTradeConfirmed,
		Data: map[string]any{"quantityKwh": 5.0},
	}
	settlementEvent := &Event{
		Type: EventSettlementUpdated,
		Data: map[string]any{"settlementStatus": "SETTLED"},
	}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large trade")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small trade")
	}
	if !h.shouldSend(client, settlementEvent) {
		t.Error("MinQuantityKwh filter should only apply to trades")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventTradeConfirmed}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		TransactionIDs: []string{"txn-1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventCatalogPublished,
		Data: "string data not a map",
	}

	// Transaction filter skips non-map data, so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-map data should pass through when transaction filter can't extract ids")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventTradeConfirmed, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_SettlementUpdatedDeliveredToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	deviation := -2.0
	h.SettlementUpdated(ctx, &settlement.Settlement{
		TransactionID:      "txn-rt",
		OrderItemID:        "item-1",
		ContractedQuantity: 50,
		DeviationKwh:       &deviation,
		Status:             settlement.StatusSettled,
		SettlementCycleID:  "settle-2026-03-14-002",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for settlement broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants settlement updates
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventSettlementUpdated}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a trade event (should be filtered out)
	h.Broadcast(&Event{Type: EventTradeConfirmed, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive trade event")
	default:
		// Good - filtered out
	}

	// Send a settlement event (should be received)
	h.Broadcast(&Event{Type: EventSettlementUpdated, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive settlement event")
	}
}

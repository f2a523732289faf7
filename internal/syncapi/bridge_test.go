package syncapi

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/voltsync/voltsync/internal/pending"
	"github.com/voltsync/voltsync/internal/protocol"
)

// --- Mock Poster ---

type mockPoster struct {
	calls    atomic.Int64
	lastURL  string
	lastBody protocol.Envelope
	resp     *Response
	err      error
	// onPost runs after recording the call, before returning; used to
	// simulate the callback arriving while the bridge awaits.
	onPost func(env protocol.Envelope)
}

func (m *mockPoster) Post(_ context.Context, url string, payload any) (*Response, error) {
	m.calls.Add(1)
	m.lastURL = url
	if env, ok := payload.(protocol.Envelope); ok {
		m.lastBody = env
	}
	if m.onPost != nil {
		m.onPost(m.lastBody)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func ackResponse() *Response {
	return &Response{StatusCode: 200, Body: []byte(`{"message":{"ack":{"status":"ACK"}}}`)}
}

func nackResponse() *Response {
	return &Response{StatusCode: 200, Body: []byte(`{"message":{"ack":{"status":"NACK"}},"error":{"code":"INVALID_REQUEST"}}`)}
}

// --- Mock settlement creator ---

type mockSettlements struct {
	created []string
	err     error
}

func (m *mockSettlements) Create(_ context.Context, txnID, itemID string, qty float64) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, txnID)
	return nil
}

// --- Helpers ---

func newTestBridge(t *testing.T, poster Poster, settlements SettlementCreator) (*Bridge, *pending.Registry) {
	t.Helper()
	reg := pending.NewRegistry(time.Second, nil)
	return NewBridge(reg, poster, "http://onix-bap:8081", settlements, nil), reg
}

func selectEnvelope(txnID string) protocol.Envelope {
	env := protocol.Envelope{
		"context": map[string]any{"action": "select"},
		"message": map[string]any{"order": map[string]any{}},
	}
	if txnID != "" {
		env.SetTransactionID(txnID)
	}
	return env
}

func confirmEnvelope(buyer, seller string) protocol.Envelope {
	attrs := map[string]any{}
	if buyer != "" {
		attrs["utilityIdBuyer"] = buyer
	}
	if seller != "" {
		attrs["utilityIdSeller"] = seller
	}
	return protocol.Envelope{
		"context": map[string]any{"action": "confirm"},
		"message": map[string]any{
			"order": map[string]any{
				"beckn:orderAttributes": attrs,
				"beckn:orderItems": []any{
					map[string]any{
						"beckn:id":       "item-001",
						"beckn:quantity": map[string]any{"unitQuantity": 50.0},
					},
				},
			},
		},
	}
}

// --- Tests ---

func TestSelect_AckThenCallback(t *testing.T) {
	var reg *pending.Registry
	poster := &mockPoster{resp: ackResponse()}
	poster.onPost = func(env protocol.Envelope) {
		// Simulate the async callback landing right after the ACK.
		go func() {
			time.Sleep(10 * time.Millisecond)
			reg.Resolve(env.TransactionID(), map[string]any{
				"message": map[string]any{"order": map[string]any{"beckn:id": "order-1"}},
			})
		}()
	}

	bridge, r := newTestBridge(t, poster, nil)
	reg = r

	res, err := bridge.Select(context.Background(), selectEnvelope("txn-sel"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TransactionID != "txn-sel" {
		t.Errorf("unexpected transaction id: %s", res.TransactionID)
	}
	if res.Payload["message"] == nil {
		t.Error("expected callback payload in result")
	}
	if poster.lastURL != "http://onix-bap:8081/bap/caller/select" {
		t.Errorf("unexpected outbound URL: %s", poster.lastURL)
	}
	if reg.Count() != 0 {
		t.Errorf("registry should be empty, got %d", reg.Count())
	}
}

func TestSelect_GeneratesTransactionID(t *testing.T) {
	var reg *pending.Registry
	poster := &mockPoster{resp: ackResponse()}
	poster.onPost = func(env protocol.Envelope) {
		if env.TransactionID() == "" {
			t.Error("outbound envelope missing generated transaction id")
		}
		go reg.Resolve(env.TransactionID(), map[string]any{})
	}

	bridge, r := newTestBridge(t, poster, nil)
	reg = r

	res, err := bridge.Select(context.Background(), selectEnvelope(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TransactionID == "" {
		t.Error("expected generated transaction id")
	}
}

func TestSelect_NackNeverAwaits(t *testing.T) {
	poster := &mockPoster{resp: nackResponse()}
	bridge, reg := newTestBridge(t, poster, nil)

	start := time.Now()
	_, err := bridge.Select(context.Background(), selectEnvelope("txn-nack"))

	var nerr *NackError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NackError, got %v", err)
	}
	// The handle must be cancelled synchronously, not awaited to timeout.
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("NACK path took %s; bridge must not await the handle", elapsed)
	}
	if reg.Count() != 0 {
		t.Errorf("pending entry leaked after NACK, count=%d", reg.Count())
	}
}

func TestSelect_MalformedStringAck(t *testing.T) {
	var reg *pending.Registry
	poster := &mockPoster{resp: &Response{
		StatusCode: 200,
		// Proxy-mangled: the ack arrives as a JSON-encoded string.
		Body: []byte(`"{\"message\":{\"ack\":{\"status\":\"ACK\"}}}"`),
	}}
	poster.onPost = func(env protocol.Envelope) {
		go reg.Resolve(env.TransactionID(), map[string]any{})
	}

	bridge, r := newTestBridge(t, poster, nil)
	reg = r

	if _, err := bridge.Select(context.Background(), selectEnvelope("txn-str")); err != nil {
		t.Fatalf("string ACK should be accepted: %v", err)
	}
}

func TestSelect_TransportFailureCancelsEntry(t *testing.T) {
	poster := &mockPoster{err: errors.New("connection refused")}
	bridge, reg := newTestBridge(t, poster, nil)

	_, err := bridge.Select(context.Background(), selectEnvelope("txn-net"))
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("pending entry leaked after transport failure, count=%d", reg.Count())
	}
}

func TestSelect_DownstreamErrorBodyExtracted(t *testing.T) {
	poster := &mockPoster{resp: &Response{
		StatusCode: 422,
		Body:       []byte(`{"message":{"ack":{"status":"NACK"},"error":{"code":"SCHEMA","message":"order.items is required"}}}`),
	}}
	bridge, reg := newTestBridge(t, poster, nil)

	_, err := bridge.Select(context.Background(), selectEnvelope("txn-422"))
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.StatusCode != 422 {
		t.Errorf("expected status 422, got %d", terr.StatusCode)
	}
	if terr.Message != "order.items is required" {
		t.Errorf("expected downstream diagnostic, got %q", terr.Message)
	}
	if reg.Count() != 0 {
		t.Error("pending entry leaked after downstream error")
	}
}

func TestSelect_Timeout(t *testing.T) {
	poster := &mockPoster{resp: ackResponse()}
	reg := pending.NewRegistry(50*time.Millisecond, nil)
	bridge := NewBridge(reg, poster, "http://onix-bap:8081", nil, nil)

	_, err := bridge.Select(context.Background(), selectEnvelope("txn-slow"))
	var toer *pending.CallbackTimeoutError
	if !errors.As(err, &toer) {
		t.Fatalf("expected CallbackTimeoutError, got %v", err)
	}

	// A late callback is a silent no-op.
	if reg.Resolve("txn-slow", map[string]any{}) {
		t.Error("late resolve should be a no-op")
	}
}

func TestSelect_BusinessErrorInCallback(t *testing.T) {
	var reg *pending.Registry
	poster := &mockPoster{resp: ackResponse()}
	poster.onPost = func(env protocol.Envelope) {
		go reg.Resolve(env.TransactionID(), map[string]any{
			"error": map[string]any{"code": "INSUFFICIENT_INVENTORY", "message": "Not enough inventory"},
		})
	}

	bridge, r := newTestBridge(t, poster, nil)
	reg = r

	_, err := bridge.Select(context.Background(), selectEnvelope("txn-biz"))
	var berr *BusinessError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BusinessError, got %v", err)
	}
	if berr.TransactionID != "txn-biz" {
		t.Errorf("unexpected txn id: %s", berr.TransactionID)
	}
}

func TestConfirm_MissingBuyerID(t *testing.T) {
	poster := &mockPoster{resp: ackResponse()}
	bridge, reg := newTestBridge(t, poster, nil)

	_, err := bridge.Confirm(context.Background(), confirmEnvelope("", "BESCOM"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Code != "MISSING_REQUIRED_FIELD" {
		t.Errorf("expected MISSING_REQUIRED_FIELD, got %s", verr.Code)
	}
	// Validation failures must be fully local.
	if poster.calls.Load() != 0 {
		t.Error("no outbound call may be made on validation failure")
	}
	if reg.Count() != 0 {
		t.Error("no registry entry may be created on validation failure")
	}
}

func TestConfirm_MissingSellerID(t *testing.T) {
	poster := &mockPoster{resp: ackResponse()}
	bridge, _ := newTestBridge(t, poster, nil)

	_, err := bridge.Confirm(context.Background(), confirmEnvelope("TPDDL", "   "))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for blank seller id, got %v", err)
	}
}

func TestConfirm_StampsInterUtilityType(t *testing.T) {
	var reg *pending.Registry
	poster := &mockPoster{resp: ackResponse()}
	poster.onPost = func(env protocol.Envelope) {
		go reg.Resolve(env.TransactionID(), map[string]any{})
	}

	bridge, r := newTestBridge(t, poster, nil)
	reg = r

	if _, err := bridge.Confirm(context.Background(), confirmEnvelope("TPDDL", "BESCOM")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attrs := poster.lastBody.OrderAttributes()
	if attrs["@type"] != protocol.OrderTypeInterUtility {
		t.Errorf("outbound order missing inter-utility type, got %v", attrs["@type"])
	}
	if attrs["utilityIdBuyer"] != "TPDDL" {
		t.Error("existing order attributes must survive the stamp")
	}
}

func TestConfirm_CreatesSettlement(t *testing.T) {
	var reg *pending.Registry
	poster := &mockPoster{resp: ackResponse()}
	poster.onPost = func(env protocol.Envelope) {
		go reg.Resolve(env.TransactionID(), map[string]any{})
	}
	settlements := &mockSettlements{}

	bridge, r := newTestBridge(t, poster, settlements)
	reg = r

	res, err := bridge.Confirm(context.Background(), confirmEnvelope("TPDDL", "BESCOM"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(settlements.created) != 1 || settlements.created[0] != res.TransactionID {
		t.Errorf("expected settlement created for %s, got %v", res.TransactionID, settlements.created)
	}
}

func TestConfirm_SettlementFailureDoesNotFailCall(t *testing.T) {
	var reg *pending.Registry
	poster := &mockPoster{resp: ackResponse()}
	poster.onPost = func(env protocol.Envelope) {
		go reg.Resolve(env.TransactionID(), map[string]any{})
	}
	settlements := &mockSettlements{err: errors.New("db down")}

	bridge, r := newTestBridge(t, poster, settlements)
	reg = r

	if _, err := bridge.Confirm(context.Background(), confirmEnvelope("TPDDL", "BESCOM")); err != nil {
		t.Fatalf("settlement store failure must not fail the confirm: %v", err)
	}
}

func TestExecute_WhitespaceTransactionID(t *testing.T) {
	poster := &mockPoster{resp: ackResponse()}
	bridge, reg := newTestBridge(t, poster, nil)
	bridgeRequests.Reset()

	_, err := bridge.Select(context.Background(), selectEnvelope("   "))
	if !errors.Is(err, pending.ErrInvalidTransactionID) {
		t.Fatalf("expected ErrInvalidTransactionID, got %v", err)
	}
	if poster.calls.Load() != 0 {
		t.Error("invalid id must not reach the network")
	}
	if reg.Count() != 0 {
		t.Error("no registry entry may be created for an invalid id")
	}

	if got := counterValue(t, "select", "invalid_id"); got != 1 {
		t.Errorf("expected invalid_id counted once, got %f", got)
	}
	if got := counterValue(t, "select", "duplicate"); got != 0 {
		t.Errorf("invalid id must not count as duplicate, got %f", got)
	}
}

func counterValue(t *testing.T, action, outcome string) float64 {
	t.Helper()
	counter, err := bridgeRequests.GetMetricWithLabelValues(action, outcome)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m := &dto.Metric{}
	_ = counter.Write(m)
	return m.Counter.GetValue()
}

func TestExecute_DuplicateTransaction(t *testing.T) {
	poster := &mockPoster{resp: ackResponse()}
	bridge, reg := newTestBridge(t, poster, nil)

	if _, err := reg.Create("txn-dup", "select"); err != nil {
		t.Fatal(err)
	}
	_, err := bridge.Select(context.Background(), selectEnvelope("txn-dup"))
	if !errors.Is(err, pending.ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
	// The duplicate attempt must not have sent anything.
	if poster.calls.Load() != 0 {
		t.Error("duplicate create must not reach the network")
	}
}

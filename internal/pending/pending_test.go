package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(timeout time.Duration) *Registry {
	return NewRegistry(timeout, nil)
}

func TestCreate_InvalidID(t *testing.T) {
	r := newTestRegistry(time.Second)
	if _, err := r.Create("", "select"); !errors.Is(err, ErrInvalidTransactionID) {
		t.Fatalf("expected ErrInvalidTransactionID, got %v", err)
	}
	if _, err := r.Create("   ", "select"); !errors.Is(err, ErrInvalidTransactionID) {
		t.Fatalf("expected ErrInvalidTransactionID for whitespace id, got %v", err)
	}
}

func TestCreate_SecondCreateFails(t *testing.T) {
	r := newTestRegistry(time.Second)

	h1, err := r.Create("txn-1", "select")
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// Policy: the second create fails; it does not supersede the first.
	if _, err := r.Create("txn-1", "select"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}

	// The original caller's handle is still live and resolvable.
	if !r.Resolve("txn-1", map[string]any{"ok": true}) {
		t.Fatal("resolve of original entry failed")
	}
	payload, err := h1.Await(context.Background())
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if payload["ok"] != true {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestResolve_DeliversPayload(t *testing.T) {
	r := newTestRegistry(time.Second)
	h, _ := r.Create("txn-1", "confirm")

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Resolve("txn-1", map[string]any{"message": map[string]any{"order": map[string]any{}}})
	}()

	payload, err := h.Await(context.Background())
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if payload["message"] == nil {
		t.Error("expected payload message")
	}
	if r.Has("txn-1") {
		t.Error("entry should be removed after resolve")
	}
}

func TestResolve_UnknownIDIsNoOp(t *testing.T) {
	r := newTestRegistry(time.Second)
	if r.Resolve("nope", nil) {
		t.Error("resolve of unknown id should return false")
	}
}

func TestTimeout(t *testing.T) {
	r := newTestRegistry(50 * time.Millisecond)
	h, _ := r.Create("txn-t", "select")

	_, err := h.Await(context.Background())
	var te *CallbackTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected CallbackTimeoutError, got %v", err)
	}
	if te.TransactionID != "txn-t" || te.Action != "select" {
		t.Errorf("timeout error missing context: %+v", te)
	}

	// A late callback after the timeout is a silent no-op.
	if r.Resolve("txn-t", map[string]any{}) {
		t.Error("late resolve should be a no-op")
	}
	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func TestCancel_PreventsTimeout(t *testing.T) {
	r := newTestRegistry(30 * time.Millisecond)
	h, _ := r.Create("txn-c", "init")

	if !r.Cancel("txn-c") {
		t.Fatal("cancel failed")
	}
	if r.Has("txn-c") {
		t.Error("entry should be gone after cancel")
	}

	// The handle observes the cancellation, not a timeout.
	_, err := h.Await(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	// Let the original timeout window elapse; nothing should fire.
	time.Sleep(60 * time.Millisecond)
	if r.Count() != 0 {
		t.Errorf("expected 0 pending, got %d", r.Count())
	}
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	r := newTestRegistry(time.Second)
	r.Create("txn-x", "status")

	if !r.Resolve("txn-x", map[string]any{"n": 1.0}) {
		t.Fatal("first resolve failed")
	}
	if r.Resolve("txn-x", map[string]any{"n": 2.0}) {
		t.Error("second resolve should be a no-op")
	}
	if r.Cancel("txn-x") {
		t.Error("cancel after resolve should be a no-op")
	}
	if r.Reject("txn-x", errors.New("nope")) {
		t.Error("reject after resolve should be a no-op")
	}
}

func TestCount_TracksLifecycle(t *testing.T) {
	r := newTestRegistry(time.Second)
	for i := 0; i < 5; i++ {
		if _, err := r.Create(fmt.Sprintf("txn-%d", i), "select"); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if r.Count() != 5 {
		t.Fatalf("expected 5 pending, got %d", r.Count())
	}
	r.Resolve("txn-0", nil)
	r.Cancel("txn-1")
	if r.Count() != 3 {
		t.Fatalf("expected 3 pending, got %d", r.Count())
	}
}

func TestAwait_ContextCancelled(t *testing.T) {
	r := newTestRegistry(time.Minute)
	h, _ := r.Create("txn-ctx", "select")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentResolveAndCancel(t *testing.T) {
	r := newTestRegistry(time.Second)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("txn-%d", i)
		if _, err := r.Create(id, "select"); err != nil {
			t.Fatalf("create: %v", err)
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Resolve(id, map[string]any{})
		}()
		go func() {
			defer wg.Done()
			r.Cancel(id)
		}()
	}
	wg.Wait()

	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func TestReject_DeliversError(t *testing.T) {
	r := newTestRegistry(time.Second)
	h, _ := r.Create("txn-r", "confirm")

	boom := errors.New("malformed callback")
	r.Reject("txn-r", boom)

	_, err := h.Await(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_BurstThenBlocked(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("client-1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if l.Allow("client-1") {
		t.Error("request above burst should be blocked")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("client-a") {
		t.Error("first request for client-a should be allowed")
	}
	if !l.Allow("client-b") {
		t.Error("client-b must not be affected by client-a")
	}
}

func TestAllow_TokensRefill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	l.Allow("client-1")
	if l.Allow("client-1") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond) // 100 tokens/sec refill
	if !l.Allow("client-1") {
		t.Error("bucket should have refilled")
	}
}

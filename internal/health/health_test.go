package health

import (
	"context"
	"errors"
	"testing"
)

func TestCheckAll_Empty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}

func TestCheckAll_AggregatesFailures(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(context.Context) error { return nil })
	r.Register("ledger", func(context.Context) error {
		return errors.New("connection refused")
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("expected aggregate unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "db" || !statuses[0].Healthy {
		t.Errorf("expected db healthy first, got %+v", statuses[0])
	}
	if statuses[1].Detail != "connection refused" {
		t.Errorf("unexpected detail: %q", statuses[1].Detail)
	}
}

func TestCheckAll_AllHealthy(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"pending", "db"} {
		r.Register(name, func(context.Context) error { return nil })
	}
	healthy, _ := r.CheckAll(context.Background())
	if !healthy {
		t.Error("expected healthy")
	}
}

func TestRegister_ReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(context.Context) error { return errors.New("down") })
	r.Register("db", func(context.Context) error { return nil })

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("replacement checker should win")
	}
	if len(statuses) != 1 {
		t.Errorf("expected a single status, got %d", len(statuses))
	}
}

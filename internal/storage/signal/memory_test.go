// internal/storage/signal/memory_test.go
package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

func TestMemoryStore_SaveAndList(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	e := Entry{
		Symbol:   "BTC",
		Snapshot: core.Snapshot{Symbol: "BTC", Score: 78, SetupType: core.SetupTrending},
		Intents:  []core.Intent{{Symbol: "BTC", Side: core.SideBuy, Size: decimal.NewFromInt(100)}},
		Outcome:  OutcomeExecuted,
		At:       time.Now(),
	}

	saved, err := store.Save(ctx, e)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.ID == "" {
		t.Error("expected an assigned ID")
	}

	entries, err := store.List(ctx, ListFilter{Symbol: "BTC"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestMemoryStore_ListByOutcome(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	store.Save(ctx, Entry{Symbol: "BTC", Outcome: OutcomeExecuted, At: time.Now()})
	store.Save(ctx, Entry{Symbol: "ETH", Outcome: OutcomeHold, At: time.Now()})
	store.Save(ctx, Entry{Symbol: "SOL", Outcome: OutcomeHold, At: time.Now()})

	entries, _ := store.List(ctx, ListFilter{Outcome: OutcomeHold})
	if len(entries) != 2 {
		t.Errorf("expected 2, got %d", len(entries))
	}
	n, _ := store.Count(ctx, ListFilter{Outcome: OutcomeExecuted})
	if n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}
}

func TestMemoryStore_ListByTimeRange(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	now := time.Now()
	store.Save(ctx, Entry{Symbol: "BTC", At: now.Add(-2 * time.Hour)})
	store.Save(ctx, Entry{Symbol: "ETH", At: now})

	entries, _ := store.List(ctx, ListFilter{From: now.Add(-1 * time.Hour)})
	if len(entries) != 1 {
		t.Errorf("expected 1, got %d", len(entries))
	}
}

func TestMemoryStore_OffsetAndLimit(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	for _, s := range []string{"A", "B", "C", "D"} {
		store.Save(ctx, Entry{Symbol: s, At: time.Now()})
	}

	entries, _ := store.List(ctx, ListFilter{Offset: 1, Limit: 2})
	if len(entries) != 2 || entries[0].Symbol != "B" || entries[1].Symbol != "C" {
		t.Errorf("unexpected page: %+v", entries)
	}
	entries, _ = store.List(ctx, ListFilter{Offset: 10})
	if len(entries) != 0 {
		t.Errorf("expected empty page, got %d", len(entries))
	}
}

func TestMemoryStore_MaxSize(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	store.Save(ctx, Entry{Symbol: "A", At: time.Now()})
	store.Save(ctx, Entry{Symbol: "B", At: time.Now()})
	store.Save(ctx, Entry{Symbol: "C", At: time.Now()})

	entries, _ := store.List(ctx, ListFilter{})
	if len(entries) != 2 {
		t.Fatalf("expected 2 (max size), got %d", len(entries))
	}
	if entries[0].Symbol != "B" {
		t.Errorf("oldest entry should be evicted, got %s first", entries[0].Symbol)
	}
}

func TestMemoryStore_GetByID(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	saved, _ := store.Save(ctx, Entry{Symbol: "AAPL", At: time.Now()})

	retrieved, err := store.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if retrieved.Symbol != "AAPL" {
		t.Errorf("wrong symbol: %s", retrieved.Symbol)
	}

	_, err = store.GetByID(ctx, "dec_missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

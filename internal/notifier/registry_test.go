package notifier

import (
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

type mockNotifier struct {
	name       string
	sent       []Notification
	batchCalls int
	shouldFail bool
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Init(cfg Config) error { return nil }

func (m *mockNotifier) Send(n Notification) error {
	m.sent = append(m.sent, n)
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}

func (m *mockNotifier) SendBatch(ns []Notification) error {
	m.batchCalls++
	if m.shouldFail {
		return errors.New("batch send failed")
	}
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	if err := r.Register(mock); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Duplicate registration should fail
	if err := r.Register(mock); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 notifier, got %d", r.Len())
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockNotifier{name: "test"})

	n, err := r.Get("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Name() != "test" {
		t.Errorf("expected 'test', got '%s'", n.Name())
	}

	if _, err = r.Get("nonexistent"); err == nil {
		t.Error("expected error for non-existent notifier")
	}
}

func TestRegistry_GetAllSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockNotifier{name: "webhook"})
	r.Register(&mockNotifier{name: "email"})

	all := r.GetAll()
	if len(all) != 2 || all[0].Name() != "email" {
		t.Errorf("expected sorted notifiers, got %v", all)
	}
}

func TestRegistry_NotifyAll_WithFailure(t *testing.T) {
	r := NewRegistry()

	ok := &mockNotifier{name: "n1"}
	bad := &mockNotifier{name: "n2", shouldFail: true}
	r.Register(ok)
	r.Register(bad)

	n := ForIntent(core.Buy("BTC", decimal.NewFromInt(100), "score 78"), core.Snapshot{Symbol: "BTC", Score: 78}, true, time.Now())
	errs := r.NotifyAll(n)

	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %d", len(errs))
	}
	if _, found := errs["n2"]; !found {
		t.Error("expected error from n2")
	}
	if len(ok.sent) != 1 || ok.sent[0].Symbol != "BTC" {
		t.Errorf("n1 should still receive the notification")
	}
}

func TestRegistry_NotifyAllBatch(t *testing.T) {
	r := NewRegistry()
	mock := &mockNotifier{name: "batch"}
	r.Register(mock)

	errs := r.NotifyAllBatch([]Notification{
		ForAlert("BTC", "confluence above 70", 72, 64000, time.Now()),
		ForAlert("ETH", "rsi below 30", 40, 3100, time.Now()),
	})
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if mock.batchCalls != 1 {
		t.Errorf("expected batchCalls = 1, got %d", mock.batchCalls)
	}
}

func TestNotification_Title(t *testing.T) {
	n := ForIntent(core.Sell("ETH", decimal.NewFromInt(3), ""), core.Snapshot{}, true, time.Now())
	if got := n.Title(); got != "sell 3 ETH (advisory)" {
		t.Errorf("unexpected title %q", got)
	}
	n = ForIntent(core.Buy("ETH", decimal.RequireFromString("0.5"), ""), core.Snapshot{}, false, time.Now())
	if got := n.Title(); got != "buy 0.5 ETH" {
		t.Errorf("unexpected title %q", got)
	}
	if got := ForAlert("SOL", "", 0, 0, time.Now()).Title(); got != "Alert: SOL" {
		t.Errorf("unexpected title %q", got)
	}
	if got := ForHealth("quota_low", "quota nearly spent", time.Now()).Title(); got != "Health: quota_low" {
		t.Errorf("unexpected title %q", got)
	}
}

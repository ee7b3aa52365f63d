package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSnapshot_IsValid(t *testing.T) {
	s := Snapshot{Symbol: "BTC", Score: 78, SetupType: SetupTrending}
	if !s.IsValid() {
		t.Error("expected valid snapshot")
	}

	invalid := Snapshot{Symbol: "", Score: 50}
	if invalid.IsValid() {
		t.Error("expected invalid snapshot")
	}

	outOfRange := Snapshot{Symbol: "ETH", Score: 140}
	if outOfRange.IsValid() {
		t.Error("score above 100 should be invalid")
	}
}

func TestSnapshot_SameSignal(t *testing.T) {
	a := Snapshot{Symbol: "BTC", Score: 78, SetupType: SetupTrending, Price: 60000,
		Source: "stream", ReceivedAt: time.Unix(100, 0), Raw: map[string]any{"score": 78.0}}
	b := a
	b.Source = "poll"
	b.ReceivedAt = time.Unix(200, 0)
	b.Raw = map[string]any{"score": 78.0}
	if !a.SameSignal(b) {
		t.Error("receipt time and source should not distinguish signals")
	}

	b.Score = 79
	if a.SameSignal(b) {
		t.Error("different score should not match")
	}

	c := a
	c.Raw = map[string]any{"score": 78.0, "regime": "volatile"}
	if a.SameSignal(c) {
		t.Error("different payload should not match")
	}
}

func TestSnapshot_Age(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Snapshot{Symbol: "BTC", ReceivedAt: now.Add(-5 * time.Minute)}
	if s.Age(now) != 5*time.Minute {
		t.Errorf("unexpected age %v", s.Age(now))
	}

	var empty Snapshot
	if empty.Age(now) < 24*time.Hour {
		t.Error("zero snapshot should be treated as stale")
	}
}

func TestIntent_Signed(t *testing.T) {
	b := Buy("BTC", decimal.NewFromInt(100), "")
	if !b.Signed().Equal(decimal.NewFromInt(100)) {
		t.Errorf("buy signed = %s", b.Signed())
	}
	s := Sell("BTC", decimal.NewFromInt(40), "")
	if !s.Signed().Equal(decimal.NewFromInt(-40)) {
		t.Errorf("sell signed = %s", s.Signed())
	}
}

func TestPosition_Flags(t *testing.T) {
	var p Position
	if !p.IsFlat() {
		t.Error("zero position should be flat")
	}
	p.Size = decimal.NewFromInt(3)
	if !p.IsLong() || p.IsFlat() {
		t.Error("positive size should be long")
	}
}

package momentum

import (
	"testing"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/strategy"
	"github.com/shopspring/decimal"
)

func TestMomentum_ImplementsStrategy(t *testing.T) {
	var _ strategy.Strategy = (*Momentum)(nil)
}

func TestMomentum_Name(t *testing.T) {
	s := Default()
	if s.Name() != "momentum" {
		t.Errorf("expected 'momentum', got '%s'", s.Name())
	}
}

func TestMomentum_EntersTrending(t *testing.T) {
	s := New(decimal.NewFromInt(100), 75, 40)

	intents := s.Decide("BTC", core.Snapshot{Symbol: "BTC", Score: 78, SetupType: "trending"}, core.Position{Symbol: "BTC"})
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if intents[0].Side != core.SideBuy || !intents[0].Size.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected buy 100, got %s %s", intents[0].Side, intents[0].Size)
	}
}

func TestMomentum_Holds(t *testing.T) {
	s := New(decimal.NewFromInt(100), 75, 40)
	long := core.Position{Symbol: "BTC", Size: decimal.NewFromInt(100)}

	tests := []struct {
		name string
		snap core.Snapshot
		pos  core.Position
	}{
		{"high score but random setup", core.Snapshot{Score: 90, SetupType: "random"}, core.Position{}},
		{"at threshold", core.Snapshot{Score: 75, SetupType: "trending"}, core.Position{}},
		{"already long", core.Snapshot{Score: 90, SetupType: "trending"}, long},
		{"long with middling score", core.Snapshot{Score: 55, SetupType: "trending"}, long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Decide("BTC", tt.snap, tt.pos); len(got) != 0 {
				t.Errorf("expected no intents, got %v", got)
			}
		})
	}
}

func TestMomentum_Exits(t *testing.T) {
	s := New(decimal.NewFromInt(100), 75, 40)
	long := core.Position{Symbol: "BTC", Size: decimal.NewFromInt(60)}

	for _, snap := range []core.Snapshot{
		{Score: 35, SetupType: "trending"},
		{Score: 60, SetupType: "mean_reverting"},
	} {
		intents := s.Decide("BTC", snap, long)
		if len(intents) != 1 {
			t.Fatalf("expected exit for %+v", snap)
		}
		if intents[0].Side != core.SideSell || !intents[0].Size.Equal(long.Size) {
			t.Errorf("expected sell of whole position, got %s %s", intents[0].Side, intents[0].Size)
		}
	}
}

func TestMomentum_Init(t *testing.T) {
	s := Default()
	err := s.Init(strategy.Config{Params: map[string]any{
		"size":       "2.5",
		"buy_score":  80,
		"exit_score": 30.0,
	}})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !s.size.Equal(decimal.RequireFromString("2.5")) || s.buyScore != 80 || s.exitScore != 30 {
		t.Errorf("params not applied: %+v", s)
	}

	if err := s.Init(strategy.Config{Params: map[string]any{"exit_score": 90}}); err == nil {
		t.Error("expected error when exit_score >= buy_score")
	}
	if err := s.Init(strategy.Config{Params: map[string]any{"size": 0}}); err == nil {
		t.Error("expected error for zero size")
	}
}

package backtest

import (
	"math"
	"testing"

	"github.com/newthinker/tinkclaw/internal/gateway"
)

func TestTrade_IsWin(t *testing.T) {
	tests := []struct {
		name  string
		trade Trade
		want  bool
	}{
		{"positive return", Trade{Return: 0.05}, true},
		{"negative return", Trade{Return: -0.02}, false},
		{"zero return", Trade{Return: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trade.IsWin(); got != tt.want {
				t.Errorf("IsWin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrade_IsClosed(t *testing.T) {
	if (Trade{EntryDate: "2026-01-02"}).IsClosed() {
		t.Error("open trade should not be closed")
	}
	if !(Trade{EntryDate: "2026-01-02", ExitDate: "2026-01-09"}).IsClosed() {
		t.Error("closed trade should be closed")
	}
}

func TestTradeFrom(t *testing.T) {
	tests := []struct {
		name string
		in   gateway.BacktestTrade
		want float64
	}{
		{"percent reported", gateway.BacktestTrade{Side: "LONG", EntryPrice: 100, ExitPrice: 110, ReturnPct: 10}, 0.10},
		{"derived long", gateway.BacktestTrade{Side: "long", EntryPrice: 100, ExitPrice: 95}, -0.05},
		{"derived short", gateway.BacktestTrade{Side: "short", EntryPrice: 100, ExitPrice: 95}, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tradeFrom(tt.in)
			if math.Abs(got.Return-tt.want) > 1e-9 {
				t.Errorf("Return = %f, want %f", got.Return, tt.want)
			}
		})
	}

	if tradeFrom(gateway.BacktestTrade{}).Side != "long" {
		t.Error("expected default side long")
	}
}

func TestValidStrategy(t *testing.T) {
	for _, s := range Strategies {
		if !ValidStrategy(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if ValidStrategy("ma_crossover") {
		t.Error("unknown strategy should be invalid")
	}
}

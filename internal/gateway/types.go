package gateway

import (
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
)

// Payload is an endpoint response passed through without a fixed schema.
type Payload map[string]any

// Signal is one entry of the signals endpoints.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price"`
	Score      float64 `json:"score,omitempty"`
	Regime     string  `json:"regime,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

// Confluence is the composite score for one symbol.
type Confluence struct {
	Symbol     string         `json:"symbol"`
	Score      float64        `json:"score"`
	Signal     string         `json:"signal"`
	SetupType  string         `json:"setup_type"`
	Regime     string         `json:"regime"`
	Confidence float64        `json:"confidence"`
	Price      float64        `json:"price"`
	Components map[string]any `json:"components,omitempty"`
}

// Snapshot converts the confluence result into the runtime's snapshot.
func (c Confluence) Snapshot(receivedAt time.Time) core.Snapshot {
	return core.Snapshot{
		Symbol:     c.Symbol,
		Score:      c.Score,
		Signal:     c.Signal,
		SetupType:  c.SetupType,
		Regime:     c.Regime,
		Confidence: c.Confidence,
		Price:      c.Price,
		Source:     "poll",
		ReceivedAt: receivedAt,
		Raw:        c.Components,
	}
}

// BacktestTrade is one round trip reported by a server-side backtest.
type BacktestTrade struct {
	Side       string  `json:"side"`
	EntryDate  string  `json:"entry_date"`
	ExitDate   string  `json:"exit_date"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
	ReturnPct  float64 `json:"return_pct"`
}

// EquityPoint is one sample of a backtest equity curve.
type EquityPoint struct {
	Date   string  `json:"date"`
	Equity float64 `json:"equity"`
}

// BacktestResult is the response of the backtest endpoint.
type BacktestResult struct {
	Symbol      string          `json:"symbol"`
	Strategy    string          `json:"strategy"`
	Days        int             `json:"days"`
	TotalReturn float64         `json:"total_return"`
	WinRate     float64         `json:"win_rate"`
	SharpeRatio float64         `json:"sharpe_ratio"`
	MaxDrawdown float64         `json:"max_drawdown"`
	Trades      []BacktestTrade `json:"trades"`
	EquityCurve []EquityPoint   `json:"equity_curve"`
}

// Webhook is the service's representation of a subscription.
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Symbol    string    `json:"symbol"`
	Condition string    `json:"condition"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage is the service-side usage report.
type Usage struct {
	Tier       string `json:"tier"`
	CallsToday int    `json:"calls_today"`
	DailyLimit int    `json:"daily_limit"`
	Remaining  int    `json:"remaining"`
	ResetAt    string `json:"reset_at,omitempty"`
}

// KeyInfo is the service-side key metadata.
type KeyInfo struct {
	Key       string `json:"key"`
	Tier      string `json:"tier"`
	CreatedAt string `json:"created_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Health is the unauthenticated health report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

package core

import (
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Setup types reported by the confluence endpoint.
const (
	SetupTrending      = "trending"
	SetupMeanReverting = "mean_reverting"
	SetupRandom        = "random"
)

// Snapshot is the latest confluence/signal view of one symbol.
type Snapshot struct {
	Symbol     string         `json:"symbol"`
	Score      float64        `json:"score"`
	Signal     string         `json:"signal"`
	SetupType  string         `json:"setup_type"`
	Regime     string         `json:"regime"`
	Confidence float64        `json:"confidence"`
	Price      float64        `json:"price"`
	Source     string         `json:"source"`
	ReceivedAt time.Time      `json:"received_at"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// IsValid checks if the snapshot has required fields
func (s Snapshot) IsValid() bool {
	return s.Symbol != "" && s.Score >= 0 && s.Score <= 100
}

// SameSignal reports whether o carries the same signal content as s.
// Receipt time and source are ignored, so a redelivered event matches.
func (s Snapshot) SameSignal(o Snapshot) bool {
	return s.Symbol == o.Symbol &&
		s.Score == o.Score &&
		s.Signal == o.Signal &&
		s.SetupType == o.SetupType &&
		s.Regime == o.Regime &&
		s.Confidence == o.Confidence &&
		s.Price == o.Price &&
		reflect.DeepEqual(s.Raw, o.Raw)
}

// Age returns how old the snapshot is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.ReceivedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.ReceivedAt)
}

// Side is the direction of an intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Intent is a buy/sell instruction produced by strategy logic, not yet
// confirmed by a broker.
type Intent struct {
	Symbol string
	Side   Side
	Size   decimal.Decimal
	Reason string
}

// Buy returns a buy intent.
func Buy(symbol string, size decimal.Decimal, reason string) Intent {
	return Intent{Symbol: symbol, Side: SideBuy, Size: size, Reason: reason}
}

// Sell returns a sell intent.
func Sell(symbol string, size decimal.Decimal, reason string) Intent {
	return Intent{Symbol: symbol, Side: SideSell, Size: size, Reason: reason}
}

// Signed returns the size with sign applied (positive for buys).
func (i Intent) Signed() decimal.Decimal {
	if i.Side == SideSell {
		return i.Size.Neg()
	}
	return i.Size
}

// Position is the acknowledged holding in one symbol. Size is signed:
// positive long, negative short, zero flat.
type Position struct {
	Symbol    string          `json:"symbol"`
	Size      decimal.Decimal `json:"size"`
	AvgEntry  decimal.Decimal `json:"avg_entry"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsFlat reports whether the position holds nothing.
func (p Position) IsFlat() bool {
	return p.Size.IsZero()
}

// IsLong reports whether the position is long.
func (p Position) IsLong() bool {
	return p.Size.IsPositive()
}

// AccountSnapshot summarizes a brokerage account.
type AccountSnapshot struct {
	ID          string          `json:"id"`
	Currency    string          `json:"currency"`
	Cash        decimal.Decimal `json:"cash"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Status      string          `json:"status"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

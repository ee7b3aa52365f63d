// Package broker defines the execution capability the strategy runtime
// dispatches intents to, plus the position ledger and risk checks around it.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

// OrderStatus is the broker-reported state of an acknowledged order.
type OrderStatus string

const (
	// OrderStatusAccepted means the broker took the order; the fill may follow.
	OrderStatusAccepted OrderStatus = "accepted"
	// OrderStatusFilled means the order filled completely.
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusPartial means part of the order filled.
	OrderStatusPartial OrderStatus = "partially_filled"
)

// Ack is a broker's acknowledgement of a buy or sell.
type Ack struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          core.Side       `json:"side"`
	Size          decimal.Decimal `json:"size"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	Status        OrderStatus     `json:"status"`
	At            time.Time       `json:"at"`
}

// Executed returns the size the ledger should apply. Market orders that are
// accepted but not yet reported filled count at their full size.
func (a Ack) Executed() decimal.Decimal {
	if a.FilledSize.IsPositive() {
		return a.FilledSize
	}
	return a.Size
}

// Order is an order as reported by a broker listing. State is the broker's
// own status text, which is finer grained than Status.
type Order struct {
	Ack
	State string `json:"state"`
}

// Order listing filters.
const (
	OrdersOpen   = "open"
	OrdersClosed = "closed"
	OrdersAll    = "all"
)

// OrderLister is implemented by adapters that can list their orders.
type OrderLister interface {
	Orders(ctx context.Context, status string) ([]Order, error)
}

// Adapter is the capability set the runtime needs from a brokerage.
type Adapter interface {
	// Name returns the broker identifier (e.g., "paper", "alpaca").
	Name() string

	Buy(ctx context.Context, symbol string, size decimal.Decimal) (Ack, error)
	Sell(ctx context.Context, symbol string, size decimal.Decimal) (Ack, error)

	// GetPosition returns NotFound for a symbol the broker does not hold.
	GetPosition(ctx context.Context, symbol string) (core.Position, error)
	GetAccount(ctx context.Context) (core.AccountSnapshot, error)
}

// ValidateIntent checks an intent before it reaches a broker.
func ValidateIntent(in core.Intent) error {
	if in.Symbol == "" {
		return core.WrapError(core.ErrRejected, fmt.Errorf("intent symbol is empty"))
	}
	if !in.Size.IsPositive() {
		return core.WrapError(core.ErrRejected, fmt.Errorf("intent size %s must be positive", in.Size))
	}
	if in.Side != core.SideBuy && in.Side != core.SideSell {
		return core.WrapError(core.ErrRejected, fmt.Errorf("unknown side %q", in.Side))
	}
	return nil
}

// Place sends in to a through Buy or Sell.
func Place(ctx context.Context, a Adapter, in core.Intent) (Ack, error) {
	if err := ValidateIntent(in); err != nil {
		return Ack{}, err
	}
	if in.Side == core.SideBuy {
		return a.Buy(ctx, in.Symbol, in.Size)
	}
	return a.Sell(ctx, in.Symbol, in.Size)
}

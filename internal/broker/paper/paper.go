// Package paper provides an in-memory broker that fills every order at a
// settable mark price.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

// Call records one Buy or Sell received by the broker.
type Call struct {
	Side   core.Side
	Symbol string
	Size   decimal.Decimal
}

// Broker implements broker.Adapter without any network.
type Broker struct {
	mu sync.RWMutex

	orderID   int64
	marks     map[string]decimal.Decimal
	positions map[string]core.Position
	cash      decimal.Decimal
	currency  string
	calls     []Call

	failNext    error
	failSymbols map[string]error

	now func() time.Time
}

// New creates a paper broker holding cash.
func New(cash decimal.Decimal) *Broker {
	return &Broker{
		marks:       make(map[string]decimal.Decimal),
		positions:   make(map[string]core.Position),
		failSymbols: make(map[string]error),
		cash:        cash,
		currency:    "USD",
		now:         time.Now,
	}
}

// Name returns the broker identifier.
func (b *Broker) Name() string {
	return "paper"
}

// SetMark sets the fill price for symbol.
func (b *Broker) SetMark(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[symbol] = price
}

// FailNext makes the next Buy or Sell return err.
func (b *Broker) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

// FailSymbol makes every order for symbol return err until cleared with a
// nil err.
func (b *Broker) FailSymbol(symbol string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failSymbols, symbol)
		return
	}
	b.failSymbols[symbol] = err
}

// Calls returns every order received, including failed ones.
func (b *Broker) Calls() []Call {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Call(nil), b.calls...)
}

// Buy fills a buy at the mark.
func (b *Broker) Buy(ctx context.Context, symbol string, size decimal.Decimal) (broker.Ack, error) {
	return b.fill(ctx, core.SideBuy, symbol, size)
}

// Sell fills a sell at the mark. Selling past flat opens a short.
func (b *Broker) Sell(ctx context.Context, symbol string, size decimal.Decimal) (broker.Ack, error) {
	return b.fill(ctx, core.SideSell, symbol, size)
}

func (b *Broker) fill(ctx context.Context, side core.Side, symbol string, size decimal.Decimal) (broker.Ack, error) {
	if err := ctx.Err(); err != nil {
		return broker.Ack{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, Call{Side: side, Symbol: symbol, Size: size})

	if err := b.failNext; err != nil {
		b.failNext = nil
		return broker.Ack{}, err
	}
	if err, ok := b.failSymbols[symbol]; ok {
		return broker.Ack{}, err
	}
	if err := broker.ValidateIntent(core.Intent{Symbol: symbol, Side: side, Size: size}); err != nil {
		return broker.Ack{}, err
	}

	price := b.marks[symbol]
	signed := size
	if side == core.SideSell {
		signed = size.Neg()
	}

	pos := b.positions[symbol]
	pos.Symbol = symbol
	newSize := pos.Size.Add(signed)
	switch {
	case newSize.IsZero():
		pos.AvgEntry = decimal.Zero
	case pos.Size.IsZero() || newSize.Sign() != pos.Size.Sign():
		pos.AvgEntry = price
	case pos.Size.Sign() == signed.Sign() && !price.IsZero():
		pos.AvgEntry = pos.Size.Abs().Mul(pos.AvgEntry).Add(size.Mul(price)).Div(newSize.Abs())
	}
	pos.Size = newSize
	pos.UpdatedAt = b.now()
	if newSize.IsZero() {
		delete(b.positions, symbol)
	} else {
		b.positions[symbol] = pos
	}
	b.cash = b.cash.Sub(signed.Mul(price))

	b.orderID++
	return broker.Ack{
		OrderID:    fmt.Sprintf("PAPER-%d", b.orderID),
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		FilledSize: size,
		FillPrice:  price,
		Status:     broker.OrderStatusFilled,
		At:         pos.UpdatedAt,
	}, nil
}

// GetPosition returns the held position or NotFound.
func (b *Broker) GetPosition(ctx context.Context, symbol string) (core.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return core.Position{}, core.NotFound("position " + symbol)
	}
	return pos, nil
}

// GetAccount values open positions at their marks.
func (b *Broker) GetAccount(ctx context.Context) (core.AccountSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	equity := b.cash
	for sym, pos := range b.positions {
		equity = equity.Add(pos.Size.Mul(b.marks[sym]))
	}
	return core.AccountSnapshot{
		ID:          "paper",
		Currency:    b.currency,
		Cash:        b.cash,
		Equity:      equity,
		BuyingPower: decimal.Max(b.cash, decimal.Zero),
		Status:      "ACTIVE",
		UpdatedAt:   b.now(),
	}, nil
}

var _ broker.Adapter = (*Broker)(nil)

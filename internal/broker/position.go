package broker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

// Ledger holds the acknowledged position per symbol. It only changes when
// a fill is applied, never on intent.
type Ledger struct {
	positions map[string]core.Position
	realized  map[string]decimal.Decimal
	lastSync  time.Time
	now       func() time.Time
	mu        sync.RWMutex
}

// NewLedger creates an empty ledger. now defaults to time.Now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		positions: make(map[string]core.Position),
		realized:  make(map[string]decimal.Decimal),
		now:       now,
	}
}

// Position returns the position for symbol, flat if never traded.
func (l *Ledger) Position(symbol string) core.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if pos, ok := l.positions[symbol]; ok {
		return pos
	}
	return core.Position{Symbol: symbol}
}

// Positions returns all non-flat positions sorted by symbol.
func (l *Ledger) Positions() []core.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]core.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if !pos.IsFlat() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount returns the number of non-flat positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, pos := range l.positions {
		if !pos.IsFlat() {
			n++
		}
	}
	return n
}

// Apply records a fill of size (unsigned) on side at price.
//
// Adding in the direction of the position moves the average entry to the
// size-weighted mean. Reducing keeps the entry and books realized P&L.
// Crossing through zero restarts the entry at price. A zero price leaves
// the entry unchanged.
func (l *Ledger) Apply(symbol string, side core.Side, size, price decimal.Decimal) core.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		pos = core.Position{Symbol: symbol}
	}

	delta := size
	if side == core.SideSell {
		delta = size.Neg()
	}
	oldSize := pos.Size
	newSize := oldSize.Add(delta)

	switch {
	case oldSize.IsZero() || oldSize.Sign() == delta.Sign():
		// opening or adding
		if !price.IsZero() {
			if oldSize.IsZero() || pos.AvgEntry.IsZero() {
				pos.AvgEntry = price
			} else {
				cost := oldSize.Abs().Mul(pos.AvgEntry).Add(size.Mul(price))
				pos.AvgEntry = cost.Div(newSize.Abs())
			}
		}
	default:
		// reducing, closing or flipping
		closed := decimal.Min(size, oldSize.Abs())
		if !price.IsZero() && !pos.AvgEntry.IsZero() {
			pnl := price.Sub(pos.AvgEntry).Mul(closed)
			if oldSize.IsNegative() {
				pnl = pnl.Neg()
			}
			l.realized[symbol] = l.realized[symbol].Add(pnl)
		}
		switch {
		case newSize.IsZero():
			pos.AvgEntry = decimal.Zero
		case newSize.Sign() != oldSize.Sign():
			pos.AvgEntry = price
		}
	}

	pos.Size = newSize
	pos.UpdatedAt = l.now()
	if newSize.IsZero() {
		delete(l.positions, symbol)
		return core.Position{Symbol: symbol, UpdatedAt: pos.UpdatedAt}
	}
	l.positions[symbol] = pos
	return pos
}

// Set overwrites the position for symbol.
func (l *Ledger) Set(pos core.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos.IsFlat() {
		delete(l.positions, pos.Symbol)
		return
	}
	l.positions[pos.Symbol] = pos
}

// Sync replaces the positions of symbols with the broker's view. Symbols
// the broker reports NotFound become flat.
func (l *Ledger) Sync(ctx context.Context, a Adapter, symbols []string) error {
	fetched := make([]core.Position, 0, len(symbols))
	for _, sym := range symbols {
		pos, err := a.GetPosition(ctx, sym)
		if errors.Is(err, core.ErrNotFound) {
			pos = core.Position{Symbol: sym}
		} else if err != nil {
			return err
		}
		pos.Symbol = sym
		fetched = append(fetched, pos)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pos := range fetched {
		if pos.IsFlat() {
			delete(l.positions, pos.Symbol)
			continue
		}
		l.positions[pos.Symbol] = pos
	}
	l.lastSync = l.now()
	return nil
}

// LastSyncTime returns the time of the last successful sync.
func (l *Ledger) LastSyncTime() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSync
}

// RealizedPL returns realized P&L booked for symbol.
func (l *Ledger) RealizedPL(symbol string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized[symbol]
}

// TotalRealizedPL returns realized P&L across all symbols.
func (l *Ledger) TotalRealizedPL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, v := range l.realized {
		total = total.Add(v)
	}
	return total
}

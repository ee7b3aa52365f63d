package broker

import (
	"context"
	"fmt"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

// RiskConfig defines risk management parameters. Zero values disable a
// check.
type RiskConfig struct {
	// MaxPositionSize caps the absolute position size in any one symbol.
	MaxPositionSize decimal.Decimal
	// MaxOpenPositions caps the number of non-flat symbols.
	MaxOpenPositions int
	// MaxPositionPct caps an order's notional as a percentage of account equity.
	MaxPositionPct float64
}

// DefaultRiskConfig returns a RiskConfig with sensible default values.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxOpenPositions: 20,
		MaxPositionPct:   10.0,
	}
}

// RiskCheckResult represents the outcome of a risk check.
type RiskCheckResult struct {
	// Allowed indicates whether the intent is permitted.
	Allowed bool
	// Reason provides explanation when the intent is rejected.
	Reason string
}

// Err returns nil when allowed, otherwise a RISK_REJECTED error.
func (r RiskCheckResult) Err() error {
	if r.Allowed {
		return nil
	}
	return core.WrapError(core.ErrRiskRejected, fmt.Errorf("%s", r.Reason))
}

// RiskChecker validates intents against the ledger and, when an adapter is
// present, the account.
type RiskChecker struct {
	config  RiskConfig
	ledger  *Ledger
	adapter Adapter
}

// NewRiskChecker creates a RiskChecker. adapter may be nil, which skips the
// equity-based check.
func NewRiskChecker(config RiskConfig, ledger *Ledger, adapter Adapter) *RiskChecker {
	return &RiskChecker{
		config:  config,
		ledger:  ledger,
		adapter: adapter,
	}
}

// Check validates an intent at the given mark price.
func (r *RiskChecker) Check(ctx context.Context, in core.Intent, price decimal.Decimal) RiskCheckResult {
	pos := r.ledger.Position(in.Symbol)
	next := pos.Size.Add(in.Signed())

	// Only checks that grow exposure can reject; reductions always pass.
	growing := next.Abs().GreaterThan(pos.Size.Abs())
	if !growing {
		return RiskCheckResult{Allowed: true}
	}

	if r.config.MaxPositionSize.IsPositive() && next.Abs().GreaterThan(r.config.MaxPositionSize) {
		return RiskCheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("position size too large: %s > %s", next.Abs(), r.config.MaxPositionSize),
		}
	}

	if r.config.MaxOpenPositions > 0 && pos.IsFlat() {
		if open := r.ledger.OpenCount(); open >= r.config.MaxOpenPositions {
			return RiskCheckResult{
				Allowed: false,
				Reason:  fmt.Sprintf("max open positions reached: %d >= %d", open, r.config.MaxOpenPositions),
			}
		}
	}

	if r.config.MaxPositionPct > 0 && r.adapter != nil && price.IsPositive() {
		account, err := r.adapter.GetAccount(ctx)
		if err != nil {
			return RiskCheckResult{
				Allowed: false,
				Reason:  fmt.Sprintf("failed to get account: %v", err),
			}
		}
		if account.Equity.IsPositive() {
			notional := in.Size.Mul(price)
			pct, _ := notional.Div(account.Equity).Mul(decimal.NewFromInt(100)).Float64()
			if pct > r.config.MaxPositionPct {
				return RiskCheckResult{
					Allowed: false,
					Reason:  fmt.Sprintf("position size too large: %.2f%% > %.2f%%", pct, r.config.MaxPositionPct),
				}
			}
		}
	}

	return RiskCheckResult{Allowed: true}
}

package broker_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/broker/paper"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

func TestDefaultRiskConfig(t *testing.T) {
	cfg := broker.DefaultRiskConfig()
	if cfg.MaxOpenPositions != 20 || cfg.MaxPositionPct != 10.0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.MaxPositionSize.IsZero() {
		t.Errorf("position size cap should be off by default")
	}
}

func TestRiskChecker_MaxPositionSize(t *testing.T) {
	l := broker.NewLedger(fixedNow)
	rc := broker.NewRiskChecker(broker.RiskConfig{MaxPositionSize: dec("100")}, l, nil)
	ctx := context.Background()

	if r := rc.Check(ctx, core.Buy("BTC", dec("100"), ""), decimal.Zero); !r.Allowed {
		t.Errorf("expected 100 to be allowed: %s", r.Reason)
	}
	l.Apply("BTC", core.SideBuy, dec("100"), dec("1"))

	r := rc.Check(ctx, core.Buy("BTC", dec("1"), ""), decimal.Zero)
	if r.Allowed {
		t.Fatal("expected size cap rejection")
	}
	if !strings.Contains(r.Reason, "position size too large") {
		t.Errorf("unexpected reason %q", r.Reason)
	}
	if !errors.Is(r.Err(), core.ErrRiskRejected) {
		t.Errorf("expected RISK_REJECTED, got %v", r.Err())
	}

	// reductions always pass
	if r := rc.Check(ctx, core.Sell("BTC", dec("100"), ""), decimal.Zero); !r.Allowed {
		t.Errorf("expected exit to be allowed: %s", r.Reason)
	}
}

func TestRiskChecker_MaxOpenPositions(t *testing.T) {
	l := broker.NewLedger(fixedNow)
	rc := broker.NewRiskChecker(broker.RiskConfig{MaxOpenPositions: 2}, l, nil)
	ctx := context.Background()

	l.Apply("A", core.SideBuy, dec("1"), dec("1"))
	l.Apply("B", core.SideBuy, dec("1"), dec("1"))

	if r := rc.Check(ctx, core.Buy("C", dec("1"), ""), decimal.Zero); r.Allowed {
		t.Error("expected third position to be rejected")
	}
	if r := rc.Check(ctx, core.Buy("A", dec("1"), ""), decimal.Zero); !r.Allowed {
		t.Errorf("adding to an open position is allowed: %s", r.Reason)
	}
}

func TestRiskChecker_MaxPositionPct(t *testing.T) {
	pb := paper.New(dec("10000"))
	l := broker.NewLedger(fixedNow)
	rc := broker.NewRiskChecker(broker.RiskConfig{MaxPositionPct: 10}, l, pb)
	ctx := context.Background()

	// 5 * 100 = 500 = 5% of equity
	if r := rc.Check(ctx, core.Buy("AAPL", dec("5"), ""), dec("100")); !r.Allowed {
		t.Errorf("expected 5%% order to be allowed: %s", r.Reason)
	}
	// 20 * 100 = 2000 = 20%
	if r := rc.Check(ctx, core.Buy("AAPL", dec("20"), ""), dec("100")); r.Allowed {
		t.Error("expected 20% order to be rejected")
	}
	// no price, no notional check
	if r := rc.Check(ctx, core.Buy("AAPL", dec("20"), ""), decimal.Zero); !r.Allowed {
		t.Errorf("expected unknown price to skip notional check: %s", r.Reason)
	}
}

package momentum

import (
	"fmt"
	"strings"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/strategy"
	"github.com/shopspring/decimal"
)

// Momentum enters when the confluence score is high in a trending setup
// and exits when the score fades or the setup turns mean-reverting.
type Momentum struct {
	size      decimal.Decimal
	buyScore  float64
	exitScore float64
}

// New creates a momentum strategy with the given entry size and thresholds.
func New(size decimal.Decimal, buyScore, exitScore float64) *Momentum {
	return &Momentum{
		size:      size,
		buyScore:  buyScore,
		exitScore: exitScore,
	}
}

// Default returns the strategy with entry 75, exit 40 and size 1.
func Default() *Momentum {
	return New(decimal.NewFromInt(1), 75, 40)
}

func (m *Momentum) Name() string {
	return "momentum"
}

func (m *Momentum) Description() string {
	return fmt.Sprintf("Momentum (buy > %.0f trending, exit < %.0f)", m.buyScore, m.exitScore)
}

func (m *Momentum) Init(cfg strategy.Config) error {
	size, err := cfg.Decimal("size", m.size)
	if err != nil {
		return err
	}
	buy, err := cfg.Float("buy_score", m.buyScore)
	if err != nil {
		return err
	}
	exit, err := cfg.Float("exit_score", m.exitScore)
	if err != nil {
		return err
	}
	if !size.IsPositive() {
		return fmt.Errorf("size must be positive, got %s", size)
	}
	if exit >= buy {
		return fmt.Errorf("exit_score %.1f must be below buy_score %.1f", exit, buy)
	}
	m.size, m.buyScore, m.exitScore = size, buy, exit
	return nil
}

func (m *Momentum) Decide(symbol string, snap core.Snapshot, pos core.Position) []core.Intent {
	setup := strings.ToLower(snap.SetupType)

	if pos.IsFlat() {
		if snap.Score > m.buyScore && setup == core.SetupTrending {
			return []core.Intent{core.Buy(symbol, m.size,
				fmt.Sprintf("score %.1f above %.0f in trending setup", snap.Score, m.buyScore))}
		}
		return nil
	}

	if !pos.IsLong() {
		return nil
	}
	switch {
	case snap.Score < m.exitScore:
		return []core.Intent{core.Sell(symbol, pos.Size,
			fmt.Sprintf("score %.1f below %.0f", snap.Score, m.exitScore))}
	case setup == core.SetupMeanReverting:
		return []core.Intent{core.Sell(symbol, pos.Size, "setup turned mean-reverting")}
	}
	return nil
}

package signal_follow

import (
	"fmt"
	"strings"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/strategy"
	"github.com/shopspring/decimal"
)

// SignalFollow holds a fixed-size position in the direction of the
// service's BUY/SELL signal once its confidence clears a floor.
type SignalFollow struct {
	size          decimal.Decimal
	minConfidence float64
}

// New creates a signal-following strategy.
func New(size decimal.Decimal, minConfidence float64) *SignalFollow {
	return &SignalFollow{size: size, minConfidence: minConfidence}
}

func (s *SignalFollow) Name() string {
	return "signal_follow"
}

func (s *SignalFollow) Description() string {
	return fmt.Sprintf("Follow service signals (confidence >= %.0f)", s.minConfidence)
}

func (s *SignalFollow) Init(cfg strategy.Config) error {
	size, err := cfg.Decimal("size", s.size)
	if err != nil {
		return err
	}
	conf, err := cfg.Float("min_confidence", s.minConfidence)
	if err != nil {
		return err
	}
	if !size.IsPositive() {
		return fmt.Errorf("size must be positive, got %s", size)
	}
	s.size, s.minConfidence = size, conf
	return nil
}

// Decide moves the position toward +size on BUY and -size on SELL.
func (s *SignalFollow) Decide(symbol string, snap core.Snapshot, pos core.Position) []core.Intent {
	if snap.Confidence < s.minConfidence {
		return nil
	}

	var target decimal.Decimal
	switch strings.ToUpper(snap.Signal) {
	case "BUY", "STRONG_BUY":
		target = s.size
	case "SELL", "STRONG_SELL":
		target = s.size.Neg()
	default:
		return nil
	}

	delta := target.Sub(pos.Size)
	reason := fmt.Sprintf("%s signal at confidence %.0f", strings.ToUpper(snap.Signal), snap.Confidence)
	switch delta.Sign() {
	case 1:
		return []core.Intent{core.Buy(symbol, delta, reason)}
	case -1:
		return []core.Intent{core.Sell(symbol, delta.Neg(), reason)}
	}
	return nil
}

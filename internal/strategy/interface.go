package strategy

import (
	"fmt"
	"strconv"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

// Config holds strategy configuration
type Config struct {
	Enabled bool
	Params  map[string]any
}

// DecideFunc is user decision logic. It receives the latest snapshot and
// the acknowledged position for symbol and returns zero or more intents.
// An intent with an empty Symbol applies to symbol.
type DecideFunc func(symbol string, snap core.Snapshot, pos core.Position) []core.Intent

// Strategy is a named, configurable rule.
type Strategy interface {
	Name() string
	Description() string
	Init(cfg Config) error
	Decide(symbol string, snap core.Snapshot, pos core.Position) []core.Intent
}

// Func adapts a Strategy to a DecideFunc.
func Func(s Strategy) DecideFunc {
	return s.Decide
}

// Float reads a numeric param. Config files decode numbers as int or
// float64 depending on their literal form.
func (c Config) Float(key string, def float64) (float64, error) {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

// Decimal reads a decimal param.
func (c Config) Decimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("param %s: %w", key, err)
		}
		return d, nil
	}
	f, err := c.Float(key, 0)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(f), nil
}

// String reads a string param.
func (c Config) String(key, def string) string {
	if s, ok := c.Params[key].(string); ok && s != "" {
		return s
	}
	return def
}

package alert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
)

// Figures the runtime reports to the evaluator.
const (
	QuotaRemaining    = "quota_remaining"
	QuotaRemainingPct = "quota_remaining_pct"
	ReconnectAttempt  = "stream_reconnect_attempt"
	PendingIntents    = "pending_intents"
	OpenPositions     = "open_positions"
	GraceActive       = "grace_active"
	SymbolErrors      = "symbol_errors"
)

// Rule defines an operational alert, e.g. "quota_remaining_pct < 10".
type Rule struct {
	Name     string        `mapstructure:"name"`
	Expr     string        `mapstructure:"expr"`
	For      time.Duration `mapstructure:"for"`
	Severity string        `mapstructure:"severity"`
	Message  string        `mapstructure:"message"`
}

var exprPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)$`)

type condition struct {
	figure    string
	op        string
	threshold float64
}

func (r Rule) parse() (condition, error) {
	m := exprPattern.FindStringSubmatch(strings.TrimSpace(r.Expr))
	if len(m) != 4 {
		return condition{}, fmt.Errorf("rule %q: expression %q is not \"figure op value\"", r.Name, r.Expr)
	}
	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return condition{}, fmt.Errorf("rule %q: threshold: %w", r.Name, err)
	}
	return condition{figure: m[1], op: m[2], threshold: v}, nil
}

// Validate checks the rule can be evaluated.
func (r Rule) Validate() error {
	if r.Name == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("alert rule name is empty"))
	}
	if _, err := r.parse(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	return nil
}

// Evaluate reports whether the rule holds for figures. A figure that is
// absent never triggers.
func (r Rule) Evaluate(figures map[string]float64) bool {
	c, err := r.parse()
	if err != nil {
		return false
	}
	value, ok := figures[c.figure]
	if !ok {
		return false
	}

	switch c.op {
	case ">":
		return value > c.threshold
	case "<":
		return value < c.threshold
	case ">=":
		return value >= c.threshold
	case "<=":
		return value <= c.threshold
	case "==":
		return value == c.threshold
	case "!=":
		return value != c.threshold
	}
	return false
}

// FormatMessage renders the alert text with the figure's current value.
func (r Rule) FormatMessage(figures map[string]float64) string {
	msg := r.Message
	if msg == "" {
		msg = r.Expr
	}
	severity := r.Severity
	if severity == "" {
		severity = "warning"
	}
	out := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(severity), r.Name, msg)
	if c, err := r.parse(); err == nil {
		if v, ok := figures[c.figure]; ok {
			out += fmt.Sprintf(" (%s=%s)", c.figure, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return out
}

// DefaultRules cover quota exhaustion and a flapping stream.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "quota_low", Expr: QuotaRemainingPct + " < 10", Severity: "warning", Message: "daily quota nearly spent"},
		{Name: "stream_reconnecting", Expr: ReconnectAttempt + " >= 5", For: 5 * time.Minute, Severity: "critical", Message: "stream keeps failing to reconnect"},
	}
}

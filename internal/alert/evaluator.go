// Package alert raises operational alerts when runtime figures such as
// the remaining quota cross configured thresholds.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/notifier"
	"go.uber.org/zap"
)

// Sink delivers fired alerts. notifier.Registry satisfies it.
type Sink interface {
	NotifyAll(n notifier.Notification) map[string]error
	NotifyAllBatch(ns []notifier.Notification) map[string]error
}

// Evaluator evaluates alert rules and sends notifications.
type Evaluator struct {
	rules    []Rule
	sink     Sink
	clk      clock.Clock
	logger   *zap.Logger
	cooldown time.Duration

	mu sync.Mutex
	// rule name -> first time the condition held
	pending map[string]time.Time
	// rule name -> last time it fired
	lastFired map[string]time.Time
}

// NewEvaluator creates an evaluator. Rules are assumed valid.
func NewEvaluator(rules []Rule, sink Sink, clk clock.Clock, logger *zap.Logger) *Evaluator {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		rules:     rules,
		sink:      sink,
		clk:       clk,
		logger:    logger,
		cooldown:  30 * time.Minute,
		pending:   make(map[string]time.Time),
		lastFired: make(map[string]time.Time),
	}
}

// SetCooldown sets the minimum gap between two firings of one rule.
func (e *Evaluator) SetCooldown(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown = d
}

// Evaluate checks one rule and fires it when its condition has held for
// rule.For and the rule is out of cooldown. It reports whether it fired.
func (e *Evaluator) Evaluate(rule Rule, figures map[string]float64) bool {
	n, ok := e.check(rule, figures)
	if ok {
		e.deliver([]notifier.Notification{n})
	}
	return ok
}

// EvaluateAll evaluates every rule and returns the names that fired.
// Rules firing in the same pass are delivered as one batch.
func (e *Evaluator) EvaluateAll(figures map[string]float64) []string {
	var (
		fired []string
		batch []notifier.Notification
	)
	for _, rule := range e.rules {
		if n, ok := e.check(rule, figures); ok {
			fired = append(fired, rule.Name)
			batch = append(batch, n)
		}
	}
	e.deliver(batch)
	return fired
}

func (e *Evaluator) check(rule Rule, figures map[string]float64) (notifier.Notification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clk.Now()

	if !rule.Evaluate(figures) {
		delete(e.pending, rule.Name)
		return notifier.Notification{}, false
	}

	if rule.For > 0 {
		since, ok := e.pending[rule.Name]
		if !ok {
			e.pending[rule.Name] = now
			return notifier.Notification{}, false
		}
		if now.Sub(since) < rule.For {
			return notifier.Notification{}, false
		}
	}

	if last, ok := e.lastFired[rule.Name]; ok && now.Sub(last) < e.cooldown {
		return notifier.Notification{}, false
	}
	e.lastFired[rule.Name] = now
	delete(e.pending, rule.Name)

	msg := rule.FormatMessage(figures)
	e.logger.Warn("alert fired", zap.String("rule", rule.Name), zap.String("message", msg))
	return notifier.ForHealth(rule.Name, msg, now), true
}

func (e *Evaluator) deliver(ns []notifier.Notification) {
	if e.sink == nil || len(ns) == 0 {
		return
	}
	var errs map[string]error
	if len(ns) == 1 {
		errs = e.sink.NotifyAll(ns[0])
	} else {
		errs = e.sink.NotifyAllBatch(ns)
	}
	for name, err := range errs {
		e.logger.Error("alert delivery failed",
			zap.String("notifier", name),
			zap.Int("alerts", len(ns)),
			zap.Error(err),
		)
	}
}

// Run samples figures every interval until ctx is done.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration, figures func() map[string]float64) {
	if len(e.rules) == 0 || interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clk.After(interval):
			e.EvaluateAll(figures())
		}
	}
}

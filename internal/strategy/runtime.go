package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/metrics"
	"github.com/newthinker/tinkclaw/internal/notifier"
	"github.com/newthinker/tinkclaw/internal/snapshot"
	"github.com/newthinker/tinkclaw/internal/storage/signal"
	"github.com/newthinker/tinkclaw/internal/stream"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options configures a Runtime.
type Options struct {
	Symbols  []string
	Decide   DecideFunc
	Source   snapshot.Source
	Executor *broker.Executor
	Clock    clock.Clock
	Journal  signal.Store
	Notifier *notifier.Registry
	Logger   *zap.Logger
	Metrics  *metrics.Registry
}

// State is a point-in-time view of the runtime.
type State struct {
	Running   bool                     `json:"running"`
	Iteration int                      `json:"iteration"`
	LastRun   time.Time                `json:"last_run,omitempty"`
	NextRun   time.Time                `json:"next_run,omitempty"`
	Mode      string                   `json:"mode"`
	Symbols   []string                 `json:"symbols"`
	Snapshots map[string]core.Snapshot `json:"snapshots"`
	Errors    map[string]string        `json:"errors,omitempty"`
}

// Runtime schedules signal checks, invokes the decision logic and routes
// intents through the executor.
type Runtime struct {
	symbols  []string
	decide   DecideFunc
	source   snapshot.Source
	exec     *broker.Executor
	clock    clock.Clock
	journal  signal.Store
	notifier *notifier.Registry
	logger   *zap.Logger
	metrics  *metrics.Registry

	// evalMu serializes evaluation between the scheduled loop and pushed
	// events so a symbol's position is never decided on twice at once.
	evalMu sync.Mutex

	mu        sync.Mutex
	running   bool
	iteration int
	lastRun   time.Time
	nextRun   time.Time
	snapshots map[string]core.Snapshot
	errs      map[string]string
}

// NewRuntime validates opts and creates a runtime. Without an executor the
// runtime is advisory over a fresh ledger.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Decide == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("strategy runtime needs a decision function"))
	}
	if opts.Source == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("strategy runtime needs a snapshot source"))
	}
	if len(opts.Symbols) == 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("strategy runtime needs at least one symbol"))
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Executor == nil {
		opts.Executor = broker.NewExecutor(broker.ExecutionAdvisory, nil, broker.NewLedger(opts.Clock.Now), nil, opts.Logger)
	}
	if opts.Journal == nil {
		opts.Journal = signal.NewMemoryStore(1000)
	}

	return &Runtime{
		symbols:   append([]string(nil), opts.Symbols...),
		decide:    opts.Decide,
		source:    opts.Source,
		exec:      opts.Executor,
		clock:     opts.Clock,
		journal:   opts.Journal,
		notifier:  opts.Notifier,
		logger:    opts.Logger.With(zap.String("component", "strategy")),
		metrics:   opts.Metrics,
		snapshots: make(map[string]core.Snapshot),
		errs:      make(map[string]string),
	}, nil
}

// Run evaluates every symbol once per interval until ctx ends or
// maxIterations (when > 0) have run. The next iteration is scheduled from
// the start of the previous one, so time spent deciding does not
// accumulate as drift. An iteration that overruns the interval is followed
// immediately by the next.
func (r *Runtime) Run(ctx context.Context, interval time.Duration, maxIterations int) error {
	if interval <= 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("interval must be positive, got %s", interval))
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("strategy runtime already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.nextRun = time.Time{}
		r.mu.Unlock()
	}()

	r.logger.Info("strategy runtime started",
		zap.Strings("symbols", r.symbols),
		zap.Duration("interval", interval),
		zap.Int("max_iterations", maxIterations),
		zap.String("mode", string(r.exec.Mode())),
	)

	scheduled := r.clock.Now()
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.iterate(ctx, n, scheduled)

		if maxIterations > 0 && n >= maxIterations {
			r.logger.Info("strategy runtime finished", zap.Int("iterations", n))
			return nil
		}

		next := scheduled.Add(interval)
		now := r.clock.Now()
		if next.Before(now) {
			r.logger.Warn("iteration overran interval",
				zap.Int("iteration", n),
				zap.Duration("overrun", now.Sub(next)),
			)
			next = now
		}
		r.mu.Lock()
		r.nextRun = next
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(next.Sub(now)):
		}
		scheduled = next
	}
}

func (r *Runtime) iterate(ctx context.Context, n int, started time.Time) {
	r.evalMu.Lock()
	defer r.evalMu.Unlock()

	r.mu.Lock()
	r.iteration = n
	r.lastRun = started
	r.mu.Unlock()

	for _, sym := range r.symbols {
		if ctx.Err() != nil {
			return
		}
		r.evaluate(ctx, n, sym, nil)
	}
	r.metrics.RecordIteration(r.clock.Now().Sub(started).Seconds())
}

// Consume evaluates pushed snapshots for the runtime's symbols as they
// arrive, until events closes or ctx ends.
func (r *Runtime) Consume(ctx context.Context, events <-chan stream.Event) {
	watched := make(map[string]bool, len(r.symbols))
	for _, s := range r.symbols {
		watched[s] = true
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			snap, ok := ev.Snapshot()
			if !ok || !watched[snap.Symbol] {
				continue
			}
			if !snap.IsValid() {
				r.logger.Warn("discarding out-of-range snapshot",
					zap.String("symbol", snap.Symbol),
					zap.Float64("score", snap.Score),
				)
				continue
			}
			r.evalMu.Lock()
			r.mu.Lock()
			n := r.iteration
			last, seen := r.snapshots[snap.Symbol]
			r.mu.Unlock()
			// Reconnects may redeliver an event; snapshots overwrite per
			// symbol, so an unchanged one is not decided on again.
			if seen && last.SameSignal(snap) {
				r.evalMu.Unlock()
				r.logger.Debug("skipping repeated snapshot", zap.String("symbol", snap.Symbol))
				continue
			}
			r.evaluate(ctx, n, snap.Symbol, &snap)
			r.evalMu.Unlock()
		}
	}
}

// evaluate runs one symbol. Failures are recorded and never propagate so
// the remaining symbols and later iterations still run.
func (r *Runtime) evaluate(ctx context.Context, n int, sym string, pushed *core.Snapshot) {
	log := r.logger.With(zap.String("symbol", sym), zap.Int("iteration", n))
	entry := signal.Entry{Iteration: n, Symbol: sym, Outcome: signal.OutcomeHold}
	defer func() {
		entry.At = r.clock.Now()
		if _, err := r.journal.Save(ctx, entry); err != nil {
			log.Warn("journal write failed", zap.Error(err))
		}
	}()

	var snap core.Snapshot
	if pushed != nil {
		snap = *pushed
	} else {
		s, err := r.source.Latest(ctx, sym)
		if err != nil {
			r.fail(log, &entry, "snapshot", err)
			return
		}
		snap = s
	}
	entry.Snapshot = snap
	r.mu.Lock()
	r.snapshots[sym] = snap
	r.mu.Unlock()

	pos := r.exec.Ledger().Position(sym)
	intents, err := r.safeDecide(sym, snap, pos)
	if err != nil {
		r.fail(log, &entry, "decide", err)
		return
	}
	entry.Intents = intents

	mark := decimal.NewFromFloat(snap.Price)
	for _, in := range intents {
		if in.Symbol == "" {
			in.Symbol = sym
		}
		res, err := r.exec.Execute(ctx, in, mark)
		if err != nil {
			outcome := signal.OutcomeFailed
			if errors.Is(err, core.ErrRiskRejected) || errors.Is(err, core.ErrRejected) {
				outcome = signal.OutcomeRejected
			}
			r.metrics.RecordIntent(string(in.Side), string(outcome))
			r.fail(log, &entry, "execute", err)
			entry.Outcome = outcome
			continue
		}

		outcome := signal.OutcomeExecuted
		switch {
		case res.Advisory:
			outcome = signal.OutcomeAdvisory
		case res.PendingID != "":
			outcome = signal.OutcomeHold
		}
		if entry.Outcome != signal.OutcomeFailed && entry.Outcome != signal.OutcomeRejected {
			entry.Outcome = outcome
		}
		r.metrics.RecordIntent(string(in.Side), string(outcome))

		if res.Advisory || res.PendingID != "" {
			r.notify(log, notifier.ForIntent(in, snap, res.Advisory, r.clock.Now()))
		}
	}

	if entry.Error == "" {
		r.mu.Lock()
		delete(r.errs, sym)
		r.mu.Unlock()
	}
}

func (r *Runtime) safeDecide(sym string, snap core.Snapshot, pos core.Position) (intents []core.Intent, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("decision logic panicked: %v", p)
		}
	}()
	return r.decide(sym, snap, pos), nil
}

func (r *Runtime) fail(log *zap.Logger, entry *signal.Entry, stage string, err error) {
	entry.Outcome = signal.OutcomeFailed
	entry.Error = err.Error()
	r.metrics.RecordSymbolError(stage)

	r.mu.Lock()
	r.errs[entry.Symbol] = err.Error()
	r.mu.Unlock()

	switch {
	case errors.Is(err, core.ErrAuthExpired):
		log.Error("credential expired", zap.String("stage", stage), zap.Error(err))
	case errors.Is(err, core.ErrQuotaExceeded):
		log.Warn("daily quota exhausted", zap.String("stage", stage), zap.Error(err))
	default:
		log.Warn("symbol evaluation failed", zap.String("stage", stage), zap.Error(err))
	}
}

func (r *Runtime) notify(log *zap.Logger, n notifier.Notification) {
	if r.notifier == nil || r.notifier.Len() == 0 {
		return
	}
	for name, err := range r.notifier.NotifyAll(n) {
		log.Warn("notification failed", zap.String("notifier", name), zap.Error(err))
	}
}

// Position returns the acknowledged position for symbol, flat if never
// traded.
func (r *Runtime) Position(symbol string) core.Position {
	return r.exec.Ledger().Position(symbol)
}

// Positions returns all non-flat positions.
func (r *Runtime) Positions() []core.Position {
	return r.exec.Ledger().Positions()
}

// Executor returns the executor intents are routed through.
func (r *Runtime) Executor() *broker.Executor {
	return r.exec
}

// State returns the current runtime state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make(map[string]core.Snapshot, len(r.snapshots))
	for k, v := range r.snapshots {
		snaps[k] = v
	}
	errs := make(map[string]string, len(r.errs))
	for k, v := range r.errs {
		errs[k] = v
	}
	return State{
		Running:   r.running,
		Iteration: r.iteration,
		LastRun:   r.lastRun,
		NextRun:   r.nextRun,
		Mode:      string(r.exec.Mode()),
		Symbols:   append([]string(nil), r.symbols...),
		Snapshots: snaps,
		Errors:    errs,
	}
}

// History returns journal entries matching filter.
func (r *Runtime) History(ctx context.Context, filter signal.ListFilter) ([]signal.Entry, error) {
	return r.journal.List(ctx, filter)
}

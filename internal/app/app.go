package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/alert"
	"github.com/newthinker/tinkclaw/internal/api"
	"github.com/newthinker/tinkclaw/internal/backoff"
	"github.com/newthinker/tinkclaw/internal/backtest"
	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/broker/alpaca"
	"github.com/newthinker/tinkclaw/internal/broker/paper"
	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/config"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/credential"
	"github.com/newthinker/tinkclaw/internal/gateway"
	"github.com/newthinker/tinkclaw/internal/metrics"
	"github.com/newthinker/tinkclaw/internal/notifier"
	"github.com/newthinker/tinkclaw/internal/notifier/email"
	"github.com/newthinker/tinkclaw/internal/notifier/telegram"
	"github.com/newthinker/tinkclaw/internal/notifier/webhook"
	"github.com/newthinker/tinkclaw/internal/quota"
	"github.com/newthinker/tinkclaw/internal/snapshot"
	"github.com/newthinker/tinkclaw/internal/storage/signal"
	"github.com/newthinker/tinkclaw/internal/strategy"
	"github.com/newthinker/tinkclaw/internal/strategy/momentum"
	"github.com/newthinker/tinkclaw/internal/strategy/signal_follow"
	"github.com/newthinker/tinkclaw/internal/stream"
	"github.com/newthinker/tinkclaw/internal/subscription"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Runtime is one fully wired client: credentials, quota, gateway,
// subscriptions, the optional stream, the broker and the strategy loop.
// Nothing is global, so several runtimes can coexist in one process.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  *clock.Service

	Metrics    *metrics.Registry
	Quota      *quota.Tracker
	Keys       *credential.Manager
	Transport  *gateway.Transport
	Gateway    *gateway.Gateway
	Subs       *subscription.Registry
	Stream     *stream.Session // nil unless stream.enabled
	Mailbox    *snapshot.Mailbox
	Notifiers  *notifier.Registry
	Adapter    broker.Adapter // nil in advisory mode
	Executor   *broker.Executor
	Journal    signal.Store
	Strategies *strategy.Registry
	Backtester *backtest.Backtester
	Alerts     *alert.Evaluator // nil unless alerts.enabled

	optSource snapshot.Source
	closers   []func() error

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	strategy *strategy.Runtime
	server   *api.Server
}

type options struct {
	clock   clock.Clock
	adapter broker.Adapter
	metrics *metrics.Registry
	source  snapshot.Source
}

// Option customizes New.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithAdapter replaces the configured broker.
func WithAdapter(a broker.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithMetrics uses reg instead of a fresh registry.
func WithMetrics(reg *metrics.Registry) Option { return func(o *options) { o.metrics = reg } }

// WithSource replaces the gateway-backed snapshot source of the strategy.
func WithSource(s snapshot.Source) Option { return func(o *options) { o.source = s } }

// New validates cfg and builds every component. Stores that hold files
// are opened here and released by Close.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Quota.Location()
	if err != nil {
		return nil, err
	}
	limits, err := cfg.Quota.Limits()
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:     cfg,
		logger:  logger,
		clock:   clock.NewService(o.clock, loc),
		Metrics: o.metrics,
	}
	if r.Metrics == nil && cfg.Metrics.Enabled {
		r.Metrics = metrics.NewRegistry()
	}

	if err := r.buildClient(limits); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.buildExecution(o.adapter); err != nil {
		r.Close()
		return nil, err
	}
	r.optSource = o.source
	return r, nil
}

func (r *Runtime) buildClient(limits quota.Limits) error {
	cfg := r.cfg

	var counters quota.Store = quota.NewMemoryStore()
	if cfg.Quota.Store.Type == "sqlite" {
		s, err := quota.NewSQLiteStore(cfg.Quota.Store.Path)
		if err != nil {
			return fmt.Errorf("opening quota store: %w", err)
		}
		r.closers = append(r.closers, s.Close)
		counters = s
	}
	r.Quota = quota.NewTracker(r.clock, limits,
		quota.WithStore(counters),
		quota.WithLogger(r.logger),
		quota.WithMetrics(r.Metrics),
		quota.WithRetention(cfg.Quota.RetentionDays),
	)

	r.Transport = gateway.NewTransport(gateway.Config{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	}, r.Quota, r.clock, r.logger, r.Metrics)

	var keys credential.Store = credential.NewMemoryStore()
	if cfg.Credentials.Store.Type == "badger" {
		key, err := credential.ParseEncryptionKey(cfg.Credentials.Store.EncryptionKey)
		if err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
		s, err := credential.OpenBadger(credential.BadgerOptions{
			Path:          cfg.Credentials.Store.Path,
			EncryptionKey: key,
		})
		if err != nil {
			return fmt.Errorf("opening credential store: %w", err)
		}
		r.closers = append(r.closers, s.Close)
		keys = s
	}

	initial := credential.New(cfg.API.APIKey, cfg.API.TierValue(), limits, r.clock.Now())
	mgr, err := credential.NewManager(initial, credential.Options{
		Clock:       r.clock,
		Quota:       r.Quota,
		Limits:      limits,
		Minter:      r.Transport,
		Store:       keys,
		GraceWindow: cfg.Credentials.GraceWindow,
		Logger:      r.logger,
		Metrics:     r.Metrics,
	})
	if err != nil {
		return err
	}
	r.Keys = mgr

	r.Gateway = gateway.New(r.Transport, r.Keys, r.clock)
	r.Subs = subscription.NewRegistry(r.Gateway.Subscriptions(), r.logger)
	r.Mailbox = snapshot.NewMailbox()
	r.Backtester = backtest.New(r.Gateway, r.logger)

	if cfg.Stream.Enabled {
		r.Stream = stream.NewSession(stream.Config{
			URL:      cfg.API.StreamURL,
			Channels: cfg.Stream.Channels,
			Backoff: backoff.Exponential{
				Base:   cfg.Stream.Backoff.Base,
				Cap:    cfg.Stream.Backoff.Cap,
				Jitter: cfg.Stream.Backoff.Jitter,
			},
			StabilityWindow: cfg.Stream.StabilityWindow,
			PingInterval:    cfg.Stream.PingInterval,
			QueueSize:       cfg.Stream.QueueSize,
		}, r.Keys, r.Subs, r.clock, r.logger, r.Metrics)
	}
	return nil
}

func (r *Runtime) buildExecution(adapter broker.Adapter) error {
	cfg := r.cfg

	notifiers, err := buildNotifiers(cfg.Notifiers)
	if err != nil {
		return err
	}
	r.Notifiers = notifiers

	if adapter == nil {
		adapter, err = buildAdapter(cfg.Broker, r.logger)
		if err != nil {
			return err
		}
	}
	r.Adapter = adapter

	mode, err := broker.ParseMode(cfg.Strategy.Mode)
	if err != nil {
		return err
	}
	ledger := broker.NewLedger(r.clock.Now)
	var risk *broker.RiskChecker
	if cfg.Risk.Enabled {
		risk = broker.NewRiskChecker(broker.RiskConfig{
			MaxPositionSize:  decimal.NewFromFloat(cfg.Risk.MaxPositionSize),
			MaxOpenPositions: cfg.Risk.MaxOpenPositions,
			MaxPositionPct:   cfg.Risk.MaxPositionPct,
		}, ledger, adapter)
	}
	r.Executor = broker.NewExecutor(mode, adapter, ledger, risk, r.logger)

	r.Journal = signal.NewMemoryStore(cfg.Strategy.JournalSize)

	if cfg.Alerts.Enabled {
		r.Alerts = alert.NewEvaluator(cfg.Alerts.EffectiveRules(), r.Notifiers, r.clock, r.logger)
		if cfg.Alerts.Cooldown > 0 {
			r.Alerts.SetCooldown(cfg.Alerts.Cooldown)
		}
	}

	r.Strategies = strategy.NewRegistry(r.logger)
	r.Strategies.Register(momentum.Default())
	r.Strategies.Register(signal_follow.New(decimal.NewFromInt(1), 0.6))
	return nil
}

// buildAdapter returns nil for advisory operation.
func buildAdapter(cfg config.BrokerConfig, logger *zap.Logger) (broker.Adapter, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "paper":
		return paper.New(decimal.NewFromFloat(cfg.Cash)), nil
	case "alpaca":
		b, err := alpaca.New(alpaca.Config{
			KeyID:     cfg.Alpaca.KeyID,
			SecretKey: cfg.Alpaca.SecretKey,
			Paper:     cfg.Alpaca.Paper,
			BaseURL:   cfg.Alpaca.BaseURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown broker provider %q", cfg.Provider))
}

func buildNotifiers(cfgs map[string]config.NotifierConfig) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()

	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		nc := cfgs[name]
		if !nc.Enabled {
			continue
		}
		var n notifier.Notifier
		switch name {
		case "telegram":
			n = telegram.New(nc.BotToken, nc.ChatID)
		case "email":
			n = email.New(nc.Host, nc.Port, nc.Username, nc.Password, nc.From, nc.To)
		case "webhook":
			n = webhook.New(nc.URL, nc.Headers)
		default:
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown notifier %q", name))
		}
		if err := reg.Register(n); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Start brings up the background parts: the stream and its mailbox pump,
// the subscription mirror and the receiver. It does not block.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("runtime already started")
	}
	r.started = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.Subs.Refresh(ctx); err != nil {
		r.logger.Warn("subscription refresh failed", zap.Error(err))
	}

	if r.Stream != nil {
		sub := r.Stream.Subscribe(0)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			snapshot.Pump(ctx, sub.C(), r.Mailbox, r.logger)
		}()
		if err := r.Stream.Start(ctx); err != nil {
			return err
		}
	}

	if r.Alerts != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Alerts.Run(ctx, r.cfg.Alerts.Interval, r.HealthFigures)
		}()
	}

	if r.cfg.Receiver.Enabled {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", r.cfg.Receiver.Host, r.cfg.Receiver.Port))
		if err != nil {
			return fmt.Errorf("receiver listen: %w", err)
		}
		if err := r.Serve(ln); err != nil {
			ln.Close()
			return err
		}
	}
	return nil
}

// Serve runs the receiver on ln in the background.
func (r *Runtime) Serve(ln net.Listener) error {
	srv, err := api.NewServer(api.Config{
		Host:          r.cfg.Receiver.Host,
		Port:          r.cfg.Receiver.Port,
		APIKey:        r.cfg.Receiver.APIKey,
		WebhookSecret: r.cfg.Receiver.WebhookSecret,
		MetricsPath:   r.cfg.Metrics.Path,
	}, api.Dependencies{
		Status:        func() any { return r.Status() },
		Journal:       r.Journal,
		Mailbox:       r.Mailbox,
		Notifiers:     r.Notifiers,
		Intents:       r.Executor,
		Subscriptions: r.Subs,
		Backtester:    r.Backtester,
		Metrics:       r.Metrics,
		Now:           r.clock.Now,
	}, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.server = srv
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil {
			r.logger.Error("receiver stopped", zap.Error(err))
		}
	}()
	return nil
}

// RunStrategy configures the named strategy and runs it until ctx ends or
// max_iterations is reached.
func (r *Runtime) RunStrategy(ctx context.Context) error {
	cfg := r.cfg.Strategy
	if len(cfg.Symbols) == 0 {
		return core.WrapError(core.ErrConfigMissing, errors.New("strategy.symbols is empty"))
	}

	decide, err := r.Strategies.Configure(cfg.Name, strategy.Config{Enabled: true, Params: cfg.Params})
	if err != nil {
		return err
	}

	rt, err := strategy.NewRuntime(strategy.Options{
		Symbols:  cfg.Symbols,
		Decide:   decide,
		Source:   r.source(),
		Executor: r.Executor,
		Clock:    r.clock,
		Journal:  r.Journal,
		Notifier: r.Notifiers,
		Logger:   r.logger,
		Metrics:  r.Metrics,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.strategy = rt
	r.mu.Unlock()

	if r.Stream != nil {
		if err := r.Stream.Watch(cfg.Symbols...); err != nil {
			r.logger.Warn("stream watch failed", zap.Error(err))
		}
		if r.cfg.Stream.EvaluateOnPush {
			sub := r.Stream.Subscribe(0)
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				rt.Consume(ctx, sub.C())
			}()
		}
	}

	if r.Adapter != nil {
		if err := r.Executor.Ledger().Sync(ctx, r.Adapter, cfg.Symbols); err != nil {
			r.logger.Warn("position sync failed", zap.Error(err))
		}
	}

	r.logger.Info("strategy starting",
		zap.String("strategy", cfg.Name),
		zap.Strings("symbols", cfg.Symbols),
		zap.Duration("interval", cfg.Interval()),
		zap.String("mode", string(r.Executor.Mode())),
	)
	return rt.Run(ctx, cfg.Interval(), cfg.MaxIterations)
}

// source is the streamed mailbox backed by polling when the stream is on,
// and plain polling otherwise. Paper fills track the last seen price.
func (r *Runtime) source() snapshot.Source {
	var src snapshot.Source
	switch {
	case r.optSource != nil:
		src = r.optSource
	case r.Stream != nil:
		src = &snapshot.Blended{
			Mailbox:      r.Mailbox,
			Poll:         snapshot.NewPollSource(r.Gateway, gateway.DefaultRetry()),
			MaxStaleness: r.cfg.Strategy.Staleness(),
			Clock:        r.clock,
		}
	default:
		src = snapshot.NewPollSource(r.Gateway, gateway.DefaultRetry())
	}

	pb, ok := r.Adapter.(*paper.Broker)
	if !ok {
		return src
	}
	return snapshot.SourceFunc(func(ctx context.Context, symbol string) (core.Snapshot, error) {
		snap, err := src.Latest(ctx, symbol)
		if err == nil && snap.Price > 0 {
			pb.SetMark(symbol, decimal.NewFromFloat(snap.Price))
		}
		return snap, err
	})
}

// Status is what the receiver serves on /status.
type Status struct {
	Credential credential.Info `json:"credential"`
	QuotaUsed  int             `json:"quota_used"`
	QuotaLimit int             `json:"quota_limit"`
	QuotaReset time.Time       `json:"quota_reset"`
	Stream     *stream.Status  `json:"stream,omitempty"`
	Strategy   *strategy.State `json:"strategy,omitempty"`
	Pending    int             `json:"pending_intents"`
	Positions  []core.Position `json:"positions"`
}

// Status returns a point-in-time view of every component.
func (r *Runtime) Status() Status {
	active := r.Keys.Active()
	used, limit := r.Quota.DailyUsage(active.ID)
	st := Status{
		Credential: r.Keys.Info(),
		QuotaUsed:  used,
		QuotaLimit: limit,
		QuotaReset: r.Quota.ResetAt(),
		Pending:    len(r.Executor.Pending()),
		Positions:  r.Executor.Ledger().Positions(),
	}
	if r.Stream != nil {
		s := r.Stream.Status()
		st.Stream = &s
	}
	r.mu.Lock()
	rt := r.strategy
	r.mu.Unlock()
	if rt != nil {
		s := rt.State()
		st.Strategy = &s
	}
	return st
}

// HealthFigures flattens Status into the figures alert rules refer to.
func (r *Runtime) HealthFigures() map[string]float64 {
	st := r.Status()
	figures := map[string]float64{
		alert.QuotaRemaining: float64(st.QuotaLimit - st.QuotaUsed),
		alert.PendingIntents: float64(st.Pending),
		alert.GraceActive:    0,
	}
	if st.QuotaLimit > 0 {
		figures[alert.QuotaRemainingPct] = 100 * float64(st.QuotaLimit-st.QuotaUsed) / float64(st.QuotaLimit)
	}
	open := 0
	for _, p := range st.Positions {
		if !p.IsFlat() {
			open++
		}
	}
	figures[alert.OpenPositions] = float64(open)
	if st.Credential.Grace != nil {
		figures[alert.GraceActive] = 1
	}
	if st.Stream != nil {
		figures[alert.ReconnectAttempt] = float64(st.Stream.Attempt)
	}
	if st.Strategy != nil {
		figures[alert.SymbolErrors] = float64(len(st.Strategy.Errors))
	}
	return figures
}

// Strategy returns the running strategy, or nil before RunStrategy.
func (r *Runtime) Strategy() *strategy.Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// Close stops background work and releases stores. It is safe to call
// more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	cancel, srv := r.cancel, r.server
	r.cancel, r.server = nil, nil
	r.mu.Unlock()

	var errs []error
	if srv != nil {
		ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		done()
	}
	if r.Stream != nil {
		if err := r.Stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

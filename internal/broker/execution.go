package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExecutionMode determines how intents are processed.
type ExecutionMode string

const (
	// ExecutionAuto sends intents to the broker immediately.
	ExecutionAuto ExecutionMode = "auto"
	// ExecutionConfirm queues intents until confirmed.
	ExecutionConfirm ExecutionMode = "confirm"
	// ExecutionAdvisory never calls a broker; the ledger still moves.
	ExecutionAdvisory ExecutionMode = "advisory"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (ExecutionMode, error) {
	switch m := ExecutionMode(s); m {
	case ExecutionAuto, ExecutionConfirm, ExecutionAdvisory:
		return m, nil
	case "":
		return ExecutionAuto, nil
	}
	return "", core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown execution mode %q", s))
}

// PendingIntent is an intent awaiting confirmation.
type PendingIntent struct {
	ID        string      `json:"id"`
	Intent    core.Intent `json:"intent"`
	Mark      string      `json:"mark"`
	CreatedAt time.Time   `json:"created_at"`
	mark      decimal.Decimal
	seq       int
	busy      bool
}

// ExecuteResult represents the outcome of an execution attempt.
type ExecuteResult struct {
	// Executed is true when the ledger moved.
	Executed bool
	// Advisory is true when no broker was called.
	Advisory bool
	// Ack is the broker acknowledgement, if any.
	Ack *Ack
	// PendingID is set when the intent was queued for confirmation.
	PendingID string
	// Position is the ledger position after the call.
	Position core.Position
}

// Executor turns intents into broker calls and ledger updates. The ledger
// is only written after the broker acknowledges, or directly in advisory
// mode.
type Executor struct {
	mode    ExecutionMode
	adapter Adapter
	risk    *RiskChecker
	ledger  *Ledger
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]*PendingIntent
	seq     int
}

// NewExecutor creates an executor. With a nil adapter the mode is forced
// to advisory. risk may be nil.
func NewExecutor(mode ExecutionMode, adapter Adapter, ledger *Ledger, risk *RiskChecker, logger *zap.Logger) *Executor {
	if adapter == nil {
		mode = ExecutionAdvisory
	}
	if mode == "" {
		mode = ExecutionAuto
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		mode:    mode,
		adapter: adapter,
		risk:    risk,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]*PendingIntent),
	}
}

// Mode returns the effective mode.
func (e *Executor) Mode() ExecutionMode {
	return e.mode
}

// Ledger returns the ledger the executor writes.
func (e *Executor) Ledger() *Ledger {
	return e.ledger
}

// Execute processes one intent at the given mark price.
func (e *Executor) Execute(ctx context.Context, in core.Intent, mark decimal.Decimal) (ExecuteResult, error) {
	if err := ValidateIntent(in); err != nil {
		return ExecuteResult{}, err
	}
	if e.risk != nil {
		if err := e.risk.Check(ctx, in, mark).Err(); err != nil {
			return ExecuteResult{Position: e.ledger.Position(in.Symbol)}, err
		}
	}

	switch e.mode {
	case ExecutionAdvisory:
		pos := e.ledger.Apply(in.Symbol, in.Side, in.Size, mark)
		e.logger.Info("advisory intent",
			zap.String("symbol", in.Symbol),
			zap.String("side", string(in.Side)),
			zap.String("size", in.Size.String()),
			zap.String("reason", in.Reason),
		)
		return ExecuteResult{Executed: true, Advisory: true, Position: pos}, nil
	case ExecutionConfirm:
		return e.queue(in, mark), nil
	default:
		return e.place(ctx, in, mark)
	}
}

func (e *Executor) place(ctx context.Context, in core.Intent, mark decimal.Decimal) (ExecuteResult, error) {
	ack, err := Place(ctx, e.adapter, in)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, core.ErrRejected) && !isCoded(err) {
			err = core.WrapError(core.ErrBrokerFailed, err)
		}
		return ExecuteResult{Position: e.ledger.Position(in.Symbol)}, err
	}

	price := ack.FillPrice
	if price.IsZero() {
		price = mark
	}
	pos := e.ledger.Apply(in.Symbol, in.Side, ack.Executed(), price)
	e.logger.Info("intent executed",
		zap.String("broker", e.adapter.Name()),
		zap.String("order_id", ack.OrderID),
		zap.String("symbol", in.Symbol),
		zap.String("side", string(in.Side)),
		zap.String("size", ack.Executed().String()),
		zap.String("position", pos.Size.String()),
	)
	return ExecuteResult{Executed: true, Ack: &ack, Position: pos}, nil
}

func isCoded(err error) bool {
	var ce *core.Error
	return errors.As(err, &ce)
}

func (e *Executor) queue(in core.Intent, mark decimal.Decimal) ExecuteResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	id := fmt.Sprintf("pending-%d", e.seq)
	e.pending[id] = &PendingIntent{
		ID:        id,
		Intent:    in,
		Mark:      mark.String(),
		CreatedAt: e.now(),
		mark:      mark,
		seq:       e.seq,
	}
	e.logger.Info("intent queued for confirmation", zap.String("id", id), zap.String("symbol", in.Symbol))
	return ExecuteResult{PendingID: id, Position: e.ledger.Position(in.Symbol)}
}

// Confirm sends a pending intent to the broker. On failure it stays queued.
func (e *Executor) Confirm(ctx context.Context, id string) (ExecuteResult, error) {
	e.mu.Lock()
	p, ok := e.pending[id]
	if !ok {
		e.mu.Unlock()
		return ExecuteResult{}, core.NotFound("pending intent " + id)
	}
	if p.busy {
		e.mu.Unlock()
		return ExecuteResult{}, core.WrapError(core.ErrRejected, fmt.Errorf("pending intent %s already being processed", id))
	}
	p.busy = true
	e.mu.Unlock()

	res, err := e.place(ctx, p.Intent, p.mark)

	e.mu.Lock()
	if err != nil {
		p.busy = false
	} else {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	return res, err
}

// Reject drops a pending intent without executing it.
func (e *Executor) Reject(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[id]; !ok {
		return core.NotFound("pending intent " + id)
	}
	delete(e.pending, id)
	return nil
}

// Pending returns queued intents, oldest first.
func (e *Executor) Pending() []PendingIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PendingIntent, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

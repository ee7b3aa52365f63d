// Package snapshot supplies the latest confluence snapshot per symbol from
// the push stream, from polling, or from both.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/gateway"
	"github.com/newthinker/tinkclaw/internal/stream"
	"go.uber.org/zap"
)

// Source returns the current snapshot for a symbol.
type Source interface {
	Latest(ctx context.Context, symbol string) (core.Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, symbol string) (core.Snapshot, error)

func (f SourceFunc) Latest(ctx context.Context, symbol string) (core.Snapshot, error) {
	return f(ctx, symbol)
}

// Mailbox holds the most recent snapshot per symbol. A newer write
// replaces the old value; readers never block writers for long.
type Mailbox struct {
	mu    sync.RWMutex
	slots map[string]core.Snapshot
}

func NewMailbox() *Mailbox {
	return &Mailbox{slots: make(map[string]core.Snapshot)}
}

// Put stores snap unless the mailbox already holds a newer one.
func (m *Mailbox) Put(snap core.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.slots[snap.Symbol]; ok && cur.ReceivedAt.After(snap.ReceivedAt) {
		return
	}
	m.slots[snap.Symbol] = snap
}

// Get returns the stored snapshot for symbol.
func (m *Mailbox) Get(symbol string) (core.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[symbol]
	return s, ok
}

// Latest implements Source. A symbol with no pushed snapshot is NotFound.
func (m *Mailbox) Latest(_ context.Context, symbol string) (core.Snapshot, error) {
	if s, ok := m.Get(symbol); ok {
		return s, nil
	}
	return core.Snapshot{}, core.NotFound("snapshot for " + symbol)
}

// Symbols returns the symbols with a stored snapshot.
func (m *Mailbox) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.slots))
	for s := range m.slots {
		out = append(out, s)
	}
	return out
}

// Pump copies snapshot-bearing events into mb until events closes or ctx
// ends. Other events are ignored.
func Pump(ctx context.Context, events <-chan stream.Event, mb *Mailbox, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
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
			if !ok {
				continue
			}
			if !snap.IsValid() {
				logger.Warn("discarding out-of-range snapshot",
					zap.String("symbol", snap.Symbol),
					zap.Float64("score", snap.Score),
				)
				continue
			}
			mb.Put(snap)
		}
	}
}

// PollSource fetches snapshots on demand from the gateway.
type PollSource struct {
	fetch SourceFunc
	retry gateway.RetryPolicy
}

// NewPollSource polls gw, retrying transient failures under policy.
func NewPollSource(gw *gateway.Gateway, policy gateway.RetryPolicy) *PollSource {
	return &PollSource{fetch: gw.Latest, retry: policy}
}

func (p *PollSource) Latest(ctx context.Context, symbol string) (core.Snapshot, error) {
	var snap core.Snapshot
	err := gateway.Retry(ctx, p.retry, func(ctx context.Context) error {
		s, err := p.fetch(ctx, symbol)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	return snap, err
}

// Blended prefers a fresh pushed snapshot and polls otherwise.
type Blended struct {
	Mailbox      *Mailbox
	Poll         Source
	MaxStaleness time.Duration
	Clock        clock.Clock
}

func (b *Blended) Latest(ctx context.Context, symbol string) (core.Snapshot, error) {
	now := time.Now()
	if b.Clock != nil {
		now = b.Clock.Now()
	}
	if snap, ok := b.Mailbox.Get(symbol); ok && snap.Age(now) <= b.MaxStaleness {
		return snap, nil
	}
	snap, err := b.Poll.Latest(ctx, symbol)
	if err != nil {
		return core.Snapshot{}, err
	}
	b.Mailbox.Put(snap)
	return snap, nil
}

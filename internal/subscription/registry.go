// Package subscription mirrors the webhook and streaming subscriptions held
// by the remote service.
package subscription

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/newthinker/tinkclaw/internal/core"
	"go.uber.org/zap"
)

// Remote is the service side of the registry.
type Remote interface {
	Create(ctx context.Context, spec Spec) (Subscription, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Subscription, error)
}

type entry struct {
	sub Subscription
	seq uint64
}

// Registry is a local cache of remote subscriptions. Every mutation is
// confirmed remotely before the mirror changes.
type Registry struct {
	remote Remote
	logger *zap.Logger

	mu       sync.RWMutex
	entries  map[string]entry
	seq      uint64
	watchers []func(Change)

	// serializes remote mutations so mirror order matches confirmation order
	opMu sync.Mutex
}

// NewRegistry creates an empty registry backed by remote.
func NewRegistry(remote Remote, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		remote:  remote,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Watch registers fn to be called after every mirror change. Callbacks run
// synchronously and must not call back into the registry's mutators.
func (r *Registry) Watch(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

// Subscribe creates a subscription on the service and mirrors it.
func (r *Registry) Subscribe(ctx context.Context, target Target, symbol string, cond Condition, threshold float64) (Subscription, error) {
	spec := Spec{Target: target, Symbol: symbol, Condition: cond, Threshold: threshold}
	if err := spec.Validate(); err != nil {
		return Subscription{}, err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	sub, err := r.remote.Create(ctx, spec)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Target.Kind == "" {
		sub.Target = target
	}

	r.mu.Lock()
	r.seq++
	r.entries[sub.ID] = entry{sub: sub, seq: r.seq}
	watchers := r.watchers
	r.mu.Unlock()

	r.logger.Info("subscription created",
		zap.String("id", sub.ID),
		zap.String("symbol", sub.Symbol),
		zap.String("condition", string(sub.Condition)),
	)
	notify(watchers, Change{Kind: Added, Subscription: sub})
	return sub, nil
}

// Unsubscribe deletes a subscription. Unknown ids fail with NotFound
// without contacting the service. If the service no longer knows a
// mirrored id, the stale entry is dropped and NotFound is returned.
func (r *Registry) Unsubscribe(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return core.NotFound("subscription " + id)
	}

	err := r.remote.Delete(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}

	r.mu.Lock()
	delete(r.entries, id)
	watchers := r.watchers
	r.mu.Unlock()

	notify(watchers, Change{Kind: Removed, Subscription: e.sub})
	if err != nil {
		r.logger.Warn("subscription already gone on service", zap.String("id", id))
		return err
	}
	r.logger.Info("subscription removed", zap.String("id", id))
	return nil
}

// Expire drops a subscription the service reported as expired.
func (r *Registry) Expire(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	watchers := r.watchers
	r.mu.Unlock()

	if ok {
		r.logger.Info("subscription expired", zap.String("id", id))
		notify(watchers, Change{Kind: Expired, Subscription: e.sub})
	}
	return ok
}

// List returns the mirrored subscriptions in creation order.
func (r *Registry) List() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	// seq follows confirmation order; Refresh assigns it by CreatedAt
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Subscription, len(entries))
	for i, e := range entries {
		out[i] = e.sub
	}
	return out
}

// Get returns a mirrored subscription.
func (r *Registry) Get(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.sub, ok
}

// Len returns the number of mirrored subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Refresh replaces the mirror with the service's list. Used at startup,
// since local state is never trusted across restarts.
func (r *Registry) Refresh(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	subs, err := r.remote.List(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })

	r.mu.Lock()
	r.entries = make(map[string]entry, len(subs))
	for _, s := range subs {
		r.seq++
		r.entries[s.ID] = entry{sub: s, seq: r.seq}
	}
	watchers := r.watchers
	r.mu.Unlock()

	r.logger.Info("subscriptions refreshed", zap.Int("count", len(subs)))
	notify(watchers, Change{Kind: Reset})
	return nil
}

func notify(watchers []func(Change), c Change) {
	for _, w := range watchers {
		w(c)
	}
}

// Package quota tracks daily call budgets per credential.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/metrics"
	"go.uber.org/zap"
)

// DefaultRetentionDays is how many past days of counters are kept for
// historical queries.
const DefaultRetentionDays = 7

// bucket is the live state of one (credential, day) pair. inflight counts
// reservations that have not yet been committed or released.
type bucket struct {
	Counter
	inflight int
}

// Tracker gates calls against the daily budget of each credential.
// All bucket mutations are serialized by one mutex.
type Tracker struct {
	clock     *clock.Service
	limits    Limits
	store     Store
	retention int
	logger    *zap.Logger
	metrics   *metrics.Registry

	mu      sync.Mutex
	tiers   map[string]Tier
	buckets map[bucketKey]*bucket
	lastDay string
	// closed and cleared whenever a reservation is committed or released
	freed chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore sets the counter store.
func WithStore(s Store) Option { return func(t *Tracker) { t.store = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithMetrics publishes usage gauges.
func WithMetrics(m *metrics.Registry) Option { return func(t *Tracker) { t.metrics = m } }

// WithRetention sets how many past days are kept.
func WithRetention(days int) Option { return func(t *Tracker) { t.retention = days } }

// NewTracker creates a tracker that buckets by day on svc.
func NewTracker(svc *clock.Service, limits Limits, opts ...Option) *Tracker {
	if svc == nil {
		svc = clock.NewService(nil, nil)
	}
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	t := &Tracker{
		clock:     svc,
		limits:    limits,
		retention: DefaultRetentionDays,
		tiers:     make(map[string]Tier),
		buckets:   make(map[bucketKey]*bucket),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		t.store = NewMemoryStore()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// Register associates a credential with its tier. Unregistered credentials
// get the free budget.
func (t *Tracker) Register(credentialID string, tier Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiers[credentialID] = tier
}

// LimitFor returns the configured daily limit of a credential.
func (t *Tracker) LimitFor(credentialID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limits.For(t.tiers[credentialID])
}

// Reserve holds a slot for one call. It returns false when the day's
// budget is exhausted, counting calls already reserved but not committed.
// A granted reservation must be followed by Commit or Release.
func (t *Tracker) Reserve(credentialID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketLocked(credentialID, t.today())
	if b.Used+b.inflight >= b.Limit {
		t.metrics.RecordQuotaRejection(credentialID)
		return false
	}
	b.inflight++
	return true
}

// Acquire reserves a slot like Reserve. When the budget is held only by
// reservations still in flight it waits for one of them to be committed
// or released instead of refusing. Once committed usage reaches the limit
// it returns QuotaExceeded.
func (t *Tracker) Acquire(ctx context.Context, credentialID string) error {
	for {
		t.mu.Lock()
		b := t.bucketLocked(credentialID, t.today())
		if b.Used >= b.Limit {
			t.mu.Unlock()
			t.metrics.RecordQuotaRejection(credentialID)
			return core.QuotaExceeded(credentialID, t.clock.NextDay(t.clock.Now()))
		}
		if b.Used+b.inflight < b.Limit {
			b.inflight++
			t.mu.Unlock()
			return nil
		}
		if t.freed == nil {
			t.freed = make(chan struct{})
		}
		freed := t.freed
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-freed:
		}
	}
}

func (t *Tracker) signalFreedLocked() {
	if t.freed != nil {
		close(t.freed)
		t.freed = nil
	}
}

// Commit counts one dispatched call. Without a prior reservation the
// counter is created lazily at the tier limit. A commit that would push
// usage past the limit is refused with QuotaExceeded.
func (t *Tracker) Commit(credentialID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketLocked(credentialID, t.today())
	if b.inflight > 0 {
		b.inflight--
	}
	defer t.signalFreedLocked()
	if b.Used >= b.Limit {
		return core.QuotaExceeded(credentialID, t.clock.NextDay(t.clock.Now()))
	}
	b.Used++
	t.metrics.SetQuota(credentialID, b.Used, b.Limit)

	if err := t.store.Save(b.Counter); err != nil {
		t.logger.Warn("persisting quota counter",
			zap.String("credential", credentialID),
			zap.Error(err),
		)
	}
	return nil
}

// Release returns a reservation for a call that was never sent.
func (t *Tracker) Release(credentialID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketLocked(credentialID, t.today())
	if b.inflight > 0 {
		b.inflight--
	}
	t.signalFreedLocked()
}

// DailyUsage returns today's used and limit for a credential.
func (t *Tracker) DailyUsage(credentialID string) (used, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketLocked(credentialID, t.today())
	return b.Used, b.Limit
}

// Usage returns the counter for a credential on a given day
// (clock.DayLayout). Days older than the retention window are gone.
func (t *Tracker) Usage(credentialID, day string) (Counter, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.buckets[bucketKey{credentialID, day}]; ok {
		return b.Counter, true
	}
	c, ok, err := t.store.Load(credentialID, day)
	if err != nil {
		t.logger.Warn("loading quota counter", zap.String("credential", credentialID), zap.Error(err))
		return Counter{}, false
	}
	return c, ok
}

// ResetAt returns when the current day bucket rolls over.
func (t *Tracker) ResetAt() time.Time {
	return t.clock.NextDay(t.clock.Now())
}

// Observe reconciles today's usage with the remaining count reported by
// the service. Usage is only ever raised, never lowered.
func (t *Tracker) Observe(credentialID string, remaining int) {
	if remaining < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketLocked(credentialID, t.today())
	used := b.Limit - remaining
	if used > b.Limit {
		used = b.Limit
	}
	if used <= b.Used {
		return
	}
	t.logger.Debug("quota reconciled from service",
		zap.String("credential", credentialID),
		zap.Int("local_used", b.Used),
		zap.Int("service_used", used),
	)
	b.Used = used
	t.metrics.SetQuota(credentialID, b.Used, b.Limit)
	if err := t.store.Save(b.Counter); err != nil {
		t.logger.Warn("persisting quota counter", zap.String("credential", credentialID), zap.Error(err))
	}
}

// today computes the day bucket once for the calling operation and prunes
// old buckets on rollover. Caller holds t.mu.
func (t *Tracker) today() string {
	day := t.clock.Day(t.clock.Now())
	if day != t.lastDay {
		t.lastDay = day
		t.pruneLocked(day)
	}
	return day
}

func (t *Tracker) bucketLocked(credentialID, day string) *bucket {
	key := bucketKey{credentialID, day}
	if b, ok := t.buckets[key]; ok {
		return b
	}

	limit := t.limits.For(t.tiers[credentialID])
	b := &bucket{Counter: Counter{CredentialID: credentialID, Day: day, Limit: limit}}

	if c, ok, err := t.store.Load(credentialID, day); err != nil {
		t.logger.Warn("loading quota counter", zap.String("credential", credentialID), zap.Error(err))
	} else if ok {
		b.Used = c.Used
		if b.Used > limit {
			b.Used = limit
		}
	}
	t.buckets[key] = b
	return b
}

func (t *Tracker) pruneLocked(today string) {
	if t.retention <= 0 {
		return
	}
	day, err := time.ParseInLocation(clock.DayLayout, today, t.clock.Location())
	if err != nil {
		return
	}
	cutoff := day.AddDate(0, 0, -t.retention).Format(clock.DayLayout)
	for k := range t.buckets {
		if k.day < cutoff {
			delete(t.buckets, k)
		}
	}
	if err := t.store.Prune(cutoff); err != nil {
		t.logger.Warn("pruning quota counters", zap.Error(err))
	}
}

package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/metrics"
	"github.com/newthinker/tinkclaw/internal/quota"
	"go.uber.org/zap"
)

// Minter asks the remote service for a replacement key.
type Minter interface {
	Mint(ctx context.Context, current Credential) (string, error)
}

// MinterFunc adapts a function to Minter.
type MinterFunc func(ctx context.Context, current Credential) (string, error)

func (f MinterFunc) Mint(ctx context.Context, current Credential) (string, error) {
	return f(ctx, current)
}

// Phase is the lifecycle phase of the manager.
type Phase string

const (
	PhaseActive Phase = "active"
	PhaseGrace  Phase = "grace"
)

// snapshot is immutable once published; readers see either the whole old
// or the whole new value.
type snapshot struct {
	active  Credential
	grace   *Credential
	retired []Credential
}

// Manager owns the active credential and at most one prior credential in
// its grace window.
type Manager struct {
	clock   clock.Clock
	quota   *quota.Tracker
	limits  quota.Limits
	minter  Minter
	store   Store
	grace   time.Duration
	logger  *zap.Logger
	metrics *metrics.Registry

	state    atomic.Pointer[snapshot]
	rotateMu sync.Mutex
}

// Options configures a Manager.
type Options struct {
	Clock       clock.Clock
	Quota       *quota.Tracker
	Limits      quota.Limits
	Minter      Minter
	Store       Store
	GraceWindow time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Registry
}

// NewManager creates a manager seeded with the configured credential. If
// the store holds a record that descends from the same key (a rotation
// performed by an earlier run), the stored record wins.
func NewManager(initial Credential, opts Options) (*Manager, error) {
	if initial.IsZero() {
		return nil, core.ErrNoCredential
	}
	m := &Manager{
		clock:   opts.Clock,
		quota:   opts.Quota,
		limits:  opts.Limits,
		minter:  opts.Minter,
		store:   opts.Store,
		grace:   opts.GraceWindow,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if m.clock == nil {
		m.clock = clock.Real{}
	}
	if m.limits == nil {
		m.limits = quota.DefaultLimits()
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.grace <= 0 {
		m.grace = DefaultGraceWindow
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	s := &snapshot{active: initial}
	rec, ok, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	if ok && rec.descendsFrom(initial.ID) {
		s = &snapshot{active: rec.Active, grace: rec.Grace, retired: rec.Retired}
		m.logger.Info("restored rotated credential",
			zap.String("configured", initial.ID),
			zap.String("active", rec.Active.ID),
		)
	}
	m.state.Store(s)
	m.register(s.active)
	if s.grace != nil {
		m.register(*s.grace)
	}
	return m, nil
}

// SetMinter installs the rotation backend after construction.
func (m *Manager) SetMinter(minter Minter) {
	m.rotateMu.Lock()
	m.minter = minter
	m.rotateMu.Unlock()
}

// Active returns the credential to use for fresh calls.
func (m *Manager) Active() Credential {
	return m.current().active
}

// Grace returns the rotated-out credential while its window is open.
func (m *Manager) Grace() (Credential, bool) {
	s := m.current()
	if s.grace == nil {
		return Credential{}, false
	}
	return *s.grace, true
}

// Phase reports whether a grace window is open.
func (m *Manager) Phase() Phase {
	if m.current().grace != nil {
		return PhaseGrace
	}
	return PhaseActive
}

// Lookup finds a known credential by identity, including retired ones.
func (m *Manager) Lookup(id string) (Credential, bool) {
	s := m.current()
	if s.active.ID == id {
		return s.active, true
	}
	if s.grace != nil && s.grace.ID == id {
		return *s.grace, true
	}
	for _, c := range s.retired {
		if c.ID == id {
			return c, true
		}
	}
	return Credential{}, false
}

// Rotate mints a new key. The old key enters a grace window during which
// requests already using it can complete. A second rotation while a grace
// window is open is refused so no more than two keys are ever valid.
func (m *Manager) Rotate(ctx context.Context) (Credential, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	if m.minter == nil {
		return Credential{}, core.WrapError(core.ErrConfigMissing, errors.New("no key minter configured"))
	}

	cur := m.current()
	if cur.grace != nil {
		m.metrics.RecordRotation("pending")
		return Credential{}, &core.Error{
			Code:         core.ErrRotationPending.Code,
			Message:      core.ErrRotationPending.Message,
			CredentialID: cur.grace.ID,
			ResetAt:      cur.grace.GraceExpiresAt,
		}
	}

	secret, err := m.minter.Mint(ctx, cur.active)
	if err != nil {
		m.metrics.RecordRotation("failed")
		return Credential{}, err
	}
	if secret == "" || secret == cur.active.Secret {
		m.metrics.RecordRotation("failed")
		return Credential{}, core.WrapError(core.ErrRejected, errors.New("rotation returned no new key"))
	}

	now := m.clock.Now()
	next := New(secret, cur.active.Tier, m.limits, now)
	next.RotatedFrom = cur.active.ID

	old := cur.active
	old.SupersededBy = next.ID
	old.GraceExpiresAt = now.Add(m.grace)

	s := &snapshot{active: next, grace: &old, retired: cur.retired}
	// The service has already minted the key and started the old key's
	// grace window, so the new state is published even if saving fails.
	saveErr := m.store.Save(s.record())
	m.register(next)
	m.state.Store(s)
	if saveErr != nil {
		m.metrics.RecordRotation("unsaved")
		m.logger.Error("rotated credential not persisted",
			zap.String("old", old.ID),
			zap.String("new", next.ID),
			zap.Error(saveErr),
		)
		return next, fmt.Errorf("persisting rotated credential: %w", saveErr)
	}
	m.metrics.RecordRotation("ok")

	m.logger.Info("credential rotated",
		zap.String("old", old.ID),
		zap.String("new", next.ID),
		zap.Time("grace_expires_at", old.GraceExpiresAt),
	)
	return next, nil
}

// Classify turns an authentication failure for credentialID into
// AuthExpired when that credential has been rotated out and its grace
// window has elapsed. Other errors pass through unchanged.
func (m *Manager) Classify(credentialID string, err error) error {
	if err == nil || !errors.Is(err, core.ErrAuthInvalid) {
		return err
	}
	c, ok := m.Lookup(credentialID)
	if !ok || !c.GraceElapsed(m.clock.Now()) {
		return err
	}
	return core.AuthExpired(credentialID, err)
}

// GraceInfo describes the rotated-out credential.
type GraceInfo struct {
	CredentialID string    `json:"credential_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	Remaining    string    `json:"remaining"`
	Used         int       `json:"used"`
}

// Info is the observable state of the manager.
type Info struct {
	CredentialID string     `json:"credential_id"`
	Key          string     `json:"key"`
	Tier         quota.Tier `json:"tier"`
	Phase        Phase      `json:"phase"`
	Used         int        `json:"used"`
	Limit        int        `json:"limit"`
	Remaining    int        `json:"remaining"`
	ResetAt      time.Time  `json:"reset_at"`
	CreatedAt    time.Time  `json:"created_at"`
	Grace        *GraceInfo `json:"grace,omitempty"`
}

// Info reports tier, remaining quota and grace status.
func (m *Manager) Info() Info {
	s := m.current()
	info := Info{
		CredentialID: s.active.ID,
		Key:          s.active.Redacted(),
		Tier:         s.active.Tier,
		Phase:        PhaseActive,
		Limit:        s.active.DailyLimit,
		CreatedAt:    s.active.CreatedAt,
	}
	if m.quota != nil {
		info.Used, info.Limit = m.quota.DailyUsage(s.active.ID)
		info.ResetAt = m.quota.ResetAt()
	}
	info.Remaining = info.Limit - info.Used
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if s.grace != nil {
		info.Phase = PhaseGrace
		g := &GraceInfo{
			CredentialID: s.grace.ID,
			ExpiresAt:    s.grace.GraceExpiresAt,
			Remaining:    s.grace.GraceExpiresAt.Sub(m.clock.Now()).Round(time.Second).String(),
		}
		if m.quota != nil {
			g.Used, _ = m.quota.DailyUsage(s.grace.ID)
		}
		info.Grace = g
	}
	return info
}

// current returns the published state, first retiring a grace credential
// whose window has elapsed.
func (m *Manager) current() *snapshot {
	for {
		s := m.state.Load()
		if s.grace == nil || !s.grace.GraceElapsed(m.clock.Now()) {
			return s
		}
		retired := append(append([]Credential(nil), s.retired...), *s.grace)
		if len(retired) > maxRetired {
			retired = retired[len(retired)-maxRetired:]
		}
		next := &snapshot{active: s.active, retired: retired}
		if m.state.CompareAndSwap(s, next) {
			m.logger.Info("grace window elapsed", zap.String("credential", s.grace.ID))
			if err := m.store.Save(next.record()); err != nil {
				m.logger.Warn("persisting credential state", zap.Error(err))
			}
			return next
		}
	}
}

const maxRetired = 8

func (m *Manager) register(c Credential) {
	if m.quota != nil {
		m.quota.Register(c.ID, c.Tier)
	}
}

func (s *snapshot) record() Record {
	return Record{Active: s.active, Grace: s.grace, Retired: s.retired}
}

func (r Record) descendsFrom(id string) bool {
	if r.Active.ID == id {
		return true
	}
	if r.Grace != nil && r.Grace.ID == id {
		return true
	}
	for _, c := range r.Retired {
		if c.ID == id {
			return true
		}
	}
	return false
}

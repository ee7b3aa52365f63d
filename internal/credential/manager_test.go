package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type seqMinter struct {
	mu    sync.Mutex
	n     int
	err   error
	calls []string
}

func (s *seqMinter) Mint(_ context.Context, cur Credential) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cur.ID)
	if s.err != nil {
		return "", s.err
	}
	s.n++
	return fmt.Sprintf("tinkclaw_pro_rotated%04d", s.n), nil
}

func newTestManager(t *testing.T, store Store) (*Manager, *clock.Fake, *seqMinter, *quota.Tracker) {
	t.Helper()
	fake := clock.NewFake(start)
	tracker := quota.NewTracker(clock.NewService(fake, nil), quota.DefaultLimits())
	minter := &seqMinter{}
	initial := New("tinkclaw_pro_original0001", "", nil, start)

	m, err := NewManager(initial, Options{
		Clock:  fake,
		Quota:  tracker,
		Minter: minter,
		Store:  store,
	})
	require.NoError(t, err)
	return m, fake, minter, tracker
}

func TestNew_InfersTier(t *testing.T) {
	c := New("tinkclaw_pro_plus_abc", "", nil, start)
	assert.Equal(t, quota.TierProPlus, c.Tier)
	assert.Equal(t, 50000, c.DailyLimit)
	assert.NotContains(t, c.ID, c.Secret)
	assert.Equal(t, c.ID, IdentityOf("tinkclaw_pro_plus_abc", quota.TierProPlus))
}

func TestManager_RejectsEmptyCredential(t *testing.T) {
	_, err := NewManager(Credential{}, Options{})
	assert.True(t, errors.Is(err, core.ErrNoCredential))
}

func TestManager_RotateSwapsAndOpensGrace(t *testing.T) {
	m, _, minter, _ := newTestManager(t, nil)
	old := m.Active()

	next, err := m.Rotate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, next.ID, m.Active().ID)
	assert.Equal(t, old.ID, next.RotatedFrom)
	assert.Equal(t, quota.TierPro, next.Tier)
	assert.Equal(t, []string{old.ID}, minter.calls)

	g, ok := m.Grace()
	require.True(t, ok)
	assert.Equal(t, old.ID, g.ID)
	assert.Equal(t, next.ID, g.SupersededBy)
	assert.Equal(t, start.Add(24*time.Hour), g.GraceExpiresAt)
	assert.Equal(t, PhaseGrace, m.Phase())
}

func TestManager_GraceExpiryReturnsToActive(t *testing.T) {
	m, fake, _, _ := newTestManager(t, nil)
	old := m.Active()
	_, err := m.Rotate(context.Background())
	require.NoError(t, err)

	fake.Advance(24*time.Hour - time.Second)
	_, ok := m.Grace()
	assert.True(t, ok)

	fake.Advance(time.Second)
	_, ok = m.Grace()
	assert.False(t, ok)
	assert.Equal(t, PhaseActive, m.Phase())

	retired, ok := m.Lookup(old.ID)
	require.True(t, ok)
	assert.True(t, retired.GraceElapsed(fake.Now()))
}

func TestManager_ClassifyAuthFailures(t *testing.T) {
	m, fake, _, _ := newTestManager(t, nil)
	old := m.Active()
	_, err := m.Rotate(context.Background())
	require.NoError(t, err)

	rejected := core.WrapError(core.ErrAuthInvalid, errors.New("401"))

	// Inside the window an auth failure is not an expiry.
	fake.Advance(time.Hour)
	got := m.Classify(old.ID, rejected)
	assert.False(t, errors.Is(got, core.ErrAuthExpired))

	fake.Advance(24 * time.Hour)
	got = m.Classify(old.ID, rejected)
	require.True(t, errors.Is(got, core.ErrAuthExpired))
	assert.Equal(t, old.ID, core.CredentialOf(got))

	// The active key is never reported as expired.
	got = m.Classify(m.Active().ID, rejected)
	assert.True(t, errors.Is(got, core.ErrAuthInvalid))
	assert.False(t, errors.Is(got, core.ErrAuthExpired))

	transient := core.Transient(errors.New("timeout"))
	assert.Equal(t, error(transient), m.Classify(old.ID, transient))
}

func TestManager_RotateDuringGraceRefused(t *testing.T) {
	m, fake, minter, _ := newTestManager(t, nil)
	_, err := m.Rotate(context.Background())
	require.NoError(t, err)

	_, err = m.Rotate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrRotationPending))
	assert.Len(t, minter.calls, 1, "service must not be asked for a third key")

	fake.Advance(25 * time.Hour)
	_, err = m.Rotate(context.Background())
	assert.NoError(t, err)
}

func TestManager_RotateFailureKeepsState(t *testing.T) {
	m, _, minter, _ := newTestManager(t, nil)
	before := m.Active()
	minter.err = core.Transient(errors.New("503"))

	_, err := m.Rotate(context.Background())
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, before.ID, m.Active().ID)
	assert.Equal(t, PhaseActive, m.Phase())
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) Save(r Record) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Save(r)
}

func TestManager_RotatePublishesWhenSaveFails(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("disk full")}
	m, fake, _, _ := newTestManager(t, store)
	old := m.Active()

	next, err := m.Rotate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.False(t, next.IsZero())

	assert.Equal(t, next.ID, m.Active().ID)
	assert.Equal(t, PhaseGrace, m.Phase())
	g, ok := m.Grace()
	require.True(t, ok)
	assert.Equal(t, old.ID, g.ID)

	fake.Advance(24*time.Hour + time.Nanosecond)
	rejected := core.WrapError(core.ErrAuthInvalid, errors.New("401"))
	got := m.Classify(old.ID, rejected)
	assert.True(t, errors.Is(got, core.ErrAuthExpired))
	assert.Equal(t, next.ID, m.Active().ID)
}

func TestManager_InfoDelegatesQuota(t *testing.T) {
	m, _, _, tracker := newTestManager(t, nil)
	old := m.Active()
	require.NoError(t, tracker.Commit(old.ID))
	require.NoError(t, tracker.Commit(old.ID))

	info := m.Info()
	assert.Equal(t, quota.TierPro, info.Tier)
	assert.Equal(t, 2, info.Used)
	assert.Equal(t, 10000, info.Limit)
	assert.Equal(t, 9998, info.Remaining)
	assert.Nil(t, info.Grace)
	assert.NotContains(t, info.Key, "original0001")

	_, err := m.Rotate(context.Background())
	require.NoError(t, err)

	info = m.Info()
	assert.Equal(t, PhaseGrace, info.Phase)
	assert.Equal(t, 0, info.Used, "rotation does not transfer quota")
	require.NotNil(t, info.Grace)
	assert.Equal(t, old.ID, info.Grace.CredentialID)
	assert.Equal(t, 2, info.Grace.Used)
}

func TestManager_ConcurrentReadersSeeConsistentState(t *testing.T) {
	m, _, _, _ := newTestManager(t, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := m.current()
				if s.grace != nil {
					assert.Equal(t, s.active.ID, s.grace.SupersededBy)
					assert.Equal(t, s.grace.ID, s.active.RotatedFrom)
				}
			}
		}()
	}

	_, err := m.Rotate(context.Background())
	require.NoError(t, err)
	close(stop)
	wg.Wait()
}

func TestManager_RestoresRotatedKeyFromStore(t *testing.T) {
	store := NewMemoryStore()
	m, _, _, _ := newTestManager(t, store)
	next, err := m.Rotate(context.Background())
	require.NoError(t, err)

	// A second process configured with the original key picks up the rotation.
	m2, _, _, _ := newTestManager(t, store)
	assert.Equal(t, next.ID, m2.Active().ID)
	_, ok := m2.Grace()
	assert.True(t, ok)
}

func TestManager_UnrelatedStoredRecordIgnored(t *testing.T) {
	store := NewMemoryStore()
	other := New("tinkclaw_free_someoneelse", "", nil, start)
	require.NoError(t, store.Save(Record{Active: other}))

	m, _, _, _ := newTestManager(t, store)
	assert.NotEqual(t, other.ID, m.Active().ID)
}

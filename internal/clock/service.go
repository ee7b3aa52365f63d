package clock

import (
	"sync"
	"time"
)

// DayLayout is the calendar-day bucket format.
const DayLayout = "2006-01-02"

// Service is the canonical clock of the remote service. It applies the skew
// observed from server Date headers to a local clock and computes calendar
// days in the service's reference timezone.
type Service struct {
	base Clock
	loc  *time.Location

	mu   sync.RWMutex
	skew time.Duration
}

// NewService creates a service clock. A nil base uses the wall clock and a
// nil location uses UTC.
func NewService(base Clock, loc *time.Location) *Service {
	if base == nil {
		base = Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{base: base, loc: loc}
}

// Now returns the current service time in the reference timezone.
func (s *Service) Now() time.Time {
	s.mu.RLock()
	skew := s.skew
	s.mu.RUnlock()
	return s.base.Now().Add(skew).In(s.loc)
}

// After delegates to the underlying clock.
func (s *Service) After(d time.Duration) <-chan time.Time {
	return s.base.After(d)
}

// Observe records the server's notion of the current time. Date headers
// have one-second resolution, so skew under a second is ignored.
func (s *Service) Observe(server time.Time) {
	if server.IsZero() {
		return
	}
	skew := server.Sub(s.base.Now())
	if skew > -time.Second && skew < time.Second {
		skew = 0
	}
	s.mu.Lock()
	s.skew = skew
	s.mu.Unlock()
}

// Skew returns the last observed offset between service and local time.
func (s *Service) Skew() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skew
}

// Location returns the reference timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Day returns the calendar-day bucket containing t.
func (s *Service) Day(t time.Time) string {
	return t.In(s.loc).Format(DayLayout)
}

// NextDay returns the start of the day following t.
func (s *Service) NextDay(t time.Time) time.Time {
	t = t.In(s.loc)
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
}

package capture

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultFrameRate is the refresh cadence of RefreshScheduler.
const DefaultFrameRate = 60

// Handle identifies a requested frame callback.
type Handle uint64

// FrameScheduler runs callbacks at the next presentation tick. A cancelled callback never
// runs.
type FrameScheduler interface {
	RequestFrame(fn func()) Handle
	CancelFrame(h Handle)
}

// RefreshScheduler fires requested callbacks one refresh interval after the request.
type RefreshScheduler struct {
	clock    clock.Clock
	interval time.Duration

	mu      sync.Mutex
	next    Handle
	pending map[Handle]*clock.Timer
}

// NewRefreshScheduler returns a scheduler ticking at fps frames per second. A nil clock
// means the wall clock.
func NewRefreshScheduler(clk clock.Clock, fps int) *RefreshScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return &RefreshScheduler{
		clock:    clk,
		interval: time.Second / time.Duration(fps),
		pending:  map[Handle]*clock.Timer{},
	}
}

// Interval between ticks.
func (s *RefreshScheduler) Interval() time.Duration { return s.interval }

// RequestFrame schedules fn for the next tick.
func (s *RefreshScheduler) RequestFrame(fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.pending[h] = s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		_, ok := s.pending[h]
		delete(s.pending, h)
		s.mu.Unlock()
		if ok {
			fn()
		}
	})
	return h
}

// CancelFrame deregisters h. It is a no-op for handles that already fired.
func (s *RefreshScheduler) CancelFrame(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[h]; ok {
		t.Stop()
		delete(s.pending, h)
	}
}

// Pending returns the number of callbacks waiting to fire.
func (s *RefreshScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

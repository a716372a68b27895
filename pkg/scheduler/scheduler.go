// Package scheduler provides cancellable timer handles owned by a single
// component. Every simulator component (playback driver, reveal engine,
// sentiment tracker) runs its delayed transitions through its own Scheduler
// so that teardown cancels exactly the timers that component created and
// nothing else.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Scheduler owns a set of pending timer handles backed by a clock.
// The clock is injectable so tests drive time with clock.NewMock().
type Scheduler struct {
	logger *logrus.Entry
	clock  clock.Clock

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool
}

// Handle is a single scheduled callback. Cancelling a handle whose timer
// already fired is a no-op.
type Handle struct {
	sched *Scheduler

	mu        sync.Mutex
	timer     *clock.Timer
	ticker    *clock.Ticker
	done      chan struct{}
	cancelled bool
	fired     bool
}

// New creates a scheduler. A nil clk falls back to the wall clock.
func New(logger *logrus.Logger, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		logger:  logger.WithField("component", "scheduler"),
		clock:   clk,
		handles: make(map[*Handle]struct{}),
	}
}

// Clock returns the scheduler's clock for timestamping state transitions.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Schedule runs fn once after d. The returned handle stays owned by the
// scheduler until it fires or is cancelled.
func (s *Scheduler) Schedule(d time.Duration, fn func()) *Handle {
	h := &Handle{sched: s}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.cancelled = true
		return h
	}
	s.handles[h] = struct{}{}
	s.mu.Unlock()

	h.mu.Lock()
	h.timer = s.clock.AfterFunc(d, func() {
		h.mu.Lock()
		if h.cancelled {
			h.mu.Unlock()
			return
		}
		h.fired = true
		h.mu.Unlock()

		s.release(h)
		fn()
	})
	h.mu.Unlock()

	return h
}

// Every runs fn on a fixed interval until the handle is cancelled or the
// scheduler stops. Ticks that arrive while fn is still running are delivered
// afterwards by the underlying ticker, one at a time.
func (s *Scheduler) Every(d time.Duration, fn func()) *Handle {
	h := &Handle{sched: s, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.cancelled = true
		return h
	}
	s.handles[h] = struct{}{}
	s.mu.Unlock()

	ticker := s.clock.Ticker(d)
	h.mu.Lock()
	h.ticker = ticker
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.mu.Lock()
				cancelled := h.cancelled
				h.mu.Unlock()
				if cancelled {
					return
				}
				fn()
			}
		}
	}()

	return h
}

// Cancel stops the handle. Safe to call more than once and safe to call
// concurrently with the timer firing; a fired handle is left alone.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.cancelled || h.fired {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.ticker != nil {
		h.ticker.Stop()
	}
	if h.done != nil {
		close(h.done)
	}
	h.mu.Unlock()

	if h.sched != nil {
		h.sched.release(h)
	}
}

// release removes a handle from the owner set after it fired or was cancelled.
func (s *Scheduler) release(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Pending reports how many handles have neither fired nor been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Stop cancels every pending handle and refuses new ones. Called on
// component teardown so no callback fires after the owner is gone.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		pending = append(pending, h)
	}
	s.handles = make(map[*Handle]struct{})
	s.mu.Unlock()

	for _, h := range pending {
		h.mu.Lock()
		if !h.cancelled && !h.fired {
			h.cancelled = true
			if h.timer != nil {
				h.timer.Stop()
			}
			if h.ticker != nil {
				h.ticker.Stop()
			}
			if h.done != nil {
				close(h.done)
			}
		}
		h.mu.Unlock()
	}

	if len(pending) > 0 {
		s.logger.WithField("cancelled", len(pending)).Debug("Cancelled pending timers on scheduler stop")
	}
}

package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestScheduler() (*Scheduler, *clock.Mock) {
	mock := clock.NewMock()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(logger, mock), mock
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	s, mock := newTestScheduler()
	defer s.Stop()

	var fired int32
	s.Schedule(100*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	mock.Add(99 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	mock.Add(1 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, s.Pending())
}

func TestCancelPreventsFiring(t *testing.T) {
	s, mock := newTestScheduler()
	defer s.Stop()

	var fired int32
	h := s.Schedule(50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	h.Cancel()

	mock.Add(time.Second)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, s.Pending())
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	s, mock := newTestScheduler()
	defer s.Stop()

	var fired int32
	h := s.Schedule(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	mock.Add(20 * time.Millisecond)
	h.Cancel()
	h.Cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestEveryTicks(t *testing.T) {
	s, mock := newTestScheduler()
	defer s.Stop()

	var ticks int32
	h := s.Every(100*time.Millisecond, func() { atomic.AddInt32(&ticks, 1) })

	for i := 0; i < 4; i++ {
		mock.Add(100 * time.Millisecond)
	}
	// Ticker callbacks run on their own goroutine; give them a beat.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&ticks) == 4
	}, time.Second, 5*time.Millisecond)

	h.Cancel()
	mock.Add(time.Second)
	assert.Equal(t, int32(4), atomic.LoadInt32(&ticks))
}

func TestStopCancelsEverything(t *testing.T) {
	s, mock := newTestScheduler()

	var fired int32
	s.Schedule(100*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Schedule(200*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Every(50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	s.Stop()
	mock.Add(time.Second)

	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, s.Pending())
}

func TestScheduleAfterStopNeverFires(t *testing.T) {
	s, mock := newTestScheduler()
	s.Stop()

	var fired int32
	h := s.Schedule(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	mock.Add(time.Second)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	h.Cancel()
}

package reveal

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicedash-server/pkg/scheduler"
)

type recorder struct {
	mu       sync.Mutex
	prefixes []string
	starts   int
	dones    int
}

func (r *recorder) options(text string, base, startDelay time.Duration) Options {
	return Options{
		Text:       text,
		BaseSpeed:  base,
		StartDelay: startDelay,
		OnStart: func() {
			r.mu.Lock()
			r.starts++
			r.mu.Unlock()
		},
		OnReveal: func(prefix string) {
			r.mu.Lock()
			r.prefixes = append(r.prefixes, prefix)
			r.mu.Unlock()
		},
		OnComplete: func() {
			r.mu.Lock()
			r.dones++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]string, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prefixes...), r.starts, r.dones
}

func newTestEngine(t *testing.T) (*Engine, *clock.Mock, *scheduler.Scheduler) {
	t.Helper()
	mock := clock.NewMock()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	sched := scheduler.New(logger, mock)
	t.Cleanup(sched.Stop)
	return NewEngine(logger, sched, rand.NewSource(1)), mock, sched
}

// All characters in this text belong to deterministic delay classes
// (high-frequency letters, spaces, punctuation, digits), so no jitter is
// drawn and the timing sequence is exact.
func TestDeterministicDelaySequence(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	rec := &recorder{}
	base := 10 * time.Millisecond
	engine.Start(rec.options("Hi there: 42!", base, 5*time.Millisecond))

	// startDelay, then one computed delay per remaining character:
	// i=7ms, ' '=13ms (word "Hi"), t/h/e/r/e=7ms each, ':'=20ms,
	// ' '=13ms (word "there:"), 4/2=14ms each, '!'=30ms.
	delays := []time.Duration{
		5 * time.Millisecond,
		7 * time.Millisecond,
		13 * time.Millisecond,
		7 * time.Millisecond,
		7 * time.Millisecond,
		7 * time.Millisecond,
		7 * time.Millisecond,
		7 * time.Millisecond,
		20 * time.Millisecond,
		13 * time.Millisecond,
		14 * time.Millisecond,
		14 * time.Millisecond,
		30 * time.Millisecond,
	}

	text := "Hi there: 42!"
	for n, d := range delays {
		prefixes, _, _ := rec.snapshot()
		assert.Len(t, prefixes, n, "no character should appear before its delay elapses")

		mock.Add(d - time.Millisecond)
		prefixes, _, _ = rec.snapshot()
		assert.Len(t, prefixes, n)

		mock.Add(time.Millisecond)
		prefixes, _, _ = rec.snapshot()
		require.Len(t, prefixes, n+1)
		assert.Equal(t, string([]rune(text)[:n+1]), prefixes[n])
	}

	_, starts, dones := rec.snapshot()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, dones)
}

func TestLongWordSlowsFollowingSpace(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	rec := &recorder{}
	base := 10 * time.Millisecond
	// "heartiness" is 10 high-frequency letters, so the space after it
	// gets the 2x long-word delay instead of 1.3x.
	r := engine.Start(rec.options("heartiness art", base, 0))

	// First char immediately (startDelay 0), then 9 high-frequency chars.
	mock.Add(0)
	for i := 0; i < 9; i++ {
		mock.Add(7 * time.Millisecond)
	}
	assert.Equal(t, "heartiness", r.Prefix())

	mock.Add(19 * time.Millisecond)
	assert.Equal(t, "heartiness", r.Prefix(), "space should wait the full 2x delay")
	mock.Add(1 * time.Millisecond)
	assert.Equal(t, "heartiness ", r.Prefix())
}

func TestPrefixesAreMonotonicallyGrowing(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	rec := &recorder{}
	text := "Could you verify the account, please?"
	engine.Start(rec.options(text, 10*time.Millisecond, 0))

	mock.Add(10 * time.Second)

	prefixes, starts, dones := rec.snapshot()
	require.Len(t, prefixes, len([]rune(text)))
	for i, p := range prefixes {
		assert.True(t, strings.HasPrefix(text, p), "prefix %d is not a prefix of the text", i)
		if i > 0 {
			assert.Equal(t, len(prefixes[i-1])+1, len(p))
		}
	}
	assert.Equal(t, text, prefixes[len(prefixes)-1])
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, dones)
}

func TestSetTextAbandonsOldReveal(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	rec := &recorder{}
	r := engine.Start(rec.options("this is the original", 10*time.Millisecond, 0))

	mock.Add(0)
	mock.Add(50 * time.Millisecond)
	partial := r.Prefix()
	require.NotEmpty(t, partial)
	require.NotEqual(t, "this is the original", partial)

	r.SetText("short")
	assert.Equal(t, "", r.Prefix(), "restart begins from an empty prefix")

	mock.Add(10 * time.Second)

	prefixes, _, dones := rec.snapshot()
	assert.Equal(t, "short", r.Prefix())
	assert.Equal(t, 1, dones, "only the new reveal completes")
	for _, p := range prefixes[len(prefixes)-5:] {
		assert.True(t, strings.HasPrefix("short", p))
	}
}

func TestStopSuppressesLateCallbacks(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	rec := &recorder{}
	r := engine.Start(rec.options("hello there", 10*time.Millisecond, 0))

	mock.Add(0)
	mock.Add(30 * time.Millisecond)
	r.Stop()

	before, _, _ := rec.snapshot()
	mock.Add(10 * time.Second)
	after, _, dones := rec.snapshot()

	assert.Equal(t, len(before), len(after), "no characters after Stop")
	assert.Equal(t, 0, dones, "OnComplete must not fire after Stop")
	assert.False(t, r.Done())
}

func TestEmptyTextCompletesWithoutCharacters(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	rec := &recorder{}
	engine.Start(rec.options("", 10*time.Millisecond, 5*time.Millisecond))

	mock.Add(5 * time.Millisecond)
	prefixes, starts, dones := rec.snapshot()
	assert.Empty(t, prefixes)
	assert.Equal(t, 0, starts)
	assert.Equal(t, 1, dones)
}

func TestEmptyTextDoneWaitsForStartDelay(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	rec := &recorder{}
	r := engine.Start(rec.options("", 10*time.Millisecond, 5*time.Millisecond))

	mock.Add(4 * time.Millisecond)
	assert.False(t, r.Done(), "completion commits with the scheduled callback, not at start")
	_, _, dones := rec.snapshot()
	assert.Equal(t, 0, dones)

	mock.Add(time.Millisecond)
	require.Eventually(t, r.Done, time.Second, 2*time.Millisecond)
	_, _, dones = rec.snapshot()
	assert.Equal(t, 1, dones)
}

func TestConcurrentRevealsAreIndependent(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	recA := &recorder{}
	recB := &recorder{}
	a := engine.Start(recA.options("one", 10*time.Millisecond, 0))
	b := engine.Start(recB.options("three", 40*time.Millisecond, 0))

	mock.Add(0)
	mock.Add(100 * time.Millisecond)

	assert.Equal(t, "one", a.Prefix())
	assert.True(t, a.Done())
	assert.False(t, b.Done())

	mock.Add(time.Second)
	assert.Equal(t, "three", b.Prefix())
	assert.True(t, b.Done())
}

// Package reveal implements the typed reveal engine: given a message text it
// emits a time-ordered sequence of growing prefixes, one character per timer
// fire, with per-character delays derived from punctuation, word length and
// letter frequency so the cadence reads like live typing.
package reveal

import (
	"math/rand"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/scheduler"
)

// Options configures a single reveal.
type Options struct {
	// Text is the full message to reveal.
	Text string

	// BaseSpeed is the nominal per-character delay.
	BaseSpeed time.Duration

	// StartDelay replaces the computed delay for the very first character.
	StartDelay time.Duration

	// OnStart fires exactly once, immediately before the first character is
	// appended. Optional.
	OnStart func()

	// OnReveal receives every emitted prefix. Optional.
	OnReveal func(prefix string)

	// OnComplete fires exactly once, after the last character. Optional.
	OnComplete func()
}

// Engine creates reveals sharing one scheduler and one seedable random
// source. Reveals for different messages are fully independent; each runs its
// own timer line.
type Engine struct {
	logger *logrus.Entry
	sched  *scheduler.Scheduler

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates a reveal engine. src seeds the jitter applied to
// default-class characters; pass a fixed-seed source in tests for
// deterministic delay sequences.
func NewEngine(logger *logrus.Logger, sched *scheduler.Scheduler, src rand.Source) *Engine {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Engine{
		logger: logger.WithField("component", "reveal"),
		sched:  sched,
		rng:    rand.New(src),
	}
}

// Reveal is one in-progress character stream. All methods are safe for
// concurrent use.
type Reveal struct {
	engine *Engine

	mu     sync.Mutex
	opts   Options
	runes  []rune
	pos    int
	gen    int
	handle *scheduler.Handle
	done   bool
}

// Start begins revealing opts.Text. The first character is scheduled after
// opts.StartDelay.
func (e *Engine) Start(opts Options) *Reveal {
	r := &Reveal{
		engine: e,
		opts:   opts,
		runes:  []rune(opts.Text),
	}

	r.mu.Lock()
	r.schedule(opts.StartDelay, r.gen)
	r.mu.Unlock()

	return r
}

// SetText abandons the in-progress reveal and restarts from an empty prefix
// for the new text. The abandoned reveal emits no further characters and its
// OnComplete never fires.
func (r *Reveal) SetText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
	}
	r.gen++
	r.opts.Text = text
	r.runes = []rune(text)
	r.pos = 0
	r.done = false
	r.schedule(r.opts.StartDelay, r.gen)
}

// Stop abandons the reveal. No further characters are emitted and OnComplete
// does not fire. A timer that races with Stop becomes a no-op.
func (r *Reveal) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
	}
	r.gen++
	r.done = true
}

// Prefix returns the currently revealed prefix.
func (r *Reveal) Prefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.runes[:r.pos])
}

// Done reports whether the full text has been emitted.
func (r *Reveal) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done && r.pos == len(r.runes)
}

// schedule arms the timer for the next character. Caller holds r.mu.
func (r *Reveal) schedule(delay time.Duration, gen int) {
	if r.pos >= len(r.runes) {
		// Empty text: complete without emitting anything. Completion
		// still waits out the delay, so done flips only when the
		// scheduled callback commits it.
		r.handle = r.engine.sched.Schedule(delay, func() {
			r.mu.Lock()
			if gen != r.gen || r.done {
				r.mu.Unlock()
				return
			}
			r.done = true
			r.handle = nil
			onComplete := r.opts.OnComplete
			r.mu.Unlock()

			if onComplete != nil {
				onComplete()
			}
		})
		return
	}

	r.handle = r.engine.sched.Schedule(delay, func() {
		r.step(gen)
	})
}

// step appends one character and arms the timer for the next.
func (r *Reveal) step(gen int) {
	r.mu.Lock()

	if gen != r.gen || r.done {
		r.mu.Unlock()
		return
	}

	first := r.pos == 0
	r.pos++
	prefix := string(r.runes[:r.pos])
	finished := r.pos == len(r.runes)
	if finished {
		r.done = true
		r.handle = nil
	} else {
		next := r.delayFor(r.pos)
		r.schedule(next, gen)
	}

	onStart := r.opts.OnStart
	onReveal := r.opts.OnReveal
	onComplete := r.opts.OnComplete
	r.mu.Unlock()

	if first && onStart != nil {
		onStart()
	}
	if onReveal != nil {
		onReveal(prefix)
	}
	if finished && onComplete != nil {
		onComplete()
	}
}

// delayFor computes the delay for the character about to be appended at
// index i. Caller holds r.mu.
func (r *Reveal) delayFor(i int) time.Duration {
	base := r.opts.BaseSpeed
	ch := r.runes[i]

	switch ch {
	case '.', '!', '?':
		return scale(base, 3.0)
	case ',', ';', ':':
		return scale(base, 2.0)
	case ' ':
		if precedingWordLen(r.runes, i) > 7 {
			return scale(base, 2.0)
		}
		return scale(base, 1.3)
	}

	if unicode.IsDigit(ch) {
		return scale(base, 1.4)
	}

	if unicode.IsLetter(ch) {
		if isHighFrequency(ch) {
			return scale(base, 0.7)
		}
		// Remaining letters get jittered pacing, floored so a low draw
		// never stalls below 0.3x.
		jitter := r.engine.jitter()
		factor := 1.0 + jitter
		if factor < 0.3 {
			factor = 0.3
		}
		return scale(base, factor)
	}

	// Any other symbol.
	return scale(base, 1.3)
}

// jitter draws a uniform value in [-0.25, 0.25).
func (e *Engine) jitter() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()*0.5 - 0.25
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

// precedingWordLen returns the length of the whitespace-delimited word
// immediately before position i.
func precedingWordLen(runes []rune, i int) int {
	n := 0
	for j := i - 1; j >= 0; j-- {
		if unicode.IsSpace(runes[j]) {
			break
		}
		n++
	}
	return n
}

var highFrequencyLetters = map[rune]bool{
	'e': true, 't': true, 'a': true, 'o': true, 'i': true,
	'n': true, 's': true, 'h': true, 'r': true,
}

func isHighFrequency(ch rune) bool {
	return highFrequencyLetters[unicode.ToLower(ch)]
}

// Package call implements the conversation playback driver: a timed state
// machine that replays a scripted dialogue one turn at a time, coordinating
// the waveform cue, the typed reveal and the derived call status, and owning
// the live message list consumed by the dashboard.
package call

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/errors"
	"voicedash-server/pkg/metrics"
	"voicedash-server/pkg/reveal"
	"voicedash-server/pkg/scheduler"
	"voicedash-server/pkg/script"
)

// Config configures a playback driver.
type Config struct {
	CallUUID string
	Turns    []script.Turn
	Timings  Timings

	// Rand seeds the reveal engine's jitter. Nil uses a time-based seed.
	Rand rand.Source
}

// Driver replays a scripted conversation. Each turn passes through four
// strictly ordered phases (scheduled, pending-reveal, reveal-start,
// completion); turn k+1 is only admitted once turn k's completion has
// committed. All mutation happens inside the driver's own scheduled
// callbacks under one lock.
type Driver struct {
	logger   *logrus.Entry
	sched    *scheduler.Scheduler
	engine   *reveal.Engine
	callUUID string
	turns    []script.Turn
	timings  Timings

	mu             sync.Mutex
	status         Status
	currentSpeaker script.Speaker
	messages       []*Message
	index          int
	turnPhase      phase
	started        bool
	stopped        bool
	done           bool
	muted          bool
	phaseHandle    *scheduler.Handle
	activeReveal   *reveal.Reveal
	current        *Message
	turnStartedAt  time.Time

	subMu       sync.RWMutex
	subscribers []Subscriber
}

// NewDriver creates a driver over the given script. The scheduler should be
// owned by the caller and stopped together with the driver.
func NewDriver(logger *logrus.Logger, sched *scheduler.Scheduler, cfg Config) *Driver {
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	return &Driver{
		logger:   logger.WithField("component", "playback_driver").WithField("call_uuid", cfg.CallUUID),
		sched:    sched,
		engine:   reveal.NewEngine(logger, sched, cfg.Rand),
		callUUID: cfg.CallUUID,
		turns:    cfg.Turns,
		timings:  cfg.Timings,
		status:   StatusConnected,
	}
}

// AddSubscriber registers an event subscriber.
func (d *Driver) AddSubscriber(sub Subscriber) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

// RemoveSubscriber removes an event subscriber.
func (d *Driver) RemoveSubscriber(sub Subscriber) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	for i, s := range d.subscribers {
		if s == sub {
			d.subscribers[i] = d.subscribers[len(d.subscribers)-1]
			d.subscribers = d.subscribers[:len(d.subscribers)-1]
			return
		}
	}
}

func (d *Driver) publish(events ...Event) {
	d.subMu.RLock()
	subs := append([]Subscriber(nil), d.subscribers...)
	d.subMu.RUnlock()

	for _, sub := range subs {
		for _, ev := range events {
			sub.OnCallEvent(ev)
		}
	}
}

func (d *Driver) event(t EventType) Event {
	return Event{
		Type:      t,
		CallUUID:  d.callUUID,
		Status:    d.status,
		Speaker:   d.currentSpeaker,
		Timestamp: d.sched.Clock().Now(),
	}
}

// Start begins playback. The first turn enters its scheduled phase after its
// own inter-turn delay, measured from now.
func (d *Driver) Start() {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.status = StatusConnected

	if len(d.turns) == 0 {
		d.done = true
		ev := d.event(EventCallStatus)
		d.mu.Unlock()
		d.publish(ev)
		return
	}

	d.turnPhase = phaseScheduled
	delay := time.Duration(d.turns[d.index].InterTurnDelayMs) * time.Millisecond
	d.phaseHandle = d.sched.Schedule(delay, d.beginTurn)
	ev := d.event(EventCallStatus)
	d.mu.Unlock()

	d.logger.WithField("turns", len(d.turns)).Info("Playback started")
	d.publish(ev)
	metrics.RecordCallStatusChange(d.callUUID, string(StatusConnected))
}

// beginTurn enters pending-reveal: an empty message appears with only the
// waveform cue, and the call status flips to who is about to speak.
func (d *Driver) beginTurn() {
	d.mu.Lock()
	if d.stopped || d.index >= len(d.turns) {
		d.mu.Unlock()
		return
	}

	turn := d.turns[d.index]
	msg := &Message{
		ID:            uuid.NewString(),
		Speaker:       turn.Speaker,
		CreatedAt:     d.sched.Clock().Now(),
		PendingReveal: true,
	}
	d.messages = append(d.messages, msg)
	d.current = msg
	d.turnStartedAt = msg.CreatedAt
	d.currentSpeaker = turn.Speaker
	if turn.Speaker == script.SpeakerCustomer {
		d.status = StatusListening
	} else {
		d.status = StatusProcessing
	}
	d.turnPhase = phasePendingReveal
	d.phaseHandle = d.sched.Schedule(d.timings.waveform(turn.Speaker), d.revealStart)

	statusEv := d.event(EventCallStatus)
	view := msg.view()
	activityEv := d.event(EventVoiceActivity)
	activityEv.Message = &view
	d.mu.Unlock()

	d.publish(statusEv, activityEv)
	metrics.RecordCallStatusChange(d.callUUID, string(statusEv.Status))
}

// revealStart attaches the turn's text and sentiment, flips status to
// speaking, and holds for the settle delay before content becomes visible.
func (d *Driver) revealStart() {
	d.mu.Lock()
	if d.stopped || d.current == nil {
		d.mu.Unlock()
		return
	}

	turn := d.turns[d.index]
	msg := d.current
	msg.Text = turn.Text
	msg.Sentiment = turn.Sentiment
	msg.PendingReveal = false
	d.status = StatusSpeaking
	d.turnPhase = phaseRevealStart
	d.phaseHandle = d.sched.Schedule(d.timings.SettleDelay, d.contentVisible)

	statusEv := d.event(EventCallStatus)
	view := msg.view()
	msgEv := d.event(EventMessageReceived)
	msgEv.Message = &view
	d.mu.Unlock()

	d.publish(statusEv, msgEv)
	metrics.RecordCallStatusChange(d.callUUID, string(StatusSpeaking))
}

// contentVisible shows the (still empty) bubble and starts the typed reveal.
// Turn completion runs on its own timer using the estimated reveal duration;
// the estimate is a deliberate contract, not a measurement.
func (d *Driver) contentVisible() {
	d.mu.Lock()
	if d.stopped || d.current == nil {
		d.mu.Unlock()
		return
	}

	msg := d.current
	msg.ContentVisible = true
	d.turnPhase = phaseRevealing

	speed := d.timings.revealSpeed(msg.Speaker)
	estimate := estimateRevealDuration(msg.Text, speed, d.timings.RevealStartDelay)
	d.phaseHandle = d.sched.Schedule(estimate+d.timings.CompletionBuffer, d.completeTurn)

	d.activeReveal = d.engine.Start(reveal.Options{
		Text:       msg.Text,
		BaseSpeed:  speed,
		StartDelay: d.timings.RevealStartDelay,
		OnStart: func() {
			d.onRevealStart(msg)
		},
		OnReveal: func(prefix string) {
			d.onRevealProgress(msg, prefix)
		},
		OnComplete: func() {
			d.onRevealComplete(msg)
		},
	})

	view := msg.view()
	ev := d.event(EventMessageUpdated)
	ev.Message = &view
	d.mu.Unlock()

	d.publish(ev)
}

func (d *Driver) onRevealStart(msg *Message) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	msg.Revealing = true
	view := msg.view()
	ev := d.event(EventMessageUpdated)
	ev.Message = &view
	d.mu.Unlock()

	d.publish(ev)
}

func (d *Driver) onRevealProgress(msg *Message, prefix string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	msg.Revealed = prefix
	view := msg.view()
	ev := d.event(EventMessageUpdated)
	ev.Message = &view
	d.mu.Unlock()

	d.publish(ev)
	metrics.RecordCharactersRevealed(d.callUUID, 1)
}

func (d *Driver) onRevealComplete(msg *Message) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	msg.Revealing = false
	msg.Revealed = msg.Text
	view := msg.view()
	ev := d.event(EventMessageCompleted)
	ev.Message = &view
	d.mu.Unlock()

	d.publish(ev)
}

// completeTurn commits the turn, resets status to connected and admits the
// next scripted turn (or parks the driver in its idle terminal state).
func (d *Driver) completeTurn() {
	d.mu.Lock()
	if d.stopped || d.index >= len(d.turns) {
		d.mu.Unlock()
		return
	}

	speaker := d.turns[d.index].Speaker
	elapsed := d.sched.Clock().Now().Sub(d.turnStartedAt)
	d.status = StatusConnected
	d.currentSpeaker = ""
	d.current = nil
	d.activeReveal = nil
	d.index++

	if d.index >= len(d.turns) {
		d.done = true
		d.turnPhase = phaseIdle
		d.phaseHandle = nil
	} else {
		d.turnPhase = phaseScheduled
		delay := time.Duration(d.turns[d.index].InterTurnDelayMs) * time.Millisecond
		d.phaseHandle = d.sched.Schedule(delay, d.beginTurn)
	}

	ev := d.event(EventCallStatus)
	done := d.done
	d.mu.Unlock()

	d.publish(ev)
	metrics.RecordCallStatusChange(d.callUUID, string(StatusConnected))
	metrics.RecordTurnCompleted(d.callUUID, string(speaker), elapsed.Seconds())
	if done {
		d.logger.Info("Script exhausted, playback idle")
	}
}

// estimateRevealDuration mirrors the dashboard's authored formula: character
// count times per-character speed with a 1.2 slack factor, plus the reveal
// start delay.
func estimateRevealDuration(text string, speed, startDelay time.Duration) time.Duration {
	chars := len([]rune(text))
	return time.Duration(float64(chars)*float64(speed)*1.2) + startDelay
}

// SubmitUserMessage appends a manually typed message, bypassing the phase
// machine entirely: it arrives fully visible, non-animating, with neutral
// sentiment, and does not touch the turn index or call status. Empty or
// whitespace-only input is rejected, as is sending while the call status is
// processing.
func (d *Driver) SubmitUserMessage(text string) (*MessageView, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		metrics.RecordUserMessageRejected("empty")
		return nil, errors.NewEmptyMessage(map[string]interface{}{"call_uuid": d.callUUID})
	}

	d.mu.Lock()
	if d.status == StatusProcessing {
		d.mu.Unlock()
		metrics.RecordUserMessageRejected("processing")
		return nil, errors.NewSendWhileProcessing(map[string]interface{}{"call_uuid": d.callUUID})
	}

	msg := &Message{
		ID:             uuid.NewString(),
		Speaker:        script.SpeakerCustomer,
		Text:           trimmed,
		Revealed:       trimmed,
		Sentiment:      script.SentimentNeutral,
		CreatedAt:      d.sched.Clock().Now(),
		ContentVisible: true,
		UserSubmitted:  true,
	}
	d.messages = append(d.messages, msg)
	view := msg.view()
	ev := d.event(EventMessageReceived)
	ev.Message = &view
	d.mu.Unlock()

	d.publish(ev)
	metrics.RecordUserMessageAccepted()
	return &view, nil
}

// SetMuted sets the mute flag. The flag has no effect on scheduling.
func (d *Driver) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
}

// Muted returns the mute flag.
func (d *Driver) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// Status returns the current derived call status.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Done reports whether the script has been fully replayed.
func (d *Driver) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Snapshot returns the full render contract state.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	views := make([]MessageView, 0, len(d.messages))
	for _, m := range d.messages {
		views = append(views, m.view())
	}

	return Snapshot{
		CallUUID:       d.callUUID,
		Status:         d.status,
		CurrentSpeaker: d.currentSpeaker,
		Muted:          d.muted,
		Done:           d.done,
		TurnIndex:      d.index,
		Messages:       views,
	}
}

// Stop tears the driver down: the pending phase timer and any in-flight
// reveal are cancelled so no callback fires after Stop returns.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.phaseHandle != nil {
		d.phaseHandle.Cancel()
		d.phaseHandle = nil
	}
	active := d.activeReveal
	d.activeReveal = nil
	d.mu.Unlock()

	if active != nil {
		active.Stop()
	}
	d.logger.Debug("Playback driver stopped")
}

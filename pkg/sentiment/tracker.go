// Package sentiment implements the sentiment/emotion tracker: an
// independent fixed-interval cursor over a scripted timeline of sentiment
// snapshots, with a bounded trailing history for timeline rendering.
package sentiment

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/metrics"
	"voicedash-server/pkg/scheduler"
	"voicedash-server/pkg/script"
)

// Defaults for the tracker's knobs.
const (
	DefaultTickInterval  = 4000 * time.Millisecond
	DefaultHistoryWindow = 8
	DefaultEmotionSlots  = 4
)

// Trend is the derived direction indicator for the current sentiment.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// State is the tracker's full published state after a tick: the adopted
// snapshot values plus the derived presentation values and the trailing
// history (oldest first).
type State struct {
	CallUUID     string                     `json:"call_uuid"`
	OffsetLabel  string                     `json:"offset_label"`
	Label        script.SentimentLabel      `json:"label"`
	Score        int                        `json:"score"`
	Confidence   int                        `json:"confidence"`
	EmotionTags  []string                   `json:"emotion_tags"`
	Trend        Trend                      `json:"trend"`
	GaugePercent int                        `json:"gauge_percent"`
	Alert        bool                       `json:"alert"`
	History      []script.SentimentSnapshot `json:"history"`
	Timestamp    time.Time                  `json:"timestamp"`
}

// Subscriber receives the tracker's state after every adopting tick.
type Subscriber interface {
	OnSentimentUpdate(State)
}

// Config configures a tracker. Zero values fall back to the defaults above
// and to the built-in emotion pool.
type Config struct {
	CallUUID      string
	Timeline      []script.SentimentSnapshot
	TickInterval  time.Duration
	HistoryWindow int
	EmotionSlots  int
	EmotionPool   []string
}

// Tracker advances through a fixed sentiment timeline on its own clock,
// decoupled from conversation playback. The cursor is monotonically
// non-decreasing; once the timeline is exhausted ticks become no-ops and
// the current values freeze. The history list is owned by the tracker and
// mutated only inside its own tick callback.
type Tracker struct {
	logger       *logrus.Entry
	sched        *scheduler.Scheduler
	callUUID     string
	timeline     []script.SentimentSnapshot
	tickInterval time.Duration
	window       int
	slots        int
	pool         []string

	mu      sync.Mutex
	cursor  int
	current script.SentimentSnapshot
	tags    []string
	history []script.SentimentSnapshot
	handle  *scheduler.Handle
	started bool
	stopped bool

	subMu       sync.RWMutex
	subscribers []Subscriber
}

// NewTracker creates a tracker over the given timeline. The cursor starts
// before the first snapshot; the first tick adopts it.
func NewTracker(logger *logrus.Logger, sched *scheduler.Scheduler, cfg Config) *Tracker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.EmotionSlots <= 0 {
		cfg.EmotionSlots = DefaultEmotionSlots
	}
	if cfg.EmotionPool == nil {
		cfg.EmotionPool = script.DefaultEmotionPool()
	}
	return &Tracker{
		logger:       logger.WithField("component", "sentiment_tracker").WithField("call_uuid", cfg.CallUUID),
		sched:        sched,
		callUUID:     cfg.CallUUID,
		timeline:     cfg.Timeline,
		tickInterval: cfg.TickInterval,
		window:       cfg.HistoryWindow,
		slots:        cfg.EmotionSlots,
		pool:         cfg.EmotionPool,
		cursor:       -1,
	}
}

// AddSubscriber registers a state subscriber.
func (t *Tracker) AddSubscriber(sub Subscriber) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.subscribers = append(t.subscribers, sub)
}

// RemoveSubscriber removes a state subscriber.
func (t *Tracker) RemoveSubscriber(sub Subscriber) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	for i, s := range t.subscribers {
		if s == sub {
			t.subscribers[i] = t.subscribers[len(t.subscribers)-1]
			t.subscribers = t.subscribers[:len(t.subscribers)-1]
			return
		}
	}
}

func (t *Tracker) publish(st State) {
	t.subMu.RLock()
	subs := append([]Subscriber(nil), t.subscribers...)
	t.subMu.RUnlock()

	for _, sub := range subs {
		sub.OnSentimentUpdate(st)
	}
}

// Start begins ticking. The first snapshot is adopted one full interval
// after Start, not immediately.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.handle = t.sched.Every(t.tickInterval, t.tick)
	t.mu.Unlock()

	t.logger.WithField("snapshots", len(t.timeline)).Info("Sentiment tracking started")
}

func (t *Tracker) tick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.cursor+1 >= len(t.timeline) {
		// Timeline exhausted: the tick is a no-op and current values
		// stay frozen at the last snapshot.
		t.mu.Unlock()
		metrics.RecordSentimentTick(t.callUUID, "frozen")
		return
	}

	t.cursor++
	snap := t.timeline[t.cursor]
	t.current = snap
	t.tags = buildEmotionTags(snap.EmotionTags, t.pool, t.slots)
	t.history = append(t.history, snap)
	if len(t.history) > t.window {
		t.history = t.history[len(t.history)-t.window:]
	}
	st := t.stateLocked()
	t.mu.Unlock()

	t.publish(st)
	metrics.RecordSentimentTick(t.callUUID, "advanced")
	metrics.RecordSentimentScore(t.callUUID, snap.Score)
	if st.Alert {
		metrics.RecordSentimentAlert(t.callUUID)
	}
}

// Current returns the tracker's published state. Before the first tick the
// zero snapshot is reported with a flat trend and the neutral gauge value.
func (t *Tracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// History returns a copy of the trailing history, oldest first.
func (t *Tracker) History() []script.SentimentSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]script.SentimentSnapshot(nil), t.history...)
}

// Done reports whether the cursor has reached the end of the timeline.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor+1 >= len(t.timeline)
}

func (t *Tracker) stateLocked() State {
	return State{
		CallUUID:     t.callUUID,
		OffsetLabel:  t.current.OffsetLabel,
		Label:        t.current.Label,
		Score:        t.current.Score,
		Confidence:   t.current.Confidence,
		EmotionTags:  append([]string(nil), t.tags...),
		Trend:        trendFor(t.current.Label),
		GaugePercent: gaugeFor(t.current.Label),
		Alert:        t.current.Label == script.SentimentNegative,
		History:      append([]script.SentimentSnapshot(nil), t.history...),
		Timestamp:    t.sched.Clock().Now(),
	}
}

// Stop cancels the tick line. After Stop returns no further state changes
// or subscriber notifications occur.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.handle != nil {
		t.handle.Cancel()
		t.handle = nil
	}
	t.mu.Unlock()

	t.logger.Debug("Sentiment tracker stopped")
}

// buildEmotionTags rebuilds the active tag list for a snapshot: authored
// tags deduplicated in order, capped at the slot count, then padded from
// the default pool without introducing duplicates.
func buildEmotionTags(authored, pool []string, slots int) []string {
	tags := make([]string, 0, slots)
	seen := make(map[string]struct{}, slots)
	for _, tag := range authored {
		if len(tags) == slots {
			break
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	for _, tag := range pool {
		if len(tags) == slots {
			break
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func trendFor(label script.SentimentLabel) Trend {
	switch label {
	case script.SentimentPositive:
		return TrendUp
	case script.SentimentNegative:
		return TrendDown
	default:
		return TrendFlat
	}
}

func gaugeFor(label script.SentimentLabel) int {
	switch label {
	case script.SentimentPositive:
		return 85
	case script.SentimentNegative:
		return 25
	default:
		return 50
	}
}

package sentiment

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicedash-server/pkg/scheduler"
	"voicedash-server/pkg/script"
)

type updateLog struct {
	mu      sync.Mutex
	updates []State
}

func (l *updateLog) OnSentimentUpdate(st State) {
	l.mu.Lock()
	l.updates = append(l.updates, st)
	l.mu.Unlock()
}

func (l *updateLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.updates)
}

func (l *updateLog) last() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updates[len(l.updates)-1]
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *clock.Mock, *updateLog) {
	t.Helper()
	mock := clock.NewMock()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	sched := scheduler.New(logger, mock)
	t.Cleanup(sched.Stop)

	tr := NewTracker(logger, sched, cfg)
	log := &updateLog{}
	tr.AddSubscriber(log)
	return tr, mock, log
}

func waitForUpdates(t *testing.T, log *updateLog, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return log.count() >= n
	}, time.Second, 2*time.Millisecond)
}

func TestTickAdoptsSnapshotsInOrder(t *testing.T) {
	timeline := []script.SentimentSnapshot{
		{OffsetLabel: "0:00", Score: 50, Label: script.SentimentNeutral, Confidence: 70},
		{OffsetLabel: "0:04", Score: 35, Label: script.SentimentNegative, Confidence: 82},
	}
	tr, mock, log := newTestTracker(t, Config{CallUUID: "c1", Timeline: timeline})
	tr.Start()

	mock.Add(DefaultTickInterval)
	waitForUpdates(t, log, 1)
	st := tr.Current()
	assert.Equal(t, "0:00", st.OffsetLabel)
	assert.Equal(t, script.SentimentNeutral, st.Label)
	assert.Equal(t, 70, st.Confidence)

	mock.Add(DefaultTickInterval)
	waitForUpdates(t, log, 2)
	st = tr.Current()
	assert.Equal(t, "0:04", st.OffsetLabel)
	assert.Equal(t, script.SentimentNegative, st.Label)
	assert.True(t, tr.Done())
}

func TestCursorFreezesAtTimelineEnd(t *testing.T) {
	timeline := script.DefaultSentimentTimeline()
	require.Len(t, timeline, 11)

	tr, mock, log := newTestTracker(t, Config{CallUUID: "c1", Timeline: timeline})
	tr.Start()

	for i := 0; i < 11; i++ {
		mock.Add(DefaultTickInterval)
	}
	waitForUpdates(t, log, 11)
	frozen := tr.Current()
	assert.Equal(t, timeline[10].OffsetLabel, frozen.OffsetLabel)
	assert.True(t, tr.Done())

	// Further ticks are no-ops: no new updates, values unchanged.
	for i := 0; i < 5; i++ {
		mock.Add(DefaultTickInterval)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 11, log.count())
	after := tr.Current()
	assert.Equal(t, frozen.OffsetLabel, after.OffsetLabel)
	assert.Equal(t, frozen.Label, after.Label)
	assert.Equal(t, frozen.Confidence, after.Confidence)
	assert.Equal(t, frozen.EmotionTags, after.EmotionTags)
}

func TestHistoryKeepsLastEightOldestFirst(t *testing.T) {
	timeline := script.DefaultSentimentTimeline()
	tr, mock, log := newTestTracker(t, Config{CallUUID: "c1", Timeline: timeline})
	tr.Start()

	for i := 0; i < len(timeline); i++ {
		mock.Add(DefaultTickInterval)
	}
	waitForUpdates(t, log, len(timeline))

	history := tr.History()
	require.Len(t, history, DefaultHistoryWindow)
	assert.Equal(t, timeline[len(timeline)-DefaultHistoryWindow:], history)
}

func TestHistoryNeverExceedsWindowMidStream(t *testing.T) {
	timeline := script.DefaultSentimentTimeline()
	tr, mock, log := newTestTracker(t, Config{CallUUID: "c1", Timeline: timeline})
	tr.Start()

	for i := 0; i < len(timeline); i++ {
		mock.Add(DefaultTickInterval)
		waitForUpdates(t, log, i+1)
		assert.LessOrEqual(t, len(tr.History()), DefaultHistoryWindow)
	}
}

func TestEmotionTagsDedupedCappedPadded(t *testing.T) {
	pool := []string{"calm", "attentive", "curious", "patient"}

	// Duplicates collapse, pool fills the remaining slots.
	tags := buildEmotionTags([]string{"frustrated", "frustrated", "tense"}, pool, 4)
	assert.Equal(t, []string{"frustrated", "tense", "calm", "attentive"}, tags)

	// Authored overflow is capped at the slot count.
	tags = buildEmotionTags([]string{"a", "b", "c", "d", "e"}, pool, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, tags)

	// Pool entries already present are not duplicated while padding.
	tags = buildEmotionTags([]string{"calm"}, pool, 4)
	assert.Equal(t, []string{"calm", "attentive", "curious", "patient"}, tags)

	// No authored tags at all: pure pool fill.
	tags = buildEmotionTags(nil, pool, 4)
	assert.Equal(t, pool, tags)
}

func TestEveryPublishedStateHasBoundedUniqueTags(t *testing.T) {
	timeline := []script.SentimentSnapshot{
		{Score: 40, Label: script.SentimentNegative, EmotionTags: []string{"tense", "tense", "frustrated", "upset", "angry", "weary"}},
		{Score: 60, Label: script.SentimentNeutral, EmotionTags: []string{"calm"}},
	}
	tr, mock, log := newTestTracker(t, Config{CallUUID: "c1", Timeline: timeline})
	tr.Start()

	mock.Add(DefaultTickInterval)
	mock.Add(DefaultTickInterval)
	waitForUpdates(t, log, 2)

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, st := range log.updates {
		assert.LessOrEqual(t, len(st.EmotionTags), DefaultEmotionSlots)
		seen := make(map[string]struct{})
		for _, tag := range st.EmotionTags {
			_, dup := seen[tag]
			assert.False(t, dup, "duplicate tag %q", tag)
			seen[tag] = struct{}{}
		}
	}
}

func TestDerivedPresentationValues(t *testing.T) {
	timeline := []script.SentimentSnapshot{
		{Score: 80, Label: script.SentimentPositive},
		{Score: 30, Label: script.SentimentNegative},
		{Score: 50, Label: script.SentimentNeutral},
	}
	tr, mock, log := newTestTracker(t, Config{CallUUID: "c1", Timeline: timeline})
	tr.Start()

	mock.Add(DefaultTickInterval)
	waitForUpdates(t, log, 1)
	st := log.last()
	assert.Equal(t, TrendUp, st.Trend)
	assert.Equal(t, 85, st.GaugePercent)
	assert.False(t, st.Alert)

	mock.Add(DefaultTickInterval)
	waitForUpdates(t, log, 2)
	st = log.last()
	assert.Equal(t, TrendDown, st.Trend)
	assert.Equal(t, 25, st.GaugePercent)
	assert.True(t, st.Alert, "negative sentiment asserts the alert condition")

	mock.Add(DefaultTickInterval)
	waitForUpdates(t, log, 3)
	st = log.last()
	assert.Equal(t, TrendFlat, st.Trend)
	assert.Equal(t, 50, st.GaugePercent)
	assert.False(t, st.Alert)
}

func TestStateBeforeFirstTickIsNeutralZero(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{CallUUID: "c1", Timeline: script.DefaultSentimentTimeline()})
	tr.Start()

	st := tr.Current()
	assert.Equal(t, TrendFlat, st.Trend)
	assert.Equal(t, 50, st.GaugePercent)
	assert.False(t, st.Alert)
	assert.Empty(t, st.History)
}

func TestStopCancelsTickLine(t *testing.T) {
	tr, mock, log := newTestTracker(t, Config{CallUUID: "c1", Timeline: script.DefaultSentimentTimeline()})
	tr.Start()

	mock.Add(DefaultTickInterval)
	waitForUpdates(t, log, 1)
	tr.Stop()

	before := tr.Current()
	for i := 0; i < 5; i++ {
		mock.Add(DefaultTickInterval)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, log.count(), "no updates after Stop")
	assert.Equal(t, before.OffsetLabel, tr.Current().OffsetLabel)
}

func TestCustomTickInterval(t *testing.T) {
	timeline := []script.SentimentSnapshot{{Score: 50, Label: script.SentimentNeutral}}
	tr, mock, log := newTestTracker(t, Config{
		CallUUID:     "c1",
		Timeline:     timeline,
		TickInterval: time.Second,
	})
	tr.Start()

	mock.Add(900 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, log.count())

	mock.Add(100 * time.Millisecond)
	waitForUpdates(t, log, 1)
	assert.True(t, tr.Done())
}

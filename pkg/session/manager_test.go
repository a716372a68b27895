package session

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicedash-server/pkg/call"
	"voicedash-server/pkg/errors"
	"voicedash-server/pkg/script"
)

func newTestManager(t *testing.T) (*Manager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	m := NewManager(logger, ManagerConfig{Clock: mock})
	t.Cleanup(m.Shutdown)
	return m, mock
}

func TestCreateAndGetSession(t *testing.T) {
	m, _ := newTestManager(t)

	sess, err := m.CreateSession(CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.ID)

	got, err := m.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, m.Count())
}

func TestGetUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GetSession("no-such-session")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionNotFound))
}

func TestListSessions(t *testing.T) {
	m, _ := newTestManager(t)

	first, err := m.CreateSession(CreateOptions{})
	require.NoError(t, err)
	second, err := m.CreateSession(CreateOptions{})
	require.NoError(t, err)

	summaries := m.ListSessions()
	require.Len(t, summaries, 2)

	ids := map[string]bool{}
	for _, s := range summaries {
		ids[s.ID] = true
		assert.Equal(t, call.StatusConnected, s.Status)
		assert.False(t, s.Done)
	}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
}

func TestEndSessionCancelsTimers(t *testing.T) {
	m, mock := newTestManager(t)

	sess, err := m.CreateSession(CreateOptions{
		Turns: []script.Turn{
			{Speaker: script.SpeakerAI, Text: "Hi", InterTurnDelayMs: 1000},
		},
	})
	require.NoError(t, err)

	require.NoError(t, m.EndSession(sess.ID, "api"))
	assert.Equal(t, 0, m.Count())

	_, err = m.GetSession(sess.ID)
	assert.Error(t, err)

	// Timers of the ended session must not fire.
	for i := 0; i < 20; i++ {
		mock.Add(time.Second)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, sess.Driver.Snapshot().Messages)
}

func TestEndUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.EndSession("missing", "api")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionNotFound))
}

func TestSessionRunsScriptsUnderMockClock(t *testing.T) {
	m, mock := newTestManager(t)

	sess, err := m.CreateSession(CreateOptions{
		Turns: []script.Turn{
			{Speaker: script.SpeakerAI, Text: "Hi", InterTurnDelayMs: 500},
		},
		Timeline: []script.SentimentSnapshot{
			{Score: 60, Label: script.SentimentNeutral},
		},
	})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		mock.Add(50 * time.Millisecond)
	}

	require.Eventually(t, sess.Driver.Done, time.Second, 5*time.Millisecond)
	require.Eventually(t, sess.Tracker.Done, time.Second, 5*time.Millisecond)
	snap := sess.Driver.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "Hi", snap.Messages[0].Revealed)
}

func TestManagerSubscribersAttachToNewSessions(t *testing.T) {
	m, mock := newTestManager(t)

	log := &captureSub{}
	m.AddCallSubscriber(log)

	_, err := m.CreateSession(CreateOptions{
		Turns: []script.Turn{
			{Speaker: script.SpeakerAI, Text: "Hi", InterTurnDelayMs: 100},
		},
	})
	require.NoError(t, err)

	mock.Add(200 * time.Millisecond)
	require.Eventually(t, func() bool { return log.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestShutdownEndsEverything(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateSession(CreateOptions{})
	require.NoError(t, err)
	_, err = m.CreateSession(CreateOptions{})
	require.NoError(t, err)

	m.Shutdown()
	assert.Equal(t, 0, m.Count())

	_, err = m.CreateSession(CreateOptions{})
	assert.Error(t, err, "manager accepts no sessions after shutdown")
}

type captureSub struct {
	mu     sync.Mutex
	events []call.Event
}

func (s *captureSub) OnCallEvent(ev call.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

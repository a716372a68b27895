// Package session manages simulated call sessions. Each session owns its
// own scheduler, playback driver and sentiment tracker; ending a session
// cancels every timer the session holds.
package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/call"
	"voicedash-server/pkg/errors"
	"voicedash-server/pkg/metrics"
	"voicedash-server/pkg/scheduler"
	"voicedash-server/pkg/script"
	"voicedash-server/pkg/sentiment"
)

// Session is one simulated call: a playback driver and a sentiment tracker
// sharing a dedicated scheduler.
type Session struct {
	ID        string
	CreatedAt time.Time

	Driver  *call.Driver
	Tracker *sentiment.Tracker

	sched *scheduler.Scheduler
}

// Summary is the session listing shape returned by the API.
type Summary struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Status    call.Status `json:"status"`
	Done      bool        `json:"done"`
	Muted     bool        `json:"muted"`
	TurnIndex int         `json:"turn_index"`
	Messages  int         `json:"messages"`
}

func (s *Session) summary() Summary {
	snap := s.Driver.Snapshot()
	return Summary{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Status:    snap.Status,
		Done:      snap.Done,
		Muted:     snap.Muted,
		TurnIndex: snap.TurnIndex,
		Messages:  len(snap.Messages),
	}
}

// ManagerConfig holds the per-session simulator settings applied to every
// created session.
type ManagerConfig struct {
	Timings               call.Timings
	SentimentTickInterval time.Duration
	SentimentWindow       int
	EmotionSlots          int

	// Clock drives every session's scheduler. Nil uses the wall clock.
	Clock clock.Clock
}

// CreateOptions overrides the default scripts for one session. Nil fields
// fall back to the built-in banking conversation.
type CreateOptions struct {
	Turns    []script.Turn
	Timeline []script.SentimentSnapshot
}

// Manager creates, looks up and tears down sessions. Event subscribers
// registered on the manager are attached to every session it creates.
type Manager struct {
	logger *logrus.Logger
	config ManagerConfig
	clk    clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	callSubs      []call.Subscriber
	sentimentSubs []sentiment.Subscriber
}

// NewManager creates a session manager.
func NewManager(logger *logrus.Logger, config ManagerConfig) *Manager {
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	if config.Timings == (call.Timings{}) {
		config.Timings = call.DefaultTimings()
	}

	logger.WithFields(logrus.Fields{
		"sentiment_tick_interval": config.SentimentTickInterval,
		"sentiment_window":        config.SentimentWindow,
	}).Info("Session manager initialized")

	return &Manager{
		logger:   logger,
		config:   config,
		clk:      clk,
		sessions: make(map[string]*Session),
	}
}

// AddCallSubscriber registers a subscriber attached to every future
// session's playback driver.
func (m *Manager) AddCallSubscriber(sub call.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callSubs = append(m.callSubs, sub)
}

// AddSentimentSubscriber registers a subscriber attached to every future
// session's sentiment tracker.
func (m *Manager) AddSentimentSubscriber(sub sentiment.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentimentSubs = append(m.sentimentSubs, sub)
}

// CreateSession creates and starts a new simulated call.
func (m *Manager) CreateSession(opts CreateOptions) (*Session, error) {
	turns := opts.Turns
	if turns == nil {
		turns = script.DefaultConversation()
	}
	timeline := opts.Timeline
	if timeline == nil {
		timeline = script.DefaultSentimentTimeline()
	}

	id := uuid.NewString()
	sched := scheduler.New(m.logger, m.clk)

	driver := call.NewDriver(m.logger, sched, call.Config{
		CallUUID: id,
		Turns:    turns,
		Timings:  m.config.Timings,
	})
	tracker := sentiment.NewTracker(m.logger, sched, sentiment.Config{
		CallUUID:      id,
		Timeline:      timeline,
		TickInterval:  m.config.SentimentTickInterval,
		HistoryWindow: m.config.SentimentWindow,
		EmotionSlots:  m.config.EmotionSlots,
	})

	sess := &Session{
		ID:        id,
		CreatedAt: m.clk.Now(),
		Driver:    driver,
		Tracker:   tracker,
		sched:     sched,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sched.Stop()
		return nil, errors.New("session manager is shut down")
	}
	for _, sub := range m.callSubs {
		driver.AddSubscriber(sub)
	}
	for _, sub := range m.sentimentSubs {
		tracker.AddSubscriber(sub)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	driver.Start()
	tracker.Start()

	metrics.RecordSessionCreated()
	m.logger.WithFields(logrus.Fields{
		"session_id": id,
		"turns":      len(turns),
		"snapshots":  len(timeline),
	}).Info("Call session created")

	return sess, nil
}

// GetSession returns the session with the given ID.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, errors.NewSessionNotFound(id)
	}
	return sess, nil
}

// ListSessions returns summaries of all live sessions.
func (m *Manager) ListSessions() []Summary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	summaries := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sess.summary())
	}
	return summaries
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EndSession stops a session and cancels all of its timers.
func (m *Manager) EndSession(id, reason string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return errors.NewSessionNotFound(id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.teardown(sess)

	elapsed := m.clk.Now().Sub(sess.CreatedAt)
	metrics.RecordSessionEnded(reason, elapsed.Seconds())
	m.logger.WithFields(logrus.Fields{
		"session_id": id,
		"reason":     reason,
		"duration":   elapsed,
	}).Info("Call session ended")

	return nil
}

// Shutdown ends every session. The manager accepts no new sessions after
// Shutdown returns.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		m.teardown(sess)
		metrics.RecordSessionEnded("shutdown", m.clk.Now().Sub(sess.CreatedAt).Seconds())
	}
	m.logger.WithField("sessions", len(sessions)).Info("Session manager shut down")
}

// teardown stops the session's components in dependency order: the driver
// and tracker cancel their own handles first, then the scheduler sweeps up
// anything left.
func (m *Manager) teardown(sess *Session) {
	sess.Driver.Stop()
	sess.Tracker.Stop()
	sess.sched.Stop()
}

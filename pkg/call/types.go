package call

import (
	"time"

	"voicedash-server/pkg/script"
)

// Status is the coarse call-status indicator derived from the driver's
// position in the turn phase sequence.
type Status string

const (
	StatusConnected  Status = "connected"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

// phase tracks where the in-flight turn sits in its four-phase sequence.
type phase int

const (
	phaseIdle phase = iota
	phaseScheduled
	phasePendingReveal
	phaseRevealStart
	phaseRevealing
)

// Message is one live conversation message. Messages are created empty by
// the phase machine (or fully formed for user submissions) and only grow;
// they are never removed from the transcript.
type Message struct {
	ID        string
	Speaker   script.Speaker
	Text      string
	Revealed  string
	Sentiment script.SentimentLabel
	CreatedAt time.Time

	PendingReveal  bool
	ContentVisible bool
	Revealing      bool
	UserSubmitted  bool
}

// MessageView is the read-only copy handed to the presentation layer.
type MessageView struct {
	ID             string                `json:"id"`
	Speaker        script.Speaker        `json:"speaker"`
	Text           string                `json:"text"`
	Revealed       string                `json:"revealed"`
	Sentiment      script.SentimentLabel `json:"sentiment,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	PendingReveal  bool                  `json:"pending_reveal"`
	ContentVisible bool                  `json:"content_visible"`
	Revealing      bool                  `json:"revealing"`
	UserSubmitted  bool                  `json:"user_submitted"`
}

func (m *Message) view() MessageView {
	return MessageView{
		ID:             m.ID,
		Speaker:        m.Speaker,
		Text:           m.Text,
		Revealed:       m.Revealed,
		Sentiment:      m.Sentiment,
		CreatedAt:      m.CreatedAt,
		PendingReveal:  m.PendingReveal,
		ContentVisible: m.ContentVisible,
		Revealing:      m.Revealing,
		UserSubmitted:  m.UserSubmitted,
	}
}

// Snapshot is the full render contract: everything the presentation layer
// needs to draw the conversation panel.
type Snapshot struct {
	CallUUID       string         `json:"call_uuid"`
	Status         Status         `json:"status"`
	CurrentSpeaker script.Speaker `json:"current_speaker,omitempty"`
	Muted          bool           `json:"muted"`
	Done           bool           `json:"done"`
	TurnIndex      int            `json:"turn_index"`
	Messages       []MessageView  `json:"messages"`
}

// EventType enumerates the driver's outbound event stream.
type EventType string

const (
	EventCallStatus       EventType = "call_status"
	EventVoiceActivity    EventType = "voice_activity"
	EventMessageReceived  EventType = "message_received"
	EventMessageUpdated   EventType = "message_updated"
	EventMessageCompleted EventType = "message_completed"
)

// Event is one state transition published to subscribers.
type Event struct {
	Type      EventType      `json:"type"`
	CallUUID  string         `json:"call_uuid"`
	Status    Status         `json:"status,omitempty"`
	Speaker   script.Speaker `json:"speaker,omitempty"`
	Message   *MessageView   `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscriber receives driver events in real time.
type Subscriber interface {
	OnCallEvent(event Event)
}

// Timings groups every fixed delay in the phase machine. Values mirror the
// scripted dashboard's pacing.
type Timings struct {
	// Waveform (pending-reveal) hold per speaker.
	WaveformAI       time.Duration
	WaveformCustomer time.Duration

	// Settle delay between reveal-start and content becoming visible.
	SettleDelay time.Duration

	// Per-character reveal speed per speaker.
	RevealSpeedAI       time.Duration
	RevealSpeedCustomer time.Duration

	// Delay before the first revealed character.
	RevealStartDelay time.Duration

	// Extra hold after the estimated reveal time before the turn completes.
	CompletionBuffer time.Duration
}

// DefaultTimings returns the scripted dashboard's pacing.
func DefaultTimings() Timings {
	return Timings{
		WaveformAI:          1500 * time.Millisecond,
		WaveformCustomer:    1200 * time.Millisecond,
		SettleDelay:         600 * time.Millisecond,
		RevealSpeedAI:       40 * time.Millisecond,
		RevealSpeedCustomer: 60 * time.Millisecond,
		RevealStartDelay:    300 * time.Millisecond,
		CompletionBuffer:    500 * time.Millisecond,
	}
}

func (t Timings) waveform(speaker script.Speaker) time.Duration {
	if speaker == script.SpeakerCustomer {
		return t.WaveformCustomer
	}
	return t.WaveformAI
}

func (t Timings) revealSpeed(speaker script.Speaker) time.Duration {
	if speaker == script.SpeakerCustomer {
		return t.RevealSpeedCustomer
	}
	return t.RevealSpeedAI
}

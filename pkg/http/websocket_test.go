package http

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicedash-server/pkg/call"
	"voicedash-server/pkg/script"
	"voicedash-server/pkg/sentiment"
	"voicedash-server/pkg/session"
)

func newTestHub(t *testing.T) *DashboardHub {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	manager := session.NewManager(logger, session.ManagerConfig{Clock: clock.NewMock()})
	t.Cleanup(manager.Shutdown)

	hub := NewDashboardHub(logger, manager)
	manager.AddCallSubscriber(hub)
	manager.AddSentimentSubscriber(hub)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	require.Eventually(t, hub.IsRunning, time.Second, 2*time.Millisecond)
	return hub
}

func registerClient(t *testing.T, hub *DashboardHub) *Client {
	t.Helper()
	client := &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		logger: hub.logger,
	}
	hub.register <- client
	require.Eventually(t, func() bool {
		return hub.ClientCount() > 0
	}, time.Second, 2*time.Millisecond)
	return client
}

func receiveEvent(t *testing.T, client *Client) WireEvent {
	t.Helper()
	select {
	case data := <-client.send:
		var ev WireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wire event")
		return WireEvent{}
	}
}

// receiveUntil reads events until one with the given name arrives.
func receiveUntil(t *testing.T, client *Client, event string) WireEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-client.send:
			var ev WireEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			if ev.Event == event {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", event)
			return WireEvent{}
		}
	}
}

func TestHubBroadcastsCallEvents(t *testing.T) {
	hub := newTestHub(t)
	client := registerClient(t, hub)

	hub.OnCallEvent(call.Event{
		Type:      call.EventCallStatus,
		CallUUID:  "c1",
		Status:    call.StatusSpeaking,
		Speaker:   script.SpeakerAI,
		Timestamp: time.Unix(42, 0),
	})

	ev := receiveEvent(t, client)
	assert.Equal(t, "call_status", ev.Event)
	assert.Equal(t, "c1", ev.CallUUID)
}

func TestHubBroadcastsSentimentUpdates(t *testing.T) {
	hub := newTestHub(t)
	client := registerClient(t, hub)

	hub.OnSentimentUpdate(sentiment.State{
		CallUUID:  "c1",
		Label:     script.SentimentPositive,
		Trend:     sentiment.TrendUp,
		Timestamp: time.Unix(42, 0),
	})

	ev := receiveEvent(t, client)
	assert.Equal(t, "sentiment_update", ev.Event)
	assert.Equal(t, "c1", ev.CallUUID)
}

func TestJoinedClientOnlySeesItsCall(t *testing.T) {
	hub := newTestHub(t)
	client := registerClient(t, hub)

	sess, err := hub.manager.CreateSession(session.CreateOptions{})
	require.NoError(t, err)
	hub.joinConversation(client, sess.ID)

	// The join delivers a snapshot event; session creation may have
	// broadcast its initial status first.
	ev := receiveUntil(t, client, "join_conversation")
	assert.Equal(t, sess.ID, ev.CallUUID)

	// Events for another call are filtered out.
	hub.OnCallEvent(call.Event{Type: call.EventCallStatus, CallUUID: "other"})
	hub.OnCallEvent(call.Event{Type: call.EventCallStatus, CallUUID: sess.ID})

	deadline := time.After(200 * time.Millisecond)
	for done := false; !done; {
		select {
		case data := <-client.send:
			var got WireEvent
			require.NoError(t, json.Unmarshal(data, &got))
			assert.NotEqual(t, "other", got.CallUUID)
		case <-deadline:
			done = true
		}
	}
}

func TestEvictedClientRepliesAreDropped(t *testing.T) {
	hub := newTestHub(t)

	client := &Client{
		hub:    hub,
		send:   make(chan []byte, 1),
		logger: hub.logger,
	}
	hub.register <- client
	require.Eventually(t, func() bool {
		return hub.ClientCount() > 0
	}, time.Second, 2*time.Millisecond)

	// Fill the outbound buffer, then broadcast: the hub evicts the slow
	// client and closes its channel.
	client.send <- []byte("backlog")
	hub.OnCallEvent(call.Event{Type: call.EventCallStatus, CallUUID: "c1"})
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 2*time.Millisecond)

	// The read side may still be handling a command for this client; its
	// replies must land nowhere instead of hitting the closed channel.
	require.NotPanics(t, func() {
		client.sendError(fmt.Errorf("stale reply"))
		client.sendEvent(&WireEvent{Event: "send_message", Timestamp: time.Now()})
	})
}

func TestJoinUnknownSessionSendsError(t *testing.T) {
	hub := newTestHub(t)
	client := registerClient(t, hub)

	hub.joinConversation(client, "missing")

	ev := receiveEvent(t, client)
	assert.Equal(t, "error", ev.Event)
}

func TestSendMessageThroughHub(t *testing.T) {
	hub := newTestHub(t)
	client := registerClient(t, hub)

	sess, err := hub.manager.CreateSession(session.CreateOptions{})
	require.NoError(t, err)
	hub.joinConversation(client, sess.ID)
	receiveUntil(t, client, "join_conversation")

	hub.handleSendMessage(client, clientCommand{Event: "send_message", Text: "hi there"})

	// Both the driver's message_received broadcast and the send_message ack
	// arrive; order between them is not fixed.
	receiveUntil(t, client, "send_message")

	snap := sess.Driver.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hi there", snap.Messages[0].Text)
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/call"
	"voicedash-server/pkg/metrics"
	"voicedash-server/pkg/sentiment"
	"voicedash-server/pkg/session"
)

// WireEvent is the envelope for every event sent over the dashboard
// WebSocket channel.
type WireEvent struct {
	Event     string      `json:"event"`
	CallUUID  string      `json:"call_uuid,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// clientCommand is what dashboard clients send upstream: either a
// join_conversation subscription or a send_message submission.
type clientCommand struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Client represents a connected dashboard WebSocket client
type Client struct {
	hub      *DashboardHub
	conn     *websocket.Conn
	send     chan []byte
	logger   *logrus.Logger
	mu       sync.Mutex
	callUUID string // non-empty once the client joined a conversation
	closed   bool   // send is closed; no further writes allowed
}

func (c *Client) call() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callUUID
}

func (c *Client) setCall(id string) {
	c.mu.Lock()
	c.callUUID = id
	c.mu.Unlock()
}

// closeSend closes the outbound channel exactly once. The readPump may
// still be processing a command for an evicted client, so every writer
// to send must hold c.mu and check closed first.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// DashboardHub manages WebSocket clients and fans dashboard events out to
// them. It subscribes to each session's playback driver and sentiment
// tracker through the session manager.
type DashboardHub struct {
	logger          *logrus.Logger
	manager         *session.Manager
	clients         map[*Client]bool
	callSubscribers map[string]map[*Client]bool
	broadcast       chan *WireEvent
	register        chan *Client
	unregister      chan *Client
	mutex           sync.RWMutex
	running         bool
}

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewDashboardHub creates a new dashboard hub.
func NewDashboardHub(logger *logrus.Logger, manager *session.Manager) *DashboardHub {
	return &DashboardHub{
		logger:          logger,
		manager:         manager,
		clients:         make(map[*Client]bool),
		callSubscribers: make(map[string]map[*Client]bool),
		broadcast:       make(chan *WireEvent, 64),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
	}
}

// Run starts the hub loop. It returns when ctx is cancelled.
func (h *DashboardHub) Run(ctx context.Context) {
	h.logger.Info("Starting dashboard WebSocket hub")
	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	defer func() {
		h.mutex.Lock()
		h.running = false
		h.mutex.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down dashboard WebSocket hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			metrics.SetWebSocketClients(count)
			h.logger.Info("Client connected to WebSocket")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				h.dropSubscriptionLocked(client)
				h.logger.Info("Client disconnected from WebSocket")
			}
			count := len(h.clients)
			h.mutex.Unlock()
			metrics.SetWebSocketClients(count)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal dashboard event")
				continue
			}

			h.mutex.Lock()
			// Clients joined to this call get every event for it.
			if subscribers, exists := h.callSubscribers[ev.CallUUID]; exists {
				for client := range subscribers {
					select {
					case client.send <- data:
					default:
						client.closeSend()
						delete(h.clients, client)
						delete(subscribers, client)
					}
				}
			}

			// Clients with no join see everything.
			for client := range h.clients {
				if client.call() != "" {
					continue
				}
				select {
				case client.send <- data:
				default:
					client.closeSend()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// dropSubscriptionLocked removes the client from its call's subscriber set.
// Caller holds h.mutex.
func (h *DashboardHub) dropSubscriptionLocked(client *Client) {
	id := client.call()
	if id == "" {
		return
	}
	if subscribers, exists := h.callSubscribers[id]; exists {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.callSubscribers, id)
		}
	}
}

// OnCallEvent implements call.Subscriber: playback driver events go out on
// the wire as-is.
func (h *DashboardHub) OnCallEvent(ev call.Event) {
	wire := &WireEvent{
		Event:     string(ev.Type),
		CallUUID:  ev.CallUUID,
		Timestamp: ev.Timestamp,
	}
	payload := map[string]interface{}{
		"status":  ev.Status,
		"speaker": ev.Speaker,
	}
	if ev.Message != nil {
		payload["message"] = ev.Message
	}
	wire.Payload = payload
	h.enqueue(wire)
}

// OnSentimentUpdate implements sentiment.Subscriber.
func (h *DashboardHub) OnSentimentUpdate(st sentiment.State) {
	h.enqueue(&WireEvent{
		Event:     "sentiment_update",
		CallUUID:  st.CallUUID,
		Timestamp: st.Timestamp,
		Payload:   st,
	})
}

func (h *DashboardHub) enqueue(ev *WireEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.WithField("event", ev.Event).Warn("Dashboard hub broadcast queue full, dropping event")
	}
}

// IsRunning reports whether the hub loop is active.
func (h *DashboardHub) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// ClientCount returns the number of connected clients.
func (h *DashboardHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWs handles WebSocket requests from dashboard clients.
func (h *DashboardHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
	}

	// A client may join a call straight from the query string.
	if callUUID := r.URL.Query().Get("call_uuid"); callUUID != "" {
		h.joinConversation(client, callUUID)
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// joinConversation subscribes the client to one call's event stream and
// sends it the current state so it can render without waiting for the next
// transition.
func (h *DashboardHub) joinConversation(client *Client, sessionID string) {
	sess, err := h.manager.GetSession(sessionID)
	if err != nil {
		client.sendError(err)
		return
	}

	h.mutex.Lock()
	h.dropSubscriptionLocked(client)
	client.setCall(sessionID)
	if _, exists := h.callSubscribers[sessionID]; !exists {
		h.callSubscribers[sessionID] = make(map[*Client]bool)
	}
	h.callSubscribers[sessionID][client] = true
	h.mutex.Unlock()

	snapshot := map[string]interface{}{
		"call":      sess.Driver.Snapshot(),
		"sentiment": sess.Tracker.Current(),
	}
	client.sendEvent(&WireEvent{
		Event:     "join_conversation",
		CallUUID:  sessionID,
		Timestamp: time.Now(),
		Payload:   snapshot,
	})

	h.logger.WithField("call_uuid", sessionID).Info("Client joined conversation")
}

// handleSendMessage validates and submits a user message for the client's
// joined call.
func (h *DashboardHub) handleSendMessage(client *Client, cmd clientCommand) {
	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = client.call()
	}
	sess, err := h.manager.GetSession(sessionID)
	if err != nil {
		client.sendError(err)
		return
	}

	view, err := sess.Driver.SubmitUserMessage(cmd.Text)
	if err != nil {
		client.sendError(err)
		return
	}

	client.sendEvent(&WireEvent{
		Event:     "send_message",
		CallUUID:  sessionID,
		Timestamp: time.Now(),
		Payload:   view,
	})
}

func (c *Client) sendEvent(ev *WireEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client event")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(err error) {
	c.sendEvent(&WireEvent{
		Event:     "error",
		Timestamp: time.Now(),
		Payload:   map[string]string{"error": err.Error()},
	})
}

// readPump consumes client commands until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendError(err)
			continue
		}

		switch cmd.Event {
		case "join_conversation":
			c.hub.joinConversation(c, cmd.SessionID)
		case "send_message":
			c.hub.handleSendMessage(c, cmd)
		default:
			c.logger.WithField("event", cmd.Event).Debug("Ignoring unknown client event")
		}
	}
}

// writePump pumps events from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Package messaging publishes dashboard events to an AMQP queue. Publishing
// is optional: when no broker is configured the server uses the no-op
// publisher and the simulator runs unaffected.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"voicedash-server/pkg/call"
	"voicedash-server/pkg/errors"
	"voicedash-server/pkg/metrics"
	"voicedash-server/pkg/sentiment"
)

// EventMessage is the wire envelope for every published dashboard event.
type EventMessage struct {
	EventType string      `json:"event_type"`
	CallUUID  string      `json:"call_uuid"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Publisher publishes dashboard events. Implementations must be safe for
// concurrent use; the call driver and sentiment tracker publish from their
// own scheduler callbacks.
type Publisher interface {
	PublishEvent(EventMessage) error
	Connect() error
	Disconnect()
	IsConnected() bool
}

// Config holds AMQP client configuration
type Config struct {
	URL            string
	QueueName      string
	PublishTimeout time.Duration
	ReconnectDelay time.Duration
}

// AMQPClient handles the AMQP connection and event publishing
type AMQPClient struct {
	logger    *logrus.Logger
	config    Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config Config) *AMQPClient {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server and declares the
// event queue.
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.QueueName == "" {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, event publishing disabled")
		return errors.New("AMQP URL or queue name not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return errors.New("connection to AMQP server timed out after 5 seconds")
	}
	if err != nil {
		return errors.Wrap(err, "failed to connect to AMQP server")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to open AMQP channel")
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return errors.Wrap(err, "failed to declare AMQP queue")
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})

	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishEvent publishes one dashboard event to the configured queue.
func (c *AMQPClient) PublishEvent(msg EventMessage) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"call_uuid": msg.CallUUID,
				"recover":   r,
			}).Error("Recovered from panic in AMQP PublishEvent")
		}
	}()

	if !c.IsConnected() {
		return errors.Wrap(errors.ErrPublishFailed, "not connected to AMQP server")
	}

	bodyBytes, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event to JSON")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.PublishTimeout)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			select {
			case <-ctx.Done():
			case publishChan <- errors.New("lost AMQP connection before publishing"):
			}
			return
		}

		err := c.channel.Publish(
			"",                 // exchange
			c.config.QueueName, // routing key
			false,              // mandatory
			false,              // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         bodyBytes,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)

		select {
		case <-ctx.Done():
		case publishChan <- err:
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			return errors.Wrap(err, "failed to publish event to AMQP")
		}
	case <-ctx.Done():
		return errors.Wrap(errors.ErrPublishFailed, "publishing to AMQP timed out")
	}

	c.logger.WithFields(logrus.Fields{
		"call_uuid":  msg.CallUUID,
		"event_type": msg.EventType,
	}).Debug("Published event to AMQP")
	return nil
}

// monitorConnection watches for connection loss and reconnects with backoff.
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				c.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")

				err := c.Connect()
				if err == nil {
					c.logger.Info("Successfully reconnected to AMQP server")
					return
				}

				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

				backoff := time.Duration(1<<uint(attempt-1)) * c.config.ReconnectDelay
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}

				select {
				case <-c.stopChan:
					return
				case <-time.After(backoff):
				}
			}
			return
		}
	}
}

// NoopPublisher discards all events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishEvent(EventMessage) error { return nil }
func (NoopPublisher) Connect() error                  { return nil }
func (NoopPublisher) Disconnect()                     {}
func (NoopPublisher) IsConnected() bool               { return false }

// EventBridge adapts the playback driver's and sentiment tracker's
// subscriber interfaces to a Publisher. Publish failures are logged and
// counted but never propagate back into the simulator's callbacks.
type EventBridge struct {
	logger    *logrus.Entry
	publisher Publisher
}

// NewEventBridge creates a bridge forwarding simulator events to pub.
func NewEventBridge(logger *logrus.Logger, pub Publisher) *EventBridge {
	return &EventBridge{
		logger:    logger.WithField("component", "event_bridge"),
		publisher: pub,
	}
}

// OnCallEvent implements call.Subscriber.
func (b *EventBridge) OnCallEvent(ev call.Event) {
	msg := EventMessage{
		EventType: string(ev.Type),
		CallUUID:  ev.CallUUID,
		Timestamp: ev.Timestamp,
		Payload: map[string]interface{}{
			"status":  ev.Status,
			"speaker": ev.Speaker,
			"message": ev.Message,
		},
	}
	b.forward(msg)
}

// OnSentimentUpdate implements sentiment.Subscriber.
func (b *EventBridge) OnSentimentUpdate(st sentiment.State) {
	msg := EventMessage{
		EventType: "sentiment_update",
		CallUUID:  st.CallUUID,
		Timestamp: st.Timestamp,
		Payload:   st,
	}
	b.forward(msg)
}

func (b *EventBridge) forward(msg EventMessage) {
	err := b.publisher.PublishEvent(msg)
	metrics.RecordEventPublished(msg.EventType, err)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"call_uuid":  msg.CallUUID,
			"event_type": msg.EventType,
		}).Debug("Failed to publish event")
	}
}

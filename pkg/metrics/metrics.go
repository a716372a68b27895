package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Playback metrics
	TurnsCompleted     *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	CharactersRevealed *prometheus.CounterVec
	CallStatusChanges  *prometheus.CounterVec

	// User input metrics
	UserMessagesAccepted prometheus.Counter
	UserMessagesRejected *prometheus.CounterVec

	// Sentiment metrics
	SentimentTicks  *prometheus.CounterVec
	SentimentScore  *prometheus.GaugeVec
	SentimentAlerts *prometheus.CounterVec

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionDuration  *prometheus.HistogramVec
	WebSocketClients prometheus.Gauge

	// Messaging metrics
	EventsPublished   *prometheus.CounterVec
	EventPublishFails *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		TurnsCompleted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_turns_completed_total",
				Help: "Total number of scripted turns driven to completion",
			},
			[]string{"call_uuid", "speaker"},
		)

		TurnDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicedash_turn_duration_seconds",
				Help:    "Wall time from a turn entering pending-reveal to completion",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~1min
			},
			[]string{"speaker"},
		)

		CharactersRevealed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_characters_revealed_total",
				Help: "Total number of characters emitted by the reveal engine",
			},
			[]string{"call_uuid"},
		)

		CallStatusChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_call_status_changes_total",
				Help: "Total number of call status transitions",
			},
			[]string{"call_uuid", "status"},
		)

		UserMessagesAccepted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voicedash_user_messages_accepted_total",
				Help: "Total number of user-submitted messages accepted",
			},
		)

		UserMessagesRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_user_messages_rejected_total",
				Help: "Total number of user-submitted messages rejected",
			},
			[]string{"reason"},
		)

		SentimentTicks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_sentiment_ticks_total",
				Help: "Total number of sentiment tracker ticks, by outcome",
			},
			[]string{"call_uuid", "outcome"},
		)

		SentimentScore = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voicedash_sentiment_score",
				Help: "Current sentiment score (0-100) per call",
			},
			[]string{"call_uuid"},
		)

		SentimentAlerts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_sentiment_alerts_total",
				Help: "Total number of negative-sentiment alert assertions",
			},
			[]string{"call_uuid"},
		)

		ActiveSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicedash_sessions_active",
				Help: "Number of active simulated call sessions",
			},
		)

		SessionsCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voicedash_sessions_created_total",
				Help: "Total number of simulated call sessions created",
			},
		)

		SessionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicedash_session_duration_seconds",
				Help:    "Lifetime of simulated call sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"end_reason"},
		)

		WebSocketClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicedash_websocket_clients",
				Help: "Number of connected dashboard WebSocket clients",
			},
		)

		EventsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_events_published_total",
				Help: "Total number of dashboard events published to the broker",
			},
			[]string{"event_type"},
		)

		EventPublishFails = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicedash_event_publish_failures_total",
				Help: "Total number of failed broker publishes",
			},
			[]string{"event_type"},
		)

		registry.MustRegister(
			TurnsCompleted,
			TurnDuration,
			CharactersRevealed,
			CallStatusChanges,
			UserMessagesAccepted,
			UserMessagesRejected,
			SentimentTicks,
			SentimentScore,
			SentimentAlerts,
			ActiveSessions,
			SessionsCreated,
			SessionDuration,
			WebSocketClients,
			EventsPublished,
			EventPublishFails,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// RecordTurnCompleted records a turn driven through its full phase sequence
func RecordTurnCompleted(callUUID, speaker string, seconds float64) {
	if metricsEnabled && TurnsCompleted != nil {
		TurnsCompleted.WithLabelValues(callUUID, speaker).Inc()
		TurnDuration.WithLabelValues(speaker).Observe(seconds)
	}
}

// RecordCharactersRevealed adds to the revealed character counter
func RecordCharactersRevealed(callUUID string, count int) {
	if metricsEnabled && CharactersRevealed != nil {
		CharactersRevealed.WithLabelValues(callUUID).Add(float64(count))
	}
}

// RecordCallStatusChange records a call status transition
func RecordCallStatusChange(callUUID, status string) {
	if metricsEnabled && CallStatusChanges != nil {
		CallStatusChanges.WithLabelValues(callUUID, status).Inc()
	}
}

// RecordUserMessageAccepted records an accepted user submission
func RecordUserMessageAccepted() {
	if metricsEnabled && UserMessagesAccepted != nil {
		UserMessagesAccepted.Inc()
	}
}

// RecordUserMessageRejected records a rejected user submission
func RecordUserMessageRejected(reason string) {
	if metricsEnabled && UserMessagesRejected != nil {
		UserMessagesRejected.WithLabelValues(reason).Inc()
	}
}

// RecordSentimentTick records one tracker tick
func RecordSentimentTick(callUUID, outcome string) {
	if metricsEnabled && SentimentTicks != nil {
		SentimentTicks.WithLabelValues(callUUID, outcome).Inc()
	}
}

// RecordSentimentScore sets the current sentiment score gauge
func RecordSentimentScore(callUUID string, score int) {
	if metricsEnabled && SentimentScore != nil {
		SentimentScore.WithLabelValues(callUUID).Set(float64(score))
	}
}

// RecordSentimentAlert records a negative-sentiment alert assertion
func RecordSentimentAlert(callUUID string) {
	if metricsEnabled && SentimentAlerts != nil {
		SentimentAlerts.WithLabelValues(callUUID).Inc()
	}
}

// RecordSessionCreated records a new simulated call session
func RecordSessionCreated() {
	if metricsEnabled && SessionsCreated != nil {
		SessionsCreated.Inc()
		ActiveSessions.Inc()
	}
}

// RecordSessionEnded records a session teardown
func RecordSessionEnded(reason string, seconds float64) {
	if metricsEnabled && SessionDuration != nil {
		ActiveSessions.Dec()
		SessionDuration.WithLabelValues(reason).Observe(seconds)
	}
}

// SetWebSocketClients sets the connected dashboard client gauge
func SetWebSocketClients(count int) {
	if metricsEnabled && WebSocketClients != nil {
		WebSocketClients.Set(float64(count))
	}
}

// RecordEventPublished records a broker publish attempt
func RecordEventPublished(eventType string, err error) {
	if !metricsEnabled || EventsPublished == nil {
		return
	}
	if err != nil {
		EventPublishFails.WithLabelValues(eventType).Inc()
		return
	}
	EventsPublished.WithLabelValues(eventType).Inc()
}

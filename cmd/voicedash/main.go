package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/call"
	"voicedash-server/pkg/config"
	http_server "voicedash-server/pkg/http"
	"voicedash-server/pkg/messaging"
	"voicedash-server/pkg/metrics"
	"voicedash-server/pkg/session"
)

var (
	logger    = logrus.New()
	appConfig *config.Config
	manager   *session.Manager
	hub       *http_server.DashboardHub
	publisher messaging.Publisher
	server    *http_server.Server

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	// Set up logger with basic configuration (will be updated after config is loaded)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	if appConfig.HTTP.Enabled {
		server.Start()
		logger.Info("HTTP server started")
	} else {
		logger.Info("HTTP server is disabled by configuration")
	}

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Cancel the root context to stop the WebSocket hub
	rootCancel()

	if server != nil {
		logger.Debug("Shutting down HTTP server...")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down HTTP server")
		} else {
			logger.Info("HTTP server shut down successfully")
		}
	}

	if manager != nil {
		manager.Shutdown()
		logger.Info("Session manager shut down")
	}

	if publisher != nil {
		publisher.Disconnect()
		logger.Info("Event publisher disconnected")
	}

	logger.Info("Application shut down gracefully")
}

func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := appConfig.ApplyLogging(logger); err != nil {
		return fmt.Errorf("failed to apply logging configuration: %w", err)
	}
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	metrics.StartMetrics(logger, appConfig.HTTP.EnableMetrics)

	manager = session.NewManager(logger, session.ManagerConfig{
		Timings: call.Timings{
			WaveformAI:          appConfig.Simulator.AIWaveformDuration,
			WaveformCustomer:    appConfig.Simulator.CustomerWaveformDuration,
			SettleDelay:         appConfig.Simulator.SettleDelay,
			RevealSpeedAI:       appConfig.Simulator.AIRevealSpeed,
			RevealSpeedCustomer: appConfig.Simulator.CustomerRevealSpeed,
			RevealStartDelay:    appConfig.Simulator.RevealStartDelay,
			CompletionBuffer:    appConfig.Simulator.CompletionBuffer,
		},
		SentimentTickInterval: appConfig.Simulator.SentimentTickInterval,
		SentimentWindow:       appConfig.Simulator.SentimentHistoryWindow,
		EmotionSlots:          appConfig.Simulator.EmotionSlots,
	})
	logger.Info("Session manager initialized")

	hub = http_server.NewDashboardHub(logger, manager)
	manager.AddCallSubscriber(hub)
	manager.AddSentimentSubscriber(hub)
	go hub.Run(rootCtx)
	logger.Info("WebSocket hub started")

	publisher = createPublisher()
	bridge := messaging.NewEventBridge(logger, publisher)
	manager.AddCallSubscriber(bridge)
	manager.AddSentimentSubscriber(bridge)

	server = http_server.NewServer(logger, &http_server.Config{
		Port:            appConfig.HTTP.Port,
		Enabled:         appConfig.HTTP.Enabled,
		EnableMetrics:   appConfig.HTTP.EnableMetrics,
		EnableAPI:       appConfig.HTTP.EnableAPI,
		MetricsPath:     "/metrics",
		ReadTimeout:     appConfig.HTTP.ReadTimeout,
		WriteTimeout:    appConfig.HTTP.WriteTimeout,
		ShutdownTimeout: 5 * time.Second,
	}, manager, hub)
	server.SetPublisher(publisher)

	return nil
}

// createPublisher connects to AMQP when a URL is configured and falls back
// to a no-op publisher otherwise. A failed initial connection is not fatal;
// the client keeps reconnecting in the background.
func createPublisher() messaging.Publisher {
	if appConfig.Messaging.AMQPUrl == "" {
		logger.Info("AMQP is not configured, event publishing disabled")
		return messaging.NoopPublisher{}
	}

	client := messaging.NewAMQPClient(logger, messaging.Config{
		URL:            appConfig.Messaging.AMQPUrl,
		QueueName:      appConfig.Messaging.AMQPQueueName,
		PublishTimeout: appConfig.Messaging.PublishTimeout,
		ReconnectDelay: appConfig.Messaging.ReconnectDelay,
	})
	if err := client.Connect(); err != nil {
		logger.WithError(err).Warn("Initial AMQP connection failed, will keep retrying")
	} else {
		logger.WithField("queue", appConfig.Messaging.AMQPQueueName).Info("Connected to AMQP broker")
	}
	return client
}

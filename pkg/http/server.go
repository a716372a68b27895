// Package http exposes the dashboard's backend surface: health and metrics
// endpoints, the session REST API and the WebSocket event channel.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/errors"
	"voicedash-server/pkg/messaging"
	"voicedash-server/pkg/metrics"
	"voicedash-server/pkg/session"
	"voicedash-server/pkg/version"
)

// Server represents the HTTP server for the dashboard backend
type Server struct {
	config             *Config
	logger             *logrus.Logger
	httpServer         *http.Server
	mux                *http.ServeMux
	manager            *session.Manager
	hub                *DashboardHub
	publisher          messaging.Publisher
	startTime          time.Time
	additionalHandlers map[string]http.HandlerFunc
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, config *Config, manager *session.Manager, hub *DashboardHub) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	server := &Server{
		config:             config,
		logger:             logger,
		manager:            manager,
		hub:                hub,
		startTime:          time.Now(),
		additionalHandlers: make(map[string]http.HandlerFunc),
	}

	mux := http.NewServeMux()
	server.mux = mux

	// Wrap handlers with middleware that adds the Server header
	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	mux.HandleFunc("/health", addServerHeader(server.HealthHandler))
	mux.HandleFunc("/health/live", addServerHeader(server.LivenessHandler))
	mux.HandleFunc("/health/ready", addServerHeader(server.ReadinessHandler))
	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	if config.EnableMetrics {
		if registry := metrics.GetRegistry(); registry != nil {
			promHandler := promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					EnableOpenMetrics: true,
					Registry:          registry,
				},
			)
			mux.HandleFunc(config.MetricsPath, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Server", version.ServerHeader())
				promHandler.ServeHTTP(w, r)
			})
			logger.Info("Prometheus metrics endpoint enabled at " + config.MetricsPath)
		}
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	if config.EnableAPI {
		mux.HandleFunc("/api/sessions", addServerHeader(server.handleSessions))
		mux.HandleFunc("/api/sessions/", addServerHeader(server.handleSessionSubtree))
		logger.Info("Session API endpoints enabled")
	}

	if hub != nil {
		mux.HandleFunc("/ws", addServerHeader(hub.ServeWs))
		logger.Info("Dashboard WebSocket endpoint registered at /ws")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// SetPublisher sets the AMQP publisher reference for health checks
func (s *Server) SetPublisher(pub messaging.Publisher) {
	s.publisher = pub
}

// RegisterHandler adds a custom handler to the server
func (s *Server) RegisterHandler(path string, handler http.HandlerFunc) {
	s.additionalHandlers[path] = handler

	if s.mux != nil {
		s.mux.HandleFunc(path, handler)
	}

	s.logger.WithField("path", path).Info("Registered custom HTTP handler")
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		s.logger.Infof("HTTP server listening on port %d", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.WithField("endpoint", "/status").Debug("Status endpoint accessed")

	status := map[string]interface{}{
		"status":          "ok",
		"uptime":          time.Since(s.startTime).String(),
		"version":         version.Version,
		"started_at":      s.startTime.Format(time.RFC3339),
		"active_sessions": s.manager.Count(),
	}
	if s.hub != nil {
		status["websocket_clients"] = s.hub.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}

package http

import "time"

// Config holds the HTTP server configuration
type Config struct {
	// Port is the HTTP server port
	Port int `json:"port"`

	// Enabled determines if the HTTP server should be started
	Enabled bool `json:"enabled"`

	// EnableMetrics determines if the metrics endpoint should be enabled
	EnableMetrics bool `json:"enable_metrics"`

	// EnableAPI determines if the session API endpoints should be enabled
	EnableAPI bool `json:"enable_api"`

	// MetricsPath is the path for the metrics endpoint
	MetricsPath string `json:"metrics_path"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `json:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `json:"write_timeout"`

	// ShutdownTimeout is the maximum duration to wait for the server to shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultConfig returns default configuration for the HTTP server
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		Enabled:         true,
		EnableMetrics:   true,
		EnableAPI:       true,
		MetricsPath:     "/metrics",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

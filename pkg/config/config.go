// Package config loads the server configuration from environment variables,
// with optional .env file discovery.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/errors"
)

// Config is the complete server configuration.
type Config struct {
	// HTTP server settings
	HTTP HTTPConfig `json:"http"`

	// Logging settings
	Logging LoggingConfig `json:"logging"`

	// Messaging (AMQP) settings
	Messaging MessagingConfig `json:"messaging"`

	// Simulator timing settings
	Simulator SimulatorConfig `json:"simulator"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	// HTTP port
	Port int `json:"port" env:"HTTP_PORT" default:"8080"`

	// Whether HTTP server is enabled
	Enabled bool `json:"enabled" env:"HTTP_ENABLED" default:"true"`

	// Whether metrics endpoint is enabled
	EnableMetrics bool `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`

	// Whether API endpoints are enabled
	EnableAPI bool `json:"enable_api" env:"HTTP_ENABLE_API" default:"true"`

	// Read timeout for HTTP requests
	ReadTimeout time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`

	// Write timeout for HTTP responses
	WriteTimeout time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Log level
	Level string `json:"level" env:"LOG_LEVEL" default:"info"`

	// Log format (json or text)
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`

	// Log output file (empty = stdout)
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// MessagingConfig holds AMQP event publishing configuration. Publishing is
// optional: with an empty URL the server runs with a no-op publisher.
type MessagingConfig struct {
	// AMQP URL (empty disables publishing)
	AMQPUrl string `json:"amqp_url" env:"AMQP_URL"`

	// Queue name for dashboard events
	AMQPQueueName string `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME" default:"voicedash_events"`

	// Publish timeout
	PublishTimeout time.Duration `json:"publish_timeout" env:"AMQP_PUBLISH_TIMEOUT" default:"5s"`

	// Reconnection backoff
	ReconnectDelay time.Duration `json:"reconnect_delay" env:"AMQP_RECONNECT_DELAY" default:"5s"`
}

// SimulatorConfig holds every timing knob of the call simulator. The
// defaults are the dashboard's authored values.
type SimulatorConfig struct {
	// Waveform cue duration before an ai turn's text appears
	AIWaveformDuration time.Duration `json:"ai_waveform_duration" env:"SIM_AI_WAVEFORM_DURATION" default:"1500ms"`

	// Waveform cue duration before a customer turn's text appears
	CustomerWaveformDuration time.Duration `json:"customer_waveform_duration" env:"SIM_CUSTOMER_WAVEFORM_DURATION" default:"1200ms"`

	// Settle delay between reveal-start and content becoming visible
	SettleDelay time.Duration `json:"settle_delay" env:"SIM_SETTLE_DELAY" default:"600ms"`

	// Per-character reveal speed for ai turns
	AIRevealSpeed time.Duration `json:"ai_reveal_speed" env:"SIM_AI_REVEAL_SPEED" default:"40ms"`

	// Per-character reveal speed for customer turns
	CustomerRevealSpeed time.Duration `json:"customer_reveal_speed" env:"SIM_CUSTOMER_REVEAL_SPEED" default:"60ms"`

	// Delay before the first character of a reveal
	RevealStartDelay time.Duration `json:"reveal_start_delay" env:"SIM_REVEAL_START_DELAY" default:"300ms"`

	// Buffer added to the estimated reveal duration before turn completion
	CompletionBuffer time.Duration `json:"completion_buffer" env:"SIM_COMPLETION_BUFFER" default:"500ms"`

	// Sentiment tracker tick interval
	SentimentTickInterval time.Duration `json:"sentiment_tick_interval" env:"SIM_SENTIMENT_TICK_INTERVAL" default:"4s"`

	// Trailing sentiment history window
	SentimentHistoryWindow int `json:"sentiment_history_window" env:"SIM_SENTIMENT_HISTORY_WINDOW" default:"8"`

	// Emotion tag display slots
	EmotionSlots int `json:"emotion_slots" env:"SIM_EMOTION_SLOTS" default:"4"`
}

// Load builds the configuration from the environment, trying a few .env
// locations first.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}
	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}
	if err := loadMessagingConfig(logger, &config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}
	if err := loadSimulatorConfig(logger, &config.Simulator); err != nil {
		return nil, errors.Wrap(err, "failed to load simulator configuration")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	httpPortStr := getEnv("HTTP_PORT", "8080")
	httpPort, err := strconv.Atoi(httpPortStr)
	if err != nil || httpPort < 1 || httpPort > 65535 {
		logger.Warn("Invalid HTTP_PORT value, using default: 8080")
		config.Port = 8080
	} else {
		config.Port = httpPort
	}

	config.Enabled = getEnvBool("HTTP_ENABLED", true)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.EnableAPI = getEnvBool("HTTP_ENABLE_API", true)
	config.ReadTimeout = getEnvDuration(logger, "HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration(logger, "HTTP_WRITE_TIMEOUT", 30*time.Second)

	return nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	config.Level = getEnv("LOG_LEVEL", "info")
	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")

	return nil
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) error {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", "voicedash_events")
	config.PublishTimeout = getEnvDuration(logger, "AMQP_PUBLISH_TIMEOUT", 5*time.Second)
	config.ReconnectDelay = getEnvDuration(logger, "AMQP_RECONNECT_DELAY", 5*time.Second)

	if config.AMQPUrl != "" && config.AMQPQueueName == "" {
		logger.Warn("Incomplete AMQP configuration: AMQP_QUEUE_NAME must be provided with AMQP_URL")
	}

	return nil
}

func loadSimulatorConfig(logger *logrus.Logger, config *SimulatorConfig) error {
	config.AIWaveformDuration = getEnvDuration(logger, "SIM_AI_WAVEFORM_DURATION", 1500*time.Millisecond)
	config.CustomerWaveformDuration = getEnvDuration(logger, "SIM_CUSTOMER_WAVEFORM_DURATION", 1200*time.Millisecond)
	config.SettleDelay = getEnvDuration(logger, "SIM_SETTLE_DELAY", 600*time.Millisecond)
	config.AIRevealSpeed = getEnvDuration(logger, "SIM_AI_REVEAL_SPEED", 40*time.Millisecond)
	config.CustomerRevealSpeed = getEnvDuration(logger, "SIM_CUSTOMER_REVEAL_SPEED", 60*time.Millisecond)
	config.RevealStartDelay = getEnvDuration(logger, "SIM_REVEAL_START_DELAY", 300*time.Millisecond)
	config.CompletionBuffer = getEnvDuration(logger, "SIM_COMPLETION_BUFFER", 500*time.Millisecond)
	config.SentimentTickInterval = getEnvDuration(logger, "SIM_SENTIMENT_TICK_INTERVAL", 4*time.Second)

	config.SentimentHistoryWindow = getEnvInt("SIM_SENTIMENT_HISTORY_WINDOW", 8)
	if config.SentimentHistoryWindow < 1 {
		logger.Warn("Invalid SIM_SENTIMENT_HISTORY_WINDOW value, using default: 8")
		config.SentimentHistoryWindow = 8
	}

	config.EmotionSlots = getEnvInt("SIM_EMOTION_SLOTS", 4)
	if config.EmotionSlots < 1 {
		logger.Warn("Invalid SIM_EMOTION_SLOTS value, using default: 4")
		config.EmotionSlots = 4
	}

	return nil
}

// Validate checks cross-field constraints that the per-section loaders
// cannot repair with a default.
func (c *Config) Validate() error {
	var problems []string

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http port out of range: %d", c.HTTP.Port))
	}
	for name, d := range map[string]time.Duration{
		"ai waveform duration":       c.Simulator.AIWaveformDuration,
		"customer waveform duration": c.Simulator.CustomerWaveformDuration,
		"settle delay":               c.Simulator.SettleDelay,
		"ai reveal speed":            c.Simulator.AIRevealSpeed,
		"customer reveal speed":      c.Simulator.CustomerRevealSpeed,
		"sentiment tick interval":    c.Simulator.SentimentTickInterval,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	if c.Simulator.RevealStartDelay < 0 || c.Simulator.CompletionBuffer < 0 {
		problems = append(problems, "reveal start delay and completion buffer must not be negative")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// ApplyLogging applies the logging section to the given logger.
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(logger *logrus.Logger, key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		logger.Warnf("Invalid %s value, using default: %s", key, defaultValue)
		return defaultValue
	}

	return duration
}

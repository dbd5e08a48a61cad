// Package config provides environment configuration for the messaging server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `envconfig:"PORT" default:"8080"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"https://*,http://*"`

	// Message store
	BadgerPath     string `envconfig:"BADGER_PATH" default:"./data/messages"`
	BadgerInMemory bool   `envconfig:"BADGER_IN_MEMORY" default:"false"`

	// NATS event journal, disabled when NATSURL is empty
	NATSURL      string `envconfig:"NATS_URL"`
	NATSCAFile   string `envconfig:"NATS_CA_FILE"`
	NATSCertFile string `envconfig:"NATS_CERT_FILE"`
	NATSKeyFile  string `envconfig:"NATS_KEY_FILE"`
	NATSToken    string `envconfig:"NATS_TOKEN"`

	// JWT settings
	JWTSecret  string   `envconfig:"JWT_SECRET" default:"development-secret-change-in-production"`
	AdminRoles []string `envconfig:"ADMIN_ROLES" default:"admin"`

	// Rate limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	SendRatePerSecond float64       `envconfig:"SEND_RATE_PER_SECOND" default:"5"`
	SendBurst         int           `envconfig:"SEND_BURST" default:"20"`

	// Chat behaviour
	ConnectionBufferSize      int  `envconfig:"CONNECTION_BUFFER_SIZE" default:"64"`
	MaxMessageLength          int  `envconfig:"MAX_MESSAGE_LENGTH" default:"4096"`
	HistoryDefaultPage        int  `envconfig:"HISTORY_DEFAULT_PAGE" default:"50"`
	HistoryMaxPage            int  `envconfig:"HISTORY_MAX_PAGE" default:"200"`
	NotificationPreviewLength int  `envconfig:"NOTIFICATION_PREVIEW_LENGTH" default:"80"`
	ErrorAcks                 bool `envconfig:"ERROR_ACKS" default:"false"`
	DeliverPendingOnJoin      bool `envconfig:"DELIVER_PENDING_ON_JOIN" default:"false"`

	// WebSocket transport
	WSPingInterval  time.Duration `envconfig:"WS_PING_INTERVAL" default:"25s"`
	WSWriteTimeout  time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	WSMaxFrameBytes int64         `envconfig:"WS_MAX_FRAME_BYTES" default:"65536"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Tracing
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
}

// Load reads configuration from a .env file, if present, and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerPort == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.BadgerPath == "" && !c.BadgerInMemory {
		errs = append(errs, errors.New("BADGER_PATH must be set unless BADGER_IN_MEMORY is true"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.ConnectionBufferSize <= 0 {
		errs = append(errs, errors.New("CONNECTION_BUFFER_SIZE must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.HistoryDefaultPage <= 0 || c.HistoryMaxPage < c.HistoryDefaultPage {
		errs = append(errs, errors.New("HISTORY_DEFAULT_PAGE must be positive and not exceed HISTORY_MAX_PAGE"))
	}
	if c.SendRatePerSecond <= 0 || c.SendBurst <= 0 {
		errs = append(errs, errors.New("SEND_RATE_PER_SECOND and SEND_BURST must be positive"))
	}
	if c.WSPingInterval <= 0 || c.WSWriteTimeout <= 0 {
		errs = append(errs, errors.New("WS_PING_INTERVAL and WS_WRITE_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// JournalEnabled reports whether chat events are published to NATS.
func (c *Config) JournalEnabled() bool {
	return c.NATSURL != ""
}

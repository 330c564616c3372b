// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the chat server.
type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	DBURL string `envconfig:"DB_URL"`

	// NatsURL enables the cross-instance relay when set.
	NatsURL      string `envconfig:"NATS_URL"`
	NatsCred     string `envconfig:"NATS_CRED"`
	NatsUser     string `envconfig:"NATS_USER"`
	NatsPassword string `envconfig:"NATS_PASSWORD"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTIssuer string        `envconfig:"JWT_ISS" default:"dmchat"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"168h"`

	// CookieSecure marks the session cookie Secure; disable for plain HTTP.
	CookieSecure bool `envconfig:"COOKIE_SECURE" default:"true"`

	UploadDir     string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	UploadBaseURL string `envconfig:"UPLOAD_BASE_URL" default:"/uploads"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For is
	// believed. Empty means clients are keyed by their socket address.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	ClientBuffer int           `envconfig:"CLIENT_BUFFER" default:"64"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"54s"`
	MaxBodyBytes int64         `envconfig:"MAX_BODY_BYTES" default:"10485760"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// Load reads an optional .env file and decodes the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("internal/config: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings required to serve traffic.
func (c Config) Validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL environment variable is not set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is not set")
	}
	if c.ClientBuffer <= 0 {
		return fmt.Errorf("CLIENT_BUFFER must be positive, got %d", c.ClientBuffer)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d per %s", c.RateLimitRequests, c.RateLimitWindow)
	}
	return nil
}

// Logger builds the process-wide slog logger.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

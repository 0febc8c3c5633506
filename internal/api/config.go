// Package api provides the HTTP facade of OrthoVision: a health surface, the
// applied artifact revision and the /detect inference endpoint.
package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMaxPixels bounds decoded image size.
	DefaultMaxPixels = 64 << 20
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string
	Port int

	AllowedOrigins []string
	BodyLimit      string // e.g. "20M"
	MaxPixels      int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Admission limiting for /detect; a zero RateLimit disables it.
	RateLimit rate.Limit
	RateBurst int

	ResultCacheTTL       time.Duration // 0 disables the outcome cache
	IncludeBoxConfidence bool

	// MetricsPath mounts /metrics on this server when set.
	MetricsPath string

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            8000,
		AllowedOrigins:  []string{"*"},
		BodyLimit:       "20M",
		MaxPixels:       DefaultMaxPixels,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	ws := settings.WebServer

	cfg.Host = ws.Host
	if ws.Port != 0 {
		cfg.Port = ws.Port
	}
	if len(ws.AllowOrigins) > 0 {
		cfg.AllowedOrigins = ws.AllowOrigins
	}
	if ws.BodyLimit != "" {
		cfg.BodyLimit = ws.BodyLimit
	}
	if ws.ReadTimeout > 0 {
		cfg.ReadTimeout = ws.ReadTimeout
	}
	if ws.WriteTimeout > 0 {
		cfg.WriteTimeout = ws.WriteTimeout
	}
	if ws.RateLimit.Enabled && ws.RateLimit.Rate > 0 {
		cfg.RateLimit = rate.Limit(ws.RateLimit.Rate)
		cfg.RateBurst = max(ws.RateLimit.Burst, 1)
	}
	cfg.ResultCacheTTL = ws.ResultCacheTTL
	cfg.IncludeBoxConfidence = settings.Cascade.IncludeBoxConfidence

	// Without a dedicated listener, metrics share the API port.
	if settings.Metrics.Enabled && settings.Metrics.Listen == "" {
		cfg.MetricsPath = settings.Metrics.Path
		if cfg.MetricsPath == "" {
			cfg.MetricsPath = "/metrics"
		}
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("max pixels must be positive")
	}
	return nil
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

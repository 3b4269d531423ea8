// Package config loads runtime configuration from environment variables with
// a small set of flag overrides, and builds the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "PAIRPAD_HUB_LISTEN_ADDR"
	envVarLogFormat       = "PAIRPAD_HUB_LOG_FORMAT"
	envVarLogLevel        = "PAIRPAD_HUB_LOG_LEVEL"
	envVarCatalogPath     = "PAIRPAD_HUB_CATALOG_PATH"
	envVarShutdownTimeout = "PAIRPAD_HUB_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// WebSocket connection knobs.
	envVarWSIdleTimeout        = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "WS_PING_INTERVAL"
	envVarWSSendQueueLen       = "WS_SEND_QUEUE_LEN"
	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultCatalogPath     = "./data/pairpad.db"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultWSSendQueueLen       = 256
	DefaultMaxMessageBytes      = int64(1 << 20) // full-document replication needs room
	DefaultMaxMessagesPerSecond = 100
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr  string
	LogFormat   LogFormat
	LogLevel    slog.Level
	CatalogPath string

	ShutdownTimeout time.Duration

	// AllowedOrigins restricts WebSocket upgrades. Empty means any origin
	// (development default).
	AllowedOrigins []string

	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	WSSendQueueLen       int
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Load builds a Config from the environment, then applies flag overrides.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		ListenAddr:  envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		CatalogPath: envOrDefault(lookup, envVarCatalogPath, DefaultCatalogPath),
		LogFormat:   LogFormat(envOrDefault(lookup, envVarLogFormat, string(LogFormatText))),
	}

	level, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSIdleTimeout, err = envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval, err = envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.WSSendQueueLen, err = envIntOrDefault(lookup, envVarWSSendQueueLen, DefaultWSSendQueueLen); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond); err != nil {
		return Config{}, err
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, int(DefaultMaxMessageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	if raw, ok := lookup(envVarAllowedOrigins); ok && strings.TrimSpace(raw) != "" {
		for _, o := range strings.Split(raw, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	fs := flag.NewFlagSet("pairpad-hub", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "path to the SQLite room catalog")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.WSIdleTimeout <= 0 {
		return fmt.Errorf("%s must be positive", envVarWSIdleTimeout)
	}
	if c.WSPingInterval <= 0 || c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("%s must be positive and below %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if c.WSSendQueueLen <= 0 {
		return fmt.Errorf("%s must be positive", envVarWSSendQueueLen)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxMessagesPerSecond)
	}
	return nil
}

// OriginAllowed reports whether a WebSocket upgrade from the given Origin
// header should be accepted.
func (c Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

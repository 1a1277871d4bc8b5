// Package config parses the orchestrator's command-line flags and
// environment variable overrides into a single validated Config.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the listen address used when neither -addr nor
	// FTL_ORCHESTRATOR_ADDR is set.
	DefaultAddr = ":8085"
	// DefaultListenBacklog documents the accept backlog the original FTL
	// orchestrator used. Go's net package does not expose backlog tuning,
	// so this value is informational only and is logged at startup.
	DefaultListenBacklog = 64
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"

	DefaultShutdownTimeout = 10 * time.Second

	defaultPSKHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	envAddr            = "FTL_ORCHESTRATOR_ADDR"
	envPSK             = "FTL_ORCHESTRATOR_PSK"
	envListenBacklog   = "FTL_ORCHESTRATOR_LISTEN_BACKLOG"
	envLogLevel        = "FTL_ORCHESTRATOR_LOG_LEVEL"
	envLogFormat       = "FTL_ORCHESTRATOR_LOG_FORMAT"
	envShutdownTimeout = "FTL_ORCHESTRATOR_SHUTDOWN_TIMEOUT"
	envRedisAddr       = "FTL_ORCHESTRATOR_REDIS_ADDR"
	envPostgresDSN     = "FTL_ORCHESTRATOR_POSTGRES_DSN"
)

// Config is the fully resolved set of orchestrator runtime settings.
type Config struct {
	Addr            string
	PSK             []byte
	ListenBacklog   int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RedisAddr       string
	PostgresDSN     string

	pskFromDefault bool
}

// Load parses args (typically os.Args[1:]) against flag definitions whose
// defaults are sourced from the environment, then validates the result.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("ftl-orchestrator", flag.ContinueOnError)

	addr := fs.String("addr", envOrDefault(envAddr, DefaultAddr), "TCP address to listen on")
	pskHex := fs.String("tls-psk", envOrDefault(envPSK, ""), "hex-encoded pre-shared key used to derive the TLS identity")
	backlog := fs.Int("listen-backlog", envIntOrDefault(envListenBacklog, DefaultListenBacklog), "informational accept backlog size")
	logLevel := fs.String("log-level", envOrDefault(envLogLevel, DefaultLogLevel), "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", envOrDefault(envLogFormat, DefaultLogFormat), "log output format (json or text)")
	shutdownTimeout := fs.Duration("shutdown-timeout", envDurationOrDefault(envShutdownTimeout, DefaultShutdownTimeout), "grace period for draining connections on shutdown")
	redisAddr := fs.String("cluster-redis-addr", envOrDefault(envRedisAddr, ""), "Redis address for cluster-state mirroring")
	postgresDSN := fs.String("audit-postgres-dsn", envOrDefault(envPostgresDSN, ""), "Postgres DSN for the audit sink")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:            strings.TrimSpace(*addr),
		ListenBacklog:   *backlog,
		LogLevel:        strings.ToLower(strings.TrimSpace(*logLevel)),
		LogFormat:       strings.ToLower(strings.TrimSpace(*logFormat)),
		ShutdownTimeout: *shutdownTimeout,
		RedisAddr:       strings.TrimSpace(*redisAddr),
		PostgresDSN:     strings.TrimSpace(*postgresDSN),
	}

	pskSource := strings.TrimSpace(*pskHex)
	if pskSource == "" {
		pskSource = defaultPSKHex
		cfg.pskFromDefault = true
	}
	psk, err := hex.DecodeString(pskSource)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode tls-psk: %w", err)
	}
	cfg.PSK = psk

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UsingDefaultPSK reports whether the pre-shared key fell back to the
// built-in development default rather than an operator-supplied value.
// Callers should log a warning when this is true outside local testing.
func (c Config) UsingDefaultPSK() bool {
	return c.pskFromDefault
}

// Validate rejects configurations that cannot be used to start the
// orchestrator.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr must not be empty")
	}
	if len(c.PSK) == 0 {
		return fmt.Errorf("config: tls-psk must not be empty")
	}
	if c.ListenBacklog <= 0 {
		return fmt.Errorf("config: listen-backlog must be positive")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown-timeout cannot be negative")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: log-format must be json or text, got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log-level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

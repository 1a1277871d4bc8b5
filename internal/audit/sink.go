package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const writeTimeout = 3 * time.Second

// Config describes how Sink opens and tunes its Postgres connection pool.
type Config struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	Logger              *slog.Logger
}

// Sink is a write-only Postgres-backed audit log. It implements
// orchestrator.AuditSink.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens the connection pool and ensures the audit table exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("audit: postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres pool: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := &Sink{pool: pool, logger: logger}

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ensure schema: %w", err)
	}
	return sink, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS orchestrator_audit_events (
	id                  BIGSERIAL PRIMARY KEY,
	occurred_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	kind                TEXT NOT NULL,
	hostname            TEXT NOT NULL DEFAULT '',
	region_code         TEXT NOT NULL DEFAULT '',
	reason              TEXT NOT NULL DEFAULT '',
	channel_id          BIGINT NOT NULL DEFAULT 0,
	stream_id           BIGINT NOT NULL DEFAULT 0,
	origin_hostname     TEXT NOT NULL DEFAULT '',
	subscriber_hostname TEXT NOT NULL DEFAULT ''
)`

const insertEvent = `
INSERT INTO orchestrator_audit_events
	(kind, hostname, region_code, reason, channel_id, stream_id, origin_hostname, subscriber_hostname)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8)`

// RecordIntro records a node's Intro handshake.
func (s *Sink) RecordIntro(ctx context.Context, hostname, regionCode string) {
	s.insert(ctx, "intro", hostname, regionCode, "", 0, 0, "", "")
}

// RecordOutro records a node's graceful Outro.
func (s *Sink) RecordOutro(ctx context.Context, hostname, reason string) {
	s.insert(ctx, "outro", hostname, "", reason, 0, 0, "", "")
}

// RecordRouteOpened records a route-open decision.
func (s *Sink) RecordRouteOpened(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string) {
	s.insert(ctx, "route_opened", "", "", "", channelID, streamID, originHostname, subscriberHostname)
}

// RecordRouteClosed records a route-close decision.
func (s *Sink) RecordRouteClosed(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string) {
	s.insert(ctx, "route_closed", "", "", "", channelID, streamID, originHostname, subscriberHostname)
}

func (s *Sink) insert(ctx context.Context, kind, hostname, regionCode, reason string, channelID, streamID uint32, originHostname, subscriberHostname string) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.pool.Exec(writeCtx, insertEvent, kind, hostname, regionCode, reason, channelID, streamID, originHostname, subscriberHostname)
	if err != nil {
		s.logger.Warn("audit: insert failed", "kind", kind, "error", err)
	}
}

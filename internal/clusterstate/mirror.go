package clusterstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// routeEvent is the JSON payload published for every open/close decision.
type routeEvent struct {
	Kind               string `json:"kind"`
	ChannelID          uint32 `json:"channelId"`
	StreamID           uint32 `json:"streamId"`
	OriginHostname     string `json:"originHostname"`
	SubscriberHostname string `json:"subscriberHostname"`
}

// Config configures a Mirror.
type Config struct {
	Addr        string
	Username    string
	Password    string
	Stream      string
	Logger      *slog.Logger
	TLSEnabled  bool
	DialTimeout time.Duration
}

// Mirror publishes route open/close events to a Redis stream. It implements
// orchestrator.ClusterMirror. Every publish is best-effort: a Redis outage
// degrades observability, never the routing decision that triggered it.
type Mirror struct {
	client redis.UniversalClient
	stream string
	logger *slog.Logger

	failing atomic.Bool
}

// New constructs a Mirror. The Redis client is created eagerly but
// connection errors only surface on the first publish attempt, matching the
// teacher's lazy-connect Redis client style.
func New(cfg Config) (*Mirror, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("clusterstate: redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "ftl-orchestrator:routes"
	}
	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       []string{addr},
		Username:    strings.TrimSpace(cfg.Username),
		Password:    cfg.Password,
		TLSConfig:   tlsConfig,
		DialTimeout: cfg.DialTimeout,
		MaxRetries:  2,
	})

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{client: client, stream: stream, logger: logger}, nil
}

// Close releases the underlying Redis client.
func (m *Mirror) Close() error {
	return m.client.Close()
}

// RouteOpened publishes a route-opened event.
func (m *Mirror) RouteOpened(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string) {
	m.publish(ctx, routeEvent{
		Kind:               "route_opened",
		ChannelID:          channelID,
		StreamID:           streamID,
		OriginHostname:     originHostname,
		SubscriberHostname: subscriberHostname,
	})
}

// RouteClosed publishes a route-closed event.
func (m *Mirror) RouteClosed(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string) {
	m.publish(ctx, routeEvent{
		Kind:               "route_closed",
		ChannelID:          channelID,
		StreamID:           streamID,
		OriginHostname:     originHostname,
		SubscriberHostname: subscriberHostname,
	})
}

func (m *Mirror) publish(ctx context.Context, event routeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("clusterstate: encode route event", "error", err)
		return
	}
	err = m.client.Do(ctx, "XADD", m.stream, "*", "payload", string(payload)).Err()
	if err != nil {
		if m.failing.CompareAndSwap(false, true) {
			m.logger.Warn("clusterstate: publish failed, further failures suppressed until success", "error", err)
		}
		return
	}
	m.failing.Store(false)
}

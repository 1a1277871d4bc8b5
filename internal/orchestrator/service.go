package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"ftl-orchestrator/internal/connection"
	"ftl-orchestrator/internal/observability/logging"
	"ftl-orchestrator/internal/observability/metrics"
	"ftl-orchestrator/internal/protocol"
	"ftl-orchestrator/internal/store"
)

// ConnectionSummary is a read-only snapshot of one connection's identity and
// load, used for introspection and diagnostics. It never drives a routing
// decision.
type ConnectionSummary struct {
	Handle      store.Handle
	Hostname    string
	RegionCode  string
	RelayLayer  uint8
	State       connection.State
	CurrentLoad uint32
	MaximumLoad uint32
}

// Config wires a Service's collaborators. Metrics, Cluster, and Audit are
// all optional; a nil collaborator is simply skipped.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Cluster ClusterMirror
	Audit   AuditSink
}

// Service is the routing core: it owns the connection manager and the two
// Stores, reacts to the events Connections raise, and issues the StreamRelay
// instructions that open and close routes.
type Service struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
	cluster ClusterMirror
	audit   AuditSink

	streams *store.StreamStore
	subs    *store.SubscriptionStore

	mu       sync.Mutex
	pending  map[store.Handle]*connection.Connection
	active   map[store.Handle]*connection.Connection
	stopping bool

	nextHandle atomic.Uint64
}

// NewService constructs a Service with empty Stores and an empty connection
// manager.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Default()
	}
	return &Service{
		logger:  logging.WithComponent(logger, "orchestrator"),
		metrics: rec,
		cluster: cfg.Cluster,
		audit:   cfg.Audit,
		streams: store.NewStreamStore(),
		subs:    store.NewSubscriptionStore(),
		pending: make(map[store.Handle]*connection.Connection),
		active:  make(map[store.Handle]*connection.Connection),
	}
}

// Accept wires a newly accepted Transport into a Connection bound to this
// Service's event handlers, registers it as pending, and starts it. It
// implements onNewConnection.
func (s *Service) Accept(ctx context.Context, t connection.Transport) *connection.Connection {
	handle := store.Handle(s.nextHandle.Add(1))
	logger := logging.WithComponent(s.logger, "connection").With("connectionId", handle)

	c := connection.New(handle, t, connection.Callbacks{
		OnIntro:            s.onIntro,
		OnOutro:            s.onOutro,
		OnNodeState:        s.onNodeState,
		OnChannelSubscribe: s.onChannelSubscribe,
		OnStreamPublish:    s.onStreamPublish,
		OnStreamRelay:      s.onStreamRelay,
		OnClosed:           s.onClosed,
	}, logger, s.metrics)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = c.Stop()
		return c
	}
	s.pending[handle] = c
	s.mu.Unlock()

	s.metrics.ConnectionStateEntered("pending")
	c.Start(ctx)
	return c
}

// onIntro records the peer's identity and moves it from pending to active.
func (s *Service) onIntro(c *connection.Connection, p protocol.IntroPayload) connection.Result {
	s.mu.Lock()
	delete(s.pending, c.Handle())
	s.active[c.Handle()] = c
	s.mu.Unlock()

	s.metrics.ConnectionStateEntered("active")
	if s.audit != nil {
		hostname := protocol.NormalizeForLog(p.Hostname)
		regionCode := protocol.NormalizeForLog(p.RegionCode)
		go s.audit.RecordIntro(context.Background(), hostname, regionCode)
	}
	return connection.Ok()
}

// onOutro logs the departure notice and marks the connection draining; the
// actual teardown happens when the transport eventually closes.
func (s *Service) onOutro(c *connection.Connection, p protocol.OutroPayload) connection.Result {
	c.MarkDraining()
	hostname := protocol.NormalizeForLog(c.Hostname())
	reason := protocol.NormalizeForLog(p.Reason)
	s.logger.Info("peer sent outro", "hostname", hostname, "reason", reason)
	if s.audit != nil {
		go s.audit.RecordOutro(context.Background(), hostname, reason)
	}
	return connection.Ok()
}

// onNodeState has no routing effect; Connection already applied the load
// counters to its own metadata before invoking this callback.
func (s *Service) onNodeState(c *connection.Connection, p protocol.NodeStatePayload) connection.Result {
	return connection.Ok()
}

// onChannelSubscribe handles both subscribe and unsubscribe intents.
func (s *Service) onChannelSubscribe(c *connection.Connection, p protocol.ChannelSubscriptionPayload) connection.Result {
	if p.IsSubscribe {
		s.subs.Add(c.Handle(), p.ChannelID, p.StreamKey)
		if stream, ok := s.streams.GetByChannel(p.ChannelID); ok && c.State() != connection.StateDraining {
			s.openRoute(stream, c, p.StreamKey)
		}
		return connection.Ok()
	}
	if stream, ok := s.streams.GetByChannel(p.ChannelID); ok {
		s.closeRoute(stream, c)
	}
	s.subs.Remove(c.Handle(), p.ChannelID)
	return connection.Ok()
}

// onStreamPublish handles both publish and unpublish intents.
func (s *Service) onStreamPublish(c *connection.Connection, p protocol.StreamPublishPayload) connection.Result {
	if p.IsPublish {
		stream := store.Stream{ChannelID: p.ChannelID, StreamID: p.StreamID, Origin: c.Handle()}
		if err := s.streams.Add(stream); err != nil {
			s.logger.Warn("rejecting duplicate stream publish", "channelId", p.ChannelID, "error", err)
			return connection.Fail()
		}
		for _, sub := range s.subs.SubscriptionsForChannel(p.ChannelID) {
			subscriber := s.lookupConnection(sub.Subscriber)
			if subscriber == nil || subscriber.State() == connection.StateDraining {
				continue
			}
			s.openRoute(stream, subscriber, sub.StreamKey)
		}
		return connection.Ok()
	}
	// Unpublish sends no closeRoute to existing subscribers; each keeps
	// relaying against a now-gone origin until it disconnects or the
	// stream republishes under a new subscription.
	if _, err := s.streams.Remove(p.ChannelID, p.StreamID); err != nil {
		s.logger.Warn("unpublish for missing stream", "channelId", p.ChannelID, "streamId", p.StreamID, "error", err)
	}
	return connection.Ok()
}

// onStreamRelay accepts and acknowledges inbound StreamRelay frames without
// any routing effect; the orchestrator is normally the sender of this
// message type, not its recipient.
func (s *Service) onStreamRelay(c *connection.Connection, p protocol.StreamRelayPayload) connection.Result {
	return connection.Ok()
}

// onClosed tears down every route and index entry owned by c. Streams that
// disappeared with c are not the subject of a closeRoute: the origin that
// would have relayed them is the connection that just closed.
func (s *Service) onClosed(c *connection.Connection) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	for _, sub := range s.subs.SubscriptionsFor(c.Handle()) {
		if stream, ok := s.streams.GetByChannel(sub.ChannelID); ok {
			s.closeRoute(stream, c)
		}
	}
	s.streams.RemoveAllForConnection(c.Handle())
	s.subs.ClearFor(c.Handle())

	s.mu.Lock()
	delete(s.pending, c.Handle())
	delete(s.active, c.Handle())
	s.mu.Unlock()

	s.metrics.ConnectionStateEntered("closed")
}

// openRoute instructs stream's origin to begin relaying to subscriber,
// carrying streamKey as the subscriber's authorization token.
func (s *Service) openRoute(stream store.Stream, subscriber *connection.Connection, streamKey []byte) {
	origin := s.lookupConnection(stream.Origin)
	if origin == nil {
		return
	}
	err := origin.SendStreamRelay(protocol.StreamRelayPayload{
		IsStartRelay:   true,
		ChannelID:      stream.ChannelID,
		StreamID:       stream.StreamID,
		TargetHostname: subscriber.Hostname(),
		StreamKey:      streamKey,
	})
	if err != nil {
		s.logger.Warn("failed to send openRoute instruction", "error", err)
		return
	}
	s.metrics.RouteOpened()
	originHostname := protocol.NormalizeForLog(origin.Hostname())
	subscriberHostname := protocol.NormalizeForLog(subscriber.Hostname())
	if s.cluster != nil {
		go s.cluster.RouteOpened(context.Background(), stream.ChannelID, stream.StreamID, originHostname, subscriberHostname)
	}
	if s.audit != nil {
		go s.audit.RecordRouteOpened(context.Background(), stream.ChannelID, stream.StreamID, originHostname, subscriberHostname)
	}
}

// closeRoute instructs stream's origin to stop relaying to subscriber. Per
// the documented open design question, it is sent even if subscriber has
// already disconnected; deduplication against a concurrently-closing
// subscriber is not required.
func (s *Service) closeRoute(stream store.Stream, subscriber *connection.Connection) {
	origin := s.lookupConnection(stream.Origin)
	if origin == nil {
		return
	}
	err := origin.SendStreamRelay(protocol.StreamRelayPayload{
		IsStartRelay:   false,
		ChannelID:      stream.ChannelID,
		StreamID:       stream.StreamID,
		TargetHostname: subscriber.Hostname(),
	})
	if err != nil {
		s.logger.Warn("failed to send closeRoute instruction", "error", err)
		return
	}
	s.metrics.RouteClosed()
	originHostname := protocol.NormalizeForLog(origin.Hostname())
	subscriberHostname := protocol.NormalizeForLog(subscriber.Hostname())
	if s.cluster != nil {
		go s.cluster.RouteClosed(context.Background(), stream.ChannelID, stream.StreamID, originHostname, subscriberHostname)
	}
	if s.audit != nil {
		go s.audit.RecordRouteClosed(context.Background(), stream.ChannelID, stream.StreamID, originHostname, subscriberHostname)
	}
}

func (s *Service) lookupConnection(handle store.Handle) *connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.active[handle]; ok {
		return c
	}
	if c, ok := s.pending[handle]; ok {
		return c
	}
	return nil
}

// Snapshot returns a point-in-time view of every connection known to the
// Service, pending or active, for diagnostics and metrics scraping.
func (s *Service) Snapshot() []ConnectionSummary {
	s.mu.Lock()
	conns := make([]*connection.Connection, 0, len(s.active)+len(s.pending))
	for _, c := range s.active {
		conns = append(conns, c)
	}
	for _, c := range s.pending {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	summaries := make([]ConnectionSummary, 0, len(conns))
	for _, c := range conns {
		meta := c.Metadata()
		summaries = append(summaries, ConnectionSummary{
			Handle:      c.Handle(),
			Hostname:    meta.Hostname,
			RegionCode:  meta.RegionCode,
			RelayLayer:  meta.RelayLayer,
			State:       c.State(),
			CurrentLoad: meta.CurrentLoad,
			MaximumLoad: meta.MaximumLoad,
		})
	}
	return summaries
}

// ConnectionsByRegion filters Snapshot to connections whose RegionCode
// matches region exactly.
func (s *Service) ConnectionsByRegion(region string) []ConnectionSummary {
	all := s.Snapshot()
	out := make([]ConnectionSummary, 0, len(all))
	for _, summary := range all {
		if summary.RegionCode == region {
			out = append(out, summary)
		}
	}
	return out
}

// Stop marks the Service stopping, snapshots and stops every known
// connection outside any lock, then clears both Stores. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	conns := make([]*connection.Connection, 0, len(s.active)+len(s.pending))
	for _, c := range s.active {
		conns = append(conns, c)
	}
	for _, c := range s.pending {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Stop()
	}

	s.streams.Clear()
	s.subs.Clear()

	s.mu.Lock()
	s.pending = make(map[store.Handle]*connection.Connection)
	s.active = make(map[store.Handle]*connection.Connection)
	s.mu.Unlock()
}

package orchestrator

import "context"

// ClusterMirror receives a best-effort mirror of routing decisions for
// fleet-wide observability. It is never consulted to make a routing
// decision — only notified after the fact — and its failures never affect
// the routing core.
type ClusterMirror interface {
	RouteOpened(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string)
	RouteClosed(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string)
}

// AuditSink receives a best-effort, write-only record of Intro/Outro events
// and routing decisions for post-hoc operator debugging. Like ClusterMirror,
// it is never read back into the routing core.
type AuditSink interface {
	RecordIntro(ctx context.Context, hostname, regionCode string)
	RecordOutro(ctx context.Context, hostname, reason string)
	RecordRouteOpened(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string)
	RecordRouteClosed(ctx context.Context, channelID, streamID uint32, originHostname, subscriberHostname string)
}

// Package clusterstate mirrors routing decisions to a Redis stream so other
// orchestrator replicas and fleet dashboards can tail a shared view of route
// open/close events. It is additive telemetry: the in-memory Stores remain
// the only source of truth for routing, and a publish failure here never
// blocks or fails a routing decision.
package clusterstate

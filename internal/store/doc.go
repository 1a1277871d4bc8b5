// Package store holds the orchestrator's two thread-safe in-memory indices:
// StreamStore (published streams) and SubscriptionStore (channel
// subscriptions). Neither store knows about connections, routing, or the
// wire protocol — they are pure bookkeeping, each guarded by its own mutex.
package store

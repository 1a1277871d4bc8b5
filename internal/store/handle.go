package store

// Handle is an opaque, process-local identifier for a connection. The
// orchestrator assigns handles from a monotonic counter when a connection is
// accepted; stores index Streams and Subscriptions by Handle rather than by
// a pointer to the connection itself, so that store membership never pins a
// live reference to a Connection in memory (see DESIGN.md on cyclic
// references).
type Handle uint64

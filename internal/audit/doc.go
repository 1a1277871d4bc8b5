// Package audit persists a write-only log of Intro/Outro events and route
// open/close decisions to Postgres for post-hoc debugging across
// orchestrator restarts. It is an operational trail, not routing state: the
// in-memory Stores remain the only input to routing decisions, and nothing
// here is ever read back into the routing core.
package audit

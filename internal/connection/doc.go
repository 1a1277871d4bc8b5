// Package connection implements the per-peer message framing state machine:
// it reassembles wire frames delivered by a Transport, validates and
// dispatches typed payloads to upper-layer callbacks, assigns outbound
// messageIds, and tracks the connection's lifecycle from acceptance through
// close.
package connection

// Package protocol implements the FTL Orchestrator wire format: a 4-byte
// header followed by a type-specific payload, all integers big-endian
// regardless of host order. The package only concerns itself with framing
// and payload encoding; it knows nothing about sockets or connection state.
package protocol

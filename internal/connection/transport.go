package connection

import "context"

// Transport is the narrow capability a Connection needs from its underlying
// byte stream. internal/transport.Transport satisfies this interface
// structurally; tests substitute a recording fake (see transport_fake_test.go).
type Transport interface {
	// Start performs the handshake and returns once it has completed,
	// successfully or not. On success the transport begins delivering
	// frames to the callback registered via OnFrame.
	Start(ctx context.Context) error

	// Send enqueues frame for writing and returns without blocking on
	// socket readiness, as long as buffer space is available.
	Send(frame []byte) error

	// Stop initiates a graceful shutdown. Idempotent.
	Stop() error

	// OnFrame registers the callback invoked with each chunk of bytes
	// read from the peer. Chunks are not aligned to protocol message
	// boundaries.
	OnFrame(func([]byte))

	// OnClosed registers the callback invoked exactly once when the
	// transport has finished closing, whether due to Stop(), a peer
	// disconnect, or a fatal I/O error.
	OnClosed(func(error))
}

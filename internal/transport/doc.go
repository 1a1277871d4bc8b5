// Package transport implements the TLS transport connections use to move
// framed bytes between the orchestrator and a peer node. Authentication is a
// pre-shared key rather than a certificate authority: both sides derive the
// same self-signed identity from the PSK and verify the peer's certificate
// carries the expected public key instead of trusting any CA.
package transport

package transport

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pskSaltLabel      = "ftl-orchestrator-psk-identity"
	pskKeyDerivations = 120000
	pskSeedLength     = ed25519.SeedSize
)

// derivePSKIdentity turns a shared secret into a deterministic Ed25519
// keypair. Every node configured with the same PSK derives the identical
// keypair, so the certificate it presents on the wire is reproducible
// without ever exchanging key material.
func derivePSKIdentity(psk []byte) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if len(psk) == 0 {
		return nil, nil, fmt.Errorf("transport: empty pre-shared key")
	}
	seed := pbkdf2.Key(psk, []byte(pskSaltLabel), pskKeyDerivations, pskSeedLength, sha256.New)
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv, nil
}

// selfSignedCert builds a self-signed certificate around the keypair
// derived from the PSK. Its validity window is wide: the certificate exists
// only to carry the public key through the TLS handshake, not to prove
// anything about time.
func selfSignedCert(pub ed25519.PublicKey, priv ed25519.PrivateKey) (tls.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "orchestrator"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(100, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(nil, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: create self-signed certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// verifyPeerPublicKey builds a VerifyPeerCertificate callback that accepts a
// handshake only when the peer's leaf certificate carries expectedPub. It
// ignores Go's chain-of-trust verification entirely (there is no CA) and
// substitutes a direct public key comparison.
func verifyPeerPublicKey(expectedPub ed25519.PublicKey) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("transport: peer presented no certificate")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("transport: parse peer certificate: %w", err)
		}
		peerPub, ok := leaf.PublicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("transport: peer certificate key is not Ed25519")
		}
		if !peerPub.Equal(expectedPub) {
			return fmt.Errorf("transport: peer public key does not match shared secret")
		}
		return nil
	}
}

package transport

import "crypto/tls"

// NewServerTLSConfig builds the tls.Config an orchestrator listener uses to
// accept connections from nodes holding the same pre-shared key. Both sides
// present and verify the same derived identity, so ClientAuth is set to
// RequireAnyClientCert and the real check happens in VerifyPeerCertificate.
func NewServerTLSConfig(psk []byte) (*tls.Config, error) {
	pub, priv, err := derivePSKIdentity(psk)
	if err != nil {
		return nil, err
	}
	cert, err := selfSignedCert(pub, priv)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeerPublicKey(pub),
		MinVersion:            tls.VersionTLS13,
		MaxVersion:            tls.VersionTLS13,
	}, nil
}

// NewClientTLSConfig builds the tls.Config a node uses to dial the
// orchestrator with the same pre-shared key.
func NewClientTLSConfig(psk []byte) (*tls.Config, error) {
	pub, priv, err := derivePSKIdentity(psk)
	if err != nil {
		return nil, err
	}
	cert, err := selfSignedCert(pub, priv)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeerPublicKey(pub),
		MinVersion:            tls.VersionTLS13,
		MaxVersion:            tls.VersionTLS13,
	}, nil
}

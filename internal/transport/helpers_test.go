package transport

import (
	"crypto/tls"
	"net"
)

func tlsServer(conn net.Conn, cfg *tls.Config) net.Conn {
	return tls.Server(conn, cfg)
}

func tlsClient(conn net.Conn, cfg *tls.Config) net.Conn {
	return tls.Client(conn, cfg)
}

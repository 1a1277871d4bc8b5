package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"ftl-orchestrator/internal/connection"
	"ftl-orchestrator/internal/observability/logging"
	"ftl-orchestrator/internal/transport"
)

// DefaultAddr is the listen address used when Config.Addr is empty.
const DefaultAddr = ":8085"

// AcceptFunc wires a freshly handshaking Transport into the connection
// manager. It is satisfied by (*orchestrator.Service).Accept.
type AcceptFunc func(ctx context.Context, t connection.Transport) *connection.Connection

// Config configures Run.
type Config struct {
	Addr      string
	TLSConfig *tls.Config
	Accept    AcceptFunc
	Logger    *slog.Logger
	// Ready, if non-nil, is closed once the listen socket is bound.
	Ready chan<- struct{}
}

// Run opens a TCP listen socket, accepts connections in a loop, and wraps
// each one in a TLS server transport before handing it to cfg.Accept. It
// blocks until ctx is cancelled or the accept loop hits a fatal error. A
// listener Close() triggered by ctx cancellation is not treated as fatal.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Accept == nil {
		return fmt.Errorf("listener: accept handler is required")
	}
	if cfg.TLSConfig == nil {
		return fmt.Errorf("listener: TLS config is required")
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "listener")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listener: listen on %s: %w", addr, err)
	}

	if cfg.Ready != nil {
		close(cfg.Ready)
	}
	logger.Info("listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("listener: accept: %w", err)
			}
			go handleAccepted(gctx, conn, cfg, logger)
		}
	})
	return g.Wait()
}

func handleAccepted(ctx context.Context, conn net.Conn, cfg Config, logger *slog.Logger) {
	tlsConn := tls.Server(conn, cfg.TLSConfig)
	t := transport.NewTLSTransport(tlsConn)
	c := cfg.Accept(ctx, t)
	logger.Debug("accepted connection", "remoteAddr", conn.RemoteAddr().String(), "connectionId", c.Handle())
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// readDeadline bounds each Read call so the read pump wakes periodically to
// notice context cancellation and Stop() instead of blocking forever on an
// idle socket.
const readDeadline = 200 * time.Millisecond

// readBufferSize is the chunk size handed to OnFrame callbacks. Frames are
// not aligned to these boundaries; the connection layer reassembles them.
const readBufferSize = 4096

// sendQueueDepth bounds how many outbound frames can be buffered before
// Send blocks the caller.
const sendQueueDepth = 64

// TLSTransport is the connection.Transport implementation used for every
// peer socket: ingest, edge, and relay nodes alike authenticate with the
// same pre-shared-key TLS handshake.
type TLSTransport struct {
	conn net.Conn

	mu        sync.Mutex
	onFrame   func([]byte)
	onClosed  func(error)
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	sendCh chan []byte
	cancel context.CancelFunc
}

// NewTLSTransport wraps an already-dialed or already-accepted net.Conn. The
// caller is expected to have performed (or to be about to perform, via
// Start) the TLS handshake appropriate to its role.
func NewTLSTransport(conn net.Conn) *TLSTransport {
	return &TLSTransport{
		conn:   conn,
		closed: make(chan struct{}),
		sendCh: make(chan []byte, sendQueueDepth),
	}
}

// OnFrame registers the inbound byte-chunk callback. Must be called before Start.
func (t *TLSTransport) OnFrame(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFrame = fn
}

// OnClosed registers the terminal-close callback. Must be called before Start.
func (t *TLSTransport) OnClosed(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

// Start performs the TLS handshake (if conn is a *tls.Conn, Handshake is
// invoked explicitly so errors surface here rather than on first Read/Write)
// and launches the read and write pumps.
func (t *TLSTransport) Start(ctx context.Context) error {
	type handshaker interface {
		HandshakeContext(context.Context) error
	}
	if hs, ok := t.conn.(handshaker); ok {
		if err := hs.HandshakeContext(ctx); err != nil {
			wrapped := fmt.Errorf("transport: TLS handshake: %w", err)
			t.finish(wrapped)
			return wrapped
		}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(pumpCtx)
	g.Go(func() error { return t.readPump(gctx) })
	g.Go(func() error { return t.writePump(gctx) })

	go func() {
		err := g.Wait()
		if pumpCtx.Err() != nil {
			// Stop() cancelled the pumps; the closed-socket error that
			// follows is the expected result of a clean shutdown.
			err = nil
		}
		t.finish(err)
	}()

	return nil
}

// Send enqueues frame for writing. It does not block on socket readiness;
// it only blocks if the outbound queue is full, which signals a peer that
// has stopped reading.
func (t *TLSTransport) Send(frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case t.sendCh <- buf:
		return nil
	case <-t.closed:
		return fmt.Errorf("transport: send on closed transport")
	}
}

// Stop initiates a graceful shutdown. Idempotent.
func (t *TLSTransport) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = t.conn.Close()
	if cancel == nil {
		// No pumps are running to report the close, so publish it here.
		t.finish(nil)
	}
	return nil
}

// CloseError returns the error that caused the transport to close, or nil
// for a clean Stop().
func (t *TLSTransport) CloseError() error {
	<-t.closed
	return t.closeErr
}

func (t *TLSTransport) finish(err error) {
	_ = t.conn.Close()
	t.closeOnce.Do(func() {
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		t.closeErr = err
		close(t.closed)
		t.mu.Lock()
		cb := t.onClosed
		t.mu.Unlock()
		if cb != nil {
			cb(err)
		}
	})
}

func (t *TLSTransport) readPump(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	type deadlineSetter interface {
		SetReadDeadline(time.Time) error
	}
	dl, _ := t.conn.(deadlineSetter)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if dl != nil {
			_ = dl.SetReadDeadline(time.Now().Add(readDeadline))
		}
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.mu.Lock()
			cb := t.onFrame
			t.mu.Unlock()
			if cb != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				cb(chunk)
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
	}
}

func (t *TLSTransport) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-t.sendCh:
			if _, err := t.conn.Write(frame); err != nil {
				return err
			}
		}
	}
}

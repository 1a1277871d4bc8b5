package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"ftl-orchestrator/internal/observability/metrics"
	"ftl-orchestrator/internal/protocol"
	"ftl-orchestrator/internal/store"
)

// Callbacks are the seven upward notifications a Connection emits. Each
// request handler returns a Result that becomes the response's failure bit;
// OnClosed carries no result since there is no peer left to answer.
type Callbacks struct {
	OnIntro            func(*Connection, protocol.IntroPayload) Result
	OnOutro            func(*Connection, protocol.OutroPayload) Result
	OnNodeState        func(*Connection, protocol.NodeStatePayload) Result
	OnChannelSubscribe func(*Connection, protocol.ChannelSubscriptionPayload) Result
	OnStreamPublish    func(*Connection, protocol.StreamPublishPayload) Result
	OnStreamRelay      func(*Connection, protocol.StreamRelayPayload) Result
	OnClosed           func(*Connection)
}

// Metadata captures the fields a Connection learns about its peer, in full
// or in part, over its lifetime.
type Metadata struct {
	Hostname        string
	VersionMajor    uint8
	VersionMinor    uint8
	VersionRevision uint8
	RelayLayer      uint8
	RegionCode      string
	CurrentLoad     uint32
	MaximumLoad     uint32
}

// Connection drives one peer's lifecycle and message framing over a
// Transport. It is safe for concurrent use; framing and dispatch happen on
// whichever goroutine the Transport delivers bytes on.
type Connection struct {
	handle    store.Handle
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Recorder
	callbacks Callbacks

	mu       sync.Mutex
	state    State
	meta     Metadata
	buf      []byte
	pending  *protocol.Header
	closeErr error

	nextMessageID atomic.Uint32
	closeOnce     sync.Once
}

// New constructs a Connection bound to transport, identified by handle for
// store/index purposes. callbacks must be fully populated before Start is
// called; New itself performs no I/O. rec is optional; a nil rec falls back
// to metrics.Default().
func New(handle store.Handle, transport Transport, callbacks Callbacks, logger *slog.Logger, rec *metrics.Recorder) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Default()
	}
	c := &Connection{
		handle:    handle,
		transport: transport,
		logger:    logger,
		metrics:   rec,
		callbacks: callbacks,
		state:     StateNew,
	}
	transport.OnFrame(c.onTransportBytes)
	transport.OnClosed(c.onTransportClosed)
	return c
}

// Handle returns the opaque store handle identifying this connection.
func (c *Connection) Handle() store.Handle { return c.handle }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metadata returns a snapshot of everything learned about the peer so far.
func (c *Connection) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// Hostname returns the peer's hostname, learned from its first Intro. Empty
// until then.
func (c *Connection) Hostname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta.Hostname
}

// Start transitions New->Handshaking and begins the transport handshake in
// a background goroutine. Handshake failure surfaces as an immediate
// OnClosed notification, matching the transport's async start contract.
func (c *Connection) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateNew {
		c.mu.Unlock()
		return
	}
	c.state = StateHandshaking
	c.mu.Unlock()

	go func() {
		err := c.transport.Start(ctx)
		c.mu.Lock()
		if err != nil {
			c.mu.Unlock()
			return // onTransportClosed will fire with the handshake error
		}
		if c.state == StateHandshaking {
			c.state = StatePending
		}
		c.mu.Unlock()
	}()
}

// MarkDraining moves an Active connection to Draining without touching the
// transport. Routes already open through this connection continue to be
// honored; callers should stop issuing new routes once draining.
func (c *Connection) MarkDraining() {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateDraining
	}
	c.mu.Unlock()
}

// Stop initiates local shutdown: moves to Draining and asks the transport to
// close. Idempotent.
func (c *Connection) Stop() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDraining
	c.mu.Unlock()
	return c.transport.Stop()
}

// nextID assigns the next outbound messageId, wrapping at 256.
func (c *Connection) nextID() uint8 {
	return uint8(c.nextMessageID.Add(1) - 1)
}

// --- outbound sends ---

func (c *Connection) SendIntro(p protocol.IntroPayload) error {
	return c.send(protocol.MessageIntro, p)
}

func (c *Connection) SendOutro(p protocol.OutroPayload) error {
	return c.send(protocol.MessageOutro, p)
}

func (c *Connection) SendNodeState(p protocol.NodeStatePayload) error {
	return c.send(protocol.MessageNodeState, p)
}

func (c *Connection) SendChannelSubscription(p protocol.ChannelSubscriptionPayload) error {
	return c.send(protocol.MessageChannelSubscription, p)
}

func (c *Connection) SendStreamPublish(p protocol.StreamPublishPayload) error {
	return c.send(protocol.MessageStreamPublish, p)
}

func (c *Connection) SendStreamRelay(p protocol.StreamRelayPayload) error {
	return c.send(protocol.MessageStreamRelay, p)
}

type marshaler interface {
	Marshal() ([]byte, error)
}

func (c *Connection) send(msgType protocol.MessageType, p marshaler) error {
	payload, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	if len(payload) > 0xFFFF {
		return fmt.Errorf("%s payload of %d bytes exceeds u16 length prefix", msgType, len(payload))
	}
	header := protocol.Header{
		Direction:     protocol.Request,
		Type:          msgType,
		MessageID:     c.nextID(),
		PayloadLength: uint16(len(payload)),
	}
	frame := header.Append(make([]byte, 0, protocol.HeaderLength+len(payload)))
	frame = append(frame, payload...)
	return c.transport.Send(frame)
}

func (c *Connection) sendResponse(messageID uint8, success bool) {
	header := protocol.Header{
		Direction: protocol.Response,
		Failure:   !success,
		MessageID: messageID,
	}
	if err := c.transport.Send(header.Serialize()); err != nil {
		c.logger.Warn("failed to send response frame", "error", err, "messageId", messageID)
	}
}

// --- inbound framing ---

func (c *Connection) onTransportBytes(data []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, data...)
	c.drainLocked()
	c.mu.Unlock()
}

// drainLocked must be called with c.mu held. It parses as many complete
// header+payload frames as the buffer currently contains.
func (c *Connection) drainLocked() {
	for {
		if c.pending == nil {
			if len(c.buf) < protocol.HeaderLength {
				return
			}
			header, err := protocol.ParseHeader(c.buf)
			if err != nil {
				return // insufficient data; wait for more bytes
			}
			c.buf = c.buf[protocol.HeaderLength:]
			c.pending = &header
		}
		need := int(c.pending.PayloadLength)
		if len(c.buf) < need {
			return
		}
		payload := append([]byte(nil), c.buf[:need]...)
		c.buf = c.buf[need:]
		header := *c.pending
		c.pending = nil

		c.mu.Unlock()
		c.dispatch(header, payload)
		c.mu.Lock()
	}
}

// dispatch validates and routes one fully-framed message. It is called with
// no lock held.
func (c *Connection) dispatch(header protocol.Header, payload []byte) {
	if header.Direction == protocol.Response {
		// Responses are consumed and discarded; the MVP does not
		// correlate request/response pairs.
		return
	}
	switch header.Type {
	case protocol.MessageIntro:
		p, err := protocol.UnmarshalIntroPayload(payload)
		if err != nil {
			c.rejectMalformed(header.MessageID, err)
			return
		}
		c.applyIntro(p)
		result := c.invoke(c.callbacks.OnIntro, p)
		c.sendResponse(header.MessageID, result.Success)

	case protocol.MessageOutro:
		p, err := protocol.UnmarshalOutroPayload(payload)
		if err != nil {
			c.rejectMalformed(header.MessageID, err)
			return
		}
		result := c.invoke(c.callbacks.OnOutro, p)
		c.sendResponse(header.MessageID, result.Success)

	case protocol.MessageNodeState:
		p, err := protocol.UnmarshalNodeStatePayload(payload)
		if err != nil {
			c.fatal(fmt.Errorf("underfilled NodeState payload: %w", err))
			return
		}
		c.applyNodeState(p)
		result := c.invoke(c.callbacks.OnNodeState, p)
		c.sendResponse(header.MessageID, result.Success)

	case protocol.MessageChannelSubscription:
		p, err := protocol.UnmarshalChannelSubscriptionPayload(payload)
		if err != nil {
			c.rejectMalformed(header.MessageID, err)
			return
		}
		result := c.invoke(c.callbacks.OnChannelSubscribe, p)
		c.sendResponse(header.MessageID, result.Success)

	case protocol.MessageStreamPublish:
		p, err := protocol.UnmarshalStreamPublishPayload(payload)
		if err != nil {
			c.fatal(fmt.Errorf("underfilled StreamPublish payload: %w", err))
			return
		}
		result := c.invoke(c.callbacks.OnStreamPublish, p)
		c.sendResponse(header.MessageID, result.Success)

	case protocol.MessageStreamRelay:
		p, err := protocol.UnmarshalStreamRelayPayload(payload)
		if err != nil {
			c.rejectMalformed(header.MessageID, err)
			return
		}
		result := c.invoke(c.callbacks.OnStreamRelay, p)
		c.sendResponse(header.MessageID, result.Success)

	default:
		// Unknown message type: forward-compatible, ignore silently.
	}
}

// invoke dispatches to whichever of the six typed handlers matches, so each
// dispatch arm above stays one line. A nil handler defaults to success,
// which keeps tests that only wire the callbacks they care about working.
func (c *Connection) invoke(handler interface{}, payload interface{}) Result {
	switch h := handler.(type) {
	case func(*Connection, protocol.IntroPayload) Result:
		if h == nil {
			return Ok()
		}
		return h(c, payload.(protocol.IntroPayload))
	case func(*Connection, protocol.OutroPayload) Result:
		if h == nil {
			return Ok()
		}
		return h(c, payload.(protocol.OutroPayload))
	case func(*Connection, protocol.NodeStatePayload) Result:
		if h == nil {
			return Ok()
		}
		return h(c, payload.(protocol.NodeStatePayload))
	case func(*Connection, protocol.ChannelSubscriptionPayload) Result:
		if h == nil {
			return Ok()
		}
		return h(c, payload.(protocol.ChannelSubscriptionPayload))
	case func(*Connection, protocol.StreamPublishPayload) Result:
		if h == nil {
			return Ok()
		}
		return h(c, payload.(protocol.StreamPublishPayload))
	case func(*Connection, protocol.StreamRelayPayload) Result:
		if h == nil {
			return Ok()
		}
		return h(c, payload.(protocol.StreamRelayPayload))
	default:
		return Ok()
	}
}

func (c *Connection) rejectMalformed(messageID uint8, err error) {
	c.logger.Warn("rejecting malformed frame", "error", err, "messageId", messageID)
	c.metrics.MalformedFrameRejected()
	c.sendResponse(messageID, false)
}

func (c *Connection) fatal(err error) {
	c.logger.Error("fatal framing error, closing connection", "error", err)
	c.metrics.MalformedFrameRejected()
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	_ = c.transport.Stop()
}

func (c *Connection) applyIntro(p protocol.IntroPayload) {
	c.mu.Lock()
	first := c.meta.Hostname == ""
	c.meta.Hostname = p.Hostname
	c.meta.VersionMajor = p.VersionMajor
	c.meta.VersionMinor = p.VersionMinor
	c.meta.VersionRevision = p.VersionRevision
	c.meta.RelayLayer = p.RelayLayer
	c.meta.RegionCode = p.RegionCode
	if first && (c.state == StatePending || c.state == StateHandshaking) {
		c.state = StateActive
	}
	c.mu.Unlock()
}

func (c *Connection) applyNodeState(p protocol.NodeStatePayload) {
	c.mu.Lock()
	c.meta.CurrentLoad = p.CurrentLoad
	c.meta.MaximumLoad = p.MaximumLoad
	c.mu.Unlock()
}

func (c *Connection) onTransportClosed(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		if err != nil {
			c.closeErr = err
		}
		c.mu.Unlock()
		if c.callbacks.OnClosed != nil {
			c.callbacks.OnClosed(c)
		}
	})
}

// CloseError returns the error that precipitated closure, if any.
func (c *Connection) CloseError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

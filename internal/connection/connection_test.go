package connection

import (
	"context"
	"testing"
	"time"

	"ftl-orchestrator/internal/protocol"
	"ftl-orchestrator/internal/store"
)

func waitFor(t *testing.T, desc string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func introFrame(t *testing.T, messageID uint8) []byte {
	t.Helper()
	payload, err := protocol.IntroPayload{
		VersionMajor: 1,
		RegionCode:   "us-east",
		Hostname:     "origin-1",
	}.Marshal()
	if err != nil {
		t.Fatalf("marshal intro payload: %v", err)
	}
	header := protocol.Header{
		Direction:     protocol.Request,
		Type:          protocol.MessageIntro,
		MessageID:     messageID,
		PayloadLength: uint16(len(payload)),
	}
	frame := header.Append(nil)
	return append(frame, payload...)
}

func TestConnectionLifecycleStartToActive(t *testing.T) {
	transport := newFakeTransport()
	var introSeen protocol.IntroPayload
	c := New(store.Handle(1), transport, Callbacks{
		OnIntro: func(conn *Connection, p protocol.IntroPayload) Result {
			introSeen = p
			return Ok()
		},
	}, nil, nil)

	if c.State() != StateNew {
		t.Fatalf("expected StateNew, got %s", c.State())
	}

	c.Start(context.Background())
	waitFor(t, "handshaking to pending", func() bool { return c.State() == StatePending })

	transport.deliver(introFrame(t, 7))
	waitFor(t, "pending to active", func() bool { return c.State() == StateActive })

	if introSeen.Hostname != "origin-1" {
		t.Fatalf("expected hostname origin-1, got %q", introSeen.Hostname)
	}
	if c.Hostname() != "origin-1" {
		t.Fatalf("expected Connection.Hostname() origin-1, got %q", c.Hostname())
	}

	frames := transport.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 response frame, got %d", len(frames))
	}
	header, err := protocol.ParseHeader(frames[0])
	if err != nil {
		t.Fatalf("parse response header: %v", err)
	}
	if header.Direction != protocol.Response || header.Failure {
		t.Fatalf("expected successful response header, got %+v", header)
	}
	if header.MessageID != 7 {
		t.Fatalf("expected response to echo messageId 7, got %d", header.MessageID)
	}
}

func TestConnectionRejectsMalformedChannelSubscription(t *testing.T) {
	transport := newFakeTransport()
	called := false
	c := New(store.Handle(2), transport, Callbacks{
		OnChannelSubscribe: func(conn *Connection, p protocol.ChannelSubscriptionPayload) Result {
			called = true
			return Ok()
		},
	}, nil, nil)
	c.Start(context.Background())
	waitFor(t, "pending", func() bool { return c.State() == StatePending })

	header := protocol.Header{
		Direction:     protocol.Request,
		Type:          protocol.MessageChannelSubscription,
		MessageID:     3,
		PayloadLength: 2, // too short: channel subscription needs at least 5 bytes
	}
	frame := header.Append(nil)
	frame = append(frame, 0x01, 0x02)
	transport.deliver(frame)

	waitFor(t, "malformed response", func() bool { return len(transport.sentFrames()) == 1 })
	if called {
		t.Fatal("expected OnChannelSubscribe not to be invoked for malformed payload")
	}
	resp, err := protocol.ParseHeader(transport.sentFrames()[0])
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.Failure {
		t.Fatal("expected failure bit set for malformed payload")
	}
	if c.State() == StateClosed {
		t.Fatal("malformed variable-length payload must not close the connection")
	}
}

func TestConnectionFatalOnUnderfilledNodeState(t *testing.T) {
	transport := newFakeTransport()
	c := New(store.Handle(3), transport, Callbacks{}, nil, nil)
	c.Start(context.Background())
	waitFor(t, "pending", func() bool { return c.State() == StatePending })

	header := protocol.Header{
		Direction:     protocol.Request,
		Type:          protocol.MessageNodeState,
		MessageID:     1,
		PayloadLength: 3, // NodeState must be exactly 8 bytes
	}
	frame := header.Append(nil)
	frame = append(frame, 0x00, 0x00, 0x00)
	transport.deliver(frame)

	waitFor(t, "transport stopped", func() bool { return transport.stopped })
	if c.CloseError() == nil {
		t.Fatal("expected a close error recorded for the fatal framing failure")
	}
}

func TestConnectionHandlesSplitFrames(t *testing.T) {
	transport := newFakeTransport()
	introCh := make(chan protocol.IntroPayload, 1)
	c := New(store.Handle(4), transport, Callbacks{
		OnIntro: func(conn *Connection, p protocol.IntroPayload) Result {
			introCh <- p
			return Ok()
		},
	}, nil, nil)
	c.Start(context.Background())
	waitFor(t, "pending", func() bool { return c.State() == StatePending })

	full := introFrame(t, 9)
	transport.deliver(full[:2])
	transport.deliver(full[2:5])
	transport.deliver(full[5:])

	select {
	case p := <-introCh:
		if p.Hostname != "origin-1" {
			t.Fatalf("expected hostname origin-1, got %q", p.Hostname)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for split-frame intro")
	}
}

func TestConnectionOnClosedFiresOnce(t *testing.T) {
	transport := newFakeTransport()
	closedCount := 0
	c := New(store.Handle(5), transport, Callbacks{
		OnClosed: func(conn *Connection) { closedCount++ },
	}, nil, nil)
	c.Start(context.Background())
	waitFor(t, "pending", func() bool { return c.State() == StatePending })

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	transport.closeWithError(nil)

	waitFor(t, "closed state", func() bool { return c.State() == StateClosed })
	if closedCount != 1 {
		t.Fatalf("expected OnClosed to fire exactly once, got %d", closedCount)
	}
}

func TestConnectionOutboundSendRoundTrip(t *testing.T) {
	transport := newFakeTransport()
	c := New(store.Handle(6), transport, Callbacks{}, nil, nil)

	if err := c.SendStreamRelay(protocol.StreamRelayPayload{
		IsStartRelay:   true,
		ChannelID:      42,
		StreamID:       7,
		TargetHostname: "edge-9",
		StreamKey:      []byte("token"),
	}); err != nil {
		t.Fatalf("SendStreamRelay: %v", err)
	}

	frames := transport.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 sent frame, got %d", len(frames))
	}
	header, err := protocol.ParseHeader(frames[0])
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if header.Type != protocol.MessageStreamRelay || header.Direction != protocol.Request {
		t.Fatalf("unexpected header: %+v", header)
	}
	payload, err := protocol.UnmarshalStreamRelayPayload(frames[0][protocol.HeaderLength:])
	if err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.TargetHostname != "edge-9" || string(payload.StreamKey) != "token" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

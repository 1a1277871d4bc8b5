package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"ftl-orchestrator/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type marshaler interface {
	Marshal() ([]byte, error)
}

func frame(t *testing.T, msgType protocol.MessageType, messageID uint8, p marshaler) []byte {
	t.Helper()
	payload, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal %s payload: %v", msgType, err)
	}
	header := protocol.Header{
		Direction:     protocol.Request,
		Type:          msgType,
		MessageID:     messageID,
		PayloadLength: uint16(len(payload)),
	}
	return append(header.Append(nil), payload...)
}

func waitForCondition(t *testing.T, desc string, fn func() bool) {
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

func introFor(hostname string) protocol.IntroPayload {
	return protocol.IntroPayload{RegionCode: "us-east", Hostname: hostname}
}

func relayInstructions(frames [][]byte) []protocol.StreamRelayPayload {
	var out []protocol.StreamRelayPayload
	for _, f := range frames {
		header, err := protocol.ParseHeader(f)
		if err != nil || header.Type != protocol.MessageStreamRelay {
			continue
		}
		p, err := protocol.UnmarshalStreamRelayPayload(f[protocol.HeaderLength:])
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func TestServicePublishThenSubscribeOpensRoute(t *testing.T) {
	svc := NewService(Config{Logger: discardLogger()})
	ctx := context.Background()

	originT := newStubTransport()
	svc.Accept(ctx, originT)
	originT.deliver(frame(t, protocol.MessageIntro, 1, introFor("origin-1")))

	subT := newStubTransport()
	svc.Accept(ctx, subT)
	subT.deliver(frame(t, protocol.MessageIntro, 1, introFor("edge-1")))

	originT.deliver(frame(t, protocol.MessageStreamPublish, 2, protocol.StreamPublishPayload{
		IsPublish: true, ChannelID: 10, StreamID: 99,
	}))
	subT.deliver(frame(t, protocol.MessageChannelSubscription, 2, protocol.ChannelSubscriptionPayload{
		IsSubscribe: true, ChannelID: 10, StreamKey: []byte("tok"),
	}))

	waitForCondition(t, "route opened", func() bool {
		return len(relayInstructions(originT.sentFrames())) == 1
	})
	instr := relayInstructions(originT.sentFrames())[0]
	if !instr.IsStartRelay || instr.ChannelID != 10 || instr.StreamID != 99 {
		t.Fatalf("unexpected relay instruction: %+v", instr)
	}
	if instr.TargetHostname != "edge-1" || string(instr.StreamKey) != "tok" {
		t.Fatalf("unexpected relay target/key: %+v", instr)
	}
}

func TestServiceSubscribeBeforePublishOpensRouteOnPublish(t *testing.T) {
	svc := NewService(Config{Logger: discardLogger()})
	ctx := context.Background()

	originT := newStubTransport()
	svc.Accept(ctx, originT)
	originT.deliver(frame(t, protocol.MessageIntro, 1, introFor("origin-1")))

	subT := newStubTransport()
	svc.Accept(ctx, subT)
	subT.deliver(frame(t, protocol.MessageIntro, 1, introFor("edge-1")))

	subT.deliver(frame(t, protocol.MessageChannelSubscription, 2, protocol.ChannelSubscriptionPayload{
		IsSubscribe: true, ChannelID: 5, StreamKey: []byte("abc"),
	}))

	if len(relayInstructions(originT.sentFrames())) != 0 {
		t.Fatal("expected no route before a stream exists")
	}

	originT.deliver(frame(t, protocol.MessageStreamPublish, 2, protocol.StreamPublishPayload{
		IsPublish: true, ChannelID: 5, StreamID: 1,
	}))

	waitForCondition(t, "route opened on publish", func() bool {
		return len(relayInstructions(originT.sentFrames())) == 1
	})
}

func TestServiceSubscriberDisconnectClosesRoute(t *testing.T) {
	svc := NewService(Config{Logger: discardLogger()})
	ctx := context.Background()

	originT := newStubTransport()
	svc.Accept(ctx, originT)
	originT.deliver(frame(t, protocol.MessageIntro, 1, introFor("origin-1")))

	subT := newStubTransport()
	sub := svc.Accept(ctx, subT)
	subT.deliver(frame(t, protocol.MessageIntro, 1, introFor("edge-1")))

	originT.deliver(frame(t, protocol.MessageStreamPublish, 2, protocol.StreamPublishPayload{
		IsPublish: true, ChannelID: 3, StreamID: 1,
	}))
	subT.deliver(frame(t, protocol.MessageChannelSubscription, 2, protocol.ChannelSubscriptionPayload{
		IsSubscribe: true, ChannelID: 3, StreamKey: []byte("k"),
	}))
	waitForCondition(t, "route opened", func() bool {
		return len(relayInstructions(originT.sentFrames())) == 1
	})

	if err := sub.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitForCondition(t, "route closed", func() bool {
		instrs := relayInstructions(originT.sentFrames())
		for _, instr := range instrs {
			if !instr.IsStartRelay {
				return true
			}
		}
		return false
	})
}

func TestServiceDuplicateSubscriptionReplacesStreamKey(t *testing.T) {
	svc := NewService(Config{Logger: discardLogger()})
	ctx := context.Background()

	originT := newStubTransport()
	svc.Accept(ctx, originT)
	originT.deliver(frame(t, protocol.MessageIntro, 1, introFor("origin-1")))

	subT := newStubTransport()
	svc.Accept(ctx, subT)
	subT.deliver(frame(t, protocol.MessageIntro, 1, introFor("edge-1")))

	subT.deliver(frame(t, protocol.MessageChannelSubscription, 2, protocol.ChannelSubscriptionPayload{
		IsSubscribe: true, ChannelID: 6, StreamKey: []byte("first"),
	}))
	subT.deliver(frame(t, protocol.MessageChannelSubscription, 3, protocol.ChannelSubscriptionPayload{
		IsSubscribe: true, ChannelID: 6, StreamKey: []byte("second"),
	}))

	originT.deliver(frame(t, protocol.MessageStreamPublish, 2, protocol.StreamPublishPayload{
		IsPublish: true, ChannelID: 6, StreamID: 1,
	}))

	waitForCondition(t, "route opened", func() bool {
		return len(relayInstructions(originT.sentFrames())) == 1
	})
	instr := relayInstructions(originT.sentFrames())[0]
	if string(instr.StreamKey) != "second" {
		t.Fatalf("expected latest streamKey to win, got %q", instr.StreamKey)
	}
}

func TestServicePendingConnectionHasNoRoutingEffectBeforeIntro(t *testing.T) {
	svc := NewService(Config{Logger: discardLogger()})
	ctx := context.Background()

	originT := newStubTransport()
	svc.Accept(ctx, originT)

	originT.deliver(frame(t, protocol.MessageStreamPublish, 1, protocol.StreamPublishPayload{
		IsPublish: true, ChannelID: 1, StreamID: 1,
	}))

	summaries := svc.Snapshot()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 connection in snapshot, got %d", len(summaries))
	}
	if summaries[0].Hostname != "" {
		t.Fatalf("expected empty hostname before Intro, got %q", summaries[0].Hostname)
	}
}

func TestServiceOutroStopsNewRoutesThroughDrainingSubscriber(t *testing.T) {
	svc := NewService(Config{Logger: discardLogger()})
	ctx := context.Background()

	originT := newStubTransport()
	svc.Accept(ctx, originT)
	originT.deliver(frame(t, protocol.MessageIntro, 1, introFor("origin-1")))

	subT := newStubTransport()
	svc.Accept(ctx, subT)
	subT.deliver(frame(t, protocol.MessageIntro, 1, introFor("edge-1")))

	subT.deliver(frame(t, protocol.MessageOutro, 2, protocol.OutroPayload{Reason: "shutting down"}))

	subT.deliver(frame(t, protocol.MessageChannelSubscription, 3, protocol.ChannelSubscriptionPayload{
		IsSubscribe: true, ChannelID: 9, StreamKey: []byte("k"),
	}))
	originT.deliver(frame(t, protocol.MessageStreamPublish, 2, protocol.StreamPublishPayload{
		IsPublish: true, ChannelID: 9, StreamID: 1,
	}))

	time.Sleep(50 * time.Millisecond)
	if len(relayInstructions(originT.sentFrames())) != 0 {
		t.Fatal("expected no new route through a draining subscriber")
	}
}

func TestServiceStopClosesAllConnections(t *testing.T) {
	svc := NewService(Config{Logger: discardLogger()})
	ctx := context.Background()

	originT := newStubTransport()
	svc.Accept(ctx, originT)
	originT.deliver(frame(t, protocol.MessageIntro, 1, introFor("origin-1")))

	svc.Stop()

	waitForCondition(t, "transport stopped", func() bool { return originT.closed })
	if len(svc.Snapshot()) != 0 {
		t.Fatal("expected Snapshot to be empty after Stop")
	}
}

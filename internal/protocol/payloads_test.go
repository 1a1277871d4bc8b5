package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestIntroPayloadRoundTrip(t *testing.T) {
	want := IntroPayload{
		VersionMajor:    1,
		VersionMinor:    2,
		VersionRevision: 3,
		RelayLayer:      0,
		RegionCode:      "us-east",
		Hostname:        "ingest-01.example.com",
	}
	encoded, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := UnmarshalIntroPayload(encoded)
	if err != nil {
		t.Fatalf("UnmarshalIntroPayload() error = %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestIntroPayloadOversizeRegionLength(t *testing.T) {
	// regionCodeLen claims 100 bytes but only 3 remain.
	data := []byte{1, 0, 0, 0, 0, 100, 'a', 'b', 'c'}
	if _, err := UnmarshalIntroPayload(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("UnmarshalIntroPayload() error = %v, want ErrMalformed", err)
	}
}

func TestIntroPayloadTooShort(t *testing.T) {
	if _, err := UnmarshalIntroPayload([]byte{1, 2, 3}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestOutroPayloadRoundTrip(t *testing.T) {
	want := OutroPayload{Reason: "graceful shutdown"}
	encoded, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := UnmarshalOutroPayload(encoded)
	if err != nil {
		t.Fatalf("UnmarshalOutroPayload() error = %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestOutroPayloadEmptyReason(t *testing.T) {
	got, err := UnmarshalOutroPayload(nil)
	if err != nil {
		t.Fatalf("UnmarshalOutroPayload(nil) error = %v", err)
	}
	if got.Reason != "" {
		t.Fatalf("Reason = %q, want empty", got.Reason)
	}
}

func TestNodeStatePayloadRoundTrip(t *testing.T) {
	want := NodeStatePayload{CurrentLoad: 17, MaximumLoad: 1000}
	encoded, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if len(encoded) != 8 {
		t.Fatalf("encoded length = %d, want 8", len(encoded))
	}
	got, err := UnmarshalNodeStatePayload(encoded)
	if err != nil {
		t.Fatalf("UnmarshalNodeStatePayload() error = %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNodeStatePayloadUnderfilled(t *testing.T) {
	if _, err := UnmarshalNodeStatePayload([]byte{1, 2, 3}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestChannelSubscriptionPayloadRoundTrip(t *testing.T) {
	want := ChannelSubscriptionPayload{
		IsSubscribe: true,
		ChannelID:   1234,
		StreamKey:   []byte{0x0f, 0x0e, 0x0d},
	}
	encoded, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := UnmarshalChannelSubscriptionPayload(encoded)
	if err != nil {
		t.Fatalf("UnmarshalChannelSubscriptionPayload() error = %v", err)
	}
	if got.IsSubscribe != want.IsSubscribe || got.ChannelID != want.ChannelID || !bytes.Equal(got.StreamKey, want.StreamKey) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStreamPublishPayloadRoundTrip(t *testing.T) {
	want := StreamPublishPayload{IsPublish: true, ChannelID: 1234, StreamID: 5678}
	encoded, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if len(encoded) != 9 {
		t.Fatalf("encoded length = %d, want 9", len(encoded))
	}
	got, err := UnmarshalStreamPublishPayload(encoded)
	if err != nil {
		t.Fatalf("UnmarshalStreamPublishPayload() error = %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStreamPublishPayloadUnderfilled(t *testing.T) {
	if _, err := UnmarshalStreamPublishPayload([]byte{1, 2, 3, 4}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestStreamRelayPayloadRoundTrip(t *testing.T) {
	want := StreamRelayPayload{
		IsStartRelay:   true,
		ChannelID:      1234,
		StreamID:       5678,
		TargetHostname: "edge-07.example.com",
		StreamKey:      []byte{0x0f, 0x0e, 0x0d, 0x00},
	}
	encoded, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := UnmarshalStreamRelayPayload(encoded)
	if err != nil {
		t.Fatalf("UnmarshalStreamRelayPayload() error = %v", err)
	}
	if got.IsStartRelay != want.IsStartRelay || got.ChannelID != want.ChannelID ||
		got.StreamID != want.StreamID || got.TargetHostname != want.TargetHostname ||
		!bytes.Equal(got.StreamKey, want.StreamKey) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStreamRelayPayloadStopHasEmptyStreamKey(t *testing.T) {
	want := StreamRelayPayload{
		IsStartRelay:   false,
		ChannelID:      1234,
		StreamID:       5678,
		TargetHostname: "edge-07.example.com",
		StreamKey:      nil,
	}
	encoded, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := UnmarshalStreamRelayPayload(encoded)
	if err != nil {
		t.Fatalf("UnmarshalStreamRelayPayload() error = %v", err)
	}
	if len(got.StreamKey) != 0 {
		t.Fatalf("StreamKey = %x, want empty", got.StreamKey)
	}
}

func TestStreamRelayPayloadOversizeHostnameLength(t *testing.T) {
	data := make([]byte, 11)
	data[9], data[10] = 0xFF, 0xFF // hostnameLen = 65535, nothing follows
	if _, err := UnmarshalStreamRelayPayload(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

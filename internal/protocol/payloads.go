package protocol

import "fmt"

// IntroPayload is the body of an Intro request: a peer's version, relay
// layer, region, and hostname.
type IntroPayload struct {
	VersionMajor    uint8
	VersionMinor    uint8
	VersionRevision uint8
	RelayLayer      uint8
	RegionCode      string
	Hostname        string
}

// Marshal encodes the payload per the wire schema.
func (p IntroPayload) Marshal() ([]byte, error) {
	if err := validateUTF8("regionCode", p.RegionCode); err != nil {
		return nil, err
	}
	if err := validateUTF8("hostname", p.Hostname); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 4+2+len(p.RegionCode)+len(p.Hostname))
	buf = append(buf, p.VersionMajor, p.VersionMinor, p.VersionRevision, p.RelayLayer)
	buf = AppendLengthPrefixedString(buf, p.RegionCode)
	buf = AppendString(buf, p.Hostname)
	return buf, nil
}

// UnmarshalIntroPayload decodes an Intro request body.
func UnmarshalIntroPayload(data []byte) (IntroPayload, error) {
	if len(data) < 6 {
		return IntroPayload{}, fmt.Errorf("%w: intro payload too short", ErrMalformed)
	}
	regionLen, err := DecodeU16(data[4:6])
	if err != nil {
		return IntroPayload{}, err
	}
	rest := data[6:]
	if int(regionLen) > len(rest) {
		return IntroPayload{}, fmt.Errorf("%w: regionCodeLen %d exceeds remaining payload", ErrMalformed, regionLen)
	}
	region := string(rest[:regionLen])
	hostname := string(rest[regionLen:])
	if err := validateUTF8("regionCode", region); err != nil {
		return IntroPayload{}, err
	}
	if err := validateUTF8("hostname", hostname); err != nil {
		return IntroPayload{}, err
	}
	return IntroPayload{
		VersionMajor:    data[0],
		VersionMinor:    data[1],
		VersionRevision: data[2],
		RelayLayer:      data[3],
		RegionCode:      region,
		Hostname:        hostname,
	}, nil
}

// OutroPayload is the body of an Outro request: a free-form reason.
type OutroPayload struct {
	Reason string
}

func (p OutroPayload) Marshal() ([]byte, error) {
	if err := validateUTF8("reason", p.Reason); err != nil {
		return nil, err
	}
	return AppendString(nil, p.Reason), nil
}

func UnmarshalOutroPayload(data []byte) (OutroPayload, error) {
	reason := string(data)
	if err := validateUTF8("reason", reason); err != nil {
		return OutroPayload{}, err
	}
	return OutroPayload{Reason: reason}, nil
}

// NodeStatePayload reports a peer's current and maximum load.
type NodeStatePayload struct {
	CurrentLoad uint32
	MaximumLoad uint32
}

func (p NodeStatePayload) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 8)
	buf = EncodeU32(buf, p.CurrentLoad)
	buf = EncodeU32(buf, p.MaximumLoad)
	return buf, nil
}

func UnmarshalNodeStatePayload(data []byte) (NodeStatePayload, error) {
	if len(data) != 8 {
		return NodeStatePayload{}, fmt.Errorf("%w: node state payload must be exactly 8 bytes, got %d", ErrMalformed, len(data))
	}
	current, _ := DecodeU32(data[0:4])
	maximum, _ := DecodeU32(data[4:8])
	return NodeStatePayload{CurrentLoad: current, MaximumLoad: maximum}, nil
}

// ChannelSubscriptionPayload is the body of a ChannelSubscription request: a
// subscribe or unsubscribe intent, plus the subscriber's authorization token.
type ChannelSubscriptionPayload struct {
	IsSubscribe bool
	ChannelID   uint32
	StreamKey   []byte
}

func (p ChannelSubscriptionPayload) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 5+len(p.StreamKey))
	buf = append(buf, boolByte(p.IsSubscribe))
	buf = EncodeU32(buf, p.ChannelID)
	buf = append(buf, p.StreamKey...)
	return buf, nil
}

func UnmarshalChannelSubscriptionPayload(data []byte) (ChannelSubscriptionPayload, error) {
	if len(data) < 5 {
		return ChannelSubscriptionPayload{}, fmt.Errorf("%w: channel subscription payload too short", ErrMalformed)
	}
	channelID, _ := DecodeU32(data[1:5])
	streamKey := append([]byte(nil), data[5:]...)
	return ChannelSubscriptionPayload{
		IsSubscribe: data[0] != 0,
		ChannelID:   channelID,
		StreamKey:   streamKey,
	}, nil
}

// StreamPublishPayload is the body of a StreamPublish request: a publish or
// unpublish intent for one (channel, stream) pair.
type StreamPublishPayload struct {
	IsPublish bool
	ChannelID uint32
	StreamID  uint32
}

func (p StreamPublishPayload) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 9)
	buf = append(buf, boolByte(p.IsPublish))
	buf = EncodeU32(buf, p.ChannelID)
	buf = EncodeU32(buf, p.StreamID)
	return buf, nil
}

func UnmarshalStreamPublishPayload(data []byte) (StreamPublishPayload, error) {
	if len(data) != 9 {
		return StreamPublishPayload{}, fmt.Errorf("%w: stream publish payload must be exactly 9 bytes, got %d", ErrMalformed, len(data))
	}
	channelID, _ := DecodeU32(data[1:5])
	streamID, _ := DecodeU32(data[5:9])
	return StreamPublishPayload{
		IsPublish: data[0] != 0,
		ChannelID: channelID,
		StreamID:  streamID,
	}, nil
}

// StreamRelayPayload is the body of a StreamRelay request: an instruction
// from the orchestrator to an origin to start or stop relaying to a
// particular subscriber hostname, carrying the subscriber's authorization
// token.
//
// Per the wire schema, the hostname occupies bytes 11..11+hostnameLen and the
// stream key occupies everything after it.
type StreamRelayPayload struct {
	IsStartRelay   bool
	ChannelID      uint32
	StreamID       uint32
	TargetHostname string
	StreamKey      []byte
}

func (p StreamRelayPayload) Marshal() ([]byte, error) {
	if err := validateUTF8("targetHostname", p.TargetHostname); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 11+len(p.TargetHostname)+len(p.StreamKey))
	buf = append(buf, boolByte(p.IsStartRelay))
	buf = EncodeU32(buf, p.ChannelID)
	buf = EncodeU32(buf, p.StreamID)
	buf = AppendLengthPrefixedString(buf, p.TargetHostname)
	buf = append(buf, p.StreamKey...)
	return buf, nil
}

func UnmarshalStreamRelayPayload(data []byte) (StreamRelayPayload, error) {
	if len(data) < 11 {
		return StreamRelayPayload{}, fmt.Errorf("%w: stream relay payload too short", ErrMalformed)
	}
	channelID, _ := DecodeU32(data[1:5])
	streamID, _ := DecodeU32(data[5:9])
	hostnameLen, err := DecodeU16(data[9:11])
	if err != nil {
		return StreamRelayPayload{}, err
	}
	rest := data[11:]
	if int(hostnameLen) > len(rest) {
		return StreamRelayPayload{}, fmt.Errorf("%w: hostnameLen %d exceeds remaining payload", ErrMalformed, hostnameLen)
	}
	hostname := string(rest[:hostnameLen])
	if err := validateUTF8("targetHostname", hostname); err != nil {
		return StreamRelayPayload{}, err
	}
	streamKey := append([]byte(nil), rest[hostnameLen:]...)
	return StreamRelayPayload{
		IsStartRelay:   data[0] != 0,
		ChannelID:      channelID,
		StreamID:       streamID,
		TargetHostname: hostname,
		StreamKey:      streamKey,
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"fmt"
	"sync"
)

// Stream is one live session published by an origin connection on a channel.
type Stream struct {
	ChannelID uint32
	StreamID  uint32
	Origin    Handle
}

// ErrStreamExists is returned by StreamStore.Add when a stream is already
// published on the given channel.
var ErrStreamExists = fmt.Errorf("stream already exists for channel")

// ErrStreamNotFound is returned when a lookup or removal targets a channel
// or (channel, stream) pair with no current stream.
var ErrStreamNotFound = fmt.Errorf("stream not found")

// StreamStore indexes published streams by channel and by origin
// connection. At most one Stream may exist per channel at any instant. All
// operations are safe for concurrent use.
type StreamStore struct {
	mu        sync.Mutex
	byChannel map[uint32]Stream
	byOrigin  map[Handle]map[uint32]struct{} // origin -> set of channelIDs
}

// NewStreamStore constructs an empty StreamStore.
func NewStreamStore() *StreamStore {
	return &StreamStore{
		byChannel: make(map[uint32]Stream),
		byOrigin:  make(map[Handle]map[uint32]struct{}),
	}
}

// Add registers a newly published stream. It returns ErrStreamExists if a
// stream is already published for s.ChannelID.
func (s *StreamStore) Add(stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byChannel[stream.ChannelID]; exists {
		return ErrStreamExists
	}
	s.byChannel[stream.ChannelID] = stream
	if s.byOrigin[stream.Origin] == nil {
		s.byOrigin[stream.Origin] = make(map[uint32]struct{})
	}
	s.byOrigin[stream.Origin][stream.ChannelID] = struct{}{}
	return nil
}

// Remove deletes the stream published on channelID by its current origin,
// provided its StreamID matches streamID. It returns ErrStreamNotFound if no
// stream is published on that channel with that stream ID.
func (s *StreamStore) Remove(channelID, streamID uint32) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, exists := s.byChannel[channelID]
	if !exists || stream.StreamID != streamID {
		return Stream{}, ErrStreamNotFound
	}
	delete(s.byChannel, channelID)
	s.pruneOrigin(stream.Origin, channelID)
	return stream, nil
}

// GetByChannel returns the stream currently published on channelID.
func (s *StreamStore) GetByChannel(channelID uint32) (Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, exists := s.byChannel[channelID]
	return stream, exists
}

// RemoveAllForConnection removes every stream whose origin is handle,
// returning the removed streams. Used when a connection closes: the origin
// owned those relays and has nothing left to forward.
func (s *StreamStore) RemoveAllForConnection(handle Handle) []Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := s.byOrigin[handle]
	if len(channels) == 0 {
		return nil
	}
	removed := make([]Stream, 0, len(channels))
	for channelID := range channels {
		if stream, exists := s.byChannel[channelID]; exists {
			removed = append(removed, stream)
			delete(s.byChannel, channelID)
		}
	}
	delete(s.byOrigin, handle)
	return removed
}

// Clear wipes both indices.
func (s *StreamStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChannel = make(map[uint32]Stream)
	s.byOrigin = make(map[Handle]map[uint32]struct{})
}

// Count reports the number of currently published streams.
func (s *StreamStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byChannel)
}

// pruneOrigin removes channelID from the origin index, collapsing an empty
// per-origin set so that byOrigin never retains stale empty entries.
func (s *StreamStore) pruneOrigin(origin Handle, channelID uint32) {
	channels := s.byOrigin[origin]
	if channels == nil {
		return
	}
	delete(channels, channelID)
	if len(channels) == 0 {
		delete(s.byOrigin, origin)
	}
}

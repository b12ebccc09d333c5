package packet

import (
	"time"

	"github.com/google/uuid"
)

// Stream is the named logical unit owned by one connector (spec §3 Stream).
// Track order is preserved via TrackOrder so iteration matches creation
// order even though Tracks is a map for O(1) lookup by id.
type Stream struct {
	ID         uint64
	UUID       uuid.UUID
	Name       string
	VHostApp   string
	Tracks     map[uint32]*MediaTrack
	TrackOrder []uint32
	CreatedAt  time.Time
	OnAir      bool
}

// NewStream constructs a Stream with a fresh UUID and no tracks.
func NewStream(id uint64, vhostApp, name string) *Stream {
	return &Stream{
		ID:        id,
		UUID:      uuid.New(),
		Name:      name,
		VHostApp:  vhostApp,
		Tracks:    make(map[uint32]*MediaTrack),
		CreatedAt: time.Now(),
	}
}

// AddTrack registers a track, preserving first-seen order (spec §3: "tracks
// set is fixed between OnStreamCreated and OnStreamUpdated").
func (s *Stream) AddTrack(t *MediaTrack) {
	if _, exists := s.Tracks[t.ID]; !exists {
		s.TrackOrder = append(s.TrackOrder, t.ID)
	}
	s.Tracks[t.ID] = t
}

// OrderedTracks returns the tracks in the order they were first added.
func (s *Stream) OrderedTracks() []*MediaTrack {
	out := make([]*MediaTrack, 0, len(s.TrackOrder))
	for _, id := range s.TrackOrder {
		if t, ok := s.Tracks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a shallow copy of the Stream with a deep-cloned track map,
// used when building the snapshot handed to OnStreamUpdated fan-out.
func (s *Stream) Clone() *Stream {
	clone := *s
	clone.Tracks = make(map[uint32]*MediaTrack, len(s.Tracks))
	for id, t := range s.Tracks {
		clone.Tracks[id] = t.Clone()
	}
	clone.TrackOrder = append([]uint32(nil), s.TrackOrder...)
	return &clone
}

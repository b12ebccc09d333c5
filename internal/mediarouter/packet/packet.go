// Package packet defines the immutable media value types (MediaPacket,
// MediaTrack) forwarded between connectors and observers by the router core.
package packet

import "fmt"

// BitstreamFormat identifies the on-the-wire framing of a codec's output.
type BitstreamFormat string

const (
	H264AnnexB BitstreamFormat = "H264-AnnexB"
	H264AVCC   BitstreamFormat = "H264-AVCC"
	HEVCAnnexB BitstreamFormat = "HEVC-AnnexB"
	HEVCHVCC   BitstreamFormat = "HVCC"
	AACADTS    BitstreamFormat = "AAC-ADTS"
	AACRAW     BitstreamFormat = "AAC-RAW"
	OPUS       BitstreamFormat = "OPUS"
	MP3        BitstreamFormat = "MP3"
	AMF        BitstreamFormat = "AMF"
)

// MediaType classifies a track's payload kind.
type MediaType string

const (
	Video MediaType = "Video"
	Audio MediaType = "Audio"
	Data  MediaType = "Data"
)

// Type is the semantic kind of a single MediaPacket.
type Type string

const (
	SequenceHeader Type = "SequenceHeader"
	NALU           Type = "NALU"
	Raw            Type = "Raw"
	Event          Type = "Event"
)

// Flag marks whether a video packet is a random-access (key) point.
type Flag string

const (
	Key    Flag = "Key"
	NonKey Flag = "NonKey"
)

// NALUFragment is an offset+length pair into Payload identifying one embedded
// NAL unit. The bitstream adapter does not read it, and Rebind clears it on
// the derived packet.
type NALUFragment struct {
	Offset int
	Length int
}

// MediaPacket is one codec access unit for a single track. Instances are
// immutable after construction; the only transformation permitted is Rebind,
// which returns a derived packet sharing the Payload buffer when possible.
type MediaPacket struct {
	TrackID   uint32
	Media     MediaType
	Format    BitstreamFormat
	Kind      Type
	PTS       int64
	DTS       int64
	Duration  int64
	Flag      Flag
	Payload   []byte
	Fragments []NALUFragment

	release func()
}

// New constructs a MediaPacket, validating the pts/dts invariant from spec §3.
func New(trackID uint32, media MediaType, format BitstreamFormat, kind Type, pts, dts, duration int64, flag Flag, payload []byte) (*MediaPacket, error) {
	if pts < 0 || dts < 0 {
		return nil, fmt.Errorf("packet: pts/dts must be >= 0 (pts=%d dts=%d)", pts, dts)
	}
	if dts > pts {
		return nil, fmt.Errorf("packet: dts (%d) must be <= pts (%d)", dts, pts)
	}
	return &MediaPacket{
		TrackID:  trackID,
		Media:    media,
		Format:   format,
		Kind:     kind,
		PTS:      pts,
		DTS:      dts,
		Duration: duration,
		Flag:     flag,
		Payload:  payload,
	}, nil
}

// WithRelease attaches a release callback invoked by Release. Connectors use
// it to return pooled buffers once the router stream is done with the packet
// (spec §3: "last consumer releases the payload").
func (p *MediaPacket) WithRelease(release func()) *MediaPacket {
	p.release = release
	return p
}

// Release runs the attached release callback, if any, on every call; it does
// not deduplicate. The router stream calls it once per packet: after the
// packet has been handed to every observer, or when the packet is dropped.
func (p *MediaPacket) Release() {
	if p != nil && p.release != nil {
		p.release()
	}
}

// Rebind returns a new logical packet with Format, Kind and Payload replaced.
// The receiver is left untouched so it can still be delivered to other
// observers in its original framing (spec §4.1).
func (p *MediaPacket) Rebind(format BitstreamFormat, kind Type, payload []byte) *MediaPacket {
	clone := *p
	clone.Format = format
	clone.Kind = kind
	clone.Payload = payload
	clone.Fragments = nil
	clone.release = nil
	return &clone
}

// IsKeyframe reports whether this is a video key (IDR) packet.
func (p *MediaPacket) IsKeyframe() bool {
	return p.Media == Video && p.Flag == Key
}

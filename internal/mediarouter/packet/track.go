package packet

// Timebase is a rational number (Num/Den) used to interpret a track's
// pts/dts/duration values. The router never rescales between tracks (spec §6.3).
type Timebase struct {
	Num uint32
	Den uint32
}

// AVCConfig holds an H.264 decoder configuration record (SPS/PPS sets).
type AVCConfig struct {
	ProfileIndication  uint8
	ProfileCompat      uint8
	LevelIndication    uint8
	LengthSizeMinusOne uint8
	SPS                [][]byte
	PPS                [][]byte
}

// HEVCConfig holds an H.265 decoder configuration record (VPS/SPS/PPS sets).
type HEVCConfig struct {
	GeneralProfileIDC  uint8
	GeneralLevelIDC    uint8
	LengthSizeMinusOne uint8
	VPS                [][]byte
	SPS                [][]byte
	PPS                [][]byte
}

// AACConfig holds a raw AudioSpecificConfig plus its decoded fields.
type AACConfig struct {
	Raw           []byte
	ObjectType    uint8
	SampleRate    uint32
	ChannelConfig uint8
}

// OpusConfig holds a raw OpusSpecificConfig.
type OpusConfig struct {
	Raw []byte
}

// DecoderConfig is the tagged union of codec-specific decoder configuration
// records a MediaTrack may carry (spec §3 MediaTrack.decoder-configuration-record).
type DecoderConfig struct {
	AVC  *AVCConfig
	HEVC *HEVCConfig
	AAC  *AACConfig
	Opus *OpusConfig
}

// VideoExtras holds video-only track metadata.
type VideoExtras struct {
	Width  int
	Height int
	FPS    float64
}

// AudioExtras holds audio-only track metadata.
type AudioExtras struct {
	SampleRate    uint32
	Channels      uint8
	ChannelLayout string
}

// MediaTrack describes one continuous elementary stream inside a Stream.
// Immutable between OnStreamCreated and OnStreamUpdated (spec §3).
type MediaTrack struct {
	ID       uint32
	Media    MediaType
	CodecID  string
	Timebase Timebase

	OriginFormat BitstreamFormat
	Config       DecoderConfig

	Video VideoExtras
	Audio AudioExtras

	Bitrate int64
}

// Clone returns a deep-enough copy suitable for mutation during
// OnStreamUpdated without aliasing the previous track's slices.
func (t *MediaTrack) Clone() *MediaTrack {
	clone := *t
	if t.Config.AVC != nil {
		avc := *t.Config.AVC
		avc.SPS = append([][]byte(nil), t.Config.AVC.SPS...)
		avc.PPS = append([][]byte(nil), t.Config.AVC.PPS...)
		clone.Config.AVC = &avc
	}
	if t.Config.HEVC != nil {
		hevc := *t.Config.HEVC
		hevc.VPS = append([][]byte(nil), t.Config.HEVC.VPS...)
		hevc.SPS = append([][]byte(nil), t.Config.HEVC.SPS...)
		hevc.PPS = append([][]byte(nil), t.Config.HEVC.PPS...)
		clone.Config.HEVC = &hevc
	}
	if t.Config.AAC != nil {
		aac := *t.Config.AAC
		aac.Raw = append([]byte(nil), t.Config.AAC.Raw...)
		clone.Config.AAC = &aac
	}
	if t.Config.Opus != nil {
		opus := *t.Config.Opus
		opus.Raw = append([]byte(nil), t.Config.Opus.Raw...)
		clone.Config.Opus = &opus
	}
	return &clone
}

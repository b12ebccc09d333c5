package bitstream

import (
	"sync"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/routererr"
)

// trackState is the adapter's per-track parameter-set cache. It holds one
// decoder configuration per codec for the track (not a map keyed by sps/pps
// id), filled from SequenceHeader packets, from the track's own decoder
// config (SeedFromTrack) and, for AAC, from the first ADTS header seen.
// In-band SPS/PPS NAL units inside data packets are not inspected.
type trackState struct {
	avc          *packet.AVCConfig
	hevc         *packet.HEVCConfig
	aac          *packet.AACConfig
	opus         *packet.OpusConfig
	aacAttached  bool
	opusAttached bool
}

// Adapter rewrites packet containers on first delivery to an observer,
// without re-encoding, per the conversion table in spec §4.2. One Adapter is
// owned per RouterStream; its cache is keyed by track id within that stream.
type Adapter struct {
	mu     sync.Mutex
	tracks map[uint32]*trackState
}

// New creates an empty Adapter.
func New() *Adapter {
	return &Adapter{tracks: make(map[uint32]*trackState)}
}

// Reset clears the cached parameter sets for trackID, called on
// OnStreamUpdated (spec §4.3: "flushes any cached bitstream-adapter
// parameter sets for updated tracks").
func (a *Adapter) Reset(trackID uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tracks, trackID)
}

func (a *Adapter) state(trackID uint32) *trackState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.tracks[trackID]
	if !ok {
		st = &trackState{}
		a.tracks[trackID] = st
	}
	return st
}

// SeedFromTrack primes the parameter-set cache from a track's decoder
// configuration record, used when a track already carries decoder config at
// OnStreamCreated time rather than via a dedicated SequenceHeader packet.
func (a *Adapter) SeedFromTrack(track *packet.MediaTrack) {
	if track == nil {
		return
	}
	st := a.state(track.ID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if track.Config.AVC != nil && st.avc == nil {
		st.avc = track.Config.AVC
	}
	if track.Config.HEVC != nil && st.hevc == nil {
		st.hevc = track.Config.HEVC
	}
	if track.Config.AAC != nil && st.aac == nil {
		st.aac = track.Config.AAC
	}
	if track.Config.Opus != nil && st.opus == nil {
		st.opus = track.Config.Opus
	}
}

// Adapt rewrites pkt's container to target format. Pkt is never mutated:
// identity conversions return pkt itself, ADTS->RAW returns a derived packet
// whose payload is a sub-slice of pkt.Payload, and the other conversions
// build a new payload. Unsupported
// (source, target) pairs yield routererr's UnsupportedConversion;
// unparseable inputs yield MalformedBitstream. Both are non-fatal.
func (a *Adapter) Adapt(pkt *packet.MediaPacket, target packet.BitstreamFormat) (*packet.MediaPacket, error) {
	if pkt.Format == target {
		return pkt, nil
	}

	switch {
	case pkt.Format == packet.H264AnnexB && target == packet.H264AVCC:
		return a.adaptH264AnnexBToAVCC(pkt)
	case pkt.Format == packet.H264AVCC && target == packet.H264AnnexB:
		return a.adaptH264AVCCToAnnexB(pkt)
	case pkt.Format == packet.HEVCAnnexB && target == packet.HEVCHVCC:
		return a.adaptHEVCAnnexBToAVCC(pkt)
	case pkt.Format == packet.HEVCHVCC && target == packet.HEVCAnnexB:
		return a.adaptHEVCAVCCToAnnexB(pkt)
	case pkt.Format == packet.AACADTS && target == packet.AACRAW:
		return a.adaptADTSToRAW(pkt)
	case pkt.Format == packet.AACRAW && target == packet.AACADTS:
		return a.adaptRAWToADTS(pkt)
	case pkt.Format == packet.OPUS && target == packet.OPUS:
		return pkt, nil
	case pkt.Format == packet.AMF && target == packet.AMF:
		return pkt, nil
	default:
		return nil, routererr.NewUnsupportedConversion(string(pkt.Format), string(target))
	}
}

func (a *Adapter) adaptH264AnnexBToAVCC(pkt *packet.MediaPacket) (*packet.MediaPacket, error) {
	if pkt.Kind == packet.SequenceHeader {
		cfg, err := ExtractSPSPPSFromAnnexB(pkt.Payload)
		if err != nil {
			return nil, routererr.NewMalformedBitstream("h264.annexb.sequenceheader", err)
		}
		st := a.state(pkt.TrackID)
		a.mu.Lock()
		st.avc = cfg
		a.mu.Unlock()
		return pkt.Rebind(packet.H264AVCC, packet.SequenceHeader, BuildAVCDecoderConfigurationRecord(cfg)), nil
	}
	out, err := AnnexBToAVCC(pkt.Payload)
	if err != nil {
		return nil, routererr.NewMalformedBitstream("h264.annexb_to_avcc", err)
	}
	return pkt.Rebind(packet.H264AVCC, pkt.Kind, out), nil
}

func (a *Adapter) adaptH264AVCCToAnnexB(pkt *packet.MediaPacket) (*packet.MediaPacket, error) {
	if pkt.Kind == packet.SequenceHeader {
		cfg, err := ParseAVCDecoderConfigurationRecord(pkt.Payload)
		if err != nil {
			return nil, routererr.NewMalformedBitstream("h264.avcc.sequenceheader", err)
		}
		st := a.state(pkt.TrackID)
		a.mu.Lock()
		st.avc = cfg
		a.mu.Unlock()
		return pkt.Rebind(packet.H264AnnexB, packet.SequenceHeader, SequenceHeaderToAnnexB(cfg)), nil
	}
	st := a.state(pkt.TrackID)
	a.mu.Lock()
	cfg := st.avc
	a.mu.Unlock()
	out, err := AVCCToAnnexB(pkt.Payload, cfg)
	if err != nil {
		return nil, routererr.NewMalformedBitstream("h264.avcc_to_annexb", err)
	}
	return pkt.Rebind(packet.H264AnnexB, pkt.Kind, out), nil
}

func (a *Adapter) adaptHEVCAnnexBToAVCC(pkt *packet.MediaPacket) (*packet.MediaPacket, error) {
	if pkt.Kind == packet.SequenceHeader {
		cfg, err := ExtractVPSSPSPPSFromAnnexB(pkt.Payload)
		if err != nil {
			return nil, routererr.NewMalformedBitstream("hevc.annexb.sequenceheader", err)
		}
		st := a.state(pkt.TrackID)
		a.mu.Lock()
		st.hevc = cfg
		a.mu.Unlock()
		return pkt.Rebind(packet.HEVCHVCC, packet.SequenceHeader, BuildHEVCDecoderConfigurationRecord(cfg)), nil
	}
	out, err := HEVCAnnexBToAVCC(pkt.Payload)
	if err != nil {
		return nil, routererr.NewMalformedBitstream("hevc.annexb_to_hvcc", err)
	}
	return pkt.Rebind(packet.HEVCHVCC, pkt.Kind, out), nil
}

func (a *Adapter) adaptHEVCAVCCToAnnexB(pkt *packet.MediaPacket) (*packet.MediaPacket, error) {
	if pkt.Kind == packet.SequenceHeader {
		cfg, err := ParseHEVCDecoderConfigurationRecord(pkt.Payload)
		if err != nil {
			return nil, routererr.NewMalformedBitstream("hevc.hvcc.sequenceheader", err)
		}
		st := a.state(pkt.TrackID)
		a.mu.Lock()
		st.hevc = cfg
		a.mu.Unlock()
		return pkt.Rebind(packet.HEVCAnnexB, packet.SequenceHeader, HEVCSequenceHeaderToAnnexB(cfg)), nil
	}
	st := a.state(pkt.TrackID)
	a.mu.Lock()
	cfg := st.hevc
	a.mu.Unlock()
	out, err := HEVCAVCCToAnnexB(pkt.Payload, cfg)
	if err != nil {
		return nil, routererr.NewMalformedBitstream("hevc.hvcc_to_annexb", err)
	}
	return pkt.Rebind(packet.HEVCAnnexB, pkt.Kind, out), nil
}

func (a *Adapter) adaptADTSToRAW(pkt *packet.MediaPacket) (*packet.MediaPacket, error) {
	raw, cfg, err := ADTSToRAW(pkt.Payload)
	if err != nil {
		return nil, routererr.NewMalformedBitstream("aac.adts_to_raw", err)
	}
	st := a.state(pkt.TrackID)
	a.mu.Lock()
	if st.aac == nil {
		st.aac = cfg
	}
	a.mu.Unlock()
	return pkt.Rebind(packet.AACRAW, pkt.Kind, raw), nil
}

func (a *Adapter) adaptRAWToADTS(pkt *packet.MediaPacket) (*packet.MediaPacket, error) {
	st := a.state(pkt.TrackID)
	a.mu.Lock()
	cfg := st.aac
	a.mu.Unlock()
	out, err := RAWToADTS(pkt.Payload, cfg)
	if err != nil {
		return nil, routererr.NewMalformedBitstream("aac.raw_to_adts", err)
	}
	return pkt.Rebind(packet.AACADTS, pkt.Kind, out), nil
}

// PendingSequenceHeader returns a synthesized SequenceHeader packet that must
// be delivered before the next data packet on trackID/target, when the
// origin stream never emitted one explicitly (spec §4.2: AAC "publish as
// SequenceHeader on the track if absent"; OPUS "attach OpusSpecificConfig as
// SequenceHeader on first key packet if track lacks one"). Returns false if
// nothing is pending or the required config hasn't been observed yet.
func (a *Adapter) PendingSequenceHeader(trackID uint32, mediaType packet.MediaType, target packet.BitstreamFormat) (*packet.MediaPacket, bool) {
	st := a.state(trackID)
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case target == packet.AACADTS && mediaType == packet.Audio:
		return nil, false // ADTS carries its own header inline; nothing to synthesize
	case target == packet.AACRAW && mediaType == packet.Audio && st.aac != nil && !st.aacAttached:
		st.aacAttached = true
		p, _ := packet.New(trackID, packet.Audio, packet.AACRAW, packet.SequenceHeader, 0, 0, 0, packet.NonKey, st.aac.Raw)
		return p, true
	case target == packet.OPUS && mediaType == packet.Audio && st.opus != nil && !st.opusAttached:
		st.opusAttached = true
		p, _ := packet.New(trackID, packet.Audio, packet.OPUS, packet.SequenceHeader, 0, 0, 0, packet.NonKey, st.opus.Raw)
		return p, true
	default:
		return nil, false
	}
}

// MarkExplicitSequenceHeader records that the origin stream itself emitted a
// SequenceHeader for trackID, so PendingSequenceHeader never synthesizes a
// duplicate one afterward (spec §4.2 "if absent").
func (a *Adapter) MarkExplicitSequenceHeader(trackID uint32, mediaType packet.MediaType) {
	if mediaType != packet.Audio {
		return
	}
	st := a.state(trackID)
	a.mu.Lock()
	defer a.mu.Unlock()
	st.aacAttached = true
	st.opusAttached = true
}

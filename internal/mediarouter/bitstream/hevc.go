package bitstream

import (
	"encoding/binary"
	"fmt"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
)

const (
	hevcNALTypeVPS = 32
	hevcNALTypeSPS = 33
	hevcNALTypePPS = 34
	hevcNALTypeIDR = 19 // IDR_W_RADL; IDR_N_LP (20) is the sibling IRAP type
)

// hevcNALUnitType extracts the NAL unit type from a 2-byte HEVC NAL header:
// bits 1-6 of the first byte.
func hevcNALUnitType(nal []byte) uint8 {
	if len(nal) == 0 {
		return 0
	}
	return (nal[0] >> 1) & 0x3F
}

// ParseHEVCDecoderConfigurationRecord decodes an HVCC SequenceHeader into an
// HEVCConfig. The record is simplified relative to ISO/IEC 14496-15's full
// array-of-arrays layout down to what the adapter needs: one NAL list per
// parameter-set kind, each length-prefixed the same way AVCC is, which keeps
// the parser symmetric with ParseAVCDecoderConfigurationRecord.
func ParseHEVCDecoderConfigurationRecord(data []byte) (*packet.HEVCConfig, error) {
	const minSize = 9
	if len(data) < minSize {
		return nil, fmt.Errorf("hvcC record too small: %d bytes", len(data))
	}
	cfg := &packet.HEVCConfig{
		GeneralProfileIDC:  data[1] & 0x1F,
		GeneralLevelIDC:    data[6],
		LengthSizeMinusOne: data[7] & 0x03,
	}

	pos := 8
	numArrays := int(data[pos])
	pos++
	for a := 0; a < numArrays; a++ {
		if pos+3 > len(data) {
			return nil, fmt.Errorf("hvcC record truncated reading array header")
		}
		nalType := data[pos] & 0x3F
		pos++
		count := int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
		for i := 0; i < count; i++ {
			if pos+2 > len(data) {
				return nil, fmt.Errorf("hvcC record truncated reading NAL length")
			}
			nalLen := int(binary.BigEndian.Uint16(data[pos:]))
			pos += 2
			if pos+nalLen > len(data) {
				return nil, fmt.Errorf("hvcC record truncated reading NAL payload")
			}
			nal := append([]byte(nil), data[pos:pos+nalLen]...)
			pos += nalLen
			switch nalType {
			case hevcNALTypeVPS:
				cfg.VPS = append(cfg.VPS, nal)
			case hevcNALTypeSPS:
				cfg.SPS = append(cfg.SPS, nal)
			case hevcNALTypePPS:
				cfg.PPS = append(cfg.PPS, nal)
			}
		}
	}
	if len(cfg.SPS) == 0 || len(cfg.PPS) == 0 {
		return nil, fmt.Errorf("hvcC record has no SPS/PPS")
	}
	return cfg, nil
}

// BuildHEVCDecoderConfigurationRecord serializes an HEVCConfig into an HVCC
// SequenceHeader payload, one array per parameter-set kind present.
func BuildHEVCDecoderConfigurationRecord(cfg *packet.HEVCConfig) []byte {
	out := []byte{
		0x01, // configurationVersion
		0x80 | cfg.GeneralProfileIDC,
		0, 0, 0, 0, // general_profile_compatibility_flags (unused by this adapter)
		cfg.GeneralLevelIDC,
	}
	numArrays := 0
	for _, set := range [][][]byte{cfg.VPS, cfg.SPS, cfg.PPS} {
		if len(set) > 0 {
			numArrays++
		}
	}
	out = append(out, 0xFC|(cfg.LengthSizeMinusOne&0x03))
	out = append(out, byte(numArrays))
	for nalType, set := range map[uint8][][]byte{hevcNALTypeVPS: cfg.VPS, hevcNALTypeSPS: cfg.SPS, hevcNALTypePPS: cfg.PPS} {
		if len(set) == 0 {
			continue
		}
		out = append(out, nalType&0x3F)
		var countBuf [2]byte
		binary.BigEndian.PutUint16(countBuf[:], uint16(len(set)))
		out = append(out, countBuf[:]...)
		for _, nal := range set {
			out = appendU16Prefixed(out, nal)
		}
	}
	return out
}

// HEVCAVCCToAnnexB converts a length-prefixed HEVC access unit to AnnexB,
// prepending VPS+SPS+PPS on the first IRAP NAL (types 16-23: BLA, IDR, CRA) —
// the HEVC counterpart of AVCCToAnnexB's IDR rule.
func HEVCAVCCToAnnexB(payload []byte, cfg *packet.HEVCConfig) ([]byte, error) {
	out := make([]byte, 0, len(payload)+64)
	pos := 0
	prepended := false
	for pos < len(payload) {
		if pos+4 > len(payload) {
			return nil, fmt.Errorf("hvcc: truncated length prefix at offset %d", pos)
		}
		nalLen := int(binary.BigEndian.Uint32(payload[pos:]))
		pos += 4
		if nalLen < 0 || pos+nalLen > len(payload) {
			return nil, fmt.Errorf("hvcc: NAL length %d exceeds remaining buffer", nalLen)
		}
		nal := payload[pos : pos+nalLen]
		pos += nalLen

		if !prepended && isHEVCIRAP(hevcNALUnitType(nal)) && cfg != nil {
			out = append(out, hevcParamSetAnnexB(cfg)...)
			prepended = true
		}

		out = append(out, startCode4...)
		out = append(out, nal...)
	}
	return out, nil
}

func isHEVCIRAP(nalType uint8) bool {
	return nalType >= 16 && nalType <= 23
}

func hevcParamSetAnnexB(cfg *packet.HEVCConfig) []byte {
	var out []byte
	for _, nal := range cfg.VPS {
		out = append(out, startCode4...)
		out = append(out, nal...)
	}
	for _, nal := range cfg.SPS {
		out = append(out, startCode4...)
		out = append(out, nal...)
	}
	for _, nal := range cfg.PPS {
		out = append(out, startCode4...)
		out = append(out, nal...)
	}
	return out
}

// HEVCSequenceHeaderToAnnexB renders an HVCC record as its AnnexB VPS+SPS+PPS
// blob, mirroring SequenceHeaderToAnnexB for H.264.
func HEVCSequenceHeaderToAnnexB(cfg *packet.HEVCConfig) []byte {
	return hevcParamSetAnnexB(cfg)
}

// HEVCAnnexBToAVCC re-frames an AnnexB HEVC access unit with 4-byte length
// prefixes per NAL unit, discarding start codes (spec §4.2 table, HEVC row).
func HEVCAnnexBToAVCC(payload []byte) ([]byte, error) {
	nalus, err := splitAnnexB(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload))
	for _, nal := range nalus {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nal)))
		out = append(out, lenBuf[:]...)
		out = append(out, nal...)
	}
	return out, nil
}

// ExtractVPSSPSPPSFromAnnexB scans an AnnexB blob for in-band VPS/SPS/PPS,
// mirroring ExtractSPSPPSFromAnnexB for H.264.
func ExtractVPSSPSPPSFromAnnexB(payload []byte) (*packet.HEVCConfig, error) {
	nalus, err := splitAnnexB(payload)
	if err != nil {
		return nil, err
	}
	cfg := &packet.HEVCConfig{}
	for _, nal := range nalus {
		switch hevcNALUnitType(nal) {
		case hevcNALTypeVPS:
			cfg.VPS = append(cfg.VPS, append([]byte(nil), nal...))
		case hevcNALTypeSPS:
			cfg.SPS = append(cfg.SPS, append([]byte(nil), nal...))
		case hevcNALTypePPS:
			cfg.PPS = append(cfg.PPS, append([]byte(nil), nal...))
		}
	}
	if len(cfg.SPS) == 0 || len(cfg.PPS) == 0 {
		return nil, fmt.Errorf("annexb: no HEVC SPS/PPS found")
	}
	return cfg, nil
}

package bitstream

import (
	"fmt"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
)

// adtsSampleRates is the MPEG-4 sampling_frequency_index table shared by
// ADTS headers and AudioSpecificConfig.
var adtsSampleRates = [16]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

func sampleRateIndex(rate uint32) uint8 {
	for i, r := range adtsSampleRates {
		if r == rate {
			return uint8(i)
		}
	}
	return 4 // default 44100
}

// ADTSToRAW strips the 7-byte (or 9-byte with CRC) ADTS header, returning the
// raw AAC frame payload (spec §4.2 table, ADTS->RAW row).
func ADTSToRAW(payload []byte) ([]byte, *packet.AACConfig, error) {
	if len(payload) < 7 {
		return nil, nil, fmt.Errorf("adts: payload too short (%d bytes)", len(payload))
	}
	if payload[0] != 0xFF || payload[1]&0xF0 != 0xF0 {
		return nil, nil, fmt.Errorf("adts: missing syncword")
	}

	protectionAbsent := payload[1] & 0x01
	objectType := (payload[2] >> 6 & 0x03) + 1 // profile stored as objectType-1
	sampleRateIdx := (payload[2] >> 2) & 0x0F
	channelConfig := ((payload[2] & 0x01) << 2) | (payload[3] >> 6)

	headerLen := 7
	if protectionAbsent == 0 {
		headerLen = 9
	}
	if len(payload) < headerLen {
		return nil, nil, fmt.Errorf("adts: payload shorter than header (%d < %d)", len(payload), headerLen)
	}

	cfg := &packet.AACConfig{
		Raw:           synthesizeASC(objectType, sampleRateIdx, channelConfig),
		ObjectType:    objectType,
		SampleRate:    adtsSampleRates[sampleRateIdx],
		ChannelConfig: channelConfig,
	}

	return payload[headerLen:], cfg, nil
}

// RAWToADTS prepends a 7-byte ADTS header derived from cfg, recomputing the
// frame length field for this specific raw frame (spec §4.2 table, RAW->ADTS row).
func RAWToADTS(raw []byte, cfg *packet.AACConfig) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("adts: no AudioSpecificConfig available to synthesize header")
	}
	frameLen := len(raw) + 7
	if frameLen > 0x1FFF {
		return nil, fmt.Errorf("adts: frame too large for 13-bit length field (%d)", frameLen)
	}

	sampleRateIdx := sampleRateIndex(cfg.SampleRate)
	header := make([]byte, 7, 7+len(raw))
	header[0] = 0xFF
	header[1] = 0xF1 // MPEG-4, layer 0, protection absent
	header[2] = ((cfg.ObjectType - 1) & 0x03 << 6) | (sampleRateIdx&0x0F)<<2 | (cfg.ChannelConfig>>2)&0x01
	header[3] = (cfg.ChannelConfig&0x03)<<6 | byte(frameLen>>11)&0x03
	header[4] = byte(frameLen >> 3)
	header[5] = byte(frameLen<<5) | 0x1F
	header[6] = 0xFC

	return append(header, raw...), nil
}

// synthesizeASC builds a minimal 2-byte AudioSpecificConfig (object type +
// sampling frequency index + channel configuration, no SBR/PS extension)
// from ADTS header fields (spec §4.2: "synthesize AudioSpecificConfig from
// ADTS profile/rate/channels").
func synthesizeASC(objectType, sampleRateIdx, channelConfig uint8) []byte {
	b0 := (objectType&0x1F)<<3 | (sampleRateIdx>>1)&0x07
	b1 := (sampleRateIdx&0x01)<<7 | (channelConfig&0x0F)<<3
	return []byte{b0, b1}
}

// ParseAudioSpecificConfig decodes object type, sample rate and channel
// configuration out of a raw ASC byte sequence.
func ParseAudioSpecificConfig(asc []byte) (*packet.AACConfig, error) {
	if len(asc) < 2 {
		return nil, fmt.Errorf("asc: payload too short (%d bytes)", len(asc))
	}
	objectType := (asc[0] >> 3) & 0x1F
	sampleRateIdx := ((asc[0] & 0x07) << 1) | (asc[1] >> 7)
	channelConfig := (asc[1] >> 3) & 0x0F
	if int(sampleRateIdx) >= len(adtsSampleRates) {
		return nil, fmt.Errorf("asc: sample rate index out of range: %d", sampleRateIdx)
	}
	return &packet.AACConfig{
		Raw:           append([]byte(nil), asc...),
		ObjectType:    objectType,
		SampleRate:    adtsSampleRates[sampleRateIdx],
		ChannelConfig: channelConfig,
	}, nil
}

package bitstream

import (
	"math/bits"
	"testing"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/stretchr/testify/require"
)

// spsBitWriter builds a synthetic seq_parameter_set_rbsp() bitstream for
// ParseSPSDimensions tests, writing the same Exp-Golomb encoding the decoder
// expects (Rec. ITU-T H.264 §9.1).
type spsBitWriter struct {
	out  []byte
	cur  byte
	nbit int
}

func (w *spsBitWriter) writeBit(b uint32) {
	w.cur = (w.cur << 1) | byte(b&1)
	w.nbit++
	if w.nbit == 8 {
		w.out = append(w.out, w.cur)
		w.cur, w.nbit = 0, 0
	}
}

func (w *spsBitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> uint(i)) & 1)
	}
}

func (w *spsBitWriter) writeUE(codeNum uint32) {
	v := codeNum + 1
	n := bits.Len32(v)
	for i := 0; i < n-1; i++ {
		w.writeBit(0)
	}
	w.writeBits(v, n)
}

func (w *spsBitWriter) bytes() []byte {
	out := append([]byte(nil), w.out...)
	if w.nbit > 0 {
		out = append(out, w.cur<<uint(8-w.nbit))
	}
	return append(out, 0x00, 0x00) // trailing padding, never read by the decoder path under test
}

func buildBaselineSPS(profile, level uint8, widthMbsMinus1, heightMapUnitsMinus1 uint32) []byte {
	w := &spsBitWriter{}
	w.writeUE(0) // seq_parameter_set_id
	w.writeUE(0) // log2_max_frame_num_minus4
	w.writeUE(0) // pic_order_cnt_type
	w.writeUE(0) // log2_max_pic_order_cnt_lsb_minus4
	w.writeUE(0) // max_num_ref_frames
	w.writeBit(0) // gaps_in_frame_num_value_allowed_flag
	w.writeUE(widthMbsMinus1)
	w.writeUE(heightMapUnitsMinus1)
	w.writeBit(1) // frame_mbs_only_flag
	w.writeBit(0) // direct_8x8_inference_flag
	w.writeBit(0) // frame_cropping_flag

	sps := []byte{0x67, profile, 0xC0, level}
	return append(sps, w.bytes()...)
}

func TestParseSPSDimensionsRecoversResolution(t *testing.T) {
	sps := buildBaselineSPS(66, 30, 79, 44) // 1280x720, frame_mbs_only

	profile, level, width, height := ParseSPSDimensions(sps)
	require.Equal(t, uint8(66), profile)
	require.Equal(t, uint8(30), level)
	require.Equal(t, 1280, width)
	require.Equal(t, 720, height)
}

func TestParseSPSDimensionsTooShortReturnsZero(t *testing.T) {
	profile, level, width, height := ParseSPSDimensions([]byte{0x67, 0x42})
	require.Equal(t, uint8(0), profile)
	require.Equal(t, uint8(0), level)
	require.Equal(t, 0, width)
	require.Equal(t, 0, height)
}

func sampleAVCConfig() *packet.AVCConfig {
	return &packet.AVCConfig{
		ProfileIndication: 0x64,
		ProfileCompat:     0x00,
		LevelIndication:   0x1F,
		SPS:               [][]byte{{0x67, 0x64, 0x00, 0x1f, 0xac}},
		PPS:               [][]byte{{0x68, 0xeb, 0xe3, 0xcb}},
	}
}

func TestAVCDecoderConfigurationRecordRoundTrip(t *testing.T) {
	cfg := sampleAVCConfig()
	raw := BuildAVCDecoderConfigurationRecord(cfg)

	parsed, err := ParseAVCDecoderConfigurationRecord(raw)
	require.NoError(t, err)
	require.Equal(t, cfg.ProfileIndication, parsed.ProfileIndication)
	require.Equal(t, cfg.LevelIndication, parsed.LevelIndication)
	require.Equal(t, cfg.SPS, parsed.SPS)
	require.Equal(t, cfg.PPS, parsed.PPS)
}

func TestAnnexBToAVCCAndBack(t *testing.T) {
	nal1 := []byte{0x67, 0x64, 0x00, 0x1f, 0xac} // fake SPS NAL
	nal2 := []byte{0x65, 0x88, 0x84, 0x00}        // fake IDR NAL

	var annexb []byte
	annexb = append(annexb, 0x00, 0x00, 0x00, 0x01)
	annexb = append(annexb, nal1...)
	annexb = append(annexb, 0x00, 0x00, 0x01)
	annexb = append(annexb, nal2...)

	avcc, err := AnnexBToAVCC(annexb)
	require.NoError(t, err)

	// 4-byte length prefix + nal1, then 4-byte length prefix + nal2
	require.Equal(t, len(nal1)+4+len(nal2)+4, len(avcc))

	back, err := AVCCToAnnexB(avcc, nil)
	require.NoError(t, err)
	// nal2 is an IDR NAL (0x65&0x1F=5), but with cfg==nil there are no
	// SPS/PPS to prepend, so back holds just the two NAL units.
	require.Contains(t, string(back), string(nal1))
	require.Contains(t, string(back), string(nal2))
}

func TestAVCCToAnnexBPrependsParamSetsOnIDR(t *testing.T) {
	cfg := sampleAVCConfig()
	idrNAL := []byte{0x65, 0x01, 0x02, 0x03} // NAL type 5 = IDR

	var avcc []byte
	avcc = append(avcc, 0x00, 0x00, 0x00, byte(len(idrNAL)))
	avcc = append(avcc, idrNAL...)

	annexb, err := AVCCToAnnexB(avcc, cfg)
	require.NoError(t, err)

	expectedPrefix := paramSetAnnexB(cfg.SPS, cfg.PPS)
	require.Equal(t, expectedPrefix, annexb[:len(expectedPrefix)])
}

func TestAdapterFullScenario_AnnexBInAVCCOut(t *testing.T) {
	// Mirrors spec §8 scenario 1: one SequenceHeader + 10 NALU packets,
	// observer wants H264-AVCC.
	a := New()

	seqPayload := paramSetAnnexB(sampleAVCConfig().SPS, sampleAVCConfig().PPS)
	seqPkt, err := packet.New(0, packet.Video, packet.H264AnnexB, packet.SequenceHeader, 0, 0, 0, packet.NonKey, seqPayload)
	require.NoError(t, err)

	adapted, err := a.Adapt(seqPkt, packet.H264AVCC)
	require.NoError(t, err)
	require.Equal(t, packet.H264AVCC, adapted.Format)
	require.Equal(t, packet.SequenceHeader, adapted.Kind)

	for i := 0; i < 10; i++ {
		nalType := byte(0x01) // non-IDR
		flag := packet.NonKey
		if i%2 == 0 {
			nalType = 0x05 // IDR
			flag = packet.Key
		}
		nal := []byte{nalType, 0xAA, 0xBB}
		var payload []byte
		payload = append(payload, 0x00, 0x00, 0x00, 0x01)
		payload = append(payload, nal...)

		pts := int64(i) * 33
		p, err := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, pts, pts, 33, flag, payload)
		require.NoError(t, err)

		out, err := a.Adapt(p, packet.H264AVCC)
		require.NoError(t, err)
		require.Equal(t, packet.H264AVCC, out.Format)
		// 4-byte length prefix + NAL, no start code bytes remain
		require.NotContains(t, string(out.Payload), "\x00\x00\x00\x01")
	}
}

package router

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
)

type recordingObserver struct {
	role   Role
	mu     sync.Mutex
	dts    []int64
	reject bool
	delay  time.Duration
}

func (o *recordingObserver) Role() Role { return o.role }
func (o *recordingObserver) OnStreamCreated(*packet.Stream) bool { return !o.reject }
func (o *recordingObserver) OnStreamPrepared(*packet.Stream) bool { return true }
func (o *recordingObserver) OnStreamUpdated(*packet.Stream) bool { return true }
func (o *recordingObserver) OnStreamDeleted(*packet.Stream) bool { return true }
func (o *recordingObserver) OnSendFrame(s *packet.Stream, pkt *packet.MediaPacket) bool {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	o.mu.Lock()
	o.dts = append(o.dts, pkt.DTS)
	o.mu.Unlock()
	return true
}
func (o *recordingObserver) DesiredFormat(*packet.Stream, uint32) packet.BitstreamFormat { return "" }

func (o *recordingObserver) snapshot() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.dts...)
}

func newTestStream(t *testing.T, capacity int) (*RouterStream, *packet.Stream) {
	t.Helper()
	s := packet.NewStream(1, "live", "test")
	track := &packet.MediaTrack{ID: 0, Media: packet.Video, OriginFormat: packet.H264AnnexB}
	s.AddTrack(track)
	rs := NewRouterStream(s, &stubConnector{role: RoleProvider}, CoreConfig{ProducerBlockMS: 5}, capacity, zerolog.Nop())
	return rs, s
}

type stubConnector struct {
	role Role
}

func (c *stubConnector) Role() Role                          { return c.role }
func (c *stubConnector) PullableSchemes() []string           { return nil }
func (c *stubConnector) IsExistingInboundStream(string) bool { return false }
func (c *stubConnector) OnStreamCreated(*packet.Stream) bool { return true }
func (c *stubConnector) OnStreamUpdated(*packet.Stream) bool { return true }
func (c *stubConnector) OnStreamDeleted(*packet.Stream) bool { return true }
func (c *stubConnector) OnPacketReceived(*packet.Stream, *packet.MediaPacket) bool {
	return true
}

func TestPrepareGateBlocksSendUntilAllAccept(t *testing.T) {
	rs, _ := newTestStream(t, 10)
	obs := &recordingObserver{role: RolePublisher}

	ok := rs.Prepare([]Observer{obs})
	require.True(t, ok)
	require.Equal(t, StatePrepared, rs.State())
}

func TestPrepareRejectedByOneObserverFailsAll(t *testing.T) {
	rs, _ := newTestStream(t, 10)
	ok1 := &recordingObserver{role: RolePublisher}
	bad := &recordingObserver{role: RolePublisher, reject: true}

	ok := rs.Prepare([]Observer{ok1, bad})
	require.False(t, ok)
	require.Equal(t, StateCreated, rs.State())
}

func TestFIFODeliveryPreservesDTSOrder(t *testing.T) {
	rs, s := newTestStream(t, 100)
	obs := &recordingObserver{role: RolePublisher}
	require.True(t, rs.Prepare([]Observer{obs}))

	var want []int64
	for i := 0; i < 20; i++ {
		dts := int64(i) * 33
		want = append(want, dts)
		p, err := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, dts, dts, 33, packet.NonKey, []byte{0x01})
		require.NoError(t, err)
		require.True(t, rs.Enqueue(p))
	}
	_ = s

	require.Eventually(t, func() bool {
		return len(obs.snapshot()) == 20
	}, time.Second, time.Millisecond)

	require.Equal(t, want, obs.snapshot())
}

func TestOverflowPolicyNeverDropsKeyPackets(t *testing.T) {
	rs, _ := newTestStream(t, 100)
	slow := &recordingObserver{role: RolePublisher, delay: 2 * time.Millisecond}
	require.True(t, rs.Prepare([]Observer{slow}))

	keyCount := 0
	for i := 0; i < 1000; i++ {
		flag := packet.NonKey
		if i%30 == 0 {
			flag = packet.Key
			keyCount++
		}
		dts := int64(i)
		p, err := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, dts, dts, 1, flag, []byte{byte(i)})
		require.NoError(t, err)
		rs.Enqueue(p)
	}

	require.Eventually(t, func() bool {
		keys := 0
		for _, dts := range slow.snapshot() {
			if dts%30 == 0 {
				keys++
			}
		}
		return keys >= keyCount
	}, 5*time.Second, 5*time.Millisecond)

	delivered := obsDelivered(slow)
	keysDelivered := 0
	for _, dts := range slow.snapshot() {
		if dts%30 == 0 {
			keysDelivered++
		}
	}
	require.Equal(t, keyCount, keysDelivered, "every key packet produced must be delivered")
	require.Greater(t, delivered, 0)
}

func obsDelivered(o *recordingObserver) int {
	return len(o.snapshot())
}

func TestLateObserverStartsAtNextKeyFrame(t *testing.T) {
	rs, _ := newTestStream(t, 100)
	early := &recordingObserver{role: RolePublisher}
	require.True(t, rs.Prepare([]Observer{early}))

	for i := 0; i < 3; i++ {
		dts := int64(i)
		p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, dts, dts, 1, packet.NonKey, []byte{1})
		rs.Enqueue(p)
	}
	require.Eventually(t, func() bool { return len(early.snapshot()) == 3 }, time.Second, time.Millisecond)

	late := &recordingObserver{role: RolePublisher}
	require.True(t, rs.AttachLateObserver(late))

	nonKey, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 10, 10, 1, packet.NonKey, []byte{1})
	rs.Enqueue(nonKey)
	key, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 11, 11, 1, packet.Key, []byte{1})
	rs.Enqueue(key)
	afterKey, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 12, 12, 1, packet.NonKey, []byte{1})
	rs.Enqueue(afterKey)

	require.Eventually(t, func() bool { return len(late.snapshot()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []int64{11, 12}, late.snapshot(), "late observer must skip the leading non-key packet")
}

func TestOnStreamUpdatedAppliesBeforeNextPacket(t *testing.T) {
	rs, s := newTestStream(t, 100)
	obs := &recordingObserver{role: RolePublisher}
	require.True(t, rs.Prepare([]Observer{obs}))

	p0, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 0, 0, 33, packet.Key, []byte{1})
	rs.Enqueue(p0)

	updated := s.Clone()
	updated.Tracks[0].Video.Width = 1920
	require.True(t, rs.OnStreamUpdated(updated))

	p1, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 33, 33, 33, packet.NonKey, []byte{2})
	rs.Enqueue(p1)

	require.Eventually(t, func() bool { return len(obs.snapshot()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, 1920, rs.Stream.Tracks[0].Video.Width)
}

func TestStreamDeletionDiscardsInFlightAndStopsDelivery(t *testing.T) {
	rs, _ := newTestStream(t, 100)
	obs := &recordingObserver{role: RolePublisher, delay: 20 * time.Millisecond}
	require.True(t, rs.Prepare([]Observer{obs}))

	for i := 0; i < 5; i++ {
		dts := int64(i)
		p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, dts, dts, 1, packet.NonKey, []byte{1})
		rs.Enqueue(p)
	}

	require.True(t, rs.Delete())
	require.Equal(t, StateStopped, rs.State())

	delivered := len(obs.snapshot())
	require.Less(t, delivered, 5, "packets still queued at Delete must be discarded")
	time.Sleep(50 * time.Millisecond)
	require.Len(t, obs.snapshot(), delivered, "no delivery after Delete")
}

package tap

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/router"
	"github.com/alxayo/mediarouter/internal/mediarouter/routererr"
)

type stubConnector struct {
	role router.Role
}

func (c *stubConnector) Role() router.Role                 { return c.role }
func (c *stubConnector) PullableSchemes() []string          { return nil }
func (c *stubConnector) IsExistingInboundStream(string) bool { return false }
func (c *stubConnector) OnStreamCreated(*packet.Stream) bool { return true }
func (c *stubConnector) OnStreamUpdated(*packet.Stream) bool { return true }
func (c *stubConnector) OnStreamDeleted(*packet.Stream) bool { return true }
func (c *stubConnector) OnPacketReceived(*packet.Stream, *packet.MediaPacket) bool {
	return true
}

type recordingListener struct {
	mu    sync.Mutex
	count int
}

func (l *recordingListener) OnTapFrame(*packet.Stream, *packet.MediaPacket) {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func makeStream(id uint64, name string) *packet.Stream {
	s := packet.NewStream(id, "live/app", name)
	s.AddTrack(&packet.MediaTrack{ID: 0, Media: packet.Video, OriginFormat: packet.H264AnnexB})
	return s
}

func TestMirrorInboundReceivesProviderTraffic(t *testing.T) {
	core := router.NewCore(router.CoreConfig{ProducerBlockMS: 1}, zerolog.Nop())
	app := core.GetOrCreateApplication("live", "app")
	provider := &stubConnector{role: router.RoleProvider}
	app.RegisterConnector(provider)

	rs, err := app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.NoError(t, err)

	mgr := NewManager(core)
	listener := &recordingListener{}
	require.NoError(t, mgr.MirrorStream(listener, "live", "app", "foo", Inbound))

	p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 0, 0, 33, packet.Key, []byte{1})
	require.True(t, app.OnPacketReceived(provider, rs.Stream, p))

	require.Eventually(t, func() bool { return listener.snapshot() == 1 }, time.Second, time.Millisecond)
}

func TestMirrorOutboundFindsTranscoderStream(t *testing.T) {
	core := router.NewCore(router.CoreConfig{ProducerBlockMS: 1}, zerolog.Nop())
	app := core.GetOrCreateApplication("live", "app")
	transcoder := &stubConnector{role: router.RoleTranscoder}
	app.RegisterConnector(transcoder)

	rs, err := app.OnStreamCreated(transcoder, makeStream(0, "foo"))
	require.NoError(t, err)

	mgr := NewManager(core)
	listener := &recordingListener{}
	require.NoError(t, mgr.MirrorStream(listener, "live", "app", "foo", Outbound))

	p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 0, 0, 33, packet.Key, []byte{1})
	require.True(t, app.OnPacketReceived(transcoder, rs.Stream, p))

	require.Eventually(t, func() bool { return listener.snapshot() == 1 }, time.Second, time.Millisecond)
}

func TestMirrorNoSuchStream(t *testing.T) {
	core := router.NewCore(router.CoreConfig{}, zerolog.Nop())
	core.GetOrCreateApplication("live", "app")
	mgr := NewManager(core)
	err := mgr.MirrorStream(&recordingListener{}, "live", "app", "missing", Inbound)
	require.ErrorIs(t, err, routererr.ErrTapNoSuchStream)
}

func TestMirrorAlreadyAttached(t *testing.T) {
	core := router.NewCore(router.CoreConfig{ProducerBlockMS: 1}, zerolog.Nop())
	app := core.GetOrCreateApplication("live", "app")
	provider := &stubConnector{role: router.RoleProvider}
	app.RegisterConnector(provider)
	_, err := app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.NoError(t, err)

	mgr := NewManager(core)
	listener := &recordingListener{}
	require.NoError(t, mgr.MirrorStream(listener, "live", "app", "foo", Inbound))
	err = mgr.MirrorStream(listener, "live", "app", "foo", Inbound)
	require.ErrorIs(t, err, routererr.ErrTapAlreadyAttached)
}

func TestUnmirrorStopsDelivery(t *testing.T) {
	core := router.NewCore(router.CoreConfig{ProducerBlockMS: 1}, zerolog.Nop())
	app := core.GetOrCreateApplication("live", "app")
	provider := &stubConnector{role: router.RoleProvider}
	app.RegisterConnector(provider)
	rs, err := app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.NoError(t, err)

	mgr := NewManager(core)
	listener := &recordingListener{}
	require.NoError(t, mgr.MirrorStream(listener, "live", "app", "foo", Inbound))
	mgr.UnmirrorStream(listener)

	p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 0, 0, 33, packet.Key, []byte{1})
	require.True(t, app.OnPacketReceived(provider, rs.Stream, p))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, listener.snapshot())
}

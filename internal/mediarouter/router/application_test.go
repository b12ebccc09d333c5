package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/routererr"
)

type pullConnector struct {
	stubConnector
	calls   atomic.Int32
	schemes []string
}

func (c *pullConnector) PullableSchemes() []string { return c.schemes }

func (c *pullConnector) PullStream(ctx context.Context, url, streamName string) error {
	c.calls.Add(1)
	return nil
}

func newTestApp(cfg CoreConfig) *Application {
	return NewApplication("live", "app", cfg, zerolog.Nop())
}

func makeStream(id uint64, name string) *packet.Stream {
	s := packet.NewStream(id, "live/app", name)
	s.AddTrack(&packet.MediaTrack{ID: 0, Media: packet.Video, OriginFormat: packet.H264AnnexB})
	return s
}

func TestDuplicateConnectorRejected(t *testing.T) {
	app := newTestApp(CoreConfig{ProducerBlockMS: 1})
	provider := &stubConnector{role: RoleProvider}
	app.RegisterConnector(provider)

	_, err := app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.NoError(t, err)

	_, err = app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.ErrorIs(t, err, routererr.ErrDuplicateConnector)
}

func TestRoutingMatrixProviderFansToTranscoderAndOrchestrator(t *testing.T) {
	app := newTestApp(CoreConfig{ProducerBlockMS: 1})
	provider := &stubConnector{role: RoleProvider}
	app.RegisterConnector(provider)

	transcoder := &recordingObserver{role: RoleTranscoder}
	orchestrator := &recordingObserver{role: RoleOrchestrator}
	publisher := &recordingObserver{role: RolePublisher}
	app.RegisterObserver(transcoder)
	app.RegisterObserver(orchestrator)
	app.RegisterObserver(publisher)

	rs, err := app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.NoError(t, err)
	require.Equal(t, StatePrepared, rs.State())

	p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 0, 0, 33, packet.Key, []byte{1})
	require.True(t, app.OnPacketReceived(provider, rs.Stream, p))

	require.Eventually(t, func() bool {
		return len(transcoder.snapshot()) == 1 && len(orchestrator.snapshot()) == 1
	}, time.Second, time.Millisecond)
	require.Empty(t, publisher.snapshot(), "publisher must not see provider traffic without bypass")
}

func TestPublisherBypassWhenNoTranscoder(t *testing.T) {
	app := newTestApp(CoreConfig{ProducerBlockMS: 1, PublisherBypassTranscoder: true})
	provider := &stubConnector{role: RoleProvider}
	app.RegisterConnector(provider)
	publisher := &recordingObserver{role: RolePublisher}
	app.RegisterObserver(publisher)

	rs, err := app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.NoError(t, err)

	p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 0, 0, 33, packet.Key, []byte{1})
	require.True(t, app.OnPacketReceived(provider, rs.Stream, p))

	require.Eventually(t, func() bool { return len(publisher.snapshot()) == 1 }, time.Second, time.Millisecond)
}

func TestUnauthorizedConnectorCannotSendOrDelete(t *testing.T) {
	app := newTestApp(CoreConfig{ProducerBlockMS: 1})
	owner := &stubConnector{role: RoleProvider}
	impostor := &stubConnector{role: RoleProvider}
	app.RegisterConnector(owner)

	rs, err := app.OnStreamCreated(owner, makeStream(0, "foo"))
	require.NoError(t, err)

	p, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, 0, 0, 33, packet.Key, []byte{1})
	require.False(t, app.OnPacketReceived(impostor, rs.Stream, p))
	require.False(t, app.OnStreamDeleted(impostor, rs.Stream))
}

func TestPullOnDemandCoalescesConcurrentRequests(t *testing.T) {
	app := newTestApp(CoreConfig{ProducerBlockMS: 1, PullTimeoutMS: 1000})
	core := &Core{cfg: CoreConfig{ProducerBlockMS: 1, PullTimeoutMS: 1000}, logger: zerolog.Nop(), apps: map[appKey]*Application{{"live", "app"}: app}}

	provider := &pullConnector{stubConnector: stubConnector{role: RoleProvider}, schemes: []string{"rtsp"}}
	app.RegisterConnector(provider)

	var wg sync.WaitGroup
	results := make([]*packet.Stream, 3)
	errs := make([]error, 3)
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			defer wg.Done()
			s, err := core.RequestPullStream(context.Background(), "rtsp://example/foo", "live", "app", "foo")
			results[i], errs[i] = s, err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	_, err := app.OnStreamCreated(provider, makeStream(0, "foo"))
	require.NoError(t, err)

	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}
	require.Equal(t, int32(1), provider.calls.Load(), "exactly one pull call for coalesced requests")
}

package tap

import (
	"sync"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/router"
	"github.com/alxayo/mediarouter/internal/mediarouter/routererr"
)

// observerAdapter wraps a Listener as a router.Observer so it can be
// attached directly onto a RouterStream's observer set.
type observerAdapter struct {
	listener Listener
}

func (a *observerAdapter) Role() router.Role                          { return router.RoleTap }
func (a *observerAdapter) OnStreamCreated(*packet.Stream) bool         { return true }
func (a *observerAdapter) OnStreamPrepared(*packet.Stream) bool        { return true }
func (a *observerAdapter) OnStreamUpdated(*packet.Stream) bool         { return true }
func (a *observerAdapter) OnStreamDeleted(*packet.Stream) bool         { return true }
func (a *observerAdapter) DesiredFormat(*packet.Stream, uint32) packet.BitstreamFormat {
	return ""
}

func (a *observerAdapter) OnSendFrame(s *packet.Stream, pkt *packet.MediaPacket) bool {
	a.listener.OnTapFrame(s, pkt)
	return true
}

type attachment struct {
	stream   *router.RouterStream
	adapter  *observerAdapter
	position Position
}

// Manager implements MirrorStream/UnmirrorStream against a live router.Core
// (spec §4.6). One Manager typically wraps the Core for an entire process.
type Manager struct {
	core *router.Core

	mu   sync.Mutex
	taps map[Listener]*attachment
}

// NewManager constructs a Manager bound to core.
func NewManager(core *router.Core) *Manager {
	return &Manager{core: core, taps: make(map[Listener]*attachment)}
}

// MirrorStream attaches listener to the named stream at position, per the
// routing equivalence in spec §4.6: Inbound finds the stream owned by a
// Provider or Relay connector; Outbound finds the stream owned by a
// Transcoder connector.
func (m *Manager) MirrorStream(listener Listener, vhost, app, streamName string, position Position) error {
	if position != Inbound && position != Outbound {
		return routererr.ErrTapInvalidPosition
	}

	m.mu.Lock()
	if _, exists := m.taps[listener]; exists {
		m.mu.Unlock()
		return routererr.ErrTapAlreadyAttached
	}
	m.mu.Unlock()

	a, ok := m.core.Lookup(vhost, app)
	if !ok {
		return routererr.ErrTapNoSuchStream
	}

	rs, ok := findByPosition(a, streamName, position)
	if !ok {
		return routererr.ErrTapNoSuchStream
	}

	adapter := &observerAdapter{listener: listener}
	if !rs.AttachLateObserver(adapter) {
		return routererr.ErrTapNoSuchStream
	}

	m.mu.Lock()
	m.taps[listener] = &attachment{stream: rs, adapter: adapter, position: position}
	m.mu.Unlock()
	return nil
}

// UnmirrorStream detaches listener; buffered packets for this tap are
// discarded along with its observer binding (spec §4.6).
func (m *Manager) UnmirrorStream(listener Listener) {
	m.mu.Lock()
	att, ok := m.taps[listener]
	delete(m.taps, listener)
	m.mu.Unlock()
	if !ok {
		return
	}
	att.stream.DetachObserver(att.adapter)
}

func findByPosition(a *router.Application, name string, position Position) (*router.RouterStream, bool) {
	switch position {
	case Inbound:
		if rs, ok := a.FindStream(name, router.RoleProvider); ok {
			return rs, true
		}
		return a.FindStream(name, router.RoleRelay)
	case Outbound:
		return a.FindStream(name, router.RoleTranscoder)
	default:
		return nil, false
	}
}

package router

import (
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/routererr"
)

// Application is the per-application registry of connectors, observers and
// active streams (C4). It exclusively owns its RouterStream set; connectors
// and observers are held by weak (lookup-only) back-reference, per spec §9.
type Application struct {
	VHost string
	Name  string

	cfg    CoreConfig
	logger zerolog.Logger

	nextStreamID atomic.Uint64

	mu         sync.RWMutex
	connectors []Connector
	observers  []Observer

	streamsByID   map[uint64]*RouterStream
	streamsByName map[string]map[Role]*RouterStream

	pullMu      sync.Mutex
	pullWaiters map[string][]chan *packet.Stream
}

// NewApplication constructs an empty Application.
func NewApplication(vhost, name string, cfg CoreConfig, logger zerolog.Logger) *Application {
	return &Application{
		VHost:         vhost,
		Name:          name,
		cfg:           cfg,
		logger:        logger,
		streamsByID:   make(map[uint64]*RouterStream),
		streamsByName: make(map[string]map[Role]*RouterStream),
		pullWaiters:   make(map[string][]chan *packet.Stream),
	}
}

// RegisterConnector adds connector to the registry. Idempotent.
func (a *Application) RegisterConnector(c Connector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.connectors {
		if existing == c {
			return
		}
	}
	a.connectors = append(a.connectors, c)
}

// UnregisterConnector removes connector from the registry. Idempotent.
func (a *Application) UnregisterConnector(c Connector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.connectors {
		if existing == c {
			a.connectors = append(a.connectors[:i], a.connectors[i+1:]...)
			return
		}
	}
}

// RegisterObserver adds obs to the registry and, if any RouterStream already
// Prepared or Started matches obs's role under the routing matrix (including
// Publisher bypass), attaches it as a late observer on each (spec §8
// "Observer registered after Started").
func (a *Application) RegisterObserver(obs Observer) {
	a.mu.Lock()
	for _, existing := range a.observers {
		if existing == obs {
			a.mu.Unlock()
			return
		}
	}
	hasTranscoder := false
	for _, o := range a.observers {
		if o.Role() == RoleTranscoder {
			hasTranscoder = true
		}
	}
	bypass := a.cfg.PublisherBypassTranscoder && !hasTranscoder && obs.Role() == RolePublisher
	a.observers = append(a.observers, obs)
	streams := make([]*RouterStream, 0, len(a.streamsByID))
	for _, rs := range a.streamsByID {
		ownerRole := rs.Owner().Role()
		if a.routingMatch(ownerRole, obs.Role()) || (bypass && (ownerRole == RoleProvider || ownerRole == RoleRelay)) {
			streams = append(streams, rs)
		}
	}
	a.mu.Unlock()

	for _, rs := range streams {
		if rs.Ready() {
			rs.AttachLateObserver(obs)
		}
	}
}

// UnregisterObserver removes obs from the registry. Idempotent.
func (a *Application) UnregisterObserver(obs Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.observers {
		if existing == obs {
			a.observers = append(a.observers[:i], a.observers[i+1:]...)
			return
		}
	}
}

// IsExistingInboundStream reports whether a Provider- or Relay-owned stream
// with this name is already active, used by providers to avoid duplicate
// ingest (spec §4.4).
func (a *Application) IsExistingInboundStream(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	byRole, ok := a.streamsByName[name]
	if !ok {
		return false
	}
	_, hasProvider := byRole[RoleProvider]
	_, hasRelay := byRole[RoleRelay]
	return hasProvider || hasRelay
}

// routingMatch reports whether an observer of obsRole receives traffic from
// a connector of connRole, per the routing matrix in spec §4.4. Publisher
// bypass (no transcoder registered) is resolved by the caller, since it
// depends on the live registry snapshot at OnStreamCreated time.
func (a *Application) routingMatch(connRole, obsRole Role) bool {
	switch connRole {
	case RoleProvider, RoleRelay:
		return obsRole == RoleTranscoder || obsRole == RoleOrchestrator
	case RoleTranscoder:
		return obsRole == RolePublisher || obsRole == RoleOrchestrator
	default:
		return false
	}
}

// observersFor resolves the observer subset that should receive a new
// stream's traffic, given the owning connector's role (spec §4.4 routing
// matrix, including the publisher_bypass_transcoder switch).
func (a *Application) observersFor(connRole Role) []Observer {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []Observer
	hasTranscoder := false
	switch connRole {
	case RoleProvider, RoleRelay:
		for _, o := range a.observers {
			if o.Role() == RoleTranscoder {
				out = append(out, o)
				hasTranscoder = true
			}
		}
		if a.cfg.PublisherBypassTranscoder && !hasTranscoder {
			for _, o := range a.observers {
				if o.Role() == RolePublisher {
					out = append(out, o)
				}
			}
		}
		for _, o := range a.observers {
			if o.Role() == RoleOrchestrator {
				out = append(out, o)
			}
		}
	case RoleTranscoder:
		for _, o := range a.observers {
			if o.Role() == RolePublisher || o.Role() == RoleOrchestrator {
				out = append(out, o)
			}
		}
	}
	return out
}

// OnStreamCreated mints a new RouterStream for s, owned by connector, and
// fans OnStreamCreated out to the routing-matrix-selected observer subset.
// It fails with ErrDuplicateConnector if connector's role already owns an
// active stream of this name (spec §3 "at most one connector owns a given
// stream-name").
func (a *Application) OnStreamCreated(connector Connector, s *packet.Stream) (*RouterStream, error) {
	a.mu.Lock()
	if byRole, ok := a.streamsByName[s.Name]; ok {
		if _, exists := byRole[connector.Role()]; exists {
			a.mu.Unlock()
			return nil, routererr.ErrDuplicateConnector
		}
	}
	a.mu.Unlock()

	s.ID = a.nextStreamID.Add(1)
	capacity := queueCapacity(a.cfg, s)
	rs := NewRouterStream(s, connector, a.cfg, capacity, a.logger)

	observers := a.observersFor(connector.Role())
	if !rs.Prepare(observers) {
		return nil, routererr.ErrStreamNotReady("create", "observer-rejected")
	}

	a.mu.Lock()
	a.streamsByID[s.ID] = rs
	if a.streamsByName[s.Name] == nil {
		a.streamsByName[s.Name] = make(map[Role]*RouterStream)
	}
	a.streamsByName[s.Name][connector.Role()] = rs
	a.mu.Unlock()

	a.notifyPullWaiters(s.Name, s)
	return rs, nil
}

// OnStreamDeleted transitions s to Stopped and removes it from the registry.
// Returns false if connector is not s's owner, or s is unknown.
func (a *Application) OnStreamDeleted(connector Connector, s *packet.Stream) bool {
	a.mu.Lock()
	rs, ok := a.streamsByID[s.ID]
	if !ok || rs.Owner() != connector {
		a.mu.Unlock()
		return false
	}
	delete(a.streamsByID, s.ID)
	if byRole := a.streamsByName[s.Name]; byRole != nil {
		delete(byRole, connector.Role())
		if len(byRole) == 0 {
			delete(a.streamsByName, s.Name)
		}
	}
	a.mu.Unlock()

	return rs.Delete()
}

// OnPacketReceived enqueues pkt into s's RouterStream. Rejects (releasing
// pkt) if the stream is unknown, not owned by connector, or not
// Prepared/Started (spec §4.4, §7 StreamNotReady).
func (a *Application) OnPacketReceived(connector Connector, s *packet.Stream, pkt *packet.MediaPacket) bool {
	a.mu.RLock()
	rs, ok := a.streamsByID[s.ID]
	a.mu.RUnlock()
	if !ok || rs.Owner() != connector || !rs.Ready() {
		pkt.Release()
		return false
	}
	return rs.Enqueue(pkt)
}

// FindStream looks up the active RouterStream owned by a connector of
// connRole with this name, for use by the tap manager (spec §4.6).
func (a *Application) FindStream(name string, connRole Role) (*RouterStream, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	byRole, ok := a.streamsByName[name]
	if !ok {
		return nil, false
	}
	rs, ok := byRole[connRole]
	return rs, ok
}

// findPullProvider returns the first registered connector that advertises
// support for url's scheme, or nil.
func (a *Application) findPullProvider(rawURL string) Connector {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, c := range a.connectors {
		for _, scheme := range c.PullableSchemes() {
			if scheme == u.Scheme {
				return c
			}
		}
	}
	return nil
}

// waitForStream registers a one-shot waiter fired the next time a stream
// named `name` is created (by any connector role).
func (a *Application) waitForStream(name string) <-chan *packet.Stream {
	ch := make(chan *packet.Stream, 1)
	a.pullMu.Lock()
	a.pullWaiters[name] = append(a.pullWaiters[name], ch)
	a.pullMu.Unlock()
	return ch
}

func (a *Application) notifyPullWaiters(name string, s *packet.Stream) {
	a.pullMu.Lock()
	chans := a.pullWaiters[name]
	delete(a.pullWaiters, name)
	a.pullMu.Unlock()
	for _, ch := range chans {
		ch <- s
		close(ch)
	}
}

// Close deletes every active RouterStream owned by this application.
func (a *Application) Close() error {
	a.mu.RLock()
	streams := make([]*RouterStream, 0, len(a.streamsByID))
	for _, rs := range a.streamsByID {
		streams = append(streams, rs)
	}
	a.mu.RUnlock()

	var wg sync.WaitGroup
	for _, rs := range streams {
		wg.Add(1)
		go func(rs *RouterStream) {
			defer wg.Done()
			rs.Delete()
		}(rs)
	}
	wg.Wait()
	return nil
}

// queueCapacity sizes the input queue to roughly
// InputQueueSizeSeconds worth of packets. Lacking a live bitrate sample at
// creation time, it uses a flat packet-count budget per track (60 packets a
// second). The capacity is fixed for the stream's lifetime; it is not
// re-sized from the measured rate.
func queueCapacity(cfg CoreConfig, s *packet.Stream) int {
	const assumedFPS = 60
	seconds := cfg.InputQueueSizeSeconds
	if seconds == 0 {
		seconds = 3
	}
	tracks := len(s.Tracks)
	if tracks == 0 {
		tracks = 1
	}
	return seconds * assumedFPS * tracks
}

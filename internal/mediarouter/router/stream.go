package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alxayo/mediarouter/internal/mediarouter/bitstream"
	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
)

// State is the Router Stream lifecycle state (spec §4.3).
type State int32

const (
	StateCreated State = iota
	StatePrepared
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StatePrepared:
		return "Prepared"
	case StateStarted:
		return "Started"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// queueItem is either a media packet or a control action; control actions
// (OnStreamUpdated fanout) travel through the same FIFO so they are applied
// strictly before the packets enqueued after them.
type queueItem struct {
	pkt  *packet.MediaPacket
	ctrl func()
}

// observerEntry is one observer's binding to a RouterStream: its acceptance
// of OnStreamCreated, its per-track desired-format cache, and (for
// late-joining observers) the GOP-skip state required by the Prepared gate's
// late-join rule (spec §4.3, §8 boundary behaviors).
type observerEntry struct {
	obs         Observer
	ackd        bool
	formatCache map[uint32]packet.BitstreamFormat
	pendingKey  map[uint32]bool // video trackID -> still waiting for next Key packet
}

func newObserverEntry(obs Observer) *observerEntry {
	return &observerEntry{obs: obs, formatCache: make(map[uint32]packet.BitstreamFormat)}
}

func (e *observerEntry) desiredFormat(s *packet.Stream, trackID uint32) packet.BitstreamFormat {
	if f, ok := e.formatCache[trackID]; ok {
		return f
	}
	f := e.obs.DesiredFormat(s, trackID)
	e.formatCache[trackID] = f
	return f
}

func (e *observerEntry) skips(pkt *packet.MediaPacket) bool {
	if e.pendingKey == nil || pkt.Media != packet.Video {
		return false
	}
	if pkt.Flag == packet.Key {
		e.pendingKey[pkt.TrackID] = false
		return false
	}
	return e.pendingKey[pkt.TrackID]
}

func (e *observerEntry) initLateJoin(s *packet.Stream) {
	e.pendingKey = make(map[uint32]bool)
	for id, t := range s.Tracks {
		if t.Media == packet.Video {
			e.pendingKey[id] = true
		}
	}
}

// RouterStream is a single Stream's queue + worker (C3). Exactly one instance
// exists per live Stream; it is owned exclusively by its RouterApplication.
type RouterStream struct {
	Stream *packet.Stream
	owner  Connector // weak back-reference; never dereferenced for ownership

	cfg    CoreConfig
	logger zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []queueItem
	capacity int
	state    atomic.Int32

	droppedNonKey atomic.Uint64
	droppedAudio  atomic.Uint64

	adapter       *bitstream.Adapter
	lastSeqHeader map[uint32]*packet.MediaPacket

	observersMu sync.RWMutex
	observers   []*observerEntry

	doneCh chan struct{}
}

// NewRouterStream constructs a RouterStream in the Created state. capacity is
// the bounded input queue size (spec §4.3), sized by the caller to
// InputQueueSizeSeconds worth of packets (see queueCapacity).
func NewRouterStream(s *packet.Stream, owner Connector, cfg CoreConfig, capacity int, logger zerolog.Logger) *RouterStream {
	rs := &RouterStream{
		Stream:        s,
		owner:         owner,
		cfg:           cfg,
		logger:        logger,
		capacity:      capacity,
		adapter:       bitstream.New(),
		lastSeqHeader: make(map[uint32]*packet.MediaPacket),
		doneCh:        make(chan struct{}),
	}
	rs.cond = sync.NewCond(&rs.mu)
	for _, t := range s.Tracks {
		rs.adapter.SeedFromTrack(t)
	}
	return rs
}

// Owner returns the connector that created this stream.
func (rs *RouterStream) Owner() Connector { return rs.owner }

// Ready reports whether the stream will accept packets (Prepared or Started).
func (rs *RouterStream) Ready() bool {
	st := State(rs.state.Load())
	return st == StatePrepared || st == StateStarted
}

// State returns the current lifecycle state.
func (rs *RouterStream) State() State { return State(rs.state.Load()) }

// DroppedCount returns the total packets discarded by the overflow policy.
func (rs *RouterStream) DroppedCount() uint64 {
	return rs.droppedNonKey.Load() + rs.droppedAudio.Load()
}

// Prepare fans OnStreamCreated out to observers, and — only if every one of
// them accepts — opens the Prepared gate and starts the worker goroutine.
// Returns false (and leaves the stream in Created) if any observer rejects,
// per spec §4.4 "returns true only if all mandatory observers accept".
func (rs *RouterStream) Prepare(observers []Observer) bool {
	entries := make([]*observerEntry, 0, len(observers))
	allOK := true
	for _, o := range observers {
		e := newObserverEntry(o)
		e.ackd = o.OnStreamCreated(rs.Stream)
		if !e.ackd {
			allOK = false
		}
		entries = append(entries, e)
	}
	if !allOK {
		return false
	}

	rs.observersMu.Lock()
	rs.observers = entries
	rs.observersMu.Unlock()

	rs.state.Store(int32(StatePrepared))
	for _, e := range entries {
		e.obs.OnStreamPrepared(rs.Stream)
	}

	go rs.run()
	return true
}

// AttachLateObserver registers obs once the stream is Prepared or Started,
// replaying the cached SequenceHeader for each track (spec §4.7) and arming
// the GOP-skip gate so the observer's first delivered video packet is a Key
// packet (spec §4.3, §8 boundary behaviors).
func (rs *RouterStream) AttachLateObserver(obs Observer) bool {
	if !rs.Ready() {
		return false
	}
	if !obs.OnStreamCreated(rs.Stream) {
		return false
	}
	obs.OnStreamPrepared(rs.Stream)

	e := newObserverEntry(obs)
	e.initLateJoin(rs.Stream)

	rs.mu.Lock()
	cached := make([]*packet.MediaPacket, 0, len(rs.lastSeqHeader))
	for _, p := range rs.lastSeqHeader {
		cached = append(cached, p)
	}
	rs.mu.Unlock()

	for _, p := range cached {
		target := e.desiredFormat(rs.Stream, p.TrackID)
		if target == "" {
			target = p.Format
		}
		derived, err := rs.adapter.Adapt(p, target)
		if err != nil {
			rs.logger.Warn().Err(err).Uint32("track_id", p.TrackID).Msg("late join: failed to adapt cached sequence header")
			continue
		}
		obs.OnSendFrame(rs.Stream, derived)
	}

	rs.observersMu.Lock()
	rs.observers = append(rs.observers, e)
	rs.observersMu.Unlock()
	return true
}

// DetachObserver removes obs from the stream's observer set. Used by the Tap
// Manager's UnmirrorStream (spec §4.6).
func (rs *RouterStream) DetachObserver(obs Observer) {
	rs.observersMu.Lock()
	defer rs.observersMu.Unlock()
	for i, e := range rs.observers {
		if e.obs == obs {
			rs.observers = append(rs.observers[:i], rs.observers[i+1:]...)
			return
		}
	}
}

// OnStreamUpdated forwards the new track set to every accepted observer,
// strictly before the next queued packet (spec §4.3 OnStreamUpdated
// semantics). It blocks until the worker has applied it.
func (rs *RouterStream) OnStreamUpdated(updated *packet.Stream) bool {
	done := make(chan bool, 1)
	ok := rs.enqueueControl(func() {
		rs.mu.Lock()
		for id, t := range updated.Tracks {
			rs.Stream.Tracks[id] = t
			rs.adapter.Reset(id)
			rs.adapter.SeedFromTrack(t)
		}
		rs.Stream.TrackOrder = updated.TrackOrder
		rs.mu.Unlock()

		rs.observersMu.RLock()
		entries := append([]*observerEntry(nil), rs.observers...)
		rs.observersMu.RUnlock()

		allOK := true
		for _, e := range entries {
			if !e.ackd {
				continue
			}
			if !e.obs.OnStreamUpdated(rs.Stream) {
				allOK = false
			}
			for id := range updated.Tracks {
				delete(e.formatCache, id)
			}
		}
		done <- allOK
	})
	if !ok {
		return false
	}
	return <-done
}

// Enqueue admits pkt into the input queue, applying the bounded-wait then
// overflow-drop policy from spec §4.3/§5 when the queue is full.
func (rs *RouterStream) Enqueue(pkt *packet.MediaPacket) bool {
	deadline := time.Now().Add(rs.cfg.producerBlock())
	for {
		rs.mu.Lock()
		if State(rs.state.Load()) == StateStopped {
			rs.mu.Unlock()
			pkt.Release()
			return false
		}
		if len(rs.queue) < rs.capacity {
			rs.queue = append(rs.queue, queueItem{pkt: pkt})
			rs.mu.Unlock()
			rs.cond.Signal()
			return true
		}
		if time.Now().After(deadline) {
			rs.applyOverflowPolicyLocked(pkt)
			rs.mu.Unlock()
			rs.cond.Signal()
			return true
		}
		rs.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// applyOverflowPolicyLocked must be called with rs.mu held. Key packets are
// never dropped: the oldest non-key entry is evicted to make room. NonKey
// video packets evict the oldest non-key entry; if none exists (the queue is
// saturated with Key packets) the incoming packet itself is dropped instead.
// Audio packets always evict the oldest queued entry, key or not.
func (rs *RouterStream) applyOverflowPolicyLocked(pkt *packet.MediaPacket) {
	if pkt.Media == packet.Audio {
		if len(rs.queue) > 0 {
			rs.evictLocked(0)
			rs.droppedAudio.Add(1)
		}
		rs.queue = append(rs.queue, queueItem{pkt: pkt})
		return
	}

	for i, item := range rs.queue {
		if item.pkt != nil && item.pkt.Flag != packet.Key {
			rs.evictLocked(i)
			rs.droppedNonKey.Add(1)
			rs.queue = append(rs.queue, queueItem{pkt: pkt})
			return
		}
	}

	if pkt.Flag != packet.Key {
		rs.droppedNonKey.Add(1)
		pkt.Release()
		return
	}
	// Pathological: queue saturated with Key packets only. Admit anyway
	// rather than drop a Key packet.
	rs.queue = append(rs.queue, queueItem{pkt: pkt})
}

func (rs *RouterStream) evictLocked(i int) {
	item := rs.queue[i]
	rs.queue = append(rs.queue[:i], rs.queue[i+1:]...)
	if item.pkt != nil {
		item.pkt.Release()
	}
}

func (rs *RouterStream) enqueueControl(ctrl func()) bool {
	rs.mu.Lock()
	if State(rs.state.Load()) == StateStopped {
		rs.mu.Unlock()
		return false
	}
	rs.queue = append(rs.queue, queueItem{ctrl: ctrl})
	rs.mu.Unlock()
	rs.cond.Signal()
	return true
}

// Delete transitions the stream to Stopped, drains in-flight packets without
// delivering them, fans OnStreamDeleted out to every accepted observer, and
// waits for the worker to exit (spec §4.3, §5 "joins all workers").
func (rs *RouterStream) Delete() bool {
	rs.mu.Lock()
	if State(rs.state.Load()) == StateStopped {
		rs.mu.Unlock()
		return true
	}
	rs.state.Store(int32(StateStopped))
	rs.mu.Unlock()
	rs.cond.Broadcast()
	<-rs.doneCh
	return true
}

func (rs *RouterStream) run() {
	defer close(rs.doneCh)
	for {
		rs.mu.Lock()
		for len(rs.queue) == 0 && State(rs.state.Load()) != StateStopped {
			rs.cond.Wait()
		}
		if State(rs.state.Load()) == StateStopped {
			remaining := rs.queue
			rs.queue = nil
			rs.mu.Unlock()
			for _, item := range remaining {
				if item.pkt != nil {
					item.pkt.Release()
				}
			}
			rs.fanOutDeleted()
			return
		}
		item := rs.queue[0]
		rs.queue = rs.queue[1:]
		rs.mu.Unlock()

		if item.ctrl != nil {
			item.ctrl()
			continue
		}
		rs.dispatch(item.pkt)
	}
}

func (rs *RouterStream) fanOutDeleted() {
	rs.observersMu.RLock()
	entries := append([]*observerEntry(nil), rs.observers...)
	rs.observersMu.RUnlock()
	for _, e := range entries {
		if e.ackd {
			e.obs.OnStreamDeleted(rs.Stream)
		}
	}
}

func (rs *RouterStream) dispatch(pkt *packet.MediaPacket) {
	rs.state.CompareAndSwap(int32(StatePrepared), int32(StateStarted))

	if pkt.Kind == packet.SequenceHeader {
		rs.mu.Lock()
		rs.lastSeqHeader[pkt.TrackID] = pkt
		rs.mu.Unlock()
		rs.adapter.MarkExplicitSequenceHeader(pkt.TrackID, pkt.Media)
		if pkt.Media == packet.Video {
			rs.backfillVideoDimensions(pkt)
		}
	}

	rs.observersMu.RLock()
	entries := append([]*observerEntry(nil), rs.observers...)
	rs.observersMu.RUnlock()

	derivedCache := make(map[packet.BitstreamFormat]*packet.MediaPacket, 2)
	pendingHeaders := make(map[packet.BitstreamFormat]*packet.MediaPacket)
	for _, e := range entries {
		if !e.ackd || e.skips(pkt) {
			continue
		}

		target := e.desiredFormat(rs.Stream, pkt.TrackID)
		if target == "" {
			target = pkt.Format
		}

		if pkt.Kind != packet.SequenceHeader {
			if hdr, ok := rs.pendingSequenceHeader(pkt.TrackID, pkt.Media, target, pendingHeaders); ok {
				e.obs.OnSendFrame(rs.Stream, hdr)
			}
		}

		derived, ok := derivedCache[target]
		if !ok {
			var err error
			derived, err = rs.adapter.Adapt(pkt, target)
			if err != nil {
				rs.logger.Warn().Err(err).Uint32("track_id", pkt.TrackID).Msg("dropping packet: bitstream adapt failed")
				derivedCache[target] = nil
				continue
			}
			derivedCache[target] = derived
		}
		if derived == nil {
			continue
		}
		e.obs.OnSendFrame(rs.Stream, derived)
	}
	pkt.Release()
}

// pendingSequenceHeader fetches (and memoizes within this dispatch call) a
// synthesized SequenceHeader for (trackID, target) that the origin stream
// never emitted explicitly (spec §4.2 AAC/OPUS "publish/attach if absent").
// Found headers are cached into lastSeqHeader so late-joining observers pick
// them up via AttachLateObserver's replay, same as explicit ones.
func (rs *RouterStream) pendingSequenceHeader(trackID uint32, media packet.MediaType, target packet.BitstreamFormat, seen map[packet.BitstreamFormat]*packet.MediaPacket) (*packet.MediaPacket, bool) {
	if hdr, ok := seen[target]; ok {
		return hdr, hdr != nil
	}
	hdr, ok := rs.adapter.PendingSequenceHeader(trackID, media, target)
	if !ok {
		seen[target] = nil
		return nil, false
	}
	rs.mu.Lock()
	rs.lastSeqHeader[trackID] = hdr
	rs.mu.Unlock()
	seen[target] = hdr
	return hdr, true
}

// backfillVideoDimensions parses the SPS embedded in an explicit
// SequenceHeader packet and fills in the track's Video.Width/Height when the
// connector left them zero (spec §4.2: SPS parsing "is authoritative for the
// track's video dimensions when the connector did not supply them").
func (rs *RouterStream) backfillVideoDimensions(pkt *packet.MediaPacket) {
	rs.mu.Lock()
	track, ok := rs.Stream.Tracks[pkt.TrackID]
	needsFill := ok && track.Video.Width == 0
	rs.mu.Unlock()
	if !needsFill {
		return
	}

	var sps []byte
	switch pkt.Format {
	case packet.H264AnnexB:
		cfg, err := bitstream.ExtractSPSPPSFromAnnexB(pkt.Payload)
		if err != nil || len(cfg.SPS) == 0 {
			return
		}
		sps = cfg.SPS[0]
	case packet.H264AVCC:
		cfg, err := bitstream.ParseAVCDecoderConfigurationRecord(pkt.Payload)
		if err != nil || len(cfg.SPS) == 0 {
			return
		}
		sps = cfg.SPS[0]
	default:
		return
	}

	_, _, width, height := bitstream.ParseSPSDimensions(sps)
	if width <= 0 || height <= 0 {
		return
	}

	rs.mu.Lock()
	if track, ok := rs.Stream.Tracks[pkt.TrackID]; ok && track.Video.Width == 0 {
		track.Video.Width = width
		track.Video.Height = height
	}
	rs.mu.Unlock()
}

// Package tap implements the out-of-band stream mirroring mechanism (C7):
// a synthetic observer attachment that forwards packets of one stream to an
// auxiliary listener at either the Inbound (pre-transcode) or Outbound
// (post-transcode) position, bypassing the application's routing-matrix
// registry (spec §4.6). Grounded in the teacher's
// internal/rtmp/relay.DestinationManager (map of live attachments guarded by
// a single mutex, synchronous fan-out, idempotent add/remove).
package tap

import (
	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
)

// Position selects where in the pipeline a tap observes a stream.
type Position string

const (
	// Inbound mirrors packets exactly as the owning connector delivered
	// them, pre-transcode framing.
	Inbound Position = "Inbound"
	// Outbound mirrors packets post-transcode, equivalent to a Publisher
	// observer with no bitstream preference.
	Outbound Position = "Outbound"
)

// Listener is the auxiliary consumer a tap forwards packets to.
type Listener interface {
	// OnTapFrame delivers one packet of the mirrored stream. Implementations
	// must treat pkt as immutable and either consume synchronously or copy,
	// exactly like a regular Observer.OnSendFrame.
	OnTapFrame(s *packet.Stream, pkt *packet.MediaPacket)
}

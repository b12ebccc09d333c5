package router

import "github.com/alxayo/mediarouter/internal/mediarouter/packet"

// Role tags a Connector or Observer registration so the router can dispatch
// on role rather than concrete type (spec §9 "dynamic dispatch ... tagged
// role enum").
type Role string

const (
	RoleProvider     Role = "Provider"
	RoleTranscoder   Role = "Transcoder"
	RolePublisher    Role = "Publisher"
	RoleOrchestrator Role = "Orchestrator"
	RoleRelay        Role = "Relay"
	// RoleTap tags a StreamTap's synthetic observer attachment (spec §4.6).
	// Tap listeners are injected directly onto a specific RouterStream by
	// the Tap Manager, bypassing the routing-matrix registry, so this role
	// only serves identification/logging purposes.
	RoleTap Role = "Tap"
)

// Connector is the inbound surface a protocol provider, transcoder output, or
// relay implements to inject a stream into the router (spec §6.1).
type Connector interface {
	// Role reports this connector's registration role.
	Role() Role
	// PullableSchemes lists the URL schemes this connector can materialize
	// via pull-on-demand (e.g. "rtsp", "http"). Empty if it cannot pull.
	PullableSchemes() []string

	IsExistingInboundStream(streamName string) bool
	OnStreamCreated(s *packet.Stream) bool
	OnStreamUpdated(s *packet.Stream) bool
	OnStreamDeleted(s *packet.Stream) bool
	OnPacketReceived(s *packet.Stream, pkt *packet.MediaPacket) bool
}

// Observer is the outbound surface a protocol publisher, transcoder input, or
// orchestrator implements to consume a stream from the router (spec §6.2).
type Observer interface {
	Role() Role

	OnStreamCreated(s *packet.Stream) bool
	// OnStreamPrepared is called once every observer of the stream has
	// accepted OnStreamCreated (the Prepared gate, spec §4.3).
	OnStreamPrepared(s *packet.Stream) bool
	OnStreamUpdated(s *packet.Stream) bool
	OnStreamDeleted(s *packet.Stream) bool
	OnSendFrame(s *packet.Stream, pkt *packet.MediaPacket) bool

	// DesiredFormat reports the bitstream format this observer requires for
	// trackID. Returning "" (zero value) means "use the track's origin
	// format", per spec §6.2 "defaults to origin".
	DesiredFormat(s *packet.Stream, trackID uint32) packet.BitstreamFormat
}

package main

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/router"
)

// sinkObserver is a Publisher observer that counts every frame it receives in
// its desired bitstream format and logs one frame in 30 at debug level,
// standing in for a real egress writer
// (HLS/DASH muxer, WebRTC track, file recorder).
type sinkObserver struct {
	name   string
	role   router.Role
	format packet.BitstreamFormat
	logger zerolog.Logger

	frames atomic.Uint64
}

func newSinkObserver(name string, role router.Role, format packet.BitstreamFormat, logger zerolog.Logger) *sinkObserver {
	return &sinkObserver{name: name, role: role, format: format, logger: logger.With().Str("sink", name).Logger()}
}

func (o *sinkObserver) Role() router.Role { return o.role }

func (o *sinkObserver) OnStreamCreated(s *packet.Stream) bool {
	o.logger.Info().Str("stream", s.Name).Msg("stream created")
	return true
}

func (o *sinkObserver) OnStreamPrepared(s *packet.Stream) bool {
	o.logger.Info().Str("stream", s.Name).Msg("stream prepared")
	return true
}

func (o *sinkObserver) OnStreamUpdated(s *packet.Stream) bool {
	o.logger.Info().Str("stream", s.Name).Msg("stream updated")
	return true
}

func (o *sinkObserver) OnStreamDeleted(s *packet.Stream) bool {
	o.logger.Info().Str("stream", s.Name).Uint64("frames", o.frames.Load()).Msg("stream deleted")
	return true
}

func (o *sinkObserver) DesiredFormat(*packet.Stream, uint32) packet.BitstreamFormat {
	return o.format
}

func (o *sinkObserver) OnSendFrame(s *packet.Stream, pkt *packet.MediaPacket) bool {
	n := o.frames.Add(1)
	if n%30 == 1 {
		o.logger.Debug().
			Str("stream", s.Name).
			Str("format", string(pkt.Format)).
			Int64("dts", pkt.DTS).
			Uint64("count", n).
			Msg("frame delivered")
	}
	return true
}

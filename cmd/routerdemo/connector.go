package main

import (
	"sync"
	"time"

	"github.com/alxayo/mediarouter/internal/mediarouter/bitstream"
	"github.com/alxayo/mediarouter/internal/mediarouter/bufpool"
	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/router"
)

// synthConnector is an in-memory Provider: it has no real ingest protocol,
// it simply manufactures an H.264 AnnexB video track and pushes NALU
// packets on a fixed clock, mirroring the way cmd/rtmp-server wires a
// concrete RTMP listener around the registry but standing in for it here.
type synthConnector struct {
	name   string
	app    *router.Application
	stream *packet.Stream

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func newSynthConnector(name string) *synthConnector {
	return &synthConnector{name: name}
}

func (c *synthConnector) Role() router.Role       { return router.RoleProvider }
func (c *synthConnector) PullableSchemes() []string { return nil }

func (c *synthConnector) IsExistingInboundStream(name string) bool {
	return c.app != nil && c.app.IsExistingInboundStream(name)
}

func (c *synthConnector) OnStreamCreated(*packet.Stream) bool  { return true }
func (c *synthConnector) OnStreamUpdated(*packet.Stream) bool  { return true }
func (c *synthConnector) OnStreamDeleted(*packet.Stream) bool  { return true }

func (c *synthConnector) OnPacketReceived(*packet.Stream, *packet.MediaPacket) bool {
	return true
}

// sampleAVCConfig returns a minimal, syntactically-plausible SPS/PPS pair
// good enough to exercise the bitstream adapter end to end; it does not
// decode to a displayable picture.
func sampleAVCConfig() *packet.AVCConfig {
	return &packet.AVCConfig{
		ProfileIndication: 0x64,
		ProfileCompat:     0x00,
		LevelIndication:   0x1f,
		SPS:               [][]byte{{0x67, 0x64, 0x00, 0x1f, 0xac}},
		PPS:               [][]byte{{0x68, 0xeb, 0xe3, 0xcb}},
	}
}

// Start registers a stream on app and begins emitting packets on a 33 ms
// ticker until Stop is called.
func (c *synthConnector) Start(app *router.Application) error {
	c.app = app
	s := packet.NewStream(0, app.VHost+"/"+app.Name, c.name)
	track := &packet.MediaTrack{
		ID:           0,
		Media:        packet.Video,
		CodecID:      "h264",
		Timebase:     packet.Timebase{Num: 1, Den: 1000},
		OriginFormat: packet.H264AnnexB,
		Config:       packet.DecoderConfig{AVC: sampleAVCConfig()},
		Video:        packet.VideoExtras{Width: 1280, Height: 720, FPS: 30},
	}
	s.AddTrack(track)

	rs, err := app.OnStreamCreated(c, s)
	if err != nil {
		return err
	}
	c.stream = rs.Stream

	c.mu.Lock()
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.emit(rs.Stream)
	return nil
}

func (c *synthConnector) emit(s *packet.Stream) {
	defer close(c.done)

	seqPayload := bitstream.SequenceHeaderToAnnexB(sampleAVCConfig())
	seqPkt, _ := packet.New(0, packet.Video, packet.H264AnnexB, packet.SequenceHeader, 0, 0, 0, packet.NonKey, seqPayload)
	c.app.OnPacketReceived(c, s, seqPkt)

	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			flag := packet.NonKey
			nalType := byte(0x01)
			if n%30 == 0 {
				flag = packet.Key
				nalType = 0x05
			}

			payload := bufpool.GetForPacket(packet.Video, packet.NALU, 7)
			payload[0] = 0x00
			payload[1] = 0x00
			payload[2] = 0x00
			payload[3] = 0x01
			payload[4] = nalType
			payload[5] = 0xAA
			payload[6] = 0xBB

			dts := n * 33
			p, err := packet.New(0, packet.Video, packet.H264AnnexB, packet.NALU, dts, dts, 33, flag, payload)
			if err == nil {
				p = p.WithRelease(func() { bufpool.Put(payload) })
				c.app.OnPacketReceived(c, s, p)
			}
			n++
		}
	}
}

// Stop halts packet emission and waits for the emitting goroutine to exit.
func (c *synthConnector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()
	<-c.done
}

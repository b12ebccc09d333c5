// Command routerdemo wires a synthetic in-memory Provider connector and a
// pair of Publisher observers through the mediarouter core, demonstrating
// stream creation, the Prepared gate, per-observer bitstream adaptation and
// graceful shutdown without requiring a real RTMP/RTSP ingest.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/mediarouter/internal/mediarouter/mlog"
	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/router"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "routerdemo:", err)
		os.Exit(2)
	}

	mlog.Init()
	if err := mlog.SetLevel(cfg.logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "routerdemo:", err)
		os.Exit(2)
	}
	log := mlog.Logger().With().Str("component", "routerdemo").Logger()

	core := router.NewCore(router.CoreConfig{
		InputQueueSizeSeconds:     int(cfg.queueSeconds),
		PullTimeoutMS:             int(cfg.pullTimeoutMS),
		ProducerBlockMS:           int(cfg.producerBlockMS),
		PublisherBypassTranscoder: cfg.bypassTranscoder,
	}, *mlog.Logger())

	app := core.GetOrCreateApplication("live", "app")

	annexBSink := newSinkObserver("annexb-sink", router.RolePublisher, packet.H264AnnexB, *mlog.Logger())
	avccSink := newSinkObserver("avcc-sink", router.RolePublisher, packet.H264AVCC, *mlog.Logger())
	app.RegisterObserver(annexBSink)
	app.RegisterObserver(avccSink)

	provider := newSynthConnector("demo")
	app.RegisterConnector(provider)
	if err := provider.Start(app); err != nil {
		log.Error().Err(err).Msg("failed to start synthetic provider")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runFor := time.Duration(cfg.durationSeconds) * time.Second
	timer := time.NewTimer(runFor)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case <-timer.C:
		log.Info().Dur("duration", runFor).Msg("demo duration elapsed, shutting down")
	}

	provider.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- core.Close() }()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("core close returned error")
			os.Exit(1)
		}
		log.Info().
			Uint64("annexb_frames", annexBSink.frames.Load()).
			Uint64("avcc_frames", avccSink.frames.Load()).
			Msg("shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown timed out")
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"fmt"
	"os"
)

// cliConfig holds user supplied flag values prior to translation into
// router.CoreConfig.
type cliConfig struct {
	logLevel        string
	durationSeconds uint
	queueSeconds    uint
	pullTimeoutMS   uint
	producerBlockMS uint
	bypassTranscoder bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("routerdemo", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.UintVar(&cfg.durationSeconds, "duration", 5, "Seconds to run the synthetic publish before shutting down")
	fs.UintVar(&cfg.queueSeconds, "queue-seconds", 3, "Per-track input queue capacity, in seconds of video")
	fs.UintVar(&cfg.pullTimeoutMS, "pull-timeout-ms", 3000, "Pull-on-demand wait timeout in milliseconds")
	fs.UintVar(&cfg.producerBlockMS, "producer-block-ms", 200, "Producer block-before-drop window in milliseconds")
	fs.BoolVar(&cfg.bypassTranscoder, "publisher-bypass-transcoder", true, "Let Publisher observers see Provider traffic directly when no Transcoder is registered")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.durationSeconds == 0 {
		return nil, fmt.Errorf("duration must be > 0")
	}

	return cfg, nil
}

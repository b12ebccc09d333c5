// Package mlog provides the structured logger used across the router core.
// The field-attachment shape (WithConn, WithStream, ...) mirrors the
// teacher's internal/logger package; the backing implementation is
// zerolog instead of log/slog.
package mlog

import (
	"flag"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Environment variable name for log level configuration.
const envLogLevel = "MEDIAROUTER_LOG_LEVEL"

var (
	global     zerolog.Logger
	initOnce   sync.Once
	flagLevel  = flag.String("log.level", "", "log level (debug, info, warn, error)")
	levelMu    sync.RWMutex
	curLevel   = zerolog.InfoLevel
	curWriter  io.Writer = os.Stdout
)

// Init initializes the global logger. Safe to call multiple times; the first
// call wins except for SetLevel/UseWriter which intentionally mutate state.
func Init() {
	initOnce.Do(func() {
		lvl := detectLevel()
		levelMu.Lock()
		curLevel = lvl
		levelMu.Unlock()
		rebuild()
	})
}

func rebuild() {
	levelMu.RLock()
	lvl, w := curLevel, curWriter
	levelMu.RUnlock()
	global = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// detectLevel resolves the initial log level from (high->low precedence):
// 1. -log.level flag, 2. MEDIAROUTER_LOG_LEVEL env var, 3. info default.
func detectLevel() zerolog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if f := strings.TrimSpace(*flagLevel); f != "" {
		if lvl, ok := parseLevel(f); ok {
			return lvl
		}
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return zerolog.InfoLevel
}

func parseLevel(s string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error", "err":
		return zerolog.ErrorLevel, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errInvalidLevel(level)
	}
	levelMu.Lock()
	curLevel = lvl
	levelMu.Unlock()
	rebuild()
	return nil
}

type errInvalidLevel string

func (e errInvalidLevel) Error() string { return "invalid log level: " + string(e) }

// Level returns the current runtime level as a string.
func Level() string {
	Init()
	levelMu.RLock()
	defer levelMu.RUnlock()
	return curLevel.String()
}

// UseWriter swaps the output writer (intended for tests). Retains the
// current level.
func UseWriter(w io.Writer) {
	Init()
	levelMu.Lock()
	curWriter = w
	levelMu.Unlock()
	rebuild()
}

// Logger returns the global logger (ensures Init was called).
func Logger() *zerolog.Logger { Init(); return &global }

// WithConn attaches connector/observer identity fields.
func WithConn(l zerolog.Logger, id, role string) zerolog.Logger {
	return l.With().Str("conn_id", id).Str("role", role).Logger()
}

// WithStream attaches application/stream identity fields.
func WithStream(l zerolog.Logger, vhostApp, streamName string) zerolog.Logger {
	return l.With().Str("vhost_app", vhostApp).Str("stream", streamName).Logger()
}

// WithTrack attaches track identity fields.
func WithTrack(l zerolog.Logger, trackID uint32, mediaType string) zerolog.Logger {
	return l.With().Uint32("track_id", trackID).Str("media_type", mediaType).Logger()
}

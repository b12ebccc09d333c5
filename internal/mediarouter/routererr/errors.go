// Package routererr defines the typed error kinds surfaced by the media
// router core (spec §7), adapted from the teacher's internal/errors package:
// same Op+cause wrapping shape and errors.Is/As-friendly constructors.
package routererr

import (
	"context"
	stdErrors "errors"
	"fmt"
)

// routerMarker is implemented by every router-layer error type so callers can
// classify "this came from the router" without switching on concrete types.
type routerMarker interface {
	error
	isRouterError()
}

// LookupError covers NoSuchApplication / NoSuchStream misses.
type LookupError struct {
	Kind string // "application" | "stream"
	Key  string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no such %s: %q", e.Kind, e.Key)
}
func (e *LookupError) isRouterError() {}

// NoSuchApplication builds a LookupError for an unknown (vhost, app) key.
func NoSuchApplication(key string) error { return &LookupError{Kind: "application", Key: key} }

// NoSuchStream builds a LookupError for an unknown stream name.
func NoSuchStream(key string) error { return &LookupError{Kind: "stream", Key: key} }

// AuthError covers DuplicateConnector / UnauthorizedConnector.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth error: %s", e.Op)
	}
	return fmt.Sprintf("auth error: %s: %v", e.Op, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) isRouterError() {}

// ErrDuplicateConnector is returned when a second connector claims ownership
// of a stream name that already has an owner.
var ErrDuplicateConnector = &AuthError{Op: "register.connector", Err: stdErrors.New("duplicate connector for stream")}

// ErrUnauthorizedConnector classifies a non-owner connector calling
// OnPacketReceived/OnStreamDeleted for a stream it does not own. The router's
// Application reports that case by returning false, not this error.
var ErrUnauthorizedConnector = &AuthError{Op: "packet.received", Err: stdErrors.New("connector is not the stream owner")}

// StateError covers StreamNotReady (packet arrived before OnStreamCreated
// fanout completed).
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("stream not ready: %s (state=%s)", e.Op, e.State)
}
func (e *StateError) isRouterError() {}

// ErrStreamNotReady signals a packet or mutation arrived before the stream's
// Prepared gate opened.
func ErrStreamNotReady(op, state string) error { return &StateError{Op: op, State: state} }

// AdaptError covers UnsupportedConversion / MalformedBitstream, raised by the
// bitstream adapter. These are always non-fatal: the caller drops the packet
// and continues the stream.
type AdaptError struct {
	Op  string
	Err error
}

func (e *AdaptError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("adapt error: %s", e.Op)
	}
	return fmt.Sprintf("adapt error: %s: %v", e.Op, e.Err)
}
func (e *AdaptError) Unwrap() error { return e.Err }
func (e *AdaptError) isRouterError() {}

// NewUnsupportedConversion builds an AdaptError for an (origin, target)
// bitstream-format pair with no entry in the conversion table.
func NewUnsupportedConversion(from, to string) error {
	return &AdaptError{Op: "adapt.convert", Err: fmt.Errorf("unsupported conversion %s -> %s", from, to)}
}

// NewMalformedBitstream builds an AdaptError for a parse failure (SPS/PPS/ADTS/...).
func NewMalformedBitstream(op string, cause error) error {
	return &AdaptError{Op: op, Err: fmt.Errorf("malformed bitstream: %w", cause)}
}

// PullError covers PullTimeout / PullUnsupportedScheme.
type PullError struct {
	Op  string
	Err error
}

func (e *PullError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pull error: %s", e.Op)
	}
	return fmt.Sprintf("pull error: %s: %v", e.Op, e.Err)
}
func (e *PullError) Unwrap() error { return e.Err }
func (e *PullError) isRouterError() {}

// ErrPullTimeout is returned when pull-on-demand misses its bounded deadline.
var ErrPullTimeout = &PullError{Op: "pull.wait", Err: context.DeadlineExceeded}

// ErrPullUnsupportedScheme is returned when no provider advertises the
// requested URL scheme.
var ErrPullUnsupportedScheme = &PullError{Op: "pull.resolve", Err: stdErrors.New("no provider for scheme")}

// TapError covers NoSuchStream / AlreadyAttached / InvalidPosition from the
// tap manager contract (spec §4.6).
type TapError struct {
	Op  string
	Err error
}

func (e *TapError) Error() string {
	return fmt.Sprintf("tap error: %s: %v", e.Op, e.Err)
}
func (e *TapError) Unwrap() error { return e.Err }
func (e *TapError) isRouterError() {}

var (
	// ErrTapNoSuchStream indicates MirrorStream targeted a stream that does
	// not exist.
	ErrTapNoSuchStream = &TapError{Op: "tap.mirror", Err: stdErrors.New("no such stream")}
	// ErrTapAlreadyAttached indicates the tap is already mirroring a stream.
	ErrTapAlreadyAttached = &TapError{Op: "tap.mirror", Err: stdErrors.New("tap already attached")}
	// ErrTapInvalidPosition indicates an unrecognized MirrorPosition value.
	ErrTapInvalidPosition = &TapError{Op: "tap.mirror", Err: stdErrors.New("invalid mirror position")}
)

// IsRouterError reports whether err (or a wrapped cause) originated in this
// package.
func IsRouterError(err error) bool {
	if err == nil {
		return false
	}
	var rm routerMarker
	return stdErrors.As(err, &rm)
}

// IsNotFound reports whether err is a LookupError (application or stream miss).
func IsNotFound(err error) bool {
	var le *LookupError
	return stdErrors.As(err, &le)
}

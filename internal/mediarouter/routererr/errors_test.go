package routererr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupErrors(t *testing.T) {
	err := NoSuchApplication("live/app1")
	require.True(t, IsRouterError(err))
	require.True(t, IsNotFound(err))
	require.Contains(t, err.Error(), "live/app1")

	err2 := NoSuchStream("foo")
	require.True(t, IsNotFound(err2))
}

func TestAuthSentinelsClassify(t *testing.T) {
	require.True(t, IsRouterError(ErrDuplicateConnector))
	require.True(t, IsRouterError(ErrUnauthorizedConnector))
	require.False(t, IsNotFound(ErrDuplicateConnector))
}

func TestAdaptErrors(t *testing.T) {
	err := NewUnsupportedConversion("H264AnnexB", "OPUS")
	require.True(t, IsRouterError(err))
	require.Contains(t, err.Error(), "H264AnnexB")

	malformed := NewMalformedBitstream("sps.parse", errTest("bad sps"))
	require.True(t, IsRouterError(malformed))
	require.Contains(t, malformed.Error(), "bad sps")
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestPullErrors(t *testing.T) {
	require.True(t, IsRouterError(ErrPullTimeout))
	require.True(t, IsRouterError(ErrPullUnsupportedScheme))
}

func TestTapErrors(t *testing.T) {
	require.True(t, IsRouterError(ErrTapNoSuchStream))
	require.True(t, IsRouterError(ErrTapAlreadyAttached))
	require.True(t, IsRouterError(ErrTapInvalidPosition))
}

func TestNilSafety(t *testing.T) {
	require.False(t, IsRouterError(nil))
	require.False(t, IsNotFound(nil))
}

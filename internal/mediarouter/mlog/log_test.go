package mlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	s := bufio.NewScanner(buf)
	var out []map[string]any
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	require.NoError(t, s.Err())
	return out
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	UseWriter(&buf)
	require.NoError(t, SetLevel("info"))

	Logger().Debug().Msg("debug message should be filtered")
	Logger().Info().Int("k", 1).Msg("info message")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	require.Equal(t, "info message", records[0]["message"])

	buf.Reset()
	require.NoError(t, SetLevel("debug"))
	Logger().Debug().Int("a", 2).Msg("visible debug")
	records = decodeLines(t, &buf)
	require.Len(t, records, 1)
	require.Equal(t, "debug", records[0]["level"])
}

func TestFieldAttachment(t *testing.T) {
	var buf bytes.Buffer
	UseWriter(&buf)
	require.NoError(t, SetLevel("debug"))

	l := WithTrack(WithStream(WithConn(*Logger(), "c1", "Provider"), "live/app", "test"), 0, "Video")
	l.Info().Msg("hello world")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	rec := records[0]
	for _, k := range []string{"conn_id", "role", "vhost_app", "stream", "track_id", "media_type"} {
		require.Contains(t, rec, k)
	}
	require.Equal(t, "c1", rec["conn_id"])
	require.Equal(t, "live/app", rec["vhost_app"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "debug", "info": "info", "warn": "warn", "error": "error"}
	for in, expect := range cases {
		require.NoError(t, SetLevel(in))
		require.Equal(t, expect, Level())
	}
	require.Error(t, SetLevel("bogus"))
}

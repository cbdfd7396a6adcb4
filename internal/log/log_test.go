package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":  LevelDebug,
		" INFO ": LevelInfo,
		"warn":   LevelWarn,
		"error":  LevelError,
		"":       LevelWarn,
		"chatty": LevelWarn,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestInit_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelWarn, Format: "console", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info("hidden")
	Warn("shown", "event", "Stop")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "Stop")
}

func TestInit_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelDebug, Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Debug("probe", "session_id", "abc")

	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "probe", rec["msg"])
	assert.Equal(t, "abc", rec["session_id"])
	assert.Equal(t, "aops", rec["logger"])
}

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/model"
)

func TestTruncateShortPassesThrough(t *testing.T) {
	require.Equal(t, "hi", truncate("hi", false))
}

func TestTruncateLongNonVerbose(t *testing.T) {
	long := strings.Repeat("x", 600)
	out := truncate(long, false)
	require.Contains(t, out, "truncated, use -v")
	require.Less(t, len(out), len(long))
}

func TestTruncateVerbosePreserves(t *testing.T) {
	long := strings.Repeat("x", 600)
	require.Equal(t, long, truncate(long, true))
}

func TestFormatEventToolCallShowsName(t *testing.T) {
	evt := &model.Event{
		Type:      model.EventToolCall,
		Timestamp: time.Now(),
		Payload:   mustJSON(model.ToolCallPayload{ToolCallID: "tc1", Name: "bash"}),
	}
	var buf bytes.Buffer
	formatEvent(&buf, 1, evt, false)
	require.Contains(t, buf.String(), "bash")
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

package contextpack

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge-dev/ctxforge/pkg/eventlog"
)

func mkEvent(seq int, kind eventlog.Kind, text string) *eventlog.Event {
	payload, _ := json.Marshal(map[string]string{"text": text})
	return &eventlog.Event{
		ID:          fmt.Sprintf("e%d", seq),
		SessionID:   "s1",
		SequenceNum: int64(seq),
		Kind:        kind,
		Payload:     payload,
	}
}

func TestCompressKeepsRecentFull(t *testing.T) {
	var events []*eventlog.Event
	for i := 1; i <= 25; i++ {
		events = append(events, mkEvent(i, eventlog.KindUser, fmt.Sprintf("message number %d", i)))
	}

	lines := Compress(events, 20)
	require.Len(t, lines, 25)

	for i, line := range lines {
		if i < 5 {
			assert.True(t, line.Summarized, "line %d should be summarized", i)
		} else {
			assert.False(t, line.Summarized, "line %d should be full", i)
		}
	}
	assert.Contains(t, lines[24].Text, "message number 25")
}

func TestCompressAllRecent(t *testing.T) {
	events := []*eventlog.Event{
		mkEvent(1, eventlog.KindUser, "hello there"),
		mkEvent(2, eventlog.KindAssistant, "hi, how can I help"),
	}
	lines := Compress(events, 20)
	require.Len(t, lines, 2)
	assert.False(t, lines[0].Summarized)
	assert.Equal(t, "User: hello there", lines[0].Text)
	assert.Equal(t, "Assistant: hi, how can I help", lines[1].Text)
}

func TestCompressSummaryIsBounded(t *testing.T) {
	long := strings.Repeat("repeated filler text ", 50)
	events := []*eventlog.Event{
		mkEvent(1, eventlog.KindUser, long),
		mkEvent(2, eventlog.KindUser, "recent"),
	}
	lines := Compress(events, 1)
	require.Len(t, lines, 2)
	assert.True(t, lines[0].Summarized)
	assert.LessOrEqual(t, len(lines[0].Text), summaryMaxChars+20)
	assert.Contains(t, lines[0].Text, "[user]")
}

func TestCompressToolEvents(t *testing.T) {
	actionPayload, _ := json.Marshal(map[string]any{"tool": "search", "arguments": map[string]string{"q": "cats"}})
	obsPayload, _ := json.Marshal(map[string]any{"tool": "search", "result": "42 results"})

	events := []*eventlog.Event{
		{SequenceNum: 1, Kind: eventlog.KindAction, Payload: actionPayload},
		{SequenceNum: 2, Kind: eventlog.KindObservation, Payload: obsPayload},
	}
	lines := Compress(events, 20)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0].Text, "Tool call: "))
	assert.True(t, strings.HasPrefix(lines[1].Text, "Tool result: "))
}

func TestCompressEmpty(t *testing.T) {
	assert.Empty(t, Compress(nil, 10))
}

package contextpack

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ctxforge-dev/ctxforge/pkg/eventlog"
)

// keepRecentDefault is how many trailing events are rendered in full;
// everything older is collapsed to a single summary line.
const keepRecentDefault = 20

// summaryMaxChars caps the body of a collapsed history line.
const summaryMaxChars = 120

// Line is one rendered history line.
type Line struct {
	Event      *eventlog.Event
	Text       string
	Summarized bool
}

// Compress renders events into history lines: events beyond the most
// recent keepRecent become short single-line summaries, the rest are
// rendered in full. Order is always the original chronological order.
func Compress(events []*eventlog.Event, keepRecent int) []Line {
	if keepRecent <= 0 {
		keepRecent = keepRecentDefault
	}
	cut := len(events) - keepRecent
	if cut < 0 {
		cut = 0
	}

	lines := make([]Line, 0, len(events))
	for i, ev := range events {
		if i < cut {
			lines = append(lines, Line{Event: ev, Text: summarize(ev), Summarized: true})
		} else {
			lines = append(lines, Line{Event: ev, Text: renderFull(ev)})
		}
	}
	return lines
}

func renderFull(ev *eventlog.Event) string {
	body := payloadText(ev.Payload)
	switch ev.Kind {
	case eventlog.KindUser:
		return "User: " + body
	case eventlog.KindAssistant:
		return "Assistant: " + body
	case eventlog.KindAction:
		return "Tool call: " + body
	case eventlog.KindObservation:
		return "Tool result: " + body
	case eventlog.KindPlan:
		return "Plan: " + body
	case eventlog.KindError:
		return "Error: " + body
	}
	return body
}

func summarize(ev *eventlog.Event) string {
	body := truncate(payloadText(ev.Payload), summaryMaxChars)
	return fmt.Sprintf("[%s] %s", ev.Kind, body)
}

// payloadText pulls a readable body out of an opaque event payload.
// Conventional payloads carry a "text" field; tool events carry
// "tool"/"result"/"error" fields; anything else is shown raw.
func payloadText(payload json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return oneLine(string(payload))
	}
	if s, ok := m["text"].(string); ok {
		return oneLine(s)
	}
	tool, _ := m["tool"].(string)
	if errText, ok := m["error"].(string); ok && errText != "" {
		if tool != "" {
			return oneLine(tool + " failed: " + errText)
		}
		return oneLine(errText)
	}
	if result, ok := m["result"].(string); ok {
		if tool != "" {
			return oneLine(tool + " -> " + result)
		}
		return oneLine(result)
	}
	if tool != "" {
		if args, ok := m["arguments"].(string); ok {
			return oneLine(tool + "(" + args + ")")
		}
		return tool
	}
	return oneLine(string(payload))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

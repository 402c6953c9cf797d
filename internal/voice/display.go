// Package voice runs the WebRTC voice interface: one connection owning one
// event queue wired to one backend session, a spoken display filter, a
// voice-only approval policy, and the OpenAI Realtime signaling client.
package voice

import (
	"context"
	"strings"

	"github.com/haasonsaas/switchboard/internal/stream"
)

const spokenMaxLen = 200

// defaultSuppressions are message markers never worth speaking; a message
// containing one anywhere is dropped.
var defaultSuppressions = []string{"debug:", "trace:", "[internal]"}

// Display filters runtime display messages down to what is worth speaking
// aloud, then forwards them to the event queue.
type Display struct {
	sessionID    string
	queue        *stream.Queue
	suppressions []string
}

// NewDisplay creates a spoken-display filter for one session.
func NewDisplay(sessionID string, queue *stream.Queue) *Display {
	return &Display{
		sessionID:    sessionID,
		queue:        queue,
		suppressions: defaultSuppressions,
	}
}

// Display implements the runtime display capability. Suppressed messages are
// silently dropped; everything else is reformatted for speech and enqueued.
func (d *Display) Display(ctx context.Context, message string, level string) error {
	if d.shouldSuppress(message, level) {
		return nil
	}
	d.queue.TryPush(ctx, map[string]any{
		"type":       "display_message",
		"session_id": d.sessionID,
		"message":    d.FormatForSpeech(message, level),
		"level":      level,
	})
	return nil
}

func (d *Display) shouldSuppress(message, level string) bool {
	if level == "debug" {
		return true
	}
	trimmed := strings.TrimSpace(message)
	if len(trimmed) < 3 {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, pattern := range d.suppressions {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// FormatForSpeech strips visual syntax, adds a spoken level prefix where the
// message doesn't already convey it, and truncates on a sentence boundary.
func (d *Display) FormatForSpeech(message, level string) string {
	text := message
	for _, token := range []string{"=>", "->", "|", "..."} {
		text = strings.ReplaceAll(text, token, " ")
	}
	text = strings.Join(strings.Fields(text), " ")

	lower := strings.ToLower(text)
	switch level {
	case "error":
		if !containsAny(lower, "error", "failed", "problem") {
			text = "Error: " + text
		}
	case "warning":
		if !containsAny(lower, "warning", "caution", "note") {
			text = "Note: " + text
		}
	}

	text = truncateSpoken(text, spokenMaxLen)
	if !strings.HasSuffix(text, ".") {
		text += "."
	}
	return text
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

// truncateSpoken cuts at the last sentence boundary before max, falling back
// to a word boundary when the text has no usable sentence break.
func truncateSpoken(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if idx := strings.LastIndex(cut, ". "); idx > 0 {
		return cut[:idx+1]
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

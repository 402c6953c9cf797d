package transcript

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
)

func TestMirrorCrossInterfaceVisibility(t *testing.T) {
	home := t.TempDir()
	store := NewStore(filepath.Join(home, "voice-sessions"), observability.NewTestLogger(io.Discard))

	conv, err := store.Create("sess-mirror-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	mirror := NewMirror(home, "-tmp-demo", "sess-mirror-1")
	if err := mirror.Init(conv); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sessionDir := filepath.Join(home, "projects", "-tmp-demo", "sessions", "sess-mirror-1")
	mirrored := filepath.Join(sessionDir, "transcript.jsonl")
	if _, err := os.Stat(mirrored); err != nil {
		t.Fatalf("mirrored transcript not touched at creation: %v", err)
	}

	now := time.Now().UTC()
	entries := []Entry{
		{ID: "e1", ConversationID: "sess-mirror-1", Role: RoleUser, Content: "check the weather", CreatedAt: now},
		{ID: "e2", ConversationID: "sess-mirror-1", Role: RoleToolCall, ToolName: "get_weather", CallID: "c1", Content: "{}", CreatedAt: now},
	}
	if err := store.AddEntries(entries); err != nil {
		t.Fatalf("AddEntries: %v", err)
	}
	for _, entry := range entries {
		if err := mirror.AppendTurn(entry.Role, entry.Content); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	if n := countLines(t, store.TranscriptPath("sess-mirror-1")); n != 2 {
		t.Fatalf("voice transcript has %d lines, want 2", n)
	}
	// Tool turns are excluded from the mirror.
	if n := countLines(t, mirrored); n != 1 {
		t.Fatalf("mirrored transcript has %d lines, want 1", n)
	}

	data, err := os.ReadFile(mirrored)
	if err != nil {
		t.Fatalf("read mirror: %v", err)
	}
	var turn map[string]any
	if err := json.Unmarshal(data, &turn); err != nil {
		t.Fatalf("decode mirrored turn: %v", err)
	}
	if turn["role"] != "user" {
		t.Fatalf("mirrored role = %v", turn["role"])
	}
	content := turn["content"].([]any)[0].(map[string]any)
	if content["type"] != "text" || content["text"] != "check the weather" {
		t.Fatalf("mirrored content: %v", content)
	}

	metaData, err := os.ReadFile(filepath.Join(sessionDir, "metadata.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(metaData, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["bundle"] != "voice" || meta["model"] != "voice" {
		t.Fatalf("metadata: %v", meta)
	}
	name, _ := meta["name"].(string)
	if !strings.HasPrefix(name, "Voice session ") {
		t.Fatalf("metadata name = %q", name)
	}
	if meta["turn_count"] != float64(0) {
		t.Fatalf("turn_count = %v", meta["turn_count"])
	}
}

package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/switchboard/internal/config"
)

// Mirror writes voice turns into the runtime projects tree so voice sessions
// show up in session discovery alongside chat sessions. One Mirror serves
// one voice session.
type Mirror struct {
	home      string
	projectID string
	sessionID string
}

// NewMirror creates a mirror for one voice session under the given runtime
// home.
func NewMirror(home, projectID, sessionID string) *Mirror {
	return &Mirror{home: home, projectID: projectID, sessionID: sessionID}
}

func (m *Mirror) sessionDir() string {
	return config.SessionDir(m.home, m.projectID, m.sessionID)
}

// Init creates the session directory, touches an empty transcript so the
// session is discoverable before the first turn, and writes metadata.json.
func (m *Mirror) Init(conv *Conversation) error {
	dir := m.sessionDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mirrored session dir: %w", err)
	}

	path := filepath.Join(dir, config.TranscriptFilename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("touch mirrored transcript: %w", err)
	}
	f.Close()

	metadata := map[string]any{
		"session_id": m.sessionID,
		"bundle":     "voice",
		"name":       conv.Title,
		"created":    conv.CreatedAt.Format(time.RFC3339),
		"model":      "voice",
		"turn_count": 0,
	}
	return writeJSONAtomic(filepath.Join(dir, config.MetadataFilename), metadata)
}

// AppendTurn mirrors one turn. Tool turns never appear in the mirrored
// transcript; they are silently skipped.
func (m *Mirror) AppendTurn(role, text string) error {
	if role != RoleUser && role != RoleAssistant {
		return nil
	}
	line, err := json.Marshal(map[string]any{
		"role":    role,
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	if err != nil {
		return fmt.Errorf("encode mirrored turn: %w", err)
	}

	path := filepath.Join(m.sessionDir(), config.TranscriptFilename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open mirrored transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append mirrored turn: %w", err)
	}
	return nil
}

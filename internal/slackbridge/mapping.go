// Package slackbridge connects Slack conversations to backend sessions.
// Each Slack thread (or DM channel) maps to one session; the mapping is
// persisted so restarts keep threads attached to their sessions.
package slackbridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/switchboard/internal/config"
)

// Mapping is the persisted channel/thread to session-id table.
type Mapping struct {
	path    string
	mu      sync.Mutex
	entries map[string]string
}

// NewMapping loads the mapping from <home>/server/slack-sessions.json.
// A missing file yields an empty mapping.
func NewMapping(home string) (*Mapping, error) {
	m := &Mapping{
		path:    filepath.Join(home, config.ServerDirName, config.SlackSessionsFile),
		entries: make(map[string]string),
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read slack sessions: %w", err)
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, fmt.Errorf("decode slack sessions: %w", err)
	}
	return m, nil
}

// key scopes a conversation: thread replies share the thread's session,
// top-level DMs share the channel's.
func key(channelID, threadTS string) string {
	if threadTS != "" {
		return channelID + "/" + threadTS
	}
	return channelID
}

// Resolve returns the session bound to a conversation.
func (m *Mapping) Resolve(channelID, threadTS string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[key(channelID, threadTS)]
	return id, ok
}

// Bind records a conversation-to-session binding and persists it.
func (m *Mapping) Bind(channelID, threadTS, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(channelID, threadTS)] = sessionID
	return m.saveLocked()
}

// Unbind removes every binding that points at the given session.
func (m *Mapping) Unbind(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for k, v := range m.entries {
		if v == sessionID {
			delete(m.entries, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.saveLocked()
}

// Len returns the number of bindings.
func (m *Mapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Mapping) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create server dir: %w", err)
	}
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write slack sessions: %w", err)
	}
	return os.Rename(tmp, m.path)
}

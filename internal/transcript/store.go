package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
)

const (
	indexFilename        = "index.json"
	conversationFilename = "conversation.json"
	transcriptFilename   = "transcript.jsonl"

	defaultTitlePrefix = "Voice session "
	titleMaxLen        = 40
)

// Store persists voice conversations under one voice-sessions root.
//
// Write-path contract: index.json is rewritten only on create, end, status
// change, and the single title enrichment; appending transcript entries
// never touches it otherwise.
type Store struct {
	root   string
	logger *observability.Logger
	mu     sync.Mutex
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger *observability.Logger) *Store {
	return &Store{root: dir, logger: logger}
}

// Root returns the voice-sessions root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) conversationDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) conversationPath(id string) string {
	return filepath.Join(s.conversationDir(id), conversationFilename)
}

// TranscriptPath returns the JSONL transcript path for a conversation.
func (s *Store) TranscriptPath(id string) string {
	return filepath.Join(s.conversationDir(id), transcriptFilename)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexFilename)
}

// Create starts a conversation for sessionID with the default title, an
// empty transcript file, and an index entry.
func (s *Store) Create(sessionID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv := &Conversation{
		ID:                sessionID,
		Title:             defaultTitlePrefix + idPrefix(sessionID),
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
		DisconnectHistory: []DisconnectEvent{},
	}

	if err := os.MkdirAll(s.conversationDir(sessionID), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	if err := writeJSONAtomic(s.conversationPath(sessionID), conv); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.TranscriptPath(sessionID), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create transcript: %w", err)
	}
	f.Close()

	if err := s.updateIndexLocked(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get loads one conversation document.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (*Conversation, error) {
	data, err := os.ReadFile(s.conversationPath(id))
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", id, err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// List returns the index records, most recent first.
func (s *Store) List() ([]IndexRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readIndexLocked()
	if err != nil {
		return nil, err
	}
	// Index entries are appended in creation order; reverse for recency.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// AddEntry appends one transcript line. The first user entry on a
// conversation still carrying its default title enriches the title from the
// entry content; that is the only path where an append rewrites the index.
func (s *Store) AddEntry(entry Entry) error {
	return s.AddEntries([]Entry{entry})
}

// AddEntries appends a batch of transcript lines.
func (s *Store) AddEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entries[0].ConversationID
	f, err := os.OpenFile(s.TranscriptPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", id, err)
	}
	w := bufio.NewWriter(f)
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			f.Close()
			return fmt.Errorf("encode entry: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("append transcript %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close transcript %s: %w", id, err)
	}

	return s.applyEntryEffectsLocked(id, entries)
}

// applyEntryEffectsLocked handles tool-call counting and the one-shot title
// enrichment.
func (s *Store) applyEntryEffectsLocked(id string, entries []Entry) error {
	conv, err := s.loadLocked(id)
	if err != nil {
		return err
	}

	dirty := false
	titleChanged := false
	for _, entry := range entries {
		if entry.Role == RoleToolCall {
			conv.ToolCallCount++
			dirty = true
		}
		if entry.Role == RoleUser && !titleChanged && strings.HasPrefix(conv.Title, defaultTitlePrefix) {
			if title := deriveTitle(entry.Content); title != "" {
				conv.Title = title
				dirty = true
				titleChanged = true
			}
		}
	}
	if !dirty {
		return nil
	}

	conv.UpdatedAt = time.Now().UTC()
	if err := writeJSONAtomic(s.conversationPath(id), conv); err != nil {
		return err
	}
	if titleChanged {
		return s.updateIndexLocked(conv)
	}
	return nil
}

// Entries reads the full transcript for a conversation.
func (s *Store) Entries(id string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTranscriptLocked(id)
}

func (s *Store) readTranscriptLocked(id string) ([]Entry, error) {
	f, err := os.Open(s.TranscriptPath(id))
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", id, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			if s.logger != nil {
				s.logger.Warn(context.Background(), "skipping malformed transcript line", "conversation_id", id)
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// ResumptionContext converts the transcript into Realtime-API conversation
// items for session resumption.
func (s *Store) ResumptionContext(id string) ([]map[string]any, error) {
	entries, err := s.Entries(id)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		switch entry.Role {
		case RoleUser:
			items = append(items, map[string]any{
				"type": "message", "role": "user",
				"content": []map[string]any{{"type": "input_text", "text": entry.Content}},
			})
		case RoleAssistant:
			items = append(items, map[string]any{
				"type": "message", "role": "assistant",
				"content": []map[string]any{{"type": "output_text", "text": entry.Content}},
			})
		case RoleToolCall:
			items = append(items, map[string]any{
				"type": "function_call", "name": entry.ToolName,
				"call_id": entry.CallID, "arguments": entry.Content,
			})
		case RoleToolResult:
			items = append(items, map[string]any{
				"type": "function_call_output", "call_id": entry.CallID, "output": entry.Content,
			})
		}
	}
	return items, nil
}

// End marks the conversation ended. Unknown reasons are recorded as "error".
func (s *Store) End(id, reason string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil {
		return nil, err
	}
	if !ValidEndReasons[reason] {
		reason = "error"
	}

	now := time.Now().UTC()
	conv.Status = StatusEnded
	conv.EndReason = reason
	conv.EndedAt = &now
	conv.UpdatedAt = now
	conv.DurationSeconds = now.Sub(conv.CreatedAt).Seconds()

	if err := writeJSONAtomic(s.conversationPath(id), conv); err != nil {
		return nil, err
	}
	if err := s.updateIndexLocked(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// UpdateStatus sets the conversation status and rewrites the index.
func (s *Store) UpdateStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	conv.Status = status
	conv.UpdatedAt = time.Now().UTC()
	if err := writeJSONAtomic(s.conversationPath(id), conv); err != nil {
		return err
	}
	return s.updateIndexLocked(conv)
}

// RecordDisconnect appends a disconnect event and marks the conversation
// disconnected.
func (s *Store) RecordDisconnect(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	conv.DisconnectHistory = append(conv.DisconnectHistory, DisconnectEvent{Timestamp: now, Reason: reason})
	conv.Status = StatusDisconnected
	conv.UpdatedAt = now
	if err := writeJSONAtomic(s.conversationPath(id), conv); err != nil {
		return err
	}
	return s.updateIndexLocked(conv)
}

// RecordReconnect bumps the reconnect counter and restores active status.
func (s *Store) RecordReconnect(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	conv.ReconnectCount++
	conv.Status = StatusActive
	conv.UpdatedAt = time.Now().UTC()
	if err := writeJSONAtomic(s.conversationPath(id), conv); err != nil {
		return err
	}
	return s.updateIndexLocked(conv)
}

func (s *Store) readIndexLocked() ([]IndexRecord, error) {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var records []IndexRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return records, nil
}

func (s *Store) updateIndexLocked(conv *Conversation) error {
	records, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	record := IndexRecord{
		ID:        conv.ID,
		Title:     conv.Title,
		Status:    conv.Status,
		CreatedAt: conv.CreatedAt,
		EndReason: conv.EndReason,
	}
	found := false
	for i := range records {
		if records[i].ID == conv.ID {
			records[i] = record
			found = true
			break
		}
	}
	if !found {
		records = append(records, record)
	}
	return writeJSONAtomic(s.indexPath(), records)
}

// deriveTitle builds a title from the first six words of the first user
// message, capped at 40 characters.
func deriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 6 {
		words = words[:6]
	}
	title := strings.Join(words, " ")
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen-3] + "..."
	}
	return title
}

func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// writeJSONAtomic writes v as indented JSON via a .tmp sibling and rename.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Package memory is the server's lightweight note store: free-form
// memories with tags, plus an append-only work log, both persisted as YAML
// under the memory directory.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/switchboard/internal/config"
)

const (
	memoriesFilename = config.MemoryStoreFilename
	workLogFilename  = config.WorkLogFilename
)

// Entry is one remembered note.
type Entry struct {
	ID      string    `yaml:"id" json:"id"`
	Content string    `yaml:"content" json:"content"`
	Tags    []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	Created time.Time `yaml:"created" json:"created"`
}

// WorkLogEntry is one work-log line.
type WorkLogEntry struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Note      string    `yaml:"note" json:"note"`
	Session   string    `yaml:"session,omitempty" json:"session,omitempty"`
}

// categoryKeywords drive the naive auto-tagging used when a caller saves
// a note without tags.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"code", []string{"function", "bug", "test", "refactor", "compile", "module"}},
	{"infra", []string{"server", "deploy", "database", "port", "docker", "host"}},
	{"preference", []string{"prefer", "always", "never", "instead"}},
	{"people", []string{"asked", "said", "team", "meeting"}},
}

// Categorize guesses a tag for untagged content from keyword buckets.
// Unmatched content falls back to "note".
func Categorize(content string) string {
	lowered := strings.ToLower(content)
	for _, bucket := range categoryKeywords {
		for _, word := range bucket.words {
			if strings.Contains(lowered, word) {
				return bucket.category
			}
		}
	}
	return "note"
}

// Store persists memories and the work log in one directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Remember saves a note and returns its entry.
func (s *Store) Remember(content string, tags []string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadEntries()
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		ID:      uuid.NewString(),
		Content: content,
		Tags:    tags,
		Created: time.Now().UTC(),
	}
	entries = append(entries, entry)
	if err := s.writeYAML(memoriesFilename, entries); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Recall returns memories whose content or tags contain the query,
// case-insensitive, newest first. An empty query returns everything.
func (s *Store) Recall(query string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadEntries()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var matched []Entry
	for _, entry := range entries {
		if needle == "" || strings.Contains(strings.ToLower(entry.Content), needle) || tagMatches(entry.Tags, needle) {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Created.After(matched[j].Created)
	})
	return matched, nil
}

func tagMatches(tags []string, needle string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Forget removes a memory by id; reports whether one was removed.
func (s *Store) Forget(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadEntries()
	if err != nil {
		return false, err
	}
	kept := entries[:0]
	removed := false
	for _, entry := range entries {
		if entry.ID == id {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	if !removed {
		return false, nil
	}
	return true, s.writeYAML(memoriesFilename, kept)
}

// AppendWorkLog records one work-log line.
func (s *Store) AppendWorkLog(note, session string) (WorkLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.loadWorkLog()
	if err != nil {
		return WorkLogEntry{}, err
	}
	entry := WorkLogEntry{Timestamp: time.Now().UTC(), Note: note, Session: session}
	log = append(log, entry)
	if err := s.writeYAML(workLogFilename, log); err != nil {
		return WorkLogEntry{}, err
	}
	return entry, nil
}

// WorkStatus returns the most recent work-log entries, newest first, capped
// at limit.
func (s *Store) WorkStatus(limit int) ([]WorkLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.loadWorkLog()
	if err != nil {
		return nil, err
	}
	sort.Slice(log, func(i, j int) bool {
		return log[i].Timestamp.After(log[j].Timestamp)
	})
	if limit > 0 && len(log) > limit {
		log = log[:limit]
	}
	return log, nil
}

func (s *Store) loadEntries() ([]Entry, error) {
	var entries []Entry
	if err := s.readYAML(memoriesFilename, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) loadWorkLog() ([]WorkLogEntry, error) {
	var log []WorkLogEntry
	if err := s.readYAML(workLogFilename, &log); err != nil {
		return nil, err
	}
	return log, nil
}

func (s *Store) readYAML(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeYAML(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

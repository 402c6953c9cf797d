package transcript

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), observability.NewTestLogger(io.Discard))
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n
}

func TestCreateConversation(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("sess-001-abcdef")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Title != "Voice session sess-001" {
		t.Fatalf("default title = %q", conv.Title)
	}
	if conv.Status != StatusActive {
		t.Fatalf("status = %q", conv.Status)
	}

	// Empty transcript exists so the session is discoverable immediately.
	if _, err := os.Stat(store.TranscriptPath("sess-001-abcdef")); err != nil {
		t.Fatalf("transcript not touched: %v", err)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].ID != "sess-001-abcdef" {
		t.Fatalf("unexpected index: %v", records)
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("sess-001"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().UTC()
	entries := []Entry{
		{ID: "e1", ConversationID: "sess-001", Role: RoleUser, Content: "What is the weather?", CreatedAt: now},
		{ID: "e2", ConversationID: "sess-001", Role: RoleToolCall, ToolName: "get_weather", CallID: "call-abc", Content: `{"location":"NYC"}`, CreatedAt: now},
		{ID: "e3", ConversationID: "sess-001", Role: RoleToolResult, CallID: "call-abc", Content: `{"temp":"72F"}`, CreatedAt: now},
		{ID: "e4", ConversationID: "sess-001", Role: RoleAssistant, Content: "It is 72F in NYC.", CreatedAt: now},
	}
	if err := store.AddEntries(entries); err != nil {
		t.Fatalf("AddEntries: %v", err)
	}

	if n := countLines(t, store.TranscriptPath("sess-001")); n != 4 {
		t.Fatalf("transcript has %d lines, want 4", n)
	}

	items, err := store.ResumptionContext("sess-001")
	if err != nil {
		t.Fatalf("ResumptionContext: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("got %d items, want 4", len(items))
	}
	if items[0]["type"] != "message" || items[0]["role"] != "user" {
		t.Fatalf("item 0: %v", items[0])
	}
	if items[1]["type"] != "function_call" || items[1]["name"] != "get_weather" || items[1]["call_id"] != "call-abc" {
		t.Fatalf("item 1: %v", items[1])
	}
	if items[2]["type"] != "function_call_output" || items[2]["call_id"] != "call-abc" {
		t.Fatalf("item 2: %v", items[2])
	}
	if items[3]["type"] != "message" || items[3]["role"] != "assistant" {
		t.Fatalf("item 3: %v", items[3])
	}

	conv, err := store.Get("sess-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.ToolCallCount != 1 {
		t.Fatalf("tool_call_count = %d, want 1", conv.ToolCallCount)
	}
}

func TestTitleEnrichmentExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("sess-002"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	indexPath := filepath.Join(store.Root(), "index.json")
	before, err := os.Stat(indexPath)
	if err != nil {
		t.Fatalf("stat index: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	err = store.AddEntry(Entry{
		ID: "e1", ConversationID: "sess-002", Role: RoleUser,
		Content:   "this is the first user message of the session",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	afterFirst, err := os.Stat(indexPath)
	if err != nil {
		t.Fatalf("stat index: %v", err)
	}
	if !afterFirst.ModTime().After(before.ModTime()) {
		t.Fatal("first user entry should rewrite index.json")
	}
	conv, err := store.Get("sess-002")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.Title != "this is the first user message" {
		t.Fatalf("title = %q", conv.Title)
	}

	time.Sleep(50 * time.Millisecond)
	err = store.AddEntry(Entry{
		ID: "e2", ConversationID: "sess-002", Role: RoleUser,
		Content: "a second message that must not touch the index", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	afterSecond, err := os.Stat(indexPath)
	if err != nil {
		t.Fatalf("stat index: %v", err)
	}
	if !afterSecond.ModTime().Equal(afterFirst.ModTime()) {
		t.Fatal("second user entry rewrote index.json")
	}
}

func TestTitleTruncation(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("sess-003"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.AddEntry(Entry{
		ID: "e1", ConversationID: "sess-003", Role: RoleUser,
		Content:   "supercalifragilistic expialidocious antidisestablishmentarianism pneumonoultramicroscopic silicovolcanoconiosis floccinaucinihilipilification",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	conv, err := store.Get("sess-003")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Title) != 40 || !strings.HasSuffix(conv.Title, "...") {
		t.Fatalf("title = %q (len %d)", conv.Title, len(conv.Title))
	}
}

func TestEndConversation(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("sess-004"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	conv, err := store.End("sess-004", "user_ended")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if conv.Status != StatusEnded || conv.EndReason != "user_ended" || conv.EndedAt == nil {
		t.Fatalf("unexpected conversation after end: %+v", conv)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if records[0].Status != StatusEnded || records[0].EndReason != "user_ended" {
		t.Fatalf("index not updated: %+v", records[0])
	}
}

func TestEndConversationCoercesUnknownReason(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("sess-005"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	conv, err := store.End("sess-005", "cosmic_rays")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if conv.EndReason != "error" {
		t.Fatalf("unknown reason recorded as %q, want error", conv.EndReason)
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("sess-006"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.RecordDisconnect("sess-006", "network_error"); err != nil {
		t.Fatalf("RecordDisconnect: %v", err)
	}
	conv, _ := store.Get("sess-006")
	if conv.Status != StatusDisconnected || len(conv.DisconnectHistory) != 1 {
		t.Fatalf("after disconnect: %+v", conv)
	}
	if err := store.RecordReconnect("sess-006"); err != nil {
		t.Fatalf("RecordReconnect: %v", err)
	}
	conv, _ = store.Get("sess-006")
	if conv.Status != StatusActive || conv.ReconnectCount != 1 {
		t.Fatalf("after reconnect: %+v", conv)
	}
}

package backend

import (
	"strings"
	"testing"
)

func toolUse(id, name string) map[string]any {
	return map[string]any{
		"role": "assistant",
		"content": []any{map[string]any{
			"type": "tool_use", "id": id, "name": name, "input": map[string]any{},
		}},
	}
}

func toolResult(id string) map[string]any {
	return map[string]any{
		"role": "user",
		"content": []any{map[string]any{
			"type": "tool_result", "tool_use_id": id, "content": "ok",
		}},
	}
}

func textMsg(role, text string) map[string]any {
	return map[string]any{
		"role":    role,
		"content": []any{map[string]any{"type": "text", "text": text}},
	}
}

func TestRepairInsertsSyntheticResult(t *testing.T) {
	report := RepairOrphanToolCalls([]map[string]any{
		textMsg("user", "go"),
		toolUse("tu-1", "bash"),
	})

	if report.AddedSynthetic != 1 {
		t.Fatalf("added %d synthetic results, want 1", report.AddedSynthetic)
	}
	if len(report.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(report.Messages))
	}
	last := report.Messages[2]
	blocks := contentBlocks(last)
	if len(blocks) != 1 || blocks[0]["type"] != "tool_result" || blocks[0]["tool_use_id"] != "tu-1" {
		t.Fatalf("synthetic message malformed: %v", last)
	}
	if blocks[0]["is_error"] != true {
		t.Fatal("synthetic result must be flagged as an error")
	}
	if !strings.Contains(blocks[0]["content"].(string), "synthetic") {
		t.Fatalf("synthetic content: %v", blocks[0]["content"])
	}
}

func TestRepairLeavesPairedCallsAlone(t *testing.T) {
	messages := []map[string]any{
		textMsg("user", "go"),
		toolUse("tu-1", "bash"),
		toolResult("tu-1"),
		textMsg("assistant", "done"),
	}
	report := RepairOrphanToolCalls(messages)
	if report.AddedSynthetic != 0 {
		t.Fatalf("added %d synthetic results for a well-formed transcript", report.AddedSynthetic)
	}
	if len(report.Messages) != len(messages) {
		t.Fatalf("message count changed: %d -> %d", len(messages), len(report.Messages))
	}
}

func TestRepairHandlesMultipleOrphans(t *testing.T) {
	report := RepairOrphanToolCalls([]map[string]any{
		toolUse("tu-1", "bash"),
		toolUse("tu-2", "write"),
	})
	if report.AddedSynthetic != 2 {
		t.Fatalf("added %d synthetic results, want 2", report.AddedSynthetic)
	}
	// Each synthetic follows its own assistant turn.
	if report.Messages[1]["role"] != "user" || report.Messages[3]["role"] != "user" {
		t.Fatalf("synthetic placement wrong: %v", report.Messages)
	}
}

func TestSystemMessageHelpers(t *testing.T) {
	messages := []map[string]any{
		{"role": "system", "content": "a"},
		{"role": "system", "content": "b"},
		textMsg("user", "hi"),
	}
	if !hasSystemMessage(messages) {
		t.Fatal("hasSystemMessage = false")
	}
	if n := len(systemMessages(messages)); n != 2 {
		t.Fatalf("systemMessages returned %d, want 2", n)
	}
	if hasSystemMessage(messages[2:]) {
		t.Fatal("hasSystemMessage on user-only slice")
	}
}

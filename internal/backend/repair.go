package backend

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const syntheticResultText = "[switchboard] Missing tool result in session history; inserted synthetic error result for transcript repair."

// RepairReport summarizes an orphan-tool-call repair pass.
type RepairReport struct {
	Messages []map[string]any
	// AddedSynthetic is the number of synthetic tool results inserted.
	AddedSynthetic int
}

// RepairOrphanToolCalls inserts a synthetic error tool_result directly after
// any assistant turn whose tool_use has no matching tool_result. Runtimes
// reject contexts where a tool call is left unanswered, so a transcript cut
// off mid-tool-call must be repaired before it can seed a new session.
func RepairOrphanToolCalls(messages []map[string]any) RepairReport {
	resolved := make(map[string]bool)
	for _, msg := range messages {
		for _, block := range contentBlocks(msg) {
			if block["type"] == "tool_result" {
				if id, ok := block["tool_use_id"].(string); ok {
					resolved[id] = true
				}
			}
		}
	}

	report := RepairReport{Messages: make([]map[string]any, 0, len(messages))}
	for _, msg := range messages {
		report.Messages = append(report.Messages, msg)
		if msg["role"] != "assistant" {
			continue
		}
		for _, block := range contentBlocks(msg) {
			if block["type"] != "tool_use" {
				continue
			}
			id, _ := block["id"].(string)
			if id == "" || resolved[id] {
				continue
			}
			resolved[id] = true
			report.AddedSynthetic++
			report.Messages = append(report.Messages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": id,
					"content":     syntheticResultText,
					"is_error":    true,
				}},
			})
		}
	}
	return report
}

func contentBlocks(msg map[string]any) []map[string]any {
	list, ok := msg["content"].([]any)
	if !ok {
		return nil
	}
	blocks := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if block, ok := item.(map[string]any); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// hasSystemMessage reports whether any message carries the system role.
func hasSystemMessage(messages []map[string]any) bool {
	for _, msg := range messages {
		if msg["role"] == "system" {
			return true
		}
	}
	return false
}

// systemMessages returns the leading system messages of a context.
func systemMessages(messages []map[string]any) []map[string]any {
	var out []map[string]any
	for _, msg := range messages {
		if msg["role"] != "system" {
			break
		}
		out = append(out, msg)
	}
	return out
}

// loadTranscript reads a runtime-side JSONL transcript into message maps,
// skipping blank and malformed lines.
func loadTranscript(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var messages []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}

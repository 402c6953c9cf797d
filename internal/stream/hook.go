package stream

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/observability"
)

// maxStringLen is the longest string value forwarded verbatim; anything
// longer is almost certainly base64 image data and gets elided.
const maxStringLen = 1000

const elidedPlaceholder = "[image data omitted]"

// Hook translates canonical runtime events into wire messages and enqueues
// them on the session's event queue. One Hook serves one session.
type Hook struct {
	sessionID string
	queue     *Queue
	logger    *observability.Logger

	mu         sync.Mutex
	blockTypes map[int]string // in-flight content block index -> block_type
}

// NewHook creates a streaming hook bound to one session's queue.
func NewHook(sessionID string, queue *Queue, logger *observability.Logger) *Hook {
	return &Hook{
		sessionID:  sessionID,
		queue:      queue,
		logger:     logger,
		blockTypes: make(map[int]string),
	}
}

// Wire registers the hook for every canonical event and returns a release
// func that unregisters all of them. Release is idempotent.
func (h *Hook) Wire(hooks *agent.HookRegistry) func() {
	unregisters := make([]func(), 0, len(agent.AllEvents))
	for _, event := range agent.AllEvents {
		unregisters = append(unregisters, hooks.Register(event, h.Handle))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, fn := range unregisters {
				fn()
			}
		})
	}
}

// Handle is the hook handler: sanitize, map, non-blocking enqueue.
func (h *Hook) Handle(ctx context.Context, event string, data map[string]any) (agent.HookResult, error) {
	payload := sanitizeMap(data)
	wire := h.translate(event, payload)
	if wire != nil {
		h.queue.TryPush(ctx, wire)
	}
	return agent.Continue(data), nil
}

func (h *Hook) translate(event string, data map[string]any) map[string]any {
	switch event {
	case agent.EventContentBlockStart:
		index := intField(data, "index")
		blockType := stringField(data, "block_type")
		if blockType == "" {
			blockType = stringField(data, "type")
		}
		if blockType == "" {
			blockType = "text"
		}
		h.mu.Lock()
		h.blockTypes[index] = blockType
		h.mu.Unlock()
		return h.wire("content_start", map[string]any{
			"index":      index,
			"block_type": blockType,
		})

	case agent.EventContentBlockDelta:
		index := intField(data, "index")
		h.mu.Lock()
		blockType := h.blockTypes[index]
		h.mu.Unlock()
		if blockType == "" {
			blockType = "text"
		}
		return h.wire("content_delta", map[string]any{
			"index":      index,
			"block_type": blockType,
			"text":       deltaText(data["delta"]),
		})

	case agent.EventContentBlockEnd:
		index := intField(data, "index")
		h.mu.Lock()
		delete(h.blockTypes, index)
		h.mu.Unlock()
		return h.wire("content_end", map[string]any{"index": index})

	case agent.EventToolPre:
		return h.wire("tool_call", map[string]any{
			"tool_name":    data["tool_name"],
			"tool_call_id": data["tool_call_id"],
			"arguments":    data["arguments"],
			"status":       "pending",
		})

	case agent.EventToolPost:
		return h.wire("tool_result", map[string]any{
			"tool_name":    data["tool_name"],
			"tool_call_id": data["tool_call_id"],
			"output":       data["output"],
			"success":      data["success"],
			"error":        data["error"],
		})

	case agent.EventToolError:
		return h.wire("tool_error", data)

	case agent.EventThinkingDelta:
		return h.wire("thinking_delta", data)
	case agent.EventThinkingFinal:
		return h.wire("thinking_final", data)

	case agent.EventSessionFork:
		return h.wire("session_fork", map[string]any{
			"child_session_id": data["child_session_id"],
			"agent":            data["agent"],
		})

	case agent.EventProviderRequest, agent.EventLLMRequest, agent.EventLLMRequestRaw:
		wire := h.wire("provider_request", data)
		wire["event"] = event
		return wire
	case agent.EventProviderResponse, agent.EventLLMResponse, agent.EventLLMResponseRaw:
		wire := h.wire("provider_response", data)
		wire["event"] = event
		return wire

	case agent.EventUserNotification:
		return h.wire("display_message", data)

	case agent.EventCancelRequested:
		return h.wire("cancel_requested", map[string]any{
			"level":         data["level"],
			"running_tools": data["running_tools"],
		})
	case agent.EventCancelCompleted:
		return h.wire("cancel_completed", map[string]any{
			"level":           data["level"],
			"tools_cancelled": data["tools_cancelled"],
		})

	default:
		return h.wire(deriveType(event), data)
	}
}

func (h *Hook) wire(eventType string, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = eventType
	out["session_id"] = h.sessionID
	return out
}

// deriveType maps an unlisted canonical name to a wire type: ":" becomes "_"
// and the "_block" segment is dropped.
func deriveType(event string) string {
	return strings.ReplaceAll(strings.ReplaceAll(event, ":", "_"), "_block", "")
}

// deltaText pulls the streamed text out of a delta payload, which arrives
// either as a plain string or as an object with a text field.
func deltaText(delta any) string {
	switch v := delta.(type) {
	case string:
		return v
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
	}
	return ""
}

// sanitizeMap deep-copies data, replacing any string longer than
// maxStringLen with a placeholder.
func sanitizeMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		if utf8.RuneCountInString(val) > maxStringLen {
			return elidedPlaceholder
		}
		return val
	case map[string]any:
		return sanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// Package transcript persists voice conversations: a compact index, one
// conversation document per session, and an append-only JSONL transcript.
// It also mirrors user and assistant turns into the runtime projects tree so
// voice sessions are visible to the other interfaces.
package transcript

import "time"

// Conversation statuses.
const (
	StatusActive       = "active"
	StatusDisconnected = "disconnected"
	StatusEnded        = "ended"
)

// Transcript entry roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolCall   = "tool_call"
	RoleToolResult = "tool_result"
)

// End reasons accepted on a conversation. Anything else is recorded as
// "error".
var ValidEndReasons = map[string]bool{
	"session_limit": true,
	"network_error": true,
	"user_ended":    true,
	"idle_timeout":  true,
	"error":         true,
}

// Conversation is the per-session metadata document stored in
// conversation.json.
type Conversation struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Status            string            `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`
	EndReason         string            `json:"end_reason,omitempty"`
	DurationSeconds   float64           `json:"duration_seconds,omitempty"`
	ToolCallCount     int               `json:"tool_call_count"`
	ReconnectCount    int               `json:"reconnect_count"`
	DisconnectHistory []DisconnectEvent `json:"disconnect_history"`
}

// DisconnectEvent records one consumer disconnect.
type DisconnectEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Entry is one transcript line.
type Entry struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	ItemID          string    `json:"item_id,omitempty"`
	ToolName        string    `json:"tool_name,omitempty"`
	CallID          string    `json:"call_id,omitempty"`
	AudioDurationMS int       `json:"audio_duration_ms,omitempty"`
}

// IndexRecord is the compact per-conversation record kept in index.json.
type IndexRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	EndReason string    `json:"end_reason,omitempty"`
}

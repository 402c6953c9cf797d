// Package models holds the shared types exchanged between the session
// backend, the HTTP surface, and the voice interface.
package models

// SessionInfo describes one backend session.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	ProjectID    string `json:"project_id"`
	WorkingDir   string `json:"working_dir"`
	IsActive     bool   `json:"is_active"`
	CreatedByApp string `json:"created_by_app"` // "chat", "slack", "voice", or ""
	Description  string `json:"description"`
}

// CancelLevel selects how aggressively a running session is cancelled.
type CancelLevel string

const (
	// CancelGraceful asks the coordinator to stop; in-flight tool calls
	// may run to completion.
	CancelGraceful CancelLevel = "graceful"
	// CancelImmediate requests the coordinator's strongest cancel.
	CancelImmediate CancelLevel = "immediate"
)

// App tags recorded on SessionInfo.CreatedByApp.
const (
	AppChat  = "chat"
	AppSlack = "slack"
	AppVoice = "voice"
)

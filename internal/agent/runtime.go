// Package agent defines the boundary between the switchboard server and the
// local agent runtime it drives. The server never reaches into runtime
// internals: it loads a prepared bundle, creates sessions, executes prompts,
// and observes the session through the coordinator's capability slots.
package agent

import (
	"context"
	"time"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Runtime loads bundles and is the factory for prepared session builders.
type Runtime interface {
	// LoadBundle loads and prepares a bundle by name or local path.
	LoadBundle(ctx context.Context, nameOrPath string) (Prepared, error)
}

// Prepared is a loaded bundle ready to create sessions.
type Prepared interface {
	CreateSession(ctx context.Context, opts CreateOptions) (Session, error)
}

// CreateOptions controls session creation.
type CreateOptions struct {
	// SessionID forces a specific id (used when resuming); empty lets the
	// runtime assign one.
	SessionID string
	// WorkingDir is the session's absolute working directory.
	WorkingDir string
	// Resumed marks the session as a reconnect of a prior session.
	Resumed bool
}

// Session is one live runtime conversation.
type Session interface {
	ID() string
	// Execute runs one prompt to completion and returns the final
	// assistant text. Exactly one Execute may run at a time per session;
	// the backend's worker enforces this.
	Execute(ctx context.Context, prompt string) (string, error)
	Coordinator() *Coordinator
	Close(ctx context.Context) error
}

// ContextStore exposes the session's message context for transcript
// injection at reconnect time.
type ContextStore interface {
	Messages(ctx context.Context) ([]map[string]any, error)
	SetMessages(ctx context.Context, messages []map[string]any) error
}

// DisplaySystem receives user-visible display messages from the runtime.
type DisplaySystem interface {
	Display(ctx context.Context, message string, level string) error
}

// ApprovalPrompt describes one approval gate raised by the runtime.
type ApprovalPrompt struct {
	RequestID string
	Prompt    string
	Options   []string
	Timeout   time.Duration
	Default   string
}

// ApprovalGate decides approval gates. Implementations block until the gate
// is resolved out-of-band, times out, or the context is cancelled.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, prompt ApprovalPrompt) (string, error)
}

// CancelFunc asks the coordinator to cancel the in-flight work.
type CancelFunc func(level models.CancelLevel)

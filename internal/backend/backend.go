// Package backend owns the set of live runtime sessions. It serializes all
// runtime calls per session through a FIFO worker, recovers lost handles by
// reconnecting from on-disk transcripts, and streams progress through
// bounded event queues.
package backend

import (
	"context"
	"errors"

	"github.com/haasonsaas/switchboard/internal/stream"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// ErrUnknownSession is returned for tombstoned or unreconnectable session ids.
var ErrUnknownSession = errors.New("unknown session")

// CreateSessionOptions configures CreateSession.
type CreateSessionOptions struct {
	WorkingDir  string
	Bundle      string
	Description string
	CreatedBy   string
	// Queue, when set, receives wire events for the session; the backend
	// wires the streaming hook and the display/approval adapters to it.
	Queue *stream.Queue
}

// Backend is the session backend contract. LocalBackend drives a real
// runtime; MockBackend satisfies the same contract for tests and simulator
// modes.
type Backend interface {
	CreateSession(ctx context.Context, opts CreateSessionOptions) (models.SessionInfo, error)
	// SendMessage enqueues one message and blocks until the runtime call
	// completes, returning the final assistant text.
	SendMessage(ctx context.Context, sessionID, message string) (string, error)
	// Execute enqueues one prompt; results stream via the event queue.
	// Images are part of the contract but not yet forwarded to the runtime.
	Execute(ctx context.Context, sessionID, prompt string, images []string) error
	// CancelSession is idempotent and a no-op for unknown ids.
	CancelSession(ctx context.Context, sessionID string, level models.CancelLevel)
	// ResolveApproval wakes the waiter for requestID; reports whether one
	// was woken. Synchronous, never blocks.
	ResolveApproval(sessionID, requestID, choice string) bool
	ResumeSession(ctx context.Context, sessionID, workingDir string, queue *stream.Queue) error
	// EndSession tombstones the id, drains the worker (bounded), and
	// releases all hooks. Never fails; unknown ids are a no-op.
	EndSession(ctx context.Context, sessionID string)
	// DetachEventQueue releases the session's hook registrations and
	// detaches its event queue, leaving the session alive.
	DetachEventQueue(sessionID string)
	GetSessionInfo(sessionID string) (models.SessionInfo, bool)
	ListActiveSessions() []models.SessionInfo
	// Stop drains every worker (bounded 10s), cancels stragglers, and
	// clears all session state.
	Stop(ctx context.Context)
}

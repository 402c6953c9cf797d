package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/observability"
)

// ApprovalSystem bridges runtime approval gates to the event queue. The gate
// request goes out as an approval_request wire message; resolution arrives
// out-of-band through Resolve. Multiple outstanding requests per session are
// keyed by request id.
type ApprovalSystem struct {
	sessionID string
	queue     *Queue
	logger    *observability.Logger

	mu      sync.Mutex
	waiters map[string]chan string
}

// NewApprovalSystem creates an approval adapter bound to one session's queue.
func NewApprovalSystem(sessionID string, queue *Queue, logger *observability.Logger) *ApprovalSystem {
	return &ApprovalSystem{
		sessionID: sessionID,
		queue:     queue,
		logger:    logger,
		waiters:   make(map[string]chan string),
	}
}

// RequestApproval enqueues an approval_request and blocks until Resolve is
// called, the timeout elapses (the default choice wins), or ctx is cancelled.
func (a *ApprovalSystem) RequestApproval(ctx context.Context, prompt agent.ApprovalPrompt) (string, error) {
	requestID := prompt.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ch := make(chan string, 1)
	a.mu.Lock()
	a.waiters[requestID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiters, requestID)
		a.mu.Unlock()
	}()

	a.queue.TryPush(ctx, map[string]any{
		"type":            "approval_request",
		"session_id":      a.sessionID,
		"request_id":      requestID,
		"prompt":          prompt.Prompt,
		"options":         prompt.Options,
		"timeout_seconds": prompt.Timeout.Seconds(),
		"default":         prompt.Default,
	})

	timeout := prompt.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case choice := <-ch:
		return choice, nil
	case <-timer.C:
		a.logger.Warn(ctx, "approval request timed out, using default",
			"request_id", requestID, "default", prompt.Default)
		return prompt.Default, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve wakes the waiter for requestID with the chosen option. Returns an
// error when no such request is outstanding.
func (a *ApprovalSystem) Resolve(requestID, choice string) error {
	a.mu.Lock()
	ch, ok := a.waiters[requestID]
	if ok {
		delete(a.waiters, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval request %q", requestID)
	}
	ch <- choice
	return nil
}

// Pending returns the ids of outstanding approval requests.
func (a *ApprovalSystem) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.waiters))
	for id := range a.waiters {
		ids = append(ids, id)
	}
	return ids
}

// DisplaySystem forwards runtime display messages onto the event queue.
type DisplaySystem struct {
	sessionID string
	queue     *Queue
}

// NewDisplaySystem creates a display adapter bound to one session's queue.
func NewDisplaySystem(sessionID string, queue *Queue) *DisplaySystem {
	return &DisplaySystem{sessionID: sessionID, queue: queue}
}

// Display enqueues a display_message wire event. Never blocks.
func (d *DisplaySystem) Display(ctx context.Context, message string, level string) error {
	d.queue.TryPush(ctx, map[string]any{
		"type":       "display_message",
		"session_id": d.sessionID,
		"message":    message,
		"level":      level,
	})
	return nil
}

package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/stream"
)

// safeTools are auto-approved without prompting.
var safeTools = map[string]bool{
	"read_file":      true,
	"list_files":     true,
	"search_files":   true,
	"grep":           true,
	"glob":           true,
	"web_search":     true,
	"get_status":     true,
	"list_sessions":  true,
	"recall_memory":  true,
}

// dangerousTools always require a spoken approval.
var dangerousTools = map[string]bool{
	"bash":         true,
	"execute":      true,
	"write_file":   true,
	"delete_file":  true,
	"git_push":     true,
	"git_commit":   true,
	"apply_patch":  true,
	"move_file":    true,
}

// dangerKeywords classify tools that appear in neither set: a name
// containing any of these requires approval.
var dangerKeywords = []string{"write", "delete", "push", "commit", "reset", "checkout", "patch", "move"}

// Approval is the voice-only tool approval policy. At most one approval is
// in flight at a time; the session worker executes tools sequentially, and
// the assertion guards the invariant.
type Approval struct {
	sessionID string
	queue     *stream.Queue
	logger    *observability.Logger
	timeout   time.Duration

	mu       sync.Mutex
	inFlight *pendingApproval
}

type pendingApproval struct {
	requestID string
	response  chan bool
}

// NewApproval creates a voice approval policy for one session.
func NewApproval(sessionID string, queue *stream.Queue, logger *observability.Logger, timeout time.Duration) *Approval {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Approval{sessionID: sessionID, queue: queue, logger: logger, timeout: timeout}
}

// RequiresApproval classifies a tool by name.
func RequiresApproval(toolName string) bool {
	name := strings.ToLower(toolName)
	if safeTools[name] {
		return false
	}
	if dangerousTools[name] {
		return true
	}
	for _, keyword := range dangerKeywords {
		if strings.Contains(name, keyword) {
			return true
		}
	}
	return false
}

// SpokenPrompt renders the approval question the assistant speaks aloud.
func SpokenPrompt(toolName string, arguments map[string]any) string {
	name := strings.ToLower(toolName)
	switch {
	case name == "bash" || name == "execute" || strings.Contains(name, "exec"):
		command, _ := arguments["command"].(string)
		if len(command) > 60 {
			command = command[:60]
		}
		return fmt.Sprintf("I need to run: %s. Shall I proceed?", command)
	case strings.Contains(name, "write"):
		return fmt.Sprintf("May I write to %s?", argPath(arguments))
	case strings.Contains(name, "delete"):
		return fmt.Sprintf("May I delete %s?", argPath(arguments))
	case name == "git_push":
		return "May I push to the remote repository?"
	case name == "git_commit":
		return "May I create a git commit?"
	default:
		return fmt.Sprintf("May I use %s?", toolName)
	}
}

func argPath(arguments map[string]any) string {
	for _, key := range []string{"path", "file_path", "filename"} {
		if path, ok := arguments[key].(string); ok && path != "" {
			return path
		}
	}
	return "the file"
}

// Request prompts the user for a dangerous tool and blocks until
// HandleResponse, timeout (deny), or context cancellation. Safe tools return
// immediately.
func (a *Approval) Request(ctx context.Context, toolName string, arguments map[string]any) (bool, error) {
	if !RequiresApproval(toolName) {
		return true, nil
	}

	pending := &pendingApproval{
		requestID: uuid.NewString(),
		response:  make(chan bool, 1),
	}
	a.mu.Lock()
	if a.inFlight != nil {
		a.mu.Unlock()
		// Sequential tool execution makes a second in-flight approval a
		// program error, not a user condition.
		return false, fmt.Errorf("approval already in flight for session %s", a.sessionID)
	}
	a.inFlight = pending
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inFlight = nil
		a.mu.Unlock()
	}()

	a.queue.TryPush(ctx, map[string]any{
		"type":          "approval_request",
		"session_id":    a.sessionID,
		"request_id":    pending.requestID,
		"tool_name":     toolName,
		"spoken_prompt": SpokenPrompt(toolName, arguments),
		"is_dangerous":  true,
	})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case approved := <-pending.response:
		return approved, nil
	case <-timer.C:
		a.logger.Warn(ctx, "voice approval timed out, denying",
			"session_id", a.sessionID, "tool", toolName)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// HandleResponse resolves the in-flight approval. Reports false when none is
// pending.
func (a *Approval) HandleResponse(approved bool) bool {
	a.mu.Lock()
	pending := a.inFlight
	a.inFlight = nil
	a.mu.Unlock()
	if pending == nil {
		return false
	}
	pending.response <- approved
	return true
}

// PendingRequestID returns the id of the in-flight approval, if any.
func (a *Approval) PendingRequestID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inFlight == nil {
		return "", false
	}
	return a.inFlight.requestID, true
}

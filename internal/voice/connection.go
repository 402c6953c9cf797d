package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/stream"
	"github.com/haasonsaas/switchboard/internal/transcript"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// Connection owns one bounded event queue wired to one backend session for
// the lifetime of one voice session. Whatever else happens, the queue wiring
// is released on every exit path; a hook firing against a dead consumer is a
// defect, a drop on a live full queue is not.
type Connection struct {
	backend backend.Backend
	store   *transcript.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	home    string

	mu           sync.Mutex
	sessionID    string
	projectID    string
	queue        *stream.Queue
	mirror       *transcript.Mirror
	approval     *Approval
	lastActivity time.Time
	ended        bool
}

// NewConnection creates an unbound connection. Create attaches it to a
// backend session.
func NewConnection(b backend.Backend, store *transcript.Store, home string, logger *observability.Logger, metrics *observability.Metrics) *Connection {
	return &Connection{
		backend: b,
		store:   store,
		home:    home,
		logger:  logger,
		metrics: metrics,
	}
}

// Create builds the event queue, creates the backend session with it (the
// backend wires the streaming hook inside that call), and sets up voice
// persistence. On failure nothing stays wired.
func (c *Connection) Create(ctx context.Context, workspaceRoot string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return fmt.Errorf("connection already bound to session %s", c.sessionID)
	}

	queue := stream.NewQueue(stream.DefaultQueueSize, c.logger, c.metrics)
	info, err := c.backend.CreateSession(ctx, backend.CreateSessionOptions{
		WorkingDir:  workspaceRoot,
		Description: "voice",
		CreatedBy:   models.AppVoice,
		Queue:       queue,
	})
	if err != nil {
		return fmt.Errorf("create voice session: %w", err)
	}

	projectID := info.ProjectID
	if projectID == "" {
		projectID = c.probeProjectID(info.SessionID)
	}

	conv, err := c.store.Create(info.SessionID)
	if err != nil {
		c.backend.DetachEventQueue(info.SessionID)
		c.backend.EndSession(ctx, info.SessionID)
		return fmt.Errorf("create voice conversation: %w", err)
	}

	mirror := transcript.NewMirror(c.home, projectID, info.SessionID)
	if err := mirror.Init(conv); err != nil {
		c.logger.Warn(ctx, "voice session mirror init failed",
			"session_id", info.SessionID, "error", err)
	}

	c.sessionID = info.SessionID
	c.projectID = projectID
	c.queue = queue
	c.mirror = mirror
	c.approval = NewApproval(info.SessionID, queue, c.logger, 0)
	c.lastActivity = time.Now()
	return nil
}

// Adopt binds the connection to an existing backend session, as after a
// server restart when the conversation is only on disk. The queue starts
// fresh; Resume attaches it to the backend.
func (c *Connection) Adopt(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return fmt.Errorf("connection already bound to session %s", c.sessionID)
	}
	projectID := c.probeProjectID(sessionID)
	c.sessionID = sessionID
	c.projectID = projectID
	c.queue = stream.NewQueue(stream.DefaultQueueSize, c.logger, c.metrics)
	c.mirror = transcript.NewMirror(c.home, projectID, sessionID)
	c.approval = NewApproval(sessionID, c.queue, c.logger, 0)
	c.lastActivity = time.Now()
	return nil
}

// probeProjectID scans the projects tree for a directory holding this
// session, for runtimes that don't report a project id.
func (c *Connection) probeProjectID(sessionID string) string {
	projectsDir := filepath.Join(c.home, config.ProjectsDirName)
	dirs, err := os.ReadDir(projectsDir)
	if err != nil {
		return ""
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		candidate := filepath.Join(projectsDir, dir.Name(), config.SessionsDirName, sessionID)
		if _, err := os.Stat(candidate); err == nil {
			return dir.Name()
		}
	}
	return ""
}

// SessionID returns the bound backend session id, or "".
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Events returns the current event queue.
func (c *Connection) Events() *stream.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

// Approval returns the voice approval policy.
func (c *Connection) Approval() *Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approval
}

// Touch records consumer activity for the idle janitor.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// IdleFor returns how long the connection has been without activity.
func (c *Connection) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// Ended reports whether End has run.
func (c *Connection) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Teardown handles a consumer disconnect: the conversation is marked
// disconnected, the hook wiring is unconditionally released, and a fresh
// queue replaces the old one so the next reconnect starts with a clean bus.
func (c *Connection) Teardown(ctx context.Context, reason string) {
	c.mu.Lock()
	sessionID := c.sessionID
	if sessionID == "" {
		c.mu.Unlock()
		return
	}
	c.queue = stream.NewQueue(stream.DefaultQueueSize, c.logger, c.metrics)
	c.mu.Unlock()

	c.backend.DetachEventQueue(sessionID)
	if err := c.store.RecordDisconnect(sessionID, reason); err != nil {
		c.logger.Warn(ctx, "cannot record disconnect", "session_id", sessionID, "error", err)
	}
}

// Resume rewires the backend session to this connection's current queue and
// bumps the reconnect counter.
func (c *Connection) Resume(ctx context.Context, workspaceRoot string) error {
	c.mu.Lock()
	sessionID := c.sessionID
	queue := c.queue
	c.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("connection has no session")
	}

	if err := c.backend.ResumeSession(ctx, sessionID, workspaceRoot, queue); err != nil {
		return err
	}
	if err := c.store.RecordReconnect(sessionID); err != nil {
		c.logger.Warn(ctx, "cannot record reconnect", "session_id", sessionID, "error", err)
	}
	c.Touch()
	return nil
}

// End closes the backend session and marks the conversation ended. The hook
// wiring is released no matter which step fails.
func (c *Connection) End(ctx context.Context, reason string) {
	c.mu.Lock()
	sessionID := c.sessionID
	alreadyEnded := c.ended
	c.ended = true
	c.mu.Unlock()
	if sessionID == "" || alreadyEnded {
		return
	}

	c.backend.DetachEventQueue(sessionID)
	c.backend.EndSession(ctx, sessionID)
	if _, err := c.store.End(sessionID, reason); err != nil {
		c.logger.Warn(ctx, "cannot mark conversation ended", "session_id", sessionID, "error", err)
	}
	c.logger.Info(ctx, "voice session ended", "session_id", sessionID, "reason", reason)
}

// Cancel forwards a cancel to the backend. No-op before Create.
func (c *Connection) Cancel(ctx context.Context, immediate bool) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return
	}
	level := models.CancelGraceful
	if immediate {
		level = models.CancelImmediate
	}
	c.backend.CancelSession(ctx, sessionID, level)
}

// SyncEntries appends turns to the voice transcript and mirrors user and
// assistant turns into the runtime tree.
func (c *Connection) SyncEntries(ctx context.Context, entries []transcript.Entry) error {
	c.mu.Lock()
	sessionID := c.sessionID
	mirror := c.mirror
	c.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("connection has no session")
	}

	for i := range entries {
		entries[i].ConversationID = sessionID
	}
	if err := c.store.AddEntries(entries); err != nil {
		return err
	}
	if mirror != nil {
		for _, entry := range entries {
			if err := mirror.AppendTurn(entry.Role, entry.Content); err != nil {
				c.logger.Warn(ctx, "mirror append failed", "session_id", sessionID, "error", err)
			}
		}
	}
	c.Touch()
	return nil
}

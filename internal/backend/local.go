package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/stream"
	"github.com/haasonsaas/switchboard/pkg/models"
)

const (
	endDrainTimeout  = 5 * time.Second
	stopDrainTimeout = 10 * time.Second
)

// Config configures a LocalBackend.
type Config struct {
	Runtime agent.Runtime
	// Home is the runtime home directory holding the projects tree.
	Home string
	// DefaultBundle is loaded when CreateSession gets no bundle name.
	DefaultBundle string
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// LocalBackend drives a real runtime. One handle, one FIFO, one worker per
// session; every runtime call for a session goes through its worker.
type LocalBackend struct {
	runtime       agent.Runtime
	home          string
	defaultBundle string
	logger        *observability.Logger
	metrics       *observability.Metrics

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu         sync.Mutex
	handles    map[string]*handle
	tombstones map[string]bool
	prepared   map[string]agent.Prepared

	reconnects *reconnectLocker
}

type handle struct {
	info    models.SessionInfo
	session agent.Session

	fifo         chan *workItem
	done         chan struct{}
	cancelWorker context.CancelFunc

	// wireMu guards the queue wiring state below. Attach (ResumeSession),
	// detach (DetachEventQueue), approval resolution, and final teardown all
	// run on different goroutines once the handle has escaped b.mu.
	wireMu       sync.Mutex
	queue        *stream.Queue
	approvals    *stream.ApprovalSystem
	releaseHooks func()

	releaseTranscript func()
}

type workItem struct {
	message string
	promise *promise
}

type outcome struct {
	text string
	err  error
}

// promise is completed exactly once with a result, an error, or a
// cancellation.
type promise struct {
	once sync.Once
	ch   chan outcome
}

func newPromise() *promise {
	return &promise{ch: make(chan outcome, 1)}
}

func (p *promise) complete(text string, err error) {
	p.once.Do(func() { p.ch <- outcome{text: text, err: err} })
}

// NewLocalBackend creates a backend over the given runtime.
func NewLocalBackend(cfg Config) *LocalBackend {
	ctx, cancel := context.WithCancel(context.Background())
	bundle := cfg.DefaultBundle
	if bundle == "" {
		bundle = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger(io.Discard)
	}
	return &LocalBackend{
		runtime:       cfg.Runtime,
		home:          cfg.Home,
		defaultBundle: bundle,
		logger:        logger,
		metrics:       cfg.Metrics,
		rootCtx:       ctx,
		rootCancel:    cancel,
		handles:       make(map[string]*handle),
		tombstones:    make(map[string]bool),
		prepared:      make(map[string]agent.Prepared),
		reconnects:    newReconnectLocker(),
	}
}

// loadBundle prefers a local overlay directory under <home>/bundles/<name>
// when one exists; otherwise the runtime resolves the name itself. Prepared
// bundles are cached.
func (b *LocalBackend) loadBundle(ctx context.Context, name string) (agent.Prepared, error) {
	if name == "" {
		name = b.defaultBundle
	}
	b.mu.Lock()
	if p, ok := b.prepared[name]; ok {
		b.mu.Unlock()
		return p, nil
	}
	b.mu.Unlock()

	target := name
	overlay := filepath.Join(b.home, "bundles", name)
	if info, err := os.Stat(overlay); err == nil && info.IsDir() {
		target = overlay
	}
	p, err := b.runtime.LoadBundle(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", name, err)
	}

	b.mu.Lock()
	b.prepared[name] = p
	b.mu.Unlock()
	return p, nil
}

// CreateSession creates a runtime session, wires the event queue when one is
// supplied, installs transcript persistence, and spawns the session worker.
// The FIFO and worker exist before the first message arrives.
func (b *LocalBackend) CreateSession(ctx context.Context, opts CreateSessionOptions) (models.SessionInfo, error) {
	prepared, err := b.loadBundle(ctx, opts.Bundle)
	if err != nil {
		return models.SessionInfo{}, err
	}
	session, err := prepared.CreateSession(ctx, agent.CreateOptions{WorkingDir: opts.WorkingDir})
	if err != nil {
		return models.SessionInfo{}, fmt.Errorf("create session: %w", err)
	}

	info := models.SessionInfo{
		SessionID:    session.ID(),
		ProjectID:    config.ProjectID(opts.WorkingDir),
		WorkingDir:   opts.WorkingDir,
		IsActive:     true,
		CreatedByApp: opts.CreatedBy,
		Description:  opts.Description,
	}
	h := &handle{
		info:    info,
		session: session,
		fifo:    make(chan *workItem, 1024),
		done:    make(chan struct{}),
	}
	if opts.Queue != nil {
		b.wireQueue(h, opts.Queue)
	}
	h.releaseTranscript = b.installTranscriptHooks(h)

	b.mu.Lock()
	b.handles[info.SessionID] = h
	b.mu.Unlock()
	b.startWorker(h)

	if b.metrics != nil {
		b.metrics.ActiveSessions.WithLabelValues(opts.CreatedBy).Inc()
	}
	b.logger.Info(ctx, "session created",
		"session_id", info.SessionID, "project_id", info.ProjectID, "app", opts.CreatedBy)
	return info, nil
}

func (b *LocalBackend) startWorker(h *handle) {
	ctx, cancel := context.WithCancel(b.rootCtx)
	h.cancelWorker = cancel
	go b.runWorker(ctx, h)
}

// runWorker drains the session FIFO. A nil item is the shutdown sentinel.
// On cancellation, remaining promises are completed with the cancellation
// error before the worker exits.
func (b *LocalBackend) runWorker(ctx context.Context, h *handle) {
	defer close(h.done)
	for {
		select {
		case item := <-h.fifo:
			if item == nil {
				return
			}
			text, err := h.session.Execute(ctx, item.message)
			item.promise.complete(text, err)
			if b.metrics != nil {
				status := "ok"
				if err != nil {
					status = "error"
				}
				b.metrics.MessagesProcessed.WithLabelValues(status).Inc()
			}
		case <-ctx.Done():
			b.drainCancelled(h)
			return
		}
	}
}

func (b *LocalBackend) drainCancelled(h *handle) {
	for {
		select {
		case item := <-h.fifo:
			if item == nil {
				return
			}
			item.promise.complete("", context.Canceled)
		default:
			return
		}
	}
}

// wireQueue attaches the streaming hook and the display/approval adapters
// for one event queue. The previous wiring, if any, is released first, so
// hook registrations stay balanced however attach and detach interleave.
func (b *LocalBackend) wireQueue(h *handle, queue *stream.Queue) {
	h.wireMu.Lock()
	defer h.wireMu.Unlock()
	if h.releaseHooks != nil {
		h.releaseHooks()
	}
	coord := h.session.Coordinator()
	hook := stream.NewHook(h.info.SessionID, queue, b.logger)
	release := hook.Wire(coord.Hooks())

	approvals := stream.NewApprovalSystem(h.info.SessionID, queue, b.logger)
	coord.SetApproval(approvals)
	coord.SetDisplay(stream.NewDisplaySystem(h.info.SessionID, queue))

	h.queue = queue
	h.approvals = approvals
	h.releaseHooks = release
}

// installTranscriptHooks persists user and assistant turns to the session's
// runtime transcript as they happen, so a crashed process can reconnect from
// disk. Returns the hook release func.
func (b *LocalBackend) installTranscriptHooks(h *handle) func() {
	dir := config.SessionDir(b.home, h.info.ProjectID, h.info.SessionID)
	path := filepath.Join(dir, config.TranscriptFilename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		b.logger.Error(context.Background(), "cannot create session dir", "error", err)
		return func() {}
	}
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	}

	hooks := h.session.Coordinator().Hooks()
	releaseUser := hooks.Register(agent.EventPromptSubmit,
		func(ctx context.Context, _ string, data map[string]any) (agent.HookResult, error) {
			if prompt, ok := data["prompt"].(string); ok {
				b.appendTranscriptTurn(ctx, path, "user", prompt)
			}
			return agent.Continue(data), nil
		})
	releaseAssistant := hooks.Register(agent.EventOrchestratorDone,
		func(ctx context.Context, _ string, data map[string]any) (agent.HookResult, error) {
			if result, ok := data["result"].(string); ok {
				b.appendTranscriptTurn(ctx, path, "assistant", result)
			}
			return agent.Continue(data), nil
		})
	return func() {
		releaseUser()
		releaseAssistant()
	}
}

func (b *LocalBackend) appendTranscriptTurn(ctx context.Context, path, role, text string) {
	line, err := json.Marshal(map[string]any{
		"role":    role,
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	if err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		b.logger.Warn(ctx, "cannot persist transcript turn", "error", err)
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

// SendMessage enqueues message and waits for the runtime call to complete.
// Messages for the same session complete in enqueue order.
func (b *LocalBackend) SendMessage(ctx context.Context, sessionID, message string) (string, error) {
	h, err := b.ensureHandle(ctx, sessionID)
	if err != nil {
		return "", err
	}

	p := newPromise()
	select {
	case h.fifo <- &workItem{message: message, promise: p}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case out := <-p.ch:
		return out.text, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Execute is SendMessage for consumers that watch the event queue instead of
// the return value. Images are accepted but not yet forwarded to the runtime.
func (b *LocalBackend) Execute(ctx context.Context, sessionID, prompt string, images []string) error {
	if len(images) > 0 {
		b.logger.Debug(ctx, "execute images dropped", "session_id", sessionID, "count", len(images))
	}
	_, err := b.SendMessage(ctx, sessionID, prompt)
	return err
}

// ensureHandle returns the live handle for sessionID, reconnecting from the
// on-disk transcript when none exists.
func (b *LocalBackend) ensureHandle(ctx context.Context, sessionID string) (*handle, error) {
	b.mu.Lock()
	if h, ok := b.handles[sessionID]; ok {
		b.mu.Unlock()
		return h, nil
	}
	if b.tombstones[sessionID] {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	b.mu.Unlock()
	return b.reconnect(ctx, sessionID, "")
}

// reconnect rebuilds a handle from the session's persisted transcript. A
// per-id lock serializes concurrent callers; the second caller finds the
// handle the first one built.
func (b *LocalBackend) reconnect(ctx context.Context, sessionID, workingDir string) (*handle, error) {
	b.reconnects.acquire(sessionID)
	defer b.reconnects.release(sessionID)

	b.mu.Lock()
	if h, ok := b.handles[sessionID]; ok {
		b.mu.Unlock()
		return h, nil
	}
	if b.tombstones[sessionID] {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	b.mu.Unlock()

	h, err := b.rebuildHandle(ctx, sessionID, workingDir)
	if err != nil {
		if b.metrics != nil {
			b.metrics.Reconnects.WithLabelValues("failure").Inc()
		}
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.Reconnects.WithLabelValues("success").Inc()
	}
	return h, nil
}

func (b *LocalBackend) rebuildHandle(ctx context.Context, sessionID, workingDir string) (*handle, error) {
	transcriptPath, projectID, err := b.findTranscript(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if workingDir == "" {
		workingDir = config.DecodeProjectID(projectID)
	}

	messages, err := loadTranscript(transcriptPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	report := RepairOrphanToolCalls(messages)
	if report.AddedSynthetic > 0 {
		b.logger.Warn(ctx, "repaired orphaned tool calls during reconnect",
			"session_id", sessionID, "synthetic_results", report.AddedSynthetic)
	}

	prepared, err := b.loadBundle(ctx, b.defaultBundle)
	if err != nil {
		return nil, err
	}
	session, err := prepared.CreateSession(ctx, agent.CreateOptions{
		SessionID:  sessionID,
		WorkingDir: workingDir,
		Resumed:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("recreate session %s: %w", sessionID, err)
	}

	restored := report.Messages
	if store := session.Coordinator().Context(); store != nil {
		// A transcript written by the persistence hooks has no system
		// message; keep the fresh session's system prelude in front.
		if !hasSystemMessage(restored) {
			if fresh, err := store.Messages(ctx); err == nil {
				restored = append(systemMessages(fresh), restored...)
			}
		}
		if err := store.SetMessages(ctx, restored); err != nil {
			return nil, fmt.Errorf("restore context %s: %w", sessionID, err)
		}
	}

	h := &handle{
		info: models.SessionInfo{
			SessionID:  sessionID,
			ProjectID:  projectID,
			WorkingDir: workingDir,
			IsActive:   true,
		},
		session: session,
		fifo:    make(chan *workItem, 1024),
		done:    make(chan struct{}),
	}
	h.releaseTranscript = b.installTranscriptHooks(h)

	b.mu.Lock()
	b.handles[sessionID] = h
	b.mu.Unlock()
	b.startWorker(h)

	b.logger.Info(ctx, "session reconnected from transcript",
		"session_id", sessionID, "project_id", projectID, "messages", len(restored))
	return h, nil
}

// findTranscript locates <home>/projects/*/sessions/<id>/transcript.jsonl.
func (b *LocalBackend) findTranscript(sessionID string) (string, string, error) {
	projectsDir := filepath.Join(b.home, config.ProjectsDirName)
	dirs, err := os.ReadDir(projectsDir)
	if err != nil {
		return "", "", err
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		for _, candidate := range []string{
			filepath.Join(projectsDir, dir.Name(), config.SessionsDirName, sessionID, config.TranscriptFilename),
			filepath.Join(projectsDir, dir.Name(), sessionID, config.TranscriptFilename),
		} {
			if _, err := os.Stat(candidate); err == nil {
				return candidate, dir.Name(), nil
			}
		}
	}
	return "", "", fmt.Errorf("no transcript for session %s", sessionID)
}

// CancelSession forwards the cancel request to the runtime coordinator.
// Idempotent; unknown ids are a no-op.
func (b *LocalBackend) CancelSession(ctx context.Context, sessionID string, level models.CancelLevel) {
	b.mu.Lock()
	h, ok := b.handles[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.logger.Info(ctx, "cancel requested", "session_id", sessionID, "level", string(level))
	h.session.Coordinator().RequestCancel(level)
}

// ResolveApproval wakes the approval waiter for requestID.
func (b *LocalBackend) ResolveApproval(sessionID, requestID, choice string) bool {
	b.mu.Lock()
	h, ok := b.handles[sessionID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	h.wireMu.Lock()
	approvals := h.approvals
	h.wireMu.Unlock()
	if approvals == nil {
		return false
	}
	if err := approvals.Resolve(requestID, choice); err != nil {
		return false
	}
	if b.metrics != nil {
		b.metrics.Approvals.WithLabelValues(choice).Inc()
	}
	return true
}

// ResumeSession guarantees a live handle for sessionID. A non-nil queue
// re-wires event streaming and, for a tombstoned id, expresses operator
// intent to revive the session: the tombstone is cleared. Without a queue a
// tombstoned id stays dead.
func (b *LocalBackend) ResumeSession(ctx context.Context, sessionID, workingDir string, queue *stream.Queue) error {
	b.mu.Lock()
	if h, ok := b.handles[sessionID]; ok {
		b.mu.Unlock()
		if queue != nil {
			b.wireQueue(h, queue)
		}
		return nil
	}
	if b.tombstones[sessionID] {
		if queue == nil {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		delete(b.tombstones, sessionID)
	}
	b.mu.Unlock()

	h, err := b.reconnect(ctx, sessionID, workingDir)
	if err != nil {
		return err
	}
	if queue != nil {
		b.wireQueue(h, queue)
	}
	return nil
}

// DetachEventQueue releases the session's streaming hooks and drops the
// queue reference. The session itself stays alive.
func (b *LocalBackend) DetachEventQueue(sessionID string) {
	b.mu.Lock()
	h, ok := b.handles[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	h.wireMu.Lock()
	defer h.wireMu.Unlock()
	if h.releaseHooks != nil {
		h.releaseHooks()
		h.releaseHooks = nil
	}
	h.queue = nil
	h.approvals = nil
}

// EndSession tombstones the id before any cleanup, removes the handle, and
// drains the worker for up to 5 seconds before cancelling it.
func (b *LocalBackend) EndSession(ctx context.Context, sessionID string) {
	b.mu.Lock()
	b.tombstones[sessionID] = true
	h, ok := b.handles[sessionID]
	if ok {
		delete(b.handles, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.shutdownHandle(ctx, h, endDrainTimeout)
	if b.metrics != nil {
		b.metrics.ActiveSessions.WithLabelValues(h.info.CreatedByApp).Dec()
	}
	b.logger.Info(ctx, "session ended", "session_id", sessionID)
}

func (b *LocalBackend) shutdownHandle(ctx context.Context, h *handle, drain time.Duration) {
	select {
	case h.fifo <- nil:
	default:
		// FIFO full; the worker will be cancelled below.
	}

	timer := time.NewTimer(drain)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		h.cancelWorker()
		<-h.done
	case <-ctx.Done():
		h.cancelWorker()
		<-h.done
	}

	h.wireMu.Lock()
	release := h.releaseHooks
	h.releaseHooks = nil
	h.wireMu.Unlock()
	if release != nil {
		release()
	}
	if h.releaseTranscript != nil {
		h.releaseTranscript()
	}
	if err := h.session.Close(context.Background()); err != nil {
		b.logger.Warn(ctx, "session close failed", "session_id", h.info.SessionID, "error", err)
	}
}

// GetSessionInfo returns the metadata snapshot for one session.
func (b *LocalBackend) GetSessionInfo(sessionID string) (models.SessionInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[sessionID]
	if !ok {
		return models.SessionInfo{}, false
	}
	return h.info, true
}

// ListActiveSessions snapshots every live session.
func (b *LocalBackend) ListActiveSessions() []models.SessionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	infos := make([]models.SessionInfo, 0, len(b.handles))
	for _, h := range b.handles {
		infos = append(infos, h.info)
	}
	return infos
}

// Stop sends every worker its sentinel, waits up to 10 seconds for the
// fleet to drain, cancels stragglers, and clears all session state.
func (b *LocalBackend) Stop(ctx context.Context) {
	b.mu.Lock()
	handles := make([]*handle, 0, len(b.handles))
	for _, h := range b.handles {
		handles = append(handles, h)
	}
	b.handles = make(map[string]*handle)
	b.tombstones = make(map[string]bool)
	b.mu.Unlock()

	for _, h := range handles {
		select {
		case h.fifo <- nil:
		default:
		}
	}

	deadline := time.Now().Add(stopDrainTimeout)
	for _, h := range handles {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		select {
		case <-h.done:
		case <-timer.C:
			h.cancelWorker()
			<-h.done
		case <-ctx.Done():
			h.cancelWorker()
			<-h.done
		}
		timer.Stop()

		h.wireMu.Lock()
		release := h.releaseHooks
		h.releaseHooks = nil
		h.wireMu.Unlock()
		if release != nil {
			release()
		}
		if h.releaseTranscript != nil {
			h.releaseTranscript()
		}
		h.session.Close(context.Background())
	}
	b.rootCancel()
	b.logger.Info(ctx, "backend stopped", "sessions_closed", len(handles))
}

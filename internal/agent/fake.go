package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeRuntime is a scripted Runtime for tests and simulator modes. It creates
// in-memory sessions whose responses come from a Respond func, defaulting to
// an echo.
type FakeRuntime struct {
	// Respond overrides the default echo response.
	Respond func(sessionID, prompt string) (string, error)
	// LoadErr, when set, fails LoadBundle.
	LoadErr error

	mu      sync.Mutex
	loaded  []string
	created []string
}

// LoadBundle records the bundle name and returns a prepared builder.
func (r *FakeRuntime) LoadBundle(_ context.Context, nameOrPath string) (Prepared, error) {
	if r.LoadErr != nil {
		return nil, r.LoadErr
	}
	r.mu.Lock()
	r.loaded = append(r.loaded, nameOrPath)
	r.mu.Unlock()
	return &FakePrepared{runtime: r, Bundle: nameOrPath}, nil
}

// LoadedBundles returns the bundle names passed to LoadBundle, in order.
func (r *FakeRuntime) LoadedBundles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loaded...)
}

func (r *FakeRuntime) recordCreated(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, sessionID)
}

// CreatedSessions returns the ids of every session this runtime created,
// in creation order.
func (r *FakeRuntime) CreatedSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.created...)
}

// FakePrepared builds FakeSessions.
type FakePrepared struct {
	runtime *FakeRuntime
	Bundle  string
	// CreateErr, when set, fails CreateSession.
	CreateErr error
}

func (p *FakePrepared) CreateSession(_ context.Context, opts CreateOptions) (Session, error) {
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	coord := NewCoordinator()
	store := NewMemoryContext()
	store.SetMessages(context.Background(), []map[string]any{
		{"role": "system", "content": "You are a helpful assistant."},
	})
	coord.SetContext(store)
	p.runtime.recordCreated(id)
	return &FakeSession{
		id:         id,
		workingDir: opts.WorkingDir,
		resumed:    opts.Resumed,
		runtime:    p.runtime,
		coord:      coord,
		store:      store,
	}, nil
}

// FakeSession is one scripted conversation. Execute appends the user and
// assistant turns to the context store and emits session and content events
// through the coordinator's hooks, so hook-driven consumers can be tested
// without a real runtime.
type FakeSession struct {
	id         string
	workingDir string
	resumed    bool
	runtime    *FakeRuntime
	coord      *Coordinator
	store      *MemoryContext

	mu     sync.Mutex
	closed bool
}

func (s *FakeSession) ID() string                { return s.id }
func (s *FakeSession) WorkingDir() string        { return s.workingDir }
func (s *FakeSession) Resumed() bool             { return s.resumed }
func (s *FakeSession) Coordinator() *Coordinator { return s.coord }

func (s *FakeSession) Execute(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", fmt.Errorf("session %s is closed", s.id)
	}

	response := "You said: " + prompt
	if s.runtime != nil && s.runtime.Respond != nil {
		var err error
		response, err = s.runtime.Respond(s.id, prompt)
		if err != nil {
			return "", err
		}
	}

	hooks := s.coord.Hooks()
	hooks.Emit(ctx, EventPromptSubmit, map[string]any{"prompt": prompt})
	hooks.Emit(ctx, EventContentBlockStart, map[string]any{"index": 0, "block_type": "text"})
	hooks.Emit(ctx, EventContentBlockDelta, map[string]any{"index": 0, "delta": response})
	hooks.Emit(ctx, EventContentBlockEnd, map[string]any{"index": 0})
	hooks.Emit(ctx, EventOrchestratorDone, map[string]any{"result": response})

	s.store.Append(
		map[string]any{"role": "user", "content": prompt},
		map[string]any{"role": "assistant", "content": response},
	)
	return response, nil
}

func (s *FakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.coord.Hooks().Emit(ctx, EventSessionEnd, map[string]any{"session_id": s.id})
	return nil
}

// MemoryContext is an in-memory ContextStore.
type MemoryContext struct {
	mu       sync.Mutex
	messages []map[string]any
}

func NewMemoryContext() *MemoryContext {
	return &MemoryContext{}
}

func (m *MemoryContext) Messages(context.Context) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.messages...), nil
}

func (m *MemoryContext) SetMessages(_ context.Context, messages []map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]map[string]any(nil), messages...)
	return nil
}

// Append adds messages to the end of the context.
func (m *MemoryContext) Append(messages ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, messages...)
}

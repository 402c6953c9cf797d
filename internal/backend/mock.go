package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/stream"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// MockBackend satisfies the Backend contract without a runtime. Responses
// default to "[Mock response to: <msg>]"; a Respond func overrides. Every
// call is recorded for test assertions.
type MockBackend struct {
	// Respond overrides the default canned response.
	Respond func(sessionID, message string) string

	mu       sync.Mutex
	sessions map[string]models.SessionInfo
	calls    []MockCall
}

// MockCall records one backend invocation.
type MockCall struct {
	Method string
	Args   map[string]any
	Result any
}

// NewMockBackend creates an empty mock.
func NewMockBackend() *MockBackend {
	return &MockBackend{sessions: make(map[string]models.SessionInfo)}
}

func (m *MockBackend) record(method string, args map[string]any, result any) {
	m.calls = append(m.calls, MockCall{Method: method, Args: args, Result: result})
}

// Calls returns a snapshot of the call log.
func (m *MockBackend) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallMethods returns the invoked method names, in order.
func (m *MockBackend) CallMethods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	methods := make([]string, len(m.calls))
	for i, call := range m.calls {
		methods[i] = call.Method
	}
	return methods
}

func (m *MockBackend) CreateSession(_ context.Context, opts CreateSessionOptions) (models.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := models.SessionInfo{
		SessionID:    uuid.NewString(),
		ProjectID:    config.ProjectID(opts.WorkingDir),
		WorkingDir:   opts.WorkingDir,
		IsActive:     true,
		CreatedByApp: opts.CreatedBy,
		Description:  opts.Description,
	}
	m.sessions[info.SessionID] = info
	m.record("create_session", map[string]any{"working_dir": opts.WorkingDir, "description": opts.Description}, info)
	return info, nil
}

func (m *MockBackend) SendMessage(_ context.Context, sessionID, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		m.record("send_message", map[string]any{"session_id": sessionID, "message": message}, err)
		return "", err
	}
	response := fmt.Sprintf("[Mock response to: %s]", message)
	if m.Respond != nil {
		response = m.Respond(sessionID, message)
	}
	m.record("send_message", map[string]any{"session_id": sessionID, "message": message}, response)
	return response, nil
}

func (m *MockBackend) Execute(ctx context.Context, sessionID, prompt string, images []string) error {
	_, err := m.SendMessage(ctx, sessionID, prompt)
	return err
}

func (m *MockBackend) CancelSession(_ context.Context, sessionID string, level models.CancelLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("cancel_session", map[string]any{"session_id": sessionID, "level": string(level)}, nil)
}

func (m *MockBackend) ResolveApproval(sessionID, requestID, choice string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("resolve_approval", map[string]any{"session_id": sessionID, "request_id": requestID, "choice": choice}, true)
	return true
}

func (m *MockBackend) ResumeSession(_ context.Context, sessionID, workingDir string, _ *stream.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		m.sessions[sessionID] = models.SessionInfo{
			SessionID:  sessionID,
			ProjectID:  config.ProjectID(workingDir),
			WorkingDir: workingDir,
			IsActive:   true,
		}
	}
	m.record("resume_session", map[string]any{"session_id": sessionID, "working_dir": workingDir}, nil)
	return nil
}

func (m *MockBackend) EndSession(_ context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.sessions[sessionID]; ok {
		info.IsActive = false
		m.sessions[sessionID] = info
	}
	m.record("end_session", map[string]any{"session_id": sessionID}, nil)
}

func (m *MockBackend) DetachEventQueue(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("detach_event_queue", map[string]any{"session_id": sessionID}, nil)
}

func (m *MockBackend) GetSessionInfo(sessionID string) (models.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[sessionID]
	return info, ok
}

// ListActiveSessions filters on IsActive.
func (m *MockBackend) ListActiveSessions() []models.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]models.SessionInfo, 0, len(m.sessions))
	for _, info := range m.sessions {
		if info.IsActive {
			infos = append(infos, info)
		}
	}
	return infos
}

func (m *MockBackend) Stop(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop", nil, nil)
}

package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/transcript"
)

// DefaultIdleTimeout ends voice sessions nobody has touched for this long.
const DefaultIdleTimeout = 30 * time.Minute

// Manager tracks live voice connections, the paused flag, and the idle
// janitor that ends abandoned sessions.
type Manager struct {
	backend  backend.Backend
	store    *transcript.Store
	realtime *RealtimeClient
	logger   *observability.Logger
	metrics  *observability.Metrics

	home        string
	idleTimeout time.Duration
	cron        *cron.Cron

	mu          sync.Mutex
	connections map[string]*Connection
	paused      bool
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Backend     backend.Backend
	Store       *transcript.Store
	Realtime    *RealtimeClient
	Home        string
	IdleTimeout time.Duration
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewManager creates a manager. Call StartJanitor to begin idle sweeps.
func NewManager(cfg ManagerConfig) *Manager {
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Manager{
		backend:     cfg.Backend,
		store:       cfg.Store,
		realtime:    cfg.Realtime,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		home:        cfg.Home,
		idleTimeout: idle,
		connections: make(map[string]*Connection),
	}
}

// Realtime returns the signaling client.
func (m *Manager) Realtime() *RealtimeClient { return m.realtime }

// Store returns the voice transcript store.
func (m *Manager) Store() *transcript.Store { return m.store }

// CreateConnection creates a new voice session bound to a fresh connection.
func (m *Manager) CreateConnection(ctx context.Context, workspaceRoot string) (*Connection, error) {
	conn := NewConnection(m.backend, m.store, m.home, m.logger, m.metrics)
	if err := conn.Create(ctx, workspaceRoot); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.connections[conn.SessionID()] = conn
	m.mu.Unlock()
	return conn, nil
}

// ResumeConnection rewires an existing connection, or adopts a session that
// only survives on disk, and reattaches it to the backend.
func (m *Manager) ResumeConnection(ctx context.Context, sessionID, workspaceRoot string) (*Connection, error) {
	conn, ok := m.Get(sessionID)
	if !ok {
		if _, err := m.store.Get(sessionID); err != nil {
			return nil, fmt.Errorf("%w: %s", backend.ErrUnknownSession, sessionID)
		}
		conn = NewConnection(m.backend, m.store, m.home, m.logger, m.metrics)
		if err := conn.Adopt(sessionID); err != nil {
			return nil, err
		}
	}
	if err := conn.Resume(ctx, workspaceRoot); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.connections[sessionID] = conn
	m.mu.Unlock()
	return conn, nil
}

// Get returns the connection for a session id.
func (m *Manager) Get(sessionID string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[sessionID]
	return conn, ok
}

// Remove drops a connection from tracking.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.connections, sessionID)
	m.mu.Unlock()
}

// Connections snapshots the live connections.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	return conns
}

// PauseReplies stops the assistant from speaking until ResumeReplies.
func (m *Manager) PauseReplies() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// ResumeReplies re-enables spoken replies.
func (m *Manager) ResumeReplies() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// Paused reports whether replies are paused.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// StartJanitor schedules the idle sweep every minute.
func (m *Manager) StartJanitor() {
	if m.cron != nil {
		return
	}
	m.cron = cron.New()
	m.cron.AddFunc("@every 1m", m.sweepIdle)
	m.cron.Start()
}

// StopJanitor stops the sweep scheduler.
func (m *Manager) StopJanitor() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

// sweepIdle ends connections idle beyond the timeout and prunes ended ones.
func (m *Manager) sweepIdle() {
	ctx := context.Background()
	for _, conn := range m.Connections() {
		if conn.Ended() {
			m.Remove(conn.SessionID())
			continue
		}
		if conn.IdleFor() > m.idleTimeout {
			m.logger.Info(ctx, "ending idle voice session",
				"session_id", conn.SessionID(), "idle", conn.IdleFor().String())
			conn.End(ctx, "idle_timeout")
			m.Remove(conn.SessionID())
		}
	}
}

// Shutdown ends every live connection and stops the janitor.
func (m *Manager) Shutdown(ctx context.Context) {
	m.StopJanitor()
	for _, conn := range m.Connections() {
		conn.End(ctx, "error")
		m.Remove(conn.SessionID())
	}
}

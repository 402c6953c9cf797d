package agent

import (
	"sync"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Coordinator is the runtime's capability surface for one session: typed
// slots for context, display, and approval, plus the hook pipeline and the
// cancel entry point. Display and approval are installed late, after
// session creation, which is why the slots are settable rather than
// constructor arguments.
type Coordinator struct {
	mu       sync.Mutex
	context  ContextStore
	display  DisplaySystem
	approval ApprovalGate
	hooks    *HookRegistry
	cancel   CancelFunc
}

// NewCoordinator creates a coordinator with an empty hook registry.
func NewCoordinator() *Coordinator {
	return &Coordinator{hooks: NewHookRegistry()}
}

// Hooks returns the session's hook registry.
func (c *Coordinator) Hooks() *HookRegistry {
	return c.hooks
}

// Context returns the context store, or nil if the runtime did not install one.
func (c *Coordinator) Context() ContextStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context
}

// SetContext installs the context store.
func (c *Coordinator) SetContext(store ContextStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = store
}

// Display returns the installed display system, or nil.
func (c *Coordinator) Display() DisplaySystem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// SetDisplay installs the display system.
func (c *Coordinator) SetDisplay(d DisplaySystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.display = d
}

// Approval returns the installed approval gate, or nil.
func (c *Coordinator) Approval() ApprovalGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approval
}

// SetApproval installs the approval gate.
func (c *Coordinator) SetApproval(a ApprovalGate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approval = a
}

// SetCancelFunc installs the cancel entry point.
func (c *Coordinator) SetCancelFunc(fn CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = fn
}

// RequestCancel forwards a cancel request to the runtime. No-op when the
// runtime has not installed a cancel func.
func (c *Coordinator) RequestCancel(level models.CancelLevel) {
	c.mu.Lock()
	fn := c.cancel
	c.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}

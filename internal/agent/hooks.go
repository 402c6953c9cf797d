package agent

import (
	"context"
	"sync"
)

// HookHandler processes one canonical event. Handlers must contain their own
// failures: a returned error is logged by the emitter and never breaks the
// pipeline.
type HookHandler func(ctx context.Context, event string, data map[string]any) (HookResult, error)

// HookRegistry is the runtime's per-session hook pipeline. Register returns
// an unregister func; callers are responsible for releasing every
// registration they obtain, on every teardown path.
type HookRegistry struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]hookEntry
	onError  func(event string, err error)
}

type hookEntry struct {
	id      int
	handler HookHandler
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{handlers: make(map[string][]hookEntry)}
}

// SetErrorHandler installs a callback invoked when a handler returns an error.
func (r *HookRegistry) SetErrorHandler(fn func(event string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// Register adds a handler for one event and returns its unregister func.
// Unregister is idempotent.
func (r *HookRegistry) Register(event string, handler HookHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], hookEntry{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.unregister(event, id)
		})
	}
}

func (r *HookRegistry) unregister(event string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[event]
	for i, e := range entries {
		if e.id == id {
			r.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler registered for event, in registration order.
// Handler errors go to the error handler; a HookStop result short-circuits.
func (r *HookRegistry) Emit(ctx context.Context, event string, data map[string]any) {
	r.mu.Lock()
	entries := append([]hookEntry(nil), r.handlers[event]...)
	onError := r.onError
	r.mu.Unlock()

	for _, e := range entries {
		result, err := e.handler(ctx, event, data)
		if err != nil {
			if onError != nil {
				onError(event, err)
			}
			continue
		}
		if result.Action == HookStop {
			return
		}
		if result.Data != nil {
			data = result.Data
		}
	}
}

// HandlerCount returns the number of handlers registered for event.
func (r *HookRegistry) HandlerCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

package backend

import "sync"

// reconnectLocker serializes reconnect attempts per session id so concurrent
// callers finding a missing handle perform exactly one reconnect. Entries are
// removed on release; an empty map means no reconnect is in flight.
type reconnectLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newReconnectLocker() *reconnectLocker {
	return &reconnectLocker{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the per-id lock is held.
func (l *reconnectLocker) acquire(sessionID string) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &lockEntry{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// release unlocks and drops the entry once no caller holds or awaits it.
func (l *reconnectLocker) release(sessionID string) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if ok {
		entry.refs--
		if entry.refs <= 0 {
			delete(l.locks, sessionID)
		}
	}
	l.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}

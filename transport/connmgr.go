package transport

import (
	"math/rand"
	"sync"
)

// ConnectionManager holds the live connections for one host and yields one
// at random per request (§4.1). It is the per-host counterpart to the
// teacher's transport/node.go Node.pool, stripped of the shard/token-ring
// plumbing that isn't part of this spec's scope.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns []Connection
}

// NewConnectionManager returns an empty manager; Random will fail with
// ErrNoConnection until Add is called.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

// Add appends conns to the managed set.
func (m *ConnectionManager) Add(conns []Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = append(m.conns, conns...)
}

// Snapshot returns a cheap copy of the currently managed connections, so
// callers can iterate without holding the manager's lock.
func (m *ConnectionManager) Snapshot() []Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Connection, len(m.conns))
	copy(out, m.conns)
	return out
}

// Random picks uniformly from the current snapshot. An empty manager is a
// recoverable miss: callers treat ErrNoConnection as a signal to advance the
// load-balancing plan to the next host, not as a fatal condition.
func (m *ConnectionManager) Random() (Connection, error) {
	snap := m.Snapshot()
	if len(snap) == 0 {
		return nil, ErrNoConnection
	}
	return snap[rand.Intn(len(snap))], nil
}

// Close closes every managed connection. Errors are swallowed the way the
// teacher's Node.Close does — by the time we're tearing down, the
// connection's own fate no longer matters to the caller.
func (m *ConnectionManager) Close() {
	for _, c := range m.Snapshot() {
		_ = c.Close()
	}
}

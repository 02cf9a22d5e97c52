package transport

import (
	"context"
	"sync"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// keyspaceState is the "pending_keyspace"/"pending_switch" attribute pair
// §4.3 hangs off each connection, kept here instead of widening the
// Connection interface: the switcher owns the coalescing state, the
// connection only owns its settled keyspace.
type keyspaceState struct {
	mu      sync.Mutex
	target  string
	pending *future[struct{}]
}

// KeyspaceSwitcher ensures a connection is USE'd into a target keyspace,
// coalescing concurrent switch requests for the same connection+keyspace
// onto a single USE frame (§4.3, §8 scenario 5).
type KeyspaceSwitcher struct {
	mu     sync.Mutex
	states map[Connection]*keyspaceState
}

// NewKeyspaceSwitcher returns a switcher with no tracked connections yet.
func NewKeyspaceSwitcher() *KeyspaceSwitcher {
	return &KeyspaceSwitcher{states: make(map[Connection]*keyspaceState)}
}

func (k *KeyspaceSwitcher) stateFor(conn Connection) *keyspaceState {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.states[conn]
	if !ok {
		s = &keyspaceState{}
		k.states[conn] = s
	}
	return s
}

// Forget drops any switch bookkeeping for conn; call this once a connection
// is closed so KeyspaceSwitcher doesn't hold it alive in its map forever.
func (k *KeyspaceSwitcher) Forget(conn Connection) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.states, conn)
}

// Switch aligns conn onto keyspace, per the three cases in §4.3: already
// there (no-op), a matching switch already in flight (share it), or a fresh
// USE. onSessionKeyspace is invoked with keyspace once the USE resolves, so
// the caller can update the process-wide session keyspace cell.
func (k *KeyspaceSwitcher) Switch(ctx context.Context, conn Connection, keyspace string, timeout time.Duration, onSessionKeyspace func(string)) error {
	if keyspace == "" || conn.Keyspace() == keyspace {
		return nil
	}

	s := k.stateFor(conn)

	s.mu.Lock()
	if s.target == keyspace && s.pending != nil {
		f := s.pending
		s.mu.Unlock()
		_, err := f.wait(ctx)
		return err
	}

	f := newFuture[struct{}]()
	s.target = keyspace
	s.pending = f
	s.mu.Unlock()

	err := k.doSwitch(ctx, conn, keyspace, timeout, onSessionKeyspace)

	s.mu.Lock()
	s.target = ""
	s.pending = nil
	s.mu.Unlock()

	if err != nil {
		f.fail(err)
		return err
	}
	f.resolve(struct{}{})
	return nil
}

func (k *KeyspaceSwitcher) doSwitch(ctx context.Context, conn Connection, keyspace string, timeout time.Duration, onSessionKeyspace func(string)) error {
	stmt := protocol.Statement{Content: "USE " + quoteIdentifier(keyspace)}
	resp, err := conn.SendRequest(ctx, protocol.QueryRequest{Statement: stmt}, timeout)
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case protocol.SetKeyspaceResultResponse:
		conn.SetKeyspace(r.Keyspace)
		if onSessionKeyspace != nil {
			onSessionKeyspace(r.Keyspace)
		}
		return nil
	default:
		return protocol.NewQueryError(stmt.Content, resp)
	}
}

// quoteIdentifier wraps a keyspace name in double quotes if it needs them;
// kept deliberately simple since CQL identifier parsing is out of scope.
func quoteIdentifier(name string) string {
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return `"` + name + `"`
	}
	return name
}

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// StaticRegistry is a Registry backed by a fixed host list, with methods to
// simulate the topology events a real discovery subsystem would emit. It
// backs both cmd/bench and the transport package's own tests, standing in
// for the out-of-scope discovery/gossip layer (§1).
type StaticRegistry struct {
	mu        sync.Mutex
	hosts     []Host
	listeners []Listener
}

func NewStaticRegistry(hosts ...Host) *StaticRegistry {
	return &StaticRegistry{hosts: hosts}
}

func (r *StaticRegistry) Hosts() []Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Host, len(r.hosts))
	copy(out, r.hosts)
	return out
}

func (r *StaticRegistry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *StaticRegistry) RemoveListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.listeners {
		if x == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *StaticRegistry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

// FireHostFound simulates discovery of a new host, adding it to Hosts too.
func (r *StaticRegistry) FireHostFound(h Host) {
	r.mu.Lock()
	r.hosts = append(r.hosts, h)
	r.mu.Unlock()
	for _, l := range r.snapshot() {
		l.HostFound(h)
	}
}

// FireHostLost simulates permanent decommission of h, removing it from Hosts.
func (r *StaticRegistry) FireHostLost(h Host) {
	r.mu.Lock()
	for i, x := range r.hosts {
		if x == h {
			r.hosts = append(r.hosts[:i], r.hosts[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	for _, l := range r.snapshot() {
		l.HostLost(h)
	}
}

func (r *StaticRegistry) FireHostUp(h Host) {
	for _, l := range r.snapshot() {
		l.HostUp(h)
	}
}

func (r *StaticRegistry) FireHostDown(h Host) {
	for _, l := range r.snapshot() {
		l.HostDown(h)
	}
}

// LoopbackConnector hands out in-process fakeConnections instead of dialing
// real sockets — useful for benchmarking and exercising the dispatcher
// without a live cluster or a wire codec.
type LoopbackConnector struct {
	mu    sync.Mutex
	store map[string]*fakeKeyspace
}

func NewLoopbackConnector() *LoopbackConnector {
	return &LoopbackConnector{store: make(map[string]*fakeKeyspace)}
}

func (c *LoopbackConnector) Connect(_ context.Context, host Host, _ Distance) ([]Connection, error) {
	return []Connection{newFakeConnection(c)}, nil
}

func (c *LoopbackConnector) keyspace(name string) *fakeKeyspace {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.store[name]
	if !ok {
		ks = &fakeKeyspace{rows: make(map[int64][2]int64)}
		c.store[name] = ks
	}
	return ks
}

type fakeKeyspace struct {
	mu   sync.Mutex
	rows map[int64][2]int64
}

// fakeConnection is a minimal in-memory single-table ("pk, v1, v2") CQL
// server used in place of a real Connection. It understands just enough of
// three statement shapes (USE, INSERT-like, SELECT-like) to drive realistic
// load through the dispatcher; anything else is echoed back as a void
// success, since statement parsing is out of scope for this core.
type fakeConnection struct {
	connector *LoopbackConnector

	mu       sync.Mutex
	keyspace string
	prepared map[string]string // ID (stringified) -> CQL
}

func newFakeConnection(c *LoopbackConnector) *fakeConnection {
	return &fakeConnection{connector: c, prepared: make(map[string]string)}
}

func (f *fakeConnection) SendRequest(ctx context.Context, req protocol.Request, _ time.Duration) (protocol.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	switch r := req.(type) {
	case protocol.QueryRequest:
		if ks, ok := parseUse(r.Statement.Content); ok {
			f.SetKeyspace(ks)
			return protocol.SetKeyspaceResultResponse{Keyspace: ks}, nil
		}
		return f.execute(r.Statement)
	case protocol.PrepareRequest:
		id := fmt.Sprintf("%x", len(f.prepared)+1)
		f.mu.Lock()
		f.prepared[id] = r.CQL
		f.mu.Unlock()
		return protocol.PreparedResultResponse{ID: []byte(id)}, nil
	case protocol.ExecuteRequest:
		f.mu.Lock()
		cql, ok := f.prepared[string(r.ID)]
		f.mu.Unlock()
		if !ok {
			return protocol.ErrorResponse{Code: protocol.ErrUnprepared, Message: "no prepared statement with that ID"}, nil
		}
		stmt := r.Statement
		stmt.Content = cql
		return f.execute(stmt)
	case protocol.BatchRequest:
		for _, e := range r.Entries {
			cql := e.CQL
			if cql == "" {
				f.mu.Lock()
				cql = f.prepared[string(e.ID)]
				f.mu.Unlock()
			}
			if _, err := f.execute(protocol.Statement{Content: cql, Values: e.Values}); err != nil {
				return nil, err
			}
		}
		return protocol.VoidResultResponse{}, nil
	default:
		return protocol.VoidResultResponse{}, nil
	}
}

func (f *fakeConnection) execute(stmt protocol.Statement) (protocol.Response, error) {
	ks := f.Keyspace()
	if ks == "" {
		ks = "default"
	}
	table := f.connector.keyspace(ks)

	switch {
	case strings.Contains(strings.ToUpper(stmt.Content), "INSERT"):
		if len(stmt.Values) < 3 {
			return protocol.VoidResultResponse{}, nil
		}
		pk := decodeInt64(stmt.Values[0])
		v1 := decodeInt64(stmt.Values[1])
		v2 := decodeInt64(stmt.Values[2])
		table.mu.Lock()
		table.rows[pk] = [2]int64{v1, v2}
		table.mu.Unlock()
		return protocol.VoidResultResponse{}, nil

	case strings.Contains(strings.ToUpper(stmt.Content), "SELECT"):
		if len(stmt.Values) < 1 {
			return protocol.RowsResultResponse{}, nil
		}
		pk := decodeInt64(stmt.Values[0])
		table.mu.Lock()
		row, ok := table.rows[pk]
		table.mu.Unlock()
		if !ok {
			return protocol.RowsResultResponse{}, nil
		}
		return protocol.RowsResultResponse{
			Rows: [][][]byte{{encodeInt64(row[0]), encodeInt64(row[1])}},
		}, nil

	default:
		return protocol.VoidResultResponse{}, nil
	}
}

func (f *fakeConnection) Keyspace() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keyspace
}

func (f *fakeConnection) SetKeyspace(keyspace string) {
	f.mu.Lock()
	f.keyspace = keyspace
	f.mu.Unlock()
}

func (f *fakeConnection) Close() error { return nil }

func parseUse(content string) (string, bool) {
	const prefix = "USE "
	if !strings.HasPrefix(content, prefix) {
		return "", false
	}
	return strings.Trim(content[len(prefix):], `"`), true
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

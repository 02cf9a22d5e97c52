package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// countingConn wraps a Connection and counts how many PrepareRequests were
// actually sent through it, so dedup tests can assert no prepare storm.
type countingConn struct {
	Connection
	prepares int32
}

func (c *countingConn) SendRequest(ctx context.Context, req protocol.Request, timeout time.Duration) (protocol.Response, error) {
	if _, ok := req.(protocol.PrepareRequest); ok {
		atomic.AddInt32(&c.prepares, 1)
	}
	return c.Connection.SendRequest(ctx, req, timeout)
}

func TestPreparedStatementRegistryDedupesConcurrentPrepare(t *testing.T) {
	conn := &countingConn{Connection: newFakeConnection(NewLoopbackConnector())}
	reg := newPreparedStatementRegistry()

	const n = 50
	var wg sync.WaitGroup
	ids := make([][]byte, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := reg.Prepare(context.Background(), conn, "SELECT * FROM t", time.Second)
			if err != nil {
				t.Errorf("Prepare: %v", err)
			}
			ids[i] = id
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&conn.prepares); got != 1 {
		t.Errorf("sent %d PREPARE frames, want exactly 1", got)
	}
	for i, id := range ids {
		if string(id) != string(ids[0]) {
			t.Errorf("caller %d got a different ID than caller 0", i)
		}
	}
}

func TestPreparedStatementRegistryLookupAndForget(t *testing.T) {
	reg := newPreparedStatementRegistry()
	reg.Store("SELECT 1", []byte("abc"), nil)

	if id, _, ok := reg.Lookup("SELECT 1"); !ok || string(id) != "abc" {
		t.Fatalf("Lookup = %q, %v, want \"abc\", true", id, ok)
	}

	reg.Forget("SELECT 1")
	if _, _, ok := reg.Lookup("SELECT 1"); ok {
		t.Fatalf("Lookup after Forget: found an entry, want none")
	}
}

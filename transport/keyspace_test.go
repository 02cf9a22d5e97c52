package transport

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

func TestKeyspaceSwitcherNoOpWhenAlreadyThere(t *testing.T) {
	conn := newFakeConnection(NewLoopbackConnector())
	conn.SetKeyspace("ks1")
	var useCount int32
	counted := &useCountingConn{fakeConnection: conn, uses: &useCount}

	k := NewKeyspaceSwitcher()
	if err := k.Switch(context.Background(), counted, "ks1", time.Second, nil); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if atomic.LoadInt32(&useCount) != 0 {
		t.Fatalf("Switch sent a request for an already-correct keyspace")
	}
}

func TestKeyspaceSwitcherCoalescesConcurrentSwitches(t *testing.T) {
	conn := newFakeConnection(NewLoopbackConnector())
	var useCount int32
	wrapped := &useCountingConn{fakeConnection: conn, uses: &useCount}

	k := NewKeyspaceSwitcher()
	const n = 20
	var wg sync.WaitGroup
	var sessionKeyspace string
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := k.Switch(context.Background(), wrapped, "ks2", time.Second, func(ks string) {
				mu.Lock()
				sessionKeyspace = ks
				mu.Unlock()
			})
			if err != nil {
				t.Errorf("Switch: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&useCount) != 1 {
		t.Errorf("sent %d USE frames, want exactly 1", useCount)
	}
	if conn.Keyspace() != "ks2" {
		t.Errorf("connection keyspace = %q, want ks2", conn.Keyspace())
	}
	mu.Lock()
	defer mu.Unlock()
	if sessionKeyspace != "ks2" {
		t.Errorf("session keyspace callback = %q, want ks2", sessionKeyspace)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	cases := map[string]string{
		"lowercase_1": "lowercase_1",
		"MixedCase":   `"MixedCase"`,
		"":            "",
	}
	for in, want := range cases {
		if got := quoteIdentifier(in); got != want {
			t.Errorf("quoteIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

// useCountingConn counts USE statements specifically, since fakeConnection
// handles them inline rather than as a PrepareRequest.
type useCountingConn struct {
	*fakeConnection
	uses *int32
}

func (c *useCountingConn) SendRequest(ctx context.Context, req protocol.Request, timeout time.Duration) (protocol.Response, error) {
	if q, ok := req.(protocol.QueryRequest); ok && strings.HasPrefix(q.Statement.Content, "USE ") {
		atomic.AddInt32(c.uses, 1)
	}
	return c.fakeConnection.SendRequest(ctx, req, timeout)
}

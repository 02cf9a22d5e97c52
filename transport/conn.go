package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// Connection is the per-host-connection handle the dispatcher drives. It is
// the "assumed to expose send_request(frame, timeout) -> future<response>
// and connection-level keyspace tracking" contract from §1 of the spec: the
// wire codec and I/O reactor behind it are out of scope for this core.
type Connection interface {
	// SendRequest sends req and blocks until a response arrives, the
	// connection errors, or timeout elapses. A transport fault is always
	// returned as *ConnectionError so the dispatcher can tell it apart from
	// a semantic server error.
	SendRequest(ctx context.Context, req protocol.Request, timeout time.Duration) (protocol.Response, error)

	// Keyspace reports the keyspace this connection is currently USE'd into,
	// or "" if none.
	Keyspace() string

	// SetKeyspace records that a USE succeeded; called by the Keyspace
	// Switcher, never by the connection itself.
	SetKeyspace(keyspace string)

	Close() error
}

// Codec turns a semantic Request into wire bytes and wire bytes back into a
// semantic Response. It stands in for the native-protocol frame codec, which
// the spec places out of scope; netConn only needs something satisfying this
// contract to move bytes.
type Codec interface {
	Encode(streamID int16, req protocol.Request) ([]byte, error)
	Decode(r *bufio.Reader) (streamID int16, resp protocol.Response, err error)
}

const defaultMaxStreams = 128

// streamPool hands out the small integer stream IDs used to multiplex
// concurrent requests over one connection, recycling them on release.
type streamPool chan int16

func newStreamPool(n int) streamPool {
	p := make(streamPool, n)
	for i := 0; i < n; i++ {
		p <- int16(i)
	}
	return p
}

func (p streamPool) alloc(ctx context.Context) (int16, error) {
	select {
	case id := <-p:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p streamPool) free(id int16) { p <- id }

type pendingResult struct {
	resp protocol.Response
	err  error
}

// netConn adapts the teacher's transport/conn.go writer-goroutine/
// reader-goroutine/stream-ID-table pattern: a dedicated reader loop
// demultiplexes responses onto per-stream channels so that SendRequest
// callers can block independently of each other and of the reader.
type netConn struct {
	conn  net.Conn
	codec Codec

	streams streamPool

	mu       sync.Mutex
	keyspace string
	pending  map[int16]chan pendingResult
	closed   bool
	closeErr error
}

// DialConn opens a TCP connection to addr and starts its reader loop. codec
// supplies the wire encode/decode the spec leaves external.
func DialConn(ctx context.Context, addr string, codec Codec) (Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return WrapConn(conn, codec), nil
}

// WrapConn adapts an already-established net.Conn (e.g. one that negotiated
// TLS and STARTUP/AUTHENTICATE out of band) into a Connection.
func WrapConn(conn net.Conn, codec Codec) Connection {
	c := &netConn{
		conn:    conn,
		codec:   codec,
		streams: newStreamPool(defaultMaxStreams),
		pending: make(map[int16]chan pendingResult, defaultMaxStreams),
	}
	go c.readLoop()
	return c
}

func (c *netConn) readLoop() {
	r := bufio.NewReaderSize(c.conn, 8192)
	for {
		streamID, resp, err := c.codec.Decode(r)
		if err != nil {
			c.abort(err)
			return
		}
		c.deliver(streamID, pendingResult{resp: resp})
	}
}

func (c *netConn) deliver(streamID int16, res pendingResult) {
	c.mu.Lock()
	ch, ok := c.pending[streamID]
	c.mu.Unlock()
	if ok {
		ch <- res
	}
}

// abort fails every in-flight request once the connection has irrecoverably
// errored (read failure, EOF).
func (c *netConn) abort(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
	c.conn.Close()
}

func (c *netConn) SendRequest(ctx context.Context, req protocol.Request, timeout time.Duration) (protocol.Response, error) {
	id, err := c.streams.alloc(ctx)
	if err != nil {
		return nil, err
	}
	defer c.streams.free(id)

	ch := make(chan pendingResult, 1)
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, &ConnectionError{Err: err}
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	b, err := c.codec.Encode(id, req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}

	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := c.conn.Write(b); err != nil {
		werr := &ConnectionError{Err: fmt.Errorf("write: %w", err)}
		c.abort(werr)
		return nil, werr
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &ConnectionError{Err: res.err}
		}
		return res.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, &ConnectionError{Err: fmt.Errorf("request timed out after %s", timeout)}
	}
}

func (c *netConn) Keyspace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyspace
}

func (c *netConn) SetKeyspace(keyspace string) {
	c.mu.Lock()
	c.keyspace = keyspace
	c.mu.Unlock()
}

func (c *netConn) Close() error {
	c.abort(fmt.Errorf("transport: connection closed"))
	return nil
}

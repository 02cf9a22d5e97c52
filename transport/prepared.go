package transport

import (
	"context"
	"sync"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// preparedEntry is what the registry caches per CQL text: the opaque
// per-host ID plus the result metadata the PREPARE response carried for it,
// so a later Execute can materialize rows without a round trip back through
// classify (§4.6).
type preparedEntry struct {
	id       []byte
	metadata *protocol.ResultMetadata
}

// PreparedStatementRegistry caches prepared-statement IDs for one host and
// de-duplicates concurrent PREPARE attempts for the same CQL text (§4.2).
//
// The spec models "prepared[host]" and "preparing[host]" as two sibling
// maps with an invariant that a key is never in both at once. Here they are
// collapsed into one registry instance per host so that invariant is
// structural: prepare() only ever looks a cql text up in one place at a
// time, under one lock.
type PreparedStatementRegistry struct {
	mu        sync.Mutex
	prepared  map[string]preparedEntry
	preparing map[string]*future[preparedEntry]
}

func newPreparedStatementRegistry() *PreparedStatementRegistry {
	return &PreparedStatementRegistry{
		prepared:  make(map[string]preparedEntry),
		preparing: make(map[string]*future[preparedEntry]),
	}
}

// Lookup returns a previously cached prepared ID and result metadata for
// cql, if any.
func (r *PreparedStatementRegistry) Lookup(cql string) ([]byte, *protocol.ResultMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.prepared[cql]
	return e.id, e.metadata, ok
}

// Store records a prepared ID and its result metadata learned outside
// Prepare below. The dispatcher itself fills the cache only through Prepare;
// its response classification does not call Store.
func (r *PreparedStatementRegistry) Store(cql string, id []byte, metadata *protocol.ResultMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prepared[cql] = preparedEntry{id: id, metadata: metadata}
	delete(r.preparing, cql)
}

// Forget evicts a cached prepared ID, e.g. after the host reports it with an
// Unprepared error because it restarted and lost its own statement cache.
func (r *PreparedStatementRegistry) Forget(cql string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prepared, cql)
}

// Prepare resolves cql to a prepared ID and its result metadata on conn. If
// a prepare for this exact cql is already in flight on this host, every
// concurrent caller observes the same future instead of issuing its own
// PREPARE frame — this is the "prepare storm" guarantee in §8: a burst of
// identical executes never triggers N parallel PREPAREs on one host.
func (r *PreparedStatementRegistry) Prepare(ctx context.Context, conn Connection, cql string, timeout time.Duration) ([]byte, *protocol.ResultMetadata, error) {
	r.mu.Lock()
	if e, ok := r.prepared[cql]; ok {
		r.mu.Unlock()
		return e.id, e.metadata, nil
	}
	if f, ok := r.preparing[cql]; ok {
		r.mu.Unlock()
		e, err := f.wait(ctx)
		return e.id, e.metadata, err
	}

	f := newFuture[preparedEntry]()
	r.preparing[cql] = f
	r.mu.Unlock()

	e, err := r.doPrepare(ctx, conn, cql, timeout)
	if err != nil {
		r.mu.Lock()
		delete(r.preparing, cql)
		r.mu.Unlock()
		f.fail(err)
		return nil, nil, err
	}

	r.mu.Lock()
	r.prepared[cql] = e
	delete(r.preparing, cql)
	r.mu.Unlock()
	f.resolve(e)
	return e.id, e.metadata, nil
}

func (r *PreparedStatementRegistry) doPrepare(ctx context.Context, conn Connection, cql string, timeout time.Duration) (preparedEntry, error) {
	resp, err := conn.SendRequest(ctx, protocol.PrepareRequest{CQL: cql}, timeout)
	if err != nil {
		return preparedEntry{}, err
	}
	p, ok := resp.(protocol.PreparedResultResponse)
	if !ok {
		return preparedEntry{}, protocol.NewQueryError(cql, resp)
	}
	return preparedEntry{id: p.ID, metadata: p.Metadata}, nil
}

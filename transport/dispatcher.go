package transport

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// ExecutionInfo reports everything about how a request was resolved: the
// keyspace and statement/options it ran with, every host the dispatch loop
// tried in order, and the consistency/retry count the final attempt used
// (§4.6).
type ExecutionInfo struct {
	Keyspace         string
	Statement        protocol.Statement
	Options          protocol.Options
	HostsTried       []Host
	FinalConsistency protocol.Consistency
	Retries          int
	TraceID          *gocql.UUID
}

// Result is a successful query outcome.
type Result struct {
	Rows        [][][]byte
	Metadata    *protocol.ResultMetadata
	PagingState []byte
	TraceID     *gocql.UUID
	Info        ExecutionInfo
}

// Prepared is the handle Prepare returns. Execute re-resolves CQL to a
// per-host ID lazily, since a prepared statement's ID is cached per host
// (§4.2), not cluster-wide.
type Prepared struct {
	CQL      string
	Metadata *protocol.ResultMetadata
}

const maxUnpreparedRetries = 1

// Query executes a non-prepared CQL statement against the cluster, walking
// the load-balancing plan until one host succeeds, the plan is exhausted, or
// the retry policy reraises (§4.6).
func (c *Cluster) Query(ctx context.Context, stmt protocol.Statement, opts protocol.Options) (Result, error) {
	stmt = c.applyOptions(stmt, opts)
	return c.dispatch(ctx, stmt, opts, func(ctx context.Context, conn Connection, stmt protocol.Statement, timeout time.Duration) (protocol.Response, error) {
		return conn.SendRequest(ctx, protocol.QueryRequest{Statement: stmt}, timeout)
	})
}

// Prepare parses cql on one host chosen by the current load-balancing plan
// and returns a handle Execute can later resolve against any host.
func (c *Cluster) Prepare(ctx context.Context, cql string, opts protocol.Options) (Prepared, error) {
	stmt := c.applyOptions(protocol.Statement{Content: cql}, opts)
	plan := c.cfg.LoadBalancing.Plan(stmt.Keyspace, stmt, opts)
	tried := map[Host]error{}

	for {
		host, ok := plan.Next()
		if !ok {
			return Prepared{}, &NoHostsAvailableError{Errors: tried}
		}
		conn, err := c.pickConnection(host)
		if err != nil {
			tried[host] = err
			continue
		}
		if err := c.alignKeyspace(ctx, conn, stmt.Keyspace); err != nil {
			tried[host] = err
			continue
		}
		reg, err := c.registryFor(host)
		if err != nil {
			tried[host] = err
			continue
		}
		_, metadata, err := reg.Prepare(ctx, conn, cql, c.timeout(opts))
		if err != nil {
			tried[host] = err
			continue
		}
		return Prepared{CQL: cql, Metadata: metadata}, nil
	}
}

// Execute runs a previously Prepared statement with values bound in order.
func (c *Cluster) Execute(ctx context.Context, ps Prepared, values [][]byte, opts protocol.Options) (Result, error) {
	stmt := c.applyOptions(protocol.Statement{Content: ps.CQL, Values: values}, opts)
	return c.dispatch(ctx, stmt, opts, func(ctx context.Context, conn Connection, stmt protocol.Statement, timeout time.Duration) (protocol.Response, error) {
		return c.sendExecute(ctx, conn, stmt, timeout)
	})
}

// Batch runs a mix of simple and prepared statements atomically (or not, per
// Kind), preparing any entry that hasn't been prepared on the chosen host yet
// before sending the batch (§4.6 batch fan-out prepare).
func (c *Cluster) Batch(ctx context.Context, batch protocol.BatchStatement, opts protocol.Options) (Result, error) {
	stmt := protocol.Statement{
		Consistency: batch.Consistency,
		Keyspace:    opts.Keyspace,
		Idempotent:  batch.Idempotent,
	}
	stmt = c.applyOptions(stmt, opts)

	plan := c.cfg.LoadBalancing.Plan(stmt.Keyspace, stmt, opts)
	tried := map[Host]error{}
	hostsTried := []Host{}
	retries := 0

	for {
		host, ok := plan.Next()
		if !ok {
			return Result{}, &NoHostsAvailableError{Errors: tried}
		}
		hostsTried = append(hostsTried, host)
		conn, err := c.pickConnection(host)
		if err != nil {
			tried[host] = err
			continue
		}
		if err := c.alignKeyspace(ctx, conn, stmt.Keyspace); err != nil {
			return Result{}, err
		}

		entries, err := c.resolveBatchEntries(ctx, host, conn, batch)
		if errors.Is(err, ErrNoConnection) {
			tried[host] = err
			continue
		}
		if err != nil {
			return Result{}, err
		}

		result, qerr, advance := c.dispatchBatchToHost(ctx, host, conn, &stmt, &batch, entries, opts, plan, &retries)
		if advance {
			tried[host] = qerr
			continue
		}
		if qerr != nil {
			return Result{}, qerr
		}
		result.Info = ExecutionInfo{
			Keyspace:         stmt.Keyspace,
			Statement:        stmt,
			Options:          opts,
			HostsTried:       hostsTried,
			FinalConsistency: stmt.Consistency,
			Retries:          retries,
			TraceID:          result.TraceID,
		}
		return result, nil
	}
}

// dispatchBatchToHost mirrors dispatchToHost for the batch path: it replays
// the same BatchRequest against host for as long as the retry policy says
// DecisionRetry, and tells the caller whether to advance the plan.
func (c *Cluster) dispatchBatchToHost(ctx context.Context, host Host, conn Connection, stmt *protocol.Statement, batch *protocol.BatchStatement, entries []protocol.BatchEntry, opts protocol.Options, plan Plan, retries *int) (result Result, err error, advance bool) {
	for {
		resp, sendErr := conn.SendRequest(ctx, protocol.BatchRequest{
			Kind:        batch.Kind,
			Entries:     entries,
			Consistency: stmt.Consistency,
		}, c.timeout(opts))
		if sendErr != nil {
			c.reportPlan(plan, host, sendErr)
			return Result{}, sendErr, true
		}

		result, retry, qerr := c.classify(host, *stmt, resp, *retries)
		if qerr != nil {
			return Result{}, qerr, false
		}
		if retry != nil {
			stmt.Consistency = retry.Consistency
			batch.Consistency = retry.Consistency
			*retries++
			stmt.Retries = *retries
			continue
		}
		return result, nil, false
	}
}

func (c *Cluster) resolveBatchEntries(ctx context.Context, host Host, conn Connection, batch protocol.BatchStatement) ([]protocol.BatchEntry, error) {
	reg, err := c.registryFor(host)
	if err != nil {
		return nil, err
	}
	ids := make(map[string][]byte)
	for _, cql := range batch.Unprepared() {
		id, _, err := reg.Prepare(ctx, conn, cql, c.cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
		ids[cql] = id
	}

	out := make([]protocol.BatchEntry, len(batch.Entries))
	for i, e := range batch.Entries {
		if e.ID == nil && e.CQL != "" {
			e.ID = ids[e.CQL]
			e.CQL = ""
		}
		out[i] = e
	}
	return out, nil
}

type sender func(ctx context.Context, conn Connection, stmt protocol.Statement, timeout time.Duration) (protocol.Response, error)

// dispatch is the shared plan-walking loop Query and Execute build on: try
// each host the plan offers in turn; a retry Decision is replayed against
// the SAME host/connection (the retry policy's own MaxRetries bound is what
// eventually ends that inner loop), a send error or a host with no live
// connection (ErrNoConnection) moves on to the next host in the plan, and a
// keyspace-switch error ends the request (§4.6).
func (c *Cluster) dispatch(ctx context.Context, stmt protocol.Statement, opts protocol.Options, send sender) (Result, error) {
	plan := c.cfg.LoadBalancing.Plan(stmt.Keyspace, stmt, opts)
	tried := map[Host]error{}
	hostsTried := []Host{}
	retries := 0
	timeout := c.timeout(opts)

	for {
		host, ok := plan.Next()
		if !ok {
			return Result{}, &NoHostsAvailableError{Errors: tried}
		}
		hostsTried = append(hostsTried, host)

		conn, err := c.pickConnection(host)
		if err != nil {
			tried[host] = err
			continue
		}
		if err := c.alignKeyspace(ctx, conn, stmt.Keyspace); err != nil {
			return Result{}, err
		}

		result, qerr, advance := c.dispatchToHost(ctx, host, conn, &stmt, send, timeout, plan, &retries)
		if advance {
			tried[host] = qerr
			continue
		}
		if qerr != nil {
			return Result{}, qerr
		}
		result.Info = ExecutionInfo{
			Keyspace:         stmt.Keyspace,
			Statement:        stmt,
			Options:          opts,
			HostsTried:       hostsTried,
			FinalConsistency: stmt.Consistency,
			Retries:          retries,
			TraceID:          result.TraceID,
		}
		return result, nil
	}
}

// dispatchToHost sends stmt to conn, replaying it in place for as long as
// the retry policy keeps returning DecisionRetry. advance tells the caller
// whether to move the plan on to the next host (true) or stop here, either
// with a successful result or a terminal error.
func (c *Cluster) dispatchToHost(ctx context.Context, host Host, conn Connection, stmt *protocol.Statement, send sender, timeout time.Duration, plan Plan, retries *int) (result Result, err error, advance bool) {
	for {
		resp, sendErr := send(ctx, conn, *stmt, timeout)
		if sendErr != nil {
			c.reportPlan(plan, host, sendErr)
			return Result{}, sendErr, true
		}

		result, retry, qerr := c.classify(host, *stmt, resp, *retries)
		if qerr != nil {
			c.reportPlan(plan, host, qerr)
			return Result{}, qerr, false
		}
		if retry != nil {
			stmt.Consistency = retry.Consistency
			*retries++
			stmt.Retries = *retries
			continue
		}
		c.reportPlan(plan, host, nil)
		return result, nil, false
	}
}

// sendExecute resolves stmt.Content to host's prepared ID, re-preparing
// transparently on an Unprepared response from the server (§4.2, §4.6).
func (c *Cluster) sendExecute(ctx context.Context, conn Connection, stmt protocol.Statement, timeout time.Duration) (protocol.Response, error) {
	reg := c.registryForConn(conn)
	id, _, ok := reg.Lookup(stmt.Content)
	if !ok {
		var err error
		id, _, err = reg.Prepare(ctx, conn, stmt.Content, timeout)
		if err != nil {
			return nil, err
		}
	}

	resp, err := conn.SendRequest(ctx, protocol.ExecuteRequest{ID: id, Statement: stmt}, timeout)
	if err != nil {
		return nil, err
	}

	if er, ok := resp.(protocol.ErrorResponse); ok && er.Code == protocol.ErrUnprepared {
		reg.Forget(stmt.Content)
		for attempt := 0; attempt < maxUnpreparedRetries; attempt++ {
			id, _, err = reg.Prepare(ctx, conn, stmt.Content, timeout)
			if err != nil {
				return nil, err
			}
			resp, err = conn.SendRequest(ctx, protocol.ExecuteRequest{ID: id, Statement: stmt}, timeout)
			if err != nil {
				return nil, err
			}
			if er, ok := resp.(protocol.ErrorResponse); !ok || er.Code != protocol.ErrUnprepared {
				break
			}
		}
	}
	return resp, nil
}

// classify turns a response into exactly one of: a successful Result
// (retry == nil, err == nil), a retry Decision the dispatch loop should act
// on (retry != nil), or a terminal *protocol.QueryError (err != nil). host
// identifies which prepared-statement cache to consult when a raw-rows
// response carries no metadata of its own (§4.6).
func (c *Cluster) classify(host Host, stmt protocol.Statement, resp protocol.Response, retries int) (result Result, retry *Decision, err error) {
	switch r := resp.(type) {
	case protocol.RowsResultResponse:
		return Result{Rows: r.Rows, Metadata: r.Metadata, PagingState: r.PagingState, TraceID: r.TraceID}, nil, nil
	case protocol.RawRowsResultResponse:
		metadata := c.lookupMetadata(host, stmt.Content)
		return Result{Rows: r.Rows, Metadata: metadata, PagingState: r.PagingState, TraceID: r.TraceID}, nil, nil
	case protocol.VoidResultResponse:
		return Result{}, nil, nil
	case protocol.SetKeyspaceResultResponse:
		return Result{}, nil, nil
	case protocol.DetailedErrorResponse:
		decision := c.consultRetryPolicy(stmt, r, retries)
		switch decision.Kind {
		case DecisionIgnore:
			return Result{}, nil, nil
		case DecisionRetry:
			return Result{}, &decision, nil
		default:
			return Result{}, nil, protocol.NewQueryError(stmt.Content, r)
		}
	case protocol.ErrorResponse:
		return Result{}, nil, protocol.NewQueryError(stmt.Content, r)
	default:
		return Result{}, nil, protocol.NewQueryError(stmt.Content, resp)
	}
}

func (c *Cluster) consultRetryPolicy(stmt protocol.Statement, r protocol.DetailedErrorResponse, retries int) Decision {
	switch {
	case r.Unavailable != nil:
		d := r.Unavailable
		return c.cfg.Retry.Unavailable(stmt, d.Consistency, d.Required, d.Alive, retries)
	case r.WriteTimeout != nil:
		d := r.WriteTimeout
		return c.cfg.Retry.WriteTimeout(stmt, d.Consistency, d.WriteType, d.BlockFor, d.Received, retries)
	case r.ReadTimeout != nil:
		d := r.ReadTimeout
		return c.cfg.Retry.ReadTimeout(stmt, d.Consistency, d.BlockFor, d.Received, d.DataPresent, retries)
	default:
		return Reraise
	}
}

// reportPlan feeds the attempt's outcome back into the plan if it opts into
// planFeedback (currently only HostPoolPolicy's plans do).
func (c *Cluster) reportPlan(plan Plan, host Host, err error) {
	if fb, ok := plan.(planFeedback); ok {
		fb.report(host, err)
	}
}

// registryForConn looks the PreparedStatementRegistry up by scanning the
// connection's owning host. Connections don't carry their Host directly, so
// the Cluster keeps the mapping; this walks the (small, rarely-changing)
// connections table rather than widening the Connection interface for one
// caller.
func (c *Cluster) registryForConn(conn Connection) *PreparedStatementRegistry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for host, mgr := range c.connections {
		for _, cand := range mgr.Snapshot() {
			if cand == conn {
				if r, ok := c.prepared[host]; ok {
					return r
				}
			}
		}
	}
	// Connection not found in any host's manager (e.g. a test double used
	// directly), or its host has no registry: fall back to a scratch per-call
	// registry without adding it to the per-host table.
	return newPreparedStatementRegistry()
}

// lookupMetadata resolves the caller-provided result metadata for an
// already-prepared statement executed on host, so a server response that
// skipped metadata (SKIP_METADATA on the execute flags) can still be
// materialized against the cached column definitions (§4.6).
func (c *Cluster) lookupMetadata(host Host, cql string) *protocol.ResultMetadata {
	reg, err := c.registryFor(host)
	if err != nil {
		return nil
	}
	_, metadata, _ := reg.Lookup(cql)
	return metadata
}

func (c *Cluster) alignKeyspace(ctx context.Context, conn Connection, keyspace string) error {
	if keyspace == "" {
		keyspace = c.Keyspace()
	}
	if keyspace == "" {
		return nil
	}
	return c.keyspaceSwitcher.Switch(ctx, conn, keyspace, c.cfg.RequestTimeout, c.UseKeyspace)
}

func (c *Cluster) applyOptions(stmt protocol.Statement, opts protocol.Options) protocol.Statement {
	if opts.Consistency != 0 {
		stmt.Consistency = opts.Consistency
	} else if stmt.Consistency == 0 {
		stmt.Consistency = c.cfg.DefaultConsistency
	}
	if opts.SerialConsistency != 0 {
		stmt.SerialConsistency = opts.SerialConsistency
	}
	if opts.Keyspace != "" {
		stmt.Keyspace = opts.Keyspace
	}
	if opts.PageSize != 0 {
		stmt.PageSize = opts.PageSize
	}
	stmt.Idempotent = stmt.Idempotent || opts.Idempotent
	stmt.Tracing = stmt.Tracing || opts.Tracing
	return stmt
}

func (c *Cluster) timeout(opts protocol.Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return c.cfg.RequestTimeout
}

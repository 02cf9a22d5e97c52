package transport

import (
	"context"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// Plan is a single-pass, ordered sequence of hosts produced by a
// LoadBalancingPolicy for one request. Next returns (host, true) for each
// host to try in turn; (zero, false) signals exhaustion.
type Plan interface {
	Next() (Host, bool)
}

// LoadBalancingPolicy decides how far a host is from this client (driving
// how many connections the Connector opens for it) and produces the plan
// the dispatcher walks for each request.
type LoadBalancingPolicy interface {
	Distance(host Host) Distance
	Plan(keyspace string, stmt protocol.Statement, opts protocol.Options) Plan

	// AddHost/RemoveHost keep the policy's view of the cluster in sync with
	// topology events. Cluster calls AddHost from Connect and HostUp, before
	// consulting Distance/Plan; it never calls RemoveHost, so a host stays in
	// the policy's view after HostDown or HostLost.
	AddHost(host Host)
	RemoveHost(host Host)
}

// ReconnectionSchedule produces the sequence of backoff delays for one
// reconnection attempt sequence. Next returns (0, false) once exhausted,
// telling the Connect Loop to give up on this host for this cycle.
type ReconnectionSchedule interface {
	Next() (time.Duration, bool)
}

// ReconnectionPolicy creates a fresh ReconnectionSchedule for each
// connection attempt sequence (so concurrent hosts don't share backoff
// state).
type ReconnectionPolicy interface {
	Schedule() ReconnectionSchedule
}

// DecisionKind is the outcome of a retry policy consultation.
type DecisionKind int

const (
	DecisionRetry DecisionKind = iota
	DecisionIgnore
	DecisionReraise
)

// Decision is what a RetryPolicy callback returns: retry at a (possibly
// new) consistency, ignore the error and succeed empty, or reraise as a
// QueryError.
type Decision struct {
	Kind        DecisionKind
	Consistency protocol.Consistency
}

func Retry(cl protocol.Consistency) Decision { return Decision{Kind: DecisionRetry, Consistency: cl} }

var (
	Ignore  = Decision{Kind: DecisionIgnore}
	Reraise = Decision{Kind: DecisionReraise}
)

// RetryPolicy is consulted once per detailed server error to decide whether
// the dispatcher should retry (possibly at a different consistency),
// swallow the error, or surface it to the caller (§4.6, §6).
type RetryPolicy interface {
	Unavailable(stmt protocol.Statement, cl protocol.Consistency, required, alive int32, retries int) Decision
	WriteTimeout(stmt protocol.Statement, cl protocol.Consistency, writeType protocol.WriteType, blockFor, received int32, retries int) Decision
	ReadTimeout(stmt protocol.Statement, cl protocol.Consistency, blockFor, received int32, dataPresent bool, retries int) Decision
}

// Connector establishes the initial set of connections for a host at a
// given distance. It is an external collaborator per §1 — topology
// discovery and the connection handshake (STARTUP/AUTHENTICATE/negotiation)
// live outside this core.
type Connector interface {
	Connect(ctx context.Context, host Host, distance Distance) ([]Connection, error)
}

// Listener receives topology notifications from a Registry. Cluster
// implements this (§4.5).
type Listener interface {
	HostFound(host Host)
	HostLost(host Host)
	HostUp(host Host)
	HostDown(host Host)
}

// Registry is the external host membership authority: it owns cluster
// discovery and hands this core hosts and up/down events, but never
// connections or policy decisions.
type Registry interface {
	Hosts() []Host
	AddListener(l Listener)
	RemoveListener(l Listener)
}

// Reactor schedules timers for the Connect Loop's reconnection backoff. The
// returned channel closes when the timer fires; selecting on it alongside
// ctx.Done() is the Go realization of the spec's "future<unit>".
type Reactor interface {
	ScheduleTimer(ctx context.Context, d time.Duration) <-chan struct{}
}

// Package scylla is a thin facade over the transport package's cluster
// dispatch core: it turns a list of contact points and policy choices into a
// ready-to-use Session, the way the teacher's gocql.NewCluster/CreateSession
// pair did over its own session type.
package scylla

import (
	"context"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
	"github.com/scylladb/scylla-go-driver/transport"
)

// SessionConfig collects everything needed to bring a Session up. Connector
// and Registry are the two external collaborators the core leaves outside
// its scope (§1): a real deployment supplies a Connector backed by the wire
// codec and connection handshake, and a Registry backed by cluster gossip or
// system-table discovery. Tests and cmd/bench use transport.LoopbackConnector
// and transport.StaticRegistry instead.
type SessionConfig struct {
	Connector transport.Connector
	Registry  transport.Registry

	Keyspace    string
	Consistency protocol.Consistency

	LoadBalancing transport.LoadBalancingPolicy
	Reconnection  transport.ReconnectionPolicy
	Retry         transport.RetryPolicy
	Reactor       transport.Reactor
	Logger        transport.Logger

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Session is a connected handle onto a cluster. The zero value is not
// usable; construct one with NewSession.
type Session struct {
	cluster *transport.Cluster
}

// NewSession builds a Session and connects it before returning (§4.7).
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	cluster := transport.NewCluster(transport.Config{
		Registry:           cfg.Registry,
		Connector:          cfg.Connector,
		Reactor:            cfg.Reactor,
		Logger:             cfg.Logger,
		LoadBalancing:      cfg.LoadBalancing,
		Reconnection:       cfg.Reconnection,
		Retry:              cfg.Retry,
		ConnectTimeout:     cfg.ConnectTimeout,
		RequestTimeout:     cfg.RequestTimeout,
		DefaultConsistency: cfg.Consistency,
	})

	if cfg.Keyspace != "" {
		cluster.UseKeyspace(cfg.Keyspace)
	}

	if err := cluster.Connect(ctx); err != nil {
		return nil, err
	}
	return &Session{cluster: cluster}, nil
}

// Query executes a non-prepared CQL statement.
func (s *Session) Query(ctx context.Context, stmt protocol.Statement, opts protocol.Options) (transport.Result, error) {
	return s.cluster.Query(ctx, stmt, opts)
}

// Prepare parses cql once and returns a handle Execute can run repeatedly.
func (s *Session) Prepare(ctx context.Context, cql string, opts protocol.Options) (transport.Prepared, error) {
	return s.cluster.Prepare(ctx, cql, opts)
}

// Execute runs a Prepared statement with bound values.
func (s *Session) Execute(ctx context.Context, ps transport.Prepared, values [][]byte, opts protocol.Options) (transport.Result, error) {
	return s.cluster.Execute(ctx, ps, values, opts)
}

// Batch runs a set of statements as one CQL BATCH.
func (s *Session) Batch(ctx context.Context, batch protocol.BatchStatement, opts protocol.Options) (transport.Result, error) {
	return s.cluster.Batch(ctx, batch, opts)
}

// UseKeyspace changes the session-wide default keyspace.
func (s *Session) UseKeyspace(keyspace string) { s.cluster.UseKeyspace(keyspace) }

// Close disconnects every host and releases resources.
func (s *Session) Close() error { return s.cluster.Close() }

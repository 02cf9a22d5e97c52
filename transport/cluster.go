package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// clusterState is the Cluster lifecycle state machine from §4.7: a Cluster
// moves idle -> connecting -> connected -> closing -> closed and never back.
type clusterState int32

const (
	stateIdle clusterState = iota
	stateConnecting
	stateConnected
	stateDefunct
	stateClosing
	stateClosed
)

// Config carries every external collaborator and tunable a Cluster needs.
// Fields left nil fall back to a sensible default in NewCluster so a caller
// can wire only the policies it cares about.
type Config struct {
	Registry   Registry
	Connector  Connector
	Reactor    Reactor
	Logger     Logger

	LoadBalancing LoadBalancingPolicy
	Reconnection  ReconnectionPolicy
	Retry         RetryPolicy

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	DefaultConsistency protocol.Consistency
}

func (c *Config) setDefaults() {
	if c.LoadBalancing == nil {
		c.LoadBalancing = NewRoundRobinPolicy()
	}
	if c.Reconnection == nil {
		c.Reconnection = NewExponentialReconnectionPolicy(time.Second, time.Minute)
	}
	if c.Retry == nil {
		c.Retry = NewSimpleRetryPolicy(1)
	}
	if c.Reactor == nil {
		c.Reactor = TimerReactor{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.DefaultConsistency == 0 {
		c.DefaultConsistency = protocol.Quorum
	}
}

// Cluster is the cluster-wide dispatch core: it owns one ConnectionManager
// and one PreparedStatementRegistry per live host, a process-wide keyspace
// cell, and the Connect Loop/Topology Listener/Dispatcher state built on top
// of them (§4). It is the root object most callers construct directly.
type Cluster struct {
	cfg Config

	keyspaceSwitcher *KeyspaceSwitcher
	sessionKeyspace  atomic.String

	stateMu sync.Mutex
	state   clusterState
	closeCh chan struct{}

	mu              sync.Mutex
	connections     map[Host]*ConnectionManager
	prepared        map[Host]*PreparedStatementRegistry
	connectingHosts map[Host]struct{}
	wg              sync.WaitGroup
}

// NewCluster builds a Cluster from cfg, filling unset fields with defaults.
// It does not connect; call Connect to do that.
func NewCluster(cfg Config) *Cluster {
	cfg.setDefaults()
	return &Cluster{
		cfg:              cfg,
		keyspaceSwitcher: NewKeyspaceSwitcher(),
		closeCh:          make(chan struct{}),
		connections:      make(map[Host]*ConnectionManager),
		prepared:         make(map[Host]*PreparedStatementRegistry),
		connectingHosts:  make(map[Host]struct{}),
	}
}

// Keyspace returns the session-wide keyspace every new connection is aligned
// to as it comes up, or "" if none was set with UseKeyspace.
func (c *Cluster) Keyspace() string { return c.sessionKeyspace.Load() }

// UseKeyspace sets the session-wide keyspace. Existing connections are
// switched lazily, the next time they're dispatched to (§4.3); this call
// itself never blocks on network I/O.
func (c *Cluster) UseKeyspace(keyspace string) { c.sessionKeyspace.Store(keyspace) }

func (c *Cluster) setState(s clusterState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Cluster) getState() clusterState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Connect brings the Cluster from idle to connected: it registers as a
// topology Listener, connects to every host the Registry currently knows
// about, and waits for the initial round to settle before returning. If
// every host fails, the Cluster transitions to defunct, tears itself down
// via Close, and fails with the per-host error map (§4.7, §3).
func (c *Cluster) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == stateConnecting || c.state == stateConnected {
		c.stateMu.Unlock()
		return nil
	}
	if c.state != stateIdle {
		c.stateMu.Unlock()
		return ErrClientClosed
	}
	c.state = stateConnecting
	c.stateMu.Unlock()

	c.cfg.Registry.AddListener(c)

	hosts := c.cfg.Registry.Hosts()
	var resultMu sync.Mutex
	errs := make(map[Host]error)
	connected := 0

	for _, h := range hosts {
		h := h
		c.cfg.LoadBalancing.AddHost(h)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.connectToHost(ctx, h); err != nil {
				c.cfg.Logger.Printf("transport: initial connect to %s failed: %v", h, err)
				resultMu.Lock()
				errs[h] = err
				resultMu.Unlock()
				c.scheduleReconnect(h)
			} else {
				resultMu.Lock()
				connected++
				resultMu.Unlock()
			}
		}()
	}
	c.wg.Wait()

	c.stateMu.Lock()
	if c.state != stateConnecting {
		// Close raced us in and already drove the state machine past
		// connecting; don't reverse whatever it decided.
		c.stateMu.Unlock()
		if connected == 0 {
			return &NoHostsAvailableError{Errors: errs}
		}
		return nil
	}
	if connected == 0 {
		c.state = stateDefunct
		c.stateMu.Unlock()
		c.Close()
		return &NoHostsAvailableError{Errors: errs}
	}
	c.state = stateConnected
	c.stateMu.Unlock()
	return nil
}

// Close tears the Cluster down: it stops accepting new dispatches, closes
// every host's connections, and unregisters from the Registry (§4.7). From
// connecting (or defunct, which only Connect itself drives into), it first
// waits for the in-progress connect round to settle. Close is idempotent.
func (c *Cluster) Close() error {
	c.stateMu.Lock()
	if c.state == stateClosed || c.state == stateClosing {
		c.stateMu.Unlock()
		return nil
	}
	if c.state == stateIdle {
		c.stateMu.Unlock()
		return ErrClientNotConnected
	}
	c.state = stateClosing
	close(c.closeCh)
	c.stateMu.Unlock()

	c.cfg.Registry.RemoveListener(c)
	c.wg.Wait()

	c.mu.Lock()
	for _, mgr := range c.connections {
		mgr.Close()
	}
	c.connections = make(map[Host]*ConnectionManager)
	c.prepared = make(map[Host]*PreparedStatementRegistry)
	c.mu.Unlock()

	c.setState(stateClosed)
	return nil
}

// ensureHost creates host's ConnectionManager and PreparedStatementRegistry
// together the first time a connection successfully lands for it, per §3's
// lifecycle rule that the two tables exist iff a live Connection Manager
// does. It is called solely from connectToHost's success path.
func (c *Cluster) ensureHost(host Host) (*ConnectionManager, *PreparedStatementRegistry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mgr, ok := c.connections[host]
	if !ok {
		mgr = NewConnectionManager()
		c.connections[host] = mgr
	}
	reg, ok := c.prepared[host]
	if !ok {
		reg = newPreparedStatementRegistry()
		c.prepared[host] = reg
	}
	return mgr, reg
}

// managerFor looks host's ConnectionManager up without creating one: a host
// the dispatcher hasn't yet (or no longer) has a live Connection Manager for
// is a recoverable miss the caller treats as a plan-advance (§4.6 step 2),
// not a reason to fabricate an empty entry in the Cluster's per-host tables.
func (c *Cluster) managerFor(host Host) (*ConnectionManager, error) {
	c.mu.Lock()
	mgr, ok := c.connections[host]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNoConnection
	}
	return mgr, nil
}

// registryFor looks host's PreparedStatementRegistry up without creating
// one, mirroring managerFor: a registry only ever exists alongside a live
// Connection Manager, installed together by ensureHost.
func (c *Cluster) registryFor(host Host) (*PreparedStatementRegistry, error) {
	c.mu.Lock()
	reg, ok := c.prepared[host]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNoConnection
	}
	return reg, nil
}

// pickConnection resolves host to one of its live connections, chosen at
// random, or ErrNoConnection if the host has no Connection Manager or an
// empty one (§4.1, §4.6 step 2).
func (c *Cluster) pickConnection(host Host) (Connection, error) {
	mgr, err := c.managerFor(host)
	if err != nil {
		return nil, err
	}
	return mgr.Random()
}

// hasConnections reports whether host currently has at least one live
// connection, without creating a Connection Manager entry as a side effect.
func (c *Cluster) hasConnections(host Host) bool {
	c.mu.Lock()
	mgr, ok := c.connections[host]
	c.mu.Unlock()
	return ok && len(mgr.Snapshot()) > 0
}

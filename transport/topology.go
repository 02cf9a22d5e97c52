package transport

import "context"

// HostFound is a no-op at this layer: the registry owns cluster membership,
// not the Connect Loop or Topology Listener, so discovering a new host does
// not by itself connect to it — that happens only once HostUp actually
// fires for it (§4.5).
func (c *Cluster) HostFound(host Host) {}

// HostLost is a no-op at this layer for the same reason as HostFound: the
// registry owns membership, and this Cluster's per-host tables are only
// ever torn down in response to HostDown (§4.5).
func (c *Cluster) HostLost(host Host) {}

// HostUp is called when the Registry observes a host respond, whether newly
// discovered or previously down. If this Cluster has no live connections to
// it yet, it reconnects immediately rather than waiting out a backoff
// schedule already in flight (§4.5).
func (c *Cluster) HostUp(host Host) {
	if c.getState() == stateClosing || c.getState() == stateClosed {
		return
	}
	if c.hasConnections(host) {
		return
	}
	c.cfg.LoadBalancing.AddHost(host)
	go func() {
		if err := c.connectToHost(context.Background(), host); err != nil {
			c.cfg.Logger.Printf("transport: connect to %s after HostUp failed: %v", host, err)
			c.scheduleReconnect(host)
		}
	}()
}

// HostDown is called when the Registry observes a host stop responding. Its
// connections are closed and a reconnection schedule started; the host stays
// in the load-balancing policy's view, since it is expected to come back
// (§4.5).
func (c *Cluster) HostDown(host Host) {
	c.mu.Lock()
	mgr, ok := c.connections[host]
	delete(c.connections, host)
	c.mu.Unlock()
	if ok {
		mgr.Close()
		for _, conn := range mgr.Snapshot() {
			c.keyspaceSwitcher.Forget(conn)
		}
	}
	c.dropPreparedCache(host)

	if c.getState() == stateClosing || c.getState() == stateClosed {
		return
	}
	c.scheduleReconnect(host)
}

// dropPreparedCache discards host's prepared-statement cache now that its
// connections are closed; a reconnect starts it fresh. KeyspaceSwitcher's own
// per-connection bookkeeping for those connections is dropped by HostDown
// itself, via KeyspaceSwitcher.Forget.
func (c *Cluster) dropPreparedCache(host Host) {
	c.mu.Lock()
	delete(c.prepared, host)
	c.mu.Unlock()
}

package transport

import "context"

// connectToHost opens connections to host at whatever distance the
// load-balancing policy currently assigns it, and installs them into that
// host's ConnectionManager. A DistanceIgnore host is skipped entirely (§4.4).
func (c *Cluster) connectToHost(ctx context.Context, host Host) error {
	distance := c.cfg.LoadBalancing.Distance(host)
	if distance == DistanceIgnore {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conns, err := c.cfg.Connector.Connect(ctx, host, distance)
	if err != nil {
		return err
	}

	if keyspace := c.Keyspace(); keyspace != "" {
		for _, conn := range conns {
			_ = c.keyspaceSwitcher.Switch(ctx, conn, keyspace, c.cfg.RequestTimeout, c.UseKeyspace)
		}
	}

	mgr, _ := c.ensureHost(host)
	mgr.Add(conns)
	c.onHostConnected(host)
	return nil
}

// onHostConnected clears host's reconnecting bookkeeping now that it has at
// least one live connection.
func (c *Cluster) onHostConnected(host Host) {
	c.mu.Lock()
	delete(c.connectingHosts, host)
	c.mu.Unlock()
}

// scheduleReconnect runs host's reconnection schedule in the background,
// retrying connectToHost at each delay the ReconnectionPolicy produces until
// it succeeds, the schedule is exhausted, the Cluster closes, or host is
// withdrawn from connectingHosts by a racing event — each retry rechecks
// membership before trying again and abandons if host was withdrawn (§4.4).
//
// Concurrent calls for the same host are suppressed via connectingHosts: a
// host already being reconnected to doesn't get a second schedule racing the
// first.
func (c *Cluster) scheduleReconnect(host Host) {
	c.mu.Lock()
	if _, ok := c.connectingHosts[host]; ok {
		c.mu.Unlock()
		return
	}
	c.connectingHosts[host] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.connectingHosts, host)
			c.mu.Unlock()
		}()

		timerCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-c.closeCh:
				cancel()
			case <-timerCtx.Done():
			}
		}()

		schedule := c.cfg.Reconnection.Schedule()
		for {
			delay, ok := schedule.Next()
			if !ok {
				return
			}

			timer := c.cfg.Reactor.ScheduleTimer(timerCtx, delay)
			select {
			case <-timer:
			case <-c.closeCh:
				return
			}

			if c.getState() == stateClosing || c.getState() == stateClosed {
				return
			}

			c.mu.Lock()
			_, stillConnecting := c.connectingHosts[host]
			c.mu.Unlock()
			if !stillConnecting {
				return
			}

			if err := c.connectToHost(context.Background(), host); err == nil {
				return
			} else {
				c.cfg.Logger.Printf("transport: reconnect to %s failed: %v", host, err)
			}
		}
	}()
}

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnection is raised when a host's Connection Manager is empty at
	// dispatch time. It is always handled internally and converted into a
	// plan-advance; it should never reach a caller.
	ErrNoConnection = errors.New("transport: no connection available for host")

	// ErrClientClosed is returned by Connect once the Cluster has left the
	// idle state without being connecting or connected (closing, closed or
	// defunct). Query/Prepare/Execute/Batch do not check the lifecycle state;
	// after Close they fail with *NoHostsAvailableError, since no host has
	// connections left.
	ErrClientClosed = errors.New("transport: client is closed")

	// ErrClientNotConnected is returned by Close when called before Connect.
	ErrClientNotConnected = errors.New("transport: client is not connected")
)

// ConnectionError wraps a transport-level fault (as opposed to a semantic
// server error). Response classification treats it as a reason to advance
// the plan to the next host, or, during the connect loop, as a reason to
// schedule a reconnect.
type ConnectionError struct {
	Host Host
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connection error on %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NoHostsAvailableError means the load-balancing plan was exhausted. Errors
// maps every host that was tried to the last error observed for it.
type NoHostsAvailableError struct {
	Errors map[Host]error
}

func (e *NoHostsAvailableError) Error() string {
	return fmt.Sprintf("transport: no hosts available, tried %d host(s)", len(e.Errors))
}

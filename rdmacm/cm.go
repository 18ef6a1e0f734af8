// File: rdmacm/cm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection-manager event state machine (§4.2). Driven by an
// asynchronous connection-event channel; one State per queue pair,
// either the active (initiator) or passive (target) side.

package rdmacm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/momentics/nvmeof-rdma/api"
)

// Event identifies an RDMA_CM event delivered on the event channel.
type Event int

const (
	EventAddrResolved Event = iota
	EventAddrError
	EventRouteResolved
	EventRouteError
	EventConnectRequest
	EventEstablished
	EventConnectError
	EventRejected
	EventDisconnected
	EventDeviceRemoval
	EventAddrChange
	EventTimewaitExit
)

func (e Event) String() string {
	switch e {
	case EventAddrResolved:
		return "ADDR_RESOLVED"
	case EventAddrError:
		return "ADDR_ERROR"
	case EventRouteResolved:
		return "ROUTE_RESOLVED"
	case EventRouteError:
		return "ROUTE_ERROR"
	case EventConnectRequest:
		return "CONNECT_REQUEST"
	case EventEstablished:
		return "ESTABLISHED"
	case EventConnectError:
		return "CONNECT_ERROR"
	case EventRejected:
		return "REJECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventDeviceRemoval:
		return "DEVICE_REMOVAL"
	case EventAddrChange:
		return "ADDR_CHANGE"
	case EventTimewaitExit:
		return "TIMEWAIT_EXIT"
	default:
		return "UNKNOWN"
	}
}

// State is a connection manager's per-id lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCreateID
	StateAddrResolved
	StateRouteResolved
	StateConnecting
	StateConnectRequest
	StateEstablished
	StateDisconnected
	StateDeviceRemoval
	StateTimewaitExit
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCreateID:
		return "CREATE_ID"
	case StateAddrResolved:
		return "ADDR_RESOLVED"
	case StateRouteResolved:
		return "ROUTE_RESOLVED"
	case StateConnecting:
		return "CONNECT"
	case StateConnectRequest:
		return "CONNECT_REQUEST"
	case StateEstablished:
		return "ESTABLISHED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateDeviceRemoval:
		return "DEVICE_REMOVAL"
	case StateTimewaitExit:
		return "TIMEWAIT_EXIT"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FailureOrigin distinguishes local vs remote-caused qpair failure,
// consumed by the qpair/connmgr layer to pick the destruction path.
type FailureOrigin int

const (
	FailureNone FailureOrigin = iota
	FailureLocal
	FailureRemote
)

const (
	staleRetryAttempts = 5
	staleRetryBackoff  = 10 * time.Millisecond

	// RejectStatusStaleConnection is the generic RDMA_CM reject reason
	// for a stale connection, distinct from the NVMf private-data
	// RejectStatus codes in privdata.go (§4.6 "a REJECTED with status
	// 10 (stale connection) converts to a retryable STALE result").
	RejectStatusStaleConnection = 10
)

// Conn tracks one RDMA_CM identifier's lifecycle.
type Conn struct {
	mu      sync.Mutex
	state   State
	failure FailureOrigin
	retries int
	log     *slog.Logger
}

// NewConn creates a Conn in StateCreateID.
func NewConn(log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{state: StateCreateID, log: log}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failure returns which side caused a StateFailed transition, if any.
func (c *Conn) Failure() FailureOrigin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Deliver applies one CM event to the state machine and returns the
// resulting state. expect is the single event the caller is currently
// awaiting (§4.6 "exactly one expected_event is awaited after each
// client-side operation"); any reaped event other than expect yields
// ErrUnexpectedEvent, except the error/teardown events accepted by
// isTerminalEvent and EventRejected with rejectStatus ==
// RejectStatusStaleConnection, which always converts to a retryable
// ErrStaleConnection regardless of what was expected. rejectStatus is
// only meaningful when ev == EventRejected. sched/onRetry drive the
// five-try, 10ms-backoff retry policy; both may be nil to disable
// auto-retry (e.g. in tests or once retries are exhausted).
func (c *Conn) Deliver(ev Event, expect Event, rejectStatus int, sched api.Scheduler, onRetry func()) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev == EventRejected && rejectStatus == RejectStatusStaleConnection {
		c.retries++
		if c.retries > staleRetryAttempts {
			c.state = StateFailed
			c.failure = FailureLocal
			return c.state, ErrStaleConnection
		}
		if sched != nil {
			c.log.Warn("stale connection reject, retrying", "attempt", c.retries)
			sched.Schedule(int64(staleRetryBackoff), func() {
				if onRetry != nil {
					onRetry()
				}
			})
		}
		return c.state, ErrStaleConnection
	}

	if ev != expect && !isTerminalEvent(ev) {
		return c.state, ErrUnexpectedEvent
	}

	switch ev {
	case EventAddrResolved:
		c.state = StateAddrResolved
	case EventRouteResolved:
		c.state = StateRouteResolved
	case EventConnectRequest:
		c.state = StateConnectRequest
	case EventEstablished:
		c.state = StateEstablished
		c.retries = 0
	case EventAddrError, EventRouteError, EventConnectError, EventRejected:
		c.state = StateFailed
		c.failure = FailureLocal
	case EventDisconnected:
		c.state = StateDisconnected
		c.failure = FailureRemote
	case EventDeviceRemoval:
		c.state = StateDeviceRemoval
		c.failure = FailureLocal
	case EventAddrChange:
		// informational; no state transition required.
	case EventTimewaitExit:
		c.state = StateTimewaitExit
	default:
		return c.state, ErrUnexpectedEvent
	}
	return c.state, nil
}

// isTerminalEvent reports whether ev may always interrupt a pending
// expected_event wait, regardless of what was expected (§4.6: errors
// and teardown events are not gated by expected_event).
func isTerminalEvent(ev Event) bool {
	switch ev {
	case EventAddrError, EventRouteError, EventConnectError, EventRejected,
		EventDisconnected, EventDeviceRemoval, EventAddrChange, EventTimewaitExit:
		return true
	default:
		return false
	}
}

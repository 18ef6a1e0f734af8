// File: connmgr/manager.go
// Package connmgr implements the C6 connection manager: a single
// event-drain loop dispatching RDMA_CM events to per-identifier
// rdmacm.Conn state machines, grounded on the teacher's
// reactor/epoll_reactor.go (sync.Map of registered identifiers, one
// draining goroutine, panic-isolated callback dispatch).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connmgr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/momentics/nvmeof-rdma/api"
	"github.com/momentics/nvmeof-rdma/internal/rdma"
	"github.com/momentics/nvmeof-rdma/rdmacm"
)

// ID identifies one registered RDMA_CM identifier (qpair or listener).
type ID string

// Event is one event arriving on the manager's drain channel.
type Event struct {
	ID           ID
	CM           rdmacm.Event
	RejectStatus int
	Device       string // populated for ADDR_RESOLVED, checked against port state
}

// Callback is invoked with the manager's process-wide lock held,
// matching the teacher's non-reentrant sync.RWMutex discipline
// (admin completion polling is structured as a callback run while
// already holding the lock, never by re-acquiring it).
type Callback func(id ID, state rdmacm.State, err error)

// Manager owns the process-wide connection-manager lock and the
// registry of live identifiers.
type Manager struct {
	mu    sync.Mutex // process-wide; never re-acquired reentrantly
	conns sync.Map   // ID -> *rdmacm.Conn

	sched api.Scheduler
	inv   *rdma.Inventory
	log   *slog.Logger

	events  chan Event
	onState Callback
}

// NewManager creates a Manager. inv may be nil, in which case
// address-resolution never fails on port-state grounds (used in
// unit tests without real RDMA hardware).
func NewManager(sched api.Scheduler, inv *rdma.Inventory, log *slog.Logger, onState Callback) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sched:   sched,
		inv:     inv,
		log:     log,
		events:  make(chan Event, 256),
		onState: onState,
	}
}

// Register creates and stores a new rdmacm.Conn under id.
func (m *Manager) Register(id ID) *rdmacm.Conn {
	c := rdmacm.NewConn(m.log)
	m.conns.Store(id, c)
	return c
}

// Unregister removes id from the registry.
func (m *Manager) Unregister(id ID) {
	m.conns.Delete(id)
}

// Lookup returns the Conn registered under id, if any.
func (m *Manager) Lookup(id ID) (*rdmacm.Conn, bool) {
	v, ok := m.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*rdmacm.Conn), true
}

// Count reports how many identifiers are currently registered, for
// metrics collection.
func (m *Manager) Count() int {
	n := 0
	m.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Post enqueues ev for processing by Run's drain loop. Safe to call
// from the goroutine delivering real rdma_cm events.
func (m *Manager) Post(ev Event) {
	m.events <- ev
}

// Run drains the event channel until ctx is cancelled, applying each
// event to its Conn under the process-wide lock and invoking onState.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.process(ev)
		}
	}
}

func (m *Manager) process(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("connmgr: panic handling event", "id", ev.ID, "recover", r)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.Lookup(ev.ID)
	if !ok {
		return
	}

	if ev.CM == rdmacm.EventAddrResolved && !m.portUsable(ev.Device) {
		ev.CM = rdmacm.EventAddrError
	}

	if ev.CM == rdmacm.EventAddrChange {
		m.handleAddrChangeLocked()
		return
	}

	state, err := conn.Deliver(ev.CM, ev.CM, ev.RejectStatus, m.sched, func() {
		m.Post(Event{ID: ev.ID, CM: ev.CM, RejectStatus: ev.RejectStatus, Device: ev.Device})
	})
	if m.onState != nil {
		m.onState(ev.ID, state, err)
	}
}

// portUsable reports whether device has at least one active port, per
// C16's inventory. A nil inventory or empty device name always passes,
// so tests without real hardware are unaffected.
func (m *Manager) portUsable(device string) bool {
	if m.inv == nil || device == "" {
		return true
	}
	ports, err := m.inv.Ports(device)
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p.State == rdma.PortStateActive {
			return true
		}
	}
	return false
}

// handleAddrChangeLocked handles ADDR_CHANGE by delivering
// DISCONNECTED to every registered connection. It does not stop,
// restart or notify any listener. Must be called with mu held.
func (m *Manager) handleAddrChangeLocked() {
	m.log.Warn("connmgr: ADDR_CHANGE, disconnecting all connections")
	m.conns.Range(func(key, value any) bool {
		c := value.(*rdmacm.Conn)
		c.Deliver(rdmacm.EventDisconnected, rdmacm.EventDisconnected, 0, nil, nil)
		return true
	})
}

// WithLock runs fn while holding the process-wide lock, for callers
// (e.g. admin queue-pair completion polling) that must observe a
// consistent connection-manager state without re-entering Deliver.
func (m *Manager) WithLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

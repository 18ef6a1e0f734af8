// File: qpair/qpair.go
// Package qpair implements the shared queue-pair type and its
// pre-allocated resource pool (C7).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package qpair

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// State tracks the RDMA-level QP state (§3 "Queue-pair"). Any value
// outside this enum is treated as fatal by the owning poll group.
type State int

const (
	StateReset State = iota
	StateInit
	StateRTR
	StateRTS
	StateSQD
	StateSQE
	StateErr
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "RESET"
	case StateInit:
		return "INIT"
	case StateRTR:
		return "RTR"
	case StateRTS:
		return "RTS"
	case StateSQD:
		return "SQD"
	case StateSQE:
		return "SQE"
	case StateErr:
		return "ERR"
	default:
		return "FATAL"
	}
}

// AdminQID is the reserved queue ID of the admin queue pair.
const AdminQID = 0

// Sizing carries the negotiated depths and SGE limits for one queue pair.
type Sizing struct {
	NumEntries  int
	MaxSendDepth int
	MaxReadDepth int
	MaxSendSGE  int
	MaxRecvSGE  int
}

// Counters tracks live depth usage, checked against Sizing's invariants:
// current_send_depth + pending_send_depth <= max_send_depth,
// current_read_depth <= max_read_depth.
type Counters struct {
	currentSendDepth int64
	currentReadDepth int64
	currentRecvDepth int64
}

func (c *Counters) CurrentSendDepth() int64 { return atomic.LoadInt64(&c.currentSendDepth) }
func (c *Counters) CurrentReadDepth() int64 { return atomic.LoadInt64(&c.currentReadDepth) }
func (c *Counters) CurrentRecvDepth() int64 { return atomic.LoadInt64(&c.currentRecvDepth) }

func (c *Counters) IncSend(n int64) { atomic.AddInt64(&c.currentSendDepth, n) }
func (c *Counters) IncRead(n int64) { atomic.AddInt64(&c.currentReadDepth, n) }
func (c *Counters) IncRecv(n int64) { atomic.AddInt64(&c.currentRecvDepth, n) }

// QueuePair is the shared queue-pair type bound to a poll group.
type QueuePair struct {
	QID      int
	Sizing   Sizing
	Counters Counters

	mu    sync.RWMutex
	state State

	SendStage *wrqueue.Stage
	RecvStage *wrqueue.Stage
	Pending   *wrqueue.PendingQueues

	// UsesSRQ is true when the poll group's shared receive queue owns
	// this qpair's receive-side resources (§3 "Ownership"); the qpair
	// then holds only a non-owning reference via SRQPool.
	UsesSRQ bool
	SRQPool *ResourcePool // non-nil only when UsesSRQ
	Pool    *ResourcePool // owning pool when !UsesSRQ

	PollGroup any // weak back-reference, opaque to avoid an import cycle
}

// NewQueuePair creates a QueuePair bound to poster for its send/recv
// staging areas. batching controls whether sends/recvs are deferred
// to the poller tail (false for the admin queue pair).
func NewQueuePair(qid int, sizing Sizing, poster wrqueue.Poster, batching bool) *QueuePair {
	return &QueuePair{
		QID:       qid,
		Sizing:    sizing,
		state:     StateReset,
		SendStage: wrqueue.NewStage(poster, batching && qid != AdminQID),
		RecvStage: wrqueue.NewStage(poster, batching && qid != AdminQID),
		Pending:   wrqueue.NewPendingQueues(),
	}
}

// IsAdmin reports whether this is the reserved admin queue pair.
func (q *QueuePair) IsAdmin() bool { return q.QID == AdminQID }

// State returns the current RDMA-level QP state.
func (q *QueuePair) State() State {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// SetState transitions the QP state.
func (q *QueuePair) SetState(s State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = s
}

// IsFatal reports whether the current state is ERR or otherwise not
// one of the recognized operational states.
func (q *QueuePair) IsFatal() bool {
	switch q.State() {
	case StateReset, StateInit, StateRTR, StateRTS, StateSQD:
		return false
	default:
		return true
	}
}

// ReadyToDestroy reports the lifecycle destruction gate from §3:
// current_send_depth == 0 AND ((no SRQ AND current_recv_depth ==
// max_queue_depth) OR (SRQ AND last-WQE-reached has fired or the
// device does not generate that event)).
func (q *QueuePair) ReadyToDestroy(lastWQEReached bool) bool {
	if q.Counters.CurrentSendDepth() != 0 {
		return false
	}
	if !q.UsesSRQ {
		return q.Counters.CurrentRecvDepth() == int64(q.Sizing.NumEntries)
	}
	return lastWQEReached
}

// File: wrqueue/pending.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-queue-pair FIFOs for requests parked on backpressure (§4.7,
// §5): pending RDMA reads, pending RDMA writes, and buffer waiters.
// These are pure FIFOs, unlike the WR post chains in stage.go, so
// they are backed directly by the pack's own eapache/queue rather
// than a bespoke linked list.

package wrqueue

import (
	"sync"

	"github.com/eapache/queue"
)

// PendingQueues groups the three waiter FIFOs; DrainInPriorityOrder
// visits them as reads, then writes, then buffer-waiters. The poll
// group itself does not drain them.
type PendingQueues struct {
	mu     sync.Mutex
	reads  *queue.Queue
	writes *queue.Queue
	bufs   *queue.Queue
}

// NewPendingQueues creates an empty set of waiter FIFOs.
func NewPendingQueues() *PendingQueues {
	return &PendingQueues{
		reads:  queue.New(),
		writes: queue.New(),
		bufs:   queue.New(),
	}
}

// PushRead enqueues a request waiting for an RDMA READ slot.
func (p *PendingQueues) PushRead(req any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads.Add(req)
}

// PushWrite enqueues a request waiting for an RDMA WRITE slot.
func (p *PendingQueues) PushWrite(req any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes.Add(req)
}

// PushBufferWaiter enqueues a request waiting on the buffer pool.
func (p *PendingQueues) PushBufferWaiter(req any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bufs.Add(req)
}

// PeekRead returns the head read waiter without dequeuing it, or nil
// if empty. Used to enforce the "must be head of queue" backpressure
// rule (§4.7) before a request is allowed to proceed.
func (p *PendingQueues) PeekRead() any { return p.peek(p.reads) }

// PeekWrite returns the head write waiter without dequeuing it.
func (p *PendingQueues) PeekWrite() any { return p.peek(p.writes) }

// PopRead dequeues the next read waiter, or nil if empty.
func (p *PendingQueues) PopRead() any { return p.pop(p.reads) }

// PopWrite dequeues the next write waiter, or nil if empty.
func (p *PendingQueues) PopWrite() any { return p.pop(p.writes) }

// PopBufferWaiter dequeues the next buffer waiter, or nil if empty.
func (p *PendingQueues) PopBufferWaiter() any { return p.pop(p.bufs) }

func (p *PendingQueues) pop(q *queue.Queue) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q.Length() == 0 {
		return nil
	}
	v := q.Peek()
	q.Remove()
	return v
}

func (p *PendingQueues) peek(q *queue.Queue) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q.Length() == 0 {
		return nil
	}
	return q.Peek()
}

// DrainInPriorityOrder calls fn for every waiter across all three
// FIFOs in the priority order required by §4.9: pending RDMA reads,
// then pending RDMA writes, then pending buffer-waiters. fn returns
// true to keep draining, false to stop early (e.g. the caller ran out
// of resources mid-drain).
func (p *PendingQueues) DrainInPriorityOrder(fn func(kind WaiterKind, req any) bool) {
	for {
		if v := p.PopRead(); v != nil {
			if !fn(WaiterRead, v) {
				return
			}
			continue
		}
		break
	}
	for {
		if v := p.PopWrite(); v != nil {
			if !fn(WaiterWrite, v) {
				return
			}
			continue
		}
		break
	}
	for {
		if v := p.PopBufferWaiter(); v != nil {
			if !fn(WaiterBuffer, v) {
				return
			}
			continue
		}
		break
	}
}

// WaiterKind identifies which FIFO a drained waiter came from.
type WaiterKind int

const (
	WaiterRead WaiterKind = iota
	WaiterWrite
	WaiterBuffer
)

// File: pollgroup/poller.go
// Package pollgroup implements the C10 poll group: one poller per
// RDMA device owning a completion queue and a ring of queue pairs.
// Grounded on the teacher's internal/concurrency/eventloop.go
// (batch-dequeue loop with adaptive spin-wait backoff), generalized
// from a single ring of generic Events to per-device CQ batches of
// work completions dispatched by WR type.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pollgroup

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

const (
	cqBatchSize      = 32
	backoffInitialNs = 1
	backoffCapNs     = 1_000_000 // 1ms, matching the teacher's eventloop cap
)

// Dispatcher advances a target or initiator request's state machine in
// response to a reaped completion. Implemented by package tgtreq (and,
// on the initiator side, package initiator); kept as an interface here
// so pollgroup never imports either, avoiding a dependency cycle.
type Dispatcher interface {
	OnRecv(qid int, wc WC)
	OnSend(qid int, wc WC)
	OnRDMARead(qid int, wc WC)
	OnRDMAWrite(qid int, wc WC)
}

// Poller owns one completion queue and the queue pairs assigned to it.
type Poller struct {
	device string
	source CompletionSource
	disp   Dispatcher

	mu      sync.RWMutex
	qpairs  map[int]*qpair.QueuePair
	dirtied map[int]*qpair.QueuePair

	srqPool *qpair.ResourcePool // non-nil when this poller owns a shared receive queue

	backoffNs int64
	quit      chan struct{}
	stopped   chan struct{}

	PollsCompleted  int64
	CompletionsSeen int64
}

// NewPoller creates a Poller bound to one CQ source.
func NewPoller(device string, source CompletionSource, disp Dispatcher) *Poller {
	return &Poller{
		device:    device,
		source:    source,
		disp:      disp,
		qpairs:    make(map[int]*qpair.QueuePair),
		dirtied:   make(map[int]*qpair.QueuePair),
		backoffNs: backoffInitialNs,
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// EnableSRQ assigns a shared receive-side resource pool owned by this
// poller (§3 "the poll-group owns the receive-side resources").
func (p *Poller) EnableSRQ(pool *qpair.ResourcePool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.srqPool = pool
}

// Assign adds qp to this poller's ring.
func (p *Poller) Assign(qp *qpair.QueuePair) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qpairs[qp.QID] = qp
	qp.UsesSRQ = p.srqPool != nil
	if qp.UsesSRQ {
		qp.SRQPool = p.srqPool
	}
}

// Remove drops qp from this poller's ring.
func (p *Poller) Remove(qid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.qpairs, qid)
	delete(p.dirtied, qid)
}

// Len reports how many queue pairs are currently assigned.
func (p *Poller) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.qpairs)
}

// Device returns the RDMA device name this poller's completion queue
// is bound to.
func (p *Poller) Device() string { return p.device }

// PollsCompletedValue returns the current PollsCompleted counter,
// loaded atomically.
func (p *Poller) PollsCompletedValue() int64 { return atomic.LoadInt64(&p.PollsCompleted) }

// CompletionsSeenValue returns the current CompletionsSeen counter,
// loaded atomically.
func (p *Poller) CompletionsSeenValue() int64 { return atomic.LoadInt64(&p.CompletionsSeen) }

// QueuePairs returns a snapshot of the queue pairs currently assigned
// to this poller, for metrics collection.
func (p *Poller) QueuePairs() []*qpair.QueuePair {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*qpair.QueuePair, 0, len(p.qpairs))
	for _, qp := range p.qpairs {
		out = append(out, qp)
	}
	return out
}

// markDirty records that qid has staged work needing a flush attempt
// on the next poll iteration.
func (p *Poller) markDirty(qid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qp, ok := p.qpairs[qid]; ok {
		p.dirtied[qid] = qp
	}
}

// PollOnce polls up to cqBatchSize completions, dispatches each by WR
// type, then flushes staged sends/recvs of dirtied queue pairs. It
// does not walk the queue pairs' pending waiter FIFOs; the Dispatcher
// callbacks retry parked requests as completions arrive.
func (p *Poller) PollOnce() (handled int, err error) {
	wcs, err := p.source.PollBatch(cqBatchSize)
	if err != nil {
		return 0, err
	}
	if len(wcs) == 0 {
		return 0, nil
	}

	for _, wc := range wcs {
		p.dispatchOne(wc)
	}
	atomic.AddInt64(&p.CompletionsSeen, int64(len(wcs)))

	p.drainDirtied()
	return len(wcs), nil
}

func (p *Poller) dispatchOne(wc WC) {
	p.mu.RLock()
	qp, ok := p.qpairs[wc.QID]
	p.mu.RUnlock()
	if !ok {
		return
	}

	switch wc.Op {
	case wrqueue.OpRecv:
		qp.Counters.IncRecv(-1)
		if p.disp != nil {
			p.disp.OnRecv(wc.QID, wc)
		}
	case wrqueue.OpSend, wrqueue.OpSendWithInvalidate:
		qp.SendStage.CompleteOne()
		if p.disp != nil {
			p.disp.OnSend(wc.QID, wc)
		}
	case wrqueue.OpRDMARead:
		qp.SendStage.CompleteOne()
		if p.disp != nil {
			p.disp.OnRDMARead(wc.QID, wc)
		}
	case wrqueue.OpRDMAWrite:
		qp.SendStage.CompleteOne()
		if p.disp != nil {
			p.disp.OnRDMAWrite(wc.QID, wc)
		}
	}
	p.markDirty(wc.QID)
}

func (p *Poller) drainDirtied() {
	p.mu.Lock()
	dirty := p.dirtied
	p.dirtied = make(map[int]*qpair.QueuePair)
	p.mu.Unlock()

	for _, qp := range dirty {
		qp.SendStage.Flush()
		qp.RecvStage.Flush()
		// Re-parking retry logic for qp.Pending waiters is
		// domain-specific and lives in the Dispatcher (tgtreq/
		// initiator), invoked from OnRecv/OnSend/OnRDMARead/
		// OnRDMAWrite above; the poller only guarantees that a flush
		// attempt happens on every poll iteration touching this qpair.
	}
}

// Run polls in a loop with adaptive spin-wait backoff until ctx is
// cancelled or Stop is called, exactly mirroring the teacher's
// eventloop backoff curve (reset on progress, double on idle, capped
// at 1ms).
func (p *Poller) Run(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		default:
		}

		n, err := p.PollOnce()
		atomic.AddInt64(&p.PollsCompleted, 1)
		if err != nil {
			return
		}
		if n > 0 {
			atomic.StoreInt64(&p.backoffNs, backoffInitialNs)
			continue
		}

		d := atomic.LoadInt64(&p.backoffNs)
		for i := int64(0); i < d; i++ {
		}
		runtime.Gosched()
		if d < backoffCapNs {
			atomic.StoreInt64(&p.backoffNs, d*2)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// Stop signals the Run loop to exit and waits for it to do so.
func (p *Poller) Stop() {
	close(p.quit)
	<-p.stopped
}

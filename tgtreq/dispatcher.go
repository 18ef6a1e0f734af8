// File: tgtreq/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher implements pollgroup.Dispatcher, turning reaped
// completions into Machine edge calls. It assumes a synchronous
// Backend (package backend's Memory is one): Execute's completion
// callback runs inline, so every edge past EXECUTING can be driven in
// the same call stack as the triggering completion. An asynchronous
// back-end would need its own completion callback to re-enter at
// continueAfterExecute.

package tgtreq

import (
	"log/slog"
	"sync"

	"github.com/momentics/nvmeof-rdma/dif"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/pollgroup"
	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// qpState is the per-queue-pair bookkeeping a Dispatcher needs to
// build and free Requests.
type qpState struct {
	qp   *qpair.QueuePair
	pool *qpair.ResourcePool
}

// Dispatcher drives Requests through a Machine's state DAG, one
// Machine (and Backend) shared across every queue pair it is
// registered for.
type Dispatcher struct {
	Machine    *Machine
	Pending    *wrqueue.PendingQueues
	DIFConfig  dif.Config
	IOUnitSize uint32
	MaxSGEs    int
	Alloc      ChunkAllocator
	log        *slog.Logger

	mu  sync.RWMutex
	qps map[int]qpState
}

// NewDispatcher creates a Dispatcher bound to m. alloc supplies pool
// buffers for keyed-SGL (non-ICD) payloads, as required by ParseSGL.
func NewDispatcher(m *Machine, pending *wrqueue.PendingQueues, cfg dif.Config, ioUnitSize uint32, maxSGEs int, alloc ChunkAllocator, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		Machine:    m,
		Pending:    pending,
		DIFConfig:  cfg,
		IOUnitSize: ioUnitSize,
		MaxSGEs:    maxSGEs,
		Alloc:      alloc,
		log:        log,
		qps:        make(map[int]qpState),
	}
}

// Register binds qp (and the resource pool backing its requests and
// capsules) into this dispatcher, so completions on qp.QID can be
// handled.
func (d *Dispatcher) Register(qp *qpair.QueuePair, pool *qpair.ResourcePool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.qps[qp.QID] = qpState{qp: qp, pool: pool}
}

// Unregister drops qid from this dispatcher.
func (d *Dispatcher) Unregister(qid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.qps, qid)
}

func (d *Dispatcher) lookup(qid int) (qpState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.qps[qid]
	return s, ok
}

// OnRecv handles a completed receive: wc.UserData must carry the
// *qpair.Capsule the receive WR was posted against (the transport's
// receive-ring setup is responsible for that association).
func (d *Dispatcher) OnRecv(qid int, wc pollgroup.WC) {
	st, ok := d.lookup(qid)
	if !ok {
		return
	}
	capsule, ok := wc.UserData.(*qpair.Capsule)
	if !ok || capsule == nil {
		d.log.Warn("tgtreq: recv completion missing capsule", "qid", qid)
		return
	}

	slot, ok := st.pool.AcquireRequestSlot()
	if !ok {
		d.log.Warn("tgtreq: no request slot available, dropping capsule", "qid", qid)
		st.pool.ReleaseCapsule(capsule)
		return
	}

	r := NewRequest(slot, st.qp, capsule, 0)
	r.Cmd.Unmarshal(capsule.Buf.Data[:nvme.CommandSize])
	slot.State = r

	d.Machine.Classify(r)

	if r.State == StateNeedBuffer {
		res, err := ParseSGL(&r.Cmd, capsule.Buf.Data, r.Xfer, d.IOUnitSize, d.MaxSGEs, d.Alloc)
		if err != nil {
			r.SetStatus(nvme.SCTGeneric, nvme.SCInvalidField)
			r.State = StateReadyToComplete
		} else {
			r.Payload = res.Payload
			r.NumOutstandingDataWR = res.NumOutstandingDataWR
			r.DataWRHead = res.DataWR
			r.WantsInvalidate = res.WantsInvalidate
			r.InvalidateKey = res.InvalidateKey
			if r.DataWRHead != nil {
				for w := r.DataWRHead; w != nil; w = w.Next {
					w.UserData = r
				}
			}
			d.Machine.AcquireBuffers(r, res.DataFromPool)
		}
	}

	if r.State == StateDataXferToCtrlrPending {
		if err := d.Machine.TryStartHostToController(r, d.Pending); err != nil {
			return // parked; retried from a later OnRDMARead/OnSend
		}
	}

	if r.State == StateReadyToExecute {
		d.runExecute(r)
	}

	d.postCompletionIfReady(r)
}

// OnSend handles a completed SEND: either a data-bearing completion
// SEND (UserData is the *Request) is finishing, or an admin/connect
// SEND this package does not own.
func (d *Dispatcher) OnSend(qid int, wc pollgroup.WC) {
	r, ok := wc.UserData.(*Request)
	if !ok || r == nil {
		return
	}
	d.Machine.CompleteSend(r)
	if r.State == StateCompleted {
		d.free(qid, r)
	}
	d.pumpPending(qid)
}

// OnRDMARead handles a completed host-to-controller data transfer.
func (d *Dispatcher) OnRDMARead(qid int, wc pollgroup.WC) {
	r, ok := wc.UserData.(*Request)
	if !ok || r == nil {
		d.pumpPending(qid)
		return
	}
	d.Machine.CompleteHostToController(r)
	if r.State == StateReadyToExecute {
		d.runExecute(r)
		d.postCompletionIfReady(r)
	}
	d.pumpPending(qid)
}

// OnRDMAWrite handles a completed controller-to-host data transfer
// chained ahead of its completion SEND. The SEND completion (OnSend)
// drives CompleteSend to COMPLETED; this handler only unblocks any
// FIFO-head waiter the freed send-depth allows to proceed.
func (d *Dispatcher) OnRDMAWrite(qid int, wc pollgroup.WC) {
	d.pumpPending(qid)
}

func (d *Dispatcher) runExecute(r *Request) {
	if err := d.Machine.Execute(r, d.DIFConfig); err != nil {
		d.log.Warn("tgtreq: execute failed", "err", err)
	}
}

func (d *Dispatcher) postCompletionIfReady(r *Request) {
	if r.State == StateDataXferToHostPending {
		if err := d.Machine.TryStartControllerToHost(r, d.Pending); err != nil {
			return
		}
	}
	if r.State != StateReadyToComplete {
		return
	}

	st, ok := d.lookup(r.QP.QID)
	if !ok {
		return
	}
	slot, ok := st.pool.AcquireCompletion()
	if !ok {
		// The pool holds one completion slot per request slot, so a
		// request normally finds one free; pumpPending does not retry
		// a request that returns here.
		return
	}
	r.Completion.Marshal(slot.Buf.Data[:nvme.CompletionSize])
	r.CompletionSlot = slot

	sendWR := &wrqueue.WorkRequest{
		Op:       wrqueue.OpSend,
		Signaled: true,
		UserData: r,
		SGEs: []wrqueue.SGE{{
			Addr:   dataAddr(slot.Buf.Data),
			Length: uint32(len(slot.Buf.Data)),
			LKey:   slot.Buf.LKey,
		}},
	}
	if err := d.Machine.PostCompletion(r, sendWR); err != nil {
		d.log.Warn("tgtreq: post completion failed", "err", err)
	}
}

// pumpPending retries the FIFO heads of qid's read/write pending
// queues now that a completion may have freed depth quota.
func (d *Dispatcher) pumpPending(qid int) {
	st, ok := d.lookup(qid)
	if !ok {
		return
	}
	if v := d.Pending.PeekRead(); v != nil {
		if r, ok := v.(*Request); ok {
			if err := d.Machine.TryStartHostToController(r, d.Pending); err == nil {
				_ = st
			}
		}
	}
	if v := d.Pending.PeekWrite(); v != nil {
		if r, ok := v.(*Request); ok {
			if err := d.Machine.TryStartControllerToHost(r, d.Pending); err == nil {
				d.postCompletionIfReady(r)
			}
		}
	}
}

func (d *Dispatcher) free(qid int, r *Request) {
	st, ok := d.lookup(qid)
	if !ok {
		return
	}
	r.Free(st.pool)
}

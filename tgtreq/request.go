// File: tgtreq/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tgtreq

import (
	"github.com/momentics/nvmeof-rdma/dif"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// Request is one in-flight target request record (§4.7 "Request
// record"). Slot is this request's stable handle into the owning
// qpair.ResourcePool arena.
type Request struct {
	Slot *qpair.RequestSlot

	QP             *qpair.QueuePair
	Capsule        *qpair.Capsule
	CompletionSlot *qpair.CompletionSlot // response-send buffer, acquired in READY_TO_COMPLETE

	Cmd        nvme.Command
	Completion nvme.Completion

	State State
	Xfer  nvme.XferDirection

	// ICD indicates the payload (or part of it) rides in-capsule.
	ICD bool

	Offset               int // byte offset within the payload iovec array
	IovPos               int // index of the current iovec being filled/drained
	NumOutstandingDataWR int

	ReceiveTimeNs int64

	DataWRHead *wrqueue.WorkRequest // chain of RDMA READ/WRITE WRs

	// WantsInvalidate and InvalidateKey record an INVALIDATE_KEY SGL
	// subtype (§3 form 1/3): the completion SEND must invalidate
	// InvalidateKey instead of a plain SEND.
	WantsInvalidate bool
	InvalidateKey   uint32

	Payload   dif.Iovecs // host-memory-backed scatter/gather for the transfer
	MDPayload dif.Iovecs // metadata iovecs, non-empty only when DIF is enabled

	aborted       bool
	abortDeadline int64
}

// NewRequest creates a Request bound to a captured receive capsule, in
// state NEW (§4.7 "initial state is NEW, entered when a receive-capsule
// completes").
func NewRequest(slot *qpair.RequestSlot, qp *qpair.QueuePair, capsule *qpair.Capsule, receiveTimeNs int64) *Request {
	return &Request{
		Slot:          slot,
		QP:            qp,
		Capsule:       capsule,
		State:         StateNew,
		ReceiveTimeNs: receiveTimeNs,
	}
}

// SetStatus stamps the completion's status fields with phase 0;
// nothing in this module sets the phase bit afterwards.
func (r *Request) SetStatus(sct nvme.StatusCodeType, sc nvme.StatusCode) {
	r.Completion.SetStatus(sct, sc, false)
}

// Succeeded reports whether the completion currently carries SC_SUCCESS.
func (r *Request) Succeeded() bool {
	return nvme.StatusCode(r.Completion.StatusCode()) == nvme.SCSuccess
}

// Free resets the request for reuse and releases its slot/capsule to
// their owning pools. Must only be called from StateCompleted (§4.7
// "re-entry into FREE only from COMPLETED").
func (r *Request) Free(pool *qpair.ResourcePool) {
	if r.State != StateCompleted {
		panic("tgtreq: Free called outside COMPLETED")
	}
	if r.Capsule != nil {
		pool.ReleaseCapsule(r.Capsule)
		r.Capsule = nil
	}
	if r.CompletionSlot != nil {
		pool.ReleaseCompletion(r.CompletionSlot)
		r.CompletionSlot = nil
	}
	r.Payload = nil
	r.MDPayload = nil
	r.DataWRHead = nil
	r.NumOutstandingDataWR = 0
	r.WantsInvalidate = false
	r.InvalidateKey = 0
	r.Offset = 0
	r.IovPos = 0
	r.aborted = false
	r.State = StateFree
	if r.Slot != nil {
		pool.ReleaseRequestSlot(r.Slot)
	}
}

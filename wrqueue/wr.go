// File: wrqueue/wr.go
// Package wrqueue implements per-queue-pair work-request batching
// (C5): staged SEND/RECV linked lists with optional batched
// submission, and FIFO pending queues for backpressure waiters.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wrqueue

// OpCode identifies the kind of work request.
type OpCode int

const (
	OpSend OpCode = iota
	OpRecv
	OpRDMARead
	OpRDMAWrite
	// OpSendWithInvalidate is a completion SEND that also invalidates
	// the remote key named by RKey, triggered by an INVALIDATE_KEY
	// SGL subtype (§3 form 1/3).
	OpSendWithInvalidate
)

// SGE is one scatter/gather element of a work request.
type SGE struct {
	Addr   uintptr
	Length uint32
	LKey   uint32
}

// WorkRequest is one posted (or staged) RDMA work request. Staged
// queues thread WorkRequest instances into a singly linked list via
// Next, matching the spec's linked-list staging discipline.
type WorkRequest struct {
	ID          uint64
	Op          OpCode
	SGEs        []SGE
	RemoteAddr  uint64 // valid for RDMA READ/WRITE
	RKey        uint32 // valid for RDMA READ/WRITE, or the key to invalidate for OpSendWithInvalidate
	Signaled    bool
	Next        *WorkRequest
	UserData    any
}

// Poster posts a chain of work requests starting at head to the
// underlying queue pair. It returns the number of WRs actually posted
// and, on partial failure, the first WR that failed to post.
type Poster interface {
	PostChain(head *WorkRequest) (posted int, bad *WorkRequest, err error)
}

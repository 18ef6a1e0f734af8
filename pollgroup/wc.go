// File: pollgroup/wc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pollgroup

import "github.com/momentics/nvmeof-rdma/wrqueue"

// Status is the completion status of one reaped work completion.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
)

// WC is one reaped completion-queue entry, standing in for ibv_wc.
type WC struct {
	WRID     uint64
	Op       wrqueue.OpCode
	Status   Status
	QID      int
	ByteLen  uint32
	UserData any
}

// CompletionSource polls a completion queue for up to max work
// completions, standing in for ibv_poll_cq.
type CompletionSource interface {
	PollBatch(max int) ([]WC, error)
}

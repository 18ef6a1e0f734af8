package tgtreq

import (
	"testing"

	"github.com/momentics/nvmeof-rdma/backend"
	"github.com/momentics/nvmeof-rdma/dif"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/pollgroup"
	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// capturingPoster records every chain handed to PostChain and reports
// every WR in it as posted, standing in for a real ibv_post_send.
type capturingPoster struct {
	chains []*wrqueue.WorkRequest
}

func (p *capturingPoster) PostChain(head *wrqueue.WorkRequest) (int, *wrqueue.WorkRequest, error) {
	p.chains = append(p.chains, head)
	n := 0
	for wr := head; wr != nil; wr = wr.Next {
		n++
	}
	return n, nil, nil
}

func fakeAlloc(size int) ([]byte, uint32, uint32, error) {
	return make([]byte, size), 1, 2, nil
}

func newTestDispatcher(t *testing.T, be Backend) (*Dispatcher, *qpair.QueuePair, *qpair.ResourcePool, *capturingPoster) {
	t.Helper()

	pool, err := qpair.NewResourcePool(qpair.Config{
		Depth:          4,
		CapsuleSize:    8192,
		CompletionSize: nvme.CompletionSize,
		Alloc:          fakeAlloc,
	})
	if err != nil {
		t.Fatalf("NewResourcePool: %v", err)
	}

	poster := &capturingPoster{}
	qp := qpair.NewQueuePair(qpair.AdminQID, qpair.Sizing{
		NumEntries:   4,
		MaxSendDepth: 4,
		MaxReadDepth: 4,
		MaxSendSGE:   16,
		MaxRecvSGE:   16,
	}, poster, false)

	m := NewMachine(be)
	pending := wrqueue.NewPendingQueues()

	chunks := 0
	chunkAlloc := func() ([]byte, uint32, error) {
		chunks++
		return make([]byte, 4096), uint32(chunks), nil
	}

	d := NewDispatcher(m, pending, dif.Config{}, 4096, 16, chunkAlloc, nil)
	d.Register(qp, pool)

	return d, qp, pool, poster
}

// lastSendRequest walks a capturingPoster's most recent chain and
// returns the Request carried by its terminal (completion SEND) WR.
func lastSendRequest(t *testing.T, poster *capturingPoster) *Request {
	t.Helper()
	if len(poster.chains) == 0 {
		t.Fatalf("expected at least one posted chain")
	}
	head := poster.chains[len(poster.chains)-1]
	tail := head
	for tail.Next != nil {
		tail = tail.Next
	}
	r, ok := tail.UserData.(*Request)
	if !ok || r == nil {
		t.Fatalf("expected terminal WR to carry a *Request, got %T", tail.UserData)
	}
	return r
}

// TestDispatcherInCapsuleWriteCompletes reproduces S3 end to end: a
// WRITE command whose payload rides in-capsule (unkeyed OFFSET SGL)
// never needs an RDMA READ, so OnRecv drives it straight through
// EXECUTING to a posted completion SEND.
func TestDispatcherInCapsuleWriteCompletes(t *testing.T) {
	be := backend.New(backend.Config{BlockSize: 512, NumBlocks: 16})
	d, qp, pool, poster := newTestDispatcher(t, be)

	capsule, ok := pool.AcquireCapsule()
	if !ok {
		t.Fatalf("AcquireCapsule failed")
	}

	var cmd nvme.Command
	cmd.OpcodeField = nvme.OpcodeWrite
	cmd.NSID = 1
	cmd.SGL = nvme.SGLDescriptor{
		Address:    nvme.CommandSize,
		Length:     512,
		SubtypeVal: nvme.SGLSubtypeOffset,
		TypeVal:    nvme.SGLTypeDataBlock,
	}
	nvme.EncodeRW(&cmd, nvme.RWCommand{SLBA: 0, NLB: 0})
	cmd.Marshal(capsule.Buf.Data[:nvme.CommandSize])

	pattern := make([]byte, 512)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	copy(capsule.Buf.Data[nvme.CommandSize:nvme.CommandSize+512], pattern)

	d.OnRecv(qp.QID, pollgroup.WC{Op: wrqueue.OpRecv, QID: qp.QID, UserData: capsule})

	r := lastSendRequest(t, poster)
	if r.State != StateCompleting {
		t.Fatalf("expected state COMPLETING after posting completion SEND, got %v", r.State)
	}
	if !r.Succeeded() {
		t.Fatalf("expected SC_SUCCESS, got status_code=%d", r.Completion.StatusCode())
	}

	d.OnSend(qp.QID, pollgroup.WC{Op: wrqueue.OpSend, QID: qp.QID, UserData: r})
	if r.State != StateFree {
		t.Fatalf("expected request freed back to FREE after send completion, got %v", r.State)
	}

	readBack := make([]byte, 512)
	mReadReq := newReadRequest(t, pool, qp, 0, 0)
	if err := be.Submit(mReadReq, OpRead, func(sct nvme.StatusCodeType, sc nvme.StatusCode) {
		mReadReq.SetStatus(sct, sc)
	}); err != nil {
		t.Fatalf("readback submit: %v", err)
	}
	copy(readBack, mReadReq.Payload[0].Base)
	if string(readBack) != string(pattern) {
		t.Fatalf("readback mismatch: backend did not persist the in-capsule write payload")
	}
}

// TestDispatcherKeyedWriteCompletes reproduces the H2C keyed-write
// path end to end: a WRITE command with a keyed data-block SGL needs
// an RDMA READ before it can execute. Once that READ completes,
// CompleteHostToController must clear DataWRHead itself (this test
// does not pre-nil it), so PostCompletion posts a bare completion SEND
// and lands in COMPLETING rather than mistakenly chaining a stale
// READ chain and landing in TRANSFERRING_CONTROLLER_TO_HOST.
func TestDispatcherKeyedWriteCompletes(t *testing.T) {
	be := backend.New(backend.Config{BlockSize: 512, NumBlocks: 16})
	d, qp, pool, poster := newTestDispatcher(t, be)

	capsule, ok := pool.AcquireCapsule()
	if !ok {
		t.Fatalf("AcquireCapsule failed")
	}

	var cmd nvme.Command
	cmd.OpcodeField = nvme.OpcodeWrite
	cmd.NSID = 1
	cmd.SGL = nvme.SGLDescriptor{
		Address:    0x40000,
		Length:     512,
		Key:        0xCAFE,
		SubtypeVal: nvme.SGLSubtypeAddress,
		TypeVal:    nvme.SGLTypeDataBlock,
	}
	nvme.EncodeRW(&cmd, nvme.RWCommand{SLBA: 0, NLB: 0})
	cmd.Marshal(capsule.Buf.Data[:nvme.CommandSize])

	d.OnRecv(qp.QID, pollgroup.WC{Op: wrqueue.OpRecv, QID: qp.QID, UserData: capsule})

	// First attempt parks on the read-side FIFO (nothing has popped it
	// yet); pump to let TryStartHostToController proceed and post the
	// RDMA READ chain.
	d.pumpPending(qp.QID)

	var r *Request
	for _, chain := range poster.chains {
		if chain.Op == wrqueue.OpRDMARead {
			if req, ok := chain.UserData.(*Request); ok {
				r = req
			}
		}
	}
	if r == nil {
		t.Fatalf("expected an RDMA READ chain to have been posted")
	}
	if r.State != StateTransferringHostToController {
		t.Fatalf("expected TRANSFERRING_HOST_TO_CONTROLLER, got %v", r.State)
	}

	pattern := []byte{0x42}
	r.Payload[0].Base[0] = pattern[0]

	d.OnRDMARead(qp.QID, pollgroup.WC{Op: wrqueue.OpRDMARead, QID: qp.QID, UserData: r})

	if r.State != StateCompleting {
		t.Fatalf("expected COMPLETING after the write's completion SEND, got %v (DataWRHead=%+v)", r.State, r.DataWRHead)
	}
	if !r.Succeeded() {
		t.Fatalf("expected SC_SUCCESS, got status_code=%d", r.Completion.StatusCode())
	}

	d.OnSend(qp.QID, pollgroup.WC{Op: wrqueue.OpSend, QID: qp.QID, UserData: r})
	if r.State != StateFree {
		t.Fatalf("expected request freed back to FREE after send completion, got %v", r.State)
	}
}

// newReadRequest builds a minimal Request for a direct backend readback
// check, bypassing the dispatcher since this helper only exercises the
// backend, not the state machine.
func newReadRequest(t *testing.T, pool *qpair.ResourcePool, qp *qpair.QueuePair, slba uint64, nlb uint16) *Request {
	t.Helper()
	slot, ok := pool.AcquireRequestSlot()
	if !ok {
		t.Fatalf("AcquireRequestSlot failed")
	}
	r := &Request{Slot: slot, QP: qp, State: StateExecuting}
	nvme.EncodeRW(&r.Cmd, nvme.RWCommand{SLBA: slba, NLB: nlb})
	r.Payload = dif.Iovecs{{Base: make([]byte, 512)}}
	return r
}

// TestDispatcherKeyedReadCompletes reproduces S4 on the controller-to-host
// path: a READ command with a keyed data-block SGL acquires pool-backed
// buffers, executes against the backend, then chains an RDMA WRITE ahead
// of the completion SEND once send-depth quota admits it.
func TestDispatcherKeyedReadCompletes(t *testing.T) {
	be := backend.New(backend.Config{BlockSize: 512, NumBlocks: 16})
	d, qp, pool, poster := newTestDispatcher(t, be)

	// Seed backend storage with a known pattern so the read has
	// something distinctive to fetch.
	writeReq := newReadRequest(t, pool, qp, 0, 0)
	for i := range writeReq.Payload[0].Base {
		writeReq.Payload[0].Base[i] = byte(0xA5)
	}
	if err := be.Submit(writeReq, OpWrite, func(nvme.StatusCodeType, nvme.StatusCode) {}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	capsule, ok := pool.AcquireCapsule()
	if !ok {
		t.Fatalf("AcquireCapsule failed")
	}

	var cmd nvme.Command
	cmd.OpcodeField = nvme.OpcodeRead
	cmd.NSID = 1
	cmd.SGL = nvme.SGLDescriptor{
		Address:    0x20000,
		Length:     512,
		Key:        0xBEEF,
		SubtypeVal: nvme.SGLSubtypeAddress,
		TypeVal:    nvme.SGLTypeDataBlock,
	}
	nvme.EncodeRW(&cmd, nvme.RWCommand{SLBA: 0, NLB: 0})
	cmd.Marshal(capsule.Buf.Data[:nvme.CommandSize])

	d.OnRecv(qp.QID, pollgroup.WC{Op: wrqueue.OpRecv, QID: qp.QID, UserData: capsule})

	// The controller-to-host data transfer parks on the write FIFO the
	// first time through (nothing has popped it yet); a pending-queue
	// pump (as a later OnSend/OnRDMARead would trigger) lets it proceed.
	d.pumpPending(qp.QID)

	r := lastSendRequest(t, poster)
	if r.State != StateTransferringControllerToHost {
		t.Fatalf("expected TRANSFERRING_CONTROLLER_TO_HOST with chained RDMA WRITE, got %v", r.State)
	}
	if !r.Succeeded() {
		t.Fatalf("expected SC_SUCCESS, got status_code=%d", r.Completion.StatusCode())
	}
	if len(r.Payload) != 1 || r.Payload[0].Base[0] != 0xA5 {
		t.Fatalf("expected payload fetched from backend, got %+v", r.Payload)
	}

	d.OnSend(qp.QID, pollgroup.WC{Op: wrqueue.OpSend, QID: qp.QID, UserData: r})
	if r.State != StateFree {
		t.Fatalf("expected request freed back to FREE after send completion, got %v", r.State)
	}
}

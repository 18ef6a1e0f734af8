package tgtreq

import (
	"testing"

	"github.com/momentics/nvmeof-rdma/dif"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

type fakeBackend struct {
	difEnabled bool
	submitErr  error
	submitSC   nvme.StatusCode
}

func (b *fakeBackend) BlockSize() uint32        { return 512 }
func (b *fakeBackend) NumBlocks() uint64        { return 1024 }
func (b *fakeBackend) MDSize() uint32           { return 8 }
func (b *fakeBackend) IsMDInterleaved() bool    { return false }
func (b *fakeBackend) DIFType() int             { return int(dif.Type1) }
func (b *fakeBackend) IsDIFCheckEnabled() bool  { return b.difEnabled }

func (b *fakeBackend) Submit(r *Request, op BackendOp, cb CompletionFunc) error {
	if b.submitErr != nil {
		return b.submitErr
	}
	cb(nvme.SCTGeneric, b.submitSC)
	return nil
}

func (b *fakeBackend) AbortRequest(r *Request) error { return nil }

type nullPoster struct{}

func (nullPoster) PostChain(head *wrqueue.WorkRequest) (int, *wrqueue.WorkRequest, error) {
	n := 0
	for w := head; w != nil; w = w.Next {
		n++
	}
	return n, nil, nil
}

func newTestQP() *qpair.QueuePair {
	return qpair.NewQueuePair(1, qpair.Sizing{NumEntries: 8, MaxSendDepth: 8, MaxReadDepth: 8}, nullPoster{}, false)
}

func TestClassifyReadIsNeedBuffer(t *testing.T) {
	r := &Request{State: StateNew}
	r.Cmd.OpcodeField = nvme.OpcodeRead
	m := NewMachine(&fakeBackend{})
	m.Classify(r)
	if r.State != StateNeedBuffer {
		t.Fatalf("expected NEED_BUFFER for a read, got %v", r.State)
	}
	if r.Xfer != nvme.XferControllerToHost {
		t.Fatalf("expected C2H classification, got %v", r.Xfer)
	}
}

func TestClassifyFlushIsReadyToExecute(t *testing.T) {
	r := &Request{State: StateNew}
	r.Cmd.OpcodeField = nvme.OpcodeFlush
	m := NewMachine(&fakeBackend{})
	m.Classify(r)
	if r.State != StateReadyToExecute {
		t.Fatalf("expected READY_TO_EXECUTE for flush, got %v", r.State)
	}
}

func TestFullWriteHappyPath(t *testing.T) {
	be := &fakeBackend{submitSC: nvme.SCSuccess}
	m := NewMachine(be)
	qp := newTestQP()
	pending := wrqueue.NewPendingQueues()

	r := &Request{State: StateNew, QP: qp, NumOutstandingDataWR: 1}
	r.Cmd.OpcodeField = nvme.OpcodeWrite
	r.DataWRHead = &wrqueue.WorkRequest{ID: 1, Op: wrqueue.OpRDMARead}

	m.Classify(r)
	if r.State != StateNeedBuffer {
		t.Fatalf("expected NEED_BUFFER, got %v", r.State)
	}

	if err := m.AcquireBuffers(r, true); err != nil {
		t.Fatalf("acquire buffers: %v", err)
	}
	if r.State != StateDataXferToCtrlrPending {
		t.Fatalf("expected DATA_XFER_TO_CTRLR_PENDING, got %v", r.State)
	}

	if err := m.TryStartHostToController(r, pending); err != nil {
		t.Fatalf("start H2C: %v", err)
	}
	if r.State != StateTransferringHostToController {
		t.Fatalf("expected TRANSFERRING_HOST_TO_CONTROLLER, got %v", r.State)
	}

	m.CompleteHostToController(r)
	if r.State != StateReadyToExecute {
		t.Fatalf("expected READY_TO_EXECUTE, got %v", r.State)
	}

	if err := m.Execute(r, dif.Config{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.State != StateReadyToComplete {
		t.Fatalf("expected READY_TO_COMPLETE after a write's backend completion, got %v", r.State)
	}

	sendWR := &wrqueue.WorkRequest{ID: 99, Op: wrqueue.OpSend}
	if r.DataWRHead != nil {
		t.Fatalf("expected CompleteHostToController to have cleared DataWRHead, got %+v", r.DataWRHead)
	}
	if err := m.PostCompletion(r, sendWR); err != nil {
		t.Fatalf("post completion: %v", err)
	}
	if r.State != StateCompleting {
		t.Fatalf("expected COMPLETING with no outstanding data, got %v", r.State)
	}

	m.CompleteSend(r)
	if r.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %v", r.State)
	}
}

func TestReadChainsWriteBeforeCompletionSend(t *testing.T) {
	be := &fakeBackend{submitSC: nvme.SCSuccess}
	m := NewMachine(be)
	qp := newTestQP()
	pending := wrqueue.NewPendingQueues()

	r := &Request{State: StateNew, QP: qp, NumOutstandingDataWR: 1}
	r.Cmd.OpcodeField = nvme.OpcodeRead

	m.Classify(r)
	m.AcquireBuffers(r, false) // C2H: nothing to read from host yet
	if r.State != StateReadyToExecute {
		t.Fatalf("expected READY_TO_EXECUTE, got %v", r.State)
	}

	if err := m.Execute(r, dif.Config{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.State != StateDataXferToHostPending {
		t.Fatalf("expected DATA_XFER_TO_HOST_PENDING for a successful read, got %v", r.State)
	}

	if err := m.TryStartControllerToHost(r, pending); err != nil {
		t.Fatalf("start C2H: %v", err)
	}
	if r.State != StateReadyToComplete {
		t.Fatalf("expected READY_TO_COMPLETE, got %v", r.State)
	}

	r.DataWRHead = &wrqueue.WorkRequest{ID: 1, Op: wrqueue.OpRDMAWrite}
	sendWR := &wrqueue.WorkRequest{ID: 2, Op: wrqueue.OpSend}
	if err := m.PostCompletion(r, sendWR); err != nil {
		t.Fatalf("post completion: %v", err)
	}
	if r.State != StateTransferringControllerToHost {
		t.Fatalf("expected TRANSFERRING_CONTROLLER_TO_HOST, got %v", r.State)
	}
	if r.DataWRHead.Next != sendWR {
		t.Fatalf("expected SEND chained after the WRITE")
	}
}

func TestAbortDuringCtrlrPendingUnlinksAndMarks(t *testing.T) {
	m := NewMachine(&fakeBackend{})
	pending := wrqueue.NewPendingQueues()
	r := &Request{State: StateDataXferToCtrlrPending}
	other := &Request{State: StateDataXferToCtrlrPending}
	pending.PushRead(other)
	pending.PushRead(r)

	if err := m.Abort(r, pending); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if r.State != StateReadyToComplete {
		t.Fatalf("expected READY_TO_COMPLETE after abort, got %v", r.State)
	}
	if nvme.StatusCode(r.Completion.StatusCode()) != nvme.SCAbortedByRequest {
		t.Fatalf("expected ABORTED_BY_REQUEST status")
	}
	if pending.PeekRead() != other {
		t.Fatalf("expected other request to remain queued after unlink")
	}
}

func TestFailFatalAcceleratesToCompleted(t *testing.T) {
	m := NewMachine(&fakeBackend{})
	r := &Request{State: StateTransferringHostToController}
	m.FailFatal(r, nvme.SCTGeneric, nvme.SCAbortedSQDeletion)
	if r.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %v", r.State)
	}
}

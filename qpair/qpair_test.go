package qpair

import (
	"testing"

	"github.com/momentics/nvmeof-rdma/wrqueue"
)

type nullPoster struct{}

func (nullPoster) PostChain(head *wrqueue.WorkRequest) (int, *wrqueue.WorkRequest, error) {
	n := 0
	for w := head; w != nil; w = w.Next {
		n++
	}
	return n, nil, nil
}

func TestNewQueuePairAdminNeverBatches(t *testing.T) {
	qp := NewQueuePair(AdminQID, Sizing{NumEntries: 32, MaxSendDepth: 32}, nullPoster{}, true)
	posted, _, err := qp.SendStage.Queue(&wrqueue.WorkRequest{ID: 1})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if posted != 1 {
		t.Fatalf("admin qpair must flush immediately regardless of batching flag, posted=%d", posted)
	}
}

func TestQueuePairIOBatches(t *testing.T) {
	qp := NewQueuePair(1, Sizing{NumEntries: 32, MaxSendDepth: 32}, nullPoster{}, true)
	posted, _, err := qp.SendStage.Queue(&wrqueue.WorkRequest{ID: 1})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if posted != 0 || qp.SendStage.Pending() != 1 {
		t.Fatalf("expected deferred flush, posted=%d pending=%d", posted, qp.SendStage.Pending())
	}
}

func TestQueuePairStateTransitions(t *testing.T) {
	qp := NewQueuePair(1, Sizing{NumEntries: 4}, nullPoster{}, false)
	if qp.State() != StateReset {
		t.Fatalf("expected initial RESET, got %v", qp.State())
	}
	qp.SetState(StateRTS)
	if qp.IsFatal() {
		t.Fatalf("RTS must not be fatal")
	}
	qp.SetState(StateErr)
	if !qp.IsFatal() {
		t.Fatalf("ERR must be fatal")
	}
}

func TestReadyToDestroyNonSRQ(t *testing.T) {
	qp := NewQueuePair(1, Sizing{NumEntries: 4}, nullPoster{}, false)
	if qp.ReadyToDestroy(false) {
		t.Fatalf("expected not ready: recv depth not yet drained to NumEntries")
	}
	qp.Counters.IncRecv(4)
	if !qp.ReadyToDestroy(false) {
		t.Fatalf("expected ready once recv depth reaches NumEntries and sends are zero")
	}
	qp.Counters.IncSend(1)
	if qp.ReadyToDestroy(false) {
		t.Fatalf("expected not ready while a send is still outstanding")
	}
}

func TestReadyToDestroySRQ(t *testing.T) {
	qp := NewQueuePair(1, Sizing{NumEntries: 4}, nullPoster{}, false)
	qp.UsesSRQ = true
	if qp.ReadyToDestroy(false) {
		t.Fatalf("expected not ready until last-WQE-reached fires")
	}
	if !qp.ReadyToDestroy(true) {
		t.Fatalf("expected ready once last-WQE-reached fires and sends are zero")
	}
}

package transport

import (
	"testing"

	"github.com/momentics/nvmeof-rdma/rdmacm"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

func encodeConnectRequest(t *testing.T, req rdmacm.ConnectRequest) []byte {
	t.Helper()
	buf := make([]byte, rdmacm.ConnectRequestSize)
	req.Marshal(buf)
	return buf
}

func TestValidatePrivateDataAcceptsRecFmt0(t *testing.T) {
	l := NewListener(Default(), DeviceLimits{MaxQPWR: 256, MaxQPInitRdAtom: 16}, 100, nil)
	buf := encodeConnectRequest(t, rdmacm.ConnectRequest{RecFmt: 0, QID: 1, HSQSize: 127, HRQSize: 128, CntlID: 5})

	req, err := l.ValidatePrivateData(buf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.QID != 1 || req.CntlID != 5 {
		t.Fatalf("unexpected decoded request: %+v", req)
	}
}

func TestValidatePrivateDataRejectsBadRecFmt(t *testing.T) {
	l := NewListener(Default(), DeviceLimits{}, 100, nil)
	buf := encodeConnectRequest(t, rdmacm.ConnectRequest{RecFmt: 7})
	if _, err := l.ValidatePrivateData(buf); err != ErrInvalidRecFmt {
		t.Fatalf("expected ErrInvalidRecFmt, got %v", err)
	}
}

func TestValidatePrivateDataRejectsShortBuffer(t *testing.T) {
	l := NewListener(Default(), DeviceLimits{}, 100, nil)
	if _, err := l.ValidatePrivateData([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected an error for a too-short buffer")
	}
}

func TestNegotiateDepthsTakesMinimumOfAllFour(t *testing.T) {
	opts := Default()
	opts.MaxQueueDepth = 256
	dev := DeviceLimits{MaxQPWR: 200, MaxQPInitRdAtom: 32}
	req := rdmacm.ConnectRequest{HSQSize: 63, HRQSize: 100}

	neg := NegotiateDepths(opts, dev, req, 16)
	if neg.MaxQueueDepth != 64 { // hsqsize+1 is the smallest of {256,200,64,100}
		t.Fatalf("expected max_queue_depth=64, got %d", neg.MaxQueueDepth)
	}
	if neg.MaxReadDepth != 16 { // initiator_depth is the smallest of {256,32,16}
		t.Fatalf("expected max_read_depth=16, got %d", neg.MaxReadDepth)
	}
}

func TestAcceptBuildsQueuePairSkeleton(t *testing.T) {
	l := NewListener(Default(), DeviceLimits{MaxQPWR: 256, MaxQPInitRdAtom: 16}, 100, nil)
	buf := encodeConnectRequest(t, rdmacm.ConnectRequest{RecFmt: 0, QID: 3, HSQSize: 31, HRQSize: 32})

	qp, req, err := l.Accept(buf, 16, nullPoster{}, true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if qp.QID != 3 {
		t.Fatalf("expected qid 3, got %d", qp.QID)
	}
	if req.QID != 3 {
		t.Fatalf("expected decoded qid 3, got %d", req.QID)
	}
}

type nullPoster struct{}

func (nullPoster) PostChain(head *wrqueue.WorkRequest) (int, *wrqueue.WorkRequest, error) {
	n := 0
	for w := head; w != nil; w = w.Next {
		n++
	}
	return n, nil, nil
}

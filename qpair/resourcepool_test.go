package qpair

import "testing"

func TestResourcePoolAcquireReleaseCapsule(t *testing.T) {
	rp, err := NewResourcePool(Config{Depth: 2, CapsuleSize: 4096, CompletionSize: 16, Alloc: fakeAlloc})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	c1, ok := rp.AcquireCapsule()
	if !ok {
		t.Fatalf("expected a capsule")
	}
	c2, ok := rp.AcquireCapsule()
	if !ok {
		t.Fatalf("expected a second capsule")
	}
	if _, ok := rp.AcquireCapsule(); ok {
		t.Fatalf("expected pool exhaustion after depth capsules acquired")
	}

	rp.ReleaseCapsule(c1)
	if _, ok := rp.AcquireCapsule(); !ok {
		t.Fatalf("expected released capsule to be available again")
	}
	rp.ReleaseCapsule(c2)
}

func TestResourcePoolRequestSlots(t *testing.T) {
	rp, err := NewResourcePool(Config{Depth: 1, CapsuleSize: 64, CompletionSize: 16, Alloc: fakeAlloc})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	s, ok := rp.AcquireRequestSlot()
	if !ok {
		t.Fatalf("expected a request slot")
	}
	s.State = "in flight"
	if _, ok := rp.AcquireRequestSlot(); ok {
		t.Fatalf("expected exhaustion with depth=1")
	}
	rp.ReleaseRequestSlot(s)
	if s.State != nil {
		t.Fatalf("expected state cleared on release")
	}
	if _, ok := rp.AcquireRequestSlot(); !ok {
		t.Fatalf("expected slot available again after release")
	}
}

func TestPostInitialReceiveRing(t *testing.T) {
	rp, err := NewResourcePool(Config{Depth: 3, CapsuleSize: 128, CompletionSize: 16, Alloc: fakeAlloc})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	poster := nullPoster{}
	qp := NewQueuePair(1, Sizing{NumEntries: 3}, poster, false)

	if err := rp.PostInitialReceiveRing(qp); err != nil {
		t.Fatalf("post initial receive ring: %v", err)
	}
	if qp.RecvStage.Pending() != 0 {
		t.Fatalf("expected all receives flushed, pending=%d", qp.RecvStage.Pending())
	}
	if _, ok := rp.AcquireCapsule(); ok {
		t.Fatalf("expected all capsules consumed into the receive ring")
	}
}

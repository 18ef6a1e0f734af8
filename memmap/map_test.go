package memmap

import "testing"

type fakeRegistrar struct {
	next uint32
}

func (f *fakeRegistrar) RegisterRegion(vaddr uintptr, length int) (uint32, uint32, error) {
	f.next++
	return f.next, f.next + 1000, nil
}

func (f *fakeRegistrar) DeregisterRegion(vaddr uintptr, length int) {}

func TestRegisterLookupRoundTrip(t *testing.T) {
	m := NewMap(&fakeRegistrar{})
	if err := m.Register(0x1000, 4096); err != nil {
		t.Fatalf("register: %v", err)
	}
	lkey, rkey, err := m.Lookup(0x1000, 4096)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if lkey == 0 || rkey == 0 {
		t.Fatalf("expected non-zero keys, got %d/%d", lkey, rkey)
	}
}

func TestLookupFailsWithoutRegistration(t *testing.T) {
	m := NewMap(&fakeRegistrar{})
	if _, _, err := m.Lookup(0x2000, 128); err == nil {
		t.Fatalf("expected ENOENT")
	}
}

func TestLookupFailsWhenRangeExceedsRegion(t *testing.T) {
	m := NewMap(&fakeRegistrar{})
	if err := m.Register(0x1000, 4096); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := m.Lookup(0x1000, 8192); err == nil {
		t.Fatalf("expected ENOENT for oversized lookup")
	}
}

func TestRegisterSameRangeTwiceSharesRegion(t *testing.T) {
	reg := &fakeRegistrar{}
	m := NewMap(reg)
	// Registering the same vaddr/length twice keeps one region with
	// refcount 2.
	if err := m.Register(0x1000, 4096); err != nil {
		t.Fatalf("register 1: %v", err)
	}
	if err := m.Register(0x1000, 4096); err != nil {
		t.Fatalf("register 2: %v", err)
	}
	if len(m.regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(m.regions))
	}
	if m.regions[0].refs != 2 {
		t.Fatalf("expected refcount 2, got %d", m.regions[0].refs)
	}
}

func TestUnregisterDecrementsThenRemoves(t *testing.T) {
	m := NewMap(&fakeRegistrar{})
	m.Register(0x1000, 4096)
	m.Register(0x1000, 4096)

	if err := m.Unregister(0x1000, 4096); err != nil {
		t.Fatalf("unregister 1: %v", err)
	}
	if len(m.regions) != 1 {
		t.Fatalf("expected region to survive first unregister")
	}
	if err := m.Unregister(0x1000, 4096); err != nil {
		t.Fatalf("unregister 2: %v", err)
	}
	if len(m.regions) != 0 {
		t.Fatalf("expected region removed after refcount reaches 0")
	}
}

func TestManagerLazilyCreatesPerPDMap(t *testing.T) {
	calls := 0
	mgr := NewManager(func(pd PDHandle) Registrar {
		calls++
		return &fakeRegistrar{}
	})
	m1 := mgr.MapFor(1)
	m2 := mgr.MapFor(1)
	m3 := mgr.MapFor(2)

	if m1 != m2 {
		t.Fatalf("expected same map instance for same PD")
	}
	if m1 == m3 {
		t.Fatalf("expected distinct map instance for distinct PD")
	}
	if calls != 2 {
		t.Fatalf("expected 2 registrar constructions, got %d", calls)
	}
}

package initiator

import (
	"testing"

	"github.com/momentics/nvmeof-rdma/memmap"
	"github.com/momentics/nvmeof-rdma/nvme"
)

type fakeRegistrar struct{ next uint32 }

func (f *fakeRegistrar) RegisterRegion(vaddr uintptr, length int) (uint32, uint32, error) {
	f.next++
	return f.next, f.next, nil
}
func (f *fakeRegistrar) DeregisterRegion(vaddr uintptr, length int) {}

func TestBuildNull(t *testing.T) {
	b := BuildNull()
	if b.Lead.Length != 0 || b.Lead.TypeVal != nvme.SGLTypeDataBlock {
		t.Fatalf("expected zero-length data-block descriptor, got %+v", b.Lead)
	}
}

func TestBuildContigInlineTwoSGEs(t *testing.T) {
	b := BuildContigInline(0, 4096)
	if !b.Lead.IsUnkeyedOffset() {
		t.Fatalf("expected unkeyed OFFSET form")
	}
	if b.Lead.Length != 4096 {
		t.Fatalf("expected length 4096, got %d", b.Lead.Length)
	}
	if b.SendSGEs != 2 {
		t.Fatalf("expected 2 send SGEs, got %d", b.SendSGEs)
	}
}

func TestBuildContigNonInlineUsesMapKey(t *testing.T) {
	mm := memmap.NewMap(&fakeRegistrar{})
	if err := mm.Register(0x10000, 65536); err != nil {
		t.Fatalf("register: %v", err)
	}

	b, err := BuildContigNonInline(mm, Payload{Addr: 0x10000, Length: 65536})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !b.Lead.IsKeyedDataBlock() {
		t.Fatalf("expected keyed data-block form")
	}
	if b.Lead.Key != 1 {
		t.Fatalf("expected rkey 1 from the fake registrar, got %d", b.Lead.Key)
	}
	if b.SendSGEs != 1 {
		t.Fatalf("expected 1 send SGE, got %d", b.SendSGEs)
	}
}

func TestBuildSGLNonInlineMultipleChunksUsesLastSegment(t *testing.T) {
	mm := memmap.NewMap(&fakeRegistrar{})
	chunks := []Payload{
		{Addr: 0x10000, Length: 4096},
		{Addr: 0x20000, Length: 4096},
		{Addr: 0x30000, Length: 4096},
	}
	for _, c := range chunks {
		if err := mm.Register(c.Addr, int(c.Length)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	i := 0
	next := func() (uintptr, uint32, bool) {
		if i >= len(chunks) {
			return 0, 0, false
		}
		c := chunks[i]
		i++
		return c.Addr, c.Length, true
	}

	b, err := BuildSGLNonInline(mm, next, Caps{MaxSGEs: 16})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !b.Lead.IsLastSegment() {
		t.Fatalf("expected a LAST_SEGMENT lead descriptor")
	}
	if len(b.Trailing) != 3 {
		t.Fatalf("expected 3 trailing descriptors, got %d", len(b.Trailing))
	}
}

func TestBuildSGLNonInlineSingleChunkCollapsesToForm2(t *testing.T) {
	mm := memmap.NewMap(&fakeRegistrar{})
	mm.Register(0x10000, 4096)

	called := false
	next := func() (uintptr, uint32, bool) {
		if called {
			return 0, 0, false
		}
		called = true
		return 0x10000, 4096, true
	}

	b, err := BuildSGLNonInline(mm, next, Caps{MaxSGEs: 16})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if b.Lead.IsLastSegment() {
		t.Fatalf("expected collapse to the single keyed-descriptor form")
	}
	if len(b.Trailing) != 0 {
		t.Fatalf("expected no trailing descriptors")
	}
}

func TestBuildSGLNonInlineTooManyChunksRejected(t *testing.T) {
	mm := memmap.NewMap(&fakeRegistrar{})
	n := 0
	next := func() (uintptr, uint32, bool) {
		if n >= 17 {
			return 0, 0, false
		}
		addr := uintptr(0x10000 + n*4096)
		mm.Register(addr, 4096)
		n++
		return addr, 4096, true
	}

	_, err := BuildSGLNonInline(mm, next, Caps{MaxSGEs: 16})
	if err == nil {
		t.Fatalf("expected an error for exceeding max_sges")
	}
}

func TestICDEligibility(t *testing.T) {
	caps := Caps{ICDSize: 4096, ICDOff: 0}
	if !IsICDEligible(true, 4096, caps) {
		t.Fatalf("expected eligible at exactly ICDSize")
	}
	if IsICDEligible(true, 4097, caps) {
		t.Fatalf("expected ineligible above ICDSize")
	}
	if IsICDEligible(false, 100, caps) {
		t.Fatalf("expected ineligible for a C2H command")
	}
	caps.ICDOff = 8
	if IsICDEligible(true, 100, caps) {
		t.Fatalf("expected ineligible when icdoff != 0")
	}
}

// File: initiator/builder.go
// Package initiator implements the C8 initiator request builder
// (four/five SGL forms selected by payload type and in-capsule-data
// eligibility) and the C12 controller façade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package initiator

import (
	"errors"

	"github.com/momentics/nvmeof-rdma/memmap"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// ErrKeySplitsRegions is returned when a single descriptor's address
// range would need more than one memory-map region to translate,
// which this transport never supports (§4.8 "reject if a single key
// would split over two memory regions").
var ErrKeySplitsRegions = errors.New("initiator: descriptor spans more than one registered region")

// ErrLengthTooLarge is returned when a descriptor's length exceeds the
// 24-bit field width of the keyed SGL forms.
var ErrLengthTooLarge = errors.New("initiator: descriptor length exceeds 24 bits")

const maxKeyedLength = 1<<24 - 1

// Payload describes the data to be transferred by a Build call.
type Payload struct {
	Addr   uintptr
	Length uint32
}

// SGEFunc drives form (4)'s caller-supplied scatter/gather iteration,
// standing in for the spec's reset_sgl/next_sge callback pair.
type SGEFunc func() (addr uintptr, length uint32, ok bool)

// Caps carries the per-association limits a Build call must respect,
// negotiated once at CONNECT time and shared by the C8 builder and
// the C12 controller façade.
type Caps struct {
	MaxQueuePairs int    // includes the admin queue pair; default 128
	ICDSize       uint32 // in_capsule_data_size
	ICDOff        uint32 // icdoff; only 0 enables in-capsule placement
	MaxSGEs       int
	MaxIOSize     uint32
}

// IsICDEligible reports the §4.8 icd_supported predicate for an H2C
// (write-like) command.
func IsICDEligible(isH2C bool, payloadSize uint32, caps Caps) bool {
	return isH2C && payloadSize <= caps.ICDSize && caps.ICDOff == 0
}

// Built is the result of one Build call: the leading SGL descriptor to
// place in the command, an optional trailing descriptor array (form
// 4's LAST_SEGMENT array), and the RDMA data work-request chain (nil
// for in-capsule forms, which need no RDMA data phase).
type Built struct {
	Lead     nvme.SGLDescriptor
	Trailing []nvme.SGLDescriptor
	DataWR   *wrqueue.WorkRequest
	SendSGEs int // number of SGEs the SEND work request itself carries
}

// BuildNull emits form (1): a single keyed data-block SGL of length 0
// (§4.8 "Null").
func BuildNull() Built {
	return Built{
		Lead: nvme.SGLDescriptor{
			TypeVal:    nvme.SGLTypeDataBlock,
			SubtypeVal: nvme.SGLSubtypeAddress,
		},
		SendSGEs: 1,
	}
}

// BuildContigNonInline emits form (2): one keyed data-block SGL
// carrying (address, rkey, length), with the send having a single SGE
// that carries only the 64-byte command (§4.8 "Contig non-inline").
func BuildContigNonInline(mm *memmap.Map, p Payload) (Built, error) {
	rkey, err := lookupSingleRegion(mm, p)
	if err != nil {
		return Built{}, err
	}
	if p.Length > maxKeyedLength {
		return Built{}, ErrLengthTooLarge
	}
	return Built{
		Lead: nvme.SGLDescriptor{
			Address:    uint64(p.Addr),
			Length:     p.Length,
			Key:        rkey,
			TypeVal:    nvme.SGLTypeDataBlock,
			SubtypeVal: nvme.SGLSubtypeAddress,
		},
		SendSGEs: 1,
	}, nil
}

// BuildContigInline emits form (3): one unkeyed-OFFSET SGL whose
// length equals the payload size; the send carries 2 SGEs (command +
// payload), since the payload rides inline in the same message
// (§4.8 "Contig inline").
func BuildContigInline(offset uint32, length uint32) Built {
	return Built{
		Lead: nvme.SGLDescriptor{
			Address:    uint64(offset),
			Length:     length,
			TypeVal:    nvme.SGLTypeDataBlock,
			SubtypeVal: nvme.SGLSubtypeOffset,
		},
		SendSGEs: 2,
	}
}

// BuildSGLNonInline emits form (4): drives next until it reports no
// more segments, producing up to caps.MaxSGEs keyed descriptors. A
// single descriptor collapses to form (2); two or more use a
// LAST_SEGMENT SGL referencing the trailing array (§4.8 "SGL
// non-inline").
func BuildSGLNonInline(mm *memmap.Map, next SGEFunc, caps Caps) (Built, error) {
	var descs []nvme.SGLDescriptor
	for {
		addr, length, ok := next()
		if !ok {
			break
		}
		if len(descs) >= caps.MaxSGEs {
			return Built{}, errors.New("initiator: too many SGEs for ctrlr.max_sges")
		}
		if length > maxKeyedLength {
			return Built{}, ErrLengthTooLarge
		}
		rkey, err := lookupSingleRegion(mm, Payload{Addr: addr, Length: length})
		if err != nil {
			return Built{}, err
		}
		descs = append(descs, nvme.SGLDescriptor{
			Address:    uint64(addr),
			Length:     length,
			Key:        rkey,
			TypeVal:    nvme.SGLTypeDataBlock,
			SubtypeVal: nvme.SGLSubtypeAddress,
		})
	}

	if len(descs) == 0 {
		return BuildNull(), nil
	}
	if len(descs) == 1 {
		return Built{Lead: descs[0], SendSGEs: 1}, nil
	}

	return Built{
		Lead: nvme.SGLDescriptor{
			TypeVal: nvme.SGLTypeLastSegment,
			Length:  uint32(len(descs)) * nvme.SGLDescSize,
		},
		Trailing: descs,
		SendSGEs: 1,
	}, nil
}

// BuildSGLInline emits form (5): like form (3) but the inline payload
// is the command's first SGE; if that single inline SGE is shorter
// than the total payload, it falls back to form (4) (§4.8 "SGL
// inline").
func BuildSGLInline(mm *memmap.Map, offset, inlineLen, totalLen uint32, next SGEFunc, caps Caps) (Built, error) {
	if inlineLen >= totalLen {
		return BuildContigInline(offset, totalLen), nil
	}
	return BuildSGLNonInline(mm, next, caps)
}

func lookupSingleRegion(mm *memmap.Map, p Payload) (uint32, error) {
	if mm == nil {
		return 0, nil
	}
	_, rkey, err := mm.Lookup(p.Addr, int(p.Length))
	if err != nil {
		return 0, ErrKeySplitsRegions
	}
	return rkey, nil
}

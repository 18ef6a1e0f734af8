// File: tgtreq/parsesgl.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Target-side SGL parse (§4.7 "buffer acquisition"): turns the
// command's single leading SGL descriptor into either a direct view
// into the receive capsule (unkeyed OFFSET, in-capsule) or a set of
// pool-backed chunks tied together by one chained RDMA READ/WRITE
// work request (keyed data block).

package tgtreq

import (
	"errors"
	"unsafe"

	"github.com/momentics/nvmeof-rdma/dif"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// ErrSGLTooManyChunks is returned when a keyed transfer would need
// more chunks than the queue pair's max_sges allows in a single WR.
var ErrSGLTooManyChunks = errors.New("tgtreq: payload needs more chunks than max_sges")

// ErrCapsuleOverrun is returned when an in-capsule OFFSET descriptor
// references bytes past the end of the receive capsule.
var ErrCapsuleOverrun = errors.New("tgtreq: in-capsule SGL offset/length exceeds capsule")

// ErrUnsupportedSGL is returned for descriptor forms this transport's
// target side never accepts from a host (e.g. a bare LAST_SEGMENT
// descriptor at the command's own leading SGL slot).
var ErrUnsupportedSGL = errors.New("tgtreq: unsupported SGL form in command")

// ChunkAllocator hands back one pool buffer (sized io_unit_size) per
// call, along with its local key.
type ChunkAllocator func() (data []byte, lkey uint32, err error)

// ParseResult is the outcome of one ParseSGL call.
type ParseResult struct {
	Payload              dif.Iovecs
	DataFromPool         bool
	NumOutstandingDataWR int
	DataWR               *wrqueue.WorkRequest
	WantsInvalidate      bool
	InvalidateKey        uint32
}

// ParseSGL interprets cmd.SGL. capsule is the receive capsule's data
// region, used for the in-capsule OFFSET form and for reading a
// trailing LAST_SEGMENT descriptor array out of the capsule tail.
// xfer selects RDMA READ (host-to-controller) vs RDMA WRITE
// (controller-to-host) for the keyed forms. ioUnitSize is the pool's
// fixed chunk size; maxSGEs bounds how many chunks one work request
// may carry and, for the LAST_SEGMENT form, how many descriptors the
// trailing array may hold (MSDBD, §3 form 3).
func ParseSGL(cmd *nvme.Command, capsule []byte, xfer nvme.XferDirection, ioUnitSize uint32, maxSGEs int, alloc ChunkAllocator) (ParseResult, error) {
	sgl := cmd.SGL

	if sgl.IsUnkeyedOffset() {
		off := int(sgl.Address)
		length := int(sgl.Length)
		if off < 0 || length < 0 || off+length > len(capsule) {
			return ParseResult{}, ErrCapsuleOverrun
		}
		return ParseResult{
			Payload: dif.Iovecs{{Base: capsule[off : off+length]}},
		}, nil
	}

	if sgl.IsLastSegment() {
		return parseLastSegment(sgl, capsule, xfer, ioUnitSize, maxSGEs, alloc)
	}

	if !sgl.IsKeyedDataBlock() {
		return ParseResult{}, ErrUnsupportedSGL
	}

	wr, iovs, err := buildKeyedWR(sgl.Address, sgl.Key, sgl.Length, xfer, ioUnitSize, maxSGEs, alloc)
	if err != nil {
		return ParseResult{}, err
	}
	if wr == nil {
		return ParseResult{}, nil
	}

	return ParseResult{
		Payload:              iovs,
		DataFromPool:         true,
		NumOutstandingDataWR: 1,
		DataWR:               wr,
		WantsInvalidate:      sgl.WantsInvalidate(),
		InvalidateKey:        sgl.Key,
	}, nil
}

// parseLastSegment decodes the N trailing keyed descriptors written
// into the capsule tail (§3 form 3), each producing its own chained
// RDMA READ/WRITE work request since each may address a distinct
// remote region. N is capped by maxSGEs (MSDBD).
func parseLastSegment(lead nvme.SGLDescriptor, capsule []byte, xfer nvme.XferDirection, ioUnitSize uint32, maxSGEs int, alloc ChunkAllocator) (ParseResult, error) {
	if lead.Length%nvme.SGLDescSize != 0 {
		return ParseResult{}, ErrUnsupportedSGL
	}
	n := int(lead.Length / nvme.SGLDescSize)
	if n == 0 || n > maxSGEs {
		return ParseResult{}, ErrSGLTooManyChunks
	}
	start := nvme.CommandSize
	end := start + int(lead.Length)
	if end > len(capsule) {
		return ParseResult{}, ErrCapsuleOverrun
	}

	var head, tail *wrqueue.WorkRequest
	iovs := make(dif.Iovecs, 0, n)
	wantsInvalidate := false
	var invalidateKey uint32

	for i := 0; i < n; i++ {
		var d nvme.SGLDescriptor
		d.Unmarshal(capsule[start+i*nvme.SGLDescSize : start+(i+1)*nvme.SGLDescSize])
		if !d.IsKeyedDataBlock() {
			return ParseResult{}, ErrUnsupportedSGL
		}

		wr, dIovs, err := buildKeyedWR(d.Address, d.Key, d.Length, xfer, ioUnitSize, maxSGEs, alloc)
		if err != nil {
			return ParseResult{}, err
		}
		if wr == nil {
			continue
		}
		if head == nil {
			head = wr
		} else {
			tail.Next = wr
		}
		tail = wr
		iovs = append(iovs, dIovs...)

		if d.WantsInvalidate() {
			wantsInvalidate = true
			invalidateKey = d.Key
		}
	}

	return ParseResult{
		Payload:              iovs,
		DataFromPool:         true,
		NumOutstandingDataWR: n,
		DataWR:               head,
		WantsInvalidate:      wantsInvalidate,
		InvalidateKey:        invalidateKey,
	}, nil
}

// buildKeyedWR chunks a single keyed remote region (address, rkey,
// total length) into ioUnitSize pool buffers and returns the one
// RDMA READ/WRITE work request carrying them all as local SGEs
// against that one contiguous remote region.
func buildKeyedWR(address uint64, rkey uint32, total uint32, xfer nvme.XferDirection, ioUnitSize uint32, maxSGEs int, alloc ChunkAllocator) (*wrqueue.WorkRequest, dif.Iovecs, error) {
	if total == 0 {
		return nil, nil, nil
	}

	nChunks := int((total + ioUnitSize - 1) / ioUnitSize)
	if nChunks > maxSGEs {
		return nil, nil, ErrSGLTooManyChunks
	}

	sges := make([]wrqueue.SGE, 0, nChunks)
	iovs := make(dif.Iovecs, 0, nChunks)
	remaining := total
	for i := 0; i < nChunks; i++ {
		chunkLen := ioUnitSize
		if remaining < chunkLen {
			chunkLen = remaining
		}
		buf, lkey, err := alloc()
		if err != nil {
			return nil, nil, err
		}
		data := buf[:chunkLen]
		sges = append(sges, wrqueue.SGE{
			Addr:   dataAddr(data),
			Length: chunkLen,
			LKey:   lkey,
		})
		iovs = append(iovs, dif.Iovec{Base: data})
		remaining -= chunkLen
	}

	op := wrqueue.OpRDMARead
	if xfer == nvme.XferControllerToHost {
		op = wrqueue.OpRDMAWrite
	}

	return &wrqueue.WorkRequest{
		Op:         op,
		Signaled:   true,
		SGEs:       sges,
		RemoteAddr: address,
		RKey:       rkey,
	}, iovs, nil
}

func dataAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

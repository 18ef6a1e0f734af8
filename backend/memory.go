// File: backend/memory.go
// Package backend implements the C14 back-end adapter: a minimal
// in-memory block device satisfying tgtreq.Backend, existing purely
// so the target request state machine has a real collaborator to
// drive in tests and the bench command. Not a product feature: no
// persistence, no multi-namespace routing.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package backend

import (
	"errors"
	"sync"

	"github.com/momentics/nvmeof-rdma/dif"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/tgtreq"
)

// ErrOutOfRange is returned when a command's LBA range falls outside
// the namespace.
var ErrOutOfRange = errors.New("backend: LBA range out of bounds")

// Config describes the namespace geometry of a Memory backend.
type Config struct {
	BlockSize       uint32
	NumBlocks       uint64
	MDSize          uint32
	MDInterleaved   bool
	DIFType         int
	DIFCheckEnabled bool
}

// Memory is an in-process, RAM-backed block device. Storage is a flat
// byte slice sized NumBlocks*(BlockSize+MDSize when interleaved,
// BlockSize otherwise); a separate metadata region backs DIX mode.
type Memory struct {
	cfg Config

	mu   sync.Mutex
	data []byte
	md   []byte // non-nil only when !cfg.MDInterleaved
}

// New creates a zero-filled Memory backend for cfg.
func New(cfg Config) *Memory {
	m := &Memory{cfg: cfg}
	blockStride := int(cfg.BlockSize)
	if cfg.MDInterleaved {
		blockStride += int(cfg.MDSize)
	}
	m.data = make([]byte, int(cfg.NumBlocks)*blockStride)
	if !cfg.MDInterleaved && cfg.MDSize > 0 {
		m.md = make([]byte, int(cfg.NumBlocks)*int(cfg.MDSize))
	}
	return m
}

func (m *Memory) BlockSize() uint32      { return m.cfg.BlockSize }
func (m *Memory) NumBlocks() uint64      { return m.cfg.NumBlocks }
func (m *Memory) MDSize() uint32         { return m.cfg.MDSize }
func (m *Memory) IsMDInterleaved() bool  { return m.cfg.MDInterleaved }
func (m *Memory) DIFType() int           { return m.cfg.DIFType }
func (m *Memory) IsDIFCheckEnabled() bool { return m.cfg.DIFCheckEnabled }

// Submit executes op synchronously against the in-memory store and
// invokes cb inline. Real back-ends would dispatch asynchronously;
// the reference implementation's synchronous completion is
// observationally identical to the state machine, which only reacts
// to cb being called, never to timing.
func (m *Memory) Submit(r *tgtreq.Request, op tgtreq.BackendOp, cb tgtreq.CompletionFunc) error {
	rw := nvme.DecodeRW(&r.Cmd)
	nlb := uint64(rw.NLB) + 1

	switch op {
	case tgtreq.OpRead:
		if err := m.checkRange(rw.SLBA, nlb); err != nil {
			cb(nvme.SCTGeneric, nvme.SCLBAOutOfRange)
			return nil
		}
		m.readInto(rw.SLBA, nlb, r.Payload)
		cb(nvme.SCTGeneric, nvme.SCSuccess)
	case tgtreq.OpWrite:
		if err := m.checkRange(rw.SLBA, nlb); err != nil {
			cb(nvme.SCTGeneric, nvme.SCLBAOutOfRange)
			return nil
		}
		m.writeFrom(rw.SLBA, nlb, r.Payload)
		cb(nvme.SCTGeneric, nvme.SCSuccess)
	case tgtreq.OpFlush, tgtreq.OpUnmap, tgtreq.OpWriteZeroes, tgtreq.OpReset:
		cb(nvme.SCTGeneric, nvme.SCSuccess)
	default:
		cb(nvme.SCTGeneric, nvme.SCInvalidOpcode)
	}
	return nil
}

// AbortRequest reports the request as already complete, since Submit
// never leaves one outstanding asynchronously.
func (m *Memory) AbortRequest(r *tgtreq.Request) error { return nil }

func (m *Memory) checkRange(slba, nlb uint64) error {
	if slba+nlb > m.cfg.NumBlocks {
		return ErrOutOfRange
	}
	return nil
}

func (m *Memory) readInto(slba, nlb uint64, payload dif.Iovecs) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stride := m.blockStride()
	off := int(slba) * stride
	dif.CopyFromContig(payload, 0, int(nlb)*stride, m.data[off:off+int(nlb)*stride])
}

func (m *Memory) writeFrom(slba, nlb uint64, payload dif.Iovecs) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stride := m.blockStride()
	off := int(slba) * stride
	dif.CopyToContig(payload, 0, int(nlb)*stride, m.data[off:off+int(nlb)*stride])
}

func (m *Memory) blockStride() int {
	if m.cfg.MDInterleaved {
		return int(m.cfg.BlockSize) + int(m.cfg.MDSize)
	}
	return int(m.cfg.BlockSize)
}

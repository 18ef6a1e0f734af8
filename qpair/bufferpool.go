// File: qpair/bufferpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BufferPool is a bounded MPMC free-list of io_unit_size blocks (§5
// "Shared-resource policy"), generalized from the teacher's
// NUMA-node-keyed channel pool (pool/base_bufferpool.go) to a single
// io_unit_size class keyed by registered-memory allocation.

package qpair

import (
	"sync/atomic"

	"github.com/momentics/nvmeof-rdma/api"
)

// Allocator registers a newly allocated block of memory and returns
// its local/remote keys, standing in for ibv_reg_mr via memmap.Map.
type Allocator func(size int) (data []byte, lkey, rkey uint32, err error)

// BufferPool is a bounded channel-backed free list of io_unit_size blocks.
type BufferPool struct {
	blockSize int
	free      chan api.Buffer
	alloc     Allocator

	totalAlloc int64
	totalFree  int64
	inUse      int64
}

// NewBufferPool creates a pool of blockSize blocks, bounded to
// capacity entries in its free list.
func NewBufferPool(blockSize, capacity int, alloc Allocator) *BufferPool {
	return &BufferPool{
		blockSize: blockSize,
		free:      make(chan api.Buffer, capacity),
		alloc:     alloc,
	}
}

// Get returns a buffer of at least size bytes. size must not exceed
// the pool's block size.
func (p *BufferPool) Get(size int) (api.Buffer, error) {
	select {
	case b := <-p.free:
		atomic.AddInt64(&p.inUse, 1)
		return b.Slice(0, size), nil
	default:
	}

	data, lkey, rkey, err := p.alloc(p.blockSize)
	if err != nil {
		return api.Buffer{}, err
	}
	atomic.AddInt64(&p.totalAlloc, 1)
	atomic.AddInt64(&p.inUse, 1)
	b := api.Buffer{Data: data, LKey: lkey, RKey: rkey, Pool: p}
	return b.Slice(0, size), nil
}

// Put returns b to the pool's free list, growing it back to full
// block size. If the free list is at capacity, the block is dropped
// (and will be garbage collected) per the "bounded" policy.
func (p *BufferPool) Put(b api.Buffer) {
	atomic.AddInt64(&p.inUse, -1)
	atomic.AddInt64(&p.totalFree, 1)
	full := api.Buffer{
		Data: b.Data[:cap(b.Data)],
		LKey: b.LKey,
		RKey: b.RKey,
		Pool: p,
	}
	select {
	case p.free <- full:
	default:
	}
}

// Stats reports current pool usage.
func (p *BufferPool) Stats() api.BufferPoolStats {
	return api.BufferPoolStats{
		TotalAlloc: atomic.LoadInt64(&p.totalAlloc),
		TotalFree:  atomic.LoadInt64(&p.totalFree),
		InUse:      atomic.LoadInt64(&p.inUse),
		Capacity:   int64(cap(p.free)),
	}
}

// File: qpair/resourcepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ResourcePool is the C7 queue-pair resource pool: a fixed-size
// pre-allocated pool of request records, receive capsules, command
// buffers, and completion buffers, grounded on the teacher's generic
// pool.ObjectPool[T] (pool/objpool.go) and sized at construction time
// rather than grown on demand, matching §3's "pre-allocates a fixed
// pool" wording.

package qpair

import (
	"sync"

	"github.com/momentics/nvmeof-rdma/api"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// Capsule is one pre-allocated receive-side network message buffer,
// sized to hold the fixed 64-byte command plus up to MSDBD trailing
// SGL descriptors and in-capsule data.
type Capsule struct {
	Buf   api.Buffer
	Index int
}

// CompletionSlot is one pre-allocated send-side response buffer,
// sized to hold the fixed 16-byte NVMe completion.
type CompletionSlot struct {
	Buf   api.Buffer
	Index int
}

// RequestSlot is one pre-allocated request-record arena entry. Index
// is a stable handle the owning tgtreq state machine uses instead of
// a raw pointer (§5 "the request record should carry only indices
// into its parent arena, never raw pointers").
type RequestSlot struct {
	Index int
	State any // opaque target-request state owned by package tgtreq
}

// ResourcePool holds the fixed arenas for one queue pair (or, under
// an SRQ poll-group, for the whole poller).
type ResourcePool struct {
	capsuleSize    int
	completionSize int

	capsules    chan *Capsule
	completions chan *CompletionSlot
	records     chan *RequestSlot

	mu        sync.Mutex
	allSlots  []*RequestSlot
	allocRec  Allocator
}

// Config sizes a ResourcePool's three arenas. Depth is normally the
// queue pair's NumEntries; capsuleSize must be at least
// 64+16*maxSGEs to hold the worst-case last-segment SGL array plus
// in_capsule_data_size.
type Config struct {
	Depth          int
	CapsuleSize    int
	CompletionSize int
	Alloc          Allocator
}

// NewResourcePool pre-allocates cfg.Depth capsules, completion slots,
// and request-record slots.
func NewResourcePool(cfg Config) (*ResourcePool, error) {
	rp := &ResourcePool{
		capsuleSize:    cfg.CapsuleSize,
		completionSize: cfg.CompletionSize,
		capsules:       make(chan *Capsule, cfg.Depth),
		completions:    make(chan *CompletionSlot, cfg.Depth),
		records:        make(chan *RequestSlot, cfg.Depth),
		allocRec:       cfg.Alloc,
	}

	for i := 0; i < cfg.Depth; i++ {
		data, lkey, rkey, err := cfg.Alloc(cfg.CapsuleSize)
		if err != nil {
			return nil, err
		}
		rp.capsules <- &Capsule{
			Buf:   api.Buffer{Data: data, LKey: lkey, RKey: rkey},
			Index: i,
		}
	}
	for i := 0; i < cfg.Depth; i++ {
		data, lkey, rkey, err := cfg.Alloc(cfg.CompletionSize)
		if err != nil {
			return nil, err
		}
		rp.completions <- &CompletionSlot{
			Buf:   api.Buffer{Data: data, LKey: lkey, RKey: rkey},
			Index: i,
		}
	}
	rp.allSlots = make([]*RequestSlot, cfg.Depth)
	for i := 0; i < cfg.Depth; i++ {
		s := &RequestSlot{Index: i}
		rp.allSlots[i] = s
		rp.records <- s
	}

	return rp, nil
}

// AcquireCapsule pops a free receive capsule, or reports ok=false if
// none remain (pool exhaustion is never fatal: the caller simply
// cannot post another receive until one is returned).
func (rp *ResourcePool) AcquireCapsule() (*Capsule, bool) {
	select {
	case c := <-rp.capsules:
		return c, true
	default:
		return nil, false
	}
}

// ReleaseCapsule returns a receive capsule to the free list.
func (rp *ResourcePool) ReleaseCapsule(c *Capsule) {
	select {
	case rp.capsules <- c:
	default:
	}
}

// AcquireCompletion pops a free completion-send buffer.
func (rp *ResourcePool) AcquireCompletion() (*CompletionSlot, bool) {
	select {
	case c := <-rp.completions:
		return c, true
	default:
		return nil, false
	}
}

// ReleaseCompletion returns a completion buffer to the free list.
func (rp *ResourcePool) ReleaseCompletion(c *CompletionSlot) {
	select {
	case rp.completions <- c:
	default:
	}
}

// AcquireRequestSlot pops a free request-record slot.
func (rp *ResourcePool) AcquireRequestSlot() (*RequestSlot, bool) {
	select {
	case s := <-rp.records:
		s.State = nil
		return s, true
	default:
		return nil, false
	}
}

// ReleaseRequestSlot returns a request-record slot to FREE. Per §4.7,
// re-entry into FREE must only happen from COMPLETED; callers are
// responsible for enforcing that ordering before calling this.
func (rp *ResourcePool) ReleaseRequestSlot(s *RequestSlot) {
	s.State = nil
	select {
	case rp.records <- s:
	default:
	}
}

// PostInitialReceiveRing drains every free capsule into qp's receive
// stage as a RECV work request and flushes it, so the queue pair
// enters service with a full receive ring posted (§3 C7).
func (rp *ResourcePool) PostInitialReceiveRing(qp *QueuePair) error {
	for {
		c, ok := rp.AcquireCapsule()
		if !ok {
			break
		}
		wr := &wrqueue.WorkRequest{
			Op:       wrqueue.OpRecv,
			Signaled: true,
			UserData: c,
			SGEs: []wrqueue.SGE{{
				Addr:   dataAddr(c.Buf.Data),
				Length: uint32(len(c.Buf.Data)),
				LKey:   c.Buf.LKey,
			}},
		}
		qp.RecvStage.Queue(wr)
	}
	_, _, err := qp.RecvStage.Flush()
	return err
}

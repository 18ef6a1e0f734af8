// File: memmap/map.go
// Package memmap implements the memory registration map (C4): a
// process-wide mapping from virtual-address ranges to RDMA local/
// remote keys, backed by registered memory regions and reference
// counted per protection domain.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package memmap

import (
	"sort"
	"sync"

	"github.com/momentics/nvmeof-rdma/internal/errs"
)

// Registrar performs the actual RDMA memory registration for one
// virtual-address range, returning the local/remote keys of the
// resulting memory region. Production code backs this with
// ibv_reg_mr; tests back it with a fake that mints incrementing keys.
type Registrar interface {
	RegisterRegion(vaddr uintptr, length int) (lkey, rkey uint32, err error)
	DeregisterRegion(vaddr uintptr, length int)
}

type region struct {
	vaddr  uintptr
	length int
	lkey   uint32
	rkey   uint32
	refs   int
}

func (r *region) contains(vaddr uintptr, length int) bool {
	return vaddr >= r.vaddr && vaddr+uintptr(length) <= r.vaddr+uintptr(r.length)
}

func (r *region) adjacent(vaddr uintptr, length int) bool {
	return vaddr == r.vaddr+uintptr(r.length)
}

// Map is one protection domain's registered-region set. Translation
// never spans multiple regions: a lookup whose requested length
// exceeds what a single matching region covers fails with ENOENT.
type Map struct {
	mu       sync.RWMutex
	regions  []*region // kept sorted by vaddr
	registrar Registrar
}

// NewMap creates a Map backed by registrar.
func NewMap(registrar Registrar) *Map {
	return &Map{registrar: registrar}
}

// Register ensures [vaddr, vaddr+length) is covered by a registered
// region, registering a new one if necessary, collapsing it into an
// adjacent region when the adjacent region was produced by the same
// registration call (identical translation), and incrementing the
// covering region's reference count.
func (m *Map) Register(vaddr uintptr, length int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, r := m.find(vaddr, length); r != nil {
		_ = idx
		r.refs++
		return nil
	}

	lkey, rkey, err := m.registrar.RegisterRegion(vaddr, length)
	if err != nil {
		return err
	}
	r := &region{vaddr: vaddr, length: length, lkey: lkey, rkey: rkey, refs: 1}

	// Collapse into an immediately adjacent region sharing the same
	// keys, avoiding fragmentation for sequential registrations.
	for _, existing := range m.regions {
		if existing.lkey == lkey && existing.rkey == rkey && existing.adjacent(vaddr, length) {
			existing.length += length
			return nil
		}
	}

	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].vaddr < m.regions[j].vaddr })
	return nil
}

// Unregister decrements the reference count of the region covering
// [vaddr, vaddr+length), deregistering and removing it once the count
// reaches zero.
func (m *Map) Unregister(vaddr uintptr, length int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, r := m.find(vaddr, length)
	if r == nil {
		return errs.ENOENT
	}
	r.refs--
	if r.refs > 0 {
		return nil
	}
	m.registrar.DeregisterRegion(r.vaddr, r.length)
	m.regions = append(m.regions[:idx], m.regions[idx+1:]...)
	return nil
}

// Lookup translates [vaddr, vaddr+length) to (lkey, rkey). It fails
// with ENOENT if no single region covers the entire requested range.
func (m *Map) Lookup(vaddr uintptr, length int) (lkey, rkey uint32, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, r := m.find(vaddr, length)
	if r == nil {
		return 0, 0, errs.ENOENT
	}
	return r.lkey, r.rkey, nil
}

// find returns the region fully covering [vaddr, vaddr+length), or
// nil if none does. Caller must hold m.mu.
func (m *Map) find(vaddr uintptr, length int) (int, *region) {
	for i, r := range m.regions {
		if r.contains(vaddr, length) {
			return i, r
		}
	}
	return -1, nil
}

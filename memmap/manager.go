// File: memmap/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager lazily creates one Map per protection domain and shares it
// across every queue pair bound to that PD, mirroring the teacher's
// pool.BufferPoolManager NUMA-node-keyed map generalized to PD keys.

package memmap

import "sync"

// PDHandle identifies a protection domain.
type PDHandle uintptr

// Manager owns one *Map per protection domain.
type Manager struct {
	mu   sync.RWMutex
	maps map[PDHandle]*Map
	newRegistrar func(PDHandle) Registrar
}

// NewManager creates a Manager that lazily builds a Registrar for
// each newly seen protection domain via newRegistrar.
func NewManager(newRegistrar func(PDHandle) Registrar) *Manager {
	return &Manager{
		maps:         make(map[PDHandle]*Map),
		newRegistrar: newRegistrar,
	}
}

// MapFor returns the Map for pd, creating it on first use.
func (m *Manager) MapFor(pd PDHandle) *Map {
	m.mu.RLock()
	mm, ok := m.maps[pd]
	m.mu.RUnlock()
	if ok {
		return mm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mm, ok := m.maps[pd]; ok {
		return mm
	}
	mm = NewMap(m.newRegistrar(pd))
	m.maps[pd] = mm
	return mm
}

// Close releases all per-PD maps tracked by the manager. It does not
// deregister outstanding regions; callers must unregister before close.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maps = make(map[PDHandle]*Map)
}

// File: pollgroup/pollgroup.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pollgroup

import (
	"context"
	"fmt"
	"sync"

	"github.com/momentics/nvmeof-rdma/qpair"
)

// Group owns a list of per-device Pollers and assigns new queue pairs
// to them round-robin through one cursor; admin (qid 0) and I/O queue
// pairs share that cursor rather than advancing separate ones.
type Group struct {
	mu      sync.Mutex
	pollers []*Poller
	next    int
}

// NewGroup creates an empty poll group.
func NewGroup() *Group { return &Group{} }

// AddPoller registers a poller with the group.
func (g *Group) AddPoller(p *Poller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pollers = append(g.pollers, p)
}

// Assign binds qp to the next poller in round-robin order.
func (g *Group) Assign(qp *qpair.QueuePair) (*Poller, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pollers) == 0 {
		return nil, fmt.Errorf("pollgroup: no pollers registered")
	}
	p := g.pollers[g.next%len(g.pollers)]
	g.next++
	p.Assign(qp)
	return p, nil
}

// Run starts every poller's loop, returning once ctx is cancelled and
// all pollers have stopped.
func (g *Group) Run(ctx context.Context) {
	g.mu.Lock()
	pollers := append([]*Poller(nil), g.pollers...)
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	wg.Wait()
}

// Stop stops every poller.
func (g *Group) Stop() {
	g.mu.Lock()
	pollers := append([]*Poller(nil), g.pollers...)
	g.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
}

// Pollers returns a snapshot of the registered pollers.
func (g *Group) Pollers() []*Poller {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Poller(nil), g.pollers...)
}

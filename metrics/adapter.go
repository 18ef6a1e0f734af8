// File: metrics/adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package metrics

import (
	"github.com/momentics/nvmeof-rdma/connmgr"
	"github.com/momentics/nvmeof-rdma/pollgroup"
)

// GroupProvider adapts a live pollgroup.Group and connmgr.Manager
// into the Provider interface Collect consumes.
type GroupProvider struct {
	Group *pollgroup.Group
	Conns *connmgr.Manager
}

func (g GroupProvider) Pollers() []PollerSnapshot {
	pollers := g.Group.Pollers()
	out := make([]PollerSnapshot, 0, len(pollers))
	for _, p := range pollers {
		out = append(out, PollerSnapshot{
			Device:          p.Device(),
			PollsCompleted:  p.PollsCompletedValue(),
			CompletionsSeen: p.CompletionsSeenValue(),
			Assigned:        p.Len(),
		})
	}
	return out
}

func (g GroupProvider) QueuePairs() []QueuePairSnapshot {
	var out []QueuePairSnapshot
	for _, p := range g.Group.Pollers() {
		for _, qp := range p.QueuePairs() {
			out = append(out, QueuePairSnapshot{
				QID:       qp.QID,
				SendDepth: qp.Counters.CurrentSendDepth(),
				ReadDepth: qp.Counters.CurrentReadDepth(),
				RecvDepth: qp.Counters.CurrentRecvDepth(),
			})
		}
	}
	return out
}

func (g GroupProvider) ConnectionCount() int {
	if g.Conns == nil {
		return 0
	}
	return g.Conns.Count()
}

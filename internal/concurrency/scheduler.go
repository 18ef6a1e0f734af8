// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer-heap scheduler used for the connection manager's
// stale-connection retry backoff.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/nvmeof-rdma/api"
)

type timerTask struct {
	deadline time.Time
	fn       func()
	index    int
	canceled bool
}

// Done/Err/Cancel implement api.Cancelable.
func (t *timerTask) Cancel() error {
	t.canceled = true
	return nil
}

func (t *timerTask) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *timerTask) Err() error { return nil }

type taskHeap []*timerTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler is a single-goroutine min-heap timer wheel implementing
// api.Scheduler. It backs the connection manager's stale-connection
// retry backoff (rdmacm.Conn.Deliver).
type Scheduler struct {
	mu     sync.Mutex
	timerQ taskHeap
	notify chan struct{}
	stop   chan struct{}
	start  time.Time
}

// NewScheduler creates and starts a Scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		start:  time.Now(),
	}
	heap.Init(&s.timerQ)
	go s.run()
	return s
}

// Schedule arranges fn to run after delayNanos elapse.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.ErrInvalidArgument
	}
	t := &timerTask{deadline: time.Now().Add(time.Duration(delayNanos)), fn: fn}
	s.mu.Lock()
	heap.Push(&s.timerQ, t)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return t, nil
}

// Cancel marks a previously scheduled task as canceled; the run loop
// skips canceled tasks when it reaches them.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	return c.Cancel()
}

// Now returns nanoseconds elapsed since the scheduler started.
func (s *Scheduler) Now() int64 {
	return int64(time.Since(s.start))
}

// Close stops the run loop.
func (s *Scheduler) Close() {
	close(s.stop)
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.mu.Lock()
		for s.timerQ.Len() > 0 && s.timerQ[0].canceled {
			heap.Pop(&s.timerQ)
		}
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}
		next := s.timerQ[0]
		wait := time.Until(next.deadline)
		s.mu.Unlock()

		if wait <= 0 {
			s.fireReady()
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
			s.fireReady()
		case <-s.notify:
		case <-s.stop:
			return
		}
	}
}

// fireReady pops and runs every task whose deadline has passed.
func (s *Scheduler) fireReady() {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 || s.timerQ[0].deadline.After(now) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.timerQ).(*timerTask)
		s.mu.Unlock()
		if !t.canceled {
			go t.fn()
		}
	}
}

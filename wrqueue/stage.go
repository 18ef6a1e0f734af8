// File: wrqueue/stage.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Staging list for one direction (sends or recvs) of one queue pair.
// Queue appends; Flush posts the chain and, on partial failure,
// rewinds the staged head to the failing WR so the caller can retry it
// and mark the guilty request as
// INTERNAL_DEVICE_ERROR.

package wrqueue

import "sync"

// Stage holds one direction's staged work-request chain plus the
// current outstanding depth for the owning queue pair.
type Stage struct {
	mu          sync.Mutex
	head        *WorkRequest
	tail        *WorkRequest
	count       int
	currentDepth int
	batching    bool // false for the admin queue pair or when batching is disabled
	poster      Poster
}

// NewStage creates a Stage. batching=false flushes immediately on
// every Queue call (admin queue pairs, or no_wr_batching transport option).
func NewStage(poster Poster, batching bool) *Stage {
	return &Stage{poster: poster, batching: batching}
}

// Queue appends wr to the staged chain. If batching is disabled, it
// flushes immediately.
func (s *Stage) Queue(wr *WorkRequest) (posted int, bad *WorkRequest, err error) {
	s.mu.Lock()
	wr.Next = nil
	if s.tail == nil {
		s.head = wr
	} else {
		s.tail.Next = wr
	}
	s.tail = wr
	s.count++
	batching := s.batching
	s.mu.Unlock()

	if !batching {
		return s.Flush()
	}
	return 0, nil, nil
}

// Flush posts the staged chain. On partial failure it rewinds the
// staged head to the failing WR (which remains queued for a future
// flush attempt). currentDepth grows by the number of WRs that were
// posted.
func (s *Stage) Flush() (posted int, bad *WorkRequest, err error) {
	s.mu.Lock()
	head := s.head
	total := s.count
	s.mu.Unlock()

	if head == nil {
		return 0, nil, nil
	}

	posted, bad, err = s.poster.PostChain(head)

	s.mu.Lock()
	defer s.mu.Unlock()
	unposted := total - posted
	s.currentDepth += posted
	if bad != nil {
		// Rewind: the failing WR and everything after it remain staged.
		s.head = bad
		if s.head == nil {
			s.tail = nil
		}
		s.count = unposted
	} else {
		s.head = nil
		s.tail = nil
		s.count = 0
	}
	return posted, bad, err
}

// Pending returns the number of WRs currently staged but not yet posted.
func (s *Stage) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// CurrentDepth returns the number of outstanding posted WRs tracked by
// this stage.
func (s *Stage) CurrentDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDepth
}

// CompleteOne decrements the outstanding depth by one, called when a
// completion for a WR posted by this stage is reaped.
func (s *Stage) CompleteOne() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentDepth > 0 {
		s.currentDepth--
	}
}

// File: initiator/controller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Controller façade (C12): tracks one NVMe-oF association's admin
// queue pair, I/O queue pairs, and negotiated capabilities. Queue-pair
// establishment itself runs through rdmacm.Conn/connmgr.Manager;
// Controller only owns the bookkeeping layered on top (§4's "C12
// Initiator controller façade").

package initiator

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rs/xid"

	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// ErrTooManyQueuePairs is returned when CreateIOQueue would exceed
// max_qpairs_per_ctrlr (including the admin queue pair).
var ErrTooManyQueuePairs = errors.New("initiator: max_qpairs_per_ctrlr exceeded")

// ErrUnknownQueuePair is returned when DestroyIOQueue names a qid that
// was never created, or the admin queue pair (qid 0, destroyed only by
// tearing down the whole Controller).
var ErrUnknownQueuePair = errors.New("initiator: unknown I/O queue pair")

// Capabilities are the controller-wide limits negotiated at CONNECT
// time (§4.8, §4.10), shared with the C8 builder's Caps type.
type Capabilities = Caps

// Controller is one NVMe-oF association: one admin queue pair (qid 0)
// plus up to MaxQueuePairs-1 I/O queue pairs.
type Controller struct {
	ID xid.ID

	mu    sync.Mutex
	admin *qpair.QueuePair
	ioQPs map[int]*qpair.QueuePair
	caps  Capabilities
	log   *slog.Logger
}

// NewController mints a fresh association identity and binds admin as
// its admin queue pair. caps must already reflect the values
// negotiated during CONNECT (§4.10's min() formulas).
func NewController(admin *qpair.QueuePair, caps Capabilities, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if caps.MaxQueuePairs == 0 {
		caps.MaxQueuePairs = 128
	}
	return &Controller{
		ID:    xid.New(),
		admin: admin,
		ioQPs: make(map[int]*qpair.QueuePair),
		caps:  caps,
		log:   log,
	}
}

// Caps returns the controller's negotiated capabilities.
func (c *Controller) Caps() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// AdminQueue returns the controller's admin queue pair.
func (c *Controller) AdminQueue() *qpair.QueuePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admin
}

// CreateIOQueue creates and registers a new I/O queue pair with the
// given qid (qid 0 is reserved for the admin queue), rejecting the
// call once max_qpairs_per_ctrlr would be exceeded.
func (c *Controller) CreateIOQueue(qid int, sizing qpair.Sizing, poster wrqueue.Poster, batching bool) (*qpair.QueuePair, error) {
	if qid == qpair.AdminQID {
		return nil, errors.New("initiator: qid 0 is reserved for the admin queue pair")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if 1+len(c.ioQPs) >= c.caps.MaxQueuePairs {
		return nil, ErrTooManyQueuePairs
	}
	if _, exists := c.ioQPs[qid]; exists {
		return nil, errors.New("initiator: qid already in use")
	}

	qp := qpair.NewQueuePair(qid, sizing, poster, batching)
	c.ioQPs[qid] = qp
	c.log.Info("initiator: created I/O queue pair", "ctrlr", c.ID.String(), "qid", qid)
	return qp, nil
}

// DestroyIOQueue removes and forgets the I/O queue pair registered
// under qid. The caller is responsible for having already drained and
// disconnected it (ReadyToDestroy).
func (c *Controller) DestroyIOQueue(qid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ioQPs[qid]; !ok {
		return ErrUnknownQueuePair
	}
	delete(c.ioQPs, qid)
	c.log.Info("initiator: destroyed I/O queue pair", "ctrlr", c.ID.String(), "qid", qid)
	return nil
}

// NumQueuePairs returns the count of queue pairs, including admin.
func (c *Controller) NumQueuePairs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 1 + len(c.ioQPs)
}

// QueuePair returns the I/O queue pair registered under qid, if any.
func (c *Controller) QueuePair(qid int) (*qpair.QueuePair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qp, ok := c.ioQPs[qid]
	return qp, ok
}

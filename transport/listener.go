// File: transport/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Target listener (C13): validates inbound CONNECT private data,
// negotiates queue sizing per §4.10, and creates the queue-pair
// skeleton handed off to a poll-group poller.

package transport

import (
	"errors"
	"log/slog"

	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/rdmacm"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// ErrInvalidRecFmt is returned when a CONNECT request's private data
// names a record format other than the one this transport understands.
var ErrInvalidRecFmt = errors.New("transport: invalid private-data recfmt")

// DeviceLimits captures the RDMA device ceilings consulted by the
// §4.10 min() formulas for depth negotiation.
type DeviceLimits struct {
	MaxQPWR         int // device.max_qp_wr
	MaxQPInitRdAtom int // device.max_qp_init_rd_atom
}

// Negotiated is the depth-negotiation outcome for one accepted
// connection.
type Negotiated struct {
	MaxQueueDepth int
	MaxReadDepth  int
}

// NegotiateDepths applies §4.10's formulas: max_queue_depth =
// min(transport_max, device.max_qp_wr, host.hsqsize+1, host.hrqsize);
// max_read_depth = min(transport_max, device.max_qp_init_rd_atom,
// host.initiator_depth).
func NegotiateDepths(opts Options, dev DeviceLimits, req rdmacm.ConnectRequest, initiatorDepth int) Negotiated {
	maxQD := min4(opts.MaxQueueDepth, dev.MaxQPWR, int(req.HSQSize)+1, int(req.HRQSize))
	maxRD := min3(opts.MaxQueueDepth, dev.MaxQPInitRdAtom, initiatorDepth)
	return Negotiated{MaxQueueDepth: maxQD, MaxReadDepth: maxRD}
}

func min3(a, b, c int) int { return min2(min2(a, b), c) }
func min4(a, b, c, d int) int { return min2(min3(a, b, c), d) }
func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Listener binds an address (conceptually; actual rdma_cm socket
// setup lives outside this package's scope per SPEC_FULL.md's
// external-collaborator boundary) and turns validated CONNECT_REQUEST
// events into queue-pair skeletons.
type Listener struct {
	Opts    Options
	Device  DeviceLimits
	Backlog int
	log     *slog.Logger
}

// NewListener creates a Listener. backlog is clamped to the §4.10
// minimum of 1.
func NewListener(opts Options, dev DeviceLimits, backlog int, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	if backlog < minAcceptorBacklog {
		backlog = minAcceptorBacklog
	}
	return &Listener{Opts: opts, Device: dev, Backlog: backlog, log: log}
}

// ValidatePrivateData decodes and checks privData against the
// standard NVMe-oF RDMA CONNECT private-data format (§4.10): it must
// parse to ConnectRequestSize bytes and carry recfmt == 0.
func (l *Listener) ValidatePrivateData(privData []byte) (rdmacm.ConnectRequest, error) {
	var req rdmacm.ConnectRequest
	if err := req.Unmarshal(privData); err != nil {
		return req, err
	}
	if req.RecFmt != rdmacm.RecFmt {
		return req, ErrInvalidRecFmt
	}
	return req, nil
}

// Accept validates privData, negotiates depths, and builds the
// queue-pair skeleton for qid. poster/batching mirror the admin
// queue pair never batching convention (qid == qpair.AdminQID forces
// batching off regardless of the requested value).
func (l *Listener) Accept(privData []byte, initiatorDepth int, poster wrqueue.Poster, batching bool) (*qpair.QueuePair, rdmacm.ConnectRequest, error) {
	req, err := l.ValidatePrivateData(privData)
	if err != nil {
		return nil, req, err
	}

	neg := NegotiateDepths(l.Opts, l.Device, req, initiatorDepth)
	sizing := qpair.Sizing{
		NumEntries:   neg.MaxQueueDepth,
		MaxSendDepth: neg.MaxQueueDepth,
		MaxReadDepth: neg.MaxReadDepth,
		MaxSendSGE:   l.Opts.MaxSGLEntries,
		MaxRecvSGE:   l.Opts.MaxSGLEntries,
	}

	qp := qpair.NewQueuePair(int(req.QID), sizing, poster, batching)
	l.log.Info("transport: accepted connection", "qid", req.QID, "cntlid", req.CntlID,
		"max_queue_depth", neg.MaxQueueDepth, "max_read_depth", neg.MaxReadDepth)
	return qp, req, nil
}

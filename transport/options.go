// File: transport/options.go
// Package transport implements the C11 transport registry and
// option struct: a versioned, JSON-overlaid options block mirroring
// SPDK's spdk_nvmf_transport_opts, grounded on the teacher's
// config.go JSON-with-unknown-keys-tolerated decode pattern.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package transport

import "encoding/json"

// OptsSize is bumped whenever a field is added to Options, letting a
// caller detect it is holding a stale/truncated struct (mirroring
// SPDK's opts_size convention).
const OptsSize = 1

const (
	defaultMaxQueueDepth    = 128
	defaultMaxQPairsPerCtrlr = 128
	defaultICDSize          = 4096
	defaultMaxIOSize        = 128 * 1024
	defaultMaxAQDepth       = 128
	minAQDepth              = 32
	defaultAssociationMs    = 120000
	defaultAcceptorBacklog  = 100
	minAcceptorBacklog      = 1
	defaultNumCQE           = 256
)

// Options is the process-wide, immutable-after-creation transport
// configuration (§3 "Transport options").
type Options struct {
	OptsSizeField int `json:"opts_size"`

	MaxQueueDepth      int  `json:"max_queue_depth"`
	MaxQPairsPerCtrlr  int  `json:"max_qpairs_per_ctrlr"`
	InCapsuleDataSize  int  `json:"in_capsule_data_size"`
	MaxIOSize          int  `json:"max_io_size"`
	IOUnitSize         int  `json:"io_unit_size"`
	MaxAQDepth         int  `json:"max_aq_depth"`
	NumSharedBuffers   int  `json:"num_shared_buffers"`
	BufCacheSize       int  `json:"buf_cache_size"`
	DIFInsertOrStrip   bool `json:"dif_insert_or_strip"`
	AbortTimeoutSec    int  `json:"abort_timeout_sec"`
	AssociationTimeout int  `json:"association_timeout"`
	AcceptorPollRateMs int  `json:"acceptor_poll_rate"`

	// RDMA-specific.
	NumCQE          int  `json:"num_cqe"`
	MaxSRQDepth     int  `json:"max_srq_depth"`
	NoSRQ           bool `json:"no_srq"`
	NoWRBatching    bool `json:"no_wr_batching"`
	AcceptorBacklog int  `json:"acceptor_backlog"`

	MaxSGLEntries int `json:"-"` // derived, not decoded directly
}

// Default returns an Options populated with every §3 default.
func Default() Options {
	maxSGLEntries := 16
	o := Options{
		OptsSizeField:      OptsSize,
		MaxQueueDepth:      defaultMaxQueueDepth,
		MaxQPairsPerCtrlr:  defaultMaxQPairsPerCtrlr,
		InCapsuleDataSize:  defaultICDSize,
		MaxIOSize:          defaultMaxIOSize,
		MaxAQDepth:         defaultMaxAQDepth,
		NumSharedBuffers:   2 * maxSGLEntries,
		AssociationTimeout: defaultAssociationMs,
		NumCQE:             defaultNumCQE,
		AcceptorBacklog:    defaultAcceptorBacklog,
		MaxSGLEntries:      maxSGLEntries,
	}
	o.IOUnitSize = roundUpTo4KiB(o.MaxIOSize / maxSGLEntries)
	return o
}

// DecodeJSON overlays raw onto a copy of base, tolerating unknown
// keys by first decoding into a map and only applying recognized
// fields (§6 "unknown keys are tolerated"), then re-applies the §3
// defaulting/clamping rules to whatever the overlay changed.
func DecodeJSON(base Options, raw []byte) (Options, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return base, err
	}

	apply := func(key string, dst any) error {
		v, ok := generic[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	o := base
	fields := []struct {
		key string
		dst any
	}{
		{"max_queue_depth", &o.MaxQueueDepth},
		{"max_qpairs_per_ctrlr", &o.MaxQPairsPerCtrlr},
		{"in_capsule_data_size", &o.InCapsuleDataSize},
		{"max_io_size", &o.MaxIOSize},
		{"io_unit_size", &o.IOUnitSize},
		{"max_aq_depth", &o.MaxAQDepth},
		{"num_shared_buffers", &o.NumSharedBuffers},
		{"buf_cache_size", &o.BufCacheSize},
		{"dif_insert_or_strip", &o.DIFInsertOrStrip},
		{"abort_timeout_sec", &o.AbortTimeoutSec},
		{"association_timeout", &o.AssociationTimeout},
		{"acceptor_poll_rate", &o.AcceptorPollRateMs},
		{"num_cqe", &o.NumCQE},
		{"max_srq_depth", &o.MaxSRQDepth},
		{"no_srq", &o.NoSRQ},
		{"no_wr_batching", &o.NoWRBatching},
		{"acceptor_backlog", &o.AcceptorBacklog},
	}
	for _, f := range fields {
		if err := apply(f.key, f.dst); err != nil {
			return base, err
		}
	}

	o.Clamp()
	return o, nil
}

// Clamp enforces §3's clamping rules after any overlay: max_aq_depth
// has a spec minimum of 32, acceptor_backlog a minimum of 1, and
// io_unit_size is always rounded up to a 4 KiB multiple.
func (o *Options) Clamp() {
	if o.MaxAQDepth < minAQDepth {
		o.MaxAQDepth = minAQDepth
	}
	if o.AcceptorBacklog < minAcceptorBacklog {
		o.AcceptorBacklog = minAcceptorBacklog
	}
	o.IOUnitSize = roundUpTo4KiB(o.IOUnitSize)
}

func roundUpTo4KiB(n int) int {
	const unit = 4096
	if n <= 0 {
		return unit
	}
	return ((n + unit - 1) / unit) * unit
}

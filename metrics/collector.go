// File: metrics/collector.go
// Package metrics implements the C15 Prometheus exporter: a
// prometheus.Collector grounded on the pack's rdma_exporter
// collector.go (per-metric *prometheus.Desc built once in the
// constructor, a mutex-guarded Collect pulling a snapshot from an
// injected Provider, a dedicated scrape-errors counter). Kept
// deliberately ambient: nothing in pollgroup, qpair, connmgr or dif
// imports this package.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package metrics

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PollerSnapshot is one poll-group poller's counters at scrape time.
type PollerSnapshot struct {
	Device          string
	PollsCompleted  int64
	CompletionsSeen int64
	Assigned        int
}

// QueuePairSnapshot is one queue pair's live depth counters at scrape
// time.
type QueuePairSnapshot struct {
	QID       int
	SendDepth int64
	ReadDepth int64
	RecvDepth int64
}

// Provider supplies the live state a Collector exports. Implemented
// by GroupProvider for this module's own types; tests substitute a
// fake.
type Provider interface {
	Pollers() []PollerSnapshot
	QueuePairs() []QueuePairSnapshot
	ConnectionCount() int
}

// Collector implements prometheus.Collector for the transport's
// runtime state.
type Collector struct {
	provider Provider
	log      *slog.Logger

	pollsCompletedDesc  *prometheus.Desc
	completionsSeenDesc *prometheus.Desc
	pollerAssignedDesc  *prometheus.Desc

	qpSendDepthDesc *prometheus.Desc
	qpReadDepthDesc *prometheus.Desc
	qpRecvDepthDesc *prometheus.Desc

	connectionCountDesc *prometheus.Desc

	difErrors *prometheus.CounterVec

	scrapeErrors prometheus.Counter

	mu sync.Mutex
}

// New creates a Collector reading from provider. provider may be nil
// at construction time and supplied later by calling SetProvider;
// while it is nil, Collect reports only the scrape-errors counter.
func New(provider Provider, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		provider: provider,
		log:      log,
		pollsCompletedDesc: prometheus.NewDesc(
			"nvmeof_rdma_poller_polls_completed_total",
			"Total PollOnce invocations performed by a poll-group poller.",
			[]string{"device"}, nil,
		),
		completionsSeenDesc: prometheus.NewDesc(
			"nvmeof_rdma_poller_completions_seen_total",
			"Total work completions observed by a poll-group poller.",
			[]string{"device"}, nil,
		),
		pollerAssignedDesc: prometheus.NewDesc(
			"nvmeof_rdma_poller_assigned_queue_pairs",
			"Number of queue pairs currently assigned to a poller.",
			[]string{"device"}, nil,
		),
		qpSendDepthDesc: prometheus.NewDesc(
			"nvmeof_rdma_qpair_send_depth",
			"Current outstanding send work-request depth for a queue pair.",
			[]string{"qid"}, nil,
		),
		qpReadDepthDesc: prometheus.NewDesc(
			"nvmeof_rdma_qpair_read_depth",
			"Current outstanding RDMA read work-request depth for a queue pair.",
			[]string{"qid"}, nil,
		),
		qpRecvDepthDesc: prometheus.NewDesc(
			"nvmeof_rdma_qpair_recv_depth",
			"Current outstanding receive work-request depth for a queue pair.",
			[]string{"qid"}, nil,
		),
		connectionCountDesc: prometheus.NewDesc(
			"nvmeof_rdma_connections",
			"Number of registered RDMA_CM connection identifiers.",
			nil, nil,
		),
		difErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nvmeof_rdma_dif_errors_total",
			Help: "Total T10-DIF/DIX verification failures, by failing field.",
		}, []string{"kind"}),
		scrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nvmeof_rdma_scrape_errors_total",
			Help: "Total number of errors encountered while collecting metrics.",
		}),
	}
}

// SetProvider swaps the Provider a Collector scrapes. Safe to call
// concurrently with Collect.
func (c *Collector) SetProvider(provider Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
}

// RecordDIFError increments the failure counter for kind (one of
// dif.ErrorKind's String() values). dif itself never calls it, which
// keeps dif free of a metrics import; no request-path code in this
// module calls it either.
func (c *Collector) RecordDIFError(kind string) {
	c.difErrors.WithLabelValues(kind).Inc()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pollsCompletedDesc
	ch <- c.completionsSeenDesc
	ch <- c.pollerAssignedDesc
	ch <- c.qpSendDepthDesc
	ch <- c.qpReadDepthDesc
	ch <- c.qpRecvDepthDesc
	ch <- c.connectionCountDesc
	c.difErrors.Describe(ch)
	c.scrapeErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		c.scrapeErrors.Inc()
		c.scrapeErrors.Collect(ch)
		return
	}

	for _, p := range c.provider.Pollers() {
		ch <- prometheus.MustNewConstMetric(c.pollsCompletedDesc, prometheus.CounterValue, float64(p.PollsCompleted), p.Device)
		ch <- prometheus.MustNewConstMetric(c.completionsSeenDesc, prometheus.CounterValue, float64(p.CompletionsSeen), p.Device)
		ch <- prometheus.MustNewConstMetric(c.pollerAssignedDesc, prometheus.GaugeValue, float64(p.Assigned), p.Device)
	}

	for _, qp := range c.provider.QueuePairs() {
		qid := strconv.Itoa(qp.QID)
		ch <- prometheus.MustNewConstMetric(c.qpSendDepthDesc, prometheus.GaugeValue, float64(qp.SendDepth), qid)
		ch <- prometheus.MustNewConstMetric(c.qpReadDepthDesc, prometheus.GaugeValue, float64(qp.ReadDepth), qid)
		ch <- prometheus.MustNewConstMetric(c.qpRecvDepthDesc, prometheus.GaugeValue, float64(qp.RecvDepth), qid)
	}

	ch <- prometheus.MustNewConstMetric(c.connectionCountDesc, prometheus.GaugeValue, float64(c.provider.ConnectionCount()))

	c.difErrors.Collect(ch)
	c.scrapeErrors.Collect(ch)
}

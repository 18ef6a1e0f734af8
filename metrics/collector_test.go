package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	pollers []PollerSnapshot
	qpairs  []QueuePairSnapshot
	conns   int
}

func (f fakeProvider) Pollers() []PollerSnapshot       { return f.pollers }
func (f fakeProvider) QueuePairs() []QueuePairSnapshot { return f.qpairs }
func (f fakeProvider) ConnectionCount() int            { return f.conns }

func collectAll(t *testing.T, c *Collector) []prometheus.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	var out []prometheus.Metric
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func TestDescribeEmitsOneDescPerMetricFamily(t *testing.T) {
	c := New(fakeProvider{}, nil)
	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	if n != 9 { // 7 fixed descs + difErrors + scrapeErrors
		t.Fatalf("expected 9 descriptors, got %d", n)
	}
}

func TestCollectWithNilProviderIncrementsScrapeErrors(t *testing.T) {
	c := New(nil, nil)
	metrics := collectAll(t, c)
	require.Len(t, metrics, 1, "expected exactly the scrape-errors counter")

	var m dto.Metric
	require.NoError(t, metrics[0].Write(&m))
	require.Equal(t, float64(1), m.Counter.GetValue())
}

func TestCollectEmitsPollerAndQueuePairMetrics(t *testing.T) {
	c := New(fakeProvider{
		pollers: []PollerSnapshot{{Device: "mlx5_0", PollsCompleted: 10, CompletionsSeen: 40, Assigned: 2}},
		qpairs:  []QueuePairSnapshot{{QID: 3, SendDepth: 5, ReadDepth: 1, RecvDepth: 8}},
		conns:   4,
	}, nil)

	metrics := collectAll(t, c)
	// 3 poller metrics + 3 qpair metrics + 1 connection-count gauge +
	// 1 scrape-errors counter = 8
	require.Len(t, metrics, 8)
}

func TestRecordDIFErrorIncrementsLabeledCounter(t *testing.T) {
	c := New(fakeProvider{}, nil)
	c.RecordDIFError("guard check error")
	c.RecordDIFError("guard check error")

	ch := make(chan prometheus.Metric, 8)
	c.difErrors.Collect(ch)
	close(ch)

	var m dto.Metric
	for metric := range ch {
		require.NoError(t, metric.Write(&m))
	}
	require.Equal(t, float64(2), m.Counter.GetValue())
}

func TestSetProviderSwapsSource(t *testing.T) {
	c := New(fakeProvider{conns: 1}, nil)
	c.SetProvider(fakeProvider{conns: 9})

	metrics := collectAll(t, c)
	require.Len(t, metrics, 2, "expected the connection-count gauge and the scrape-errors counter")

	var m dto.Metric
	require.NoError(t, metrics[0].Write(&m))
	require.Equal(t, float64(9), m.Gauge.GetValue())
}

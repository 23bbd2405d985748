package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "kvstorm"

var (
	opsDesc = prometheus.NewDesc(namespace+"_operations_total",
		"Credited operations.", nil, nil)
	kindDesc = prometheus.NewDesc(namespace+"_operations_by_kind_total",
		"Credited operations by kind.", []string{"kind"}, nil)
	txnDesc = prometheus.NewDesc(namespace+"_transactions_total",
		"Credited transactions.", nil, nil)
	retryDesc = prometheus.NewDesc(namespace+"_retries_total",
		"Transactions resubmitted after a retryable error.", nil, nil)
	ambiguousDesc = prometheus.NewDesc(namespace+"_ambiguous_commits_total",
		"Commits with an unknown result credited as success.", nil, nil)
	abandonedDesc = prometheus.NewDesc(namespace+"_abandoned_transactions_total",
		"Transactions dropped without credit.", nil, nil)
	latencyDesc = prometheus.NewDesc(namespace+"_commit_latency_seconds_avg",
		"Average commit latency since the run started.", nil, nil)
)

var _ prometheus.Collector = (*Counters)(nil)

// Describe implements prometheus.Collector
func (c *Counters) Describe(ch chan<- *prometheus.Desc) {
	ch <- opsDesc
	ch <- kindDesc
	ch <- txnDesc
	ch <- retryDesc
	ch <- ambiguousDesc
	ch <- abandonedDesc
	ch <- latencyDesc
}

// Collect implements prometheus.Collector
func (c *Counters) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	counter(opsDesc, s.Ops)
	counter(kindDesc, s.Reads, "get")
	counter(kindDesc, s.RangeReads, "get_range")
	counter(kindDesc, s.Sets, "set")
	counter(kindDesc, s.Clears, "clear")
	counter(kindDesc, s.RangeClears, "clear_range")
	counter(txnDesc, s.Transactions)
	counter(retryDesc, s.Retries)
	counter(ambiguousDesc, s.Ambiguous)
	counter(abandonedDesc, s.Abandoned)
	ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, s.AverageLatency().Seconds())
}

// Package metrics provides the run-wide operation counters.
//
// Counters holds monotonically non-decreasing totals of credited operations
// with a per-kind breakdown, committed transactions, retries, ambiguous
// commits and abandoned transactions. Every mutation is an atomic add;
// nothing is ever reset during a run.
//
// # Aggregation
//
// Each load unit keeps its own Counters and periodically ships the
// difference since its last flush as a Delta. A single aggregator applies
// the deltas to the run-wide Counters:
//
//	local := metrics.NewCounters()
//	// ... workers credit local ...
//	snap := local.Snapshot()
//	sink <- snap.Sub(last)
//	last = snap
//
//	// aggregator
//	total.Apply(<-sink)
//
// # Prometheus
//
// Counters implements prometheus.Collector and can be registered on any
// registry:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(total)
package metrics

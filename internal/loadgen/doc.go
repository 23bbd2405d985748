// Package loadgen generates pipelined transactional load.
//
// A Generator fans out into units, one store client each, run either as
// goroutine groups in this process or as child processes. Every unit runs a
// number of Transactors. A Transactor keeps up to the pipeline depth of
// transactions in flight, waits on the oldest, and classifies its outcome:
//
//   - committed: credited to the counters
//   - commit_unknown_result: credited once, never resubmitted
//   - other retryable errors: rebuilt through the store's backoff and
//     resubmitted at the front of the queue with the same operations
//   - backoff failure or stop requested: abandoned, not credited
//
// Each Transactor owns a Namespace whose fixed-width prefix is derived
// from the run salt, unit index and worker index, so no two workers of a
// run can touch the same key or key range.
//
// Units count locally and ship deltas to a single aggregator which owns the
// run-wide metrics.Counters. A Reporter samples those counters on a fixed
// tick and never writes to them.
package loadgen

// Package executor provides a bounded goroutine pool for asynchronous work
// such as transaction commits.
//
// The Pool runs a fixed number of goroutines that take jobs from a shared
// queue. Submit blocks while the queue is full, which gives callers natural
// backpressure. Stop refuses new jobs and drains the queue, so every job
// that was accepted runs exactly once.
//
// # Basic Usage
//
//	pool := executor.NewPool(4)
//	pool.Start()
//	defer pool.Stop()
//
//	if !pool.Submit(func() { commit(tx) }) {
//	    // the pool is stopping; resolve the caller yourself
//	}
//
// # Configuration
//
//	pool := executor.NewPoolWithConfig(executor.PoolConfig{
//	    NumWorkers:  8,
//	    QueueFactor: 64, // queue size = 8 * 64
//	})
package executor

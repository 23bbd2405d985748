package executor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	assert.Equal(t, 4, NewPool(4).NumWorkers())
	assert.Equal(t, runtime.NumCPU(), NewPool(0).NumWorkers())

	p := NewPoolWithConfig(PoolConfig{NumWorkers: 2, QueueFactor: 3})
	assert.Equal(t, 6, cap(p.jobs))
}

func TestPoolStartStop(t *testing.T) {
	p := NewPool(2)
	p.Start()
	p.Start()
	p.Stop()
	p.Stop()

	assert.False(t, p.Submit(func() {}), "stopped pool rejects jobs")
	p.Start()
	assert.False(t, p.Submit(func() {}), "a stopped pool cannot be restarted")
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	p := NewPool(1)
	assert.False(t, p.Submit(func() {}))
	assert.False(t, p.TrySubmit(func() {}))
}

func TestPoolRunsEveryAcceptedJob(t *testing.T) {
	p := NewPoolWithConfig(PoolConfig{NumWorkers: 3, QueueFactor: 2})
	p.Start()

	var ran atomic.Int32
	accepted := 0
	for range 100 {
		if p.Submit(func() {
			time.Sleep(100 * time.Microsecond)
			ran.Add(1)
		}) {
			accepted++
		}
	}
	p.Stop()

	assert.Equal(t, 100, accepted)
	assert.Equal(t, int32(100), ran.Load(), "Stop drains the queue")
	assert.Equal(t, uint64(100), p.Executed())
}

func TestPoolTrySubmitFull(t *testing.T) {
	p := NewPoolWithConfig(PoolConfig{NumWorkers: 1, QueueFactor: 1})
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started
	require.True(t, p.TrySubmit(func() {}), "one queue slot is free")
	assert.False(t, p.TrySubmit(func() {}), "queue is full")
	assert.Equal(t, 1, p.QueueSize())
	close(release)
}

func TestPoolSurvivesPanic(t *testing.T) {
	p := NewPool(1)
	p.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, p.Submit(func() { panic("boom") }))
	require.True(t, p.Submit(func() { wg.Done() }))
	wg.Wait()
	p.Stop()
}

func TestPoolConcurrentSubmitAndStop(t *testing.T) {
	p := NewPool(4)
	p.Start()

	var ran, accepted atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if p.Submit(func() { ran.Add(1) }) {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	p.Stop()
	wg.Wait()

	assert.Equal(t, accepted.Load(), ran.Load())
}

package loadgen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstorm/internal/metrics"
	"kvstorm/internal/store"
)

type deltaRecorder struct {
	mu     sync.Mutex
	total  metrics.Delta
	deltas int
}

func (r *deltaRecorder) sink(d metrics.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = r.total.Add(d)
	r.deltas++
}

func (r *deltaRecorder) sum() (metrics.Delta, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total, r.deltas
}

func TestUnitFlushesAllWork(t *testing.T) {
	c := &fakeClient{latency: 2 * time.Millisecond}
	u := NewUnit(UnitConfig{
		Index:         1,
		Salt:          "abcd",
		Threads:       3,
		Pipeline:      2,
		KeyCount:      100,
		Mix:           smallMix(),
		FlushInterval: 20 * time.Millisecond,
		Seed:          9,
	}, c.open)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	var rec deltaRecorder
	require.NoError(t, u.Run(ctx, rec.sink))

	total, n := rec.sum()
	assert.Greater(t, n, 1, "flushed periodically")
	assert.Equal(t, u.Counters().Snapshot().Delta, total, "final flush carries the remainder")
	assert.Positive(t, total.Transactions)
	assert.True(t, c.closed.Load())

	require.Len(t, u.Transactors(), 3)
	for _, tr := range u.Transactors() {
		assert.LessOrEqual(t, tr.MaxInFlight(), 2)
	}
}

func TestUnitOpenFailure(t *testing.T) {
	u := NewUnit(UnitConfig{Salt: "abcd", Threads: 1, Pipeline: 1, KeyCount: 10, Mix: smallMix()},
		func(context.Context, store.AdapterConfig) (store.Client, error) {
			return nil, errors.New("connection refused")
		})

	err := u.Run(context.Background(), func(metrics.Delta) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit-0: open store client")
}

// procs=2, threads=2, pipeline=4 で常に成功するクライアントに対する総量
func TestGeneratorThroughputAgainstAlwaysSucceedingStore(t *testing.T) {
	const (
		procs    = 2
		threads  = 2
		pipeline = 4
		latency  = 10 * time.Millisecond
		duration = 300 * time.Millisecond
	)
	c := &fakeClient{latency: latency}

	cfg := DefaultConfig()
	cfg.Procs = procs
	cfg.Threads = threads
	cfg.Pipeline = pipeline
	cfg.Duration = duration
	cfg.Mix = smallMix()
	cfg.FlushInterval = 20 * time.Millisecond

	g := NewGenerator(cfg, InProcess{Open: c.open})
	require.NoError(t, g.Run(context.Background()))

	s := g.Counters().Snapshot()
	opsPerTxn := uint64(cfg.Mix.OpsPerTxn)
	// 各ワーカーは latency ごとに pipeline 個の取引を完了させる
	expected := float64(procs*threads*pipeline) * float64(duration/latency) * float64(opsPerTxn)

	assert.InEpsilon(t, expected, float64(s.Ops), 0.4, "ops=%d expected≈%.0f", s.Ops, expected)
	assert.Equal(t, s.Transactions*opsPerTxn, s.Ops)
	assert.Zero(t, s.Abandoned)
	assert.Zero(t, s.Retries)

	committed, _, _, _ := c.results()
	assert.Equal(t, uint64(committed), s.Transactions, "every committed transaction reaches the aggregator")
	assert.Zero(t, g.ActiveUnits())
}

func TestGeneratorStopsOnContext(t *testing.T) {
	c := &fakeClient{latency: time.Millisecond}
	cfg := DefaultConfig()
	cfg.Procs = 1
	cfg.Threads = 1
	cfg.Pipeline = 2
	cfg.Mix = smallMix()

	g := NewGenerator(cfg, InProcess{Open: c.open})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("generator did not stop")
	}
	assert.Positive(t, g.Counters().Transactions())
}

func TestGeneratorReportsUnitFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Procs = 2
	cfg.Duration = 50 * time.Millisecond

	g := NewGenerator(cfg, InProcess{Open: func(context.Context, store.AdapterConfig) (store.Client, error) {
		return nil, errors.New("no route to host")
	}})
	err := g.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route to host")
}

func TestGeneratorConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 8, cfg.Pipeline)
	assert.Equal(t, 256, cfg.Mix.OpsPerTxn)
	assert.Equal(t, 32768, cfg.Mix.ValueSize)
	assert.InDelta(t, 0.05, cfg.Mix.ReadFrac, 1e-9)
	assert.NoError(t, cfg.Validate())

	g := NewGenerator(cfg, nil)
	assert.Len(t, g.Config().Salt, SaltLen)
	assert.NotZero(t, g.Config().Seed)

	uc := g.UnitConfig(3)
	assert.Equal(t, 3, uc.Index)
	assert.Equal(t, g.Config().Salt, uc.Salt)
	assert.Equal(t, "unit-3", uc.Name())

	bad := cfg
	bad.Pipeline = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Salt = "toolong"
	assert.Error(t, bad.Validate())
}

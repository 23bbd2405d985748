package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kvstorm/internal/metrics"
	"kvstorm/internal/store"
)

// fakeClient はコミット結果を seq ごとに決められるストアクライアント
type fakeClient struct {
	latency time.Duration
	decide  func(seq uint64) error
	hangIf  func(seq uint64) bool

	hang         atomic.Bool
	seq          atomic.Uint64
	onErrorCalls atomic.Int64
	closed       atomic.Bool

	mu        sync.Mutex
	committed int
	ambiguous int
	failed    int
	ops       int
}

func (c *fakeClient) open(context.Context, store.AdapterConfig) (store.Client, error) {
	return c, nil
}

func (c *fakeClient) CreateTransaction() store.Transaction {
	return &fakeTx{client: c}
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeClient) record(err error, ops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.committed++
		c.ops += ops
	case store.IsCommitUnknown(err):
		c.ambiguous++
		c.ops += ops
	default:
		c.failed++
	}
}

func (c *fakeClient) results() (committed, ambiguous, failed, ops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed, c.ambiguous, c.failed, c.ops
}

type fakeTx struct {
	store.Buffer
	client *fakeClient
}

func (t *fakeTx) Commit() store.Future {
	c := t.client
	seq := c.seq.Add(1)
	p := store.NewPromise()
	if c.hang.Load() || (c.hangIf != nil && c.hangIf(seq)) {
		return p
	}
	var err error
	if c.decide != nil {
		err = c.decide(seq)
	}
	ops := len(t.Ops)
	resolve := func() {
		c.record(err, ops)
		p.Resolve(err)
	}
	if c.latency > 0 {
		time.AfterFunc(c.latency, resolve)
	} else {
		resolve()
	}
	return p
}

func (t *fakeTx) OnError(err error) store.Future {
	t.client.onErrorCalls.Add(1)
	if !store.IsRetryable(err) {
		return store.Resolved(err)
	}
	t.Reset()
	return store.Resolved(nil)
}

func smallMix() Mix {
	m := DefaultMix()
	m.OpsPerTxn = 4
	m.ValueSize = 8
	return m
}

func newTestTransactor(c *fakeClient, depth int, drain time.Duration) (*Transactor, *metrics.Counters) {
	ns, _ := Partition("abcd", 0, 0, 1000)
	counters := metrics.NewCounters()
	tr := NewTransactor(TransactorConfig{Name: "test", Depth: depth, DrainTimeout: drain},
		c, NewBatchGenerator(ns, smallMix(), 1), counters)
	return tr, counters
}

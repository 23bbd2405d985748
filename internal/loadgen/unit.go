package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"kvstorm/internal/logger"
	"kvstorm/internal/metrics"
	"kvstorm/internal/store"
)

const DefaultFlushInterval = 200 * time.Millisecond

// UnitConfig は1ユニット（1クライアント接続）の設定
type UnitConfig struct {
	Index         int                 `json:"index"`
	Salt          string              `json:"salt"`
	Threads       int                 `json:"threads"`
	Pipeline      int                 `json:"pipeline"`
	KeyCount      uint64              `json:"key_count"`
	Mix           Mix                 `json:"mix"`
	Adapter       store.AdapterConfig `json:"adapter"`
	FlushInterval time.Duration       `json:"flush_interval"`
	DrainTimeout  time.Duration       `json:"drain_timeout"`
	Seed          uint64              `json:"seed"`
}

// Name はログ用のユニット名を返す
func (c UnitConfig) Name() string {
	return fmt.Sprintf("unit-%d", c.Index)
}

// ClientOpener はユニット用のクライアントを開く
type ClientOpener func(ctx context.Context, cfg store.AdapterConfig) (store.Client, error)

// Sink はユニットからの差分を受け取る
type Sink func(metrics.Delta)

// Unit は1つのクライアント接続と複数のTransactorを持つ
type Unit struct {
	cfg         UnitConfig
	open        ClientOpener
	counters    *metrics.Counters
	transactors []*Transactor
}

// NewUnit は新しいUnitを作成する。open が nil なら store.Open を使う
func NewUnit(cfg UnitConfig, open ClientOpener) *Unit {
	if open == nil {
		open = store.Open
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Unit{cfg: cfg, open: open, counters: metrics.NewCounters()}
}

// Counters はユニット内のカウンタを返す
func (u *Unit) Counters() *metrics.Counters {
	return u.counters
}

// Transactors は起動済みの Transactor を返す（Run 開始後のみ）
func (u *Unit) Transactors() []*Transactor {
	return u.transactors
}

// Run はワーカーを起動し、ctx 終了後にドレインしてから戻る
// カウンタの差分は FlushInterval ごとと終了時に sink へ送る
func (u *Unit) Run(ctx context.Context, sink Sink) error {
	client, err := u.open(ctx, u.cfg.Adapter)
	if err != nil {
		return errors.Wrapf(err, "%s: open store client", u.cfg.Name())
	}
	defer client.Close()

	u.transactors = make([]*Transactor, u.cfg.Threads)
	for w := range u.cfg.Threads {
		ns, err := Partition(u.cfg.Salt, u.cfg.Index, w, u.cfg.KeyCount)
		if err != nil {
			return err
		}
		seed := u.cfg.Seed ^ uint64(u.cfg.Index)<<32 ^ uint64(w)
		u.transactors[w] = NewTransactor(TransactorConfig{
			Name:         fmt.Sprintf("%s/w%d", u.cfg.Name(), w),
			Depth:        u.cfg.Pipeline,
			DrainTimeout: u.cfg.DrainTimeout,
		}, client, NewBatchGenerator(ns, u.cfg.Mix, seed), u.counters)
	}

	logger.Info(u.cfg.Name(), "Unit started (%d workers, pipeline %d)", u.cfg.Threads, u.cfg.Pipeline)

	workersDone := make(chan struct{})
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		u.flushLoop(workersDone, sink)
	}()

	var g errgroup.Group
	for _, t := range u.transactors {
		g.Go(func() error { return t.Run(ctx) })
	}
	err = g.Wait()
	close(workersDone)
	<-flushDone

	s := u.counters.Snapshot()
	logger.Info(u.cfg.Name(), "Unit finished (ops: %d, txns: %d, retries: %d, abandoned: %d)",
		s.Ops, s.Transactions, s.Retries, s.Abandoned)
	return err
}

func (u *Unit) flushLoop(done <-chan struct{}, sink Sink) {
	ticker := time.NewTicker(u.cfg.FlushInterval)
	defer ticker.Stop()

	var last metrics.Snapshot
	flush := func() {
		cur := u.counters.Snapshot()
		if d := cur.Sub(last); !d.IsZero() {
			sink(d)
		}
		last = cur
	}

	for {
		select {
		case <-done:
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

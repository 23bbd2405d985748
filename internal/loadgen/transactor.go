package loadgen

import (
	"context"
	"sync/atomic"
	"time"

	"kvstorm/internal/logger"
	"kvstorm/internal/metrics"
	"kvstorm/internal/store"
)

const DefaultDrainTimeout = 30 * time.Second

// slot は未解決の (取引, コミット) の組。再送時は作り直す
type slot struct {
	tx        store.Transaction
	batch     Batch
	future    store.Future
	submitted time.Time
}

// TransactorConfig は Transactor の設定
type TransactorConfig struct {
	Name         string
	Depth        int
	DrainTimeout time.Duration
}

// Transactor は1ワーカー分のパイプライン
type Transactor struct {
	cfg      TransactorConfig
	client   store.Client
	gen      *BatchGenerator
	counters *metrics.Counters

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// NewTransactor は新しいTransactorを作成する
func NewTransactor(cfg TransactorConfig, client store.Client, gen *BatchGenerator, counters *metrics.Counters) *Transactor {
	if cfg.Depth <= 0 {
		cfg.Depth = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Transactor{cfg: cfg, client: client, gen: gen, counters: counters}
}

func (t *Transactor) submit(tx store.Transaction, batch Batch) *slot {
	batch.ApplyTo(tx)
	return &slot{tx: tx, batch: batch, future: tx.Commit(), submitted: time.Now()}
}

func (t *Transactor) setInFlight(n int) {
	t.inFlight.Store(int64(n))
	for {
		cur := t.maxInFlight.Load()
		if int64(n) <= cur || t.maxInFlight.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// InFlight は現在のパイプラインの深さを返す
func (t *Transactor) InFlight() int {
	return int(t.inFlight.Load())
}

// MaxInFlight は観測したパイプラインの最大深さを返す
func (t *Transactor) MaxInFlight() int {
	return int(t.maxInFlight.Load())
}

// Run は ctx が終了するまで取引を流し続け、終了後は未解決の取引を処理し切ってから戻る
func (t *Transactor) Run(ctx context.Context) error {
	queue := make([]*slot, 0, t.cfg.Depth)
	var (
		drainCtx    context.Context
		cancelDrain context.CancelFunc = func() {}
	)
	defer func() { cancelDrain() }()
	defer t.setInFlight(0)

	startDrain := func() {
		if drainCtx == nil {
			drainCtx, cancelDrain = context.WithTimeout(context.Background(), t.cfg.DrainTimeout)
			logger.Debug(t.cfg.Name, "Draining %d in-flight transactions", len(queue))
		}
	}

	for {
		if ctx.Err() == nil {
			for len(queue) < t.cfg.Depth {
				queue = append(queue, t.submit(t.client.CreateTransaction(), t.gen.Next()))
			}
		}
		t.setInFlight(len(queue))

		if len(queue) == 0 {
			return nil
		}

		// 最も古いスロットの結果を待つ（完了順ではなく投入順）
		s := queue[0]
		queue = queue[1:]

		if drainCtx == nil {
			select {
			case <-s.future.Done():
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			startDrain()
		}

		var drainDone <-chan struct{}
		if drainCtx != nil {
			drainDone = drainCtx.Done()
		}
		resolved := false
		select {
		case <-s.future.Done():
			resolved = true
		case <-drainDone:
			// 期限切れ後でも解決済みの取引は結果どおりに扱う
			select {
			case <-s.future.Done():
				resolved = true
			default:
			}
		}
		if !resolved {
			t.counters.AddAbandoned()
			logger.Warn(t.cfg.Name, "Abandoned transaction still in flight after drain timeout")
			continue
		}
		err := s.future.Wait(context.Background())

		switch Classify(err, ctx.Err() != nil) {
		case Committed:
			t.counters.ObserveLatency(time.Since(s.submitted))
			t.counters.Apply(s.batch.Credit)
		case Accepted:
			t.counters.ObserveLatency(time.Since(s.submitted))
			credit := s.batch.Credit
			credit.Ambiguous = 1
			t.counters.Apply(credit)
		case Retry:
			if next := t.retry(s, err); next != nil {
				// 先頭に戻してパイプラインの深さをすぐに回復する
				queue = append([]*slot{next}, queue...)
			}
		case Abandon:
			t.counters.AddAbandoned()
		}
	}
}

// retry はストアのバックオフで取引を作り直し、同じバッチで再送する
// バックオフ自体が失敗したら破棄して nil を返す
func (t *Transactor) retry(s *slot, cause error) *slot {
	if err := s.tx.OnError(cause).Wait(context.Background()); err != nil {
		logger.Debug(t.cfg.Name, "Giving up on transaction: %v", err)
		t.counters.AddAbandoned()
		return nil
	}
	t.counters.AddRetry()
	return t.submit(s.tx, s.batch)
}

package metrics

import (
	"sync/atomic"
	"time"
)

// Delta は2時点間のカウンタの差分（またはユニットからの送信単位）
type Delta struct {
	Ops          uint64 `json:"ops"`
	Reads        uint64 `json:"reads"`
	RangeReads   uint64 `json:"range_reads"`
	Sets         uint64 `json:"sets"`
	Clears       uint64 `json:"clears"`
	RangeClears  uint64 `json:"range_clears"`
	Transactions uint64 `json:"transactions"`
	Retries      uint64 `json:"retries"`
	Ambiguous    uint64 `json:"ambiguous"`
	Abandoned    uint64 `json:"abandoned"`
	LatencyNs    uint64 `json:"latency_ns"`
	LatencyCount uint64 `json:"latency_count"`
}

// IsZero は差分がないかを返す
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Add は2つの差分を足し合わせる
func (d Delta) Add(o Delta) Delta {
	return Delta{
		Ops:          d.Ops + o.Ops,
		Reads:        d.Reads + o.Reads,
		RangeReads:   d.RangeReads + o.RangeReads,
		Sets:         d.Sets + o.Sets,
		Clears:       d.Clears + o.Clears,
		RangeClears:  d.RangeClears + o.RangeClears,
		Transactions: d.Transactions + o.Transactions,
		Retries:      d.Retries + o.Retries,
		Ambiguous:    d.Ambiguous + o.Ambiguous,
		Abandoned:    d.Abandoned + o.Abandoned,
		LatencyNs:    d.LatencyNs + o.LatencyNs,
		LatencyCount: d.LatencyCount + o.LatencyCount,
	}
}

// Counters はラン全体で共有されるカウンタ
type Counters struct {
	ops          atomic.Uint64
	reads        atomic.Uint64
	rangeReads   atomic.Uint64
	sets         atomic.Uint64
	clears       atomic.Uint64
	rangeClears  atomic.Uint64
	transactions atomic.Uint64
	retries      atomic.Uint64
	ambiguous    atomic.Uint64
	abandoned    atomic.Uint64
	latencyNs    atomic.Uint64
	latencyCount atomic.Uint64

	startTime time.Time
}

// NewCounters は新しいカウンタを作成する
func NewCounters() *Counters {
	return &Counters{startTime: time.Now()}
}

// Apply は差分を加算する
// 取引1件分の内訳を Transactions=1 として渡せば、その取引のクレジットになる
func (c *Counters) Apply(d Delta) {
	add := func(a *atomic.Uint64, v uint64) {
		if v != 0 {
			a.Add(v)
		}
	}
	add(&c.ops, d.Ops)
	add(&c.reads, d.Reads)
	add(&c.rangeReads, d.RangeReads)
	add(&c.sets, d.Sets)
	add(&c.clears, d.Clears)
	add(&c.rangeClears, d.RangeClears)
	add(&c.retries, d.Retries)
	add(&c.ambiguous, d.Ambiguous)
	add(&c.abandoned, d.Abandoned)
	add(&c.latencyNs, d.LatencyNs)
	add(&c.latencyCount, d.LatencyCount)
	// 取引数は最後に加算し、取引数を見た読み手には内訳も見えるようにする
	add(&c.transactions, d.Transactions)
}

// AddRetry はリトライを1件記録する
func (c *Counters) AddRetry() {
	c.retries.Add(1)
}

// AddAbandoned は放棄した取引を1件記録する
func (c *Counters) AddAbandoned() {
	c.abandoned.Add(1)
}

// ObserveLatency はコミットのレイテンシを記録する
func (c *Counters) ObserveLatency(d time.Duration) {
	c.latencyNs.Add(uint64(d.Nanoseconds()))
	c.latencyCount.Add(1)
}

// Ops はクレジット済みの操作数を返す
func (c *Counters) Ops() uint64 {
	return c.ops.Load()
}

// Transactions はクレジット済みの取引数を返す
func (c *Counters) Transactions() uint64 {
	return c.transactions.Load()
}

// Snapshot はある時点のカウンタの値
type Snapshot struct {
	Delta
	Elapsed time.Duration `json:"elapsed"`
}

// Snapshot は現在値を返す
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Delta: Delta{
			Transactions: c.transactions.Load(),
			Ops:          c.ops.Load(),
			Reads:        c.reads.Load(),
			RangeReads:   c.rangeReads.Load(),
			Sets:         c.sets.Load(),
			Clears:       c.clears.Load(),
			RangeClears:  c.rangeClears.Load(),
			Retries:      c.retries.Load(),
			Ambiguous:    c.ambiguous.Load(),
			Abandoned:    c.abandoned.Load(),
			LatencyNs:    c.latencyNs.Load(),
			LatencyCount: c.latencyCount.Load(),
		},
		Elapsed: time.Since(c.startTime),
	}
}

// Sub は prev からの差分を返す
func (s Snapshot) Sub(prev Snapshot) Delta {
	return Delta{
		Ops:          s.Ops - prev.Ops,
		Reads:        s.Reads - prev.Reads,
		RangeReads:   s.RangeReads - prev.RangeReads,
		Sets:         s.Sets - prev.Sets,
		Clears:       s.Clears - prev.Clears,
		RangeClears:  s.RangeClears - prev.RangeClears,
		Transactions: s.Transactions - prev.Transactions,
		Retries:      s.Retries - prev.Retries,
		Ambiguous:    s.Ambiguous - prev.Ambiguous,
		Abandoned:    s.Abandoned - prev.Abandoned,
		LatencyNs:    s.LatencyNs - prev.LatencyNs,
		LatencyCount: s.LatencyCount - prev.LatencyCount,
	}
}

// AverageLatency は平均コミットレイテンシを返す
func (d Delta) AverageLatency() time.Duration {
	if d.LatencyCount == 0 {
		return 0
	}
	return time.Duration(d.LatencyNs / d.LatencyCount)
}

// OverallOPS は開始からの平均 ops/s を返す
func (s Snapshot) OverallOPS() float64 {
	secs := s.Elapsed.Seconds()
	if secs == 0 {
		return 0
	}
	return float64(s.Ops) / secs
}

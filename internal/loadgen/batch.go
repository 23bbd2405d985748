package loadgen

import (
	"fmt"
	"math/rand/v2"

	"kvstorm/internal/metrics"
	"kvstorm/internal/store"
)

// Mix は取引内の操作分布
type Mix struct {
	OpsPerTxn     int     `json:"ops_per_txn" yaml:"ops_per_txn" mapstructure:"ops_per_txn"`
	ReadFrac      float64 `json:"read_frac" yaml:"read_frac" mapstructure:"read_frac"`
	RangeReadFrac float64 `json:"range_read_frac" yaml:"range_read_frac" mapstructure:"range_read_frac"`
	RangeLimit    int     `json:"range_limit" yaml:"range_limit" mapstructure:"range_limit"`
	SetWeight     float64 `json:"set_weight" yaml:"set_weight" mapstructure:"set_weight"`
	ClearWeight   float64 `json:"clear_weight" yaml:"clear_weight" mapstructure:"clear_weight"`
	RangeWeight   float64 `json:"clear_range_weight" yaml:"clear_range_weight" mapstructure:"clear_range_weight"`
	ValueSize     int     `json:"value_size" yaml:"value_size" mapstructure:"value_size"`
}

// DefaultMix はデフォルトの操作分布を返す
func DefaultMix() Mix {
	return Mix{
		OpsPerTxn:     256,
		ReadFrac:      0.05,
		RangeReadFrac: 0.1,
		RangeLimit:    50,
		SetWeight:     0.4,
		ClearWeight:   0.3,
		RangeWeight:   0.3,
		ValueSize:     32768,
	}
}

// Validate は設定値を検証する
func (m Mix) Validate() error {
	if m.OpsPerTxn <= 0 {
		return fmt.Errorf("ops_per_txn must be positive")
	}
	if m.ReadFrac < 0 || m.ReadFrac > 1 {
		return fmt.Errorf("read_frac must be within [0, 1]")
	}
	if m.RangeReadFrac < 0 || m.RangeReadFrac > 1 {
		return fmt.Errorf("range_read_frac must be within [0, 1]")
	}
	if m.SetWeight < 0 || m.ClearWeight < 0 || m.RangeWeight < 0 {
		return fmt.Errorf("write weights must not be negative")
	}
	if m.ReadFrac < 1 && m.SetWeight+m.ClearWeight+m.RangeWeight == 0 {
		return fmt.Errorf("write weights must not all be zero")
	}
	if m.ValueSize < 0 {
		return fmt.Errorf("value_size must not be negative")
	}
	return nil
}

// Batch は1取引分の操作と、成功時にクレジットする内訳
type Batch struct {
	Ops    []store.Op
	Credit metrics.Delta
}

// ApplyTo は操作を取引に積む
func (b *Batch) ApplyTo(tx store.Transaction) {
	for _, op := range b.Ops {
		switch op.Kind {
		case store.OpGet:
			tx.Get(op.Key)
		case store.OpGetRange:
			tx.GetRange(op.Key, op.End, op.Limit)
		case store.OpSet:
			tx.Set(op.Key, op.Value)
		case store.OpClear:
			tx.Clear(op.Key)
		case store.OpClearRange:
			tx.ClearRange(op.Key, op.End)
		}
	}
}

// BatchGenerator は名前空間内のキーで操作バッチを作る
// ゴルーチン間で共有しない
type BatchGenerator struct {
	ns     Namespace
	mix    Mix
	rng    *rand.Rand
	values []byte
}

// NewBatchGenerator は新しいBatchGeneratorを作成する
func NewBatchGenerator(ns Namespace, mix Mix, seed uint64) *BatchGenerator {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	// 値は事前に作ったランダム領域から切り出す
	values := make([]byte, 4*mix.ValueSize)
	for i := range values {
		values[i] = byte(rng.Uint32())
	}
	return &BatchGenerator{ns: ns, mix: mix, rng: rng, values: values}
}

// Namespace は生成元の名前空間を返す
func (g *BatchGenerator) Namespace() Namespace {
	return g.ns
}

func (g *BatchGenerator) key() []byte {
	return g.ns.Key(g.rng.Uint64N(g.ns.KeyCount))
}

func (g *BatchGenerator) value() []byte {
	if g.mix.ValueSize == 0 {
		return []byte{}
	}
	off := g.rng.IntN(len(g.values) - g.mix.ValueSize + 1)
	return g.values[off : off+g.mix.ValueSize]
}

// Next は次のバッチを生成する
func (g *BatchGenerator) Next() Batch {
	m := g.mix
	b := Batch{Ops: make([]store.Op, 0, m.OpsPerTxn)}
	writeTotal := m.SetWeight + m.ClearWeight + m.RangeWeight

	for range m.OpsPerTxn {
		k := g.key()
		if g.rng.Float64() < m.ReadFrac {
			if g.rng.Float64() < m.RangeReadFrac {
				b.Ops = append(b.Ops, store.Op{Kind: store.OpGetRange, Key: k, End: RangeEnd(k), Limit: m.RangeLimit})
				b.Credit.RangeReads++
			} else {
				b.Ops = append(b.Ops, store.Op{Kind: store.OpGet, Key: k})
				b.Credit.Reads++
			}
			continue
		}

		r := g.rng.Float64() * writeTotal
		switch {
		case r < m.SetWeight:
			b.Ops = append(b.Ops, store.Op{Kind: store.OpSet, Key: k, Value: g.value()})
			b.Credit.Sets++
		case r < m.SetWeight+m.ClearWeight:
			b.Ops = append(b.Ops, store.Op{Kind: store.OpClear, Key: k})
			b.Credit.Clears++
		default:
			b.Ops = append(b.Ops, store.Op{Kind: store.OpClearRange, Key: k, End: RangeEnd(k)})
			b.Credit.RangeClears++
		}
	}

	b.Credit.Ops = uint64(len(b.Ops))
	b.Credit.Transactions = 1
	return b
}

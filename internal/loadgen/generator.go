package loadgen

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"kvstorm/internal/logger"
	"kvstorm/internal/metrics"
	"kvstorm/internal/store"
)

// DefaultKeyCount はワーカーごとのキー数のデフォルト
const DefaultKeyCount = 1_000_000_000

// Config はLoadGeneratorの設定
type Config struct {
	Procs         int                 // ユニット数（0でCPU数）
	Threads       int                 // ユニットごとのワーカー数
	Pipeline      int                 // ワーカーごとの同時コミット数
	Duration      time.Duration       // 実行時間（0で ctx 終了まで）
	KeyCount      uint64              // ワーカーごとのキー数
	Mix           Mix                 // 取引内の操作分布
	Adapter       store.AdapterConfig // ストアアダプタ
	Isolate       bool                // ユニットを子プロセスで動かす
	FlushInterval time.Duration       // ユニットからの差分送信間隔
	DrainTimeout  time.Duration       // 停止後に未解決の取引を待つ上限
	Salt          string              // 名前空間のソルト（空なら自動生成）
	Seed          uint64              // 乱数シード（0なら時刻から）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Procs:         runtime.NumCPU(),
		Threads:       8,
		Pipeline:      8,
		KeyCount:      DefaultKeyCount,
		Mix:           DefaultMix(),
		Adapter:       store.AdapterConfig{Name: "memory"},
		FlushInterval: DefaultFlushInterval,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// Validate は設定値を検証する
func (c Config) Validate() error {
	if c.Procs < 0 || c.Procs > MaxIndex+1 {
		return fmt.Errorf("procs must be within [0, %d]", MaxIndex+1)
	}
	if c.Threads <= 0 || c.Threads > MaxIndex+1 {
		return fmt.Errorf("threads must be within [1, %d]", MaxIndex+1)
	}
	if c.Pipeline <= 0 {
		return fmt.Errorf("pipeline must be positive")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	if c.Salt != "" && len(c.Salt) != SaltLen {
		return fmt.Errorf("salt must be %d bytes", SaltLen)
	}
	return c.Mix.Validate()
}

// Spawner はユニットを起動し、終了まで待つ
type Spawner interface {
	Spawn(ctx context.Context, cfg UnitConfig, sink Sink) error
}

// InProcess は同じプロセス内のゴルーチンとしてユニットを動かす
type InProcess struct {
	Open ClientOpener
}

// Spawn implements Spawner
func (s InProcess) Spawn(ctx context.Context, cfg UnitConfig, sink Sink) error {
	return NewUnit(cfg, s.Open).Run(ctx, sink)
}

// Generator は複数ユニットを束ねて負荷をかける
// ユニットの差分はチャネル経由で1つの集約ゴルーチンが全体カウンタへ反映する
type Generator struct {
	config   Config
	spawner  Spawner
	counters *metrics.Counters

	running atomic.Bool
	deltas  chan metrics.Delta
	units   atomic.Int64
}

// NewGenerator は新しいGeneratorを作成する。spawner が nil ならプロセス内で動かす
func NewGenerator(config Config, spawner Spawner) *Generator {
	if config.Procs <= 0 {
		config.Procs = runtime.NumCPU()
	}
	if config.KeyCount == 0 {
		config.KeyCount = DefaultKeyCount
	}
	if config.Salt == "" {
		config.Salt = NewSalt()
	}
	if config.Seed == 0 {
		config.Seed = uint64(time.Now().UnixNano())
	}
	if spawner == nil {
		spawner = InProcess{}
	}
	return &Generator{
		config:   config,
		spawner:  spawner,
		counters: metrics.NewCounters(),
	}
}

// Counters は全体カウンタを返す
func (g *Generator) Counters() *metrics.Counters {
	return g.counters
}

// Config は補完済みの設定を返す
func (g *Generator) Config() Config {
	return g.config
}

// ActiveUnits は動作中のユニット数を返す
func (g *Generator) ActiveUnits() int {
	return int(g.units.Load())
}

// UnitConfig は index 番目のユニット設定を返す
func (g *Generator) UnitConfig(index int) UnitConfig {
	return UnitConfig{
		Index:         index,
		Salt:          g.config.Salt,
		Threads:       g.config.Threads,
		Pipeline:      g.config.Pipeline,
		KeyCount:      g.config.KeyCount,
		Mix:           g.config.Mix,
		Adapter:       g.config.Adapter,
		FlushInterval: g.config.FlushInterval,
		DrainTimeout:  g.config.DrainTimeout,
		Seed:          g.config.Seed,
	}
}

// Run は Duration が経過するか ctx が終了するまで負荷をかけ、全ユニットのドレイン後に戻る
func (g *Generator) Run(ctx context.Context) error {
	if g.running.Swap(true) {
		return fmt.Errorf("generator already running")
	}
	defer g.running.Store(false)

	if err := g.config.Validate(); err != nil {
		return err
	}

	if g.config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Duration)
		defer cancel()
	}

	g.deltas = make(chan metrics.Delta, g.config.Procs*4)
	var aggWg sync.WaitGroup
	aggWg.Add(1)
	go func() {
		defer aggWg.Done()
		for d := range g.deltas {
			g.counters.Apply(d)
		}
	}()

	logger.Info("", "Load generator started (units: %d, threads: %d, pipeline: %d, salt: %s, isolate: %v)",
		g.config.Procs, g.config.Threads, g.config.Pipeline, g.config.Salt, g.config.Isolate)

	var eg errgroup.Group
	for i := range g.config.Procs {
		cfg := g.UnitConfig(i)
		eg.Go(func() error {
			g.units.Add(1)
			defer g.units.Add(-1)
			if err := g.spawner.Spawn(ctx, cfg, g.send); err != nil {
				logger.Error(cfg.Name(), "Unit failed: %v", err)
				return err
			}
			return nil
		})
	}
	err := eg.Wait()

	close(g.deltas)
	aggWg.Wait()

	logger.Info("", "Load generator stopped (ops: %d, txns: %d)", g.counters.Ops(), g.counters.Transactions())
	return err
}

func (g *Generator) send(d metrics.Delta) {
	g.deltas <- d
}

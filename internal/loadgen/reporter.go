package loadgen

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"kvstorm/internal/events"
	"kvstorm/internal/logger"
	"kvstorm/internal/metrics"
)

// ReporterConfig は Reporter の設定
type ReporterConfig struct {
	Interval time.Duration
	Out      io.Writer
}

// DefaultReporterConfig はデフォルト設定を返す
func DefaultReporterConfig() ReporterConfig {
	return ReporterConfig{
		Interval: time.Second,
		Out:      os.Stdout,
	}
}

// Reporter は一定間隔でスループットを出力する
// カウンタは読み取るだけで変更しない
type Reporter struct {
	config   ReporterConfig
	counters *metrics.Counters
	eventBus events.Publisher

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	last   metrics.Snapshot
	lastAt time.Time
	ticks  uint64
}

// NewReporter は新しいReporterを作成する
func NewReporter(counters *metrics.Counters, config ReporterConfig) *Reporter {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Out == nil {
		config.Out = io.Discard
	}
	return &Reporter{config: config, counters: counters}
}

// SetEventBus はイベントバスを設定する
func (r *Reporter) SetEventBus(bus events.Publisher) {
	r.eventBus = bus
}

func (r *Reporter) publishEvent(event events.Event) {
	if r.eventBus != nil {
		r.eventBus.Publish(event)
	}
}

// Start は出力を開始する
func (r *Reporter) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.mu.Lock()
	r.last = r.counters.Snapshot()
	r.lastAt = time.Now()
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop()

	logger.Debug("", "Reporter started (interval: %v)", r.config.Interval)
}

// Stop は出力を停止する
func (r *Reporter) Stop() {
	if !r.running.Swap(false) {
		return
	}
	r.cancel()
	r.wg.Wait()
}

// Ticks は出力した回数を返す
func (r *Reporter) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

func (r *Reporter) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

// tick は前回からの差分を1行出力する
func (r *Reporter) tick(now time.Time) {
	cur := r.counters.Snapshot()

	r.mu.Lock()
	d := cur.Sub(r.last)
	elapsed := now.Sub(r.lastAt)
	r.last = cur
	r.lastAt = now
	r.ticks++
	r.mu.Unlock()

	rate := d.Ops
	if elapsed > 0 {
		rate = uint64(float64(d.Ops) / elapsed.Seconds())
	}

	fmt.Fprintf(r.config.Out, "%11s ops/s  txns=%s  retries=%s  total=%s\n",
		humanize.Comma(int64(rate)),
		humanize.Comma(int64(d.Transactions)),
		humanize.Comma(int64(d.Retries)),
		humanize.Comma(int64(cur.Ops)))

	r.publishEvent(events.NewThroughputEvent(rate, cur.Ops, cur.Transactions))
}

// Final は終了時の合計を出力する
func (r *Reporter) Final(out io.Writer) {
	s := r.counters.Snapshot()
	fmt.Fprintf(out, "Finished - %s total ops in %s (%s txns, %s retries, %s ambiguous, %s abandoned, avg %s ops/s, avg commit %v)\n",
		humanize.Comma(int64(s.Ops)),
		s.Elapsed.Round(time.Millisecond),
		humanize.Comma(int64(s.Transactions)),
		humanize.Comma(int64(s.Retries)),
		humanize.Comma(int64(s.Ambiguous)),
		humanize.Comma(int64(s.Abandoned)),
		humanize.Comma(int64(s.OverallOPS())),
		s.AverageLatency().Round(time.Microsecond))
}

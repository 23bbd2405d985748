package executor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"kvstorm/internal/logger"
)

// Job はプールが実行するジョブ
type Job func()

// PoolConfig はプールの設定
type PoolConfig struct {
	NumWorkers  int // ワーカー数（0でCPU数）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  0,
		QueueFactor: 64,
	}
}

// Pool は固定数のゴルーチンでジョブを実行する
type Pool struct {
	numWorkers int
	jobs       chan Job
	wg         sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	executed atomic.Uint64
	rejected atomic.Uint64
}

// NewPool は新しいプールを作成する
// numWorkers が 0 の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してプールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = DefaultPoolConfig().QueueFactor
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*queueFactor),
	}
}

// Start はプールを起動する
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.worker()
	}

	logger.Debug("", "Executor started with %d workers", p.numWorkers)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("", "Executor job panicked: %v", r)
		}
	}()
	job()
	p.executed.Add(1)
}

// Submit はジョブを送信する。キューが満杯ならブロックする
// 停止後は false を返し、ジョブは実行されない
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started || p.stopped {
		p.rejected.Add(1)
		return false
	}
	p.jobs <- job
	return true
}

// TrySubmit はキューに空きがある場合だけジョブを送信する
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started || p.stopped {
		p.rejected.Add(1)
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// Stop は新規ジョブを拒否し、キューに残ったジョブを実行し終えてから戻る
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	logger.Debug("", "Executor stopped (executed: %d, rejected: %d)", p.executed.Load(), p.rejected.Load())
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキュー長を返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Executed は実行済みジョブ数を返す
func (p *Pool) Executed() uint64 {
	return p.executed.Load()
}

package recovery

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"kvstorm/internal/cluster"
	"kvstorm/internal/events"
	"kvstorm/internal/logger"
)

// ErrConvergenceTimeout は上限時間内に収束しなかったことを示す
var ErrConvergenceTimeout = errors.New("convergence timeout")

// Config は収束待ちの設定
type Config struct {
	PollInterval time.Duration // ポーリング間隔
	Timeout      time.Duration // 上限時間（0以下で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		Timeout:      10 * time.Minute,
	}
}

// Outcome は収束待ちの結果種別
type Outcome int

// ゼロ値の Unknown は成功を意味しない
const (
	Unknown Outcome = iota
	Converged
	TimedOut
	Interrupted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case TimedOut:
		return "timed_out"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result は収束待ちの結果
type Result struct {
	Outcome  Outcome
	Polls    int
	Elapsed  time.Duration
	Last     cluster.RecoveryState
	Observed []string // 観測したリカバリ状態名（連続する重複は除く）
}

// Await はクラスタが収束するまでプローブをポーリングする
// プローブのエラーは即座に返す。ctx の終了は ctx.Err() として返す
func Await(ctx context.Context, probe cluster.Probe, cfg Config, pub events.Publisher) (Result, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	start := time.Now()
	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var res Result
	for {
		snap, err := probe.Snapshot(ctx)
		if err != nil {
			res.Elapsed = time.Since(start)
			if ctx.Err() != nil {
				res.Outcome = Interrupted
				return res, ctx.Err()
			}
			res.Outcome = Failed
			return res, err
		}

		res.Polls++
		res.Last = snap.Recovery
		if n := len(res.Observed); n == 0 || res.Observed[n-1] != snap.Recovery.Name {
			res.Observed = append(res.Observed, snap.Recovery.Name)
		}
		publish(pub, events.NewConvergencePollEvent(snap.Recovery.Name, snap.Recovery.Lag))

		if snap.Converged() {
			res.Outcome = Converged
			res.Elapsed = time.Since(start)
			logger.Info("", "Cluster converged after %d polls (%v)", res.Polls, res.Elapsed.Round(time.Millisecond))
			publish(pub, events.NewConvergedEvent(snap.Recovery.Name))
			return res, nil
		}
		logger.Debug("", "Waiting for convergence: state=%s lag=%.3f generations=%d",
			snap.Recovery.Name, snap.Recovery.Lag, snap.Recovery.ActiveGenerations)

		select {
		case <-ctx.Done():
			res.Outcome = Interrupted
			res.Elapsed = time.Since(start)
			return res, ctx.Err()
		case <-deadline:
			res.Outcome = TimedOut
			res.Elapsed = time.Since(start)
			logger.Error("", "Cluster did not converge within %v (state=%s lag=%.3f)",
				cfg.Timeout, res.Last.Name, res.Last.Lag)
			publish(pub, events.NewConvergenceTimeoutEvent(res.Last.Name, res.Last.Lag))
			return res, errors.Wrapf(ErrConvergenceTimeout, "last state %s, lag %.3f", res.Last.Name, res.Last.Lag)
		case <-ticker.C:
		}
	}
}

func publish(pub events.Publisher, ev events.Event) {
	if pub != nil {
		pub.Publish(ev)
	}
}

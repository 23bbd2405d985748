package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"kvstorm/internal/cluster"
	"kvstorm/internal/events"
	"kvstorm/internal/fault"
	"kvstorm/internal/loadgen"
	"kvstorm/internal/locator"
	"kvstorm/internal/logger"
	"kvstorm/internal/metrics"
	"kvstorm/internal/recovery"
	"kvstorm/internal/simcluster"
	"kvstorm/internal/store"
	"kvstorm/internal/store/memstore"
)

// Engine はシナリオ実行エンジン
// 負荷生成とフォールトエピソードを並行に動かし、結果をまとめる
type Engine struct {
	config   Config
	eventBus events.Publisher
	out      io.Writer
	spawner  loadgen.Spawner
	caps     *fault.Capabilities

	mu         sync.RWMutex
	running    bool
	probe      cluster.Probe
	sim        *simcluster.Cluster
	controller *fault.Controller
	generator  *loadgen.Generator
	reporter   *loadgen.Reporter
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
		out:    os.Stdout,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus events.Publisher) {
	e.eventBus = bus
}

// SetOutput はスループット表示の出力先を設定する
func (e *Engine) SetOutput(w io.Writer) {
	e.out = w
}

// SetSpawner はユニットの起動方法を差し替える
func (e *Engine) SetSpawner(s loadgen.Spawner) {
	e.spawner = s
}

// SetCapabilities は権限検出の結果を差し替える
func (e *Engine) SetCapabilities(caps fault.Capabilities) {
	e.caps = &caps
}

// Config はシナリオ設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Setup はクラスタ・コントローラ・負荷生成器を組み立てる。Run からも呼ばれる
func (e *Engine) Setup(ctx context.Context) error {
	if err := e.config.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.probe != nil {
		return nil
	}

	var loc locator.Locator
	if e.config.Cluster.Simulated {
		sim, err := simcluster.NewFromTopology(e.config.Cluster.Topology, e.config.Cluster.Sim)
		if err != nil {
			return fmt.Errorf("simulated cluster: %w", err)
		}
		e.sim = sim
		e.probe = sim
		loc = sim
	} else {
		e.probe = cluster.NewCLIProbe(cluster.CLIProbeConfig{
			Binary:      e.config.Cluster.CLI,
			ClusterFile: e.config.Cluster.ClusterFile,
			Timeout:     e.config.Cluster.ProbeTimeout,
		})
		loc = locator.NewOSLocator(e.probe, locator.OSConfig{ServerName: e.config.Cluster.ServerName})
	}

	if e.config.EnableFault {
		strategy, err := e.resolveStrategy(loc)
		if err != nil && !errors.Is(err, fault.ErrCapabilityInsufficient) {
			return err
		}
		e.controller = fault.NewController(e.probe, strategy, fault.Config{
			Recovery: recovery.Config{
				PollInterval: e.config.Fault.PollInterval,
				Timeout:      e.config.Fault.ConvergenceTimeout,
			},
		})
		if e.eventBus != nil {
			e.controller.SetEventBus(e.eventBus)
		}
	}

	if e.config.EnableLoad {
		e.generator = loadgen.NewGenerator(e.config.Load, e.unitSpawner())
		e.reporter = loadgen.NewReporter(e.generator.Counters(), loadgen.ReporterConfig{
			Interval: e.config.ReportInterval,
			Out:      e.out,
		})
		if e.eventBus != nil {
			e.reporter.SetEventBus(e.eventBus)
		}
	}

	logger.Info("", "Scenario '%s' set up (simulated: %v, load: %v, fault: %v)",
		e.config.Name, e.config.Cluster.Simulated, e.config.EnableLoad, e.config.EnableFault)
	return nil
}

func (e *Engine) resolveStrategy(loc locator.Locator) (fault.Strategy, error) {
	caps := fault.Capabilities{}
	switch {
	case e.caps != nil:
		caps = *e.caps
	case !e.config.Cluster.Simulated:
		caps = fault.DetectCapabilities()
	}

	return fault.ResolveStrategy(e.config.Fault.Mode, caps, fault.NewPauseStrategy(loc),
		func() (fault.Strategy, error) {
			rules, err := fault.NewIPTables()
			if err != nil {
				return nil, err
			}
			return fault.NewPartitionStrategy(rules, fault.PartitionConfig{}), nil
		})
}

// unitSpawner はユニットの起動方法を決める
// シミュレーション時はクラスタのゲートを持つ memstore クライアントをプロセス内で使う
func (e *Engine) unitSpawner() loadgen.Spawner {
	if e.spawner != nil {
		return e.spawner
	}
	if e.sim != nil {
		sim := e.sim
		return loadgen.InProcess{Open: func(_ context.Context, cfg store.AdapterConfig) (store.Client, error) {
			db, err := memstore.Shared(cfg.Addr)
			if err != nil {
				return nil, err
			}
			return memstore.New(db, memstore.Options{
				CommitLatency: cfg.CommitLatency,
				CommitWorkers: cfg.CommitWorkers,
				Gate:          sim.Gate,
			}), nil
		}}
	}
	if e.config.Load.Isolate {
		s, err := loadgen.NewExecSpawner()
		if err == nil {
			return s
		}
		logger.Warn("", "Cannot isolate units (%v), running them in-process", err)
	}
	return loadgen.InProcess{}
}

// Run はシナリオを実行する
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("scenario is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if err := e.Setup(ctx); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	logger.Info("", "=== Scenario '%s' started ===", e.config.Name)
	if e.config.Description != "" {
		logger.Info("", "Description: %s", e.config.Description)
	}

	result := &Result{
		ScenarioName: e.config.Name,
		StartTime:    time.Now(),
	}

	// 負荷は Load.Duration、または Load.Duration が0ならエピソード終了まで続ける
	loadCtx, stopLoad := context.WithCancel(ctx)
	defer stopLoad()

	var (
		wg      sync.WaitGroup
		loadErr error
	)
	if e.generator != nil {
		e.reporter.Start(loadCtx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			loadErr = e.generator.Run(loadCtx)
			if loadErr != nil {
				logger.Error("", "Load generator failed: %v", loadErr)
			}
		}()
	}

	var faultErr error
	if e.controller != nil {
		faultErr = e.runEpisode(ctx, result)
		if e.generator == nil || e.config.Load.Duration == 0 || faultErr != nil {
			stopLoad()
		}
	}

	wg.Wait()
	if e.reporter != nil {
		e.reporter.Stop()
		e.reporter.Final(e.out)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.collectResults(result)

	logger.Info("", "=== Scenario '%s' completed ===", e.config.Name)

	var errs *multierror.Error
	if faultErr != nil {
		errs = multierror.Append(errs, faultErr)
	}
	if loadErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("load: %w", loadErr))
	}
	return result, errs.ErrorOrNil()
}

// runEpisode は StartAfter の後にフォールトエピソードを1回実行する
func (e *Engine) runEpisode(ctx context.Context, result *Result) error {
	sel, err := e.config.Selector()
	if err != nil {
		return err
	}

	if d := e.config.Fault.StartAfter; d > 0 {
		logger.Info("", "Injecting %s fault on %s in %v", e.controller.Mode(), sel, d)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	report, err := e.controller.RunEpisode(ctx, fault.EpisodePlan{
		Selector:           sel,
		Duration:           e.config.Fault.Duration,
		ConvergenceTimeout: e.config.Fault.ConvergenceTimeout,
		SkipConvergence:    e.config.Fault.SkipConvergence,
	})
	result.Episode = &report
	if err != nil {
		result.FaultError = err.Error()
	}
	return err
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result) {
	if e.generator != nil {
		s := e.generator.Counters().Snapshot()
		result.Counters = &s
	}
	if e.controller != nil {
		result.Mode = e.controller.Mode().String()
		stats := e.controller.Status().Stats
		result.FaultStats = &stats
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if snap, err := e.probe.Snapshot(ctx); err == nil {
		result.FinalRecovery = snap.Recovery.Name
		result.FinalMembers = len(snap.Members)
	}
	if e.sim != nil {
		result.PausedMembers = e.sim.PausedCount()
	}
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Probe はステータスプローブを返す（Setup 前は nil）
func (e *Engine) Probe() cluster.Probe {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.probe
}

// Controller はフォールトコントローラを返す（フォールト無効なら nil）
func (e *Engine) Controller() *fault.Controller {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.controller
}

// Counters は負荷カウンタを返す（負荷無効なら nil）
func (e *Engine) Counters() *metrics.Counters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.generator == nil {
		return nil
	}
	return e.generator.Counters()
}

// Simulation はシミュレートしたクラスタを返す（実クラスタなら nil）
func (e *Engine) Simulation() *simcluster.Cluster {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sim
}

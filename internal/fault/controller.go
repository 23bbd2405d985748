package fault

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"kvstorm/internal/cluster"
	"kvstorm/internal/events"
	"kvstorm/internal/logger"
	"kvstorm/internal/recovery"
)

// State はコントローラの状態
type State int

const (
	StateIdle State = iota
	StateInjecting
	StateHealing
	StateConverging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInjecting:
		return "injecting"
	case StateHealing:
		return "healing"
	case StateConverging:
		return "converging"
	default:
		return "unknown"
	}
}

// Config はコントローラの設定
type Config struct {
	Recovery recovery.Config
}

// Stats はフォールト適用の統計
type Stats struct {
	Windows      uint64 `json:"windows"`
	HealFailures uint64 `json:"heal_failures"`
	Converged    uint64 `json:"converged"`
	TimedOut     uint64 `json:"timed_out"`
}

// Status はコントローラの現在の状態
type Status struct {
	State  string      `json:"state"`
	Mode   string      `json:"mode"`
	Active *WindowInfo `json:"active,omitempty"`
	Last   *WindowInfo `json:"last,omitempty"`
	Stats  Stats       `json:"stats"`
}

// Controller はフォールトウィンドウを1つずつ適用・解除する
type Controller struct {
	probe    cluster.Probe
	strategy Strategy
	config   Config
	eventBus events.Publisher

	mu     sync.Mutex
	state  State
	active *Window
	last   *Window
	stats  Stats
}

// NewController は新しいControllerを作成する
func NewController(probe cluster.Probe, strategy Strategy, config Config) *Controller {
	if config.Recovery.PollInterval <= 0 {
		config.Recovery.PollInterval = recovery.DefaultConfig().PollInterval
	}
	return &Controller{
		probe:    probe,
		strategy: strategy,
		config:   config,
	}
}

// SetEventBus はイベントバスを設定する
func (c *Controller) SetEventBus(bus events.Publisher) {
	c.eventBus = bus
}

func (c *Controller) publishEvent(event events.Event) {
	if c.eventBus != nil {
		c.eventBus.Publish(event)
	}
}

// Mode は有効な戦略のモードを返す
func (c *Controller) Mode() Mode {
	return c.strategy.Mode()
}

// SelectTargets はセレクタに一致するメンバーを決定的に選ぶ
// 一致がなければ ErrNoTargetMembers を返す
func (c *Controller) SelectTargets(ctx context.Context, sel cluster.Selector) (TargetSet, error) {
	snap, err := c.probe.Snapshot(ctx)
	if err != nil {
		return TargetSet{}, err
	}
	set := TargetSet{
		Selector: sel,
		Selected: snap.Select(sel),
		Others:   snap.Others(sel),
	}
	if len(set.Selected) == 0 {
		return TargetSet{}, errors.Wrapf(ErrNoTargetMembers, "selector %s matched none of %d members", sel, len(snap.Members))
	}
	logger.Info("", "Selected %d members for %s: %v", len(set.Selected), sel, set.MemberIDs())
	return set, nil
}

// ApplyFault は対象にフォールトを適用し、新しいウィンドウを返す
// 一部の対象への適用失敗は許容し、警告として記録する
func (c *Controller) ApplyFault(ctx context.Context, set TargetSet, duration time.Duration) (*Window, error) {
	if len(set.Selected) == 0 {
		return nil, ErrNoTargetMembers
	}

	c.mu.Lock()
	if c.active != nil || c.state == StateInjecting {
		c.mu.Unlock()
		return nil, ErrFaultActive
	}
	c.state = StateInjecting
	c.mu.Unlock()

	id := uuid.NewString()[:8]
	applied, err := c.applyStrategy(ctx, id, set)
	if applied == nil {
		c.setState(StateIdle)
		if err == nil {
			err = ErrNothingApplied
		}
		return nil, err
	}
	if err != nil {
		logger.Warn("", "Fault window %s partially applied: %v", id, err)
	}

	w := newWindow(id, c.strategy.Mode(), set, duration, applied)

	c.mu.Lock()
	c.active = w
	c.stats.Windows++
	c.mu.Unlock()

	logger.Info("", "Fault window %s applied (%s, %d items, duration %v)", id, w.Mode, applied.Count(), duration)
	c.publishEvent(events.NewFaultAppliedEvent(id, w.Mode.String(), applied.Count()))
	return w, nil
}

// applyStrategy は戦略のパニックをエラーとして返す
func (c *Controller) applyStrategy(ctx context.Context, id string, set TargetSet) (applied Applied, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("", "Fault strategy %s panicked in window %s: %v", c.strategy.Mode(), id, r)
			applied, err = nil, errors.Errorf("%s strategy panicked: %v", c.strategy.Mode(), r)
		}
	}()
	return c.strategy.Apply(ctx, id, set)
}

// Heal は有効なウィンドウを取り消す。ウィンドウがなければ何もしない
func (c *Controller) Heal(ctx context.Context) error {
	c.mu.Lock()
	w := c.active
	if w == nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateHealing
	c.mu.Unlock()

	err := w.Heal(ctx)

	c.mu.Lock()
	if c.active == w {
		c.active = nil
		c.last = w
		if err != nil {
			c.stats.HealFailures++
		}
	}
	c.state = StateIdle
	c.mu.Unlock()

	if err != nil {
		logger.Error("", "Fault window %s heal failed: %v", w.ID, err)
	} else {
		logger.Info("", "Fault window %s healed", w.ID)
	}
	c.publishEvent(events.NewFaultHealedEvent(w.ID, w.Mode.String(), err))
	return err
}

// AwaitConvergence はクラスタが収束するまで待つ
// timeout が0以下なら ctx の終了まで待ち続ける
func (c *Controller) AwaitConvergence(ctx context.Context, timeout time.Duration) (recovery.Result, error) {
	c.setState(StateConverging)
	defer c.setState(StateIdle)

	cfg := c.config.Recovery
	cfg.Timeout = timeout
	res, err := recovery.Await(ctx, c.probe, cfg, c.eventBus)

	c.mu.Lock()
	switch {
	case err == nil:
		c.stats.Converged++
	case errors.Is(err, recovery.ErrConvergenceTimeout):
		c.stats.TimedOut++
	}
	c.mu.Unlock()
	return res, err
}

// EpisodePlan は1回のフォールトエピソードの計画
type EpisodePlan struct {
	Selector           cluster.Selector
	Duration           time.Duration
	ConvergenceTimeout time.Duration
	SkipConvergence    bool
}

// EpisodeReport はエピソードの結果
type EpisodeReport struct {
	Window      WindowInfo       `json:"window"`
	Interrupted bool             `json:"interrupted"`
	Convergence *recovery.Result `json:"convergence,omitempty"`
}

// RunEpisode は選択→適用→待機→解除→収束待ちを実行する
// 解除は待機の中断やパニックを含むすべての経路で一度だけ実行される
func (c *Controller) RunEpisode(ctx context.Context, plan EpisodePlan) (report EpisodeReport, err error) {
	defer func() {
		var perr *PhaseError
		if errors.As(err, &perr) {
			logger.Error("", "Fault episode failed in %s phase: %v", perr.Phase, perr.Err)
			c.publishEvent(events.NewPhaseFailedEvent(string(perr.Phase), perr.Err))
		}
	}()

	set, err := c.SelectTargets(ctx, plan.Selector)
	if err != nil {
		return report, phaseError(PhaseSelection, err)
	}

	w, err := c.ApplyFault(ctx, set, plan.Duration)
	if err != nil {
		return report, phaseError(PhaseInjection, err)
	}

	healCtx := context.WithoutCancel(ctx)
	defer func() {
		// パニックなどで下の Heal を通らなかった場合の保険
		if !w.Healed() {
			_ = c.Heal(healCtx)
		}
	}()

	interrupted := sleepCtx(ctx, plan.Duration)
	report.Interrupted = interrupted

	healErr := c.Heal(healCtx)
	report.Window = w.Info()
	if healErr != nil {
		return report, phaseError(PhaseHealing, healErr)
	}

	if interrupted {
		logger.Warn("", "Fault window %s interrupted, skipping convergence wait", w.ID)
		return report, ctx.Err()
	}
	if plan.SkipConvergence {
		return report, nil
	}

	res, err := c.AwaitConvergence(ctx, plan.ConvergenceTimeout)
	report.Convergence = &res
	if err != nil {
		return report, phaseError(PhaseConvergence, err)
	}
	return report, nil
}

// Status はコントローラの状態を返す
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State: c.state.String(),
		Mode:  c.strategy.Mode().String(),
		Stats: c.stats,
	}
	if c.active != nil {
		info := c.active.Info()
		st.Active = &info
	}
	if c.last != nil {
		info := c.last.Info()
		st.Last = &info
	}
	return st
}

// State は現在の状態を返す
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// sleepCtx は d だけ待つ。ctx が先に終了したら true を返す
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() != nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

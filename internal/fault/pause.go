package fault

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"kvstorm/internal/locator"
	"kvstorm/internal/logger"
)

// PauseStrategy は対象メンバーのローカルプロセスを停止する
type PauseStrategy struct {
	locator locator.Locator
}

var _ Strategy = (*PauseStrategy)(nil)

// NewPauseStrategy は新しいPauseStrategyを作成する
func NewPauseStrategy(loc locator.Locator) *PauseStrategy {
	return &PauseStrategy{locator: loc}
}

// Mode implements Strategy
func (s *PauseStrategy) Mode() Mode {
	return ModePause
}

// Apply implements Strategy
func (s *PauseStrategy) Apply(ctx context.Context, windowID string, set TargetSet) (Applied, error) {
	targets, err := s.locator.MembersInLocality(ctx, set.Selector)
	if err != nil {
		return nil, errors.Wrap(err, "locate target processes")
	}

	wanted := make(map[string]bool, len(set.Selected))
	for _, m := range set.Selected {
		wanted[m.ID] = true
	}

	paused := &pausedProcesses{}
	var result *multierror.Error
	for _, t := range targets {
		if !wanted[t.MemberID] {
			continue
		}
		if err := pauseHandle(t.Handle); err != nil {
			logger.Warn(t.MemberID, "Pause failed for %s: %v", t.Handle.ID(), err)
			result = multierror.Append(result, errors.Wrapf(err, "pause %s", t))
			continue
		}
		paused.targets = append(paused.targets, t)
		logger.Info(t.MemberID, "Paused %s (window %s)", t.Handle.ID(), windowID)
	}

	if paused.Count() == 0 {
		if err := result.ErrorOrNil(); err != nil {
			return nil, errors.Wrap(ErrNothingApplied, err.Error())
		}
		return nil, errors.Wrapf(ErrNothingApplied, "no local process serves %s", set.Selector)
	}
	return paused, result.ErrorOrNil()
}

// pauseHandle はハンドルのパニックをエラーに変える
// それまでに停止したプロセスは記録に残り、解除の対象になる
func pauseHandle(h locator.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("pause panicked: %v", r)
		}
	}()
	return h.Pause()
}

type pausedProcesses struct {
	targets []locator.Target
}

// Heal resumes in reverse order of pausing.
func (p *pausedProcesses) Heal(context.Context) error {
	var result *multierror.Error
	for i := len(p.targets) - 1; i >= 0; i-- {
		t := p.targets[i]
		if err := t.Handle.Resume(); err != nil {
			logger.Error(t.MemberID, "Resume failed for %s: %v", t.Handle.ID(), err)
			result = multierror.Append(result, errors.Wrapf(err, "resume %s", t))
			continue
		}
		logger.Info(t.MemberID, "Resumed %s", t.Handle.ID())
	}
	return result.ErrorOrNil()
}

func (p *pausedProcesses) Count() int {
	return len(p.targets)
}

func (p *pausedProcesses) Items() []string {
	items := make([]string, len(p.targets))
	for i, t := range p.targets {
		items[i] = t.String()
	}
	return items
}

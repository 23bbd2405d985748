package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoTargetMembers はセレクタに一致するメンバーがないことを示す
	ErrNoTargetMembers = errors.New("no target members")
	// ErrCapabilityInsufficient はパーティションに必要な権限がないことを示す（致命的ではない）
	ErrCapabilityInsufficient = errors.New("capability insufficient for partition mode")
	// ErrFaultActive はすでにフォールトウィンドウが有効であることを示す
	ErrFaultActive = errors.New("a fault window is already active")
	// ErrNothingApplied はフォールトを1つも適用できなかったことを示す
	ErrNothingApplied = errors.New("fault applied to nothing")
)

// Phase はエピソードの段階
type Phase string

const (
	PhaseSelection   Phase = "selection"
	PhaseInjection   Phase = "injection"
	PhaseHealing     Phase = "healing"
	PhaseConvergence Phase = "convergence"
)

// PhaseError は失敗した段階を示すエラー
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseError(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	return &PhaseError{Phase: phase, Err: err}
}

package fault

import (
	"context"
	"sync"
	"time"
)

// Window は1回分のフォールト適用期間
// Heal は何度呼ばれても一度だけ実行される
type Window struct {
	ID        string
	Mode      Mode
	Selector  string
	Targets   []string
	StartedAt time.Time
	Duration  time.Duration

	applied  Applied
	healOnce sync.Once
	healErr  error
	healed   chan struct{}
}

func newWindow(id string, mode Mode, set TargetSet, d time.Duration, applied Applied) *Window {
	return &Window{
		ID:        id,
		Mode:      mode,
		Selector:  set.Selector.String(),
		Targets:   set.MemberIDs(),
		StartedAt: time.Now(),
		Duration:  d,
		applied:   applied,
		healed:    make(chan struct{}),
	}
}

// Heal は適用したフォールトを取り消す（一度だけ）
func (w *Window) Heal(ctx context.Context) error {
	w.healOnce.Do(func() {
		defer close(w.healed)
		w.healErr = w.applied.Heal(ctx)
	})
	<-w.healed
	return w.healErr
}

// Healed は Heal が完了していれば true を返す
func (w *Window) Healed() bool {
	select {
	case <-w.healed:
		return true
	default:
		return false
	}
}

// Applied は適用済み項目の説明を返す
func (w *Window) Applied() []string {
	return w.applied.Items()
}

// WindowInfo は API などに公開するウィンドウ情報
type WindowInfo struct {
	ID        string        `json:"id"`
	Mode      string        `json:"mode"`
	Selector  string        `json:"selector"`
	Targets   []string      `json:"targets"`
	Applied   []string      `json:"applied"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Healed    bool          `json:"healed"`
}

// Info は WindowInfo を返す
func (w *Window) Info() WindowInfo {
	return WindowInfo{
		ID:        w.ID,
		Mode:      w.Mode.String(),
		Selector:  w.Selector,
		Targets:   w.Targets,
		Applied:   w.Applied(),
		StartedAt: w.StartedAt,
		Duration:  w.Duration,
		Healed:    w.Healed(),
	}
}

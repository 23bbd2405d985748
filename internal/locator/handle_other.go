//go:build !unix

package locator

import (
	"strconv"

	"github.com/pkg/errors"
)

var errSignalsUnsupported = errors.New("stop/continue signals are not supported on this platform")

// PIDHandle はプロセスハンドル。このプラットフォームではシグナルを送れない
type PIDHandle struct {
	pid int32
}

var _ Handle = PIDHandle{}

// NewPIDHandle は PIDHandle を作成する
func NewPIDHandle(pid int32) PIDHandle {
	return PIDHandle{pid: pid}
}

// PID はプロセス ID を返す
func (h PIDHandle) PID() int32 {
	return h.pid
}

// ID は Handle の実装
func (h PIDHandle) ID() string {
	return "pid:" + strconv.Itoa(int(h.pid))
}

// Pause は Handle の実装
func (h PIDHandle) Pause() error {
	return errSignalsUnsupported
}

// Resume は Handle の実装
func (h PIDHandle) Resume() error {
	return errSignalsUnsupported
}

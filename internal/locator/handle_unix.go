//go:build unix

package locator

import (
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PIDHandle はシグナルでOSプロセスを停止・再開する
type PIDHandle struct {
	pid int32
}

var _ Handle = PIDHandle{}

// NewPIDHandle は新しいPIDHandleを作成する
func NewPIDHandle(pid int32) PIDHandle {
	return PIDHandle{pid: pid}
}

// PID はプロセスIDを返す
func (h PIDHandle) PID() int32 {
	return h.pid
}

// ID implements Handle
func (h PIDHandle) ID() string {
	return "pid:" + strconv.Itoa(int(h.pid))
}

// Pause は SIGSTOP を送る
func (h PIDHandle) Pause() error {
	return errors.Wrapf(unix.Kill(int(h.pid), unix.SIGSTOP), "SIGSTOP %d", h.pid)
}

// Resume は SIGCONT を送る
func (h PIDHandle) Resume() error {
	return errors.Wrapf(unix.Kill(int(h.pid), unix.SIGCONT), "SIGCONT %d", h.pid)
}

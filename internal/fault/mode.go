package fault

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"kvstorm/internal/logger"
)

// Mode はフォールトの種類
type Mode int

const (
	ModePause Mode = iota
	ModePartition
)

func (m Mode) String() string {
	switch m {
	case ModePause:
		return "pause"
	case ModePartition:
		return "partition"
	default:
		return "unknown"
	}
}

// ParseMode は文字列からModeを得る
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pause", "freeze", "stop":
		return ModePause, nil
	case "partition", "net", "network":
		return ModePartition, nil
	default:
		return 0, fmt.Errorf("unknown fault mode: %q", s)
	}
}

// Capabilities は実行環境が提供する権限
type Capabilities struct {
	NetAdmin bool `json:"net_admin"`
	Iptables bool `json:"iptables"`
}

// CanPartition はパーティションモードが使えるかを返す
func (c Capabilities) CanPartition() bool {
	return c.NetAdmin && c.Iptables
}

// ResolveStrategy は要求モードと権限から使う戦略を一度だけ決める
// パーティションが使えない場合は pause を返し、ErrCapabilityInsufficient を添える
func ResolveStrategy(mode Mode, caps Capabilities, pause Strategy, partition func() (Strategy, error)) (Strategy, error) {
	if mode != ModePartition {
		return pause, nil
	}
	if !caps.CanPartition() {
		logger.Warn("", "Partition mode unavailable (net_admin=%v iptables=%v), falling back to pause",
			caps.NetAdmin, caps.Iptables)
		return pause, ErrCapabilityInsufficient
	}
	s, err := partition()
	if err != nil {
		logger.Warn("", "Partition mode unavailable (%v), falling back to pause", err)
		return pause, errors.Wrap(ErrCapabilityInsufficient, err.Error())
	}
	return s, nil
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

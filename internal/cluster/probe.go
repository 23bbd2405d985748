package cluster

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// Probe はクラスタのコントロールプレーンに状態を問い合わせる
type Probe interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// ProbeFunc は関数を Probe として使うためのアダプタ
type ProbeFunc func(ctx context.Context) (*Snapshot, error)

// Snapshot implements Probe
func (f ProbeFunc) Snapshot(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

const (
	DefaultCLIBinary    = "fdbcli"
	DefaultProbeTimeout = 10 * time.Second
)

// CLIProbeConfig は CLIProbe の設定
type CLIProbeConfig struct {
	Binary      string
	ClusterFile string
	Timeout     time.Duration
}

// commandRunner はコマンドを実行し標準出力を返す
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CLIProbe は管理CLIの "status json" を実行してスナップショットを得る
type CLIProbe struct {
	cfg CLIProbeConfig
	run commandRunner
	now func() time.Time
}

var _ Probe = (*CLIProbe)(nil)

// NewCLIProbe は新しいCLIProbeを作成する
func NewCLIProbe(cfg CLIProbeConfig) *CLIProbe {
	if cfg.Binary == "" {
		cfg.Binary = DefaultCLIBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	return &CLIProbe{
		cfg: cfg,
		run: execRunner,
		now: time.Now,
	}
}

// Args は実行するコマンド引数を返す
func (p *CLIProbe) Args() []string {
	args := make([]string, 0, 4)
	if p.cfg.ClusterFile != "" {
		args = append(args, "-C", p.cfg.ClusterFile)
	}
	return append(args, "--exec", "status json")
}

// Snapshot implements Probe
func (p *CLIProbe) Snapshot(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	out, err := p.run(ctx, p.cfg.Binary, p.Args()...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ErrControlPlaneUnavailable, "%s: %v", p.cfg.Binary, ctx.Err())
		}
		return nil, errors.Wrapf(ErrControlPlaneUnavailable, "%s: %v", p.cfg.Binary, err)
	}
	return ParseStatus(out, p.now())
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, errors.Wrap(err, string(msg))
		}
		return nil, err
	}
	return out, nil
}

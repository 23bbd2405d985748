package loadgen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"

	"kvstorm/internal/logger"
	"kvstorm/internal/metrics"
)

// ExecSpawner は自分自身のバイナリを子プロセスとして起動してユニットを動かす
// 子には標準入力でユニット設定（JSON）を渡し、標準出力から差分（JSON Lines）を受け取る
// 停止時は SIGINT を送り、子はドレインしてから終了する
type ExecSpawner struct {
	Binary string
	Args   []string
	Env    []string
	Stderr io.Writer
	// WaitDelay は SIGINT 後に強制終了するまでの猶予（0なら DrainTimeout + 5s）
	WaitDelay time.Duration
}

// NewExecSpawner は実行中のバイナリを "unit" サブコマンドで起動する Spawner を返す
func NewExecSpawner(extraArgs ...string) (*ExecSpawner, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "resolve executable")
	}
	return &ExecSpawner{
		Binary: bin,
		Args:   append([]string{"unit"}, extraArgs...),
		Stderr: os.Stderr,
	}, nil
}

// Spawn implements Spawner
func (s *ExecSpawner) Spawn(ctx context.Context, cfg UnitConfig, sink Sink) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode unit config")
	}

	cmd := exec.CommandContext(ctx, s.Binary, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = s.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay <= 0 {
		drain := cfg.DrainTimeout
		if drain <= 0 {
			drain = DefaultDrainTimeout
		}
		cmd.WaitDelay = drain + 5*time.Second
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", s.Binary)
	}
	logger.Debug(cfg.Name(), "Spawned unit process (pid: %d)", cmd.Process.Pid)

	readErr := ReadDeltas(stdout, sink)
	waitErr := cmd.Wait()

	// SIGINT による終了は正常終了とみなす
	if waitErr != nil && ctx.Err() != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && !exitErr.Exited() {
			waitErr = nil
		}
	}
	if waitErr != nil {
		return errors.Wrapf(waitErr, "%s process", cfg.Name())
	}
	return readErr
}

// ReadDeltas は JSON Lines の差分を読み、sink に渡す
func ReadDeltas(r io.Reader, sink Sink) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var d metrics.Delta
		if err := json.Unmarshal(line, &d); err != nil {
			return errors.Wrapf(err, "decode delta %q", line)
		}
		sink(d)
	}
	return errors.Wrap(scanner.Err(), "read deltas")
}

// ServeUnit は子プロセス側の処理。r からユニット設定を読み、差分を w に書き出す
// ctx が終了したらドレインしてから戻る
func ServeUnit(ctx context.Context, r io.Reader, w io.Writer, open ClientOpener) error {
	var cfg UnitConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return errors.Wrap(err, "decode unit config")
	}

	var (
		mu       sync.Mutex
		writeErr error
	)
	enc := json.NewEncoder(w)
	sink := func(d metrics.Delta) {
		mu.Lock()
		defer mu.Unlock()
		if writeErr != nil {
			return
		}
		if err := enc.Encode(d); err != nil {
			writeErr = errors.Wrap(err, "write delta")
		}
	}

	if err := NewUnit(cfg, open).Run(ctx, sink); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	return writeErr
}

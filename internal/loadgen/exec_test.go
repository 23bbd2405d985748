package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstorm/internal/metrics"
)

const helperEnv = "KVSTORM_LOADGEN_UNIT_HELPER"

// テストバイナリ自身を子ユニットとして起動するためのエントリポイント
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		c := &fakeClient{latency: time.Millisecond}
		if err := ServeUnit(ctx, os.Stdin, os.Stdout, c.open); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testUnitConfig() UnitConfig {
	return UnitConfig{
		Index:         2,
		Salt:          "abcd",
		Threads:       2,
		Pipeline:      2,
		KeyCount:      100,
		Mix:           smallMix(),
		FlushInterval: 10 * time.Millisecond,
		DrainTimeout:  time.Second,
		Seed:          5,
	}
}

func TestServeUnitWritesDeltaLines(t *testing.T) {
	payload, err := json.Marshal(testUnitConfig())
	require.NoError(t, err)

	var out syncBuffer
	c := &fakeClient{latency: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	require.NoError(t, ServeUnit(ctx, bytes.NewReader(payload), &out, c.open))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Greater(t, len(lines), 1)

	var rec deltaRecorder
	require.NoError(t, ReadDeltas(strings.NewReader(out.String()), rec.sink))
	total, n := rec.sum()
	assert.Equal(t, len(lines), n)

	committed, _, _, _ := c.results()
	assert.Equal(t, uint64(committed), total.Transactions)
}

func TestServeUnitRejectsBadConfig(t *testing.T) {
	err := ServeUnit(context.Background(), strings.NewReader("{not json"), io.Discard, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode unit config")
}

func TestReadDeltasRejectsGarbage(t *testing.T) {
	input := `{"ops":4,"transactions":1}` + "\n\n" + "garbage\n"

	var rec deltaRecorder
	err := ReadDeltas(strings.NewReader(input), rec.sink)
	require.Error(t, err)

	total, n := rec.sum()
	assert.Equal(t, 1, n)
	assert.Equal(t, metrics.Delta{Ops: 4, Transactions: 1}, total)
}

func TestExecSpawnerRunsUnitProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("interrupt signal is not supported on windows")
	}

	s := &ExecSpawner{
		Binary: os.Args[0],
		Args:   []string{"-test.run=^$"},
		Env:    []string{helperEnv + "=1"},
		Stderr: io.Discard,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var rec deltaRecorder
	require.NoError(t, s.Spawn(ctx, testUnitConfig(), rec.sink))

	total, n := rec.sum()
	assert.Positive(t, n)
	assert.Positive(t, total.Transactions)
	assert.Equal(t, total.Transactions*uint64(smallMix().OpsPerTxn), total.Ops)
	assert.Zero(t, total.Abandoned)
}

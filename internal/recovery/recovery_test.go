package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstorm/internal/cluster"
	"kvstorm/internal/cluster/clustertest"
	"kvstorm/internal/events"
)

func fastConfig(timeout time.Duration) Config {
	return Config{PollInterval: 5 * time.Millisecond, Timeout: timeout}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
}

func TestAwaitConverges(t *testing.T) {
	probe := clustertest.NewScriptedProbe(nil,
		clustertest.Recovering("accepting_commits", 4),
		clustertest.Recovering("accepting_commits", 2),
		clustertest.Recovering("storage_recovered", 0),
		clustertest.Step{Recovery: cluster.RecoveryState{Name: cluster.RecoveryFullyRecovered, Lag: 0.5}},
		clustertest.Recovered(),
	)
	bus := events.NewBus()
	ch := bus.Subscribe()

	res, err := Await(context.Background(), probe, fastConfig(time.Second), bus)
	require.NoError(t, err)

	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, 5, res.Polls)
	assert.Equal(t, []string{"accepting_commits", "storage_recovered", cluster.RecoveryFullyRecovered}, res.Observed)
	assert.True(t, res.Last.Converged())

	var polls, converged int
	for len(ch) > 0 {
		switch (<-ch).Type {
		case events.EventConvergencePoll:
			polls++
		case events.EventConverged:
			converged++
		}
	}
	assert.Equal(t, 5, polls)
	assert.Equal(t, 1, converged)
}

func TestAwaitTimesOut(t *testing.T) {
	probe := clustertest.NewScriptedProbe(nil, clustertest.Recovering("recruiting_transaction_servers", 1))

	res, err := Await(context.Background(), probe, fastConfig(40*time.Millisecond), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConvergenceTimeout)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.GreaterOrEqual(t, res.Polls, 2)
	assert.Equal(t, "recruiting_transaction_servers", res.Last.Name)
	assert.GreaterOrEqual(t, res.Elapsed, 40*time.Millisecond)
}

func TestAwaitUnboundedStopsOnContext(t *testing.T) {
	probe := clustertest.NewScriptedProbe(nil, clustertest.Recovering("accepting_commits", 1))
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	res, err := Await(ctx, probe, fastConfig(0), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Interrupted, res.Outcome)
	assert.NotErrorIs(t, err, ErrConvergenceTimeout)
}

func TestAwaitProbeErrorPropagates(t *testing.T) {
	probe := clustertest.NewScriptedProbe(nil,
		clustertest.Recovering("accepting_commits", 1),
		clustertest.Step{Err: cluster.ErrControlPlaneUnavailable},
	)

	res, err := Await(context.Background(), probe, fastConfig(time.Second), nil)
	assert.ErrorIs(t, err, cluster.ErrControlPlaneUnavailable)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, 1, res.Polls)
	assert.Equal(t, 2, probe.Calls())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "interrupted", Interrupted.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
	assert.Equal(t, "unknown", Outcome(9).String())
	assert.NotEqual(t, Converged, Result{}.Outcome)
}

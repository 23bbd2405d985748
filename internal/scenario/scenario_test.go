package scenario

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kvstorm/internal/fault"
	"kvstorm/internal/recovery"
	"kvstorm/internal/simcluster"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Name != "default" {
		t.Errorf("expected name 'default', got '%s'", config.Name)
	}
	if !config.EnableLoad || !config.EnableFault {
		t.Error("expected load and fault to be enabled")
	}
	if config.Fault.Mode != fault.ModePause {
		t.Errorf("expected pause mode, got %v", config.Fault.Mode)
	}
	if config.Fault.ConvergenceTimeout != 10*time.Minute {
		t.Errorf("expected convergence timeout 10m, got %v", config.Fault.ConvergenceTimeout)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestPresets(t *testing.T) {
	names := ListPresets()
	if len(names) != 5 {
		t.Fatalf("expected 5 presets, got %d", len(names))
	}

	for _, name := range names {
		config, ok := GetPreset(name)
		if !ok {
			t.Errorf("preset %s not found", name)
			continue
		}
		if config.Name != name {
			t.Errorf("preset %s has name %s", name, config.Name)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("preset %s is invalid: %v", name, err)
		}
	}

	if _, ok := GetPreset("unknown"); ok {
		t.Error("expected unknown preset to be missing")
	}

	if c, _ := GetPreset("partition-remote-dc"); c.Fault.Mode != fault.ModePartition {
		t.Errorf("expected partition mode, got %v", c.Fault.Mode)
	}
	if c, _ := GetPreset("saturate"); c.EnableFault {
		t.Error("expected saturate to run without faults")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no name", func(c *Config) { c.Name = "" }},
		{"nothing enabled", func(c *Config) { c.EnableLoad, c.EnableFault = false, false }},
		{"bad locality", func(c *Config) { c.Fault.Locality = "dcid=" }},
		{"zero fault duration", func(c *Config) { c.Fault.Duration = 0 }},
		{"bad pipeline", func(c *Config) { c.Load.Pipeline = 0 }},
		{"isolated sim", func(c *Config) { c.Cluster.Simulated, c.Load.Isolate = true, true }},
		{"sim without topology", func(c *Config) { c.Cluster.Simulated, c.Cluster.Topology = true, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			if err := config.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// testConfig は短時間で終わるシミュレーション設定を返す
func testConfig() Config {
	config := SimQuickScenario()
	config.ReportInterval = 50 * time.Millisecond
	config.Load.Procs = 1
	config.Load.Threads = 2
	config.Load.Pipeline = 2
	config.Load.Mix.OpsPerTxn = 8
	config.Load.Mix.ValueSize = 64
	config.Load.Adapter.CommitLatency = time.Millisecond
	config.Fault.StartAfter = 100 * time.Millisecond
	config.Fault.Duration = 300 * time.Millisecond
	config.Fault.PollInterval = 50 * time.Millisecond
	config.Fault.ConvergenceTimeout = 5 * time.Second
	config.Cluster.Sim.RecoveryDelay = 200 * time.Millisecond
	return config
}

func runEngine(t *testing.T, engine *Engine, ctx context.Context) (*Result, error) {
	t.Helper()
	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := engine.Run(ctx)
		done <- outcome{r, err}
	}()
	select {
	case o := <-done:
		return o.result, o.err
	case <-time.After(20 * time.Second):
		t.Fatal("scenario did not finish")
		return nil, nil
	}
}

func TestEngineRunSimRemotePause(t *testing.T) {
	var out bytes.Buffer
	engine := New(testConfig())
	engine.SetOutput(&out)

	if engine.IsRunning() {
		t.Error("expected engine to not be running initially")
	}

	result, err := runEngine(t, engine, context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	if result.ScenarioName != "sim-quick" {
		t.Errorf("expected scenario name 'sim-quick', got '%s'", result.ScenarioName)
	}
	if result.Counters == nil || result.Counters.Transactions == 0 {
		t.Fatal("expected some transactions to be credited")
	}
	if result.Counters.Abandoned != 0 {
		t.Errorf("expected no abandoned transactions, got %d", result.Counters.Abandoned)
	}

	ep := result.Episode
	if ep == nil {
		t.Fatal("expected an episode report")
	}
	if !ep.Window.Healed {
		t.Error("expected window to be healed")
	}
	if len(ep.Window.Targets) != 3 {
		t.Errorf("expected 3 targets, got %v", ep.Window.Targets)
	}
	if ep.Convergence == nil || ep.Convergence.Outcome != recovery.Converged {
		t.Fatalf("expected convergence, got %+v", ep.Convergence)
	}
	observed := strings.Join(ep.Convergence.Observed, ",")
	if !strings.HasSuffix(observed, "fully_recovered") {
		t.Errorf("expected to end fully recovered, observed %s", observed)
	}

	if result.Mode != "pause" {
		t.Errorf("expected pause mode, got %s", result.Mode)
	}
	if result.FinalRecovery != "fully_recovered" {
		t.Errorf("expected final state fully_recovered, got %s", result.FinalRecovery)
	}
	if result.PausedMembers != 0 {
		t.Errorf("expected no paused members, got %d", result.PausedMembers)
	}

	if !strings.Contains(out.String(), "ops/s") {
		t.Error("expected throughput lines in output")
	}
	if !strings.Contains(out.String(), "Finished - ") {
		t.Error("expected final totals in output")
	}

	report := result.Report()
	for _, section := range []string{"SCENARIO REPORT: sim-quick", "TRAFFIC METRICS", "FAULT EPISODE", "FINAL CLUSTER STATE"} {
		if !strings.Contains(report, section) {
			t.Errorf("report missing %q", section)
		}
	}
}

func TestEngineRunSimPrimaryPauseRetries(t *testing.T) {
	config := testConfig()
	config.Name = "sim-primary-freeze"
	config.Fault.Locality = "dc1"

	engine := New(config)
	engine.SetOutput(&bytes.Buffer{})

	result, err := runEngine(t, engine, context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}
	if result.Counters.Retries == 0 {
		t.Error("expected commits to be retried while the primary was paused")
	}
	if result.Counters.Transactions == 0 {
		t.Error("expected commits to succeed after resume")
	}
	if engine.Simulation().PausedCount() != 0 {
		t.Error("expected every member to be resumed")
	}
}

func TestEngineSelectionFailure(t *testing.T) {
	config := testConfig()
	config.Fault.Locality = "dcid=nowhere"

	engine := New(config)
	engine.SetOutput(&bytes.Buffer{})

	start := time.Now()
	result, err := runEngine(t, engine, context.Background())
	if err == nil {
		t.Fatal("expected selection failure")
	}

	var perr *fault.PhaseError
	if !errors.As(err, &perr) || perr.Phase != fault.PhaseSelection {
		t.Fatalf("expected selection phase error, got %v", err)
	}
	if !errors.Is(err, fault.ErrNoTargetMembers) {
		t.Errorf("expected ErrNoTargetMembers, got %v", err)
	}
	if result.FaultError == "" {
		t.Error("expected fault error in result")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("expected load to stop after the failed episode")
	}
}

func TestEngineInterruptedWindowIsHealed(t *testing.T) {
	config := testConfig()
	config.Fault.Duration = time.Minute

	engine := New(config)
	engine.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	result, err := runEngine(t, engine, ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected interruption, got %v", err)
	}
	if result.Episode == nil || !result.Episode.Interrupted {
		t.Fatal("expected interrupted episode")
	}
	if !result.Episode.Window.Healed {
		t.Error("expected interrupted window to be healed")
	}
	if result.Episode.Convergence != nil {
		t.Error("expected convergence wait to be skipped")
	}
	if result.PausedMembers != 0 {
		t.Errorf("expected no paused members, got %d", result.PausedMembers)
	}
}

func TestEnginePartitionFallsBackToPause(t *testing.T) {
	config := testConfig()
	config.Fault.Mode = fault.ModePartition
	config.EnableLoad = false

	engine := New(config)
	engine.SetCapabilities(fault.Capabilities{})

	result, err := runEngine(t, engine, context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}
	if result.Mode != "pause" {
		t.Errorf("expected fallback to pause, got %s", result.Mode)
	}
	if result.Counters != nil {
		t.Error("expected no counters without load")
	}
	if engine.Counters() != nil {
		t.Error("expected nil counters without load")
	}

	var paused int
	for _, m := range engine.Simulation().Members() {
		paused += m.Pauses()
		if m.Status() != simcluster.StatusRunning {
			t.Errorf("member %s still %v", m.ID(), m.Status())
		}
	}
	if paused != 3 {
		t.Errorf("expected 3 pauses, got %d", paused)
	}
}

func TestEngineLoadOnly(t *testing.T) {
	config := testConfig()
	config.EnableFault = false
	config.Load.Duration = 200 * time.Millisecond

	var out bytes.Buffer
	engine := New(config)
	engine.SetOutput(&out)

	result, err := runEngine(t, engine, context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}
	if result.Episode != nil {
		t.Error("expected no episode")
	}
	if engine.Controller() != nil {
		t.Error("expected no controller without fault")
	}
	if result.Counters.Ops != result.Counters.Transactions*8 {
		t.Errorf("expected 8 ops per transaction, got %d ops for %d txns",
			result.Counters.Ops, result.Counters.Transactions)
	}
}

func TestEngineRejectsConcurrentRun(t *testing.T) {
	config := testConfig()
	config.Fault.Duration = time.Minute

	engine := New(config)
	engine.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !engine.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := engine.Run(context.Background()); err == nil {
		t.Error("expected error for concurrent run")
	}

	cancel()
	<-done
}

package simcluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kvstorm/internal/cluster"
	"kvstorm/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCluster(t *testing.T) (*Cluster, *fakeClock) {
	t.Helper()
	c, err := NewFromTopology(DefaultTopology(), DefaultConfig())
	if err != nil {
		t.Fatalf("failed to build cluster: %v", err)
	}
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.SetClock(clock.Now)
	return c, clock
}

func TestMemberPauseResume(t *testing.T) {
	m := NewMember("m1", "127.0.0.1:4500", map[string]string{"dcid": "dc1"}, RoleLog)

	if m.Status() != StatusRunning {
		t.Errorf("expected status Running, got %v", m.Status())
	}

	if err := m.Resume(); err == nil {
		t.Error("expected error when resuming running member")
	}

	if err := m.Pause(); err != nil {
		t.Fatalf("failed to pause member: %v", err)
	}
	if m.Status() != StatusPaused {
		t.Errorf("expected status Paused, got %v", m.Status())
	}

	// Double pause should fail
	if err := m.Pause(); err == nil {
		t.Error("expected error when pausing paused member")
	}

	if err := m.Resume(); err != nil {
		t.Fatalf("failed to resume member: %v", err)
	}
	if m.Pauses() != 1 {
		t.Errorf("expected 1 pause, got %d", m.Pauses())
	}
}

func TestMemberInfoIsCopy(t *testing.T) {
	loc := map[string]string{"dcid": "dc1"}
	m := NewMember("m1", "127.0.0.1:4500", loc, RoleStorage)
	loc["dcid"] = "changed"

	info := m.Info()
	if info.Locality["dcid"] != "dc1" {
		t.Errorf("expected locality dc1, got %s", info.Locality["dcid"])
	}
	info.Roles[0] = "changed"
	if !m.HasRole(RoleStorage) {
		t.Error("member roles modified through Info")
	}
}

func TestAddMember(t *testing.T) {
	c := New(DefaultConfig())

	if err := c.AddMember(NewMember("m1", "127.0.0.1:4500", nil)); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	if err := c.AddMember(NewMember("m1", "127.0.0.1:4501", nil)); err == nil {
		t.Error("expected error for duplicate member")
	}
	if err := c.AddMember(NewMember("m2", "no-port", nil)); err == nil {
		t.Error("expected error for address without port")
	}
	if c.Size() != 1 {
		t.Errorf("expected size 1, got %d", c.Size())
	}
}

func TestSnapshotRecoveryModel(t *testing.T) {
	c, clock := newTestCluster(t)
	ctx := context.Background()

	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !snap.Converged() {
		t.Errorf("expected converged cluster, got %+v", snap.Recovery)
	}
	if len(snap.Members) != 6 {
		t.Errorf("expected 6 members, got %d", len(snap.Members))
	}

	m, _ := c.GetMember("dc2-a")
	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(4 * time.Second)

	snap, _ = c.Snapshot(ctx)
	if snap.Recovery.Name != RecoveryAcceptingCommits {
		t.Errorf("expected %s, got %s", RecoveryAcceptingCommits, snap.Recovery.Name)
	}
	if snap.Recovery.ActiveGenerations != 2 {
		t.Errorf("expected 2 generations, got %d", snap.Recovery.ActiveGenerations)
	}
	if snap.Recovery.Lag != 4 {
		t.Errorf("expected lag 4, got %v", snap.Recovery.Lag)
	}

	if err := m.Resume(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)

	snap, _ = c.Snapshot(ctx)
	if snap.Recovery.Name != RecoveryStorageRecovered || snap.Converged() {
		t.Errorf("expected %s, got %+v", RecoveryStorageRecovered, snap.Recovery)
	}

	clock.Advance(DefaultConfig().RecoveryDelay)
	snap, _ = c.Snapshot(ctx)
	if !snap.Converged() {
		t.Errorf("expected converged after recovery delay, got %+v", snap.Recovery)
	}
	if c.Probes() != 4 {
		t.Errorf("expected 4 probes, got %d", c.Probes())
	}
}

func TestSnapshotErrors(t *testing.T) {
	c, _ := newTestCluster(t)

	c.SetProbeError(errors.New("timed out"))
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, cluster.ErrControlPlaneUnavailable) {
		t.Errorf("expected ErrControlPlaneUnavailable, got %v", err)
	}
	c.SetProbeError(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMembersInLocality(t *testing.T) {
	c, _ := newTestCluster(t)

	targets, err := c.MembersInLocality(context.Background(), cluster.Selector{Key: "dcid", Value: "dc2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(targets))
	}
	want := []string{"dc2-a", "dc2-b", "dc2-c"}
	for i, tg := range targets {
		if tg.MemberID != want[i] {
			t.Errorf("target %d: expected %s, got %s", i, want[i], tg.MemberID)
		}
		if tg.Port != 4503+i {
			t.Errorf("target %d: expected port %d, got %d", i, 4503+i, tg.Port)
		}
	}

	if err := targets[0].Handle.Pause(); err != nil {
		t.Fatal(err)
	}
	if c.PausedCount() != 1 {
		t.Errorf("expected 1 paused member, got %d", c.PausedCount())
	}
	if n := c.ResumeAll(); n != 1 {
		t.Errorf("expected 1 resumed member, got %d", n)
	}

	targets, _ = c.MembersInLocality(context.Background(), cluster.Selector{Key: "dcid", Value: "dc9"})
	if len(targets) != 0 {
		t.Errorf("expected no targets, got %d", len(targets))
	}
}

func TestGate(t *testing.T) {
	c, _ := newTestCluster(t)

	if err := c.Gate(); err != nil {
		t.Fatalf("expected open gate, got %v", err)
	}

	// リモートDCのログが止まってもコミットは通る
	remote, _ := c.GetMember("dc2-a")
	_ = remote.Pause()
	if err := c.Gate(); err != nil {
		t.Errorf("expected open gate with remote log paused, got %v", err)
	}

	// プライマリのストレージだけなら通る
	storage, _ := c.GetMember("dc1-c")
	_ = storage.Pause()
	if err := c.Gate(); err != nil {
		t.Errorf("expected open gate with primary storage paused, got %v", err)
	}

	primary, _ := c.GetMember("dc1-a")
	_ = primary.Pause()
	err := c.Gate()
	if store.Code(err) != store.CodeProcessBehind {
		t.Errorf("expected process_behind, got %v", err)
	}
	if !store.IsRetryable(err) {
		t.Error("expected gate error to be retryable")
	}

	_ = primary.Resume()
	if err := c.Gate(); err != nil {
		t.Errorf("expected open gate after resume, got %v", err)
	}
}

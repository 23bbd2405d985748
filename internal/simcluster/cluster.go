package simcluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kvstorm/internal/cluster"
	"kvstorm/internal/locator"
	"kvstorm/internal/logger"
	"kvstorm/internal/store"
)

const (
	RecoveryAcceptingCommits = "accepting_commits"
	RecoveryStorageRecovered = "storage_recovered"

	RoleLog         = "log"
	RoleCommitProxy = "commit_proxy"
	RoleStorage     = "storage"
)

// Config はシミュレーションの設定
type Config struct {
	RecoveryDelay time.Duration // 最後の再開から完全復旧までの時間
	LagRate       float64       // 一時停止1秒あたりに増えるラグ（秒）
	PrimaryDC     string        // プライマリDCのロケーリティ値
	LocalityKey   string        // DCを表すロケーリティキー
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		RecoveryDelay: 3 * time.Second,
		LagRate:       1,
		PrimaryDC:     "dc1",
		LocalityKey:   cluster.DefaultLocalityKey,
	}
}

// Ensure Cluster implements the probe and locator interfaces
var (
	_ cluster.Probe   = (*Cluster)(nil)
	_ locator.Locator = (*Cluster)(nil)
)

// Cluster はシミュレートされたクラスタ
type Cluster struct {
	config Config
	now    func() time.Time

	mu       sync.RWMutex
	members  map[string]*Member
	probeErr error
	probes   int
}

// New は空のクラスタを作成する
func New(config Config) *Cluster {
	if config.LocalityKey == "" {
		config.LocalityKey = cluster.DefaultLocalityKey
	}
	if config.LagRate <= 0 {
		config.LagRate = 1
	}
	return &Cluster{
		config:  config,
		now:     time.Now,
		members: make(map[string]*Member),
	}
}

// SetClock は時刻の取得元を差し替える（テスト用）
func (c *Cluster) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	for _, m := range c.members {
		m.setClock(now)
	}
}

// AddMember はメンバーを追加する
func (c *Cluster) AddMember(m *Member) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.members[m.ID()]; exists {
		return fmt.Errorf("member %s already exists in cluster", m.ID())
	}
	if _, err := cluster.ParsePort(m.address); err != nil {
		return fmt.Errorf("member %s: %w", m.ID(), err)
	}
	m.setClock(c.now)
	c.members[m.ID()] = m
	logger.Debug("", "Member %s added to simulated cluster", m.ID())
	return nil
}

// GetMember はIDでメンバーを取得する
func (c *Cluster) GetMember(id string) (*Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[id]
	return m, ok
}

// Members は全メンバーをID順に返す
func (c *Cluster) Members() []*Member {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Size はメンバー数を返す
func (c *Cluster) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// PausedCount は一時停止中のメンバー数を返す
func (c *Cluster) PausedCount() int {
	n := 0
	for _, m := range c.Members() {
		if m.Status() == StatusPaused {
			n++
		}
	}
	return n
}

// SetProbeError はステータス問い合わせを失敗させる。nil で解除
func (c *Cluster) SetProbeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeErr = err
}

// Probes はステータス問い合わせの回数を返す
func (c *Cluster) Probes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.probes
}

// Snapshot implements cluster.Probe
func (c *Cluster) Snapshot(ctx context.Context) (*cluster.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.probes++
	probeErr := c.probeErr
	now := c.now()
	c.mu.Unlock()

	if probeErr != nil {
		return nil, fmt.Errorf("%w: %v", cluster.ErrControlPlaneUnavailable, probeErr)
	}

	members := c.Members()
	snap := &cluster.Snapshot{
		Members:  make(map[string]cluster.Member, len(members)),
		Recovery: c.recoveryState(members, now),
		TakenAt:  now,
	}
	for _, m := range members {
		snap.Members[m.ID()] = m.Info()
	}
	return snap, nil
}

// recoveryState はメンバーの状態からリカバリ状態を求める
func (c *Cluster) recoveryState(members []*Member, now time.Time) cluster.RecoveryState {
	var (
		paused       bool
		earliest     time.Time
		latestResume time.Time
	)
	for _, m := range members {
		status, pausedAt, resumedAt := m.times()
		if status == StatusPaused {
			if !paused || pausedAt.Before(earliest) {
				earliest = pausedAt
			}
			paused = true
		}
		if resumedAt.After(latestResume) {
			latestResume = resumedAt
		}
	}

	if paused {
		return cluster.RecoveryState{
			Name:              RecoveryAcceptingCommits,
			ActiveGenerations: 2,
			Lag:               now.Sub(earliest).Seconds() * c.config.LagRate,
		}
	}
	if !latestResume.IsZero() {
		if remaining := c.config.RecoveryDelay - now.Sub(latestResume); remaining > 0 {
			return cluster.RecoveryState{
				Name:              RecoveryStorageRecovered,
				ActiveGenerations: 1,
				Lag:               remaining.Seconds(),
			}
		}
	}
	return cluster.RecoveryState{Name: cluster.RecoveryFullyRecovered, ActiveGenerations: 1}
}

// MembersInLocality implements locator.Locator
func (c *Cluster) MembersInLocality(ctx context.Context, sel cluster.Selector) ([]locator.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var targets []locator.Target
	for _, m := range c.Members() {
		info := m.Info()
		if !sel.Matches(info) {
			continue
		}
		port, err := info.Port()
		if err != nil {
			continue
		}
		targets = append(targets, locator.Target{
			MemberID: info.ID,
			Address:  info.Address,
			Port:     port,
			Handle:   m,
		})
	}
	locator.SortTargets(targets)
	return targets, nil
}

// Gate はプライマリDCのログ・コミットプロキシが止まっている間コミットを失敗させる
// memstore.Options.Gate に渡して使う
func (c *Cluster) Gate() error {
	for _, m := range c.Members() {
		if m.locality[c.config.LocalityKey] != c.config.PrimaryDC {
			continue
		}
		if m.Status() == StatusPaused && (m.HasRole(RoleLog) || m.HasRole(RoleCommitProxy)) {
			return store.NewError(store.CodeProcessBehind)
		}
	}
	return nil
}

// ResumeAll は一時停止中の全メンバーを再開する
func (c *Cluster) ResumeAll() int {
	n := 0
	for _, m := range c.Members() {
		if m.Status() == StatusPaused && m.Resume() == nil {
			n++
		}
	}
	return n
}

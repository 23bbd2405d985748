package simcluster

import (
	"fmt"
	"sync"
	"time"

	"kvstorm/internal/cluster"
	"kvstorm/internal/locator"
	"kvstorm/internal/logger"
)

// Status はメンバーの状態を表す
type Status int

const (
	StatusRunning Status = iota
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Ensure Member implements locator.Handle
var _ locator.Handle = (*Member)(nil)

// Member はシミュレートされた1プロセス
type Member struct {
	id       string
	address  string
	locality map[string]string
	roles    []string

	mu        sync.RWMutex
	status    Status
	pausedAt  time.Time
	resumedAt time.Time
	pauses    int
	now       func() time.Time
}

// NewMember は新しいメンバーを作成する
func NewMember(id, address string, locality map[string]string, roles ...string) *Member {
	loc := make(map[string]string, len(locality))
	for k, v := range locality {
		loc[k] = v
	}
	return &Member{
		id:       id,
		address:  address,
		locality: loc,
		roles:    append([]string(nil), roles...),
		now:      time.Now,
	}
}

// ID はメンバーIDを返す
func (m *Member) ID() string {
	return m.id
}

// Status は現在の状態を返す
func (m *Member) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Pauses は一時停止された回数を返す
func (m *Member) Pauses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pauses
}

// Pause はメンバーを一時停止する
func (m *Member) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusRunning {
		return fmt.Errorf("member %s is not running", m.id)
	}
	m.status = StatusPaused
	m.pausedAt = m.now()
	m.pauses++

	logger.Info(m.id, "Member paused")
	return nil
}

// Resume は一時停止中のメンバーを再開する
func (m *Member) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusPaused {
		return fmt.Errorf("member %s is not paused", m.id)
	}
	m.status = StatusRunning
	m.resumedAt = m.now()

	logger.Info(m.id, "Member resumed")
	return nil
}

// HasRole はロールを持つかを返す
func (m *Member) HasRole(role string) bool {
	for _, r := range m.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Info はステータス応答用のメンバー情報を返す
func (m *Member) Info() cluster.Member {
	loc := make(map[string]string, len(m.locality))
	for k, v := range m.locality {
		loc[k] = v
	}
	return cluster.Member{
		ID:       m.id,
		Address:  m.address,
		Locality: loc,
		Roles:    append([]string(nil), m.roles...),
	}
}

func (m *Member) times() (status Status, pausedAt, resumedAt time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.pausedAt, m.resumedAt
}

func (m *Member) setClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

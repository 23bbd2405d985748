package cluster

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RecoveryFullyRecovered はクラスタが完全に復旧したことを示すリカバリ状態名
const RecoveryFullyRecovered = "fully_recovered"

// DefaultLocalityKey はロケーリティ指定でキーを省略したときに使うキー
const DefaultLocalityKey = "dcid"

// Member はクラスタを構成する1プロセスを表す
type Member struct {
	ID       string            `json:"id"`
	Address  string            `json:"address"`
	Locality map[string]string `json:"locality"`
	Roles    []string          `json:"roles"`
	Excluded bool              `json:"excluded,omitempty"`
}

// Port はアドレスからポート番号を取り出す
// "ip:port", "ip:port:tls", "[v6]:port" を受け付け、末尾側で最初の数値要素を使う
func (m Member) Port() (int, error) {
	return ParsePort(m.Address)
}

// HasRole はメンバーが指定ロールを持つかを返す
func (m Member) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ParsePort はアドレス文字列からポート番号を取り出す
func ParsePort(addr string) (int, error) {
	parts := strings.Split(addr, ":")
	for i := len(parts) - 1; i > 0; i-- {
		p := strings.TrimSuffix(parts[i], "(tls)")
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n < 65536 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("no port in address %q", addr)
}

// RecoveryState はクラスタ全体のリカバリ状態
type RecoveryState struct {
	Name              string  `json:"name"`
	ActiveGenerations int     `json:"active_generations"`
	Lag               float64 `json:"lag"`
}

// Converged は完全復旧かつラグゼロであるかを返す
func (r RecoveryState) Converged() bool {
	return r.Name == RecoveryFullyRecovered && r.Lag == 0
}

// Snapshot はステータス問い合わせ1回分のクラスタの姿（不変）
type Snapshot struct {
	Members  map[string]Member `json:"members"`
	Recovery RecoveryState     `json:"recovery_state"`
	TakenAt  time.Time         `json:"taken_at"`
}

// Converged はスナップショットが収束状態かを返す
func (s *Snapshot) Converged() bool {
	return s.Recovery.Converged()
}

// Select はセレクタに一致するメンバーをID順に返す
func (s *Snapshot) Select(sel Selector) []Member {
	return s.filter(sel.Matches)
}

// Others はセレクタに一致しないメンバーをID順に返す
func (s *Snapshot) Others(sel Selector) []Member {
	return s.filter(func(m Member) bool { return !sel.Matches(m) })
}

// SortedMembers は全メンバーをID順に返す
func (s *Snapshot) SortedMembers() []Member {
	return s.filter(func(Member) bool { return true })
}

func (s *Snapshot) filter(keep func(Member) bool) []Member {
	out := make([]Member, 0, len(s.Members))
	for _, m := range s.Members {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Selector はロケーリティタグによるメンバー選択条件
type Selector struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseSelector は "key=value" または "value"（dcid 扱い）をパースする
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}, fmt.Errorf("empty locality selector")
	}
	key, value, found := strings.Cut(s, "=")
	if !found {
		return Selector{Key: DefaultLocalityKey, Value: s}, nil
	}
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if key == "" || value == "" {
		return Selector{}, fmt.Errorf("invalid locality selector %q", s)
	}
	return Selector{Key: key, Value: value}, nil
}

// Matches はメンバーのロケーリティが条件に一致するかを返す
func (sel Selector) Matches(m Member) bool {
	v, ok := m.Locality[sel.Key]
	return ok && v == sel.Value
}

func (sel Selector) String() string {
	return sel.Key + "=" + sel.Value
}

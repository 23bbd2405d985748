package locator

import (
	"context"
	"fmt"
	"sort"

	"kvstorm/internal/cluster"
)

// Handle はメンバープロセスを一時停止・再開する
type Handle interface {
	ID() string
	Pause() error
	Resume() error
}

// Target はローカルで到達可能なメンバープロセス
type Target struct {
	MemberID string
	Address  string
	Port     int
	Handle   Handle
}

func (t Target) String() string {
	return fmt.Sprintf("%s(%s)", t.MemberID, t.Handle.ID())
}

// Locator はロケーリティに属するメンバーのプロセスを解決する
type Locator interface {
	MembersInLocality(ctx context.Context, sel cluster.Selector) ([]Target, error)
}

// SortTargets はメンバーID順に並べる
func SortTargets(targets []Target) {
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].MemberID == targets[j].MemberID {
			return targets[i].Port < targets[j].Port
		}
		return targets[i].MemberID < targets[j].MemberID
	})
}

package fault

import (
	"context"

	"kvstorm/internal/cluster"
)

// TargetSet は選択されたフォールト対象
type TargetSet struct {
	Selector cluster.Selector
	Selected []cluster.Member // セレクタに一致したメンバー（ID順）
	Others   []cluster.Member // それ以外のメンバー（ID順）
}

// MemberIDs は対象メンバーのIDを返す
func (s TargetSet) MemberIDs() []string {
	ids := make([]string, len(s.Selected))
	for i, m := range s.Selected {
		ids[i] = m.ID
	}
	return ids
}

// Strategy はフォールトの適用方法
type Strategy interface {
	Mode() Mode
	// Apply は対象にフォールトを適用し、実際に適用したものだけを記録して返す
	// 一部の失敗は許容され、Applied と共に返る
	Apply(ctx context.Context, windowID string, set TargetSet) (Applied, error)
}

// Applied は1ウィンドウ分の適用済みフォールト
type Applied interface {
	// Heal は適用したものを逆順に取り消す
	Heal(ctx context.Context) error
	// Count は適用した項目数を返す
	Count() int
	// Items は適用した項目の説明を返す
	Items() []string
}

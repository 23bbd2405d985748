package loadgen

import "kvstorm/internal/store"

// Outcome はコミット結果の分類
type Outcome int

const (
	// Committed はコミット成功
	Committed Outcome = iota
	// Accepted は結果不明だが成功として扱う（再送しない）
	Accepted
	// Retry はバックオフして同じ操作で再送する
	Retry
	// Abandon はクレジットせずに破棄する
	Abandon
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Accepted:
		return "accepted"
	case Retry:
		return "retry"
	case Abandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// Classify はコミット結果を分類する
// 結果不明のコミットは停止中でも一度だけクレジットする。再送しないので停止と矛盾しない
func Classify(err error, stopping bool) Outcome {
	switch {
	case err == nil:
		return Committed
	case store.IsCommitUnknown(err):
		return Accepted
	case stopping:
		return Abandon
	default:
		return Retry
	}
}

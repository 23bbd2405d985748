package store

import (
	"context"
	"math/rand/v2"
	"time"
)

// KeyValue はレンジ読み取りの1件
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Future は非同期操作の結果
type Future interface {
	// Wait は結果が出るか ctx が終了するまで待つ
	Wait(ctx context.Context) error
	// Done は結果が出たら閉じられる
	Done() <-chan struct{}
}

// Transaction は1つの取引
// 読み取りはコミット時に評価され、書き込みはコミットまでバッファされる
type Transaction interface {
	Get(key []byte)
	GetRange(begin, end []byte, limit int)
	Set(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)

	// Commit は非同期にコミットする
	Commit() Future
	// OnError はリトライ可能なエラーならバックオフ後に取引をリセットして成功する
	// それ以外のエラーならそのエラーで失敗する
	OnError(err error) Future
}

// Client はストアへの接続
type Client interface {
	CreateTransaction() Transaction
	Close() error
}

const (
	BackoffBase = 10 * time.Millisecond
	BackoffMax  = time.Second
)

// Backoff は attempt 回目（0始まり）のリトライ待ち時間を返す
// 10ms から倍々に増え 1s で頭打ち、[d/2, d] のジッタを持つ
func Backoff(attempt int) time.Duration {
	d := BackoffBase
	for i := 0; i < attempt && d < BackoffMax; i++ {
		d *= 2
	}
	if d > BackoffMax {
		d = BackoffMax
	}
	half := d / 2
	return half + rand.N(half+1)
}

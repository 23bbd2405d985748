package store

import "time"

// OpKind は取引内の操作の種類
type OpKind int

const (
	OpGet OpKind = iota
	OpGetRange
	OpSet
	OpClear
	OpClearRange
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpGetRange:
		return "get_range"
	case OpSet:
		return "set"
	case OpClear:
		return "clear"
	case OpClearRange:
		return "clear_range"
	default:
		return "unknown"
	}
}

// IsWrite は書き込み系の操作かを返す
func (k OpKind) IsWrite() bool {
	return k == OpSet || k == OpClear || k == OpClearRange
}

// Op はバッファされた1操作
type Op struct {
	Kind  OpKind
	Key   []byte
	End   []byte
	Value []byte
	Limit int
}

// Buffer は取引の操作を記録する。アダプタが埋め込んで使う
type Buffer struct {
	Ops []Op
}

func (b *Buffer) Get(key []byte) {
	b.Ops = append(b.Ops, Op{Kind: OpGet, Key: key})
}

func (b *Buffer) GetRange(begin, end []byte, limit int) {
	b.Ops = append(b.Ops, Op{Kind: OpGetRange, Key: begin, End: end, Limit: limit})
}

func (b *Buffer) Set(key, value []byte) {
	b.Ops = append(b.Ops, Op{Kind: OpSet, Key: key, Value: value})
}

func (b *Buffer) Clear(key []byte) {
	b.Ops = append(b.Ops, Op{Kind: OpClear, Key: key})
}

func (b *Buffer) ClearRange(begin, end []byte) {
	b.Ops = append(b.Ops, Op{Kind: OpClearRange, Key: begin, End: end})
}

// Reset は記録を破棄する
func (b *Buffer) Reset() {
	b.Ops = nil
}

// Snapshot はコミット用に記録をコピーして返す
func (b *Buffer) Snapshot() []Op {
	return append([]Op(nil), b.Ops...)
}

// HandleError は OnError の共通実装
// リトライ可能なら attempt に応じたバックオフの後 reset を呼んで成功する
func HandleError(err error, attempt int, reset func()) Future {
	if !IsRetryable(err) {
		return Resolved(err)
	}
	p := NewPromise()
	time.AfterFunc(Backoff(attempt), func() {
		reset()
		p.Resolve(nil)
	})
	return p
}

// Package memstore は go-memdb を使ったインメモリのトランザクションストアアダプター。
// コミットは上限付きの実行プールで処理されるため、Commit はネットワーク越しの
// クライアントと同様にすぐ future を返す。
package memstore

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"kvstorm/internal/executor"
	"kvstorm/internal/store"
)

// AdapterName はレジストリ上のアダプター名
const AdapterName = "memory"

const table = "kv"

func init() {
	store.Register(AdapterName, func(_ context.Context, cfg store.AdapterConfig) (store.Client, error) {
		db, err := Shared(cfg.Addr)
		if err != nil {
			return nil, err
		}
		return New(db, Options{
			CommitLatency: cfg.CommitLatency,
			CommitWorkers: cfg.CommitWorkers,
		}), nil
	})
}

type entry struct {
	Key   string
	Value []byte
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		table: {
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

// DB は複数のクライアントで共有される順序付きキー空間
type DB struct {
	mem     *memdb.MemDB
	commits atomic.Uint64
}

// NewDB は空のデータベースを作成する
func NewDB() (*DB, error) {
	mem, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, errors.Wrap(err, "memdb")
	}
	return &DB{mem: mem}, nil
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*DB{}
)

// Shared は name で登録されたプロセス共有のデータベースを返す。
// 初回呼び出し時に作成する。
func Shared(name string) (*DB, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if db, ok := shared[name]; ok {
		return db, nil
	}
	db, err := NewDB()
	if err != nil {
		return nil, err
	}
	shared[name] = db
	return db, nil
}

// apply は読み取りを評価した後、同じ書き込みトランザクションで書き込みを適用する
func (db *DB) apply(ops []store.Op) error {
	txn := db.mem.Txn(true)
	defer txn.Abort()

	for _, op := range ops {
		switch op.Kind {
		case store.OpGet:
			if _, err := txn.First(table, "id", string(op.Key)); err != nil {
				return errors.Wrap(err, "get")
			}
		case store.OpGetRange:
			if _, err := scan(txn, op.Key, op.End, op.Limit); err != nil {
				return errors.Wrap(err, "get range")
			}
		case store.OpSet:
			if err := txn.Insert(table, &entry{Key: string(op.Key), Value: op.Value}); err != nil {
				return errors.Wrap(err, "set")
			}
		case store.OpClear:
			if _, err := txn.DeleteAll(table, "id", string(op.Key)); err != nil {
				return errors.Wrap(err, "clear")
			}
		case store.OpClearRange:
			keys, err := scan(txn, op.Key, op.End, 0)
			if err != nil {
				return errors.Wrap(err, "clear range")
			}
			for _, e := range keys {
				if err := txn.Delete(table, e); err != nil {
					return errors.Wrap(err, "clear range")
				}
			}
		}
	}

	txn.Commit()
	db.commits.Add(1)
	return nil
}

// scan は [begin, end) のエントリをキー順に返す。limit > 0 なら最大 limit 件
func scan(txn *memdb.Txn, begin, end []byte, limit int) ([]*entry, error) {
	it, err := txn.LowerBound(table, "id", string(begin))
	if err != nil {
		return nil, err
	}
	var out []*entry
	for obj := it.Next(); obj != nil; obj = it.Next() {
		e := obj.(*entry)
		if bytes.Compare([]byte(e.Key), end) >= 0 {
			break
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Get はコミット済みの値を読む
func (db *DB) Get(key []byte) ([]byte, bool) {
	obj, err := db.mem.Txn(false).First(table, "id", string(key))
	if err != nil || obj == nil {
		return nil, false
	}
	return obj.(*entry).Value, true
}

// Range は [begin, end) のコミット済みエントリを読む
func (db *DB) Range(begin, end []byte, limit int) []store.KeyValue {
	entries, err := scan(db.mem.Txn(false), begin, end, limit)
	if err != nil {
		return nil
	}
	out := make([]store.KeyValue, len(entries))
	for i, e := range entries {
		out[i] = store.KeyValue{Key: []byte(e.Key), Value: e.Value}
	}
	return out
}

// Len は保存されているキー数を返す
func (db *DB) Len() int {
	it, err := db.mem.Txn(false).LowerBound(table, "id", "")
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}

// Commits は適用済みコミット数を返す
func (db *DB) Commits() uint64 {
	return db.commits.Load()
}

// Gate はクラスタが現在コミットを受け付けるかを判定する
type Gate func() error

// CommitHook は seq 番目 (1 始まり) のコミット適用前に呼ばれる。
// nil 以外のエラーを返すとそのコミットは適用されずに失敗する。
type CommitHook func(seq uint64) error

// Options は Client の設定
type Options struct {
	CommitLatency time.Duration
	CommitWorkers int
	Gate          Gate
	Hook          CommitHook
}

// Client は DB 上の store.Client 実装
type Client struct {
	db   *DB
	opts Options
	pool *executor.Pool
	seq  atomic.Uint64

	closeOnce sync.Once
}

var _ store.Client = (*Client)(nil)

// New はクライアントを作成しコミットプールを起動する
func New(db *DB, opts Options) *Client {
	workers := opts.CommitWorkers
	if workers <= 0 {
		workers = 32
	}
	pool := executor.NewPoolWithConfig(executor.PoolConfig{NumWorkers: workers, QueueFactor: 16})
	pool.Start()
	return &Client{db: db, opts: opts, pool: pool}
}

// DB はクライアントの背後にあるデータベースを返す
func (c *Client) DB() *DB {
	return c.db
}

// CreateTransaction は store.Client の実装
func (c *Client) CreateTransaction() store.Transaction {
	return &transaction{client: c}
}

// Close は受け付け済みのコミットを待ってからプールを解放する
func (c *Client) Close() error {
	c.closeOnce.Do(c.pool.Stop)
	return nil
}

func (c *Client) commit(ops []store.Op) error {
	if c.opts.CommitLatency > 0 {
		time.Sleep(c.opts.CommitLatency)
	}
	if c.opts.Gate != nil {
		if err := c.opts.Gate(); err != nil {
			return err
		}
	}
	seq := c.seq.Add(1)
	if c.opts.Hook != nil {
		if err := c.opts.Hook(seq); err != nil {
			return err
		}
	}
	if err := c.db.apply(ops); err != nil {
		return &store.Error{Code: store.CodeInternalError, Msg: err.Error()}
	}
	return nil
}

type transaction struct {
	store.Buffer
	client   *Client
	attempts int
}

func (t *transaction) Commit() store.Future {
	ops := t.Snapshot()
	p := store.NewPromise()
	if !t.client.pool.Submit(func() { p.Resolve(t.client.commit(ops)) }) {
		p.Resolve(store.NewError(store.CodeOperationCancelled))
	}
	return p
}

func (t *transaction) OnError(err error) store.Future {
	f := store.HandleError(err, t.attempts, t.Reset)
	t.attempts++
	return f
}

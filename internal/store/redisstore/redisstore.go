// Package redisstore は Redis 上のトランザクションストアアダプター。
//
// キーは先頭 ShardPrefixLen バイトでシャードに分けられる。各シャードは
// 範囲読み取りと範囲削除に使うバイト順のソート済みセットと、値を保持する
// ハッシュを持つ。コミットは触れるシャードを WATCH し、読み取りを評価した後に
// 書き込みを一つの MULTI/EXEC ブロックで適用する。
package redisstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"kvstorm/internal/executor"
	"kvstorm/internal/store"
)

// AdapterName はレジストリ上のアダプター名
const AdapterName = "redis"

const (
	DefaultShardPrefixLen = 12
	defaultCommitWorkers  = 64

	indexPrefix = "kvstorm:idx:"
	dataPrefix  = "kvstorm:data:"
)

func init() {
	store.Register(AdapterName, func(ctx context.Context, cfg store.AdapterConfig) (store.Client, error) {
		db := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Addr},
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := db.Ping(ctx).Err(); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
		}
		c := New(db, Options{
			ShardPrefixLen: cfg.ShardPrefixLen,
			CommitWorkers:  cfg.CommitWorkers,
		})
		c.ownsDB = true
		return c, nil
	})
}

// Options は Client の設定
type Options struct {
	ShardPrefixLen int
	CommitWorkers  int
}

// Client は Redis 上の store.Client 実装
type Client struct {
	db     redis.UniversalClient
	opts   Options
	pool   *executor.Pool
	ownsDB bool

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	// beforeExec は読み取りと EXEC の間に呼ばれる。テストで競合を起こすために使う
	beforeExec func()
}

var _ store.Client = (*Client)(nil)

// New は既存の redis クライアントをラップする
func New(db redis.UniversalClient, opts Options) *Client {
	if opts.ShardPrefixLen <= 0 {
		opts.ShardPrefixLen = DefaultShardPrefixLen
	}
	if opts.CommitWorkers <= 0 {
		opts.CommitWorkers = defaultCommitWorkers
	}
	pool := executor.NewPoolWithConfig(executor.PoolConfig{NumWorkers: opts.CommitWorkers, QueueFactor: 4})
	pool.Start()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{db: db, opts: opts, pool: pool, ctx: ctx, cancel: cancel}
}

// CreateTransaction は store.Client の実装
func (c *Client) CreateTransaction() store.Transaction {
	return &transaction{client: c}
}

// Close は保留中のコミットを取り消し、アダプターが開いた接続であれば解放する
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.pool.Stop()
		if c.ownsDB {
			err = c.db.Close()
		}
	})
	return err
}

func (c *Client) shard(key []byte) string {
	if len(key) > c.opts.ShardPrefixLen {
		return string(key[:c.opts.ShardPrefixLen])
	}
	return string(key)
}

func (c *Client) indexKey(key []byte) string {
	return indexPrefix + c.shard(key)
}

func (c *Client) dataKey(key []byte) string {
	return dataPrefix + c.shard(key)
}

// watchedKeys は操作列が触れる redis キーを返す
func (c *Client) watchedKeys(ops []store.Op) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, op := range ops {
		for _, k := range []string{c.indexKey(op.Key), c.dataKey(op.Key)} {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func lexRange(begin, end []byte) (string, string) {
	return "[" + string(begin), "(" + string(end)
}

func (c *Client) commit(ops []store.Op) error {
	ctx := c.ctx
	keys := c.watchedKeys(ops)
	if len(keys) == 0 {
		return nil
	}

	execStarted := false
	err := c.db.Watch(ctx, func(tx *redis.Tx) error {
		// 範囲削除の対象キーは読み取りフェーズで確定させる
		rangeKeys := make(map[int][]string)
		for i, op := range ops {
			switch op.Kind {
			case store.OpGet:
				if err := tx.HGet(ctx, c.dataKey(op.Key), string(op.Key)).Err(); err != nil && err != redis.Nil {
					return errors.Wrap(err, "get")
				}
			case store.OpGetRange, store.OpClearRange:
				lo, hi := lexRange(op.Key, op.End)
				by := &redis.ZRangeBy{Min: lo, Max: hi}
				if op.Kind == store.OpGetRange && op.Limit > 0 {
					by.Count = int64(op.Limit)
				}
				members, err := tx.ZRangeByLex(ctx, c.indexKey(op.Key), by).Result()
				if err != nil {
					return errors.Wrap(err, "range")
				}
				if op.Kind == store.OpGetRange {
					if len(members) > 0 {
						if err := tx.HMGet(ctx, c.dataKey(op.Key), members...).Err(); err != nil {
							return errors.Wrap(err, "range values")
						}
					}
					continue
				}
				rangeKeys[i] = members
			}
		}

		if c.beforeExec != nil {
			c.beforeExec()
		}

		execStarted = true
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, op := range ops {
				idx, data := c.indexKey(op.Key), c.dataKey(op.Key)
				switch op.Kind {
				case store.OpSet:
					pipe.ZAdd(ctx, idx, redis.Z{Score: 0, Member: string(op.Key)})
					pipe.HSet(ctx, data, string(op.Key), op.Value)
				case store.OpClear:
					pipe.ZRem(ctx, idx, string(op.Key))
					pipe.HDel(ctx, data, string(op.Key))
				case store.OpClearRange:
					lo, hi := lexRange(op.Key, op.End)
					pipe.ZRemRangeByLex(ctx, idx, lo, hi)
					if members := rangeKeys[i]; len(members) > 0 {
						pipe.HDel(ctx, data, members...)
					}
				}
			}
			return nil
		})
		return err
	}, keys...)

	return classify(ctx, err, execStarted)
}

// classify は redis の結果をストアのエラーコードに対応付ける
func classify(ctx context.Context, err error, execStarted bool) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return &store.Error{Code: store.CodeOperationCancelled, Msg: err.Error()}
	case errors.Is(err, redis.TxFailedErr):
		return &store.Error{Code: store.CodeNotCommitted, Msg: "watched keys changed"}
	case execStarted:
		// EXEC が届いたかどうか分からない
		return &store.Error{Code: store.CodeCommitUnknownResult, Msg: err.Error()}
	default:
		return &store.Error{Code: store.CodeProcessBehind, Msg: err.Error()}
	}
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

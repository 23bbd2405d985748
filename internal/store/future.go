package store

import (
	"context"
	"sync"
)

// Promise は一度だけ解決される Future
type Promise struct {
	once sync.Once
	done chan struct{}
	err  error
}

var _ Future = (*Promise)(nil)

// NewPromise は未解決の Promise を作る
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved は解決済みの Future を返す
func Resolved(err error) *Promise {
	p := NewPromise()
	p.Resolve(err)
	return p
}

// Resolve は結果を設定する。2回目以降は無視する
func (p *Promise) Resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Wait implements Future
func (p *Promise) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done implements Future
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

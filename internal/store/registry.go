package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AdapterConfig はクライアントアダプタの選択と設定
type AdapterConfig struct {
	Name           string        `json:"name" yaml:"name" mapstructure:"name"`
	Addr           string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB             int           `json:"db,omitempty" yaml:"db,omitempty" mapstructure:"db"`
	CommitLatency  time.Duration `json:"commit_latency,omitempty" yaml:"commit_latency,omitempty" mapstructure:"commit_latency"`
	CommitWorkers  int           `json:"commit_workers,omitempty" yaml:"commit_workers,omitempty" mapstructure:"commit_workers"`
	ShardPrefixLen int           `json:"shard_prefix_len,omitempty" yaml:"shard_prefix_len,omitempty" mapstructure:"shard_prefix_len"`
}

// OpenFunc はアダプタを開く関数
type OpenFunc func(ctx context.Context, cfg AdapterConfig) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{}
)

// Register はアダプタを名前で登録する。同名の二重登録は panic
func Register(name string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("store: adapter registered twice: " + name)
	}
	registry[name] = open
}

// Adapters は登録済みアダプタ名を返す
func Adapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open は設定で指定されたアダプタを開く
func Open(ctx context.Context, cfg AdapterConfig) (Client, error) {
	registryMu.RLock()
	open, ok := registry[cfg.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store adapter %q (available: %v)", cfg.Name, Adapters())
	}
	return open(ctx, cfg)
}

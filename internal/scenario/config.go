package scenario

import (
	"fmt"
	"time"

	"kvstorm/internal/cluster"
	"kvstorm/internal/fault"
	"kvstorm/internal/loadgen"
	"kvstorm/internal/recovery"
	"kvstorm/internal/simcluster"
)

// FaultConfig はフォールトエピソードの設定
type FaultConfig struct {
	Mode               fault.Mode    // pause または partition
	Locality           string        // 対象ロケーリティ（"key=value" または dcid の値）
	StartAfter         time.Duration // 負荷開始から注入までの待ち時間
	Duration           time.Duration // フォールトウィンドウの長さ
	ConvergenceTimeout time.Duration // 収束待ちの上限（0以下で無制限）
	PollInterval       time.Duration // 収束待ちのポーリング間隔
	SkipConvergence    bool          // 収束待ちを省略する
}

// ClusterConfig は対象クラスタの設定
type ClusterConfig struct {
	Simulated bool // シミュレートしたクラスタを使う

	// シミュレーション用
	Topology simcluster.Topology
	Sim      simcluster.Config

	// 実クラスタ用
	CLI          string        // fdbcli のパス
	ClusterFile  string        // クラスタファイル
	ProbeTimeout time.Duration // ステータス問い合わせのタイムアウト
	ServerName   string        // サーバープロセス名
}

// Config はシナリオの設定
type Config struct {
	Name        string // シナリオ名
	Description string // 説明

	// 負荷設定（Load.Duration が0ならフォールトエピソードの終了まで）
	EnableLoad     bool
	Load           loadgen.Config
	ReportInterval time.Duration

	// フォールト設定
	EnableFault bool
	Fault       FaultConfig

	Cluster ClusterConfig
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Description:    "Saturating load with a pause of the remote datacenter",
		EnableLoad:     true,
		Load:           loadgen.DefaultConfig(),
		ReportInterval: time.Second,
		EnableFault:    true,
		Fault: FaultConfig{
			Mode:               fault.ModePause,
			Locality:           "dcid=dc2",
			StartAfter:         10 * time.Second,
			Duration:           time.Minute,
			ConvergenceTimeout: recovery.DefaultConfig().Timeout,
			PollInterval:       recovery.DefaultConfig().PollInterval,
		},
		Cluster: ClusterConfig{
			Topology:     simcluster.DefaultTopology(),
			Sim:          simcluster.DefaultConfig(),
			CLI:          "fdbcli",
			ClusterFile:  "/etc/foundationdb/fdb.cluster",
			ProbeTimeout: 10 * time.Second,
			ServerName:   "fdbserver",
		},
	}
}

// Selector はフォールト対象のセレクタを返す
func (c Config) Selector() (cluster.Selector, error) {
	return cluster.ParseSelector(c.Fault.Locality)
}

// Validate は設定値を検証する
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if !c.EnableLoad && !c.EnableFault {
		return fmt.Errorf("scenario %s enables neither load nor fault", c.Name)
	}
	if c.EnableLoad {
		if err := c.Load.Validate(); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if c.Load.Isolate && c.Cluster.Simulated {
			return fmt.Errorf("load: isolated units cannot share a simulated cluster")
		}
	}
	if c.EnableFault {
		if _, err := c.Selector(); err != nil {
			return fmt.Errorf("fault: %w", err)
		}
		if c.Fault.Duration <= 0 {
			return fmt.Errorf("fault: duration must be positive")
		}
		if c.Fault.StartAfter < 0 {
			return fmt.Errorf("fault: start_after must not be negative")
		}
	}
	if c.Cluster.Simulated && len(c.Cluster.Topology) == 0 {
		return fmt.Errorf("cluster: simulated cluster needs a topology")
	}
	return nil
}

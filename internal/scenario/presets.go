package scenario

import (
	"sort"
	"time"

	"kvstorm/internal/fault"
	"kvstorm/internal/loadgen"
)

// SaturateScenario は負荷のみのシナリオを返す
// 中断されるまで飽和負荷をかけ続ける
func SaturateScenario() Config {
	c := DefaultConfig()
	c.Name = "saturate"
	c.Description = "Saturating transactional load until interrupted"
	c.EnableFault = false
	return c
}

// FreezeRemoteDCScenario はリモートDCのプロセスを一時停止するシナリオを返す
func FreezeRemoteDCScenario() Config {
	c := DefaultConfig()
	c.Name = "freeze-remote-dc"
	c.Description = "Pause every process of the remote datacenter for a minute under load"
	c.Load.Duration = 0
	return c
}

// PartitionRemoteDCScenario はリモートDCをネットワーク分断するシナリオを返す
// 権限がなければ一時停止にフォールバックする
func PartitionRemoteDCScenario() Config {
	c := FreezeRemoteDCScenario()
	c.Name = "partition-remote-dc"
	c.Description = "Drop traffic between the remote datacenter and the rest of the cluster"
	c.Fault.Mode = fault.ModePartition
	return c
}

// SimQuickScenario はシミュレートしたクラスタでの短時間シナリオを返す
func SimQuickScenario() Config {
	c := DefaultConfig()
	c.Name = "sim-quick"
	c.Description = "Short remote datacenter pause against a simulated cluster"
	c.Load = quickLoad()
	c.Fault.StartAfter = time.Second
	c.Fault.Duration = 2 * time.Second
	c.Fault.ConvergenceTimeout = 30 * time.Second
	c.Fault.PollInterval = 250 * time.Millisecond
	c.Cluster.Simulated = true
	c.Cluster.Sim.RecoveryDelay = time.Second
	return c
}

// SimPrimaryFreezeScenario はプライマリDCを止めるシミュレーションを返す
// 停止中のコミットは process_behind で失敗し、リトライされる
func SimPrimaryFreezeScenario() Config {
	c := SimQuickScenario()
	c.Name = "sim-primary-freeze"
	c.Description = "Pause the primary datacenter of a simulated cluster; commits retry until it resumes"
	c.Fault.Locality = "dcid=dc1"
	return c
}

func quickLoad() loadgen.Config {
	l := loadgen.DefaultConfig()
	l.Procs = 2
	l.Threads = 2
	l.Pipeline = 4
	l.KeyCount = 10_000
	l.Mix.OpsPerTxn = 32
	l.Mix.ValueSize = 1024
	l.Adapter.CommitLatency = 2 * time.Millisecond
	return l
}

var presets = map[string]func() Config{
	"saturate":            SaturateScenario,
	"freeze-remote-dc":    FreezeRemoteDCScenario,
	"partition-remote-dc": PartitionRemoteDCScenario,
	"sim-quick":           SimQuickScenario,
	"sim-primary-freeze":  SimPrimaryFreezeScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

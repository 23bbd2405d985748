package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kvstorm/internal/fault"
	"kvstorm/internal/scenario"
	"kvstorm/internal/simcluster"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
}

// ScenarioConfig はシナリオ設定
type ScenarioConfig struct {
	Preset         string `yaml:"preset" json:"preset"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description"`
	ReportInterval string `yaml:"report_interval" json:"report_interval"`

	Load    LoadConfig    `yaml:"load" json:"load"`
	Fault   FaultConfig   `yaml:"fault" json:"fault"`
	Cluster ClusterConfig `yaml:"cluster" json:"cluster"`
}

// LoadConfig は負荷設定
type LoadConfig struct {
	Enabled       *bool    `yaml:"enabled" json:"enabled"`
	Procs         int      `yaml:"procs" json:"procs"`
	Threads       int      `yaml:"threads" json:"threads"`
	Pipeline      int      `yaml:"pipeline" json:"pipeline"`
	Duration      string   `yaml:"duration" json:"duration"`
	KeyCount      uint64   `yaml:"key_count" json:"key_count"`
	OpsPerTxn     int      `yaml:"ops_per_txn" json:"ops_per_txn"`
	ReadFrac      *float64 `yaml:"read_frac" json:"read_frac"`
	RangeReadFrac *float64 `yaml:"range_read_frac" json:"range_read_frac"`
	RangeLimit    int      `yaml:"range_limit" json:"range_limit"`
	ValueSize     int      `yaml:"value_size" json:"value_size"`
	Isolate       bool     `yaml:"isolate" json:"isolate"`

	Adapter AdapterConfig `yaml:"adapter" json:"adapter"`
}

// AdapterConfig はストアアダプタ設定
type AdapterConfig struct {
	Name          string `yaml:"name" json:"name"`
	Addr          string `yaml:"addr" json:"addr"`
	Password      string `yaml:"password" json:"password"`
	DB            int    `yaml:"db" json:"db"`
	CommitLatency string `yaml:"commit_latency" json:"commit_latency"`
	CommitWorkers int    `yaml:"commit_workers" json:"commit_workers"`
}

// FaultConfig はフォールト設定
type FaultConfig struct {
	Enabled            *bool  `yaml:"enabled" json:"enabled"`
	Mode               string `yaml:"mode" json:"mode"`
	Locality           string `yaml:"locality" json:"locality"`
	StartAfter         string `yaml:"start_after" json:"start_after"`
	Duration           string `yaml:"duration" json:"duration"`
	ConvergenceTimeout string `yaml:"convergence_timeout" json:"convergence_timeout"`
	PollInterval       string `yaml:"poll_interval" json:"poll_interval"`
	SkipConvergence    bool   `yaml:"skip_convergence" json:"skip_convergence"`
}

// ClusterConfig はクラスタ設定
type ClusterConfig struct {
	Simulated     bool                    `yaml:"simulated" json:"simulated"`
	CLI           string                  `yaml:"fdbcli" json:"fdbcli"`
	ClusterFile   string                  `yaml:"cluster_file" json:"cluster_file"`
	ServerName    string                  `yaml:"server_name" json:"server_name"`
	ProbeTimeout  string                  `yaml:"probe_timeout" json:"probe_timeout"`
	RecoveryDelay string                  `yaml:"recovery_delay" json:"recovery_delay"`
	PrimaryDC     string                  `yaml:"primary_dc" json:"primary_dc"`
	Topology      []simcluster.MemberSpec `yaml:"topology" json:"topology"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// durationField は空でなければ文字列を time.Duration に変換して dst に入れる
func durationField(name, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// ToScenarioConfig はFileConfigをscenario.Configに変換する
// preset が指定されていればそれを、なければデフォルトを土台にする
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	sc := f.Scenario

	config := scenario.DefaultConfig()
	if sc.Preset != "" {
		p, ok := scenario.GetPreset(sc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", sc.Preset)
		}
		config = p
	}

	if sc.Name != "" {
		config.Name = sc.Name
	}
	if sc.Description != "" {
		config.Description = sc.Description
	}
	if err := durationField("report_interval", sc.ReportInterval, &config.ReportInterval); err != nil {
		return config, err
	}

	// Load設定
	l := sc.Load
	if l.Enabled != nil {
		config.EnableLoad = *l.Enabled
	}
	if l.Procs > 0 {
		config.Load.Procs = l.Procs
	}
	if l.Threads > 0 {
		config.Load.Threads = l.Threads
	}
	if l.Pipeline > 0 {
		config.Load.Pipeline = l.Pipeline
	}
	if err := durationField("load.duration", l.Duration, &config.Load.Duration); err != nil {
		return config, err
	}
	if l.KeyCount > 0 {
		config.Load.KeyCount = l.KeyCount
	}
	if l.OpsPerTxn > 0 {
		config.Load.Mix.OpsPerTxn = l.OpsPerTxn
	}
	if l.ReadFrac != nil {
		config.Load.Mix.ReadFrac = *l.ReadFrac
	}
	if l.RangeReadFrac != nil {
		config.Load.Mix.RangeReadFrac = *l.RangeReadFrac
	}
	if l.RangeLimit > 0 {
		config.Load.Mix.RangeLimit = l.RangeLimit
	}
	if l.ValueSize > 0 {
		config.Load.Mix.ValueSize = l.ValueSize
	}
	if l.Isolate {
		config.Load.Isolate = true
	}

	a := l.Adapter
	if a.Name != "" {
		config.Load.Adapter.Name = a.Name
	}
	if a.Addr != "" {
		config.Load.Adapter.Addr = a.Addr
	}
	if a.Password != "" {
		config.Load.Adapter.Password = a.Password
	}
	if a.DB > 0 {
		config.Load.Adapter.DB = a.DB
	}
	if a.CommitWorkers > 0 {
		config.Load.Adapter.CommitWorkers = a.CommitWorkers
	}
	if err := durationField("load.adapter.commit_latency", a.CommitLatency, &config.Load.Adapter.CommitLatency); err != nil {
		return config, err
	}

	// Fault設定
	fc := sc.Fault
	if fc.Enabled != nil {
		config.EnableFault = *fc.Enabled
	}
	if fc.Mode != "" {
		mode, err := fault.ParseMode(fc.Mode)
		if err != nil {
			return config, err
		}
		config.Fault.Mode = mode
	}
	if fc.Locality != "" {
		config.Fault.Locality = fc.Locality
	}
	for _, d := range []struct {
		name string
		s    string
		dst  *time.Duration
	}{
		{"fault.start_after", fc.StartAfter, &config.Fault.StartAfter},
		{"fault.duration", fc.Duration, &config.Fault.Duration},
		{"fault.convergence_timeout", fc.ConvergenceTimeout, &config.Fault.ConvergenceTimeout},
		{"fault.poll_interval", fc.PollInterval, &config.Fault.PollInterval},
	} {
		if err := durationField(d.name, d.s, d.dst); err != nil {
			return config, err
		}
	}
	if fc.SkipConvergence {
		config.Fault.SkipConvergence = true
	}

	// Cluster設定
	cc := sc.Cluster
	if cc.Simulated {
		config.Cluster.Simulated = true
	}
	if cc.CLI != "" {
		config.Cluster.CLI = cc.CLI
	}
	if cc.ClusterFile != "" {
		config.Cluster.ClusterFile = cc.ClusterFile
	}
	if cc.ServerName != "" {
		config.Cluster.ServerName = cc.ServerName
	}
	if err := durationField("cluster.probe_timeout", cc.ProbeTimeout, &config.Cluster.ProbeTimeout); err != nil {
		return config, err
	}
	if err := durationField("cluster.recovery_delay", cc.RecoveryDelay, &config.Cluster.Sim.RecoveryDelay); err != nil {
		return config, err
	}
	if cc.PrimaryDC != "" {
		config.Cluster.Sim.PrimaryDC = cc.PrimaryDC
	}
	if len(cc.Topology) > 0 {
		config.Cluster.Topology = cc.Topology
	}

	return config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	sc := f.Scenario

	if sc.Load.Procs < 0 {
		return fmt.Errorf("load.procs must be non-negative")
	}
	if sc.Load.Threads < 0 {
		return fmt.Errorf("load.threads must be non-negative")
	}
	if sc.Load.Pipeline < 0 {
		return fmt.Errorf("load.pipeline must be non-negative")
	}
	if r := sc.Load.ReadFrac; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("load.read_frac must be between 0 and 1")
	}
	if r := sc.Load.RangeReadFrac; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("load.range_read_frac must be between 0 and 1")
	}
	if sc.Load.ValueSize < 0 {
		return fmt.Errorf("load.value_size must be non-negative")
	}
	if sc.Fault.Mode != "" {
		if _, err := fault.ParseMode(sc.Fault.Mode); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(sc.Cluster.Topology))
	for _, m := range sc.Cluster.Topology {
		if m.ID == "" {
			return fmt.Errorf("cluster.topology: member without id")
		}
		if seen[m.ID] {
			return fmt.Errorf("cluster.topology: duplicate member %s", m.ID)
		}
		seen[m.ID] = true
	}

	return nil
}

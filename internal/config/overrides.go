package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kvstorm/internal/fault"
	"kvstorm/internal/scenario"
)

// EnvPrefix は環境変数の接頭辞（KVSTORM_PROCS など）
const EnvPrefix = "KVSTORM"

// Overrides はフラグと環境変数による上書き
// 実際に指定されたキーだけが Apply で反映される
type Overrides struct {
	Procs          int           `mapstructure:"procs"`
	Threads        int           `mapstructure:"threads"`
	Pipeline       int           `mapstructure:"pipeline"`
	OpsPerTxn      int           `mapstructure:"ops_per_txn"`
	ValueSize      int           `mapstructure:"value_size"`
	ReadFrac       float64       `mapstructure:"read_frac"`
	KeyCount       uint64        `mapstructure:"key_count"`
	Duration       time.Duration `mapstructure:"duration"`
	Isolate        bool          `mapstructure:"isolate"`
	Adapter        string        `mapstructure:"adapter"`
	Addr           string        `mapstructure:"addr"`
	ReportInterval time.Duration `mapstructure:"report_interval"`

	Mode               fault.Mode    `mapstructure:"mode"`
	Locality           string        `mapstructure:"locality"`
	FaultDuration      time.Duration `mapstructure:"fault_duration"`
	StartAfter         time.Duration `mapstructure:"start_after"`
	ConvergenceTimeout time.Duration `mapstructure:"convergence_timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	NoFault            bool          `mapstructure:"no_fault"`
	NoLoad             bool          `mapstructure:"no_load"`

	Simulated   bool   `mapstructure:"simulated"`
	ClusterFile string `mapstructure:"cluster_file"`
	CLI         string `mapstructure:"fdbcli"`
}

// flagKeys はフラグ名と viper キーの対応
var flagKeys = map[string]string{
	"procs":               "procs",
	"threads":             "threads",
	"pipeline":            "pipeline",
	"ops-per-tx":          "ops_per_txn",
	"val-size":            "value_size",
	"read-frac":           "read_frac",
	"key-count":           "key_count",
	"duration":            "duration",
	"isolate":             "isolate",
	"adapter":             "adapter",
	"addr":                "addr",
	"report-interval":     "report_interval",
	"mode":                "mode",
	"locality":            "locality",
	"fault-duration":      "fault_duration",
	"start-after":         "start_after",
	"convergence-timeout": "convergence_timeout",
	"poll-interval":       "poll_interval",
	"no-fault":            "no_fault",
	"no-load":             "no_load",
	"simulated":           "simulated",
	"cluster-file":        "cluster_file",
	"fdbcli":              "fdbcli",
}

// RegisterFlags はシナリオ上書き用のフラグを登録する
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("procs", 0, "number of load units (default: number of CPUs)")
	fs.Int("threads", 0, "workers per unit")
	fs.Int("pipeline", 0, "outstanding commits per worker")
	fs.Int("ops-per-tx", 0, "operations per transaction")
	fs.Int("val-size", 0, "value size in bytes")
	fs.Float64("read-frac", 0, "fraction of operations that are reads")
	fs.Uint64("key-count", 0, "keys per worker namespace")
	fs.Duration("duration", 0, "load duration (0: until the fault episode ends or interrupted)")
	fs.Bool("isolate", false, "run each load unit in its own process")
	fs.String("adapter", "", "store adapter (memory, redis)")
	fs.String("addr", "", "store adapter address")
	fs.Duration("report-interval", 0, "throughput report interval")

	fs.String("mode", "pause", "fault mode (pause, partition)")
	fs.String("locality", "", `fault target locality ("key=value" or a dcid)`)
	fs.Duration("fault-duration", 0, "length of the fault window")
	fs.Duration("start-after", 0, "delay between load start and fault injection")
	fs.Duration("convergence-timeout", 0, "upper bound on the convergence wait (negative: unbounded)")
	fs.Duration("poll-interval", 0, "status poll interval while converging")
	fs.Bool("no-fault", false, "run load only")
	fs.Bool("no-load", false, "run the fault episode only")

	fs.Bool("simulated", false, "run against a simulated cluster")
	fs.String("cluster-file", "", "cluster file passed to fdbcli")
	fs.String("fdbcli", "", "path of the fdbcli binary")
}

// NewViper はフラグと環境変数を束ねた viper を返す
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// faultModeHook は文字列を fault.Mode に変換する（空文字は pause）
func faultModeHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(fault.Mode(0)) {
		return data, nil
	}
	s := reflect.ValueOf(data).String()
	if s == "" {
		return fault.ModePause, nil
	}
	return fault.ParseMode(s)
}

// DecodeHook は Overrides のデコードに使うフック
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		faultModeHook,
	)
}

// LoadOverrides は viper から上書き値を読み出す
func LoadOverrides(v *viper.Viper) (Overrides, error) {
	var o Overrides
	err := v.Unmarshal(&o, viper.DecodeHook(DecodeHook()))
	return o, err
}

// Apply は指定されたキーの値を config に反映する
func (o Overrides) Apply(config *scenario.Config, isSet func(key string) bool) {
	set := func(key string, apply func()) {
		if isSet(key) {
			apply()
		}
	}

	set("procs", func() { config.Load.Procs = o.Procs })
	set("threads", func() { config.Load.Threads = o.Threads })
	set("pipeline", func() { config.Load.Pipeline = o.Pipeline })
	set("ops_per_txn", func() { config.Load.Mix.OpsPerTxn = o.OpsPerTxn })
	set("value_size", func() { config.Load.Mix.ValueSize = o.ValueSize })
	set("read_frac", func() { config.Load.Mix.ReadFrac = o.ReadFrac })
	set("key_count", func() { config.Load.KeyCount = o.KeyCount })
	set("duration", func() { config.Load.Duration = o.Duration })
	set("isolate", func() { config.Load.Isolate = o.Isolate })
	set("adapter", func() { config.Load.Adapter.Name = o.Adapter })
	set("addr", func() { config.Load.Adapter.Addr = o.Addr })
	set("report_interval", func() { config.ReportInterval = o.ReportInterval })

	set("mode", func() { config.Fault.Mode = o.Mode })
	set("locality", func() { config.Fault.Locality = o.Locality })
	set("fault_duration", func() { config.Fault.Duration = o.FaultDuration })
	set("start_after", func() { config.Fault.StartAfter = o.StartAfter })
	set("convergence_timeout", func() { config.Fault.ConvergenceTimeout = o.ConvergenceTimeout })
	set("poll_interval", func() { config.Fault.PollInterval = o.PollInterval })
	set("no_fault", func() { config.EnableFault = !o.NoFault })
	set("no_load", func() { config.EnableLoad = !o.NoLoad })

	set("simulated", func() { config.Cluster.Simulated = o.Simulated })
	set("cluster_file", func() { config.Cluster.ClusterFile = o.ClusterFile })
	set("fdbcli", func() { config.Cluster.CLI = o.CLI })
}

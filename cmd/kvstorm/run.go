package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"kvstorm/internal/api"
	"kvstorm/internal/config"
	"kvstorm/internal/events"
	"kvstorm/internal/logger"
	"kvstorm/internal/scenario"
)

type scenarioFlags struct {
	preset     string
	configFile string
	apiAddr    string
}

func (f *scenarioFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.preset, "preset", "", "preset scenario name (see 'kvstorm presets')")
	fs.StringVarP(&f.configFile, "config", "c", "", "scenario file (YAML/JSON)")
	fs.StringVar(&f.apiAddr, "api", "", "serve status, counters and events on this address (e.g. :8080)")
	config.RegisterFlags(fs)
}

func newRunCmd() *cobra.Command {
	var flags scenarioFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Saturate the cluster and run one fault episode under load",
		Example: `  kvstorm run --preset freeze-remote-dc
  kvstorm run --preset sim-quick --procs 4
  kvstorm run --config scenario.yaml --api :8080
  KVSTORM_THREADS=16 kvstorm run --no-fault`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildScenarioConfig(cmd.Flags(), flags)
			if err != nil {
				return err
			}
			return runScenario(cmd.Context(), cfg, flags.apiAddr)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newFaultCmd() *cobra.Command {
	var flags scenarioFlags

	cmd := &cobra.Command{
		Use:   "fault",
		Short: "Run one fault episode without generating load",
		Example: `  kvstorm fault --locality dcid=dc2 --fault-duration 30s
  kvstorm fault --mode partition --locality dc2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildScenarioConfig(cmd.Flags(), flags)
			if err != nil {
				return err
			}
			cfg.EnableLoad = false
			cfg.EnableFault = true
			if !cmd.Flags().Changed("start-after") {
				cfg.Fault.StartAfter = 0
			}
			return runScenario(cmd.Context(), cfg, flags.apiAddr)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// buildScenarioConfig はシナリオ設定を構築する
// 設定ファイル、プリセット、デフォルトの順で土台を決め、フラグと環境変数で上書きする
func buildScenarioConfig(fs *pflag.FlagSet, flags scenarioFlags) (scenario.Config, error) {
	var cfg scenario.Config

	switch {
	case flags.configFile != "":
		fileConfig, err := config.LoadFile(flags.configFile)
		if err != nil {
			return cfg, err
		}
		if flags.preset != "" && fileConfig.Scenario.Preset == "" {
			fileConfig.Scenario.Preset = flags.preset
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid config file: %w", err)
		}
		if cfg, err = fileConfig.ToScenarioConfig(); err != nil {
			return cfg, err
		}
	case flags.preset != "":
		preset, ok := scenario.GetPreset(flags.preset)
		if !ok {
			return cfg, fmt.Errorf("unknown preset: %s (available: %v)", flags.preset, scenario.ListPresets())
		}
		cfg = preset
	default:
		cfg = scenario.DefaultConfig()
	}

	v, err := config.NewViper(fs)
	if err != nil {
		return cfg, err
	}
	overrides, err := config.LoadOverrides(v)
	if err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	overrides.Apply(&cfg, v.IsSet)

	return cfg, cfg.Validate()
}

// runScenario はシナリオを実行してレポートを表示する
func runScenario(ctx context.Context, cfg scenario.Config, apiAddr string) error {
	printBanner(cfg.Name)
	fmt.Printf("Load: %v (procs %d, threads %d, pipeline %d)\n",
		cfg.EnableLoad, cfg.Load.Procs, cfg.Load.Threads, cfg.Load.Pipeline)
	fmt.Printf("Fault: %v (%s on %s for %v)\n",
		cfg.EnableFault, cfg.Fault.Mode, cfg.Fault.Locality, cfg.Fault.Duration)
	fmt.Println("====================================================")
	fmt.Println()

	engine := scenario.New(cfg)

	var bus *events.Bus
	if apiAddr != "" {
		bus = events.NewBus()
		defer bus.Close()
		engine.SetEventBus(bus)
	}

	if err := engine.Setup(ctx); err != nil {
		return err
	}

	if apiAddr != "" {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		server := api.NewServer(apiAddr, engine, bus)
		go func() {
			if err := server.Start(serverCtx); err != nil {
				logger.Error("", "API server failed: %v", err)
			}
		}()
	}

	result, err := engine.Run(ctx)
	if result != nil {
		fmt.Println()
		fmt.Println(result.Report())
	}
	return err
}

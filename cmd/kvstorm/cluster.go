package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kvstorm/internal/cluster"
	"kvstorm/internal/fault"
	"kvstorm/internal/loadgen"
	"kvstorm/internal/scenario"
	"kvstorm/internal/simcluster"
)

func newStatusCmd() *cobra.Command {
	var (
		cli         string
		clusterFile string
		timeout     time.Duration
		simulated   bool
		asJSON      bool
	)

	defaults := scenario.DefaultConfig().Cluster
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the cluster members and recovery state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var probe cluster.Probe
			if simulated {
				sim, err := simcluster.NewFromTopology(simcluster.DefaultTopology(), simcluster.DefaultConfig())
				if err != nil {
					return err
				}
				probe = sim
			} else {
				probe = cluster.NewCLIProbe(cluster.CLIProbeConfig{
					Binary:      cli,
					ClusterFile: clusterFile,
					Timeout:     timeout,
				})
			}

			snap, err := probe.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(snap)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cli, "fdbcli", defaults.CLI, "path of the fdbcli binary")
	fs.StringVar(&clusterFile, "cluster-file", defaults.ClusterFile, "cluster file passed to fdbcli")
	fs.DurationVar(&timeout, "timeout", defaults.ProbeTimeout, "status query timeout")
	fs.BoolVar(&simulated, "simulated", false, "show the default simulated cluster")
	fs.BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func printSnapshot(snap *cluster.Snapshot) {
	r := snap.Recovery
	fmt.Printf("Recovery: %s (generations %d, lag %.1fs, converged %v)\n\n",
		r.Name, r.ActiveGenerations, r.Lag, snap.Converged())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tLOCALITY\tROLES")
	for _, m := range snap.SortedMembers() {
		keys := make([]string, 0, len(m.Locality))
		for k := range m.Locality {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		loc := make([]string, len(keys))
		for i, k := range keys {
			loc[i] = k + "=" + m.Locality[k]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Address, strings.Join(loc, ","), strings.Join(m.Roles, ","))
	}
	_ = w.Flush()
}

func newSweepCmd() *cobra.Command {
	var table, chain string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove packet filter rules left behind by earlier partition faults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules, err := fault.NewIPTables()
			if err != nil {
				return err
			}
			s := fault.NewPartitionStrategy(rules, fault.PartitionConfig{Table: table, Chain: chain})
			removed, err := s.Sweep(cmd.Context())
			fmt.Printf("Removed %d rules\n", removed)
			return err
		},
	}
	cmd.Flags().StringVar(&table, "table", fault.DefaultTable, "iptables table")
	cmd.Flags().StringVar(&chain, "chain", fault.DefaultChain, "iptables chain")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the preset scenarios",
		Run: func(*cobra.Command, []string) {
			fmt.Println("Available preset scenarios:")
			fmt.Println()
			for _, name := range scenario.ListPresets() {
				p, _ := scenario.GetPreset(name)
				fmt.Printf("  %-22s %s\n", name, p.Description)
			}
			fmt.Println()
			fmt.Println("Example: kvstorm run --preset sim-quick")
		},
	}
}

// newUnitCmd は負荷ユニットのサブプロセス用コマンドを返す
// 設定を標準入力から読み、差分を標準出力にJSON行で書く
func newUnitCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "unit",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return loadgen.ServeUnit(cmd.Context(), os.Stdin, os.Stdout, nil)
		},
	}
}
